package edimig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNoMigForFormatVersion = errors.New("no MIG registered for format version")
	ErrNoAhbForVariant       = errors.New("no AHB registered for variant")
	ErrNoMappingForPid       = errors.New("no mapping registered for PID")
	ErrBundleIncomplete      = errors.New("incomplete schema bundle")
)

// FormatVersion identifies a German energy-market format release,
// ex: `FV2504`. Schema lookups are keyed on it: messages are converted
// against the release that was in force, never a "latest" fallback.
type FormatVersion string

const (
	FV2310 FormatVersion = "FV2310"
	FV2404 FormatVersion = "FV2404"
	FV2410 FormatVersion = "FV2410"
	FV2504 FormatVersion = "FV2504"
)

// RegistryError carries the lookup key that failed.
type RegistryError struct {
	MessageType   string
	FormatVersion FormatVersion
	Pid           string
	Err           error
}

func (e *RegistryError) Error() string {
	var b strings.Builder
	if e.MessageType != "" {
		fmt.Fprintf(&b, "message type: %s ", e.MessageType)
	}
	if e.FormatVersion != "" {
		fmt.Fprintf(&b, "format version: %s ", e.FormatVersion)
	}
	if e.Pid != "" {
		fmt.Fprintf(&b, "pid: %s ", e.Pid)
	}
	bs := strings.TrimSpace(b.String())
	if bs == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("[%s]: %s", bs, e.Err)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// Bundle is everything needed to process one (message type, format
// version) pair: the MIG, the AHB, the envelope/message mapping engine
// and one transaction mapping engine per PID, plus the condition
// evaluator and the PID detection table.
type Bundle struct {
	MessageType   string
	FormatVersion FormatVersion

	Mig *Mig
	Ahb *Ahb
	// MessageEngine maps envelope and header entities (Marktteilnehmer,
	// Nachricht, ...)
	MessageEngine *MappingEngine
	// TransactionEngines maps PID to the engine for its transaction
	// entities
	TransactionEngines map[string]*MappingEngine
	Evaluator          *ConditionEvaluator
	PidTable           *PidTable
}

// TransactionEngine returns the mapping engine for a PID.
func (b *Bundle) TransactionEngine(pid string) (*MappingEngine, error) {
	engine, ok := b.TransactionEngines[pid]
	if !ok {
		return nil, &RegistryError{
			MessageType:   b.MessageType,
			FormatVersion: b.FormatVersion,
			Pid:           pid,
			Err:           ErrNoMappingForPid,
		}
	}
	return engine, nil
}

// Validator builds a validator over the bundle's schemas.
func (b *Bundle) Validator() *Validator {
	v := NewValidator(b.Mig, b.Ahb, b.Evaluator)
	v.FormatVersion = b.FormatVersion
	return v
}

func bundleKey(messageType string, fv FormatVersion) string {
	return messageType + "|" + string(fv)
}

// Registry holds immutable bundles keyed by (message type, format
// version). Lookups take a read lock only; Replace swaps a whole
// bundle atomically, so in-flight conversions finish on the bundle
// they started with while new ones see the replacement.
type Registry struct {
	mu      sync.RWMutex
	bundles map[string]*Bundle
}

func NewRegistry() *Registry {
	return &Registry{bundles: make(map[string]*Bundle)}
}

// Replace installs (or swaps) the bundle for its key.
func (r *Registry) Replace(bundle *Bundle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bundles[bundleKey(bundle.MessageType, bundle.FormatVersion)] = bundle
}

// Bundle returns the bundle for a key.
func (r *Registry) Bundle(messageType string, fv FormatVersion) (*Bundle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bundle, ok := r.bundles[bundleKey(messageType, fv)]
	if !ok {
		return nil, &RegistryError{
			MessageType:   messageType,
			FormatVersion: fv,
			Err:           ErrNoMigForFormatVersion,
		}
	}
	return bundle, nil
}

// Mig returns the MIG for a key.
func (r *Registry) Mig(messageType string, fv FormatVersion) (*Mig, error) {
	bundle, err := r.Bundle(messageType, fv)
	if err != nil {
		return nil, err
	}
	return bundle.Mig, nil
}

// Ahb returns the AHB for a key.
func (r *Registry) Ahb(messageType string, fv FormatVersion) (*Ahb, error) {
	bundle, err := r.Bundle(messageType, fv)
	if err != nil {
		return nil, err
	}
	if bundle.Ahb == nil {
		return nil, &RegistryError{
			MessageType:   messageType,
			FormatVersion: fv,
			Err:           ErrNoAhbForVariant,
		}
	}
	return bundle.Ahb, nil
}

// Keys returns the registered (message type, format version) pairs,
// sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.bundles))
	for k := range r.bundles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadBundleDir reads one schema bundle from a directory laid out as:
//
//	mig.json | mig.yaml       the MIG tree
//	ahb.yaml                  the AHB workflows (optional)
//	pidtable.yaml             PID detection fallback table (optional)
//	mappings/message/*.toml   envelope and header mappings
//	mappings/transactions/<pid>/*.toml
//
// Missing optional parts fall back to defaults (built-in PID table, no
// AHB, empty engines). A missing MIG makes the bundle unusable and is
// an error.
func LoadBundleDir(dir string) (*Bundle, error) {
	mig, err := loadBundleMig(dir)
	if err != nil {
		return nil, err
	}
	bundle := &Bundle{
		MessageType:        mig.MessageType,
		FormatVersion:      FormatVersion(mig.FormatVersion),
		Mig:                mig,
		TransactionEngines: make(map[string]*MappingEngine),
		PidTable:           DefaultPidTable(),
	}

	if data, err := os.ReadFile(filepath.Join(dir, "ahb.yaml")); err == nil {
		ahb, err := LoadAhbYAML(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", dir, err)
		}
		bundle.Ahb = ahb
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if data, err := os.ReadFile(filepath.Join(dir, "pidtable.yaml")); err == nil {
		table, err := LoadPidTableYAML(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", dir, err)
		}
		bundle.PidTable = table
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	bundle.MessageEngine, err = loadEngineDir(filepath.Join(dir, "mappings", "message"))
	if err != nil {
		return nil, err
	}

	txRoot := filepath.Join(dir, "mappings", "transactions")
	entries, err := os.ReadDir(txRoot)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		engine, err := loadEngineDir(filepath.Join(txRoot, entry.Name()))
		if err != nil {
			return nil, err
		}
		bundle.TransactionEngines[entry.Name()] = engine
	}

	bundle.Evaluator = NewConditionEvaluator(bundle.MessageType, bundle.FormatVersion)
	return bundle, nil
}

func loadBundleMig(dir string) (*Mig, error) {
	if data, err := os.ReadFile(filepath.Join(dir, "mig.json")); err == nil {
		return LoadMigJSON(data)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if data, err := os.ReadFile(filepath.Join(dir, "mig.yaml")); err == nil {
		return LoadMigYAML(data)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s has no mig.json or mig.yaml", ErrBundleIncomplete, dir)
}

// loadEngineDir builds a mapping engine from every .toml file in a
// directory, in lexical filename order. A missing directory yields an
// empty engine.
func loadEngineDir(dir string) (*MappingEngine, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return NewMappingEngine()
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".toml" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	defs := make([]*MappingDefinition, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		def, err := ParseMappingDefinition(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Join(dir, name), err)
		}
		defs = append(defs, def)
	}
	return NewMappingEngine(defs...)
}

// LoadRegistryDir loads every bundle below a root directory laid out
// as <root>/<formatVersion>/<messageType>/.
func LoadRegistryDir(root string) (*Registry, error) {
	registry := NewRegistry()
	fvEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	for _, fvEntry := range fvEntries {
		if !fvEntry.IsDir() {
			continue
		}
		mtEntries, err := os.ReadDir(filepath.Join(root, fvEntry.Name()))
		if err != nil {
			return nil, err
		}
		for _, mtEntry := range mtEntries {
			if !mtEntry.IsDir() {
				continue
			}
			bundle, err := LoadBundleDir(filepath.Join(root, fvEntry.Name(), mtEntry.Name()))
			if err != nil {
				return nil, err
			}
			if bundle.FormatVersion == "" {
				bundle.FormatVersion = FormatVersion(fvEntry.Name())
			}
			if bundle.MessageType == "" {
				bundle.MessageType = mtEntry.Name()
			}
			registry.Replace(bundle)
		}
	}
	return registry, nil
}
