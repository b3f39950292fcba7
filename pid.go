package edimig

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

var (
	ErrPidNotDetected = errors.New("PID could not be detected")
	ErrUnknownPid     = errors.New("unknown PID")
)

// PidRule maps the STS reason codes seen with one BGM document code to
// PIDs. Default applies when the message carries no STS reason.
type PidRule struct {
	Default  string            `json:"default,omitempty" yaml:"default,omitempty"`
	ByReason map[string]string `json:"byReason,omitempty" yaml:"byReason,omitempty"`
}

// PidTable drives BGM/STS-based PID detection. The table is plain
// data so callers can extend or replace the built-in entries.
type PidTable struct {
	ByDocumentCode map[string]PidRule `json:"byDocumentCode" yaml:"byDocumentCode"`
}

// DefaultPidTable returns the statically-known UTILMD document-code
// table.
func DefaultPidTable() *PidTable {
	return &PidTable{
		ByDocumentCode: map[string]PidRule{
			"E01": {
				Default: "55001",
				ByReason: map[string]string{
					"Z33": "55001",
					"Z26": "55002",
				},
			},
			"E02": {
				Default: "55007",
				ByReason: map[string]string{
					"Z26": "55007",
				},
			},
			"E03": {Default: "55009"},
			"E35": {Default: "55014"},
		},
	}
}

// Lookup resolves (BGM document code, STS reason code) to a PID. An
// empty reason falls back to the document-code default.
func (t *PidTable) Lookup(docCode, reason string) (string, bool) {
	rule, ok := t.ByDocumentCode[docCode]
	if !ok {
		return "", false
	}
	if reason != "" {
		if pid, found := rule.ByReason[reason]; found {
			return pid, true
		}
	}
	if rule.Default != "" {
		return rule.Default, true
	}
	return "", false
}

// LoadPidTableYAML parses a PidTable from YAML.
func LoadPidTableYAML(data []byte) (*PidTable, error) {
	t := &PidTable{}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, err
	}
	return t, nil
}

// DetectPid determines the Prüfidentifikator carried by a message.
//
// For UTILMD an `RFF+Z13:<pid>` reference wins outright. Otherwise the
// (BGM document code, STS reason code) pair is resolved through the
// table, falling back to the document code alone when no STS reason is
// present. Other message types resolve their BGM document code through
// the same table.
func DetectPid(msg *MessageChunk, table *PidTable) (string, error) {
	if table == nil {
		table = DefaultPidTable()
	}

	if msg.MessageType == "UTILMD" {
		for i := range msg.Body {
			seg := &msg.Body[i]
			if seg.Tag == rffSegmentID && seg.Component(0, 0) == pidQualifierZ13 {
				pid := seg.Component(0, 1)
				if pid != "" {
					return pid, nil
				}
			}
		}
	}

	var docCode, reason string
	for i := range msg.Body {
		seg := &msg.Body[i]
		switch seg.Tag {
		case bgmSegmentID:
			if docCode == "" {
				docCode = seg.Component(0, 0)
			}
		case stsSegmentID:
			// C556 status reason is the third element (after category
			// and status)
			if reason == "" {
				reason = seg.Component(2, 0)
			}
		}
	}
	if docCode == "" {
		return "", newAssemblyError(&msg.Header, fmt.Errorf(
			"%w: message %q has no BGM document code", ErrPidNotDetected, msg.Reference,
		))
	}
	pid, ok := table.Lookup(docCode, reason)
	if !ok {
		return "", newAssemblyError(&msg.Header, fmt.Errorf(
			"%w: no PID for document code %q (reason %q)", ErrPidNotDetected, docCode, reason,
		))
	}
	return pid, nil
}

// AhbFieldRule is a single field-level rule from an AHB workflow.
type AhbFieldRule struct {
	// Path locates the field: group path, segment tag, then element
	// number, ex: `SG2/NAD/3035`
	Path string `json:"path" yaml:"path"`
	// Status is the raw AHB status expression, ex: `Muss [182] ∧ [6]`
	Status string `json:"status" yaml:"status"`
	// Codes enumerates the allowed values, empty when unrestricted
	Codes []string `json:"codes,omitempty" yaml:"codes,omitempty"`
}

// AhbWorkflow binds a PID to its in-scope MIG segment numbers and its
// field rules.
type AhbWorkflow struct {
	Pid            string         `json:"pid" yaml:"pid"`
	Description    string         `json:"description,omitempty" yaml:"description,omitempty"`
	SegmentNumbers []int          `json:"segmentNumbers" yaml:"segmentNumbers"`
	Rules          []AhbFieldRule `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// Ahb is the Application Handbook for one message type and format
// version: the set of PID workflows layered over the MIG.
type Ahb struct {
	MessageType   string         `json:"messageType" yaml:"messageType"`
	FormatVersion string         `json:"formatVersion,omitempty" yaml:"formatVersion,omitempty"`
	Workflows     []*AhbWorkflow `json:"workflows" yaml:"workflows"`
}

// Workflow returns the workflow for the given PID, or nil.
func (a *Ahb) Workflow(pid string) *AhbWorkflow {
	for _, w := range a.Workflows {
		if w.Pid == pid {
			return w
		}
	}
	return nil
}

// LoadAhbJSON parses an Ahb from JSON.
func LoadAhbJSON(data []byte) (*Ahb, error) {
	a := &Ahb{}
	if err := json.Unmarshal(data, a); err != nil {
		return nil, err
	}
	return a, nil
}

// LoadAhbYAML parses an Ahb from YAML.
func LoadAhbYAML(data []byte) (*Ahb, error) {
	a := &Ahb{}
	if err := yaml.Unmarshal(data, a); err != nil {
		return nil, err
	}
	return a, nil
}

// FilterForPid prunes the MIG to the segments in scope for the given
// workflow: a segment is kept iff its number is listed, or it is a
// level-0 service segment. A group survives iff any descendant
// survives. Order is preserved; the result shares segment definitions
// with the receiver.
func (m *Mig) FilterForPid(workflow *AhbWorkflow) *Mig {
	numbers := make(map[int]bool, len(workflow.SegmentNumbers))
	for _, n := range workflow.SegmentNumbers {
		numbers[n] = true
	}
	return &Mig{
		MessageType:   m.MessageType,
		Variant:       m.Variant,
		Version:       m.Version,
		FormatVersion: m.FormatVersion,
		Root:          filterMigNodes(m.Root, numbers),
	}
}

func filterMigNodes(nodes []MigNode, numbers map[int]bool) []MigNode {
	var kept []MigNode
	for _, node := range nodes {
		switch {
		case node.Segment != nil:
			seg := node.Segment
			if numbers[seg.Number] || (seg.Level == 0 && isServiceSegmentID(seg.ID)) {
				kept = append(kept, node)
			}
		case node.Group != nil:
			children := filterMigNodes(node.Group.Children, numbers)
			if len(children) == 0 {
				continue
			}
			filtered := *node.Group
			filtered.Children = children
			kept = append(kept, MigNode{Group: &filtered})
		}
	}
	return kept
}
