package edimig

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Cardinality is the MIG status of a segment or group: the standard
// M/R/C/D/O/N annotation.
type Cardinality uint8

const (
	UnknownCardinality Cardinality = iota
	// Mandatory (M): must appear
	Mandatory
	// Required (R): must appear per the German specification
	Required
	// Conditional (C): appears when its condition holds
	Conditional
	// Dependent (D): depends on other fields
	Dependent
	// Optional (O): may appear
	Optional
	// NotUsed (N): must not appear
	NotUsed
)

var cardinalityNames = map[Cardinality]string{
	UnknownCardinality: "",
	Mandatory:          "M",
	Required:           "R",
	Conditional:        "C",
	Dependent:          "D",
	Optional:           "O",
	NotUsed:            "N",
}

var cardinalityValues = map[string]Cardinality{
	"":  UnknownCardinality,
	"M": Mandatory,
	"R": Required,
	"C": Conditional,
	"D": Dependent,
	"O": Optional,
	"N": NotUsed,
}

func (c Cardinality) String() string {
	return cardinalityNames[c]
}

func (c Cardinality) GoString() string {
	names := map[Cardinality]string{
		UnknownCardinality: "UnknownCardinality",
		Mandatory:          "Mandatory",
		Required:           "Required",
		Conditional:        "Conditional",
		Dependent:          "Dependent",
		Optional:           "Optional",
		NotUsed:            "NotUsed",
	}
	return names[c]
}

// IsMandatory reports whether absence of the node is a structural
// defect (status M or R).
func (c Cardinality) IsMandatory() bool {
	return c == Mandatory || c == Required
}

func (c Cardinality) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Cardinality) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	return c.set(name)
}

func (c Cardinality) MarshalYAML() (any, error) {
	return c.String(), nil
}

func (c *Cardinality) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	return c.set(name)
}

func (c *Cardinality) set(name string) error {
	v, ok := cardinalityValues[strings.ToUpper(name)]
	if !ok {
		return fmt.Errorf("unknown cardinality %q", name)
	}
	*c = v
	return nil
}

// MigError is an error which provides context by referencing the MIG
// node path related to the error
type MigError struct {
	Path string
	Err  error
}

func (e *MigError) Error() string {
	if e.Path == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("[path: %s]: %s", e.Path, e.Err)
}

func (e *MigError) Unwrap() error {
	return e.Err
}

func newMigError(path string, err error) error {
	return &MigError{Path: path, Err: err}
}

// MigDataElement is a simple data element within a segment or
// composite.
type MigDataElement struct {
	// ID is the UN/EDIFACT data element number, ex: `3035`
	ID string `json:"id" yaml:"id"`
	// Position is the 0-based component position within its composite
	Position int `json:"position" yaml:"position"`
	// Format is the EDIFACT representation, ex: `an..35`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
	// Codes is the set of allowed code values, empty when free-form
	Codes []string `json:"codes,omitempty" yaml:"codes,omitempty"`
	Name  string   `json:"name,omitempty" yaml:"name,omitempty"`
}

// MigField is one data element slot of a segment. A composite carries
// its component elements in Components; a simple element has none.
type MigField struct {
	// ID is the element or composite number, ex: `3035` or `C082`
	ID string `json:"id" yaml:"id"`
	// Position is the 0-based element position within the segment
	Position int      `json:"position" yaml:"position"`
	Format   string   `json:"format,omitempty" yaml:"format,omitempty"`
	Codes    []string `json:"codes,omitempty" yaml:"codes,omitempty"`
	// Components are the component elements when this is a composite
	Components []MigDataElement `json:"components,omitempty" yaml:"components,omitempty"`
	Name       string           `json:"name,omitempty" yaml:"name,omitempty"`
}

// IsComposite reports whether the field is a composite element.
func (f *MigField) IsComposite() bool {
	return len(f.Components) > 0
}

// MigSegment describes one segment position in the MIG.
type MigSegment struct {
	// ID is the segment tag, ex: `NAD`
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// StdStatus is the UN/EDIFACT standard cardinality
	StdStatus Cardinality `json:"stdStatus,omitempty" yaml:"stdStatus,omitempty"`
	// Status is the German-specification cardinality; falls back to
	// StdStatus when unset
	Status Cardinality `json:"status,omitempty" yaml:"status,omitempty"`
	// StdMaxRepeat / MaxRepeat bound the repetitions at this position
	StdMaxRepeat int `json:"stdMaxRepeat,omitempty" yaml:"stdMaxRepeat,omitempty"`
	MaxRepeat    int `json:"maxRepeat,omitempty" yaml:"maxRepeat,omitempty"`
	// Number is the numeric MIG segment number used for PID filtering
	Number int `json:"number,omitempty" yaml:"number,omitempty"`
	// Counter is the ordering key within the MIG, ex: `0100`
	Counter string `json:"counter,omitempty" yaml:"counter,omitempty"`
	// Level is the nesting level (0 for top-level segments)
	Level  int        `json:"level,omitempty" yaml:"level,omitempty"`
	Fields []MigField `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// EffectiveStatus returns Status, or StdStatus when no specification
// override is present.
func (s *MigSegment) EffectiveStatus() Cardinality {
	if s.Status != UnknownCardinality {
		return s.Status
	}
	return s.StdStatus
}

// EffectiveMaxRepeat returns the repetition bound in effect (at least 1).
func (s *MigSegment) EffectiveMaxRepeat() int {
	if s.MaxRepeat > 0 {
		return s.MaxRepeat
	}
	if s.StdMaxRepeat > 0 {
		return s.StdMaxRepeat
	}
	return 1
}

// FieldAt returns the field at the given 0-based element position.
func (s *MigSegment) FieldAt(position int) *MigField {
	for i := range s.Fields {
		if s.Fields[i].Position == position {
			return &s.Fields[i]
		}
	}
	return nil
}

// FieldByID returns the field (or the composite containing the
// component) whose element number matches the given ID, plus the
// component position within the composite (-1 for simple elements).
func (s *MigSegment) FieldByID(id string) (*MigField, int) {
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.ID == id {
			return f, -1
		}
		for _, comp := range f.Components {
			if comp.ID == id {
				return f, comp.Position
			}
		}
	}
	return nil, -1
}

// MigSegmentGroup is a repeating group of segments and nested groups.
// The first child segment is the group trigger: its arrival opens a
// new repetition.
type MigSegmentGroup struct {
	// ID is the group identifier, ex: `SG4`
	ID           string      `json:"id" yaml:"id"`
	Name         string      `json:"name,omitempty" yaml:"name,omitempty"`
	StdStatus    Cardinality `json:"stdStatus,omitempty" yaml:"stdStatus,omitempty"`
	Status       Cardinality `json:"status,omitempty" yaml:"status,omitempty"`
	StdMaxRepeat int         `json:"stdMaxRepeat,omitempty" yaml:"stdMaxRepeat,omitempty"`
	MaxRepeat    int         `json:"maxRepeat,omitempty" yaml:"maxRepeat,omitempty"`
	Counter      string      `json:"counter,omitempty" yaml:"counter,omitempty"`
	Level        int         `json:"level,omitempty" yaml:"level,omitempty"`
	// Qualifiers scope this group variant to trigger segments whose
	// qualifier component carries one of the listed codes. Empty means
	// any trigger tag match routes here.
	Qualifiers []string  `json:"qualifiers,omitempty" yaml:"qualifiers,omitempty"`
	Children   []MigNode `json:"children" yaml:"children"`
}

// EffectiveStatus returns Status, or StdStatus when no specification
// override is present.
func (g *MigSegmentGroup) EffectiveStatus() Cardinality {
	if g.Status != UnknownCardinality {
		return g.Status
	}
	return g.StdStatus
}

// EffectiveMaxRepeat returns the repetition bound in effect (at least 1).
func (g *MigSegmentGroup) EffectiveMaxRepeat() int {
	if g.MaxRepeat > 0 {
		return g.MaxRepeat
	}
	if g.StdMaxRepeat > 0 {
		return g.StdMaxRepeat
	}
	return 1
}

// Trigger returns the group's trigger segment: the first child that is
// a segment, or nil for a malformed group.
func (g *MigSegmentGroup) Trigger() *MigSegment {
	if len(g.Children) == 0 {
		return nil
	}
	return g.Children[0].Segment
}

// TriggerQualifiers returns the qualifier codes that open a repetition
// of this group: the explicit Qualifiers list when set, otherwise the
// allowed codes of the trigger's first element.
func (g *MigSegmentGroup) TriggerQualifiers() []string {
	if len(g.Qualifiers) > 0 {
		return g.Qualifiers
	}
	trigger := g.Trigger()
	if trigger == nil {
		return nil
	}
	first := trigger.FieldAt(0)
	if first == nil {
		return nil
	}
	if first.IsComposite() {
		return first.Components[0].Codes
	}
	return first.Codes
}

// MigNode is one entry in a MIG structure: exactly one of Segment or
// Group is set.
type MigNode struct {
	Segment *MigSegment      `json:"segment,omitempty" yaml:"segment,omitempty"`
	Group   *MigSegmentGroup `json:"group,omitempty" yaml:"group,omitempty"`
}

// ID returns the segment tag or group identifier.
func (n MigNode) ID() string {
	if n.Segment != nil {
		return n.Segment.ID
	}
	if n.Group != nil {
		return n.Group.ID
	}
	return ""
}

// Mig is a full Message Implementation Guide: the grammar constraining
// one message type for one format version.
type Mig struct {
	MessageType   string `json:"messageType" yaml:"messageType"`
	Variant       string `json:"variant,omitempty" yaml:"variant,omitempty"`
	Version       string `json:"version,omitempty" yaml:"version,omitempty"`
	FormatVersion string `json:"formatVersion,omitempty" yaml:"formatVersion,omitempty"`
	Root          []MigNode `json:"root" yaml:"root"`
}

// LoadMigJSON parses and validates a MIG from JSON.
func LoadMigJSON(data []byte) (*Mig, error) {
	m := &Mig{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadMigYAML parses and validates a MIG from YAML.
func LoadMigYAML(data []byte) (*Mig, error) {
	m := &Mig{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the MIG structure recursively: every node carries an
// ID, every group has children and a segment trigger, and repetition
// bounds are non-negative. Errors are accumulated, not short-circuited.
func (m *Mig) Validate() error {
	var errs []error
	if m.MessageType == "" {
		errs = append(errs, errors.New("messageType is required"))
	}
	if len(m.Root) == 0 {
		errs = append(errs, errors.New("MIG has no structure"))
	}
	for _, node := range m.Root {
		errs = append(errs, validateMigNode(node, ""))
	}
	return errors.Join(errs...)
}

func validateMigNode(node MigNode, parentPath string) error {
	var errs []error
	switch {
	case node.Segment != nil && node.Group != nil:
		errs = append(errs, newMigError(
			parentPath, errors.New("node cannot be both a segment and a group"),
		))
	case node.Segment != nil:
		seg := node.Segment
		path := parentPath + pathSeparator + seg.ID
		if seg.ID == "" {
			errs = append(errs, newMigError(path, errors.New("segment id is required")))
		}
		if seg.MaxRepeat < 0 || seg.StdMaxRepeat < 0 {
			errs = append(errs, newMigError(path, errors.New("maxRepeat must be greater than or equal to 0")))
		}
	case node.Group != nil:
		group := node.Group
		path := parentPath + pathSeparator + group.ID
		if group.ID == "" {
			errs = append(errs, newMigError(path, errors.New("group id is required")))
		}
		if len(group.Children) == 0 {
			errs = append(errs, newMigError(path, errors.New("group must have children")))
		} else if group.Children[0].Segment == nil {
			errs = append(errs, newMigError(path, errors.New("first child of a group must be its trigger segment")))
		}
		if group.MaxRepeat < 0 || group.StdMaxRepeat < 0 {
			errs = append(errs, newMigError(path, errors.New("maxRepeat must be greater than or equal to 0")))
		}
		for _, child := range group.Children {
			errs = append(errs, validateMigNode(child, path))
		}
	default:
		errs = append(errs, newMigError(parentPath, errors.New("empty MIG node")))
	}
	return errors.Join(errs...)
}

// SegmentAt resolves a segment position by group path and tag.
// groupPath is the chain of group IDs from the root (empty for
// top-level segments). When several variants share a group ID the
// first declared variant containing the tag wins.
func (m *Mig) SegmentAt(groupPath []string, tag string) *MigSegment {
	return findSegmentIn(m.Root, groupPath, tag)
}

func findSegmentIn(nodes []MigNode, groupPath []string, tag string) *MigSegment {
	if len(groupPath) == 0 {
		for _, node := range nodes {
			if node.Segment != nil && node.Segment.ID == tag {
				return node.Segment
			}
		}
		return nil
	}
	for _, node := range nodes {
		if node.Group != nil && node.Group.ID == groupPath[0] {
			if seg := findSegmentIn(node.Group.Children, groupPath[1:], tag); seg != nil {
				return seg
			}
		}
	}
	return nil
}

// GroupAt resolves a group definition by its ID path from the root.
// The first declared variant wins.
func (m *Mig) GroupAt(groupPath []string) *MigSegmentGroup {
	nodes := m.Root
	var found *MigSegmentGroup
	for _, id := range groupPath {
		found = nil
		for _, node := range nodes {
			if node.Group != nil && node.Group.ID == id {
				found = node.Group
				break
			}
		}
		if found == nil {
			return nil
		}
		nodes = found.Children
	}
	return found
}

// PathMap materializes every segment path (`SG4/SG5/LOC`) to its MIG
// segment. When a path occurs in several group variants, the first
// declared occurrence wins.
func (m *Mig) PathMap() map[string]*MigSegment {
	paths := make(map[string]*MigSegment)
	collectPaths(m.Root, "", paths)
	return paths
}

func collectPaths(nodes []MigNode, prefix string, paths map[string]*MigSegment) {
	for _, node := range nodes {
		switch {
		case node.Segment != nil:
			p := strings.TrimPrefix(prefix+pathSeparator+node.Segment.ID, pathSeparator)
			if _, exists := paths[p]; !exists {
				paths[p] = node.Segment
			}
		case node.Group != nil:
			collectPaths(node.Group.Children, prefix+pathSeparator+node.Group.ID, paths)
		}
	}
}
