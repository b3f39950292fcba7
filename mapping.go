package edimig

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

var (
	ErrMappingInvalid   = errors.New("invalid mapping definition")
	ErrTargetConflict   = errors.New("mapping target conflict")
	ErrUnknownTransform = errors.New("unknown transform")
	ErrTransformFailed  = errors.New("transform failed")
)

// Diagnostic codes for per-field mapping findings.
const (
	DiagTransformFailed = "TRANSFORM_FAILED"
	DiagMissingRequired = "MISSING_REQUIRED"
)

// MappingError provides entity/field context for a mapping failure.
type MappingError struct {
	Entity string
	Field  string
	Err    error
}

func (e *MappingError) Error() string {
	var b strings.Builder
	if e.Entity != "" {
		fmt.Fprintf(&b, "entity: %s ", e.Entity)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, "field: %s ", e.Field)
	}
	bs := strings.TrimSpace(b.String())
	if bs == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("[%s]: %s", bs, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

func newMappingError(entity, field string, err error) error {
	return &MappingError{Entity: entity, Field: field, Err: err}
}

// MappingMeta identifies what a mapping definition binds: one BO4E
// entity to one MIG source group.
type MappingMeta struct {
	// Entity is the BO4E entity name, ex: `Marktlokation`
	Entity string `toml:"entity"`
	// Bo4eType is the BO4E business-object type, surfaced as `boTyp`
	Bo4eType string `toml:"bo4e_type"`
	// SourceGroup is the dotted MIG group path, optionally with a
	// repetition index, ex: `SG4.SG8:1`; empty addresses the
	// message-level segments before any group
	SourceGroup string `toml:"source_group"`
	// Discriminator scopes the definition to repetitions whose trigger
	// qualifier carries this code
	Discriminator string `toml:"discriminator"`
}

// MappingField is the target specifier for one EDIFACT field path.
type MappingField struct {
	// Target is the BO4E field name
	Target string `toml:"target"`
	// Transform is one of date, datetime_tz, number, bool, code
	Transform string `toml:"transform"`
	// EnumMap enriches codes with a human-readable meaning
	EnumMap map[string]string `toml:"enum_map"`
	// Required drops the field with a diagnostic instead of emitting
	// null when the source is missing
	Required bool `toml:"required"`
}

// MappingDefinition is one parsed TOML mapping file: a BO4E entity ×
// source group binding with its field rules.
type MappingDefinition struct {
	Meta            MappingMeta             `toml:"meta"`
	Fields          map[string]MappingField `toml:"fields"`
	CompanionFields map[string]MappingField `toml:"companion_fields"`
}

var knownTransforms = map[string]bool{
	"":            true,
	"code":        true,
	"date":        true,
	"datetime_tz": true,
	"number":      true,
	"bool":        true,
}

// ParseMappingDefinition parses and validates one TOML mapping file.
func ParseMappingDefinition(data []byte) (*MappingDefinition, error) {
	def := &MappingDefinition{}
	if err := toml.Unmarshal(data, def); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMappingInvalid, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// Validate checks entity presence, field path syntax, transform names
// and target uniqueness. Errors accumulate.
func (d *MappingDefinition) Validate() error {
	var errs []error
	if d.Meta.Entity == "" {
		errs = append(errs, newMappingError("", "", fmt.Errorf("%w: meta.entity is required", ErrMappingInvalid)))
	}
	if _, _, err := parseSourceGroup(d.Meta.SourceGroup); err != nil {
		errs = append(errs, newMappingError(d.Meta.Entity, "", err))
	}
	targets := make(map[string]string)
	for _, section := range []map[string]MappingField{d.Fields, d.CompanionFields} {
		for path, field := range section {
			if _, err := parseFieldPath(path); err != nil {
				errs = append(errs, newMappingError(d.Meta.Entity, path, err))
			}
			if field.Target == "" {
				errs = append(errs, newMappingError(d.Meta.Entity, path, fmt.Errorf("%w: target is required", ErrMappingInvalid)))
			}
			if !knownTransforms[field.Transform] {
				errs = append(errs, newMappingError(d.Meta.Entity, path, fmt.Errorf("%w: %q", ErrUnknownTransform, field.Transform)))
			}
			if prev, dup := targets[field.Target]; dup && field.Target != "" {
				errs = append(errs, newMappingError(d.Meta.Entity, path, fmt.Errorf(
					"%w: target %q already mapped from %s", ErrTargetConflict, field.Target, prev,
				)))
			}
			targets[field.Target] = path
		}
	}
	return errors.Join(errs...)
}

// fieldPath addresses one component slot:
// `<seg_lower>[qual].<elemIdx>[.<subIdx>]`.
type fieldPath struct {
	tag       string
	qualifier string
	elem      int
	sub       int // -1 when unaddressed (component 0 of the element)
}

func parseFieldPath(s string) (fieldPath, error) {
	fp := fieldPath{sub: -1}
	parts := strings.Split(s, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return fp, fmt.Errorf("%w: field path %q must be seg.elem[.sub]", ErrMappingInvalid, s)
	}
	seg := parts[0]
	if open := strings.IndexByte(seg, '['); open >= 0 {
		if !strings.HasSuffix(seg, "]") {
			return fp, fmt.Errorf("%w: unclosed qualifier filter in %q", ErrMappingInvalid, s)
		}
		fp.qualifier = seg[open+1 : len(seg)-1]
		seg = seg[:open]
	}
	if seg == "" {
		return fp, fmt.Errorf("%w: field path %q has an empty segment tag", ErrMappingInvalid, s)
	}
	fp.tag = strings.ToUpper(seg)
	elem, err := strconv.Atoi(parts[1])
	if err != nil || elem < 0 {
		return fp, fmt.Errorf("%w: bad element index in %q", ErrMappingInvalid, s)
	}
	fp.elem = elem
	if len(parts) == 3 {
		sub, err := strconv.Atoi(parts[2])
		if err != nil || sub < 0 {
			return fp, fmt.Errorf("%w: bad component index in %q", ErrMappingInvalid, s)
		}
		fp.sub = sub
	}
	return fp, nil
}

// parseSourceGroup splits `SG4.SG8:1` into the group-ID path and the
// repetition index (-1 when absent).
func parseSourceGroup(s string) ([]string, int, error) {
	if s == "" {
		return nil, -1, nil
	}
	index := -1
	if colon := strings.IndexByte(s, ':'); colon >= 0 {
		n, err := strconv.Atoi(s[colon+1:])
		if err != nil || n < 0 {
			return nil, -1, fmt.Errorf("%w: bad repetition index in source group %q", ErrMappingInvalid, s)
		}
		index = n
		s = s[:colon]
	}
	path := strings.Split(s, ".")
	for _, part := range path {
		if part == "" {
			return nil, -1, fmt.Errorf("%w: empty group id in source group %q", ErrMappingInvalid, s)
		}
	}
	return path, index, nil
}

// MappingEngine is a loaded set of mapping definitions, indexed by
// entity, by source group path, and by (group path, discriminator).
type MappingEngine struct {
	defs        []*MappingDefinition
	byEntity    map[string][]*MappingDefinition
	byGroup     map[string][]*MappingDefinition
	byGroupDisc map[string]*MappingDefinition
}

// NewMappingEngine validates and indexes the given definitions.
// Definitions keep their load order; forward output is keyed by entity
// and therefore order-independent.
func NewMappingEngine(defs ...*MappingDefinition) (*MappingEngine, error) {
	e := &MappingEngine{
		byEntity:    make(map[string][]*MappingDefinition),
		byGroup:     make(map[string][]*MappingDefinition),
		byGroupDisc: make(map[string]*MappingDefinition),
	}
	var errs []error
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		e.defs = append(e.defs, def)
		e.byEntity[def.Meta.Entity] = append(e.byEntity[def.Meta.Entity], def)
		path, _, _ := parseSourceGroup(def.Meta.SourceGroup)
		groupKey := strings.Join(path, pathSeparator)
		e.byGroup[groupKey] = append(e.byGroup[groupKey], def)
		if def.Meta.Discriminator != "" {
			e.byGroupDisc[groupKey+"|"+def.Meta.Discriminator] = def
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return e, nil
}

// Definitions returns the loaded definitions in load order.
func (e *MappingEngine) Definitions() []*MappingDefinition {
	return e.defs
}

// ForEntity returns the definitions registered for a BO4E entity.
func (e *MappingEngine) ForEntity(name string) []*MappingDefinition {
	return e.byEntity[name]
}

// ForGroup returns the definitions bound to a source group path, and
// the discriminated definition for the given qualifier if one exists.
func (e *MappingEngine) ForGroup(groupPath []string, discriminator string) []*MappingDefinition {
	key := strings.Join(groupPath, pathSeparator)
	if discriminator != "" {
		if def, ok := e.byGroupDisc[key+"|"+discriminator]; ok {
			return []*MappingDefinition{def}
		}
	}
	return e.byGroup[key]
}

// Forward maps an assembled tree to a BO4E object keyed by entity
// name. Per-field failures become diagnostics and null slots; the
// conversion itself never fails.
func (e *MappingEngine) Forward(tree *AssembledTree) (map[string]any, []Diagnostic) {
	nav := NewGroupNavigator(tree)
	out := make(map[string]any)
	var diags []Diagnostic

	for _, def := range e.defs {
		path, repIndex, _ := parseSourceGroup(def.Meta.SourceGroup)

		var reps [][]Segment
		if len(path) == 0 {
			reps = [][]Segment{tree.Segments}
		} else {
			for _, rep := range nav.Repetitions(path) {
				if def.Meta.Discriminator != "" {
					if len(rep.Segments) == 0 || rep.Segments[0].Qualifier() != def.Meta.Discriminator {
						continue
					}
				}
				reps = append(reps, rep.Segments)
			}
		}

		if repIndex >= 0 {
			if repIndex >= len(reps) {
				continue
			}
			obj, objDiags := e.forwardOne(def, reps[repIndex])
			diags = append(diags, objDiags...)
			out[def.Meta.Entity] = obj
			continue
		}
		if len(path) == 0 {
			if len(reps) == 1 {
				obj, objDiags := e.forwardOne(def, reps[0])
				diags = append(diags, objDiags...)
				out[def.Meta.Entity] = obj
			}
			continue
		}
		list := make([]any, 0, len(reps))
		for _, segs := range reps {
			obj, objDiags := e.forwardOne(def, segs)
			diags = append(diags, objDiags...)
			list = append(list, obj)
		}
		if len(list) > 0 {
			out[def.Meta.Entity] = list
		}
	}
	return out, diags
}

func (e *MappingEngine) forwardOne(def *MappingDefinition, segments []Segment) (map[string]any, []Diagnostic) {
	obj := make(map[string]any)
	var diags []Diagnostic
	if def.Meta.Bo4eType != "" {
		obj["boTyp"] = def.Meta.Bo4eType
	}
	diags = append(diags, e.forwardFields(def, def.Fields, segments, obj)...)
	if len(def.CompanionFields) > 0 {
		companion := make(map[string]any)
		diags = append(diags, e.forwardFields(def, def.CompanionFields, segments, companion)...)
		if len(companion) > 0 {
			obj["companion"] = companion
		}
	}
	return obj, diags
}

func (e *MappingEngine) forwardFields(
	def *MappingDefinition,
	fields map[string]MappingField,
	segments []Segment,
	obj map[string]any,
) []Diagnostic {
	var diags []Diagnostic
	for _, path := range sortedKeys(fields) {
		field := fields[path]
		fp, err := parseFieldPath(path)
		if err != nil {
			continue
		}
		seg := findSourceSegment(segments, fp)
		if seg == nil {
			if field.Required {
				diags = append(diags, Diagnostic{
					Code:    DiagMissingRequired,
					Message: fmt.Sprintf("%s: required source %s is missing", def.Meta.Entity, path),
					Path:    path,
				})
				continue
			}
			obj[field.Target] = nil
			continue
		}
		sub := fp.sub
		if sub < 0 {
			sub = 0
		}
		raw := seg.Component(fp.elem, sub)
		if raw == "" {
			if field.Required {
				diags = append(diags, Diagnostic{
					Code:          DiagMissingRequired,
					Message:       fmt.Sprintf("%s: required source %s is empty", def.Meta.Entity, path),
					Path:          path,
					SegmentNumber: seg.Number,
				})
				continue
			}
			obj[field.Target] = nil
			continue
		}
		value, err := decodeValue(raw, field)
		if err != nil {
			diags = append(diags, Diagnostic{
				Code:          DiagTransformFailed,
				Message:       fmt.Sprintf("%s: %s: %s", def.Meta.Entity, path, err),
				Path:          path,
				SegmentNumber: seg.Number,
			})
			obj[field.Target] = nil
			continue
		}
		obj[field.Target] = value
	}
	return diags
}

func findSourceSegment(segments []Segment, fp fieldPath) *Segment {
	for i := range segments {
		if segments[i].Tag != fp.tag {
			continue
		}
		if fp.qualifier != "" && segments[i].Qualifier() != fp.qualifier {
			continue
		}
		return &segments[i]
	}
	return nil
}

// decodeValue applies the forward transform to a raw component value.
func decodeValue(raw string, field MappingField) (any, error) {
	switch field.Transform {
	case "", "code":
		if len(field.EnumMap) > 0 {
			if meaning, ok := field.EnumMap[raw]; ok {
				return map[string]any{"code": raw, "meaning": meaning}, nil
			}
			return map[string]any{"code": raw}, nil
		}
		return raw, nil
	case "date":
		t, err := time.Parse("20060102", raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a CCYYMMDD date", ErrTransformFailed, raw)
		}
		return t.Format("2006-01-02"), nil
	case "datetime_tz":
		return decodeDatetimeTz(raw)
	case "number":
		normalized := raw
		if strings.Contains(raw, ",") && !strings.Contains(raw, ".") {
			normalized = strings.ReplaceAll(raw, ",", ".")
		}
		f, err := strconv.ParseFloat(normalized, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not numeric", ErrTransformFailed, raw)
		}
		return f, nil
	case "bool":
		switch raw {
		case "Y":
			return true, nil
		case "N":
			return false, nil
		}
		return nil, fmt.Errorf("%w: %q is not Y/N", ErrTransformFailed, raw)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTransform, field.Transform)
}

// decodeDatetimeTz parses the DTM composite form `YYYYMMDDhhmm[+HH]`
// into RFC 3339.
func decodeDatetimeTz(raw string) (any, error) {
	base := raw
	offsetHours := 0
	hasOffset := false
	if idx := strings.IndexAny(raw[1:], "+-"); idx >= 0 {
		sign := 1
		if raw[idx+1] == '-' {
			sign = -1
		}
		n, err := strconv.Atoi(raw[idx+2:])
		if err != nil {
			return nil, fmt.Errorf("%w: bad zone offset in %q", ErrTransformFailed, raw)
		}
		offsetHours = sign * n
		hasOffset = true
		base = raw[:idx+1]
	}
	t, err := time.Parse("200601021504", base)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a CCYYMMDDHHMM timestamp", ErrTransformFailed, raw)
	}
	if !hasOffset {
		return t.UTC().Format(time.RFC3339), nil
	}
	loc := time.FixedZone("", offsetHours*3600)
	t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc)
	return t.Format(time.RFC3339), nil
}

// encodeValue inverts decodeValue: a BO4E value becomes the raw
// component string. For enum-mapped fields either side of
// {code, meaning} is accepted.
func encodeValue(value any, field MappingField) (string, error) {
	switch field.Transform {
	case "", "code":
		switch v := value.(type) {
		case string:
			if len(field.EnumMap) > 0 {
				if _, isCode := field.EnumMap[v]; isCode {
					return v, nil
				}
				for code, meaning := range field.EnumMap {
					if meaning == v {
						return code, nil
					}
				}
			}
			return v, nil
		case map[string]any:
			if code, ok := v["code"].(string); ok {
				return code, nil
			}
			if meaning, ok := v["meaning"].(string); ok {
				for code, m := range field.EnumMap {
					if m == meaning {
						return code, nil
					}
				}
			}
			return "", fmt.Errorf("%w: enum object has no code", ErrTransformFailed)
		}
		return fmt.Sprintf("%v", value), nil
	case "date":
		s, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("%w: date value must be a string", ErrTransformFailed)
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return "", fmt.Errorf("%w: %q is not an ISO date", ErrTransformFailed, s)
		}
		return t.Format("20060102"), nil
	case "datetime_tz":
		s, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("%w: datetime value must be a string", ErrTransformFailed)
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return "", fmt.Errorf("%w: %q is not RFC 3339", ErrTransformFailed, s)
		}
		_, offset := t.Zone()
		if offset == 0 {
			return t.Format("200601021504"), nil
		}
		return fmt.Sprintf("%s%+03d", t.Format("200601021504"), offset/3600), nil
	case "number":
		switch v := value.(type) {
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case int:
			return strconv.Itoa(v), nil
		case string:
			return v, nil
		}
		return "", fmt.Errorf("%w: number value must be numeric", ErrTransformFailed)
	case "bool":
		b, ok := value.(bool)
		if !ok {
			return "", fmt.Errorf("%w: bool value must be a boolean", ErrTransformFailed)
		}
		if b {
			return "Y", nil
		}
		return "N", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTransform, field.Transform)
}

// Reverse maps a BO4E object (as produced by Forward) back into an
// AssembledTree. Fields absent from the object leave their slots
// empty; afterwards segments that stayed entirely empty and whose MIG
// cardinality allows absence are pruned.
func (e *MappingEngine) Reverse(obj map[string]any, mig *Mig) (*AssembledTree, error) {
	tree := &AssembledTree{}
	err := e.ReverseInto(obj, tree)
	if mig != nil {
		pruneEmptySegments(tree, mig)
	}
	return tree, err
}

// ReverseInto reverse-maps into an existing tree without pruning, so
// several engines (message-level, transaction-level) can write into
// the same message.
func (e *MappingEngine) ReverseInto(obj map[string]any, tree *AssembledTree) error {
	var errs []error

	for _, def := range e.defs {
		value, present := obj[def.Meta.Entity]
		if !present {
			continue
		}
		path, repIndex, _ := parseSourceGroup(def.Meta.SourceGroup)

		var instances []map[string]any
		switch v := value.(type) {
		case map[string]any:
			instances = []map[string]any{v}
		case []any:
			for _, item := range v {
				if m, ok := item.(map[string]any); ok {
					instances = append(instances, m)
				}
			}
		default:
			errs = append(errs, newMappingError(def.Meta.Entity, "", fmt.Errorf(
				"%w: entity value must be an object or list", ErrMappingInvalid,
			)))
			continue
		}

		for i, instance := range instances {
			var segs *[]Segment
			if len(path) == 0 {
				segs = &tree.Segments
			} else {
				idx := i
				if repIndex >= 0 {
					idx = repIndex
				}
				rep := growRepetition(tree, path, idx)
				segs = &rep.Segments
			}
			if err := e.reverseOne(def, instance, segs); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (e *MappingEngine) reverseOne(def *MappingDefinition, obj map[string]any, segs *[]Segment) error {
	var errs []error
	companion, _ := obj["companion"].(map[string]any)

	apply := func(fields map[string]MappingField, source map[string]any) {
		for _, path := range sortedKeys(fields) {
			field := fields[path]
			value, present := source[field.Target]
			if !present || value == nil {
				continue
			}
			fp, err := parseFieldPath(path)
			if err != nil {
				continue
			}
			raw, err := encodeValue(value, field)
			if err != nil {
				errs = append(errs, newMappingError(def.Meta.Entity, path, err))
				continue
			}
			writeComponent(segs, fp, raw)
		}
	}
	apply(def.Fields, obj)
	if companion != nil {
		apply(def.CompanionFields, companion)
	}
	return errors.Join(errs...)
}

// growRepetition finds or creates the repetition at the given index
// along a group path, creating intermediate groups with single
// repetitions as needed.
func growRepetition(tree *AssembledTree, path []string, index int) *GroupRepetition {
	groups := &tree.Groups
	var rep *GroupRepetition
	for depth, id := range path {
		var group *AssembledGroup
		for _, g := range *groups {
			if g.ID == id {
				group = g
				break
			}
		}
		if group == nil {
			group = &AssembledGroup{ID: id}
			*groups = append(*groups, group)
		}
		want := 0
		if depth == len(path)-1 {
			want = index
		}
		for len(group.Repetitions) <= want {
			group.Repetitions = append(group.Repetitions, &GroupRepetition{})
		}
		rep = group.Repetitions[want]
		groups = &rep.Groups
	}
	return rep
}

// writeComponent writes a raw value into the addressed slot, creating
// the segment (with its qualifier filter value, if any) and growing
// element/component slices as needed.
func writeComponent(segs *[]Segment, fp fieldPath, raw string) {
	var seg *Segment
	for i := range *segs {
		if (*segs)[i].Tag != fp.tag {
			continue
		}
		if fp.qualifier != "" && (*segs)[i].Qualifier() != fp.qualifier {
			continue
		}
		seg = &(*segs)[i]
		break
	}
	if seg == nil {
		*segs = append(*segs, Segment{Tag: fp.tag})
		seg = &(*segs)[len(*segs)-1]
		if fp.qualifier != "" {
			writeSlot(seg, 0, 0, fp.qualifier)
		}
	}
	sub := fp.sub
	if sub < 0 {
		sub = 0
	}
	writeSlot(seg, fp.elem, sub, raw)
}

func writeSlot(seg *Segment, elem, sub int, value string) {
	for len(seg.Elements) <= elem {
		seg.Elements = append(seg.Elements, []string{""})
	}
	for len(seg.Elements[elem]) <= sub {
		seg.Elements[elem] = append(seg.Elements[elem], "")
	}
	seg.Elements[elem][sub] = value
}

// pruneEmptySegments removes segments whose every component is empty,
// unless the MIG marks the position mandatory.
func pruneEmptySegments(tree *AssembledTree, mig *Mig) {
	tree.Segments = pruneSegmentList(tree.Segments, nil, mig)
	for _, g := range tree.Groups {
		pruneGroup(g, []string{g.ID}, mig)
	}
}

func pruneGroup(g *AssembledGroup, path []string, mig *Mig) {
	for _, rep := range g.Repetitions {
		rep.Segments = pruneSegmentList(rep.Segments, path, mig)
		for _, child := range rep.Groups {
			pruneGroup(child, append(append([]string{}, path...), child.ID), mig)
		}
	}
}

func pruneSegmentList(segments []Segment, groupPath []string, mig *Mig) []Segment {
	kept := segments[:0:0]
	for _, seg := range segments {
		if !segmentIsEmpty(&seg) {
			kept = append(kept, seg)
			continue
		}
		spec := mig.SegmentAt(groupPath, seg.Tag)
		if spec != nil && spec.EffectiveStatus().IsMandatory() {
			kept = append(kept, seg)
		}
	}
	return kept
}

func segmentIsEmpty(seg *Segment) bool {
	for _, elem := range seg.Elements {
		for _, comp := range elem {
			if comp != "" {
				return false
			}
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
