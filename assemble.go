package edimig

import (
	"fmt"
	"strings"
)

// Diagnostic codes attached to structural findings during assembly.
const (
	DiagUnexpectedSegment = "UNEXPECTED_SEGMENT"
	DiagMissingMandatory  = "MISSING_MANDATORY"
)

// Diagnostic is a structural finding produced while folding a segment
// stream into a tree. Assembly never fails outright on structural
// problems; it records diagnostics and produces a partial tree.
type Diagnostic struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	Tag           string `json:"tag,omitempty"`
	SegmentNumber int    `json:"segmentNumber,omitempty"`
	// Path is the MIG path of the expected or offending node
	Path string `json:"path,omitempty"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.Code, d.Message)
}

type assembler struct {
	segs  []Segment
	pos   int
	diags []Diagnostic
}

// Assemble folds a flat segment stream for exactly one message into an
// AssembledTree dictated by the (PID-filtered) MIG. The result is
// deterministic: the same MIG and segment list always produce an
// identical tree.
//
// The MIG is walked repeatedly until a full pass consumes nothing;
// re-walking lets input orderings that differ from MIG declaration
// order (groups sorted by counter) still find their nodes. A segment
// no pass can place is recorded as UNEXPECTED_SEGMENT and parked in
// the trailer so it survives disassembly. Mandatory nodes that never
// arrived are reported against the finished tree.
func Assemble(segments []Segment, mig *Mig) (*AssembledTree, []Diagnostic) {
	a := &assembler{segs: segments}
	tree := &AssembledTree{}

	for a.pos < len(a.segs) {
		before := a.pos
		a.fillTree(mig.Root, tree)
		if a.pos >= len(a.segs) {
			break
		}
		if a.pos > before {
			continue
		}
		// A full pass over the MIG placed nothing. Park the cursor
		// segment and retry from the top for the remainder.
		seg := a.segs[a.pos]
		a.diags = append(a.diags, Diagnostic{
			Code:          DiagUnexpectedSegment,
			Message:       fmt.Sprintf("segment %s at position %d matches no MIG node", seg.Tag, seg.Number),
			Tag:           seg.Tag,
			SegmentNumber: seg.Number,
		})
		tree.Trailer = append(tree.Trailer, seg)
		a.pos++
	}

	reportMissingNodes(mig.Root, append(append([]Segment{}, tree.Segments...), tree.Trailer...), tree.Groups, "", &a.diags)
	return tree, a.diags
}

// AssembleMessage assembles one UNH/UNT-bounded message chunk.
func AssembleMessage(msg *MessageChunk, mig *Mig) (*AssembledTree, []Diagnostic) {
	return Assemble(msg.Segments(), mig)
}

func (a *assembler) fillTree(nodes []MigNode, tree *AssembledTree) {
	for i, node := range nodes {
		switch {
		case node.Segment != nil:
			a.consumeSegments(node.Segment, func(seg Segment) {
				if len(tree.Groups) == 0 {
					tree.Segments = append(tree.Segments, seg)
					return
				}
				if len(tree.Trailer) == 0 {
					tree.PostGroupStart = seg.Number
				}
				tree.Trailer = append(tree.Trailer, seg)
			})
		case node.Group != nil:
			a.fillGroup(node.Group, i, &tree.Groups)
		}
	}
}

// fillGroup opens repetitions of the given group variant for as long
// as the cursor sits on a matching trigger and the repetition bound is
// not exhausted. Repetitions across re-walks accumulate on the same
// AssembledGroup.
func (a *assembler) fillGroup(
	group *MigSegmentGroup,
	variantIndex int,
	siblings *[]*AssembledGroup,
) {
	trigger := group.Trigger()
	if trigger == nil {
		return
	}
	qualifiers := group.TriggerQualifiers()
	assembled := findGroup(*siblings, group.ID, variantIndex)

	for a.pos < len(a.segs) {
		cursor := a.segs[a.pos]
		if cursor.Tag != trigger.ID {
			return
		}
		if len(qualifiers) > 0 && !sliceContains(qualifiers, cursor.Qualifier()) {
			// Tag matches but the qualifier routes elsewhere; a later
			// sibling variant (declaration order) gets its chance.
			return
		}
		if assembled != nil && len(assembled.Repetitions) >= group.EffectiveMaxRepeat() {
			return
		}
		if assembled == nil {
			assembled = &AssembledGroup{
				ID:           group.ID,
				Counter:      group.Counter,
				VariantIndex: variantIndex,
			}
			*siblings = append(*siblings, assembled)
		}
		rep := &GroupRepetition{}
		assembled.Repetitions = append(assembled.Repetitions, rep)
		a.fillRepetition(group.Children, rep)
	}
}

func (a *assembler) fillRepetition(nodes []MigNode, rep *GroupRepetition) {
	for i, node := range nodes {
		switch {
		case node.Segment != nil:
			if i == 0 {
				// Group trigger: exactly one occurrence belongs to this
				// repetition. The next occurrence opens a new one.
				rep.Segments = append(rep.Segments, a.segs[a.pos])
				a.pos++
				continue
			}
			a.consumeSegments(node.Segment, func(seg Segment) {
				rep.Segments = append(rep.Segments, seg)
			})
		case node.Group != nil:
			a.fillGroup(node.Group, i, &rep.Groups)
		}
	}
}

// consumeSegments takes consecutive cursor segments matching the MIG
// segment, up to its repetition bound.
func (a *assembler) consumeSegments(spec *MigSegment, sink func(Segment)) {
	count := 0
	maxRepeat := spec.EffectiveMaxRepeat()
	for a.pos < len(a.segs) && count < maxRepeat {
		cursor := a.segs[a.pos]
		if !segmentMatchesMig(&cursor, spec) {
			break
		}
		sink(cursor)
		a.pos++
		count++
	}
}

// reportMissingNodes checks mandatory MIG nodes against the finished
// tree, one nesting level at a time. A mandatory segment is missing
// when no segment at its level can occupy its position; a mandatory
// group is missing when it never opened a repetition. Inside a group,
// every repetition is checked on its own.
func reportMissingNodes(
	nodes []MigNode,
	segments []Segment,
	groups []*AssembledGroup,
	path string,
	diags *[]Diagnostic,
) {
	for i, node := range nodes {
		switch {
		case node.Segment != nil:
			spec := node.Segment
			if !spec.EffectiveStatus().IsMandatory() {
				continue
			}
			present := false
			for j := range segments {
				if segmentMatchesMig(&segments[j], spec) {
					present = true
					break
				}
			}
			if !present {
				segPath := strings.TrimPrefix(path+pathSeparator+spec.ID, pathSeparator)
				*diags = append(*diags, Diagnostic{
					Code:    DiagMissingMandatory,
					Message: fmt.Sprintf("mandatory segment %s is missing", segPath),
					Tag:     spec.ID,
					Path:    segPath,
				})
			}
		case node.Group != nil:
			group := node.Group
			groupPath := strings.TrimPrefix(path+pathSeparator+group.ID, pathSeparator)
			assembled := findGroup(groups, group.ID, i)
			if assembled == nil {
				if group.EffectiveStatus().IsMandatory() {
					*diags = append(*diags, Diagnostic{
						Code:    DiagMissingMandatory,
						Message: fmt.Sprintf("mandatory group %s is missing", groupPath),
						Tag:     group.ID,
						Path:    groupPath,
					})
				}
				continue
			}
			for _, rep := range assembled.Repetitions {
				reportMissingNodes(group.Children, rep.Segments, rep.Groups, groupPath, diags)
			}
		}
	}
}

// segmentMatchesMig reports whether the cursor segment can occupy the
// given MIG position: the tag must match, and when the first MIG field
// restricts its codes, the segment qualifier must be one of them.
// Qualifier-discriminated sibling segments (several DTM positions with
// disjoint code sets) are routed this way.
func segmentMatchesMig(seg *Segment, spec *MigSegment) bool {
	if seg.Tag != spec.ID {
		return false
	}
	first := spec.FieldAt(0)
	if first == nil {
		return true
	}
	var codes []string
	if first.IsComposite() {
		if len(first.Components) > 0 {
			codes = first.Components[0].Codes
		}
	} else {
		codes = first.Codes
	}
	if len(codes) == 0 {
		return true
	}
	return sliceContains(codes, seg.Qualifier())
}
