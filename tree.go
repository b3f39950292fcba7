package edimig

// AssembledTree is the hierarchical form of one message: the flat
// segment stream folded into MIG groups. It is a pure rearrangement of
// the input; no segment is invented and none is dropped within
// MIG-covered scope.
type AssembledTree struct {
	// Segments are the segments appearing before any group (UNH, BGM,
	// header DTMs, ...)
	Segments []Segment `json:"segments,omitempty"`
	// Groups are the captured groups in encounter order
	Groups []*AssembledGroup `json:"groups,omitempty"`
	// Trailer holds the segments following the last captured group
	// (UNT, footer)
	Trailer []Segment `json:"trailer,omitempty"`
	// PostGroupStart is the segment number at which Trailer begins, so
	// disassembly can restore the absolute position; 0 when empty
	PostGroupStart int `json:"postGroupStart,omitempty"`
}

// AssembledGroup holds the repetitions of one MIG group variant.
type AssembledGroup struct {
	// ID is the MIG group identifier, ex: `SG4`
	ID string `json:"id"`
	// Counter is the MIG ordering key of the group definition
	Counter string `json:"counter,omitempty"`
	// VariantIndex distinguishes sibling group definitions sharing an
	// ID; it is the declaration index within the parent node list
	VariantIndex int                `json:"variantIndex,omitempty"`
	Repetitions  []*GroupRepetition `json:"repetitions"`
}

// GroupRepetition is one instance of a group: its own segments in MIG
// declaration order plus nested groups.
type GroupRepetition struct {
	Segments []Segment         `json:"segments,omitempty"`
	Groups   []*AssembledGroup `json:"groups,omitempty"`
}

// group returns the child group with the given ID and variant index,
// or nil.
func findGroup(groups []*AssembledGroup, id string, variantIndex int) *AssembledGroup {
	for _, g := range groups {
		if g.ID == id && g.VariantIndex == variantIndex {
			return g
		}
	}
	return nil
}

// SegmentCount returns the number of segments held anywhere in the
// tree, trailer included.
func (t *AssembledTree) SegmentCount() int {
	count := len(t.Segments) + len(t.Trailer)
	for _, g := range t.Groups {
		count += g.segmentCount()
	}
	return count
}

func (g *AssembledGroup) segmentCount() int {
	count := 0
	for _, rep := range g.Repetitions {
		count += len(rep.Segments)
		for _, child := range rep.Groups {
			count += child.segmentCount()
		}
	}
	return count
}

// GroupNavigator finds segments scoped to a (group path, repetition
// index) pair. All addressing is by index into the tree; the tree
// stays acyclic and trivially cloneable.
type GroupNavigator struct {
	tree *AssembledTree
}

func NewGroupNavigator(tree *AssembledTree) *GroupNavigator {
	return &GroupNavigator{tree: tree}
}

// Repetitions returns every repetition reachable through the given
// group-ID path, across all variants and all parent repetitions, in
// tree order. An empty path returns nil.
func (n *GroupNavigator) Repetitions(groupPath []string) []*GroupRepetition {
	if len(groupPath) == 0 {
		return nil
	}
	return collectRepetitions(n.tree.Groups, groupPath)
}

func collectRepetitions(groups []*AssembledGroup, groupPath []string) []*GroupRepetition {
	var reps []*GroupRepetition
	for _, g := range groups {
		if g.ID != groupPath[0] {
			continue
		}
		for _, rep := range g.Repetitions {
			if len(groupPath) == 1 {
				reps = append(reps, rep)
			} else {
				reps = append(reps, collectRepetitions(rep.Groups, groupPath[1:])...)
			}
		}
	}
	return reps
}

// Repetition returns the repetition at the given index along the
// group path, or nil. A rule scoped to repetition 1 is not satisfied
// by a match in repetition 0.
func (n *GroupNavigator) Repetition(groupPath []string, index int) *GroupRepetition {
	reps := n.Repetitions(groupPath)
	if index < 0 || index >= len(reps) {
		return nil
	}
	return reps[index]
}

// Segments returns the segments with the given tag inside the group
// path. A negative repetition index searches every repetition; a
// non-negative index restricts the search to that repetition only. An
// empty group path addresses the tree's own leading segments.
func (n *GroupNavigator) Segments(groupPath []string, index int, tag string) []*Segment {
	var out []*Segment
	if len(groupPath) == 0 {
		for i := range n.tree.Segments {
			if n.tree.Segments[i].Tag == tag {
				out = append(out, &n.tree.Segments[i])
			}
		}
		return out
	}
	reps := n.Repetitions(groupPath)
	for i, rep := range reps {
		if index >= 0 && i != index {
			continue
		}
		for j := range rep.Segments {
			if rep.Segments[j].Tag == tag {
				out = append(out, &rep.Segments[j])
			}
		}
	}
	return out
}
