package edimig

import (
	"bytes"
	"sort"
)

// DisassembledSegment is a segment flattened back out of a tree,
// stripped of position metadata.
type DisassembledSegment struct {
	Tag      string     `json:"tag"`
	Elements [][]string `json:"elements"`
}

// Disassemble flattens an AssembledTree back into an ordered segment
// list. Within a repetition, segments come out in the order the MIG
// declares them, interleaved with recursion into child groups; sibling
// groups are ordered by their MIG counter, ties breaking on
// declaration order.
func Disassemble(tree *AssembledTree, mig *Mig) []DisassembledSegment {
	var out []DisassembledSegment
	pool := make([]Segment, 0, len(tree.Segments)+len(tree.Trailer))
	pool = append(pool, tree.Segments...)
	pool = append(pool, tree.Trailer...)
	emitLevel(mig.Root, pool, tree.Groups, &out)
	return out
}

// emitLevel emits one nesting level: the level's own segments matched
// against MIG segment nodes, and its child groups recursively.
// Segments the MIG cannot place are appended at the end rather than
// dropped.
func emitLevel(nodes []MigNode, segments []Segment, groups []*AssembledGroup, out *[]DisassembledSegment) {
	consumed := make([]bool, len(segments))
	emitted := make(map[*AssembledGroup]bool)

	for _, ordered := range counterOrder(nodes) {
		node := nodes[ordered]
		switch {
		case node.Segment != nil:
			for i := range segments {
				if consumed[i] {
					continue
				}
				if segmentMatchesMig(&segments[i], node.Segment) {
					consumed[i] = true
					*out = append(*out, DisassembledSegment{
						Tag:      segments[i].Tag,
						Elements: segments[i].Elements,
					})
				}
			}
		case node.Group != nil:
			assembled := findGroup(groups, node.Group.ID, ordered)
			if assembled == nil {
				assembled = unclaimedGroup(nodes, groups, node.Group.ID, emitted)
			}
			if assembled == nil || emitted[assembled] {
				continue
			}
			emitted[assembled] = true
			for _, rep := range assembled.Repetitions {
				emitLevel(node.Group.Children, rep.Segments, rep.Groups, out)
			}
		}
	}

	for i := range segments {
		if !consumed[i] {
			*out = append(*out, DisassembledSegment{
				Tag:      segments[i].Tag,
				Elements: segments[i].Elements,
			})
		}
	}
}

// unclaimedGroup finds a group with the given ID whose variant index
// does not address any sibling MIG node. Trees built outside the
// assembler (reverse mapping) carry a zero variant index regardless of
// where their group is declared; they are routed to the first matching
// node instead of being dropped.
func unclaimedGroup(nodes []MigNode, groups []*AssembledGroup, id string, emitted map[*AssembledGroup]bool) *AssembledGroup {
	for _, g := range groups {
		if g.ID != id || emitted[g] {
			continue
		}
		if g.VariantIndex < len(nodes) && nodes[g.VariantIndex].Group != nil && nodes[g.VariantIndex].Group.ID == id {
			continue
		}
		return g
	}
	return nil
}

// counterOrder returns the node indices in emission order: segment
// nodes keep their declared slots while group nodes are reordered
// among themselves by MIG counter (stable for equal counters).
func counterOrder(nodes []MigNode) []int {
	order := make([]int, len(nodes))
	var groupSlots []int
	var groupIndices []int
	for i, node := range nodes {
		order[i] = i
		if node.Group != nil {
			groupSlots = append(groupSlots, i)
			groupIndices = append(groupIndices, i)
		}
	}
	sort.SliceStable(groupIndices, func(a, b int) bool {
		return nodes[groupIndices[a]].Group.Counter < nodes[groupIndices[b]].Group.Counter
	})
	for slot, idx := range groupSlots {
		order[idx] = groupIndices[slot]
	}
	return order
}

// Render serializes segments to EDIFACT bytes: components joined by
// the component delimiter, elements by the element delimiter, each of
// the four special bytes escaped with the release character, each
// segment closed by the terminator. A UNA advice is emitted iff the
// delimiter record marks one as explicit; the newline string (if any)
// is injected after every terminator.
func Render(segments []DisassembledSegment, d Delimiters, newline string) []byte {
	var b bytes.Buffer
	if d.ExplicitUNA {
		b.Write(d.UNABytes())
		b.WriteString(newline)
	}
	for _, seg := range segments {
		b.WriteString(seg.Tag)
		for _, elem := range seg.Elements {
			b.WriteByte(d.Element)
			for ci, comp := range elem {
				if ci > 0 {
					b.WriteByte(d.Component)
				}
				writeEscaped(&b, comp, d)
			}
		}
		b.WriteByte(d.Segment)
		b.WriteString(newline)
	}
	return b.Bytes()
}

func writeEscaped(b *bytes.Buffer, value string, d Delimiters) {
	for i := 0; i < len(value); i++ {
		c := value[i]
		if d.isSpecial(c) {
			b.WriteByte(d.Release)
		}
		b.WriteByte(c)
	}
}

// RenderTree disassembles and renders in one step.
func RenderTree(tree *AssembledTree, mig *Mig, d Delimiters, newline string) []byte {
	return Render(Disassemble(tree, mig), d, newline)
}
