package edimig

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func segmentTags(segments []Segment) []string {
	tags := make([]string, len(segments))
	for i := range segments {
		tags[i] = segments[i].Tag
	}
	return tags
}

func TestAssembleFixture(t *testing.T) {
	_, msg := utilmdMessage(t)
	tree, diags := AssembleMessage(msg, utilmdMig(t))
	assert.Empty(t, diags)

	assert.Equal(t, []string{"UNH", "BGM", "DTM"}, segmentTags(tree.Segments))
	assert.Equal(t, []string{"UNT"}, segmentTags(tree.Trailer))
	assert.NotZero(t, tree.PostGroupStart)
	assert.Equal(t, 12, tree.SegmentCount())

	require.Len(t, tree.Groups, 2)
	sg2 := tree.Groups[0]
	assert.Equal(t, "SG2", sg2.ID)
	require.Len(t, sg2.Repetitions, 2)
	assert.Equal(t, "MS", sg2.Repetitions[0].Segments[0].Qualifier())
	assert.Equal(t, "MR", sg2.Repetitions[1].Segments[0].Qualifier())

	sg4 := tree.Groups[1]
	assert.Equal(t, "SG4", sg4.ID)
	require.Len(t, sg4.Repetitions, 1)
	rep := sg4.Repetitions[0]
	assert.Equal(t, []string{"IDE", "DTM"}, segmentTags(rep.Segments))
	require.Len(t, rep.Groups, 3)
	assert.Equal(t, "SG5", rep.Groups[0].ID)
	assert.Equal(t, "SG6", rep.Groups[1].ID)
	assert.Equal(t, "SG8", rep.Groups[2].ID)
	assert.Equal(t, []string{"SEQ", "PIA"}, segmentTags(rep.Groups[2].Repetitions[0].Segments))
}

func TestAssembleDeterministic(t *testing.T) {
	_, msg := utilmdMessage(t)
	mig := utilmdMig(t)
	first, _ := AssembleMessage(msg, mig)
	second, _ := AssembleMessage(msg, mig)
	assert.True(t, reflect.DeepEqual(first, second))
}

func TestAssembleMissingMandatory(t *testing.T) {
	// Drop the mandatory BGM
	wire := "UNH+M1+UTILMD:D:11A:UN:S2.1'NAD+MS+A::293'UNT+3+M1'"
	raw, err := Tokenize([]byte(wire))
	require.NoError(t, err)
	inter, err := SplitInterchange(raw)
	require.NoError(t, err)

	tree, diags := AssembleMessage(&inter.Messages[0], utilmdMig(t))
	require.NotEmpty(t, diags)

	var codes []string
	for _, d := range diags {
		codes = append(codes, d.Code)
	}
	assert.Contains(t, codes, DiagMissingMandatory)

	// The message still assembles around the gap
	assert.Equal(t, []string{"UNH"}, segmentTags(tree.Segments))
	require.Len(t, tree.Groups, 1)
	assert.Equal(t, "SG2", tree.Groups[0].ID)
}

func TestAssembleUnexpectedSegment(t *testing.T) {
	wire := "UNH+M1+UTILMD:D:11A:UN:S2.1'BGM+E01+D1'XYZ+1'NAD+MS+A::293'UNT+5+M1'"
	raw, err := Tokenize([]byte(wire))
	require.NoError(t, err)
	inter, err := SplitInterchange(raw)
	require.NoError(t, err)

	tree, diags := AssembleMessage(&inter.Messages[0], utilmdMig(t))

	found := false
	for _, d := range diags {
		if d.Code == DiagUnexpectedSegment && d.Tag == "XYZ" {
			found = true
		}
	}
	assert.True(t, found, "expected an UNEXPECTED_SEGMENT diagnostic for XYZ, got %v", diags)

	// The stray segment is parked, not dropped, and the walk recovers:
	// the NAD after it still lands in SG2
	assert.Contains(t, segmentTags(tree.Trailer), "XYZ")
	require.Len(t, tree.Groups, 1)
	assert.Equal(t, "SG2", tree.Groups[0].ID)
}

func TestAssembleQualifierVariantRouting(t *testing.T) {
	// Two sibling SG2 variants discriminated by the NAD qualifier
	mig := &Mig{
		MessageType: "UTILMD",
		Root: []MigNode{
			{Segment: &MigSegment{ID: "UNH", StdStatus: Mandatory, Number: 1}},
			{Group: &MigSegmentGroup{
				ID: "SG2", StdMaxRepeat: 9, Qualifiers: []string{"MS"}, Counter: "0040",
				Children: []MigNode{
					{Segment: &MigSegment{ID: "NAD", StdStatus: Mandatory, Number: 8}},
				},
			}},
			{Group: &MigSegmentGroup{
				ID: "SG2", StdMaxRepeat: 9, Qualifiers: []string{"MR"}, Counter: "0040",
				Children: []MigNode{
					{Segment: &MigSegment{ID: "NAD", StdStatus: Mandatory, Number: 8}},
				},
			}},
			{Segment: &MigSegment{ID: "UNT", StdStatus: Mandatory, Number: 99}},
		},
	}
	wire := "UNH+M1+UTILMD:D:11A:UN'NAD+MS+A'NAD+MR+B'UNT+4+M1'"
	raw, err := Tokenize([]byte(wire))
	require.NoError(t, err)
	inter, err := SplitInterchange(raw)
	require.NoError(t, err)

	tree, diags := AssembleMessage(&inter.Messages[0], mig)
	assert.Empty(t, diags)
	require.Len(t, tree.Groups, 2)
	assert.Equal(t, "MS", tree.Groups[0].Repetitions[0].Segments[0].Qualifier())
	assert.Equal(t, "MR", tree.Groups[1].Repetitions[0].Segments[0].Qualifier())
	assert.NotEqual(t, tree.Groups[0].VariantIndex, tree.Groups[1].VariantIndex)
}

func TestAssembleRepetitionBound(t *testing.T) {
	// SG5 allows a single repetition; a second LOC cannot open another
	wire := "UNH+M1+UTILMD:D:11A:UN:S2.1'BGM+E01+D1'IDE+24+T1'" +
		"LOC+172+A'LOC+172+B'UNT+6+M1'"
	raw, err := Tokenize([]byte(wire))
	require.NoError(t, err)
	inter, err := SplitInterchange(raw)
	require.NoError(t, err)

	tree, diags := AssembleMessage(&inter.Messages[0], utilmdMig(t))

	var codes []string
	for _, d := range diags {
		codes = append(codes, d.Code)
	}
	assert.Contains(t, codes, DiagUnexpectedSegment)

	sg4 := findGroup(tree.Groups, "SG4", migNodeIndex(t, utilmdMig(t), "SG4"))
	require.NotNil(t, sg4)
	sg5 := sg4.Repetitions[0].Groups[0]
	assert.Equal(t, "SG5", sg5.ID)
	assert.Len(t, sg5.Repetitions, 1)
}

// migNodeIndex returns the declaration index of the first root node
// with the given ID.
func migNodeIndex(t *testing.T, mig *Mig, id string) int {
	t.Helper()
	for i, node := range mig.Root {
		if node.ID() == id {
			return i
		}
	}
	t.Fatalf("no root node %s", id)
	return -1
}

func TestGroupNavigator(t *testing.T) {
	_, msg := utilmdMessage(t)
	tree, _ := AssembleMessage(msg, utilmdMig(t))
	nav := NewGroupNavigator(tree)

	assert.Len(t, nav.Repetitions([]string{"SG2"}), 2)
	assert.Len(t, nav.Repetitions([]string{"SG4", "SG8"}), 1)
	assert.Empty(t, nav.Repetitions([]string{"SG9"}))
	assert.Nil(t, nav.Repetitions(nil))

	require.NotNil(t, nav.Repetition([]string{"SG2"}, 1))
	assert.Nil(t, nav.Repetition([]string{"SG2"}, 5))

	locs := nav.Segments([]string{"SG4", "SG5"}, -1, "LOC")
	require.Len(t, locs, 1)
	assert.Equal(t, "DE0001112223334445556667778889990", locs[0].Component(1, 0))

	// Scoped to a specific repetition
	nads := nav.Segments([]string{"SG2"}, 0, "NAD")
	require.Len(t, nads, 1)
	assert.Equal(t, "MS", nads[0].Qualifier())

	// Empty path addresses the message-level segments
	bgms := nav.Segments(nil, -1, "BGM")
	require.Len(t, bgms, 1)
}
