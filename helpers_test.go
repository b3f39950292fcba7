package edimig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// utilmdMig builds a compact UTILMD grammar: message header segments,
// the SG2 party group, the SG4 transaction group with nested SG5/SG6/
// SG8, and the trailer. Segment numbers follow the MIG counting used
// by the AHB workflows below.
func utilmdMig(t *testing.T) *Mig {
	t.Helper()
	return &Mig{
		MessageType:   "UTILMD",
		Variant:       "Strom",
		Version:       "D:11A:UN:S2.1",
		FormatVersion: "FV2504",
		Root: []MigNode{
			{Segment: &MigSegment{
				ID: "UNH", StdStatus: Mandatory, Number: 1, Counter: "0010",
				Fields: []MigField{
					{ID: "0062", Position: 0, Format: "an..14"},
					{ID: "S009", Position: 1, Components: []MigDataElement{
						{ID: "0065", Position: 0},
						{ID: "0052", Position: 1},
						{ID: "0054", Position: 2},
						{ID: "0051", Position: 3},
						{ID: "0057", Position: 4},
					}},
				},
			}},
			{Segment: &MigSegment{
				ID: "BGM", StdStatus: Mandatory, Number: 2, Counter: "0020",
				Fields: []MigField{
					{ID: "C002", Position: 0, Components: []MigDataElement{
						{ID: "1001", Position: 0, Codes: []string{"E01", "E02", "E03", "E35"}},
					}},
					{ID: "C106", Position: 1, Components: []MigDataElement{
						{ID: "1004", Position: 0},
					}},
				},
			}},
			{Segment: &MigSegment{
				ID: "DTM", StdStatus: Conditional, StdMaxRepeat: 9, Number: 3, Counter: "0030",
				Fields: []MigField{
					{ID: "C507", Position: 0, Components: []MigDataElement{
						{ID: "2005", Position: 0, Codes: []string{"137"}},
						{ID: "2380", Position: 1},
						{ID: "2379", Position: 2},
					}},
				},
			}},
			{Group: &MigSegmentGroup{
				ID: "SG2", StdStatus: Mandatory, StdMaxRepeat: 9, Counter: "0040", Level: 1,
				Children: []MigNode{
					{Segment: &MigSegment{
						ID: "NAD", StdStatus: Mandatory, Number: 8, Counter: "0050", Level: 1,
						Fields: []MigField{
							{ID: "3035", Position: 0, Codes: []string{"MS", "MR"}},
							{ID: "C082", Position: 1, Components: []MigDataElement{
								{ID: "3039", Position: 0},
								{ID: "1131", Position: 1},
								{ID: "3055", Position: 2},
							}},
						},
					}},
				},
			}},
			{Group: &MigSegmentGroup{
				ID: "SG4", StdStatus: Mandatory, StdMaxRepeat: 99999, Counter: "0080", Level: 1,
				Children: []MigNode{
					{Segment: &MigSegment{
						ID: "IDE", StdStatus: Mandatory, Number: 16, Counter: "0090", Level: 1,
						Fields: []MigField{
							{ID: "7495", Position: 0, Codes: []string{"24"}},
							{ID: "C206", Position: 1, Components: []MigDataElement{
								{ID: "7402", Position: 0},
							}},
						},
					}},
					{Segment: &MigSegment{
						ID: "DTM", StdStatus: Conditional, StdMaxRepeat: 9, Number: 17, Counter: "0100", Level: 2,
						Fields: []MigField{
							{ID: "C507", Position: 0, Components: []MigDataElement{
								{ID: "2005", Position: 0, Codes: []string{"92", "93", "157"}},
								{ID: "2380", Position: 1},
								{ID: "2379", Position: 2},
							}},
						},
					}},
					{Group: &MigSegmentGroup{
						ID: "SG5", StdStatus: Conditional, StdMaxRepeat: 1, Counter: "0110", Level: 2,
						Children: []MigNode{
							{Segment: &MigSegment{
								ID: "LOC", StdStatus: Mandatory, Number: 20, Counter: "0120", Level: 2,
								Fields: []MigField{
									{ID: "3227", Position: 0, Codes: []string{"172"}},
									{ID: "C517", Position: 1, Components: []MigDataElement{
										{ID: "3225", Position: 0},
									}},
								},
							}},
						},
					}},
					{Group: &MigSegmentGroup{
						ID: "SG6", StdStatus: Conditional, StdMaxRepeat: 9, Counter: "0130", Level: 2,
						Children: []MigNode{
							{Segment: &MigSegment{
								ID: "RFF", StdStatus: Mandatory, Number: 22, Counter: "0140", Level: 2,
								Fields: []MigField{
									{ID: "C506", Position: 0, Components: []MigDataElement{
										{ID: "1153", Position: 0, Codes: []string{"Z13"}},
										{ID: "1154", Position: 1},
									}},
								},
							}},
						},
					}},
					{Group: &MigSegmentGroup{
						ID: "SG8", StdStatus: Conditional, StdMaxRepeat: 99, Counter: "0150", Level: 2,
						Children: []MigNode{
							{Segment: &MigSegment{
								ID: "SEQ", StdStatus: Mandatory, Number: 30, Counter: "0160", Level: 2,
								Fields: []MigField{
									{ID: "C286", Position: 0, Components: []MigDataElement{
										{ID: "1050", Position: 0, Codes: []string{"Z01"}},
									}},
								},
							}},
							{Segment: &MigSegment{
								ID: "PIA", StdStatus: Conditional, Number: 31, Counter: "0170", Level: 3,
								Fields: []MigField{
									{ID: "4347", Position: 0, Codes: []string{"5"}},
									{ID: "C212", Position: 1, Components: []MigDataElement{
										{ID: "7140", Position: 0},
										{ID: "7143", Position: 1},
									}},
								},
							}},
						},
					}},
				},
			}},
			{Segment: &MigSegment{
				ID: "UNT", StdStatus: Mandatory, Number: 99, Counter: "9990",
				Fields: []MigField{
					{ID: "0074", Position: 0},
					{ID: "0062", Position: 1},
				},
			}},
		},
	}
}

// utilmdAhb carries one workflow per fixture PID. 55001 keeps the full
// fixture structure; 55002 drops the SG8 price positions.
func utilmdAhb(t *testing.T) *Ahb {
	t.Helper()
	return &Ahb{
		MessageType:   "UTILMD",
		FormatVersion: "FV2504",
		Workflows: []*AhbWorkflow{
			{
				Pid:            "55001",
				Description:    "Anmeldung NB an LF",
				SegmentNumbers: []int{1, 2, 3, 8, 16, 17, 20, 22, 30, 31, 99},
				Rules: []AhbFieldRule{
					{Path: "SG4/SG5/LOC/3225", Status: "Muss"},
					{Path: "SG2/NAD/3035", Status: "Muss", Codes: []string{"MS", "MR"}},
				},
			},
			{
				Pid:            "55002",
				Description:    "Abmeldung NB an LF",
				SegmentNumbers: []int{1, 2, 3, 8, 16, 17, 20, 22, 99},
			},
		},
	}
}

const utilmdWire = "UNA:+.? '\n" +
	"UNB+UNOC:3+9900123456789:500+9900987654321:500+250101:1200+REF001'\n" +
	"UNH+MSG001+UTILMD:D:11A:UN:S2.1'\n" +
	"BGM+E01+DOC001'\n" +
	"DTM+137:202501011200?+01:303'\n" +
	"NAD+MS+9900123456789::293'\n" +
	"NAD+MR+9900987654321::293'\n" +
	"IDE+24+TX001'\n" +
	"DTM+92:20250101:102'\n" +
	"LOC+172+DE0001112223334445556667778889990'\n" +
	"RFF+Z13:55001'\n" +
	"SEQ+Z01'\n" +
	"PIA+5+9991000000001:Z09'\n" +
	"UNT+12+MSG001'\n" +
	"UNZ+1+REF001'\n"

// utilmdMessage tokenizes and splits the fixture interchange, handing
// back its single message chunk.
func utilmdMessage(t *testing.T) (*RawMessage, *MessageChunk) {
	t.Helper()
	raw, err := Tokenize([]byte(utilmdWire))
	require.NoError(t, err)
	inter, err := SplitInterchange(raw)
	require.NoError(t, err)
	require.Len(t, inter.Messages, 1)
	return raw, &inter.Messages[0]
}

// marktlokationMapping binds the SG4/SG5 location to a BO4E
// Marktlokation.
func marktlokationMapping(t *testing.T) *MappingDefinition {
	t.Helper()
	def, err := ParseMappingDefinition([]byte(`
[meta]
entity = "Marktlokation"
bo4e_type = "MARKTLOKATION"
source_group = "SG4.SG5"

[fields."loc.1.0"]
target = "marktlokationsId"
required = true

[fields."loc.0"]
target = "lokationsTyp"
transform = "code"
enum_map = { "172" = "Marktlokation" }
`))
	require.NoError(t, err)
	return def
}

func transaktionMapping(t *testing.T) *MappingDefinition {
	t.Helper()
	def, err := ParseMappingDefinition([]byte(`
[meta]
entity = "Transaktion"
source_group = "SG4"

[fields."ide.0"]
target = "transaktionsTyp"

[fields."ide.1.0"]
target = "transaktionsId"
required = true

[fields."dtm[92].0.1"]
target = "beginnDatum"
transform = "date"
`))
	require.NoError(t, err)
	return def
}
