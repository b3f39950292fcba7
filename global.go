package edimig

const (
	unaSegmentID = "UNA"
	unbSegmentID = "UNB"
	unzSegmentID = "UNZ"
	unhSegmentID = "UNH"
	untSegmentID = "UNT"
	bgmSegmentID = "BGM"
	dtmSegmentID = "DTM"
	rffSegmentID = "RFF"
	stsSegmentID = "STS"
	nadSegmentID = "NAD"

	// unaByteCount is the full length of a UNA service string advice:
	// the three-byte tag plus six delimiter bytes
	unaByteCount = 9

	pathSeparator = "/"

	pidQualifierZ13 = "Z13"
)

// Element indexes below are 0-based positions into Segment.Elements,
// which starts at the first data element after the tag.
const (
	unbIndexSyntax = iota
	unbIndexSender
	unbIndexRecipient
	unbIndexDateTime
	unbIndexControlReference
)

const (
	unzIndexMessageCount = iota
	unzIndexControlReference
)

const (
	unhIndexReference = iota
	unhIndexMessageIdentifier
)

const (
	untIndexSegmentCount = iota
	untIndexReference
)

// Component indexes into the UNH message identifier composite
// (S009: type, version, release, agency, association code)
const (
	unhMessageTypeComponent = iota
	unhVersionComponent
	unhReleaseComponent
	unhAgencyComponent
	unhAssociationComponent
)

// serviceSegmentIDs are segments kept by PID filtering regardless of
// whether the AHB workflow lists their MIG number, as long as they sit
// at nesting level 0.
var serviceSegmentIDs = map[string]bool{
	unhSegmentID: true,
	untSegmentID: true,
	unbSegmentID: true,
	unzSegmentID: true,
	bgmSegmentID: true,
	dtmSegmentID: true,
}

func isServiceSegmentID(id string) bool {
	return serviceSegmentIDs[id]
}

// sliceContains returns true if the given value is present in the given slice
func sliceContains[V comparable](row []V, val V) bool {
	for _, v := range row {
		if v == val {
			return true
		}
	}
	return false
}

// uniqueElements returns a slice containing each unique element in
// the given slice, ex: ["a", "b", "a", "c"] -> ["a", "b", "c"]
func uniqueElements[V comparable](elements []V) []V {
	keysSeen := make(map[V]bool)
	result := make([]V, 0, len(elements))

	for _, v := range elements {
		if _, seen := keysSeen[v]; !seen {
			keysSeen[v] = true
			result = append(result, v)
		}
	}
	return result
}
