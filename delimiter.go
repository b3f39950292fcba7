package edimig

import (
	"errors"
	"fmt"
)

var ErrInvalidUNA = errors.New("invalid UNA service string advice")

// Delimiters holds the six EDIFACT service characters. The zero value
// is not usable; use DefaultDelimiters or ParseUNA.
type Delimiters struct {
	// Component separates components within a composite element
	Component byte `json:"component" yaml:"component"`
	// Element separates data elements within a segment
	Element byte `json:"element" yaml:"element"`
	// Decimal is the decimal notation mark
	Decimal byte `json:"decimal" yaml:"decimal"`
	// Release escapes the next byte so it is read as literal data
	Release byte `json:"release" yaml:"release"`
	// Reserved is unused in syntax version 3 (a space by default)
	Reserved byte `json:"reserved" yaml:"reserved"`
	// Segment terminates a segment
	Segment byte `json:"segment" yaml:"segment"`
	// ExplicitUNA records whether the delimiters were read from an
	// explicit UNA segment, so rendering can reproduce it
	ExplicitUNA bool `json:"explicitUna,omitempty" yaml:"explicitUna,omitempty"`
}

// DefaultDelimiters returns the standard UN/EDIFACT level A delimiters
// (`:+.? '`).
func DefaultDelimiters() Delimiters {
	return Delimiters{
		Component: ':',
		Element:   '+',
		Decimal:   '.',
		Release:   '?',
		Reserved:  ' ',
		Segment:   '\'',
	}
}

// ParseUNA reads a UNA service string advice from the start of data.
// The second return value reports whether a UNA was present at all;
// an error is returned only for a UNA that is present but truncated
// or internally inconsistent.
func ParseUNA(data []byte) (Delimiters, bool, error) {
	if len(data) < len(unaSegmentID) || string(data[:len(unaSegmentID)]) != unaSegmentID {
		return DefaultDelimiters(), false, nil
	}
	if len(data) < unaByteCount {
		return DefaultDelimiters(), true, fmt.Errorf(
			"%w: expected %d bytes, got %d",
			ErrInvalidUNA, unaByteCount, len(data),
		)
	}
	d := Delimiters{
		Component:   data[3],
		Element:     data[4],
		Decimal:     data[5],
		Release:     data[6],
		Reserved:    data[7],
		Segment:     data[8],
		ExplicitUNA: true,
	}
	if err := d.Validate(); err != nil {
		return d, true, err
	}
	return d, true, nil
}

// UNABytes renders the UNA service string advice for these delimiters.
func (d Delimiters) UNABytes() []byte {
	return []byte{
		'U', 'N', 'A',
		d.Component,
		d.Element,
		d.Decimal,
		d.Release,
		d.Reserved,
		d.Segment,
	}
}

// Validate checks that the separating delimiters are pairwise
// distinct. Every downstream escape decision assumes distinctness.
// The decimal mark and the reserved character are allowed to collide
// with payload characters and are not checked against the others.
func (d Delimiters) Validate() error {
	uq := uniqueElements(
		[]byte{d.Component, d.Element, d.Release, d.Segment},
	)
	if len(uq) != 4 {
		return fmt.Errorf(
			"%w: component, element, release and segment delimiters must be distinct (got %q %q %q %q)",
			ErrInvalidUNA, d.Component, d.Element, d.Release, d.Segment,
		)
	}
	return nil
}

// isSpecial reports whether b must be escaped when rendering a value.
func (d Delimiters) isSpecial(b byte) bool {
	return b == d.Component || b == d.Element || b == d.Release || b == d.Segment
}
