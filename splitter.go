package edimig

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrStructuralMismatch = errors.New("structural mismatch")
	ErrInvalidEnvelope    = errors.New("invalid UNB/UNZ interchange envelope")
	ErrInvalidMessage     = errors.New("invalid UNH/UNT message envelope")
)

// AssemblyError indicates a segment stream whose structure is
// incompatible with its envelope or MIG. SegmentNumber points at the
// offending segment.
type AssemblyError struct {
	SegmentNumber int
	Tag           string
	Err           error
}

func (e *AssemblyError) Error() string {
	if e.Tag != "" {
		return fmt.Sprintf("segment %d (%s): %s", e.SegmentNumber, e.Tag, e.Err)
	}
	return fmt.Sprintf("segment %d: %s", e.SegmentNumber, e.Err)
}

func (e *AssemblyError) Unwrap() error {
	return e.Err
}

func newAssemblyError(seg *Segment, err error) error {
	ae := &AssemblyError{Err: err}
	if seg != nil {
		ae.SegmentNumber = seg.Number
		ae.Tag = seg.Tag
	}
	return ae
}

// MessageChunk is one UNH/UNT-bounded message carved out of the
// tokenized segment stream.
type MessageChunk struct {
	// Index is the 0-based position of the message in the interchange
	Index int
	// Header is the UNH segment
	Header Segment
	// Body holds the segments strictly between UNH and UNT
	Body []Segment
	// Trailer is the UNT segment
	Trailer Segment
	// Reference is the UNH message reference (UNH element 1)
	Reference string
	// MessageType is the message type from the UNH identifier
	// composite, ex: `UTILMD`
	MessageType string
	// Version, Release and Association are the remaining identifier
	// components, ex: D / 11A / S2.1
	Version     string
	Release     string
	Association string
}

// Segments returns the full contiguous run for the message:
// UNH, body, UNT.
func (c *MessageChunk) Segments() []Segment {
	segs := make([]Segment, 0, len(c.Body)+2)
	segs = append(segs, c.Header)
	segs = append(segs, c.Body...)
	segs = append(segs, c.Trailer)
	return segs
}

// Interchange is a segment stream partitioned by its envelopes. Header
// and Trailer are nil when the input carries no UNB/UNZ envelope (a
// bare UNH..UNT run is accepted).
type Interchange struct {
	Header   *Segment
	Trailer  *Segment
	Messages []MessageChunk
}

// InterchangeHeader is the UNB segment as a flat struct.
type InterchangeHeader struct {
	SyntaxIdentifier   string `json:"syntaxIdentifier"`   // UNB S001.0001
	SyntaxVersion      string `json:"syntaxVersion"`      // UNB S001.0002
	SenderID           string `json:"senderId"`           // UNB S002.0004
	SenderQualifier    string `json:"senderQualifier"`    // UNB S002.0007
	RecipientID        string `json:"recipientId"`        // UNB S003.0010
	RecipientQualifier string `json:"recipientQualifier"` // UNB S003.0007
	Date               string `json:"date"`               // UNB S004.0017
	Time               string `json:"time"`               // UNB S004.0019
	ControlReference   string `json:"controlReference"`   // UNB 0020
}

// InterchangeHeader returns the UNB segment as a struct, or nil when
// the interchange has no envelope.
func (i *Interchange) InterchangeHeader() *InterchangeHeader {
	if i.Header == nil {
		return nil
	}
	h := i.Header
	return &InterchangeHeader{
		SyntaxIdentifier:   h.Component(unbIndexSyntax, 0),
		SyntaxVersion:      h.Component(unbIndexSyntax, 1),
		SenderID:           h.Component(unbIndexSender, 0),
		SenderQualifier:    h.Component(unbIndexSender, 1),
		RecipientID:        h.Component(unbIndexRecipient, 0),
		RecipientQualifier: h.Component(unbIndexRecipient, 1),
		Date:               h.Component(unbIndexDateTime, 0),
		Time:               h.Component(unbIndexDateTime, 1),
		ControlReference:   h.Component(unbIndexControlReference, 0),
	}
}

// SplitInterchange partitions a tokenized stream into its interchange
// and message envelopes. Enforced invariants: at most one UNB, closed
// by exactly one UNZ; every UNH closed by a UNT repeating the UNH
// reference; message and segment counts consistent with the trailers.
func SplitInterchange(raw *RawMessage) (*Interchange, error) {
	segments := raw.Segments()
	if len(segments) == 0 {
		return nil, newAssemblyError(nil, fmt.Errorf("%w: empty segment stream", ErrStructuralMismatch))
	}

	inter := &Interchange{}
	var errs []error
	var current *MessageChunk

	for i := range segments {
		seg := segments[i]
		switch seg.Tag {
		case unbSegmentID:
			if i != 0 {
				errs = append(errs, newAssemblyError(&seg, fmt.Errorf(
					"%w: %w: UNB must be the first segment", ErrStructuralMismatch, ErrInvalidEnvelope,
				)))
				continue
			}
			inter.Header = &segments[i]
		case unzSegmentID:
			if inter.Trailer != nil {
				errs = append(errs, newAssemblyError(&seg, fmt.Errorf(
					"%w: %w: multiple UNZ segments", ErrStructuralMismatch, ErrInvalidEnvelope,
				)))
				continue
			}
			if current != nil {
				errs = append(errs, newAssemblyError(&seg, fmt.Errorf(
					"%w: %w: UNZ inside an open message", ErrStructuralMismatch, ErrInvalidMessage,
				)))
				current = nil
			}
			inter.Trailer = &segments[i]
		case unhSegmentID:
			if current != nil {
				errs = append(errs, newAssemblyError(&seg, fmt.Errorf(
					"%w: %w: UNH before previous message was closed", ErrStructuralMismatch, ErrInvalidMessage,
				)))
			}
			current = &MessageChunk{
				Index:       len(inter.Messages),
				Header:      seg,
				Reference:   seg.Component(unhIndexReference, 0),
				MessageType: seg.Component(unhIndexMessageIdentifier, unhMessageTypeComponent),
				Version:     seg.Component(unhIndexMessageIdentifier, unhVersionComponent),
				Release:     seg.Component(unhIndexMessageIdentifier, unhReleaseComponent),
				Association: seg.Component(unhIndexMessageIdentifier, unhAssociationComponent),
			}
		case untSegmentID:
			if current == nil {
				errs = append(errs, newAssemblyError(&seg, fmt.Errorf(
					"%w: %w: UNT without an open message", ErrStructuralMismatch, ErrInvalidMessage,
				)))
				continue
			}
			current.Trailer = seg
			untRef := seg.Component(untIndexReference, 0)
			if untRef != current.Reference {
				errs = append(errs, newAssemblyError(&seg, fmt.Errorf(
					"%w: %w: UNT reference %q does not match UNH reference %q",
					ErrStructuralMismatch, ErrInvalidMessage, untRef, current.Reference,
				)))
			}
			countValue := seg.Component(untIndexSegmentCount, 0)
			count, convErr := strconv.Atoi(countValue)
			if convErr != nil {
				errs = append(errs, newAssemblyError(&seg, fmt.Errorf(
					"%w: %w: UNT segment count %q is not numeric",
					ErrStructuralMismatch, ErrInvalidMessage, countValue,
				)))
			} else if expected := len(current.Body) + 2; count != expected {
				errs = append(errs, newAssemblyError(&seg, fmt.Errorf(
					"%w: %w: UNT declares %d segments, message has %d",
					ErrStructuralMismatch, ErrInvalidMessage, count, expected,
				)))
			}
			inter.Messages = append(inter.Messages, *current)
			current = nil
		default:
			if current == nil {
				errs = append(errs, newAssemblyError(&seg, fmt.Errorf(
					"%w: segment %s outside of any message", ErrStructuralMismatch, seg.Tag,
				)))
				continue
			}
			current.Body = append(current.Body, seg)
		}
	}

	if current != nil {
		errs = append(errs, newAssemblyError(&current.Header, fmt.Errorf(
			"%w: %w: message %q is missing its UNT trailer",
			ErrStructuralMismatch, ErrInvalidMessage, current.Reference,
		)))
	}
	if inter.Header != nil && inter.Trailer == nil {
		errs = append(errs, newAssemblyError(inter.Header, fmt.Errorf(
			"%w: %w: UNB without matching UNZ", ErrStructuralMismatch, ErrInvalidEnvelope,
		)))
	}
	if inter.Header == nil && inter.Trailer != nil {
		errs = append(errs, newAssemblyError(inter.Trailer, fmt.Errorf(
			"%w: %w: UNZ without matching UNB", ErrStructuralMismatch, ErrInvalidEnvelope,
		)))
	}
	if inter.Header != nil && inter.Trailer != nil {
		unzRef := inter.Trailer.Component(unzIndexControlReference, 0)
		unbRef := inter.Header.Component(unbIndexControlReference, 0)
		if unzRef != unbRef {
			errs = append(errs, newAssemblyError(inter.Trailer, fmt.Errorf(
				"%w: %w: UNZ reference %q does not match UNB reference %q",
				ErrStructuralMismatch, ErrInvalidEnvelope, unzRef, unbRef,
			)))
		}
		countValue := inter.Trailer.Component(unzIndexMessageCount, 0)
		if count, convErr := strconv.Atoi(countValue); convErr != nil || count != len(inter.Messages) {
			errs = append(errs, newAssemblyError(inter.Trailer, fmt.Errorf(
				"%w: %w: UNZ declares %q messages, interchange has %d",
				ErrStructuralMismatch, ErrInvalidEnvelope, countValue, len(inter.Messages),
			)))
		}
	}

	return inter, errors.Join(errs...)
}
