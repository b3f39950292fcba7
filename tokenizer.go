package edimig

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedSegment   = errors.New("malformed segment")
	ErrUnterminatedEscape = errors.New("unterminated release escape at end of input")
	ErrEmptySegmentTag    = errors.New("empty segment tag")
	ErrContentAfterUNZ    = errors.New("content after interchange trailer")
)

// ParseError indicates that the input bytes are not valid EDIFACT.
// Offset is the byte offset in the source buffer where parsing failed.
type ParseError struct {
	Offset int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at byte %d: %s", e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func newParseError(offset int, err error) error {
	return &ParseError{Offset: offset, Err: err}
}

// Segment is a single tokenized EDIFACT segment: a tag plus an ordered
// sequence of elements, each an ordered sequence of components.
// Release escapes are already decoded; component values carry the
// literal textual content.
type Segment struct {
	// Tag is the segment identifier, ex: `NAD`
	Tag string `json:"tag"`
	// Elements are the data elements following the tag. Composite
	// elements carry more than one component.
	Elements [][]string `json:"elements"`
	// Number is the 1-based segment number within its message
	Number int `json:"number"`
	// Offset is the byte offset of the segment in the source buffer
	Offset int `json:"offset"`
	// MessageIndex is the 0-based index of the UNH-bounded message the
	// segment belongs to, or -1 for interchange envelope segments
	MessageIndex int `json:"messageIndex"`
}

// Element returns the components of the element at the given 0-based
// index, or nil if the segment has no such element.
func (s *Segment) Element(i int) []string {
	if i < 0 || i >= len(s.Elements) {
		return nil
	}
	return s.Elements[i]
}

// Component returns the component at (element, component), or "" if
// either index is out of range.
func (s *Segment) Component(elem, comp int) string {
	e := s.Element(elem)
	if comp < 0 || comp >= len(e) {
		return ""
	}
	return e[comp]
}

// Qualifier returns the first component of the first element, which is
// the qualifier position for most EDIFACT segments (`NAD+Z04+...` has
// qualifier Z04).
func (s *Segment) Qualifier() string {
	return s.Component(0, 0)
}

func (s *Segment) String() string {
	var b strings.Builder
	b.WriteString(s.Tag)
	for _, elem := range s.Elements {
		b.WriteByte('+')
		b.WriteString(strings.Join(elem, ":"))
	}
	return b.String()
}

// Tokenizer reads EDIFACT segments one at a time. It is resumable at
// segment boundaries: each Next call consumes exactly one segment.
type Tokenizer struct {
	data         []byte
	delims       Delimiters
	pos          int
	number       int
	messageIndex int
	newline      string
}

// NewTokenizer prepares a Tokenizer for the given buffer. A leading
// UNA service string advice is consumed here and captured only in the
// delimiter record; it is never emitted as a Segment.
func NewTokenizer(data []byte) (*Tokenizer, error) {
	delims, explicit, err := ParseUNA(data)
	if err != nil {
		return nil, newParseError(0, err)
	}
	t := &Tokenizer{
		data:         data,
		delims:       delims,
		messageIndex: -1,
	}
	if explicit {
		t.pos = unaByteCount
	}
	t.skipInterSegmentWhitespace()
	return t, nil
}

// Delimiters returns the delimiters in effect for this buffer.
func (t *Tokenizer) Delimiters() Delimiters {
	return t.delims
}

// Newline returns the newline style detected between segments: "\n",
// "\r\n", or "" when segments are not newline-separated.
func (t *Tokenizer) Newline() string {
	return t.newline
}

func (t *Tokenizer) skipInterSegmentWhitespace() {
	if t.newline == "" && t.pos < len(t.data) {
		if t.data[t.pos] == '\r' && t.pos+1 < len(t.data) && t.data[t.pos+1] == '\n' {
			t.newline = "\r\n"
		} else if t.data[t.pos] == '\n' {
			t.newline = "\n"
		}
	}
	for t.pos < len(t.data) {
		switch t.data[t.pos] {
		case '\r', '\n':
			t.pos++
		default:
			return
		}
	}
}

// Next consumes and returns the next segment, or nil at end of input.
// The walk is a single forward pass; no byte is visited twice.
func (t *Tokenizer) Next() (*Segment, error) {
	if t.pos >= len(t.data) {
		return nil, nil
	}
	start := t.pos

	var components []string
	var elements [][]string
	var value strings.Builder
	terminated := false

	for t.pos < len(t.data) {
		b := t.data[t.pos]
		switch b {
		case t.delims.Release:
			if t.pos+1 >= len(t.data) {
				return nil, newParseError(t.pos, ErrUnterminatedEscape)
			}
			value.WriteByte(t.data[t.pos+1])
			t.pos += 2
		case t.delims.Component:
			components = append(components, value.String())
			value.Reset()
			t.pos++
		case t.delims.Element:
			components = append(components, value.String())
			value.Reset()
			elements = append(elements, components)
			components = nil
			t.pos++
		case t.delims.Segment:
			components = append(components, value.String())
			value.Reset()
			elements = append(elements, components)
			components = nil
			t.pos++
			terminated = true
		default:
			value.WriteByte(b)
			t.pos++
		}
		if terminated {
			break
		}
	}

	if !terminated {
		return nil, newParseError(
			start,
			fmt.Errorf("%w: missing segment terminator", ErrMalformedSegment),
		)
	}

	tag := elements[0][0]
	if tag == "" {
		return nil, newParseError(start, ErrEmptySegmentTag)
	}
	if len(elements[0]) > 1 {
		return nil, newParseError(
			start,
			fmt.Errorf("%w: segment tag %q contains a component separator", ErrMalformedSegment, tag),
		)
	}

	if tag == unhSegmentID {
		t.messageIndex++
		t.number = 0
	}
	t.number++

	seg := &Segment{
		Tag:          tag,
		Elements:     elements[1:],
		Number:       t.number,
		Offset:       start,
		MessageIndex: t.messageIndex,
	}
	t.skipInterSegmentWhitespace()
	return seg, nil
}

// RawMessage is a fully tokenized EDIFACT buffer: the delimiter record
// plus the flat, ordered segment list.
type RawMessage struct {
	Delimiters Delimiters
	// Newline is the newline style detected between segments ("" when
	// segments are not newline-separated)
	Newline  string
	segments []Segment
}

// Segments returns the tokenized segments in source order.
func (r *RawMessage) Segments() []Segment {
	return r.segments
}

// String re-renders the message with its own delimiters and newline
// style, including the UNA advice when the input carried one.
func (r *RawMessage) String() string {
	segs := make([]DisassembledSegment, len(r.segments))
	for i, s := range r.segments {
		segs[i] = DisassembledSegment{Tag: s.Tag, Elements: s.Elements}
	}
	return string(Render(segs, r.Delimiters, r.Newline))
}

// Tokenize parses the given byte buffer into a RawMessage. It is a
// single O(n) pass over the input.
func Tokenize(data []byte) (*RawMessage, error) {
	t, err := NewTokenizer(data)
	if err != nil {
		return nil, err
	}
	raw := &RawMessage{Delimiters: t.Delimiters()}
	for {
		seg, err := t.Next()
		if err != nil {
			return nil, err
		}
		if seg == nil {
			break
		}
		raw.segments = append(raw.segments, *seg)
	}
	raw.Newline = t.Newline()
	if len(raw.segments) == 0 {
		return nil, newParseError(0, fmt.Errorf("%w: no segments found", ErrMalformedSegment))
	}
	for i := range raw.segments {
		if raw.segments[i].Tag != unzSegmentID {
			continue
		}
		if i < len(raw.segments)-1 {
			next := &raw.segments[i+1]
			return nil, newParseError(
				next.Offset,
				fmt.Errorf("%w: segment %s after UNZ", ErrContentAfterUNZ, next.Tag),
			)
		}
	}
	return raw, nil
}
