package edimig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeFixture(t *testing.T) {
	raw, err := Tokenize([]byte(utilmdWire))
	require.NoError(t, err)

	segs := raw.Segments()
	require.Len(t, segs, 14)
	assert.Equal(t, "UNB", segs[0].Tag)
	assert.Equal(t, "UNZ", segs[13].Tag)
	assert.Equal(t, "\n", raw.Newline)
	assert.True(t, raw.Delimiters.ExplicitUNA)
}

func TestTokenizeDecodesReleaseEscapes(t *testing.T) {
	raw, err := Tokenize([]byte("DTM+137:202501011200?+01:303'"))
	require.NoError(t, err)
	seg := raw.Segments()[0]
	// `?+` carries a literal plus sign into the zone offset
	assert.Equal(t, "202501011200+01", seg.Component(0, 1))
}

func TestTokenizeEscapedDelimiters(t *testing.T) {
	raw, err := Tokenize([]byte("FTX+ACB+++Text with ?+ and ?: and ?? and ?''"))
	require.NoError(t, err)
	seg := raw.Segments()[0]
	assert.Equal(t, "Text with + and : and ? and '", seg.Component(3, 0))
}

func TestTokenizeCustomDelimiters(t *testing.T) {
	raw, err := Tokenize([]byte("UNA|~.# &UNH~M1~UTILMD|D|11A|UN&UNT~2~M1&"))
	require.NoError(t, err)
	segs := raw.Segments()
	require.Len(t, segs, 2)
	assert.Equal(t, "UNH", segs[0].Tag)
	assert.Equal(t, "UTILMD", segs[0].Component(1, 0))
	assert.Equal(t, "11A", segs[0].Component(1, 2))
}

func TestTokenizeSegmentNumbering(t *testing.T) {
	raw, err := Tokenize([]byte(utilmdWire))
	require.NoError(t, err)
	segs := raw.Segments()

	// Envelope segments sit outside any message
	assert.Equal(t, -1, segs[0].MessageIndex)
	// Numbering restarts at each UNH
	unh := segs[1]
	assert.Equal(t, "UNH", unh.Tag)
	assert.Equal(t, 1, unh.Number)
	assert.Equal(t, 0, unh.MessageIndex)
	unt := segs[12]
	assert.Equal(t, "UNT", unt.Tag)
	assert.Equal(t, 12, unt.Number)
}

func TestTokenizeCRLFNewlines(t *testing.T) {
	raw, err := Tokenize([]byte("UNH+1+UTILMD:D:11A:UN'\r\nUNT+2+1'\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "\r\n", raw.Newline)
	require.Len(t, raw.Segments(), 2)
}

func TestTokenizeErrors(t *testing.T) {
	_, err := Tokenize([]byte("UNH+1+UTILMD"))
	require.ErrorIs(t, err, ErrMalformedSegment)

	_, err = Tokenize([]byte("FTX+foo?"))
	require.ErrorIs(t, err, ErrUnterminatedEscape)

	_, err = Tokenize([]byte("+foo'"))
	require.ErrorIs(t, err, ErrEmptySegmentTag)

	_, err = Tokenize([]byte(""))
	require.ErrorIs(t, err, ErrMalformedSegment)

	var parseErr *ParseError
	_, err = Tokenize([]byte("UNH+1+UTILMD"))
	require.ErrorAs(t, err, &parseErr)
}

func TestTokenizeRejectsContentAfterUNZ(t *testing.T) {
	wire := "UNB+UNOC:3+A+B+250101:1200+R1'" +
		"UNH+M1+UTILMD:D:11A:UN'UNT+2+M1'" +
		"UNZ+1+R1'BGM+E01'"
	_, err := Tokenize([]byte(wire))
	require.ErrorIs(t, err, ErrContentAfterUNZ)

	// The error points at the first byte of the trailing segment
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, len(wire)-len("BGM+E01'"), parseErr.Offset)

	// Trailing newlines after UNZ are not content
	_, err = Tokenize([]byte("UNB+UNOC:3+A+B+250101:1200+R1'" +
		"UNH+M1+UTILMD:D:11A:UN'UNT+2+M1'UNZ+1+R1'\n"))
	require.NoError(t, err)
}

func TestRawMessageStringIsBijective(t *testing.T) {
	raw, err := Tokenize([]byte(utilmdWire))
	require.NoError(t, err)
	assert.Equal(t, utilmdWire, raw.String())
}

func TestRawMessageStringWithoutUNA(t *testing.T) {
	wire := "UNH+1+UTILMD:D:11A:UN'UNT+2+1'"
	raw, err := Tokenize([]byte(wire))
	require.NoError(t, err)
	assert.Equal(t, wire, raw.String())
}

func TestSegmentAccessors(t *testing.T) {
	raw, err := Tokenize([]byte("NAD+MS+9900123456789::293'"))
	require.NoError(t, err)
	seg := raw.Segments()[0]

	assert.Equal(t, "MS", seg.Qualifier())
	assert.Equal(t, "9900123456789", seg.Component(1, 0))
	assert.Equal(t, "293", seg.Component(1, 2))
	assert.Equal(t, "", seg.Component(1, 9))
	assert.Equal(t, "", seg.Component(7, 0))
	assert.Nil(t, seg.Element(7))
	assert.Equal(t, "NAD+MS+9900123456789::293", seg.String())
}
