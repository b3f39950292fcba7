package edimig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitInterchangeFixture(t *testing.T) {
	raw, err := Tokenize([]byte(utilmdWire))
	require.NoError(t, err)
	inter, err := SplitInterchange(raw)
	require.NoError(t, err)

	require.NotNil(t, inter.Header)
	require.NotNil(t, inter.Trailer)
	require.Len(t, inter.Messages, 1)

	msg := inter.Messages[0]
	assert.Equal(t, 0, msg.Index)
	assert.Equal(t, "MSG001", msg.Reference)
	assert.Equal(t, "UTILMD", msg.MessageType)
	assert.Equal(t, "D", msg.Version)
	assert.Equal(t, "11A", msg.Release)
	assert.Equal(t, "S2.1", msg.Association)
	assert.Len(t, msg.Body, 10)
	assert.Equal(t, "UNH", msg.Header.Tag)
	assert.Equal(t, "UNT", msg.Trailer.Tag)
	assert.Len(t, msg.Segments(), 12)
}

func TestInterchangeHeader(t *testing.T) {
	raw, err := Tokenize([]byte(utilmdWire))
	require.NoError(t, err)
	inter, err := SplitInterchange(raw)
	require.NoError(t, err)

	h := inter.InterchangeHeader()
	require.NotNil(t, h)
	assert.Equal(t, "UNOC", h.SyntaxIdentifier)
	assert.Equal(t, "3", h.SyntaxVersion)
	assert.Equal(t, "9900123456789", h.SenderID)
	assert.Equal(t, "500", h.SenderQualifier)
	assert.Equal(t, "9900987654321", h.RecipientID)
	assert.Equal(t, "250101", h.Date)
	assert.Equal(t, "1200", h.Time)
	assert.Equal(t, "REF001", h.ControlReference)
}

func TestSplitInterchangeWithoutEnvelope(t *testing.T) {
	raw, err := Tokenize([]byte("UNH+1+UTILMD:D:11A:UN'BGM+E01+D1'UNT+3+1'"))
	require.NoError(t, err)
	inter, err := SplitInterchange(raw)
	require.NoError(t, err)

	assert.Nil(t, inter.Header)
	assert.Nil(t, inter.Trailer)
	assert.Nil(t, inter.InterchangeHeader())
	require.Len(t, inter.Messages, 1)
	assert.Len(t, inter.Messages[0].Body, 1)
}

func TestSplitInterchangeMultipleMessages(t *testing.T) {
	wire := "UNB+UNOC:3+A+B+250101:1200+R1'" +
		"UNH+M1+UTILMD:D:11A:UN'UNT+2+M1'" +
		"UNH+M2+UTILMD:D:11A:UN'UNT+2+M2'" +
		"UNZ+2+R1'"
	raw, err := Tokenize([]byte(wire))
	require.NoError(t, err)
	inter, err := SplitInterchange(raw)
	require.NoError(t, err)
	require.Len(t, inter.Messages, 2)
	assert.Equal(t, "M1", inter.Messages[0].Reference)
	assert.Equal(t, "M2", inter.Messages[1].Reference)
	assert.Equal(t, 1, inter.Messages[1].Index)
}

func TestSplitInterchangeTrailerMismatches(t *testing.T) {
	// UNT reference does not repeat the UNH reference
	raw, err := Tokenize([]byte("UNH+M1+UTILMD:D:11A:UN'UNT+2+WRONG'"))
	require.NoError(t, err)
	_, err = SplitInterchange(raw)
	require.ErrorIs(t, err, ErrInvalidMessage)

	// UNT declares the wrong segment count
	raw, err = Tokenize([]byte("UNH+M1+UTILMD:D:11A:UN'UNT+5+M1'"))
	require.NoError(t, err)
	_, err = SplitInterchange(raw)
	require.ErrorIs(t, err, ErrInvalidMessage)

	var asmErr *AssemblyError
	require.ErrorAs(t, err, &asmErr)
	assert.Equal(t, "UNT", asmErr.Tag)
}

func TestSplitInterchangeEnvelopeMismatches(t *testing.T) {
	// UNZ control reference differs from UNB
	wire := "UNB+UNOC:3+A+B+250101:1200+R1'UNH+M1+UTILMD:D:11A:UN'UNT+2+M1'UNZ+1+OTHER'"
	raw, err := Tokenize([]byte(wire))
	require.NoError(t, err)
	_, err = SplitInterchange(raw)
	require.ErrorIs(t, err, ErrInvalidEnvelope)

	// UNZ message count wrong
	wire = "UNB+UNOC:3+A+B+250101:1200+R1'UNH+M1+UTILMD:D:11A:UN'UNT+2+M1'UNZ+9+R1'"
	raw, err = Tokenize([]byte(wire))
	require.NoError(t, err)
	_, err = SplitInterchange(raw)
	require.ErrorIs(t, err, ErrInvalidEnvelope)

	// UNB without UNZ
	wire = "UNB+UNOC:3+A+B+250101:1200+R1'UNH+M1+UTILMD:D:11A:UN'UNT+2+M1'"
	raw, err = Tokenize([]byte(wire))
	require.NoError(t, err)
	_, err = SplitInterchange(raw)
	require.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestSplitInterchangeStraySegments(t *testing.T) {
	// A segment between messages belongs to no message
	wire := "UNH+M1+UTILMD:D:11A:UN'UNT+2+M1'BGM+E01'"
	raw, err := Tokenize([]byte(wire))
	require.NoError(t, err)
	_, err = SplitInterchange(raw)
	require.ErrorIs(t, err, ErrStructuralMismatch)

	// A UNH before the previous message closed
	wire = "UNH+M1+UTILMD:D:11A:UN'UNH+M2+UTILMD:D:11A:UN'UNT+2+M2'"
	raw, err = Tokenize([]byte(wire))
	require.NoError(t, err)
	_, err = SplitInterchange(raw)
	require.ErrorIs(t, err, ErrInvalidMessage)

	// Message never closed
	wire = "UNH+M1+UTILMD:D:11A:UN'BGM+E01'"
	raw, err = Tokenize([]byte(wire))
	require.NoError(t, err)
	_, err = SplitInterchange(raw)
	require.ErrorIs(t, err, ErrInvalidMessage)
}
