package edimig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUNAExplicit(t *testing.T) {
	d, explicit, err := ParseUNA([]byte("UNA:+.? 'UNB+UNOC:3'"))
	require.NoError(t, err)
	assert.True(t, explicit)
	assert.True(t, d.ExplicitUNA)
	assert.Equal(t, byte(':'), d.Component)
	assert.Equal(t, byte('+'), d.Element)
	assert.Equal(t, byte('.'), d.Decimal)
	assert.Equal(t, byte('?'), d.Release)
	assert.Equal(t, byte(' '), d.Reserved)
	assert.Equal(t, byte('\''), d.Segment)
}

func TestParseUNAAbsent(t *testing.T) {
	d, explicit, err := ParseUNA([]byte("UNB+UNOC:3+sender'"))
	require.NoError(t, err)
	assert.False(t, explicit)
	assert.False(t, d.ExplicitUNA)
	assert.Equal(t, DefaultDelimiters(), d)
}

func TestParseUNACustomDelimiters(t *testing.T) {
	d, explicit, err := ParseUNA([]byte("UNA|~.# &UNB~UNOC|3&"))
	require.NoError(t, err)
	assert.True(t, explicit)
	assert.Equal(t, byte('|'), d.Component)
	assert.Equal(t, byte('~'), d.Element)
	assert.Equal(t, byte('#'), d.Release)
	assert.Equal(t, byte('&'), d.Segment)
}

func TestParseUNATruncated(t *testing.T) {
	_, explicit, err := ParseUNA([]byte("UNA:+."))
	assert.True(t, explicit)
	require.ErrorIs(t, err, ErrInvalidUNA)
}

func TestParseUNADuplicateDelimiters(t *testing.T) {
	// Component and element both '+'
	_, explicit, err := ParseUNA([]byte("UNA++.? '"))
	assert.True(t, explicit)
	require.ErrorIs(t, err, ErrInvalidUNA)
}

func TestUNABytesRoundtrip(t *testing.T) {
	d := DefaultDelimiters()
	d.ExplicitUNA = true
	parsed, explicit, err := ParseUNA(d.UNABytes())
	require.NoError(t, err)
	assert.True(t, explicit)
	assert.Equal(t, d, parsed)
}

func TestDelimitersValidate(t *testing.T) {
	require.NoError(t, DefaultDelimiters().Validate())

	dup := DefaultDelimiters()
	dup.Release = dup.Segment
	require.ErrorIs(t, dup.Validate(), ErrInvalidUNA)
}
