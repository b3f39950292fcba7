package edimig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathResolver(t *testing.T) {
	engine, err := NewMappingEngine(marktlokationMapping(t), transaktionMapping(t))
	require.NoError(t, err)
	resolver := engine.BuildResolver(utilmdMig(t))

	migPath, ok := resolver.Resolve("Marktlokation.marktlokationsId")
	require.True(t, ok)
	assert.Equal(t, "SG4/SG5/LOC/C517/3225", migPath)

	// Simple (non-composite) element
	migPath, ok = resolver.Resolve("Marktlokation.lokationsTyp")
	require.True(t, ok)
	assert.Equal(t, "SG4/SG5/LOC/3227", migPath)

	// Envelope prefixes and list indexes are transparent
	migPath, ok = resolver.Resolve("nachrichten.0.transaktionen.0.Transaktion.beginnDatum")
	require.True(t, ok)
	assert.Equal(t, "SG4/DTM/C507/2380", migPath)

	// An entity alone resolves to its source group
	migPath, ok = resolver.Resolve("Marktlokation")
	require.True(t, ok)
	assert.Equal(t, "SG4/SG5", migPath)

	_, ok = resolver.Resolve("Netzlokation.id")
	assert.False(t, ok)
}

func TestPathResolverWithoutMig(t *testing.T) {
	engine, err := NewMappingEngine(marktlokationMapping(t))
	require.NoError(t, err)
	resolver := engine.BuildResolver(nil)

	// Without a schema, element addresses stay numeric
	migPath, ok := resolver.Resolve("Marktlokation.marktlokationsId")
	require.True(t, ok)
	assert.Equal(t, "SG4/SG5/LOC/1/0", migPath)
}
