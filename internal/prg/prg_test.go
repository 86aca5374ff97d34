package prg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opa-proto/opa/internal/field"
)

func TestFromSeedIsDeterministic(t *testing.T) {
	seed := [32]byte{1, 2, 3}

	p0, err := FromSeed(seed)
	require.NoError(t, err)
	p1, err := FromSeed(seed)
	require.NoError(t, err)

	a := make([]byte, 64)
	b := make([]byte, 64)
	p0.FillBytes(a)
	p1.FillBytes(b)
	require.Equal(t, a, b)
}

func TestDifferentSeedsDiverge(t *testing.T) {
	p0, err := FromSeed([32]byte{1})
	require.NoError(t, err)
	p1, err := FromSeed([32]byte{2})
	require.NoError(t, err)

	a := make([]byte, 32)
	b := make([]byte, 32)
	p0.FillBytes(a)
	p1.FillBytes(b)
	require.NotEqual(t, a, b)
}

func TestFillFieldProducesCanonicalElements(t *testing.T) {
	p, err := FromSeed([32]byte{9, 9, 9})
	require.NoError(t, err)

	dst := make([]field.Element, 16)
	p.FillField(dst)

	for _, e := range dst {
		require.True(t, e.Big().Cmp(field.Q) < 0)
		require.True(t, e.Big().Sign() >= 0)
	}
}

func TestFreshIsNonDeterministic(t *testing.T) {
	p0, err := Fresh()
	require.NoError(t, err)
	p1, err := Fresh()
	require.NoError(t, err)

	a := make([]byte, 32)
	b := make([]byte, 32)
	p0.FillBytes(a)
	p1.FillBytes(b)
	require.NotEqual(t, a, b)
}
