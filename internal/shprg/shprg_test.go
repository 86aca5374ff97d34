package shprg

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opa-proto/opa/internal/field"
)

// testParams keeps the matrix-vector product small enough for a fast unit
// test while preserving the same rounding modulus shape (a power of two
// comfortably smaller than Q) as the production parameters.
var testParams = Params{Lambda: 32, N: 16, P: 1 << 40}

func circularDistance(a, b *big.Int, modulus *big.Int) *big.Int {
	delta := new(big.Int).Sub(a, b)
	delta.Mod(delta, modulus)
	other := new(big.Int).Sub(modulus, delta)
	if other.Cmp(delta) < 0 {
		return other
	}
	return delta
}

// TestAlmostHomomorphic checks Testable Property 1: for seeds s0, s1 sharing
// a public matrix, expand(s0)+expand(s1) is within circular distance 1 of
// expand(s0+s1), coordinatewise.
func TestAlmostHomomorphic(t *testing.T) {
	var publicSeed [32]byte
	copy(publicSeed[:], []byte("shprg-homomorphism-test-seed..."))

	prg0, err := FromPublicSeed(testParams, publicSeed)
	require.NoError(t, err)
	prg1, err := FromPublicSeed(testParams, publicSeed)
	require.NoError(t, err)

	s0 := prg0.Seed()
	s1 := prg1.Seed()

	sum := make([]field.Element, len(s0))
	for i := range sum {
		sum[i] = s0[i].Add(s1[i])
	}
	prgSum, err := FromBoth(testParams, publicSeed, sum)
	require.NoError(t, err)

	r0 := prg0.Expand()
	r1 := prg1.Expand()
	rSum := prgSum.Expand()

	modulus := new(big.Int).SetUint64(testParams.P)
	for i := range r0 {
		o0 := new(big.Int).SetBytes(r0[i].Uint128()[:])
		o1 := new(big.Int).SetBytes(r1[i].Uint128()[:])
		oSum := new(big.Int).SetBytes(rSum[i].Uint128()[:])

		combined := new(big.Int).Add(o0, o1)
		combined.Mod(combined, modulus)

		dist := circularDistance(combined, oSum, modulus)
		require.True(t, dist.Cmp(big.NewInt(1)) <= 0, "coordinate %d: circular distance %s > 1", i, dist.String())
	}
}

// TestGeneralizedDrift checks that summing k seeds introduces rounding
// drift of at most k-1 per coordinate.
func TestGeneralizedDrift(t *testing.T) {
	const k = 5
	var publicSeed [32]byte
	copy(publicSeed[:], []byte("shprg-drift-test-seed..........."))

	instances := make([]*SHPRG, k)
	for i := range instances {
		g, err := FromPublicSeed(testParams, publicSeed)
		require.NoError(t, err)
		instances[i] = g
	}

	sum := make([]field.Element, testParams.N)
	for _, g := range instances {
		seed := g.Seed()
		for j := range sum {
			sum[j] = sum[j].Add(seed[j])
		}
	}
	prgSum, err := FromBoth(testParams, publicSeed, sum)
	require.NoError(t, err)
	rSum := prgSum.Expand()

	modulus := new(big.Int).SetUint64(testParams.P)
	combined := make([]*big.Int, testParams.Lambda)
	for i := range combined {
		combined[i] = new(big.Int)
	}
	for _, g := range instances {
		r := g.Expand()
		for i, e := range r {
			v := new(big.Int).SetBytes(e.Uint128()[:])
			combined[i].Add(combined[i], v)
			combined[i].Mod(combined[i], modulus)
		}
	}

	maxDrift := big.NewInt(int64(k - 1))
	for i := range combined {
		oSum := new(big.Int).SetBytes(rSum[i].Uint128()[:])
		dist := circularDistance(combined[i], oSum, modulus)
		require.True(t, dist.Cmp(maxDrift) <= 0, "coordinate %d: drift %s > %s", i, dist.String(), maxDrift.String())
	}
}

func TestExpandIsDeterministicForSameInstance(t *testing.T) {
	g, err := Fresh(testParams)
	require.NoError(t, err)
	r0 := g.Expand()
	r1 := g.Expand()
	for i := range r0 {
		require.True(t, r0[i].Equal(r1[i]))
	}
}
