package wire

import (
	mathrand "math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opa-proto/opa/internal/field"
)

func randomVector(n int, rng *mathrand.Rand) []field.Element {
	out := make([]field.Element, n)
	field.UniformSlice(out, rng)
	return out
}

func TestVectorRoundTrip(t *testing.T) {
	rng := mathrand.New(mathrand.NewSource(1))
	v := randomVector(12, rng)

	b, err := EncodeVector(v)
	require.NoError(t, err)
	got, err := DecodeVector(b)
	require.NoError(t, err)
	require.Len(t, got, len(v))
	for i := range v {
		require.True(t, v[i].Equal(got[i]))
	}
}

func TestCiphertextRoundTrip(t *testing.T) {
	rng := mathrand.New(mathrand.NewSource(2))
	ct := Ciphertext{
		C: randomVector(8, rng),
		S: [][]field.Element{randomVector(3, rng), randomVector(3, rng)},
	}

	b, err := EncodeCiphertext(ct)
	require.NoError(t, err)
	got, err := DecodeCiphertext(b)
	require.NoError(t, err)

	require.Len(t, got.C, len(ct.C))
	require.Len(t, got.S, len(ct.S))
	for i := range ct.C {
		require.True(t, ct.C[i].Equal(got.C[i]))
	}
	for i := range ct.S {
		for j := range ct.S[i] {
			require.True(t, ct.S[i][j].Equal(got.S[i][j]))
		}
	}
}

func TestCommitteeResultRoundTrip(t *testing.T) {
	rng := mathrand.New(mathrand.NewSource(3))
	r := CommitteeResult{Index: 7, Sigma: randomVector(5, rng)}

	frame, err := EncodeCommitteeResult(r)
	require.NoError(t, err)
	require.Equal(t, TagCommittee, string(frame[:len(TagCommittee)]))

	got, err := DecodeCommitteeResult(frame)
	require.NoError(t, err)
	require.Equal(t, r.Index, got.Index)
	for i := range r.Sigma {
		require.True(t, r.Sigma[i].Equal(got.Sigma[i]))
	}
}

func TestShareBatchRoundTrip(t *testing.T) {
	rng := mathrand.New(mathrand.NewSource(4))
	rows := [][]field.Element{randomVector(3, rng), randomVector(3, rng), randomVector(3, rng)}

	b, err := EncodeShareBatch(rows)
	require.NoError(t, err)
	got, err := DecodeShareBatch(b)
	require.NoError(t, err)
	require.Len(t, got, len(rows))
	for i := range rows {
		for j := range rows[i] {
			require.True(t, rows[i][j].Equal(got[i][j]))
		}
	}
}

func TestClassify(t *testing.T) {
	isSignal, isCommittee := Classify([]byte(TagSignal), []byte(TagSignal))
	require.True(t, isSignal)
	require.False(t, isCommittee)

	full := []byte(TagCommittee + "extra-bytes")
	isSignal, isCommittee = Classify(full[:6], full)
	require.False(t, isSignal)
	require.True(t, isCommittee)

	isSignal, isCommittee = Classify([]byte("abcdef"), []byte("abcdefgh and more"))
	require.False(t, isSignal)
	require.False(t, isCommittee)
}
