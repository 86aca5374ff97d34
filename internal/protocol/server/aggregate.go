package server

import (
	"fmt"

	"github.com/opa-proto/opa/internal/encoding"
	"github.com/opa-proto/opa/internal/field"
	"github.com/opa-proto/opa/internal/session"
	"github.com/opa-proto/opa/internal/shamir"
	"github.com/opa-proto/opa/internal/shprg"
	"github.com/opa-proto/opa/internal/wire"
)

// Aggregate reconstructs the summed SHPRG seed from committee quorum
// results, rebuilds the combined mask, unmasks the summed client
// ciphertexts, and decodes the result. Committee results are indexed by the
// wire-carried committee index, not arrival order, so interpolation x-values
// stay correct regardless of which subset of the committee answered first.
func Aggregate(setup session.SetupParameters, state session.ServerState, ciphertexts []wire.Ciphertext, results []wire.CommitteeResult) ([]uint32, error) {
	if len(results) < setup.ThresholdReconstruct {
		return nil, fmt.Errorf("server: only %d of %d required committee results present", len(results), setup.ThresholdReconstruct)
	}
	if len(ciphertexts) == 0 {
		return nil, fmt.Errorf("server: no client ciphertexts to aggregate")
	}

	params := state.SHPRGParams()
	for i, r := range results {
		if len(r.Sigma) != params.N {
			return nil, fmt.Errorf("server: committee result %d has sigma length %d, want %d", i, len(r.Sigma), params.N)
		}
	}

	combinedSeed := make([]field.Element, params.N)
	for j := 0; j < params.N; j++ {
		shares := make([]shamir.Share, len(results))
		for i, r := range results {
			shares[i] = shamir.Share{X: field.FromUint64(uint64(r.Index) + 1), Y: r.Sigma[j]}
		}
		val, err := shamir.Reconstruct(shares, setup.ThresholdReconstruct)
		if err != nil {
			return nil, fmt.Errorf("server: reconstructing seed coordinate %d: %w", j, err)
		}
		combinedSeed[j] = val
	}

	combined, err := shprg.FromBoth(params, state.SuccinctSeed, combinedSeed)
	if err != nil {
		return nil, fmt.Errorf("server: rebuilding combined SHPRG: %w", err)
	}
	mask := combined.Expand()

	l := session.InputLength
	sum := make([]field.Element, l)
	for j := range sum {
		sum[j] = field.Zero()
	}
	for _, ct := range ciphertexts {
		if len(ct.C) < l {
			return nil, fmt.Errorf("server: client ciphertext shorter than input length (%d < %d)", len(ct.C), l)
		}
		for j := 0; j < l; j++ {
			sum[j] = sum[j].Add(ct.C[j])
		}
	}

	encParams := state.EncodingParams()
	out := make([]uint32, l)
	for j := 0; j < l; j++ {
		unmasked := sum[j].Sub(mask[j])
		out[j] = encoding.Decode(unmasked, encParams)
	}
	return out, nil
}
