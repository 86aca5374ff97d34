// Package encoding implements the per-coordinate input encoding that absorbs
// both the SHPRG's rounding error and the aggregation of up to N clients,
// without overflowing the decoding budget.
package encoding

import (
	"fmt"
	"math/big"
	mathrand "math/rand"

	"github.com/opa-proto/opa/internal/field"
)

// Params fixes the encoding slack. DefaultParams uses kappa=40, N=2^20,
// which satisfy kappa + log2(N) + bitWidth <= 92 for inputs up to 32 bits.
type Params struct {
	Kappa uint   // encoding security parameter, in bits
	N     uint64 // aspirational upper bound on number of clients
}

// DefaultParams are the production parameters.
var DefaultParams = Params{Kappa: 40, N: 1 << 20}

// M is the encoded modulus, equal to the SHPRG's rounding modulus p = 2^92.
var M = new(big.Int).Lsh(big.NewInt(1), 92)

// MaxClients returns the upper bound N on the number of clients a single run
// may aggregate while preserving correctness.
func (p Params) MaxClients() uint64 { return p.N }

func (p Params) scale() *big.Int {
	twoToKappa := new(big.Int).Lsh(big.NewInt(1), p.Kappa)
	return twoToKappa.Mul(twoToKappa, new(big.Int).SetUint64(p.N))
}

// Encode computes E(v) = (2^kappa * N) * v + r + 2^kappa for a uniformly
// sampled noise term r in [0, 2^kappa), returning the result as a field
// element. It returns an error if the computed value would not fit under
// the encoded modulus M.
func Encode(v uint32, p Params, rng *mathrand.Rand) (field.Element, error) {
	scale := p.scale()
	offset := new(big.Int).Lsh(big.NewInt(1), p.Kappa)

	rMax := new(big.Int).Lsh(big.NewInt(1), p.Kappa)
	r := new(big.Int).Rand(rng, rMax)

	encoded := new(big.Int).Mul(scale, new(big.Int).SetUint64(uint64(v)))
	encoded.Add(encoded, r)
	encoded.Add(encoded, offset)

	if encoded.Cmp(M) >= 0 {
		return field.Element{}, fmt.Errorf("encoding: E(v)=%s exceeds modulus M=%s (invariant violated)", encoded, M)
	}
	return field.FromBigInt(encoded), nil
}

// Decode recovers the sum of up to n<=N clients' plaintext coordinates from
// the summed, unmasked ciphertext coordinate:
// decoded = ceil(sum / (2^kappa * N)) - 1.
func Decode(sum field.Element, p Params) uint32 {
	scale := p.scale()
	sumBig := sum.Big()

	// Ceiling division: ceil(a/b) = floor((a + b - 1) / b).
	numerator := new(big.Int).Add(sumBig, scale)
	numerator.Sub(numerator, big.NewInt(1))
	quotient := new(big.Int).Div(numerator, scale)
	quotient.Sub(quotient, big.NewInt(1))

	if quotient.Sign() < 0 {
		quotient.SetInt64(0)
	}
	return uint32(quotient.Uint64())
}
