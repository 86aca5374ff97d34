// Package shprg implements the seed-homomorphic PRG at the heart of OPA's
// client-side masking: a public λ×n matrix A times a private seed vector s,
// rounded down into a smaller modulus p, with the property that summing
// seeds nearly sums outputs.
package shprg

import (
	"fmt"
	"math/big"

	"github.com/opa-proto/opa/internal/field"
	"github.com/opa-proto/opa/internal/prg"
)

// Params fixes the SHPRG dimensions. DefaultParams are the production
// dimensions; tests use smaller synthetic dimensions to keep the λ×n
// matrix-vector product tractable.
type Params struct {
	Lambda int    // output dimension
	N      int    // seed dimension
	P      uint64 // rounding modulus, a power of two
}

// DefaultParams are the production parameters.
var DefaultParams = Params{Lambda: 4096, N: 3072, P: 1 << 92}

func (p Params) validate() error {
	if p.Lambda <= 0 || p.N <= 0 {
		return fmt.Errorf("shprg: lambda and n must be positive, got lambda=%d n=%d", p.Lambda, p.N)
	}
	if p.P == 0 {
		return fmt.Errorf("shprg: p must be non-zero")
	}
	return nil
}

// SHPRG is one instance of (A, s): a public matrix and a private seed.
type SHPRG struct {
	params Params
	a      [][]field.Element // Lambda rows of N field elements each
	s      []field.Element   // N-element seed
}

// Fresh samples a new instance with both a fresh public matrix and a fresh
// seed, drawn from the system CSPRNG.
func Fresh(params Params) (*SHPRG, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	matrixPRG, err := prg.Fresh()
	if err != nil {
		return nil, fmt.Errorf("shprg: sampling public matrix: %w", err)
	}
	seedPRG, err := prg.Fresh()
	if err != nil {
		return nil, fmt.Errorf("shprg: sampling seed: %w", err)
	}
	return &SHPRG{
		params: params,
		a:      expandMatrix(params, matrixPRG),
		s:      randomSeed(params, seedPRG),
	}, nil
}

// FromPublicSeed derives A deterministically from publicSeed (so that every
// party computing FromPublicSeed with the same seed agrees on A) and samples
// a fresh private seed.
func FromPublicSeed(params Params, publicSeed [32]byte) (*SHPRG, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	matrixPRG, err := prg.FromSeed(publicSeed)
	if err != nil {
		return nil, fmt.Errorf("shprg: deriving public matrix: %w", err)
	}
	seedPRG, err := prg.Fresh()
	if err != nil {
		return nil, fmt.Errorf("shprg: sampling seed: %w", err)
	}
	return &SHPRG{
		params: params,
		a:      expandMatrix(params, matrixPRG),
		s:      randomSeed(params, seedPRG),
	}, nil
}

// FromBoth derives A deterministically from publicSeed and uses the supplied
// seed verbatim, the constructor the server uses to re-expand a
// Shamir-reconstructed aggregate seed.
func FromBoth(params Params, publicSeed [32]byte, seed []field.Element) (*SHPRG, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if len(seed) != params.N {
		return nil, fmt.Errorf("shprg: seed has length %d, want %d", len(seed), params.N)
	}
	matrixPRG, err := prg.FromSeed(publicSeed)
	if err != nil {
		return nil, fmt.Errorf("shprg: deriving public matrix: %w", err)
	}
	return &SHPRG{
		params: params,
		a:      expandMatrix(params, matrixPRG),
		s:      seed,
	}, nil
}

// Seed returns the instance's private seed vector.
func (g *SHPRG) Seed() []field.Element { return g.s }

// Params returns the dimensions this instance was built with.
func (g *SHPRG) Params() Params { return g.params }

// expandMatrix derives the λ×n public matrix row-major, element-by-element,
// from the given stream, so any two parties seeding the same stream agree
// on the same matrix.
func expandMatrix(params Params, source *prg.PRG) [][]field.Element {
	a := make([][]field.Element, params.Lambda)
	for i := range a {
		a[i] = make([]field.Element, params.N)
		source.FillField(a[i])
	}
	return a
}

func randomSeed(params Params, source *prg.PRG) []field.Element {
	s := make([]field.Element, params.N)
	source.FillField(s)
	return s
}

// Expand computes r_i = round_p(<A_i, s>) for each of the λ rows of A. The
// rounding makes this almost-homomorphic: expanding two seeds and summing
// the outputs differs from expanding the summed seeds by at most 1 per
// coordinate.
func (g *SHPRG) Expand() []field.Element {
	out := make([]field.Element, g.params.Lambda)
	for i, row := range g.a {
		acc := field.Zero()
		for j, aij := range row {
			acc = acc.Add(aij.Mul(g.s[j]))
		}
		out[i] = roundP(acc, g.params.P)
	}
	return out
}

// roundP maps the canonical representative of x in [0, q) to
// floor(x * p / q), interpreted back as a field element, using exact
// arbitrary-precision arithmetic throughout to avoid any intermediate
// overflow.
func roundP(x field.Element, p uint64) field.Element {
	product := new(big.Int).Mul(x.Big(), new(big.Int).SetUint64(p))
	y := new(big.Int).Div(product, field.Q)
	return field.FromBigInt(y)
}
