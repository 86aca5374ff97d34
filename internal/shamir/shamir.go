// Package shamir implements (t, n) Shamir secret sharing and Lagrange
// reconstruction at x=0 over the OPA prime field, with Horner-method
// polynomial evaluation for the sharing side.
package shamir

import (
	"fmt"
	mathrand "math/rand"

	"github.com/opa-proto/opa/internal/field"
)

// Share is one party's (x, y) point on the sharing polynomial.
type Share struct {
	X field.Element
	Y field.Element
}

// Params fixes the sharing configuration for a single secret. Mirrors the
// accessor shape of the original Rust Shamir struct (num_shares/threshold)
// for callers that want to log or re-validate without re-deriving them.
type Params struct {
	NumShares int
	Threshold int
}

func (p Params) validate() error {
	if p.Threshold < 2 {
		return fmt.Errorf("%w: threshold %d < 2", ErrInvalidThreshold, p.Threshold)
	}
	if p.NumShares < p.Threshold {
		return fmt.Errorf("%w: num_shares %d < threshold %d", ErrInvalidNumShares, p.NumShares, p.Threshold)
	}
	return nil
}

// Share splits secret into p.NumShares points on a random degree-(t-1)
// polynomial whose constant term is secret, evaluated at x = 1..NumShares
// via Horner's method.
func Share(secret field.Element, p Params, rng *mathrand.Rand) ([]Share, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	degree := p.Threshold - 1
	coeffs := make([]field.Element, degree+1)
	coeffs[0] = secret
	for i := 1; i <= degree; i++ {
		coeffs[i] = field.Uniform(rng)
	}

	shares := make([]Share, p.NumShares)
	for i := 0; i < p.NumShares; i++ {
		x := field.FromUint64(uint64(i + 1))
		y := field.Zero()
		for c := len(coeffs) - 1; c >= 0; c-- {
			y = y.Mul(x).Add(coeffs[c])
		}
		shares[i] = Share{X: x, Y: y}
	}
	return shares, nil
}

// Reconstruct recovers the secret from at least Threshold shares using
// Lagrange interpolation at x=0. Only the first Threshold shares of the
// input are used; callers are responsible for ensuring those are genuinely
// distinct-x shares (the server does this by selecting by wire-carried
// committee index, not arrival order).
func Reconstruct(shares []Share, threshold int) (field.Element, error) {
	if threshold < 2 {
		return field.Element{}, fmt.Errorf("%w: threshold %d < 2", ErrInvalidThreshold, threshold)
	}
	if len(shares) < threshold {
		return field.Element{}, fmt.Errorf("%w: have %d shares, need %d", ErrInsufficientShares, len(shares), threshold)
	}
	used := shares[:threshold]

	secret := field.Zero()
	for i := range used {
		numerator := field.One()
		denominator := field.One()
		for j := range used {
			if i == j {
				continue
			}
			numerator = numerator.Mul(used[j].X.Neg())
			denominator = denominator.Mul(used[i].X.Sub(used[j].X))
		}
		denomInv, ok := denominator.Inverse()
		if !ok {
			return field.Element{}, fmt.Errorf("%w: non-invertible denominator (duplicate x-coordinates?)", ErrReconstructionFailed)
		}
		li := numerator.Mul(denomInv)
		secret = secret.Add(used[i].Y.Mul(li))
	}
	return secret, nil
}
