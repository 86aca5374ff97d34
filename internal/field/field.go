// Package field implements arithmetic over F = GF(2^127-1), the prime field
// underlying the SHPRG, Shamir sharing, and input encoding layers of OPA.
//
// Elements are kept in canonical form (a big.Int in [0, q)) rather than a
// hand-rolled Montgomery/limb representation.
package field

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mathrand "math/rand"
)

// Q is the field modulus, 2^127 - 1.
var Q = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))

// Element is a single value in F, always held in canonical form.
type Element struct {
	v *big.Int
}

// Zero is the additive identity.
func Zero() Element { return Element{v: new(big.Int)} }

// One is the multiplicative identity.
func One() Element { return Element{v: big.NewInt(1)} }

// FromUint64 builds an element from a machine-width unsigned integer.
func FromUint64(x uint64) Element {
	return Element{v: new(big.Int).SetUint64(x)}
}

// FromBigInt reduces an arbitrary-precision integer modulo Q.
func FromBigInt(x *big.Int) Element {
	v := new(big.Int).Mod(x, Q)
	return Element{v: v}
}

// FromUint128 reduces a 128-bit value, given as a 16-byte big-endian array,
// modulo Q.
func FromUint128(b [16]byte) Element {
	x := new(big.Int).SetBytes(b[:])
	return FromBigInt(x)
}

// Uint128 returns the canonical representative as a 16-byte big-endian
// array. Since Q < 2^128 this conversion is lossless.
func (e Element) Uint128() [16]byte {
	var out [16]byte
	e.v.FillBytes(out[:])
	return out
}

// Big returns the canonical representative as a *big.Int. The returned value
// must not be mutated by the caller.
func (e Element) Big() *big.Int {
	if e.v == nil {
		return new(big.Int)
	}
	return e.v
}

// Bytes returns a fixed 32-byte big-endian encoding, used by the wire codec.
func (e Element) Bytes() []byte {
	out := make([]byte, 32)
	e.Big().FillBytes(out)
	return out
}

// SetBytes parses a fixed 32-byte big-endian encoding produced by Bytes.
func SetBytes(b []byte) (Element, error) {
	if len(b) != 32 {
		return Element{}, fmt.Errorf("field: encoded element must be 32 bytes, got %d", len(b))
	}
	x := new(big.Int).SetBytes(b)
	if x.Cmp(Q) >= 0 {
		return Element{}, fmt.Errorf("field: encoded value is not a canonical representative")
	}
	return Element{v: x}, nil
}

func (e Element) clone() *big.Int {
	if e.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(e.v)
}

// Add returns e + other mod Q.
func (e Element) Add(other Element) Element {
	v := e.clone()
	v.Add(v, other.Big())
	v.Mod(v, Q)
	return Element{v: v}
}

// Sub returns e - other mod Q.
func (e Element) Sub(other Element) Element {
	v := e.clone()
	v.Sub(v, other.Big())
	v.Mod(v, Q)
	return Element{v: v}
}

// Neg returns -e mod Q.
func (e Element) Neg() Element {
	return Zero().Sub(e)
}

// Mul returns e * other mod Q.
func (e Element) Mul(other Element) Element {
	v := e.clone()
	v.Mul(v, other.Big())
	v.Mod(v, Q)
	return Element{v: v}
}

// Inverse returns the multiplicative inverse of e. It returns false if e is
// zero (which has no inverse).
func (e Element) Inverse() (Element, bool) {
	if e.IsZero() {
		return Element{}, false
	}
	v := new(big.Int).ModInverse(e.Big(), Q)
	if v == nil {
		return Element{}, false
	}
	return Element{v: v}, true
}

// IsZero reports whether e is the additive identity.
func (e Element) IsZero() bool {
	return e.Big().Sign() == 0
}

// Equal reports whether e and other have the same canonical representative.
func (e Element) Equal(other Element) bool {
	return e.Big().Cmp(other.Big()) == 0
}

// String implements fmt.Stringer for debugging and log fields.
func (e Element) String() string {
	return e.Big().String()
}

// Uniform draws a uniformly random element of F using the rejection
// sampling built into big.Int.Rand, fed by rnd. Callers supply a
// *mathrand.Rand backed by a deterministic or cryptographic stream so that
// two parties sampling from the same seed agree on the result.
func Uniform(rnd *mathrand.Rand) Element {
	v := new(big.Int).Rand(rnd, Q)
	return Element{v: v}
}

// UniformSlice fills dst with independently sampled uniform elements.
func UniformSlice(dst []Element, rnd *mathrand.Rand) {
	for i := range dst {
		dst[i] = Uniform(rnd)
	}
}

// CryptoUniform draws a uniformly random element using the system CSPRNG
// directly, for one-off, non-deterministic sampling (e.g. a fresh SHPRG
// seed) where no shared stream is needed.
func CryptoUniform() (Element, error) {
	v, err := rand.Int(rand.Reader, Q)
	if err != nil {
		return Element{}, fmt.Errorf("field: sampling random element: %w", err)
	}
	return Element{v: v}, nil
}
