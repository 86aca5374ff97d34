// Package prg implements the deterministic stream RNG shared by every OPA
// party. Parties that must agree on the same random stream (most notably the
// SHPRG public matrix A, expanded from the server's succinct_seed) rely on
// ChaCha20 being fixed as the underlying construction.
package prg

import (
	"crypto/rand"
	"fmt"
	mathrand "math/rand"

	"golang.org/x/crypto/chacha20"

	"github.com/opa-proto/opa/internal/field"
)

// PRG is a seeded, deterministic byte/field stream.
type PRG struct {
	cipher *chacha20.Cipher
}

// FromSeed builds a deterministic stream: two parties calling FromSeed with
// the same 32-byte seed produce the same stream, and hence the same SHPRG
// public matrix.
func FromSeed(seed [32]byte) (*PRG, error) {
	var nonce [chacha20.NonceSize]byte // the seed itself is single-use; an all-zero nonce is safe here.
	c, err := chacha20.NewUnauthenticatedCipher(seed[:], nonce[:])
	if err != nil {
		return nil, fmt.Errorf("prg: constructing chacha20 stream: %w", err)
	}
	return &PRG{cipher: c}, nil
}

// Fresh builds a non-deterministic PRG seeded from the system CSPRNG, for
// one-off randomness (private SHPRG seeds, Shamir polynomial coefficients,
// encoding noise) that need not be reproduced by any other party.
func Fresh() (*PRG, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("prg: seeding from system entropy: %w", err)
	}
	return FromSeed(seed)
}

// FillBytes XORs the keystream over dst, i.e. writes len(dst) fresh
// pseudorandom bytes.
func (p *PRG) FillBytes(dst []byte) {
	for i := range dst {
		dst[i] = 0
	}
	p.cipher.XORKeyStream(dst, dst)
}

// streamSource adapts the ChaCha20 keystream to math/rand.Source64 so
// big.Int.Rand (and hence field.Uniform) can draw from it.
type streamSource struct {
	prg *PRG
}

func (s *streamSource) Uint64() uint64 {
	var b [8]byte
	s.prg.FillBytes(b[:])
	var x uint64
	for i := 0; i < 8; i++ {
		x = x<<8 | uint64(b[i])
	}
	return x
}

func (s *streamSource) Int63() int64 {
	return int64(s.Uint64() &^ (1 << 63))
}

func (s *streamSource) Seed(int64) {
	// Deliberately a no-op: reseeding a keyed stream from a plain int64
	// would destroy the security property this PRG exists to provide.
	// math/rand.Rand only calls Seed if the caller asks for it explicitly.
}

// Rand exposes the PRG's stream as a *math/rand.Rand, the form the Shamir
// and encoding layers consume for coefficient/noise sampling.
func (p *PRG) Rand() *mathrand.Rand {
	return mathrand.New(&streamSource{prg: p})
}

// FillField draws len(dst) uniformly random field elements from the stream.
func (p *PRG) FillField(dst []field.Element) {
	field.UniformSlice(dst, p.Rand())
}
