// Package rng provides uniform random sources for gameplay systems that
// need per-shot randomness, such as spray-cone perturbation.
package rng

import (
	"crypto/rand"
	"encoding/binary"
)

// Source produces uniformly distributed random values.
type Source interface {
	// Float64 returns a uniform random float64 in [0, 1).
	Float64() float64
}

// cryptoSource implements Source using crypto/rand.
//
// Invariant: all values are uniformly distributed in [0, 1).
type cryptoSource struct{}

// NewCryptoSource returns a Source backed by crypto/rand.
func NewCryptoSource() Source {
	return &cryptoSource{}
}

// Float64 returns a cryptographically secure uniform float64 in [0, 1).
//
// Panics with "rng: crypto/rand failure: <err>" if crypto/rand fails.
func (c *cryptoSource) Float64() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("rng: crypto/rand failure: " + err.Error())
	}
	// 53 bits of mantissa give every representable value equal weight.
	return float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53)
}
