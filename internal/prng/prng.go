// Package prng provides the seeded deterministic generator every replay is
// driven by. Its output sequence is part of the engine's wire contract: the
// game client runs the same generator, so any change here invalidates every
// recorded session.
package prng

import (
	"math/bits"
	"unicode/utf16"
)

// Lane multipliers for seed expansion. Each lane of the 128-bit state is an
// independent multiply/rotate hash over the seed.
const (
	laneMul0 uint32 = 0x9E3779B1
	laneMul1 uint32 = 0x85EBCA77
	laneMul2 uint32 = 0xC2B2AE3D
	laneMul3 uint32 = 0x27D4EB2F
)

const twoPow32 = 4294967296.0

// Generator is a xoshiro128** stream. It is not safe for concurrent use;
// every replay owns its own instance.
type Generator struct {
	s     [4]uint32
	calls uint64
}

// New expands seed into a generator state. The seed is hashed as UTF-16 code
// units so that clients hashing JavaScript strings agree on every lane.
func New(seed string) *Generator {
	units := utf16.Encode([]rune(seed))
	n := uint32(len(units))
	return &Generator{s: [4]uint32{
		hashLane(units, laneMul0, n),
		hashLane(units, laneMul1, n),
		hashLane(units, laneMul2, n),
		hashLane(units, laneMul3, n),
	}}
}

func hashLane(units []uint16, mul, n uint32) uint32 {
	h := mul ^ n
	for _, u := range units {
		h ^= uint32(u)
		h *= mul
		h = bits.RotateLeft32(h, 13)
	}
	h ^= n
	h ^= h >> 16
	h *= 0x85EBCA6B
	h ^= h >> 13
	h *= 0xC2B2AE35
	h ^= h >> 16
	if h == 0 {
		// All-zero is a fixed point of the step function.
		h = 1
	}
	return h
}

// Uint32 advances the state and returns the next 32-bit output.
func (g *Generator) Uint32() uint32 {
	g.calls++
	s := &g.s
	result := bits.RotateLeft32(s[1]*5, 7) * 9
	t := s[1] << 9

	s[2] ^= s[0]
	s[3] ^= s[1]
	s[1] ^= s[2]
	s[0] ^= s[3]
	s[2] ^= t
	s[3] = bits.RotateLeft32(s[3], 11)

	return result
}

// Float returns a value in [0, 1).
func (g *Generator) Float() float64 {
	return float64(g.Uint32()) / twoPow32
}

// Range returns an integer in [min, max] by modulo reduction. The reduction is
// biased for spans that are not powers of two; recorded sessions depend on
// that exact mapping. An empty range returns min and still consumes a draw.
func (g *Generator) Range(min, max int) int {
	u := g.Uint32()
	span := int64(max) - int64(min) + 1
	if span <= 0 {
		return min
	}
	return min + int(uint64(u)%uint64(span))
}

// Bool reports whether a uniform draw falls below p.
func (g *Generator) Bool(p float64) bool {
	return g.Float() < p
}

// Coin is Bool(0.5).
func (g *Generator) Coin() bool {
	return g.Bool(0.5)
}

// Calls returns the number of raw draws consumed so far.
func (g *Generator) Calls() uint64 {
	return g.calls
}

// Element picks one item of items. An empty slice yields the zero value and
// false without consuming a draw.
func Element[T any](g *Generator, items []T) (T, bool) {
	if len(items) == 0 {
		var zero T
		return zero, false
	}
	return items[g.Range(0, len(items)-1)], true
}

// Shuffle permutes items in place with Fisher-Yates, drawing one index per
// position from the end.
func Shuffle[T any](g *Generator, items []T) {
	for i := len(items) - 1; i > 0; i-- {
		j := g.Range(0, i)
		items[i], items[j] = items[j], items[i]
	}
}
