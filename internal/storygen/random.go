package storygen

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"time"
)

// RandomSource supplies the randomness consumed by a single generation call.
// PickIndex must return a value in [0, n) for n > 0. Sources are not safe for
// concurrent use; every generation takes its own.
type RandomSource interface {
	PickIndex(n int) int
}

// RandomSourceFactory builds a fresh source per generation call.
type RandomSourceFactory func() RandomSource

type pcgSource struct {
	rng *rand.Rand
}

// NewSeededSource returns a deterministic source, mainly for tests and the CLI --seed flag.
func NewSeededSource(seed uint64) RandomSource {
	return &pcgSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewRandomSource returns a source seeded from crypto/rand, falling back to the clock.
func NewRandomSource() RandomSource {
	var buf [16]byte
	if _, err := crand.Read(buf[:]); err != nil {
		now := uint64(time.Now().UnixNano())
		binary.LittleEndian.PutUint64(buf[:8], now)
		binary.LittleEndian.PutUint64(buf[8:], now>>7)
	}
	return &pcgSource{rng: rand.New(rand.NewPCG(
		binary.LittleEndian.Uint64(buf[:8]),
		binary.LittleEndian.Uint64(buf[8:]),
	))}
}

func (s *pcgSource) PickIndex(n int) int {
	if n <= 0 {
		return 0
	}
	return s.rng.IntN(n)
}

// pick draws an index and clamps it so a misbehaving source cannot index out of range.
func pick(src RandomSource, n int) int {
	if n <= 0 {
		return 0
	}
	return clamp(src.PickIndex(n), 0, n-1)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
