package latency

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Sampler draws delays from ranges using a seeded PCG stream.
// Fixed ranges never consume randomness, so deterministic profiles stay
// independent of the seed. The generator state can be captured and restored.
type Sampler struct {
	src *rand.PCG
	rng *rand.Rand
}

// NewSampler seeds a sampler.
func NewSampler(seed uint64) *Sampler {
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &Sampler{src: src, rng: rand.New(src)}
}

// Draw returns a delay in [r.Min, r.Max].
func (s *Sampler) Draw(r Range) time.Duration {
	if r.IsFixed() {
		return r.Min
	}
	span := int64(r.Max - r.Min)
	return r.Min + time.Duration(s.rng.Int64N(span+1))
}

// State serializes the generator position.
func (s *Sampler) State() ([]byte, error) {
	return s.src.MarshalBinary()
}

// RestoreSampler rebuilds a sampler at a captured position.
func RestoreSampler(state []byte) (*Sampler, error) {
	src := &rand.PCG{}
	if err := src.UnmarshalBinary(state); err != nil {
		return nil, fmt.Errorf("failed to restore latency sampler: %w", err)
	}
	return &Sampler{src: src, rng: rand.New(src)}, nil
}
