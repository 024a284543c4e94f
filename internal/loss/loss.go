// Package loss implements the two independent Bernoulli drop
// processes §4.6 calls for on the data-ingress and ACK-egress paths.
// Each Simulator owns its own RNG so data-ingress and ACK-egress loss
// stay statistically independent of each other, and so tests can seed
// for reproducibility, per the original implementation's seeded-RNG
// CLI flag (SPEC_FULL §12).
package loss

import "math/rand"

// Simulator draws independent Bernoulli trials at a fixed drop
// probability p.
type Simulator struct {
	p   float64
	rng *rand.Rand
}

// New returns a Simulator that drops with probability p, using src as
// its entropy source.
func New(p float64, src rand.Source) *Simulator {
	return &Simulator{p: p, rng: rand.New(src)}
}

// Drop draws one Bernoulli(p) trial and reports whether this frame
// should be dropped.
func (s *Simulator) Drop() bool {
	if s.p <= 0 {
		return false
	}
	if s.p >= 1 {
		return true
	}
	return s.rng.Float64() < s.p
}
