package dynamo

import (
	"math"

	"golang.org/x/exp/rand"
)

// Clock counts time steps. Step starts at the configured initial step and
// only moves forward.
type Clock struct {
	Step    int
	Dt      float64
	Elapsed int
	start   int
}

func NewClock(initialStep int, dt float64) *Clock {
	return &Clock{Step: initialStep, Dt: dt, start: initialStep}
}

// Time is the simulated time at the current step.
func (c *Clock) Time() float64 {
	return float64(c.Step) * c.Dt
}

func (c *Clock) Advance() {
	c.Step++
	c.Elapsed++
}

// Done reports whether nSteps steps have been taken since the start.
func (c *Clock) Done(nSteps int) bool {
	return c.Step-c.start >= nSteps
}

// RandomStream produces standard normal draws in a fixed sequential order.
// It is seeded once and never reset, so the same seed and the same number
// of draws always give the same values.
type RandomStream struct {
	rng   *rand.Rand
	seed  uint64
	draws uint64
}

func NewRandomStream(seed uint64) *RandomStream {
	return &RandomStream{rng: rand.New(rand.NewSource(seed)), seed: seed}
}

func (r *RandomStream) Seed() uint64  { return r.seed }
func (r *RandomStream) Draws() uint64 { return r.draws }

// Normal fills dst with independent N(0,1) samples, dst[0] first.
func (r *RandomStream) Normal(dst []float64) {
	for i := range dst {
		dst[i] = r.rng.NormFloat64()
	}
	r.draws += uint64(len(dst))
}

// IsFinite reports whether every entry of v is neither NaN nor Inf.
func IsFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
