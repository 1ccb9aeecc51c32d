package metrics

import (
	"github.com/san-kum/multiblob/internal/sim"
)

// Iterations averages a per-step iteration count.
type Iterations struct {
	name    string
	count   func(sim.Sample) int
	sum     int
	max     int
	samples int
	peak    bool
}

func NewGMRESIterations() *Iterations {
	return &Iterations{
		name:  "gmres_iterations_mean",
		count: func(s sim.Sample) int { return s.Result.Iterations },
	}
}

// NewGMRESPeak reports the largest iteration count of any single step.
func NewGMRESPeak() *Iterations {
	return &Iterations{
		name:  "gmres_iterations_max",
		count: func(s sim.Sample) int { return s.Result.Iterations },
		peak:  true,
	}
}

func NewLanczosIterations() *Iterations {
	return &Iterations{
		name:  "lanczos_iterations_mean",
		count: func(s sim.Sample) int { return s.Result.Lanczos },
	}
}

func (m *Iterations) Name() string { return m.name }

func (m *Iterations) Observe(s sim.Sample) {
	if s.Result == nil {
		return
	}
	n := m.count(s)
	m.sum += n
	m.max = max(m.max, n)
	m.samples++
}

func (m *Iterations) Value() float64 {
	if m.peak {
		return float64(m.max)
	}
	if m.samples == 0 {
		return 0
	}
	return float64(m.sum) / float64(m.samples)
}

func (m *Iterations) Reset() {
	m.sum = 0
	m.max = 0
	m.samples = 0
}
