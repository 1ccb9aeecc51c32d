package metrics

import (
	"math"

	"github.com/san-kum/multiblob/internal/sim"
)

// Retries counts the noise redraws caused by invalid configurations.
type Retries struct {
	name  string
	total int
}

func NewRetries() *Retries {
	return &Retries{name: "invalid_retries"}
}

func (r *Retries) Name() string { return r.name }

func (r *Retries) Observe(s sim.Sample) {
	if s.Result != nil {
		r.total += s.Result.Retries
	}
}

func (r *Retries) Value() float64 { return float64(r.total) }
func (r *Retries) Reset()         { r.total = 0 }

// NormDrift is the largest deviation of any orientation quaternion from
// unit length seen during the run.
type NormDrift struct {
	name  string
	worst float64
}

func NewNormDrift() *NormDrift {
	return &NormDrift{name: "quaternion_norm_drift"}
}

func (d *NormDrift) Name() string { return d.name }

func (d *NormDrift) Observe(s sim.Sample) {
	for _, b := range s.System.Bodies {
		d.worst = math.Max(d.worst, math.Abs(b.Orientation.Len()-1))
	}
}

func (d *NormDrift) Value() float64 { return d.worst }
func (d *NormDrift) Reset()         { d.worst = 0 }

// Default returns the diagnostics recorded for every run.
func Default() []sim.Metric {
	return []sim.Metric{
		NewGMRESIterations(),
		NewGMRESPeak(),
		NewLanczosIterations(),
		NewRetries(),
		NewHeight(),
		NewNormDrift(),
	}
}
