package compute

import "math"

// overlapEps keeps the direction of fully overlapping blobs finite.
const overlapEps = 1e-12

// Repulsion is the screened blob-blob potential force
// |F| = (Strength/Debye)·exp(-(r-2a)/Debye), constant for r <= 2a.
type Repulsion struct {
	Strength float64
	Debye    float64
	Radius   float64
	Cutoff   float64
	Periodic [3]float64
}

// PairForce returns the force on a blob displaced by d from its partner.
// d must already be reduced to the minimum image.
func (p *Repulsion) PairForce(d []float64) (float64, float64, float64) {
	r2 := d[0]*d[0] + d[1]*d[1] + d[2]*d[2]
	if r2 >= p.Cutoff*p.Cutoff {
		return 0, 0, 0
	}
	r := math.Sqrt(r2)
	mag := p.Strength / p.Debye
	if r > 2*p.Radius {
		mag *= math.Exp(-(r - 2*p.Radius) / p.Debye)
	}
	s := mag / math.Max(r, overlapEps)
	return s * d[0], s * d[1], s * d[2]
}

func (p *Repulsion) active() bool {
	return p.Strength != 0 && p.Debye > 0 && p.Cutoff > 0
}
