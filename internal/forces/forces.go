// Package forces evaluates the loads on blobs and bodies for a fixed
// configuration: blob-blob repulsion, blob-wall repulsion, gravity and a
// uniform external force and torque on bodies.
package forces

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/multiblob/internal/body"
	"github.com/san-kum/multiblob/internal/compute"
	"github.com/san-kum/multiblob/internal/dynamo"
)

type Params struct {
	BlobRadius float64
	// G is the buoyant weight carried by each blob.
	G float64

	RepulsionStrength float64
	DebyeLength       float64
	CutoffFactor      float64

	WallStrength float64
	WallDebye    float64

	ExternalForce  mgl64.Vec3
	ExternalTorque mgl64.Vec3

	Periodic [3]float64
}

// Cutoff is the blob-blob interaction range.
func (p Params) Cutoff() float64 {
	return 2*p.BlobRadius + p.CutoffFactor*p.DebyeLength
}

// State holds the loads of one evaluation. Force and Torque have 3 entries
// per blob in global blob order.
type State struct {
	Force  []float64
	Torque []float64

	BodyForce  []mgl64.Vec3
	BodyTorque []mgl64.Vec3
}

// BodyLoad writes the total load on every body as a body vector: the blob
// loads summed through the rigid coupling plus the external body loads.
func (s *State) BodyLoad(sys *body.System, rotation bool, dst []float64) {
	blob := s.Force
	if rotation {
		blob = append(append(make([]float64, 0, 2*len(s.Force)), s.Force...), s.Torque...)
	}
	sys.ApplyKT(dst, blob, rotation)
	for k, b := range sys.Bodies {
		d0, _ := sys.DOFRange(k)
		for c := 0; c < 3; c++ {
			dst[d0+c] += s.BodyForce[k][c]
		}
		if b.Free {
			for c := 0; c < 3; c++ {
				dst[d0+3+c] += s.BodyTorque[k][c]
			}
		}
	}
}

type Model struct {
	params    Params
	backend   compute.Backend
	repulsion compute.Repulsion
}

func NewModel(p Params, backend compute.Backend) *Model {
	return &Model{
		params:  p,
		backend: backend,
		repulsion: compute.Repulsion{
			Strength: p.RepulsionStrength,
			Debye:    p.DebyeLength,
			Radius:   p.BlobRadius,
			Cutoff:   p.Cutoff(),
			Periodic: p.Periodic,
		},
	}
}

func (m *Model) Params() Params { return m.params }

// Compute evaluates all loads for the current configuration of sys.
func (m *Model) Compute(sys *body.System) (*State, error) {
	pos := sys.BlobPositions()
	if !dynamo.IsFinite(pos) {
		return nil, fmt.Errorf("%w: non-finite blob position", dynamo.ErrInvalidState)
	}

	n := sys.NumBlobs()
	st := &State{
		Force:      make([]float64, 3*n),
		Torque:     make([]float64, 3*n),
		BodyForce:  make([]mgl64.Vec3, sys.NumBodies()),
		BodyTorque: make([]mgl64.Vec3, sys.NumBodies()),
	}

	m.backend.BlobForces(&m.repulsion, pos, st.Force)

	for i := 0; i < n; i++ {
		st.Force[3*i+2] += m.WallForce(pos[3*i+2]) - m.params.G
	}

	for k, b := range sys.Bodies {
		st.BodyForce[k] = m.params.ExternalForce
		if b.Free {
			st.BodyTorque[k] = m.params.ExternalTorque
		}
	}

	if !dynamo.IsFinite(st.Force) {
		return nil, fmt.Errorf("%w: non-finite blob force", dynamo.ErrInvalidState)
	}
	return st, nil
}

// WallForce is the upward force on a blob whose centre is at height h,
// saturating once the blob touches the wall.
func (m *Model) WallForce(h float64) float64 {
	p := m.params
	if p.WallStrength == 0 || p.WallDebye <= 0 {
		return 0
	}
	f := p.WallStrength / p.WallDebye
	if h > p.BlobRadius {
		f *= math.Exp(-(h - p.BlobRadius) / p.WallDebye)
	}
	return f
}
