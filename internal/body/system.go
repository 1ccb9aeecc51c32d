package body

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/multiblob/internal/dynamo"
)

// Velocity is the rigid velocity of one body.
type Velocity struct {
	U     mgl64.Vec3
	Omega mgl64.Vec3
}

// System is the ordered collection of bodies in a run. Blob vectors list
// blobs body by body; in rotational mode the 3N torque (or angular velocity)
// entries follow the 3N force (or velocity) entries. Body vectors hold 6
// entries for a free body and 3 for a constrained one.
type System struct {
	Bodies []*Body

	blobStart []int
	dofStart  []int
	numBlobs  int
	numDOF    int
}

func NewSystem(bodies []*Body) *System {
	s := &System{Bodies: bodies}
	s.index()
	return s
}

func (s *System) index() {
	s.blobStart = make([]int, len(s.Bodies)+1)
	s.dofStart = make([]int, len(s.Bodies)+1)
	for k, b := range s.Bodies {
		s.blobStart[k+1] = s.blobStart[k] + b.NumBlobs()
		s.dofStart[k+1] = s.dofStart[k] + b.DOF()
	}
	s.numBlobs = s.blobStart[len(s.Bodies)]
	s.numDOF = s.dofStart[len(s.Bodies)]
}

func (s *System) NumBodies() int { return len(s.Bodies) }
func (s *System) NumBlobs() int  { return s.numBlobs }
func (s *System) NumDOF() int    { return s.numDOF }

// BlobRange returns the half-open global blob index range of body k.
func (s *System) BlobRange(k int) (int, int) { return s.blobStart[k], s.blobStart[k+1] }

// DOFRange returns the half-open range of body k in a body vector.
func (s *System) DOFRange(k int) (int, int) { return s.dofStart[k], s.dofStart[k+1] }

// BlobDim is the length of a blob vector.
func (s *System) BlobDim(rotation bool) int {
	if rotation {
		return 6 * s.numBlobs
	}
	return 3 * s.numBlobs
}

// BlobPositions returns the flattened world positions of all blobs.
func (s *System) BlobPositions() []float64 {
	pos := make([]float64, 0, 3*s.numBlobs)
	for _, b := range s.Bodies {
		pos = b.BlobPositions(pos)
	}
	return pos
}

// Clone deep-copies the body configurations.
func (s *System) Clone() *System {
	bodies := make([]*Body, len(s.Bodies))
	for i, b := range s.Bodies {
		bodies[i] = b.Clone()
	}
	return NewSystem(bodies)
}

// CopyFrom overwrites positions and orientations with those of o.
func (s *System) CopyFrom(o *System) {
	for i, b := range o.Bodies {
		s.Bodies[i].Position = b.Position
		s.Bodies[i].Orientation = b.Orientation
	}
}

// ApplyK maps body velocities y to blob velocities:
// u_i = U + ω × r_i and, in rotational mode, w_i = ω.
// Constrained bodies contribute only their translation.
func (s *System) ApplyK(dst, y []float64, rotation bool) {
	clear(dst)
	tOff := 3 * s.numBlobs
	for k, b := range s.Bodies {
		d0 := s.dofStart[k]
		u := mgl64.Vec3{y[d0], y[d0+1], y[d0+2]}
		var w mgl64.Vec3
		if b.Free {
			w = mgl64.Vec3{y[d0+3], y[d0+4], y[d0+5]}
		}
		for i := 0; i < b.NumBlobs(); i++ {
			g := s.blobStart[k] + i
			v := u.Add(w.Cross(b.BlobOffset(i)))
			dst[3*g], dst[3*g+1], dst[3*g+2] = v[0], v[1], v[2]
			if rotation {
				dst[tOff+3*g], dst[tOff+3*g+1], dst[tOff+3*g+2] = w[0], w[1], w[2]
			}
		}
	}
}

// ApplyKT maps blob forces (and torques in rotational mode) to the body
// loads conjugate to ApplyK: F = Σ f_i, T = Σ r_i × f_i + t_i.
func (s *System) ApplyKT(dst, lambda []float64, rotation bool) {
	clear(dst)
	tOff := 3 * s.numBlobs
	for k, b := range s.Bodies {
		var f, t mgl64.Vec3
		for i := 0; i < b.NumBlobs(); i++ {
			g := s.blobStart[k] + i
			fi := mgl64.Vec3{lambda[3*g], lambda[3*g+1], lambda[3*g+2]}
			f = f.Add(fi)
			if b.Free {
				t = t.Add(b.BlobOffset(i).Cross(fi))
				if rotation {
					t = t.Add(mgl64.Vec3{lambda[tOff+3*g], lambda[tOff+3*g+1], lambda[tOff+3*g+2]})
				}
			}
		}
		d0 := s.dofStart[k]
		dst[d0], dst[d0+1], dst[d0+2] = f[0], f[1], f[2]
		if b.Free {
			dst[d0+3], dst[d0+4], dst[d0+5] = t[0], t[1], t[2]
		}
	}
}

// PrescribedVelocity writes the blob velocities that do not depend on the
// unknowns: the rotation of constrained bodies and any surface slip.
func (s *System) PrescribedVelocity(dst []float64, rotation bool) {
	clear(dst)
	tOff := 3 * s.numBlobs
	for k, b := range s.Bodies {
		for i := 0; i < b.NumBlobs(); i++ {
			g := s.blobStart[k] + i
			var v mgl64.Vec3
			if !b.Free {
				v = b.Omega.Cross(b.BlobOffset(i))
				if rotation {
					dst[tOff+3*g], dst[tOff+3*g+1], dst[tOff+3*g+2] = b.Omega[0], b.Omega[1], b.Omega[2]
				}
			}
			if b.Slip != nil {
				v = v.Add(b.Orientation.Rotate(b.Slip[i]))
			}
			dst[3*g], dst[3*g+1], dst[3*g+2] = v[0], v[1], v[2]
		}
	}
}

// Velocities unpacks a body vector, filling the prescribed angular velocity
// of constrained bodies.
func (s *System) Velocities(y []float64) []Velocity {
	out := make([]Velocity, len(s.Bodies))
	for k, b := range s.Bodies {
		d0 := s.dofStart[k]
		out[k].U = mgl64.Vec3{y[d0], y[d0+1], y[d0+2]}
		if b.Free {
			out[k].Omega = mgl64.Vec3{y[d0+3], y[d0+4], y[d0+5]}
		} else {
			out[k].Omega = b.Omega
		}
	}
	return out
}

// Displace moves every body by the body vector y scaled per component:
// translations by transScale and free rotations by rotScale. Constrained
// bodies keep their orientation.
func (s *System) Displace(y []float64, transScale, rotScale float64) {
	for k, b := range s.Bodies {
		d0 := s.dofStart[k]
		dx := mgl64.Vec3{y[d0], y[d0+1], y[d0+2]}.Mul(transScale)
		var dtheta mgl64.Vec3
		if b.Free {
			dtheta = mgl64.Vec3{y[d0+3], y[d0+4], y[d0+5]}.Mul(rotScale)
		}
		b.Move(dx, dtheta)
	}
}

// Advance integrates rigid velocities over dt.
func (s *System) Advance(vel []Velocity, dt float64) {
	for k, b := range s.Bodies {
		b.Move(vel[k].U.Mul(dt), vel[k].Omega.Mul(dt))
	}
}

// CheckWall returns ErrInvalidState when a blob centre lies below the wall
// or a coordinate is not finite.
func (s *System) CheckWall() error {
	pos := s.BlobPositions()
	if !dynamo.IsFinite(pos) {
		return fmt.Errorf("%w: non-finite blob position", dynamo.ErrInvalidState)
	}
	for i := 0; i < s.numBlobs; i++ {
		if pos[3*i+2] < 0 {
			return fmt.Errorf("%w: blob %d below wall (z=%g)", dynamo.ErrInvalidState, i, pos[3*i+2])
		}
	}
	return nil
}

func (s *System) Validate() error {
	if len(s.Bodies) == 0 {
		return fmt.Errorf("%w: no bodies", dynamo.ErrStructure)
	}
	for _, b := range s.Bodies {
		if err := b.Validate(); err != nil {
			return err
		}
	}
	return nil
}
