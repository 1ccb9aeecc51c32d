// Package body holds rigid body configurations and the rigid coupling
// between body velocities and blob velocities.
package body

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/multiblob/internal/dynamo"
)

// Body is a rigid cluster of blobs. Offsets are expressed in the body frame
// and rotate with Orientation, which is kept at unit norm.
type Body struct {
	ID          int
	Type        string
	Position    mgl64.Vec3
	Orientation mgl64.Quat
	Offsets     []mgl64.Vec3
	Radius      float64

	// Free bodies have 6 DOF. Constrained bodies rotate at Omega and only
	// their translation is solved for.
	Free  bool
	Omega mgl64.Vec3

	// Slip is a prescribed blob velocity in the body frame, nil when absent.
	Slip []mgl64.Vec3
}

func New(id int, typ string, offsets []mgl64.Vec3, radius float64) *Body {
	return &Body{
		ID:          id,
		Type:        typ,
		Orientation: mgl64.QuatIdent(),
		Offsets:     offsets,
		Radius:      radius,
		Free:        true,
	}
}

func (b *Body) NumBlobs() int { return len(b.Offsets) }

// DOF is the number of velocity unknowns the solver carries for b.
func (b *Body) DOF() int {
	if b.Free {
		return 6
	}
	return 3
}

// BlobOffset returns the world-frame offset of blob i from the body centre.
func (b *Body) BlobOffset(i int) mgl64.Vec3 {
	return b.Orientation.Rotate(b.Offsets[i])
}

// BlobPositions appends the world-frame blob centres of b to dst.
func (b *Body) BlobPositions(dst []float64) []float64 {
	for i := range b.Offsets {
		r := b.Position.Add(b.BlobOffset(i))
		dst = append(dst, r[0], r[1], r[2])
	}
	return dst
}

// Clone copies the configuration; offsets and slip are shared since they
// never change after construction.
func (b *Body) Clone() *Body {
	c := *b
	return &c
}

// Move translates b by dx and rotates it by the rotation vector dtheta
// (axis times angle) using the quaternion exponential, then renormalises.
func (b *Body) Move(dx, dtheta mgl64.Vec3) {
	b.Position = b.Position.Add(dx)
	b.Orientation = Rotate(b.Orientation, dtheta)
}

// Rotate returns exp(theta/2) ⊗ q normalised to unit length.
func Rotate(q mgl64.Quat, theta mgl64.Vec3) mgl64.Quat {
	angle := theta.Len()
	if angle == 0 {
		return q.Normalize()
	}
	dq := mgl64.QuatRotate(angle, theta.Mul(1/angle))
	return dq.Mul(q).Normalize()
}

// Validate checks the invariants a body must satisfy before a run starts.
func (b *Body) Validate() error {
	if len(b.Offsets) == 0 {
		return fmt.Errorf("%w: body %d (%s) has no blobs", dynamo.ErrStructure, b.ID, b.Type)
	}
	if b.Radius <= 0 {
		return fmt.Errorf("%w: body %d blob radius %g", dynamo.ErrInvalidConfig, b.ID, b.Radius)
	}
	if n := b.Orientation.Len(); math.Abs(n-1) > 1e-8 {
		return fmt.Errorf("%w: body %d orientation norm %g", dynamo.ErrInvalidState, b.ID, n)
	}
	if b.Slip != nil && len(b.Slip) != len(b.Offsets) {
		return fmt.Errorf("%w: body %d has %d slip vectors for %d blobs",
			dynamo.ErrStructure, b.ID, len(b.Slip), len(b.Offsets))
	}
	return nil
}
