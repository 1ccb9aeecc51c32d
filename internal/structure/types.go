package structure

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/multiblob/internal/body"
	"github.com/san-kum/multiblob/internal/dynamo"
)

// Spec names the files of one body type.
type Spec struct {
	Name     string
	Vertex   string
	Clones   string
	Slip     string
	Velocity string
}

// Type is a loaded body type: the shared blob geometry and the initial
// configuration of every body of that type.
type Type struct {
	Name     string
	Offsets  []mgl64.Vec3
	Slip     []mgl64.Vec3
	Velocity *[6]float64
	Clones   []Clone
}

func LoadTypes(specs []Spec) ([]Type, error) {
	types := make([]Type, 0, len(specs))
	for _, s := range specs {
		t := Type{Name: s.Name}
		var err error
		if t.Offsets, err = ReadVertex(s.Vertex); err != nil {
			return nil, err
		}
		if len(t.Offsets) == 0 {
			return nil, fmt.Errorf("%w: %s has no blobs", dynamo.ErrStructure, s.Vertex)
		}
		if t.Clones, err = ReadClones(s.Clones); err != nil {
			return nil, err
		}
		if s.Slip != "" {
			if t.Slip, err = ReadSlip(s.Slip); err != nil {
				return nil, err
			}
			if len(t.Slip) != len(t.Offsets) {
				return nil, fmt.Errorf("%w: %s has %d slip vectors for %d blobs",
					dynamo.ErrStructure, s.Slip, len(t.Slip), len(t.Offsets))
			}
		}
		if s.Velocity != "" {
			v, err := ReadVelocity(s.Velocity)
			if err != nil {
				return nil, err
			}
			t.Velocity = &v
		}
		types = append(types, t)
	}
	return types, nil
}

// Options sets the kinematics shared by every body.
type Options struct {
	BlobRadius float64
	Free       bool
	// Omega is the prescribed angular velocity of constrained bodies.
	Omega mgl64.Vec3
}

// NewSystem instantiates every clone of every type, in type order.
func NewSystem(types []Type, opts Options) *body.System {
	var bodies []*body.Body
	for _, t := range types {
		for _, c := range t.Clones {
			b := body.New(len(bodies), t.Name, t.Offsets, opts.BlobRadius)
			b.Position = c.Position
			b.Orientation = c.Orientation
			b.Free = opts.Free
			if !opts.Free {
				b.Omega = opts.Omega
			}
			b.Slip = t.Slip
			bodies = append(bodies, b)
		}
	}
	return body.NewSystem(bodies)
}
