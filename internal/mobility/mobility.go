// Package mobility builds the blob mobility operator M for a configuration
// and the noise operator M^{1/2} used by the stochastic schemes.
package mobility

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/multiblob/internal/compute"
	"github.com/san-kum/multiblob/internal/dynamo"
)

// Operator is the linear map from blob forces (and torques) to blob
// velocities (and angular velocities) at a fixed configuration.
type Operator interface {
	Dim() int
	NumBlobs() int
	Rotation() bool
	MulVec(dst, src []float64)

	// Block returns the dense self-mobility of blobs [lo, hi) in the same
	// layout as the full operator restricted to those blobs.
	Block(lo, hi int) *mat.SymDense
}

// Builder creates operators for successive configurations with a fixed
// kernel and implementation.
type Builder struct {
	impl     string
	kernel   compute.Kernel
	rotation bool
	backend  compute.Backend
}

// Implementations lists the accepted mobility_vector_prod_implementation
// values.
func Implementations() []string {
	return append([]string{"dense"}, compute.Names()...)
}

func NewBuilder(impl string, k compute.Kernel, rotation bool) (*Builder, error) {
	if k.Eta <= 0 || k.Radius <= 0 {
		return nil, fmt.Errorf("%w: mobility needs eta > 0 and blob radius > 0", dynamo.ErrInvalidConfig)
	}
	b := &Builder{impl: impl, kernel: k, rotation: rotation}
	if impl == "dense" {
		return b, nil
	}
	backend, err := compute.Select(impl)
	if err != nil {
		return nil, fmt.Errorf("mobility: %w", err)
	}
	b.backend = backend
	return b, nil
}

func (b *Builder) Kernel() compute.Kernel { return b.kernel }
func (b *Builder) Rotation() bool         { return b.rotation }
func (b *Builder) Name() string           { return b.impl }

// Build returns the operator for blobs at pos. The positions are copied.
func (b *Builder) Build(pos []float64) Operator {
	p := append([]float64(nil), pos...)
	if b.backend == nil {
		return &Dense{
			kernel:   b.kernel,
			pos:      p,
			rotation: b.rotation,
			m:        assemble(&b.kernel, p, b.rotation),
		}
	}
	return &MatrixFree{kernel: b.kernel, pos: p, rotation: b.rotation, backend: b.backend}
}

// Dense stores M explicitly.
type Dense struct {
	kernel   compute.Kernel
	pos      []float64
	rotation bool
	m        *mat.SymDense
}

func (d *Dense) Dim() int              { return d.m.SymmetricDim() }
func (d *Dense) NumBlobs() int         { return len(d.pos) / 3 }
func (d *Dense) Rotation() bool        { return d.rotation }
func (d *Dense) Matrix() *mat.SymDense { return d.m }

func (d *Dense) MulVec(dst, src []float64) {
	n := d.Dim()
	mat.NewVecDense(n, dst).MulVec(d.m, mat.NewVecDense(n, src))
}

func (d *Dense) Block(lo, hi int) *mat.SymDense {
	return assemble(&d.kernel, d.pos[3*lo:3*hi], d.rotation)
}

// MatrixFree sums pair tensors on every product through a compute backend.
type MatrixFree struct {
	kernel   compute.Kernel
	pos      []float64
	rotation bool
	backend  compute.Backend
}

func (m *MatrixFree) Dim() int {
	if m.rotation {
		return 2 * len(m.pos)
	}
	return len(m.pos)
}

func (m *MatrixFree) NumBlobs() int  { return len(m.pos) / 3 }
func (m *MatrixFree) Rotation() bool { return m.rotation }

func (m *MatrixFree) MulVec(dst, src []float64) {
	m.backend.MobilityProduct(&m.kernel, m.pos, src, dst, m.rotation)
}

func (m *MatrixFree) Block(lo, hi int) *mat.SymDense {
	return assemble(&m.kernel, m.pos[3*lo:3*hi], m.rotation)
}

// assemble builds M for the blobs at pos. Each pair block is computed once
// and mirrored, so the result is exactly symmetric.
func assemble(k *compute.Kernel, pos []float64, rotation bool) *mat.SymDense {
	n := len(pos) / 3
	dim := 3 * n
	if rotation {
		dim = 6 * n
	}
	data := make([]float64, dim*dim)
	shifts := k.Shifts()
	tOff := 3 * n

	set := func(r0, c0 int, t compute.Tensor) {
		for a := 0; a < 3; a++ {
			for b := 0; b < 3; b++ {
				data[(r0+a)*dim+c0+b] = t[3*a+b]
				data[(c0+b)*dim+r0+a] = t[3*a+b]
			}
		}
	}

	for i := 0; i < n; i++ {
		ri := pos[3*i : 3*i+3]
		for j := i; j < n; j++ {
			rj := pos[3*j : 3*j+3]
			same := i == j
			set(3*i, 3*j, k.UF(ri, rj, same, shifts))
			if !rotation {
				continue
			}
			set(3*i, tOff+3*j, k.UT(ri, rj, same, shifts))
			set(3*j, tOff+3*i, k.UT(rj, ri, same, shifts))
			set(tOff+3*i, tOff+3*j, k.WT(ri, rj, same, shifts))
		}
	}
	return mat.NewSymDense(dim, data)
}
