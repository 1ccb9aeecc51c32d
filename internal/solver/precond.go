package solver

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/multiblob/internal/body"
	"github.com/san-kum/multiblob/internal/dynamo"
	"github.com/san-kum/multiblob/internal/mobility"
)

const pinvRcond = 1e-14

// factor solves against one body's self-mobility block.
type factor interface {
	solveVec(dst *mat.VecDense, b mat.Vector) error
	solve(dst *mat.Dense, b mat.Matrix) error
}

type cholFactor struct{ c mat.Cholesky }

func (f *cholFactor) solveVec(dst *mat.VecDense, b mat.Vector) error { return f.c.SolveVecTo(dst, b) }
func (f *cholFactor) solve(dst *mat.Dense, b mat.Matrix) error       { return f.c.SolveTo(dst, b) }

type luFactor struct{ lu mat.LU }

func (f *luFactor) solveVec(dst *mat.VecDense, b mat.Vector) error {
	return f.lu.SolveVecTo(dst, false, b)
}
func (f *luFactor) solve(dst *mat.Dense, b mat.Matrix) error { return f.lu.SolveTo(dst, false, b) }

// bodyBlock is the exact inverse of the saddle system of one body in
// isolation.
type bodyBlock struct {
	blobLo, blobHi int
	dofLo, dofHi   int

	m    factor
	k    *mat.Dense // local blob dim × body DOF
	minK *mat.Dense // M_b⁻¹ K
	n    *mat.Dense // (Kᵀ M_b⁻¹ K)⁻¹
}

// Preconditioner is the block-diagonal approximation of the saddle system
// that ignores hydrodynamic coupling between bodies.
type Preconditioner struct {
	blocks   []bodyBlock
	numBlobs int
	rotation bool
	lu       int
}

// NewPreconditioner factors every body block of op. A block that is not
// positive definite falls back to LU.
func NewPreconditioner(sys *body.System, op mobility.Operator) (*Preconditioner, error) {
	p := &Preconditioner{
		blocks:   make([]bodyBlock, sys.NumBodies()),
		numBlobs: sys.NumBlobs(),
		rotation: op.Rotation(),
	}
	for k, b := range sys.Bodies {
		blk := &p.blocks[k]
		blk.blobLo, blk.blobHi = sys.BlobRange(k)
		blk.dofLo, blk.dofHi = sys.DOFRange(k)

		mb := op.Block(blk.blobLo, blk.blobHi)
		var chol cholFactor
		if chol.c.Factorize(mb) {
			blk.m = &chol
		} else {
			var lu luFactor
			lu.lu.Factorize(mb)
			blk.m = &lu
			p.lu++
		}

		blk.k = rigidCoupling(b, p.rotation)
		rows, dof := blk.k.Dims()
		blk.minK = mat.NewDense(rows, dof, nil)
		if err := blk.m.solve(blk.minK, blk.k); err != nil {
			return nil, fmt.Errorf("body %d: %w: %v", k, dynamo.ErrNotPositiveDefinite, err)
		}

		schur := mat.NewDense(dof, dof, nil)
		schur.Mul(blk.k.T(), blk.minK)
		n, err := pseudoInverse(schur)
		if err != nil {
			return nil, fmt.Errorf("body %d resistance: %w", k, err)
		}
		blk.n = n
	}
	return p, nil
}

// LUFallbacks is the number of bodies whose mobility block needed LU.
func (p *Preconditioner) LUFallbacks() int { return p.lu }

// pseudoInverse inverts a small body resistance matrix. A single blob in
// translational mode has no rotational resistance, so its angular rows are
// dropped instead of failing the factorisation.
func pseudoInverse(a *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, fmt.Errorf("%w: svd failed", dynamo.ErrNotPositiveDefinite)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)

	r, c := a.Dims()
	sigma := mat.NewDense(c, r, nil)
	for i, s := range values {
		if s > pinvRcond*values[0] {
			sigma.Set(i, i, 1/s)
		}
	}
	var tmp, out mat.Dense
	tmp.Mul(&v, sigma)
	out.Mul(&tmp, u.T())
	return &out, nil
}

// rigidCoupling returns K for a single body in its own blob layout.
func rigidCoupling(b *body.Body, rotation bool) *mat.Dense {
	single := body.NewSystem([]*body.Body{b})
	rows := single.BlobDim(rotation)
	dof := b.DOF()
	k := mat.NewDense(rows, dof, nil)
	e := make([]float64, dof)
	col := make([]float64, rows)
	for j := 0; j < dof; j++ {
		clear(e)
		e[j] = 1
		single.ApplyK(col, e, rotation)
		k.SetCol(j, col)
	}
	return k
}

// Apply writes P⁻¹·src to dst. Per body, with src = (a, b):
// U = -N (b + Kᵀ M⁻¹ a) and λ = M⁻¹ (a + K U).
func (p *Preconditioner) Apply(dst, src []float64) {
	blobDim := 3 * p.numBlobs
	if p.rotation {
		blobDim *= 2
	}
	for i := range p.blocks {
		blk := &p.blocks[i]
		rows, dof := blk.k.Dims()

		a := p.gatherVec(src, blk, rows)
		b := src[blobDim+blk.dofLo : blobDim+blk.dofHi]

		t := mat.NewVecDense(dof, nil)
		t.MulVec(blk.minK.T(), a)
		t.AddVec(t, mat.NewVecDense(dof, append([]float64(nil), b...)))
		u := mat.NewVecDense(dof, nil)
		u.MulVec(blk.n, t)
		u.ScaleVec(-1, u)

		rhs := mat.NewVecDense(rows, nil)
		rhs.MulVec(blk.k, u)
		rhs.AddVec(rhs, a)
		lambda := mat.NewVecDense(rows, nil)
		if err := blk.m.solveVec(lambda, rhs); err != nil {
			// Singular block: pass the residual through unpreconditioned.
			lambda.CopyVec(rhs)
		}

		p.scatter(dst, lambda.RawVector().Data, blk)
		copy(dst[blobDim+blk.dofLo:blobDim+blk.dofHi], u.RawVector().Data)
	}
}

func (p *Preconditioner) gatherVec(src []float64, blk *bodyBlock, rows int) *mat.VecDense {
	v := mat.NewVecDense(rows, nil)
	p.gather(v.RawVector().Data, src, blk)
	return v
}

// gather copies a body's entries of a global blob vector into its local
// layout, which keeps translations before rotations.
func (p *Preconditioner) gather(local, global []float64, blk *bodyBlock) {
	m := 3 * (blk.blobHi - blk.blobLo)
	copy(local[:m], global[3*blk.blobLo:3*blk.blobHi])
	if p.rotation {
		off := 3 * p.numBlobs
		copy(local[m:], global[off+3*blk.blobLo:off+3*blk.blobHi])
	}
}

func (p *Preconditioner) scatter(global, local []float64, blk *bodyBlock) {
	m := 3 * (blk.blobHi - blk.blobLo)
	copy(global[3*blk.blobLo:3*blk.blobHi], local[:m])
	if p.rotation {
		off := 3 * p.numBlobs
		copy(global[off+3*blk.blobLo:off+3*blk.blobHi], local[m:])
	}
}
