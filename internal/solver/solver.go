// Package solver computes rigid body velocities from loads by solving the
// mobility problem with rigidity constraints:
//
//	M λ − K Y = s
//	   −Kᵀ λ  = −F
//
// λ are the blob constraint forces, Y the body velocities, s the prescribed
// blob velocities and F the body loads.
package solver

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/multiblob/internal/body"
	"github.com/san-kum/multiblob/internal/dynamo"
	"github.com/san-kum/multiblob/internal/mobility"
)

type Config struct {
	Tol     float64
	MaxIter int
	Restart int
	// UpdateEvery is the preconditioner rebuild interval in steps; 0 and 1
	// rebuild on every step.
	UpdateEvery int
}

// RHS is one right-hand side of the constrained problem.
type RHS struct {
	// Slip is a blob vector; nil means zero.
	Slip []float64
	// Force is the body load vector; nil means zero.
	Force []float64
}

type Result struct {
	// Y holds the solved body DOFs.
	Y          []float64
	Velocities []body.Velocity
	Lambda     []float64
	Iterations int
	Residual   float64
}

type Solver struct {
	cfg    Config
	gmres  GMRES
	logger *zap.Logger

	pc      *Preconditioner
	pcStep  int
	pcDim   int
	rebuilt int
}

func New(cfg Config, logger *zap.Logger) (*Solver, error) {
	if cfg.Tol <= 0 || cfg.MaxIter <= 0 {
		return nil, fmt.Errorf("%w: solver tolerance %g, max iterations %d",
			dynamo.ErrInvalidConfig, cfg.Tol, cfg.MaxIter)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Solver{
		cfg:    cfg,
		gmres:  GMRES{Tol: cfg.Tol, MaxIter: cfg.MaxIter, Restart: cfg.Restart},
		logger: logger,
	}, nil
}

// Rebuilds reports how many times the preconditioner has been factored.
func (s *Solver) Rebuilds() int { return s.rebuilt }

// Prepare refreshes the preconditioner for step when the rebuild interval
// has elapsed. Later solves in the same step reuse it.
func (s *Solver) Prepare(sys *body.System, op mobility.Operator, step int) error {
	stale := s.pc == nil || s.pcDim != op.Dim()
	if !stale && step != s.pcStep {
		stale = s.cfg.UpdateEvery <= 1 || step-s.pcStep >= s.cfg.UpdateEvery
	}
	if !stale {
		return nil
	}

	start := time.Now()
	pc, err := NewPreconditioner(sys, op)
	if err != nil {
		return fmt.Errorf("preconditioner: %w", err)
	}
	s.pc, s.pcStep, s.pcDim = pc, step, op.Dim()
	s.rebuilt++
	s.logger.Debug("preconditioner rebuilt",
		zap.Int("step", step),
		zap.Int("lu_fallbacks", pc.LUFallbacks()),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Solve returns the body velocities for one right-hand side at the
// configuration op was built for.
func (s *Solver) Solve(sys *body.System, op mobility.Operator, rhs RHS, step int) (*Result, error) {
	rotation := op.Rotation()
	blobDim := sys.BlobDim(rotation)
	numDOF := sys.NumDOF()
	if op.Dim() != blobDim {
		return nil, fmt.Errorf("%w: operator dim %d, system blob dim %d", dynamo.ErrDimensionMismatch, op.Dim(), blobDim)
	}
	if err := s.Prepare(sys, op, step); err != nil {
		return nil, err
	}

	b := make([]float64, blobDim+numDOF)
	if rhs.Slip != nil {
		copy(b[:blobDim], rhs.Slip)
	}
	if rhs.Force != nil {
		floats.ScaleTo(b[blobDim:], -1, rhs.Force)
		removeNullLoads(sys, b[blobDim:], rotation)
	}

	ky := make([]float64, blobDim)
	apply := func(dst, src []float64) {
		op.MulVec(dst[:blobDim], src[:blobDim])
		sys.ApplyK(ky, src[blobDim:], rotation)
		floats.Sub(dst[:blobDim], ky)
		sys.ApplyKT(dst[blobDim:], src[:blobDim], rotation)
		floats.Scale(-1, dst[blobDim:])
	}

	x := make([]float64, blobDim+numDOF)
	iters, resid, err := s.gmres.Solve(apply, s.pc.Apply, b, x)
	s.logger.Debug("gmres",
		zap.Int("step", step),
		zap.Int("iterations", iters),
		zap.Float64("residual", resid))
	if err != nil {
		return nil, fmt.Errorf("constrained mobility solve: %w", err)
	}

	y := x[blobDim:]
	return &Result{
		Y:          y,
		Velocities: sys.Velocities(y),
		Lambda:     x[:blobDim],
		Iterations: iters,
		Residual:   resid,
	}, nil
}

const nullRcond = 1e-12

// removeNullLoads projects out of a body vector the components along rigid
// motions that move no blob, such as the spin of a single blob or of a rod
// about its axis in translational mode. No blob force can balance them.
func removeNullLoads(sys *body.System, f []float64, rotation bool) {
	if rotation {
		return
	}
	for k, b := range sys.Bodies {
		if !b.Free {
			continue
		}
		v := rigidNullSpace(b, rotation)
		if v == nil {
			continue
		}
		lo, hi := sys.DOFRange(k)
		seg := mat.NewVecDense(hi-lo, f[lo:hi])
		var c, p mat.VecDense
		c.MulVec(v.T(), seg)
		p.MulVec(v, &c)
		seg.SubVec(seg, &p)
	}
}

// rigidNullSpace returns an orthonormal basis of the body DOFs K maps to
// zero, or nil when K has full column rank.
func rigidNullSpace(b *body.Body, rotation bool) *mat.Dense {
	k := rigidCoupling(b, rotation)
	_, dof := k.Dims()

	var ktk mat.SymDense
	ktk.SymOuterK(1, k.T())
	var eig mat.EigenSym
	if !eig.Factorize(&ktk, true) {
		return nil
	}
	values := eig.Values(nil)
	tol := nullRcond * values[len(values)-1]

	var cols []int
	for j, l := range values {
		if l <= tol {
			cols = append(cols, j)
		}
	}
	if len(cols) == 0 {
		return nil
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	out := mat.NewDense(dof, len(cols), nil)
	for c, j := range cols {
		for i := 0; i < dof; i++ {
			out.Set(i, c, vecs.At(i, j))
		}
	}
	return out
}
