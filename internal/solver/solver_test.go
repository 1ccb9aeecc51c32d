package solver

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/multiblob/internal/body"
	"github.com/san-kum/multiblob/internal/compute"
	"github.com/san-kum/multiblob/internal/dynamo"
	"github.com/san-kum/multiblob/internal/mobility"
)

func randomMatrix(n int, seed uint64, spd bool) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	a := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, rng.NormFloat64()/float64(n))
		}
		a.Set(i, i, a.At(i, i)+2)
	}
	if spd {
		var s mat.Dense
		s.Mul(a.T(), a)
		return &s
	}
	return a
}

func linear(a mat.Matrix) LinearFunc {
	return func(dst, src []float64) {
		r, _ := a.Dims()
		mat.NewVecDense(r, dst).MulVec(a, mat.NewVecDense(len(src), src))
	}
}

func TestGMRESSolvesDenseSystems(t *testing.T) {
	for _, spd := range []bool{true, false} {
		a := randomMatrix(40, 3, spd)
		b := make([]float64, 40)
		for i := range b {
			b[i] = float64(i%7) - 3
		}

		g := GMRES{Tol: 1e-10, MaxIter: 200, Restart: 15}
		x := make([]float64, 40)
		iters, resid, err := g.Solve(linear(a), nil, b, x)
		require.NoError(t, err)
		assert.Greater(t, iters, 0)
		assert.LessOrEqual(t, resid, 1e-10)

		var want mat.VecDense
		require.NoError(t, want.SolveVec(a, mat.NewVecDense(40, b)))
		assert.InDeltaSlice(t, want.RawVector().Data, x, 1e-8)
	}
}

func TestGMRESZeroRHS(t *testing.T) {
	g := GMRES{Tol: 1e-8, MaxIter: 10}
	x := []float64{1, 2, 3}
	iters, resid, err := g.Solve(linear(randomMatrix(3, 1, true)), nil, make([]float64, 3), x)
	require.NoError(t, err)
	assert.Zero(t, iters)
	assert.Zero(t, resid)
	assert.Equal(t, []float64{0, 0, 0}, x)
}

func TestGMRESNotConverged(t *testing.T) {
	a := randomMatrix(30, 9, false)
	b := make([]float64, 30)
	b[0] = 1
	g := GMRES{Tol: 1e-14, MaxIter: 2, Restart: 2}
	_, resid, err := g.Solve(linear(a), nil, b, make([]float64, 30))
	assert.True(t, errors.Is(err, dynamo.ErrNotConverged))
	assert.Greater(t, resid, 1e-14)
}

func TestGMRESDimensionMismatch(t *testing.T) {
	g := GMRES{Tol: 1e-8, MaxIter: 10}
	_, _, err := g.Solve(linear(randomMatrix(3, 1, true)), nil, make([]float64, 3), make([]float64, 2))
	assert.True(t, errors.Is(err, dynamo.ErrDimensionMismatch))
}

func kernel() compute.Kernel {
	return compute.Kernel{Eta: 1, Radius: 1, Wall: true}
}

func trimer(id int, at mgl64.Vec3) *body.Body {
	b := body.New(id, "trimer", []mgl64.Vec3{{-2.2, 0, 0}, {0, 0, 0}, {2.2, 0.5, 0}}, 1)
	b.Position = at
	return b
}

func newSolver(t *testing.T, every int) *Solver {
	s, err := New(Config{Tol: 1e-10, MaxIter: 300, Restart: 60, UpdateEvery: every}, nil)
	require.NoError(t, err)
	return s
}

func TestSingleBlobRecoversSelfMobility(t *testing.T) {
	sys := body.NewSystem([]*body.Body{trimer(0, mgl64.Vec3{0, 0, 3})})
	sys.Bodies[0].Offsets = []mgl64.Vec3{{0, 0, 0}}
	sys = body.NewSystem(sys.Bodies)

	b, err := mobility.NewBuilder("dense", kernel(), true)
	require.NoError(t, err)
	op := b.Build(sys.BlobPositions())

	load := []float64{0.3, -0.2, -1, 0.1, 0.4, 0.2}
	res, err := newSolver(t, 1).Solve(sys, op, RHS{Force: load}, 0)
	require.NoError(t, err)

	want := make([]float64, 6)
	op.MulVec(want, load)
	assert.InDeltaSlice(t, want, res.Y, 1e-9)
	assert.LessOrEqual(t, res.Iterations, 2, "exact preconditioner for an isolated body")
}

func TestTorqueOnSpinlessModesIsDropped(t *testing.T) {
	b, err := mobility.NewBuilder("dense", kernel(), false)
	require.NoError(t, err)

	sphere := body.New(0, "blob", []mgl64.Vec3{{0, 0, 0}}, 1)
	sphere.Position = mgl64.Vec3{0, 0, 3}
	sys := body.NewSystem([]*body.Body{sphere})
	op := b.Build(sys.BlobPositions())

	res, err := newSolver(t, 1).Solve(sys, op, RHS{Force: []float64{0.3, -0.2, -1, 0.5, -0.4, 2}}, 0)
	require.NoError(t, err)
	want := make([]float64, 3)
	op.MulVec(want, []float64{0.3, -0.2, -1})
	assert.InDeltaSlice(t, want, res.Y[:3], 1e-9)
	assert.InDeltaSlice(t, []float64{0, 0, 0}, res.Y[3:], 1e-10)

	rod := body.New(0, "rod", []mgl64.Vec3{{-1.5, 0, 0}, {1.5, 0, 0}}, 1)
	rod.Position = mgl64.Vec3{0, 0, 4}
	sys = body.NewSystem([]*body.Body{rod})
	op = b.Build(sys.BlobPositions())

	spun, err := newSolver(t, 1).Solve(sys, op, RHS{Force: []float64{0, 0, -1, 3, 0.2, 0}}, 0)
	require.NoError(t, err)
	plain, err := newSolver(t, 1).Solve(sys, op, RHS{Force: []float64{0, 0, -1, 0, 0.2, 0}}, 0)
	require.NoError(t, err)
	assert.InDeltaSlice(t, plain.Y, spun.Y, 1e-9)
	assert.InDelta(t, 0, spun.Y[3], 1e-10)
}

func TestSaddleSolutionSatisfiesConstraints(t *testing.T) {
	roller := trimer(2, mgl64.Vec3{0, 6, 3})
	roller.Free = false
	roller.Omega = mgl64.Vec3{0, 2, 0}
	sys := body.NewSystem([]*body.Body{
		trimer(0, mgl64.Vec3{0, 0, 3}),
		trimer(1, mgl64.Vec3{3, 3, 4}),
		roller,
	})

	for _, rotation := range []bool{false, true} {
		b, err := mobility.NewBuilder("cpu", kernel(), rotation)
		require.NoError(t, err)
		op := b.Build(sys.BlobPositions())

		blobDim := sys.BlobDim(rotation)
		slip := make([]float64, blobDim)
		sys.PrescribedVelocity(slip, rotation)
		force := make([]float64, sys.NumDOF())
		for i := range force {
			force[i] = float64(i%5) - 2
		}

		res, err := newSolver(t, 1).Solve(sys, op, RHS{Slip: slip, Force: force}, 0)
		require.NoError(t, err)

		// M λ − K Y = s
		ml := make([]float64, blobDim)
		ky := make([]float64, blobDim)
		op.MulVec(ml, res.Lambda)
		sys.ApplyK(ky, res.Y, rotation)
		floats.Sub(ml, ky)
		assert.InDeltaSlice(t, slip, ml, 1e-7)

		// Kᵀ λ = F
		ktl := make([]float64, sys.NumDOF())
		sys.ApplyKT(ktl, res.Lambda, rotation)
		assert.InDeltaSlice(t, force, ktl, 1e-7)

		assert.Equal(t, roller.Omega, res.Velocities[2].Omega)
	}
}

func TestZeroLoadGivesRest(t *testing.T) {
	sys := body.NewSystem([]*body.Body{trimer(0, mgl64.Vec3{0, 0, 3}), trimer(1, mgl64.Vec3{0, 5, 3})})
	b, err := mobility.NewBuilder("dense", kernel(), false)
	require.NoError(t, err)
	res, err := newSolver(t, 1).Solve(sys, b.Build(sys.BlobPositions()), RHS{}, 0)
	require.NoError(t, err)
	assert.Zero(t, res.Iterations)
	for _, v := range res.Velocities {
		assert.Equal(t, body.Velocity{}, v)
	}
}

func TestPreconditionerCadence(t *testing.T) {
	sys := body.NewSystem([]*body.Body{trimer(0, mgl64.Vec3{0, 0, 3})})
	b, err := mobility.NewBuilder("dense", kernel(), false)
	require.NoError(t, err)
	op := b.Build(sys.BlobPositions())

	every := newSolver(t, 0)
	sparse := newSolver(t, 3)
	for step := 0; step < 7; step++ {
		require.NoError(t, every.Prepare(sys, op, step))
		require.NoError(t, sparse.Prepare(sys, op, step))
		// Repeated solves within a step reuse the factorisation.
		require.NoError(t, sparse.Prepare(sys, op, step))
	}
	assert.Equal(t, 7, every.Rebuilds())
	assert.Equal(t, 3, sparse.Rebuilds())
}

func TestSolverRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Tol: 0, MaxIter: 10}, nil)
	assert.True(t, errors.Is(err, dynamo.ErrInvalidConfig))
}

func TestSolverNotConverged(t *testing.T) {
	sys := body.NewSystem([]*body.Body{trimer(0, mgl64.Vec3{0, 0, 3}), trimer(1, mgl64.Vec3{0, 4.5, 3})})
	b, err := mobility.NewBuilder("dense", kernel(), false)
	require.NoError(t, err)
	s, err := New(Config{Tol: 1e-14, MaxIter: 1, Restart: 1}, nil)
	require.NoError(t, err)

	force := make([]float64, sys.NumDOF())
	force[2] = -1
	force[6] = 1
	_, err = s.Solve(sys, b.Build(sys.BlobPositions()), RHS{Force: force}, 0)
	assert.True(t, errors.Is(err, dynamo.ErrNotConverged))
}
