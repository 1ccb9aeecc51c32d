package mobility

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/multiblob/internal/dynamo"
)

// Sqrt applies a square root B of the mobility, B Bᵀ = M, to a vector of
// independent normal draws.
type Sqrt interface {
	// MulVec writes B·w to dst and returns the number of iterations used.
	MulVec(dst, w []float64) (int, error)
}

// NewSqrt picks the Cholesky factor for a dense operator and the Lanczos
// square root otherwise.
func NewSqrt(op Operator, tol float64, maxIter int) (Sqrt, error) {
	if d, ok := op.(*Dense); ok {
		return NewCholesky(d.Matrix())
	}
	if tol <= 0 || maxIter <= 0 {
		return nil, fmt.Errorf("%w: lanczos tolerance %g, max iterations %d",
			dynamo.ErrInvalidConfig, tol, maxIter)
	}
	return &Lanczos{op: op, tol: tol, maxIter: maxIter}, nil
}

// Cholesky holds the lower factor L of M = L Lᵀ.
type Cholesky struct {
	l mat.TriDense
}

func NewCholesky(m mat.Symmetric) (*Cholesky, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(m); !ok {
		return nil, fmt.Errorf("mobility: cholesky: %w", dynamo.ErrNotPositiveDefinite)
	}
	c := &Cholesky{}
	chol.LTo(&c.l)
	return c, nil
}

func (c *Cholesky) MulVec(dst, w []float64) (int, error) {
	n, _ := c.l.Dims()
	mat.NewVecDense(n, dst).MulVec(&c.l, mat.NewVecDense(n, w))
	return 0, nil
}

// Lanczos approximates M^{1/2}·w in the Krylov space of M and w. The
// iteration stops once two successive estimates differ by less than tol
// relative to the latest one.
type Lanczos struct {
	op      Operator
	tol     float64
	maxIter int
}

func (l *Lanczos) MulVec(dst, w []float64) (int, error) {
	n := len(w)
	clear(dst)
	wNorm := floats.Norm(w, 2)
	if wNorm == 0 {
		return 0, nil
	}

	maxIter := min(l.maxIter, n)
	basis := make([][]float64, 0, maxIter)
	alpha := make([]float64, 0, maxIter)
	beta := make([]float64, 0, maxIter)

	v := append([]float64(nil), w...)
	floats.Scale(1/wNorm, v)
	prev := make([]float64, n)
	cur := make([]float64, n)

	for k := 0; k < maxIter; k++ {
		basis = append(basis, v)
		next := make([]float64, n)
		l.op.MulVec(next, v)
		a := floats.Dot(next, v)
		alpha = append(alpha, a)

		// Full reorthogonalisation against the basis built so far.
		for _, q := range basis {
			floats.AddScaled(next, -floats.Dot(next, q), q)
		}
		b := floats.Norm(next, 2)

		coef, err := sqrtTridiagonal(alpha, beta)
		if err != nil {
			return k + 1, err
		}
		clear(cur)
		for i, q := range basis {
			floats.AddScaled(cur, wNorm*coef[i], q)
		}

		curNorm := floats.Norm(cur, 2)
		exhausted := k+1 == n || b <= 1e-14*math.Max(math.Abs(a), 1e-300)
		if exhausted || (k > 0 && floats.Distance(cur, prev, 2) <= l.tol*curNorm) {
			copy(dst, cur)
			return k + 1, nil
		}

		prev, cur = cur, prev
		beta = append(beta, b)
		floats.Scale(1/b, next)
		v = next
	}

	copy(dst, prev)
	return maxIter, fmt.Errorf("%w: lanczos after %d iterations", dynamo.ErrNotConverged, maxIter)
}

// sqrtTridiagonal returns T^{1/2}·e1 for the symmetric tridiagonal T with
// diagonal alpha and off-diagonal beta.
func sqrtTridiagonal(alpha, beta []float64) ([]float64, error) {
	m := len(alpha)
	t := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		t.SetSym(i, i, alpha[i])
		if i+1 < m {
			t.SetSym(i, i+1, beta[i])
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(t, true); !ok {
		return nil, fmt.Errorf("mobility: lanczos eigendecomposition failed: %w", dynamo.ErrNotPositiveDefinite)
	}
	values := eig.Values(nil)
	var q mat.Dense
	eig.VectorsTo(&q)

	coef := make([]float64, m)
	for j, lambda := range values {
		s := math.Sqrt(math.Max(lambda, 0)) * q.At(0, j)
		for i := 0; i < m; i++ {
			coef[i] += q.At(i, j) * s
		}
	}
	return coef, nil
}
