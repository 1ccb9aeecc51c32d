package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/multiblob/internal/dynamo"
)

// LinearFunc writes A·src to dst.
type LinearFunc func(dst, src []float64)

// GMRES is restarted GMRES with right preconditioning: it solves
// A P⁻¹ u = b and returns x = P⁻¹ u, so the residual it monitors is the
// true residual of A x = b.
type GMRES struct {
	Tol     float64
	MaxIter int
	Restart int
}

// Solve overwrites x, using its contents as the initial guess. It returns
// the total number of inner iterations and the final relative residual.
func (g *GMRES) Solve(a, precond LinearFunc, b, x []float64) (int, float64, error) {
	n := len(b)
	if len(x) != n {
		return 0, 0, fmt.Errorf("%w: gmres x has %d entries, b has %d", dynamo.ErrDimensionMismatch, len(x), n)
	}
	if precond == nil {
		precond = func(dst, src []float64) { copy(dst, src) }
	}

	bNorm := floats.Norm(b, 2)
	if bNorm == 0 {
		clear(x)
		return 0, 0, nil
	}

	m := g.Restart
	if m <= 0 || m > n {
		m = n
	}

	basis := make([][]float64, m+1)
	for i := range basis {
		basis[i] = make([]float64, n)
	}
	h := make([][]float64, m+1)
	for i := range h {
		h[i] = make([]float64, m)
	}
	cs := make([]float64, m)
	sn := make([]float64, m)
	s := make([]float64, m+1)
	y := make([]float64, m)
	r := make([]float64, n)
	z := make([]float64, n)
	w := make([]float64, n)

	iters := 0
	resid := math.Inf(1)
	for iters < g.MaxIter {
		a(r, x)
		floats.SubTo(r, b, r)
		beta := floats.Norm(r, 2)
		resid = beta / bNorm
		if resid <= g.Tol {
			return iters, resid, nil
		}

		floats.ScaleTo(basis[0], 1/beta, r)
		clear(s)
		s[0] = beta

		k := 0
		for k < m && iters < g.MaxIter {
			iters++
			precond(z, basis[k])
			a(w, z)

			for i := 0; i <= k; i++ {
				h[i][k] = floats.Dot(w, basis[i])
				floats.AddScaled(w, -h[i][k], basis[i])
			}
			h[k+1][k] = floats.Norm(w, 2)

			for i := 0; i < k; i++ {
				h[i][k], h[i+1][k] = cs[i]*h[i][k]+sn[i]*h[i+1][k], -sn[i]*h[i][k]+cs[i]*h[i+1][k]
			}
			cs[k], sn[k] = givens(h[k][k], h[k+1][k])
			hk1 := h[k+1][k]
			h[k][k] = cs[k]*h[k][k] + sn[k]*hk1
			h[k+1][k] = 0
			s[k+1] = -sn[k] * s[k]
			s[k] *= cs[k]

			resid = math.Abs(s[k+1]) / bNorm
			k++
			if resid <= g.Tol || hk1 == 0 {
				break
			}
			floats.ScaleTo(basis[k], 1/hk1, w)
		}

		// Back substitution on the k×k triangle, then x += P⁻¹ V y.
		for i := k - 1; i >= 0; i-- {
			y[i] = s[i]
			for j := i + 1; j < k; j++ {
				y[i] -= h[i][j] * y[j]
			}
			y[i] /= h[i][i]
		}
		clear(w)
		for i := 0; i < k; i++ {
			floats.AddScaled(w, y[i], basis[i])
		}
		precond(z, w)
		floats.Add(x, z)
	}

	a(r, x)
	floats.SubTo(r, b, r)
	resid = floats.Norm(r, 2) / bNorm
	if resid <= g.Tol {
		return iters, resid, nil
	}
	return iters, resid, fmt.Errorf("%w: %d iterations, relative residual %.3e",
		dynamo.ErrNotConverged, iters, resid)
}

func givens(a, b float64) (float64, float64) {
	if b == 0 {
		return 1, 0
	}
	r := math.Hypot(a, b)
	return a / r, b / r
}
