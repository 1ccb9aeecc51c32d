// Package integrators advances rigid multiblob systems in time with
// Adams-Bashforth schemes, optionally with Brownian noise and the random
// finite difference drift that keeps fluctuation-dissipation balance.
package integrators

import (
	"go.uber.org/zap"

	"github.com/san-kum/multiblob/internal/body"
	"github.com/san-kum/multiblob/internal/dynamo"
	"github.com/san-kum/multiblob/internal/forces"
	"github.com/san-kum/multiblob/internal/mobility"
	"github.com/san-kum/multiblob/internal/solver"
)

// Integrator moves sys forward by one clock step in place. It does not
// advance the clock.
type Integrator interface {
	Name() string
	Step(sys *body.System, clock *dynamo.Clock) (*StepResult, error)
	// Reset forgets the velocity history, so the next step is first order.
	Reset()
}

type StepResult struct {
	Velocities []body.Velocity
	Iterations int
	Lanczos    int
	Retries    int
}

// Engine evaluates the deterministic velocities of a configuration. All
// schemes share it.
type Engine struct {
	Forces   *forces.Model
	Mobility *mobility.Builder
	Solver   *solver.Solver
	Logger   *zap.Logger
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// Deterministic solves for the body velocities produced by the loads and
// the prescribed blob velocities at the current configuration. It also
// returns the operator so stochastic schemes can reuse it.
func (e *Engine) Deterministic(sys *body.System, clock *dynamo.Clock) (*solver.Result, mobility.Operator, error) {
	st, err := e.Forces.Compute(sys)
	if err != nil {
		return nil, nil, stepError(clock, "forces", err)
	}

	op := e.Mobility.Build(sys.BlobPositions())
	rotation := op.Rotation()

	slip := make([]float64, op.Dim())
	sys.PrescribedVelocity(slip, rotation)
	load := make([]float64, sys.NumDOF())
	st.BodyLoad(sys, rotation, load)

	res, err := e.Solver.Solve(sys, op, solver.RHS{Slip: slip, Force: load}, clock.Step)
	if err != nil {
		return nil, nil, stepError(clock, "solver", err)
	}
	return res, op, nil
}

func stepError(clock *dynamo.Clock, component string, err error) error {
	return &dynamo.StepError{Step: clock.Step, Time: clock.Time(), Component: component, Wrapped: err}
}

// history stores the previous deterministic velocity for the second order
// Adams-Bashforth extrapolation.
type history struct {
	order int
	prev  []float64
}

// extrapolate returns 1.5·y − 0.5·y_prev, or y when there is no usable
// previous step.
func (h *history) extrapolate(y []float64) []float64 {
	out := append([]float64(nil), y...)
	if h.order < 2 || len(h.prev) != len(y) {
		return out
	}
	for i := range out {
		out[i] = 1.5*y[i] - 0.5*h.prev[i]
	}
	return out
}

func (h *history) push(y []float64) {
	h.prev = append(h.prev[:0], y...)
}

func (h *history) reset() { h.prev = h.prev[:0] }
