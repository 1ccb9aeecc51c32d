package integrators

import (
	"github.com/san-kum/multiblob/internal/body"
	"github.com/san-kum/multiblob/internal/dynamo"
)

// AdamsBashforth is the deterministic scheme. Order 1 is forward Euler.
type AdamsBashforth struct {
	name   string
	engine *Engine
	hist   history
}

func NewForwardEuler(e *Engine) *AdamsBashforth {
	return &AdamsBashforth{name: "deterministic_forward_euler", engine: e, hist: history{order: 1}}
}

func NewAdamsBashforth(name string, e *Engine) *AdamsBashforth {
	return &AdamsBashforth{name: name, engine: e, hist: history{order: 2}}
}

func (a *AdamsBashforth) Name() string { return a.name }
func (a *AdamsBashforth) Reset()       { a.hist.reset() }

func (a *AdamsBashforth) Step(sys *body.System, clock *dynamo.Clock) (*StepResult, error) {
	det, _, err := a.engine.Deterministic(sys, clock)
	if err != nil {
		return nil, err
	}

	vel := sys.Velocities(a.hist.extrapolate(det.Y))
	next := sys.Clone()
	next.Advance(vel, clock.Dt)
	if err := next.CheckWall(); err != nil {
		return nil, stepError(clock, "integrator", err)
	}
	sys.CopyFrom(next)
	a.hist.push(det.Y)

	return &StepResult{Velocities: vel, Iterations: det.Iterations}, nil
}
