package integrators

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/multiblob/internal/body"
	"github.com/san-kum/multiblob/internal/dynamo"
	"github.com/san-kum/multiblob/internal/mobility"
	"github.com/san-kum/multiblob/internal/solver"
)

type NoiseParams struct {
	KT      float64
	RFDelta float64

	LanczosTol     float64
	LanczosMaxIter int

	// MaxInvalidRetries bounds how often a step is redrawn after the noise
	// pushed a blob through the wall.
	MaxInvalidRetries int
}

// StochasticAdamsBashforth adds to the Adams-Bashforth deterministic
// velocity a Brownian velocity with covariance 2kT/dt·N and the drift
// kT·∂·N, estimated with one random finite difference per step.
type StochasticAdamsBashforth struct {
	name   string
	engine *Engine
	params NoiseParams
	noise  *dynamo.RandomStream
	hist   history

	w, wBody, slip []float64
}

func NewStochasticAdamsBashforth(name string, e *Engine, p NoiseParams, noise *dynamo.RandomStream) *StochasticAdamsBashforth {
	return &StochasticAdamsBashforth{
		name:   name,
		engine: e,
		params: p,
		noise:  noise,
		hist:   history{order: 2},
	}
}

func (s *StochasticAdamsBashforth) Name() string { return s.name }
func (s *StochasticAdamsBashforth) Reset()       { s.hist.reset() }

func (s *StochasticAdamsBashforth) ensureScratch(blobDim, numDOF int) {
	if len(s.w) != blobDim || len(s.wBody) != numDOF {
		s.w = make([]float64, blobDim)
		s.slip = make([]float64, blobDim)
		s.wBody = make([]float64, numDOF)
	}
}

func (s *StochasticAdamsBashforth) Step(sys *body.System, clock *dynamo.Clock) (*StepResult, error) {
	det, op, err := s.engine.Deterministic(sys, clock)
	if err != nil {
		return nil, err
	}
	res := &StepResult{Iterations: det.Iterations}
	base := s.hist.extrapolate(det.Y)

	var sq mobility.Sqrt
	if s.params.KT > 0 {
		sq, err = mobility.NewSqrt(op, s.params.LanczosTol, s.params.LanczosMaxIter)
		if err != nil {
			return nil, stepError(clock, "noise", err)
		}
	}

	for attempt := 0; ; attempt++ {
		y := append([]float64(nil), base...)
		if s.params.KT > 0 {
			brownian, err := s.brownian(sys, op, sq, clock, res)
			if err != nil {
				return nil, err
			}
			floats.Add(y, brownian)
		}

		vel := sys.Velocities(y)
		next := sys.Clone()
		next.Advance(vel, clock.Dt)
		err := next.CheckWall()
		if err == nil {
			sys.CopyFrom(next)
			s.hist.push(det.Y)
			res.Velocities = vel
			return res, nil
		}
		if !errors.Is(err, dynamo.ErrInvalidState) || s.params.KT == 0 || attempt >= s.params.MaxInvalidRetries {
			return nil, stepError(clock, "integrator", fmt.Errorf("after %d redraws: %w", attempt, err))
		}
		res.Retries++
		s.engine.logger().Warn("invalid configuration, redrawing noise",
			zap.Int("step", clock.Step),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
}

// brownian returns the thermal velocity plus the drift term as a body
// vector. Noise is drawn blob vector first, then the body vector.
func (s *StochasticAdamsBashforth) brownian(sys *body.System, op mobility.Operator, sq mobility.Sqrt,
	clock *dynamo.Clock, res *StepResult) ([]float64, error) {
	p := s.params
	radius := s.engine.Mobility.Kernel().Radius
	s.ensureScratch(op.Dim(), sys.NumDOF())

	s.noise.Normal(s.w)
	s.noise.Normal(s.wBody)

	iters, err := sq.MulVec(s.slip, s.w)
	res.Lanczos += iters
	if err != nil {
		return nil, stepError(clock, "noise", err)
	}
	floats.Scale(math.Sqrt(2*p.KT/clock.Dt), s.slip)

	// Thermal solve at the current configuration with the negative half of
	// the random finite difference load.
	load := scaleBody(sys, s.wBody, -p.KT/(p.RFDelta*radius), -p.KT/p.RFDelta)
	thermal, err := s.engine.Solver.Solve(sys, op, solver.RHS{Slip: s.slip, Force: load}, clock.Step)
	if err != nil {
		return nil, stepError(clock, "solver", err)
	}
	res.Iterations += thermal.Iterations

	displaced := sys.Clone()
	displaced.Displace(s.wBody, p.RFDelta*radius, p.RFDelta)
	opD := s.engine.Mobility.Build(displaced.BlobPositions())
	floats.Scale(-1, load)
	rfd, err := s.engine.Solver.Solve(displaced, opD, solver.RHS{Force: load}, clock.Step)
	if err != nil {
		return nil, stepError(clock, "solver", err)
	}
	res.Iterations += rfd.Iterations

	out := append([]float64(nil), thermal.Y...)
	floats.Add(out, rfd.Y)
	return out, nil
}

// scaleBody returns y with translational entries multiplied by trans and
// free rotational entries by rot.
func scaleBody(sys *body.System, y []float64, trans, rot float64) []float64 {
	out := make([]float64, len(y))
	for k, b := range sys.Bodies {
		d0, _ := sys.DOFRange(k)
		for c := 0; c < 3; c++ {
			out[d0+c] = trans * y[d0+c]
		}
		if b.Free {
			for c := 3; c < 6; c++ {
				out[d0+c] = rot * y[d0+c]
			}
		}
	}
	return out
}
