package sim

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/multiblob/internal/body"
	"github.com/san-kum/multiblob/internal/dynamo"
	"github.com/san-kum/multiblob/internal/integrators"
)

type testIntegrator struct {
	failAt int
	resets int
}

func (t *testIntegrator) Name() string { return "test" }
func (t *testIntegrator) Reset()       { t.resets++ }

func (t *testIntegrator) Step(sys *body.System, clock *dynamo.Clock) (*integrators.StepResult, error) {
	if t.failAt > 0 && clock.Step == t.failAt {
		return nil, &dynamo.StepError{Step: clock.Step, Component: "integrator", Wrapped: dynamo.ErrInvalidState}
	}
	vel := []body.Velocity{{U: mgl64.Vec3{0, 0, -1}}}
	sys.Advance(vel, clock.Dt)
	return &integrators.StepResult{Velocities: vel, Iterations: 3}, nil
}

type recorder struct {
	steps []int
	vels  int
}

func (r *recorder) Save(step int, sys *body.System, vel []body.Velocity) error {
	r.steps = append(r.steps, step)
	if vel != nil {
		r.vels++
	}
	return nil
}

type countMetric struct{ n int }

func (c *countMetric) Name() string   { return "count" }
func (c *countMetric) Observe(Sample) { c.n++ }
func (c *countMetric) Value() float64 { return float64(c.n) }
func (c *countMetric) Reset()         { c.n = 0 }

func testSystem() *body.System {
	b := body.New(0, "blob", []mgl64.Vec3{{}}, 1)
	b.Position = mgl64.Vec3{0, 0, 10}
	return body.NewSystem([]*body.Body{b})
}

func TestSimulatorRun(t *testing.T) {
	integ := &testIntegrator{}
	rec := &recorder{}
	s := New(integ, rec, nil)
	s.AddMetric(&countMetric{})

	sys := testSystem()
	clock := dynamo.NewClock(10, 0.5)
	result, err := s.Run(context.Background(), sys, clock, Config{NSteps: 5, NSave: 2})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if result.StepsTaken != 5 || result.LastStep != 15 {
		t.Errorf("expected 5 steps ending at 15, got %d ending at %d", result.StepsTaken, result.LastStep)
	}
	if result.Time != 7.5 {
		t.Errorf("expected t=7.5, got %f", result.Time)
	}
	want := []int{10, 12, 14}
	if len(rec.steps) != len(want) {
		t.Fatalf("expected saves %v, got %v", want, rec.steps)
	}
	for i := range want {
		if rec.steps[i] != want[i] {
			t.Errorf("expected saves %v, got %v", want, rec.steps)
		}
	}
	if rec.vels != 2 {
		t.Errorf("expected velocities with 2 saves, got %d", rec.vels)
	}
	if result.Metrics["count"] != 5 {
		t.Errorf("expected 5 observations, got %f", result.Metrics["count"])
	}
	if result.Iterations != 15 {
		t.Errorf("expected 15 iterations, got %d", result.Iterations)
	}
	if integ.resets != 1 {
		t.Errorf("expected history reset before the run")
	}
	if z := sys.Bodies[0].Position[2]; z != 7.5 {
		t.Errorf("expected z=7.5, got %f", z)
	}
}

func TestSimulatorStepError(t *testing.T) {
	s := New(&testIntegrator{failAt: 3}, nil, nil)
	clock := dynamo.NewClock(0, 1)
	result, err := s.Run(context.Background(), testSystem(), clock, Config{NSteps: 10, NSave: 1})

	var se *dynamo.StepError
	if !errors.As(err, &se) || se.Step != 3 {
		t.Fatalf("expected step error at 3, got %v", err)
	}
	if !errors.Is(err, dynamo.ErrInvalidState) {
		t.Errorf("expected wrapped ErrInvalidState")
	}
	if result.StepsTaken != 3 || clock.Step != 3 {
		t.Errorf("expected 3 accepted steps, got %d", result.StepsTaken)
	}
}

func TestSimulatorCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(&testIntegrator{}, nil, nil)
	result, err := s.Run(ctx, testSystem(), dynamo.NewClock(0, 1), Config{NSteps: 10, NSave: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.StepsTaken != 0 {
		t.Errorf("expected no steps, got %d", result.StepsTaken)
	}
}

func TestSimulatorValidate(t *testing.T) {
	s := New(&testIntegrator{}, nil, nil)
	for _, cfg := range []Config{{NSteps: -1, NSave: 1}, {NSteps: 1, NSave: 0}} {
		if _, err := s.Run(context.Background(), testSystem(), dynamo.NewClock(0, 1), cfg); !errors.Is(err, dynamo.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig for %+v, got %v", cfg, err)
		}
	}
}

func TestEnsemble(t *testing.T) {
	var done atomic.Int32
	e := NewEnsemble(4, 2, func(i int) (*Replica, error) {
		return &Replica{
			Simulator: New(&testIntegrator{}, nil, nil),
			System:    testSystem(),
			Clock:     dynamo.NewClock(0, float64(i+1)),
			Config:    Config{NSteps: 2, NSave: 1},
			Done: func(*Result, error) error {
				done.Add(1)
				return nil
			},
		}, nil
	})

	results, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("ensemble failed: %v", err)
	}
	if done.Load() != 4 {
		t.Errorf("expected 4 completions, got %d", done.Load())
	}
	for i, r := range results {
		if r.Time != 2*float64(i+1) {
			t.Errorf("replica %d: expected t=%f, got %f", i, 2*float64(i+1), r.Time)
		}
	}
}

func TestEnsembleFailure(t *testing.T) {
	e := NewEnsemble(3, 0, func(i int) (*Replica, error) {
		if i == 1 {
			return nil, dynamo.ErrStructure
		}
		return &Replica{
			Simulator: New(&testIntegrator{}, nil, nil),
			System:    testSystem(),
			Clock:     dynamo.NewClock(0, 1),
			Config:    Config{NSteps: 1, NSave: 1},
		}, nil
	})
	if _, err := e.Run(context.Background()); !errors.Is(err, dynamo.ErrStructure) {
		t.Errorf("expected ErrStructure, got %v", err)
	}
}
