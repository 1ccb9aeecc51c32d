// Package sim drives an integrator through a run: it owns the step loop,
// the save cadence and the metrics.
package sim

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/san-kum/multiblob/internal/body"
	"github.com/san-kum/multiblob/internal/dynamo"
	"github.com/san-kum/multiblob/internal/integrators"
)

type Simulator struct {
	integrator integrators.Integrator
	saver      Saver
	metrics    []Metric
	observers  []Observer
	logger     *zap.Logger
}

func New(integrator integrators.Integrator, saver Saver, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		integrator: integrator,
		saver:      saver,
		metrics:    make([]Metric, 0),
		observers:  make([]Observer, 0),
		logger:     logger,
	}
}

func (s *Simulator) AddMetric(m Metric)     { s.metrics = append(s.metrics, m) }
func (s *Simulator) AddObserver(o Observer) { s.observers = append(s.observers, o) }

// Run advances sys for cfg.NSteps steps from the clock's current step. The
// starting configuration is saved, then every NSave steps after it. On
// failure the partial result is returned along with the error; a failing
// step leaves sys at the last accepted configuration.
func (s *Simulator) Run(ctx context.Context, sys *body.System, clock *dynamo.Clock, cfg Config) (*Result, error) {
	if err := s.validateConfig(cfg); err != nil {
		return nil, err
	}

	result := &Result{
		LastStep: clock.Step,
		Time:     clock.Time(),
		Metrics:  make(map[string]float64),
	}
	for _, m := range s.metrics {
		m.Reset()
	}
	s.integrator.Reset()

	if err := s.save(clock.Step, sys, nil, result); err != nil {
		return result, err
	}

	start := time.Now()
	var runErr error
	for !clock.Done(cfg.NSteps) {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		res, err := s.integrator.Step(sys, clock)
		if err != nil {
			runErr = err
			break
		}
		clock.Advance()
		result.StepsTaken++
		result.LastStep = clock.Step
		result.Time = clock.Time()
		result.Iterations += res.Iterations

		sample := Sample{Step: clock.Step, Time: clock.Time(), System: sys, Result: res}
		for _, m := range s.metrics {
			m.Observe(sample)
		}
		for _, obs := range s.observers {
			if err := obs.OnStep(sample); err != nil {
				runErr = fmt.Errorf("observer at step %d: %w", clock.Step, err)
				break
			}
		}
		if runErr != nil {
			break
		}

		if clock.Elapsed%cfg.NSave == 0 {
			if err := s.save(clock.Step, sys, res.Velocities, result); err != nil {
				runErr = err
				break
			}
		}

		s.logger.Debug("step",
			zap.Int("step", clock.Step),
			zap.Int("iterations", res.Iterations),
			zap.Int("lanczos", res.Lanczos),
			zap.Int("retries", res.Retries))
	}

	for _, m := range s.metrics {
		result.Metrics[m.Name()] = m.Value()
	}
	s.logger.Info("run finished",
		zap.String("scheme", s.integrator.Name()),
		zap.Int("steps", result.StepsTaken),
		zap.Int("last_step", result.LastStep),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(runErr))
	return result, runErr
}

func (s *Simulator) save(step int, sys *body.System, vel []body.Velocity, result *Result) error {
	if s.saver == nil {
		return nil
	}
	if err := s.saver.Save(step, sys, vel); err != nil {
		return fmt.Errorf("save step %d: %w", step, err)
	}
	result.Saved++
	return nil
}

func (s *Simulator) validateConfig(cfg Config) error {
	if cfg.NSteps < 0 {
		return fmt.Errorf("%w: n_steps must not be negative, got %d", dynamo.ErrInvalidConfig, cfg.NSteps)
	}
	if cfg.NSave <= 0 {
		return fmt.Errorf("%w: n_save must be positive, got %d", dynamo.ErrInvalidConfig, cfg.NSave)
	}
	return nil
}
