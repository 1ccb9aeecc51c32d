// Package experiment turns a configuration into a runnable simulation:
// structures, forces, mobility, solver, integrator, random stream and output.
package experiment

import (
	"context"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/san-kum/multiblob/internal/body"
	"github.com/san-kum/multiblob/internal/compute"
	"github.com/san-kum/multiblob/internal/config"
	"github.com/san-kum/multiblob/internal/dynamo"
	"github.com/san-kum/multiblob/internal/forces"
	"github.com/san-kum/multiblob/internal/integrators"
	"github.com/san-kum/multiblob/internal/metrics"
	"github.com/san-kum/multiblob/internal/mobility"
	"github.com/san-kum/multiblob/internal/sim"
	"github.com/san-kum/multiblob/internal/solver"
	"github.com/san-kum/multiblob/internal/storage"
	"github.com/san-kum/multiblob/internal/structure"
)

type Experiment struct {
	cfg      *config.Config
	store    *storage.Store
	registry *Registry
	logger   *zap.Logger

	types      []structure.Type
	system     *body.System
	clock      *dynamo.Clock
	engine     *integrators.Engine
	integrator integrators.Integrator
	noise      *dynamo.RandomStream
}

func New(cfg *config.Config, store *storage.Store, logger *zap.Logger) *Experiment {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Experiment{
		cfg:      cfg,
		store:    store,
		registry: NewRegistry(),
		logger:   logger,
	}
}

// Setup validates the configuration and builds every component. With
// initial_step > 0 the body configurations come from the saved output of
// the same run instead of the clones files.
func (e *Experiment) Setup() error {
	cfg := e.cfg
	if err := e.registry.Validate(cfg); err != nil {
		return err
	}

	specs := make([]structure.Spec, len(cfg.Structures))
	for i, s := range cfg.Structures {
		specs[i] = structure.Spec{Name: s.Name(), Vertex: s.Vertex, Clones: s.Clones, Slip: s.Slip, Velocity: s.Velocity}
	}
	types, err := structure.LoadTypes(specs)
	if err != nil {
		return err
	}
	if cfg.InitialStep > 0 {
		if err := e.resume(types); err != nil {
			return err
		}
	}
	e.types = types

	e.system = structure.NewSystem(types, structure.Options{
		BlobRadius: cfg.BlobRadius,
		Free:       cfg.FreeKinematics,
		Omega:      mgl64.Vec3(cfg.OmegaOneRoller),
	})
	if err := e.system.Validate(); err != nil {
		return err
	}
	if err := e.system.CheckWall(); err != nil {
		return fmt.Errorf("initial configuration: %w", err)
	}

	e.engine, err = NewEngine(cfg, e.logger)
	if err != nil {
		return err
	}

	e.noise = dynamo.NewRandomStream(cfg.Seed)
	e.integrator, err = integrators.New(cfg.Scheme, e.engine, integrators.NoiseParams{
		KT:                cfg.KT,
		RFDelta:           cfg.RFDelta,
		LanczosTol:        cfg.LanczosTolerance,
		LanczosMaxIter:    cfg.LanczosMaxIterations,
		MaxInvalidRetries: cfg.MaxInvalidRetries,
	}, e.noise)
	if err != nil {
		return err
	}

	e.clock = dynamo.NewClock(cfg.InitialStep, cfg.Dt)

	e.logger.Info("experiment ready",
		zap.String("scheme", cfg.Scheme),
		zap.String("mobility", cfg.MobilityImpl),
		zap.String("forces", cfg.BlobBlobForceImpl),
		zap.Int("bodies", e.system.NumBodies()),
		zap.Int("blobs", e.system.NumBlobs()),
		zap.Int("initial_step", cfg.InitialStep),
		zap.Uint64("seed", cfg.Seed))
	return nil
}

// NewEngine builds the force model, mobility builder and constraint solver
// described by cfg.
func NewEngine(cfg *config.Config, logger *zap.Logger) (*integrators.Engine, error) {
	backend, err := compute.Select(cfg.BlobBlobForceImpl)
	if err != nil {
		return nil, err
	}
	model := forces.NewModel(ForceParams(cfg), backend)

	rotation := integrators.UsesRotation(cfg.Scheme) || cfg.BlobRotation
	builder, err := mobility.NewBuilder(cfg.MobilityImpl, Kernel(cfg), rotation)
	if err != nil {
		return nil, err
	}

	s, err := solver.New(solver.Config{
		Tol:         cfg.SolverTolerance,
		MaxIter:     cfg.SolverMaxIterations,
		Restart:     cfg.GMRESRestart,
		UpdateEvery: cfg.UpdatePC,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &integrators.Engine{Forces: model, Mobility: builder, Solver: s, Logger: logger}, nil
}

func ForceParams(cfg *config.Config) forces.Params {
	return forces.Params{
		BlobRadius:        cfg.BlobRadius,
		G:                 cfg.G,
		RepulsionStrength: cfg.RepulsionStrength,
		DebyeLength:       cfg.DebyeLength,
		CutoffFactor:      cfg.BlobBlobCutoffFactor,
		WallStrength:      cfg.RepulsionStrengthWall,
		WallDebye:         cfg.DebyeLengthWall,
		ExternalForce:     mgl64.Vec3(cfg.ExternalForce),
		ExternalTorque:    mgl64.Vec3(cfg.ExternalTorque),
		Periodic:          cfg.PeriodicLength,
	}
}

func Kernel(cfg *config.Config) compute.Kernel {
	return compute.Kernel{
		Eta:      cfg.Eta,
		Radius:   cfg.BlobRadius,
		Wall:     true,
		Periodic: cfg.PeriodicLength,
		Images:   cfg.PeriodicImages,
	}
}

func (e *Experiment) resume(types []structure.Type) error {
	step := e.cfg.InitialStep
	for i := range types {
		clones, err := e.store.LoadClones(e.cfg.OutputName, types[i].Name, step)
		if err != nil && e.cfg.SaveClones == config.SaveOneFile {
			clones, err = e.store.LoadClones(e.cfg.OutputName, types[i].Name, -1)
		}
		if err != nil {
			return fmt.Errorf("resume from step %d: %w", e.cfg.InitialStep, err)
		}
		if len(clones) != len(types[i].Clones) {
			return fmt.Errorf("%w: resume: %s has %d saved bodies, clones file has %d",
				dynamo.ErrStructure, types[i].Name, len(clones), len(types[i].Clones))
		}
		types[i].Clones = clones
	}
	e.logger.Info("resumed", zap.String("run", e.cfg.OutputName), zap.Int("step", e.cfg.InitialStep))
	return nil
}

func (e *Experiment) System() *body.System { return e.system }
func (e *Experiment) Clock() *dynamo.Clock { return e.clock }

// Probe solves the constrained system at the current configuration and
// returns the velocity its blob forces induce on a tracer of radius
// tracer_radius at each target point.
func (e *Experiment) Probe(targets []float64) ([]float64, error) {
	if e.engine == nil {
		return nil, fmt.Errorf("experiment not setup")
	}
	res, _, err := e.engine.Deterministic(e.system, e.clock)
	if err != nil {
		return nil, err
	}
	blobs := e.system.BlobPositions()
	return mobility.VelocityAt(e.engine.Mobility.Kernel(), blobs, res.Lambda[:len(blobs)], targets, e.cfg.TracerRadius), nil
}

// Metadata describes the run before it starts.
func (e *Experiment) Metadata() storage.RunMetadata {
	meta := storage.RunMetadata{
		Name:        e.cfg.OutputName,
		Fingerprint: e.cfg.Fingerprint(),
		Scheme:      e.cfg.Scheme,
		Mobility:    e.cfg.MobilityImpl,
		Seed:        e.cfg.Seed,
		Dt:          e.cfg.Dt,
		InitialStep: e.cfg.InitialStep,
		NSteps:      e.cfg.NSteps,
		NSave:       e.cfg.NSave,
		SaveMode:    e.cfg.SaveClones,
	}
	for _, t := range e.types {
		meta.Types = append(meta.Types, storage.TypeInfo{
			Name:     t.Name,
			Bodies:   len(t.Clones),
			Blobs:    len(t.Clones) * len(t.Offsets),
			Velocity: t.Velocity,
		})
	}
	return meta
}

// Run simulates n_steps steps, writing the trajectory and metadata.json
// into the run directory. Setup must have succeeded.
func (e *Experiment) Run(ctx context.Context) (*sim.Result, error) {
	if e.integrator == nil {
		return nil, fmt.Errorf("experiment not setup")
	}
	if err := e.store.Init(); err != nil {
		return nil, err
	}

	run, err := e.store.Create(e.Metadata(), e.cfg.SaveVelocities, e.cfg.InitialStep > 0)
	if err != nil {
		return nil, err
	}

	s := sim.New(e.integrator, run, e.logger)
	for _, m := range e.registry.DefaultMetrics() {
		s.AddMetric(m)
	}
	s.AddObserver(stepLog{run: run})

	res, runErr := s.Run(ctx, e.system, e.clock, sim.Config{NSteps: e.cfg.NSteps, NSave: e.cfg.NSave})
	var m map[string]float64
	if res != nil {
		m = res.Metrics
	}
	run.SetRandomDraws(e.noise.Draws())
	if err := run.Close(m, runErr); err != nil && runErr == nil {
		runErr = err
	}
	return res, runErr
}

// RunEnsemble runs n independent replicas of the configuration, replica i
// with seed+i and output name "<output_name>_r<i>". At most parallel
// replicas run at once.
func RunEnsemble(ctx context.Context, cfg *config.Config, store *storage.Store, logger *zap.Logger, n, parallel int) ([]*sim.Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := store.Init(); err != nil {
		return nil, err
	}

	ens := sim.NewEnsemble(n, parallel, func(i int) (*sim.Replica, error) {
		c := *cfg
		c.Seed = cfg.Seed + uint64(i)
		c.OutputName = fmt.Sprintf("%s_r%d", cfg.OutputName, i)

		e := New(&c, store, logger.With(zap.Int("replica", i)))
		if err := e.Setup(); err != nil {
			return nil, err
		}
		run, err := store.Create(e.Metadata(), c.SaveVelocities, c.InitialStep > 0)
		if err != nil {
			return nil, err
		}

		s := sim.New(e.integrator, run, e.logger)
		for _, m := range e.registry.DefaultMetrics() {
			s.AddMetric(m)
		}
		s.AddObserver(stepLog{run: run})
		return &sim.Replica{
			Simulator: s,
			System:    e.system,
			Clock:     e.clock,
			Config:    sim.Config{NSteps: c.NSteps, NSave: c.NSave},
			Done: func(res *sim.Result, err error) error {
				var m map[string]float64
				if res != nil {
					m = res.Metrics
				}
				run.SetRandomDraws(e.noise.Draws())
				return run.Close(m, err)
			},
		}, nil
	})
	return ens.Run(ctx)
}

// stepLog writes the per-step diagnostics of every accepted step.
type stepLog struct {
	run *storage.Run
}

func (l stepLog) OnStep(s sim.Sample) error {
	return l.run.Record(storage.StepRow{
		Step:       s.Step,
		Time:       s.Time,
		Iterations: s.Result.Iterations,
		Lanczos:    s.Result.Lanczos,
		Retries:    s.Result.Retries,
		MeanHeight: metrics.MeanHeight(s.System),
	})
}
