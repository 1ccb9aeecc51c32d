package experiment

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/multiblob/internal/config"
	"github.com/san-kum/multiblob/internal/dynamo"
	"github.com/san-kum/multiblob/internal/storage"
)

const configYAML = `
scheme: deterministic_adams_bashforth
mobility_vector_prod_implementation: dense
blob_blob_force_implementation: serial
dt: 0.05
n_steps: 6
n_save: 3
eta: 1
blob_radius: 1
g: 1
repulsion_strength: 1
debye_length: 0.5
blob_blob_cutoff_factor: 4
repulsion_strength_wall: 1
debye_length_wall: 0.5
seed: 3
output_name: sed
save_clones: one_file
save_velocities: true
structure:
  - vertex: dimer.vertex
    clones: dimer.clones
`

func fixture(t *testing.T) (*config.Config, *storage.Store) {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"dimer.vertex": "2\n-1.5 0 0\n1.5 0 0\n",
		"dimer.clones": "2\n0 0 4 1 0 0 0\n10 0 5 1 0 0 0\n",
		"run.yaml":     configYAML,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	cfg, err := config.Load(filepath.Join(dir, "run.yaml"))
	require.NoError(t, err)
	return cfg, storage.New(filepath.Join(dir, "runs"))
}

func TestExperimentRun(t *testing.T) {
	cfg, st := fixture(t)
	e := New(cfg, st, nil)
	require.NoError(t, e.Setup())
	assert.Equal(t, 2, e.System().NumBodies())
	assert.Equal(t, "dimer", e.System().Bodies[0].Type)

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, res.StepsTaken)
	assert.Equal(t, 3, res.Saved)

	meta, err := st.Load("sed")
	require.NoError(t, err)
	assert.Equal(t, "completed", meta.Status)
	assert.Equal(t, cfg.Fingerprint(), meta.Fingerprint)
	assert.Equal(t, uint64(3), meta.Seed)
	assert.Equal(t, 6, meta.LastStep)
	require.Len(t, meta.Types, 1)
	assert.Equal(t, 4, meta.Types[0].Blobs)
	assert.Contains(t, meta.Metrics, "mean_blob_height")
	assert.Zero(t, meta.RandomDraws)

	rows, err := st.LoadSteps("sed")
	require.NoError(t, err)
	assert.Len(t, rows, 6)
	assert.Positive(t, rows[0].Iterations)

	last, err := st.LoadClones("sed", "dimer", -1)
	require.NoError(t, err)
	assert.Less(t, last[0].Position[2], 4.0)
	_, err = os.Stat(filepath.Join(st.Dir("sed"), "dimer.velocities"))
	assert.NoError(t, err)
}

func TestExperimentResume(t *testing.T) {
	cfg, st := fixture(t)
	e := New(cfg, st, nil)
	require.NoError(t, e.Setup())
	_, err := e.Run(context.Background())
	require.NoError(t, err)
	want := e.System().Bodies[1].Position

	resumed := *cfg
	resumed.InitialStep = 6
	resumed.NSteps = 3
	r := New(&resumed, st, nil)
	require.NoError(t, r.Setup())
	assert.InDelta(t, want[2], r.System().Bodies[1].Position[2], 1e-12)
	assert.Equal(t, 6, r.Clock().Step)

	_, err = r.Run(context.Background())
	require.NoError(t, err)
	meta, err := st.Load("sed")
	require.NoError(t, err)
	assert.Equal(t, 9, meta.LastStep)
	assert.Equal(t, 6, meta.InitialStep)
}

func TestResumeWithoutOutput(t *testing.T) {
	cfg, st := fixture(t)
	cfg.InitialStep = 10
	err := New(cfg, st, nil).Setup()
	assert.Error(t, err)
}

func TestSetupRejectsInvalidConfig(t *testing.T) {
	cfg, st := fixture(t)
	cfg.Scheme = "leapfrog"
	cfg.Dt = 0
	err := New(cfg, st, nil).Setup()
	assert.True(t, errors.Is(err, dynamo.ErrInvalidConfig))
}

func TestSetupRejectsBlobBelowWall(t *testing.T) {
	cfg, st := fixture(t)
	require.NoError(t, os.WriteFile(cfg.Structures[0].Clones, []byte("1\n0 0 -1 1 0 0 0\n"), 0644))
	err := New(cfg, st, nil).Setup()
	assert.True(t, errors.Is(err, dynamo.ErrInvalidState))
}

func TestUnavailableBackend(t *testing.T) {
	cfg, st := fixture(t)
	cfg.BlobBlobForceImpl = "cuda"
	err := New(cfg, st, nil).Setup()
	assert.True(t, errors.Is(err, dynamo.ErrBackendUnavailable))
}

func TestRunBeforeSetup(t *testing.T) {
	cfg, st := fixture(t)
	_, err := New(cfg, st, nil).Run(context.Background())
	assert.Error(t, err)
}

func TestRunEnsemble(t *testing.T) {
	cfg, st := fixture(t)
	cfg.Scheme = "stochastic_adams_bashforth"
	cfg.KT = 0.01
	cfg.NSteps = 2
	cfg.NSave = 1

	results, err := RunEnsemble(context.Background(), cfg, st, nil, 3, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)

	runs, err := st.List()
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	seeds := map[uint64]bool{}
	for _, r := range runs {
		seeds[r.Seed] = true
		assert.Equal(t, "completed", r.Status)
		// Two steps of 12 blob and 12 body variates each, plus redraws.
		assert.GreaterOrEqual(t, r.RandomDraws, uint64(48))
		assert.Zero(t, r.RandomDraws%24)
	}
	assert.Len(t, seeds, 3)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Contains(t, r.ListSchemes(), "stochastic_adams_bashforth_rollers")
	assert.Contains(t, r.ListMobility(), "dense")
	assert.Equal(t, []string{"serial", "cpu", "cuda"}, r.ListForces())
	assert.True(t, r.Available("dense"))
	assert.True(t, r.Available("cpu"))
	assert.False(t, r.Available("cuda"))
	assert.NotEmpty(t, r.DefaultMetrics())
}

func TestVelocityFieldAtTargets(t *testing.T) {
	cfg, st := fixture(t)
	e := New(cfg, st, nil)
	require.NoError(t, e.Setup())
	_, err := e.Run(context.Background())
	require.NoError(t, err)

	resumed := *cfg
	resumed.InitialStep = 3
	p := New(&resumed, st, nil)
	require.NoError(t, p.Setup())

	u, err := p.Probe([]float64{0, 0, 8, 0, 0, -1, 40, 40, 4})
	require.NoError(t, err)
	require.Len(t, u, 9)
	assert.Negative(t, u[2], "settling bodies drag the fluid down")
	assert.Equal(t, []float64{0, 0, 0}, u[3:6])
	assert.Less(t, math.Abs(u[8]), math.Abs(u[2]))
}
