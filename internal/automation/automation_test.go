package automation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/san-kum/multiblob/internal/config"
	"github.com/san-kum/multiblob/internal/storage"
)

const baseYAML = `
scheme: deterministic_forward_euler
mobility_vector_prod_implementation: dense
blob_blob_force_implementation: serial
dt: 0.1
n_steps: 2
n_save: 1
g: 1
output_name: base
structure:
  - vertex: blob.vertex
    clones: blob.clones
`

func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"blob.vertex": "1\n0 0 0\n",
		"blob.clones": "1\n0 0 5 1 0 0 0\n",
		"base.yaml":   baseYAML,
		"scenario.yaml": `
name: settle
base: base.yaml
steps:
  - set: {g: 0.5}
    save_as: light
  - set: {g: 2, n_steps: 3}
`,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestOverride(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.G = 1
	out, err := Override(cfg, map[string]any{"g": 2.5, "kT": 0.1, "periodic_length": []float64{10, 10, 0}})
	require.NoError(t, err)
	assert.Equal(t, 2.5, out.G)
	assert.Equal(t, 0.1, out.KT)
	assert.Equal(t, config.Vec3{10, 10, 0}, out.PeriodicLength)
	assert.Equal(t, 1.0, cfg.G, "base is untouched")

	_, err = Override(cfg, map[string]any{"gravity": 1})
	assert.Error(t, err)
}

func TestSweepValues(t *testing.T) {
	s := &ParameterSweep{Param: "g", Min: 1, Max: 2, NumSteps: 3}
	assert.Equal(t, []float64{1, 1.5, 2}, s.Values())
	s.NumSteps = 1
	assert.Equal(t, []float64{1}, s.Values())
}

func TestRunSweep(t *testing.T) {
	dir := setup(t)
	base, err := config.Load(filepath.Join(dir, "base.yaml"))
	require.NoError(t, err)
	st := storage.New(filepath.Join(dir, "runs"))

	out, err := RunSweep(context.Background(), base, &ParameterSweep{Param: "g", Min: 1, Max: 2, NumSteps: 2}, st, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "base_g_1", out[0].Name)
	assert.Equal(t, "base_g_2", out[1].Name)

	// twice the weight settles twice as far
	a, err := st.LoadClones(out[0].Name, "blob", 2)
	require.NoError(t, err)
	b, err := st.LoadClones(out[1].Name, "blob", 2)
	require.NoError(t, err)
	assert.InDelta(t, 2*(5-a[0].Position[2]), 5-b[0].Position[2], 1e-3)
}

func TestRunScenario(t *testing.T) {
	dir := setup(t)
	sc, err := LoadScenario(filepath.Join(dir, "scenario.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "base.yaml"), sc.Base)

	st := storage.New(filepath.Join(dir, "runs"))
	out, err := RunScenario(context.Background(), sc, st, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "light", out[0].Name)
	assert.Equal(t, "settle_2", out[1].Name)
	assert.Equal(t, 3, out[1].Result.StepsTaken)
}

func TestLoadScenarioNeedsBase(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(p, []byte("name: x\n"), 0644))
	_, err := LoadScenario(p)
	assert.Error(t, err)
}
