package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/multierr"
	"gopkg.in/gcfg.v1"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/multiblob/internal/dynamo"
)

const (
	DefaultScheme          = "deterministic_adams_bashforth"
	DefaultImplementation  = "cpu"
	DefaultDt              = 0.01
	DefaultSteps           = 100
	DefaultSolverTolerance = 1e-8
	DefaultSolverMaxIter   = 1000
	DefaultRestart         = 60
	DefaultCutoffFactor    = 30.0
	DefaultRFDelta         = 1e-3
	DefaultLanczosTol      = 1e-3
	DefaultLanczosMaxIter  = 100
	DefaultInvalidRetries  = 10

	SaveOneFilePerStep = "one_file_per_step"
	SaveOneFile        = "one_file"
)

// Vec3 decodes from a YAML sequence or from a whitespace separated string,
// which is the only form INI files can carry.
type Vec3 [3]float64

func (v *Vec3) UnmarshalText(text []byte) error {
	fields := strings.Fields(strings.NewReplacer(",", " ", "[", " ", "]", " ").Replace(string(text)))
	if len(fields) != 3 {
		return fmt.Errorf("expected 3 numbers, got %q", text)
	}
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return fmt.Errorf("vector component %d: %w", i, err)
		}
		v[i] = x
	}
	return nil
}

func (v *Vec3) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return v.UnmarshalText([]byte(node.Value))
	}
	var a [3]float64
	if err := node.Decode(&a); err != nil {
		return err
	}
	*v = a
	return nil
}

// StructureConfig names the files describing one body type.
type StructureConfig struct {
	Vertex   string `yaml:"vertex" gcfg:"vertex"`
	Clones   string `yaml:"clones" gcfg:"clones"`
	Slip     string `yaml:"slip,omitempty" gcfg:"slip"`
	Velocity string `yaml:"velocity,omitempty" gcfg:"velocity"`
}

// Name is the body type, taken from the clones file name.
func (s StructureConfig) Name() string {
	base := filepath.Base(s.Clones)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

type Config struct {
	Scheme            string `yaml:"scheme" gcfg:"scheme"`
	MobilityImpl      string `yaml:"mobility_vector_prod_implementation" gcfg:"mobility-vector-prod-implementation"`
	BlobBlobForceImpl string `yaml:"blob_blob_force_implementation" gcfg:"blob-blob-force-implementation"`

	Dt          float64 `yaml:"dt" gcfg:"dt"`
	NSteps      int     `yaml:"n_steps" gcfg:"n-steps"`
	NSave       int     `yaml:"n_save" gcfg:"n-save"`
	InitialStep int     `yaml:"initial_step" gcfg:"initial-step"`

	SolverTolerance     float64 `yaml:"solver_tolerance" gcfg:"solver-tolerance"`
	SolverMaxIterations int     `yaml:"solver_max_iterations" gcfg:"solver-max-iterations"`
	GMRESRestart        int     `yaml:"gmres_restart" gcfg:"gmres-restart"`
	UpdatePC            int     `yaml:"update_PC" gcfg:"update-pc"`

	Eta        float64 `yaml:"eta" gcfg:"eta"`
	G          float64 `yaml:"g" gcfg:"g"`
	BlobRadius float64 `yaml:"blob_radius" gcfg:"blob-radius"`
	KT         float64 `yaml:"kT" gcfg:"kt"`

	RepulsionStrength     float64 `yaml:"repulsion_strength" gcfg:"repulsion-strength"`
	DebyeLength           float64 `yaml:"debye_length" gcfg:"debye-length"`
	RepulsionStrengthWall float64 `yaml:"repulsion_strength_wall" gcfg:"repulsion-strength-wall"`
	DebyeLengthWall       float64 `yaml:"debye_length_wall" gcfg:"debye-length-wall"`
	BlobBlobCutoffFactor  float64 `yaml:"blob_blob_cutoff_factor" gcfg:"blob-blob-cutoff-factor"`

	OmegaOneRoller Vec3 `yaml:"omega_one_roller" gcfg:"omega-one-roller"`
	ExternalForce  Vec3 `yaml:"external_force" gcfg:"external-force"`
	ExternalTorque Vec3 `yaml:"external_torque" gcfg:"external-torque"`
	PeriodicLength Vec3 `yaml:"periodic_length" gcfg:"periodic-length"`
	PeriodicImages int  `yaml:"periodic_images" gcfg:"periodic-images"`

	FreeKinematics bool `yaml:"free_kinematics" gcfg:"free-kinematics"`
	BlobRotation   bool `yaml:"blob_rotation" gcfg:"blob-rotation"`

	RFDelta              float64 `yaml:"rf_delta" gcfg:"rf-delta"`
	LanczosTolerance     float64 `yaml:"lanczos_tolerance" gcfg:"lanczos-tolerance"`
	LanczosMaxIterations int     `yaml:"lanczos_max_iterations" gcfg:"lanczos-max-iterations"`
	MaxInvalidRetries    int     `yaml:"max_invalid_retries" gcfg:"max-invalid-retries"`
	Seed                 uint64  `yaml:"seed" gcfg:"seed"`

	OutputName     string  `yaml:"output_name" gcfg:"output-name"`
	SaveClones     string  `yaml:"save_clones" gcfg:"save-clones"`
	SaveVelocities bool    `yaml:"save_velocities" gcfg:"save-velocities"`
	TracerRadius   float64 `yaml:"tracer_radius" gcfg:"tracer-radius"`
	LogLevel       string  `yaml:"log_level" gcfg:"log-level"`

	Structures []StructureConfig `yaml:"structure"`
}

func DefaultConfig() *Config {
	return &Config{
		Scheme:               DefaultScheme,
		MobilityImpl:         DefaultImplementation,
		BlobBlobForceImpl:    DefaultImplementation,
		Dt:                   DefaultDt,
		NSteps:               DefaultSteps,
		NSave:                1,
		SolverTolerance:      DefaultSolverTolerance,
		SolverMaxIterations:  DefaultSolverMaxIter,
		GMRESRestart:         DefaultRestart,
		UpdatePC:             1,
		Eta:                  1,
		BlobRadius:           1,
		DebyeLength:          1,
		DebyeLengthWall:      1,
		BlobBlobCutoffFactor: DefaultCutoffFactor,
		PeriodicImages:       1,
		FreeKinematics:       true,
		RFDelta:              DefaultRFDelta,
		LanczosTolerance:     DefaultLanczosTol,
		LanczosMaxIterations: DefaultLanczosMaxIter,
		MaxInvalidRetries:    DefaultInvalidRetries,
		OutputName:           "run",
		SaveClones:           SaveOneFilePerStep,
		LogLevel:             "info",
	}
}

// iniFile is the gcfg layout: one [simulation] section and one
// [structure "name"] subsection per body type.
type iniFile struct {
	Simulation Config
	Structure  map[string]*StructureConfig
}

// Load reads a YAML file, or an INI file when the extension is .ini or
// .cfg, on top of DefaultConfig. Relative structure paths are resolved
// against the directory of path.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ini", ".cfg":
		ini := iniFile{Simulation: *cfg}
		if err := gcfg.ReadFileInto(&ini, path); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", dynamo.ErrInvalidConfig, path, err)
		}
		*cfg = ini.Simulation
		names := make([]string, 0, len(ini.Structure))
		for name := range ini.Structure {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			cfg.Structures = append(cfg.Structures, *ini.Structure[name])
		}
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", dynamo.ErrInvalidConfig, path, err)
		}
	}

	dir := filepath.Dir(path)
	for i := range cfg.Structures {
		s := &cfg.Structures[i]
		s.Vertex = resolve(dir, s.Vertex)
		s.Clones = resolve(dir, s.Clones)
		s.Slip = resolve(dir, s.Slip)
		s.Velocity = resolve(dir, s.Velocity)
	}
	return cfg, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Fingerprint hashes the YAML encoding of the configuration, so two runs
// with the same parameters share a fingerprint.
func (c *Config) Fingerprint() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Validate reports every out-of-range value, each wrapped in
// dynamo.ErrInvalidConfig.
func (c *Config) Validate(schemes, mobilityImpls, forceImpls []string) error {
	var errs error
	fail := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf("%w: "+format, append([]any{dynamo.ErrInvalidConfig}, args...)...))
	}

	if !contains(schemes, c.Scheme) {
		fail("unknown scheme %q", c.Scheme)
	}
	if !contains(mobilityImpls, c.MobilityImpl) {
		fail("unknown mobility_vector_prod_implementation %q", c.MobilityImpl)
	}
	if !contains(forceImpls, c.BlobBlobForceImpl) {
		fail("unknown blob_blob_force_implementation %q", c.BlobBlobForceImpl)
	}
	if c.Dt <= 0 {
		fail("dt must be positive, got %g", c.Dt)
	}
	if c.NSteps < 0 {
		fail("n_steps must be non-negative, got %d", c.NSteps)
	}
	if c.NSave <= 0 {
		fail("n_save must be positive, got %d", c.NSave)
	}
	if c.InitialStep < 0 {
		fail("initial_step must be non-negative, got %d", c.InitialStep)
	}
	if c.SolverTolerance <= 0 || c.SolverMaxIterations <= 0 {
		fail("solver_tolerance and solver_max_iterations must be positive")
	}
	if c.GMRESRestart < 0 || c.UpdatePC < 0 {
		fail("gmres_restart and update_PC must be non-negative")
	}
	if c.Eta <= 0 {
		fail("eta must be positive, got %g", c.Eta)
	}
	if c.BlobRadius <= 0 {
		fail("blob_radius must be positive, got %g", c.BlobRadius)
	}
	if c.KT < 0 {
		fail("kT must be non-negative, got %g", c.KT)
	}
	if c.DebyeLength <= 0 || c.DebyeLengthWall <= 0 {
		fail("debye lengths must be positive, got %g and %g", c.DebyeLength, c.DebyeLengthWall)
	}
	if c.BlobBlobCutoffFactor < 0 {
		fail("blob_blob_cutoff_factor must be non-negative, got %g", c.BlobBlobCutoffFactor)
	}
	for ax, l := range c.PeriodicLength {
		if l < 0 {
			fail("periodic_length[%d] must be non-negative, got %g", ax, l)
		}
	}
	if c.PeriodicLength[2] != 0 {
		fail("periodic_length[2] must be 0, the wall bounds the z axis, got %g", c.PeriodicLength[2])
	}
	if c.PeriodicImages < 0 {
		fail("periodic_images must be non-negative, got %d", c.PeriodicImages)
	}
	if c.TracerRadius < 0 {
		fail("tracer_radius must be non-negative, got %g", c.TracerRadius)
	}
	if c.KT > 0 && c.RFDelta <= 0 {
		fail("rf_delta must be positive, got %g", c.RFDelta)
	}
	if c.LanczosTolerance <= 0 || c.LanczosMaxIterations <= 0 {
		fail("lanczos_tolerance and lanczos_max_iterations must be positive")
	}
	if c.MaxInvalidRetries < 0 {
		fail("max_invalid_retries must be non-negative, got %d", c.MaxInvalidRetries)
	}
	if c.SaveClones != SaveOneFilePerStep && c.SaveClones != SaveOneFile {
		fail("save_clones must be %s or %s, got %q", SaveOneFilePerStep, SaveOneFile, c.SaveClones)
	}
	if c.OutputName == "" {
		fail("output_name is empty")
	}
	if len(c.Structures) == 0 {
		fail("no structure given")
	}
	seen := make(map[string]bool)
	for i, s := range c.Structures {
		if s.Vertex == "" || s.Clones == "" {
			fail("structure %d needs vertex and clones files", i)
			continue
		}
		for _, p := range []string{s.Vertex, s.Clones, s.Slip, s.Velocity} {
			if p == "" {
				continue
			}
			if _, err := os.Stat(p); err != nil {
				fail("structure %d: %v", i, err)
			}
		}
		if seen[s.Name()] {
			fail("structure type %q given twice", s.Name())
		}
		seen[s.Name()] = true
	}
	return errs
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
