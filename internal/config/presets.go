package config

import "sort"

// Presets are parameter sets for common experiments. They carry no
// structure files; those always come from the run configuration.
var Presets = map[string]func() *Config{
	"sedimentation": func() *Config {
		c := DefaultConfig()
		c.Scheme = "deterministic_adams_bashforth"
		c.G = 1
		c.RepulsionStrengthWall = 1
		c.DebyeLengthWall = 0.1
		c.Dt = 0.01
		c.NSteps = 1000
		c.NSave = 10
		return c
	},
	"microrollers": func() *Config {
		c := DefaultConfig()
		c.Scheme = "stochastic_adams_bashforth_rollers"
		c.FreeKinematics = false
		c.OmegaOneRoller = Vec3{0, 10, 0}
		c.KT = 0.0041419464
		c.Eta = 8.9e-4
		c.BlobRadius = 0.656
		c.G = 0.0254
		c.RepulsionStrength = 0.0165
		c.DebyeLength = 0.0323
		c.RepulsionStrengthWall = 0.0165
		c.DebyeLengthWall = 0.0323
		c.Dt = 0.001
		c.NSteps = 10000
		c.NSave = 100
		c.UpdatePC = 5
		return c
	},
	"boomerang": func() *Config {
		c := DefaultConfig()
		c.Scheme = "stochastic_adams_bashforth"
		c.KT = 0.0041419464
		c.Eta = 8.9e-4
		c.BlobRadius = 0.324557
		c.G = 0.0254
		c.RepulsionStrengthWall = 0.095713728509
		c.DebyeLengthWall = 0.162278
		c.Dt = 0.01
		c.NSteps = 10000
		c.NSave = 10
		return c
	},
	"monolayer": func() *Config {
		c := DefaultConfig()
		c.Scheme = "stochastic_adams_bashforth"
		c.MobilityImpl = "cpu"
		c.KT = 0.0041419464
		c.Eta = 8.9e-4
		c.BlobRadius = 0.656
		c.G = 0.0254
		c.RepulsionStrength = 0.0165
		c.DebyeLength = 0.0323
		c.RepulsionStrengthWall = 0.0165
		c.DebyeLengthWall = 0.0323
		c.PeriodicLength = Vec3{100, 100, 0}
		c.Dt = 0.005
		c.NSteps = 5000
		c.NSave = 50
		c.UpdatePC = 10
		return c
	},
}

// GetPreset returns a fresh copy of the named preset, or nil.
func GetPreset(name string) *Config {
	f, ok := Presets[name]
	if !ok {
		return nil
	}
	return f()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithStructures copies the structure list and output name of run onto a
// preset, so a preset can be combined with the bodies of a run file.
func (c *Config) WithStructures(run *Config) *Config {
	c.Structures = append([]StructureConfig(nil), run.Structures...)
	c.OutputName = run.OutputName
	return c
}
