// Package automation runs batches of experiments: scripted scenarios and
// one-parameter sweeps over a base configuration.
package automation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/multiblob/internal/config"
	"github.com/san-kum/multiblob/internal/experiment"
	"github.com/san-kum/multiblob/internal/sim"
	"github.com/san-kum/multiblob/internal/storage"
)

// Scenario is a scripted sequence of runs sharing one base configuration.
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Base        string         `yaml:"base"`
	Steps       []ScenarioStep `yaml:"steps"`
}

// ScenarioStep overrides configuration keys of the base for one run.
type ScenarioStep struct {
	Set    map[string]any `yaml:"set"`
	SaveAs string         `yaml:"save_as"`
}

// LoadScenario reads a scenario file. A relative base path is taken from
// the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, err
	}
	if scenario.Base == "" {
		return nil, fmt.Errorf("scenario %s: no base config", path)
	}
	if !filepath.IsAbs(scenario.Base) {
		scenario.Base = filepath.Join(filepath.Dir(path), scenario.Base)
	}
	return &scenario, nil
}

// Override returns a copy of cfg with the given keys replaced. Keys are the
// YAML names of the configuration.
func Override(cfg *config.Config, set map[string]any) (*config.Config, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for k, v := range set {
		if _, ok := fields[k]; !ok {
			return nil, fmt.Errorf("unknown config key %q", k)
		}
		fields[k] = v
	}
	if data, err = yaml.Marshal(fields); err != nil {
		return nil, err
	}

	out := config.DefaultConfig()
	if err := yaml.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("override: %w", err)
	}
	return out, nil
}

// Outcome is the result of one run of a batch.
type Outcome struct {
	Name   string
	Value  float64
	Result *sim.Result
}

func runOne(ctx context.Context, cfg *config.Config, st *storage.Store, logger *zap.Logger) (*sim.Result, error) {
	exp := experiment.New(cfg, st, logger.With(zap.String("run", cfg.OutputName)))
	if err := exp.Setup(); err != nil {
		return nil, err
	}
	return exp.Run(ctx)
}

// RunScenario executes all steps in order and stops at the first failure.
func RunScenario(ctx context.Context, scenario *Scenario, st *storage.Store, logger *zap.Logger) ([]Outcome, error) {
	base, err := config.Load(scenario.Base)
	if err != nil {
		return nil, err
	}

	results := make([]Outcome, 0, len(scenario.Steps))
	for i, step := range scenario.Steps {
		cfg, err := Override(base, step.Set)
		if err != nil {
			return results, fmt.Errorf("step %d: %w", i+1, err)
		}
		cfg.OutputName = step.SaveAs
		if cfg.OutputName == "" {
			cfg.OutputName = fmt.Sprintf("%s_%d", scenario.Name, i+1)
		}

		logger.Info("scenario step", zap.String("scenario", scenario.Name), zap.Int("step", i+1), zap.Int("of", len(scenario.Steps)))
		res, err := runOne(ctx, cfg, st, logger)
		if err != nil {
			return results, fmt.Errorf("step %d: %w", i+1, err)
		}
		results = append(results, Outcome{Name: cfg.OutputName, Result: res})
	}
	return results, nil
}

// ParameterSweep varies one numeric configuration key over an evenly spaced
// range.
type ParameterSweep struct {
	Param    string
	Min      float64
	Max      float64
	NumSteps int
}

func (s *ParameterSweep) Values() []float64 {
	if s.NumSteps <= 1 {
		return []float64{s.Min}
	}
	step := (s.Max - s.Min) / float64(s.NumSteps-1)
	out := make([]float64, s.NumSteps)
	for i := range out {
		out[i] = s.Min + float64(i)*step
	}
	return out
}

// RunSweep runs the base configuration once per value, naming each run
// "<output_name>_<param>_<value>".
func RunSweep(ctx context.Context, base *config.Config, sweep *ParameterSweep, st *storage.Store, logger *zap.Logger) ([]Outcome, error) {
	values := sweep.Values()
	results := make([]Outcome, 0, len(values))

	for i, v := range values {
		cfg, err := Override(base, map[string]any{sweep.Param: v})
		if err != nil {
			return results, err
		}
		cfg.OutputName = fmt.Sprintf("%s_%s_%s", base.OutputName, sweep.Param, strconv.FormatFloat(v, 'g', 6, 64))

		logger.Info("sweep", zap.String("param", sweep.Param), zap.Float64("value", v), zap.Int("index", i+1), zap.Int("of", len(values)))
		res, err := runOne(ctx, cfg, st, logger)
		if err != nil {
			return results, fmt.Errorf("%s=%g: %w", sweep.Param, v, err)
		}
		results = append(results, Outcome{Name: cfg.OutputName, Value: v, Result: res})
	}
	return results, nil
}
