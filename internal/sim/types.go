package sim

import (
	"github.com/san-kum/multiblob/internal/body"
	"github.com/san-kum/multiblob/internal/integrators"
)

// Sample is what metrics and observers see after every accepted step.
type Sample struct {
	Step   int
	Time   float64
	System *body.System
	Result *integrators.StepResult
}

type Metric interface {
	Name() string
	Observe(s Sample)
	Value() float64
	Reset()
}

type Observer interface {
	OnStep(s Sample) error
}

// Saver receives the configuration every n_save steps. vel is nil for the
// initial configuration.
type Saver interface {
	Save(step int, sys *body.System, vel []body.Velocity) error
}

type Config struct {
	NSteps int
	NSave  int
}

type Result struct {
	StepsTaken int
	LastStep   int
	Time       float64
	Saved      int
	Iterations int
	Metrics    map[string]float64
}
