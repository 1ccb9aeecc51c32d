package integrators

import (
	"fmt"
	"sort"
	"strings"

	"github.com/san-kum/multiblob/internal/dynamo"
)

type factory func(name string, e *Engine, p NoiseParams, noise *dynamo.RandomStream) Integrator

var schemes = map[string]factory{
	"deterministic_forward_euler": func(_ string, e *Engine, _ NoiseParams, _ *dynamo.RandomStream) Integrator {
		return NewForwardEuler(e)
	},
	"deterministic_adams_bashforth":         deterministicAB,
	"deterministic_adams_bashforth_rollers": deterministicAB,
	"stochastic_adams_bashforth":            stochasticAB,
	"stochastic_adams_bashforth_rollers":    stochasticAB,
}

func deterministicAB(name string, e *Engine, _ NoiseParams, _ *dynamo.RandomStream) Integrator {
	return NewAdamsBashforth(name, e)
}

func stochasticAB(name string, e *Engine, p NoiseParams, noise *dynamo.RandomStream) Integrator {
	return NewStochasticAdamsBashforth(name, e, p, noise)
}

// Schemes lists the scheme names New accepts.
func Schemes() []string {
	names := make([]string, 0, len(schemes))
	for name := range schemes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsStochastic reports whether the scheme draws Brownian noise.
func IsStochastic(scheme string) bool { return strings.HasPrefix(scheme, "stochastic_") }

// UsesRotation reports whether the scheme couples blob torques and angular
// velocities into the mobility.
func UsesRotation(scheme string) bool { return strings.HasSuffix(scheme, "_rollers") }

func New(scheme string, e *Engine, p NoiseParams, noise *dynamo.RandomStream) (Integrator, error) {
	f, ok := schemes[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: unknown scheme %q", dynamo.ErrInvalidConfig, scheme)
	}
	if IsStochastic(scheme) {
		if noise == nil {
			return nil, fmt.Errorf("%w: scheme %s needs a random stream", dynamo.ErrInvalidConfig, scheme)
		}
		if p.KT < 0 || (p.KT > 0 && p.RFDelta <= 0) {
			return nil, fmt.Errorf("%w: kT %g, rf_delta %g", dynamo.ErrInvalidConfig, p.KT, p.RFDelta)
		}
	}
	return f(scheme, e, p, noise), nil
}
