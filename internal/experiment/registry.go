package experiment

import (
	"github.com/san-kum/multiblob/internal/compute"
	"github.com/san-kum/multiblob/internal/config"
	"github.com/san-kum/multiblob/internal/integrators"
	"github.com/san-kum/multiblob/internal/metrics"
	"github.com/san-kum/multiblob/internal/mobility"
	"github.com/san-kum/multiblob/internal/sim"
)

// Registry lists the names a configuration may refer to.
type Registry struct {
	schemes  []string
	mobility []string
	forces   []string
}

func NewRegistry() *Registry {
	return &Registry{
		schemes:  integrators.Schemes(),
		mobility: mobility.Implementations(),
		forces:   compute.Names(),
	}
}

func (r *Registry) ListSchemes() []string  { return r.schemes }
func (r *Registry) ListMobility() []string { return r.mobility }
func (r *Registry) ListForces() []string   { return r.forces }

// Available reports whether a backend name can run on this host.
func (r *Registry) Available(name string) bool {
	if name == "dense" {
		return true
	}
	_, err := compute.Select(name)
	return err == nil
}

// Validate checks cfg against the registered names.
func (r *Registry) Validate(cfg *config.Config) error {
	return cfg.Validate(r.schemes, r.mobility, r.forces)
}

func (r *Registry) DefaultMetrics() []sim.Metric {
	return metrics.Default()
}
