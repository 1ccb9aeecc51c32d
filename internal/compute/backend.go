package compute

import (
	"fmt"

	"github.com/san-kum/multiblob/internal/dynamo"
)

// Backend evaluates the pair-summed kernels of a step. Implementations
// overwrite dst and never retain their arguments.
type Backend interface {
	Name() string
	Available() bool

	// MobilityProduct computes dst = M·src for blobs at pos. In rotational
	// mode src holds 3N forces followed by 3N torques and dst receives the
	// matching velocities and angular velocities.
	MobilityProduct(k *Kernel, pos, src, dst []float64, rotation bool)

	// BlobForces writes the pairwise repulsion on every blob.
	BlobForces(p *Repulsion, pos, dst []float64)
}

// Names lists the backends Select understands.
func Names() []string {
	return []string{"serial", "cpu", "cuda"}
}

// Select returns the named backend or ErrBackendUnavailable when it cannot
// run on this host.
func Select(name string) (Backend, error) {
	var b Backend
	switch name {
	case "serial":
		b = NewSerialBackend()
	case "cpu", "":
		b = NewCPUBackend()
	case "cuda":
		// GPU kernels are not built into this binary.
		return nil, fmt.Errorf("%w: cuda", dynamo.ErrBackendUnavailable)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", dynamo.ErrInvalidConfig, name)
	}
	if !b.Available() {
		return nil, fmt.Errorf("%w: %s", dynamo.ErrBackendUnavailable, b.Name())
	}
	return b, nil
}
