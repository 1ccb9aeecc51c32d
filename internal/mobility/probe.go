package mobility

import (
	"github.com/san-kum/multiblob/internal/compute"
	"github.com/san-kum/multiblob/internal/dynamo"
)

// VelocityAt returns the velocity of a tracer of radius tracer at each
// target point induced by the blob forces. With tracer = 0 this is the fluid
// velocity. Targets below the wall are left at rest.
func VelocityAt(k compute.Kernel, blobs, forces, targets []float64, tracer float64) []float64 {
	n := len(blobs) / 3
	out := make([]float64, len(targets))
	shifts := k.Shifts()

	dynamo.ParallelFor(len(targets)/3, 64, func(start, end int) {
		for t := start; t < end; t++ {
			rt := targets[3*t : 3*t+3]
			if k.Wall && rt[2] <= 0 {
				continue
			}
			for j := 0; j < n; j++ {
				m := k.SourceTarget(rt, blobs[3*j:3*j+3], tracer, shifts)
				m.MulAdd(out[3*t:3*t+3], forces[3*j:3*j+3])
			}
		}
	})
	return out
}
