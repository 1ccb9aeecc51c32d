package compute

import "github.com/san-kum/multiblob/internal/dynamo"

// minRowsPerWorker keeps small systems on one goroutine.
const minRowsPerWorker = 16

// CPUBackend splits kernels over dynamo.Workers goroutines. Each goroutine
// owns a contiguous range of output rows and sums every source blob into
// them, so the result does not depend on the number of workers.
type CPUBackend struct{}

func NewCPUBackend() *CPUBackend { return &CPUBackend{} }

func (c *CPUBackend) Name() string    { return "cpu" }
func (c *CPUBackend) Available() bool { return true }

func (c *CPUBackend) MobilityProduct(k *Kernel, pos, src, dst []float64, rotation bool) {
	n := len(pos) / 3
	shifts := k.Shifts()
	tOff := 3 * n

	dynamo.ParallelFor(n, minRowsPerWorker, func(start, end int) {
		for i := start; i < end; i++ {
			ri := pos[3*i : 3*i+3]
			ui := dst[3*i : 3*i+3]
			clear(ui)
			var wi []float64
			if rotation {
				wi = dst[tOff+3*i : tOff+3*i+3]
				clear(wi)
			}
			for j := 0; j < n; j++ {
				rj := pos[3*j : 3*j+3]
				same := i == j
				fj := src[3*j : 3*j+3]

				uf := k.UF(ri, rj, same, shifts)
				uf.MulAdd(ui, fj)
				if !rotation {
					continue
				}
				tj := src[tOff+3*j : tOff+3*j+3]

				ut := k.UT(ri, rj, same, shifts)
				ut.MulAdd(ui, tj)

				// Angular velocity of i per force on j is UT(j,i)ᵀ.
				wf := k.UT(rj, ri, same, shifts)
				wf.MulAddT(wi, fj)

				wt := k.WT(ri, rj, same, shifts)
				wt.MulAdd(wi, tj)
			}
		}
	})
}

func (c *CPUBackend) BlobForces(p *Repulsion, pos, dst []float64) {
	n := len(pos) / 3
	clear(dst[:3*n])
	if !p.active() || n < 2 {
		return
	}
	cells := NewCellList(pos, p.Cutoff, p.Periodic)

	dynamo.ParallelFor(n, minRowsPerWorker, func(start, end int) {
		var d [3]float64
		for i := start; i < end; i++ {
			cells.Neighbors(i, pos, func(j int) {
				d[0] = pos[3*i] - pos[3*j]
				d[1] = pos[3*i+1] - pos[3*j+1]
				d[2] = pos[3*i+2] - pos[3*j+2]
				MinImage(d[:], p.Periodic)
				fx, fy, fz := p.PairForce(d[:])
				dst[3*i] += fx
				dst[3*i+1] += fy
				dst[3*i+2] += fz
			})
		}
	})
}
