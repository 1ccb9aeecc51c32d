package compute

// SerialBackend runs every kernel on the calling goroutine, visiting each
// unordered pair once and scattering to both partners.
type SerialBackend struct{}

func NewSerialBackend() *SerialBackend { return &SerialBackend{} }

func (s *SerialBackend) Name() string    { return "serial" }
func (s *SerialBackend) Available() bool { return true }

func (s *SerialBackend) MobilityProduct(k *Kernel, pos, src, dst []float64, rotation bool) {
	n := len(pos) / 3
	clear(dst[:len(src)])
	shifts := k.Shifts()
	tOff := 3 * n

	for i := 0; i < n; i++ {
		ri := pos[3*i : 3*i+3]
		for j := i; j < n; j++ {
			rj := pos[3*j : 3*j+3]
			same := i == j

			uf := k.UF(ri, rj, same, shifts)
			uf.MulAdd(dst[3*i:3*i+3], src[3*j:3*j+3])
			if !same {
				uf.MulAddT(dst[3*j:3*j+3], src[3*i:3*i+3])
			}
			if !rotation {
				continue
			}

			ui, uj := dst[3*i:3*i+3], dst[3*j:3*j+3]
			wi, wj := dst[tOff+3*i:tOff+3*i+3], dst[tOff+3*j:tOff+3*j+3]
			fi, fj := src[3*i:3*i+3], src[3*j:3*j+3]
			ti, tj := src[tOff+3*i:tOff+3*i+3], src[tOff+3*j:tOff+3*j+3]

			// U_i += UT(i,j) T_j and W_j += UT(i,j)ᵀ F_i.
			ut := k.UT(ri, rj, same, shifts)
			ut.MulAdd(ui, tj)
			ut.MulAddT(wj, fi)

			wt := k.WT(ri, rj, same, shifts)
			wt.MulAdd(wi, tj)
			if same {
				continue
			}
			wt.MulAddT(wj, ti)

			utji := k.UT(rj, ri, false, shifts)
			utji.MulAdd(uj, ti)
			utji.MulAddT(wi, fj)
		}
	}
}

func (s *SerialBackend) BlobForces(p *Repulsion, pos, dst []float64) {
	n := len(pos) / 3
	clear(dst[:3*n])
	if !p.active() || n < 2 {
		return
	}
	cells := NewCellList(pos, p.Cutoff, p.Periodic)
	var d [3]float64
	for i := 0; i < n; i++ {
		cells.Neighbors(i, pos, func(j int) {
			if j < i {
				return
			}
			d[0] = pos[3*i] - pos[3*j]
			d[1] = pos[3*i+1] - pos[3*j+1]
			d[2] = pos[3*i+2] - pos[3*j+2]
			MinImage(d[:], p.Periodic)
			fx, fy, fz := p.PairForce(d[:])
			dst[3*i] += fx
			dst[3*i+1] += fy
			dst[3*i+2] += fz
			dst[3*j] -= fx
			dst[3*j+1] -= fy
			dst[3*j+2] -= fz
		})
	}
}
