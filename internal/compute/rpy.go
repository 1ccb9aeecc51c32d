package compute

import "math"

// Tensor is a row-major 3x3 block of the blob mobility.
type Tensor [9]float64

// Transpose returns tᵀ.
func (t Tensor) Transpose() Tensor {
	return Tensor{
		t[0], t[3], t[6],
		t[1], t[4], t[7],
		t[2], t[5], t[8],
	}
}

// MulAdd accumulates t·v into dst.
func (t *Tensor) MulAdd(dst, v []float64) {
	dst[0] += t[0]*v[0] + t[1]*v[1] + t[2]*v[2]
	dst[1] += t[3]*v[0] + t[4]*v[1] + t[5]*v[2]
	dst[2] += t[6]*v[0] + t[7]*v[1] + t[8]*v[2]
}

// MulAddT accumulates tᵀ·v into dst.
func (t *Tensor) MulAddT(dst, v []float64) {
	dst[0] += t[0]*v[0] + t[3]*v[1] + t[6]*v[2]
	dst[1] += t[1]*v[0] + t[4]*v[1] + t[7]*v[2]
	dst[2] += t[2]*v[0] + t[5]*v[1] + t[8]*v[2]
}

// Kernel evaluates Rotne-Prager-Yamakawa pair mobilities for equal blobs,
// optionally corrected for a no-slip wall at z=0 (Swan & Brady 2007) and
// summed over periodic images.
type Kernel struct {
	Eta      float64
	Radius   float64
	Wall     bool
	Periodic [3]float64
	Images   int
}

func (k *Kernel) normUF() float64 { return 1 / (8 * math.Pi * k.Eta * k.Radius) }
func (k *Kernel) normUT() float64 { return 1 / (8 * math.Pi * k.Eta * k.Radius * k.Radius) }
func (k *Kernel) normWT() float64 {
	return 1 / (8 * math.Pi * k.Eta * k.Radius * k.Radius * k.Radius)
}

// Shifts lists the periodic image displacements, the zero shift first.
func (k *Kernel) Shifts() [][3]float64 {
	out := [][3]float64{{0, 0, 0}}
	var ranges [3]int
	for ax := 0; ax < 3; ax++ {
		if k.Periodic[ax] > 0 {
			ranges[ax] = k.Images
		}
	}
	for sx := -ranges[0]; sx <= ranges[0]; sx++ {
		for sy := -ranges[1]; sy <= ranges[1]; sy++ {
			for sz := -ranges[2]; sz <= ranges[2]; sz++ {
				if sx == 0 && sy == 0 && sz == 0 {
					continue
				}
				out = append(out, [3]float64{
					float64(sx) * k.Periodic[0],
					float64(sy) * k.Periodic[1],
					float64(sz) * k.Periodic[2],
				})
			}
		}
	}
	return out
}

type pairFunc func(rx, ry, rz, zi, zj float64, t *Tensor)
type selfFunc func(h float64, t *Tensor)

// accumulate sums a pair function over images of the source blob at rj,
// starting from the image nearest to ri. Lengths are scaled by the blob
// radius before the pair function sees them.
func (k *Kernel) accumulate(ri, rj []float64, same bool, shifts [][3]float64, pair pairFunc, self selfFunc) Tensor {
	var t Tensor
	inva := 1 / k.Radius
	d := [3]float64{ri[0] - rj[0], ri[1] - rj[1], ri[2] - rj[2]}
	MinImage(d[:], k.Periodic)
	for n, s := range shifts {
		if same && n == 0 {
			self(ri[2]*inva, &t)
			continue
		}
		rx := (d[0] - s[0]) * inva
		ry := (d[1] - s[1]) * inva
		rz := (d[2] - s[2]) * inva
		pair(rx, ry, rz, ri[2]*inva, ri[2]*inva-rz, &t)
	}
	return t
}

// UF is the velocity of blob i per unit force on blob j.
func (k *Kernel) UF(ri, rj []float64, same bool, shifts [][3]float64) Tensor {
	t := k.accumulate(ri, rj, same, shifts, k.pairUF, k.selfUF)
	t.scale(k.normUF())
	return t
}

// UT is the velocity of blob i per unit torque on blob j. The angular
// velocity of j per unit force on i is UT(i, j)ᵀ.
func (k *Kernel) UT(ri, rj []float64, same bool, shifts [][3]float64) Tensor {
	t := k.accumulate(ri, rj, same, shifts, k.pairUT, k.selfUT)
	t.scale(k.normUT())
	return t
}

// WT is the angular velocity of blob i per unit torque on blob j.
func (k *Kernel) WT(ri, rj []float64, same bool, shifts [][3]float64) Tensor {
	t := k.accumulate(ri, rj, same, shifts, k.pairWT, k.selfWT)
	t.scale(k.normWT())
	return t
}

// SourceTarget is the velocity of a tracer sphere of radius b at rt per
// unit force on a blob at rs. Free space uses the Rotne-Prager-Yamakawa
// tensor for unequal spheres (Zuk et al. 2014); the wall adds the image
// system of a point force (Blake 1971). b = 0 gives the fluid velocity.
func (k *Kernel) SourceTarget(rt, rs []float64, b float64, shifts [][3]float64) Tensor {
	var t Tensor
	d := [3]float64{rt[0] - rs[0], rt[1] - rs[1], rt[2] - rs[2]}
	MinImage(d[:], k.Periodic)
	for _, s := range shifts {
		rx, ry, rz := d[0]-s[0], d[1]-s[1], d[2]-s[2]
		k.pairUnequal(rx, ry, rz, b, &t)
		if k.Wall {
			blakeImage(rx, ry, rt[2]+(rt[2]-rz), rt[2]-rz, &t)
		}
	}
	t.scale(1 / (8 * math.Pi * k.Eta))
	return t
}

// pairUnequal adds the free-space RPY tensor of a source of radius k.Radius
// and a target of radius b, in units of 1/(8πη).
func (k *Kernel) pairUnequal(rx, ry, rz, b float64, t *Tensor) {
	a := k.Radius
	r := math.Sqrt(rx*rx + ry*ry + rz*rz)
	var c1, c2 float64
	switch {
	case r > a+b:
		s2 := (a*a + b*b) / (r * r)
		c1 = (1 + s2/3) / r
		c2 = (1 - s2) / r
	case r > math.Abs(a-b):
		d2 := (a - b) * (a - b)
		r3 := r * r * r
		pre := 4 / (3 * a * b)
		c1 = pre * (16*r3*(a+b) - (d2+3*r*r)*(d2+3*r*r)) / (32 * r3)
		c2 = pre * 3 * (d2 - r*r) * (d2 - r*r) / (32 * r3)
	default:
		c1 = 4 / (3 * math.Max(a, b))
	}
	ex, ey, ez := unit(rx, ry, rz, r)
	t.addRR(c1, c2, ex, ey, ez)
}

// blakeImage adds the wall image of a point force at height h, seen from a
// target displaced by (rx, ry) horizontally and rz from the image point, in
// units of 1/(8πη). Row i is the velocity component, column j the force.
func blakeImage(rx, ry, rz, h float64, t *Tensor) {
	R := [3]float64{rx, ry, rz}
	r2 := rx*rx + ry*ry + rz*rz
	inv := 1 / math.Sqrt(r2)
	inv3 := inv * inv * inv
	inv5 := inv3 * inv * inv
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var dij, di3, d3j float64
			if i == j {
				dij = 1
			}
			if i == 2 {
				di3 = 1
			}
			if j == 2 {
				d3j = 1
			}
			sign := 1.0
			if j == 2 {
				sign = -1
			}
			v := -(dij*inv + R[i]*R[j]*inv3)
			v += 2 * h * sign * (h*(dij*inv3-3*R[i]*R[j]*inv5) +
				di3*R[j]*inv3 -
				(dij*R[2]+R[i]*d3j)*inv3 +
				3*R[i]*R[2]*R[j]*inv5)
			t[3*i+j] += v
		}
	}
}

func (t *Tensor) scale(c float64) {
	for i := range t {
		t[i] *= c
	}
}

func (k *Kernel) selfUF(h float64, t *Tensor) {
	t[0] += 4.0 / 3.0
	t[4] += 4.0 / 3.0
	t[8] += 4.0 / 3.0
	if !k.Wall {
		return
	}
	invZ := 1 / h
	invZ3 := invZ * invZ * invZ
	invZ5 := invZ3 * invZ * invZ
	t[0] -= (9*invZ - 2*invZ3 + invZ5) / 12
	t[4] -= (9*invZ - 2*invZ3 + invZ5) / 12
	t[8] -= (9*invZ - 4*invZ3 + invZ5) / 6
}

func (k *Kernel) pairUF(rx, ry, rz, zi, zj float64, t *Tensor) {
	r2 := rx*rx + ry*ry + rz*rz
	r := math.Sqrt(r2)
	var c1, c2 float64
	if r > 2 {
		c1 = (1 + 2/(3*r2)) / r
		c2 = (1 - 2/r2) / r
	} else {
		c1 = 4.0 / 3.0 * (1 - 9*r/32)
		c2 = 4.0 / 3.0 * (3 * r / 32)
	}
	ex, ey, ez := unit(rx, ry, rz, r)
	t.addRR(c1, c2, ex, ey, ez)

	if k.Wall {
		k.wallUF(rx, ry, zi+zj, zj, t)
	}
}

// wallUF adds the image correction for source height hj; rz is measured to
// the image of the source (zi+zj).
func (k *Kernel) wallUF(rx, ry, rz, hj float64, t *Tensor) {
	hHat := hj / rz
	invR := 1 / math.Sqrt(rx*rx+ry*ry+rz*rz)
	ex, ey, ez := rx*invR, ry*invR, rz*invR
	ez2 := ez * ez
	invR3 := invR * invR * invR
	invR5 := invR3 * invR * invR

	fact1 := -(3*(1+2*hHat*(1-hHat)*ez2)*invR + 2*(1-3*ez2)*invR3 - 2*(1-5*ez2)*invR5) / 3
	fact2 := -(3*(1-6*hHat*(1-hHat)*ez2)*invR - 6*(1-5*ez2)*invR3 + 10*(1-7*ez2)*invR5) / 3
	fact3 := ez * (3*hHat*(1-6*(1-hHat)*ez2)*invR - 6*(1-5*ez2)*invR3 + 10*(2-7*ez2)*invR5) * 2 / 3
	fact4 := ez * (3*hHat*invR - 10*invR5) * 2 / 3
	fact5 := -(3*hHat*hHat*ez2*invR + 3*ez2*invR3 + (2-15*ez2)*invR5) * 4 / 3

	t[0] += fact1 + fact2*ex*ex
	t[1] += fact2 * ex * ey
	t[2] += fact2*ex*ez + fact3*ex
	t[3] += fact2 * ey * ex
	t[4] += fact1 + fact2*ey*ey
	t[5] += fact2*ey*ez + fact3*ey
	t[6] += fact2*ez*ex + fact4*ex
	t[7] += fact2*ez*ey + fact4*ey
	t[8] += fact1 + fact2*ez2 + fact3*ez + fact4*ez + fact5
}

func (k *Kernel) selfWT(h float64, t *Tensor) {
	t[0] += 1
	t[4] += 1
	t[8] += 1
	if !k.Wall {
		return
	}
	invZ3 := 1 / (h * h * h)
	t[0] -= invZ3 * 5 / 16
	t[4] -= invZ3 * 5 / 16
	t[8] -= invZ3 / 8
}

func (k *Kernel) pairWT(rx, ry, rz, zi, zj float64, t *Tensor) {
	r2 := rx*rx + ry*ry + rz*rz
	r := math.Sqrt(r2)
	var c1, c2 float64
	if r >= 2 {
		r3 := r2 * r
		c1 = -0.5 / r3
		c2 = 1.5 / r3
	} else {
		r3 := r2 * r
		c1 = 1 - 27*r/32 + 5*r3/64
		c2 = 9*r/32 - 3*r3/64
	}
	ex, ey, ez := unit(rx, ry, rz, r)
	t.addRR(c1, c2, ex, ey, ez)

	if k.Wall {
		k.wallWT(rx, ry, zi+zj, t)
	}
}

func (k *Kernel) wallWT(rx, ry, rz float64, t *Tensor) {
	invR := 1 / math.Sqrt(rx*rx+ry*ry+rz*rz)
	invR3 := invR * invR * invR
	ex, ey, ez := rx*invR, ry*invR, rz*invR

	fact1 := (1 - 6*ez*ez) * invR3 / 2
	fact2 := -9 * invR3 / 6
	fact3 := 3 * invR3 * ez
	fact4 := 3 * invR3

	t[0] += fact1 + fact2*ex*ex + fact4*ey*ey
	t[1] += (fact2 - fact4) * ex * ey
	t[2] += fact2 * ex * ez
	t[3] += (fact2 - fact4) * ex * ey
	t[4] += fact1 + fact2*ey*ey + fact4*ex*ex
	t[5] += fact2 * ey * ez
	t[6] += fact2*ez*ex + fact3*ex
	t[7] += fact2*ez*ey + fact3*ey
	t[8] += fact1 + fact2*ez*ez + fact3*ez
}

func (k *Kernel) selfUT(h float64, t *Tensor) {
	if !k.Wall {
		return
	}
	invZ4 := 1 / (h * h * h * h)
	t[1] += invZ4 / 8
	t[3] -= invZ4 / 8
}

// pairUT writes c(r)·(T × r̂) as a matrix acting on the torque T.
func (k *Kernel) pairUT(rx, ry, rz, zi, zj float64, t *Tensor) {
	r2 := rx*rx + ry*ry + rz*rz
	r := math.Sqrt(r2)
	var c float64
	if r >= 2 {
		c = 1 / r2
	} else {
		c = 0.5 * r * (1 - 3*r/8)
	}
	ex, ey, ez := unit(rx, ry, rz, r)
	t[1] += c * ez
	t[2] -= c * ey
	t[3] -= c * ez
	t[5] += c * ex
	t[6] += c * ey
	t[7] -= c * ex

	if k.Wall {
		k.wallUT(rx, ry, zi+zj, zj, t)
	}
}

func (k *Kernel) wallUT(rx, ry, rz, hj float64, t *Tensor) {
	hHat := hj / rz
	invR := 1 / math.Sqrt(rx*rx+ry*ry+rz*rz)
	invR2 := invR * invR
	invR4 := invR2 * invR2
	ex, ey, ez := rx*invR, ry*invR, rz*invR

	fact1 := invR2
	fact2 := (6*hHat*ez*ez*invR2 + (1-10*ez*ez)*invR4) * 2
	fact3 := -ez * (3*hHat*invR2 - 5*invR4) * 2
	fact4 := -ez * (hHat*invR2 - invR4) * 2

	t[0] += -fact3 * ex * ey
	t[1] += fact1*ez - fact3*ey*ey + fact4
	t[2] += -fact1*ey - fact2*ey - fact3*ey*ez
	t[3] += -fact1*ez + fact3*ex*ex - fact4
	t[4] += fact3 * ex * ey
	t[5] += fact1*ex + fact2*ex + fact3*ex*ez
	t[6] += fact1 * ey
	t[7] += -fact1 * ex
}

// addRR adds c1·I + c2·r̂r̂.
func (t *Tensor) addRR(c1, c2, ex, ey, ez float64) {
	t[0] += c1 + c2*ex*ex
	t[1] += c2 * ex * ey
	t[2] += c2 * ex * ez
	t[3] += c2 * ey * ex
	t[4] += c1 + c2*ey*ey
	t[5] += c2 * ey * ez
	t[6] += c2 * ez * ex
	t[7] += c2 * ez * ey
	t[8] += c1 + c2*ez*ez
}

// unit returns r/|r|, or zero for coincident blobs.
func unit(rx, ry, rz, r float64) (float64, float64, float64) {
	if r == 0 {
		return 0, 0, 0
	}
	return rx / r, ry / r, rz / r
}
