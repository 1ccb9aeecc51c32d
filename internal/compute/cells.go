package compute

import "math"

// maxCellsPerBlob bounds the grid size for sparse, widely spread systems.
const maxCellsPerBlob = 8

// CellList bins blobs into cubic cells no smaller than the interaction
// cutoff so that neighbour candidates come from the 27 surrounding cells.
type CellList struct {
	lo       [3]float64
	width    [3]float64
	n        [3]int
	periodic [3]float64
	head     []int
	next     []int
}

func NewCellList(pos []float64, cutoff float64, periodic [3]float64) *CellList {
	numBlobs := len(pos) / 3
	c := &CellList{periodic: periodic}

	for ax := 0; ax < 3; ax++ {
		if periodic[ax] > 0 {
			c.lo[ax] = 0
			c.n[ax] = max(1, int(periodic[ax]/cutoff))
			c.width[ax] = periodic[ax] / float64(c.n[ax])
			continue
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		for i := 0; i < numBlobs; i++ {
			lo = math.Min(lo, pos[3*i+ax])
			hi = math.Max(hi, pos[3*i+ax])
		}
		if numBlobs == 0 {
			lo, hi = 0, 0
		}
		c.lo[ax] = lo
		c.n[ax] = int((hi-lo)/cutoff) + 1
		c.width[ax] = cutoff
	}

	limit := maxCellsPerBlob*numBlobs + 27
	for c.n[0]*c.n[1]*c.n[2] > limit {
		for ax := 0; ax < 3; ax++ {
			if c.n[ax] > 1 {
				c.n[ax] = (c.n[ax] + 1) / 2
				if periodic[ax] > 0 {
					c.width[ax] = periodic[ax] / float64(c.n[ax])
				} else {
					c.width[ax] *= 2
				}
			}
		}
	}

	c.head = make([]int, c.n[0]*c.n[1]*c.n[2])
	for i := range c.head {
		c.head[i] = -1
	}
	c.next = make([]int, numBlobs)
	// Insert in reverse so each cell lists blobs in increasing order.
	for i := numBlobs - 1; i >= 0; i-- {
		cell := c.cellOf(pos[3*i : 3*i+3])
		c.next[i] = c.head[cell]
		c.head[cell] = i
	}
	return c
}

func (c *CellList) coord(x float64, ax int) int {
	if L := c.periodic[ax]; L > 0 {
		x -= L * math.Floor(x/L)
	}
	k := int((x - c.lo[ax]) / c.width[ax])
	return min(max(k, 0), c.n[ax]-1)
}

func (c *CellList) cellOf(r []float64) int {
	return (c.coord(r[0], 0)*c.n[1]+c.coord(r[1], 1))*c.n[2] + c.coord(r[2], 2)
}

// Neighbors calls fn for every blob j != i in the cells adjacent to blob i,
// each candidate exactly once and in a fixed order.
func (c *CellList) Neighbors(i int, pos []float64, fn func(j int)) {
	var base [3]int
	for ax := 0; ax < 3; ax++ {
		base[ax] = c.coord(pos[3*i+ax], ax)
	}

	var seen [27]int
	nSeen := 0
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				cell, ok := c.wrap(base, [3]int{dx, dy, dz})
				if !ok || contains(seen[:nSeen], cell) {
					continue
				}
				seen[nSeen] = cell
				nSeen++
				for j := c.head[cell]; j >= 0; j = c.next[j] {
					if j != i {
						fn(j)
					}
				}
			}
		}
	}
}

func (c *CellList) wrap(base, d [3]int) (int, bool) {
	var k [3]int
	for ax := 0; ax < 3; ax++ {
		k[ax] = base[ax] + d[ax]
		if c.periodic[ax] > 0 {
			k[ax] = (k[ax]%c.n[ax] + c.n[ax]) % c.n[ax]
		} else if k[ax] < 0 || k[ax] >= c.n[ax] {
			return 0, false
		}
	}
	return (k[0]*c.n[1]+k[1])*c.n[2] + k[2], true
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// MinImage maps a displacement to its shortest periodic representative.
func MinImage(d []float64, periodic [3]float64) {
	for ax := 0; ax < 3; ax++ {
		if L := periodic[ax]; L > 0 {
			d[ax] -= L * math.Round(d[ax]/L)
		}
	}
}
