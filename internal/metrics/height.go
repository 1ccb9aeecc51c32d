package metrics

import (
	"github.com/san-kum/multiblob/internal/body"
	"github.com/san-kum/multiblob/internal/sim"
)

// Height tracks the mean blob height above the wall, averaged over steps.
type Height struct {
	name    string
	last    float64
	total   float64
	samples int
}

func NewHeight() *Height {
	return &Height{name: "mean_blob_height"}
}

func (h *Height) Name() string { return h.name }

func (h *Height) Observe(s sim.Sample) {
	h.last = MeanHeight(s.System)
	h.total += h.last
	h.samples++
}

func (h *Height) Value() float64 {
	if h.samples == 0 {
		return 0
	}
	return h.total / float64(h.samples)
}

// Last is the mean blob height of the latest observed step.
func (h *Height) Last() float64 { return h.last }

func (h *Height) Reset() {
	h.last = 0
	h.total = 0
	h.samples = 0
}

// MeanHeight is the average z of all blob centres.
func MeanHeight(sys *body.System) float64 {
	if sys.NumBlobs() == 0 {
		return 0
	}
	pos := sys.BlobPositions()
	var z float64
	for i := 2; i < len(pos); i += 3 {
		z += pos[i]
	}
	return z / float64(sys.NumBlobs())
}
