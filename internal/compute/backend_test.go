package compute

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/san-kum/multiblob/internal/dynamo"
)

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func randomVector(n int, seed uint64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	v := make([]float64, n)
	for i := range v {
		v[i] = rng.NormFloat64()
	}
	return v
}

func TestSelect(t *testing.T) {
	for _, name := range []string{"serial", "cpu"} {
		b, err := Select(name)
		require.NoError(t, err)
		assert.Equal(t, name, b.Name())
		assert.True(t, b.Available())
	}

	_, err := Select("cuda")
	assert.True(t, errors.Is(err, dynamo.ErrBackendUnavailable))

	_, err = Select("opencl")
	assert.True(t, errors.Is(err, dynamo.ErrInvalidConfig))
}

func TestBackendsAgree(t *testing.T) {
	pos := randomBlobs(40, 11)
	kernels := []*Kernel{
		wallKernel(),
		{Eta: 1, Radius: 1, Wall: true, Periodic: [3]float64{9, 9, 0}, Images: 1},
	}
	for _, k := range kernels {
		for _, rotation := range []bool{false, true} {
			dim := 3 * 40
			if rotation {
				dim *= 2
			}
			src := randomVector(dim, 5)
			serial := make([]float64, dim)
			parallel := make([]float64, dim)
			NewSerialBackend().MobilityProduct(k, pos, src, serial, rotation)
			NewCPUBackend().MobilityProduct(k, pos, src, parallel, rotation)
			assert.InDeltaSlice(t, serial, parallel, 1e-10)
		}
	}
}

func TestMobilityProductSymmetric(t *testing.T) {
	pos := randomBlobs(25, 2)
	k := wallKernel()
	for _, rotation := range []bool{false, true} {
		dim := 75
		if rotation {
			dim = 150
		}
		f := randomVector(dim, 7)
		g := randomVector(dim, 8)
		mf := make([]float64, dim)
		mg := make([]float64, dim)
		b := NewCPUBackend()
		b.MobilityProduct(k, pos, f, mf, rotation)
		b.MobilityProduct(k, pos, g, mg, rotation)
		assert.InDelta(t, dot(f, mg), dot(g, mf), 1e-10)
		assert.Greater(t, dot(f, mf), 0.0)
	}
}

func TestCPUProductIndependentOfWorkers(t *testing.T) {
	pos := randomBlobs(64, 4)
	src := randomVector(3*64, 9)
	k := wallKernel()

	saved := dynamo.Workers
	defer func() { dynamo.Workers = saved }()

	dynamo.Workers = 1
	one := make([]float64, len(src))
	NewCPUBackend().MobilityProduct(k, pos, src, one, false)

	dynamo.Workers = 7
	many := make([]float64, len(src))
	NewCPUBackend().MobilityProduct(k, pos, src, many, false)

	assert.Equal(t, one, many)
}
