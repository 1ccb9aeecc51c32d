package structure

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/multiblob/internal/body"
	"github.com/san-kum/multiblob/internal/dynamo"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestReadVertex(t *testing.T) {
	dir := t.TempDir()
	p := write(t, dir, "dimer.vertex", "# dimer\n2\n-1 0 0\n1 0 0.5\n")
	offsets, err := ReadVertex(p)
	require.NoError(t, err)
	assert.Equal(t, []mgl64.Vec3{{-1, 0, 0}, {1, 0, 0.5}}, offsets)
}

func TestReadClonesNormalises(t *testing.T) {
	dir := t.TempDir()
	p := write(t, dir, "a.clones", "2\n0 0 3 2 0 0 0\n5 5 3 1 0 0 1\n")
	clones, err := ReadClones(p)
	require.NoError(t, err)
	require.Len(t, clones, 2)
	assert.Equal(t, mgl64.QuatIdent(), clones[0].Orientation)
	assert.InDelta(t, 1, clones[1].Orientation.Len(), 1e-15)
	assert.Equal(t, mgl64.Vec3{5, 5, 3}, clones[1].Position)
}

func TestMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"short.vertex":  "3\n0 0 0\n1 1 1\n",
		"word.vertex":   "1\n0 zero 0\n",
		"empty.vertex":  "",
		"narrow.vertex": "1\n0 0\n",
	}
	for name, content := range cases {
		_, err := ReadVertex(write(t, dir, name, content))
		assert.True(t, errors.Is(err, dynamo.ErrStructure), name)
	}

	_, err := ReadClones(write(t, dir, "zero.clones", "1\n0 0 0 0 0 0 0\n"))
	assert.True(t, errors.Is(err, dynamo.ErrStructure))

	_, err = ReadVertex(filepath.Join(dir, "missing.vertex"))
	assert.True(t, errors.Is(err, dynamo.ErrStructure))
}

func TestReadVelocity(t *testing.T) {
	dir := t.TempDir()
	v, err := ReadVelocity(write(t, dir, "a.velocity", "1 2 3 4 5 6\n"))
	require.NoError(t, err)
	assert.Equal(t, [6]float64{1, 2, 3, 4, 5, 6}, v)

	v, err = ReadVelocity(write(t, dir, "b.velocity", "6\n1 2 3\n4 5 6\n"))
	require.NoError(t, err)
	assert.Equal(t, [6]float64{1, 2, 3, 4, 5, 6}, v)

	_, err = ReadVelocity(write(t, dir, "c.velocity", "1 2 3\n"))
	assert.True(t, errors.Is(err, dynamo.ErrStructure))
}

func TestClonesRoundTrip(t *testing.T) {
	b := body.New(0, "rod", []mgl64.Vec3{{0, 0, 0}}, 1)
	b.Position = mgl64.Vec3{1.25, -3, 2.5}
	b.Move(mgl64.Vec3{}, mgl64.Vec3{0.1, 0.7, -0.3})

	var buf bytes.Buffer
	require.NoError(t, WriteClones(&buf, []*body.Body{b, b}))

	dir := t.TempDir()
	p := write(t, dir, "rod.clones", buf.String())
	clones, err := ReadClones(p)
	require.NoError(t, err)
	require.Len(t, clones, 2)
	assert.Equal(t, b.Position, clones[0].Position)
	assert.InDelta(t, b.Orientation.W, clones[0].Orientation.W, 1e-15)
	assert.InDeltaSlice(t, b.Orientation.V[:], clones[0].Orientation.V[:], 1e-15)

	var traj bytes.Buffer
	require.NoError(t, WriteBlock(&traj, 10, []*body.Body{b}))
	require.NoError(t, WriteBlock(&traj, 20, []*body.Body{b, b}))
	traj.WriteString(buf.String())
	blocks, err := ReadCloneBlocks(write(t, dir, "rod.config", traj.String()))
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, 10, blocks[0].Step)
	assert.Len(t, blocks[0].Clones, 1)
	assert.Equal(t, 20, blocks[1].Step)
	assert.Equal(t, -1, blocks[2].Step)
	assert.Len(t, blocks[2].Clones, 2)

	_, err = ReadCloneBlocks(write(t, dir, "cut.config", buf.String()+"2\n0 0 1 1 0 0 0\n"))
	assert.True(t, errors.Is(err, dynamo.ErrStructure))
}

func TestLoadTypesAndSystem(t *testing.T) {
	dir := t.TempDir()
	specs := []Spec{
		{
			Name:   "dimer",
			Vertex: write(t, dir, "dimer.vertex", "2\n-1 0 0\n1 0 0\n"),
			Clones: write(t, dir, "dimer.clones", "2\n0 0 3 1 0 0 0\n6 0 3 1 0 0 0\n"),
			Slip:   write(t, dir, "dimer.slip", "2\n0 0 1\n0 0 -1\n"),
		},
		{
			Name:   "blob",
			Vertex: write(t, dir, "blob.vertex", "1\n0 0 0\n"),
			Clones: write(t, dir, "blob.clones", "1\n0 6 2 1 0 0 0\n"),
		},
	}
	types, err := LoadTypes(specs)
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Len(t, types[0].Slip, 2)
	assert.Nil(t, types[1].Slip)

	sys := NewSystem(types, Options{BlobRadius: 0.5, Free: false, Omega: mgl64.Vec3{0, 3, 0}})
	require.NoError(t, sys.Validate())
	assert.Equal(t, 3, sys.NumBodies())
	assert.Equal(t, 5, sys.NumBlobs())
	assert.Equal(t, 9, sys.NumDOF())
	assert.Equal(t, "blob", sys.Bodies[2].Type)
	assert.Equal(t, 2, sys.Bodies[2].ID)
	assert.Equal(t, mgl64.Vec3{0, 3, 0}, sys.Bodies[0].Omega)

	specs[0].Slip = write(t, dir, "bad.slip", "1\n0 0 1\n")
	_, err = LoadTypes(specs)
	assert.True(t, errors.Is(err, dynamo.ErrStructure))
	assert.True(t, strings.Contains(err.Error(), "slip"))
}
