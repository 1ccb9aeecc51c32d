// Package structure reads body geometry files: .vertex files with blob
// offsets in the body frame and .clones files with body positions and
// orientations, plus optional slip and reference velocity files.
package structure

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/san-kum/multiblob/internal/body"
	"github.com/san-kum/multiblob/internal/dynamo"
)

// Clone is the configuration of one body.
type Clone struct {
	Position    mgl64.Vec3
	Orientation mgl64.Quat
}

// readRecords parses a count line followed by count rows of width numbers.
// Blank lines and lines starting with '#' are skipped.
func readRecords(r io.Reader, width int) ([][]float64, error) {
	sc := bufio.NewScanner(r)
	var (
		count   = -1
		records [][]float64
		line    int
	)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if count < 0 {
			n, err := strconv.Atoi(fields[0])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("line %d: bad count %q", line, fields[0])
			}
			count = n
			records = make([][]float64, 0, n)
			continue
		}
		if len(records) == count {
			break
		}
		if len(fields) < width {
			return nil, fmt.Errorf("line %d: want %d numbers, got %d", line, width, len(fields))
		}
		rec := make([]float64, width)
		for i := range rec {
			x, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			rec[i] = x
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("missing count line")
	}
	if len(records) != count {
		return nil, fmt.Errorf("count line says %d records, found %d", count, len(records))
	}
	return records, nil
}

func readFile(path string, width int) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dynamo.ErrStructure, err)
	}
	defer f.Close()
	recs, err := readRecords(f, width)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", dynamo.ErrStructure, path, err)
	}
	return recs, nil
}

func ReadVertex(path string) ([]mgl64.Vec3, error) {
	recs, err := readFile(path, 3)
	if err != nil {
		return nil, err
	}
	out := make([]mgl64.Vec3, len(recs))
	for i, r := range recs {
		out[i] = mgl64.Vec3{r[0], r[1], r[2]}
	}
	return out, nil
}

// ReadSlip reads one body-frame slip velocity per blob; the layout is the
// same as a vertex file.
func ReadSlip(path string) ([]mgl64.Vec3, error) {
	return ReadVertex(path)
}

// ReadClones reads "x y z s px py pz" rows. Orientations are normalised.
func ReadClones(path string) ([]Clone, error) {
	recs, err := readFile(path, 7)
	if err != nil {
		return nil, err
	}
	return clonesFromRecords(path, recs)
}

func clonesFromRecords(path string, recs [][]float64) ([]Clone, error) {
	out := make([]Clone, len(recs))
	for i, r := range recs {
		q := mgl64.Quat{W: r[3], V: mgl64.Vec3{r[4], r[5], r[6]}}
		if q.Len() == 0 {
			return nil, fmt.Errorf("%w: %s: body %d has a zero quaternion", dynamo.ErrStructure, path, i)
		}
		out[i] = Clone{Position: mgl64.Vec3{r[0], r[1], r[2]}, Orientation: q.Normalize()}
	}
	return out, nil
}

// ReadVelocity reads the six numbers of a reference body velocity, either
// on one line or with a leading count line.
func ReadVelocity(path string) ([6]float64, error) {
	var v [6]float64
	data, err := os.ReadFile(path)
	if err != nil {
		return v, fmt.Errorf("%w: %v", dynamo.ErrStructure, err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 7 {
		fields = fields[1:]
	}
	if len(fields) != 6 {
		return v, fmt.Errorf("%w: %s: want 6 velocity components, got %d", dynamo.ErrStructure, path, len(fields))
	}
	for i, f := range fields {
		if v[i], err = strconv.ParseFloat(f, 64); err != nil {
			return v, fmt.Errorf("%w: %s: %v", dynamo.ErrStructure, path, err)
		}
	}
	return v, nil
}

// WriteClones writes bodies in the clones format, %.16g per number.
func WriteClones(w io.Writer, bodies []*body.Body) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\n", len(bodies))
	for _, b := range bodies {
		p, q := b.Position, b.Orientation
		fmt.Fprintf(bw, "%.16g %.16g %.16g %.16g %.16g %.16g %.16g\n",
			p[0], p[1], p[2], q.W, q.V[0], q.V[1], q.V[2])
	}
	return bw.Flush()
}

// Block is one saved configuration of a trajectory file. Step is -1 when
// the block carries no step marker.
type Block struct {
	Step   int
	Clones []Clone
}

// WriteBlock writes a clones block preceded by a "# step N" marker.
func WriteBlock(w io.Writer, step int, bodies []*body.Body) error {
	if _, err := fmt.Fprintf(w, "# step %d\n", step); err != nil {
		return err
	}
	return WriteClones(w, bodies)
}

// ReadCloneBlocks reads consecutive clones blocks from a single trajectory
// file, as written with save_clones one_file.
func ReadCloneBlocks(path string) ([]Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dynamo.ErrStructure, err)
	}

	var (
		blocks []Block
		lines  []string
		steps  = map[int]int{}
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		t := strings.TrimSpace(sc.Text())
		if rest, ok := strings.CutPrefix(t, "# step "); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
				steps[len(lines)] = n
			}
			continue
		}
		if t != "" && !strings.HasPrefix(t, "#") {
			lines = append(lines, t)
		}
	}

	for i := 0; i < len(lines); {
		n, err := strconv.Atoi(strings.Fields(lines[i])[0])
		if err != nil || n < 0 || i+1+n > len(lines) {
			return nil, fmt.Errorf("%w: %s: truncated block at record %d", dynamo.ErrStructure, path, i+1)
		}
		recs, err := readRecords(strings.NewReader(strings.Join(lines[i:i+1+n], "\n")), 7)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", dynamo.ErrStructure, path, err)
		}
		clones, err := clonesFromRecords(path, recs)
		if err != nil {
			return nil, err
		}
		step, ok := steps[i]
		if !ok {
			step = -1
		}
		blocks = append(blocks, Block{Step: step, Clones: clones})
		i += 1 + n
	}
	return blocks, nil
}
