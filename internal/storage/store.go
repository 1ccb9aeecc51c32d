package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/multiblob/internal/body"
	"github.com/san-kum/multiblob/internal/structure"
)

const (
	ModeOneFilePerStep = "one_file_per_step"
	ModeOneFile        = "one_file"

	metadataFile = "metadata.json"
	stepsFile    = "steps.csv"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// Dir returns the directory holding run name.
func (s *Store) Dir(name string) string {
	return filepath.Join(s.baseDir, name)
}

type TypeInfo struct {
	Name   string `json:"name"`
	Bodies int    `json:"bodies"`
	Blobs  int    `json:"blobs"`
	// Velocity is the reference body velocity read with the structure.
	Velocity *[6]float64 `json:"reference_velocity,omitempty"`
}

type RunMetadata struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Fingerprint string             `json:"fingerprint"`
	Scheme      string             `json:"scheme"`
	Mobility    string             `json:"mobility"`
	Timestamp   time.Time          `json:"timestamp"`
	Seed        uint64             `json:"seed"`
	Dt          float64            `json:"dt"`
	InitialStep int                `json:"initial_step"`
	NSteps      int                `json:"n_steps"`
	NSave       int                `json:"n_save"`
	LastStep    int                `json:"last_step"`
	SaveMode    string             `json:"save_clones"`
	Types       []TypeInfo         `json:"types"`
	Status      string             `json:"status"`
	Error       string             `json:"error,omitempty"`
	Elapsed     float64            `json:"elapsed_seconds"`
	RandomDraws uint64             `json:"random_draws"`
	Metrics     map[string]float64 `json:"metrics"`
}

// StepRow is one line of the per-step log.
type StepRow struct {
	Step       int
	Time       float64
	Iterations int
	Lanczos    int
	Retries    int
	MeanHeight float64
}

var stepsHeader = []string{"step", "time", "gmres_iterations", "lanczos_iterations", "retries", "mean_height"}

// Run is an open trajectory output. It receives saved configurations and
// per-step records and writes metadata.json when closed.
type Run struct {
	dir        string
	meta       RunMetadata
	velocities bool
	started    time.Time

	configs map[string]*os.File
	vels    map[string]*os.File
	steps   *os.File
	csv     *csv.Writer
}

// Create opens run meta.Name for writing. With resume set, existing
// trajectory files are appended to rather than truncated.
func (s *Store) Create(meta RunMetadata, saveVelocities, resume bool) (*Run, error) {
	if meta.SaveMode != ModeOneFile && meta.SaveMode != ModeOneFilePerStep {
		return nil, fmt.Errorf("storage: unknown save mode %q", meta.SaveMode)
	}
	dir := s.Dir(meta.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	meta.Timestamp = time.Now()
	meta.Status = "running"
	meta.LastStep = meta.InitialStep

	r := &Run{
		dir:        dir,
		meta:       meta,
		velocities: saveVelocities,
		started:    time.Now(),
		configs:    map[string]*os.File{},
		vels:       map[string]*os.File{},
	}

	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if resume {
		flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(filepath.Join(dir, stepsFile), flag, 0644)
	if err != nil {
		return nil, err
	}
	r.steps = f
	r.csv = csv.NewWriter(f)
	if st, err := f.Stat(); err == nil && st.Size() == 0 {
		if err := r.csv.Write(stepsHeader); err != nil {
			f.Close()
			return nil, err
		}
	}

	for _, t := range meta.Types {
		if meta.SaveMode == ModeOneFile {
			cf, err := os.OpenFile(filepath.Join(dir, t.Name+".config"), flag, 0644)
			if err != nil {
				r.closeFiles()
				return nil, err
			}
			r.configs[t.Name] = cf
		}
		if saveVelocities {
			vf, err := os.OpenFile(filepath.Join(dir, t.Name+".velocities"), flag, 0644)
			if err != nil {
				r.closeFiles()
				return nil, err
			}
			r.vels[t.Name] = vf
		}
	}

	if err := r.writeMetadata(); err != nil {
		r.closeFiles()
		return nil, err
	}
	return r, nil
}

func (r *Run) Dir() string           { return r.dir }
func (r *Run) Metadata() RunMetadata { return r.meta }

// ClonesPath is the per-step clones file of a type.
func ClonesPath(dir, typ string, step int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%08d.clones", typ, step))
}

// Save writes the configuration of every type at step, plus the body
// velocities when enabled. vel may be nil when no velocity is known yet.
func (r *Run) Save(step int, sys *body.System, vel []body.Velocity) error {
	groups := groupByType(sys)
	for _, t := range r.meta.Types {
		idx := groups[t.Name]
		bodies := make([]*body.Body, len(idx))
		for i, k := range idx {
			bodies[i] = sys.Bodies[k]
		}

		if f, ok := r.configs[t.Name]; ok {
			if err := structure.WriteBlock(f, step, bodies); err != nil {
				return err
			}
		} else {
			f, err := os.Create(ClonesPath(r.dir, t.Name, step))
			if err != nil {
				return err
			}
			if err := structure.WriteClones(f, bodies); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}

		if vf, ok := r.vels[t.Name]; ok && vel != nil {
			if _, err := fmt.Fprintf(vf, "# step %d\n%d\n", step, len(idx)); err != nil {
				return err
			}
			for _, k := range idx {
				u, w := vel[k].U, vel[k].Omega
				if _, err := fmt.Fprintf(vf, "%.16g %.16g %.16g %.16g %.16g %.16g\n",
					u[0], u[1], u[2], w[0], w[1], w[2]); err != nil {
					return err
				}
			}
		}
	}
	if step > r.meta.LastStep {
		r.meta.LastStep = step
	}
	return nil
}

// Record appends one row to the per-step log.
func (r *Run) Record(row StepRow) error {
	if row.Step > r.meta.LastStep {
		r.meta.LastStep = row.Step
	}
	return r.csv.Write([]string{
		strconv.Itoa(row.Step),
		strconv.FormatFloat(row.Time, 'g', 10, 64),
		strconv.Itoa(row.Iterations),
		strconv.Itoa(row.Lanczos),
		strconv.Itoa(row.Retries),
		strconv.FormatFloat(row.MeanHeight, 'g', 10, 64),
	})
}

// SetRandomDraws records how many normal variates the run consumed.
func (r *Run) SetRandomDraws(n uint64) { r.meta.RandomDraws = n }

// Close flushes every file and writes the final metadata. runErr, when not
// nil, marks the run as failed.
func (r *Run) Close(metrics map[string]float64, runErr error) error {
	r.meta.Metrics = metrics
	r.meta.Elapsed = time.Since(r.started).Seconds()
	r.meta.Status = "completed"
	if runErr != nil {
		r.meta.Status = "failed"
		r.meta.Error = runErr.Error()
	}
	r.csv.Flush()
	err := r.csv.Error()
	if cerr := r.closeFiles(); err == nil {
		err = cerr
	}
	if merr := r.writeMetadata(); err == nil {
		err = merr
	}
	return err
}

func (r *Run) closeFiles() error {
	var first error
	keep := func(err error) {
		if first == nil {
			first = err
		}
	}
	for _, f := range r.configs {
		keep(f.Close())
	}
	for _, f := range r.vels {
		keep(f.Close())
	}
	if r.steps != nil {
		keep(r.steps.Close())
		r.steps = nil
	}
	r.configs = map[string]*os.File{}
	r.vels = map[string]*os.File{}
	return first
}

func (r *Run) writeMetadata() error {
	f, err := os.Create(filepath.Join(r.dir, metadataFile))
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(r.meta)
}

func groupByType(sys *body.System) map[string][]int {
	out := map[string][]int{}
	for k, b := range sys.Bodies {
		out[b.Type] = append(out[b.Type], k)
	}
	return out
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(name string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(name), metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadClones returns the saved configuration of type typ at step. A
// negative step selects the last block of a one_file trajectory.
func (s *Store) LoadClones(name, typ string, step int) ([]structure.Clone, error) {
	dir := s.Dir(name)
	if _, err := os.Stat(ClonesPath(dir, typ, step)); step >= 0 && err == nil {
		return structure.ReadClones(ClonesPath(dir, typ, step))
	}

	blocks, err := structure.ReadCloneBlocks(filepath.Join(dir, typ+".config"))
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("storage: %s: no saved configuration of %s", name, typ)
	}
	if step < 0 {
		return blocks[len(blocks)-1].Clones, nil
	}
	for i := len(blocks) - 1; i >= 0; i-- {
		if blocks[i].Step == step {
			return blocks[i].Clones, nil
		}
	}
	return nil, fmt.Errorf("storage: %s: step %d of %s not saved", name, step, typ)
}

// LoadSteps reads the per-step log of a run.
func (s *Store) LoadSteps(name string) ([]StepRow, error) {
	file, err := os.Open(filepath.Join(s.Dir(name), stepsFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	rows := make([]StepRow, 0, len(records))
	for _, rec := range records {
		if len(rec) < len(stepsHeader) || rec[0] == stepsHeader[0] {
			continue
		}
		var row StepRow
		var perr error
		parseInt := func(s string) int {
			v, err := strconv.Atoi(s)
			if err != nil && perr == nil {
				perr = err
			}
			return v
		}
		parseFloat := func(s string) float64 {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil && perr == nil {
				perr = err
			}
			return v
		}
		row.Step = parseInt(rec[0])
		row.Time = parseFloat(rec[1])
		row.Iterations = parseInt(rec[2])
		row.Lanczos = parseInt(rec[3])
		row.Retries = parseInt(rec[4])
		row.MeanHeight = parseFloat(rec[5])
		if perr != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}
