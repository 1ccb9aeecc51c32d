package sim_test

import (
	"context"

	"github.com/go-gl/mathgl/mgl64"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/multiblob/internal/body"
	"github.com/san-kum/multiblob/internal/compute"
	"github.com/san-kum/multiblob/internal/dynamo"
	"github.com/san-kum/multiblob/internal/forces"
	"github.com/san-kum/multiblob/internal/integrators"
	"github.com/san-kum/multiblob/internal/metrics"
	"github.com/san-kum/multiblob/internal/mobility"
	"github.com/san-kum/multiblob/internal/sim"
	"github.com/san-kum/multiblob/internal/solver"
	"github.com/san-kum/multiblob/internal/storage"
)

func engine(fp forces.Params) *integrators.Engine {
	b, err := mobility.NewBuilder("dense", compute.Kernel{Eta: 1, Radius: 1, Wall: true}, false)
	Expect(err).NotTo(HaveOccurred())
	s, err := solver.New(solver.Config{Tol: 1e-10, MaxIter: 200, Restart: 50}, nil)
	Expect(err).NotTo(HaveOccurred())
	return &integrators.Engine{
		Forces:   forces.NewModel(fp, compute.NewCPUBackend()),
		Mobility: b,
		Solver:   s,
	}
}

func trimers() *body.System {
	offsets := []mgl64.Vec3{{-2.5, 0, 0}, {0, 0, 0}, {2.5, 0, 0}}
	var bodies []*body.Body
	for i := 0; i < 3; i++ {
		b := body.New(i, "trimer", offsets, 1)
		b.Position = mgl64.Vec3{float64(10 * i), 0, 4}
		bodies = append(bodies, b)
	}
	return body.NewSystem(bodies)
}

type heights struct{ z []float64 }

func (h *heights) OnStep(s sim.Sample) error {
	h.z = append(h.z, metrics.MeanHeight(s.System))
	return nil
}

var repulsive = forces.Params{BlobRadius: 1, RepulsionStrength: 1, DebyeLength: 0.5, CutoffFactor: 4, WallStrength: 1, WallDebye: 0.5}

func stochastic(seed uint64, kT float64, fp forces.Params, sys *body.System) *sim.Result {
	noise := dynamo.NewRandomStream(seed)
	integ, err := integrators.New("stochastic_adams_bashforth", engine(fp), integrators.NoiseParams{
		KT: kT, RFDelta: 1e-3, LanczosTol: 1e-6, LanczosMaxIter: 50, MaxInvalidRetries: 5,
	}, noise)
	Expect(err).NotTo(HaveOccurred())

	s := sim.New(integ, nil, nil)
	for _, m := range metrics.Default() {
		s.AddMetric(m)
	}
	res, err := s.Run(context.Background(), sys, dynamo.NewClock(0, 0.01), sim.Config{NSteps: 10, NSave: 5})
	Expect(err).NotTo(HaveOccurred())
	return res
}

var _ = Describe("Simulator", func() {
	Context("sedimentation above the wall", func() {
		var (
			st  *storage.Store
			run *storage.Run
			h   *heights
			sys *body.System
			res *sim.Result
		)

		BeforeEach(func() {
			st = storage.New(GinkgoT().TempDir())
			var err error
			run, err = st.Create(storage.RunMetadata{
				Name:     "sed",
				Scheme:   "deterministic_adams_bashforth",
				Dt:       0.1,
				NSteps:   20,
				NSave:    10,
				SaveMode: storage.ModeOneFile,
				Types:    []storage.TypeInfo{{Name: "trimer", Bodies: 3, Blobs: 9}},
			}, true, false)
			Expect(err).NotTo(HaveOccurred())

			integ, err := integrators.New("deterministic_adams_bashforth",
				engine(forces.Params{BlobRadius: 1, G: 1, WallStrength: 1, WallDebye: 0.5}), integrators.NoiseParams{}, nil)
			Expect(err).NotTo(HaveOccurred())

			h = &heights{}
			s := sim.New(integ, run, nil)
			s.AddObserver(h)
			for _, m := range metrics.Default() {
				s.AddMetric(m)
			}

			sys = trimers()
			res, err = s.Run(context.Background(), sys, dynamo.NewClock(0, 0.1), sim.Config{NSteps: 20, NSave: 10})
			Expect(err).NotTo(HaveOccurred())
			Expect(run.Close(res.Metrics, nil)).To(Succeed())
		})

		It("settles monotonically and stays above the wall", func() {
			Expect(h.z).To(HaveLen(20))
			for i := 1; i < len(h.z); i++ {
				Expect(h.z[i]).To(BeNumerically("<", h.z[i-1]))
			}
			Expect(h.z[len(h.z)-1]).To(BeNumerically(">", 1))
			Expect(sys.CheckWall()).To(Succeed())
		})

		It("saves the initial configuration and every n_save steps", func() {
			Expect(res.Saved).To(Equal(3))
			last, err := st.LoadClones("sed", "trimer", -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(last).To(HaveLen(3))
			Expect(last[1].Position.ApproxEqualThreshold(sys.Bodies[1].Position, 1e-12)).To(BeTrue())

			first, err := st.LoadClones("sed", "trimer", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(first[0].Position[2]).To(Equal(4.0))
		})

		It("records run metrics", func() {
			meta, err := st.Load("sed")
			Expect(err).NotTo(HaveOccurred())
			Expect(meta.Status).To(Equal("completed"))
			Expect(meta.LastStep).To(Equal(20))
			Expect(meta.Metrics).To(HaveKey("gmres_iterations_mean"))
			Expect(meta.Metrics["quaternion_norm_drift"]).To(BeNumerically("<", 1e-12))
		})
	})

	Context("stochastic runs", func() {
		It("keeps a force free system static at zero temperature", func() {
			sys := trimers()
			before := sys.Clone()
			stochastic(1, 0, forces.Params{BlobRadius: 1}, sys)
			for k := range sys.Bodies {
				Expect(sys.Bodies[k].Position).To(Equal(before.Bodies[k].Position))
				Expect(sys.Bodies[k].Orientation).To(Equal(before.Bodies[k].Orientation))
			}
		})

		It("reproduces a trajectory from its seed", func() {
			a, b, c := trimers(), trimers(), trimers()
			stochastic(42, 1, repulsive, a)
			stochastic(42, 1, repulsive, b)
			stochastic(43, 1, repulsive, c)
			for k := range a.Bodies {
				Expect(a.Bodies[k].Position).To(Equal(b.Bodies[k].Position))
				Expect(a.Bodies[k].Orientation).To(Equal(b.Bodies[k].Orientation))
			}
			Expect(a.Bodies[0].Position).NotTo(Equal(c.Bodies[0].Position))
		})

		It("keeps orientations at unit norm", func() {
			res := stochastic(7, 1, repulsive, trimers())
			Expect(res.StepsTaken).To(Equal(10))
			Expect(res.Metrics["quaternion_norm_drift"]).To(BeNumerically("<", 1e-12))
		})
	})
})
