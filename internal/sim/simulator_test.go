package sim_test

import (
	"context"
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/nbodycl/internal/compute"
	"github.com/san-kum/nbodycl/internal/dynamo"
	"github.com/san-kum/nbodycl/internal/integrators"
	"github.com/san-kum/nbodycl/internal/kernel"
	"github.com/san-kum/nbodycl/internal/particle"
	"github.com/san-kum/nbodycl/internal/pipeline"
	"github.com/san-kum/nbodycl/internal/sim"
)

var errForces = errors.New("forces unavailable")

// scriptedForcer returns fixed accelerations and fails on call failAt.
type scriptedForcer struct {
	n      int
	acc    []dynamo.Vec3
	calls  int
	failAt int
}

func (f *scriptedForcer) N() int { return f.n }

func (f *scriptedForcer) Compute(ctx context.Context, buf *particle.Buffer) ([]dynamo.Vec3, dynamo.Timing, error) {
	f.calls++
	if f.calls == f.failAt {
		return nil, dynamo.Timing{}, &dynamo.StageError{Phase: dynamo.PhaseDispatch, Step: -1, Wrapped: errForces}
	}
	return f.acc, dynamo.Timing{}, nil
}

type failingIntegrator struct{}

func (failingIntegrator) Name() string { return "failing" }

func (failingIntegrator) Step(dt float32, pos, vel, acc, posOut, velOut []dynamo.Vec3) error {
	for i := range posOut {
		posOut[i] = dynamo.Vec3{X: 42}
	}
	return errors.New("integration blew up")
}

type countingMetric struct {
	resets, observed int
}

func (m *countingMetric) Name() string                                 { return "count" }
func (m *countingMetric) Reset(*particle.Buffer)                       { m.resets++ }
func (m *countingMetric) Observe(int, *particle.Buffer, dynamo.Timing) { m.observed++ }
func (m *countingMetric) Value() float64                               { return float64(m.observed) }

func pair() *particle.Buffer {
	buf, err := particle.New([]float32{1, 1}, []dynamo.Particle{
		{P: dynamo.Vec3{}},
		{P: dynamo.Vec3{X: 1}},
	})
	Expect(err).NotTo(HaveOccurred())
	return buf
}

func snapshot(buf *particle.Buffer) ([]dynamo.Vec3, []dynamo.Vec3) {
	return append([]dynamo.Vec3(nil), buf.Positions()...), append([]dynamo.Vec3(nil), buf.Velocities()...)
}

func runConfig(steps int) dynamo.RunConfig {
	cfg := dynamo.DefaultRunConfig()
	cfg.Steps = steps
	return cfg
}

var _ = Describe("Simulator", func() {
	Context("with the emulator pipeline", func() {
		var (
			rt  *compute.Runtime
			p   *pipeline.Pipeline
			buf *particle.Buffer
		)

		BeforeEach(func() {
			rt = compute.NewEmulator(compute.Options{Workers: 2, Params: kernel.DefaultParams()})
			var err error
			p, err = pipeline.New(rt.Queue, rt.Kernel, 2, pipeline.Options{})
			Expect(err).NotTo(HaveOccurred())
			buf = pair()
		})

		AfterEach(func() {
			Expect(p.Close()).To(Succeed())
			Expect(rt.Close()).To(Succeed())
		})

		It("advances a resting pair by one unit step", func() {
			s := sim.New(p, integrators.NewEuler(), sim.Options{})

			res, err := s.Run(context.Background(), buf, runConfig(1))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Completed).To(BeTrue())
			Expect(res.StepsTaken).To(Equal(1))
			Expect(res.Timings).To(HaveLen(1))

			want := 1 / math.Pow(101, 1.5)
			pos, vel := buf.Positions(), buf.Velocities()
			Expect(pos[0]).To(Equal(dynamo.Vec3{}))
			Expect(pos[1]).To(Equal(dynamo.Vec3{X: 1}))
			Expect(float64(vel[0].X)).To(BeNumerically("~", want, 1e-9))
			Expect(float64(vel[1].X)).To(BeNumerically("~", -want, 1e-9))
			Expect(vel[0].Y).To(BeZero())
			Expect(vel[1].Z).To(BeZero())
		})

		It("moves the pair together on the second step", func() {
			s := sim.New(p, integrators.NewEuler(), sim.Options{})

			_, err := s.Run(context.Background(), buf, runConfig(2))
			Expect(err).NotTo(HaveOccurred())

			pos := buf.Positions()
			Expect(pos[0].X).To(BeNumerically(">", 0))
			Expect(pos[1].X).To(BeNumerically("<", 1))
			Expect(float64(pos[0].X + pos[1].X)).To(BeNumerically("~", 1, 1e-6))
		})

		It("is reproducible for the same seed", func() {
			run := func() []dynamo.Vec3 {
				seeded, err := particle.NewSeeded(2, particle.ReferenceSeed, particle.ReferenceDivisor)
				Expect(err).NotTo(HaveOccurred())
				s := sim.New(p, integrators.NewEuler(), sim.Options{})
				_, err = s.Run(context.Background(), seeded, runConfig(5))
				Expect(err).NotTo(HaveOccurred())
				pos, _ := snapshot(seeded)
				return pos
			}
			Expect(run()).To(Equal(run()))
		})

		It("stops at a step boundary when canceled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			s := sim.New(p, integrators.NewEuler(), sim.Options{})
			s.AddObserver(sim.ObserverFunc(func(step int, _ *particle.Buffer, _ dynamo.Timing) {
				if step == 1 {
					cancel()
				}
			}))

			res, err := s.Run(ctx, buf, runConfig(10))
			Expect(err).To(MatchError(context.Canceled))
			Expect(res.StepsTaken).To(Equal(2))
			Expect(res.Completed).To(BeFalse())
		})

		It("does nothing when the context is already done", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			pos0, vel0 := snapshot(buf)

			res, err := sim.New(p, integrators.NewEuler(), sim.Options{}).Run(ctx, buf, runConfig(3))
			Expect(err).To(MatchError(context.Canceled))
			Expect(res.StepsTaken).To(BeZero())
			Expect(buf.Positions()).To(Equal(pos0))
			Expect(buf.Velocities()).To(Equal(vel0))
		})

		It("feeds metrics and observers every committed step", func() {
			m := &countingMetric{}
			seen := []int{}
			s := sim.New(p, integrators.NewEuler(), sim.Options{})
			s.AddMetric(m)
			s.AddObserver(sim.ObserverFunc(func(step int, _ *particle.Buffer, _ dynamo.Timing) {
				seen = append(seen, step)
			}))

			res, err := s.Run(context.Background(), buf, runConfig(4))
			Expect(err).NotTo(HaveOccurred())
			Expect(m.resets).To(Equal(1))
			Expect(seen).To(Equal([]int{0, 1, 2, 3}))
			Expect(res.Metrics).To(HaveKeyWithValue("count", 4.0))
		})

		It("notifies per-run observers for that run only", func() {
			s := sim.New(p, integrators.NewEuler(), sim.Options{})
			registered, first, second := 0, 0, 0
			s.AddObserver(sim.ObserverFunc(func(int, *particle.Buffer, dynamo.Timing) { registered++ }))

			_, err := s.Run(context.Background(), buf, runConfig(2),
				sim.ObserverFunc(func(int, *particle.Buffer, dynamo.Timing) { first++ }))
			Expect(err).NotTo(HaveOccurred())
			_, err = s.Run(context.Background(), buf, runConfig(3),
				sim.ObserverFunc(func(int, *particle.Buffer, dynamo.Timing) { second++ }))
			Expect(err).NotTo(HaveOccurred())

			Expect(registered).To(Equal(5))
			Expect(first).To(Equal(2))
			Expect(second).To(Equal(3))
		})

		It("rejects a buffer of another size", func() {
			three, err := particle.NewSeeded(3, 1, particle.ReferenceDivisor)
			Expect(err).NotTo(HaveOccurred())

			_, err = sim.New(p, integrators.NewEuler(), sim.Options{}).Run(context.Background(), three, dynamo.RunConfig{
				Steps: 1, Dt: 1, Softening: 100, G: 1,
			})
			Expect(err).To(MatchError(dynamo.ErrSizeMismatch))
		})
	})

	Context("when a step fails", func() {
		It("keeps the last completed state and names the step", func() {
			buf := pair()
			f := &scriptedForcer{n: 2, acc: []dynamo.Vec3{{X: 1}, {X: -1}}, failAt: 3}
			s := sim.New(f, integrators.NewEuler(), sim.Options{})

			res, err := s.Run(context.Background(), buf, runConfig(5))
			Expect(err).To(MatchError(errForces))
			Expect(res.StepsTaken).To(Equal(2))

			var se *dynamo.StageError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.Phase).To(Equal(dynamo.PhaseDispatch))
			Expect(se.Step).To(Equal(2))

			// two unit steps of constant acceleration: x = 0 + 0 + 1, v = 2
			Expect(buf.Positions()[0].X).To(Equal(float32(1)))
			Expect(buf.Velocities()[0].X).To(Equal(float32(2)))
		})

		It("does not commit a failed integration", func() {
			buf := pair()
			pos0, vel0 := snapshot(buf)
			f := &scriptedForcer{n: 2, acc: make([]dynamo.Vec3, 2)}

			_, err := sim.New(f, failingIntegrator{}, sim.Options{}).Run(context.Background(), buf, runConfig(1))
			phase, ok := dynamo.PhaseOf(err)
			Expect(ok).To(BeTrue())
			Expect(phase).To(Equal(dynamo.PhaseIntegrate))
			Expect(buf.Positions()).To(Equal(pos0))
			Expect(buf.Velocities()).To(Equal(vel0))
		})

		It("refuses to commit non-finite state", func() {
			buf := pair()
			pos0, _ := snapshot(buf)
			nan := float32(math.NaN())
			f := &scriptedForcer{n: 2, acc: []dynamo.Vec3{{X: nan}, {}}}

			_, err := sim.New(f, integrators.NewEuler(), sim.Options{}).Run(context.Background(), buf, runConfig(1))
			Expect(err).To(MatchError(dynamo.ErrNonFinite))
			Expect(buf.Positions()).To(Equal(pos0))
		})
	})

	DescribeTable("validates the time step before computing",
		func(dt float32) {
			f := &scriptedForcer{n: 2, acc: make([]dynamo.Vec3, 2)}
			cfg := runConfig(1)
			cfg.Dt = dt

			_, err := sim.New(f, integrators.NewEuler(), sim.Options{}).Run(context.Background(), pair(), cfg)
			Expect(err).To(MatchError(dynamo.ErrInvalidDt))
			Expect(f.calls).To(BeZero())
		},
		Entry("zero", float32(0)),
		Entry("negative", float32(-1)),
		Entry("infinite", float32(math.Inf(1))),
		Entry("NaN", float32(math.NaN())),
	)

	It("rejects a released buffer", func() {
		buf := pair()
		Expect(buf.Close()).To(Succeed())
		f := &scriptedForcer{n: 2}

		_, err := sim.New(f, integrators.NewEuler(), sim.Options{}).Run(context.Background(), buf, runConfig(1))
		Expect(err).To(MatchError(dynamo.ErrReleased))
	})
})
