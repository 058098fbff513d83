package pipeline_test

import (
	"context"
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/nbodycl/internal/compute"
	"github.com/san-kum/nbodycl/internal/dynamo"
	"github.com/san-kum/nbodycl/internal/kernel"
	"github.com/san-kum/nbodycl/internal/particle"
	"github.com/san-kum/nbodycl/internal/pipeline"
)

var errInjected = errors.New("injected failure")

// recordingQueue wraps the emulator, logs every call and fails the named op.
type recordingQueue struct {
	compute.Queue
	ops    []string
	failOn string
	bytes  map[compute.Buffer]int
	freed  int
}

type recordingKernel struct {
	compute.Kernel
	q *recordingQueue
}

type recordingBuffer struct {
	compute.Buffer
	q *recordingQueue
}

func (b *recordingBuffer) Release() error {
	b.q.freed++
	return b.Buffer.Release()
}

func (q *recordingQueue) record(op string) error {
	q.ops = append(q.ops, op)
	if op == q.failOn {
		return errInjected
	}
	return nil
}

func unwrap(b compute.Buffer) compute.Buffer {
	if rb, ok := b.(*recordingBuffer); ok {
		return rb.Buffer
	}
	return b
}

func (q *recordingQueue) Alloc(size int, access kernel.Access) (compute.Buffer, error) {
	if err := q.record("alloc"); err != nil {
		return nil, err
	}
	b, err := q.Queue.Alloc(size, access)
	if err != nil {
		return nil, err
	}
	return &recordingBuffer{Buffer: b, q: q}, nil
}

func (q *recordingQueue) Write(dst compute.Buffer, src []byte) error {
	if err := q.record("write"); err != nil {
		return err
	}
	q.bytes[dst] += len(src)
	return q.Queue.Write(unwrap(dst), src)
}

func (q *recordingQueue) Read(src compute.Buffer, dst []byte) error {
	if err := q.record("read"); err != nil {
		return err
	}
	return q.Queue.Read(unwrap(src), dst)
}

func (q *recordingQueue) Dispatch(k compute.Kernel, global int) error {
	if err := q.record("dispatch"); err != nil {
		return err
	}
	return q.Queue.Dispatch(k.(*recordingKernel).Kernel, global)
}

func (q *recordingQueue) Finish() error {
	if err := q.record("finish"); err != nil {
		return err
	}
	return q.Queue.Finish()
}

func (k *recordingKernel) SetArg(index int, value any) error {
	if err := k.q.record("bind"); err != nil {
		return err
	}
	if b, ok := value.(compute.Buffer); ok {
		value = unwrap(b)
	}
	return k.Kernel.SetArg(index, value)
}

func newRecording(failOn string) (*recordingQueue, *recordingKernel, *compute.Runtime) {
	rt := compute.NewEmulator(compute.Options{Workers: 2, Params: kernel.Params{Softening: 100, G: 1}})
	q := &recordingQueue{Queue: rt.Queue, failOn: failOn, bytes: map[compute.Buffer]int{}}
	return q, &recordingKernel{Kernel: rt.Kernel, q: q}, rt
}

func pairBuffer() *particle.Buffer {
	buf, err := particle.New([]float32{1, 1}, []dynamo.Particle{
		{P: dynamo.Vec3{}},
		{P: dynamo.Vec3{X: 1}},
	})
	Expect(err).NotTo(HaveOccurred())
	return buf
}

var _ = Describe("Pipeline", func() {
	var (
		q   *recordingQueue
		k   *recordingKernel
		rt  *compute.Runtime
		buf *particle.Buffer
	)

	BeforeEach(func() {
		q, k, rt = newRecording("")
		buf = pairBuffer()
	})

	AfterEach(func() {
		Expect(rt.Close()).To(Succeed())
	})

	It("stages, dispatches, fences and reads back in order", func() {
		p, err := pipeline.New(q, k, 2, pipeline.Options{})
		Expect(err).NotTo(HaveOccurred())
		defer p.Close()

		acc, timing, err := p.Compute(context.Background(), buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(acc).To(HaveLen(2))

		Expect(q.ops).To(Equal([]string{
			"alloc", "alloc", "alloc",
			"write", "write",
			"bind", "bind", "bind", "bind",
			"dispatch", "finish",
			"read",
		}))
		Expect(timing.Total()).To(BeNumerically(">=", 0))
	})

	It("returns equal and opposite accelerations for a pair", func() {
		p, err := pipeline.New(q, k, 2, pipeline.Options{})
		Expect(err).NotTo(HaveOccurred())
		defer p.Close()

		acc, _, err := p.Compute(context.Background(), buf)
		Expect(err).NotTo(HaveOccurred())

		want := 1 / math.Pow(101, 1.5)
		Expect(float64(acc[0].X)).To(BeNumerically("~", want, 1e-9))
		Expect(float64(acc[1].X)).To(BeNumerically("~", -want, 1e-9))
		Expect(acc[0].Y).To(BeZero())
		Expect(acc[1].Z).To(BeZero())
	})

	countWrites := func() int {
		writes := 0
		for _, op := range q.ops {
			if op == "write" {
				writes++
			}
		}
		return writes
	}

	It("uploads masses and positions on every call, never velocities", func() {
		p, err := pipeline.New(q, k, 2, pipeline.Options{})
		Expect(err).NotTo(HaveOccurred())
		defer p.Close()

		for i := 0; i < 3; i++ {
			_, _, err := p.Compute(context.Background(), buf)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(countWrites()).To(Equal(6))
		Expect(q.ops).To(HaveLen(3 + 3*9))

		total := 0
		for _, n := range q.bytes {
			total += n
		}
		Expect(total).To(Equal(3 * 2 * (dynamo.MassSize + dynamo.Vec3Size)))
	})

	It("uses the masses of the buffer it is given", func() {
		p, err := pipeline.New(q, k, 2, pipeline.Options{})
		Expect(err).NotTo(HaveOccurred())
		defer p.Close()

		_, _, err = p.Compute(context.Background(), buf)
		Expect(err).NotTo(HaveOccurred())

		heavy, err := particle.New([]float32{1, 1000}, []dynamo.Particle{
			{P: dynamo.Vec3{}},
			{P: dynamo.Vec3{X: 1}},
		})
		Expect(err).NotTo(HaveOccurred())
		defer heavy.Close()

		acc, _, err := p.Compute(context.Background(), heavy)
		Expect(err).NotTo(HaveOccurred())
		want := 1000 / math.Pow(101, 1.5)
		Expect(float64(acc[0].X)).To(BeNumerically("~", want, 1e-6))
	})

	Context("when masses are staged once", func() {
		It("skips the mass upload for the same buffer", func() {
			p, err := pipeline.New(q, k, 2, pipeline.Options{StageMassesOnce: true})
			Expect(err).NotTo(HaveOccurred())
			defer p.Close()

			for i := 0; i < 3; i++ {
				_, _, err := p.Compute(context.Background(), buf)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(countWrites()).To(Equal(4))

			total := 0
			for _, n := range q.bytes {
				total += n
			}
			Expect(total).To(Equal(2*dynamo.MassSize + 3*2*dynamo.Vec3Size))
		})

		It("restages when the buffer changes", func() {
			p, err := pipeline.New(q, k, 2, pipeline.Options{StageMassesOnce: true})
			Expect(err).NotTo(HaveOccurred())
			defer p.Close()

			_, _, err = p.Compute(context.Background(), buf)
			Expect(err).NotTo(HaveOccurred())

			heavy, err := particle.New([]float32{1000, 1}, []dynamo.Particle{
				{P: dynamo.Vec3{}},
				{P: dynamo.Vec3{X: 1}},
			})
			Expect(err).NotTo(HaveOccurred())
			defer heavy.Close()

			acc, _, err := p.Compute(context.Background(), heavy)
			Expect(err).NotTo(HaveOccurred())
			Expect(countWrites()).To(Equal(4))
			want := 1000 / math.Pow(101, 1.5)
			Expect(float64(acc[1].X)).To(BeNumerically("~", -want, 1e-6))
		})
	})

	DescribeTable("reports the failing phase",
		func(op string, phase dynamo.Phase) {
			fq, fk, frt := newRecording(op)
			defer frt.Close()

			p, err := pipeline.New(fq, fk, 2, pipeline.Options{})
			if phase == dynamo.PhaseAllocate {
				Expect(err).To(MatchError(errInjected))
				got, ok := dynamo.PhaseOf(err)
				Expect(ok).To(BeTrue())
				Expect(got).To(Equal(phase))
				return
			}
			Expect(err).NotTo(HaveOccurred())
			defer p.Close()

			_, _, err = p.Compute(context.Background(), pairBuffer())
			Expect(err).To(MatchError(errInjected))
			got, ok := dynamo.PhaseOf(err)
			Expect(ok).To(BeTrue())
			Expect(got).To(Equal(phase))
		},
		Entry("allocation", "alloc", dynamo.PhaseAllocate),
		Entry("upload", "write", dynamo.PhaseUpload),
		Entry("bind", "bind", dynamo.PhaseBind),
		Entry("dispatch", "dispatch", dynamo.PhaseDispatch),
		Entry("fence", "finish", dynamo.PhaseFence),
		Entry("readback", "read", dynamo.PhaseReadback),
	)

	It("rejects a buffer of the wrong size before dispatch", func() {
		p, err := pipeline.New(q, k, 3, pipeline.Options{})
		Expect(err).NotTo(HaveOccurred())
		defer p.Close()

		_, _, err = p.Compute(context.Background(), buf)
		Expect(err).To(MatchError(dynamo.ErrSizeMismatch))
		Expect(q.ops).NotTo(ContainElement("dispatch"))
	})

	It("rejects a non-positive particle count", func() {
		_, err := pipeline.New(q, k, 0, pipeline.Options{})
		Expect(err).To(MatchError(dynamo.ErrInvalidCount))
		Expect(q.ops).To(BeEmpty())
	})

	It("releases device buffers exactly once", func() {
		p, err := pipeline.New(q, k, 2, pipeline.Options{})
		Expect(err).NotTo(HaveOccurred())

		Expect(p.Close()).To(Succeed())
		Expect(p.Close()).To(Succeed())
		Expect(q.freed).To(Equal(3))

		_, _, err = p.Compute(context.Background(), buf)
		Expect(err).To(MatchError(dynamo.ErrReleased))
	})

	It("releases what it acquired when allocation fails part way", func() {
		fq, fk, frt := newRecording("")
		defer frt.Close()

		calls := 0
		failing := &allocLimit{recordingQueue: fq, limit: 2, calls: &calls}
		_, err := pipeline.New(failing, fk, 2, pipeline.Options{})
		Expect(err).To(HaveOccurred())
		Expect(fq.freed).To(Equal(2))
	})

	It("does not start when the context is already done", func() {
		p, err := pipeline.New(q, k, 2, pipeline.Options{})
		Expect(err).NotTo(HaveOccurred())
		defer p.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, _, err = p.Compute(ctx, buf)
		Expect(err).To(MatchError(context.Canceled))
		Expect(q.ops).NotTo(ContainElement("write"))
	})
})

// allocLimit fails every allocation after the first limit calls.
type allocLimit struct {
	*recordingQueue
	limit int
	calls *int
}

func (a *allocLimit) Alloc(size int, access kernel.Access) (compute.Buffer, error) {
	*a.calls++
	if *a.calls > a.limit {
		return nil, errInjected
	}
	return a.recordingQueue.Alloc(size, access)
}
