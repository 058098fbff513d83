package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/san-kum/nbodycl/internal/compute"
	"github.com/san-kum/nbodycl/internal/dynamo"
	"github.com/san-kum/nbodycl/internal/kernel"
	"github.com/san-kum/nbodycl/internal/particle"
)

type Options struct {
	Logger *slog.Logger
	// StageMassesOnce skips the mass upload while Compute keeps seeing the
	// same buffer. Masses are copied again whenever the buffer changes.
	StageMassesOnce bool
}

// Resources are the device buffers owned by one run.
type Resources struct {
	Masses        compute.Buffer
	Positions     compute.Buffer
	Accelerations compute.Buffer

	once sync.Once
	err  error
}

// Release frees every acquired buffer exactly once.
func (r *Resources) Release() error {
	r.once.Do(func() {
		var errs []error
		for _, b := range []compute.Buffer{r.Accelerations, r.Positions, r.Masses} {
			if b != nil {
				errs = append(errs, b.Release())
			}
		}
		r.Masses, r.Positions, r.Accelerations = nil, nil, nil
		r.err = errors.Join(errs...)
	})
	return r.err
}

// Pipeline stages a particle buffer to the device, runs the force kernel
// over every particle and reads the accelerations back.
type Pipeline struct {
	queue  compute.Queue
	kernel compute.Kernel
	n      int
	res    *Resources
	log    *slog.Logger

	massesOnce bool
	massesFrom *particle.Buffer
	readback   []dynamo.Vec3
}

func New(q compute.Queue, k compute.Kernel, n int, opts Options) (*Pipeline, error) {
	if q == nil || k == nil {
		return nil, errors.New("pipeline: queue and kernel are required")
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: got %d", dynamo.ErrInvalidCount, n)
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	res, err := acquire(q, n)
	if err != nil {
		return nil, &dynamo.StageError{Phase: dynamo.PhaseAllocate, Step: -1, Wrapped: err}
	}

	log.Debug("pipeline: buffers allocated",
		"backend", q.Name(),
		"kernel", k.Signature().String(),
		"particles", n,
		"bytes", n*(dynamo.MassSize+2*dynamo.Vec3Size))

	return &Pipeline{
		queue:      q,
		kernel:     k,
		n:          n,
		res:        res,
		log:        log,
		readback:   make([]dynamo.Vec3, n),
		massesOnce: opts.StageMassesOnce,
	}, nil
}

func acquire(q compute.Queue, n int) (*Resources, error) {
	res := &Resources{}
	var err error
	if res.Masses, err = q.Alloc(n*dynamo.MassSize, kernel.ReadOnly); err != nil {
		res.Release()
		return nil, fmt.Errorf("masses: %w", err)
	}
	if res.Positions, err = q.Alloc(n*dynamo.Vec3Size, kernel.ReadOnly); err != nil {
		res.Release()
		return nil, fmt.Errorf("positions: %w", err)
	}
	if res.Accelerations, err = q.Alloc(n*dynamo.Vec3Size, kernel.WriteOnly); err != nil {
		res.Release()
		return nil, fmt.Errorf("accelerations: %w", err)
	}
	return res, nil
}

func (p *Pipeline) N() int { return p.n }

func (p *Pipeline) Backend() string { return p.queue.Name() }

// Compute returns the acceleration of every particle in buf. The returned
// slice is owned by the pipeline and overwritten by the next call.
func (p *Pipeline) Compute(ctx context.Context, buf *particle.Buffer) ([]dynamo.Vec3, dynamo.Timing, error) {
	var timing dynamo.Timing

	if p.res.Masses == nil {
		return nil, timing, dynamo.ErrReleased
	}
	if err := buf.Check(); err != nil {
		return nil, timing, err
	}
	if buf.N() != p.n {
		return nil, timing, fmt.Errorf("%w: pipeline sized for %d particles, buffer has %d",
			dynamo.ErrSizeMismatch, p.n, buf.N())
	}
	if err := ctx.Err(); err != nil {
		return nil, timing, err
	}

	start := time.Now()
	if err := p.upload(buf); err != nil {
		return nil, timing, fail(dynamo.PhaseUpload, err)
	}
	timing.Upload = time.Since(start)

	start = time.Now()
	if err := p.bind(); err != nil {
		return nil, timing, fail(dynamo.PhaseBind, err)
	}
	timing.Bind = time.Since(start)

	start = time.Now()
	if err := p.queue.Dispatch(p.kernel, p.n); err != nil {
		return nil, timing, fail(dynamo.PhaseDispatch, err)
	}
	if err := p.queue.Finish(); err != nil {
		return nil, timing, fail(dynamo.PhaseFence, err)
	}
	timing.Dispatch = time.Since(start)

	start = time.Now()
	if err := p.queue.Read(p.res.Accelerations, particle.Vec3Bytes(p.readback)); err != nil {
		return nil, timing, fail(dynamo.PhaseReadback, err)
	}
	timing.Readback = time.Since(start)

	p.log.Debug("pipeline: step staged",
		"upload", timing.Upload,
		"bind", timing.Bind,
		"dispatch", timing.Dispatch,
		"readback", timing.Readback)

	return p.readback, timing, nil
}

// upload copies masses and positions only; the kernel never reads velocities.
func (p *Pipeline) upload(buf *particle.Buffer) error {
	if !p.massesOnce || p.massesFrom != buf {
		p.massesFrom = nil
		if err := p.queue.Write(p.res.Masses, buf.MassBytes()); err != nil {
			return fmt.Errorf("masses: %w", err)
		}
		p.massesFrom = buf
	}
	if err := p.queue.Write(p.res.Positions, buf.PositionBytes()); err != nil {
		return fmt.Errorf("positions: %w", err)
	}
	return nil
}

func (p *Pipeline) bind() error {
	args := []any{int32(p.n), p.res.Masses, p.res.Positions, p.res.Accelerations}
	for i, v := range args {
		if err := p.kernel.SetArg(i, v); err != nil {
			return fmt.Errorf("arg %d (%s): %w", i, p.kernel.Signature().Args[i].Name, err)
		}
	}
	return nil
}

// Close releases the device buffers. The queue and kernel belong to the
// caller.
func (p *Pipeline) Close() error {
	p.massesFrom = nil
	return p.res.Release()
}

func fail(phase dynamo.Phase, err error) error {
	return &dynamo.StageError{Phase: phase, Step: -1, Wrapped: err}
}
