package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/san-kum/nbodycl/internal/dynamo"
	"github.com/san-kum/nbodycl/internal/particle"
)

type Options struct {
	Logger *slog.Logger
}

type Simulator struct {
	forcer     Forcer
	integrator Integrator
	metrics    []Metric
	observers  []Observer
	log        *slog.Logger
}

func New(forcer Forcer, integrator Integrator, opts Options) *Simulator {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Simulator{
		forcer:     forcer,
		integrator: integrator,
		metrics:    make([]Metric, 0),
		observers:  make([]Observer, 0),
		log:        log,
	}
}

func (s *Simulator) AddMetric(m Metric)     { s.metrics = append(s.metrics, m) }
func (s *Simulator) AddObserver(o Observer) { s.observers = append(s.observers, o) }

// Run advances buf by cfg.Steps steps. A step is committed only after the
// forces, the integration and the finiteness check all succeed, so on any
// error buf holds the state of the last completed step. Cancellation is
// honored between steps. Observers passed here see only this run, after the
// ones registered with AddObserver.
func (s *Simulator) Run(ctx context.Context, buf *particle.Buffer, cfg dynamo.RunConfig, observers ...Observer) (*dynamo.Result, error) {
	if err := buf.Check(); err != nil {
		return nil, err
	}
	if cfg.N == 0 {
		cfg.N = buf.N()
	}
	if err := s.validateConfig(buf, cfg); err != nil {
		return nil, err
	}

	result := &dynamo.Result{
		Timings: make([]dynamo.Timing, 0, cfg.Steps),
		Metrics: make(map[string]float64),
	}

	for _, m := range s.metrics {
		m.Reset(buf)
	}

	s.log.Info("run started",
		"particles", cfg.N,
		"steps", cfg.Steps,
		"dt", cfg.Dt,
		"integrator", s.integrator.Name())

	start := time.Now()
	defer func() { result.Elapsed = time.Since(start) }()

	for i := 0; i < cfg.Steps; i++ {
		select {
		case <-ctx.Done():
			s.log.Info("run canceled", "step", i)
			s.collect(result)
			return result, ctx.Err()
		default:
		}

		timing, err := s.step(ctx, buf, cfg.Dt)
		if err != nil {
			err = tagStep(err, i)
			s.log.Error("step failed", "step", i, "err", err)
			s.collect(result)
			return result, err
		}

		result.StepsTaken++
		result.Timings = append(result.Timings, timing)

		for _, m := range s.metrics {
			m.Observe(i, buf, timing)
		}
		for _, obs := range s.observers {
			obs.OnStep(i, buf, timing)
		}
		for _, obs := range observers {
			obs.OnStep(i, buf, timing)
		}
	}

	result.Completed = true
	s.collect(result)
	s.log.Info("run finished", "steps", result.StepsTaken, "elapsed", time.Since(start))
	return result, nil
}

func (s *Simulator) step(ctx context.Context, buf *particle.Buffer, dt float32) (dynamo.Timing, error) {
	acc, timing, err := s.forcer.Compute(ctx, buf)
	if err != nil {
		return timing, err
	}

	posOut, velOut := buf.Next()
	if err := s.integrator.Step(dt, buf.Positions(), buf.Velocities(), acc, posOut, velOut); err != nil {
		return timing, &dynamo.StageError{Phase: dynamo.PhaseIntegrate, Step: -1, Wrapped: err}
	}
	if i, ok := firstNonFinite(posOut, velOut); !ok {
		return timing, &dynamo.StageError{
			Phase:   dynamo.PhaseIntegrate,
			Step:    -1,
			Wrapped: fmt.Errorf("%w: particle %d", dynamo.ErrNonFinite, i),
		}
	}

	buf.Commit()
	return timing, nil
}

func (s *Simulator) validateConfig(buf *particle.Buffer, cfg dynamo.RunConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.N != buf.N() {
		return fmt.Errorf("%w: config wants %d particles, buffer has %d",
			dynamo.ErrSizeMismatch, cfg.N, buf.N())
	}
	if s.forcer.N() != buf.N() {
		return fmt.Errorf("%w: forces sized for %d particles, buffer has %d",
			dynamo.ErrSizeMismatch, s.forcer.N(), buf.N())
	}
	return nil
}

func (s *Simulator) collect(result *dynamo.Result) {
	for _, m := range s.metrics {
		result.Metrics[m.Name()] = m.Value()
	}
}

func tagStep(err error, step int) error {
	var se *dynamo.StageError
	if errors.As(err, &se) {
		se.Step = step
		return err
	}
	return fmt.Errorf("step %d: %w", step, err)
}

func firstNonFinite(pos, vel []dynamo.Vec3) (int, bool) {
	for i := range pos {
		if !pos[i].IsFinite() || !vel[i].IsFinite() {
			return i, false
		}
	}
	return -1, true
}
