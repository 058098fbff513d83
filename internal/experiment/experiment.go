package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/san-kum/nbodycl/internal/compute"
	"github.com/san-kum/nbodycl/internal/config"
	"github.com/san-kum/nbodycl/internal/dynamo"
	"github.com/san-kum/nbodycl/internal/integrators"
	"github.com/san-kum/nbodycl/internal/metrics"
	"github.com/san-kum/nbodycl/internal/particle"
	"github.com/san-kum/nbodycl/internal/pipeline"
	"github.com/san-kum/nbodycl/internal/sim"
	"github.com/san-kum/nbodycl/internal/storage"
)

type Options struct {
	Logger *slog.Logger
	// Store resolves Population.From and receives saved runs.
	Store *storage.Store
	// Preset is recorded in the run metadata.
	Preset string
}

// Experiment owns every resource of one run: the particle buffer, the
// accelerator runtime, the staging pipeline and the simulator wired with
// its metrics.
type Experiment struct {
	cfg    *config.Config
	opts   Options
	log    *slog.Logger
	buf    *particle.Buffer
	rt     *compute.Runtime
	pipe   *pipeline.Pipeline
	sim    *sim.Simulator
	integ  integrators.Integrator
	drift  *metrics.EnergyDrift
	thru   *metrics.Throughput
	record *storage.Recorder
}

func New(cfg *config.Config, opts Options) (_ *Experiment, err error) {
	cfg = cfg.Clone()
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	e := &Experiment{cfg: cfg, opts: opts, log: log}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	if e.buf, err = Population(cfg, opts.Store); err != nil {
		return nil, err
	}
	cfg.Run.Bodies = e.buf.N()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	if e.integ, err = integrators.ByName(cfg.Run.Integrator); err != nil {
		return nil, err
	}

	e.rt, err = compute.Open(cfg.Run.Backend, compute.Options{Workers: cfg.Run.Workers, Params: cfg.Params()})
	if err != nil {
		return nil, err
	}

	e.pipe, err = pipeline.New(e.rt.Queue, e.rt.Kernel, e.buf.N(), pipeline.Options{
		Logger:          log,
		StageMassesOnce: cfg.Run.StageMassesOnce,
	})
	if err != nil {
		return nil, err
	}

	e.sim = sim.New(e.pipe, e.integ, sim.Options{Logger: log})
	if every := cfg.Output.EnergyEvery; every > 0 {
		e.drift = metrics.NewEnergyDrift(cfg.Params(), every)
		e.sim.AddMetric(e.drift)
	}
	e.sim.AddMetric(metrics.NewMomentumDrift())
	e.thru = metrics.NewThroughput()
	e.sim.AddMetric(e.thru)
	if r := cfg.Output.StabilityRadius; r > 0 {
		e.sim.AddMetric(metrics.NewStability(r))
	}
	if cfg.Output.Save {
		e.record = storage.NewRecorder(e.drift, cfg.Output.EnergyEvery)
		e.sim.AddObserver(e.record)
	}

	log.Info("experiment ready",
		"backend", e.pipe.Backend(),
		"particles", e.buf.N(),
		"integrator", e.integ.Name())
	return e, nil
}

// Population builds the initial particle buffer described by cfg.
func Population(cfg *config.Config, store *storage.Store) (*particle.Buffer, error) {
	pop := cfg.Population
	if pop.From != "" {
		if store == nil {
			return nil, errors.New("resuming a run needs a store")
		}
		buf, _, err := store.LoadPopulation(pop.From)
		if err != nil {
			return nil, fmt.Errorf("resume from %s: %w", pop.From, err)
		}
		return buf, nil
	}

	switch pop.Layout {
	case config.LayoutPair:
		return particle.New([]float32{1, 1}, []dynamo.Particle{
			{P: dynamo.Vec3{}},
			{P: dynamo.Vec3{X: 1}},
		})
	case config.LayoutSeeded, "":
		return particle.NewSeeded(cfg.Run.Bodies, pop.Seed, float32(pop.Divisor))
	}
	return nil, fmt.Errorf("unknown population layout: %q", pop.Layout)
}

func (e *Experiment) Config() *config.Config { return e.cfg }

func (e *Experiment) Buffer() *particle.Buffer { return e.buf }

func (e *Experiment) Backend() string { return e.pipe.Backend() }

// Drift is nil when energy sampling is disabled.
func (e *Experiment) Drift() *metrics.EnergyDrift { return e.drift }

func (e *Experiment) Throughput() metrics.Summary { return e.thru.Summary() }

// Run advances the population by the configured number of steps. Extra
// observers see every committed step of this call only.
func (e *Experiment) Run(ctx context.Context, observers ...sim.Observer) (*dynamo.Result, error) {
	return e.sim.Run(ctx, e.buf, e.cfg.ToRunConfig(), observers...)
}

// Save stores the current state and series. It is a no-op returning "" when
// saving is disabled.
func (e *Experiment) Save(res *dynamo.Result) (string, error) {
	if e.record == nil || e.opts.Store == nil {
		return "", nil
	}
	meta := storage.RunMetadata{
		Preset:     e.opts.Preset,
		Timestamp:  time.Now(),
		Steps:      e.cfg.Run.Steps,
		Dt:         e.cfg.Run.Dt,
		Softening:  e.cfg.Run.Softening,
		G:          e.cfg.Run.G,
		Seed:       e.cfg.Population.Seed,
		Integrator: e.integ.Name(),
		Backend:    e.pipe.Backend(),
		From:       e.cfg.Population.From,
	}
	if res != nil {
		meta.StepsTaken = res.StepsTaken
		meta.Completed = res.Completed
		meta.ElapsedSec = res.Elapsed.Seconds()
		meta.Metrics = res.Metrics
	}
	id, err := e.opts.Store.Save(meta, e.buf, e.record.Rows())
	if err != nil {
		return "", err
	}
	e.log.Info("run saved", "id", id, "dir", e.opts.Store.Dir(id))
	return id, nil
}

// Close releases the pipeline buffers, the runtime and the particle
// storage. Each is released once.
func (e *Experiment) Close() error {
	var errs []error
	if e.pipe != nil {
		errs = append(errs, e.pipe.Close())
	}
	if e.rt != nil {
		errs = append(errs, e.rt.Close())
	}
	if e.buf != nil {
		errs = append(errs, e.buf.Close())
	}
	return errors.Join(errs...)
}
