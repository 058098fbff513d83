package sim

import (
	"context"

	"github.com/san-kum/nbodycl/internal/dynamo"
	"github.com/san-kum/nbodycl/internal/particle"
)

// Forcer produces the acceleration of every particle for the current state.
// *pipeline.Pipeline is the production implementation.
type Forcer interface {
	N() int
	Compute(ctx context.Context, buf *particle.Buffer) ([]dynamo.Vec3, dynamo.Timing, error)
}

// Integrator mirrors integrators.Integrator so tests can substitute one.
type Integrator interface {
	Name() string
	Step(dt float32, pos, vel, acc, posOut, velOut []dynamo.Vec3) error
}

// Metric accumulates a scalar over a run. Reset sees the initial state,
// Observe sees each committed state.
type Metric interface {
	Name() string
	Reset(buf *particle.Buffer)
	Observe(step int, buf *particle.Buffer, timing dynamo.Timing)
	Value() float64
}

type Observer interface {
	OnStep(step int, buf *particle.Buffer, timing dynamo.Timing)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(step int, buf *particle.Buffer, timing dynamo.Timing)

func (f ObserverFunc) OnStep(step int, buf *particle.Buffer, timing dynamo.Timing) {
	f(step, buf, timing)
}
