package dynamo

import (
	"fmt"
	"math"
	"time"
)

// Vec3 is a 3-vector padded to 16 bytes so arrays of it can be staged to a
// device without repacking. Pad carries no value.
type Vec3 struct {
	X, Y, Z float32
	Pad     float32
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

func (v Vec3) Scale(f float32) Vec3 {
	return Vec3{X: v.X * f, Y: v.Y * f, Z: v.Z * f}
}

func (v Vec3) Dot(o Vec3) float32 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vec3) Norm() float64 {
	return math.Sqrt(float64(v.Dot(v)))
}

func (v Vec3) IsFinite() bool {
	for _, c := range [3]float32{v.X, v.Y, v.Z} {
		f := float64(c)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Particle is the array-of-structs record used by staged particle buffers.
type Particle struct {
	P Vec3
	V Vec3
}

const (
	Vec3Size     = 16
	ParticleSize = 32
	MassSize     = 4
)

const (
	DefaultDt        = 1.0
	DefaultSoftening = 100.0
	DefaultG         = 1.0
)

// RunConfig is the per-run value object handed to the run controller.
type RunConfig struct {
	N          int
	Steps      int
	Dt         float32
	Softening  float32
	G          float32
	Workers    int
	Integrator string
	Backend    string
}

func DefaultRunConfig() RunConfig {
	return RunConfig{
		N:          2,
		Steps:      1,
		Dt:         DefaultDt,
		Softening:  DefaultSoftening,
		G:          DefaultG,
		Integrator: "euler",
		Backend:    "emulator",
	}
}

func (c RunConfig) Validate() error {
	if c.N <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidCount, c.N)
	}
	if c.Steps < 0 {
		return fmt.Errorf("steps must be non-negative, got %d", c.Steps)
	}
	if !(c.Dt > 0) || math.IsInf(float64(c.Dt), 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidDt, c.Dt)
	}
	if !(c.G > 0) || math.IsInf(float64(c.G), 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidG, c.G)
	}
	if !(c.Softening > 0) {
		return fmt.Errorf("softening must be positive, got %v", c.Softening)
	}
	return nil
}

// Timing records wall-clock time spent in each staging phase of one step.
type Timing struct {
	Upload   time.Duration
	Bind     time.Duration
	Dispatch time.Duration
	Readback time.Duration
}

func (t Timing) Total() time.Duration {
	return t.Upload + t.Bind + t.Dispatch + t.Readback
}

type Result struct {
	StepsTaken int
	Completed  bool
	Timings    []Timing
	Metrics    map[string]float64
	Elapsed    time.Duration
}

// Interactions is the number of pairwise force evaluations per dispatch.
func Interactions(n int) float64 {
	return float64(n) * float64(n)
}
