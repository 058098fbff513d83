package metrics

import (
	"math"

	"github.com/san-kum/nbodycl/internal/dynamo"
	"github.com/san-kum/nbodycl/internal/kernel"
	"github.com/san-kum/nbodycl/internal/particle"
)

// TotalEnergy is the kinetic energy plus the softened pair potential
// -G m_i m_j / sqrt(r^2 + eps), accumulated in float64.
func TotalEnergy(masses []float32, pos, vel []dynamo.Vec3, p kernel.Params) float64 {
	return Kinetic(masses, vel) + Potential(masses, pos, p)
}

func Kinetic(masses []float32, vel []dynamo.Vec3) float64 {
	ke := 0.0
	for i, m := range masses {
		v := vel[i]
		v2 := float64(v.X)*float64(v.X) + float64(v.Y)*float64(v.Y) + float64(v.Z)*float64(v.Z)
		ke += 0.5 * float64(m) * v2
	}
	return ke
}

func Potential(masses []float32, pos []dynamo.Vec3, p kernel.Params) float64 {
	g := float64(p.G)
	eps := float64(p.Softening)
	pe := 0.0
	for i := 0; i < len(masses); i++ {
		for j := i + 1; j < len(masses); j++ {
			dx := float64(pos[j].X) - float64(pos[i].X)
			dy := float64(pos[j].Y) - float64(pos[i].Y)
			dz := float64(pos[j].Z) - float64(pos[i].Z)
			pe -= g * float64(masses[i]) * float64(masses[j]) / math.Sqrt(dx*dx+dy*dy+dz*dz+eps)
		}
	}
	return pe
}

// Energy reports the total energy of the most recent sample.
type Energy struct {
	name    string
	params  kernel.Params
	current float64
}

func NewEnergy(p kernel.Params) *Energy {
	return &Energy{name: "energy", params: p}
}

func (e *Energy) Name() string { return e.name }

func (e *Energy) Reset(buf *particle.Buffer) {
	e.current = TotalEnergy(buf.Masses(), buf.Positions(), buf.Velocities(), e.params)
}

func (e *Energy) Observe(step int, buf *particle.Buffer, timing dynamo.Timing) {
	e.current = TotalEnergy(buf.Masses(), buf.Positions(), buf.Velocities(), e.params)
}

func (e *Energy) Value() float64 { return e.current }

// EnergyDrift tracks the largest relative departure from the initial total
// energy. The pair sum is O(N^2) on the host, so it samples every Every
// steps.
type EnergyDrift struct {
	name     string
	params   kernel.Params
	every    int
	initial  float64
	current  float64
	maxDrift float64
}

func NewEnergyDrift(p kernel.Params, every int) *EnergyDrift {
	if every < 1 {
		every = 1
	}
	return &EnergyDrift{name: "energy_drift", params: p, every: every}
}

func (e *EnergyDrift) Name() string { return e.name }

func (e *EnergyDrift) Reset(buf *particle.Buffer) {
	e.initial = TotalEnergy(buf.Masses(), buf.Positions(), buf.Velocities(), e.params)
	e.current = e.initial
	e.maxDrift = 0
}

func (e *EnergyDrift) Observe(step int, buf *particle.Buffer, timing dynamo.Timing) {
	if (step+1)%e.every != 0 {
		return
	}
	e.current = TotalEnergy(buf.Masses(), buf.Positions(), buf.Velocities(), e.params)
	e.maxDrift = math.Max(e.maxDrift, e.Drift())
}

// Drift is the relative drift of the latest sample.
func (e *EnergyDrift) Drift() float64 {
	if e.initial == 0 {
		return math.Abs(e.current)
	}
	return math.Abs(e.current-e.initial) / math.Abs(e.initial)
}

func (e *EnergyDrift) Current() float64 { return e.current }

func (e *EnergyDrift) Value() float64 { return e.maxDrift }
