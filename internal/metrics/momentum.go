package metrics

import (
	"math"

	"github.com/san-kum/nbodycl/internal/dynamo"
	"github.com/san-kum/nbodycl/internal/particle"
)

// TotalMomentum sums m*v over all particles in float64.
func TotalMomentum(masses []float32, vel []dynamo.Vec3) [3]float64 {
	var p [3]float64
	for i, m := range masses {
		p[0] += float64(m) * float64(vel[i].X)
		p[1] += float64(m) * float64(vel[i].Y)
		p[2] += float64(m) * float64(vel[i].Z)
	}
	return p
}

// MomentumDrift is the largest |P(t) - P(0)| seen during a run. Pairwise
// forces cancel, so any drift is rounding.
type MomentumDrift struct {
	name     string
	initial  [3]float64
	maxDrift float64
}

func NewMomentumDrift() *MomentumDrift {
	return &MomentumDrift{name: "momentum_drift"}
}

func (m *MomentumDrift) Name() string { return m.name }

func (m *MomentumDrift) Reset(buf *particle.Buffer) {
	m.initial = TotalMomentum(buf.Masses(), buf.Velocities())
	m.maxDrift = 0
}

func (m *MomentumDrift) Observe(step int, buf *particle.Buffer, timing dynamo.Timing) {
	p := TotalMomentum(buf.Masses(), buf.Velocities())
	dx, dy, dz := p[0]-m.initial[0], p[1]-m.initial[1], p[2]-m.initial[2]
	m.maxDrift = math.Max(m.maxDrift, math.Sqrt(dx*dx+dy*dy+dz*dz))
}

func (m *MomentumDrift) Value() float64 { return m.maxDrift }
