package metrics

import (
	"github.com/san-kum/nbodycl/internal/dynamo"
	"github.com/san-kum/nbodycl/internal/particle"
)

// Stability is the fraction of steps in which every particle stayed within
// radius of the mass-weighted center.
type Stability struct {
	name       string
	radius     float64
	violations int
	samples    int
}

func NewStability(radius float64) *Stability {
	return &Stability{
		name:   "stability",
		radius: radius,
	}
}

func (s *Stability) Name() string {
	return s.name
}

func (s *Stability) Reset(buf *particle.Buffer) {
	s.violations = 0
	s.samples = 0
}

func (s *Stability) Observe(step int, buf *particle.Buffer, timing dynamo.Timing) {
	s.samples++
	c := Center(buf.Masses(), buf.Positions())
	for _, p := range buf.Positions() {
		if p.Sub(c).Norm() > s.radius {
			s.violations++
			break
		}
	}
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

// Center is the center of mass. Zero total mass yields the origin.
func Center(masses []float32, pos []dynamo.Vec3) dynamo.Vec3 {
	var cx, cy, cz, total float64
	for i, m := range masses {
		w := float64(m)
		cx += w * float64(pos[i].X)
		cy += w * float64(pos[i].Y)
		cz += w * float64(pos[i].Z)
		total += w
	}
	if total == 0 {
		return dynamo.Vec3{}
	}
	return dynamo.Vec3{X: float32(cx / total), Y: float32(cy / total), Z: float32(cz / total)}
}
