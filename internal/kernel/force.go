package kernel

import (
	"math"

	"github.com/san-kum/nbodycl/internal/dynamo"
)

type Params struct {
	// Softening is added to the squared separation before the inverse cube.
	Softening float32
	// G scales every contribution; 1 when masses already carry the constant.
	G float32
}

func DefaultParams() Params {
	return Params{Softening: dynamo.DefaultSoftening, G: dynamo.DefaultG}
}

// AccelerationAt sums the softened attraction of every mass on a point at
// target. A source at the same location contributes exactly zero.
func AccelerationAt(target dynamo.Vec3, masses []float32, positions []dynamo.Vec3, p Params) dynamo.Vec3 {
	var ax, ay, az float32
	for j := range positions {
		rx := positions[j].X - target.X
		ry := positions[j].Y - target.Y
		rz := positions[j].Z - target.Z
		dd := rx*rx + ry*ry + rz*rz + p.Softening
		d := 1 / (dd * sqrt32(dd))
		s := masses[j] * d
		ax += rx * s
		ay += ry * s
		az += rz * s
	}
	return dynamo.Vec3{X: ax * p.G, Y: ay * p.G, Z: az * p.G}
}

// Accelerate is one work item: it computes the net acceleration on particle
// q from all n particles and writes out[q]. No other slot is touched.
func Accelerate(q int, n int, masses []float32, positions []dynamo.Vec3, out []dynamo.Vec3, p Params) {
	out[q] = AccelerationAt(positions[q], masses[:n], positions[:n], p)
}

// Range runs work items [start, end) in order.
func Range(start, end, n int, masses []float32, positions []dynamo.Vec3, out []dynamo.Vec3, p Params) {
	for q := start; q < end; q++ {
		Accelerate(q, n, masses, positions, out, p)
	}
}

// sqrt32 rounds the float64 square root once; the result equals a correctly
// rounded float32 square root.
func sqrt32(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}
