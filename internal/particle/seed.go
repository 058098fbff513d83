package particle

import (
	"math/rand"

	"github.com/san-kum/nbodycl/internal/dynamo"
)

const (
	ReferenceSeed    = 100
	ReferenceDivisor = 100000
)

// Seeded generates a reproducible population: every mass, position and
// velocity component is a non-negative 31-bit pseudo-random integer divided
// by divisor, drawn in the order m, px, py, pz, vx, vy, vz per particle.
func Seeded(n int, seed int64, divisor float32) ([]float32, []dynamo.Particle) {
	if n <= 0 {
		return nil, nil
	}
	if divisor == 0 {
		divisor = ReferenceDivisor
	}
	rng := rand.New(rand.NewSource(seed))
	next := func() float32 {
		return float32(rng.Int31()) / divisor
	}

	masses := make([]float32, n)
	particles := make([]dynamo.Particle, n)
	for i := 0; i < n; i++ {
		masses[i] = next()
		particles[i].P = dynamo.Vec3{X: next(), Y: next(), Z: next()}
		particles[i].V = dynamo.Vec3{X: next(), Y: next(), Z: next()}
	}
	return masses, particles
}

// NewSeeded is Seeded followed by New.
func NewSeeded(n int, seed int64, divisor float32) (*Buffer, error) {
	if n <= 0 {
		return nil, dynamo.ErrInvalidCount
	}
	masses, particles := Seeded(n, seed, divisor)
	return New(masses, particles)
}
