package integrators

import "github.com/san-kum/nbodycl/internal/dynamo"

// SymplecticEuler kicks the velocity first and drifts the position with the
// updated velocity.
type SymplecticEuler struct{}

func NewSymplecticEuler() *SymplecticEuler {
	return &SymplecticEuler{}
}

func (s *SymplecticEuler) Name() string { return "symplectic" }

func (s *SymplecticEuler) Step(dt float32, pos, vel, acc, posOut, velOut []dynamo.Vec3) error {
	if err := checkLengths(pos, vel, acc, posOut, velOut); err != nil {
		return err
	}
	for i := range pos {
		v := dynamo.Vec3{
			X: vel[i].X + acc[i].X*dt,
			Y: vel[i].Y + acc[i].Y*dt,
			Z: vel[i].Z + acc[i].Z*dt,
		}
		velOut[i] = v
		posOut[i] = dynamo.Vec3{
			X: pos[i].X + v.X*dt,
			Y: pos[i].Y + v.Y*dt,
			Z: pos[i].Z + v.Z*dt,
		}
	}
	return nil
}
