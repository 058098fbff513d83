package integrators

import "github.com/san-kum/nbodycl/internal/dynamo"

// Euler advances position with the previous velocity and velocity with the
// fresh acceleration:
//
//	x' = x + v*dt
//	v' = v + a*dt
type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Name() string { return "euler" }

func (e *Euler) Step(dt float32, pos, vel, acc, posOut, velOut []dynamo.Vec3) error {
	if err := checkLengths(pos, vel, acc, posOut, velOut); err != nil {
		return err
	}
	for i := range pos {
		posOut[i] = dynamo.Vec3{
			X: pos[i].X + vel[i].X*dt,
			Y: pos[i].Y + vel[i].Y*dt,
			Z: pos[i].Z + vel[i].Z*dt,
		}
		velOut[i] = dynamo.Vec3{
			X: vel[i].X + acc[i].X*dt,
			Y: vel[i].Y + acc[i].Y*dt,
			Z: vel[i].Z + acc[i].Z*dt,
		}
	}
	return nil
}
