package integrators

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/nbodycl/internal/dynamo"
)

// Integrator turns (state, accelerations) into the next state. It reads
// the inputs and writes only posOut and velOut.
type Integrator interface {
	Name() string
	Step(dt float32, pos, vel, acc, posOut, velOut []dynamo.Vec3) error
}

var registry = map[string]func() Integrator{
	"euler":      func() Integrator { return NewEuler() },
	"symplectic": func() Integrator { return NewSymplecticEuler() },
}

func ByName(name string) (Integrator, error) {
	if name == "" {
		name = "euler"
	}
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown integrator: %s (available: %v)", name, Names())
	}
	return fn(), nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidDt reports whether dt can be used as a step size.
func ValidDt(dt float32) bool {
	return dt > 0 && !math.IsInf(float64(dt), 0)
}

func checkLengths(pos, vel, acc, posOut, velOut []dynamo.Vec3) error {
	n := len(pos)
	if len(vel) != n || len(acc) != n || len(posOut) != n || len(velOut) != n {
		return fmt.Errorf("%w: pos=%d vel=%d acc=%d posOut=%d velOut=%d",
			dynamo.ErrSizeMismatch, n, len(vel), len(acc), len(posOut), len(velOut))
	}
	return nil
}
