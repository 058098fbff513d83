package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for simulation operations.
var (
	// ErrInvalidCount indicates a particle count that is zero or negative.
	ErrInvalidCount = errors.New("dynamo: particle count must be positive")

	// ErrSizeMismatch indicates buffers whose lengths disagree with N.
	ErrSizeMismatch = errors.New("dynamo: buffer size mismatch")

	// ErrReleased indicates use of a buffer or resource after release.
	ErrReleased = errors.New("dynamo: resource already released")

	// ErrInvalidDt indicates a non-positive or non-finite time step.
	ErrInvalidDt = errors.New("dynamo: time step must be positive and finite")

	// ErrInvalidG indicates a gravitational constant that is not positive
	// and finite.
	ErrInvalidG = errors.New("dynamo: gravitational constant must be positive and finite")

	// ErrNonFinite indicates NaN or Inf in an input position or mass.
	ErrNonFinite = errors.New("dynamo: non-finite value in population")
)

// Phase names one stage of a simulation step.
type Phase string

const (
	PhaseAllocate  Phase = "allocate"
	PhaseUpload    Phase = "upload"
	PhaseBind      Phase = "bind"
	PhaseDispatch  Phase = "dispatch"
	PhaseFence     Phase = "fence"
	PhaseReadback  Phase = "readback"
	PhaseIntegrate Phase = "integrate"
)

// StageError wraps an error with the phase and step that produced it.
type StageError struct {
	Phase   Phase
	Step    int
	Wrapped error
}

func (e *StageError) Error() string {
	if e.Step < 0 {
		return fmt.Sprintf("%s: %v", e.Phase, e.Wrapped)
	}
	return fmt.Sprintf("step %d: %s: %v", e.Step, e.Phase, e.Wrapped)
}

func (e *StageError) Unwrap() error {
	return e.Wrapped
}

// PhaseOf reports the failing phase of err, if it carries one.
func PhaseOf(err error) (Phase, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Phase, true
	}
	return "", false
}
