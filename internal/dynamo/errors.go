package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for simulation operations.
var (
	// ErrInvalidConfig indicates a configuration value outside its valid range.
	ErrInvalidConfig = errors.New("dynamo: invalid configuration")

	// ErrInvalidState indicates a configuration with NaN/Inf coordinates or a
	// blob centre below the wall.
	ErrInvalidState = errors.New("dynamo: invalid state")

	// ErrNotConverged indicates the Krylov solver hit its iteration limit
	// before reaching the requested tolerance.
	ErrNotConverged = errors.New("dynamo: linear solver did not converge")

	// ErrNotPositiveDefinite indicates a mobility block that could not be
	// factorized.
	ErrNotPositiveDefinite = errors.New("dynamo: mobility not positive definite")

	// ErrBackendUnavailable indicates a kernel backend that is not built in
	// or not usable on this host.
	ErrBackendUnavailable = errors.New("dynamo: backend unavailable")

	// ErrStructure indicates a malformed or missing structure file.
	ErrStructure = errors.New("dynamo: invalid structure")

	// ErrDimensionMismatch indicates vectors whose length does not match the
	// operator they are passed to.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch")
)

// StepError wraps an error with the step index and component that failed.
type StepError struct {
	Step      int
	Time      float64
	Component string
	Wrapped   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (t=%.4f) %s: %v", e.Step, e.Time, e.Component, e.Wrapped)
}

func (e *StepError) Unwrap() error {
	return e.Wrapped
}
