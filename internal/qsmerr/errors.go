// Package qsmerr defines the failure taxonomy shared by the cylinder fitter
// and the voxel downsampler.
//
// Every failure is reported as one of four typed errors. Each type matches
// its sentinel through errors.Is, so callers can branch on the kind without
// caring about the details:
//
//	if errors.Is(err, qsmerr.ErrDegenerateInput) { ... }
//
// and can recover the details through errors.As.
package qsmerr

import (
	"errors"
	"fmt"
)

var (
	// ErrDegenerateInput marks inputs a fit cannot proceed on: too few
	// points, collinear or coincident points, or a singular second moment.
	ErrDegenerateInput = errors.New("degenerate input")

	// ErrNonConvergence marks an optimizer that stopped on a budget or a
	// failure status instead of meeting its tolerance.
	ErrNonConvergence = errors.New("optimizer did not converge")

	// ErrConfiguration marks invalid caller-supplied parameters.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrNoMergeTarget marks a sparse-voxel reassignment with no voxel
	// above the population threshold to merge into.
	ErrNoMergeTarget = errors.New("no merge target")
)

// DegenerateInputError reports why a point set cannot be fitted.
type DegenerateInputError struct {
	Points int
	Reason string
}

func (e *DegenerateInputError) Error() string {
	return fmt.Sprintf("degenerate input (%d points): %s", e.Points, e.Reason)
}

// Is reports whether target is ErrDegenerateInput.
func (e *DegenerateInputError) Is(target error) bool { return target == ErrDegenerateInput }

// NonConvergenceError reports the optimizer status that ended a search early.
//
// The underlying optimizer error (if any) can be accessed via errors.Unwrap.
type NonConvergenceError struct {
	Method      string
	Status      string
	Iterations  int
	Evaluations int
	cause       error
}

// NewNonConvergenceError builds a NonConvergenceError wrapping cause.
func NewNonConvergenceError(method, status string, iterations, evaluations int, cause error) *NonConvergenceError {
	return &NonConvergenceError{
		Method:      method,
		Status:      status,
		Iterations:  iterations,
		Evaluations: evaluations,
		cause:       cause,
	}
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf("%s did not converge: status %s after %d iterations (%d evaluations)",
		e.Method, e.Status, e.Iterations, e.Evaluations)
}

// Is reports whether target is ErrNonConvergence.
func (e *NonConvergenceError) Is(target error) bool { return target == ErrNonConvergence }

func (e *NonConvergenceError) Unwrap() error { return e.cause }

// ConfigurationError reports a rejected parameter.
type ConfigurationError struct {
	Field  string
	Value  interface{}
	Reason string
}

// Configf builds a ConfigurationError with a formatted reason.
func Configf(field string, value interface{}, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Field: field, Value: value, Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// NoMergeTargetError reports the sparse voxels that found nowhere to go.
type NoMergeTargetError struct {
	Threshold    int
	SparseVoxels int
	Stranded     int
	Neighbours   int
}

func (e *NoMergeTargetError) Error() string {
	if e.Stranded == e.SparseVoxels {
		return fmt.Sprintf("no voxel holds more than %d points (%d sparse voxels)",
			e.Threshold, e.SparseVoxels)
	}
	return fmt.Sprintf("%d of %d sparse voxels have no voxel with more than %d points among their %d nearest neighbours",
		e.Stranded, e.SparseVoxels, e.Threshold, e.Neighbours)
}

// Is reports whether target is ErrNoMergeTarget.
func (e *NoMergeTargetError) Is(target error) bool { return target == ErrNoMergeTarget }
