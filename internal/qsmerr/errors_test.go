package qsmerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorsMatchTheirSentinels(t *testing.T) {
	cause := errors.New("optimize: maximum number of major iterations reached")
	testCases := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"degenerate", &DegenerateInputError{Points: 2, Reason: "need at least 3 points"}, ErrDegenerateInput},
		{"non_convergence", NewNonConvergenceError("nelder-mead", "IterationLimit", 10, 31, cause), ErrNonConvergence},
		{"configuration", Configf("edge_length", 0.0, "must be positive"), ErrConfiguration},
		{"no_merge_target", &NoMergeTargetError{Threshold: 5, SparseVoxels: 3, Stranded: 3, Neighbours: 10}, ErrNoMergeTarget},
	}

	sentinels := []error{ErrDegenerateInput, ErrNonConvergence, ErrConfiguration, ErrNoMergeTarget}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := fmt.Errorf("fitting segment 7: %w", tc.err)
			for _, s := range sentinels {
				got := errors.Is(wrapped, s)
				if want := s == tc.sentinel; got != want {
					t.Errorf("errors.Is(%v, %v) = %v, want %v", wrapped, s, got, want)
				}
			}
		})
	}
}

func TestNonConvergenceErrorUnwrap(t *testing.T) {
	cause := errors.New("optimize: maximum number of function evaluations reached")
	err := NewNonConvergenceError("nelder-mead", "FunctionEvaluationLimit", 4, 20, cause)

	if !errors.Is(err, cause) {
		t.Errorf("expected cause to be reachable through Unwrap")
	}

	var nce *NonConvergenceError
	if !errors.As(fmt.Errorf("wrapped: %w", err), &nce) {
		t.Fatalf("expected errors.As to find *NonConvergenceError")
	}
	if nce.Evaluations != 20 {
		t.Errorf("expected Evaluations=20, got %d", nce.Evaluations)
	}
}

func TestNoMergeTargetErrorMessage(t *testing.T) {
	all := &NoMergeTargetError{Threshold: 5, SparseVoxels: 4, Stranded: 4, Neighbours: 10}
	if !strings.Contains(all.Error(), "no voxel holds more than 5 points") {
		t.Errorf("unexpected message: %q", all.Error())
	}

	some := &NoMergeTargetError{Threshold: 5, SparseVoxels: 4, Stranded: 1, Neighbours: 10}
	if !strings.Contains(some.Error(), "1 of 4 sparse voxels") {
		t.Errorf("unexpected message: %q", some.Error())
	}
}
