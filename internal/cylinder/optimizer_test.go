package cylinder

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/optimize"

	"github.com/banshee-data/treegraph/internal/config"
	"github.com/banshee-data/treegraph/internal/qsmerr"
)

func bowl(x []float64) float64 {
	return (x[0]-1)*(x[0]-1) + 2*(x[1]+0.5)*(x[1]+0.5)
}

func TestTolerancesDefaults(t *testing.T) {
	got := Tolerances{MaxIterations: 7}.withDefaults()
	want := Tolerances{
		Relative:        DefaultRelativeTolerance,
		Absolute:        DefaultAbsoluteTolerance,
		StallIterations: DefaultStallIterations,
		MaxIterations:   7,
		MaxEvaluations:  DefaultMaxEvaluations,
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestTolerancesBudgetsNeverStall(t *testing.T) {
	tol := Tolerances{MaxIterations: 9, MaxEvaluations: 90, Runtime: time.Second}

	b := tol.budgets()
	if _, ok := b.Converger.(optimize.NeverTerminate); !ok {
		t.Errorf("expected NeverTerminate converger, got %T", b.Converger)
	}
	if b.MajorIterations != 9 || b.FuncEvaluations != 90 || b.Runtime != time.Second {
		t.Errorf("expected budgets 9/90/1s, got %d/%d/%v", b.MajorIterations, b.FuncEvaluations, b.Runtime)
	}

	s := tol.settings()
	fc, ok := s.Converger.(*optimize.FunctionConverge)
	if !ok {
		t.Fatalf("expected *FunctionConverge, got %T", s.Converger)
	}
	if fc.Iterations != DefaultStallIterations {
		t.Errorf("expected stall window %d, got %d", DefaultStallIterations, fc.Iterations)
	}
	if s.MajorIterations != 9 {
		t.Errorf("expected iteration budget 9, got %d", s.MajorIterations)
	}
}

func TestNelderMead_Bowl(t *testing.T) {
	res, err := (&NelderMead{}).Minimize(context.Background(), bowl, []float64{0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(res.X[0]-1) > 1e-3 || math.Abs(res.X[1]+0.5) > 1e-3 {
		t.Errorf("expected minimum near (1, -0.5), got %v", res.X)
	}
	if res.F > 1e-6 {
		t.Errorf("expected F < 1e-6, got %g", res.F)
	}
	if res.Evaluations <= 0 {
		t.Errorf("expected evaluations to be counted, got %d", res.Evaluations)
	}
}

func TestCMAES_Bowl(t *testing.T) {
	for _, seed := range []uint64{3, 17} {
		res, err := (&CMAES{Seed: seed}).Minimize(context.Background(), bowl, []float64{0, 0})
		if err != nil {
			t.Fatalf("seed %d: unexpected error: %v", seed, err)
		}
		if res.Status != optimize.MethodConverge.String() {
			t.Errorf("seed %d: expected MethodConverge, got %s", seed, res.Status)
		}
		if res.F > 1e-8 {
			t.Errorf("seed %d: expected F < 1e-8, got %g", seed, res.F)
		}
	}
}

func TestCMAES_BudgetExhaustionIsNonConvergence(t *testing.T) {
	_, err := (&CMAES{Seed: 3, Tolerances: Tolerances{MaxIterations: 3}}).Minimize(context.Background(), bowl, []float64{0, 0})
	var nc *qsmerr.NonConvergenceError
	if !errors.As(err, &nc) {
		t.Fatalf("expected NonConvergenceError, got %v", err)
	}
	if nc.Method != "cmaes" || nc.Status != "IterationLimit" {
		t.Errorf("expected cmaes IterationLimit, got %s %s", nc.Method, nc.Status)
	}
}

func TestOptimizer_RuntimeLimit(t *testing.T) {
	slow := func(x []float64) float64 {
		time.Sleep(time.Millisecond)
		return bowl(x)
	}
	_, err := (&NelderMead{Tolerances: Tolerances{Runtime: time.Nanosecond}}).Minimize(context.Background(), slow, []float64{0, 0})
	if !errors.Is(err, qsmerr.ErrNonConvergence) {
		t.Fatalf("expected non-convergence, got %v", err)
	}
	var nc *qsmerr.NonConvergenceError
	if !errors.As(err, &nc) {
		t.Fatalf("expected NonConvergenceError, got %T", err)
	}
	if nc.Status != "RuntimeLimit" {
		t.Errorf("expected RuntimeLimit, got %s", nc.Status)
	}
}

func TestOptimizer_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, opt := range []Optimizer{&NelderMead{}, &CMAES{}} {
		if _, err := opt.Minimize(ctx, bowl, []float64{0, 0}); !errors.Is(err, context.Canceled) {
			t.Errorf("%s: expected context.Canceled, got %v", opt.Name(), err)
		}
	}
}

func TestOptimizer_NaNObjectiveDoesNotPanic(t *testing.T) {
	nan := func([]float64) float64 { return math.NaN() }
	_, err := (&NelderMead{Tolerances: Tolerances{MaxIterations: 5}}).Minimize(context.Background(), nan, []float64{0, 0})
	if err == nil {
		t.Error("expected an error for a NaN objective")
	}
}

func TestOptimizerFromConfig(t *testing.T) {
	cfg := config.EmptyTuningConfig()
	opt, err := OptimizerFromConfig(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opt.Name() != "nelder-mead" {
		t.Errorf("expected nelder-mead, got %s", opt.Name())
	}

	name := config.OptimizerCMAES
	cfg.FitOptimizer = &name
	opt, err = OptimizerFromConfig(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opt.Name() != "cmaes" {
		t.Errorf("expected cmaes, got %s", opt.Name())
	}

	bad := "simulated-annealing"
	cfg.FitOptimizer = &bad
	if _, err := OptimizerFromConfig(cfg); !errors.Is(err, qsmerr.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}
