package cylinder

import (
	"context"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/optimize"

	"github.com/banshee-data/treegraph/internal/qsmerr"
)

// Default search settings.
const (
	DefaultRelativeTolerance = 1e-6
	DefaultAbsoluteTolerance = 1e-15
	DefaultStallIterations   = 50
	DefaultMaxIterations     = 2000
	DefaultMaxEvaluations    = 10000
)

// Objective is a scalar function of the search parameters.
type Objective func(x []float64) float64

// OptimizerResult is the best location a search reached.
type OptimizerResult struct {
	X           []float64
	F           float64
	Status      string
	Iterations  int
	Evaluations int
}

// Optimizer minimises an Objective without gradients. Implementations must
// be safe for concurrent use.
type Optimizer interface {
	Name() string
	Minimize(ctx context.Context, f Objective, x0 []float64) (OptimizerResult, error)
}

// Tolerances bound a search. Zero fields take the package defaults.
type Tolerances struct {
	Relative        float64
	Absolute        float64
	StallIterations int
	MaxIterations   int
	MaxEvaluations  int
	// Runtime bounds the wall-clock time of one search. Zero means no limit.
	Runtime time.Duration
}

func (t Tolerances) withDefaults() Tolerances {
	if t.Relative <= 0 {
		t.Relative = DefaultRelativeTolerance
	}
	if t.Absolute <= 0 {
		t.Absolute = DefaultAbsoluteTolerance
	}
	if t.StallIterations <= 0 {
		t.StallIterations = DefaultStallIterations
	}
	if t.MaxIterations <= 0 {
		t.MaxIterations = DefaultMaxIterations
	}
	if t.MaxEvaluations <= 0 {
		t.MaxEvaluations = DefaultMaxEvaluations
	}
	return t
}

// settings stops the search once the best value has stalled for
// StallIterations iterations.
func (t Tolerances) settings() *optimize.Settings {
	t = t.withDefaults()
	s := t.budgets()
	s.Converger = &optimize.FunctionConverge{
		Absolute:   t.Absolute,
		Relative:   t.Relative,
		Iterations: t.StallIterations,
	}
	return s
}

// budgets applies only the iteration, evaluation and runtime limits, leaving
// termination to the method itself.
func (t Tolerances) budgets() *optimize.Settings {
	t = t.withDefaults()
	return &optimize.Settings{
		Converger:       optimize.NeverTerminate{},
		MajorIterations: t.MaxIterations,
		FuncEvaluations: t.MaxEvaluations,
		Runtime:         t.Runtime,
	}
}

// NelderMead is the default derivative-free simplex search.
type NelderMead struct {
	Tolerances
	// SimplexSize is the edge of the initial simplex in radians. Zero uses
	// gonum's default.
	SimplexSize float64
}

func (*NelderMead) Name() string { return "nelder-mead" }

func (n *NelderMead) Minimize(ctx context.Context, f Objective, x0 []float64) (OptimizerResult, error) {
	method := &optimize.NelderMead{SimplexSize: n.SimplexSize}
	return run(ctx, n.Name(), f, x0, n.Tolerances.settings(), method)
}

// CMAES runs gonum's covariance matrix adaptation evolution strategy. It
// samples a population around the start point, so it is less prone to
// stalling in a local minimum than NelderMead at the cost of more
// evaluations.
//
// CMAES ends only when its covariance collapses (MethodConverge) or a
// budget runs out. Relative, Absolute and StallIterations are unused.
type CMAES struct {
	Tolerances
	StepSize   float64
	Population int
	Seed       uint64
}

func (*CMAES) Name() string { return "cmaes" }

func (c *CMAES) Minimize(ctx context.Context, f Objective, x0 []float64) (OptimizerResult, error) {
	method := &optimize.CmaEsChol{
		InitStepSize: c.StepSize,
		Population:   c.Population,
		Src:          rand.NewPCG(c.Seed, c.Seed^0x9e3779b97f4a7c15),
	}
	return run(ctx, c.Name(), f, x0, c.Tolerances.budgets(), method)
}

func run(ctx context.Context, name string, f Objective, x0 []float64, settings *optimize.Settings, method optimize.Method) (OptimizerResult, error) {
	problem := optimize.Problem{
		Func: f,
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}

	res, err := optimize.Minimize(problem, append([]float64(nil), x0...), settings, method)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return OptimizerResult{}, ctxErr
	}
	if res == nil {
		return OptimizerResult{}, qsmerr.NewNonConvergenceError(name, optimize.Failure.String(), 0, 0, err)
	}

	out := OptimizerResult{
		X:           res.X,
		F:           res.F,
		Status:      res.Status.String(),
		Iterations:  res.MajorIterations,
		Evaluations: res.FuncEvaluations,
	}
	if err != nil || res.Status.Early() {
		cause := err
		if cause == nil {
			cause = res.Status.Err()
		}
		return out, qsmerr.NewNonConvergenceError(name, out.Status, out.Iterations, out.Evaluations, cause)
	}
	return out, nil
}
