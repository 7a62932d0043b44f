package cylinder

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/treegraph/internal/geom"
	"github.com/banshee-data/treegraph/internal/monitoring"
	"github.com/banshee-data/treegraph/internal/qsmerr"
)

const (
	// MinPoints is the smallest point set a fit will accept.
	MinPoints = 3

	// DefaultParallelThreshold is the point count at which the objective
	// starts accumulating chunks concurrently.
	DefaultParallelThreshold = 8192

	// DefaultDegenerateTolerance is the ratio of the middle to the largest
	// covariance eigenvalue below which a point set is treated as collinear.
	DefaultDegenerateTolerance = 1e-10
)

// Cylinder is a fitted infinite cylinder.
type Cylinder struct {
	Direction r3.Vec  `json:"direction"` // unit axis direction
	Point     r3.Vec  `json:"point"`     // a point on the axis, in input coordinates
	Radius    float64 `json:"radius"`
	FitError  float64 `json:"fit_error"` // G at the optimum

	// Diagnostics of the winning search.
	Angles      geom.Angles `json:"angles"`
	Start       geom.Angles `json:"start"`
	Optimizer   string      `json:"optimizer"`
	Iterations  int         `json:"iterations"`
	Evaluations int         `json:"evaluations"`
}

// AxisDistance returns the perpendicular distance from p to the axis.
func (c Cylinder) AxisDistance(p r3.Vec) (float64, error) {
	return geom.PointLineDistance(p, c.Point, c.Direction)
}

// Residual returns the signed distance from p to the cylinder surface,
// positive outside.
func (c Cylinder) Residual(p r3.Vec) (float64, error) {
	d, err := c.AxisDistance(p)
	if err != nil {
		return 0, err
	}
	return d - c.Radius, nil
}

// Fitter fits cylinders with Eberly's least-squares method. A Fitter is
// immutable after construction and safe for concurrent use.
type Fitter struct {
	optimizer         Optimizer
	starts            []geom.Angles
	parallelThreshold int
	chunkSize         int
	degenerateTol     float64
}

// Option configures a Fitter.
type Option func(*Fitter)

// WithOptimizer replaces the default NelderMead search.
func WithOptimizer(o Optimizer) Option {
	return func(f *Fitter) {
		if o != nil {
			f.optimizer = o
		}
	}
}

// WithStarts sets the start angles used when Fit is given no guesses.
func WithStarts(starts ...geom.Angles) Option {
	return func(f *Fitter) {
		if len(starts) > 0 {
			f.starts = append([]geom.Angles(nil), starts...)
		}
	}
}

// WithParallelThreshold sets the point count at which objective
// evaluation goes concurrent. Zero disables concurrency.
func WithParallelThreshold(n int) Option {
	return func(f *Fitter) { f.parallelThreshold = n }
}

// WithChunkSize sets the number of points per partial sum.
func WithChunkSize(n int) Option {
	return func(f *Fitter) {
		if n > 0 {
			f.chunkSize = n
		}
	}
}

// WithDegenerateTolerance sets the collinearity threshold.
func WithDegenerateTolerance(tol float64) Option {
	return func(f *Fitter) {
		if tol > 0 {
			f.degenerateTol = tol
		}
	}
}

// NewFitter returns a Fitter with the given options applied over the
// defaults: NelderMead, a single start at (0, 0), concurrency from
// DefaultParallelThreshold points.
func NewFitter(opts ...Option) *Fitter {
	f := &Fitter{
		optimizer:         &NelderMead{},
		starts:            []geom.Angles{{Theta: 0, Phi: 0}},
		parallelThreshold: DefaultParallelThreshold,
		chunkSize:         DefaultChunkSize,
		degenerateTol:     DefaultDegenerateTolerance,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var defaultFitter = NewFitter()

// Fit fits a cylinder to points with the default Fitter.
func Fit(points []r3.Vec, guesses ...geom.Angles) (Cylinder, error) {
	return defaultFitter.Fit(context.Background(), points, guesses...)
}

// Fit returns the cylinder that best fits points in the least-squares
// sense. When guesses are given they replace the configured start angles.
// Every start is searched and the lowest objective wins; if every search
// fails, the first failure is returned.
func (f *Fitter) Fit(ctx context.Context, points []r3.Vec, guesses ...geom.Angles) (Cylinder, error) {
	if err := f.checkInput(points); err != nil {
		return Cylinder{}, err
	}

	centred, mean := geom.Center(points)
	obj := newObjective(centred, f.chunkSize, f.parallelThreshold)

	starts := f.starts
	if len(guesses) > 0 {
		starts = guesses
	}

	var (
		best      OptimizerResult
		bestStart geom.Angles
		found     bool
		firstErr  error
	)
	for i, s := range starts {
		res, err := f.optimizer.Minimize(ctx, obj.angles, []float64{s.Theta, s.Phi})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Cylinder{}, ctxErr
		}
		if err != nil {
			monitoring.Tracef("cylinder: start %d (θ=%.4f φ=%.4f) failed: %v", i, s.Theta, s.Phi, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		monitoring.Tracef("cylinder: start %d (θ=%.4f φ=%.4f) %s G=%.6g after %d iterations",
			i, s.Theta, s.Phi, res.Status, res.F, res.Iterations)
		if !found || res.F < best.F {
			best, bestStart, found = res, s, true
		}
	}
	if !found {
		return Cylinder{}, firstErr
	}

	w := geom.Direction(best.X[0], best.X[1])
	c, tr, ok := obj.center(w)
	if !ok || math.IsInf(best.F, 0) || math.IsNaN(best.F) {
		return Cylinder{}, &qsmerr.DegenerateInputError{
			Points: len(points),
			Reason: fmt.Sprintf("trace(Â·A) = %g at the optimum; points are collinear about every axis", tr),
		}
	}

	return Cylinder{
		Direction:   w,
		Point:       r3.Add(c, mean),
		Radius:      obj.radius(w, c),
		FitError:    best.F,
		Angles:      geom.AnglesOf(w),
		Start:       bestStart,
		Optimizer:   f.optimizer.Name(),
		Iterations:  best.Iterations,
		Evaluations: best.Evaluations,
	}, nil
}

func (f *Fitter) checkInput(points []r3.Vec) error {
	if len(points) < MinPoints {
		return &qsmerr.DegenerateInputError{
			Points: len(points),
			Reason: fmt.Sprintf("need at least %d points", MinPoints),
		}
	}
	for i, p := range points {
		if math.IsNaN(p.X+p.Y+p.Z) || math.IsInf(p.X+p.Y+p.Z, 0) {
			return &qsmerr.DegenerateInputError{
				Points: len(points),
				Reason: fmt.Sprintf("point %d is not finite", i),
			}
		}
	}
	ev, err := geom.Spread(points)
	if err != nil {
		return err
	}
	switch {
	case ev[2] <= 0:
		return &qsmerr.DegenerateInputError{Points: len(points), Reason: "all points coincide"}
	case ev[1] <= f.degenerateTol*ev[2]:
		return &qsmerr.DegenerateInputError{Points: len(points), Reason: "points are collinear"}
	}
	return nil
}
