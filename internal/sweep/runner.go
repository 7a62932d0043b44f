// Package sweep runs the downsample-and-fit pipeline over a grid of voxel
// and fitter parameters and summarises each combination.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/treegraph/internal/cylinder"
	"github.com/banshee-data/treegraph/internal/geom"
	"github.com/banshee-data/treegraph/internal/monitoring"
	"github.com/banshee-data/treegraph/internal/qsmerr"
	"github.com/banshee-data/treegraph/internal/timeutil"
	"github.com/banshee-data/treegraph/internal/voxel"
)

// Status represents the current state of a sweep run.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// Failure kinds counted in ComboResult.Failures.
const (
	FailureDegenerate     = "degenerate_input"
	FailureNonConvergence = "non_convergence"
	FailureConfiguration  = "configuration"
	FailureNoMergeTarget  = "no_merge_target"
	FailureOther          = "other"
)

// ErrAlreadyRunning is returned by Run while another sweep is in progress.
var ErrAlreadyRunning = errors.New("sweep already running")

// Request defines the parameter grid of a sweep. Empty dimensions take a
// single default value: MinPoints 1, RemoveSparse false and StartAngles
// the fitter's configured starts.
type Request struct {
	EdgeLengths  []float64       `json:"edge_lengths"`
	MinPoints    []int           `json:"min_points,omitempty"`
	RemoveSparse []bool          `json:"remove_sparse,omitempty"`
	StartAngles  [][]geom.Angles `json:"start_angles,omitempty"`

	// Workers bounds concurrent combinations. Zero means GOMAXPROCS.
	Workers int `json:"workers,omitempty"`
}

// Combo is one point of the parameter grid.
type Combo struct {
	Index        int           `json:"index"`
	EdgeLength   float64       `json:"edge_length"`
	MinPoints    int           `json:"min_points"`
	RemoveSparse bool          `json:"remove_sparse"`
	StartAngles  []geom.Angles `json:"start_angles,omitempty"`
}

// Combos enumerates the cartesian product of the request in row-major
// order: edge length varies slowest, start angles fastest.
func (r Request) Combos() ([]Combo, error) {
	if len(r.EdgeLengths) == 0 {
		return nil, qsmerr.Configf("edge_lengths", nil, "at least one edge length is required")
	}
	if r.Workers < 0 {
		return nil, qsmerr.Configf("workers", r.Workers, "must be non-negative")
	}
	minPts := r.MinPoints
	if len(minPts) == 0 {
		minPts = []int{1}
	}
	remove := r.RemoveSparse
	if len(remove) == 0 {
		remove = []bool{false}
	}
	starts := r.StartAngles
	if len(starts) == 0 {
		starts = [][]geom.Angles{nil}
	}

	total := int64(1)
	for _, n := range []int{len(r.EdgeLengths), len(minPts), len(remove), len(starts)} {
		total *= int64(n)
		if total > maxValues {
			return nil, qsmerr.Configf("request", total, "parameter combinations would exceed safe limit of %d", maxValues)
		}
	}

	out := make([]Combo, 0, total)
	for _, e := range r.EdgeLengths {
		for _, m := range minPts {
			for _, rm := range remove {
				for _, s := range starts {
					out = append(out, Combo{
						Index:        len(out),
						EdgeLength:   e,
						MinPoints:    m,
						RemoveSparse: rm,
						StartAngles:  s,
					})
				}
			}
		}
	}
	return out, nil
}

// ComboResult summarises one combination.
type ComboResult struct {
	Combo

	KeptPoints     int     `json:"kept_points"`
	Voxels         int     `json:"voxels"`
	Reassigned     int     `json:"reassigned"`
	Stranded       int     `json:"stranded"`
	BaseIndex      int     `json:"base_index"`
	ReductionRatio float64 `json:"reduction_ratio"` // kept / total

	Fitted       int            `json:"fitted"`
	RadiusMean   float64        `json:"radius_mean"`
	RadiusStddev float64        `json:"radius_stddev"`
	FitErrorMean float64        `json:"fit_error_mean"`
	Failures     map[string]int `json:"failures,omitempty"`

	// Error is set when downsampling failed and nothing was fitted.
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// State holds the current state and results of a sweep.
type State struct {
	ID              string        `json:"id"`
	Status          Status        `json:"status"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	TotalCombos     int           `json:"total_combos"`
	CompletedCombos int           `json:"completed_combos"`
	Results         []ComboResult `json:"results"`
	Error           string        `json:"error,omitempty"`
	Warnings        []string      `json:"warnings,omitempty"`
	Request         *Request      `json:"request,omitempty"`
}

// Store persists sweeps as they run. Calls are serialised by the Runner.
type Store interface {
	InsertSweep(ctx context.Context, id string, req Request, startedAt time.Time) error
	InsertComboResult(ctx context.Context, sweepID string, res ComboResult) error
	CompleteSweep(ctx context.Context, id string, status Status, errMsg string, completedAt time.Time) error
}

// Runner orchestrates parameter sweeps.
type Runner struct {
	fitter      *cylinder.Fitter
	downsampler voxel.Downsampler
	base        voxel.Params
	store       Store
	clock       timeutil.Clock

	mu      sync.RWMutex
	state   State
	cancel  context.CancelFunc
	storeMu sync.Mutex
}

// NewRunner creates a sweep runner. base supplies the voxel parameters a
// combination does not set (neighbour count and sparse policy). A nil
// fitter uses cylinder defaults and a nil store disables persistence.
func NewRunner(fitter *cylinder.Fitter, base voxel.Params, store Store) *Runner {
	if fitter == nil {
		fitter = cylinder.NewFitter()
	}
	return &Runner{
		fitter: fitter,
		base:   base,
		store:  store,
		clock:  timeutil.RealClock{},
		state:  State{Status: StatusIdle},
	}
}

// SetClock replaces the clock used for timestamps and elapsed times.
func (r *Runner) SetClock(c timeutil.Clock) { r.clock = c }

// SetDownsampler replaces the downsampler used for each combination.
func (r *Runner) SetDownsampler(d voxel.Downsampler) { r.downsampler = d }

// GetState returns a copy of the current sweep state.
func (r *Runner) GetState() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state := r.state
	state.Results = append([]ComboResult(nil), r.state.Results...)
	state.Warnings = append([]string(nil), r.state.Warnings...)
	return state
}

// Stop cancels a running sweep.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *Runner) addWarning(msg string) {
	r.mu.Lock()
	r.state.Warnings = append(r.state.Warnings, msg)
	r.mu.Unlock()
	monitoring.Logf("sweep: %s", msg)
}

// Run downsamples points once per combination and fits a cylinder to the
// kept members of each cluster. Clusters index into points; a nil clusters
// fits the whole kept set as one cluster. Run blocks until every combination
// has finished and returns the final state. Per-combination failures are
// recorded in the results; Run itself fails only on an invalid request, a
// cancelled context or a store error.
func (r *Runner) Run(ctx context.Context, points []r3.Vec, baseIndex int, clusters [][]int, req Request) (State, error) {
	combos, err := req.Combos()
	if err != nil {
		return r.GetState(), err
	}
	if clusters == nil {
		all := make([]int, len(points))
		for i := range all {
			all[i] = i
		}
		clusters = [][]int{all}
	}
	for ci, c := range clusters {
		for _, i := range c {
			if i < 0 || i >= len(points) {
				return r.GetState(), qsmerr.Configf(fmt.Sprintf("clusters[%d]", ci), i, "index out of range [0, %d)", len(points))
			}
		}
	}

	r.mu.Lock()
	if r.state.Status == StatusRunning {
		r.mu.Unlock()
		return r.GetState(), ErrAlreadyRunning
	}
	started := r.clock.Now()
	reqCopy := req
	r.state = State{
		ID:          uuid.NewString(),
		Status:      StatusRunning,
		StartedAt:   &started,
		TotalCombos: len(combos),
		Results:     make([]ComboResult, len(combos)),
		Request:     &reqCopy,
	}
	id := r.state.ID
	sweepCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	monitoring.Logf("sweep %s: %d combinations over %d points, %d clusters", id, len(combos), len(points), len(clusters))

	if err := r.persist(func() error { return r.store.InsertSweep(sweepCtx, id, req, started) }); err != nil {
		return r.finish(id, fmt.Errorf("recording sweep: %w", err))
	}

	workers := req.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	eg, egCtx := errgroup.WithContext(sweepCtx)
	eg.SetLimit(workers)
	for _, c := range combos {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			res, err := r.runCombo(egCtx, c, points, baseIndex, clusters)
			if err != nil {
				return err
			}
			if err := r.persist(func() error { return r.store.InsertComboResult(egCtx, id, res) }); err != nil {
				return fmt.Errorf("recording combo %d: %w", c.Index, err)
			}
			r.mu.Lock()
			r.state.Results[c.Index] = res
			r.state.CompletedCombos++
			r.mu.Unlock()
			monitoring.Tracef("sweep %s: combo %d done (edge=%g kept=%d fitted=%d)", id, c.Index, c.EdgeLength, res.KeptPoints, res.Fitted)
			return nil
		})
	}
	return r.finish(id, eg.Wait())
}

// finish moves the sweep to its terminal status and records it.
func (r *Runner) finish(id string, runErr error) (State, error) {
	completed := r.clock.Now()
	status, msg := StatusComplete, ""
	if runErr != nil {
		status, msg = StatusError, runErr.Error()
	}
	r.mu.Lock()
	r.state.Status = status
	r.state.CompletedAt = &completed
	r.state.Error = msg
	if status == StatusError {
		r.state.Results = r.state.Results[:0:0]
	}
	r.cancel = nil
	r.mu.Unlock()

	// The run context may already be cancelled; completion is still recorded.
	if err := r.persist(func() error {
		return r.store.CompleteSweep(context.Background(), id, status, msg, completed)
	}); err != nil {
		r.addWarning(fmt.Sprintf("recording completion of %s: %v", id, err))
	}
	monitoring.Logf("sweep %s: %s", id, status)
	return r.GetState(), runErr
}

func (r *Runner) persist(f func() error) error {
	if r.store == nil {
		return nil
	}
	r.storeMu.Lock()
	defer r.storeMu.Unlock()
	return f()
}

func (r *Runner) runCombo(ctx context.Context, c Combo, points []r3.Vec, baseIndex int, clusters [][]int) (ComboResult, error) {
	start := r.clock.Now()
	res := ComboResult{Combo: c}

	params := r.base
	params.EdgeLength = c.EdgeLength
	params.MinPointsPerVoxel = c.MinPoints
	params.RemoveSparseVoxels = c.RemoveSparse

	ds, err := r.downsampler.Downsample(points, baseIndex, params)
	if err != nil {
		res.Error = err.Error()
		res.Failures = map[string]int{failureKind(err): 1}
		res.Elapsed = r.clock.Since(start)
		return res, nil
	}
	kept := ds.KeptIndices()
	res.KeptPoints = len(kept)
	res.Voxels = ds.Voxels
	res.Reassigned = ds.Reassigned
	res.Stranded = ds.Stranded
	res.BaseIndex = ds.BaseIndex
	res.ReductionRatio = float64(len(kept)) / float64(len(points))

	var radii, fitErrs []float64
	for _, cluster := range clusters {
		var members []r3.Vec
		for _, i := range cluster {
			if ds.Kept[i] {
				members = append(members, points[i])
			}
		}
		cyl, err := r.fitter.Fit(ctx, members, c.StartAngles...)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ComboResult{}, ctxErr
			}
			if res.Failures == nil {
				res.Failures = make(map[string]int)
			}
			res.Failures[failureKind(err)]++
			continue
		}
		radii = append(radii, cyl.Radius)
		fitErrs = append(fitErrs, cyl.FitError)
	}
	res.Fitted = len(radii)
	res.RadiusMean, res.RadiusStddev = MeanStddev(radii)
	res.FitErrorMean, _ = MeanStddev(fitErrs)
	res.Elapsed = r.clock.Since(start)
	return res, nil
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, qsmerr.ErrDegenerateInput):
		return FailureDegenerate
	case errors.Is(err, qsmerr.ErrNonConvergence):
		return FailureNonConvergence
	case errors.Is(err, qsmerr.ErrConfiguration):
		return FailureConfiguration
	case errors.Is(err, qsmerr.ErrNoMergeTarget):
		return FailureNoMergeTarget
	default:
		return FailureOther
	}
}
