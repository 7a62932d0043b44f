// Package qsm exposes the cylinder fitter and voxel downsampler used to
// build quantitative structure models of trees from point clouds.
//
// Points are r3.Vec values. Every call works on the slices it is given and
// never modifies them. The only process-wide state is the trace switch
// behind SetVerbose.
package qsm

import (
	"context"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/treegraph/internal/config"
	"github.com/banshee-data/treegraph/internal/cylinder"
	"github.com/banshee-data/treegraph/internal/geom"
	"github.com/banshee-data/treegraph/internal/monitoring"
	"github.com/banshee-data/treegraph/internal/qsmerr"
	"github.com/banshee-data/treegraph/internal/voxel"
)

type (
	// Point is a position in 3D space.
	Point = r3.Vec
	// Angles is an axis direction in spherical coordinates.
	Angles = geom.Angles
	// Cylinder is a fitted cylinder.
	Cylinder = cylinder.Cylinder
	// Fitter fits cylinders with a fixed optimizer and start angles.
	Fitter = cylinder.Fitter
	// Result is an annotated copy of a downsampled point set.
	Result = voxel.Result
	// SparsePolicy decides what happens to a sparse voxel with no dense
	// neighbour.
	SparsePolicy = voxel.SparsePolicy
	// Config holds tuning parameters loaded from JSON.
	Config = config.TuningConfig

	DegenerateInputError = qsmerr.DegenerateInputError
	NonConvergenceError  = qsmerr.NonConvergenceError
	ConfigurationError   = qsmerr.ConfigurationError
	NoMergeTargetError   = qsmerr.NoMergeTargetError
)

const (
	SparsePolicyFail = voxel.SparsePolicyFail
	SparsePolicyKeep = voxel.SparsePolicyKeep
)

var (
	ErrDegenerateInput = qsmerr.ErrDegenerateInput
	ErrNonConvergence  = qsmerr.ErrNonConvergence
	ErrConfiguration   = qsmerr.ErrConfiguration
	ErrNoMergeTarget   = qsmerr.ErrNoMergeTarget
)

// FitCylinder fits a cylinder to points. Any guesses replace the default
// start direction (θ, φ) = (0, 0).
func FitCylinder(points []Point, guess ...Angles) (Cylinder, error) {
	return cylinder.Fit(points, guess...)
}

// FitCylinderContext is FitCylinder with cancellation.
func FitCylinderContext(ctx context.Context, points []Point, guess ...Angles) (Cylinder, error) {
	return cylinder.NewFitter().Fit(ctx, points, guess...)
}

// LoadConfig reads a tuning file. Omitted keys take their defaults.
func LoadConfig(path string) (*Config, error) {
	return config.LoadTuningConfig(path)
}

// NewFitter returns a Fitter configured from cfg. A nil cfg gives the
// defaults. The config's verbose key is not applied; see SetVerbose.
func NewFitter(cfg *Config) (*Fitter, error) {
	opts, err := cylinder.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return cylinder.NewFitter(opts...), nil
}

// SetVerbose turns per-step trace logging on or off for the whole process.
func SetVerbose(on bool) { monitoring.SetVerbose(on) }

// DownsampleOption adjusts a DownsamplePoints call.
type DownsampleOption func(*voxel.Params) error

// WithSparseVoxelRemoval merges voxels holding at most minPoints points
// into their nearest denser neighbour before representatives are chosen.
func WithSparseVoxelRemoval(minPoints int) DownsampleOption {
	return func(p *voxel.Params) error {
		p.RemoveSparseVoxels = true
		p.MinPointsPerVoxel = minPoints
		return nil
	}
}

// WithNeighbours sets how many nearest voxels are searched for a merge
// target.
func WithNeighbours(k int) DownsampleOption {
	return func(p *voxel.Params) error {
		p.Neighbours = k
		return nil
	}
}

// WithSparsePolicy sets the handling of sparse voxels with no dense
// neighbour among the searched ones.
func WithSparsePolicy(policy SparsePolicy) DownsampleOption {
	return func(p *voxel.Params) error {
		p.SparsePolicy = policy
		return nil
	}
}

// WithConfig applies the voxel keys of cfg except the edge length, which
// is always the DownsamplePoints argument. An unknown sparse_voxel_policy
// is reported as a ConfigurationError.
func WithConfig(cfg *Config) DownsampleOption {
	return func(p *voxel.Params) error {
		if cfg == nil {
			return nil
		}
		policy, err := voxel.ParseSparsePolicy(cfg.GetSparseVoxelPolicy())
		if err != nil {
			return err
		}
		p.RemoveSparseVoxels = cfg.GetRemoveSparseVoxels()
		p.MinPointsPerVoxel = cfg.GetMinPointsPerVoxel()
		p.Neighbours = cfg.GetVoxelNeighbours()
		p.SparsePolicy = policy
		return nil
	}
}

// DownsamplePoints marks one representative point per voxel of edge
// edgeLength and moves baseIndex to the nearest kept point. Sparse voxel
// removal is off by default with a threshold of one point.
func DownsamplePoints(points []Point, baseIndex int, edgeLength float64, opts ...DownsampleOption) (Result, error) {
	params := voxel.DefaultParams(edgeLength)
	for _, opt := range opts {
		if err := opt(&params); err != nil {
			return Result{}, err
		}
	}
	return voxel.Downsample(points, baseIndex, params)
}
