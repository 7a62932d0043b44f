package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/treegraph/internal/qsmerr"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Sparse voxel policies accepted by sparse_voxel_policy.
const (
	SparsePolicyFail = "fail"
	SparsePolicyKeep = "keep"
)

// Optimizers accepted by fit_optimizer.
const (
	OptimizerNelderMead = "nelder-mead"
	OptimizerCMAES      = "cmaes"
)

// StartAngle is one (θ, φ) starting direction for the cylinder search,
// in radians.
type StartAngle struct {
	Theta float64 `json:"theta"`
	Phi   float64 `json:"phi"`
}

// TuningConfig represents the root configuration for downsampling and
// cylinder fitting. Every field is optional; the Get* accessors return the
// built-in default for any field the JSON omits.
type TuningConfig struct {
	// Voxel downsampling
	VoxelEdgeLength    *float64 `json:"voxel_edge_length,omitempty"`
	RemoveSparseVoxels *bool    `json:"remove_sparse_voxels,omitempty"`
	MinPointsPerVoxel  *int     `json:"min_points_per_voxel,omitempty"`
	VoxelNeighbours    *int     `json:"voxel_neighbours,omitempty"`
	SparseVoxelPolicy  *string  `json:"sparse_voxel_policy,omitempty"` // "fail" or "keep"

	// Cylinder fitting
	FitOptimizer         *string      `json:"fit_optimizer,omitempty"` // "nelder-mead" or "cmaes"
	FitRelativeTolerance *float64     `json:"fit_relative_tolerance,omitempty"`
	FitAbsoluteTolerance *float64     `json:"fit_absolute_tolerance,omitempty"`
	FitMaxIterations     *int         `json:"fit_max_iterations,omitempty"`
	FitMaxEvaluations    *int         `json:"fit_max_evaluations,omitempty"`
	FitTimeout           *string      `json:"fit_timeout,omitempty"` // duration string like "2s"; "0s" disables
	FitStartAngles       []StartAngle `json:"fit_start_angles,omitempty"`
	FitParallelThreshold *int         `json:"fit_parallel_threshold,omitempty"`

	Verbose *bool `json:"verbose,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,          // from cmd/qsm-sweep/ or pkg/qsm/
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // deeper packages
		"../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Failures are
// *qsmerr.ConfigurationError values naming the offending key.
func (c *TuningConfig) Validate() error {
	if c.VoxelEdgeLength != nil {
		if v := *c.VoxelEdgeLength; !(v > 0) || math.IsInf(v, 0) {
			return qsmerr.Configf("voxel_edge_length", v, "must be a positive finite number")
		}
	}

	if c.MinPointsPerVoxel != nil && *c.MinPointsPerVoxel < 0 {
		return qsmerr.Configf("min_points_per_voxel", *c.MinPointsPerVoxel, "must be non-negative")
	}

	if c.VoxelNeighbours != nil && *c.VoxelNeighbours < 1 {
		return qsmerr.Configf("voxel_neighbours", *c.VoxelNeighbours, "must be at least 1")
	}

	if c.SparseVoxelPolicy != nil {
		switch *c.SparseVoxelPolicy {
		case SparsePolicyFail, SparsePolicyKeep:
		default:
			return qsmerr.Configf("sparse_voxel_policy", *c.SparseVoxelPolicy,
				"must be %q or %q", SparsePolicyFail, SparsePolicyKeep)
		}
	}

	if c.FitOptimizer != nil {
		switch *c.FitOptimizer {
		case OptimizerNelderMead, OptimizerCMAES:
		default:
			return qsmerr.Configf("fit_optimizer", *c.FitOptimizer,
				"must be %q or %q", OptimizerNelderMead, OptimizerCMAES)
		}
	}

	if c.FitRelativeTolerance != nil && !(*c.FitRelativeTolerance > 0) {
		return qsmerr.Configf("fit_relative_tolerance", *c.FitRelativeTolerance, "must be positive")
	}
	if c.FitAbsoluteTolerance != nil && *c.FitAbsoluteTolerance < 0 {
		return qsmerr.Configf("fit_absolute_tolerance", *c.FitAbsoluteTolerance, "must be non-negative")
	}
	if c.FitMaxIterations != nil && *c.FitMaxIterations < 1 {
		return qsmerr.Configf("fit_max_iterations", *c.FitMaxIterations, "must be at least 1")
	}
	if c.FitMaxEvaluations != nil && *c.FitMaxEvaluations < 1 {
		return qsmerr.Configf("fit_max_evaluations", *c.FitMaxEvaluations, "must be at least 1")
	}
	if c.FitParallelThreshold != nil && *c.FitParallelThreshold < 0 {
		return qsmerr.Configf("fit_parallel_threshold", *c.FitParallelThreshold, "must be non-negative")
	}

	if c.FitTimeout != nil && *c.FitTimeout != "" {
		d, err := time.ParseDuration(*c.FitTimeout)
		if err != nil {
			return qsmerr.Configf("fit_timeout", *c.FitTimeout, "%v", err)
		}
		if d < 0 {
			return qsmerr.Configf("fit_timeout", *c.FitTimeout, "must be non-negative")
		}
	}

	for i, a := range c.FitStartAngles {
		if math.IsNaN(a.Theta) || math.IsNaN(a.Phi) || math.IsInf(a.Theta, 0) || math.IsInf(a.Phi, 0) {
			return qsmerr.Configf(fmt.Sprintf("fit_start_angles[%d]", i), a, "must be finite")
		}
	}

	return nil
}

// GetVoxelEdgeLength returns the voxel_edge_length value or the default.
func (c *TuningConfig) GetVoxelEdgeLength() float64 {
	if c.VoxelEdgeLength == nil {
		return 0.02
	}
	return *c.VoxelEdgeLength
}

// GetRemoveSparseVoxels returns the remove_sparse_voxels value or the default.
func (c *TuningConfig) GetRemoveSparseVoxels() bool {
	if c.RemoveSparseVoxels == nil {
		return false // default: sparse voxels kept as-is
	}
	return *c.RemoveSparseVoxels
}

// GetMinPointsPerVoxel returns the min_points_per_voxel value or the default.
func (c *TuningConfig) GetMinPointsPerVoxel() int {
	if c.MinPointsPerVoxel == nil {
		return 1
	}
	return *c.MinPointsPerVoxel
}

// GetVoxelNeighbours returns the voxel_neighbours value or the default.
func (c *TuningConfig) GetVoxelNeighbours() int {
	if c.VoxelNeighbours == nil {
		return 10
	}
	return *c.VoxelNeighbours
}

// GetSparseVoxelPolicy returns the sparse_voxel_policy value or the default.
func (c *TuningConfig) GetSparseVoxelPolicy() string {
	if c.SparseVoxelPolicy == nil || *c.SparseVoxelPolicy == "" {
		return SparsePolicyFail
	}
	return *c.SparseVoxelPolicy
}

// GetFitOptimizer returns the fit_optimizer value or the default.
func (c *TuningConfig) GetFitOptimizer() string {
	if c.FitOptimizer == nil || *c.FitOptimizer == "" {
		return OptimizerNelderMead
	}
	return *c.FitOptimizer
}

// GetFitRelativeTolerance returns the fit_relative_tolerance value or the default.
func (c *TuningConfig) GetFitRelativeTolerance() float64 {
	if c.FitRelativeTolerance == nil {
		return 1e-6
	}
	return *c.FitRelativeTolerance
}

// GetFitAbsoluteTolerance returns the fit_absolute_tolerance value or the default.
func (c *TuningConfig) GetFitAbsoluteTolerance() float64 {
	if c.FitAbsoluteTolerance == nil {
		return 1e-15
	}
	return *c.FitAbsoluteTolerance
}

// GetFitMaxIterations returns the fit_max_iterations value or the default.
func (c *TuningConfig) GetFitMaxIterations() int {
	if c.FitMaxIterations == nil {
		return 2000
	}
	return *c.FitMaxIterations
}

// GetFitMaxEvaluations returns the fit_max_evaluations value or the default.
func (c *TuningConfig) GetFitMaxEvaluations() int {
	if c.FitMaxEvaluations == nil {
		return 10000
	}
	return *c.FitMaxEvaluations
}

// GetFitTimeout parses and returns the FitTimeout as a time.Duration.
// Zero means the search is bounded only by its iteration budgets.
func (c *TuningConfig) GetFitTimeout() time.Duration {
	if c.FitTimeout == nil || *c.FitTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.FitTimeout)
	if err != nil {
		return 0 // default on parse error
	}
	return d
}

// GetFitStartAngles returns the configured start angles, or the single
// default start (0, 0).
func (c *TuningConfig) GetFitStartAngles() []StartAngle {
	if len(c.FitStartAngles) == 0 {
		return []StartAngle{{Theta: 0, Phi: 0}}
	}
	return append([]StartAngle(nil), c.FitStartAngles...)
}

// GetFitParallelThreshold returns the fit_parallel_threshold value or the default.
func (c *TuningConfig) GetFitParallelThreshold() int {
	if c.FitParallelThreshold == nil {
		return 8192
	}
	return *c.FitParallelThreshold
}

// GetVerbose returns the verbose value or the default.
func (c *TuningConfig) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}
