package cylinder

import (
	"fmt"

	"github.com/banshee-data/treegraph/internal/config"
	"github.com/banshee-data/treegraph/internal/geom"
	"github.com/banshee-data/treegraph/internal/qsmerr"
)

// cmaesSeed keeps CMAES searches built from configuration reproducible.
const cmaesSeed = 1

// OptimizerFromConfig builds the search strategy named by fit_optimizer
// with the configured tolerances.
func OptimizerFromConfig(cfg *config.TuningConfig) (Optimizer, error) {
	tol := Tolerances{
		Relative:       cfg.GetFitRelativeTolerance(),
		Absolute:       cfg.GetFitAbsoluteTolerance(),
		MaxIterations:  cfg.GetFitMaxIterations(),
		MaxEvaluations: cfg.GetFitMaxEvaluations(),
		Runtime:        cfg.GetFitTimeout(),
	}
	switch name := cfg.GetFitOptimizer(); name {
	case config.OptimizerNelderMead:
		return &NelderMead{Tolerances: tol}, nil
	case config.OptimizerCMAES:
		return &CMAES{Tolerances: tol, Seed: cmaesSeed}, nil
	default:
		return nil, qsmerr.Configf("fit_optimizer", name, "unknown optimizer")
	}
}

// OptionsFromConfig translates the fitting keys of cfg into Fitter options.
func OptionsFromConfig(cfg *config.TuningConfig) ([]Option, error) {
	if cfg == nil {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("cylinder options: %w", err)
	}
	opt, err := OptimizerFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	var starts []geom.Angles
	for _, a := range cfg.GetFitStartAngles() {
		starts = append(starts, geom.Angles{Theta: a.Theta, Phi: a.Phi})
	}
	return []Option{
		WithOptimizer(opt),
		WithStarts(starts...),
		WithParallelThreshold(cfg.GetFitParallelThreshold()),
	}, nil
}
