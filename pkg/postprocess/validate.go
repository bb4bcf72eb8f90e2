package postprocess

import (
	"fmt"
	"math"

	"github.com/aeminvert/rjmcmc/pkg/forward"
	"github.com/aeminvert/rjmcmc/pkg/grid"
	"github.com/aeminvert/rjmcmc/pkg/history"
	"github.com/aeminvert/rjmcmc/pkg/noise"
	"github.com/aeminvert/rjmcmc/pkg/wavelet"
)

// ValidateConfig is the forward-model/noise configuration a
// likelihood-replay check recomputes against: the same pieces a run
// built in config.Build, minus anything only the sampler itself needs
// (no prior, no wavelet tree seed).
type ValidateConfig struct {
	Geometry grid.Geometry
	Kernel   wavelet.Kernel
	Forward  *forward.Registry

	Observed     []float64
	ObservedTime []float64
	Noise        noise.Model

	Skip int // DELTA records to pass over before checking, counted across all replayed files
	Thin int // only check accepted records whose accepted count is a multiple of Thin; 1 checks all
	Max  int // stop after this many checked records; 0 means unbounded
}

// ValidateResult is the outcome of a likelihood-replay check, mirroring
// postprocess_validate_likelihood's "Checked N/M(K) records" and
// "Max. Error" summary line: Checked is its counter, StepCounter its
// stepcounter, AcceptedCounter its thincounter.
type ValidateResult struct {
	Checked         int
	StepCounter     int
	AcceptedCounter int
	MaxError        float64
	MaxErrorStep    int
}

// ValidateLikelihood replays paths and, for every accepted DELTA record
// that survives the skip+thin+max filter, reconstructs the image from
// the replayed tree, recomputes the forward response and noise
// likelihood, and diffs the result against the record's stored
// likelihood. It is the Go port of postprocess_validate_likelihood.cpp's
// process() callback: skip is measured against the total record count,
// thin against the accepted-record count, one running max absolute
// error across the whole replay. INITIALISE records are not counted or
// checked (the original's chain_history format carries no equivalent
// record kind).
func ValidateLikelihood(cfg ValidateConfig, paths []string) (ValidateResult, error) {
	if cfg.Thin < 1 {
		return ValidateResult{}, fmt.Errorf("postprocess: validate: thin must be at least 1, got %d", cfg.Thin)
	}
	if cfg.Skip < 0 {
		return ValidateResult{}, fmt.Errorf("postprocess: validate: skip must be non-negative, got %d", cfg.Skip)
	}

	ix := wavelet.NewIndexer(cfg.Geometry)
	nm := cfg.Noise.Clone()
	residual := make([]float64, len(cfg.Observed))
	residualNormed := make([]float64, len(cfg.Observed))

	var result ValidateResult
	err := history.Replay(paths, func(s history.Step) error {
		if s.IsInitialise {
			return nil
		}
		defer func() { result.StepCounter++ }()

		if !s.Accepted {
			return nil
		}
		defer func() { result.AcceptedCounter++ }()

		if result.StepCounter < cfg.Skip {
			return nil
		}
		if cfg.Thin > 1 && result.AcceptedCounter%cfg.Thin != 0 {
			return nil
		}
		if cfg.Max > 0 && result.Checked >= cfg.Max {
			return nil
		}

		predicted, err := evaluateTree(cfg.Geometry, ix, cfg.Kernel, cfg.Forward, s.Tree)
		if err != nil {
			return fmt.Errorf("postprocess: validate: step %d: %w", result.StepCounter, err)
		}
		for i, p := range predicted {
			residual[i] = cfg.Observed[i] - p
		}
		negLogLik, _ := nm.NLL(cfg.Observed, cfg.ObservedTime, residual, s.LambdaScale, residualNormed)

		errAbs := math.Abs(s.Likelihood - negLogLik)
		if errAbs > result.MaxError {
			result.MaxError = errAbs
			result.MaxErrorStep = result.StepCounter
		}
		result.Checked++
		return nil
	})
	return result, err
}

// evaluateTree reconstructs the dense log-conductivity image from tree
// and evaluates the forward registry at every lateral sounding,
// serially: the Chain.Size()==1 path of proposal.Engine.evaluateResponse,
// reused here without the intra-chain comm fan-out a standalone replay
// tool has no use for.
func evaluateTree(g grid.Geometry, ix wavelet.Indexer, kernel wavelet.Kernel, registry *forward.Registry, tree *wavelet.Tree) ([]float64, error) {
	coeffs := make([]float64, g.N())
	tree.MapToArray(coeffs)
	image := wavelet.Reconstruct(ix, kernel, coeffs)

	width, height := g.Width, g.Height
	predicted := make([]float64, 0, width*registry.NWindows())
	col := make([]float64, height)
	for c := 0; c < width; c++ {
		for r := 0; r < height; r++ {
			col[r] = math.Exp(image[r*width+c])
		}
		resp, err := registry.EvalAll(g, col)
		if err != nil {
			return nil, fmt.Errorf("forward eval at sounding %d: %w", c, err)
		}
		predicted = append(predicted, resp...)
	}
	return predicted, nil
}
