package config

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/aeminvert/rjmcmc/pkg/chain"
	"github.com/aeminvert/rjmcmc/pkg/comm"
	"github.com/aeminvert/rjmcmc/pkg/errs"
	"github.com/aeminvert/rjmcmc/pkg/forward"
	"github.com/aeminvert/rjmcmc/pkg/grid"
	"github.com/aeminvert/rjmcmc/pkg/noise"
	"github.com/aeminvert/rjmcmc/pkg/prior"
	"github.com/aeminvert/rjmcmc/pkg/proposal"
	"github.com/aeminvert/rjmcmc/pkg/telemetry"
	"github.com/aeminvert/rjmcmc/pkg/wavelet"
)

// defaultValueStepFraction is the Value move's step size as a
// fraction of its coefficient's live range; the CLI surface names no
// flag for it (only --lambda-std/--prior-std tune the two
// hierarchical moves), so it is a fixed constant.
const defaultValueStepFraction = 0.1

// defaultNoiseSigma seeds the independent-Gaussian noise model used
// for a system with no --hierarchical file of its own.
const defaultNoiseSigma = 1.0

// MoveProbabilities is the per-move proposal distribution derived
// from --birth-probability (§9 Open Question: the CLI only names that
// one flag). Birth and Death, being exact reverses of one another,
// share it; the remaining mass splits evenly across Value,
// Hierarchical and HierarchicalPrior.
type MoveProbabilities struct {
	Birth, Death, Value, Hierarchical, HierarchicalPrior float64
}

// MoveProbabilities derives the move-selection distribution from
// BirthProbability.
func (f *Flags) MoveProbabilities() MoveProbabilities {
	p := f.BirthProbability
	rest := (1 - 2*p) / 3
	return MoveProbabilities{Birth: p, Death: p, Value: rest, Hierarchical: rest, HierarchicalPrior: rest}
}

// Replica bundles one chain's mutable state with the engine that
// steps it; engines differ only in their chain communicator (always
// size 1 here, since no CLI flag names intra-chain parallelism) and
// share every other piece of the run's fixed configuration.
type Replica struct {
	State  *chain.State
	Engine *proposal.Engine
	Level  int // temperature-ladder index, 0 = coldest
}

// Setup is everything a driver needs to run the sampler, assembled
// from a parsed Flags by Build.
type Setup struct {
	Geometry grid.Geometry
	Kernel   wavelet.Kernel
	Prior    *prior.PriorProposal
	Systems  []forward.System
	Registry *forward.Registry

	Observed     []float64
	ObservedTime []float64
	NPoints      int

	World        *comm.World
	Temperatures []float64 // length Flags.Temperatures, coldest first
	Moves        MoveProbabilities

	Replicas []*Replica // length Flags.Chains * Flags.Temperatures
	Metrics  *telemetry.Provider
}

// Build parses every input file named by f, constructs the shared
// geometry/prior/forward/noise configuration, and instantiates one
// chain.State/proposal.Engine pair per replica, each with its own
// freshly evaluated initial likelihood, computed once and committed as
// the accepted state by chain.State.SetInitial.
func Build(ctx context.Context, f *Flags) (*Setup, error) {
	geometry, err := grid.New(f.DegreeLateral, f.DegreeDepth, f.Depth)
	if err != nil {
		return nil, errs.New(errs.Validation, "config.Build", err)
	}
	kernel, err := wavelet.Lookup(f.WaveletVertical)
	if err != nil {
		return nil, errs.New(errs.Validation, "config.Build", err)
	}
	pp, err := prior.Load(f.PriorFile)
	if err != nil {
		return nil, errs.New(errs.IO, "prior.Load", err)
	}

	systems := make([]forward.System, len(f.STM))
	registry := forward.NewRegistry()
	for i, path := range f.STM {
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.New(errs.IO, "config.Build: read stm", fmt.Errorf("%s: %w", path, err))
		}
		sys, err := forward.ParseSTM(string(text))
		if err != nil {
			return nil, errs.New(errs.Validation, "config.Build: parse stm", fmt.Errorf("%s: %w", path, err))
		}
		systems[i] = sys
		if err := registry.Register(forward.NewReferenceModel(sys)); err != nil {
			return nil, errs.New(errs.Validation, "forward.Registry.Register", err)
		}
	}

	observed, npoints, err := ParseObservations(f.Input, systems)
	if err != nil {
		return nil, errs.New(errs.IO, "config.ParseObservations", err)
	}
	if npoints != geometry.Width {
		return nil, errs.New(errs.Validation, "config.Build",
			fmt.Errorf("observations %s has %d points, geometry width is %d", f.Input, npoints, geometry.Width))
	}
	observedTime := BuildObservedTime(systems, npoints)

	noiseTemplate, err := buildNoiseTemplate(f, systems)
	if err != nil {
		return nil, errs.New(errs.IO, "config.buildNoiseTemplate", err)
	}

	initTree, err := buildInitialTree(f, geometry, kernel)
	if err != nil {
		return nil, errs.New(errs.IO, "config.buildInitialTree", err)
	}

	temperatures := buildTemperatureLadder(f.Temperatures, f.MaxTemperature)

	nReplicas := f.Chains * f.Temperatures
	world, err := comm.NewWorld(nReplicas, f.Temperatures, f.Chains)
	if err != nil {
		return nil, errs.New(errs.Validation, "comm.NewWorld", err)
	}

	metrics, err := telemetry.New(f.Verbosity > 0)
	if err != nil {
		return nil, errs.New(errs.IO, "telemetry.New", err)
	}

	nResiduals := registry.NWindows() * npoints
	replicas := make([]*Replica, nReplicas)
	for r := 0; r < nReplicas; r++ {
		level := r / f.Chains
		seed := f.Seed + int64(r)

		st := chain.New(seed, initTree.Clone(), noiseTemplate.Clone(), 1.0, temperatures[level], nResiduals)
		eng := proposal.NewEngine(world.ChainComm(r), pp, kernel, geometry, registry, observed, observedTime,
			f.Kmax, defaultValueStepFraction, f.LambdaStd, f.PriorStd, f.PosteriorK, metrics)

		if err := eng.Initialise(ctx, st); err != nil {
			return nil, fmt.Errorf("config: replica %d initial likelihood: %w", r, err)
		}

		replicas[r] = &Replica{State: st, Engine: eng, Level: level}
	}

	return &Setup{
		Geometry:     geometry,
		Kernel:       kernel,
		Prior:        pp,
		Systems:      systems,
		Registry:     registry,
		Observed:     observed,
		ObservedTime: observedTime,
		NPoints:      npoints,
		World:        world,
		Temperatures: temperatures,
		Moves:        f.MoveProbabilities(),
		Replicas:     replicas,
		Metrics:      metrics,
	}, nil
}

// buildNoiseTemplate builds the one noise.Model every replica clones
// at construction (chain.State.Noise is an owned clone per §3). With
// no --hierarchical files it is a default IID-Gaussian per system;
// with one file per --stm it loads each and, when there is more than
// one system, composes them with noise.Composite so a single Model
// still spans the whole concatenated residual vector.
func buildNoiseTemplate(f *Flags, systems []forward.System) (noise.Model, error) {
	models := make([]noise.Model, len(systems))
	segments := make([]int, len(systems))
	for i, sys := range systems {
		segments[i] = len(sys.WindowTimes)
		if len(f.Hierarchical) > 0 {
			m, err := noise.Load(f.Hierarchical[i])
			if err != nil {
				return nil, err
			}
			models[i] = m
		} else {
			models[i] = noise.NewIIDGaussian(defaultNoiseSigma)
		}
	}
	if len(models) == 1 {
		return models[0], nil
	}
	return noise.NewComposite(models, segments)
}

// buildInitialTree loads and seeds a tree from --initial if given,
// else starts every chain from a flat zero log-conductivity image
// (the "optional initial model... constant log-conductivity" default
// of §3's Lifecycle note).
func buildInitialTree(f *Flags, geometry grid.Geometry, kernel wavelet.Kernel) (*wavelet.Tree, error) {
	if f.Initial == "" {
		tr := wavelet.New(geometry)
		tr.Init(0)
		return tr, nil
	}
	g2, image, err := grid.ReadImage(f.Initial)
	if err != nil {
		return nil, err
	}
	if g2.Width != geometry.Width || g2.Height != geometry.Height {
		return nil, fmt.Errorf("config: initial image %s is %dx%d, geometry is %dx%d", f.Initial, g2.Height, g2.Width, geometry.Height, geometry.Width)
	}
	return SeedTreeFromImage(geometry, kernel, image, f.Kmax)
}

// buildTemperatureLadder returns m rungs geometrically spaced from
// 1.0 (coldest) to maxTemperature (hottest); with m==1 the single
// rung is always 1.0 regardless of maxTemperature.
func buildTemperatureLadder(m int, maxTemperature float64) []float64 {
	temps := make([]float64, m)
	if m == 1 {
		temps[0] = 1.0
		return temps
	}
	logMax := math.Log(maxTemperature)
	for i := range temps {
		frac := float64(i) / float64(m-1)
		temps[i] = math.Exp(frac * logMax)
	}
	return temps
}
