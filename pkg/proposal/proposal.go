// Package proposal implements the ProposalEngine: the five
// trans-dimensional and fixed-dimension moves (birth, death, value,
// hierarchical noise, hierarchical prior) that mutate a ChainState,
// each following the propose/broadcast/evaluate/decide/commit-or-
// revert protocol of §4.4, with acceptance bookkeeping kept both
// in-memory and as OpenTelemetry counters.
package proposal

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/aeminvert/rjmcmc/pkg/chain"
	"github.com/aeminvert/rjmcmc/pkg/comm"
	"github.com/aeminvert/rjmcmc/pkg/errs"
	"github.com/aeminvert/rjmcmc/pkg/forward"
	"github.com/aeminvert/rjmcmc/pkg/grid"
	"github.com/aeminvert/rjmcmc/pkg/prior"
	"github.com/aeminvert/rjmcmc/pkg/telemetry"
	"github.com/aeminvert/rjmcmc/pkg/wavelet"
)

// Kind enumerates the five move types.
type Kind int

const (
	Birth Kind = iota
	Death
	Value
	Hierarchical
	HierarchicalPrior
)

func (k Kind) String() string {
	switch k {
	case Birth:
		return "birth"
	case Death:
		return "death"
	case Value:
		return "value"
	case Hierarchical:
		return "hierarchical"
	case HierarchicalPrior:
		return "hierarchical-prior"
	default:
		return "unknown"
	}
}

// Counters accumulates propose/accept totals by move kind and by
// tree depth (depth -1 is used for moves that were rejected before a
// depth was ever chosen, e.g. no eligible site existed).
type Counters struct {
	mu            sync.Mutex
	proposed      map[Kind]int64
	accepted      map[Kind]int64
	proposedDepth map[int]int64
	acceptedDepth map[int]int64
}

func newCounters() *Counters {
	return &Counters{
		proposed:      make(map[Kind]int64),
		accepted:      make(map[Kind]int64),
		proposedDepth: make(map[int]int64),
		acceptedDepth: make(map[int]int64),
	}
}

func (c *Counters) propose(kind Kind, depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proposed[kind]++
	c.proposedDepth[depth]++
}

func (c *Counters) accept(kind Kind, depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accepted[kind]++
	c.acceptedDepth[depth]++
}

// Snapshot is an immutable copy of a Counters' current totals.
type Snapshot struct {
	Proposed        map[Kind]int64
	Accepted        map[Kind]int64
	ProposedByDepth map[int]int64
	AcceptedByDepth map[int]int64
}

// Snapshot copies out the current totals.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Proposed:        make(map[Kind]int64, len(c.proposed)),
		Accepted:        make(map[Kind]int64, len(c.accepted)),
		ProposedByDepth: make(map[int]int64, len(c.proposedDepth)),
		AcceptedByDepth: make(map[int]int64, len(c.acceptedDepth)),
	}
	for k, v := range c.proposed {
		s.Proposed[k] = v
	}
	for k, v := range c.accepted {
		s.Accepted[k] = v
	}
	for k, v := range c.proposedDepth {
		s.ProposedByDepth[k] = v
	}
	for k, v := range c.acceptedDepth {
		s.AcceptedByDepth[k] = v
	}
	return s
}

// Engine owns every shared, read-only collaborator a move needs:
// the prior/proposal object, the wavelet kernel and geometry used to
// reconstruct a dense image from a sparse tree, the forward-model
// registry, and the observed data the likelihood is measured against.
// config.Build gives every replica its own Engine: besides the shared
// read-only collaborators it keeps that replica's move counters and
// last-move record, while ChainState carries the replica's model.
type Engine struct {
	Chain    *comm.Comm // intra-chain communicator; likelihood evaluation fans the lateral soundings out across it
	Prior    *prior.PriorProposal
	Kernel   wavelet.Kernel
	Geometry grid.Geometry
	Indexer  wavelet.Indexer
	Forward  *forward.Registry

	Observed     []float64 // flattened per-sounding, per-window observed response
	ObservedTime []float64 // matching per-sample window centre time

	Kmax              int     // maximum live coefficient count
	ValueStepFraction float64 // value move's Gaussian step std, as a fraction of the local prior range width
	LambdaStep        float64 // hierarchical move's Gaussian step std in log(lambda_scale)
	PriorStep         float64 // hierarchical-prior move's Gaussian step std in log(prior_scale)
	PosteriorKOnly    bool    // --posteriork: likelihood treated as constant, for pure-prior diagnostics

	Metrics *telemetry.Provider

	counters *Counters
	lastMove MoveInfo
}

// MoveInfo describes the most recently attempted move in enough
// detail for a caller to record it as a ChainHistory delta regardless
// of whether it was accepted, grounded on §4.6's DELTA record shape.
// Idx/NewValue/OldValue are the tree-mutation or hierarchical-scale
// change the move attempted; HasOld is false only for Birth (there is
// no prior value at a newly live index).
type MoveInfo struct {
	Kind     Kind
	Idx      int
	NewValue float64
	OldValue float64
	HasOld   bool
}

// LastMove returns the most recently attempted move, valid immediately
// after a call to Step on the same Engine.
func (e *Engine) LastMove() MoveInfo { return e.lastMove }

// NewEngine builds an Engine. chainComm is the replica's intra-chain
// communicator (size 1 when P==1).
func NewEngine(chainComm *comm.Comm, pp *prior.PriorProposal, kernel wavelet.Kernel, geometry grid.Geometry, fwd *forward.Registry, observed, observedTime []float64, kmax int, valueStepFraction, lambdaStep, priorStep float64, posteriorKOnly bool, metrics *telemetry.Provider) *Engine {
	return &Engine{
		Chain:             chainComm,
		Prior:             pp,
		Kernel:            kernel,
		Geometry:          geometry,
		Indexer:           wavelet.NewIndexer(geometry),
		Forward:           fwd,
		Observed:          observed,
		ObservedTime:      observedTime,
		Kmax:              kmax,
		ValueStepFraction: valueStepFraction,
		LambdaStep:        lambdaStep,
		PriorStep:         priorStep,
		PosteriorKOnly:    posteriorKOnly,
		Metrics:           metrics,
		counters:          newCounters(),
	}
}

// Counters returns a snapshot of the engine's acceptance bookkeeping.
func (e *Engine) Counters() Snapshot { return e.counters.Snapshot() }

// Step performs one proposal of the given kind against s, following
// the five-stage protocol, and returns whether it was accepted.
func (e *Engine) Step(ctx context.Context, kind Kind, s *chain.State) (bool, error) {
	switch kind {
	case Birth:
		return e.stepBirth(ctx, s)
	case Death:
		return e.stepDeath(ctx, s)
	case Value:
		return e.stepValue(ctx, s)
	case Hierarchical:
		return e.stepHierarchical(ctx, s)
	case HierarchicalPrior:
		return e.stepHierarchicalPrior(ctx, s)
	default:
		return false, fmt.Errorf("proposal: unknown move kind %d", kind)
	}
}

func (e *Engine) record(ctx context.Context, kind Kind, depth int, accepted bool) {
	e.counters.propose(kind, depth)
	if e.Metrics != nil {
		e.Metrics.RecordProposed(ctx, kind.String(), depth)
	}
	if accepted {
		e.counters.accept(kind, depth)
		if e.Metrics != nil {
			e.Metrics.RecordAccepted(ctx, kind.String(), depth)
		}
	}
}

func isNonFinite(x float64) bool { return math.IsNaN(x) || math.IsInf(x, 0) }

// metropolisAccept draws the Metropolis coin for a given log
// acceptance ratio; logAlpha >= 0 always accepts without spending
// randomness.
func metropolisAccept(rng interface{ Float64() float64 }, logAlpha float64) bool {
	if logAlpha >= 0 {
		return true
	}
	return math.Log(rng.Float64()) < logAlpha
}

// --- birth / death ----------------------------------------------------------

func (e *Engine) stepBirth(ctx context.Context, s *chain.State) (bool, error) {
	eligible := s.Tree.BirthEligibleIndices()
	if len(eligible) == 0 || s.Tree.NCoeff() >= e.Kmax {
		// proposal-invalid (§7): no legal birth site, or at kmax already.
		e.lastMove = MoveInfo{Kind: Birth, Idx: -1}
		e.record(ctx, Birth, -1, false)
		return false, nil
	}

	idx := eligible[s.RNG.Intn(len(eligible))]
	depth := s.Tree.DepthOf(idx)
	row, col := s.Tree.To2D(idx)
	parentIdx := s.Tree.ParentOf(idx)
	parentValue := s.Tree.Value(parentIdx)

	value, logQFwd := e.Prior.SampleBirth(s.RNG, depth, row, col, parentValue, s.PriorScale)

	if err := s.Tree.Insert(idx, value); err != nil {
		// idx was drawn from the tree's own birth-eligible set, so a
		// failure here means the eligibility bookkeeping itself is
		// wrong, not that this proposal is invalid.
		e.record(ctx, Birth, depth, false)
		return false, errs.New(errs.Invariant, "wavelet.Insert", err)
	}
	e.lastMove = MoveInfo{Kind: Birth, Idx: idx, NewValue: value}
	deathAfter := s.Tree.DeathEligibleCount()

	logGreen := math.Log(float64(len(eligible))) - math.Log(float64(deathAfter))
	logPrior := e.Prior.LogPriorRatioBirth(depth, row, col, value, s.PriorScale)
	logProp := -logQFwd

	accepted, err := e.decide(ctx, s, logGreen+logPrior+logProp)
	if err != nil {
		_ = s.Tree.Remove(idx)
		e.record(ctx, Birth, depth, false)
		return false, err
	}
	if !accepted {
		_ = s.Tree.Remove(idx)
	}
	e.record(ctx, Birth, depth, accepted)
	return accepted, nil
}

func (e *Engine) stepDeath(ctx context.Context, s *chain.State) (bool, error) {
	eligible := s.Tree.DeathEligibleIndices()
	if len(eligible) == 0 {
		e.lastMove = MoveInfo{Kind: Death, Idx: -1}
		e.record(ctx, Death, -1, false)
		return false, nil
	}

	idx := eligible[s.RNG.Intn(len(eligible))]
	depth := s.Tree.DepthOf(idx)
	row, col := s.Tree.To2D(idx)
	parentIdx := s.Tree.ParentOf(idx)
	parentValue := s.Tree.Value(parentIdx)
	value := s.Tree.Value(idx)

	if err := s.Tree.Remove(idx); err != nil {
		// idx was drawn from the tree's own death-eligible set; a
		// failure here is an eligibility-bookkeeping bug, not an
		// invalid proposal.
		e.record(ctx, Death, depth, false)
		return false, errs.New(errs.Invariant, "wavelet.Remove", err)
	}
	e.lastMove = MoveInfo{Kind: Death, Idx: idx, OldValue: value, HasOld: true}
	birthAfter := s.Tree.BirthEligibleCount()

	logGreen := math.Log(float64(len(eligible))) - math.Log(float64(birthAfter))
	logPrior := e.Prior.LogPriorRatioDeath(depth, row, col, value, s.PriorScale)
	logQRev := e.Prior.ReverseBirthDensity(depth, row, col, parentValue, value, s.PriorScale)
	logProp := logQRev

	accepted, err := e.decide(ctx, s, logGreen+logPrior+logProp)
	if err != nil {
		_ = s.Tree.Insert(idx, value)
		e.record(ctx, Death, depth, false)
		return false, err
	}
	if !accepted {
		_ = s.Tree.Insert(idx, value)
	}
	e.record(ctx, Death, depth, accepted)
	return accepted, nil
}

// --- value --------------------------------------------------------------

func (e *Engine) stepValue(ctx context.Context, s *chain.State) (bool, error) {
	live := s.Tree.LiveIndices()
	idx := live[s.RNG.Intn(len(live))]
	depth := s.Tree.DepthOf(idx)
	row, col := s.Tree.To2D(idx)
	oldValue := s.Tree.Value(idx)

	vmin, vmax := e.Prior.PriorRange(depth, row, col, s.PriorScale)
	std := (vmax - vmin) * e.ValueStepFraction
	newValue := oldValue + s.RNG.NormFloat64()*std

	logPriorOld := e.Prior.LogDensityAt(depth, row, col, oldValue, s.PriorScale)
	logPriorNew := e.Prior.LogDensityAt(depth, row, col, newValue, s.PriorScale)
	e.lastMove = MoveInfo{Kind: Value, Idx: idx, NewValue: newValue, OldValue: oldValue, HasOld: true}
	if math.IsInf(logPriorNew, -1) {
		// proposal-invalid: stepped outside the prior range.
		e.record(ctx, Value, depth, false)
		return false, nil
	}

	if err := s.Tree.Update(idx, newValue); err != nil {
		// idx was drawn from the tree's own live-index set; a failure
		// here means idx is no longer live, an invariant violation.
		e.record(ctx, Value, depth, false)
		return false, errs.New(errs.Invariant, "wavelet.Update", err)
	}

	logPrior := logPriorNew - logPriorOld
	accepted, err := e.decide(ctx, s, logPrior) // symmetric proposal, logProp == 0, no dimension change
	if err != nil {
		_ = s.Tree.Update(idx, oldValue)
		e.record(ctx, Value, depth, false)
		return false, err
	}
	if !accepted {
		_ = s.Tree.Update(idx, oldValue)
	}
	e.record(ctx, Value, depth, accepted)
	return accepted, nil
}

// --- hierarchical (noise) ------------------------------------------------

func (e *Engine) stepHierarchical(ctx context.Context, s *chain.State) (bool, error) {
	if !s.ResidualsValid {
		// Residuals went stale (e.g. after a PT swap); refresh from
		// scratch before touching the hierarchical parameters, per §7.
		if err := e.refreshResiduals(ctx, s); err != nil {
			return false, err
		}
	}

	oldScale := s.LambdaScale
	newScale := oldScale * math.Exp(s.RNG.NormFloat64()*e.LambdaStep)
	s.LambdaScale = newScale
	e.lastMove = MoveInfo{Kind: Hierarchical, NewValue: newScale, OldValue: oldScale, HasOld: true}

	negLogLik, logNorm := s.Noise.NLL(e.Observed, e.ObservedTime, s.LastValidResidual, newScale, s.ResidualNormed)
	if isNonFinite(negLogLik) || isNonFinite(logNorm) {
		s.LambdaScale = oldScale
		e.record(ctx, Hierarchical, 0, false)
		return false, nil
	}

	logLike := (s.Likelihood-negLogLik)/s.Temperature + (s.LogNormalization-logNorm)/s.Temperature
	// Jacobian of the log-scale random walk: d(newScale)/d(log newScale) == newScale, cancels against the
	// equivalent term for the reverse move since both proposals are symmetric in log-space.
	accepted := metropolisAccept(s.RNG, logLike)
	if accepted {
		copy(s.Residual, s.LastValidResidual)
		s.Accept(negLogLik, logNorm)
	} else {
		s.LambdaScale = oldScale
	}
	e.record(ctx, Hierarchical, 0, accepted)
	return accepted, nil
}

// --- hierarchical prior ---------------------------------------------------

func (e *Engine) stepHierarchicalPrior(ctx context.Context, s *chain.State) (bool, error) {
	oldScale := s.PriorScale
	newScale := oldScale * math.Exp(s.RNG.NormFloat64()*e.PriorStep)
	e.lastMove = MoveInfo{Kind: HierarchicalPrior, NewValue: newScale, OldValue: oldScale, HasOld: true}

	// Only the prior density of every live, non-root coefficient
	// changes; likelihood and normalization are untouched (§9).
	var logPrior float64
	for _, idx := range s.Tree.LiveIndices() {
		if idx == 0 {
			continue
		}
		depth := s.Tree.DepthOf(idx)
		row, col := s.Tree.To2D(idx)
		v := s.Tree.Value(idx)
		logPrior += e.Prior.LogDensityAt(depth, row, col, v, newScale) - e.Prior.LogDensityAt(depth, row, col, v, oldScale)
	}

	accepted := metropolisAccept(s.RNG, logPrior)
	if accepted {
		s.PriorScale = newScale
	}
	e.record(ctx, HierarchicalPrior, 0, accepted)
	return accepted, nil
}

// --- shared plumbing ------------------------------------------------------

// decide evaluates the proposed tree's likelihood, folds in the
// caller-supplied non-likelihood log-ratio terms (Green's ratio,
// prior ratio, proposal ratio), and accepts or rejects by the
// Metropolis criterion. On acceptance the trial residuals are
// committed into s; on rejection s is left untouched (the caller is
// responsible for undoing its own tree/hierarchical-parameter
// mutation).
func (e *Engine) decide(ctx context.Context, s *chain.State, logRatio float64) (bool, error) {
	negLogLik, logNorm, residual, residualNormed, err := e.likelihoodOf(ctx, s)
	if err != nil {
		// A forward-model evaluation failure mid-run is an
		// unrecoverable bug (a malformed system or geometry that
		// should have been caught at startup), not a per-proposal
		// numeric reject.
		return false, errs.New(errs.Invariant, "proposal.decide", err)
	}
	if isNonFinite(negLogLik) || isNonFinite(logNorm) {
		return false, nil // numeric: automatic reject (§7)
	}

	logLike := (s.Likelihood-negLogLik)/s.Temperature + (s.LogNormalization-logNorm)/s.Temperature
	accepted := metropolisAccept(s.RNG, logRatio+logLike)
	if accepted {
		copy(s.Residual, residual)
		copy(s.ResidualNormed, residualNormed)
		s.Accept(negLogLik, logNorm)
	}
	return accepted, nil
}

// likelihoodOf reconstructs the dense image from s.Tree and evaluates
// the forward model and noise likelihood against it. Under
// --posteriork the forward model is never invoked and the likelihood
// is held at a constant (negLogLik=0, logNorm=0), per §6.
func (e *Engine) likelihoodOf(ctx context.Context, s *chain.State) (negLogLik, logNorm float64, residual, residualNormed []float64, err error) {
	if e.PosteriorKOnly {
		return 0, 0, s.LastValidResidual, s.LastValidResidualNormed, nil
	}
	predicted, err := e.evaluateResponse(ctx, s.Tree)
	if err != nil {
		return 0, 0, nil, nil, err
	}
	residual = make([]float64, len(predicted))
	for i, p := range predicted {
		residual[i] = e.Observed[i] - p
	}
	residualNormed = make([]float64, len(residual))
	negLogLik, logNorm = s.Noise.NLL(e.Observed, e.ObservedTime, residual, s.LambdaScale, residualNormed)
	return negLogLik, logNorm, residual, residualNormed, nil
}

// refreshResiduals recomputes the likelihood from scratch and commits
// it as the chain's valid state, used to clear a stale
// ResidualsValid flag before a hierarchical move.
func (e *Engine) refreshResiduals(ctx context.Context, s *chain.State) error {
	negLogLik, logNorm, residual, residualNormed, err := e.likelihoodOf(ctx, s)
	if err != nil {
		return errs.New(errs.Invariant, "proposal.refreshResiduals", err)
	}
	s.SetInitial(negLogLik, logNorm, residual, residualNormed)
	return nil
}

// Initialise computes a freshly constructed chain's first likelihood
// and commits it as the accepted state, the startup half of the
// lifecycle described in chain.State.SetInitial's doc comment (chain.State itself
// holds no ForwardModel reference, so it cannot evaluate its own
// initial likelihood).
func (e *Engine) Initialise(ctx context.Context, s *chain.State) error {
	return e.refreshResiduals(ctx, s)
}

// evaluateResponse reconstructs the dense log-conductivity image from
// the tree and evaluates the forward model at every lateral sounding,
// fanning the soundings out across the engine's intra-chain
// communicator (a no-op fan-out when Chain.Size()==1).
func (e *Engine) evaluateResponse(ctx context.Context, tree *wavelet.Tree) ([]float64, error) {
	coeffs := make([]float64, e.Geometry.N())
	tree.MapToArray(coeffs)
	image := wavelet.Reconstruct(e.Indexer, e.Kernel, coeffs)

	width := e.Geometry.Width
	height := e.Geometry.Height

	parts, err := comm.AllGather(ctx, e.Chain, func(ctx context.Context, rank int) ([]float64, error) {
		lo, hi := partitionRange(width, e.Chain.Size(), rank)
		out := make([]float64, 0, (hi-lo)*e.Forward.NWindows())
		col := make([]float64, height)
		for c := lo; c < hi; c++ {
			for r := 0; r < height; r++ {
				col[r] = math.Exp(image[r*width+c])
			}
			resp, err := e.Forward.EvalAll(e.Geometry, col)
			if err != nil {
				return nil, fmt.Errorf("proposal: forward eval at sounding %d: %w", c, err)
			}
			out = append(out, resp...)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	predicted := make([]float64, 0, width*e.Forward.NWindows())
	for _, p := range parts {
		predicted = append(predicted, p...)
	}
	return predicted, nil
}

// partitionRange splits [0, n) into p contiguous, near-equal chunks
// and returns the one owned by rank.
func partitionRange(n, p, rank int) (lo, hi int) {
	base := n / p
	rem := n % p
	lo = rank*base + min(rank, rem)
	extra := 0
	if rank < rem {
		extra = 1
	}
	hi = lo + base + extra
	return lo, hi
}
