// Package chain implements ChainState: the per-replica mutable state
// mutated exclusively by a successful ProposalEngine step or PT
// swap/resample. It owns the replica's tree, residual buffers,
// hierarchical parameters, running statistics, and RNG.
package chain

import (
	"math/rand"

	"github.com/aeminvert/rjmcmc/pkg/noise"
	"github.com/aeminvert/rjmcmc/pkg/stats"
	"github.com/aeminvert/rjmcmc/pkg/wavelet"
)

// State is one replica's mutable sampling state.
type State struct {
	Tree  *wavelet.Tree
	Noise noise.Model // owned clone; the Hierarchical move scales it through LambdaScale and leaves its parameters unchanged

	LambdaScale float64
	PriorScale  float64 // hierarchical prior-width scale, target of the HierarchicalPrior move
	Temperature float64

	// Residual and ResidualNormed are the working buffers: a proposal
	// evaluation writes a trial response into them before the
	// accept/reject decision. LastValidResidual/LastValidResidualNormed
	// hold the most recently accepted copies.
	Residual       []float64
	ResidualNormed []float64

	LastValidResidual       []float64
	LastValidResidualNormed []float64

	// ResidualsValid is false from New until SetInitial, and after a PT
	// swap or resample until an accepted move (or the Hierarchical
	// move's refresh) commits freshly computed residuals again.
	ResidualsValid bool

	Likelihood       float64
	LogNormalization float64

	lastValidLikelihood       float64
	lastValidLogNormalization float64

	RNG *rand.Rand

	ResidualStats *stats.Welford

	// HistoryCapacity is the ring-buffer capacity C the chain's
	// ChainHistory should be opened with (default 10^6, see §3).
	HistoryCapacity int
}

const defaultHistoryCapacity = 1_000_000

// New constructs a ChainState. nResiduals is the total response
// length (sum over every registered forward-model system's windows).
func New(seed int64, tree *wavelet.Tree, noiseModel noise.Model, lambdaScale, temperature float64, nResiduals int) *State {
	return &State{
		Tree:                    tree,
		Noise:                   noiseModel,
		LambdaScale:             lambdaScale,
		PriorScale:              1.0,
		Temperature:             temperature,
		Residual:                make([]float64, nResiduals),
		ResidualNormed:          make([]float64, nResiduals),
		LastValidResidual:       make([]float64, nResiduals),
		LastValidResidualNormed: make([]float64, nResiduals),
		ResidualsValid:          false,
		RNG:                     rand.New(rand.NewSource(seed)),
		ResidualStats:           stats.NewWelford(),
		HistoryCapacity:         defaultHistoryCapacity,
	}
}

// SetInitial commits the chain's starting likelihood and residuals,
// as computed once at construction time (§3 Lifecycle).
func (s *State) SetInitial(likelihood, logNormalization float64, residual, residualNormed []float64) {
	copy(s.Residual, residual)
	copy(s.ResidualNormed, residualNormed)
	s.Likelihood = likelihood
	s.LogNormalization = logNormalization
	s.commitValid()
}

// commitValid snapshots the current working buffers and cached
// likelihood as the new last-valid state.
func (s *State) commitValid() {
	copy(s.LastValidResidual, s.Residual)
	copy(s.LastValidResidualNormed, s.ResidualNormed)
	s.lastValidLikelihood = s.Likelihood
	s.lastValidLogNormalization = s.LogNormalization
	s.ResidualsValid = true
}

// Accept commits a proposal's trial likelihood and residuals (already
// written into s.Residual/s.ResidualNormed/s.Likelihood/
// s.LogNormalization by the caller) as the new accepted state, and
// folds the residual into the running statistics.
func (s *State) Accept(likelihood, logNormalization float64) {
	s.Likelihood = likelihood
	s.LogNormalization = logNormalization
	s.commitValid()
	for _, r := range s.Residual {
		s.ResidualStats.Add(r)
	}
}

// Reject restores the working buffers and cached likelihood to the
// last accepted state, discarding whatever a trial evaluation wrote.
func (s *State) Reject() {
	copy(s.Residual, s.LastValidResidual)
	copy(s.ResidualNormed, s.LastValidResidualNormed)
	s.Likelihood = s.lastValidLikelihood
	s.LogNormalization = s.lastValidLogNormalization
	s.ResidualsValid = true
}

// LogPosteriorDensity is the (unnormalised) temperature-scaled
// log-density the Metropolis ratio compares across proposals:
// -(Likelihood + LogNormalization) / Temperature.
func (s *State) LogPosteriorDensity() float64 {
	return -(s.Likelihood + s.LogNormalization) / s.Temperature
}

// SwapWith exchanges this replica's entire model (tree, hierarchical
// parameters, cached likelihoods, residuals) with other's, as
// performed by a PT swap. Temperatures are left untouched: they stay
// at their rank positions (§4.5).
func (s *State) SwapWith(other *State) {
	s.Tree, other.Tree = other.Tree, s.Tree
	s.Noise, other.Noise = other.Noise, s.Noise
	s.LambdaScale, other.LambdaScale = other.LambdaScale, s.LambdaScale
	s.PriorScale, other.PriorScale = other.PriorScale, s.PriorScale
	s.Residual, other.Residual = other.Residual, s.Residual
	s.ResidualNormed, other.ResidualNormed = other.ResidualNormed, s.ResidualNormed
	s.LastValidResidual, other.LastValidResidual = other.LastValidResidual, s.LastValidResidual
	s.LastValidResidualNormed, other.LastValidResidualNormed = other.LastValidResidualNormed, s.LastValidResidualNormed
	s.Likelihood, other.Likelihood = other.Likelihood, s.Likelihood
	s.LogNormalization, other.LogNormalization = other.LogNormalization, s.LogNormalization
	s.lastValidLikelihood, other.lastValidLikelihood = other.lastValidLikelihood, s.lastValidLikelihood
	s.lastValidLogNormalization, other.lastValidLogNormalization = other.lastValidLogNormalization, s.lastValidLogNormalization
}

// CopyModelFrom replaces this replica's entire model with a deep copy
// of donor's, as performed by a resample operator. Unlike SwapWith,
// the donor is left unmodified.
func (s *State) CopyModelFrom(donor *State) {
	s.Tree.CopyFrom(donor.Tree)
	s.Noise = donor.Noise.Clone()
	s.LambdaScale = donor.LambdaScale
	s.PriorScale = donor.PriorScale
	copy(s.Residual, donor.Residual)
	copy(s.ResidualNormed, donor.ResidualNormed)
	s.Likelihood = donor.Likelihood
	s.LogNormalization = donor.LogNormalization
	s.commitValid()
}
