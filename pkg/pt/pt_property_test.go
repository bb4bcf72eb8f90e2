//go:build property
// +build property

package pt

import (
	"math"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/aeminvert/rjmcmc/pkg/chain"
	"github.com/aeminvert/rjmcmc/pkg/comm"
)

// TestSwapWithIsAnInvolution checks the structural half of detailed
// balance that a swap move must satisfy regardless of its acceptance
// probability: applying SwapWith twice to any pair of replicas, for
// any likelihoods the forward model could have produced, returns each
// replica's cached likelihood to its exact pre-swap value.
func TestSwapWithIsAnInvolution(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("swapping twice restores both replicas", prop.ForAll(
		func(likeA, likeB float64) bool {
			a := newReplica(t, 1, 1.0, likeA)
			b := newReplica(t, 2, 2.0, likeB)
			origA, origB := a.Likelihood, b.Likelihood

			a.SwapWith(b)
			a.SwapWith(b)

			return a.Likelihood == origA && b.Likelihood == origB
		},
		gen.Float64Range(-100, 100),
		gen.Float64Range(-100, 100),
	))

	properties.TestingRun(t)
}

// TestSwapAcceptanceIsMonotoneInLogAlpha checks the Metropolis decision
// boundary used by trySwap: whenever the colder replica's likelihood
// dominates enough to push logAlpha non-negative, the swap is accepted
// unconditionally (detailed balance's acceptance probability saturates
// at 1), regardless of the draw.
func TestSwapAcceptanceIsMonotoneInLogAlpha(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("logAlpha >= 0 always accepts", prop.ForAll(
		func(seed int64, likeDelta float64) bool {
			a := newReplica(t, seed, 1.0, 10)
			b := newReplica(t, seed+1, 2.0, 10+likeDelta)
			cm, err := comm.New(2)
			require.NoError(t, err)
			c, err := NewCoordinator(cm, []*chain.State{a, b})
			require.NoError(t, err)

			res, err := c.trySwap(0, 1, rand.New(rand.NewSource(seed)))
			require.NoError(t, err)
			if res.LogAlpha >= 0 {
				return res.Accepted
			}
			return true
		},
		gen.Int64Range(1, 1000),
		gen.Float64Range(0, 100),
	))

	properties.TestingRun(t)
}

// TestSwapAcceptanceFrequencyMatchesTheoreticalFormula is the PT
// invariance statistical law: with two replicas at T = {1, 2}, over
// 10^5 proposed swaps on a synthetic Gaussian posterior, the empirical
// swap-acceptance frequency matches the mean of the theoretical
// Metropolis formula min(1, exp(logAlpha)) within 1%.
//
// Each trial draws a fresh pair of likelihoods from the posterior
// (independent replicas, not an evolving chain), so this is a
// property of trySwap's decision rule itself rather than of any
// particular trajectory.
func TestSwapAcceptanceFrequencyMatchesTheoreticalFormula(t *testing.T) {
	const nSwaps = 100_000
	const mean, sigma = 20.0, 5.0 // synthetic Gaussian posterior over each replica's negLogLik

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 3
	properties := gopter.NewProperties(parameters)

	properties.Property("empirical swap acceptance matches the theoretical mean within 1% at 1e5 swaps", prop.ForAll(
		func(seed int64) bool {
			rng := rand.New(rand.NewSource(seed))

			var accepted int
			var theoreticalSum float64
			for i := 0; i < nSwaps; i++ {
				likeA := mean + sigma*rng.NormFloat64()
				likeB := mean + sigma*rng.NormFloat64()

				a := newReplica(t, seed, 1.0, likeA)
				b := newReplica(t, seed+1, 2.0, likeB)
				cm, err := comm.New(2)
				if err != nil {
					return false
				}
				c, err := NewCoordinator(cm, []*chain.State{a, b})
				if err != nil {
					return false
				}

				res, err := c.trySwap(0, 1, rng)
				if err != nil {
					return false
				}
				if res.Accepted {
					accepted++
				}
				theoreticalSum += math.Min(1, math.Exp(res.LogAlpha))
			}

			empirical := float64(accepted) / float64(nSwaps)
			theoretical := theoreticalSum / float64(nSwaps)
			return math.Abs(empirical-theoretical) < 0.01*theoretical
		},
		gen.Int64Range(1, 1<<30),
	))

	properties.TestingRun(t)
}
