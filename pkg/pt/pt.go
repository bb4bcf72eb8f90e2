// Package pt implements the PTCoordinator: the temperature ladder,
// pairwise swap proposals over a random pairing, and the replica-resampling
// operator, grounded on §4.5/§5's temperature-comm description. A
// swap or resample is the one point where two replicas' entire model
// state is exchanged or copied wholesale, and the one point that
// forces a chain-history segment boundary in every affected replica.
package pt

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/aeminvert/rjmcmc/pkg/chain"
	"github.com/aeminvert/rjmcmc/pkg/comm"
)

// SwapResult describes the outcome of one attempted pairing.
type SwapResult struct {
	A, B     int // replica indices, A the lower temperature
	Accepted bool
	LogAlpha float64
}

// ResampleResult describes the outcome of one attempted resample copy.
type ResampleResult struct {
	Donor, Recipient int
	Accepted         bool
}

// Coordinator owns the temperature-comm view of every replica in the
// run and performs the swap/resample collectives across it.
type Coordinator struct {
	Temperature *comm.Comm     // size M*C, one rank per replica's root
	Replicas    []*chain.State // length M*C, indexed by rank

	// OnSegmentBoundary is called for every replica whose model just
	// changed by a swap or resample accept, so the caller's
	// ChainHistory writer can flush and re-initialise (§4.5 step 5,
	// §4.6's segment-boundary invariant). Left nil in tests that don't
	// exercise chain history.
	OnSegmentBoundary func(replicaIdx int)
}

// NewCoordinator builds a Coordinator over the given replicas, one per
// temperature-comm rank.
func NewCoordinator(temperatureComm *comm.Comm, replicas []*chain.State) (*Coordinator, error) {
	if temperatureComm.Size() != len(replicas) {
		return nil, fmt.Errorf("pt: temperature comm size %d does not match replica count %d", temperatureComm.Size(), len(replicas))
	}
	return &Coordinator{Temperature: temperatureComm, Replicas: replicas}, nil
}

// Swap performs one round of pairwise exchange proposals: a
// stable random pairing drawn from rng (the "shared seed" of §4.5,
// realised here as a single rng shared by the coordinator rather than
// independently reconstructed per rank, since all replicas already
// live in one address space), then for each pair a Metropolis decision
// on `log α = (L_a - L_b)*(1/T_b - 1/T_a)`, T_a < T_b.
func (c *Coordinator) Swap(ctx context.Context, rng *rand.Rand) ([]SwapResult, error) {
	pairs := randomPairing(len(c.Replicas), rng)
	results := make([]SwapResult, 0, len(pairs))

	err := c.Temperature.Bcast(ctx, func(ctx context.Context, rank int) error {
		return nil // suspension point (d): every rank observes the same pairing/decision below
	})
	if err != nil {
		return nil, err
	}

	for _, pr := range pairs {
		a, b := pr[0], pr[1]
		ra, rb := c.Replicas[a], c.Replicas[b]
		lo, hi := a, b
		if ra.Temperature > rb.Temperature {
			lo, hi = b, a
		}
		res, err := c.trySwap(lo, hi, rng)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (c *Coordinator) trySwap(lo, hi int, rng *rand.Rand) (SwapResult, error) {
	a, b := c.Replicas[lo], c.Replicas[hi]
	if a.Temperature >= b.Temperature {
		return SwapResult{}, fmt.Errorf("pt: swap pair (%d,%d) is not temperature-ordered (%g >= %g)", lo, hi, a.Temperature, b.Temperature)
	}

	logAlpha := (a.Likelihood - b.Likelihood) * (1/b.Temperature - 1/a.Temperature)
	accepted := logAlpha >= 0 || math.Log(rng.Float64()) < logAlpha

	if accepted {
		a.SwapWith(b)
		a.ResidualsValid = false
		b.ResidualsValid = false
		if c.OnSegmentBoundary != nil {
			c.OnSegmentBoundary(lo)
			c.OnSegmentBoundary(hi)
		}
	}
	return SwapResult{A: lo, B: hi, Accepted: accepted, LogAlpha: logAlpha}, nil
}

// randomPairing returns a stable random perfect matching of [0, n)
// drawn from rng; n must be even (enforced at the ladder-construction
// boundary, §4.5's "total must be even").
func randomPairing(n int, rng *rand.Rand) [][2]int {
	perm := rng.Perm(n)
	pairs := make([][2]int, 0, n/2)
	for i := 0; i+1 < n; i += 2 {
		pairs = append(pairs, [2]int{perm[i], perm[i+1]})
	}
	return pairs
}

// Resample copies a whole model from a lower-temperature donor into
// recipient, chosen by weighted sampling among lower-temperature
// replicas proportional to weight(donor). It accepts whenever there is
// at least one colder donor and the weights sum to a positive total
// (otherwise it returns Accepted false and copies nothing), and an
// accepted copy is the same segment-boundary trigger as a swap accept.
func (c *Coordinator) Resample(recipient int, weight func(donorIdx int) float64, rng *rand.Rand) (ResampleResult, error) {
	recv := c.Replicas[recipient]
	var candidates []int
	var weights []float64
	total := 0.0
	for i, r := range c.Replicas {
		if i == recipient || r.Temperature >= recv.Temperature {
			continue
		}
		w := weight(i)
		if w < 0 {
			return ResampleResult{}, fmt.Errorf("pt: resample: negative weight for donor %d", i)
		}
		candidates = append(candidates, i)
		weights = append(weights, w)
		total += w
	}
	if len(candidates) == 0 || total <= 0 {
		return ResampleResult{Recipient: recipient, Accepted: false}, nil
	}

	draw := rng.Float64() * total
	donor := candidates[len(candidates)-1]
	acc := 0.0
	for i, w := range weights {
		acc += w
		if draw <= acc {
			donor = candidates[i]
			break
		}
	}

	recv.CopyModelFrom(c.Replicas[donor])
	recv.ResidualsValid = false
	if c.OnSegmentBoundary != nil {
		c.OnSegmentBoundary(recipient)
	}
	return ResampleResult{Donor: donor, Recipient: recipient, Accepted: true}, nil
}
