package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/google/uuid"

	"github.com/aeminvert/rjmcmc/pkg/chain"
	"github.com/aeminvert/rjmcmc/pkg/config"
	"github.com/aeminvert/rjmcmc/pkg/history"
	"github.com/aeminvert/rjmcmc/pkg/proposal"
	"github.com/aeminvert/rjmcmc/pkg/pt"
)

// driver runs the single SPMD loop of §5: every iteration proposes
// and steps one move per replica, periodically exchanges across the
// temperature ladder, and appends every attempted move to that
// replica's chain-history writer.
type driver struct {
	flags *config.Flags
	setup *config.Setup
	runID uuid.UUID
	log   *slog.Logger

	writers []*history.Writer
	coord   *pt.Coordinator
	rng     *rand.Rand // move-exchange RNG, distinct from every chain.State.RNG

	kHistogram   []int64
	swapProposed int64
	swapAccepted int64
}

// newDriver opens one chain-history segment file per replica and
// wires a PTCoordinator whose OnSegmentBoundary flushes the affected
// replica's writer, the §4.5/§4.6 segment-boundary invariant.
func newDriver(f *config.Flags, setup *config.Setup, runID uuid.UUID, logger *slog.Logger) (*driver, error) {
	d := &driver{
		flags:      f,
		setup:      setup,
		runID:      runID,
		log:        logger,
		writers:    make([]*history.Writer, len(setup.Replicas)),
		rng:        rand.New(rand.NewSource(f.Seed + 1_000_003)),
		kHistogram: make([]int64, f.Kmax+1),
	}

	states := make([]*chain.State, len(setup.Replicas))
	for i, rep := range setup.Replicas {
		states[i] = rep.State
		w, err := history.Create(chainHistoryPath(f.Output, i), rep.State.HistoryCapacity, d.initialiseRecord(i))
		if err != nil {
			return nil, fmt.Errorf("aeminvert: open chain-history for replica %d: %w", i, err)
		}
		d.writers[i] = w
	}

	coord, err := pt.NewCoordinator(setup.World.TemperatureComm, states)
	if err != nil {
		return nil, err
	}
	coord.OnSegmentBoundary = func(idx int) {
		if err := d.writers[idx].Flush(d.initialiseRecord(idx)); err != nil {
			d.log.Error("flush on segment boundary", "replica", idx, "error", err)
		}
	}
	d.coord = coord
	return d, nil
}

func chainHistoryPath(prefix string, idx int) string {
	return fmt.Sprintf("%s-%03d-ch.dat", prefix, idx)
}

func (d *driver) initialiseRecord(idx int) history.InitialiseRecord {
	s := d.setup.Replicas[idx].State
	return history.InitialiseRecord{
		RunID:            d.runID,
		ReplicaIndex:     idx,
		Temperature:      s.Temperature,
		LambdaScale:      s.LambdaScale,
		PriorScale:       s.PriorScale,
		Likelihood:       s.Likelihood,
		LogNormalization: s.LogNormalization,
		Tree:             s.Tree.Clone(),
	}
}

// flushAll flushes every replica's writer at end-of-run so no buffered
// deltas are lost; Close itself never flushes.
func (d *driver) flushAll() error {
	for idx := range d.writers {
		if err := d.writers[idx].Flush(d.initialiseRecord(idx)); err != nil {
			return fmt.Errorf("flush replica %d: %w", idx, err)
		}
	}
	return nil
}

func (d *driver) closeWriters() {
	for i, w := range d.writers {
		if err := w.Close(); err != nil {
			d.log.Error("close chain-history", "replica", i, "error", err)
		}
	}
}

// run drives the sampling loop for flags.Total iterations.
func (d *driver) run(ctx context.Context) error {
	for iter := int64(1); iter <= d.flags.Total; iter++ {
		for idx, rep := range d.setup.Replicas {
			if err := d.step(ctx, idx, rep); err != nil {
				return fmt.Errorf("iteration %d replica %d: %w", iter, idx, err)
			}
		}

		primary := d.setup.Replicas[0].State.Tree.NCoeff()
		if primary < len(d.kHistogram) {
			d.kHistogram[primary]++
		}

		if d.setup.World.M*d.setup.World.C > 1 && int(iter)%d.flags.ExchangeRate == 0 {
			if err := d.exchange(ctx); err != nil {
				return fmt.Errorf("iteration %d exchange: %w", iter, err)
			}
		}
	}
	return nil
}

// step proposes and steps one move for replica idx, via that
// replica's own RNG, and records the attempt regardless of outcome.
func (d *driver) step(ctx context.Context, idx int, rep *config.Replica) error {
	kind := selectMove(rep.State.RNG, d.setup.Moves)
	accepted, err := rep.Engine.Step(ctx, kind, rep.State)
	if err != nil {
		// Step returns an error only for a forward-model evaluation
		// failure, a failed tree mutation on an index drawn from the
		// tree's own sets (both wrapped as Invariant), or an unknown move
		// kind; proposal-invalid and numeric outcomes are plain
		// rejections with a nil error, so any error reaching here is fatal.
		return err
	}

	mv := rep.Engine.LastMove()
	s := rep.State
	d.writers[idx].AppendDelta(history.DeltaRecord{
		Kind:             deltaKindFor(mv),
		Idx:              mv.Idx,
		NewValue:         mv.NewValue,
		OldValue:         mv.OldValue,
		HasOld:           mv.HasOld,
		Likelihood:       s.Likelihood,
		LogNormalization: s.LogNormalization,
		Temperature:      s.Temperature,
		LambdaScale:      s.LambdaScale,
		PriorScale:       s.PriorScale,
		Accepted:         accepted,
	})
	if d.writers[idx].Full() {
		if err := d.writers[idx].Flush(d.initialiseRecord(idx)); err != nil {
			return fmt.Errorf("flush replica %d: %w", idx, err)
		}
	}
	return nil
}

func selectMove(rng *rand.Rand, mp config.MoveProbabilities) proposal.Kind {
	u := rng.Float64()
	cum := mp.Birth
	if u < cum {
		return proposal.Birth
	}
	cum += mp.Death
	if u < cum {
		return proposal.Death
	}
	cum += mp.Value
	if u < cum {
		return proposal.Value
	}
	cum += mp.Hierarchical
	if u < cum {
		return proposal.Hierarchical
	}
	return proposal.HierarchicalPrior
}

func deltaKindFor(mv proposal.MoveInfo) history.DeltaKind {
	switch mv.Kind {
	case proposal.Birth:
		return history.DeltaBirth
	case proposal.Death:
		return history.DeltaDeath
	case proposal.Value:
		if mv.Idx == 0 {
			return history.DeltaRootChange
		}
		return history.DeltaValueChange
	case proposal.Hierarchical:
		return history.DeltaHierarchical
	default:
		return history.DeltaHierarchicalPrior
	}
}

// exchange performs one PT swap round, then, if --resample is set,
// one resample round for every replica at --resample-temperature's
// level, drawing donors by weighted sampling among lower-temperature
// replicas (weight proportional to the donor's unnormalised posterior
// density, stabilised against the run's current maximum to avoid
// overflow in the weighted draw).
func (d *driver) exchange(ctx context.Context) error {
	results, err := d.coord.Swap(ctx, d.rng)
	if err != nil {
		return err
	}
	for _, r := range results {
		d.swapProposed++
		if r.Accepted {
			d.swapAccepted++
		}
	}

	if !d.flags.Resample {
		return nil
	}
	level := d.flags.ResampleTemperature
	lo := level * d.flags.Chains
	hi := lo + d.flags.Chains
	maxLogDensity := d.maxLogPosteriorDensity()
	weight := func(donorIdx int) float64 {
		return math.Exp(d.setup.Replicas[donorIdx].State.LogPosteriorDensity() - maxLogDensity)
	}
	for idx := lo; idx < hi; idx++ {
		if _, err := d.coord.Resample(idx, weight, d.rng); err != nil {
			return err
		}
	}
	return nil
}

func (d *driver) maxLogPosteriorDensity() float64 {
	best := math.Inf(-1)
	for _, rep := range d.setup.Replicas {
		if v := rep.State.LogPosteriorDensity(); v > best {
			best = v
		}
	}
	return best
}
