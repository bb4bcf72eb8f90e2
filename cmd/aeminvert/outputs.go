package main

import (
	"fmt"
	"os"

	"github.com/aeminvert/rjmcmc/pkg/config"
	"github.com/aeminvert/rjmcmc/pkg/proposal"
)

// writeOutputs writes every end-of-run artifact named by the output
// prefix: the primary (coldest, chain 0) replica's final tree, the
// tree-size histogram tracked against that same replica, the PT
// swap-acceptance ratio (only when the ladder has more than one
// rank), and per-replica residual dumps. Per-replica move counters are
// logged, not written to a file.
func (d *driver) writeOutputs() error {
	primary := d.setup.Replicas[0]
	if err := primary.State.Tree.Save(d.flags.Output + "-final_model.txt"); err != nil {
		return fmt.Errorf("aeminvert: write final model: %w", err)
	}

	if err := d.writeKHistogram(); err != nil {
		return err
	}

	if d.setup.World.M*d.setup.World.C > 1 {
		if err := d.writeAcceptance(); err != nil {
			return err
		}
	}

	for idx, rep := range d.setup.Replicas {
		if err := writeResidualVector(fmt.Sprintf("%s-%03d-residuals.txt", d.flags.Output, idx), rep.State.LastValidResidual); err != nil {
			return err
		}
		if err := writeResidualVector(fmt.Sprintf("%s-%03d-residuals_normed.txt", d.flags.Output, idx), rep.State.LastValidResidualNormed); err != nil {
			return err
		}
		d.logMoveCounters(idx, rep)
	}
	return nil
}

func (d *driver) writeKHistogram() error {
	f, err := os.Create(d.flags.Output + "-khistogram.txt")
	if err != nil {
		return fmt.Errorf("aeminvert: write khistogram: %w", err)
	}
	defer f.Close()
	for k, count := range d.kHistogram {
		if _, err := fmt.Fprintf(f, "%d %d\n", k, count); err != nil {
			return fmt.Errorf("aeminvert: write khistogram: %w", err)
		}
	}
	return nil
}

func (d *driver) writeAcceptance() error {
	f, err := os.Create(d.flags.Output + "-acceptance.txt")
	if err != nil {
		return fmt.Errorf("aeminvert: write acceptance: %w", err)
	}
	defer f.Close()
	ratio := 0.0
	if d.swapProposed > 0 {
		ratio = float64(d.swapAccepted) / float64(d.swapProposed)
	}
	if _, err := fmt.Fprintf(f, "%d %d %g\n", d.swapAccepted, d.swapProposed, ratio); err != nil {
		return fmt.Errorf("aeminvert: write acceptance: %w", err)
	}
	return nil
}

func writeResidualVector(path string, v []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("aeminvert: write %s: %w", path, err)
	}
	defer f.Close()
	for i, x := range v {
		if i > 0 {
			fmt.Fprint(f, " ")
		}
		fmt.Fprintf(f, "%g", x)
	}
	fmt.Fprintln(f)
	return nil
}

func (d *driver) logMoveCounters(idx int, rep *config.Replica) {
	snap := rep.Engine.Counters()
	d.log.Info("replica move counters", "replica", idx,
		"birth_proposed", snap.Proposed[proposal.Birth], "birth_accepted", snap.Accepted[proposal.Birth],
		"death_proposed", snap.Proposed[proposal.Death], "death_accepted", snap.Accepted[proposal.Death],
		"value_proposed", snap.Proposed[proposal.Value], "value_accepted", snap.Accepted[proposal.Value],
		"hierarchical_proposed", snap.Proposed[proposal.Hierarchical], "hierarchical_accepted", snap.Accepted[proposal.Hierarchical],
		"hierarchical_prior_proposed", snap.Proposed[proposal.HierarchicalPrior], "hierarchical_prior_accepted", snap.Accepted[proposal.HierarchicalPrior],
	)
}
