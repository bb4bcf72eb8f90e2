// Package postprocess implements the Postprocessor: it replays one or
// more ChainHistory segment files, reconstructs the dense
// log-conductivity image at each sampled step, and accumulates
// per-pixel running statistics and histograms for posterior summary
// extraction. Its replay-driving shape — iterate ordered events,
// invoke a per-step callback — is grounded on the teacher's
// pkg/replay StartReplay engine; here the "events" are the binary
// INITIALISE/DELTA records of pkg/history rather than JSON receipts.
package postprocess

import (
	"fmt"
	"math"

	"github.com/aeminvert/rjmcmc/pkg/grid"
	"github.com/aeminvert/rjmcmc/pkg/history"
	"github.com/aeminvert/rjmcmc/pkg/stats"
	"github.com/aeminvert/rjmcmc/pkg/wavelet"
)

// Config parameterises one postprocessing run.
type Config struct {
	Geometry grid.Geometry
	Kernel   wavelet.Kernel

	Skip int // iterations to discard, counted across all replayed files in order
	Thin int // keep every Thin-th surviving iteration; 1 keeps all

	Exponentiate bool // apply math.Exp to the reconstructed image before accumulating

	HistVMin, HistVMax float64
	HistBins           int

	CredibleP float64 // e.g. 0.9 for a 90% credible interval
	HPDP      float64 // e.g. 0.9 for a 90% HPD interval
}

func (c Config) validate() error {
	if c.Thin < 1 {
		return fmt.Errorf("postprocess: thin must be at least 1, got %d", c.Thin)
	}
	if c.Skip < 0 {
		return fmt.Errorf("postprocess: skip must be non-negative, got %d", c.Skip)
	}
	if c.CredibleP <= 0 || c.CredibleP >= 1 {
		return fmt.Errorf("postprocess: credible-interval probability must be in (0,1), got %g", c.CredibleP)
	}
	if c.HPDP <= 0 || c.HPDP >= 1 {
		return fmt.Errorf("postprocess: HPD probability must be in (0,1), got %g", c.HPDP)
	}
	return nil
}

// PixelSummary is the final set of posterior summaries the spec
// requires for one pixel.
type PixelSummary struct {
	Mean, Variance, StdDev float64
	Mode, Median           float64
	CredibleLo, CredibleHi float64
	HPDLo, HPDHi           float64
}

// Processor accumulates per-pixel running statistics across one or
// more replayed chain-history files.
type Processor struct {
	cfg   Config
	ix    wavelet.Indexer
	stat  []*stats.Welford
	hist  []*stats.Histogram
	kept  int64
	total int64
}

// New builds a Processor for the given config.
func New(cfg Config) (*Processor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	n := cfg.Geometry.N()
	p := &Processor{
		cfg:  cfg,
		ix:   wavelet.NewIndexer(cfg.Geometry),
		stat: make([]*stats.Welford, n),
		hist: make([]*stats.Histogram, n),
	}
	for i := 0; i < n; i++ {
		p.stat[i] = stats.NewWelford()
		h, err := stats.NewHistogram(cfg.HistVMin, cfg.HistVMax, cfg.HistBins)
		if err != nil {
			return nil, err
		}
		p.hist[i] = h
	}
	return p, nil
}

// Run replays every path in order, one after another, accumulating
// per-pixel statistics for each step that survives the skip+thin
// filter. Every DELTA record advances the iteration counter that
// skip+thin is measured against, whether or not the move was
// accepted (a rejected step still contributes one more sample of the
// unchanged current state, the standard MCMC thinning convention); an
// INITIALISE record does not advance it.
func (p *Processor) Run(paths []string) error {
	iteration := 0
	return history.Replay(paths, func(s history.Step) error {
		if !s.IsInitialise {
			iteration++
		}
		if iteration < p.cfg.Skip {
			return nil
		}
		if (iteration-p.cfg.Skip)%p.cfg.Thin != 0 {
			return nil
		}
		p.accumulate(s.Tree)
		return nil
	})
}

func (p *Processor) accumulate(tr *wavelet.Tree) {
	coeffs := make([]float64, p.cfg.Geometry.N())
	tr.MapToArray(coeffs)
	image := wavelet.Reconstruct(p.ix, p.cfg.Kernel, coeffs)

	for i, v := range image {
		if p.cfg.Exponentiate {
			v = math.Exp(v)
		}
		p.stat[i].Add(v)
		p.hist[i].Add(v)
	}
	p.kept++
}

// Kept is the number of steps that survived the skip+thin filter and
// were folded into the running statistics.
func (p *Processor) Kept() int64 { return p.kept }

// PixelResults returns the final per-pixel summary for every pixel in
// row-major order, matching grid.Geometry.ToIndex.
func (p *Processor) PixelResults() []PixelSummary {
	out := make([]PixelSummary, len(p.stat))
	for i := range out {
		w, h := p.stat[i], p.hist[i]
		credLo, credHi := h.CredibleInterval(p.cfg.CredibleP)
		hpdLo, hpdHi := h.HPDInterval(p.cfg.HPDP)
		out[i] = PixelSummary{
			Mean:       w.Mean(),
			Variance:   w.Variance(),
			StdDev:     w.StdDev(),
			Mode:       h.Mode(),
			Median:     h.Median(),
			CredibleLo: credLo,
			CredibleHi: credHi,
			HPDLo:      hpdLo,
			HPDHi:      hpdHi,
		}
	}
	return out
}
