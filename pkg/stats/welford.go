// Package stats provides the running-statistics primitives shared by
// ChainState's per-replica bookkeeping and the postprocessor's
// per-pixel summarisation: Welford's online mean/variance, and
// fixed-grid histograms with posterior summary extraction.
package stats

import "math"

// Welford accumulates a running mean and variance with Welford's
// online algorithm, numerically stable over arbitrarily many samples.
type Welford struct {
	n    int64
	mean float64
	m2   float64
	min  float64
	max  float64
}

// NewWelford returns an empty accumulator.
func NewWelford() *Welford {
	return &Welford{}
}

// Add folds a new observation into the running statistics.
func (w *Welford) Add(x float64) {
	w.n++
	if w.n == 1 {
		w.min, w.max = x, x
	} else {
		if x < w.min {
			w.min = x
		}
		if x > w.max {
			w.max = x
		}
	}
	delta := x - w.mean
	w.mean += delta / float64(w.n)
	delta2 := x - w.mean
	w.m2 += delta * delta2
}

// N is the number of observations folded in so far.
func (w *Welford) N() int64 { return w.n }

// Mean is the running sample mean.
func (w *Welford) Mean() float64 { return w.mean }

// Variance is the running sample variance (population form, divides
// by N; matches the chain-history replay's per-pixel summary, which
// has no notion of a held-out sample).
func (w *Welford) Variance() float64 {
	if w.n == 0 {
		return 0
	}
	return w.m2 / float64(w.n)
}

// StdDev is the square root of Variance.
func (w *Welford) StdDev() float64 {
	v := w.Variance()
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

// Min and Max are the smallest and largest observations folded in.
func (w *Welford) Min() float64 { return w.min }
func (w *Welford) Max() float64 { return w.max }

// Merge folds another accumulator's observations into w, using
// Chan et al.'s parallel combination formula.
func (w *Welford) Merge(other *Welford) {
	if other.n == 0 {
		return
	}
	if w.n == 0 {
		*w = *other
		return
	}
	n := float64(w.n)
	m := float64(other.n)
	delta := other.mean - w.mean
	total := n + m

	w.m2 = w.m2 + other.m2 + delta*delta*n*m/total
	w.mean = w.mean + delta*m/total
	if other.min < w.min {
		w.min = other.min
	}
	if other.max > w.max {
		w.max = other.max
	}
	w.n += other.n
}
