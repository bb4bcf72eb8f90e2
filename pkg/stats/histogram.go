package stats

import "fmt"

// Histogram is a fixed-grid histogram over [VMin, VMax) with a
// uniform bin width, used for per-pixel and per-residual posterior
// summarisation.
type Histogram struct {
	VMin, VMax float64
	Bins       []int64
}

// NewHistogram allocates an empty histogram with the given bounds and
// bin count.
func NewHistogram(vmin, vmax float64, bins int) (*Histogram, error) {
	if bins <= 0 {
		return nil, fmt.Errorf("stats: histogram needs at least 1 bin, got %d", bins)
	}
	if vmax <= vmin {
		return nil, fmt.Errorf("stats: histogram vmax (%g) must exceed vmin (%g)", vmax, vmin)
	}
	return &Histogram{VMin: vmin, VMax: vmax, Bins: make([]int64, bins)}, nil
}

func (h *Histogram) width() float64 { return (h.VMax - h.VMin) / float64(len(h.Bins)) }

// binOf returns the bin index for x, clamped to [0, len(Bins)-1].
func (h *Histogram) binOf(x float64) int {
	if x <= h.VMin {
		return 0
	}
	if x >= h.VMax {
		return len(h.Bins) - 1
	}
	b := int((x - h.VMin) / h.width())
	if b >= len(h.Bins) {
		b = len(h.Bins) - 1
	}
	return b
}

// Add folds one observation into the histogram, clamping out-of-range
// values into the nearest edge bin.
func (h *Histogram) Add(x float64) {
	h.Bins[h.binOf(x)]++
}

// Total is the number of observations folded in.
func (h *Histogram) Total() int64 {
	var n int64
	for _, c := range h.Bins {
		n += c
	}
	return n
}

// binCentre returns the midpoint value of bin i.
func (h *Histogram) binCentre(i int) float64 {
	w := h.width()
	return h.VMin + w*(float64(i)+0.5)
}

// Mode returns the centre of the highest-count bin. Ties resolve to
// the lowest-indexed bin.
func (h *Histogram) Mode() float64 {
	best, bestCount := 0, int64(-1)
	for i, c := range h.Bins {
		if c > bestCount {
			best, bestCount = i, c
		}
	}
	return h.binCentre(best)
}

// Median walks the cumulative sum up from the lowest bin, returning the
// centre of the first bin where it exceeds half the total.
func (h *Histogram) Median() float64 {
	total := h.Total()
	if total == 0 {
		return h.binCentre(len(h.Bins) / 2)
	}
	half := total / 2
	var cum int64
	for i, c := range h.Bins {
		cum += c
		if cum > half {
			return h.binCentre(i)
		}
	}
	return h.binCentre(len(h.Bins) - 1)
}

// CredibleInterval returns [qLow, qHigh] of the marginal posterior
// represented by the histogram: the interval remaining after dropping
// (1-p)/2 of the total weight from each tail.
func (h *Histogram) CredibleInterval(p float64) (lo, hi float64) {
	total := h.Total()
	if total == 0 {
		return h.VMin, h.VMax
	}
	tail := float64(total) * (1 - p) / 2

	var cum float64
	loBin := 0
	for i, c := range h.Bins {
		cum += float64(c)
		if cum >= tail {
			loBin = i
			break
		}
	}

	cum = 0
	hiBin := len(h.Bins) - 1
	for i := len(h.Bins) - 1; i >= 0; i-- {
		cum += float64(h.Bins[i])
		if cum >= tail {
			hiBin = i
			break
		}
	}
	if hiBin < loBin {
		hiBin = loBin
	}
	return h.binCentre(loBin), h.binCentre(hiBin)
}

// HPDInterval finds the narrowest window of contiguous bins whose
// combined weight is at least fraction p of the total, by brute-force
// search over window start positions.
func (h *Histogram) HPDInterval(p float64) (lo, hi float64) {
	total := h.Total()
	if total == 0 {
		return h.VMin, h.VMax
	}
	target := float64(total) * p

	bestWidth := len(h.Bins) + 1
	bestStart, bestEnd := 0, len(h.Bins)-1

	for start := 0; start < len(h.Bins); start++ {
		var sum float64
		for end := start; end < len(h.Bins); end++ {
			sum += float64(h.Bins[end])
			if sum >= target {
				width := end - start
				if width < bestWidth {
					bestWidth = width
					bestStart, bestEnd = start, end
				}
				break
			}
		}
	}
	return h.binCentre(bestStart), h.binCentre(bestEnd)
}
