package config

import (
	"math"

	"github.com/aeminvert/rjmcmc/pkg/errs"
	"github.com/aeminvert/rjmcmc/pkg/grid"
	"github.com/aeminvert/rjmcmc/pkg/wavelet"
)

// seedMagnitudeFraction is the fraction of the decomposed image's
// largest-magnitude coefficient below which a candidate is no longer
// worth a birth: stops SeedTreeFromImage from spending its kmax
// budget on noise-floor detail once the image is well approximated.
const seedMagnitudeFraction = 1e-6

// SeedTreeFromImage builds a live wavelet.Tree approximating image
// under kernel, greedily inserting the largest-magnitude
// birth-eligible coefficient (the only ones Insert accepts, since a
// coefficient's parent must already be live) until kmax coefficients
// are live or no remaining candidate clears the magnitude floor.
func SeedTreeFromImage(g grid.Geometry, kernel wavelet.Kernel, image []float64, kmax int) (*wavelet.Tree, error) {
	ix := wavelet.NewIndexer(g)
	coeffs := wavelet.Decompose(ix, kernel, image)

	maxAbs := 0.0
	for _, c := range coeffs {
		if a := math.Abs(c); a > maxAbs {
			maxAbs = a
		}
	}
	floor := maxAbs * seedMagnitudeFraction

	tr := wavelet.New(g)
	tr.Init(coeffs[0])

	for tr.NCoeff() < kmax {
		eligible := tr.BirthEligibleIndices()
		if len(eligible) == 0 {
			break
		}
		best := eligible[0]
		bestAbs := math.Abs(coeffs[best])
		for _, idx := range eligible[1:] {
			if a := math.Abs(coeffs[idx]); a > bestAbs {
				best, bestAbs = idx, a
			}
		}
		if bestAbs < floor {
			break
		}
		if err := tr.Insert(best, coeffs[best]); err != nil {
			// best was drawn from the tree's own birth-eligible set, so
			// a failure here is an eligibility-bookkeeping bug.
			return nil, errs.New(errs.Invariant, "wavelet.Insert", err)
		}
	}
	return tr, nil
}
