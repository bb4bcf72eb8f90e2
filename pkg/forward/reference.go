package forward

import (
	"fmt"
	"math"

	"github.com/aeminvert/rjmcmc/pkg/grid"
)

// decayVelocity sets the depth/time scale of the reference model's
// weighting kernel; it has no physical meaning, it only needs to make
// shallower layers dominate earlier windows and deeper layers dominate
// later ones, the one qualitative property any real EM decay shares.
const decayVelocity = 1e-6

// referenceModel is a deterministic stand-in for a real geophysical
// solver: a depth-weighted average of the conductivity column, with
// later windows weighting deeper layers more heavily. It lets the rest
// of the pipeline run end to end against a System's window times
// without reimplementing electromagnetic forward modelling, which is
// out of scope. An operator who needs physically realistic responses
// registers their own Model under the same System.Name in its place.
type referenceModel struct {
	sys System
}

// NewReferenceModel builds the placeholder Model for a parsed STM
// System.
func NewReferenceModel(sys System) Model {
	return &referenceModel{sys: sys}
}

func (m *referenceModel) Name() string  { return m.sys.Name }
func (m *referenceModel) NWindows() int { return len(m.sys.WindowTimes) }

func (m *referenceModel) Eval(g grid.Geometry, layeredConductivity []float64) ([]float64, error) {
	if len(layeredConductivity) != g.Height {
		return nil, fmt.Errorf("forward: reference model %q: column length %d != geometry height %d", m.sys.Name, len(layeredConductivity), g.Height)
	}
	thickness := g.LayerThickness()
	resp := make([]float64, len(m.sys.WindowTimes))
	for w, t := range m.sys.WindowTimes {
		var sum, norm float64
		depth := 0.0
		for i, c := range layeredConductivity {
			mid := depth + thickness[i]/2
			weight := math.Exp(-mid * decayVelocity / t)
			sum += weight * c
			norm += weight
			depth += thickness[i]
		}
		if norm > 0 {
			resp[w] = sum / norm
		}
	}
	return resp, nil
}
