package noise

import (
	"fmt"
	"math"
)

// Composite joins one noise Model per registered forward-model system
// into a single Model over the concatenated residual vector, splitting
// it back into per-system segments (in the same registration order
// forward.Registry.EvalAll concatenates responses) before delegating.
// It exists because chain.State carries exactly one Noise field, while
// an operator may want a distinct hierarchical-noise model per survey
// system (one --hierarchical file per --stm file).
type Composite struct {
	models   []Model
	segments []int // residual length owned by each model, same order
}

// NewComposite builds a Composite from parallel models/segments
// slices. len(models) must equal len(segments) and both must be
// non-empty.
func NewComposite(models []Model, segments []int) (*Composite, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("noise: composite requires at least one model")
	}
	if len(models) != len(segments) {
		return nil, fmt.Errorf("noise: composite: %d models but %d segment lengths", len(models), len(segments))
	}
	for i, n := range segments {
		if n <= 0 {
			return nil, fmt.Errorf("noise: composite: segment %d has non-positive length %d", i, n)
		}
	}
	return &Composite{models: models, segments: segments}, nil
}

func (c *Composite) total() int {
	n := 0
	for _, s := range c.segments {
		n += s
	}
	return n
}

// NParameters is the sum of every member model's parameter count.
func (c *Composite) NParameters() int {
	n := 0
	for _, m := range c.models {
		n += m.NParameters()
	}
	return n
}

// locate maps a flat parameter index to its owning model and that
// model's local parameter index.
func (c *Composite) locate(i int) (model Model, local int) {
	for _, m := range c.models {
		np := m.NParameters()
		if i < np {
			return m, i
		}
		i -= np
	}
	return nil, 0
}

func (c *Composite) Parameter(i int) float64 {
	m, local := c.locate(i)
	if m == nil {
		return 0
	}
	return m.Parameter(local)
}

func (c *Composite) SetParameter(i int, v float64) {
	m, local := c.locate(i)
	if m == nil {
		return
	}
	m.SetParameter(local, v)
}

// Noise is not well defined for a composite across system boundaries
// (the answer depends on which system the sample belongs to); it
// returns the first member's Noise as a representative scale. The
// composite's own NLL does not call it.
func (c *Composite) Noise(observedMagnitude, observedTime, lambdaScale float64) float64 {
	return c.models[0].Noise(observedMagnitude, observedTime, lambdaScale)
}

func (c *Composite) Clone() Model {
	clones := make([]Model, len(c.models))
	for i, m := range c.models {
		clones[i] = m.Clone()
	}
	segs := make([]int, len(c.segments))
	copy(segs, c.segments)
	return &Composite{models: clones, segments: segs}
}

func (c *Composite) NLL(observed, observedTime, residual []float64, lambdaScale float64, residualsNormed []float64) (negLogLik, logNormalization float64) {
	total := c.total()
	if len(residual) != total {
		return math.Inf(1), 0
	}
	off := 0
	for i, m := range c.models {
		n := c.segments[i]
		nll, logNorm := m.NLL(observed[off:off+n], observedTime[off:off+n], residual[off:off+n], lambdaScale, residualsNormed[off:off+n])
		negLogLik += nll
		logNormalization += logNorm
		off += n
	}
	return negLogLik, logNormalization
}
