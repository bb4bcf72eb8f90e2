// Package noise implements the HierarchicalNoise contract as a closed
// sum type: four noise models, each a small parameter vector plus a
// way to turn a residual vector into a negative log-likelihood and a
// log-normalization term.
package noise

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Model is the HierarchicalNoise contract. Implementations own a small
// parameter vector and turn per-sample residuals into a likelihood
// contribution; the ProposalEngine's hierarchical move varies the
// lambdaScale argument, not these parameters.
type Model interface {
	NParameters() int
	Parameter(i int) float64
	SetParameter(i int, v float64)

	// Noise returns the standard deviation applied to a single sample
	// with the given observed magnitude and time, at hierarchical
	// scale lambdaScale.
	Noise(observedMagnitude, observedTime, lambdaScale float64) float64

	// NLL computes the negative log-likelihood and log-normalization
	// of residual under this noise model at lambdaScale, writing the
	// whitened residual into residualsNormed (same length as residual).
	NLL(observed, observedTime, residual []float64, lambdaScale float64, residualsNormed []float64) (negLogLik, logNormalization float64)

	// Clone returns an independent copy carrying its own parameter
	// vector, so each chain replica can perturb its hierarchical noise
	// parameters without disturbing its siblings. Any fixed, immutable
	// data (Brodie's time/additive table, covariance's eigenbasis) may
	// be shared between the original and the clone.
	Clone() Model
}

// Constructor parses a model-specific parameter block from r.
type Constructor func(r *bufio.Reader) (Model, error)

var registry = map[string]Constructor{
	"iidgaussian": readGaussian,
	"hyperbolic":  readHyperbolic,
	"brodie":      readBrodie,
	"covariance":  readCovariance,
}

// Load reads a hierarchical-noise file: its first line names the
// model ("iidgaussian", "hyperbolic", "brodie" or "covariance"), and
// the remainder is parsed by that model's Constructor.
func Load(path string) (Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("noise: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	name, err := readLine(r)
	if err != nil {
		return nil, fmt.Errorf("noise: read model name from %s: %w", path, err)
	}
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("noise: unknown model %q in %s", name, path)
	}
	m, err := ctor(r)
	if err != nil {
		return nil, fmt.Errorf("noise: parse %s model in %s: %w", name, path, err)
	}
	return m, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func readFields(r *bufio.Reader) ([]float64, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(line)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("field %d (%q): %w", i, f, err)
		}
		out[i] = v
	}
	return out, nil
}

const twoPi = 2 * math.Pi

// --- independent Gaussian --------------------------------------------------

type gaussian struct {
	sigma float64
}

// NewIIDGaussian builds an independent-Gaussian Model directly,
// without going through Load, for callers (e.g. a run with no
// --hierarchical file given) that need a reasonable default rather
// than an on-disk model.
func NewIIDGaussian(sigma float64) Model {
	return &gaussian{sigma: sigma}
}

func readGaussian(r *bufio.Reader) (Model, error) {
	fields, err := readFields(r)
	if err != nil || len(fields) < 1 {
		return nil, fmt.Errorf("expected 1 field (sigma): %w", err)
	}
	return &gaussian{sigma: fields[0]}, nil
}

func (g *gaussian) NParameters() int        { return 1 }
func (g *gaussian) Parameter(i int) float64 { return g.sigma }
func (g *gaussian) SetParameter(i int, v float64) { g.sigma = v }

func (g *gaussian) Noise(_, _, lambdaScale float64) float64 {
	return g.sigma * lambdaScale
}

func (g *gaussian) Clone() Model {
	c := *g
	return &c
}

func (g *gaussian) NLL(observed, observedTime, residual []float64, lambdaScale float64, residualsNormed []float64) (negLogLik, logNormalization float64) {
	sigma := g.sigma * lambdaScale
	if sigma <= 0 {
		return math.Inf(1), 0
	}
	var sumSq float64
	for i, r := range residual {
		normed := r / sigma
		residualsNormed[i] = normed
		sumSq += normed * normed
	}
	n := float64(len(residual))
	return 0.5 * sumSq, n*math.Log(sigma) + 0.5*n*math.Log(twoPi)
}

// --- hyperbolic --------------------------------------------------------------

// hyperbolic saturates the per-sample noise floor as a function of the
// observed magnitude: sigma = scale * (A + B/(1+C*|observed|)).
type hyperbolic struct {
	A, B, C float64
}

func readHyperbolic(r *bufio.Reader) (Model, error) {
	fields, err := readFields(r)
	if err != nil || len(fields) < 3 {
		return nil, fmt.Errorf("expected 3 fields (A B C): %w", err)
	}
	return &hyperbolic{A: fields[0], B: fields[1], C: fields[2]}, nil
}

func (h *hyperbolic) NParameters() int { return 3 }
func (h *hyperbolic) Parameter(i int) float64 {
	switch i {
	case 0:
		return h.A
	case 1:
		return h.B
	default:
		return h.C
	}
}
func (h *hyperbolic) SetParameter(i int, v float64) {
	switch i {
	case 0:
		h.A = v
	case 1:
		h.B = v
	default:
		h.C = v
	}
}

func (h *hyperbolic) Noise(observedMagnitude, _, lambdaScale float64) float64 {
	return lambdaScale * (h.A + h.B/(1+h.C*math.Abs(observedMagnitude)))
}

func (h *hyperbolic) Clone() Model {
	c := *h
	return &c
}

func (h *hyperbolic) NLL(observed, observedTime, residual []float64, lambdaScale float64, residualsNormed []float64) (negLogLik, logNormalization float64) {
	var sumSq, sumLog float64
	for i, r := range residual {
		sigma := h.Noise(observed[i], observedTime[i], lambdaScale)
		if sigma <= 0 {
			return math.Inf(1), 0
		}
		normed := r / sigma
		residualsNormed[i] = normed
		sumSq += normed * normed
		sumLog += math.Log(sigma)
	}
	n := float64(len(residual))
	return 0.5 * sumSq, sumLog + 0.5*n*math.Log(twoPi)
}

// --- Brodie additive + multiplicative ---------------------------------------

// brodie combines a time-dependent additive noise floor (loaded as a
// lookup table, linearly interpolated) with a multiplicative term
// proportional to the observed magnitude, combined in quadrature.
type brodie struct {
	time     []float64
	additive []float64
	relative float64
}

func readBrodie(r *bufio.Reader) (Model, error) {
	hdr, err := readFields(r)
	if err != nil || len(hdr) < 2 {
		return nil, fmt.Errorf("expected header (relative ntimes): %w", err)
	}
	relative := hdr[0]
	ntimes := int(hdr[1])
	if ntimes <= 0 {
		return nil, fmt.Errorf("ntimes must be positive, got %d", ntimes)
	}

	times := make([]float64, ntimes)
	additive := make([]float64, ntimes)
	for i := 0; i < ntimes; i++ {
		row, err := readFields(r)
		if err != nil || len(row) < 2 {
			return nil, fmt.Errorf("row %d (time additive): %w", i, err)
		}
		times[i] = row[0]
		additive[i] = row[1]
	}
	return &brodie{time: times, additive: additive, relative: relative}, nil
}

func (b *brodie) NParameters() int        { return 1 }
func (b *brodie) Parameter(i int) float64 { return b.relative }
func (b *brodie) SetParameter(i int, v float64) { b.relative = v }

func (b *brodie) additiveNoise(t float64) float64 {
	n := len(b.time)
	if n == 1 {
		return b.additive[0]
	}
	if t <= b.time[0] {
		return b.additive[0]
	}
	if t >= b.time[n-1] {
		return b.additive[n-1]
	}
	for i := 1; i < n; i++ {
		if t <= b.time[i] {
			t0, t1 := b.time[i-1], b.time[i]
			a0, a1 := b.additive[i-1], b.additive[i]
			frac := (t - t0) / (t1 - t0)
			return a0 + frac*(a1-a0)
		}
	}
	return b.additive[n-1]
}

func (b *brodie) Noise(observedMagnitude, observedTime, lambdaScale float64) float64 {
	add := b.additiveNoise(observedTime)
	mul := b.relative * observedMagnitude
	return lambdaScale * math.Sqrt(add*add+mul*mul)
}

func (b *brodie) Clone() Model {
	c := *b // time/additive tables are immutable once loaded, safe to share
	return &c
}

func (b *brodie) NLL(observed, observedTime, residual []float64, lambdaScale float64, residualsNormed []float64) (negLogLik, logNormalization float64) {
	var sumSq, sumLog float64
	for i, r := range residual {
		sigma := b.Noise(observed[i], observedTime[i], lambdaScale)
		if sigma <= 0 {
			return math.Inf(1), 0
		}
		normed := r / sigma
		residualsNormed[i] = normed
		sumSq += normed * normed
		sumLog += math.Log(sigma)
	}
	n := float64(len(residual))
	return 0.5 * sumSq, sumLog + 0.5*n*math.Log(twoPi)
}

// --- covariance (offline eigendecomposition) --------------------------------

// covariance is a fixed, pre-eigendecomposed noise covariance matrix:
// w holds the eigenvalues, v the eigenvectors as consecutive rows of
// length size. It carries no sampled parameters of its own.
type covariance struct {
	size int
	w    []float64
	v    []float64 // row-major, size*size
}

func readCovariance(r *bufio.Reader) (Model, error) {
	hdr, err := readFields(r)
	if err != nil || len(hdr) < 1 {
		return nil, fmt.Errorf("expected header (size): %w", err)
	}
	size := int(hdr[0])
	if size <= 0 {
		return nil, fmt.Errorf("size must be positive, got %d", size)
	}

	w, err := readFields(r)
	if err != nil || len(w) != size {
		return nil, fmt.Errorf("expected %d eigenvalues: %w", size, err)
	}

	v := make([]float64, 0, size*size)
	for i := 0; i < size; i++ {
		row, err := readFields(r)
		if err != nil || len(row) != size {
			return nil, fmt.Errorf("eigenvector row %d: expected %d entries: %w", i, size, err)
		}
		v = append(v, row...)
	}
	return &covariance{size: size, w: w, v: v}, nil
}

func (c *covariance) NParameters() int            { return 0 }
func (c *covariance) Parameter(i int) float64     { return 0 }
func (c *covariance) SetParameter(i int, v float64) {}

func (c *covariance) Clone() Model {
	d := *c // eigenbasis is immutable once loaded, safe to share
	return &d
}

func (c *covariance) Noise(_, _, lambdaScale float64) float64 {
	var mean float64
	for _, w := range c.w {
		mean += w
	}
	mean /= float64(len(c.w))
	return lambdaScale * math.Sqrt(mean)
}

// projectRow returns row i of v dotted with residual (v is row-major).
func (c *covariance) projectRow(i int, residual []float64) float64 {
	base := i * c.size
	var sum float64
	for j := 0; j < c.size; j++ {
		sum += c.v[base+j] * residual[j]
	}
	return sum
}

func (c *covariance) NLL(observed, observedTime, residual []float64, lambdaScale float64, residualsNormed []float64) (negLogLik, logNormalization float64) {
	if len(residual) != c.size {
		return math.Inf(1), 0
	}
	scale2 := lambdaScale * lambdaScale
	var sumSq, sumLog float64
	n := float64(c.size)
	for i := 0; i < c.size; i++ {
		eigenVal := c.w[i] * scale2
		if eigenVal <= 0 {
			return math.Inf(1), 0
		}
		projected := c.projectRow(i, residual)
		normed := projected / math.Sqrt(eigenVal)
		residualsNormed[i] = normed
		sumSq += normed * normed
		sumLog += 0.5 * math.Log(eigenVal)
	}
	return 0.5 * sumSq, sumLog + 0.5*n*math.Log(twoPi)
}
