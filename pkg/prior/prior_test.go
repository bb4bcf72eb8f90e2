package prior

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

const uniformDoc = `
default:
  vmin: -2.0
  vmax: 2.0
depths:
  0:
    vmin: -1.0
    vmax: 1.0
overrides:
  - depth: 1
    i: 0
    j: 0
    vmin: -0.5
    vmax: 0.5
`

func TestParseResolvesOverridesBeforeDepthBeforeDefault(t *testing.T) {
	pp, err := Parse([]byte(uniformDoc))
	require.NoError(t, err)

	vmin, vmax := pp.PriorRange(1, 0, 0, 1.0)
	require.Equal(t, -0.5, vmin)
	require.Equal(t, 0.5, vmax)

	vmin, vmax = pp.PriorRange(0, 5, 5, 1.0)
	require.Equal(t, -1.0, vmin)
	require.Equal(t, 1.0, vmax)

	vmin, vmax = pp.PriorRange(3, 1, 1, 1.0)
	require.Equal(t, -2.0, vmin)
	require.Equal(t, 2.0, vmax)
}

func TestParseRejectsInvertedRange(t *testing.T) {
	_, err := Parse([]byte(`
default:
  vmin: 1.0
  vmax: -1.0
`))
	require.Error(t, err)
}

func TestParseRejectsGaussianWithoutStd(t *testing.T) {
	_, err := Parse([]byte(`
default:
  vmin: -1.0
  vmax: 1.0
  kind: gaussian
`))
	require.Error(t, err)
}

func TestUniformSampleBirthStaysInRange(t *testing.T) {
	pp, err := Parse([]byte(uniformDoc))
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		v, logQ := pp.SampleBirth(rng, 3, 1, 1, 0.0, 1.0)
		require.GreaterOrEqual(t, v, -2.0)
		require.LessOrEqual(t, v, 2.0)
		require.InDelta(t, -math.Log(4.0), logQ, 1e-12)
	}
}

func TestUniformReverseBirthDensityMatchesForwardDensity(t *testing.T) {
	pp, err := Parse([]byte(uniformDoc))
	require.NoError(t, err)

	logQRev := pp.ReverseBirthDensity(3, 1, 1, 0.0, 0.7, 1.0)
	require.InDelta(t, -math.Log(4.0), logQRev, 1e-12)

	// Outside the applicable range, density is zero.
	logQRev = pp.ReverseBirthDensity(0, 5, 5, 0.0, 5.0, 1.0)
	require.True(t, math.IsInf(logQRev, -1))
}

func TestGaussianSampleBirthDensityMatchesPDF(t *testing.T) {
	pp, err := Parse([]byte(`
default:
  vmin: -10.0
  vmax: 10.0
  kind: gaussian
  std: 0.25
`))
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(2))

	parent := 0.3
	v, logQ := pp.SampleBirth(rng, 0, 0, 0, parent, 1.0)
	want := gaussianLogPDF(v, parent, 0.25)
	require.InDelta(t, want, logQ, 1e-12)

	logQRev := pp.ReverseBirthDensity(0, 0, 0, parent, v, 1.0)
	require.InDelta(t, logQ, logQRev, 1e-12)
}

func TestLogPriorRatioBirthDeathAreExactInverses(t *testing.T) {
	pp, err := Parse([]byte(uniformDoc))
	require.NoError(t, err)

	birth := pp.LogPriorRatioBirth(0, 2, 2, 0.4, 1.0)
	death := pp.LogPriorRatioDeath(0, 2, 2, 0.4, 1.0)
	require.InDelta(t, -birth, death, 1e-12)
}

func TestLogPriorRatioBirthRejectsOutOfRangeValue(t *testing.T) {
	pp, err := Parse([]byte(uniformDoc))
	require.NoError(t, err)

	ratio := pp.LogPriorRatioBirth(0, 2, 2, 5.0, 1.0) // outside the depth-0 range [-1,1]
	require.True(t, math.IsInf(ratio, -1))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/prior.yaml")
	require.Error(t, err)
}

func TestPriorRangeScalesAroundMidpoint(t *testing.T) {
	pp, err := Parse([]byte(uniformDoc))
	require.NoError(t, err)

	vmin, vmax := pp.PriorRange(0, 5, 5, 2.0) // depth-0 range [-1,1], midpoint 0
	require.InDelta(t, -2.0, vmin, 1e-12)
	require.InDelta(t, 2.0, vmax, 1e-12)

	vmin, vmax = pp.PriorRange(0, 5, 5, 0.5)
	require.InDelta(t, -0.5, vmin, 1e-12)
	require.InDelta(t, 0.5, vmax, 1e-12)
}
