package noise

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "noise.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadGaussianAndNLL(t *testing.T) {
	path := writeFile(t, "iidgaussian\n0.5\n")
	m, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, m.NParameters())
	require.Equal(t, 0.5, m.Parameter(0))

	residual := []float64{0.5, -0.5, 1.0}
	normed := make([]float64, 3)
	nll, logNorm := m.NLL(nil, nil, residual, 1.0, normed)
	require.InDelta(t, 1.0, normed[0], 1e-12)
	require.InDelta(t, -1.0, normed[1], 1e-12)
	require.InDelta(t, 2.0, normed[2], 1e-12)
	require.InDelta(t, 0.5*(1+1+4), nll, 1e-9)
	require.Greater(t, logNorm, 0.0)
}

func TestLoadGaussianZeroSigmaIsInfiniteNLL(t *testing.T) {
	path := writeFile(t, "iidgaussian\n0.0\n")
	m, err := Load(path)
	require.NoError(t, err)
	normed := make([]float64, 1)
	nll, _ := m.NLL(nil, nil, []float64{1.0}, 1.0, normed)
	require.True(t, math.IsInf(nll, 1))
}

func TestLoadHyperbolicSaturatesWithMagnitude(t *testing.T) {
	path := writeFile(t, "hyperbolic\n0.1 1.0 2.0\n")
	m, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, m.NParameters())

	small := m.Noise(0.0, 0.0, 1.0)
	large := m.Noise(1000.0, 0.0, 1.0)
	require.Greater(t, small, large) // saturating: noise floor shrinks with magnitude
	require.InDelta(t, 0.1+1.0, small, 1e-9)
}

func TestLoadBrodieInterpolatesAdditiveFloor(t *testing.T) {
	path := writeFile(t, "brodie\n0.05 3\n1.0 0.1\n2.0 0.2\n3.0 0.3\n")
	m, err := Load(path)
	require.NoError(t, err)

	bm := m.(*brodie)
	require.InDelta(t, 0.15, bm.additiveNoise(1.5), 1e-9)
	require.InDelta(t, 0.1, bm.additiveNoise(0.0), 1e-9) // clamps below range
	require.InDelta(t, 0.3, bm.additiveNoise(100.0), 1e-9)
}

func TestLoadBrodieNLLCombinesInQuadrature(t *testing.T) {
	path := writeFile(t, "brodie\n0.1 2\n0.0 0.2\n10.0 0.2\n")
	m, err := Load(path)
	require.NoError(t, err)

	observed := []float64{10.0}
	times := []float64{0.0}
	residual := []float64{1.0}
	normed := make([]float64, 1)
	sigma := math.Sqrt(0.2*0.2 + 1.0*1.0)
	_, _ = m.NLL(observed, times, residual, 1.0, normed)
	require.InDelta(t, 1.0/sigma, normed[0], 1e-9)
}

func TestLoadCovarianceDiagonalRecoversIndependentCase(t *testing.T) {
	// A diagonal "eigenbasis" (identity eigenvectors) degenerates to
	// independent per-sample whitening by sqrt(eigenvalue).
	doc := "covariance\n2\n4.0 9.0\n1 0\n0 1\n"
	path := writeFile(t, doc)
	m, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 0, m.NParameters())

	residual := []float64{2.0, 3.0}
	normed := make([]float64, 2)
	nll, _ := m.NLL(nil, nil, residual, 1.0, normed)
	require.InDelta(t, 1.0, normed[0], 1e-9) // 2/sqrt(4)
	require.InDelta(t, 1.0, normed[1], 1e-9) // 3/sqrt(9)
	require.InDelta(t, 0.5*(1+1), nll, 1e-9)
}

func TestLoadCovarianceSizeMismatchIsInfiniteNLL(t *testing.T) {
	doc := "covariance\n2\n4.0 9.0\n1 0\n0 1\n"
	path := writeFile(t, doc)
	m, err := Load(path)
	require.NoError(t, err)

	normed := make([]float64, 3)
	nll, _ := m.NLL(nil, nil, []float64{1, 2, 3}, 1.0, normed)
	require.True(t, math.IsInf(nll, 1))
}

func TestLoadUnknownModelErrors(t *testing.T) {
	path := writeFile(t, "quantum\n1.0\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path.txt")
	require.Error(t, err)
}

func TestCloneIsIndependentForEveryModel(t *testing.T) {
	cases := []string{
		"iidgaussian\n0.5\n",
		"hyperbolic\n0.1 1.0 2.0\n",
		"brodie\n0.05 2\n0.0 0.1\n10.0 0.2\n",
		"covariance\n2\n4.0 9.0\n1 0\n0 1\n",
	}
	for _, doc := range cases {
		m, err := Load(writeFile(t, doc))
		require.NoError(t, err)
		clone := m.Clone()
		for i := 0; i < m.NParameters(); i++ {
			clone.SetParameter(i, 12345.0)
			require.NotEqual(t, clone.Parameter(i), m.Parameter(i), "model %T", m)
		}
	}
}
