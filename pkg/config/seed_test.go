package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aeminvert/rjmcmc/pkg/grid"
	"github.com/aeminvert/rjmcmc/pkg/wavelet"
)

func TestSeedTreeFromImageReconstructsConstantImageWithOneCoefficient(t *testing.T) {
	g, err := grid.New(2, 2, 100)
	require.NoError(t, err)
	image := make([]float64, g.N())
	for i := range image {
		image[i] = 3.0
	}

	tr, err := SeedTreeFromImage(g, wavelet.Registry["haar"], image, 16)
	require.NoError(t, err)
	require.Equal(t, 1, tr.NCoeff()) // a constant image decomposes to a single nonzero (root) coefficient
}

func TestSeedTreeFromImageRespectsKmax(t *testing.T) {
	g, err := grid.New(2, 2, 100)
	require.NoError(t, err)
	image := make([]float64, g.N())
	for i := range image {
		image[i] = float64(i) * float64(i)
	}

	tr, err := SeedTreeFromImage(g, wavelet.Registry["haar"], image, 3)
	require.NoError(t, err)
	require.LessOrEqual(t, tr.NCoeff(), 3)
}

func TestSeedTreeFromImageEveryLiveCoefficientHasLiveParent(t *testing.T) {
	g, err := grid.New(3, 2, 100)
	require.NoError(t, err)
	image := make([]float64, g.N())
	for i := range image {
		image[i] = float64(i%7) - 3
	}

	tr, err := SeedTreeFromImage(g, wavelet.Registry["linear"], image, 10)
	require.NoError(t, err)
	for _, idx := range tr.LiveIndices() {
		if idx == 0 {
			continue
		}
		require.True(t, tr.Contains(tr.ParentOf(idx)), "idx %d has no live parent", idx)
	}
}
