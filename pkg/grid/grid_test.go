package grid

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewValidatesDegreesAndDepth(t *testing.T) {
	g, err := New(2, 3, 100)
	require.NoError(t, err)
	require.Equal(t, 4, g.Width)
	require.Equal(t, 8, g.Height)
	require.Equal(t, 3, g.MaxDepth)

	_, err = New(0, 3, 100)
	require.Error(t, err)
	_, err = New(2, 0, 100)
	require.Error(t, err)
	_, err = New(2, 3, 0)
	require.Error(t, err)
}

func TestNCountsAllPixels(t *testing.T) {
	g, err := New(2, 3, 100)
	require.NoError(t, err)
	require.Equal(t, 32, g.N())
}

func TestLayerThicknessSumsToDepth(t *testing.T) {
	g, err := New(2, 3, 123.0)
	require.NoError(t, err)
	thickness := g.LayerThickness()
	require.Len(t, thickness, g.Height)

	sum := 0.0
	for _, t := range thickness {
		sum += t
	}
	require.InDelta(t, 123.0, sum, 1e-9)

	// Log-spaced growth: later layers are thicker than earlier ones.
	for i := 1; i < len(thickness); i++ {
		require.GreaterOrEqual(t, thickness[i], thickness[i-1])
	}
}

func TestLayerThicknessSingleLayerIsWholeDepth(t *testing.T) {
	// New only accepts degrees of at least 1, so a one-layer geometry
	// is built directly.
	g := Geometry{DegreeX: 2, Width: 4, Height: 1, Depth: 50.0}
	thickness := g.LayerThickness()
	require.Equal(t, []float64{50.0}, thickness)
}

func TestToIndexAndToRowColRoundTrip(t *testing.T) {
	g, err := New(2, 3, 100)
	require.NoError(t, err)
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			idx := g.ToIndex(row, col)
			r2, c2 := g.ToRowCol(idx)
			require.Equal(t, row, r2)
			require.Equal(t, col, c2)
		}
	}
}

func TestValidRejectsOutOfRangeIndices(t *testing.T) {
	g, err := New(1, 1, 100)
	require.NoError(t, err)
	require.True(t, g.Valid(0))
	require.True(t, g.Valid(g.N()-1))
	require.False(t, g.Valid(-1))
	require.False(t, g.Valid(g.N()))
}

func TestWriteImageThenReadImageRoundTrips(t *testing.T) {
	g, err := New(2, 1, 77.0)
	require.NoError(t, err)
	image := make([]float64, g.N())
	for i := range image {
		image[i] = float64(i) * 0.5
	}

	path := filepath.Join(t.TempDir(), "image.txt")
	require.NoError(t, WriteImage(path, g, image))

	g2, image2, err := ReadImage(path)
	require.NoError(t, err)
	require.Equal(t, g.Width, g2.Width)
	require.Equal(t, g.Height, g2.Height)
	require.InDelta(t, g.Depth, g2.Depth, 1e-9)
	require.InDeltaSlice(t, image, image2, 1e-9)
}

func TestReadImageRejectsNonPowerOfTwoDimensions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.txt")
	require.NoError(t, WriteImage(path, Geometry{Width: 3, Height: 5, Depth: 10}, make([]float64, 15)))
	_, _, err := ReadImage(path)
	require.Error(t, err)
}

func TestWriteImageRejectsLengthMismatch(t *testing.T) {
	g, err := New(1, 1, 10)
	require.NoError(t, err)
	err = WriteImage(filepath.Join(t.TempDir(), "x.txt"), g, make([]float64, 1))
	require.Error(t, err)
}
