package wavelet

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKernelIdempotence(t *testing.T) {
	signals := [][]float64{
		{1, 2, 3, 4},
		{0, 0, 0, 0},
		{-1.5, 2.25, 7.75, -3.0, 4.1, 0.2},
		{1, 1, 1, 1, 1, 1, 1, 1},
	}
	for name, k := range Registry {
		for _, x := range signals {
			low, high := k.Analysis(x)
			back := k.Synthesis(low, high)
			require.Len(t, back, len(x), "kernel %s", name)
			for i := range x {
				require.InDelta(t, x[i], back[i], 1e-10, "kernel %s index %d", name, i)
			}
		}
	}
}

func TestHaarOrthonormalEnergy(t *testing.T) {
	k := Registry["haar"]
	x := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	low, high := k.Analysis(x)
	var eIn, eOut float64
	for _, v := range x {
		eIn += v * v
	}
	for _, v := range low {
		eOut += v * v
	}
	for _, v := range high {
		eOut += v * v
	}
	require.InDelta(t, eIn, eOut, 1e-9)
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("nope")
	require.Error(t, err)
}

func TestLookupKnown(t *testing.T) {
	for _, name := range []string{"haar", "linear"} {
		k, err := Lookup(name)
		require.NoError(t, err)
		require.Equal(t, name, k.Name)
	}
}

func TestNoNaNOnConstant(t *testing.T) {
	k := Registry["linear"]
	x := make([]float64, 16)
	for i := range x {
		x[i] = 2.0
	}
	low, high := k.Analysis(x)
	for _, v := range high {
		require.False(t, math.IsNaN(v))
		require.InDelta(t, 0, v, 1e-12)
	}
	back := k.Synthesis(low, high)
	for i := range x {
		require.InDelta(t, x[i], back[i], 1e-10)
	}
}
