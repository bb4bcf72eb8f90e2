package wavelet

import (
	"fmt"
	"math"
)

// Kernel is a named, reversible 1-D lifting transform: Analysis
// decomposes an even-length signal into an (approximation, detail)
// pair of half-length arrays; Synthesis is its exact inverse. The 2-D
// transform used by the postprocessor and the forward-model bridge
// (see Reconstruct and Decompose) applies the same kernel along
// whichever axis is still growing at a given depth, column direction
// first then row direction.
type Kernel struct {
	Name     string
	Analysis func(x []float64) (low, high []float64)
	Synthesis func(low, high []float64) (x []float64)
}

// Registry is a static, named set of kernels. No vtables or dynamic
// dispatch: each entry is a pair of plain functions.
var Registry = map[string]Kernel{
	"haar":   haarKernel(),
	"linear": linearKernel(),
}

// Lookup returns the named kernel, or an error if unregistered.
func Lookup(name string) (Kernel, error) {
	k, ok := Registry[name]
	if !ok {
		return Kernel{}, fmt.Errorf("wavelet: unknown kernel %q", name)
	}
	return k, nil
}

func haarKernel() Kernel {
	const inv = 1 / math.Sqrt2
	return Kernel{
		Name: "haar",
		Analysis: func(x []float64) (low, high []float64) {
			m := len(x) / 2
			low = make([]float64, m)
			high = make([]float64, m)
			for i := 0; i < m; i++ {
				e, o := x[2*i], x[2*i+1]
				low[i] = (e + o) * inv
				high[i] = (e - o) * inv
			}
			return low, high
		},
		Synthesis: func(low, high []float64) (x []float64) {
			m := len(low)
			x = make([]float64, 2*m)
			for i := 0; i < m; i++ {
				x[2*i] = (low[i] + high[i]) * inv
				x[2*i+1] = (low[i] - high[i]) * inv
			}
			return x
		},
	}
}

// linearKernel implements a CDF(2,2)-style ("5/3") lifting transform:
// predict the odd sample from the average of its even neighbours,
// then update the even sample by half the resulting detail. This is
// the simplest lifting scheme that preserves local means exactly.
func linearKernel() Kernel {
	return Kernel{
		Name: "linear",
		Analysis: func(x []float64) (low, high []float64) {
			m := len(x) / 2
			e := make([]float64, m)
			o := make([]float64, m)
			for i := 0; i < m; i++ {
				e[i] = x[2*i]
				o[i] = x[2*i+1]
			}
			high = make([]float64, m)
			low = make([]float64, m)
			for i := 0; i < m; i++ {
				high[i] = o[i] - (e[i]+e[(i+1)%m])/2
				low[i] = e[i] + high[i]/2
			}
			return low, high
		},
		Synthesis: func(low, high []float64) (x []float64) {
			m := len(low)
			e := make([]float64, m)
			for i := 0; i < m; i++ {
				e[i] = low[i] - high[i]/2
			}
			x = make([]float64, 2*m)
			for i := 0; i < m; i++ {
				o := high[i] + (e[i]+e[(i+1)%m])/2
				x[2*i] = e[i]
				x[2*i+1] = o
			}
			return x
		},
	}
}
