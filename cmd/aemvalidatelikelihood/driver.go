package main

import (
	"fmt"
	"io"
	"os"

	"github.com/aeminvert/rjmcmc/pkg/config"
	"github.com/aeminvert/rjmcmc/pkg/forward"
	"github.com/aeminvert/rjmcmc/pkg/grid"
	"github.com/aeminvert/rjmcmc/pkg/noise"
	"github.com/aeminvert/rjmcmc/pkg/postprocess"
	"github.com/aeminvert/rjmcmc/pkg/wavelet"
)

// Run is aemvalidatelikelihood's tested entrypoint, mirroring the
// Run(args, stdout, stderr) int dispatcher shape every cmd/ tool in
// this tree uses. It is the Go port of
// postprocess_validate_likelihood.cpp: replay one or more ch.dat
// segment files, recompute each accepted step's likelihood from its
// replayed tree, and report the largest discrepancy against the
// stored value.
func Run(args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args[1:], stderr)
	if err != nil {
		return 2
	}

	geometry, err := grid.New(f.DegreeLateral, f.DegreeDepth, f.Depth)
	if err != nil {
		fmt.Fprintf(stderr, "aemvalidatelikelihood: %v\n", err)
		return 2
	}
	kernel, err := wavelet.Lookup(f.Wavelet)
	if err != nil {
		fmt.Fprintf(stderr, "aemvalidatelikelihood: %v\n", err)
		return 2
	}

	systems := make([]forward.System, len(f.STM))
	registry := forward.NewRegistry()
	for i, path := range f.STM {
		text, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "aemvalidatelikelihood: read stm %s: %v\n", path, err)
			return 2
		}
		sys, err := forward.ParseSTM(string(text))
		if err != nil {
			fmt.Fprintf(stderr, "aemvalidatelikelihood: parse stm %s: %v\n", path, err)
			return 2
		}
		systems[i] = sys
		if err := registry.Register(forward.NewReferenceModel(sys)); err != nil {
			fmt.Fprintf(stderr, "aemvalidatelikelihood: %v\n", err)
			return 2
		}
	}

	observed, npoints, err := config.ParseObservations(f.Observations, systems)
	if err != nil {
		fmt.Fprintf(stderr, "aemvalidatelikelihood: %v\n", err)
		return 2
	}
	if npoints != geometry.Width {
		fmt.Fprintf(stderr, "aemvalidatelikelihood: observations %s has %d points, geometry width is %d\n", f.Observations, npoints, geometry.Width)
		return 2
	}
	observedTime := config.BuildObservedTime(systems, npoints)

	noiseTemplate, err := buildNoiseTemplate(f, systems)
	if err != nil {
		fmt.Fprintf(stderr, "aemvalidatelikelihood: %v\n", err)
		return 2
	}

	result, err := postprocess.ValidateLikelihood(postprocess.ValidateConfig{
		Geometry:     geometry,
		Kernel:       kernel,
		Forward:      registry,
		Observed:     observed,
		ObservedTime: observedTime,
		Noise:        noiseTemplate,
		Skip:         f.Skip,
		Thin:         f.Thin,
		Max:          f.Max,
	}, f.Input)
	if err != nil {
		fmt.Fprintf(stderr, "aemvalidatelikelihood: replay: %v\n", err)
		return 2
	}

	fmt.Fprintf(stdout, "Checked %d/%d(%d) records\n", result.Checked, result.AcceptedCounter, result.StepCounter)
	fmt.Fprintf(stdout, "Max. Error: %.6g\n", result.MaxError)
	return 0
}

// buildNoiseTemplate mirrors config.Build's buildNoiseTemplate: one
// default IID-Gaussian noise model per system with no -hierarchical
// file of its own, composed into a single Model spanning the whole
// concatenated residual vector when there is more than one system.
func buildNoiseTemplate(f *flags, systems []forward.System) (noise.Model, error) {
	const defaultNoiseSigma = 1.0

	models := make([]noise.Model, len(systems))
	segments := make([]int, len(systems))
	for i, sys := range systems {
		segments[i] = len(sys.WindowTimes)
		if len(f.Hierarchical) > 0 {
			m, err := noise.Load(f.Hierarchical[i])
			if err != nil {
				return nil, err
			}
			models[i] = m
		} else {
			models[i] = noise.NewIIDGaussian(defaultNoiseSigma)
		}
	}
	if len(models) == 1 {
		return models[0], nil
	}
	return noise.NewComposite(models, segments)
}
