package main

import (
	"fmt"
	"io"

	"github.com/aeminvert/rjmcmc/pkg/grid"
	"github.com/aeminvert/rjmcmc/pkg/postprocess"
	"github.com/aeminvert/rjmcmc/pkg/wavelet"
)

// Run is aempostprocess's tested entrypoint, mirroring the teacher's
// Run(args, stdout, stderr) int dispatcher shape.
func Run(args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args[1:], stderr)
	if err != nil {
		return 2
	}

	geometry, err := grid.New(f.DegreeLateral, f.DegreeDepth, f.Depth)
	if err != nil {
		fmt.Fprintf(stderr, "aempostprocess: %v\n", err)
		return 2
	}
	kernel, err := wavelet.Lookup(f.Wavelet)
	if err != nil {
		fmt.Fprintf(stderr, "aempostprocess: %v\n", err)
		return 2
	}

	proc, err := postprocess.New(postprocess.Config{
		Geometry:     geometry,
		Kernel:       kernel,
		Skip:         f.Skip,
		Thin:         f.Thin,
		Exponentiate: f.Exponentiate,
		HistVMin:     f.VMin,
		HistVMax:     f.VMax,
		HistBins:     f.Bins,
		CredibleP:    f.CredibleP,
		HPDP:         f.HPDP,
	})
	if err != nil {
		fmt.Fprintf(stderr, "aempostprocess: %v\n", err)
		return 2
	}

	if err := proc.Run(f.Input); err != nil {
		fmt.Fprintf(stderr, "aempostprocess: replay: %v\n", err)
		return 2
	}

	if err := writeSummaries(f.Output, geometry, proc.PixelResults()); err != nil {
		fmt.Fprintf(stderr, "aempostprocess: %v\n", err)
		return 2
	}

	fmt.Fprintf(stdout, "aempostprocess: %d samples kept from %d file(s), output prefix %s\n", proc.Kept(), len(f.Input), f.Output)
	return 0
}
