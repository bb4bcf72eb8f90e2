package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// stringList collects a repeatable flag's values in the order given.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// flags is the parsed CLI surface for aemvalidatelikelihood, the same
// observations/system/geometry surface config.Flags validates against
// a run, plus the replay-filter flags postprocess_validate_likelihood
// named (-skip/-thin/-max) in place of a sampler's tuning flags.
type flags struct {
	Observations string
	STM          stringList
	Hierarchical stringList
	Input        stringList // one or more ch.dat segment files, in replay order

	DegreeDepth   int
	DegreeLateral int
	Depth         float64
	Wavelet       string

	Skip int
	Thin int
	Max  int
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	fs := flag.NewFlagSet("aemvalidatelikelihood", flag.ContinueOnError)
	fs.SetOutput(stderr)

	f := &flags{}
	fs.StringVar(&f.Observations, "observations", "", "observation file, the run's -input (REQUIRED)")
	fs.Var(&f.STM, "stm", "survey-system descriptor file, the run's -stm (repeatable, REQUIRED, one or more)")
	fs.Var(&f.Hierarchical, "hierarchical", "hierarchical-noise file, the run's -hierarchical (repeatable; 0, or one per -stm)")
	fs.Var(&f.Input, "input", "chain-history segment file to replay, in order (repeatable, REQUIRED, one or more)")

	fs.IntVar(&f.DegreeDepth, "degree-depth", 0, "log2(image height), depth direction (REQUIRED, must match the run)")
	fs.IntVar(&f.DegreeLateral, "degree-lateral", 0, "log2(image width), lateral direction (REQUIRED, must match the run)")
	fs.Float64Var(&f.Depth, "depth", 0, "total depth to half-space, metres (REQUIRED, must match the run)")
	fs.StringVar(&f.Wavelet, "wavelet", "haar", "wavelet kernel (must match the run's -wavelet-vertical/-wavelet-horizontal)")

	fs.IntVar(&f.Skip, "skip", 0, "DELTA records to pass over before checking, counted across all replayed files")
	fs.IntVar(&f.Thin, "thin", 1, "only check every thin-th accepted record")
	fs.IntVar(&f.Max, "max", 1000, "stop after this many checked records (0 means unbounded)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := f.validate(); err != nil {
		fmt.Fprintf(stderr, "aemvalidatelikelihood: %v\n", err)
		fs.Usage()
		return nil, err
	}
	return f, nil
}

func (f *flags) validate() error {
	var missing []string
	if f.Observations == "" {
		missing = append(missing, "-observations")
	}
	if len(f.STM) == 0 {
		missing = append(missing, "-stm")
	}
	if len(f.Input) == 0 {
		missing = append(missing, "-input")
	}
	if f.DegreeDepth == 0 {
		missing = append(missing, "-degree-depth")
	}
	if f.DegreeLateral == 0 {
		missing = append(missing, "-degree-lateral")
	}
	if f.Depth == 0 {
		missing = append(missing, "-depth")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}
	if len(f.Hierarchical) != 0 && len(f.Hierarchical) != len(f.STM) {
		return fmt.Errorf("-hierarchical given %d times, must be 0 or match -stm's %d", len(f.Hierarchical), len(f.STM))
	}
	if f.Skip < 0 {
		return fmt.Errorf("-skip must be non-negative, got %d", f.Skip)
	}
	if f.Thin < 1 {
		return fmt.Errorf("-thin must be at least 1, got %d", f.Thin)
	}
	if f.Max < 0 {
		return fmt.Errorf("-max must be non-negative, got %d", f.Max)
	}
	return nil
}
