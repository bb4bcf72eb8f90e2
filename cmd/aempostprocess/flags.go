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

// flags is the parsed CLI surface for aempostprocess (§4.7/§6).
type flags struct {
	Input  stringList // one or more chain-history segment files, in replay order
	Output string     // output path prefix

	DegreeDepth   int
	DegreeLateral int
	Depth         float64
	Wavelet       string

	Skip int
	Thin int

	VMin, VMax float64
	Bins       int

	CredibleP float64
	HPDP      float64

	Exponentiate bool
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	fs := flag.NewFlagSet("aempostprocess", flag.ContinueOnError)
	fs.SetOutput(stderr)

	f := &flags{}
	fs.Var(&f.Input, "input", "chain-history segment file to replay, in order (repeatable, REQUIRED, one or more)")
	fs.StringVar(&f.Output, "output", "", "output path prefix (REQUIRED)")

	fs.IntVar(&f.DegreeDepth, "degree-depth", 0, "log2(image height), depth direction (REQUIRED, must match the run)")
	fs.IntVar(&f.DegreeLateral, "degree-lateral", 0, "log2(image width), lateral direction (REQUIRED, must match the run)")
	fs.Float64Var(&f.Depth, "depth", 0, "total depth to half-space, metres (REQUIRED, must match the run)")
	fs.StringVar(&f.Wavelet, "wavelet", "haar", "wavelet kernel (must match the run's --wavelet-vertical/--wavelet-horizontal)")

	fs.IntVar(&f.Skip, "skip", 0, "iterations to discard, counted across all replayed files in order")
	fs.IntVar(&f.Thin, "thin", 1, "keep every Thin-th surviving iteration")

	fs.Float64Var(&f.VMin, "vmin", 0, "histogram lower bound")
	fs.Float64Var(&f.VMax, "vmax", 1, "histogram upper bound (REQUIRED)")
	fs.IntVar(&f.Bins, "bins", 100, "histogram bin count")

	fs.Float64Var(&f.CredibleP, "credible-p", 0.9, "credible-interval probability, e.g. 0.9 for 90%")
	fs.Float64Var(&f.HPDP, "hpd-p", 0.9, "HPD-interval probability, e.g. 0.9 for 90%")

	fs.BoolVar(&f.Exponentiate, "exponentiate", false, "apply exp() to the reconstructed image before accumulating (log-conductivity domain)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := f.validate(); err != nil {
		fmt.Fprintf(stderr, "aempostprocess: %v\n", err)
		fs.Usage()
		return nil, err
	}
	return f, nil
}

func (f *flags) validate() error {
	var missing []string
	if len(f.Input) == 0 {
		missing = append(missing, "-input")
	}
	if f.Output == "" {
		missing = append(missing, "-output")
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
	if f.VMax == 0 {
		missing = append(missing, "-vmax")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}
	if f.Skip < 0 {
		return fmt.Errorf("-skip must be non-negative, got %d", f.Skip)
	}
	if f.Thin < 1 {
		return fmt.Errorf("-thin must be at least 1, got %d", f.Thin)
	}
	if f.Bins < 1 {
		return fmt.Errorf("-bins must be at least 1, got %d", f.Bins)
	}
	if f.VMax <= f.VMin {
		return fmt.Errorf("-vmax (%g) must exceed -vmin (%g)", f.VMax, f.VMin)
	}
	if f.CredibleP <= 0 || f.CredibleP >= 1 {
		return fmt.Errorf("-credible-p must be in (0,1), got %g", f.CredibleP)
	}
	if f.HPDP <= 0 || f.HPDP >= 1 {
		return fmt.Errorf("-hpd-p must be in (0,1), got %g", f.HPDP)
	}
	return nil
}
