// Package config implements the CLI surface of §6: flag parsing,
// input-file loading, and run assembly for cmd/aeminvert (whose
// input-file loaders cmd/aemvalidatelikelihood also uses), the way the teacher keeps flag parsing and
// config-driven wiring in one package separate from main.
package config

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/aeminvert/rjmcmc/pkg/errs"
)

// stringList collects a repeatable flag's values in the order given.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// Flags is the parsed CLI surface for aeminvert.
type Flags struct {
	Input        string
	Initial      string
	STM          []string
	Hierarchical []string
	PriorFile    string
	Output       string

	DegreeDepth   int
	DegreeLateral int
	Depth         float64

	Total int64
	Seed  int64
	Kmax  int

	BirthProbability float64

	WaveletVertical   string
	WaveletHorizontal string

	Chains         int // C, replicas per temperature level
	Temperatures   int // M, temperature levels
	MaxTemperature float64
	ExchangeRate   int

	LambdaStd float64
	PriorStd  float64

	Resample             bool
	ResampleTemperature  int

	Verbosity  int
	PosteriorK bool
}

// Parse parses args into a Flags, following the teacher's
// flag.NewFlagSet(..., flag.ContinueOnError)/manual-required-check
// pattern rather than a struct-tag flag library, since that is the
// only flag idiom the retrieved corpus shows.
func Parse(args []string, stderr io.Writer) (*Flags, error) {
	fs := flag.NewFlagSet("aeminvert", flag.ContinueOnError)
	fs.SetOutput(stderr)

	f := &Flags{}
	fs.StringVar(&f.Input, "input", "", "observation file (REQUIRED)")
	fs.StringVar(&f.Initial, "initial", "", "initial model image file (optional; default is a flat log-conductivity)")
	fs.Var((*stringList)(&f.STM), "stm", "survey-system descriptor file (repeatable, REQUIRED, one or more)")
	fs.Var((*stringList)(&f.Hierarchical), "hierarchical", "hierarchical-noise file (repeatable; 0, or one per --stm)")
	fs.StringVar(&f.PriorFile, "prior-file", "", "prior/proposal YAML file (REQUIRED)")
	fs.StringVar(&f.Output, "output", "", "output path prefix (REQUIRED)")

	fs.IntVar(&f.DegreeDepth, "degree-depth", 0, "log2(image height), depth direction (REQUIRED)")
	fs.IntVar(&f.DegreeLateral, "degree-lateral", 0, "log2(image width), lateral direction (REQUIRED)")
	fs.Float64Var(&f.Depth, "depth", 0, "total depth to half-space, metres (REQUIRED)")

	fs.Int64Var(&f.Total, "total", 0, "total iterations (REQUIRED)")
	fs.Int64Var(&f.Seed, "seed", 1, "RNG seed")
	fs.IntVar(&f.Kmax, "kmax", 0, "maximum live coefficients per chain (REQUIRED)")

	fs.Float64Var(&f.BirthProbability, "birth-probability", 0.2, "probability of proposing a birth move (death shares it, the remainder splits across value/hierarchical/hierarchical-prior)")

	fs.StringVar(&f.WaveletVertical, "wavelet-vertical", "haar", "wavelet kernel along the depth axis")
	fs.StringVar(&f.WaveletHorizontal, "wavelet-horizontal", "haar", "wavelet kernel along the lateral axis")

	fs.IntVar(&f.Chains, "chains", 1, "replicas per temperature level (C)")
	fs.IntVar(&f.Temperatures, "temperatures", 1, "temperature levels (M)")
	fs.Float64Var(&f.MaxTemperature, "max-temperature", 1, "hottest rung of the geometric temperature ladder")
	fs.IntVar(&f.ExchangeRate, "exchange-rate", 10, "iterations between PT exchange attempts")

	fs.Float64Var(&f.LambdaStd, "lambda-std", 0.1, "hierarchical-noise move step standard deviation")
	fs.Float64Var(&f.PriorStd, "prior-std", 0.1, "hierarchical-prior move step standard deviation")

	fs.BoolVar(&f.Resample, "resample", false, "enable the replica-resampling operator alongside PT swaps")
	fs.IntVar(&f.ResampleTemperature, "resample-temperature", 0, "temperature level (0=coldest) whose replicas are resample recipients")

	fs.IntVar(&f.Verbosity, "verbosity", 0, "log verbosity level")
	fs.BoolVar(&f.PosteriorK, "posteriork", false, "disable likelihood evaluation for pure-prior diagnostics")

	if err := fs.Parse(args); err != nil {
		return nil, errs.New(errs.Validation, "config.Parse", err)
	}

	if err := f.validate(); err != nil {
		fmt.Fprintf(stderr, "aeminvert: %v\n", err)
		fs.Usage()
		return nil, errs.New(errs.Validation, "config.Parse", err)
	}
	return f, nil
}

func (f *Flags) validate() error {
	var missing []string
	if f.Input == "" {
		missing = append(missing, "-input")
	}
	if len(f.STM) == 0 {
		missing = append(missing, "-stm")
	}
	if f.PriorFile == "" {
		missing = append(missing, "-prior-file")
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
	if f.Total == 0 {
		missing = append(missing, "-total")
	}
	if f.Kmax == 0 {
		missing = append(missing, "-kmax")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}

	if len(f.Hierarchical) != 0 && len(f.Hierarchical) != len(f.STM) {
		return fmt.Errorf("-hierarchical given %d times, must be 0 or match -stm's %d", len(f.Hierarchical), len(f.STM))
	}
	if f.WaveletVertical != f.WaveletHorizontal {
		return fmt.Errorf("-wavelet-vertical (%s) and -wavelet-horizontal (%s) must name the same kernel: the transform applies one kernel to both axes", f.WaveletVertical, f.WaveletHorizontal)
	}
	if f.BirthProbability <= 0 || f.BirthProbability >= 0.5 {
		return fmt.Errorf("-birth-probability must be in (0, 0.5), got %g (death shares the same probability, so 2x it must leave room for the other three moves)", f.BirthProbability)
	}
	if f.Chains < 1 {
		return fmt.Errorf("-chains must be at least 1, got %d", f.Chains)
	}
	if f.Temperatures < 1 {
		return fmt.Errorf("-temperatures must be at least 1, got %d", f.Temperatures)
	}
	if (f.Chains*f.Temperatures)%2 != 0 && f.Chains*f.Temperatures != 1 {
		return fmt.Errorf("-chains * -temperatures (%d) must be even", f.Chains*f.Temperatures)
	}
	if f.Temperatures > 1 && f.MaxTemperature <= 1 {
		return fmt.Errorf("-max-temperature must exceed 1 when -temperatures > 1, got %g", f.MaxTemperature)
	}
	if f.ExchangeRate < 1 {
		return fmt.Errorf("-exchange-rate must be at least 1, got %d", f.ExchangeRate)
	}
	if f.Resample && (f.ResampleTemperature < 0 || f.ResampleTemperature >= f.Temperatures) {
		return fmt.Errorf("-resample-temperature must be in [0, %d), got %d", f.Temperatures, f.ResampleTemperature)
	}
	return nil
}
