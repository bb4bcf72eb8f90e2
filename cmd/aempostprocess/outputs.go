package main

import (
	"fmt"

	"github.com/aeminvert/rjmcmc/pkg/grid"
	"github.com/aeminvert/rjmcmc/pkg/postprocess"
)

// writeSummaries writes one W x H image file per posterior summary
// field named by §4.7, each in the §6 text image-file format so the
// credible/HPD bounds can be diffed pixel-for-pixel against the
// original log-conductivity image.
func writeSummaries(prefix string, g grid.Geometry, pixels []postprocess.PixelSummary) error {
	fields := []struct {
		suffix string
		pick   func(postprocess.PixelSummary) float64
	}{
		{"mean", func(p postprocess.PixelSummary) float64 { return p.Mean }},
		{"variance", func(p postprocess.PixelSummary) float64 { return p.Variance }},
		{"stddev", func(p postprocess.PixelSummary) float64 { return p.StdDev }},
		{"mode", func(p postprocess.PixelSummary) float64 { return p.Mode }},
		{"median", func(p postprocess.PixelSummary) float64 { return p.Median }},
		{"credible_min", func(p postprocess.PixelSummary) float64 { return p.CredibleLo }},
		{"credible_max", func(p postprocess.PixelSummary) float64 { return p.CredibleHi }},
		{"hpd_min", func(p postprocess.PixelSummary) float64 { return p.HPDLo }},
		{"hpd_max", func(p postprocess.PixelSummary) float64 { return p.HPDHi }},
	}

	for _, field := range fields {
		image := make([]float64, len(pixels))
		for i, p := range pixels {
			image[i] = field.pick(p)
		}
		path := fmt.Sprintf("%s-%s.txt", prefix, field.suffix)
		if err := grid.WriteImage(path, g, image); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}
