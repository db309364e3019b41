// Package sweep computes bidirectional sub-pixel sweep plans for
// frequency-domain (PLE) scans.
//
// A plan is pure data: the ordered sample grid actually traversed, the
// coarser pixel grid reported to the caller, and the dwell times at
// both granularities, for an up sweep and a down sweep. Sample grids
// follow a half-open convention: the up grid starts at Min and never
// reaches Max (the down sweep's first point supplies continuity), and
// the down grid mirrors that from Max. A pixel's value is the position
// at the start of its bin, not the bin center; centering would need an
// edge shift at the extrema that is inconsistent when Subpixels is 1.
package sweep

import (
	"fmt"
	"time"
)

// Options are the sweep parameters. All validation happens in New,
// before any hardware interaction begins.
type Options struct {
	Min, Max float64

	PixelsUp   int
	PixelsDown int
	Subpixels  int

	TimeUp   time.Duration
	TimeDown time.Duration
}

// A Plan is immutable once computed.
type Plan struct {
	Options

	SampleGridUp   []float64
	SampleGridDown []float64
	PixelGridUp    []float64
	PixelGridDown  []float64

	SampleDwellUp   time.Duration
	SampleDwellDown time.Duration
	PixelDwellUp    time.Duration
	PixelDwellDown  time.Duration
}

func New(opt Options) (*Plan, error) {
	if opt.Max <= opt.Min {
		return nil, fmt.Errorf("range max %v must be greater than min %v", opt.Max, opt.Min)
	}
	if opt.PixelsUp < 1 {
		return nil, fmt.Errorf("pixels up %d must be at least 1", opt.PixelsUp)
	}
	if opt.PixelsDown < 1 {
		return nil, fmt.Errorf("pixels down %d must be at least 1", opt.PixelsDown)
	}
	if opt.Subpixels < 1 {
		return nil, fmt.Errorf("subpixels %d must be at least 1", opt.Subpixels)
	}
	if opt.TimeUp <= 0 {
		return nil, fmt.Errorf("sweep time up %v must be greater than zero", opt.TimeUp)
	}
	if opt.TimeDown <= 0 {
		return nil, fmt.Errorf("sweep time down %v must be greater than zero", opt.TimeDown)
	}

	span := opt.Max - opt.Min
	nUp := opt.PixelsUp * opt.Subpixels
	nDown := opt.PixelsDown * opt.Subpixels

	return &Plan{
		Options: opt,

		SampleGridUp:   grid(opt.Min, span/float64(nUp), nUp),
		SampleGridDown: grid(opt.Max, -span/float64(nDown), nDown),
		PixelGridUp:    grid(opt.Min, span/float64(opt.PixelsUp), opt.PixelsUp),
		PixelGridDown:  grid(opt.Max, -span/float64(opt.PixelsDown), opt.PixelsDown),

		SampleDwellUp:   opt.TimeUp / time.Duration(nUp),
		SampleDwellDown: opt.TimeDown / time.Duration(nDown),
		PixelDwellUp:    opt.TimeUp / time.Duration(opt.PixelsUp),
		PixelDwellDown:  opt.TimeDown / time.Duration(opt.PixelsDown),
	}, nil
}

// grid returns n points from start, step apart. Each point is computed
// from the index so error does not accumulate across long sweeps.
func grid(start, step float64, n int) []float64 {
	g := make([]float64, n)
	for i := range g {
		g[i] = start + step*float64(i)
	}
	return g
}

// BinUp partitions raw per-sample counts from an up sweep into
// contiguous groups of Subpixels samples, sums each group, and divides
// by the pixel dwell time for counts per second.
func (p *Plan) BinUp(counts []float64) ([]float64, error) {
	return p.bin(counts, p.PixelsUp, p.PixelDwellUp)
}

// BinDown is BinUp for the down sweep.
func (p *Plan) BinDown(counts []float64) ([]float64, error) {
	return p.bin(counts, p.PixelsDown, p.PixelDwellDown)
}

func (p *Plan) bin(counts []float64, pixels int, dwell time.Duration) ([]float64, error) {
	if len(counts) != pixels*p.Subpixels {
		return nil, fmt.Errorf("got %d samples, want %d", len(counts), pixels*p.Subpixels)
	}
	out := make([]float64, pixels)
	for i := range out {
		var sum float64
		for j := 0; j < p.Subpixels; j++ {
			sum += counts[i*p.Subpixels+j]
		}
		out[i] = sum / dwell.Seconds()
	}
	return out, nil
}
