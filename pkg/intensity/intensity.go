// Package intensity maps raw MRI intensities to the [0,1] display range.
package intensity

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Lower and upper percentiles used for robust normalisation
const (
	LowPercentile  = 0.01
	HighPercentile = 0.99
)

// Range is the intensity interval mapped onto [0,1]
type Range struct {
	Lo, Hi float64
}

// Percentile returns the p-quantile (p in [0,1]) of the finite values,
// linearly interpolated. NaN is returned when no value is finite.
func Percentile(values []float64, p float64) float64 {
	sorted := finiteSorted(values)
	if len(sorted) == 0 {
		return math.NaN()
	}
	return stat.Quantile(p, stat.LinInterp, sorted, nil)
}

func finiteSorted(values []float64) []float64 {
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			sorted = append(sorted, v)
		}
	}
	sort.Float64s(sorted)
	return sorted
}

// Normalize clips data to its 1st..99th percentile range and rescales it to
// [0,1] in place. NaN voxels do not take part in the percentiles and become
// 0. When the range is degenerate every voxel becomes 0.
//
// Normalising already normalised data is not an identity: the percentiles
// are recomputed from the new values.
func Normalize(data []float64) Range {
	sorted := finiteSorted(data)
	if len(sorted) == 0 {
		for i := range data {
			data[i] = 0
		}
		return Range{}
	}

	r := Range{
		Lo: stat.Quantile(LowPercentile, stat.LinInterp, sorted, nil),
		Hi: stat.Quantile(HighPercentile, stat.LinInterp, sorted, nil),
	}
	span := r.Hi - r.Lo
	for i, v := range data {
		switch {
		case math.IsNaN(v), span <= 0:
			data[i] = 0
		case v <= r.Lo:
			data[i] = 0
		case v >= r.Hi:
			data[i] = 1
		default:
			data[i] = (v - r.Lo) / span
		}
	}
	return r
}

// Normalized returns a normalised copy, leaving data untouched
func Normalized(data []float64) ([]float64, Range) {
	out := append([]float64(nil), data...)
	r := Normalize(out)
	return out, r
}

// Window is a display window given by its center and width
type Window struct {
	Center float64
	Width  float64
}

// Bounds returns lo = c - w/2 and hi = c + w/2
func (w Window) Bounds() (lo, hi float64) {
	return w.Center - w.Width/2, w.Center + w.Width/2
}

// Apply maps one value through the window: clip((x-lo)/(hi-lo), 0, 1).
// A window of zero or negative width is a hard threshold at the center.
// NaN maps to 0.
func (w Window) Apply(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	if w.Width <= 0 {
		if x >= w.Center {
			return 1
		}
		return 0
	}
	lo, hi := w.Bounds()
	y := (x - lo) / (hi - lo)
	if y < 0 {
		return 0
	}
	if y > 1 {
		return 1
	}
	return y
}

// ApplyWindow returns a windowed copy of img
func ApplyWindow(img []float64, center, width float64) []float64 {
	w := Window{Center: center, Width: width}
	out := make([]float64, len(img))
	for i, x := range img {
		out[i] = w.Apply(x)
	}
	return out
}
