package mesh

import (
	"image/color"
	"math"
)

// DefaultBins is the number of colours in the thickness colormap
const DefaultBins = 256

// NaNColor marks vertices without a value
var NaNColor = color.NRGBA{128, 128, 128, 255}

// jet control points per channel: (position, intensity)
var jetSegments = [3][][2]float64{
	{{0, 0}, {0.35, 0}, {0.66, 1}, {0.89, 1}, {1, 0.5}},
	{{0, 0}, {0.125, 0}, {0.375, 1}, {0.64, 1}, {0.91, 0}, {1, 0}},
	{{0, 0.5}, {0.11, 1}, {0.34, 1}, {0.65, 0}, {1, 0}},
}

// Colormap is a reversed jet lookup table whose lowest bin is neutral gray
type Colormap struct {
	bins []color.NRGBA
}

// NewColormap builds a colormap with n bins (DefaultBins when n < 2)
func NewColormap(n int) *Colormap {
	if n < 2 {
		n = DefaultBins
	}
	bins := make([]color.NRGBA, n)
	for i := range bins {
		x := 1 - float64(i)/float64(n-1)
		bins[i] = jet(x)
	}
	bins[0] = NaNColor
	return &Colormap{bins: bins}
}

// Len is the number of bins
func (c *Colormap) Len() int {
	return len(c.bins)
}

// Bin returns colour i of the table
func (c *Colormap) Bin(i int) color.NRGBA {
	return c.bins[i]
}

// Map looks up v scaled to [lo, hi]. Values outside the range clamp to the
// end bins; NaN, and everything when hi <= lo, maps to the first bin.
func (c *Colormap) Map(v, lo, hi float64) color.NRGBA {
	if math.IsNaN(v) {
		return NaNColor
	}
	if hi <= lo {
		return c.bins[0]
	}
	i := int(math.Floor((v - lo) / (hi - lo) * float64(len(c.bins))))
	if i < 0 {
		i = 0
	}
	if i >= len(c.bins) {
		i = len(c.bins) - 1
	}
	return c.bins[i]
}

// MapAll colours every value
func (c *Colormap) MapAll(values []float64, lo, hi float64) []color.NRGBA {
	out := make([]color.NRGBA, len(values))
	for i, v := range values {
		out[i] = c.Map(v, lo, hi)
	}
	return out
}

func jet(x float64) color.NRGBA {
	var rgb [3]uint8
	for ch, seg := range jetSegments {
		rgb[ch] = uint8(math.Round(segmentValue(seg, x) * 255))
	}
	return color.NRGBA{rgb[0], rgb[1], rgb[2], 255}
}

func segmentValue(seg [][2]float64, x float64) float64 {
	if x <= seg[0][0] {
		return seg[0][1]
	}
	for i := 1; i < len(seg); i++ {
		if x <= seg[i][0] {
			x0, y0 := seg[i-1][0], seg[i-1][1]
			x1, y1 := seg[i][0], seg[i][1]
			return y0 + (x-x0)/(x1-x0)*(y1-y0)
		}
	}
	return seg[len(seg)-1][1]
}
