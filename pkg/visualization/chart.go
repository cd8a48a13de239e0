package visualization

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// TrendSeries is one line of a longitudinal chart
type TrendSeries struct {
	Name   string
	Months []float64
	Values []float64
}

var trendColors = []drawing.Color{
	{R: 0x1f, G: 0x77, B: 0xb4, A: 255},
	{R: 0xd6, G: 0x27, B: 0x28, A: 255},
	{R: 0x2c, G: 0xa0, B: 0x2c, A: 255},
	{R: 0xff, G: 0x7f, B: 0x0e, A: 255},
}

// ErrNoTrendData is returned when every series is empty
var ErrNoTrendData = errors.New("no data points to chart")

// RenderTrend draws a line chart of per-visit values against months since
// baseline. NaN points are left out.
func RenderTrend(title, yName string, series []TrendSeries, width, height int) (image.Image, error) {
	var chartSeries []chart.Series
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, s := range series {
		var xs, ys []float64
		for j := range s.Values {
			if math.IsNaN(s.Values[j]) {
				continue
			}
			xs = append(xs, s.Months[j])
			ys = append(ys, s.Values[j])
			lo = math.Min(lo, s.Values[j])
			hi = math.Max(hi, s.Values[j])
		}
		if len(xs) == 0 {
			continue
		}
		col := trendColors[i%len(trendColors)]
		chartSeries = append(chartSeries, chart.ContinuousSeries{
			Name:    s.Name,
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeColor: col,
				StrokeWidth: 2,
				DotColor:    col,
				DotWidth:    4,
			},
		})
	}
	if len(chartSeries) == 0 {
		return nil, ErrNoTrendData
	}

	// a single visit or flat values would give go-chart a zero range
	pad := (hi - lo) * 0.1
	if pad == 0 {
		pad = math.Max(math.Abs(hi)*0.1, 1)
	}

	ch := chart.Chart{
		Title:      title,
		Width:      width,
		Height:     height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		XAxis: chart.XAxis{
			Name:  "Months since baseline",
			Range: &chart.ContinuousRange{Min: 0, Max: 72},
			Ticks: []chart.Tick{
				{Value: 0, Label: "00m"}, {Value: 12, Label: "12m"}, {Value: 24, Label: "24m"},
				{Value: 48, Label: "48m"}, {Value: 72, Label: "72m"},
			},
		},
		YAxis: chart.YAxis{
			Name:  yName,
			Range: &chart.ContinuousRange{Min: lo - pad, Max: hi + pad},
		},
		Series: chartSeries,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}

	var buf bytes.Buffer
	if err := ch.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode chart: %w", err)
	}
	return img, nil
}
