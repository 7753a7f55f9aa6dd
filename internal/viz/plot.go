package viz

import (
	"fmt"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/odectl/internal/simulation"
)

const (
	DefaultPlotWidth  = 80
	DefaultPlotHeight = 15
)

type PlotOptions struct {
	Width   int
	Height  int
	Caption string
}

// Plot draws the given series against the output time raster. Constant
// series are drawn as flat lines.
func Plot(times []float64, series []*simulation.VariableValues, opts PlotOptions) (string, error) {
	if len(series) == 0 {
		return "", fmt.Errorf("nothing to plot")
	}
	if len(times) == 0 {
		return "", fmt.Errorf("no output time points")
	}
	if opts.Width <= 0 {
		opts.Width = DefaultPlotWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultPlotHeight
	}
	if opts.Caption == "" {
		opts.Caption = fmt.Sprintf("t = %g .. %g", times[0], times[len(times)-1])
	}

	data := make([][]float64, len(series))
	legends := make([]string, len(series))
	colors := make([]asciigraph.AnsiColor, len(series))
	for i, s := range series {
		if !s.IsConstant && len(s.Values) != len(times) {
			return "", fmt.Errorf("series %s has %d values for %d time points", s.EntityID, len(s.Values), len(times))
		}
		row := make([]float64, len(times))
		for k := range row {
			row[k] = s.At(k)
		}
		data[i] = row
		legends[i] = s.EntityID
		colors[i] = CurrentTheme.Series[i%len(CurrentTheme.Series)]
	}

	graph := asciigraph.PlotMany(data,
		asciigraph.Height(opts.Height),
		asciigraph.Width(opts.Width),
		asciigraph.Caption(opts.Caption),
		asciigraph.SeriesColors(colors...),
		asciigraph.SeriesLegends(legends...),
	)
	return graph, nil
}
