package tui

import (
	"aivest/internal/domain"

	"github.com/guptarohit/asciigraph"
)

// RenderChart plots actual closes (green) against in-sample model closes (blue) on a
// shared axis. width is the number of plot columns, excluding the axis labels.
func RenderChart(points []domain.EvaluationPoint, width, height int) string {
	if len(points) == 0 || height < 2 {
		return ""
	}
	if width < len(points) {
		width = len(points)
	}

	actual := make([]float64, len(points))
	predicted := make([]float64, len(points))
	for i, p := range points {
		actual[i] = p.Actual
		predicted[i] = p.Predicted
	}

	return asciigraph.PlotMany([][]float64{actual, predicted},
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Precision(2),
		asciigraph.SeriesColors(asciigraph.Green, asciigraph.Blue),
	)
}
