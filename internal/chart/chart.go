// Package chart draws the NAV history.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"

	"eom_fund/internal/models"

	"github.com/shopspring/decimal"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var ErrNoData = errors.New("chart: no NAV samples")

var (
	navColor      = color.RGBA{R: 0, G: 128, B: 255, A: 255}
	baselineColor = color.RGBA{R: 255, G: 0, B: 0, A: 100}
)

// NAV renders samples (ascending) as a PNG line chart, with a dashed line at
// the initial NAV.
func NAV(samples []models.NavSample, initial decimal.Decimal) ([]byte, error) {
	if len(samples) == 0 {
		return nil, ErrNoData
	}

	pts := make(plotter.XYs, len(samples))
	for i, s := range samples {
		pts[i].X = float64(s.Date.Time().Unix())
		pts[i].Y = s.NAV.InexactFloat64()
	}

	p := plot.New()
	p.Title.Text = "Fund NAV"
	p.Y.Label.Text = "NAV (NOK)"
	p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02"}
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("chart: nav line: %w", err)
	}
	line.Color = navColor
	line.Width = vg.Points(2)

	// a single sample still needs a visible baseline width
	x0, x1 := pts[0].X, pts[len(pts)-1].X
	if x1 == x0 {
		x1 = x0 + 86400
	}
	base, err := plotter.NewLine(plotter.XYs{
		{X: x0, Y: initial.InexactFloat64()},
		{X: x1, Y: initial.InexactFloat64()},
	})
	if err != nil {
		return nil, fmt.Errorf("chart: baseline: %w", err)
	}
	base.Color = baselineColor
	base.LineStyle.Dashes = []vg.Length{vg.Points(5), vg.Points(5)}

	p.Add(line, base)
	p.Legend.Add("NAV", line)
	p.Legend.Add("Initial", base)
	p.Legend.Top = true

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("chart: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("chart: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
