package route

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgsvg"
)

var (
	corridorColor = color.RGBA{R: 30, G: 100, B: 200, A: 255}
	severityColor = map[string]color.RGBA{
		"low":      {R: 120, G: 180, B: 80, A: 255},
		"medium":   {R: 230, G: 170, B: 40, A: 255},
		"high":     {R: 220, G: 90, B: 30, A: 255},
		"critical": {R: 190, G: 20, B: 20, A: 255},
	}
)

const circleSegments = 48

// circle approximates a zone boundary as a closed polyline.
func circle(z HazardZone) plotter.XYs {
	pts := make(plotter.XYs, circleSegments+1)
	for i := 0; i <= circleSegments; i++ {
		a := 2 * math.Pi * float64(i) / circleSegments
		pts[i] = plotter.XY{
			X: z.Center.X + z.RadiusMeters*math.Cos(a),
			Y: z.Center.Y + z.RadiusMeters*math.Sin(a),
		}
	}
	return pts
}

// PlotCorridor writes an SVG of the corridor (if any) and the given hazard
// zones, one circle per zone coloured by severity.
func PlotCorridor(w io.Writer, c *Corridor, zones []HazardZone) error {
	p := plot.New()
	p.Title.Text = "Route corridor"
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"

	if c != nil && len(c.Waypoints) > 0 {
		pts := make(plotter.XYs, len(c.Waypoints))
		for i, wp := range c.Waypoints {
			pts[i] = plotter.XY{X: wp.Location.X, Y: wp.Location.Y}
		}
		line, scatter, err := plotter.NewLinePoints(pts)
		if err != nil {
			return fmt.Errorf("corridor line: %w", err)
		}
		line.Color = corridorColor
		line.Width = vg.Points(2)
		if !c.IsOptimal {
			line.Dashes = []vg.Length{vg.Points(6), vg.Points(3)}
		}
		scatter.Shape = draw.CircleGlyph{}
		scatter.Color = corridorColor
		p.Add(line, scatter)
		p.Legend.Add(fmt.Sprintf("%s (%.2f km, %d min)", c.ID, c.TotalDistanceKm, c.EstimatedTimeMinutes), line)
	}

	for _, z := range zones {
		ring, err := plotter.NewLine(circle(z))
		if err != nil {
			return fmt.Errorf("zone %s: %w", z.ID, err)
		}
		col, ok := severityColor[z.Severity.String()]
		if !ok {
			col = severityColor["low"]
		}
		ring.Color = col
		ring.Width = vg.Points(1)
		p.Add(ring)
		p.Legend.Add(fmt.Sprintf("%s %s/%s", z.ID, z.Type, z.Severity), ring)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	canvas := vgsvg.New(8*vg.Inch, 6*vg.Inch)
	p.Draw(draw.New(canvas))
	if _, err := canvas.WriteTo(w); err != nil {
		return fmt.Errorf("write svg: %w", err)
	}
	return nil
}
