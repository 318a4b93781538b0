// Package frameplot renders frame poses as a top-down (XY) axes diagram.
package frameplot

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/frametransform/internal/frames"
)

// ErrNoPoses is returned when there is nothing to draw.
var ErrNoPoses = errors.New("no poses to plot")

var (
	xAxisColor = color.RGBA{R: 220, G: 50, B: 47, A: 255}
	yAxisColor = color.RGBA{R: 38, G: 162, B: 105, A: 255}
	originFill = color.RGBA{R: 40, G: 40, B: 40, A: 255}
)

// Pose is a frame placed in the reference frame. T maps points in the
// frame into the reference frame.
type Pose struct {
	Name string
	T    [16]float64
}

// Options controls the rendered figure.
type Options struct {
	Title     string
	Reference string
	// AxisLength is the drawn length of each unit axis, in reference units.
	AxisLength float64
	Width      vg.Length
	Height     vg.Length
}

func (o Options) withDefaults() Options {
	if o.AxisLength <= 0 {
		o.AxisLength = 0.5
	}
	if o.Width <= 0 {
		o.Width = 6 * vg.Inch
	}
	if o.Height <= 0 {
		o.Height = 6 * vg.Inch
	}
	if o.Title == "" {
		o.Title = "Frames"
		if o.Reference != "" {
			o.Title = fmt.Sprintf("Frames in %s", o.Reference)
		}
	}
	return o
}

// Endpoints returns the origin and the x and y axis tips of p projected
// onto the reference XY plane.
func Endpoints(p Pose, length float64) (origin, xTip, yTip plotter.XY) {
	ox, oy, _ := frames.ApplyPose(0, 0, 0, p.T)
	xx, xy, _ := frames.ApplyPose(length, 0, 0, p.T)
	yx, yy, _ := frames.ApplyPose(0, length, 0, p.T)
	return plotter.XY{X: ox, Y: oy}, plotter.XY{X: xx, Y: xy}, plotter.XY{X: yx, Y: yy}
}

// New builds the axes plot for poses.
func New(poses []Pose, o Options) (*plot.Plot, error) {
	if len(poses) == 0 {
		return nil, ErrNoPoses
	}
	o = o.withDefaults()

	p := plot.New()
	p.Title.Text = o.Title
	p.X.Label.Text = "X"
	p.Y.Label.Text = "Y"
	p.Add(plotter.NewGrid())

	origins := make(plotter.XYs, 0, len(poses))
	names := make([]string, 0, len(poses))
	for _, pose := range poses {
		origin, xTip, yTip := Endpoints(pose, o.AxisLength)

		xLine, err := plotter.NewLine(plotter.XYs{origin, xTip})
		if err != nil {
			return nil, fmt.Errorf("%s x axis: %w", pose.Name, err)
		}
		xLine.Color = xAxisColor
		xLine.Width = vg.Points(2)

		yLine, err := plotter.NewLine(plotter.XYs{origin, yTip})
		if err != nil {
			return nil, fmt.Errorf("%s y axis: %w", pose.Name, err)
		}
		yLine.Color = yAxisColor
		yLine.Width = vg.Points(2)

		p.Add(xLine, yLine)
		origins = append(origins, origin)
		names = append(names, pose.Name)
	}

	scatter, err := plotter.NewScatter(origins)
	if err != nil {
		return nil, fmt.Errorf("origins: %w", err)
	}
	scatter.GlyphStyle.Color = originFill
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	scatter.GlyphStyle.Radius = vg.Points(3)
	p.Add(scatter)

	labels, err := plotter.NewLabels(plotter.XYLabels{XYs: origins, Labels: names})
	if err != nil {
		return nil, fmt.Errorf("labels: %w", err)
	}
	for i := range labels.TextStyle {
		labels.TextStyle[i].XAlign = draw.XLeft
	}
	labels.Offset = vg.Point{X: vg.Points(4), Y: vg.Points(4)}
	p.Add(labels)

	squareRange(p, o.AxisLength)

	xLeg, _ := plotter.NewLine(plotter.XYs{})
	xLeg.Color = xAxisColor
	yLeg, _ := plotter.NewLine(plotter.XYs{})
	yLeg.Color = yAxisColor
	p.Legend.Add("x", xLeg)
	p.Legend.Add("y", yLeg)
	p.Legend.Top = true
	return p, nil
}

// squareRange gives both axes the same span so the axes keep their angles.
func squareRange(p *plot.Plot, pad float64) {
	xmin, xmax := p.X.Min-pad, p.X.Max+pad
	ymin, ymax := p.Y.Min-pad, p.Y.Max+pad
	half := (xmax - xmin) / 2
	if h := (ymax - ymin) / 2; h > half {
		half = h
	}
	cx, cy := (xmin+xmax)/2, (ymin+ymax)/2
	p.X.Min, p.X.Max = cx-half, cx+half
	p.Y.Min, p.Y.Max = cy-half, cy+half
}

// WritePNG renders poses as PNG to w.
func WritePNG(w io.Writer, poses []Pose, o Options) error {
	p, err := New(poses, o)
	if err != nil {
		return err
	}
	o = o.withDefaults()
	wt, err := p.WriterTo(o.Width, o.Height, "png")
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// Save renders poses to path; the format follows the extension.
func Save(path string, poses []Pose, o Options) error {
	p, err := New(poses, o)
	if err != nil {
		return err
	}
	o = o.withDefaults()
	return p.Save(o.Width, o.Height, path)
}
