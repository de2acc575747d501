package trf

import (
	"fmt"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// ResidualPlot draws the destination control points, the mapped source
// points and the residual vector between each pair.
type ResidualPlot struct {
	Dst    []Point
	Mapped []Point
	Fit    Fit

	Width      float64           // Drawing width in millimeters (default 200)
	Padding    float64           // Margin in millimeters (default 10)
	Exaggerate float64           // Residual vectors are drawn this many times longer (default 1)
	Resolution canvas.Resolution // PNG resolution (default 150 DPI)
}

// NewResidualPlot maps src through t and pairs the result with dst.
func NewResidualPlot(t Estimator[Point], src, dst []Point) (*ResidualPlot, error) {
	fit, err := Residuals(t, src, dst)
	if err != nil {
		return nil, err
	}
	mapped, err := ApplyAll[Point](t, src, Direct)
	if err != nil {
		return nil, err
	}
	return &ResidualPlot{
		Dst:        dst,
		Mapped:     mapped,
		Fit:        fit,
		Width:      200,
		Padding:    10,
		Exaggerate: 1,
		Resolution: canvas.DPI(150),
	}, nil
}

// bounds returns the extent of every point the plot draws, including the
// tips of exaggerated residual vectors.
func (p *ResidualPlot) bounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	grow := func(q Point) {
		minX, maxX = math.Min(minX, q.X), math.Max(maxX, q.X)
		minY, maxY = math.Min(minY, q.Y), math.Max(maxY, q.Y)
	}
	for i := range p.Dst {
		grow(p.Dst[i])
		grow(p.tip(i))
	}
	if len(p.Dst) == 0 {
		return 0, 0, 1, 1
	}
	return minX, minY, maxX, maxY
}

func (p *ResidualPlot) tip(i int) Point {
	return p.Dst[i].Add(p.Mapped[i].Sub(p.Dst[i]).Scale(p.Exaggerate))
}

// layout returns the canvas size and the world-to-canvas mapping.
func (p *ResidualPlot) layout() (width, height float64, toCanvas func(Point) (float64, float64)) {
	minX, minY, maxX, maxY := p.bounds()
	span := math.Max(maxX-minX, maxY-minY)
	if span == 0 {
		span = 1
	}
	inner := p.Width - 2*p.Padding
	scale := inner / span
	width = p.Width
	height = (maxY-minY)*scale + 2*p.Padding
	toCanvas = func(q Point) (float64, float64) {
		return (q.X-minX)*scale + p.Padding, (q.Y-minY)*scale + p.Padding
	}
	return width, height, toCanvas
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderSVG writes the plot as an SVG to the provided writer
func (p *ResidualPlot) RenderSVG(w io.Writer) error {
	width, height, toCanvas := p.layout()
	r := svg.New(w, width, height, nil)
	p.draw(r, width, height, toCanvas)
	if err := r.Close(); err != nil {
		return fmt.Errorf("closing svg: %w", err)
	}
	return nil
}

// RenderPNG writes the plot as a PNG to the provided writer
func (p *ResidualPlot) RenderPNG(w io.Writer) error {
	width, height, toCanvas := p.layout()
	rast := rasterizer.New(width, height, p.Resolution, canvas.DefaultColorSpace)
	p.draw(rast, width, height, toCanvas)
	if err := png.Encode(w, rast); err != nil {
		return fmt.Errorf("encoding png: %w", err)
	}
	return nil
}

func (p *ResidualPlot) draw(r canvasRenderer, width, height float64, toCanvas func(Point) (float64, float64)) {
	bg := canvas.DefaultStyle
	bg.Fill = canvas.Paint{Color: canvas.White}
	r.RenderPath(canvas.Rectangle(width, height), bg, canvas.Identity)

	vector := canvas.DefaultStyle
	vector.Fill = canvas.Paint{Color: canvas.Transparent}
	vector.Stroke = canvas.Paint{Color: canvas.Red}
	vector.StrokeWidth = 0.3

	for i := range p.Dst {
		x1, y1 := toCanvas(p.Dst[i])
		x2, y2 := toCanvas(p.tip(i))
		path := &canvas.Path{}
		path.MoveTo(x1, y1)
		path.LineTo(x2, y2)
		r.RenderPath(path, vector, canvas.Identity)
	}

	target := canvas.DefaultStyle
	target.Fill = canvas.Paint{Color: canvas.Transparent}
	target.Stroke = canvas.Paint{Color: canvas.Black}
	target.StrokeWidth = 0.3

	mapped := canvas.DefaultStyle
	mapped.Fill = canvas.Paint{Color: canvas.Red}

	for i := range p.Dst {
		x, y := toCanvas(p.Dst[i])
		r.RenderPath(canvas.Circle(1.2).Translate(x, y), target, canvas.Identity)
		x, y = toCanvas(p.tip(i))
		r.RenderPath(canvas.Circle(0.6).Translate(x, y), mapped, canvas.Identity)
	}
}
