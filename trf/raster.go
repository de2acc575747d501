package trf

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// legendHeight is the strip reserved at the top of a raster plot.
const legendHeight = 40

var (
	rasterBackground = color.RGBA{255, 255, 255, 255}
	rasterTarget     = color.RGBA{0, 0, 0, 255}
	rasterVector     = color.RGBA{220, 30, 30, 255}
	rasterText       = color.RGBA{0, 0, 0, 255}
)

// RenderRaster draws the plot into a size×size pixel image with a text
// legend giving the point count, RMSE and largest residual.
func (p *ResidualPlot) RenderRaster(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size+legendHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: rasterBackground}, image.Point{}, draw.Src)

	minX, minY, maxX, maxY := p.bounds()
	span := math.Max(maxX-minX, maxY-minY)
	if span == 0 {
		span = 1
	}
	margin := float64(size) / 20
	scale := (float64(size) - 2*margin) / span
	// Image rows grow downwards.
	toPixel := func(q Point) (int, int) {
		x := (q.X-minX)*scale + margin
		y := float64(size) - ((q.Y-minY)*scale + margin) + legendHeight
		return int(math.Round(x)), int(math.Round(y))
	}

	for i := range p.Dst {
		x1, y1 := toPixel(p.Dst[i])
		x2, y2 := toPixel(p.tip(i))
		drawLine(img, x1, y1, x2, y2, rasterVector)
		drawDot(img, x1, y1, 2, rasterTarget)
		drawDot(img, x2, y2, 1, rasterVector)
	}

	drawText(img, 8, 16, fmt.Sprintf("points: %d  rmse: %.4g", len(p.Dst), p.Fit.RMSE), rasterText)
	drawText(img, 8, 32, fmt.Sprintf("max residual: %.4g  exaggeration: x%g",
		math.Sqrt(p.Fit.MaxResidual()), p.Exaggerate), rasterText)
	return img
}

// RenderResidualRaster writes the raster plot as a PNG.
func RenderResidualRaster(w io.Writer, p *ResidualPlot, size int) error {
	if size <= 0 {
		return fmt.Errorf("raster size must be positive, got %d", size)
	}
	if err := png.Encode(w, p.RenderRaster(size)); err != nil {
		return fmt.Errorf("encoding png: %w", err)
	}
	return nil
}

// drawLine rasterises a segment with Bresenham's algorithm.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		img.SetRGBA(x0, y0, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func drawDot(img *image.RGBA, cx, cy, r int, c color.RGBA) {
	for y := -r; y <= r; y++ {
		for x := -r; x <= r; x++ {
			if x*x+y*y <= r*r {
				img.SetRGBA(cx+x, cy+y, c)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
