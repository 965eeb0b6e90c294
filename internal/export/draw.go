package export

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

type textAlign int

const (
	alignLeft textAlign = iota
	alignRight
	alignCenter
)

func hexColor(value uint32) color.NRGBA {
	return color.NRGBA{R: uint8(value >> 16), G: uint8(value >> 8), B: uint8(value), A: 0xFF}
}

// fillDiagonalGradient paints a linear gradient from the top-left corner
// (from) to the bottom-right corner (to).
func fillDiagonalGradient(canvas *image.NRGBA, from, to color.NRGBA) {
	bounds := canvas.Bounds()
	width := float64(bounds.Dx())
	height := float64(bounds.Dy())
	length := width*width + height*height
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			t := (float64(x-bounds.Min.X)*width + float64(y-bounds.Min.Y)*height) / length
			offset := canvas.PixOffset(x, y)
			canvas.Pix[offset+0] = lerp(from.R, to.R, t)
			canvas.Pix[offset+1] = lerp(from.G, to.G, t)
			canvas.Pix[offset+2] = lerp(from.B, to.B, t)
			canvas.Pix[offset+3] = 0xFF
		}
	}
}

func lerp(from, to uint8, t float64) uint8 {
	return uint8(math.Round(float64(from) + (float64(to)-float64(from))*t))
}

// strokeRect draws a rectangle outline of the given width centred on rect's edges.
func strokeRect(canvas draw.Image, rect image.Rectangle, lineWidth int, c color.Color) {
	half := lineWidth / 2
	src := image.NewUniform(c)
	outer := rect.Inset(-half)
	edges := []image.Rectangle{
		image.Rect(outer.Min.X, outer.Min.Y, outer.Max.X, outer.Min.Y+lineWidth),
		image.Rect(outer.Min.X, outer.Max.Y-lineWidth, outer.Max.X, outer.Max.Y),
		image.Rect(outer.Min.X, outer.Min.Y, outer.Min.X+lineWidth, outer.Max.Y),
		image.Rect(outer.Max.X-lineWidth, outer.Min.Y, outer.Max.X, outer.Max.Y),
	}
	for _, edge := range edges {
		draw.Draw(canvas, edge, src, image.Point{}, draw.Over)
	}
}

// circle is an alpha mask that is opaque inside the circle.
type circle struct {
	center image.Point
	radius int
}

func (c circle) ColorModel() color.Model {
	return color.AlphaModel
}

func (c circle) Bounds() image.Rectangle {
	return image.Rect(c.center.X-c.radius, c.center.Y-c.radius, c.center.X+c.radius, c.center.Y+c.radius)
}

func (c circle) At(x, y int) color.Color {
	dx := float64(x-c.center.X) + 0.5
	dy := float64(y-c.center.Y) + 0.5
	if dx*dx+dy*dy < float64(c.radius*c.radius) {
		return color.Alpha{A: 0xFF}
	}
	return color.Alpha{}
}

// clipped is the intersection of two masks.
type clipped struct {
	shape image.Image
	clip  image.Image
}

func (m clipped) ColorModel() color.Model {
	return color.AlphaModel
}

func (m clipped) Bounds() image.Rectangle {
	return m.shape.Bounds().Intersect(m.clip.Bounds())
}

func (m clipped) At(x, y int) color.Color {
	_, _, _, shapeAlpha := m.shape.At(x, y).RGBA()
	_, _, _, clipAlpha := m.clip.At(x, y).RGBA()
	return color.Alpha16{A: uint16(min(shapeAlpha, clipAlpha))}
}

func fillMask(canvas draw.Image, mask image.Image, c color.Color) {
	bounds := mask.Bounds()
	draw.DrawMask(canvas, bounds, image.NewUniform(c), image.Point{}, mask, bounds.Min, draw.Over)
}

// drawText draws text with its baseline at y. Alignment is relative to x.
func drawText(canvas draw.Image, face font.Face, text string, x, y int, align textAlign, c color.Color) {
	drawer := &font.Drawer{Dst: canvas, Src: image.NewUniform(c), Face: face}
	width := drawer.MeasureString(text).Round()
	switch align {
	case alignRight:
		x -= width
	case alignCenter:
		x -= width / 2
	}
	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(text)
}
