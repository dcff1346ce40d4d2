package vision

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/your-org/sitewatch/internal/models"
)

var (
	colorCompliant = color.RGBA{0, 200, 0, 255}
	colorViolation = color.RGBA{220, 30, 30, 255}
	colorUnknown   = color.RGBA{230, 190, 0, 255}
	colorOther     = color.RGBA{140, 140, 140, 255}
	colorZone      = color.RGBA{0, 120, 255, 255}
)

func statusColor(s Status) color.RGBA {
	switch s {
	case StatusCompliant:
		return colorCompliant
	case StatusViolation:
		return colorViolation
	default:
		return colorUnknown
	}
}

// drawRect draws a rectangle outline with the given thickness.
func drawRect(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA, thickness int) {
	for t := 0; t < thickness; t++ {
		for x := x1; x <= x2; x++ {
			img.SetRGBA(x, y1+t, c)
			img.SetRGBA(x, y2-t, c)
		}
		for y := y1; y <= y2; y++ {
			img.SetRGBA(x1+t, y, c)
			img.SetRGBA(x2-t, y, c)
		}
	}
}

// drawLabel renders text on a filled background just above (x, y).
func drawLabel(img *image.RGBA, x, y int, text string, bg color.RGBA) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil()
	h := face.Metrics().Height.Ceil()

	top := y - h - 4
	if top < 0 {
		top = y
	}
	draw.Draw(img, image.Rect(x, top, x+w+6, top+h+4), &image.Uniform{bg}, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{255, 255, 255, 255}),
		Face: face,
		Dot:  fixed.P(x+3, top+h),
	}
	d.DrawString(text)
}

// drawPolygon outlines the zone and shades its interior with a translucent
// fill so the zone is visible without hiding what is inside it.
func drawPolygon(img *image.RGBA, polygon []models.Point, c color.RGBA) {
	if len(polygon) < 3 {
		return
	}
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if !PointInPolygon(float32(x), float32(y), polygon) {
				continue
			}
			p := img.RGBAAt(x, y)
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((uint16(p.R)*4 + uint16(c.R)) / 5),
				G: uint8((uint16(p.G)*4 + uint16(c.G)) / 5),
				B: uint8((uint16(p.B)*4 + uint16(c.B)) / 5),
				A: 255,
			})
		}
	}
	n := len(polygon)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		drawLine(img, polygon[i].X, polygon[i].Y, polygon[j].X, polygon[j].Y, c)
	}
}

// drawLine draws a line using Bresenham's algorithm.
func drawLine(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	dx := abs(x2 - x1)
	dy := -abs(y2 - y1)
	sx, sy := 1, 1
	if x1 > x2 {
		sx = -1
	}
	if y1 > y2 {
		sy = -1
	}
	err := dx + dy
	for {
		img.SetRGBA(x1, y1, c)
		if x1 == x2 && y1 == y2 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x1 += sx
		}
		if e2 <= dx {
			err += dx
			y1 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
