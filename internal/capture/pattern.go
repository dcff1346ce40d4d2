package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// PatternSource synthesizes placeholder frames: a gradient background with a
// watermark label and a frame counter. It never fails, which makes it the
// fallback of last resort when a camera has neither a reachable primary nor
// a placeholder video.
type PatternSource struct {
	width  int
	height int
	fps    float64
	label  string

	seq      uint64
	lastEmit time.Time
}

func NewPatternSource(width, height int, fps float64, label string) *PatternSource {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 480
	}
	if fps <= 0 {
		fps = 2
	}
	if label == "" {
		label = "NO SIGNAL"
	}
	return &PatternSource{width: width, height: height, fps: fps, label: label}
}

func (p *PatternSource) Open(ctx context.Context) error { return nil }

func (p *PatternSource) FPS() float64 { return p.fps }

func (p *PatternSource) Close() error { return nil }

// Next paces itself to the configured rate and returns a generated frame.
func (p *PatternSource) Next(ctx context.Context) (Frame, error) {
	interval := time.Duration(float64(time.Second) / p.fps)
	if !p.lastEmit.IsZero() {
		wait := interval - time.Since(p.lastEmit)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return Frame{}, ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	p.lastEmit = time.Now()
	p.seq++

	img := p.render()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return Frame{}, fmt.Errorf("%w: encode pattern frame: %v", ErrRead, err)
	}
	return Frame{Data: buf.Bytes(), Timestamp: p.lastEmit}, nil
}

func (p *PatternSource) render() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))

	for y := 0; y < p.height; y++ {
		v := uint8((y*128)/p.height) + 64
		for x := 0; x < p.width; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i] = 192 - v   // R
			img.Pix[i+1] = v / 2   // G
			img.Pix[i+2] = v       // B
			img.Pix[i+3] = 255
		}
	}

	face := basicfont.Face7x13
	white := image.NewUniform(color.RGBA{255, 255, 255, 255})
	gray := image.NewUniform(color.RGBA{200, 200, 200, 255})

	drawString(img, face, white, p.label, (p.width-len(p.label)*7)/2, p.height/2)
	counter := fmt.Sprintf("frame %d", p.seq)
	drawString(img, face, gray, counter, 10, 20)

	return img
}

func drawString(img *image.RGBA, face font.Face, src *image.Uniform, s string, x, y int) {
	d := font.Drawer{
		Dst:  img,
		Src:  src,
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
