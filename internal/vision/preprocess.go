package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// DecodeJPEG decodes a captured frame. Falls back to the generic decoder so
// placeholder sources may emit any registered format.
func DecodeJPEG(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode frame: %w", err)
		}
	}
	return img, nil
}

// letterbox scales the image to fit a square model input while preserving
// aspect ratio, pads the remainder, and returns normalized CHW float32 data
// plus the transform needed to map boxes back (ratio and pad offsets).
func letterbox(img image.Image, size int) (data []float32, ratio float32, padX, padY int) {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	ratio = float32(size) / float32(srcW)
	if r := float32(size) / float32(srcH); r < ratio {
		ratio = r
	}
	newW := int(float32(srcW) * ratio)
	newH := int(float32(srcH) * ratio)
	padX = (size - newW) / 2
	padY = (size - newH) / 2

	resized := resizeImage(img, newW, newH)
	rb := resized.Bounds()

	data = make([]float32, 3*size*size)
	plane := size * size

	for y := 0; y < newH; y++ {
		for x := 0; x < newW; x++ {
			r, g, b, _ := resized.At(x+rb.Min.X, y+rb.Min.Y).RGBA()

			idx := (y+padY)*size + (x + padX)
			data[0*plane+idx] = float32(r>>8) / 255.0
			data[1*plane+idx] = float32(g>>8) / 255.0
			data[2*plane+idx] = float32(b>>8) / 255.0
		}
	}
	return data, ratio, padX, padY
}

// ResizeToWidth scales the image down to maxW preserving aspect ratio and
// returns the applied scale factor. Images at or below maxW pass through
// unchanged with scale 1.
func ResizeToWidth(img image.Image, maxW int) (image.Image, float32) {
	bounds := img.Bounds()
	if maxW <= 0 || bounds.Dx() <= maxW {
		return img, 1
	}
	scale := float32(maxW) / float32(bounds.Dx())
	h := int(float32(bounds.Dy()) * scale)
	if h < 1 {
		h = 1
	}
	return resizeImage(img, maxW, h), scale
}

// resizeImage performs nearest-neighbour resize (fast, good enough for ML input).
func resizeImage(img image.Image, targetW, targetH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()
	if srcW == targetW && srcH == targetH {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			srcX := bounds.Min.X + x*srcW/targetW
			srcY := bounds.Min.Y + y*srcH/targetH
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}
	return dst
}
