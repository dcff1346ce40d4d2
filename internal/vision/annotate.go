package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"github.com/your-org/sitewatch/internal/models"
)

// AnnotateParams configures one rendering pass.
type AnnotateParams struct {
	Mode             models.DetectionMode
	Polygon          []models.Point
	HeadFraction     float32
	OverlapThreshold float32
	Watermark        string
}

// Annotate renders detections onto a copy of the source frame. The source
// image is never modified, so the same decoded frame can be rendered again
// on the next tick with a newer inference result.
func Annotate(src image.Image, dets []Detection, p AnnotateParams) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)

	if p.Mode == models.ModeZone && len(p.Polygon) >= 3 {
		drawPolygon(dst, p.Polygon, colorZone)
	}

	for _, d := range dets {
		if d.Label == LabelPerson {
			continue
		}
		x1, y1 := int(d.Box[0]), int(d.Box[1])
		x2, y2 := int(d.Box[2]), int(d.Box[3])
		label := fmt.Sprintf("%s %.0f%%", d.Label, d.Confidence*100)
		drawRect(dst, x1, y1, x2, y2, colorOther, 1)
		drawLabel(dst, x1, y1, label, colorOther)
	}

	// Persons render from their assessments, drawn last so verdict boxes
	// stay on top of context boxes.
	for _, a := range Assess(dets, p.Mode, p.Polygon, p.HeadFraction, p.OverlapThreshold) {
		d := a.Person
		x1, y1 := int(d.Box[0]), int(d.Box[1])
		x2, y2 := int(d.Box[2]), int(d.Box[3])

		c := statusColor(a.Overall())
		label := fmt.Sprintf("%s %.0f%%", d.Label, d.Confidence*100)
		if len(a.Violations) > 0 {
			label = fmt.Sprintf("%s %.0f%%", a.Violations[0], a.Confidence*100)
		}
		drawRect(dst, x1, y1, x2, y2, c, 2)
		drawLabel(dst, x1, y1, label, c)
	}

	if p.Watermark != "" {
		drawLabel(dst, 8, 24, p.Watermark, colorOther)
	}
	return dst
}

// EncodeJPEG encodes an annotated frame at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
