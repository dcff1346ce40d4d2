package vision

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/sitewatch/internal/models"
)

func testFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 64, 255})
		}
	}
	return img
}

func TestAnnotateDoesNotMutateSource(t *testing.T) {
	src := testFrame(640, 480)
	before := make([]byte, len(src.Pix))
	copy(before, src.Pix)

	dets := []Detection{
		{Label: LabelPerson, Confidence: 0.9, Box: [4]float32{100, 100, 150, 250}},
		{Label: LabelNoHardhat, Confidence: 0.8, Box: [4]float32{100, 100, 150, 122.5}},
	}
	out := Annotate(src, dets, AnnotateParams{Mode: models.ModePPE})

	assert.Equal(t, before, src.Pix, "rendering must not touch the source frame")
	assert.NotEqual(t, src.Pix, out.Pix, "output carries the overlay")
}

func TestAnnotateDeterministic(t *testing.T) {
	src := testFrame(320, 240)
	dets := []Detection{
		{Label: LabelPerson, Confidence: 0.9, Box: [4]float32{50, 40, 120, 200}},
	}
	p := AnnotateParams{Mode: models.ModePPE, Watermark: "LIVE"}

	a := Annotate(src, dets, p)
	b := Annotate(src, dets, p)
	assert.Equal(t, a.Pix, b.Pix, "same frame and result must render identically")
}

func TestAnnotateZeroDetections(t *testing.T) {
	src := testFrame(320, 240)
	out := Annotate(src, nil, AnnotateParams{Mode: models.ModePPE})
	require.NotNil(t, out)
	assert.Equal(t, src.Pix, out.Pix, "no detections and no overlays yields a plain copy")
}

func TestAnnotateZoneOverlay(t *testing.T) {
	src := testFrame(640, 480)
	out := Annotate(src, nil, AnnotateParams{Mode: models.ModeZone, Polygon: testZone})

	// Inside the zone the pixels are tinted; outside they are untouched.
	assert.NotEqual(t, src.RGBAAt(300, 200), out.RGBAAt(300, 200))
	assert.Equal(t, src.RGBAAt(10, 10), out.RGBAAt(10, 10))
}

func TestAnnotateZoneColorsByContainment(t *testing.T) {
	src := testFrame(640, 480)
	dets := []Detection{
		{Label: LabelPerson, Confidence: 0.9, Box: [4]float32{100, 100, 500, 300}}, // centroid inside
		{Label: LabelPerson, Confidence: 0.9, Box: [4]float32{0, 0, 20, 20}},       // centroid outside
	}
	out := Annotate(src, dets, AnnotateParams{Mode: models.ModeZone, Polygon: testZone})

	assert.Equal(t, colorViolation, out.RGBAAt(300, 300), "inside the zone draws red")
	assert.Equal(t, colorCompliant, out.RGBAAt(10, 20), "outside the zone draws green, never the unknown yellow")
}

func TestAnnotateDuplicatePersonBoxes(t *testing.T) {
	src := testFrame(320, 240)
	box := [4]float32{50, 40, 120, 200}
	one := Annotate(src, []Detection{
		{Label: LabelPerson, Confidence: 0.9, Box: box},
	}, AnnotateParams{Mode: models.ModePPE})
	two := Annotate(src, []Detection{
		{Label: LabelPerson, Confidence: 0.9, Box: box},
		{Label: LabelPerson, Confidence: 0.9, Box: box},
	}, AnnotateParams{Mode: models.ModePPE})

	assert.Equal(t, one.Pix, two.Pix, "coinciding person boxes render without losing either verdict")
}

func TestEncodeJPEGRoundTrip(t *testing.T) {
	src := testFrame(160, 120)
	data, err := EncodeJPEG(src, 80)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	img, err := DecodeJPEG(data)
	require.NoError(t, err)
	assert.Equal(t, 160, img.Bounds().Dx())
	assert.Equal(t, 120, img.Bounds().Dy())
}
