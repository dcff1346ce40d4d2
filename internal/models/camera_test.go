package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCamera() CameraConfig {
	return CameraConfig{
		ID:              uuid.New(),
		OrganizationID:  uuid.New(),
		Name:            "gate-1",
		SourceType:      SourceTypeRTSP,
		SourceURL:       "rtsp://cam.local/stream",
		Mode:            ModePPE,
		InferenceWidth:  640,
		InferenceHeight: 480,
		TargetFPS:       1,
		ConfThreshold:   0.5,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validCamera().Validate())

	c := validCamera()
	c.Mode = "face_recognition"
	assert.ErrorIs(t, c.Validate(), ErrConfig)

	c = validCamera()
	c.Mode = ModeZone
	assert.ErrorIs(t, c.Validate(), ErrConfig, "zone mode needs a polygon")
	c.ZonePolygon = []Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}}
	assert.NoError(t, c.Validate())

	c = validCamera()
	c.SourceURL = ""
	assert.ErrorIs(t, c.Validate(), ErrConfig)

	c = validCamera()
	c.TargetFPS = 0
	assert.ErrorIs(t, c.Validate(), ErrConfig)

	c = validCamera()
	c.TargetFPS = 0.5 // fractional rates are legal
	assert.NoError(t, c.Validate())

	c = validCamera()
	c.ConfThreshold = 1.5
	assert.ErrorIs(t, c.Validate(), ErrConfig)
}

func TestEqual(t *testing.T) {
	a := validCamera()
	b := a
	assert.True(t, a.Equal(b))

	b.TargetFPS = 2
	assert.False(t, a.Equal(b))

	b = a
	b.ZonePolygon = []Point{{X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}}
	assert.False(t, a.Equal(b))

	a.ZonePolygon = []Point{{X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}}
	assert.True(t, a.Equal(b))
}

func TestEventSummary(t *testing.T) {
	ev := ViolationEvent{
		ID:            uuid.New(),
		CameraID:      uuid.New(),
		EventType:     EventPPEViolation,
		ViolationType: ViolationNoHardhat,
		Severity:      SeverityHigh,
		Confidence:    0.87,
		ThumbnailKey:  "events/ab/abc.jpg",
	}
	s := ev.Summary()
	assert.Equal(t, ev.ID, s.ID)
	assert.Equal(t, ev.ViolationType, s.ViolationType)
	assert.Equal(t, ev.ThumbnailKey, s.ThumbnailKey)
}
