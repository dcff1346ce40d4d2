package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SourceType string

const (
	SourceTypeRTSP    SourceType = "rtsp"
	SourceTypeHTTP    SourceType = "http"
	SourceTypeFile    SourceType = "file"
	SourceTypePattern SourceType = "pattern"
)

type DetectionMode string

const (
	ModePPE  DetectionMode = "ppe"
	ModeZone DetectionMode = "zone"
)

// WorkerState is the externally observable state of a camera worker.
// Transitions are driven only by the worker itself.
type WorkerState string

const (
	StateStarting     WorkerState = "starting"
	StateConnected    WorkerState = "connected"
	StateReconnecting WorkerState = "reconnecting"
	StateDegraded     WorkerState = "degraded-placeholder"
	StateStopped      WorkerState = "stopped"
	StateFailed       WorkerState = "failed"
)

// ErrConfig marks camera configurations that fail validation. A camera with
// a config error is not retried until its configuration changes.
var ErrConfig = errors.New("invalid camera configuration")

// Point is a vertex of a zone polygon, in pixel space of the inference frame.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// CameraConfig is an immutable per-generation snapshot of a camera's
// configuration. Workers receive a copy and never mutate it; any change
// produces a new worker generation.
type CameraConfig struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string

	SourceType      SourceType
	SourceURL       string // network URL or file path
	CredentialsEnc  string // encrypted "username:password", resolved at worker start
	PlaceholderPath string // optional fallback video; empty means synthetic pattern only
	UsePlaceholder  bool   // serve the placeholder directly (demo camera)

	Mode             DetectionMode
	ZonePolygon      []Point
	InferenceWidth   int
	InferenceHeight  int
	TargetFPS        float64 // inference rate, may be fractional (e.g. 0.5)
	StreamFPS        float64 // output rate; 0 means use the process default
	ConfThreshold    float32
	InferenceEnabled bool
}

func (c CameraConfig) Validate() error {
	switch c.Mode {
	case ModePPE:
	case ModeZone:
		if len(c.ZonePolygon) < 3 {
			return fmt.Errorf("%w: zone mode requires a polygon with at least 3 vertices", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown detection mode %q", ErrConfig, c.Mode)
	}

	switch c.SourceType {
	case SourceTypeRTSP, SourceTypeHTTP:
		if c.SourceURL == "" {
			return fmt.Errorf("%w: %s source requires a URL", ErrConfig, c.SourceType)
		}
	case SourceTypeFile:
		if c.SourceURL == "" && c.PlaceholderPath == "" {
			return fmt.Errorf("%w: file source requires a path", ErrConfig)
		}
	case SourceTypePattern:
	default:
		return fmt.Errorf("%w: unknown source type %q", ErrConfig, c.SourceType)
	}

	if c.InferenceWidth <= 0 || c.InferenceHeight <= 0 {
		return fmt.Errorf("%w: inference resolution must be positive", ErrConfig)
	}
	if c.TargetFPS <= 0 {
		return fmt.Errorf("%w: target inference rate must be positive", ErrConfig)
	}
	if c.ConfThreshold < 0 || c.ConfThreshold > 1 {
		return fmt.Errorf("%w: confidence threshold must be in [0,1]", ErrConfig)
	}
	return nil
}

// Equal reports whether two snapshots describe the same worker generation.
// Any difference means the running worker must be replaced, never mutated.
func (c CameraConfig) Equal(o CameraConfig) bool {
	if c.ID != o.ID ||
		c.OrganizationID != o.OrganizationID ||
		c.Name != o.Name ||
		c.SourceType != o.SourceType ||
		c.SourceURL != o.SourceURL ||
		c.CredentialsEnc != o.CredentialsEnc ||
		c.PlaceholderPath != o.PlaceholderPath ||
		c.UsePlaceholder != o.UsePlaceholder ||
		c.Mode != o.Mode ||
		c.InferenceWidth != o.InferenceWidth ||
		c.InferenceHeight != o.InferenceHeight ||
		c.TargetFPS != o.TargetFPS ||
		c.StreamFPS != o.StreamFPS ||
		c.ConfThreshold != o.ConfThreshold ||
		c.InferenceEnabled != o.InferenceEnabled {
		return false
	}
	if len(c.ZonePolygon) != len(o.ZonePolygon) {
		return false
	}
	for i := range c.ZonePolygon {
		if c.ZonePolygon[i] != o.ZonePolygon[i] {
			return false
		}
	}
	return true
}

// AnnotatedFrame is one encoded output frame handed to the distribution
// layer. Transient: the worker forgets it after publishing.
type AnnotatedFrame struct {
	CameraID   uuid.UUID   `json:"camera_id"`
	Sequence   uint64      `json:"sequence"`
	Timestamp  time.Time   `json:"timestamp"`
	State      WorkerState `json:"state"`
	FPS        float64     `json:"fps"`
	Detections int         `json:"detections"`
	Data       []byte      `json:"data"` // JPEG bytes
}
