package models

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventPPEViolation  EventType = "ppe_violation"
	EventZoneViolation EventType = "zone_violation"
)

type ViolationType string

const (
	ViolationNoHardhat  ViolationType = "no_hardhat"
	ViolationNoVest     ViolationType = "no_vest"
	ViolationZoneBreach ViolationType = "zone_breach"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ViolationEvent is created by the event processor and persisted once.
// The pipeline never mutates it afterwards; the acknowledged flag is owned
// by the API layer.
type ViolationEvent struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	OrganizationID uuid.UUID     `json:"organization_id" db:"organization_id"`
	CameraID       uuid.UUID     `json:"camera_id" db:"camera_id"`
	EventType      EventType     `json:"event_type" db:"event_type"`
	ViolationType  ViolationType `json:"violation_type" db:"violation_type"`
	Severity       Severity      `json:"severity" db:"severity"`
	Confidence     float32       `json:"confidence" db:"confidence"`
	BBox           [4]float32    `json:"bbox" db:"-"` // x1, y1, x2, y2
	ThumbnailKey   string        `json:"thumbnail_key" db:"thumbnail_key"`
	Acknowledged   bool          `json:"acknowledged" db:"acknowledged"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}

// EventSummary is the lightweight notification published to the distribution
// layer for realtime consumers. Identity and summary only, never the image.
type EventSummary struct {
	ID            uuid.UUID     `json:"id"`
	CameraID      uuid.UUID     `json:"camera_id"`
	EventType     EventType     `json:"event_type"`
	ViolationType ViolationType `json:"violation_type"`
	Severity      Severity      `json:"severity"`
	Confidence    float32       `json:"confidence"`
	ThumbnailKey  string        `json:"thumbnail_key,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Summary derives the publishable notification from a persisted event.
func (e *ViolationEvent) Summary() EventSummary {
	return EventSummary{
		ID:            e.ID,
		CameraID:      e.CameraID,
		EventType:     e.EventType,
		ViolationType: e.ViolationType,
		Severity:      e.Severity,
		Confidence:    e.Confidence,
		ThumbnailKey:  e.ThumbnailKey,
		CreatedAt:     e.CreatedAt,
	}
}
