package worker

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sitewatch/internal/config"
	"github.com/your-org/sitewatch/internal/models"
	"github.com/your-org/sitewatch/internal/observability"
	"github.com/your-org/sitewatch/internal/vision"
)

// EventStore persists violation events.
type EventStore interface {
	SaveEvent(ctx context.Context, ev *models.ViolationEvent) error
}

// EventPublisher pushes event summaries to the distribution layer.
type EventPublisher interface {
	PublishEvent(ctx context.Context, orgID uuid.UUID, summary models.EventSummary) error
}

// ThumbnailStore keeps evidence crops in object storage.
type ThumbnailStore interface {
	PutThumbnail(ctx context.Context, key string, jpeg []byte) error
}

var severityFor = map[models.ViolationType]models.Severity{
	models.ViolationNoHardhat:  models.SeverityHigh,
	models.ViolationNoVest:     models.SeverityMedium,
	models.ViolationZoneBreach: models.SeverityCritical,
}

var eventTypeFor = map[models.ViolationType]models.EventType{
	models.ViolationNoHardhat:  models.EventPPEViolation,
	models.ViolationNoVest:     models.EventPPEViolation,
	models.ViolationZoneBreach: models.EventZoneViolation,
}

// debounceKey identifies one ongoing violation: same camera, same type,
// roughly the same place. The grid cell absorbs detection jitter so a
// person standing still does not spray events.
type debounceKey struct {
	cameraID  uuid.UUID
	violation models.ViolationType
	cellX     int
	cellY     int
}

// EventProcessor turns inference results into persisted, debounced
// violation events. One instance is shared by all workers; the debounce
// table is keyed per camera.
type EventProcessor struct {
	store     EventStore
	publisher EventPublisher
	thumbs    ThumbnailStore
	cfg       config.EventsConfig
	log       *slog.Logger

	now func() time.Time

	mu       sync.Mutex
	lastEmit map[debounceKey]time.Time
}

func NewEventProcessor(store EventStore, publisher EventPublisher, thumbs ThumbnailStore, cfg config.EventsConfig) *EventProcessor {
	return &EventProcessor{
		store:     store,
		publisher: publisher,
		thumbs:    thumbs,
		cfg:       cfg,
		log:       slog.With("component", "events"),
		now:       time.Now,
		lastEmit:  make(map[debounceKey]time.Time),
	}
}

// Process assesses one inference result and emits events for violations
// that are not inside an open debounce window. The classification here is
// the same call the annotator renders from, so a red box on screen and a
// persisted event can never disagree.
func (p *EventProcessor) Process(ctx context.Context, cam models.CameraConfig, img image.Image, res *Result) {
	assessed := vision.Assess(res.Detections, cam.Mode, cam.ZonePolygon,
		vision.DefaultHeadFraction, vision.DefaultOverlapThreshold)

	for _, a := range assessed {
		for _, v := range a.Violations {
			if !p.shouldEmit(cam.ID, v, a.Person.Box) {
				observability.EventsDebounced.WithLabelValues(cam.ID.String()).Inc()
				continue
			}
			p.emit(ctx, cam, img, a, v)
		}
	}
}

// shouldEmit checks the debounce window and, when open, records the new
// emission. The window only refreshes on emit: a continuous violation
// produces one event per cooldown period, not a sliding silence.
func (p *EventProcessor) shouldEmit(cameraID uuid.UUID, v models.ViolationType, box [4]float32) bool {
	cx, cy := vision.Centroid(box)
	cell := p.cfg.GridCell
	if cell <= 0 {
		cell = 50
	}
	key := debounceKey{
		cameraID:  cameraID,
		violation: v,
		cellX:     int(cx) / cell,
		cellY:     int(cy) / cell,
	}

	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()

	if last, ok := p.lastEmit[key]; ok && now.Sub(last) < p.cfg.Cooldown {
		return false
	}
	p.lastEmit[key] = now
	return true
}

func (p *EventProcessor) emit(ctx context.Context, cam models.CameraConfig, img image.Image, a vision.PersonAssessment, v models.ViolationType) {
	ev := &models.ViolationEvent{
		ID:             uuid.New(),
		OrganizationID: cam.OrganizationID,
		CameraID:       cam.ID,
		EventType:      eventTypeFor[v],
		ViolationType:  v,
		Severity:       severityFor[v],
		Confidence:     a.Confidence,
		BBox:           a.Person.Box,
		CreatedAt:      p.now().UTC(),
	}

	if key, err := p.saveThumbnail(ctx, ev.ID, img, a.Person.Box); err != nil {
		// Evidence is best-effort; the event still stands without it.
		p.log.Warn("thumbnail upload failed", "event_id", ev.ID, "error", err)
	} else {
		ev.ThumbnailKey = key
	}

	if !p.saveWithRetry(ctx, ev) {
		observability.EventSaveFailures.Inc()
		p.log.Error("event dropped after persistence retries",
			"camera_id", cam.ID, "violation", v)
		return
	}
	observability.EventsEmitted.WithLabelValues(cam.ID.String(), string(v)).Inc()

	if p.publisher != nil {
		if err := p.publisher.PublishEvent(ctx, cam.OrganizationID, ev.Summary()); err != nil {
			p.log.Warn("event summary publish failed", "event_id", ev.ID, "error", err)
		}
	}

	p.log.Info("violation event emitted",
		"event_id", ev.ID,
		"camera_id", cam.ID,
		"violation", v,
		"severity", ev.Severity,
		"confidence", ev.Confidence,
	)
}

// saveThumbnail crops the person box with padding and uploads it.
func (p *EventProcessor) saveThumbnail(ctx context.Context, eventID uuid.UUID, img image.Image, box [4]float32) (string, error) {
	if p.thumbs == nil {
		return "", nil
	}

	crop := cropWithPad(img, box, p.cfg.ThumbnailPad)
	data, err := vision.EncodeJPEG(crop, p.cfg.ThumbnailQuality)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("events/%s/%s.jpg", eventID.String()[:2], eventID)
	if err := p.thumbs.PutThumbnail(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

func (p *EventProcessor) saveWithRetry(ctx context.Context, ev *models.ViolationEvent) bool {
	retries := p.cfg.SaveRetries
	if retries <= 0 {
		retries = 1
	}

	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		if err = p.store.SaveEvent(ctx, ev); err == nil {
			return true
		}
		p.log.Warn("event save failed", "attempt", attempt, "error", err)
		if attempt < retries && !sleepCtx(ctx, time.Duration(attempt)*p.cfg.SaveRetryDelay) {
			return false
		}
	}
	return false
}

// cropWithPad extracts the box plus padding, clamped to the image bounds.
func cropWithPad(img image.Image, box [4]float32, pad int) image.Image {
	bounds := img.Bounds()
	r := image.Rect(
		int(box[0])-pad, int(box[1])-pad,
		int(box[2])+pad, int(box[3])+pad,
	).Intersect(bounds)
	if r.Empty() {
		return img
	}

	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}

	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			out.Set(x, y, img.At(r.Min.X+x, r.Min.Y+y))
		}
	}
	return out
}
