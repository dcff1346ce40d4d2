package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/sitewatch/internal/models"
	"github.com/your-org/sitewatch/internal/observability"
)

const (
	EventsStreamName  = "EVENTS"
	EventsSubjectBase = "events"
	FramesSubjectBase = "frames"
)

// Producer is the distribution layer. Frames ride core NATS (fire and
// forget, a lost frame is worthless a moment later); event summaries ride
// JetStream so a briefly absent consumer still sees them.
type Producer struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	buf int

	mu      sync.Mutex
	cameras map[uuid.UUID]*cameraBuffer
}

// NewProducer connects to NATS. bufDepth is the per-camera frame buffer;
// when it fills, the oldest frame is dropped.
func NewProducer(natsURL string, bufDepth int) (*Producer, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	if bufDepth <= 0 {
		bufDepth = 8
	}
	return &Producer{
		nc:      nc,
		js:      js,
		buf:     bufDepth,
		cameras: make(map[uuid.UUID]*cameraBuffer),
	}, nil
}

// EnsureStreams creates the EVENTS JetStream stream if it does not exist.
// Retries up to 30 times (1s apart) to ride out NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:        EventsStreamName,
		Subjects:    []string{EventsSubjectBase + ".>"},
		Retention:   jetstream.InterestPolicy,
		MaxAge:      24 * time.Hour,
		MaxMsgs:     1000000,
		Storage:     jetstream.FileStorage,
		Description: "Safety violation event summaries",
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err == nil {
			slog.Info("ensured NATS stream", "name", cfg.Name)
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
		}
		slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishFrame queues one annotated frame for delivery on
// frames.<camera_id>. Never blocks: a full buffer drops the oldest queued
// frame in favor of the new one.
func (p *Producer) PublishFrame(frame models.AnnotatedFrame) {
	p.buffer(frame.CameraID).push(frame)
}

// PublishEvent publishes an event summary on events.<org_id> via JetStream.
func (p *Producer) PublishEvent(ctx context.Context, orgID uuid.UUID, summary models.EventSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal event summary: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", EventsSubjectBase, orgID)
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (p *Producer) buffer(cameraID uuid.UUID) *cameraBuffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.cameras[cameraID]
	if !ok {
		b = newCameraBuffer(cameraID, p.buf, p.send)
		p.cameras[cameraID] = b
		go b.flush()
	}
	return b
}

func (p *Producer) send(frame models.AnnotatedFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", FramesSubjectBase, frame.CameraID)
	return p.nc.Publish(subject, payload)
}

// DropCamera releases the buffer of a removed camera.
func (p *Producer) DropCamera(cameraID uuid.UUID) {
	p.mu.Lock()
	b, ok := p.cameras[cameraID]
	delete(p.cameras, cameraID)
	p.mu.Unlock()
	if ok {
		b.close()
	}
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.mu.Lock()
	for id, b := range p.cameras {
		b.close()
		delete(p.cameras, id)
	}
	p.mu.Unlock()
	p.nc.Close()
}

// cameraBuffer decouples the capture loop from the transport. push never
// blocks; flush drains in order on its own goroutine.
type cameraBuffer struct {
	cameraID uuid.UUID
	ch       chan models.AnnotatedFrame
	send     func(models.AnnotatedFrame) error
	once     sync.Once
	done     chan struct{}
}

func newCameraBuffer(cameraID uuid.UUID, depth int, send func(models.AnnotatedFrame) error) *cameraBuffer {
	return &cameraBuffer{
		cameraID: cameraID,
		ch:       make(chan models.AnnotatedFrame, depth),
		send:     send,
		done:     make(chan struct{}),
	}
}

// push enqueues a frame, evicting the oldest queued frame when full. Newest
// data always wins; the viewer wants now, not thirty seconds ago.
func (b *cameraBuffer) push(frame models.AnnotatedFrame) {
	for {
		select {
		case b.ch <- frame:
			return
		default:
		}
		select {
		case <-b.ch:
			observability.FramesDropped.WithLabelValues(b.cameraID.String()).Inc()
		default:
		}
	}
}

func (b *cameraBuffer) flush() {
	for {
		select {
		case <-b.done:
			return
		case frame := <-b.ch:
			if err := b.send(frame); err != nil {
				slog.Debug("frame publish failed", "camera_id", b.cameraID, "error", err)
			}
		}
	}
}

func (b *cameraBuffer) close() {
	b.once.Do(func() { close(b.done) })
}
