package capture

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the source contract. Connection and read failures are
// transient and feed the reconnect policy; end-of-stream is expected for
// file sources and triggers a loop restart, not backoff.
var (
	ErrConnect     = errors.New("source connect failed")
	ErrRead        = errors.New("source read failed")
	ErrEndOfStream = errors.New("end of stream")
)

// Frame is one raw captured frame, encoded as JPEG.
type Frame struct {
	Data      []byte
	Timestamp time.Time
}

// Source abstracts one camera's raw pixel feed. Implementations own their
// process/socket lifecycle; Next blocks until a frame is available, the
// context is cancelled, or the stream fails.
type Source interface {
	Open(ctx context.Context) error
	Next(ctx context.Context) (Frame, error)
	Close() error
	// FPS returns the source's output rate, 0 if unknown.
	FPS() float64
}

// Spec describes how to open a source. URL is the fully resolved connection
// string (credentials already injected) or a local file path.
type Spec struct {
	URL   string
	Loop  bool // file sources restart from the beginning on end-of-stream
	FPS   float64
	Width int // scale-down width for extracted frames, 0 keeps native size

	// Pattern-source fields, used when URL is empty.
	PatternWidth  int
	PatternHeight int
	PatternLabel  string
}

// New builds a source for the spec. An empty URL yields the synthetic
// pattern source, which never fails and is the fallback of last resort.
func New(spec Spec) Source {
	if spec.URL == "" {
		return NewPatternSource(spec.PatternWidth, spec.PatternHeight, spec.FPS, spec.PatternLabel)
	}
	return NewFFmpegSource(spec)
}
