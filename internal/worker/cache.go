package worker

import (
	"sync/atomic"
	"time"

	"github.com/your-org/sitewatch/internal/vision"
)

// Result is one completed inference output, pinned to the frame dimensions
// it was computed on so stale boxes can still be rendered meaningfully.
type Result struct {
	Detections []vision.Detection
	ComputedAt time.Time
	Sequence   uint64 // frame sequence the inference ran on
	Width      int
	Height     int
}

// ResultCache holds the latest completed inference result. Readers always
// get a complete result or nil, never a partial one; the annotator renders
// the cached result onto every output frame until a newer one lands.
type ResultCache struct {
	cur atomic.Pointer[Result]
}

// Store publishes a result if it is newer than the current one. Monotonic:
// a slow inference finishing after a faster successor never goes backwards.
func (c *ResultCache) Store(r *Result) bool {
	for {
		old := c.cur.Load()
		if old != nil && old.Sequence >= r.Sequence {
			return false
		}
		if c.cur.CompareAndSwap(old, r) {
			return true
		}
	}
}

// Load returns the latest result, or nil before the first inference.
func (c *ResultCache) Load() *Result {
	return c.cur.Load()
}

// Clear drops the cached result, used when the source resolution changes.
func (c *ResultCache) Clear() {
	c.cur.Store(nil)
}
