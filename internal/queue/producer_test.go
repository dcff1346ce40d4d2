package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/sitewatch/internal/models"
)

func TestCameraBufferDropsOldestWhenFull(t *testing.T) {
	var mu sync.Mutex
	var sent []uint64
	release := make(chan struct{})

	b := newCameraBuffer(uuid.New(), 3, func(f models.AnnotatedFrame) error {
		<-release
		mu.Lock()
		sent = append(sent, f.Sequence)
		mu.Unlock()
		return nil
	})
	defer b.close()
	go b.flush()

	// The flusher is blocked, so pushes beyond the depth evict the oldest.
	for seq := uint64(1); seq <= 10; seq++ {
		b.push(models.AnnotatedFrame{Sequence: seq})
	}
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) >= 3
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// The first frame may already be in flight with the flusher; everything
	// still queued must be the newest frames, in order.
	last := sent[len(sent)-1]
	assert.Equal(t, uint64(10), last, "the newest frame is never the one dropped")
	for i := 1; i < len(sent); i++ {
		assert.Greater(t, sent[i], sent[i-1], "delivery preserves order")
	}
}

func TestCameraBufferPushNeverBlocks(t *testing.T) {
	b := newCameraBuffer(uuid.New(), 2, func(models.AnnotatedFrame) error {
		select {} // transport wedged forever
	})
	defer b.close()
	go b.flush()

	done := make(chan struct{})
	go func() {
		for seq := uint64(0); seq < 1000; seq++ {
			b.push(models.AnnotatedFrame{Sequence: seq})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("push blocked on a wedged transport")
	}
}
