package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/sitewatch/internal/capture"
	"github.com/your-org/sitewatch/internal/config"
	"github.com/your-org/sitewatch/internal/models"
)

type fakeRepo struct {
	mu     sync.Mutex
	cams   []models.CameraConfig
	states map[uuid.UUID]models.WorkerState
}

func (r *fakeRepo) ListActiveCameras(ctx context.Context) ([]models.CameraConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.CameraConfig(nil), r.cams...), nil
}

func (r *fakeRepo) UpdateCameraStatus(ctx context.Context, id uuid.UUID, s models.WorkerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states == nil {
		r.states = make(map[uuid.UUID]models.WorkerState)
	}
	r.states[id] = s
	return nil
}

func testManager(t *testing.T, repo *fakeRepo, newSource func(capture.Spec) capture.Source) *Manager {
	t.Helper()
	return NewManager(ManagerOptions{
		Repo:      repo,
		Publisher: &collectPublisher{},
		Capture:   fastCapture(),
		Manager: config.ManagerConfig{
			RefreshInterval: 50 * time.Millisecond,
			RestartDelay:    5 * time.Millisecond,
			StopGrace:       time.Second,
		},
		Vision:    config.VisionConfig{JPEGQuality: 80, DefaultFPS: 100},
		NewSource: newSource,
	})
}

func frameFactory(t *testing.T) func(capture.Spec) capture.Source {
	frame := testJPEG(t, 64, 48)
	return func(spec capture.Spec) capture.Source {
		return &fakeSource{frame: frame, pace: time.Millisecond}
	}
}

func TestManagerReconcileAddsAndRemoves(t *testing.T) {
	camA := testCamera()
	camB := testCamera()
	m := testManager(t, &fakeRepo{}, frameFactory(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Reconcile(ctx, []models.CameraConfig{camA, camB})
	assert.Equal(t, 2, m.ActiveCount())

	m.Reconcile(ctx, []models.CameraConfig{camA})
	assert.Equal(t, 1, m.ActiveCount())

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, camA.ID, snap[0].CameraID)

	m.StopAll()
	assert.Equal(t, 0, m.ActiveCount())
}

func TestManagerRestartsOnConfigChange(t *testing.T) {
	cam := testCamera()
	m := testManager(t, &fakeRepo{}, frameFactory(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer m.StopAll()

	m.Reconcile(ctx, []models.CameraConfig{cam})

	m.mu.Lock()
	first := m.workers[cam.ID]
	m.mu.Unlock()
	require.NotNil(t, first)

	// Unchanged config keeps the running worker.
	m.Reconcile(ctx, []models.CameraConfig{cam})
	m.mu.Lock()
	same := m.workers[cam.ID]
	m.mu.Unlock()
	assert.Same(t, first, same)

	// Any change replaces the worker generation.
	changed := cam
	changed.TargetFPS = 2
	m.Reconcile(ctx, []models.CameraConfig{changed})

	m.mu.Lock()
	second := m.workers[cam.ID]
	m.mu.Unlock()
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
	assert.Equal(t, float64(2), second.worker.Camera().TargetFPS)
}

func TestManagerParksFailedConfigUntilChanged(t *testing.T) {
	cam := testCamera()
	cam.Mode = "bogus" // fails validation

	m := testManager(t, &fakeRepo{}, frameFactory(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer m.StopAll()

	m.Reconcile(ctx, []models.CameraConfig{cam})

	require.Eventually(t, func() bool {
		m.mu.Lock()
		_, parked := m.failed[cam.ID]
		m.mu.Unlock()
		return parked
	}, 2*time.Second, 5*time.Millisecond, "invalid config parks the camera")

	// Same broken config on the next refresh: no restart attempt.
	m.Reconcile(ctx, []models.CameraConfig{cam})
	assert.Equal(t, 0, m.ActiveCount())

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, models.StateFailed, snap[0].State)

	// Fixing the config brings it back.
	fixed := cam
	fixed.Mode = models.ModePPE
	m.Reconcile(ctx, []models.CameraConfig{fixed})
	assert.Equal(t, 1, m.ActiveCount())
}

type panicSource struct{}

func (panicSource) Open(ctx context.Context) error { return nil }
func (panicSource) Next(ctx context.Context) (capture.Frame, error) {
	panic("corrupt frame buffer")
}
func (panicSource) Close() error { return nil }
func (panicSource) FPS() float64 { return 0 }

func TestManagerIsolatesPanickingWorker(t *testing.T) {
	frame := testJPEG(t, 64, 48)
	bad := testCamera()
	good := testCamera()

	pub := &collectPublisher{}
	m := NewManager(ManagerOptions{
		Repo:      &fakeRepo{},
		Publisher: pub,
		Capture:   fastCapture(),
		Manager: config.ManagerConfig{
			RefreshInterval: time.Second,
			RestartDelay:    5 * time.Millisecond,
			StopGrace:       time.Second,
		},
		Vision: config.VisionConfig{JPEGQuality: 80, DefaultFPS: 100},
		NewSource: func(spec capture.Spec) capture.Source {
			// The bad camera panics inside its serve loop.
			if spec.PatternLabel == bad.Name {
				return panicSource{}
			}
			return &fakeSource{frame: frame, pace: time.Millisecond}
		},
	})
	bad.Name = "bad-cam"
	bad.UsePlaceholder = true
	bad.PlaceholderPath = ""

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer m.StopAll()

	m.Reconcile(ctx, []models.CameraConfig{bad, good})

	// The healthy camera keeps publishing while its sibling crash-loops.
	before := pub.count()
	require.Eventually(t, func() bool {
		return pub.count() > before+20
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManagerRunPersistsStates(t *testing.T) {
	cam := testCamera()
	repo := &fakeRepo{cams: []models.CameraConfig{cam}}
	m := testManager(t, repo, frameFactory(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { m.Run(ctx); close(done) }()

	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return repo.states[cam.ID] == models.StateConnected
	}, 2*time.Second, 5*time.Millisecond, "manager reports worker state transitions")

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("manager did not stop")
	}
}
