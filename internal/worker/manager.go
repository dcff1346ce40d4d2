package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/sitewatch/internal/capture"
	"github.com/your-org/sitewatch/internal/config"
	"github.com/your-org/sitewatch/internal/creds"
	"github.com/your-org/sitewatch/internal/models"
	"github.com/your-org/sitewatch/internal/observability"
	"github.com/your-org/sitewatch/internal/vision"
)

// CameraRepository is the control-plane view of camera configuration.
type CameraRepository interface {
	ListActiveCameras(ctx context.Context) ([]models.CameraConfig, error)
	UpdateCameraStatus(ctx context.Context, id uuid.UUID, state models.WorkerState) error
}

// ManagerOptions wires the shared collaborators every worker receives.
type ManagerOptions struct {
	Repo      CameraRepository
	Detector  vision.Detector
	Publisher FramePublisher
	Resolver  creds.Resolver
	Events    *EventProcessor

	Capture config.CaptureConfig
	Manager config.ManagerConfig
	Vision  config.VisionConfig

	NewSource func(capture.Spec) capture.Source
}

type running struct {
	worker *Worker
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager reconciles the set of running workers against the camera table.
// Workers are generations: a changed config stops the old worker and starts
// a new one, it never reaches into a running worker.
type Manager struct {
	opts ManagerOptions
	log  *slog.Logger

	mu      sync.Mutex
	workers map[uuid.UUID]*running
	// failed remembers configs rejected at startup so they are not retried
	// until the stored configuration actually changes.
	failed map[uuid.UUID]models.CameraConfig
}

func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		opts:    opts,
		log:     slog.With("component", "manager"),
		workers: make(map[uuid.UUID]*running),
		failed:  make(map[uuid.UUID]models.CameraConfig),
	}
}

// Run reconciles immediately, then on every refresh tick until the context
// ends. On exit all workers are stopped and given the grace period.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.refresh(ctx); err != nil {
		m.log.Error("initial camera refresh failed", "error", err)
	}

	ticker := time.NewTicker(m.opts.Manager.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.StopAll()
			return ctx.Err()
		case <-ticker.C:
			if err := m.refresh(ctx); err != nil {
				// Keep serving the current set; config reads are retried
				// on the next tick.
				m.log.Error("camera refresh failed", "error", err)
			}
		}
	}
}

func (m *Manager) refresh(ctx context.Context) error {
	cams, err := m.opts.Repo.ListActiveCameras(ctx)
	if err != nil {
		return err
	}
	m.Reconcile(ctx, cams)
	return nil
}

// Reconcile diffs the desired camera set against the running workers:
// new cameras start, changed cameras restart on the new config, removed
// cameras stop.
func (m *Manager) Reconcile(ctx context.Context, cams []models.CameraConfig) {
	desired := make(map[uuid.UUID]models.CameraConfig, len(cams))
	for _, cam := range cams {
		desired[cam.ID] = cam
	}

	m.mu.Lock()
	var toStop []*running
	for id, run := range m.workers {
		cam, keep := desired[id]
		if keep && run.worker.Camera().Equal(cam) {
			delete(desired, id)
			continue
		}
		toStop = append(toStop, run)
		delete(m.workers, id)
		if !keep {
			observability.ClearWorkerState(id.String())
		}
	}
	for id, failedCfg := range m.failed {
		cam, ok := desired[id]
		if !ok {
			delete(m.failed, id)
			continue
		}
		if failedCfg.Equal(cam) {
			// Still the config that failed validation; leave it alone.
			delete(desired, id)
		} else {
			delete(m.failed, id)
		}
	}
	m.mu.Unlock()

	for _, run := range toStop {
		m.stop(run)
	}
	for _, cam := range desired {
		m.start(ctx, cam)
	}
}

func (m *Manager) start(parent context.Context, cam models.CameraConfig) {
	ctx, cancel := context.WithCancel(parent)
	w := New(Options{
		Camera:      cam,
		Detector:    m.opts.Detector,
		Publisher:   m.opts.Publisher,
		Resolver:    m.opts.Resolver,
		Events:      m.opts.Events,
		Capture:     m.opts.Capture,
		JPEGQuality: m.opts.Vision.JPEGQuality,
		DefaultFPS:  m.opts.Vision.DefaultFPS,
		NewSource:   m.opts.NewSource,
		OnState: func(s models.WorkerState) {
			m.persistState(cam.ID, s)
		},
	})

	run := &running{worker: w, cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.workers[cam.ID] = run
	m.mu.Unlock()

	observability.ActiveWorkers.Inc()
	m.log.Info("starting camera worker", "camera_id", cam.ID, "camera", cam.Name)

	go m.supervise(ctx, run, cam)
}

// supervise runs the worker and restarts it after a crash. A panic in one
// camera's pipeline never takes down its siblings. Workers that end in the
// failed state are parked until their configuration changes.
func (m *Manager) supervise(ctx context.Context, run *running, cam models.CameraConfig) {
	defer close(run.done)
	defer observability.ActiveWorkers.Dec()

	for ctx.Err() == nil {
		crashed := m.runOnce(ctx, run.worker)

		if ctx.Err() != nil {
			return
		}
		if !crashed && run.worker.State() == models.StateFailed {
			m.mu.Lock()
			m.failed[cam.ID] = cam
			delete(m.workers, cam.ID)
			m.mu.Unlock()
			return
		}
		if crashed {
			m.log.Error("worker crashed, restarting",
				"camera_id", cam.ID, "delay", m.opts.Manager.RestartDelay)
		}
		if !sleepCtx(ctx, m.opts.Manager.RestartDelay) {
			return
		}
		// Same generation restarts on a fresh worker value so all the
		// per-run state (backoff, cache, sequence) starts clean.
		run.worker = New(Options{
			Camera:      cam,
			Detector:    m.opts.Detector,
			Publisher:   m.opts.Publisher,
			Resolver:    m.opts.Resolver,
			Events:      m.opts.Events,
			Capture:     m.opts.Capture,
			JPEGQuality: m.opts.Vision.JPEGQuality,
			DefaultFPS:  m.opts.Vision.DefaultFPS,
			NewSource:   m.opts.NewSource,
			OnState: func(s models.WorkerState) {
				m.persistState(cam.ID, s)
			},
		})
	}
}

// runOnce executes one worker run, converting panics into a crash signal.
func (m *Manager) runOnce(ctx context.Context, w *Worker) (crashed bool) {
	defer func() {
		if r := recover(); r != nil {
			crashed = true
			m.log.Error("worker panic", "camera_id", w.Camera().ID, "panic", r)
		}
	}()
	w.Run(ctx)
	return false
}

func (m *Manager) stop(run *running) {
	cam := run.worker.Camera()
	m.log.Info("stopping camera worker", "camera_id", cam.ID)
	run.cancel()

	select {
	case <-run.done:
	case <-time.After(m.opts.Manager.StopGrace):
		m.log.Warn("worker did not stop within grace period", "camera_id", cam.ID)
	}

	// Release the camera's transport buffer when the publisher holds one.
	if d, ok := m.opts.Publisher.(interface{ DropCamera(uuid.UUID) }); ok {
		d.DropCamera(cam.ID)
	}
}

// StopAll stops every running worker and waits up to the grace period each.
func (m *Manager) StopAll() {
	m.mu.Lock()
	runs := make([]*running, 0, len(m.workers))
	for id, run := range m.workers {
		runs = append(runs, run)
		delete(m.workers, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, run := range runs {
		wg.Add(1)
		go func(r *running) {
			defer wg.Done()
			m.stop(r)
		}(run)
	}
	wg.Wait()
}

func (m *Manager) persistState(id uuid.UUID, s models.WorkerState) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.opts.Repo.UpdateCameraStatus(ctx, id, s); err != nil {
		m.log.Warn("camera status update failed", "camera_id", id, "error", err)
	}
}

// WorkerStatus is one row of the manager's status snapshot.
type WorkerStatus struct {
	CameraID uuid.UUID          `json:"camera_id"`
	Name     string             `json:"name"`
	State    models.WorkerState `json:"state"`
}

// Snapshot reports the current workers for the status API.
func (m *Manager) Snapshot() []WorkerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]WorkerStatus, 0, len(m.workers)+len(m.failed))
	for _, run := range m.workers {
		cam := run.worker.Camera()
		out = append(out, WorkerStatus{CameraID: cam.ID, Name: cam.Name, State: run.worker.State()})
	}
	for _, cam := range m.failed {
		out = append(out, WorkerStatus{CameraID: cam.ID, Name: cam.Name, State: models.StateFailed})
	}
	return out
}

// ActiveCount returns the number of running workers.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}
