package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitewatch",
		Name:      "frames_published_total",
		Help:      "Total number of annotated frames handed to the distribution layer",
	}, []string{"camera_id"})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitewatch",
		Name:      "frames_dropped_total",
		Help:      "Frames dropped because the transport buffer was full (drop-oldest)",
	}, []string{"camera_id"})

	InferenceRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitewatch",
		Name:      "inference_runs_total",
		Help:      "Total number of completed inference invocations",
	}, []string{"camera_id"})

	InferenceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitewatch",
		Name:      "inference_errors_total",
		Help:      "Inference invocations that failed and were skipped",
	}, []string{"camera_id"})

	InferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sitewatch",
		Name:      "inference_duration_seconds",
		Help:      "Duration of one detection inference call",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitewatch",
		Name:      "reconnect_attempts_total",
		Help:      "Connection attempts against a camera's primary source",
	}, []string{"camera_id"})

	WorkerStates = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sitewatch",
		Name:      "worker_state",
		Help:      "Per-camera worker state (1 for the current state, 0 otherwise)",
	}, []string{"camera_id", "state"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sitewatch",
		Name:      "active_workers",
		Help:      "Number of running camera workers",
	})

	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitewatch",
		Name:      "events_emitted_total",
		Help:      "Violation events persisted and published",
	}, []string{"camera_id", "violation_type"})

	EventsDebounced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitewatch",
		Name:      "events_debounced_total",
		Help:      "Violation signals merged into an open event within the debounce window",
	}, []string{"camera_id"})

	EventSaveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sitewatch",
		Name:      "event_save_failures_total",
		Help:      "Events dropped after exhausting persistence retries",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sitewatch",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

var workerStateNames = []string{
	"starting", "connected", "reconnecting", "degraded-placeholder", "stopped", "failed",
}

// SetWorkerState flips the per-camera state gauge so exactly one state is hot.
func SetWorkerState(cameraID, state string) {
	for _, s := range workerStateNames {
		v := 0.0
		if s == state {
			v = 1.0
		}
		WorkerStates.WithLabelValues(cameraID, s).Set(v)
	}
}

// ClearWorkerState removes all state series for a camera that no longer runs.
func ClearWorkerState(cameraID string) {
	for _, s := range workerStateNames {
		WorkerStates.DeleteLabelValues(cameraID, s)
	}
}
