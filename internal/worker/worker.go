package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/your-org/sitewatch/internal/capture"
	"github.com/your-org/sitewatch/internal/config"
	"github.com/your-org/sitewatch/internal/creds"
	"github.com/your-org/sitewatch/internal/models"
	"github.com/your-org/sitewatch/internal/observability"
	"github.com/your-org/sitewatch/internal/vision"
)

// FramePublisher hands annotated frames to the distribution layer. The call
// must never block the capture loop; slow consumers cost dropped frames,
// not latency.
type FramePublisher interface {
	PublishFrame(frame models.AnnotatedFrame)
}

// Options wires one camera worker. NewSource is swappable for tests; nil
// selects the ffmpeg/pattern factory.
type Options struct {
	Camera    models.CameraConfig
	Detector  vision.Detector
	Publisher FramePublisher
	Resolver  creds.Resolver
	Events    *EventProcessor // optional

	Capture     config.CaptureConfig
	JPEGQuality int
	DefaultFPS  float64

	NewSource func(capture.Spec) capture.Source
	OnState   func(models.WorkerState)
}

// Worker runs the capture-infer-annotate-publish loop for one camera. One
// goroutine owns the loop; inference runs in a side goroutine with at most
// one invocation in flight. A worker is single-generation: configuration
// changes replace it, they never mutate it.
type Worker struct {
	opts Options
	cam  models.CameraConfig
	log  *slog.Logger

	state atomic.Value // models.WorkerState

	cache         ResultCache
	sequence      uint64
	inferInFlight atomic.Bool
	lastInferNano atomic.Int64
}

func New(opts Options) *Worker {
	if opts.NewSource == nil {
		opts.NewSource = capture.New
	}
	w := &Worker{
		opts: opts,
		cam:  opts.Camera,
		log: slog.With(
			"camera_id", opts.Camera.ID.String(),
			"camera", opts.Camera.Name,
		),
	}
	w.state.Store(models.StateStarting)
	return w
}

// State returns the externally observable worker state.
func (w *Worker) State() models.WorkerState {
	return w.state.Load().(models.WorkerState)
}

// Camera returns the immutable config snapshot this worker runs.
func (w *Worker) Camera() models.CameraConfig {
	return w.cam
}

func (w *Worker) setState(s models.WorkerState) {
	if w.state.Swap(s) == s {
		return
	}
	observability.SetWorkerState(w.cam.ID.String(), string(s))
	w.log.Info("worker state changed", "state", s)
	if w.opts.OnState != nil {
		w.opts.OnState(s)
	}
}

// Run executes the worker until the context is cancelled. It always leaves
// the worker in a terminal state (stopped or failed) before returning.
func (w *Worker) Run(ctx context.Context) {
	defer func() {
		// Failed is terminal; everything else ends as a clean stop.
		if w.State() != models.StateFailed {
			w.setState(models.StateStopped)
		}
	}()

	w.setState(models.StateStarting)

	if err := w.cam.Validate(); err != nil {
		w.log.Error("camera configuration rejected", "error", err)
		w.setState(models.StateFailed)
		return
	}

	primaryURL, err := w.resolveURL()
	if err != nil {
		w.log.Error("credential resolution failed", "error", err)
		w.setState(models.StateFailed)
		return
	}

	if w.cam.UsePlaceholder || w.cam.SourceType == models.SourceTypePattern {
		w.servePlaceholder(ctx)
		return
	}

	w.runPrimary(ctx, primaryURL)
}

// resolveURL decrypts credentials and injects them into the source URL.
// File and pattern sources carry no credentials.
func (w *Worker) resolveURL() (string, error) {
	if w.cam.CredentialsEnc == "" || w.opts.Resolver == nil {
		return w.cam.SourceURL, nil
	}
	switch w.cam.SourceType {
	case models.SourceTypeRTSP, models.SourceTypeHTTP:
	default:
		return w.cam.SourceURL, nil
	}

	user, pass, err := w.opts.Resolver.Resolve(w.cam.CredentialsEnc)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrConfig, err)
	}
	return creds.BuildURL(w.cam.SourceURL, user, pass)
}

func (w *Worker) primarySpec(url string) capture.Spec {
	return capture.Spec{
		URL:  url,
		Loop: w.cam.SourceType == models.SourceTypeFile,
		FPS:  w.streamFPS(),
	}
}

func (w *Worker) placeholderSpec() capture.Spec {
	return capture.Spec{
		URL:           w.cam.PlaceholderPath,
		Loop:          true,
		FPS:           w.streamFPS(),
		PatternWidth:  pickDim(w.cam.InferenceWidth, 640),
		PatternHeight: pickDim(w.cam.InferenceHeight, 480),
		PatternLabel:  w.cam.Name,
	}
}

func (w *Worker) streamFPS() float64 {
	if w.cam.StreamFPS > 0 {
		return w.cam.StreamFPS
	}
	return w.opts.DefaultFPS
}

// runPrimary owns the reconnect loop: episodes of exponential backoff, and
// on exhaustion either degraded placeholder service or endless capped
// retries when no placeholder exists.
func (w *Worker) runPrimary(ctx context.Context, url string) {
	spec := w.primarySpec(url)
	backoff := &capture.Backoff{
		Base:       w.opts.Capture.BaseDelay,
		Max:        w.opts.Capture.MaxDelay,
		MaxRetries: w.opts.Capture.MaxRetries,
	}

	for ctx.Err() == nil {
		src, connected := w.connectEpisode(ctx, spec, backoff)
		if ctx.Err() != nil {
			return
		}

		if !connected {
			if !w.fallback(ctx, spec) {
				return
			}
			backoff.Reset()
			continue
		}

		w.setState(models.StateConnected)

		reason := w.serve(ctx, src)
		src.Close()

		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(reason, capture.ErrEndOfStream):
			// Looping file sources restart immediately.
			backoff.Reset()
			w.log.Debug("stream ended, reopening")
		case errors.Is(reason, capture.ErrConnect):
			// Opened but never delivered a frame. That is still a failed
			// connect, charged against the current episode so a half-dead
			// endpoint exhausts it instead of resetting it forever.
			w.setState(models.StateReconnecting)
			delay, ok := backoff.Next()
			if !ok {
				w.log.Error("connection attempts exhausted",
					"attempts", backoff.Attempt(), "error", reason)
				if !w.fallback(ctx, spec) {
					return
				}
				backoff.Reset()
				continue
			}
			w.log.Warn("stream produced no frames, backing off",
				"attempt", backoff.Attempt(), "delay", delay, "error", reason)
			if !sleepCtx(ctx, delay) {
				return
			}
		default:
			backoff.Reset()
			w.setState(models.StateReconnecting)
			w.log.Warn("stream lost, reconnecting", "error", reason)
		}
	}
}

// fallback handles an exhausted episode: degraded placeholder service when
// the camera has one, otherwise one capped sleep before the next episode.
// Returns false when the context ended.
func (w *Worker) fallback(ctx context.Context, primary capture.Spec) bool {
	if w.cam.PlaceholderPath != "" {
		return w.serveDegraded(ctx, primary)
	}
	return sleepCtx(ctx, w.opts.Capture.MaxDelay)
}

// connectEpisode runs one backoff episode. Returns an open source, or
// (nil, false) when the episode's retries are exhausted.
func (w *Worker) connectEpisode(ctx context.Context, spec capture.Spec, backoff *capture.Backoff) (capture.Source, bool) {
	for {
		observability.ReconnectAttempts.WithLabelValues(w.cam.ID.String()).Inc()

		src := w.opts.NewSource(spec)
		err := src.Open(ctx)
		if err == nil {
			return src, true
		}
		src.Close()
		w.setState(models.StateReconnecting)

		delay, ok := backoff.Next()
		if !ok {
			w.log.Error("connection attempts exhausted",
				"attempts", backoff.Attempt(), "error", err)
			return nil, false
		}
		w.log.Warn("connect failed, backing off",
			"attempt", backoff.Attempt(), "delay", delay, "error", err)
		if !sleepCtx(ctx, delay) {
			return nil, false
		}
	}
}

// servePlaceholder serves the fallback source directly, for demo cameras
// and pattern sources. The placeholder never triggers reconnect churn; if
// it fails it is simply reopened.
func (w *Worker) servePlaceholder(ctx context.Context) {
	spec := w.placeholderSpec()
	for ctx.Err() == nil {
		src := w.opts.NewSource(spec)
		if err := src.Open(ctx); err != nil {
			w.log.Error("placeholder open failed", "error", err)
			if !sleepCtx(ctx, w.opts.Capture.BaseDelay) {
				return
			}
			continue
		}
		w.setState(models.StateDegraded)
		w.serve(ctx, src)
		src.Close()
	}
}

// serveDegraded serves the placeholder while probing the primary in the
// background. Returns true when the primary recovered (caller reconnects),
// false when the context ended.
func (w *Worker) serveDegraded(ctx context.Context, primary capture.Spec) bool {
	probeCtx, stopProbe := context.WithCancel(ctx)
	defer stopProbe()

	recovered := make(chan struct{})
	go w.probePrimary(probeCtx, primary, recovered)

	spec := w.placeholderSpec()
	for ctx.Err() == nil {
		src := w.opts.NewSource(spec)
		if err := src.Open(ctx); err != nil {
			w.log.Error("placeholder open failed", "error", err)
			if !sleepCtx(ctx, w.opts.Capture.BaseDelay) {
				return false
			}
			continue
		}
		w.setState(models.StateDegraded)

		w.serveUntil(ctx, src, recovered)
		src.Close()

		select {
		case <-recovered:
			w.log.Info("primary source recovered, leaving degraded mode")
			return true
		default:
			if ctx.Err() != nil {
				return false
			}
			// Placeholder itself hiccuped; reopen it.
		}
	}
	return false
}

// probePrimary retries the primary source at the capped interval until it
// opens or the context ends. The probe only checks reachability; the
// reconnect loop reopens the source properly afterwards.
func (w *Worker) probePrimary(ctx context.Context, spec capture.Spec, recovered chan<- struct{}) {
	for {
		if !sleepCtx(ctx, w.opts.Capture.MaxDelay) {
			return
		}
		observability.ReconnectAttempts.WithLabelValues(w.cam.ID.String()).Inc()
		src := w.opts.NewSource(spec)
		err := src.Open(ctx)
		src.Close()
		if err != nil {
			w.log.Debug("primary probe failed", "error", err)
			continue
		}
		close(recovered)
		return
	}
}

// serve pumps frames from the source until it fails or the context ends.
// Returns the error that ended the loop.
func (w *Worker) serve(ctx context.Context, src capture.Source) error {
	return w.serveUntil(ctx, src, nil)
}

func (w *Worker) serveUntil(ctx context.Context, src capture.Source, stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		frame, err := w.nextFrame(ctx, src)
		if err != nil {
			return err
		}

		img, err := vision.DecodeJPEG(frame.Data)
		if err != nil {
			w.log.Warn("undecodable frame skipped", "error", err)
			continue
		}

		seq := w.sequence
		w.sequence++

		w.maybeInfer(ctx, img, seq)

		if err := w.publish(frame, img, seq); err != nil {
			w.log.Warn("frame publish failed", "error", err)
		}
	}
}

// nextFrame reads with the configured timeout so a silently dead TCP
// session surfaces as a read failure instead of a hung worker.
func (w *Worker) nextFrame(ctx context.Context, src capture.Source) (capture.Frame, error) {
	readCtx := ctx
	var cancel context.CancelFunc
	if t := w.opts.Capture.ReadTimeout; t > 0 {
		readCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	frame, err := src.Next(readCtx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return frame, fmt.Errorf("%w: read timed out", capture.ErrRead)
	}
	return frame, err
}

// maybeInfer starts one background inference if the cadence gate is open
// and no inference is already running. Ticks that arrive while one is in
// flight are skipped outright, never queued.
func (w *Worker) maybeInfer(ctx context.Context, img image.Image, seq uint64) {
	if !w.cam.InferenceEnabled || w.opts.Detector == nil {
		return
	}

	interval := time.Duration(float64(time.Second) / w.cam.TargetFPS)
	last := time.Unix(0, w.lastInferNano.Load())
	if time.Since(last) < interval {
		return
	}

	if !w.inferInFlight.CompareAndSwap(false, true) {
		return
	}
	w.lastInferNano.Store(time.Now().UnixNano())

	go func() {
		defer w.inferInFlight.Store(false)

		// Inference runs on a downscaled copy; boxes are mapped back to
		// the frame's own pixel space so the annotator needs no transform.
		small, scale := vision.ResizeToWidth(img, w.cam.InferenceWidth)
		dets, err := w.opts.Detector.Detect(small, w.cam.ConfThreshold)
		if err != nil {
			observability.InferenceErrors.WithLabelValues(w.cam.ID.String()).Inc()
			w.log.Warn("inference failed, keeping previous result", "error", err)
			return
		}
		observability.InferenceRuns.WithLabelValues(w.cam.ID.String()).Inc()

		// Guard against detectors that ignore the threshold argument.
		dets = vision.FilterByConfidence(dets, w.cam.ConfThreshold)

		if scale != 1 {
			for i := range dets {
				for j := 0; j < 4; j++ {
					dets[i].Box[j] /= scale
				}
			}
		}

		bounds := img.Bounds()
		res := &Result{
			Detections: dets,
			ComputedAt: time.Now(),
			Sequence:   seq,
			Width:      bounds.Dx(),
			Height:     bounds.Dy(),
		}
		if !w.cache.Store(res) {
			return
		}

		if w.opts.Events != nil {
			w.opts.Events.Process(ctx, w.cam, img, res)
		}
	}()
}

// publish annotates the frame with the cached result and hands it to the
// distribution layer.
func (w *Worker) publish(frame capture.Frame, img image.Image, seq uint64) error {
	var dets []vision.Detection
	if res := w.cache.Load(); res != nil {
		bounds := img.Bounds()
		// Boxes from a different resolution would land in the wrong place.
		if res.Width == bounds.Dx() && res.Height == bounds.Dy() {
			dets = res.Detections
		}
	}

	annotated := vision.Annotate(img, dets, vision.AnnotateParams{
		Mode:             w.cam.Mode,
		Polygon:          w.cam.ZonePolygon,
		HeadFraction:     vision.DefaultHeadFraction,
		OverlapThreshold: vision.DefaultOverlapThreshold,
		Watermark:        w.watermark(),
	})

	data, err := vision.EncodeJPEG(annotated, w.opts.JPEGQuality)
	if err != nil {
		return err
	}

	w.opts.Publisher.PublishFrame(models.AnnotatedFrame{
		CameraID:   w.cam.ID,
		Sequence:   seq,
		Timestamp:  frame.Timestamp,
		State:      w.State(),
		FPS:        w.streamFPS(),
		Detections: len(dets),
		Data:       data,
	})
	observability.FramesPublished.WithLabelValues(w.cam.ID.String()).Inc()
	return nil
}

func (w *Worker) watermark() string {
	if w.State() == models.StateDegraded {
		return "PLACEHOLDER"
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func pickDim(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
