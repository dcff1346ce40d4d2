package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	maxFrameBytes = 10 * 1024 * 1024

	// openTimeout caps how long a network source may take to deliver its
	// first frame. ffmpeg's own socket timeouts usually fire earlier; this
	// is the ceiling for endpoints that accept the connection and stall.
	openTimeout = 15 * time.Second
)

// FFmpegSource extracts JPEG frames from a video stream using an FFmpeg
// subprocess writing an MJPEG pipe. It serves both network descriptors
// (rtsp/rtsps/http/https) and local files; file sources loop indefinitely
// so demo cameras never run out of video.
//
// A pump goroutine owns the pipe and delivers frames over a channel, so
// Next honors its context deadline even while the pipe is silent.
type FFmpegSource struct {
	spec Spec

	mu      sync.Mutex
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	frames  chan Frame
	errs    chan error
	pending *Frame
}

func NewFFmpegSource(spec Spec) *FFmpegSource {
	return &FFmpegSource{spec: spec}
}

func (f *FFmpegSource) FPS() float64 { return f.spec.FPS }

func (f *FFmpegSource) isNetwork() bool {
	u := f.spec.URL
	return strings.HasPrefix(u, "rtsp://") || strings.HasPrefix(u, "rtsps://") ||
		strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

// Open starts the FFmpeg process and blocks until it delivers the first
// frame, so a success really means the stream is producing video. A process
// that exits or stalls before the first frame maps to ErrConnect.
func (f *FFmpegSource) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cmd != nil {
		return nil
	}

	procCtx, cancel := context.WithCancel(ctx)

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
	}

	u := f.spec.URL
	switch {
	case strings.HasPrefix(u, "rtsp://"), strings.HasPrefix(u, "rtsps://"):
		args = append(args,
			"-rtsp_transport", "tcp",
			"-stimeout", "5000000", // 5s RTSP socket timeout (microseconds)
			"-timeout", "5000000",
		)
	case strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "https://"):
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-timeout", "10000000",
		)
	default:
		// local file: read at native rate, loop forever when requested
		args = append(args, "-re")
		if f.spec.Loop {
			args = append(args, "-stream_loop", "-1")
		}
	}

	vf := fmt.Sprintf("fps=%g", f.spec.FPS)
	if f.spec.Width > 0 {
		vf += fmt.Sprintf(",scale=%d:-1", f.spec.Width)
	}

	args = append(args,
		"-i", u,
		"-vf", vf,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)

	cmd := exec.CommandContext(procCtx, "ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("%w: ffmpeg stdout pipe: %v", ErrConnect, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("%w: ffmpeg stderr pipe: %v", ErrConnect, err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%w: start ffmpeg: %v", ErrConnect, err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Debug("ffmpeg stderr", "url", u, "output", scanner.Text())
		}
	}()

	frames := make(chan Frame)
	errs := make(chan error, 1)
	go pumpFrames(procCtx, bufio.NewReaderSize(stdout, 512*1024), frames, errs)

	var deadline <-chan time.Time
	if f.isNetwork() {
		deadline = time.After(openTimeout)
	}

	teardown := func() {
		cancel()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
	}

	select {
	case <-ctx.Done():
		teardown()
		return ctx.Err()
	case <-deadline:
		teardown()
		return fmt.Errorf("%w: no frames within %s", ErrConnect, openTimeout)
	case err := <-errs:
		teardown()
		if errors.Is(err, ErrConnect) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrConnect, err)
	case fr := <-frames:
		f.cmd = cmd
		f.cancel = cancel
		f.frames = frames
		f.errs = errs
		f.pending = &fr
		return nil
	}
}

// Next returns the next frame from the pump. On a clean end of the stream
// it returns ErrEndOfStream; any other pipe failure maps to ErrRead.
// Cancelling or timing out the context returns immediately even while the
// pipe is open but silent.
func (f *FFmpegSource) Next(ctx context.Context) (Frame, error) {
	f.mu.Lock()
	frames, errs := f.frames, f.errs
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()

	if frames == nil {
		return Frame{}, fmt.Errorf("%w: source not open", ErrRead)
	}
	if pending != nil {
		return *pending, nil
	}

	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case err := <-errs:
		return Frame{}, err
	case fr := <-frames:
		return fr, nil
	}
}

// Close terminates the FFmpeg process and releases the pipe. The pump
// goroutine exits on the pipe EOF that follows the kill.
func (f *FFmpegSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		f.cancel()
	}
	if f.cmd != nil && f.cmd.Process != nil {
		_ = f.cmd.Process.Kill()
		_ = f.cmd.Wait()
	}
	f.cmd = nil
	f.cancel = nil
	f.frames = nil
	f.errs = nil
	f.pending = nil
	return nil
}

// pumpFrames reads JPEG frames off the pipe and delivers them on frames
// until the stream ends or the context is cancelled. Exactly one error is
// sent on errs before returning: ErrConnect when the stream died before
// producing any frame, ErrEndOfStream on a clean end afterwards, ErrRead
// for everything else.
func pumpFrames(ctx context.Context, r *bufio.Reader, frames chan<- Frame, errs chan<- error) {
	framesRead := 0
	fail := func(err error) {
		switch {
		case err == io.EOF && framesRead == 0:
			errs <- fmt.Errorf("%w: no frames received from ffmpeg", ErrConnect)
		case err == io.EOF:
			errs <- ErrEndOfStream
		default:
			errs <- fmt.Errorf("%w: %v", ErrRead, err)
		}
	}

	for {
		if err := findJPEGStart(r); err != nil {
			fail(err)
			return
		}
		data, err := readUntilJPEGEnd(r)
		if err != nil {
			if err == io.EOF && framesRead > 0 {
				errs <- ErrEndOfStream // stream ended mid-frame
				return
			}
			fail(err)
			return
		}
		framesRead++

		select {
		case frames <- Frame{Data: data, Timestamp: time.Now()}:
		case <-ctx.Done():
			return
		}
	}
}

// findJPEGStart consumes bytes until the JPEG SOI marker (FF D8).
func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

// readUntilJPEGEnd reads the frame body up to the EOI marker (FF D9).
func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)

		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}

		if len(data) > maxFrameBytes {
			return nil, fmt.Errorf("jpeg frame exceeds %d bytes", maxFrameBytes)
		}
	}
}
