package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJPEG builds a minimal marker-framed payload; the pump only scans for
// SOI/EOI, it never decodes.
func fakeJPEG(body ...byte) []byte {
	data := []byte{0xFF, 0xD8}
	data = append(data, body...)
	return append(data, 0xFF, 0xD9)
}

func TestPumpFramesDeliversThenEndOfStream(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(fakeJPEG(0x01))
	buf.Write(fakeJPEG(0x02, 0x03))

	frames := make(chan Frame, 4)
	errs := make(chan error, 1)
	go pumpFrames(context.Background(), bufio.NewReader(&buf), frames, errs)

	first := <-frames
	assert.Equal(t, fakeJPEG(0x01), first.Data)
	second := <-frames
	assert.Equal(t, fakeJPEG(0x02, 0x03), second.Data)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrEndOfStream)
	case <-time.After(time.Second):
		t.Fatal("pump did not report end of stream")
	}
}

func TestPumpFramesEmptyPipeIsConnectFailure(t *testing.T) {
	frames := make(chan Frame, 1)
	errs := make(chan error, 1)
	go pumpFrames(context.Background(), bufio.NewReader(bytes.NewReader(nil)), frames, errs)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrConnect, "a stream that dies before the first frame is a connect failure")
	case <-time.After(time.Second):
		t.Fatal("pump did not report the dead pipe")
	}
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestPumpFramesPipeErrorIsReadFailure(t *testing.T) {
	src := &failingReader{data: fakeJPEG(0x01), err: errors.New("pipe broke")}
	frames := make(chan Frame, 1)
	errs := make(chan error, 1)
	go pumpFrames(context.Background(), bufio.NewReader(src), frames, errs)

	<-frames
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrRead)
	case <-time.After(time.Second):
		t.Fatal("pump did not report the pipe error")
	}
}

func TestNextHonorsContextDeadlineWhilePipeIsSilent(t *testing.T) {
	// An open source whose pump never produces: the stalled-pipe case.
	f := &FFmpegSource{
		frames: make(chan Frame),
		errs:   make(chan error, 1),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second, "Next must unblock on the deadline, not on the pipe")
}

func TestNextReturnsBufferedFirstFrame(t *testing.T) {
	fr := Frame{Data: fakeJPEG(0x0A), Timestamp: time.Now()}
	f := &FFmpegSource{
		frames:  make(chan Frame),
		errs:    make(chan error, 1),
		pending: &fr,
	}

	got, err := f.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fr.Data, got.Data)
}

func TestNextOnClosedSource(t *testing.T) {
	f := NewFFmpegSource(Spec{URL: "rtsp://cam.local/stream", FPS: 5})
	_, err := f.Next(context.Background())
	assert.ErrorIs(t, err, ErrRead)
}
