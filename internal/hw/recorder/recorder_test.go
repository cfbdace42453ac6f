package recorder

import (
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/camsession/internal/hw/sensor"
)

func testFrame(seq uint64, ts time.Time) sensor.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	return sensor.Frame{
		Data:      sensor.EncodeNV21(img),
		Width:     8,
		Height:    8,
		Format:    sensor.FormatNV21,
		Timestamp: ts,
		Seq:       seq,
	}
}

func TestRecorder_WritesFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "clip.mjpeg")
	r := New()
	require.NoError(t, r.Start(Config{Path: path}))
	assert.True(t, r.Running())

	t0 := time.Unix(1000, 0)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.WriteFrame(testFrame(uint64(i), t0.Add(time.Duration(i)*100*time.Millisecond))))
	}
	res, err := r.Stop()
	require.NoError(t, err)
	assert.False(t, r.Running())

	assert.Equal(t, path, res.Path)
	assert.Equal(t, 3, res.Frames)
	assert.Equal(t, 200*time.Millisecond, res.Duration)
	assert.Equal(t, ReasonStopped, res.Reason)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, res.Bytes, info.Size())
}

func TestRecorder_UnsupportedCodec(t *testing.T) {
	r := New()
	err := r.Start(Config{Path: filepath.Join(t.TempDir(), "x.mp4"), Codec: "h264"})
	assert.ErrorIs(t, err, ErrUnsupportedCodec)
	assert.False(t, r.Running())
}

func TestRecorder_NotRunning(t *testing.T) {
	r := New()
	assert.ErrorIs(t, r.WriteFrame(testFrame(0, time.Now())), ErrNotRecording)
	assert.ErrorIs(t, r.Pause(), ErrNotRecording)
	_, err := r.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestRecorder_MaxDuration(t *testing.T) {
	limits := make(chan Reason, 1)
	r := New()
	require.NoError(t, r.Start(Config{
		Path:        filepath.Join(t.TempDir(), "d.mjpeg"),
		MaxDuration: 250 * time.Millisecond,
		OnLimit:     func(reason Reason) { limits <- reason },
	}))

	t0 := time.Unix(1000, 0)
	for i := 0; i < 6; i++ {
		require.NoError(t, r.WriteFrame(testFrame(uint64(i), t0.Add(time.Duration(i)*100*time.Millisecond))))
	}

	select {
	case reason := <-limits:
		assert.Equal(t, ReasonMaxDuration, reason)
	case <-time.After(time.Second):
		t.Fatal("limit callback not called")
	}

	res, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, 3, res.Frames)
	assert.Equal(t, ReasonMaxDuration, res.Reason)
}

func TestRecorder_MaxFileSize(t *testing.T) {
	one, err := testFrame(0, time.Now()).JPEG(85)
	require.NoError(t, err)

	r := New()
	require.NoError(t, r.Start(Config{
		Path:        filepath.Join(t.TempDir(), "s.mjpeg"),
		MaxFileSize: int64(len(one))*2 + 1,
	}))
	t0 := time.Unix(1000, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, r.WriteFrame(testFrame(uint64(i), t0.Add(time.Duration(i)*time.Millisecond))))
	}
	res, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, 2, res.Frames)
	assert.Equal(t, ReasonMaxFileSize, res.Reason)
}

func TestRecorder_PauseExcludesGap(t *testing.T) {
	r := New()
	require.NoError(t, r.Start(Config{Path: filepath.Join(t.TempDir(), "p.mjpeg")}))

	t0 := time.Unix(1000, 0)
	require.NoError(t, r.WriteFrame(testFrame(0, t0)))
	require.NoError(t, r.WriteFrame(testFrame(1, t0.Add(100*time.Millisecond))))
	require.NoError(t, r.Pause())
	require.NoError(t, r.WriteFrame(testFrame(2, t0.Add(5*time.Second))))
	require.NoError(t, r.Resume())
	require.NoError(t, r.WriteFrame(testFrame(3, t0.Add(10*time.Second))))
	require.NoError(t, r.WriteFrame(testFrame(4, t0.Add(10*time.Second+100*time.Millisecond))))

	res, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, 4, res.Frames)
	assert.Equal(t, 200*time.Millisecond, res.Duration)
}

func TestRecorder_FPSThrottle(t *testing.T) {
	r := New()
	require.NoError(t, r.Start(Config{Path: filepath.Join(t.TempDir(), "f.mjpeg"), FPS: 10}))

	t0 := time.Unix(1000, 0)
	// 30 fps input for one second
	for i := 0; i < 30; i++ {
		require.NoError(t, r.WriteFrame(testFrame(uint64(i), t0.Add(time.Duration(i)*time.Second/30))))
	}
	res, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, 10, res.Frames)
}
