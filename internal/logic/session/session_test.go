package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/camsession/internal/hw/camera"
	"github.com/cjeanneret/camsession/internal/hw/sensor"
	"github.com/cjeanneret/camsession/internal/logic/dispatch"
	"github.com/cjeanneret/camsession/internal/logic/gate"
	"github.com/cjeanneret/camsession/internal/logic/geometry"
	"github.com/cjeanneret/camsession/internal/logic/record"
	"github.com/cjeanneret/camsession/internal/logic/surface"
)

const wait = 3 * time.Second

type eventLog struct {
	NopListener

	mu     sync.Mutex
	events []string

	ready    chan CameraInfo
	mount    chan string
	pictures chan Picture
	recorded chan record.Outcome
}

func newEventLog() *eventLog {
	return &eventLog{
		ready:    make(chan CameraInfo, 16),
		mount:    make(chan string, 16),
		pictures: make(chan Picture, 16),
		recorded: make(chan record.Outcome, 16),
	}
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) OnMountError(msg string)           { l.add("mountError"); l.mount <- msg }
func (l *eventLog) OnCameraReady(info CameraInfo)     { l.add("cameraReady"); l.ready <- info }
func (l *eventLog) OnPictureTaken(p Picture)          { l.add("pictureTaken"); l.pictures <- p }
func (l *eventLog) OnRecordingStarted(record.Session) { l.add("recordingStarted") }
func (l *eventLog) OnRecordingEnded()                 { l.add("recordingEnded") }
func (l *eventLog) OnVideoRecorded(o record.Outcome) {
	l.add("videoRecorded")
	l.recorded <- o
}

func testDriver(cfg sensor.VirtualConfig) sensor.Driver {
	cfg.FPS = 200
	if len(cfg.PreviewSizes) == 0 {
		cfg.PreviewSizes = []geometry.Size{{Width: 32, Height: 24}, {Width: 64, Height: 48}, {Width: 64, Height: 36}}
	}
	if len(cfg.PictureSizes) == 0 {
		cfg.PictureSizes = []geometry.Size{{Width: 64, Height: 48}, {Width: 128, Height: 96}}
	}
	return sensor.NewVirtual(cfg)
}

type harness struct {
	s    *Session
	surf *surface.Surface
	reg  *dispatch.Dispatcher
	log  *eventLog
	ctx  context.Context
}

func newHarness(t *testing.T, backend string, vcfg sensor.VirtualConfig, sized bool) *harness {
	t.Helper()
	b, err := camera.NewBackend(backend, testDriver(vcfg))
	require.NoError(t, err)

	h := &harness{
		surf: surface.New(),
		reg:  dispatch.New(),
		log:  newEventLog(),
		ctx:  context.Background(),
	}
	if sized {
		h.surf.SetSize(24, 32)
	}
	h.s = New(Config{
		Backend:            b,
		Parameters:         DefaultParameters(),
		ConvergenceTimeout: time.Second,
		Listener:           h.log,
	}, h.surf, h.reg)
	t.Cleanup(func() { _ = h.s.Close() })
	return h
}

func (h *harness) start(t *testing.T) CameraInfo {
	t.Helper()
	require.NoError(t, h.s.Start(h.ctx))
	select {
	case info := <-h.log.ready:
		return info
	case <-time.After(wait):
		t.Fatal("camera never became ready")
		return CameraInfo{}
	}
}

func TestSession_OpensWhenSurfaceIsReady(t *testing.T) {
	h := newHarness(t, "request", sensor.VirtualConfig{}, false)
	require.NoError(t, h.s.Start(h.ctx))

	_, err := h.s.Info(h.ctx)
	assert.ErrorIs(t, err, camera.ErrNotOpen)

	h.surf.SetSize(24, 32)
	select {
	case info := <-h.log.ready:
		assert.Equal(t, "request", info.Backend)
		assert.Equal(t, "0", info.Descriptor.ID)
		assert.Equal(t, geometry.NewAspectRatio(4, 3), info.Ratio)
		assert.Equal(t, geometry.NewSize(32, 24), info.Preview)
		assert.Equal(t, geometry.NewSize(128, 96), info.Picture)
	case <-time.After(wait):
		t.Fatal("camera never became ready")
	}

	h.surf.Destroy()
	assert.Eventually(t, func() bool {
		_, err := h.s.Info(h.ctx)
		return errors.Is(err, camera.ErrNotOpen)
	}, wait, 10*time.Millisecond)
}

func TestSession_MountErrorThenRetry(t *testing.T) {
	h := newHarness(t, "legacy", sensor.VirtualConfig{FailOpen: []string{"0"}}, true)

	err := h.s.Start(h.ctx)
	var mountErr *camera.MountError
	require.ErrorAs(t, err, &mountErr)
	select {
	case msg := <-h.log.mount:
		assert.Contains(t, msg, "cannot open camera 0")
	case <-time.After(wait):
		t.Fatal("no mount error event")
	}
	_, err = h.s.Info(h.ctx)
	assert.ErrorIs(t, err, camera.ErrNotOpen)

	require.NoError(t, h.s.SetFacing(h.ctx, geometry.FacingFront))
	info := h.start(t)
	assert.Equal(t, "1", info.Descriptor.ID)
	assert.Equal(t, geometry.FacingFront, info.Descriptor.Facing)
}

func TestSession_TakePicture(t *testing.T) {
	for _, backend := range []string{"legacy", "request"} {
		t.Run(backend, func(t *testing.T) {
			h := newHarness(t, backend, sensor.VirtualConfig{}, true)
			h.start(t)

			pic, err := h.s.TakePicture(h.ctx, CaptureRequest{Quality: 0.8})
			require.NoError(t, err)
			assert.NotEmpty(t, pic.JPEG)
			assert.NotEmpty(t, pic.ID)
			assert.Equal(t, 128, pic.Width)
			assert.Equal(t, 96, pic.Height)
			assert.Equal(t, 90, pic.Orientation, "back sensor at 90° with the device upright")
			assert.Equal(t, gate.Idle, h.s.Gate().Mode())

			select {
			case got := <-h.log.pictures:
				assert.Equal(t, pic.ID, got.ID)
			case <-time.After(wait):
				t.Fatal("no pictureTaken event")
			}
		})
	}
}

func TestSession_CaptureOrientation(t *testing.T) {
	h := newHarness(t, "request", sensor.VirtualConfig{}, true)
	h.start(t)

	h.s.SetDeviceRotation(90)
	pic, err := h.s.TakePicture(h.ctx, CaptureRequest{FastMode: true})
	require.NoError(t, err)
	assert.Equal(t, 180, pic.Orientation)

	override := 270
	pic, err = h.s.TakePicture(h.ctx, CaptureRequest{FastMode: true, Orientation: &override})
	require.NoError(t, err)
	assert.Equal(t, 0, pic.Orientation)

	require.NoError(t, h.s.SetOrientationLock(h.ctx, 0))
	pic, err = h.s.TakePicture(h.ctx, CaptureRequest{FastMode: true})
	require.NoError(t, err)
	assert.Equal(t, 90, pic.Orientation)
}

func TestSession_PauseAfterCapture(t *testing.T) {
	h := newHarness(t, "request", sensor.VirtualConfig{}, true)
	h.start(t)

	_, err := h.s.TakePicture(h.ctx, CaptureRequest{PauseAfterCapture: true})
	require.NoError(t, err)
	paused, err := h.s.PreviewPaused(h.ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	_, err = h.s.TakePicture(h.ctx, CaptureRequest{})
	assert.ErrorIs(t, err, camera.ErrPreviewPaused)
	assert.ErrorIs(t, err, camera.ErrCaptureRejected)

	require.NoError(t, h.s.ResumePreview(h.ctx))
	_, err = h.s.TakePicture(h.ctx, CaptureRequest{FastMode: true})
	assert.NoError(t, err)
}

func TestSession_RecordingExcludesCapture(t *testing.T) {
	h := newHarness(t, "request", sensor.VirtualConfig{}, true)
	h.start(t)
	path := filepath.Join(t.TempDir(), "clip.mjpeg")

	require.NoError(t, h.s.StartRecording(h.ctx, record.Session{Path: path}))
	active, ok := h.s.Recording()
	require.True(t, ok)
	assert.Equal(t, 90, active.LockedOrientation)

	_, err := h.s.TakePicture(h.ctx, CaptureRequest{})
	assert.ErrorIs(t, err, camera.ErrRecordingInProgress)
	err = h.s.StartRecording(h.ctx, record.Session{Path: path})
	assert.ErrorIs(t, err, camera.ErrAlreadyRecording)

	// Rotating the device does not change a running recording.
	h.s.SetDeviceRotation(180)
	time.Sleep(50 * time.Millisecond)

	out, err := h.s.StopRecording(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, path, out.Path)
	assert.Equal(t, 90, out.VideoOrientation)
	assert.Equal(t, 0, out.DeviceOrientation)
	assert.Positive(t, out.Frames)
	assert.Equal(t, []string{"cameraReady", "recordingStarted", "recordingEnded", "videoRecorded"}, h.log.list())

	_, err = h.s.TakePicture(h.ctx, CaptureRequest{FastMode: true})
	assert.NoError(t, err, "capture works once the recording ended")
}

func TestSession_RecordingStopsAtLimit(t *testing.T) {
	h := newHarness(t, "request", sensor.VirtualConfig{}, true)
	h.start(t)

	path := filepath.Join(t.TempDir(), "short.mjpeg")
	require.NoError(t, h.s.StartRecording(h.ctx, record.Session{Path: path, MaxDuration: 50 * time.Millisecond}))

	select {
	case out := <-h.log.recorded:
		assert.Equal(t, path, out.Path)
		assert.Equal(t, "max duration reached", out.Reason)
	case <-time.After(wait):
		t.Fatal("recording did not stop on its own")
	}
	assert.Eventually(t, func() bool { return h.s.Gate().Mode() == gate.Idle }, wait, 10*time.Millisecond)
	_, ok := h.s.Recording()
	assert.False(t, ok)
}

func TestSession_CapabilityQueries(t *testing.T) {
	h := newHarness(t, "request", sensor.VirtualConfig{}, true)

	_, err := h.s.SupportedAspectRatios(h.ctx)
	assert.ErrorIs(t, err, camera.ErrNotOpen)

	h.start(t)
	ratios, err := h.s.SupportedAspectRatios(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, []geometry.AspectRatio{geometry.NewAspectRatio(4, 3)}, ratios)

	sizes, err := h.s.SupportedPictureSizes(h.ctx, geometry.NewAspectRatio(4, 3))
	require.NoError(t, err)
	assert.Equal(t, []geometry.Size{{Width: 64, Height: 48}, {Width: 128, Height: 96}}, sizes)

	fps, err := h.s.SupportedPreviewFPSRanges(h.ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, fps)
}

func TestSession_AspectRatioFallback(t *testing.T) {
	h := newHarness(t, "request", sensor.VirtualConfig{}, true)
	h.start(t)

	require.NoError(t, h.s.SetAspectRatio(h.ctx, geometry.NewAspectRatio(16, 9)))
	info, err := h.s.Info(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, geometry.NewAspectRatio(4, 3), info.Ratio)

	p, err := h.s.Parameters(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, geometry.NewAspectRatio(16, 9), p.AspectRatio, "the request is kept for the next device")
}

func TestSession_SettersAreIdempotent(t *testing.T) {
	h := newHarness(t, "legacy", sensor.VirtualConfig{}, true)
	h.start(t)

	require.NoError(t, h.s.SetZoom(h.ctx, 0.5))
	dev := h.s.mgr.Device().(*camera.LegacyDevice)
	assert.Equal(t, 2.5, dev.ZoomRatio())

	// Reset the device behind the session's back: an unchanged value
	// must not be reapplied.
	ed := dev.Edit()
	ed.SetZoom(0)
	require.NoError(t, ed.Commit())
	require.NoError(t, h.s.SetZoom(h.ctx, 0.5))
	assert.Equal(t, 1.0, dev.ZoomRatio())

	require.NoError(t, h.s.SetZoom(h.ctx, 0.25))
	assert.Equal(t, 1.75, dev.ZoomRatio())
}

func TestSession_SurfaceChangeDeferredWhileRecording(t *testing.T) {
	h := newHarness(t, "request", sensor.VirtualConfig{}, true)
	info := h.start(t)
	assert.Equal(t, geometry.NewSize(32, 24), info.Preview)

	require.NoError(t, h.s.StartRecording(h.ctx, record.Session{Path: filepath.Join(t.TempDir(), "a.mjpeg")}))
	h.surf.SetSize(48, 64)

	info, err := h.s.Info(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, geometry.NewSize(32, 24), info.Preview, "not applied during the recording")

	_, err = h.s.StopRecording(h.ctx)
	require.NoError(t, err)
	info, err = h.s.Info(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, geometry.NewSize(64, 48), info.Preview)
}

func TestSession_FramesReachConsumers(t *testing.T) {
	h := newHarness(t, "request", sensor.VirtualConfig{}, true)
	var frames atomic.Int32
	var rotation atomic.Int32
	require.NoError(t, h.reg.Register("counter", dispatch.ConsumerFunc(func(f dispatch.Frame) {
		rotation.Store(int32(f.Rotation))
		frames.Add(1)
	})))
	h.start(t)

	assert.Eventually(t, func() bool { return frames.Load() > 3 }, wait, 5*time.Millisecond)
	assert.Equal(t, int32(90), rotation.Load())
}

func TestSession_ScanningRegistersScanner(t *testing.T) {
	h := newHarness(t, "request", sensor.VirtualConfig{}, true)
	h.start(t)

	_, ok := h.reg.Lookup(ScannerConsumer)
	assert.False(t, ok)
	require.NoError(t, h.s.SetScanning(h.ctx, true))
	_, ok = h.reg.Lookup(ScannerConsumer)
	assert.True(t, ok)
	require.NoError(t, h.s.SetScanning(h.ctx, false))
	_, ok = h.reg.Lookup(ScannerConsumer)
	assert.False(t, ok)
}

func TestSession_StopEndsRecording(t *testing.T) {
	h := newHarness(t, "request", sensor.VirtualConfig{}, true)
	h.start(t)
	require.NoError(t, h.s.StartRecording(h.ctx, record.Session{Path: filepath.Join(t.TempDir(), "a.mjpeg")}))

	require.NoError(t, h.s.Stop(h.ctx))
	select {
	case <-h.log.recorded:
	case <-time.After(wait):
		t.Fatal("no videoRecorded on stop")
	}
	assert.Equal(t, gate.Idle, h.s.Gate().Mode())

	_, err := h.s.TakePicture(h.ctx, CaptureRequest{})
	assert.ErrorIs(t, err, camera.ErrNotOpen)
}

func TestSession_ConcurrentCapturesAreExclusive(t *testing.T) {
	h := newHarness(t, "request", sensor.VirtualConfig{}, true)
	h.start(t)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.s.TakePicture(h.ctx, CaptureRequest{})
			if err == nil {
				ok.Add(1)
				return
			}
			assert.ErrorIs(t, err, camera.ErrAlreadyCapturing)
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, ok.Load(), int32(1))
	assert.Equal(t, gate.Idle, h.s.Gate().Mode())
}

// slowFocus keeps a still capture converging for about 300ms at 200fps.
var slowFocus = sensor.VirtualConfig{Simulator: sensor.SimulatorConfig{FocusFrames: 60, ExposureFrames: 2}}

type captureResult struct {
	pic Picture
	err error
}

// captureInFlight starts a capture and returns once the gate holds it.
func (h *harness) captureInFlight(t *testing.T) <-chan captureResult {
	t.Helper()
	done := make(chan captureResult, 1)
	go func() {
		pic, err := h.s.TakePicture(h.ctx, CaptureRequest{})
		done <- captureResult{pic, err}
	}()
	require.Eventually(t, func() bool { return h.s.Gate().Mode() == gate.Capturing }, wait, time.Millisecond)
	return done
}

func TestSession_SurfaceDestroyDeferredWhileCapturing(t *testing.T) {
	h := newHarness(t, "request", slowFocus, true)
	h.start(t)
	done := h.captureInFlight(t)

	h.surf.Destroy()
	_, err := h.s.Info(h.ctx)
	require.NoError(t, err, "device stays open during the capture")

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.NotEmpty(t, res.pic.JPEG)
	case <-time.After(wait):
		t.Fatal("capture never finished")
	}
	assert.Eventually(t, func() bool {
		_, err := h.s.Info(h.ctx)
		return errors.Is(err, camera.ErrNotOpen)
	}, wait, 10*time.Millisecond)
	assert.Equal(t, gate.Idle, h.s.Gate().Mode())
}

func TestSession_SurfaceResizeDeferredWhileCapturing(t *testing.T) {
	h := newHarness(t, "request", slowFocus, true)
	info := h.start(t)
	assert.Equal(t, geometry.NewSize(32, 24), info.Preview)
	done := h.captureInFlight(t)

	h.surf.SetSize(48, 64)
	info, err := h.s.Info(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, geometry.NewSize(32, 24), info.Preview, "not applied during the capture")

	select {
	case res := <-done:
		require.NoError(t, res.err)
	case <-time.After(wait):
		t.Fatal("capture never finished")
	}
	assert.Eventually(t, func() bool {
		info, err := h.s.Info(h.ctx)
		return err == nil && info.Preview == geometry.NewSize(64, 48)
	}, wait, 10*time.Millisecond)
}

func TestSession_StopFailsPendingCapture(t *testing.T) {
	h := newHarness(t, "request", slowFocus, true)
	h.start(t)
	done := h.captureInFlight(t)

	require.NoError(t, h.s.Stop(h.ctx))

	select {
	case res := <-done:
		var captureErr *camera.CaptureError
		require.ErrorAs(t, res.err, &captureErr)
		assert.ErrorIs(t, res.err, camera.ErrClosed)
	case <-time.After(wait):
		t.Fatal("pending capture was not failed by Stop")
	}
	assert.Equal(t, gate.Idle, h.s.Gate().Mode())
	_, err := h.s.Info(h.ctx)
	assert.ErrorIs(t, err, camera.ErrNotOpen)
}
