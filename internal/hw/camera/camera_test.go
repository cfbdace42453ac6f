package camera

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/camsession/internal/hw/gpio"
	"github.com/cjeanneret/camsession/internal/hw/recorder"
	"github.com/cjeanneret/camsession/internal/hw/sensor"
	"github.com/cjeanneret/camsession/internal/hw/torch"
	"github.com/cjeanneret/camsession/internal/logic/geometry"
)

func virtualDriver(cfg sensor.VirtualConfig) sensor.Driver {
	if cfg.FPS == 0 {
		cfg.FPS = 200
	}
	if len(cfg.PreviewSizes) == 0 {
		cfg.PreviewSizes = []geometry.Size{{Width: 32, Height: 24}, {Width: 64, Height: 48}}
	}
	if len(cfg.PictureSizes) == 0 {
		cfg.PictureSizes = []geometry.Size{{Width: 64, Height: 48}}
	}
	return sensor.NewVirtual(cfg)
}

func recorderConfig(path string) recorder.Config {
	return recorder.Config{Path: path, Quality: 80}
}

func TestSelectDescriptor(t *testing.T) {
	descs := []Descriptor{
		{ID: "0", Facing: geometry.FacingBack, Orientation: 90},
		{ID: "1", Facing: geometry.FacingFront, Orientation: 270},
	}
	backOnly := descs[:1]

	tests := []struct {
		name    string
		descs   []Descriptor
		id      string
		facing  geometry.Facing
		want    string
		wantErr bool
	}{
		{"explicit id", descs, "1", geometry.FacingBack, "1", false},
		{"unknown id", descs, "7", geometry.FacingBack, "", true},
		{"preferred facing", descs, "", geometry.FacingFront, "1", false},
		{"fallback to index 0", backOnly, "", geometry.FacingFront, "0", false},
		{"no cameras", nil, "", geometry.FacingBack, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectDescriptor(tt.descs, tt.id, tt.facing)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoDevice)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestManager_OpenFailureIsMountError(t *testing.T) {
	m := NewManager(NewLegacy(virtualDriver(sensor.VirtualConfig{FailOpen: []string{"0"}})))

	_, err := m.Open(context.Background(), Descriptor{ID: "0"})
	var mountErr *MountError
	require.ErrorAs(t, err, &mountErr)
	assert.Contains(t, mountErr.Error(), "permission denied")
	assert.Equal(t, StateClosed, m.State())
	assert.Nil(t, m.Device())

	// A different descriptor can be retried.
	dev, err := m.Open(context.Background(), Descriptor{ID: "1", Facing: geometry.FacingFront})
	require.NoError(t, err)
	assert.Equal(t, StateOpened, m.State())
	assert.Equal(t, "1", dev.Descriptor().ID)
	require.NoError(t, m.Close())
}

func TestManager_OpenClosesPrevious(t *testing.T) {
	m := NewManager(NewRequest(virtualDriver(sensor.VirtualConfig{})))
	ctx := context.Background()

	first, err := m.Open(ctx, Descriptor{ID: "0"})
	require.NoError(t, err)
	require.NoError(t, first.StartPreview(Sink{}))

	second, err := m.Open(ctx, Descriptor{ID: "1"})
	require.NoError(t, err)
	assert.False(t, first.Previewing())
	assert.ErrorIs(t, first.StartPreview(Sink{}), ErrClosed)
	assert.Same(t, second, m.Device())

	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "close is idempotent")
	assert.Equal(t, StateClosed, m.State())
}

func TestRequest_OpenHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewRequest(virtualDriver(sensor.VirtualConfig{}))
	// Either the open won the race or the context did; both leave no device behind.
	dev, err := b.Open(ctx, Descriptor{ID: "0"})
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
		return
	}
	require.NoError(t, dev.Close())
}

func TestBackends_Capabilities(t *testing.T) {
	ctx := context.Background()
	legacy, err := NewLegacy(virtualDriver(sensor.VirtualConfig{})).Open(ctx, Descriptor{ID: "0"})
	require.NoError(t, err)
	defer legacy.Close()
	request, err := NewRequest(virtualDriver(sensor.VirtualConfig{})).Open(ctx, Descriptor{ID: "0"})
	require.NoError(t, err)
	defer request.Close()

	assert.Equal(t, Capabilities{ExposureCompensation: true, Metering: true}, legacy.Capabilities())
	assert.Equal(t, Capabilities{NativeZoomRange: true, PauseRecording: true, Metering: true}, request.Capabilities())

	lc := legacy.Characteristics()
	assert.Equal(t, -12, lc.MinExposure)
	assert.Equal(t, 12, lc.MaxExposure)
	assert.False(t, lc.SupportsWhiteBalance(WBShadow))
	assert.Equal(t, []FlashMode{FlashOff}, lc.FlashModes)

	rc := request.Characteristics()
	assert.Zero(t, rc.MaxExposure)
	assert.True(t, rc.SupportsWhiteBalance(WBShadow))
	assert.Equal(t, 8.0, rc.MaxZoom)

	assert.ErrorIs(t, legacy.PauseRecording(), errors.ErrUnsupported)
}

func TestLegacy_EditMutatesParameters(t *testing.T) {
	dev, err := NewLegacy(virtualDriver(sensor.VirtualConfig{})).Open(context.Background(), Descriptor{ID: "0"})
	require.NoError(t, err)
	defer dev.Close()
	ld := dev.(*LegacyDevice)

	e := dev.Edit()
	e.SetSizes(geometry.NewSize(64, 48), geometry.NewSize(64, 48))
	e.SetRotation(90)
	e.SetFocus(true)
	e.SetFlash(FlashOff)
	e.SetExposure(40)
	e.SetZoom(0.5)
	e.SetWhiteBalance(WhiteBalanceSetting{Mode: WBCloudy, Temperature: 5000})
	e.SetScanning(true)
	assert.Equal(t, FocusModeFixed, ld.Parameters().FocusMode, "nothing applied before commit")
	require.NoError(t, e.Commit())

	p := ld.Parameters()
	assert.Equal(t, geometry.NewSize(64, 48), p.PreviewSize)
	assert.Equal(t, 90, p.Rotation)
	assert.Equal(t, FocusModeContinuous, p.FocusMode)
	assert.Equal(t, 12, p.ExposureCompensation)
	assert.Equal(t, 6, p.ZoomIndex)
	assert.Equal(t, 2.5, ld.ZoomRatio())
	assert.Equal(t, WBCloudy, p.WhiteBalance)
	assert.True(t, p.Scanning)
}

func TestRequest_EditBuildsNewRequest(t *testing.T) {
	dev, err := NewRequest(virtualDriver(sensor.VirtualConfig{})).Open(context.Background(), Descriptor{ID: "0"})
	require.NoError(t, err)
	defer dev.Close()
	rd := dev.(*RequestDevice)

	before := rd.Repeating()
	e := dev.Edit()
	e.SetZoom(1)
	e.SetFocus(true)
	gains := &Gains{R: 1.5, G: 1, B: 2}
	e.SetWhiteBalance(WhiteBalanceSetting{Gains: gains})
	require.NoError(t, e.Commit())
	gains.R = 9

	after := rd.Repeating()
	assert.Equal(t, 1.0, before.ZoomRatio())
	assert.Equal(t, 8.0, after.ZoomRatio())
	assert.True(t, after.AutoFocus())
	assert.Equal(t, 1.5, after.WhiteBalance().Gains.R, "request does not alias caller gains")
	_, hasTrigger := after.Trigger()
	assert.False(t, hasTrigger)
}

func collectResults(t *testing.T, dev Device, n int, trigger Trigger) []Result {
	t.Helper()
	results := make(chan Result, 64)
	require.NoError(t, dev.StartPreview(Sink{OnResult: func(r Result) {
		select {
		case results <- r:
		default:
		}
	}}))
	require.NoError(t, dev.Trigger(trigger))

	var got []Result
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case r := <-results:
			got = append(got, r)
		case <-timeout:
			t.Fatalf("got %d of %d results", len(got), n)
		}
	}
	return got
}

func TestLegacy_FocusCallbackOnce(t *testing.T) {
	drv := virtualDriver(sensor.VirtualConfig{Simulator: sensor.SimulatorConfig{FocusFrames: 2}})
	dev, err := NewLegacy(drv).Open(context.Background(), Descriptor{ID: "0"})
	require.NoError(t, err)
	defer dev.Close()

	got := collectResults(t, dev, 1, TriggerAFStart)
	assert.True(t, got[0].AF.Locked())
	assert.Equal(t, sensor.AENone, got[0].AE)

	time.Sleep(50 * time.Millisecond)
	ld := dev.(*LegacyDevice)
	assert.False(t, ld.afPending.Load(), "focus is reported once per trigger")
}

// plainDriver hides the metering interface of its streams.
type plainDriver struct{ sensor.Driver }

type plainStream struct{ sensor.Stream }

func (d plainDriver) Open(id string) (sensor.Stream, error) {
	s, err := d.Driver.Open(id)
	if err != nil {
		return nil, err
	}
	return plainStream{s}, nil
}

func TestLegacy_NoMeteringIgnoresTriggers(t *testing.T) {
	drv := plainDriver{virtualDriver(sensor.VirtualConfig{})}
	dev, err := NewLegacy(drv).Open(context.Background(), Descriptor{ID: "0"})
	require.NoError(t, err)
	defer dev.Close()
	assert.False(t, dev.Capabilities().Metering)

	results := make(chan Result, 8)
	require.NoError(t, dev.StartPreview(Sink{OnResult: func(r Result) { results <- r }}))
	require.NoError(t, dev.Trigger(TriggerAFStart))
	require.NoError(t, dev.Trigger(TriggerAFCancel))
	require.NoError(t, dev.Trigger(TriggerAEPrecapture))

	select {
	case r := <-results:
		t.Fatalf("unexpected result %+v without metering", r)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRequest_ReportsPartialAndComplete(t *testing.T) {
	drv := virtualDriver(sensor.VirtualConfig{Simulator: sensor.SimulatorConfig{FocusFrames: 1, ExposureFrames: 1}})
	dev, err := NewRequest(drv).Open(context.Background(), Descriptor{ID: "0"})
	require.NoError(t, err)
	defer dev.Close()

	got := collectResults(t, dev, 6, TriggerAFStart)
	for i := 0; i < len(got); i += 2 {
		assert.True(t, got[i].Partial)
		assert.False(t, got[i+1].Partial)
		assert.Equal(t, got[i].AF, got[i+1].AF)
	}
	last := got[len(got)-1]
	assert.Equal(t, sensor.AFFocusedLocked, last.AF)
	assert.Equal(t, sensor.AEConverged, last.AE)
}

func TestDevice_CaptureStillAndCloseWaits(t *testing.T) {
	dev, err := NewRequest(virtualDriver(sensor.VirtualConfig{})).Open(context.Background(), Descriptor{ID: "0"})
	require.NoError(t, err)

	e := dev.Edit()
	e.SetSizes(geometry.NewSize(32, 24), geometry.NewSize(64, 48))
	require.NoError(t, e.Commit())

	var still Still
	var stillErr error
	called := false
	require.NoError(t, dev.CaptureStill(StillRequest{Quality: 90, Rotation: 270}, func(s Still, err error) {
		time.Sleep(20 * time.Millisecond)
		still, stillErr, called = s, err, true
	}))
	require.NoError(t, dev.Close())

	assert.True(t, called, "close waits for the pending callback")
	require.NoError(t, stillErr)
	assert.Equal(t, 64, still.Width)
	assert.Equal(t, 270, still.Rotation)
	assert.NotEmpty(t, still.JPEG)

	assert.ErrorIs(t, dev.CaptureStill(StillRequest{}, func(Still, error) {}), ErrClosed)
}

func TestDevice_TorchFlashModes(t *testing.T) {
	g := gpio.NewMockDriver()
	u, err := torch.New(g, 17, time.Millisecond)
	require.NoError(t, err)
	b := NewRequest(virtualDriver(sensor.VirtualConfig{}), WithTorch(u))
	ctx := context.Background()

	front, err := b.Open(ctx, Descriptor{ID: "1", Facing: geometry.FacingFront})
	require.NoError(t, err)
	assert.Equal(t, []FlashMode{FlashOff}, front.Characteristics().FlashModes)
	require.NoError(t, front.Close())

	back, err := b.Open(ctx, Descriptor{ID: "0", Facing: geometry.FacingBack})
	require.NoError(t, err)
	c := back.Characteristics()
	assert.True(t, c.SupportsFlash(FlashTorch))
	assert.False(t, c.SupportsFlash(FlashRedEye))

	e := back.Edit()
	e.SetFlash(FlashTorch)
	require.NoError(t, e.Commit())
	assert.Equal(t, gpio.High, g.Level(17))

	require.NoError(t, back.Close())
	assert.Equal(t, gpio.Low, g.Level(17), "close switches the torch off")
}

func TestDevice_Recording(t *testing.T) {
	dev, err := NewRequest(virtualDriver(sensor.VirtualConfig{})).Open(context.Background(), Descriptor{ID: "0"})
	require.NoError(t, err)
	defer dev.Close()

	path := t.TempDir() + "/clip.mjpeg"
	assert.Error(t, dev.StartRecording(recorderConfig(path)), "needs a running preview")

	require.NoError(t, dev.StartPreview(Sink{}))
	require.NoError(t, dev.StartRecording(recorderConfig(path)))
	require.NoError(t, dev.PauseRecording())
	require.NoError(t, dev.ResumeRecording())
	time.Sleep(50 * time.Millisecond)
	res, err := dev.StopRecording()
	require.NoError(t, err)
	assert.Equal(t, path, res.Path)
	assert.Positive(t, res.Frames)
}

func TestParseFlashAndWhiteBalance(t *testing.T) {
	for _, m := range []FlashMode{FlashOff, FlashOn, FlashTorch, FlashAuto, FlashRedEye} {
		got, err := ParseFlashMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseFlashMode("strobe")
	assert.Error(t, err)

	wb, err := ParseWhiteBalance("Fluorescent")
	require.NoError(t, err)
	assert.Equal(t, WBFluorescent, wb)
	_, err = ParseWhiteBalance("")
	assert.Error(t, err)
}

func TestRejectionErrorsMatchBase(t *testing.T) {
	for _, err := range []error{ErrAlreadyCapturing, ErrRecordingInProgress, ErrPreviewPaused, ErrAlreadyRecording} {
		assert.ErrorIs(t, err, ErrCaptureRejected)
	}
	wrapped := &CaptureError{Err: sensor.ErrClosed}
	assert.ErrorIs(t, wrapped, sensor.ErrClosed)
}
