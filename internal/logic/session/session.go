// Package session binds one camera device to a preview surface. It opens
// the device when the surface is ready, keeps the configured parameters
// applied, and runs still captures and recordings against it.
//
// All hardware mutation happens on one serial executor. Device callbacks
// are re-posted onto it before they touch session state.
package session

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/camsession/internal/debug"
	"github.com/cjeanneret/camsession/internal/hw/camera"
	"github.com/cjeanneret/camsession/internal/hw/recorder"
	"github.com/cjeanneret/camsession/internal/hw/sensor"
	"github.com/cjeanneret/camsession/internal/logic/capture"
	"github.com/cjeanneret/camsession/internal/logic/decode"
	"github.com/cjeanneret/camsession/internal/logic/dispatch"
	"github.com/cjeanneret/camsession/internal/logic/gate"
	"github.com/cjeanneret/camsession/internal/logic/geometry"
	"github.com/cjeanneret/camsession/internal/logic/record"
	"github.com/cjeanneret/camsession/internal/logic/serial"
	"github.com/cjeanneret/camsession/internal/logic/surface"
	"github.com/cjeanneret/camsession/internal/metrics"
)

// ScannerConsumer is the dispatcher name of the barcode scanner.
const ScannerConsumer = "barcode"

// Config wires a session.
type Config struct {
	Backend    camera.Backend
	Parameters Parameters
	// ConvergenceTimeout bounds the AF/AE wait of a still capture. Zero
	// waits indefinitely.
	ConvergenceTimeout time.Duration
	// Decoder and ScanROI drive the barcode scanner while scanning is on.
	// A nil Decoder selects QR codes.
	Decoder decode.Decoder
	ScanROI decode.ROI
	// Listener receives events. Nil ignores them.
	Listener Listener
}

// CaptureRequest describes one still capture.
type CaptureRequest struct {
	Quality float64 `json:"quality"` // 0..1, 0 selects the default
	// Orientation overrides the device rotation (degrees) for this capture.
	Orientation       *int `json:"orientation,omitempty"`
	PauseAfterCapture bool `json:"pauseAfterCapture"`
	FastMode          bool `json:"fastMode"`
}

// DefaultQuality is used when a CaptureRequest leaves Quality at 0.
const DefaultQuality = 0.9

// Session is safe for concurrent use.
type Session struct {
	exec     *serial.Executor
	mgr      *camera.Manager
	gate     gate.Gate
	registry *dispatch.Dispatcher
	surface  *surface.Surface
	listener Listener
	rec      *record.Controller
	scanner  *decode.Consumer
	timeout  time.Duration

	// Read from backend goroutines.
	frameRotation  atomic.Int32
	deviceRotation atomic.Int32
	resultsWanted  atomic.Bool

	// Owned by the executor.
	params        Parameters
	started       bool
	dev           camera.Device
	engine        *Engine
	seq           *capture.Sequence
	previewPaused bool
	pendingUpdate bool
	reopen        bool
}

// New builds a session on surf. Frames are fanned out through reg, which
// callers may register their own consumers in. Call Start to open the
// camera and Close when done.
func New(cfg Config, surf *surface.Surface, reg *dispatch.Dispatcher) *Session {
	if cfg.Listener == nil {
		cfg.Listener = NopListener{}
	}
	if cfg.Decoder == nil {
		cfg.Decoder = decode.QRDecoder{}
	}
	s := &Session{
		mgr:      camera.NewManager(cfg.Backend),
		registry: reg,
		surface:  surf,
		listener: cfg.Listener,
		timeout:  cfg.ConvergenceTimeout,
		params:   cfg.Parameters.Normalize(),
	}
	s.rec = record.NewController(&s.gate, recordEvents{l: cfg.Listener})
	s.scanner = decode.NewConsumer(cfg.Decoder, cfg.ScanROI, cfg.Listener.OnBarcodes)
	s.exec = serial.New(serial.WithPanicHandler(s.onPanic))
	surf.SetCallback(s)
	return s
}

// onPanic runs on the executor after a task panicked.
func (s *Session) onPanic(err error) {
	if s.seq != nil {
		s.seq.Abort(err)
	}
}

func (s *Session) call(ctx context.Context, fn func() error) error {
	return s.exec.Call(ctx, fn)
}

// Start opens the camera as soon as the surface is ready.
func (s *Session) Start(ctx context.Context) error {
	return s.call(ctx, func() error {
		s.started = true
		if s.dev != nil || !s.surface.Ready() {
			return nil
		}
		return s.open(ctx)
	})
}

// Stop closes the camera, aborting a capture in flight and ending a
// recording. Parameters are kept for the next Start.
func (s *Session) Stop(ctx context.Context) error {
	return s.call(ctx, func() error {
		s.started = false
		return s.closeDevice()
	})
}

// Close stops the session and its executor.
func (s *Session) Close() error {
	err := s.Stop(context.Background())
	if errors.Is(err, serial.ErrClosed) {
		err = nil
	}
	s.surface.SetCallback(nil)
	s.exec.Close()
	return err
}

// Registry is the frame dispatcher the session feeds.
func (s *Session) Registry() *dispatch.Dispatcher { return s.registry }

// Gate exposes the capture/recording flags.
func (s *Session) Gate() *gate.Gate { return &s.gate }

func (s *Session) layout() Layout {
	return Layout{Surface: s.surface.Size(), DisplayRotation: s.surface.DisplayRotation()}
}

func (s *Session) sink() camera.Sink {
	return camera.Sink{OnFrame: s.onFrame, OnResult: s.onResult}
}

func (s *Session) open(ctx context.Context) error {
	descs, err := s.mgr.Descriptors()
	if err != nil {
		return s.mountError(&camera.MountError{Msg: "cannot list cameras", Err: err})
	}
	desc, err := camera.SelectDescriptor(descs, s.params.CameraID, s.params.Facing)
	if err != nil {
		return s.mountError(&camera.MountError{Msg: "no matching camera", Err: err})
	}
	if desc.Facing != s.params.Facing {
		debug.Info("Session: no %s camera, using %s", s.params.Facing, desc)
		s.params.Facing = desc.Facing
	}

	dev, err := s.mgr.Open(ctx, desc)
	if err != nil {
		return s.mountError(err)
	}
	metrics.DeviceOpen.Set(1)
	s.dev = dev

	if s.engine, err = NewEngine(dev); err == nil {
		err = s.engine.Apply(s.params, s.layout(), s.sink())
	}
	if err == nil {
		s.frameRotation.Store(int32(s.engine.Current().Rotation))
		s.syncScanner()
		err = dev.StartPreview(s.sink())
	}
	if err != nil {
		_ = s.closeDevice()
		return s.mountError(&camera.MountError{Msg: "cannot configure session", Err: err})
	}
	s.previewPaused = false
	s.listener.OnCameraReady(s.info())
	return nil
}

func (s *Session) info() CameraInfo {
	return CameraInfo{
		Descriptor:   s.dev.Descriptor(),
		Backend:      s.mgr.Backend().Name(),
		Capabilities: s.dev.Capabilities(),
		Negotiated:   s.engine.Current(),
	}
}

func (s *Session) mountError(err error) error {
	metrics.MountErrors.Inc()
	debug.Error(err)
	s.listener.OnMountError(err.Error())
	return err
}

func (s *Session) closeDevice() error {
	// Aborting below must not trigger a deferred refresh.
	s.pendingUpdate = false
	if s.seq != nil {
		s.seq.Abort(camera.ErrClosed)
	}
	if _, active := s.rec.Active(); active {
		if _, err := s.rec.Stop(); err != nil {
			debug.Error(err)
		}
	}
	s.registry.Unregister(ScannerConsumer)
	if s.dev == nil {
		return nil
	}
	err := s.mgr.Close()
	s.dev, s.engine = nil, nil
	s.previewPaused = false
	metrics.DeviceOpen.Set(0)
	return err
}

// reconfigure reapplies the parameters, or defers until the capture or
// recording in flight completes.
func (s *Session) reconfigure() error {
	if s.dev == nil {
		return nil
	}
	if s.gate.Busy() {
		s.pendingUpdate = true
		return nil
	}
	if err := s.engine.Apply(s.params, s.layout(), s.sink()); err != nil {
		_ = s.closeDevice()
		return s.mountError(&camera.MountError{Msg: "cannot configure session", Err: err})
	}
	s.frameRotation.Store(int32(s.engine.Current().Rotation))
	s.syncScanner()
	return nil
}

// refresh brings the device in line with the surface.
func (s *Session) refresh() error {
	if !s.started {
		return nil
	}
	if s.gate.Busy() {
		s.pendingUpdate = true
		return nil
	}
	if !s.surface.Ready() {
		return s.closeDevice()
	}
	if s.dev != nil && s.reopen {
		if err := s.closeDevice(); err != nil {
			debug.Warn("Session: closing for reopen: %v", err)
		}
	}
	s.reopen = false
	if s.dev == nil {
		return s.open(context.Background())
	}
	return s.reconfigure()
}

func (s *Session) applyPending() {
	if !s.pendingUpdate || s.gate.Busy() {
		return
	}
	s.pendingUpdate = false
	debug.Verbose("Session: applying deferred update")
	if err := s.refresh(); err != nil {
		debug.Error(err)
	}
}

func (s *Session) syncScanner() {
	_, registered := s.registry.Lookup(ScannerConsumer)
	switch {
	case s.params.Scanning && !registered:
		if err := s.registry.Register(ScannerConsumer, s.scanner); err != nil {
			debug.Error(err)
		}
	case !s.params.Scanning && registered:
		s.registry.Unregister(ScannerConsumer)
	}
}

// OnSurfaceChanged implements surface.Callback.
func (s *Session) OnSurfaceChanged(size geometry.Size) {
	s.postRefresh("surface changed to " + size.String())
}

// OnSurfaceDestroyed implements surface.Callback.
func (s *Session) OnSurfaceDestroyed() {
	s.postRefresh("surface destroyed")
}

func (s *Session) postRefresh(why string) {
	err := s.exec.Post(func() {
		debug.Verbose("Session: %s", why)
		if err := s.refresh(); err != nil {
			debug.Error(err)
		}
	})
	if err != nil {
		debug.Trace("Session: %s after close", why)
	}
}

// SetDisplayRotation records the display rotation quadrant and reapplies
// the preview orientation.
func (s *Session) SetDisplayRotation(ctx context.Context, quadrant int) error {
	return s.call(ctx, func() error {
		before := s.surface.DisplayRotation()
		s.surface.SetDisplayRotation(quadrant)
		if s.surface.DisplayRotation() == before {
			return nil
		}
		return s.reconfigure()
	})
}

// SetDeviceRotation records the physical device rotation in degrees. It
// drives capture orientation; recordings keep the orientation they
// started with.
func (s *Session) SetDeviceRotation(degrees int) {
	s.deviceRotation.Store(int32(((degrees % 360) + 360) % 360))
}

func (s *Session) onFrame(f sensor.Frame) {
	s.registry.Dispatch(dispatch.Frame{Frame: f, Rotation: int(s.frameRotation.Load())})
}

func (s *Session) onResult(r camera.Result) {
	if !s.resultsWanted.Load() {
		return
	}
	_ = s.exec.Post(func() {
		if s.seq != nil {
			s.seq.OnResult(r)
		}
	})
}

// reference is the rotation captures and recordings are oriented against.
func (s *Session) reference(override *int) int {
	switch {
	case override != nil:
		return *override
	case s.params.OrientationLock != OrientationAuto:
		return s.params.OrientationLock
	default:
		return int(s.deviceRotation.Load())
	}
}

func (s *Session) orientation(reference int) int {
	d := s.dev.Descriptor()
	return geometry.CameraRotation(d.Orientation, d.Facing, reference)
}

// TakePicture runs the convergence sequence and captures a still. It
// returns camera.ErrCaptureRejected errors synchronously; backend failures
// come back as *camera.CaptureError. When ctx ends first the capture still
// completes and is reported to the listener.
func (s *Session) TakePicture(ctx context.Context, req CaptureRequest) (Picture, error) {
	type outcome struct {
		pic Picture
		err error
	}
	result := make(chan outcome, 1)

	err := s.call(ctx, func() error {
		if s.dev == nil {
			return camera.ErrNotOpen
		}
		if s.previewPaused {
			return camera.ErrPreviewPaused
		}
		if held, ok := s.gate.TryCapture(); !ok {
			metrics.Captures.WithLabelValues("rejected").Inc()
			if held == gate.Recording {
				return camera.ErrRecordingInProgress
			}
			return camera.ErrAlreadyCapturing
		}

		rotation := s.orientation(s.reference(req.Orientation))
		still := camera.StillRequest{
			Size:     s.engine.Current().Picture,
			Quality:  jpegQuality(req.Quality),
			Rotation: rotation,
		}
		opts := capture.Options{
			// Without metering there is nothing to converge on.
			AutoFocus: s.params.AutoFocus && s.dev.Capabilities().Metering,
			FastMode:  req.FastMode,
			Timeout:   s.timeout,
		}
		s.resultsWanted.Store(true)
		s.seq = capture.NewSequence(s.dev, s.exec.Post, still, opts, func(st camera.Still, err error) {
			pic, err := s.finishCapture(req, st, err)
			result <- outcome{pic, err}
		})
		s.seq.Run()
		return nil
	})
	if err != nil {
		return Picture{}, err
	}

	select {
	case o := <-result:
		return o.pic, o.err
	case <-ctx.Done():
		return Picture{}, ctx.Err()
	}
}

// finishCapture runs on the executor once the sequence is done.
func (s *Session) finishCapture(req CaptureRequest, st camera.Still, err error) (Picture, error) {
	if s.seq != nil {
		debug.Verbose("Capture: %v", s.seq.History())
	}
	s.seq = nil
	s.resultsWanted.Store(false)
	s.gate.Release(gate.Capturing)
	defer s.applyPending()

	if err != nil {
		metrics.Captures.WithLabelValues("failed").Inc()
		debug.Error(err)
		return Picture{}, err
	}
	metrics.Captures.WithLabelValues("ok").Inc()

	if req.PauseAfterCapture && s.dev != nil {
		if perr := s.dev.StopPreview(); perr != nil {
			debug.Warn("Capture: pause preview: %v", perr)
		} else {
			s.previewPaused = true
		}
	}
	pic := Picture{
		ID:          uuid.NewString(),
		JPEG:        st.JPEG,
		Width:       st.Width,
		Height:      st.Height,
		Orientation: st.Rotation,
	}
	debug.Info("Picture %s: %dx%d, %d bytes, %d°", pic.ID, pic.Width, pic.Height, len(pic.JPEG), pic.Orientation)
	s.listener.OnPictureTaken(pic)
	return pic, nil
}

func jpegQuality(q float64) int {
	if q <= 0 {
		q = DefaultQuality
	}
	return int(math.Round(math.Min(1, q) * 100))
}

// ResumePreview restarts a preview paused after a capture.
func (s *Session) ResumePreview(ctx context.Context) error {
	return s.call(ctx, func() error {
		if s.dev == nil {
			return camera.ErrNotOpen
		}
		if !s.previewPaused {
			return nil
		}
		if err := s.dev.StartPreview(s.sink()); err != nil {
			return err
		}
		s.previewPaused = false
		return nil
	})
}

// PreviewPaused reports whether the preview is paused after a capture.
func (s *Session) PreviewPaused(ctx context.Context) (bool, error) {
	var paused bool
	err := s.call(ctx, func() error {
		paused = s.previewPaused
		return nil
	})
	return paused, err
}

// StartRecording starts rs. The video orientation is locked for the whole
// recording. Limits reached by the recorder stop it automatically.
func (s *Session) StartRecording(ctx context.Context, rs record.Session) error {
	return s.call(ctx, func() error {
		if s.dev == nil {
			return camera.ErrNotOpen
		}
		if s.previewPaused {
			return camera.ErrPreviewPaused
		}
		ref := s.reference(nil)
		return s.rec.Start(s.dev, rs, s.orientation(ref), ref, s.onRecordingLimit)
	})
}

// onRecordingLimit runs on the recorder goroutine.
func (s *Session) onRecordingLimit(reason recorder.Reason) {
	err := s.exec.Post(func() {
		if _, active := s.rec.Active(); !active {
			return
		}
		debug.Info("Recording: %s, stopping", reason)
		if _, err := s.rec.Stop(); err != nil {
			debug.Error(err)
		}
		s.applyPending()
	})
	if err != nil {
		debug.Trace("Recording: limit after close")
	}
}

// StopRecording ends the recording. The outcome has an empty Path when
// no file was produced.
func (s *Session) StopRecording(ctx context.Context) (record.Outcome, error) {
	var out record.Outcome
	err := s.call(ctx, func() error {
		var err error
		out, err = s.rec.Stop()
		s.applyPending()
		return err
	})
	return out, err
}

// PauseRecording is best-effort: devices without pause support ignore it.
func (s *Session) PauseRecording(ctx context.Context) error {
	return s.call(ctx, s.rec.Pause)
}

// ResumeRecording is best-effort, like PauseRecording.
func (s *Session) ResumeRecording(ctx context.Context) error {
	return s.call(ctx, s.rec.Resume)
}

// Recording returns the active recording, if any.
func (s *Session) Recording() (record.Session, bool) {
	return s.rec.Active()
}
