package camera

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cjeanneret/camsession/internal/debug"
	"github.com/cjeanneret/camsession/internal/hw/recorder"
	"github.com/cjeanneret/camsession/internal/hw/sensor"
	"github.com/cjeanneret/camsession/internal/hw/torch"
	"github.com/cjeanneret/camsession/internal/logic/geometry"
)

// Option configures a backend.
type Option func(*options)

type options struct {
	torch *torch.Unit
}

// WithTorch gives back-facing devices a flash/torch LED.
func WithTorch(t *torch.Unit) Option {
	return func(o *options) { o.torch = t }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// base holds what both backend generations share: the sensor stream, the
// preview sink, the recorder and the flash.
type base struct {
	desc   Descriptor
	stream sensor.Stream
	meter  sensor.Metering // nil when the sensor reports no AF/AE
	torch  *torch.Unit     // nil without flash hardware
	rec    *recorder.Recorder

	// onFrame lets the backend derive capture results from each frame.
	onFrame func(sensor.Frame, Sink)

	mu         sync.Mutex
	sink       Sink
	previewing bool
	recording  bool
	closed     bool
	flash      FlashMode
	picture    geometry.Size
	pending    sync.WaitGroup
}

func (b *base) init(d Descriptor, s sensor.Stream, o options) {
	b.desc = d
	b.stream = s
	b.rec = recorder.New()
	if m, ok := s.(sensor.Metering); ok {
		b.meter = m
	}
	if d.Facing == geometry.FacingBack {
		b.torch = o.torch
	}
}

func (b *base) Descriptor() Descriptor { return b.desc }

func (b *base) flashModes() []FlashMode {
	if b.torch == nil {
		return []FlashMode{FlashOff}
	}
	return []FlashMode{FlashOff, FlashOn, FlashTorch, FlashAuto}
}

// applyFlash switches the torch for the committed flash mode.
func (b *base) applyFlash(m FlashMode) error {
	b.mu.Lock()
	b.flash = m
	b.mu.Unlock()
	if b.torch == nil {
		return nil
	}
	return b.torch.SetTorch(m == FlashTorch)
}

func (b *base) StartPreview(sink Sink) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.previewing {
		b.sink = sink
		return nil
	}
	if err := b.stream.Start(b.deliver); err != nil {
		return fmt.Errorf("start preview: %w", err)
	}
	b.sink = sink
	b.previewing = true
	debug.Verbose("Camera %s: preview started", b.desc.ID)
	return nil
}

func (b *base) deliver(f sensor.Frame) {
	b.mu.Lock()
	sink := b.sink
	recording := b.recording
	b.mu.Unlock()

	if recording {
		if err := b.rec.WriteFrame(f); err != nil {
			debug.Trace("Camera %s: recorder dropped frame %d: %v", b.desc.ID, f.Seq, err)
		}
	}
	if b.onFrame != nil {
		b.onFrame(f, sink)
	}
	if sink.OnFrame != nil {
		sink.OnFrame(f)
	}
}

func (b *base) StopPreview() error {
	b.mu.Lock()
	if !b.previewing {
		b.mu.Unlock()
		return nil
	}
	b.previewing = false
	b.mu.Unlock()

	// Stop waits for the delivery goroutine, which takes b.mu.
	if err := b.stream.Stop(); err != nil {
		return fmt.Errorf("stop preview: %w", err)
	}
	debug.Verbose("Camera %s: preview stopped", b.desc.ID)
	return nil
}

func (b *base) Previewing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.previewing
}

func (b *base) CaptureStill(req StillRequest, done func(Still, error)) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	flash := b.flash
	size := req.Size
	if size.IsZero() {
		size = b.picture
	}
	b.pending.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.pending.Done()
		still, err := b.shoot(size, req, flash)
		done(still, err)
	}()
	return nil
}

func (b *base) shoot(size geometry.Size, req StillRequest, flash FlashMode) (Still, error) {
	var frame sensor.Frame
	expose := func() error {
		f, err := b.stream.Still(size)
		frame = f
		return err
	}

	var err error
	if b.torch != nil && b.wantsFlash(flash) {
		debug.Verbose("Camera %s: firing flash", b.desc.ID)
		err = b.torch.Fire(expose)
	} else {
		err = expose()
	}
	if err != nil {
		return Still{}, err
	}
	data, err := frame.JPEG(req.Quality)
	if err != nil {
		return Still{}, err
	}
	return Still{JPEG: data, Width: frame.Width, Height: frame.Height, Rotation: req.Rotation}, nil
}

func (b *base) wantsFlash(m FlashMode) bool {
	switch m {
	case FlashOn:
		return true
	case FlashAuto:
		return b.meter != nil && b.meter.Report().AE == sensor.AEFlashRequired
	default:
		return false
	}
}

func (b *base) StartRecording(cfg recorder.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if !b.previewing {
		return errors.New("preview is not running")
	}
	if b.recording {
		return recorder.ErrAlreadyRunning
	}
	if err := b.rec.Start(cfg); err != nil {
		return err
	}
	b.recording = true
	return nil
}

func (b *base) StopRecording() (recorder.Result, error) {
	b.mu.Lock()
	b.recording = false
	b.mu.Unlock()
	return b.rec.Stop()
}

func (b *base) closeBase() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	var errs []error
	if err := b.StopPreview(); err != nil {
		errs = append(errs, err)
	}
	b.pending.Wait()
	if b.rec.Running() {
		if _, err := b.StopRecording(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.torch != nil {
		if err := b.torch.SetTorch(false); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.stream.Close(); err != nil {
		errs = append(errs, err)
	}
	debug.Verbose("Camera %s: closed", b.desc.ID)
	return errors.Join(errs...)
}

// configureStream reconfigures the sensor when the preview size changed.
func (b *base) configureStream(preview, picture geometry.Size) error {
	b.mu.Lock()
	b.picture = picture
	b.mu.Unlock()
	if preview.IsZero() {
		return nil
	}
	return b.stream.Configure(sensor.Format{Size: preview})
}
