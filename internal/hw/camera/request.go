package camera

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/cjeanneret/camsession/internal/debug"
	"github.com/cjeanneret/camsession/internal/hw/sensor"
	"github.com/cjeanneret/camsession/internal/logic/geometry"
)

// requestMaxZoom is the native zoom ratio range upper bound.
const requestMaxZoom = 8.0

// Request is an immutable capture request of a generation-2 device. New
// values are derived through a RequestBuilder.
type Request struct {
	preview   geometry.Size
	picture   geometry.Size
	rotation  int
	autoFocus bool
	flash     FlashMode
	zoomRatio float64
	wb        WhiteBalanceSetting
	scanning  bool

	trigger    Trigger
	hasTrigger bool
}

func (r Request) PreviewSize() geometry.Size        { return r.preview }
func (r Request) PictureSize() geometry.Size        { return r.picture }
func (r Request) Rotation() int                     { return r.rotation }
func (r Request) AutoFocus() bool                   { return r.autoFocus }
func (r Request) Flash() FlashMode                  { return r.flash }
func (r Request) ZoomRatio() float64                { return r.zoomRatio }
func (r Request) WhiteBalance() WhiteBalanceSetting { return r.wb }
func (r Request) Scanning() bool                    { return r.scanning }

// Trigger returns the one-shot trigger carried by the request, if any.
func (r Request) Trigger() (Trigger, bool) { return r.trigger, r.hasTrigger }

// RequestBuilder derives a Request from a template.
type RequestBuilder struct {
	r Request
}

// NewRequestBuilder starts from template. The trigger is not inherited.
func NewRequestBuilder(template Request) *RequestBuilder {
	template.hasTrigger = false
	return &RequestBuilder{r: template}
}

func (b *RequestBuilder) Sizes(preview, picture geometry.Size) *RequestBuilder {
	b.r.preview, b.r.picture = preview, picture
	return b
}

func (b *RequestBuilder) Rotation(deg int) *RequestBuilder {
	b.r.rotation = deg
	return b
}

func (b *RequestBuilder) AutoFocus(on bool) *RequestBuilder {
	b.r.autoFocus = on
	return b
}

func (b *RequestBuilder) Flash(m FlashMode) *RequestBuilder {
	b.r.flash = m
	return b
}

func (b *RequestBuilder) ZoomRatio(ratio float64) *RequestBuilder {
	b.r.zoomRatio = math.Max(1, math.Min(requestMaxZoom, ratio))
	return b
}

func (b *RequestBuilder) WhiteBalance(wb WhiteBalanceSetting) *RequestBuilder {
	if wb.Gains != nil {
		g := *wb.Gains
		wb.Gains = &g
	}
	b.r.wb = wb
	return b
}

func (b *RequestBuilder) Scanning(on bool) *RequestBuilder {
	b.r.scanning = on
	return b
}

func (b *RequestBuilder) Trigger(t Trigger) *RequestBuilder {
	b.r.trigger, b.r.hasTrigger = t, true
	return b
}

// Build returns the request. The builder may keep being used.
func (b *RequestBuilder) Build() Request {
	r := b.r
	if r.wb.Gains != nil {
		g := *r.wb.Gains
		r.wb.Gains = &g
	}
	return r
}

// RequestBackend is the generation-2 backend: devices open asynchronously,
// are driven by immutable requests and report AF/AE state on every partial
// and complete result.
type RequestBackend struct {
	drv  sensor.Driver
	opts options
}

// NewRequest returns a generation-2 backend over drv.
func NewRequest(drv sensor.Driver, opts ...Option) *RequestBackend {
	return &RequestBackend{drv: drv, opts: buildOptions(opts)}
}

func (rb *RequestBackend) Name() string { return "request" }

func (rb *RequestBackend) Descriptors() ([]Descriptor, error) { return descriptorsFrom(rb.drv) }

type openResult struct {
	stream sensor.Stream
	err    error
}

// Open starts the open on its own goroutine and waits for the state
// callback or ctx. A stream opened after ctx ended is closed.
func (rb *RequestBackend) Open(ctx context.Context, d Descriptor) (Device, error) {
	done := make(chan openResult, 1)
	go func() {
		s, err := rb.drv.Open(d.ID)
		done <- openResult{stream: s, err: err}
	}()

	var res openResult
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			if late := <-done; late.stream != nil {
				_ = late.stream.Close()
			}
		}()
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}

	dev := &RequestDevice{repeating: Request{zoomRatio: 1}}
	dev.init(d, res.stream, rb.opts)
	dev.onFrame = dev.emitResults
	debug.Verbose("Request: opened %s", d)
	return dev, nil
}

// RequestDevice is an opened generation-2 device.
type RequestDevice struct {
	base

	rmu       sync.Mutex
	repeating Request
}

func (d *RequestDevice) Capabilities() Capabilities {
	return Capabilities{NativeZoomRange: true, PauseRecording: true, Metering: d.meter != nil}
}

func (d *RequestDevice) Characteristics() Characteristics {
	return Characteristics{
		PreviewSizes:      d.stream.PreviewSizes(),
		PictureSizes:      d.stream.PictureSizes(),
		FPSRanges:         d.stream.FPSRanges(),
		FlashModes:        d.flashModes(),
		WhiteBalanceModes: []WhiteBalance{WBAuto, WBSunny, WBCloudy, WBShadow, WBFluorescent, WBIncandescent},
		MaxZoom:           requestMaxZoom,
	}
}

// Repeating returns the request currently driving the preview.
func (d *RequestDevice) Repeating() Request {
	d.rmu.Lock()
	defer d.rmu.Unlock()
	return d.repeating
}

func (d *RequestDevice) setRepeating(r Request) error {
	d.rmu.Lock()
	defer d.rmu.Unlock()
	if r.preview != d.repeating.preview || r.picture != d.repeating.picture {
		if err := d.configureStream(r.preview, r.picture); err != nil {
			return fmt.Errorf("configure session: %w", err)
		}
	}
	if err := d.applyFlash(r.flash); err != nil {
		return fmt.Errorf("set flash: %w", err)
	}
	d.repeating = r
	debug.Trace("Request %s: repeating request updated (zoom %.2f, af %v)", d.desc.ID, r.zoomRatio, r.autoFocus)
	return nil
}

func (d *RequestDevice) Edit() Editor {
	return &requestEditor{d: d, b: NewRequestBuilder(d.Repeating())}
}

type requestEditor struct {
	d *RequestDevice
	b *RequestBuilder
}

func (e *requestEditor) SetSizes(preview, picture geometry.Size) { e.b.Sizes(preview, picture) }
func (e *requestEditor) SetRotation(degrees int)                 { e.b.Rotation(degrees) }
func (e *requestEditor) SetFocus(auto bool)                      { e.b.AutoFocus(auto) }
func (e *requestEditor) SetFlash(m FlashMode)                    { e.b.Flash(m) }

func (e *requestEditor) SetExposure(index int) {
	if index != 0 {
		debug.Trace("Request %s: exposure compensation unsupported", e.d.desc.ID)
	}
}

func (e *requestEditor) SetZoom(zoom float64) {
	zoom = math.Max(0, math.Min(1, zoom))
	e.b.ZoomRatio(1 + zoom*(requestMaxZoom-1))
}

func (e *requestEditor) SetWhiteBalance(wb WhiteBalanceSetting) { e.b.WhiteBalance(wb) }
func (e *requestEditor) SetScanning(on bool)                    { e.b.Scanning(on) }

func (e *requestEditor) Commit() error { return e.d.setRepeating(e.b.Build()) }

// Trigger submits a one-shot request carrying t.
func (d *RequestDevice) Trigger(t Trigger) error {
	r := NewRequestBuilder(d.Repeating()).Trigger(t).Build()
	return d.capture(r)
}

func (d *RequestDevice) capture(r Request) error {
	t, ok := r.Trigger()
	if !ok || d.meter == nil {
		return nil
	}
	switch t {
	case TriggerAFStart:
		d.meter.TriggerFocus()
	case TriggerAFCancel:
		d.meter.CancelFocus()
	case TriggerAEPrecapture:
		d.meter.TriggerPrecapture()
	}
	return nil
}

// emitResults reports metering twice per frame: a partial result then the
// complete one.
func (d *RequestDevice) emitResults(_ sensor.Frame, sink Sink) {
	if sink.OnResult == nil {
		return
	}
	rep := sensor.Report{AF: sensor.AFInactive, AE: sensor.AENone}
	if d.meter != nil {
		rep = d.meter.Report()
	}
	sink.OnResult(Result{Partial: true, AF: rep.AF, AE: rep.AE})
	sink.OnResult(Result{AF: rep.AF, AE: rep.AE})
}

func (d *RequestDevice) PauseRecording() error { return d.rec.Pause() }

func (d *RequestDevice) ResumeRecording() error { return d.rec.Resume() }

func (d *RequestDevice) Close() error { return d.closeBase() }
