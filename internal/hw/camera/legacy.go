package camera

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cjeanneret/camsession/internal/debug"
	"github.com/cjeanneret/camsession/internal/hw/sensor"
	"github.com/cjeanneret/camsession/internal/logic/geometry"
)

// Focus modes of a generation-1 device.
const (
	FocusModeContinuous = "continuous-picture"
	FocusModeFixed      = "fixed"
)

// legacyExposureSteps bounds the exposure compensation index (±2 EV in
// 1/6 EV steps).
const legacyExposureSteps = 12

// Parameters is the mutable parameter block of a generation-1 device.
// It is read, modified and written back as a whole.
type Parameters struct {
	PreviewSize          geometry.Size
	PictureSize          geometry.Size
	Rotation             int
	FocusMode            string
	FlashMode            FlashMode
	ExposureCompensation int
	ZoomIndex            int
	WhiteBalance         WhiteBalance
	Scanning             bool
}

// Legacy is the generation-1 backend: devices open synchronously, are
// configured through a Parameters block and report focus through a
// one-shot autofocus callback. There is no auto-exposure state.
type Legacy struct {
	drv  sensor.Driver
	opts options
}

// NewLegacy returns a generation-1 backend over drv.
func NewLegacy(drv sensor.Driver, opts ...Option) *Legacy {
	return &Legacy{drv: drv, opts: buildOptions(opts)}
}

func (l *Legacy) Name() string { return "legacy" }

func (l *Legacy) Descriptors() ([]Descriptor, error) { return descriptorsFrom(l.drv) }

func (l *Legacy) Open(ctx context.Context, d Descriptor) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := l.drv.Open(d.ID)
	if err != nil {
		return nil, err
	}
	dev := &LegacyDevice{zoomRatios: legacyZoomRatios()}
	dev.init(d, s, l.opts)
	dev.onFrame = dev.pollFocus
	dev.params = Parameters{FocusMode: FocusModeFixed}
	debug.Verbose("Legacy: opened %s", d)
	return dev, nil
}

// legacyZoomRatios is the zoom table, 1x to 4x by quarter steps.
func legacyZoomRatios() []float64 {
	var out []float64
	for r := 1.0; r <= 4.0; r += 0.25 {
		out = append(out, r)
	}
	return out
}

// LegacyDevice is an opened generation-1 device.
type LegacyDevice struct {
	base
	zoomRatios []float64

	pmu       sync.Mutex
	params    Parameters
	afPending atomic.Bool
}

func (d *LegacyDevice) Capabilities() Capabilities {
	return Capabilities{ExposureCompensation: true, Metering: d.meter != nil}
}

func (d *LegacyDevice) Characteristics() Characteristics {
	return Characteristics{
		PreviewSizes:      d.stream.PreviewSizes(),
		PictureSizes:      d.stream.PictureSizes(),
		FPSRanges:         d.stream.FPSRanges(),
		FlashModes:        d.flashModes(),
		WhiteBalanceModes: []WhiteBalance{WBAuto, WBSunny, WBCloudy, WBFluorescent, WBIncandescent},
		MaxZoom:           d.zoomRatios[len(d.zoomRatios)-1],
		MinExposure:       -legacyExposureSteps,
		MaxExposure:       legacyExposureSteps,
	}
}

// Parameters returns a copy of the current parameter block.
func (d *LegacyDevice) Parameters() Parameters {
	d.pmu.Lock()
	defer d.pmu.Unlock()
	return d.params
}

// ZoomRatio is the ratio selected by the current zoom index.
func (d *LegacyDevice) ZoomRatio() float64 {
	return d.zoomRatios[d.Parameters().ZoomIndex]
}

func (d *LegacyDevice) setParameters(p Parameters) error {
	d.pmu.Lock()
	defer d.pmu.Unlock()
	if p.PreviewSize != d.params.PreviewSize || p.PictureSize != d.params.PictureSize {
		if err := d.configureStream(p.PreviewSize, p.PictureSize); err != nil {
			return fmt.Errorf("set sizes: %w", err)
		}
	}
	if err := d.applyFlash(p.FlashMode); err != nil {
		return fmt.Errorf("set flash: %w", err)
	}
	d.params = p
	debug.Trace("Legacy %s: parameters %+v", d.desc.ID, p)
	return nil
}

func (d *LegacyDevice) Edit() Editor {
	return &legacyEditor{d: d, p: d.Parameters()}
}

type legacyEditor struct {
	d *LegacyDevice
	p Parameters
}

func (e *legacyEditor) SetSizes(preview, picture geometry.Size) {
	e.p.PreviewSize, e.p.PictureSize = preview, picture
}

func (e *legacyEditor) SetRotation(degrees int) { e.p.Rotation = degrees }

func (e *legacyEditor) SetFocus(auto bool) {
	e.p.FocusMode = FocusModeFixed
	if auto {
		e.p.FocusMode = FocusModeContinuous
	}
}

func (e *legacyEditor) SetFlash(m FlashMode) { e.p.FlashMode = m }

func (e *legacyEditor) SetExposure(index int) {
	e.p.ExposureCompensation = max(-legacyExposureSteps, min(legacyExposureSteps, index))
}

func (e *legacyEditor) SetZoom(zoom float64) {
	zoom = math.Max(0, math.Min(1, zoom))
	e.p.ZoomIndex = int(math.Round(zoom * float64(len(e.d.zoomRatios)-1)))
}

func (e *legacyEditor) SetWhiteBalance(wb WhiteBalanceSetting) {
	if wb.Manual() {
		debug.Trace("Legacy %s: manual white balance unsupported, using %s", e.d.desc.ID, wb.Mode)
	}
	e.p.WhiteBalance = wb.Mode
}

func (e *legacyEditor) SetScanning(on bool) { e.p.Scanning = on }

func (e *legacyEditor) Commit() error { return e.d.setParameters(e.p) }

// Trigger starts or cancels an autofocus scan. The scan outcome is
// reported once through Sink.OnResult, without exposure state. Devices
// without metering ignore triggers.
func (d *LegacyDevice) Trigger(t Trigger) error {
	if d.meter == nil {
		return nil
	}
	switch t {
	case TriggerAFStart:
		d.afPending.Store(true)
		d.meter.TriggerFocus()
	case TriggerAFCancel:
		d.afPending.Store(false)
		d.meter.CancelFocus()
	case TriggerAEPrecapture:
		debug.Trace("Legacy %s: no precapture metering", d.desc.ID)
	}
	return nil
}

func (d *LegacyDevice) pollFocus(_ sensor.Frame, sink Sink) {
	if !d.afPending.Load() || d.meter == nil {
		return
	}
	rep := d.meter.Report()
	if !rep.AF.Locked() || !d.afPending.CompareAndSwap(true, false) {
		return
	}
	if sink.OnResult != nil {
		sink.OnResult(Result{AF: rep.AF, AE: sensor.AENone})
	}
}

func (d *LegacyDevice) PauseRecording() error { return errors.ErrUnsupported }

func (d *LegacyDevice) ResumeRecording() error { return errors.ErrUnsupported }

func (d *LegacyDevice) Close() error { return d.closeBase() }
