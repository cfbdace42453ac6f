package session

import (
	"errors"
	"fmt"
	"math"

	"github.com/cjeanneret/camsession/internal/debug"
	"github.com/cjeanneret/camsession/internal/hw/camera"
	"github.com/cjeanneret/camsession/internal/hw/sensor"
	"github.com/cjeanneret/camsession/internal/logic/geometry"
	"github.com/cjeanneret/camsession/internal/metrics"
)

// Layout is what the engine needs from the preview surface.
type Layout struct {
	Surface         geometry.Size // zero when not laid out
	DisplayRotation int           // degrees
}

// Negotiated is the outcome of size negotiation.
type Negotiated struct {
	Ratio    geometry.AspectRatio `json:"aspectRatio"`
	Preview  geometry.Size        `json:"preview"`
	Picture  geometry.Size        `json:"picture"`
	Rotation int                  `json:"rotation"`
}

// Engine negotiates sizes and applies parameters to one opened device.
type Engine struct {
	dev     camera.Device
	desc    camera.Descriptor
	caps    camera.Capabilities
	chars   camera.Characteristics
	preview *geometry.Catalog
	picture *geometry.Catalog

	current Negotiated
}

// NewEngine builds the pruned size catalogs of dev.
func NewEngine(dev camera.Device) (*Engine, error) {
	chars := dev.Characteristics()
	e := &Engine{
		dev:     dev,
		desc:    dev.Descriptor(),
		caps:    dev.Capabilities(),
		chars:   chars,
		preview: geometry.NewCatalog(chars.PreviewSizes...),
		picture: geometry.NewCatalog(chars.PictureSizes...),
	}
	geometry.Prune(e.preview, e.picture)
	if e.preview.IsEmpty() {
		return nil, errors.New("no aspect ratio shared by preview and picture sizes")
	}
	return e, nil
}

// Ratios lists the supported aspect ratios.
func (e *Engine) Ratios() []geometry.AspectRatio { return e.preview.Ratios() }

// PictureSizes lists the picture sizes of r, ascending by area.
func (e *Engine) PictureSizes(r geometry.AspectRatio) []geometry.Size { return e.picture.Sizes(r) }

// FPSRanges lists the supported preview frame-rate ranges.
func (e *Engine) FPSRanges() []sensor.FPSRange {
	return append([]sensor.FPSRange(nil), e.chars.FPSRanges...)
}

// Current returns the last applied negotiation.
func (e *Engine) Current() Negotiated { return e.current }

// Negotiate picks the aspect ratio, preview size and picture size for p.
func (e *Engine) Negotiate(p Parameters, l Layout) (Negotiated, error) {
	ratio, fellBack, err := geometry.ChooseAspectRatio(e.preview, p.AspectRatio)
	if err != nil {
		return Negotiated{}, err
	}
	if fellBack {
		debug.Warn("Session: aspect ratio %s is not supported, using %s", p.AspectRatio, ratio)
		metrics.ConfigFallbacks.WithLabelValues("aspectRatio").Inc()
	}

	rotation := geometry.CameraRotation(e.desc.Orientation, e.desc.Facing, l.DisplayRotation)
	desired := l.Surface
	if geometry.SwapsDimensions(rotation) {
		desired = desired.Rotated()
	}
	preview, err := geometry.ChooseOptimalSize(e.preview, ratio, desired, !l.Surface.IsZero())
	if err != nil {
		return Negotiated{}, err
	}

	picture := p.PictureSize
	if picture.IsZero() || !ratio.Matches(picture) || !containsSize(e.picture.Sizes(ratio), picture) {
		if !picture.IsZero() {
			debug.Warn("Session: picture size %v is not available at %s, using the largest", picture, ratio)
			metrics.ConfigFallbacks.WithLabelValues("pictureSize").Inc()
		}
		if picture, err = geometry.LargestPictureSize(e.picture, ratio); err != nil {
			return Negotiated{}, err
		}
	}
	return Negotiated{Ratio: ratio, Preview: preview, Picture: picture, Rotation: rotation}, nil
}

func containsSize(sizes []geometry.Size, s geometry.Size) bool {
	for _, c := range sizes {
		if c == s {
			return true
		}
	}
	return false
}

// Apply reconfigures the device. A running preview is stopped first and
// restarted on sink once the new configuration is committed.
func (e *Engine) Apply(p Parameters, l Layout, sink camera.Sink) error {
	n, err := e.Negotiate(p, l)
	if err != nil {
		return err
	}

	wasPreviewing := e.dev.Previewing()
	if wasPreviewing {
		if err := e.dev.StopPreview(); err != nil {
			return fmt.Errorf("stop preview: %w", err)
		}
	}

	ed := e.dev.Edit()
	ed.SetSizes(n.Preview, n.Picture)
	ed.SetRotation(n.Rotation)
	ed.SetFocus(p.AutoFocus)
	ed.SetFlash(e.flash(p.Flash))
	ed.SetExposure(e.exposureIndex(p.Exposure))
	ed.SetZoom(math.Max(0, math.Min(1, p.Zoom)))
	ed.SetWhiteBalance(e.whiteBalance(p.WhiteBalance))
	ed.SetScanning(p.Scanning)
	if err := ed.Commit(); err != nil {
		return fmt.Errorf("commit parameters: %w", err)
	}
	e.current = n
	debug.Verbose("Session: %s preview=%v picture=%v rotation=%d°", n.Ratio, n.Preview, n.Picture, n.Rotation)

	if wasPreviewing {
		if err := e.dev.StartPreview(sink); err != nil {
			return fmt.Errorf("restart preview: %w", err)
		}
	}
	return nil
}

func (e *Engine) flash(m camera.FlashMode) camera.FlashMode {
	if e.chars.SupportsFlash(m) {
		return m
	}
	debug.Warn("Session: flash mode %s is not supported, using off", m)
	metrics.ConfigFallbacks.WithLabelValues("flash").Inc()
	return camera.FlashOff
}

func (e *Engine) whiteBalance(wb camera.WhiteBalanceSetting) camera.WhiteBalanceSetting {
	if e.chars.SupportsWhiteBalance(wb.Mode) {
		return wb
	}
	debug.Warn("Session: white balance %s is not supported, using auto", wb.Mode)
	metrics.ConfigFallbacks.WithLabelValues("whiteBalance").Inc()
	wb.Mode = camera.WBAuto
	return wb
}

// exposureIndex maps -1..1 onto the device's compensation steps. -1 and
// devices without compensation give 0.
func (e *Engine) exposureIndex(v float64) int {
	if v <= ExposureAuto || !e.caps.ExposureCompensation {
		return 0
	}
	v = math.Min(1, v)
	if v >= 0 {
		return int(math.Round(v * float64(e.chars.MaxExposure)))
	}
	return int(math.Round(-v * float64(e.chars.MinExposure)))
}
