package session

import (
	"context"

	"github.com/cjeanneret/camsession/internal/debug"
	"github.com/cjeanneret/camsession/internal/hw/camera"
	"github.com/cjeanneret/camsession/internal/hw/sensor"
	"github.com/cjeanneret/camsession/internal/logic/geometry"
)

// update applies change to a copy of the parameters. Unchanged parameters
// are a no-op. Changing the camera selection reopens the device.
func (s *Session) update(ctx context.Context, name string, change func(p *Parameters)) error {
	return s.call(ctx, func() error {
		next := s.params
		change(&next)
		next = next.Normalize()
		if next.equal(s.params) {
			return nil
		}
		reselect := next.Facing != s.params.Facing || next.CameraID != s.params.CameraID
		s.params = next
		debug.Verbose("Session: %s changed", name)

		if s.dev == nil {
			return nil
		}
		if reselect {
			s.reopen = true
			return s.refresh()
		}
		return s.reconfigure()
	})
}

// SetParameters replaces every parameter at once.
func (s *Session) SetParameters(ctx context.Context, p Parameters) error {
	return s.update(ctx, "parameters", func(cur *Parameters) { *cur = p })
}

func (s *Session) SetFacing(ctx context.Context, f geometry.Facing) error {
	return s.update(ctx, "facing", func(p *Parameters) { p.Facing = f })
}

// SetCameraID selects a camera explicitly. An empty id selects by facing.
func (s *Session) SetCameraID(ctx context.Context, id string) error {
	return s.update(ctx, "camera id", func(p *Parameters) { p.CameraID = id })
}

func (s *Session) SetAspectRatio(ctx context.Context, r geometry.AspectRatio) error {
	return s.update(ctx, "aspect ratio", func(p *Parameters) { p.AspectRatio = r })
}

// SetPictureSize selects the still size. The zero size selects the
// largest one for the aspect ratio.
func (s *Session) SetPictureSize(ctx context.Context, size geometry.Size) error {
	return s.update(ctx, "picture size", func(p *Parameters) { p.PictureSize = size })
}

func (s *Session) SetFlash(ctx context.Context, m camera.FlashMode) error {
	return s.update(ctx, "flash", func(p *Parameters) { p.Flash = m })
}

// SetZoom takes a normalized zoom in [0,1].
func (s *Session) SetZoom(ctx context.Context, zoom float64) error {
	return s.update(ctx, "zoom", func(p *Parameters) { p.Zoom = zoom })
}

// SetExposure takes -1..1, -1 meaning automatic exposure.
func (s *Session) SetExposure(ctx context.Context, exposure float64) error {
	return s.update(ctx, "exposure", func(p *Parameters) { p.Exposure = exposure })
}

func (s *Session) SetWhiteBalance(ctx context.Context, wb camera.WhiteBalanceSetting) error {
	return s.update(ctx, "white balance", func(p *Parameters) { p.WhiteBalance = wb })
}

func (s *Session) SetAutoFocus(ctx context.Context, on bool) error {
	return s.update(ctx, "autofocus", func(p *Parameters) { p.AutoFocus = on })
}

// SetScanning turns the barcode scanner on or off.
func (s *Session) SetScanning(ctx context.Context, on bool) error {
	return s.update(ctx, "scanning", func(p *Parameters) { p.Scanning = on })
}

// SetOrientationLock takes OrientationAuto or 0, 90, 180, 270.
func (s *Session) SetOrientationLock(ctx context.Context, degrees int) error {
	return s.update(ctx, "orientation lock", func(p *Parameters) { p.OrientationLock = degrees })
}

// Parameters returns the current parameters.
func (s *Session) Parameters(ctx context.Context) (Parameters, error) {
	var p Parameters
	err := s.call(ctx, func() error {
		p = s.params
		return nil
	})
	return p, err
}

// withEngine runs fn with the open device's engine.
func (s *Session) withEngine(ctx context.Context, fn func(e *Engine)) error {
	return s.call(ctx, func() error {
		if s.engine == nil {
			return camera.ErrNotOpen
		}
		fn(s.engine)
		return nil
	})
}

// SupportedAspectRatios lists the ratios available in both preview and
// picture sizes.
func (s *Session) SupportedAspectRatios(ctx context.Context) ([]geometry.AspectRatio, error) {
	var out []geometry.AspectRatio
	err := s.withEngine(ctx, func(e *Engine) { out = e.Ratios() })
	return out, err
}

// SupportedPictureSizes lists the picture sizes of r.
func (s *Session) SupportedPictureSizes(ctx context.Context, r geometry.AspectRatio) ([]geometry.Size, error) {
	var out []geometry.Size
	err := s.withEngine(ctx, func(e *Engine) { out = e.PictureSizes(r) })
	return out, err
}

// SupportedPreviewFPSRanges lists the preview frame-rate ranges.
func (s *Session) SupportedPreviewFPSRanges(ctx context.Context) ([]sensor.FPSRange, error) {
	var out []sensor.FPSRange
	err := s.withEngine(ctx, func(e *Engine) { out = e.FPSRanges() })
	return out, err
}

// Info describes the open camera.
func (s *Session) Info(ctx context.Context) (CameraInfo, error) {
	var info CameraInfo
	err := s.withEngine(ctx, func(*Engine) { info = s.info() })
	return info, err
}
