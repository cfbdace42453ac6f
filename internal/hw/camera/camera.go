// Package camera is the device layer: it opens one image-capture device
// through one of two backend generations and exposes it as a Device,
// regardless of how the hardware is driven underneath.
package camera

import (
	"context"
	"fmt"
	"strings"

	"github.com/cjeanneret/camsession/internal/hw/recorder"
	"github.com/cjeanneret/camsession/internal/hw/sensor"
	"github.com/cjeanneret/camsession/internal/logic/geometry"
)

// Descriptor identifies one camera. Immutable once enumerated.
type Descriptor struct {
	ID          string          `json:"id"`
	Facing      geometry.Facing `json:"facing"`
	Orientation int             `json:"orientation"` // sensor mounting orientation in degrees
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%s, %d°)", d.ID, d.Facing, d.Orientation)
}

// Capabilities are the only backend differences callers may branch on.
type Capabilities struct {
	NativeZoomRange      bool `json:"nativeZoomRange"`
	ExposureCompensation bool `json:"exposureCompensation"`
	PauseRecording       bool `json:"pauseRecording"`
	Audio                bool `json:"audio"`
	// Metering is set when the device reports AF/AE state, which the
	// still-capture convergence sequence needs.
	Metering bool `json:"metering"`
}

// Characteristics lists the supported values of an opened device.
type Characteristics struct {
	PreviewSizes      []geometry.Size
	PictureSizes      []geometry.Size
	FPSRanges         []sensor.FPSRange
	FlashModes        []FlashMode
	WhiteBalanceModes []WhiteBalance
	MaxZoom           float64 // largest zoom ratio, 1 when zoom is unsupported
	MinExposure       int     // exposure compensation index range, 0..0 when unsupported
	MaxExposure       int
}

// SupportsFlash reports whether m is in the supported set.
func (c Characteristics) SupportsFlash(m FlashMode) bool {
	for _, f := range c.FlashModes {
		if f == m {
			return true
		}
	}
	return false
}

// SupportsWhiteBalance reports whether m is in the supported set.
func (c Characteristics) SupportsWhiteBalance(m WhiteBalance) bool {
	for _, w := range c.WhiteBalanceModes {
		if w == m {
			return true
		}
	}
	return false
}

// FlashMode is the flash setting.
type FlashMode int

const (
	FlashOff FlashMode = iota
	FlashOn
	FlashTorch
	FlashAuto
	FlashRedEye
)

var flashNames = []string{"off", "on", "torch", "auto", "redEye"}

func (m FlashMode) String() string {
	if int(m) < 0 || int(m) >= len(flashNames) {
		return "unknown"
	}
	return flashNames[m]
}

// ParseFlashMode accepts the String form, case-insensitively.
func ParseFlashMode(s string) (FlashMode, error) {
	for i, n := range flashNames {
		if strings.EqualFold(n, s) {
			return FlashMode(i), nil
		}
	}
	return FlashOff, fmt.Errorf("unknown flash mode %q", s)
}

func (m FlashMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *FlashMode) UnmarshalText(b []byte) error {
	v, err := ParseFlashMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// WhiteBalance is a white-balance preset.
type WhiteBalance int

const (
	WBAuto WhiteBalance = iota
	WBSunny
	WBCloudy
	WBShadow
	WBFluorescent
	WBIncandescent
)

var wbNames = []string{"auto", "sunny", "cloudy", "shadow", "fluorescent", "incandescent"}

func (w WhiteBalance) String() string {
	if int(w) < 0 || int(w) >= len(wbNames) {
		return "unknown"
	}
	return wbNames[w]
}

// ParseWhiteBalance accepts the String form, case-insensitively.
func ParseWhiteBalance(s string) (WhiteBalance, error) {
	for i, n := range wbNames {
		if strings.EqualFold(n, s) {
			return WhiteBalance(i), nil
		}
	}
	return WBAuto, fmt.Errorf("unknown white balance %q", s)
}

func (w WhiteBalance) MarshalText() ([]byte, error) { return []byte(w.String()), nil }

func (w *WhiteBalance) UnmarshalText(b []byte) error {
	v, err := ParseWhiteBalance(string(b))
	if err != nil {
		return err
	}
	*w = v
	return nil
}

// WhiteBalanceSetting is a preset with an optional explicit override.
// Temperature (kelvin) takes precedence over Gains, which take precedence
// over Mode. Backends without manual control use Mode.
type WhiteBalanceSetting struct {
	Mode        WhiteBalance `json:"mode"`
	Temperature int          `json:"temperature,omitempty"`
	Gains       *Gains       `json:"gains,omitempty"`
}

// Gains are per-channel white-balance multipliers.
type Gains struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// Manual reports whether an explicit override is set.
func (s WhiteBalanceSetting) Manual() bool {
	return s.Temperature > 0 || s.Gains != nil
}

// Trigger is a one-shot metering command.
type Trigger int

const (
	TriggerAFStart Trigger = iota
	TriggerAFCancel
	TriggerAEPrecapture
)

func (t Trigger) String() string {
	switch t {
	case TriggerAFStart:
		return "af-start"
	case TriggerAFCancel:
		return "af-cancel"
	case TriggerAEPrecapture:
		return "ae-precapture"
	default:
		return "unknown"
	}
}

// Result is a capture result reported while previewing. AE is
// sensor.AENone when the backend does not report exposure state.
type Result struct {
	Partial bool
	AF      sensor.AFState
	AE      sensor.AEState
}

// Sink receives preview output. Both callbacks run on a backend goroutine.
type Sink struct {
	OnFrame  func(sensor.Frame)
	OnResult func(Result)
}

// StillRequest describes one still capture.
type StillRequest struct {
	Size     geometry.Size
	Quality  int // JPEG quality 1..100
	Rotation int
}

// Still is an encoded picture. Rotation is the orientation the image must
// be displayed at; pixels are not rotated.
type Still struct {
	JPEG     []byte
	Width    int
	Height   int
	Rotation int
}

// Editor collects one reconfiguration. Callers set values in the order
// sizes, rotation, focus, flash, exposure, zoom, white balance, scanning
// and then Commit. Sizes may only change while preview is stopped.
type Editor interface {
	SetSizes(preview, picture geometry.Size)
	SetRotation(degrees int)
	SetFocus(auto bool)
	SetFlash(m FlashMode)
	SetExposure(index int)
	// SetZoom takes a normalized zoom in [0,1].
	SetZoom(zoom float64)
	SetWhiteBalance(wb WhiteBalanceSetting)
	SetScanning(on bool)
	Commit() error
}

// Device is an opened camera. Methods may be called from any goroutine
// but the session serializes mutation.
type Device interface {
	Descriptor() Descriptor
	Capabilities() Capabilities
	Characteristics() Characteristics

	Edit() Editor

	StartPreview(sink Sink) error
	StopPreview() error
	Previewing() bool
	Trigger(t Trigger) error
	// CaptureStill returns immediately; done runs on a backend goroutine.
	CaptureStill(req StillRequest, done func(Still, error)) error

	StartRecording(cfg recorder.Config) error
	StopRecording() (recorder.Result, error)
	PauseRecording() error
	ResumeRecording() error

	// Close waits for pending still captures to call back.
	Close() error
}

// Backend is one hardware API generation.
type Backend interface {
	Name() string
	Descriptors() ([]Descriptor, error)
	Open(ctx context.Context, d Descriptor) (Device, error)
}

// NewBackend selects a backend by name: "legacy" or "request".
func NewBackend(name string, drv sensor.Driver, opts ...Option) (Backend, error) {
	switch name {
	case "legacy":
		return NewLegacy(drv, opts...), nil
	case "request", "":
		return NewRequest(drv, opts...), nil
	default:
		return nil, fmt.Errorf("unknown camera backend %q (want legacy or request)", name)
	}
}

func descriptorsFrom(drv sensor.Driver) ([]Descriptor, error) {
	infos, err := drv.Enumerate()
	if err != nil {
		return nil, err
	}
	out := make([]Descriptor, len(infos))
	for i, info := range infos {
		out[i] = Descriptor{ID: info.ID, Facing: info.Facing, Orientation: info.Orientation}
	}
	return out, nil
}
