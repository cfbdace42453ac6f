package session

import (
	"math"

	"github.com/cjeanneret/camsession/internal/hw/camera"
	"github.com/cjeanneret/camsession/internal/logic/geometry"
)

// OrientationAuto leaves orientation to the device rotation.
const OrientationAuto = -1

// ExposureAuto lets the device meter exposure on its own.
const ExposureAuto = -1.0

// Parameters is the session's configuration. They persist across
// Start/Stop and are reapplied whenever the device is reopened.
type Parameters struct {
	Facing   geometry.Facing `json:"facing"`
	CameraID string          `json:"cameraId,omitempty"`

	AspectRatio  geometry.AspectRatio       `json:"aspectRatio"`
	PictureSize  geometry.Size              `json:"pictureSize"` // zero: largest for the ratio
	Flash        camera.FlashMode           `json:"flash"`
	Zoom         float64                    `json:"zoom"`     // 0..1
	Exposure     float64                    `json:"exposure"` // -1..1, -1 is auto
	WhiteBalance camera.WhiteBalanceSetting `json:"whiteBalance"`
	AutoFocus    bool                       `json:"autoFocus"`
	Scanning     bool                       `json:"scanning"`
	// OrientationLock is OrientationAuto or 0, 90, 180, 270.
	OrientationLock int `json:"orientationLock"`
}

// DefaultParameters is a back camera at 4:3 with autofocus.
func DefaultParameters() Parameters {
	return Parameters{
		Facing:          geometry.FacingBack,
		AspectRatio:     geometry.DefaultAspectRatio,
		Flash:           camera.FlashOff,
		Exposure:        ExposureAuto,
		WhiteBalance:    camera.WhiteBalanceSetting{Mode: camera.WBAuto},
		AutoFocus:       true,
		OrientationLock: OrientationAuto,
	}
}

// Normalize clamps out-of-range values.
func (p Parameters) Normalize() Parameters {
	p.Zoom = math.Max(0, math.Min(1, p.Zoom))
	if p.Exposure < -1 {
		p.Exposure = ExposureAuto
	}
	p.Exposure = math.Min(1, p.Exposure)
	switch p.OrientationLock {
	case OrientationAuto, 0, 90, 180, 270:
	default:
		p.OrientationLock = OrientationAuto
	}
	return p
}

func sameWhiteBalance(a, b camera.WhiteBalanceSetting) bool {
	if a.Mode != b.Mode || a.Temperature != b.Temperature {
		return false
	}
	if a.Gains == nil || b.Gains == nil {
		return a.Gains == b.Gains
	}
	return *a.Gains == *b.Gains
}

func (p Parameters) equal(o Parameters) bool {
	if !sameWhiteBalance(p.WhiteBalance, o.WhiteBalance) {
		return false
	}
	p.WhiteBalance, o.WhiteBalance = camera.WhiteBalanceSetting{}, camera.WhiteBalanceSetting{}
	return p == o
}
