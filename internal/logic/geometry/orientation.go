package geometry

import "fmt"

// Facing describes which way a sensor points relative to the display.
type Facing int

const (
	FacingBack Facing = iota
	FacingFront
)

func (f Facing) String() string {
	switch f {
	case FacingBack:
		return "back"
	case FacingFront:
		return "front"
	default:
		return fmt.Sprintf("facing(%d)", int(f))
	}
}

// ParseFacing accepts "back" or "front".
func ParseFacing(s string) (Facing, error) {
	switch s {
	case "back", "":
		return FacingBack, nil
	case "front":
		return FacingFront, nil
	default:
		return FacingBack, fmt.Errorf("unknown facing %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f Facing) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Facing) UnmarshalText(b []byte) error {
	v, err := ParseFacing(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// normalizeDegrees maps any integer angle into [0, 360).
func normalizeDegrees(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

// DisplayRotationDegrees converts a device rotation quadrant (0..3,
// counted clockwise) into degrees: 0, 90, 180 or 270.
func DisplayRotationDegrees(quadrant int) int {
	q := quadrant % 4
	if q < 0 {
		q += 4
	}
	return q * 90
}

// IsLandscape reports whether a rotation in degrees is 90 or 270.
func IsLandscape(degrees int) bool {
	d := normalizeDegrees(degrees)
	return d == 90 || d == 270
}

// CameraRotation combines the sensor mounting orientation with a reference
// rotation (device or display, in degrees).
//
// Back sensor:  (sensor + reference) mod 360
// Front sensor: the reference gets an extra 180° when it is landscape,
// since front sensors are mirrored relative to the screen.
func CameraRotation(sensorOrientation int, facing Facing, referenceDegrees int) int {
	ref := normalizeDegrees(referenceDegrees)
	if facing == FacingFront && IsLandscape(ref) {
		ref += 180
	}
	return normalizeDegrees(sensorOrientation + ref)
}

// SwapsDimensions reports whether a rotation turns width into height.
func SwapsDimensions(degrees int) bool {
	return IsLandscape(degrees)
}
