// Package sensor talks to the image-capture hardware: it enumerates
// sensors, streams frames and, where the hardware can, reports autofocus
// and auto-exposure state.
//
// Two drivers exist: Virtual (synthetic frames, simulated AF/AE) and V4L2
// (Linux video devices, MJPEG, no metering).
package sensor

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/camsession/internal/logic/geometry"
)

var (
	// ErrNotFound is returned when opening an unknown sensor id.
	ErrNotFound = errors.New("sensor not found")
	// ErrStreaming is returned when reconfiguring a running stream.
	ErrStreaming = errors.New("stream is running")
	// ErrNotStreaming is returned when a frame is requested from a stopped stream.
	ErrNotStreaming = errors.New("stream is not running")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("stream closed")
)

// Info describes one sensor. It is immutable once enumerated.
type Info struct {
	ID          string
	Name        string
	Facing      geometry.Facing
	Orientation int // mounting orientation in degrees
}

// FPSRange is a supported preview frame-rate range.
type FPSRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (r FPSRange) String() string {
	return fmt.Sprintf("[%d,%d]", r.Min, r.Max)
}

// Format selects the streaming resolution and rate.
type Format struct {
	Size geometry.Size
	FPS  int
}

// Driver enumerates and opens sensors.
type Driver interface {
	Enumerate() ([]Info, error)
	Open(id string) (Stream, error)
}

// Stream is an opened sensor.
type Stream interface {
	Info() Info
	PreviewSizes() []geometry.Size
	PictureSizes() []geometry.Size
	FPSRanges() []FPSRange

	// Configure may only be called while stopped.
	Configure(f Format) error
	// Start begins delivering frames to deliver, on a driver goroutine.
	Start(deliver func(Frame)) error
	Stop() error
	// Still returns one full-resolution frame at size.
	Still(size geometry.Size) (Frame, error)
	Close() error
}

// Metering is implemented by streams whose hardware reports AF/AE state.
type Metering interface {
	TriggerFocus()
	CancelFocus()
	TriggerPrecapture()
	Report() Report
}
