package session

import (
	"github.com/cjeanneret/camsession/internal/hw/camera"
	"github.com/cjeanneret/camsession/internal/logic/decode"
	"github.com/cjeanneret/camsession/internal/logic/record"
)

// CameraInfo is reported once the device is open and configured.
type CameraInfo struct {
	Descriptor   camera.Descriptor   `json:"descriptor"`
	Backend      string              `json:"backend"`
	Capabilities camera.Capabilities `json:"capabilities"`
	Negotiated
}

// Picture is a finished still capture.
type Picture struct {
	ID          string `json:"id"`
	JPEG        []byte `json:"-"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Orientation int    `json:"orientation"`
}

// Listener receives session events. Methods run on the session executor
// or, for barcodes, on a dispatcher goroutine, and must not block.
type Listener interface {
	OnMountError(msg string)
	OnCameraReady(info CameraInfo)
	OnPictureTaken(p Picture)
	OnRecordingStarted(s record.Session)
	OnRecordingEnded()
	OnVideoRecorded(o record.Outcome)
	OnBarcodes(d decode.Detection)
}

// NopListener ignores every event. Embed it to implement a subset.
type NopListener struct{}

func (NopListener) OnMountError(string)               {}
func (NopListener) OnCameraReady(CameraInfo)          {}
func (NopListener) OnPictureTaken(Picture)            {}
func (NopListener) OnRecordingStarted(record.Session) {}
func (NopListener) OnRecordingEnded()                 {}
func (NopListener) OnVideoRecorded(record.Outcome)    {}
func (NopListener) OnBarcodes(decode.Detection)       {}

// recordEvents forwards recording controller events.
type recordEvents struct {
	l Listener
}

func (r recordEvents) RecordingStarted(s record.Session) { r.l.OnRecordingStarted(s) }
func (r recordEvents) RecordingEnded()                   { r.l.OnRecordingEnded() }
func (r recordEvents) VideoRecorded(o record.Outcome)    { r.l.OnVideoRecorded(o) }
