package web

import (
	"sync"

	"github.com/cjeanneret/camsession/internal/logic/decode"
	"github.com/cjeanneret/camsession/internal/logic/record"
	"github.com/cjeanneret/camsession/internal/logic/session"
)

// Event names on the status stream.
const (
	EventMountError       = "mountError"
	EventCameraReady      = "cameraReady"
	EventPictureTaken     = "pictureTaken"
	EventRecordingStarted = "recordingStarted"
	EventRecordingEnded   = "recordingEnded"
	EventVideoRecorded    = "videoRecorded"
	EventBarcodes         = "barcodesDetected"
)

// Events publishes session events to SSE clients and keeps the latest
// picture for GET /camera/picture/latest.
type Events struct {
	b *StatusBroadcaster

	mu     sync.Mutex
	latest session.Picture
}

// NewEvents returns a session.Listener backed by b.
func NewEvents(b *StatusBroadcaster) *Events {
	return &Events{b: b}
}

func (e *Events) OnMountError(msg string) {
	e.b.Publish(EventMountError, map[string]string{"message": msg})
}

func (e *Events) OnCameraReady(info session.CameraInfo) {
	e.b.Publish(EventCameraReady, info)
}

func (e *Events) OnPictureTaken(p session.Picture) {
	e.mu.Lock()
	e.latest = p
	e.mu.Unlock()
	e.b.Publish(EventPictureTaken, p)
}

func (e *Events) OnRecordingStarted(s record.Session) {
	e.b.Publish(EventRecordingStarted, s)
}

func (e *Events) OnRecordingEnded() {
	e.b.Publish(EventRecordingEnded, struct{}{})
}

func (e *Events) OnVideoRecorded(o record.Outcome) {
	e.b.Publish(EventVideoRecorded, o)
}

func (e *Events) OnBarcodes(d decode.Detection) {
	e.b.Publish(EventBarcodes, d)
}

// Latest returns the last picture taken.
func (e *Events) Latest() (session.Picture, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest, e.latest.ID != ""
}
