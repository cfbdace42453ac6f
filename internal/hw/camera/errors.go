package camera

import (
	"errors"
	"fmt"
)

// ErrCaptureRejected is matched by every synchronous rejection of a capture
// or recording request. The device stays usable.
var ErrCaptureRejected = errors.New("capture rejected")

var (
	ErrAlreadyCapturing    = fmt.Errorf("%w: already capturing", ErrCaptureRejected)
	ErrRecordingInProgress = fmt.Errorf("%w: recording in progress", ErrCaptureRejected)
	ErrPreviewPaused       = fmt.Errorf("%w: preview is paused", ErrCaptureRejected)
	ErrAlreadyRecording    = fmt.Errorf("%w: already recording", ErrCaptureRejected)
)

var (
	ErrNotOpen  = errors.New("camera is not open")
	ErrNoDevice = errors.New("no camera available")
	ErrClosed   = errors.New("device closed")
)

// MountError reports that the device could not be opened or configured.
// It is fatal until the caller changes facing or id and retries.
type MountError struct {
	Msg string
	Err error
}

func (e *MountError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *MountError) Unwrap() error { return e.Err }

// CaptureError is a backend failure during a still capture.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string { return "capture failed: " + e.Err.Error() }

func (e *CaptureError) Unwrap() error { return e.Err }

// RecordingError is a recorder setup or IO failure.
type RecordingError struct {
	Err error
}

func (e *RecordingError) Error() string { return "recording failed: " + e.Err.Error() }

func (e *RecordingError) Unwrap() error { return e.Err }
