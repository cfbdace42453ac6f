// Package record runs video recordings on an opened camera. It shares the
// capture gate with still capture so that both never run together.
package record

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/camsession/internal/debug"
	"github.com/cjeanneret/camsession/internal/hw/camera"
	"github.com/cjeanneret/camsession/internal/hw/recorder"
	"github.com/cjeanneret/camsession/internal/logic/gate"
	"github.com/cjeanneret/camsession/internal/metrics"
)

var ErrNotRecording = errors.New("not recording")

// Session describes one recording. It exists only while recording.
type Session struct {
	ID          string        `json:"id"`
	Path        string        `json:"path"`
	MaxDuration time.Duration `json:"maxDuration"`
	MaxFileSize int64         `json:"maxFileSize"`
	FPS         int           `json:"fps"`
	Codec       string        `json:"codec"`
	RecordAudio bool          `json:"recordAudio"`
	Quality     int           `json:"quality"`

	// LockedOrientation is the video orientation, fixed at start.
	LockedOrientation int `json:"videoOrientation"`
	// DeviceOrientation is the device rotation at start.
	DeviceOrientation int `json:"deviceOrientation"`
}

// Outcome is reported when a recording ends. Path is empty when no file
// was produced, and Missing tells why.
type Outcome struct {
	ID                string        `json:"id"`
	Path              string        `json:"path,omitempty"`
	Missing           string        `json:"missing,omitempty"`
	VideoOrientation  int           `json:"videoOrientation"`
	DeviceOrientation int           `json:"deviceOrientation"`
	Frames            int           `json:"frames"`
	Bytes             int64         `json:"bytes"`
	Duration          time.Duration `json:"duration"`
	Reason            string        `json:"reason"`
}

// Listener receives recording events.
type Listener interface {
	RecordingStarted(s Session)
	RecordingEnded()
	VideoRecorded(o Outcome)
}

// Controller starts and stops recordings. Start, Stop, Pause and Resume
// are expected to run on the session executor.
type Controller struct {
	gate     *gate.Gate
	listener Listener

	mu     sync.Mutex
	dev    camera.Device
	active *Session
}

// NewController shares g with the still-capture path.
func NewController(g *gate.Gate, l Listener) *Controller {
	return &Controller{gate: g, listener: l}
}

// Start begins recording s on dev. orientation is the video orientation to
// lock and deviceRotation the current device rotation, both in degrees.
// onLimit is called from the recorder goroutine when a limit is reached.
func (c *Controller) Start(dev camera.Device, s Session, orientation, deviceRotation int, onLimit func(recorder.Reason)) error {
	if held, ok := c.gate.TryRecord(); !ok {
		metrics.Recordings.WithLabelValues("rejected").Inc()
		if held == gate.Capturing {
			return camera.ErrAlreadyCapturing
		}
		return camera.ErrAlreadyRecording
	}

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.LockedOrientation = orientation
	s.DeviceOrientation = deviceRotation
	if s.RecordAudio && !dev.Capabilities().Audio {
		debug.Warn("Recording: audio is not supported by this device, recording video only")
		metrics.ConfigFallbacks.WithLabelValues("recordAudio").Inc()
		s.RecordAudio = false
	}

	err := dev.StartRecording(recorder.Config{
		Path:        s.Path,
		MaxDuration: s.MaxDuration,
		MaxFileSize: s.MaxFileSize,
		FPS:         s.FPS,
		Codec:       s.Codec,
		Quality:     s.Quality,
		OnLimit:     onLimit,
	})
	if err != nil {
		c.gate.Release(gate.Recording)
		metrics.Recordings.WithLabelValues("failed").Inc()
		return &camera.RecordingError{Err: err}
	}

	c.mu.Lock()
	c.dev = dev
	c.active = &s
	c.mu.Unlock()
	metrics.Recordings.WithLabelValues("started").Inc()
	debug.Info("Recording %s to %s (orientation %d°)", s.ID, s.Path, s.LockedOrientation)
	if c.listener != nil {
		c.listener.RecordingStarted(s)
	}
	return nil
}

// Active returns the running recording, if any.
func (c *Controller) Active() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return Session{}, false
	}
	return *c.active, true
}

// Stop flushes the recorder and releases the gate. The outcome is also
// returned, with an empty Path when the output file is absent.
func (c *Controller) Stop() (Outcome, error) {
	c.mu.Lock()
	dev, s := c.dev, c.active
	c.dev, c.active = nil, nil
	c.mu.Unlock()
	if s == nil {
		return Outcome{}, ErrNotRecording
	}

	res, stopErr := dev.StopRecording()
	c.gate.Release(gate.Recording)

	out := Outcome{
		ID:                s.ID,
		Path:              s.Path,
		VideoOrientation:  s.LockedOrientation,
		DeviceOrientation: s.DeviceOrientation,
		Frames:            res.Frames,
		Bytes:             res.Bytes,
		Duration:          res.Duration,
		Reason:            res.Reason.String(),
	}
	if stopErr != nil {
		out.Reason = stopErr.Error()
	}
	if missing := checkOutput(s.Path); missing != "" {
		debug.Warn("Recording %s: %s", s.ID, missing)
		out.Path = ""
		out.Missing = missing
	}

	switch {
	case stopErr != nil:
		metrics.Recordings.WithLabelValues("failed").Inc()
	case out.Path == "":
		metrics.Recordings.WithLabelValues("missing").Inc()
	default:
		metrics.Recordings.WithLabelValues("completed").Inc()
	}
	debug.Info("Recording %s ended: %d frames, %v (%s)", s.ID, out.Frames, out.Duration, out.Reason)

	if c.listener != nil {
		c.listener.RecordingEnded()
		c.listener.VideoRecorded(out)
	}
	if stopErr != nil {
		return out, &camera.RecordingError{Err: stopErr}
	}
	return out, nil
}

func checkOutput(path string) string {
	fi, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "output file was not created"
	case err != nil:
		return fmt.Sprintf("output file unreadable: %v", err)
	case fi.IsDir():
		return "output path is a directory"
	}
	return ""
}

// Pause suspends the recording. Devices without pause support ignore it.
func (c *Controller) Pause() error {
	return c.pauseResume(true)
}

// Resume continues a paused recording. Devices without pause support
// ignore it.
func (c *Controller) Resume() error {
	return c.pauseResume(false)
}

func (c *Controller) pauseResume(pause bool) error {
	c.mu.Lock()
	dev := c.dev
	c.mu.Unlock()
	if dev == nil {
		return ErrNotRecording
	}
	if !dev.Capabilities().PauseRecording {
		debug.Verbose("Recording: pause/resume not supported, ignored")
		return nil
	}
	var err error
	if pause {
		err = dev.PauseRecording()
	} else {
		err = dev.ResumeRecording()
	}
	if err != nil {
		return &camera.RecordingError{Err: err}
	}
	return nil
}
