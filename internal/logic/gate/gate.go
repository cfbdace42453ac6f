// Package gate holds the capturing/recording flags of one camera.
//
// Both flags live in a single atomic word so that "capturing and recording"
// can never be observed at the same time, even under concurrent attempts.
package gate

import "sync/atomic"

// Mode is the operation currently holding the camera.
type Mode int32

const (
	Idle Mode = iota
	Capturing
	Recording
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Recording:
		return "recording"
	default:
		return "unknown"
	}
}

// Gate arbitrates still capture against recording.
type Gate struct {
	mode atomic.Int32
}

// TryCapture moves Idle -> Capturing. It returns the mode that blocked it
// when it fails.
func (g *Gate) TryCapture() (Mode, bool) {
	return g.try(Capturing)
}

// TryRecord moves Idle -> Recording.
func (g *Gate) TryRecord() (Mode, bool) {
	return g.try(Recording)
}

func (g *Gate) try(to Mode) (Mode, bool) {
	if g.mode.CompareAndSwap(int32(Idle), int32(to)) {
		return to, true
	}
	return Mode(g.mode.Load()), false
}

// Release returns to Idle if the gate is held by m. It reports whether it
// did so.
func (g *Gate) Release(m Mode) bool {
	return g.mode.CompareAndSwap(int32(m), int32(Idle))
}

// Mode returns the current mode.
func (g *Gate) Mode() Mode {
	return Mode(g.mode.Load())
}

// Capturing reports whether a still capture is in flight.
func (g *Gate) Capturing() bool {
	return g.Mode() == Capturing
}

// Recording reports whether a recording is in progress.
func (g *Gate) Recording() bool {
	return g.Mode() == Recording
}

// Busy reports whether any operation holds the gate.
func (g *Gate) Busy() bool {
	return g.Mode() != Idle
}
