package capture

import (
	"github.com/cjeanneret/camsession/internal/debug"
	"github.com/cjeanneret/camsession/internal/hw/camera"
	"github.com/cjeanneret/camsession/internal/hw/sensor"
)

// State is the focus/exposure convergence state of one capture attempt.
type State int

const (
	StatePreview State = iota
	StateLocking
	StateLocked
	StatePrecapture
	StateWaiting
	StateCapturing
)

func (s State) String() string {
	switch s {
	case StatePreview:
		return "PREVIEW"
	case StateLocking:
		return "LOCKING"
	case StateLocked:
		return "LOCKED"
	case StatePrecapture:
		return "PRECAPTURE"
	case StateWaiting:
		return "WAITING"
	case StateCapturing:
		return "CAPTURING"
	default:
		return "UNKNOWN"
	}
}

// Action is what the device must do after a transition.
type Action int

const (
	ActionNone Action = iota
	ActionTriggerAF
	ActionTriggerPrecapture
	ActionCapture
)

// Machine is the convergence state machine. It holds no device and is not
// safe for concurrent use.
type Machine struct {
	state   State
	history []State
}

// NewMachine returns a machine in PREVIEW.
func NewMachine() *Machine {
	return &Machine{history: []State{StatePreview}}
}

func (m *Machine) State() State { return m.state }

// History lists every state entered since the last Reset, starting with
// PREVIEW.
func (m *Machine) History() []State {
	return append([]State(nil), m.history...)
}

func (m *Machine) to(s State) {
	debug.Transition("capture", m.state, s)
	m.state = s
	m.history = append(m.history, s)
}

// Start handles a capture request. With autofocus the lens is locked
// first; otherwise, or in fast mode, the still is taken right away.
func (m *Machine) Start(autoFocus, fastMode bool) Action {
	if m.state != StatePreview {
		return ActionNone
	}
	if autoFocus && !fastMode {
		m.to(StateLocking)
		return ActionTriggerAF
	}
	m.to(StateCapturing)
	return ActionCapture
}

// exposureReady treats a missing AE report as converged.
func exposureReady(ae sensor.AEState) bool {
	return ae == sensor.AENone || ae == sensor.AEConverged
}

// Advance feeds one partial or complete capture result.
func (m *Machine) Advance(r camera.Result) Action {
	switch m.state {
	case StateLocking:
		if !r.AF.Locked() {
			return ActionNone
		}
		if exposureReady(r.AE) {
			m.to(StateCapturing)
			return ActionCapture
		}
		m.to(StateLocked)
		m.to(StatePrecapture)
		return ActionTriggerPrecapture

	case StatePrecapture:
		switch r.AE {
		case sensor.AENone, sensor.AEPrecapture, sensor.AEFlashRequired, sensor.AEConverged:
			m.to(StateWaiting)
		}
		return ActionNone

	case StateWaiting:
		if r.AE != sensor.AEPrecapture {
			m.to(StateCapturing)
			return ActionCapture
		}
	}
	return ActionNone
}

// Expire forces the capture when convergence takes too long.
func (m *Machine) Expire() Action {
	switch m.state {
	case StateLocking, StateLocked, StatePrecapture, StateWaiting:
		m.to(StateCapturing)
		return ActionCapture
	}
	return ActionNone
}

// Reset returns to PREVIEW and clears the history.
func (m *Machine) Reset() {
	if m.state != StatePreview {
		debug.Transition("capture", m.state, StatePreview)
	}
	m.state = StatePreview
	m.history = []State{StatePreview}
}
