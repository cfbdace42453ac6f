package sensor

import "sync"

// AFState is the autofocus state reported with a capture result.
type AFState int

const (
	AFInactive AFState = iota
	AFPassiveScan
	AFPassiveFocused
	AFActiveScan
	AFFocusedLocked
	AFNotFocusedLocked
)

func (s AFState) String() string {
	switch s {
	case AFInactive:
		return "inactive"
	case AFPassiveScan:
		return "passive-scan"
	case AFPassiveFocused:
		return "passive-focused"
	case AFActiveScan:
		return "active-scan"
	case AFFocusedLocked:
		return "focused-locked"
	case AFNotFocusedLocked:
		return "not-focused-locked"
	default:
		return "unknown"
	}
}

// Locked reports whether the lens finished an AF scan and holds its position.
func (s AFState) Locked() bool {
	return s == AFFocusedLocked || s == AFNotFocusedLocked
}

// AEState is the auto-exposure state. AENone means the hardware did not
// report one.
type AEState int

const (
	AENone AEState = iota
	AEInactive
	AESearching
	AEConverged
	AELocked
	AEFlashRequired
	AEPrecapture
)

func (s AEState) String() string {
	switch s {
	case AENone:
		return "none"
	case AEInactive:
		return "inactive"
	case AESearching:
		return "searching"
	case AEConverged:
		return "converged"
	case AELocked:
		return "locked"
	case AEFlashRequired:
		return "flash-required"
	case AEPrecapture:
		return "precapture"
	default:
		return "unknown"
	}
}

// Report is a snapshot of AF/AE state.
type Report struct {
	AF AFState
	AE AEState
}

// Simulator models a lens and exposure loop that converge after a fixed
// number of frames. Tick is called once per streamed frame.
type Simulator struct {
	mu             sync.Mutex
	focusFrames    int
	exposureFrames int
	flashRequired  bool
	focusFails     bool

	af          AFState
	ae          AEState
	afRemaining int
	aeRemaining int
}

// SimulatorConfig tunes convergence.
type SimulatorConfig struct {
	FocusFrames    int  // frames from AF trigger to lock
	ExposureFrames int  // frames for AE to converge (initially and after precapture)
	FlashRequired  bool // AE ends in flash-required instead of converged
	FocusFails     bool // AF locks without focus
}

// NewSimulator returns a simulator with AE searching.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	s := &Simulator{
		focusFrames:    cfg.FocusFrames,
		exposureFrames: cfg.ExposureFrames,
		flashRequired:  cfg.FlashRequired,
		focusFails:     cfg.FocusFails,
		af:             AFInactive,
		ae:             AESearching,
		aeRemaining:    cfg.ExposureFrames,
	}
	if s.aeRemaining <= 0 {
		s.ae = s.settledAE()
	}
	return s
}

func (s *Simulator) settledAE() AEState {
	if s.flashRequired {
		return AEFlashRequired
	}
	return AEConverged
}

func (s *Simulator) settledAF() AFState {
	if s.focusFails {
		return AFNotFocusedLocked
	}
	return AFFocusedLocked
}

// TriggerFocus starts an active AF scan.
func (s *Simulator) TriggerFocus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.af = AFActiveScan
	s.afRemaining = s.focusFrames
	if s.afRemaining <= 0 {
		s.af = s.settledAF()
	}
}

// CancelFocus unlocks the lens.
func (s *Simulator) CancelFocus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.af = AFInactive
	s.afRemaining = 0
}

// TriggerPrecapture starts the AE precapture metering sequence.
func (s *Simulator) TriggerPrecapture() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ae = AEPrecapture
	s.aeRemaining = s.exposureFrames
	if s.aeRemaining <= 0 {
		s.ae = s.settledAE()
	}
}

// Tick advances one frame.
func (s *Simulator) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.af == AFActiveScan {
		s.afRemaining--
		if s.afRemaining <= 0 {
			s.af = s.settledAF()
		}
	}
	if s.ae == AESearching || s.ae == AEPrecapture {
		s.aeRemaining--
		if s.aeRemaining <= 0 {
			s.ae = s.settledAE()
		}
	}
}

// Report returns the current state.
func (s *Simulator) Report() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Report{AF: s.af, AE: s.ae}
}
