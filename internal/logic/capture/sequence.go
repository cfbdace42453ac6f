package capture

import (
	"errors"
	"time"

	"github.com/cjeanneret/camsession/internal/debug"
	"github.com/cjeanneret/camsession/internal/hw/camera"
	"github.com/cjeanneret/camsession/internal/metrics"
)

// Options selects how a capture converges.
type Options struct {
	AutoFocus bool
	FastMode  bool
	// Timeout forces the still capture when AF/AE has not converged in
	// time. Zero waits indefinitely.
	Timeout time.Duration
}

// Poster runs fn on the session executor.
type Poster func(fn func()) error

// Sequence drives one still capture through the convergence machine.
// Every method must run on the session executor; device callbacks are
// re-posted through post.
type Sequence struct {
	dev  camera.Device
	post Poster
	req  camera.StillRequest
	opts Options
	done func(camera.Still, error)

	machine  *Machine
	timer    *time.Timer
	started  time.Time
	captured bool
	finished bool
	visited  []State
}

// NewSequence prepares a capture of req on dev. done runs once, on the
// executor, with the still or a *camera.CaptureError.
func NewSequence(dev camera.Device, post Poster, req camera.StillRequest, opts Options, done func(camera.Still, error)) *Sequence {
	return &Sequence{
		dev:     dev,
		post:    post,
		req:     req,
		opts:    opts,
		done:    done,
		machine: NewMachine(),
	}
}

// Run starts the attempt.
func (s *Sequence) Run() {
	s.started = time.Now()
	act := s.machine.Start(s.opts.AutoFocus, s.opts.FastMode)
	if act != ActionCapture && s.opts.Timeout > 0 {
		s.timer = time.AfterFunc(s.opts.Timeout, func() {
			_ = s.post(s.expire)
		})
	}
	s.perform(act)
}

// OnResult advances the machine with a capture result.
func (s *Sequence) OnResult(r camera.Result) {
	if s.captured || s.finished {
		return
	}
	s.perform(s.machine.Advance(r))
}

func (s *Sequence) expire() {
	if s.captured || s.finished {
		return
	}
	debug.Warn("Capture: AF/AE did not converge within %v in %s, capturing anyway", s.opts.Timeout, s.machine.State())
	s.perform(s.machine.Expire())
}

func (s *Sequence) perform(act Action) {
	var err error
	switch act {
	case ActionTriggerAF:
		err = s.dev.Trigger(camera.TriggerAFStart)
	case ActionTriggerPrecapture:
		err = s.dev.Trigger(camera.TriggerAEPrecapture)
	case ActionCapture:
		s.captured = true
		s.stopTimer()
		metrics.ConvergenceDuration.Observe(time.Since(s.started).Seconds())
		err = s.dev.CaptureStill(s.req, func(still camera.Still, err error) {
			if postErr := s.post(func() { s.finish(still, err) }); postErr != nil {
				// The executor is gone; nobody else touches the sequence.
				s.finish(still, errors.Join(err, postErr))
			}
		})
	}
	if err != nil {
		s.finish(camera.Still{}, err)
	}
}

func (s *Sequence) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Sequence) finish(still camera.Still, err error) {
	if s.finished {
		return
	}
	s.finished = true
	s.stopTimer()
	s.visited = s.machine.History()
	s.machine.Reset()
	if s.opts.AutoFocus && !s.opts.FastMode {
		if cerr := s.dev.Trigger(camera.TriggerAFCancel); cerr != nil {
			debug.Verbose("Capture: cancel autofocus: %v", cerr)
		}
	}
	if err != nil {
		var ce *camera.CaptureError
		if !errors.As(err, &ce) {
			err = &camera.CaptureError{Err: err}
		}
		s.done(camera.Still{}, err)
		return
	}
	s.done(still, nil)
}

// Abort ends the attempt with err. A still already requested from the
// device is discarded when it arrives.
func (s *Sequence) Abort(err error) {
	s.finish(camera.Still{}, err)
}

// Done reports whether the attempt has ended.
func (s *Sequence) Done() bool { return s.finished }

// State returns the machine state.
func (s *Sequence) State() State { return s.machine.State() }

// History returns the states visited by this attempt.
func (s *Sequence) History() []State {
	if s.finished {
		return append([]State(nil), s.visited...)
	}
	return s.machine.History()
}
