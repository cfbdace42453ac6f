// Package torch drives a flash/torch LED wired to a single GPIO line.
package torch

import (
	"sync"
	"time"

	"github.com/cjeanneret/camsession/internal/debug"
	"github.com/cjeanneret/camsession/internal/hw/gpio"
)

// Unit is a flash LED: the line is active HIGH.
//
// A pulse (Fire) lights the LED for the configured duration around a still
// exposure. Torch mode keeps it lit until SetTorch(false).
type Unit struct {
	mu    sync.Mutex
	gpio  gpio.Driver
	pin   int
	pulse time.Duration
	torch bool
}

// New configures pin as an output and switches the LED off.
func New(g gpio.Driver, pin int, pulse time.Duration) (*Unit, error) {
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, err
	}
	if err := g.WritePin(pin, gpio.Low); err != nil {
		return nil, err
	}
	if pulse <= 0 {
		pulse = 150 * time.Millisecond
	}
	return &Unit{gpio: g, pin: pin, pulse: pulse}, nil
}

// SetTorch switches continuous light on or off.
func (u *Unit) SetTorch(on bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.torch == on {
		return nil
	}
	level := gpio.Low
	if on {
		level = gpio.High
	}
	debug.Verbose("Torch: pin %d -> %s", u.pin, level)
	if err := u.gpio.WritePin(u.pin, level); err != nil {
		return err
	}
	u.torch = on
	return nil
}

// Torch reports whether continuous light is on.
func (u *Unit) Torch() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.torch
}

// Fire lights the LED, runs expose, then restores the previous state.
// In torch mode the LED is already lit and only expose runs.
func (u *Unit) Fire(expose func() error) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.torch {
		return expose()
	}

	debug.Verbose("Flash: firing pin %d for %v", u.pin, u.pulse)
	if err := u.gpio.WritePin(u.pin, gpio.High); err != nil {
		return err
	}
	start := time.Now()
	exposeErr := expose()
	if rest := u.pulse - time.Since(start); rest > 0 {
		time.Sleep(rest)
	}
	if err := u.gpio.WritePin(u.pin, gpio.Low); err != nil && exposeErr == nil {
		return err
	}
	return exposeErr
}

// Close switches the LED off.
func (u *Unit) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.torch = false
	return u.gpio.WritePin(u.pin, gpio.Low)
}
