package camera

import (
	"context"
	"fmt"
	"sync"

	"github.com/cjeanneret/camsession/internal/debug"
	"github.com/cjeanneret/camsession/internal/logic/geometry"
)

// State is the manager's device state.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpened
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpened:
		return "opened"
	default:
		return "unknown"
	}
}

// Manager owns at most one open device of a backend.
type Manager struct {
	backend Backend

	mu    sync.Mutex
	dev   Device
	state State
}

// NewManager returns a closed manager.
func NewManager(b Backend) *Manager {
	return &Manager{backend: b}
}

func (m *Manager) Backend() Backend { return m.backend }

// Descriptors lists the backend's cameras.
func (m *Manager) Descriptors() ([]Descriptor, error) {
	return m.backend.Descriptors()
}

// Open opens d, closing any device already open first. On failure the
// manager is left closed and a *MountError is returned.
func (m *Manager) Open(ctx context.Context, d Descriptor) (Device, error) {
	if err := m.Close(); err != nil {
		debug.Warn("Camera: closing previous device: %v", err)
	}

	m.setState(StateOpening)
	dev, err := m.backend.Open(ctx, d)
	if err != nil {
		m.setState(StateClosed)
		return nil, &MountError{Msg: fmt.Sprintf("cannot open camera %s", d.ID), Err: err}
	}

	m.mu.Lock()
	m.dev = dev
	m.state = StateOpened
	m.mu.Unlock()
	debug.Info("Camera %s opened with %s backend", d, m.backend.Name())
	return dev, nil
}

// Close closes the open device. Closing a closed manager is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	dev := m.dev
	m.dev = nil
	m.state = StateClosed
	m.mu.Unlock()
	if dev == nil {
		return nil
	}
	debug.Verbose("Camera %s closing", dev.Descriptor().ID)
	return dev.Close()
}

// Device returns the open device, or nil.
func (m *Manager) Device() Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dev
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// SelectDescriptor picks the camera to open. An explicit id must exist.
// Otherwise the first camera with the preferred facing wins, falling back
// to the first camera, whose facing the caller should adopt.
func SelectDescriptor(descs []Descriptor, id string, facing geometry.Facing) (Descriptor, error) {
	if len(descs) == 0 {
		return Descriptor{}, ErrNoDevice
	}
	if id != "" {
		for _, d := range descs {
			if d.ID == id {
				return d, nil
			}
		}
		return Descriptor{}, fmt.Errorf("%w: no camera with id %q", ErrNoDevice, id)
	}
	for _, d := range descs {
		if d.Facing == facing {
			return d, nil
		}
	}
	debug.Verbose("Camera: no %s camera, falling back to %s", facing, descs[0])
	return descs[0], nil
}
