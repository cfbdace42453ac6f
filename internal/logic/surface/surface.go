// Package surface models the drawable preview target. It owns the target
// size and lifecycle and knows nothing about the camera device.
package surface

import (
	"sync"

	"github.com/cjeanneret/camsession/internal/debug"
	"github.com/cjeanneret/camsession/internal/logic/geometry"
)

// Callback is notified of lifecycle changes. Methods run on the goroutine
// that changed the surface.
type Callback interface {
	OnSurfaceChanged(size geometry.Size)
	OnSurfaceDestroyed()
}

// Surface is safe for concurrent use.
type Surface struct {
	mu       sync.Mutex
	size     geometry.Size
	rotation int // display rotation quadrant, 0..3
	cb       Callback
}

// New returns a surface that is not laid out yet.
func New() *Surface {
	return &Surface{}
}

// SetCallback installs cb, replacing the previous one. Nil removes it.
func (s *Surface) SetCallback(cb Callback) {
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
}

// SetSize lays the surface out. Setting the current size again is a no-op.
func (s *Surface) SetSize(width, height int) {
	size := geometry.NewSize(width, height)
	s.mu.Lock()
	if size == s.size {
		s.mu.Unlock()
		return
	}
	s.size = size
	cb := s.cb
	s.mu.Unlock()

	debug.Verbose("Surface: %v", size)
	if cb != nil {
		if size.IsZero() {
			cb.OnSurfaceDestroyed()
		} else {
			cb.OnSurfaceChanged(size)
		}
	}
}

// Destroy drops the drawable target.
func (s *Surface) Destroy() {
	s.SetSize(0, 0)
}

// Ready reports whether the surface has a non-zero size.
func (s *Surface) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.size.IsZero()
}

func (s *Surface) Size() geometry.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// SetDisplayRotation records the display rotation quadrant (0..3).
func (s *Surface) SetDisplayRotation(quadrant int) {
	s.mu.Lock()
	s.rotation = ((quadrant % 4) + 4) % 4
	s.mu.Unlock()
}

// DisplayRotation returns the display rotation in degrees.
func (s *Surface) DisplayRotation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return geometry.DisplayRotationDegrees(s.rotation)
}
