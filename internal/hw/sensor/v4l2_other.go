//go:build !linux

package sensor

import (
	"fmt"
	"runtime"
	"time"

	"github.com/cjeanneret/camsession/internal/logic/geometry"
)

// V4L2Config mirrors the linux definition so configuration compiles
// everywhere.
type V4L2Config struct {
	Sizes        []geometry.Size
	FPS          int
	StillTimeout time.Duration
}

// V4L2 is unavailable outside linux.
type V4L2 struct{}

// NewV4L2 returns a driver whose calls all fail.
func NewV4L2(cfg V4L2Config) *V4L2 {
	return &V4L2{}
}

func (d *V4L2) Enumerate() ([]Info, error) {
	return nil, fmt.Errorf("v4l2 is not supported on %s", runtime.GOOS)
}

func (d *V4L2) Open(id string) (Stream, error) {
	return nil, fmt.Errorf("v4l2 is not supported on %s", runtime.GOOS)
}
