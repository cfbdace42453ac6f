//go:build linux

package sensor

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	v4l2 "github.com/thinkski/go-v4l2"

	"github.com/cjeanneret/camsession/internal/debug"
	"github.com/cjeanneret/camsession/internal/logic/geometry"
)

// pixFmtMJPEG is the V4L2 fourcc 'MJPG'.
const pixFmtMJPEG = 0x47504a4d

// V4L2Config lists what the device is asked to stream. go-v4l2 does not
// enumerate frame sizes, so they come from configuration.
type V4L2Config struct {
	Sizes []geometry.Size
	FPS   int
	// StillTimeout bounds the wait for the next frame in Still.
	StillTimeout time.Duration
}

// V4L2 is a Driver for /dev/video* devices streaming MJPEG.
type V4L2 struct {
	cfg V4L2Config
}

// NewV4L2 returns a V4L2 driver.
func NewV4L2(cfg V4L2Config) *V4L2 {
	if len(cfg.Sizes) == 0 {
		cfg.Sizes = []geometry.Size{{Width: 640, Height: 480}, {Width: 1280, Height: 720}}
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.StillTimeout <= 0 {
		cfg.StillTimeout = 2 * time.Second
	}
	return &V4L2{cfg: cfg}
}

// Enumerate lists /dev/video* nodes. USB cameras carry no facing or
// mounting information; they are reported as back-facing at 0°.
func (d *V4L2) Enumerate() ([]Info, error) {
	paths, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("list video devices: %w", err)
	}
	sort.Strings(paths)
	infos := make([]Info, 0, len(paths))
	for _, p := range paths {
		infos = append(infos, Info{ID: p, Name: filepath.Base(p), Facing: geometry.FacingBack})
	}
	return infos, nil
}

func (d *V4L2) Open(id string) (Stream, error) {
	infos, err := d.Enumerate()
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.ID == id {
			return &v4l2Stream{
				info:   info,
				cfg:    d.cfg,
				format: Format{Size: d.cfg.Sizes[0], FPS: d.cfg.FPS},
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

type v4l2Stream struct {
	info Info
	cfg  V4L2Config

	mu      sync.Mutex
	format  Format
	device  *v4l2.Device
	stop    chan struct{}
	wg      sync.WaitGroup
	closed  bool
	seq     uint64
	waiters []chan Frame
}

func (s *v4l2Stream) Info() Info { return s.info }
func (s *v4l2Stream) PreviewSizes() []geometry.Size {
	return append([]geometry.Size(nil), s.cfg.Sizes...)
}
func (s *v4l2Stream) PictureSizes() []geometry.Size {
	return append([]geometry.Size(nil), s.cfg.Sizes...)
}
func (s *v4l2Stream) FPSRanges() []FPSRange { return []FPSRange{{Min: s.cfg.FPS, Max: s.cfg.FPS}} }

func (s *v4l2Stream) Configure(f Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.device != nil {
		return ErrStreaming
	}
	s.format = f
	return nil
}

func (s *v4l2Stream) Start(deliver func(Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.device != nil {
		return ErrStreaming
	}

	dev, err := v4l2.Open(s.info.ID)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.info.ID, err)
	}
	dev.SetPixelFormat(s.format.Size.Width, s.format.Size.Height, pixFmtMJPEG)
	dev.Start()
	debug.Verbose("V4L2 %s streaming %v MJPEG", s.info.ID, s.format.Size)

	s.device = dev
	s.stop = make(chan struct{})
	stop := s.stop
	size := s.format.Size

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			var buf v4l2.Buffer
			select {
			case <-stop:
				return
			case buf = <-dev.C:
			}
			data := make([]byte, len(buf.Data))
			copy(data, buf.Data)
			buf.Release()

			s.mu.Lock()
			s.seq++
			frame := Frame{
				Data:      data,
				Width:     size.Width,
				Height:    size.Height,
				Format:    FormatMJPEG,
				Timestamp: time.Now(),
				Seq:       s.seq,
			}
			waiters := s.waiters
			s.waiters = nil
			s.mu.Unlock()

			for _, w := range waiters {
				w <- frame
			}
			deliver(frame)
		}
	}()
	return nil
}

func (s *v4l2Stream) Stop() error {
	s.mu.Lock()
	dev := s.device
	if dev == nil {
		s.mu.Unlock()
		return nil
	}
	close(s.stop)
	s.device = nil
	s.mu.Unlock()

	s.wg.Wait()
	if err := dev.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.info.ID, err)
	}
	return nil
}

// Still returns the next streamed frame; the device only produces stills
// at the streaming size.
func (s *v4l2Stream) Still(size geometry.Size) (Frame, error) {
	s.mu.Lock()
	if s.device == nil {
		s.mu.Unlock()
		return Frame{}, ErrNotStreaming
	}
	w := make(chan Frame, 1)
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case f := <-w:
		return f, nil
	case <-time.After(s.cfg.StillTimeout):
		return Frame{}, fmt.Errorf("no frame from %s within %v", s.info.ID, s.cfg.StillTimeout)
	}
}

func (s *v4l2Stream) Close() error {
	err := s.Stop()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}
