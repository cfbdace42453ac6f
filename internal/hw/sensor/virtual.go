package sensor

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/cjeanneret/camsession/internal/debug"
	"github.com/cjeanneret/camsession/internal/logic/geometry"
)

// VirtualConfig describes the simulated hardware.
type VirtualConfig struct {
	Sensors      []Info
	PreviewSizes []geometry.Size
	PictureSizes []geometry.Size
	FPSRanges    []FPSRange
	FPS          int
	// Scene is scaled into every frame. Nil renders a test pattern.
	Scene     image.Image
	Simulator SimulatorConfig
	// FailOpen lists sensor ids whose Open fails, as if permission was revoked.
	FailOpen []string
}

// DefaultVirtualConfig is a phone-like back/front pair.
func DefaultVirtualConfig() VirtualConfig {
	return VirtualConfig{
		Sensors: []Info{
			{ID: "0", Name: "virtual back", Facing: geometry.FacingBack, Orientation: 90},
			{ID: "1", Name: "virtual front", Facing: geometry.FacingFront, Orientation: 270},
		},
		PreviewSizes: []geometry.Size{
			{Width: 320, Height: 240}, {Width: 640, Height: 480}, {Width: 960, Height: 720},
			{Width: 640, Height: 360}, {Width: 1280, Height: 720}, {Width: 1920, Height: 1080},
			{Width: 720, Height: 720},
		},
		PictureSizes: []geometry.Size{
			{Width: 640, Height: 480}, {Width: 1600, Height: 1200}, {Width: 2048, Height: 1536},
			{Width: 1280, Height: 720}, {Width: 1920, Height: 1080},
			{Width: 3000, Height: 2000},
		},
		FPSRanges: []FPSRange{{Min: 15, Max: 15}, {Min: 15, Max: 30}, {Min: 30, Max: 30}},
		FPS:       30,
		Simulator: SimulatorConfig{FocusFrames: 3, ExposureFrames: 2},
	}
}

// Virtual is a Driver producing synthetic frames.
type Virtual struct {
	cfg VirtualConfig
}

// NewVirtual returns a virtual driver. Zero fields take the defaults.
func NewVirtual(cfg VirtualConfig) *Virtual {
	def := DefaultVirtualConfig()
	if len(cfg.Sensors) == 0 {
		cfg.Sensors = def.Sensors
	}
	if len(cfg.PreviewSizes) == 0 {
		cfg.PreviewSizes = def.PreviewSizes
	}
	if len(cfg.PictureSizes) == 0 {
		cfg.PictureSizes = def.PictureSizes
	}
	if len(cfg.FPSRanges) == 0 {
		cfg.FPSRanges = def.FPSRanges
	}
	if cfg.FPS <= 0 {
		cfg.FPS = def.FPS
	}
	return &Virtual{cfg: cfg}
}

func (v *Virtual) Enumerate() ([]Info, error) {
	out := make([]Info, len(v.cfg.Sensors))
	copy(out, v.cfg.Sensors)
	return out, nil
}

func (v *Virtual) Open(id string) (Stream, error) {
	for _, bad := range v.cfg.FailOpen {
		if bad == id {
			return nil, fmt.Errorf("open sensor %s: permission denied", id)
		}
	}
	for _, info := range v.cfg.Sensors {
		if info.ID == id {
			debug.Verbose("Virtual sensor %s opened (%s, %d°)", id, info.Facing, info.Orientation)
			return &virtualStream{
				info:   info,
				cfg:    v.cfg,
				sim:    NewSimulator(v.cfg.Simulator),
				format: Format{Size: v.cfg.PreviewSizes[0], FPS: v.cfg.FPS},
				cache:  make(map[geometry.Size][]byte),
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

type virtualStream struct {
	info Info
	cfg  VirtualConfig
	sim  *Simulator

	mu      sync.Mutex
	format  Format
	running bool
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
	seq     uint64
	cache   map[geometry.Size][]byte
}

func (s *virtualStream) Info() Info { return s.info }
func (s *virtualStream) PreviewSizes() []geometry.Size {
	return append([]geometry.Size(nil), s.cfg.PreviewSizes...)
}
func (s *virtualStream) PictureSizes() []geometry.Size {
	return append([]geometry.Size(nil), s.cfg.PictureSizes...)
}
func (s *virtualStream) FPSRanges() []FPSRange { return append([]FPSRange(nil), s.cfg.FPSRanges...) }

func (s *virtualStream) Configure(f Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.running {
		return ErrStreaming
	}
	if f.FPS <= 0 {
		f.FPS = s.cfg.FPS
	}
	s.format = f
	return nil
}

func (s *virtualStream) Start(deliver func(Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.running {
		return ErrStreaming
	}
	s.running = true
	s.stop = make(chan struct{})
	format := s.format
	stop := s.stop

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(time.Second / time.Duration(format.FPS))
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				s.sim.Tick()
				deliver(s.frame(format.Size, now))
			}
		}
	}()
	return nil
}

func (s *virtualStream) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *virtualStream) Still(size geometry.Size) (Frame, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Frame{}, ErrClosed
	}
	return s.frame(size, time.Now()), nil
}

func (s *virtualStream) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *virtualStream) TriggerFocus()      { s.sim.TriggerFocus() }
func (s *virtualStream) CancelFocus()       { s.sim.CancelFocus() }
func (s *virtualStream) TriggerPrecapture() { s.sim.TriggerPrecapture() }
func (s *virtualStream) Report() Report     { return s.sim.Report() }

func (s *virtualStream) frame(size geometry.Size, ts time.Time) Frame {
	s.mu.Lock()
	data, ok := s.cache[size]
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	if !ok {
		data = EncodeNV21(renderScene(s.cfg.Scene, size))
		s.mu.Lock()
		s.cache[size] = data
		s.mu.Unlock()
	}
	return Frame{
		Data:      data,
		Width:     size.Width,
		Height:    size.Height,
		Format:    FormatNV21,
		Timestamp: ts,
		Seq:       seq,
	}
}

// renderScene scales scene to size, or draws a gradient test pattern.
func renderScene(scene image.Image, size geometry.Size) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	if scene != nil {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), scene, scene.Bounds(), draw.Src, nil)
		return dst
	}
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			dst.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / max(size.Width-1, 1)),
				G: uint8(y * 255 / max(size.Height-1, 1)),
				B: 128,
				A: 255,
			})
		}
	}
	return dst
}

var _ Metering = (*virtualStream)(nil)
