package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/camsession/internal/hw/camera"
	"github.com/cjeanneret/camsession/internal/logic/geometry"
)

// MaxConfigFileBytes caps the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// CameraConfig holds the session parameters applied at startup.
type CameraConfig struct {
	Backend                 string   `yaml:"backend"`                   // "legacy" or "request"
	Driver                  string   `yaml:"driver"`                    // "virtual" or "v4l2"
	ID                      string   `yaml:"id"`                        // explicit sensor id, empty = by facing
	Facing                  string   `yaml:"facing"`                    // "back" or "front"
	AspectRatio             string   `yaml:"aspect_ratio"`              // e.g. "4:3"
	PictureSize             string   `yaml:"picture_size"`              // e.g. "2048x1536", empty = largest
	Flash                   string   `yaml:"flash"`                     // off, on, torch, auto, redEye
	Zoom                    float64  `yaml:"zoom"`                      // 0..1
	Exposure                *float64 `yaml:"exposure"`                  // -1..1, absent = auto
	WhiteBalance            string   `yaml:"white_balance"`             // auto, sunny, cloudy, shadow, fluorescent, incandescent
	WhiteBalanceTemperature int      `yaml:"white_balance_temperature"` // kelvin, 0 = use the preset
	AutoFocus               *bool    `yaml:"auto_focus"`                // absent = true
	Scanning                bool     `yaml:"scanning"`                  // barcode scanner on at startup
	OrientationLock         string   `yaml:"orientation_lock"`          // "auto" or 0, 90, 180, 270
	ConvergenceTimeoutMs    *int     `yaml:"convergence_timeout_ms"`    // absent = 3000, 0 = wait forever
}

// SurfaceConfig describes the preview surface of a headless run.
type SurfaceConfig struct {
	Width           int `yaml:"width"`
	Height          int `yaml:"height"`
	DisplayRotation int `yaml:"display_rotation"` // quadrant 0..3, clockwise
}

// VirtualConfig tunes the simulated sensor.
type VirtualConfig struct {
	FPS               int    `yaml:"fps"`
	Scene             string `yaml:"scene"`              // PNG or JPEG scaled into every frame
	SensorOrientation int    `yaml:"sensor_orientation"` // back sensor mounting, degrees
	FocusFrames       int    `yaml:"focus_frames"`
	ExposureFrames    int    `yaml:"exposure_frames"`
	FlashRequired     bool   `yaml:"flash_required"`
}

// V4L2Config lists the sizes requested from a V4L2 device.
type V4L2Config struct {
	Sizes []string `yaml:"sizes"` // e.g. ["640x480", "1280x720"]
	FPS   int      `yaml:"fps"`
}

// TorchConfig wires a flash LED to a GPIO line.
type TorchConfig struct {
	Enabled  bool `yaml:"enabled"`
	Pin      int  `yaml:"pin"`       // BCM numbering
	MockGPIO bool `yaml:"mock_gpio"` // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	PulseMs  int  `yaml:"pulse_ms"`
}

// RecordingConfig holds video recording defaults.
type RecordingConfig struct {
	OutputDir        string `yaml:"output_dir"`
	MaxDurationS     int    `yaml:"max_duration_s"`      // 0 = unlimited
	MaxFileSizeBytes int64  `yaml:"max_file_size_bytes"` // 0 = unlimited
	FPS              int    `yaml:"fps"`
	Codec            string `yaml:"codec"`
	RecordAudio      bool   `yaml:"record_audio"`
	Quality          int    `yaml:"quality"` // JPEG quality 1-100
}

// ScannerConfig restricts barcode decoding to a region of the frame,
// given as fractions. All zero scans the whole frame.
type ScannerConfig struct {
	RoiX      float64 `yaml:"roi_x"`
	RoiY      float64 `yaml:"roi_y"`
	RoiWidth  float64 `yaml:"roi_width"`
	RoiHeight float64 `yaml:"roi_height"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
}

// Config aggregates all application configuration.
type Config struct {
	Camera    CameraConfig    `yaml:"camera"`
	Surface   SurfaceConfig   `yaml:"surface"`
	Virtual   VirtualConfig   `yaml:"virtual"`
	V4L2      V4L2Config      `yaml:"v4l2"`
	Torch     TorchConfig     `yaml:"torch"`
	Recording RecordingConfig `yaml:"recording"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
}

// ValidateConfigPath accepts only *.yaml files directly inside a directory
// named "configs". Paths containing ".." are rejected before cleaning.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	cam := &c.Camera
	switch cam.Backend {
	case "":
		cam.Backend = "request"
	case "legacy", "request":
	default:
		return fmt.Errorf("camera.backend must be legacy or request, got %q", cam.Backend)
	}
	switch cam.Driver {
	case "":
		cam.Driver = "virtual"
	case "virtual", "v4l2":
	default:
		return fmt.Errorf("camera.driver must be virtual or v4l2, got %q", cam.Driver)
	}
	if _, err := geometry.ParseFacing(cam.Facing); err != nil {
		return fmt.Errorf("camera.facing: %w", err)
	}
	if cam.AspectRatio == "" {
		cam.AspectRatio = geometry.DefaultAspectRatio.String()
	}
	if _, err := geometry.ParseAspectRatio(cam.AspectRatio); err != nil {
		return fmt.Errorf("camera.aspect_ratio: %w", err)
	}
	if cam.PictureSize != "" {
		if _, err := geometry.ParseSize(cam.PictureSize); err != nil {
			return fmt.Errorf("camera.picture_size: %w", err)
		}
	}
	if cam.Flash == "" {
		cam.Flash = "off"
	}
	if _, err := camera.ParseFlashMode(cam.Flash); err != nil {
		return fmt.Errorf("camera.flash: %w", err)
	}
	if cam.WhiteBalance == "" {
		cam.WhiteBalance = "auto"
	}
	if _, err := camera.ParseWhiteBalance(cam.WhiteBalance); err != nil {
		return fmt.Errorf("camera.white_balance: %w", err)
	}
	if cam.WhiteBalanceTemperature < 0 {
		return fmt.Errorf("camera.white_balance_temperature must be >= 0, got %d", cam.WhiteBalanceTemperature)
	}
	if cam.Zoom < 0 || cam.Zoom > 1 {
		return fmt.Errorf("camera.zoom must be between 0 and 1, got %.2f", cam.Zoom)
	}
	if cam.Exposure != nil && (*cam.Exposure < -1 || *cam.Exposure > 1) {
		return fmt.Errorf("camera.exposure must be between -1 and 1, got %.2f", *cam.Exposure)
	}
	if cam.OrientationLock == "" {
		cam.OrientationLock = "auto"
	}
	if _, err := c.OrientationLock(); err != nil {
		return err
	}
	if cam.ConvergenceTimeoutMs == nil {
		ms := 3000
		cam.ConvergenceTimeoutMs = &ms
	}
	if *cam.ConvergenceTimeoutMs < 0 {
		return fmt.Errorf("camera.convergence_timeout_ms must be >= 0, got %d", *cam.ConvergenceTimeoutMs)
	}

	if c.Surface.Width < 0 || c.Surface.Height < 0 {
		return fmt.Errorf("surface size must not be negative, got %dx%d", c.Surface.Width, c.Surface.Height)
	}
	if c.Surface.Width == 0 && c.Surface.Height == 0 {
		c.Surface.Width, c.Surface.Height = 640, 480
	}
	if c.Surface.DisplayRotation < 0 || c.Surface.DisplayRotation > 3 {
		return fmt.Errorf("surface.display_rotation must be 0-3, got %d", c.Surface.DisplayRotation)
	}

	if c.Virtual.FPS <= 0 {
		c.Virtual.FPS = 30
	}
	if c.Virtual.SensorOrientation == 0 {
		c.Virtual.SensorOrientation = 90
	}
	if c.Virtual.SensorOrientation%90 != 0 {
		return fmt.Errorf("virtual.sensor_orientation must be a multiple of 90, got %d", c.Virtual.SensorOrientation)
	}
	if c.Virtual.FocusFrames <= 0 {
		c.Virtual.FocusFrames = 3
	}
	if c.Virtual.ExposureFrames <= 0 {
		c.Virtual.ExposureFrames = 2
	}

	for _, s := range c.V4L2.Sizes {
		if _, err := geometry.ParseSize(s); err != nil {
			return fmt.Errorf("v4l2.sizes: %w", err)
		}
	}
	if c.V4L2.FPS <= 0 {
		c.V4L2.FPS = 30
	}

	if c.Torch.Enabled && c.Torch.Pin <= 0 {
		return errors.New("torch.pin is required when the torch is enabled")
	}
	if c.Torch.PulseMs <= 0 {
		c.Torch.PulseMs = 150 // long enough to cover one exposure
	}

	rec := &c.Recording
	if rec.OutputDir == "" {
		rec.OutputDir = "recordings"
	}
	if rec.MaxDurationS < 0 || rec.MaxFileSizeBytes < 0 {
		return errors.New("recording limits must not be negative")
	}
	if rec.FPS <= 0 {
		rec.FPS = 15
	}
	if rec.Codec == "" {
		rec.Codec = "mjpeg"
	}
	if rec.Quality == 0 {
		rec.Quality = 85
	}
	if rec.Quality < 1 || rec.Quality > 100 {
		return fmt.Errorf("recording.quality must be between 1 and 100, got %d", rec.Quality)
	}

	sc := c.Scanner
	for name, v := range map[string]float64{"roi_x": sc.RoiX, "roi_y": sc.RoiY, "roi_width": sc.RoiWidth, "roi_height": sc.RoiHeight} {
		if v < 0 || v > 1 {
			return fmt.Errorf("scanner.%s must be between 0 and 1, got %.2f", name, v)
		}
	}
	if sc.RoiX+sc.RoiWidth > 1 {
		return fmt.Errorf("scanner.roi_x + scanner.roi_width must not exceed 1, got %.2f", sc.RoiX+sc.RoiWidth)
	}
	if sc.RoiY+sc.RoiHeight > 1 {
		return fmt.Errorf("scanner.roi_y + scanner.roi_height must not exceed 1, got %.2f", sc.RoiY+sc.RoiHeight)
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be 0-4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// OrientationLock returns the locked orientation in degrees, or -1 for auto.
func (c *Config) OrientationLock() (int, error) {
	switch c.Camera.OrientationLock {
	case "", "auto":
		return -1, nil
	case "0":
		return 0, nil
	case "90":
		return 90, nil
	case "180":
		return 180, nil
	case "270":
		return 270, nil
	}
	return 0, fmt.Errorf("camera.orientation_lock must be auto, 0, 90, 180 or 270, got %q", c.Camera.OrientationLock)
}

// Exposure returns the exposure compensation, -1 meaning automatic.
func (c *Config) Exposure() float64 {
	if c.Camera.Exposure == nil {
		return -1
	}
	return *c.Camera.Exposure
}

// AutoFocus reports whether autofocus is enabled (default true).
func (c *Config) AutoFocus() bool {
	return c.Camera.AutoFocus == nil || *c.Camera.AutoFocus
}

// ConvergenceTimeout bounds the focus/exposure wait of a still capture.
// Zero waits forever.
func (c *Config) ConvergenceTimeout() time.Duration {
	if c.Camera.ConvergenceTimeoutMs == nil {
		return 3 * time.Second
	}
	return time.Duration(*c.Camera.ConvergenceTimeoutMs) * time.Millisecond
}

// TorchPulse returns the flash pulse duration.
func (c *Config) TorchPulse() time.Duration {
	return time.Duration(c.Torch.PulseMs) * time.Millisecond
}

// MaxDuration returns the recording duration limit, 0 meaning none.
func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.Recording.MaxDurationS) * time.Second
}
