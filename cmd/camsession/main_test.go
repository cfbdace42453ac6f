package main

import (
	"context"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cjeanneret/camsession/internal/config"
	"github.com/cjeanneret/camsession/internal/hw/camera"
	"github.com/cjeanneret/camsession/internal/logic/geometry"
	"github.com/cjeanneret/camsession/internal/logic/session"
)

// loadConfig writes body to configs/test.yaml in a temp dir and loads it.
func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "configs")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := config.ValidateConfigPath(path); err != nil {
		t.Fatalf("ValidateConfigPath: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

// ---------- parameters ----------

func TestParameters_Defaults(t *testing.T) {
	cfg := loadConfig(t, "")
	p, err := parameters(cfg)
	if err != nil {
		t.Fatalf("parameters: %v", err)
	}
	if p != session.DefaultParameters() {
		t.Errorf("parameters() = %+v, want %+v", p, session.DefaultParameters())
	}
}

func TestParameters_FromConfig(t *testing.T) {
	cfg := loadConfig(t, `
camera:
  facing: front
  id: "1"
  aspect_ratio: "16:9"
  picture_size: 1920x1080
  flash: torch
  zoom: 0.5
  exposure: 0.25
  white_balance: cloudy
  white_balance_temperature: 5600
  auto_focus: false
  scanning: true
  orientation_lock: "270"
`)
	p, err := parameters(cfg)
	if err != nil {
		t.Fatalf("parameters: %v", err)
	}
	if p.Facing != geometry.FacingFront {
		t.Errorf("Facing = %v, want front", p.Facing)
	}
	if p.CameraID != "1" {
		t.Errorf("CameraID = %q, want 1", p.CameraID)
	}
	if p.AspectRatio != geometry.NewAspectRatio(16, 9) {
		t.Errorf("AspectRatio = %v, want 16:9", p.AspectRatio)
	}
	if p.PictureSize != (geometry.Size{Width: 1920, Height: 1080}) {
		t.Errorf("PictureSize = %v, want 1920x1080", p.PictureSize)
	}
	if p.Flash != camera.FlashTorch {
		t.Errorf("Flash = %v, want torch", p.Flash)
	}
	if p.Zoom != 0.5 || p.Exposure != 0.25 {
		t.Errorf("Zoom/Exposure = %v/%v, want 0.5/0.25", p.Zoom, p.Exposure)
	}
	if p.WhiteBalance.Mode != camera.WBCloudy || p.WhiteBalance.Temperature != 5600 {
		t.Errorf("WhiteBalance = %+v, want cloudy at 5600K", p.WhiteBalance)
	}
	if p.AutoFocus {
		t.Error("AutoFocus should be false")
	}
	if !p.Scanning {
		t.Error("Scanning should be true")
	}
	if p.OrientationLock != 270 {
		t.Errorf("OrientationLock = %d, want 270", p.OrientationLock)
	}
}

// ---------- newDriver ----------

func TestNewDriver_VirtualOrientation(t *testing.T) {
	cfg := loadConfig(t, "virtual:\n  sensor_orientation: 180\n")
	drv, err := newDriver(cfg)
	if err != nil {
		t.Fatalf("newDriver: %v", err)
	}
	sensors, err := drv.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(sensors) != 2 {
		t.Fatalf("got %d sensors, want 2", len(sensors))
	}
	if sensors[0].Orientation != 180 {
		t.Errorf("back orientation = %d, want 180", sensors[0].Orientation)
	}
	if sensors[1].Orientation != 270 {
		t.Errorf("front orientation = %d, want 270", sensors[1].Orientation)
	}
}

func TestNewDriver_MissingScene(t *testing.T) {
	cfg := loadConfig(t, "")
	cfg.Virtual.Scene = filepath.Join(t.TempDir(), "missing.png")
	if _, err := newDriver(cfg); err == nil {
		t.Error("expected error for a missing scene file")
	}
}

func TestNewDriver_Unknown(t *testing.T) {
	cfg := loadConfig(t, "")
	cfg.Camera.Driver = "gphoto"
	if _, err := newDriver(cfg); err == nil {
		t.Error("expected error for an unknown driver")
	}
}

// ---------- build / captureOnce ----------

func TestBuild_CaptureOnce(t *testing.T) {
	cfg := loadConfig(t, `
camera:
  picture_size: 640x480
virtual:
  fps: 100
surface:
  width: 240
  height: 320
torch:
  enabled: true
  pin: 18
  mock_gpio: true
defaults:
  debug_level: 0
`)
	ready := newReadyListener(logListener{})
	a, err := build(cfg, ready)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()
	if a.torch == nil {
		t.Fatal("torch should be wired when enabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.session.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	a.surface.SetSize(cfg.Surface.Width, cfg.Surface.Height)

	out := filepath.Join(t.TempDir(), "shot.jpg")
	if err := captureOnce(ctx, a.session, ready, out); err != nil {
		t.Fatalf("captureOnce: %v", err)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	jc, err := jpeg.DecodeConfig(f)
	if err != nil {
		t.Fatalf("written file is not a JPEG: %v", err)
	}
	if jc.Width*jc.Height != 640*480 {
		t.Errorf("picture is %dx%d, want 640x480 in some orientation", jc.Width, jc.Height)
	}
}

func TestCaptureOnce_MountError(t *testing.T) {
	ready := newReadyListener(session.NopListener{})
	ready.OnMountError("camera in use")

	err := captureOnce(context.Background(), nil, ready, filepath.Join(t.TempDir(), "x.jpg"))
	if err == nil {
		t.Fatal("expected error after a mount error")
	}
}

func TestReadyListener_SignalsOnce(t *testing.T) {
	ready := newReadyListener(session.NopListener{})
	ready.OnCameraReady(session.CameraInfo{})
	ready.OnCameraReady(session.CameraInfo{})

	select {
	case <-ready.ready:
	default:
		t.Fatal("ready should be signalled")
	}
	select {
	case <-ready.ready:
		t.Fatal("ready should hold a single signal")
	default:
	}
}

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyString(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatalf("Set(\"\") error: %v", err)
	}
	if w.port() != 8080 {
		t.Errorf("expected default port 8080, got %d", w.port())
	}
}

func TestWebPortFlag_ValidPorts(t *testing.T) {
	cases := []struct {
		input string
		want  int
	}{
		{"8080", 8080},
		{"1", 1},
		{"65535", 65535},
		{"3000", 3000},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(tc.input); err != nil {
				t.Fatalf("Set(%q) error: %v", tc.input, err)
			}
			if w.port() != tc.want {
				t.Errorf("port() = %d, want %d", w.port(), tc.want)
			}
		})
	}
}

func TestWebPortFlag_InvalidPorts(t *testing.T) {
	cases := []string{"0", "65536", "-1", "abc", "8080.5"}
	for _, input := range cases {
		t.Run(input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(input); err == nil {
				t.Errorf("Set(%q) should fail, got nil", input)
			}
		})
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{val: 0}
	if s := w.String(); s != "0" {
		t.Errorf("String() = %q, want \"0\"", s)
	}
	w.val = 9090
	if s := w.String(); s != "9090" {
		t.Errorf("String() = %q, want \"9090\"", s)
	}
}
