package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/cjeanneret/camsession/internal/config"
	"github.com/cjeanneret/camsession/internal/debug"
	"github.com/cjeanneret/camsession/internal/hw/camera"
	"github.com/cjeanneret/camsession/internal/hw/gpio"
	"github.com/cjeanneret/camsession/internal/hw/sensor"
	"github.com/cjeanneret/camsession/internal/hw/torch"
	"github.com/cjeanneret/camsession/internal/logic/decode"
	"github.com/cjeanneret/camsession/internal/logic/dispatch"
	"github.com/cjeanneret/camsession/internal/logic/geometry"
	"github.com/cjeanneret/camsession/internal/logic/record"
	"github.com/cjeanneret/camsession/internal/logic/session"
	"github.com/cjeanneret/camsession/internal/logic/surface"
	"github.com/cjeanneret/camsession/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	capturePath := flag.String("capture", "", "take one picture, write it to this JPEG file and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	var broadcaster *web.StatusBroadcaster
	var listener session.Listener = logListener{}
	var events *web.Events
	if webPort.port() > 0 {
		broadcaster = web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		events = web.NewEvents(broadcaster)
		listener = events
	}
	ready := newReadyListener(listener)

	app, err := build(cfg, ready)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	defer app.Close()

	if err := app.session.Start(ctx); err != nil {
		log.Fatalf("start session: %v", err)
	}
	// The surface becomes ready last so the first open sees the final layout.
	app.surface.SetSize(cfg.Surface.Width, cfg.Surface.Height)

	if *capturePath != "" {
		if err := captureOnce(ctx, app.session, ready, *capturePath); err != nil {
			log.Fatalf("capture failed: %v", err)
		}
		return
	}

	if port := webPort.port(); port > 0 {
		srv, err := web.NewServer(fmt.Sprintf(":%d", port), web.Options{
			Broadcaster: broadcaster,
			Camera:      app.session,
			Events:      events,
			Registry:    app.registry,
			Recording: web.RecordingDefaults{
				Dir:         cfg.Recording.OutputDir,
				MaxDuration: cfg.MaxDuration(),
				MaxFileSize: cfg.Recording.MaxFileSizeBytes,
				FPS:         cfg.Recording.FPS,
				Codec:       cfg.Recording.Codec,
				Quality:     cfg.Recording.Quality,
				RecordAudio: cfg.Recording.RecordAudio,
			},
		})
		if err != nil {
			log.Fatalf("web server: %v", err)
		}
		if err := os.MkdirAll(cfg.Recording.OutputDir, 0o755); err != nil {
			log.Fatalf("create recording dir: %v", err)
		}
		if err := srv.Run(ctx); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	debug.Info("Session running, Ctrl-C to stop")
	<-ctx.Done()
}

// app holds everything build wires together.
type app struct {
	session  *session.Session
	surface  *surface.Surface
	registry *dispatch.Dispatcher
	torch    *torch.Unit
	gpio     gpio.Driver
}

func (a *app) Close() {
	if err := a.session.Close(); err != nil {
		debug.Warn("closing session: %v", err)
	}
	if a.torch != nil {
		if err := a.torch.Close(); err != nil {
			debug.Warn("closing torch: %v", err)
		}
	}
	if a.gpio != nil {
		if err := a.gpio.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}
}

// build creates the sensor driver, the optional torch, the backend and the
// session described by cfg.
func build(cfg *config.Config, listener session.Listener) (*app, error) {
	a := &app{}

	debug.Step(1, "Initializing sensor driver")
	drv, err := newDriver(cfg)
	if err != nil {
		return nil, err
	}
	debug.Value("Driver", cfg.Camera.Driver)

	var opts []camera.Option
	if cfg.Torch.Enabled {
		debug.Step(2, "Initializing torch")
		debug.Value("Mock GPIO", cfg.Torch.MockGPIO)
		a.gpio, err = gpio.NewDriver(cfg.Torch.MockGPIO)
		if err != nil {
			return nil, fmt.Errorf("init GPIO: %w", err)
		}
		a.torch, err = torch.New(a.gpio, cfg.Torch.Pin, cfg.TorchPulse())
		if err != nil {
			a.gpio.Close()
			return nil, fmt.Errorf("init torch: %w", err)
		}
		debug.Value("Torch pin", cfg.Torch.Pin)
		opts = append(opts, camera.WithTorch(a.torch))
	}

	debug.Step(3, "Initializing camera backend")
	backend, err := camera.NewBackend(cfg.Camera.Backend, drv, opts...)
	if err != nil {
		return nil, err
	}
	debug.Value("Backend", cfg.Camera.Backend)

	params, err := parameters(cfg)
	if err != nil {
		return nil, err
	}
	debug.PrintStruct("Parameters", params)

	debug.Step(4, "Creating session")
	a.surface = surface.New()
	a.surface.SetDisplayRotation(cfg.Surface.DisplayRotation)
	a.registry = dispatch.New()
	a.session = session.New(session.Config{
		Backend:            backend,
		Parameters:         params,
		ConvergenceTimeout: cfg.ConvergenceTimeout(),
		Decoder:            decode.QRDecoder{},
		ScanROI: decode.ROI{
			X:      cfg.Scanner.RoiX,
			Y:      cfg.Scanner.RoiY,
			Width:  cfg.Scanner.RoiWidth,
			Height: cfg.Scanner.RoiHeight,
		},
		Listener: listener,
	}, a.surface, a.registry)
	return a, nil
}

// newDriver selects the sensor driver named by camera.driver.
func newDriver(cfg *config.Config) (sensor.Driver, error) {
	switch cfg.Camera.Driver {
	case "virtual":
		vc := sensor.DefaultVirtualConfig()
		vc.FPS = cfg.Virtual.FPS
		vc.Sensors[0].Orientation = cfg.Virtual.SensorOrientation
		vc.Simulator = sensor.SimulatorConfig{
			FocusFrames:    cfg.Virtual.FocusFrames,
			ExposureFrames: cfg.Virtual.ExposureFrames,
			FlashRequired:  cfg.Virtual.FlashRequired,
		}
		if cfg.Virtual.Scene != "" {
			scene, err := loadScene(cfg.Virtual.Scene)
			if err != nil {
				return nil, err
			}
			vc.Scene = scene
		}
		return sensor.NewVirtual(vc), nil
	case "v4l2":
		sizes := make([]geometry.Size, 0, len(cfg.V4L2.Sizes))
		for _, s := range cfg.V4L2.Sizes {
			size, err := geometry.ParseSize(s)
			if err != nil {
				return nil, err
			}
			sizes = append(sizes, size)
		}
		return sensor.NewV4L2(sensor.V4L2Config{Sizes: sizes, FPS: cfg.V4L2.FPS}), nil
	default:
		return nil, fmt.Errorf("unsupported camera driver: %s", cfg.Camera.Driver)
	}
}

func loadScene(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scene: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode scene %s: %w", path, err)
	}
	return img, nil
}

// parameters converts the camera section into session parameters.
// config.Load has already validated every field.
func parameters(cfg *config.Config) (session.Parameters, error) {
	c := cfg.Camera
	p := session.DefaultParameters()
	var err error
	if p.Facing, err = geometry.ParseFacing(c.Facing); err != nil {
		return p, err
	}
	p.CameraID = c.ID
	if p.AspectRatio, err = geometry.ParseAspectRatio(c.AspectRatio); err != nil {
		return p, err
	}
	if c.PictureSize != "" {
		if p.PictureSize, err = geometry.ParseSize(c.PictureSize); err != nil {
			return p, err
		}
	}
	if p.Flash, err = camera.ParseFlashMode(c.Flash); err != nil {
		return p, err
	}
	if p.WhiteBalance.Mode, err = camera.ParseWhiteBalance(c.WhiteBalance); err != nil {
		return p, err
	}
	p.WhiteBalance.Temperature = c.WhiteBalanceTemperature
	if p.OrientationLock, err = cfg.OrientationLock(); err != nil {
		return p, err
	}
	p.Zoom = c.Zoom
	p.Exposure = cfg.Exposure()
	p.AutoFocus = cfg.AutoFocus()
	p.Scanning = c.Scanning
	return p.Normalize(), nil
}

// captureOnce waits for the camera, takes one picture and writes it to path.
func captureOnce(ctx context.Context, s *session.Session, ready *readyListener, path string) error {
	debug.Section("Capture")
	select {
	case <-ready.ready:
	case msg := <-ready.failed:
		return fmt.Errorf("camera unavailable: %s", msg)
	case <-ctx.Done():
		return ctx.Err()
	}
	pic, err := s.TakePicture(ctx, session.CaptureRequest{})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, pic.JPEG, 0o644); err != nil {
		return fmt.Errorf("write picture: %w", err)
	}
	debug.Info("Picture %s written to %s (%dx%d, %d°)", pic.ID, path, pic.Width, pic.Height, pic.Orientation)
	return nil
}

// readyListener forwards every event and signals the first open or mount
// error.
type readyListener struct {
	session.Listener
	ready  chan struct{}
	failed chan string
}

func newReadyListener(next session.Listener) *readyListener {
	return &readyListener{
		Listener: next,
		ready:    make(chan struct{}, 1),
		failed:   make(chan string, 1),
	}
}

func (l *readyListener) OnCameraReady(info session.CameraInfo) {
	l.Listener.OnCameraReady(info)
	select {
	case l.ready <- struct{}{}:
	default:
	}
}

func (l *readyListener) OnMountError(msg string) {
	l.Listener.OnMountError(msg)
	select {
	case l.failed <- msg:
	default:
	}
}

// logListener reports session events through the debug logger.
type logListener struct{}

func (logListener) OnMountError(msg string) {
	debug.Error(errors.New("mount error: " + msg))
}

func (logListener) OnCameraReady(info session.CameraInfo) {
	debug.Info("Camera %s ready (%s): preview %s, picture %s, rotation %d°",
		info.Descriptor, info.Backend, info.Preview, info.Picture, info.Rotation)
}

func (logListener) OnPictureTaken(p session.Picture) {
	debug.Info("Picture %s taken (%dx%d, %d bytes)", p.ID, p.Width, p.Height, len(p.JPEG))
}

func (logListener) OnRecordingStarted(s record.Session) {
	debug.Info("Recording %s started: %s", s.ID, s.Path)
}

func (logListener) OnRecordingEnded() {
	debug.Info("Recording ended")
}

func (logListener) OnVideoRecorded(o record.Outcome) {
	debug.Info("Video %s recorded: %d frames, %d bytes, %s", o.ID, o.Frames, o.Bytes, o.Reason)
}

func (logListener) OnBarcodes(d decode.Detection) {
	for _, b := range d.Barcodes {
		debug.Info("Barcode %s: %s", b.Format, b.Payload)
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
