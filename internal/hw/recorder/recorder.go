// Package recorder writes preview frames to an MJPEG file: a plain
// concatenation of JPEG images that ffmpeg and most players read as-is.
package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cjeanneret/camsession/internal/debug"
	"github.com/cjeanneret/camsession/internal/hw/sensor"
)

// CodecMJPEG is the only codec supported.
const CodecMJPEG = "mjpeg"

var (
	ErrUnsupportedCodec = errors.New("unsupported codec")
	ErrNotRecording     = errors.New("recorder is not running")
	ErrAlreadyRunning   = errors.New("recorder is already running")
)

// Reason tells why a recording ended.
type Reason int

const (
	ReasonStopped Reason = iota
	ReasonMaxDuration
	ReasonMaxFileSize
)

func (r Reason) String() string {
	switch r {
	case ReasonStopped:
		return "stopped"
	case ReasonMaxDuration:
		return "max duration reached"
	case ReasonMaxFileSize:
		return "max file size reached"
	default:
		return "unknown"
	}
}

// Config describes one recording.
type Config struct {
	Path        string
	MaxDuration time.Duration // 0 = unlimited
	MaxFileSize int64         // bytes, 0 = unlimited
	FPS         int           // 0 = every frame
	Codec       string        // "" means mjpeg
	Quality     int           // JPEG quality 1..100

	// OnLimit is called once, on its own goroutine, when a limit stops
	// accepting frames. The caller is expected to call Stop.
	OnLimit func(Reason)
}

// Result summarizes a finished recording.
type Result struct {
	Path     string
	Frames   int
	Bytes    int64
	Duration time.Duration
	Reason   Reason
}

// Recorder is safe for concurrent use: frames arrive from the sensor
// goroutine, control calls from the session.
type Recorder struct {
	mu sync.Mutex

	cfg     Config
	file    *os.File
	w       *bufio.Writer
	running bool
	paused  bool
	full    bool
	reason  Reason

	frames      int
	bytes       int64
	elapsed     time.Duration
	lastSeen    time.Time
	lastWritten time.Time
}

// New returns an idle recorder.
func New() *Recorder {
	return &Recorder{}
}

// Start creates the output file. Parent directories are created.
func (r *Recorder) Start(cfg Config) error {
	if cfg.Codec == "" {
		cfg.Codec = CodecMJPEG
	}
	if cfg.Codec != CodecMJPEG {
		return fmt.Errorf("%w: %q", ErrUnsupportedCodec, cfg.Codec)
	}
	if cfg.Quality <= 0 {
		cfg.Quality = 85
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(cfg.Path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}

	r.cfg = cfg
	r.file = f
	r.w = bufio.NewWriterSize(f, 256*1024)
	r.running = true
	r.paused, r.full, r.reason = false, false, ReasonStopped
	r.frames, r.bytes, r.elapsed = 0, 0, 0
	r.lastSeen, r.lastWritten = time.Time{}, time.Time{}
	debug.Verbose("Recorder: writing %s (fps=%d, max=%v/%dB)", cfg.Path, cfg.FPS, cfg.MaxDuration, cfg.MaxFileSize)
	return nil
}

// Running reports whether a recording is open.
func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// WriteFrame appends one frame. Frames are skipped while paused, when they
// arrive faster than the configured rate, and once a limit is reached.
func (r *Recorder) WriteFrame(f sensor.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return ErrNotRecording
	}
	if r.paused || r.full {
		return nil
	}

	if !r.lastSeen.IsZero() {
		r.elapsed += f.Timestamp.Sub(r.lastSeen)
	}
	r.lastSeen = f.Timestamp

	if r.cfg.MaxDuration > 0 && r.elapsed >= r.cfg.MaxDuration {
		r.limitLocked(ReasonMaxDuration)
		return nil
	}
	if r.cfg.FPS > 0 && !r.lastWritten.IsZero() {
		interval := time.Second / time.Duration(r.cfg.FPS)
		if f.Timestamp.Sub(r.lastWritten) < interval*3/4 {
			return nil
		}
	}

	data, err := f.JPEG(r.cfg.Quality)
	if err != nil {
		return fmt.Errorf("encode frame %d: %w", f.Seq, err)
	}
	if r.cfg.MaxFileSize > 0 && r.bytes+int64(len(data)) > r.cfg.MaxFileSize {
		r.limitLocked(ReasonMaxFileSize)
		return nil
	}
	n, err := r.w.Write(data)
	r.bytes += int64(n)
	if err != nil {
		return fmt.Errorf("write frame %d: %w", f.Seq, err)
	}
	r.frames++
	r.lastWritten = f.Timestamp
	return nil
}

func (r *Recorder) limitLocked(reason Reason) {
	r.full = true
	r.reason = reason
	debug.Info("Recorder: %s after %d frames", reason, r.frames)
	if cb := r.cfg.OnLimit; cb != nil {
		go cb(reason)
	}
}

// Pause stops accepting frames. The paused interval does not count
// towards the duration limit.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return ErrNotRecording
	}
	r.paused = true
	return nil
}

func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return ErrNotRecording
	}
	if r.paused {
		r.paused = false
		r.lastSeen = time.Time{}
	}
	return nil
}

// Stop flushes and closes the file.
func (r *Recorder) Stop() (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return Result{}, ErrNotRecording
	}
	r.running = false

	res := Result{
		Path:     r.cfg.Path,
		Frames:   r.frames,
		Bytes:    r.bytes,
		Duration: r.elapsed,
		Reason:   r.reason,
	}
	flushErr := r.w.Flush()
	closeErr := r.file.Close()
	r.file, r.w = nil, nil
	if err := errors.Join(flushErr, closeErr); err != nil {
		return res, fmt.Errorf("finish %s: %w", res.Path, err)
	}
	debug.Verbose("Recorder: %s closed (%d frames, %d bytes, %v)", res.Path, res.Frames, res.Bytes, res.Duration)
	return res, nil
}
