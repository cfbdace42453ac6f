package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/cjeanneret/camsession/internal/debug"
	"github.com/cjeanneret/camsession/internal/hw/camera"
	"github.com/cjeanneret/camsession/internal/hw/sensor"
	"github.com/cjeanneret/camsession/internal/logic/geometry"
	"github.com/cjeanneret/camsession/internal/logic/record"
	"github.com/cjeanneret/camsession/internal/logic/session"
)

// MaxBodyBytes caps JSON request bodies.
const MaxBodyBytes = 1 << 20

// Camera is the part of a session the HTTP surface drives.
type Camera interface {
	Info(ctx context.Context) (session.CameraInfo, error)
	Parameters(ctx context.Context) (session.Parameters, error)
	SetParameters(ctx context.Context, p session.Parameters) error
	SetFacing(ctx context.Context, f geometry.Facing) error
	SetCameraID(ctx context.Context, id string) error
	SetAspectRatio(ctx context.Context, r geometry.AspectRatio) error
	SetPictureSize(ctx context.Context, size geometry.Size) error
	SetFlash(ctx context.Context, m camera.FlashMode) error
	SetZoom(ctx context.Context, zoom float64) error
	SetExposure(ctx context.Context, exposure float64) error
	SetWhiteBalance(ctx context.Context, wb camera.WhiteBalanceSetting) error
	SetAutoFocus(ctx context.Context, on bool) error
	SetScanning(ctx context.Context, on bool) error
	SetOrientationLock(ctx context.Context, degrees int) error
	SupportedAspectRatios(ctx context.Context) ([]geometry.AspectRatio, error)
	SupportedPictureSizes(ctx context.Context, r geometry.AspectRatio) ([]geometry.Size, error)
	SupportedPreviewFPSRanges(ctx context.Context) ([]sensor.FPSRange, error)
	TakePicture(ctx context.Context, req session.CaptureRequest) (session.Picture, error)
	ResumePreview(ctx context.Context) error
	SetDisplayRotation(ctx context.Context, quadrant int) error
	SetDeviceRotation(degrees int)
	StartRecording(ctx context.Context, rs record.Session) error
	StopRecording(ctx context.Context) (record.Outcome, error)
	PauseRecording(ctx context.Context) error
	ResumeRecording(ctx context.Context) error
	Recording() (record.Session, bool)
}

// Settings is a partial parameter update. Nil fields are left unchanged.
type Settings struct {
	Facing          *geometry.Facing            `json:"facing,omitempty"`
	CameraID        *string                     `json:"cameraId,omitempty"`
	AspectRatio     *geometry.AspectRatio       `json:"aspectRatio,omitempty"`
	PictureSize     *geometry.Size              `json:"pictureSize,omitempty"`
	Flash           *camera.FlashMode           `json:"flash,omitempty"`
	Zoom            *float64                    `json:"zoom,omitempty"`
	Exposure        *float64                    `json:"exposure,omitempty"`
	WhiteBalance    *camera.WhiteBalanceSetting `json:"whiteBalance,omitempty"`
	AutoFocus       *bool                       `json:"autoFocus,omitempty"`
	Scanning        *bool                       `json:"scanning,omitempty"`
	OrientationLock *int                        `json:"orientationLock,omitempty"`
}

// RecordingDefaults fill the fields a start request leaves empty.
type RecordingDefaults struct {
	Dir         string
	MaxDuration time.Duration
	MaxFileSize int64
	FPS         int
	Codec       string
	Quality     int
	RecordAudio bool
}

// Rotation updates the display quadrant or the device rotation.
type Rotation struct {
	Display *int `json:"display,omitempty"` // quadrant 0..3
	Device  *int `json:"device,omitempty"`  // degrees
}

func finite(name string, v *float64, lo, hi float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return fmt.Errorf("%s must be a finite number", name)
	}
	if *v < lo || *v > hi {
		return fmt.Errorf("%s must be between %g and %g", name, lo, hi)
	}
	return nil
}

// ValidateSettings checks numeric ranges before anything is applied.
func ValidateSettings(s Settings) error {
	if err := finite("zoom", s.Zoom, 0, 1); err != nil {
		return err
	}
	if err := finite("exposure", s.Exposure, -1, 1); err != nil {
		return err
	}
	if s.OrientationLock != nil {
		switch *s.OrientationLock {
		case session.OrientationAuto, 0, 90, 180, 270:
		default:
			return errors.New("orientationLock must be -1, 0, 90, 180 or 270")
		}
	}
	if s.WhiteBalance != nil && s.WhiteBalance.Temperature < 0 {
		return errors.New("whiteBalance.temperature must not be negative")
	}
	return nil
}

// ValidateCapture checks a capture request.
func ValidateCapture(req session.CaptureRequest) error {
	q := req.Quality
	if math.IsNaN(q) || math.IsInf(q, 0) || q < 0 || q > 1 {
		return errors.New("quality must be between 0 and 1")
	}
	if req.Orientation != nil && *req.Orientation%90 != 0 {
		return errors.New("orientation must be a multiple of 90")
	}
	return nil
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Camera      Camera
	Recording   RecordingDefaults
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If cam is nil, camera routes return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, cam Camera, rec RecordingDefaults, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Camera:      cam,
		Recording:   rec,
		staticFS:    staticFS,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps session errors onto HTTP status codes.
func statusFor(err error) int {
	var mount *camera.MountError
	switch {
	case errors.Is(err, camera.ErrCaptureRejected):
		return http.StatusConflict
	case errors.Is(err, record.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, camera.ErrNotOpen), errors.Is(err, camera.ErrClosed), errors.As(err, &mount):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON body. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
	return false
}

func (h *Handlers) ready(w http.ResponseWriter) bool {
	if h.Camera == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleInfo returns the open camera's description.
func (h *Handlers) HandleInfo(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	info, err := h.Camera.Info(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleGetParameters returns the current parameters.
func (h *Handlers) HandleGetParameters(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	p, err := h.Camera.Parameters(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandlePutParameters replaces every parameter.
func (h *Handlers) HandlePutParameters(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	p := session.DefaultParameters()
	if !decodeJSON(w, r, &p) {
		return
	}
	if err := ValidateSettings(Settings{Zoom: &p.Zoom, Exposure: &p.Exposure, OrientationLock: &p.OrientationLock, WhiteBalance: &p.WhiteBalance}); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Camera.SetParameters(r.Context(), p); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	h.HandleGetParameters(w, r)
}

// HandlePatchSettings applies a partial update, one setter per field.
func (h *Handlers) HandlePatchSettings(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var s Settings
	if !decodeJSON(w, r, &s) {
		return
	}
	if err := ValidateSettings(s); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	c := h.Camera
	var steps []func() error
	if s.Facing != nil {
		steps = append(steps, func() error { return c.SetFacing(ctx, *s.Facing) })
	}
	if s.CameraID != nil {
		steps = append(steps, func() error { return c.SetCameraID(ctx, *s.CameraID) })
	}
	if s.AspectRatio != nil {
		steps = append(steps, func() error { return c.SetAspectRatio(ctx, *s.AspectRatio) })
	}
	if s.PictureSize != nil {
		steps = append(steps, func() error { return c.SetPictureSize(ctx, *s.PictureSize) })
	}
	if s.Flash != nil {
		steps = append(steps, func() error { return c.SetFlash(ctx, *s.Flash) })
	}
	if s.Zoom != nil {
		steps = append(steps, func() error { return c.SetZoom(ctx, *s.Zoom) })
	}
	if s.Exposure != nil {
		steps = append(steps, func() error { return c.SetExposure(ctx, *s.Exposure) })
	}
	if s.WhiteBalance != nil {
		steps = append(steps, func() error { return c.SetWhiteBalance(ctx, *s.WhiteBalance) })
	}
	if s.AutoFocus != nil {
		steps = append(steps, func() error { return c.SetAutoFocus(ctx, *s.AutoFocus) })
	}
	if s.Scanning != nil {
		steps = append(steps, func() error { return c.SetScanning(ctx, *s.Scanning) })
	}
	if s.OrientationLock != nil {
		steps = append(steps, func() error { return c.SetOrientationLock(ctx, *s.OrientationLock) })
	}
	for _, step := range steps {
		if err := step(); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}
	h.HandleGetParameters(w, r)
}

// HandleAspectRatios lists the supported aspect ratios.
func (h *Handlers) HandleAspectRatios(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	ratios, err := h.Camera.SupportedAspectRatios(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ratios)
}

// HandlePictureSizes lists the picture sizes for ?ratio=x:y, or for the
// current ratio when omitted.
func (h *Handlers) HandlePictureSizes(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var ratio geometry.AspectRatio
	if q := r.URL.Query().Get("ratio"); q != "" {
		var err error
		if ratio, err = geometry.ParseAspectRatio(q); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	} else {
		p, err := h.Camera.Parameters(r.Context())
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		ratio = p.AspectRatio
	}
	sizes, err := h.Camera.SupportedPictureSizes(r.Context(), ratio)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sizes)
}

// HandleFPSRanges lists the preview frame-rate ranges.
func (h *Handlers) HandleFPSRanges(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	ranges, err := h.Camera.SupportedPreviewFPSRanges(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ranges)
}

// HandleCapture takes a picture and returns it as image/jpeg.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req session.CaptureRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ValidateCapture(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pic, err := h.Camera.TakePicture(r.Context(), req)
	if err != nil {
		debug.Warn("Web: capture failed: %v", err)
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Picture-Id", pic.ID)
	w.Header().Set("X-Picture-Orientation", strconv.Itoa(pic.Orientation))
	w.Header().Set("Content-Length", strconv.Itoa(len(pic.JPEG)))
	w.Write(pic.JPEG)
}

// HandleResumePreview restarts a preview paused after a capture.
func (h *Handlers) HandleResumePreview(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	if err := h.Camera.ResumePreview(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRotation updates the display quadrant and/or device rotation.
func (h *Handlers) HandleRotation(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var rot Rotation
	if !decodeJSON(w, r, &rot) {
		return
	}
	if rot.Display != nil && (*rot.Display < 0 || *rot.Display > 3) {
		writeError(w, http.StatusBadRequest, errors.New("display must be a quadrant 0..3"))
		return
	}
	if rot.Device != nil && *rot.Device%90 != 0 {
		writeError(w, http.StatusBadRequest, errors.New("device must be a multiple of 90"))
		return
	}
	if rot.Device != nil {
		h.Camera.SetDeviceRotation(*rot.Device)
	}
	if rot.Display != nil {
		if err := h.Camera.SetDisplayRotation(r.Context(), *rot.Display); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// startRequest is the body of POST /recording/start. Durations are in
// seconds on the wire.
type startRequest struct {
	Path         string `json:"path"`
	MaxDurationS *int   `json:"maxDurationS,omitempty"`
	MaxFileSize  *int64 `json:"maxFileSize,omitempty"`
	FPS          int    `json:"fps"`
	Codec        string `json:"codec"`
	Quality      int    `json:"quality"`
	RecordAudio  *bool  `json:"recordAudio,omitempty"`
}

func (h *Handlers) recordingSession(req startRequest) (record.Session, error) {
	d := h.Recording
	rs := record.Session{
		Path:        req.Path,
		MaxDuration: d.MaxDuration,
		MaxFileSize: d.MaxFileSize,
		FPS:         req.FPS,
		Codec:       req.Codec,
		Quality:     req.Quality,
		RecordAudio: d.RecordAudio,
	}
	if req.MaxDurationS != nil {
		if *req.MaxDurationS < 0 {
			return rs, errors.New("maxDurationS must not be negative")
		}
		rs.MaxDuration = time.Duration(*req.MaxDurationS) * time.Second
	}
	if req.MaxFileSize != nil {
		if *req.MaxFileSize < 0 {
			return rs, errors.New("maxFileSize must not be negative")
		}
		rs.MaxFileSize = *req.MaxFileSize
	}
	if req.RecordAudio != nil {
		rs.RecordAudio = *req.RecordAudio
	}
	if rs.FPS <= 0 {
		rs.FPS = d.FPS
	}
	if rs.Codec == "" {
		rs.Codec = d.Codec
	}
	if rs.Quality <= 0 {
		rs.Quality = d.Quality
	}
	if rs.Quality > 100 {
		return rs, errors.New("quality must be between 1 and 100")
	}
	if rs.Path == "" {
		if d.Dir == "" {
			return rs, errors.New("path is required")
		}
		rs.Path = fmt.Sprintf("%s/video-%s.mjpeg", d.Dir, time.Now().Format("20060102-150405.000"))
	}
	return rs, nil
}

// HandleStartRecording starts a recording. It answers 201 with the
// session as started.
func (h *Handlers) HandleStartRecording(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req startRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rs, err := h.recordingSession(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Camera.StartRecording(r.Context(), rs); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	active, _ := h.Camera.Recording()
	writeJSON(w, http.StatusCreated, active)
}

// HandleStopRecording stops the recording and returns its outcome.
func (h *Handlers) HandleStopRecording(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	out, err := h.Camera.StopRecording(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandlePauseRecording pauses the recording where the backend allows it.
func (h *Handlers) HandlePauseRecording(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	if err := h.Camera.PauseRecording(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleResumeRecording resumes a paused recording.
func (h *Handlers) HandleResumeRecording(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	if err := h.Camera.ResumeRecording(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRecordingStatus reports the active recording, if any.
func (h *Handlers) HandleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	rs, ok := h.Camera.Recording()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"recording": false})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Recording bool `json:"recording"`
		record.Session
	}{true, rs})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
