package web

import (
	"context"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cjeanneret/camsession/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
	events   *Events
	preview  *Preview
}

// Options wires a Server.
type Options struct {
	Broadcaster *StatusBroadcaster
	Camera      Camera
	Events      *Events
	Registry    Registry
	Recording   RecordingDefaults
	// PreviewQuality is the JPEG quality of websocket preview frames.
	PreviewQuality int
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, opts Options) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, err
	}
	if opts.Events == nil {
		opts.Events = NewEvents(opts.Broadcaster)
	}
	if opts.PreviewQuality <= 0 {
		opts.PreviewQuality = 70
	}

	s := &Server{
		addr:     addr,
		handlers: NewHandlers(opts.Broadcaster, opts.Camera, opts.Recording, subFS),
		events:   opts.Events,
	}
	if opts.Registry != nil {
		s.preview = NewPreview(opts.Registry, opts.PreviewQuality)
	}
	return s, nil
}

// Router returns an http.Handler with all routes registered.
func (s *Server) Router() http.Handler {
	h := s.handlers
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", h.ServeIndex)
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	r.Get("/status/stream", h.HandleStatusStream)
	r.Handle("/metrics", promhttp.Handler())
	if s.preview != nil {
		r.Handle("/preview", s.preview)
	}

	r.Route("/camera", func(r chi.Router) {
		r.Get("/", h.HandleInfo)
		r.Get("/parameters", h.HandleGetParameters)
		r.Put("/parameters", h.HandlePutParameters)
		r.Patch("/parameters", h.HandlePatchSettings)
		r.Get("/aspect-ratios", h.HandleAspectRatios)
		r.Get("/picture-sizes", h.HandlePictureSizes)
		r.Get("/fps-ranges", h.HandleFPSRanges)
		r.Post("/capture", h.HandleCapture)
		r.Get("/picture/latest", s.handleLatestPicture)
		r.Post("/preview/resume", h.HandleResumePreview)
		r.Post("/rotation", h.HandleRotation)
	})

	r.Route("/recording", func(r chi.Router) {
		r.Get("/", h.HandleRecordingStatus)
		r.Post("/start", h.HandleStartRecording)
		r.Post("/stop", h.HandleStopRecording)
		r.Post("/pause", h.HandlePauseRecording)
		r.Post("/resume", h.HandleResumeRecording)
	})

	return r
}

func (s *Server) handleLatestPicture(w http.ResponseWriter, r *http.Request) {
	p, ok := s.events.Latest()
	if !ok {
		http.Error(w, "no picture taken yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Picture-Id", p.ID)
	w.Write(p.JPEG)
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
