// Package server implements the gerbershot upload server.
//
// Users upload a zipped gerber export through a multipart form; the server
// converts it with a shared pipeline.Runner, publishes the image and records
// the outcome. Every upload gets its own conversion ID, scratch directory and
// output subdirectory, so concurrent uploads of same-named archives never
// interfere.
package server

import (
	"context"
	stderrors "errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matzehuels/gerbershot/pkg/errors"
	"github.com/matzehuels/gerbershot/pkg/observability"
	"github.com/matzehuels/gerbershot/pkg/pipeline"
	"github.com/matzehuels/gerbershot/pkg/publish"
	"github.com/matzehuels/gerbershot/pkg/raster"
	"github.com/matzehuels/gerbershot/pkg/store"
)

// Defaults.
const (
	// FormField is the multipart field holding the uploaded archive.
	FormField = "gerberArchive"

	// DefaultMaxUploadBytes caps the request body.
	DefaultMaxUploadBytes = 64 << 20

	// uploadsDir is created below the scratch root for incoming uploads.
	uploadsDir = "uploads"

	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Options configures a Server. Runner is required.
type Options struct {
	Runner    *pipeline.Runner
	Render    raster.Config
	Publisher publish.Publisher
	Store     store.Store
	Logger    *log.Logger
	Hooks     observability.ServerHooks

	// MaxUploadBytes defaults to DefaultMaxUploadBytes.
	MaxUploadBytes int64
}

// Server handles uploads. It is safe for concurrent use.
type Server struct {
	runner    *pipeline.Runner
	render    raster.Config
	publisher publish.Publisher
	store     store.Store
	logger    *log.Logger
	hooks     observability.ServerHooks
	maxUpload int64
	uploads   string
}

// New creates a server, filling in defaults for optional fields.
func New(opts Options) (*Server, error) {
	if opts.Runner == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "server requires a pipeline runner")
	}
	if err := opts.Render.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		runner:    opts.Runner,
		render:    opts.Render,
		publisher: opts.Publisher,
		store:     opts.Store,
		logger:    opts.Logger,
		hooks:     opts.Hooks,
		maxUpload: opts.MaxUploadBytes,
		uploads:   filepath.Join(opts.Runner.Workspace.ScratchRoot, uploadsDir),
	}
	if s.publisher == nil {
		s.publisher = &publish.Local{Root: opts.Runner.Workspace.OutputRoot}
	}
	if s.store == nil {
		s.store = store.NewBoundedMemory(store.DefaultMemoryRecords)
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.hooks == nil {
		s.hooks = observability.Server()
	}
	if s.maxUpload <= 0 {
		s.maxUpload = DefaultMaxUploadBytes
	}
	return s, nil
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/healthz", s.handleHealth)
	r.Post("/upload", s.handleUpload)
	r.Get("/upload", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/", http.StatusFound)
	})
	r.Get("/conversions", s.handleListConversions)
	r.Get("/conversions/{id}", s.handleGetConversion)
	r.Handle(publish.ImagePrefix+"*", http.StripPrefix(publish.ImagePrefix, s.images()))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "", errors.New(errors.ErrCodeNotFound, "no route for %s", r.URL.Path))
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully, letting in-flight conversions finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// observe reports every request to the server hooks and the logger.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		s.hooks.OnRequest(r.Context(), r.Method, r.URL.Path)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		d := time.Since(start)
		s.hooks.OnResponse(r.Context(), r.Method, r.URL.Path, status, d)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", d,
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// images serves artifacts from the output directory without directory listings.
func (s *Server) images() http.Handler {
	fs := http.FileServer(http.Dir(s.runner.Workspace.OutputRoot))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || r.URL.Path[len(r.URL.Path)-1] == '/' {
			writeError(w, "", errors.New(errors.ErrCodeNotFound, "no image at %s", r.URL.Path))
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=86400")
		fs.ServeHTTP(w, r)
	})
}
