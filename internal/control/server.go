// Package control exposes the HTTP API used by operators: camera management,
// person registration, manual attendance and reports, plus liveness and
// readiness probes.
//
// Requests are validated here; the core packages only see well-formed input.
package control

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/Rishiwins/attendance-tracker/internal/attendance"
	"github.com/Rishiwins/attendance-tracker/internal/registry"
	"github.com/Rishiwins/attendance-tracker/internal/types"
)

// Sources is the camera management surface, implemented by *registry.Registry
type Sources interface {
	Add(ctx context.Context, id, address string) error
	Remove(id string) error
	Restart(ctx context.Context, id string) error
	Status() map[string]registry.SourceStatus
	Frame(id string) (types.Frame, bool, error)
}

// Probe is one readiness check. A failing critical probe makes the service
// unhealthy; any other failure only degrades it.
type Probe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// Options wires the server to the running components
type Options struct {
	Sources Sources
	Engine  *attendance.Engine
	Probes  []Probe
	// Stats returns extra counters shown by /readiness (dispatcher, classifier, mqtt)
	Stats  func() map[string]any
	Logger *slog.Logger
}

// Server holds the handler dependencies
type Server struct {
	sources  Sources
	engine   *attendance.Engine
	probes   []Probe
	stats    func() map[string]any
	validate *validator.Validate
	logger   *slog.Logger
	started  time.Time
}

// NewRouter builds the chi router with request id, panic recovery and access logging
func NewRouter(opts Options) *chi.Mux {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		sources:  opts.Sources,
		engine:   opts.Engine,
		probes:   opts.Probes,
		stats:    opts.Stats,
		validate: newValidator(),
		logger:   opts.Logger,
		started:  time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/health", s.handleHealth)
	r.Get("/readiness", s.handleReadiness)

	r.Route("/sources", func(r chi.Router) {
		r.Get("/", s.handleListSources)
		r.Post("/", s.handleAddSource)
		r.Delete("/{id}", s.handleRemoveSource)
		r.Post("/{id}/restart", s.handleRestartSource)
		r.Get("/{id}/frame", s.handleFrame)
	})

	r.Route("/persons", func(r chi.Router) {
		r.Get("/", s.handleListPersons)
		r.Post("/", s.handleRegisterPerson)
	})

	r.Route("/attendance", func(r chi.Router) {
		r.Post("/manual/{personID}", s.handleManual)
		r.Get("/summary/{date}", s.handleSummary)
		r.Get("/history/{personID}", s.handleHistory)
		r.Get("/report", s.handleReport)
		r.Get("/records/{personID}/{date}", s.handleRecord)
	})

	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "control: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
