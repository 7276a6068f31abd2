package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"git.home.luguber.info/inful/buildrunner/internal/build"
	"git.home.luguber.info/inful/buildrunner/internal/config"
	"git.home.luguber.info/inful/buildrunner/internal/events"
	"git.home.luguber.info/inful/buildrunner/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrunner/internal/pipeline"
	"git.home.luguber.info/inful/buildrunner/internal/store"
)

// Store is the read/write surface the API needs. *store.SQLiteStore satisfies it.
type Store interface {
	ListPipelines(ctx context.Context) ([]store.PipelineSummary, error)
	GetPipeline(ctx context.Context, id int64) (*store.Pipeline, error)
	CreatePipeline(ctx context.Context, def pipeline.Definition) (*store.Pipeline, error)
	DeletePipeline(ctx context.Context, id int64) error
	ListBuilds(ctx context.Context, limit int) ([]store.Build, error)
	GetBuild(ctx context.Context, id int64) (*store.Build, error)
	ListLogs(ctx context.Context, buildID int64) ([]store.BuildLog, error)
	RecentLogs(ctx context.Context, limit int) ([]store.BuildLog, error)
}

// Trigger starts builds. *build.Service satisfies it.
type Trigger interface {
	Run(ctx context.Context, pipelineID int64) (*store.Build, error)
}

var _ Trigger = (*build.Service)(nil)

// Options carries the server's collaborators.
type Options struct {
	Store   Store
	Trigger Trigger
	// Bus feeds the SSE endpoint; nil disables it.
	Bus *events.Bus
	// Metrics is mounted on MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
}

// Server represents the API server.
type Server struct {
	Addr      string
	router    *chi.Mux
	server    *http.Server
	opts      Options
	errors    *errors.HTTPErrorAdapter
	keepalive time.Duration
}

// NewServer creates a new API server.
func NewServer(cfg config.ServerConfig, opts Options) *Server {
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	s := &Server{
		Addr:      cfg.Addr,
		router:    chi.NewRouter(),
		opts:      opts,
		errors:    errors.NewHTTPErrorAdapter(nil),
		keepalive: 15 * time.Second,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       config.Duration(cfg.ReadTimeout, 15*time.Second),
		// Zero keeps SSE streams open; per-request limits come from middleware.Timeout.
		WriteTimeout: config.Duration(cfg.WriteTimeout, 0),
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)

	if s.opts.Metrics != nil {
		s.router.Method(http.MethodGet, s.opts.MetricsPath, s.opts.Metrics)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Get("/pipelines", s.handleListPipelines)
			r.Post("/pipelines", s.handleCreatePipeline)
			r.Get("/pipelines/{id}", s.handleGetPipeline)
			r.Delete("/pipelines/{id}", s.handleDeletePipeline)
			r.Post("/pipelines/{id}/run", s.handleRunPipeline)

			r.Get("/builds", s.handleListBuilds)
			r.Get("/builds/{id}", s.handleGetBuild)
			r.Get("/builds/{id}/logs", s.handleGetBuildLogs)

			r.Get("/dashboard", s.handleDashboard)
		})

		// Build events (Server-Sent Events), long-lived so outside the timeout group.
		r.Get("/builds/{id}/events", s.handleBuildEvents)
	})
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start starts the API server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Response represents a standard API response.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Error writes an error response.
func (s *Server) Error(w http.ResponseWriter, _ *http.Request, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	resp := Response{
		Success: false,
		Error:   message,
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// Success writes a success response.
func (s *Server) Success(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	resp := Response{
		Success: true,
		Data:    data,
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// Fail writes a classified error with the status code its category maps to.
func (s *Server) Fail(w http.ResponseWriter, r *http.Request, err error) {
	s.errors.WriteErrorResponse(w, r, err)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}
