// Package api provides the HTTP API: root management, sync control, task
// history, comic browsing and search, plus the SSE event stream.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/shelfsync/shelfsync/internal/http/response"
	"github.com/shelfsync/shelfsync/internal/ratelimit"
)

// Options configures the HTTP layer.
type Options struct {
	AllowedOrigins []string
	// RequestsPerMinute per client IP; zero disables rate limiting.
	RequestsPerMinute int
	Version           string
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	deps    Deps
	router  *chi.Mux
	api     huma.API
	limiter *ratelimit.KeyedRateLimiter
	logger  *slog.Logger
	started time.Time
}

// NewServer creates the HTTP server with all routes configured.
func NewServer(deps Deps, opts Options, logger *slog.Logger) *Server {
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		deps:    deps,
		router:  chi.NewRouter(),
		logger:  logger,
		started: time.Now(),
	}
	if opts.RequestsPerMinute > 0 {
		s.limiter = ratelimit.New(float64(opts.RequestsPerMinute)/60, opts.RequestsPerMinute)
	}

	s.setupMiddleware(opts)

	humaConfig := huma.DefaultConfig("shelfsync API", opts.Version)
	humaConfig.Transformers = append(humaConfig.Transformers, EnvelopeTransformer)
	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.registerHealthRoutes()
	s.registerRootRoutes()
	s.registerSyncRoutes()
	s.registerTaskRoutes()
	s.registerComicRoutes()
	s.registerSearchRoutes()

	if deps.Events != nil {
		s.router.Get("/api/v1/events", deps.Events.ServeHTTP)
	}

	s.router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.NotFound(w, "route not found", s.logger)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.MethodNotAllowed(w, s.logger)
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// API exposes the huma API, for OpenAPI export.
func (s *Server) API() huma.API {
	return s.api
}

// Close releases background resources.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func (s *Server) setupMiddleware(opts Options) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Last-Event-ID"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if s.limiter != nil {
		s.router.Use(rateLimitMiddleware(s.limiter, s.logger))
	}
}

// background returns a context for work that outlives the request.
// Sync runs are still cancelled by the orchestrator on shutdown.
func background(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
