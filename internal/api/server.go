// Package api is the HTTP surface: the REST endpoints under /api/v1,
// the dashboard websocket and the metrics scrape endpoint.
package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	mw "github.com/voxgate/voxgate/internal/api/middleware"
	"github.com/voxgate/voxgate/internal/call"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/dashboard"
	"github.com/voxgate/voxgate/internal/database"
	"github.com/voxgate/voxgate/internal/tasks"
)

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Config      *config.Config
	Calls       database.CallRepository
	Access      *database.AccessStore
	Coordinator *call.Coordinator
	Hub         *dashboard.Hub
	Tasks       *tasks.Store
	Executor    *tasks.Executor
	// Metrics is the prometheus scrape handler; nil disables /metrics.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server holds the handler dependencies and the chi router.
type Server struct {
	router      *chi.Mux
	cfg         *config.Config
	calls       database.CallRepository
	access      *database.AccessStore
	coordinator *call.Coordinator
	hub         *dashboard.Hub
	tasks       *tasks.Store
	executor    *tasks.Executor
	limiter     *mw.IPRateLimiter
	logger      *slog.Logger
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(deps Deps) (*Server, error) {
	s := &Server{
		router:      chi.NewRouter(),
		cfg:         deps.Config,
		calls:       deps.Calls,
		access:      deps.Access,
		coordinator: deps.Coordinator,
		hub:         deps.Hub,
		tasks:       deps.Tasks,
		executor:    deps.Executor,
		limiter:     mw.NewIPRateLimiter(mw.DefaultRateLimitConfig()),
		logger:      deps.Logger.With("component", "api"),
	}

	if err := s.routes(deps.Metrics); err != nil {
		return nil, fmt.Errorf("mounting routes: %w", err)
	}
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops background resources owned by the server.
func (s *Server) Close() {
	s.limiter.Stop()
}

func (s *Server) routes(metrics http.Handler) error {
	r := s.router

	ipAllow, err := mw.IPAllowlist(s.cfg.AllowedCIDRList())
	if err != nil {
		return err
	}

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.StructuredLogger)
	r.Use(mw.Recoverer)
	r.Use(mw.SecurityHeaders(false))
	r.Use(mw.CORS(mw.ParseCORSOrigins(s.cfg.CORSOrigins)))
	r.Use(ipAllow)

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.Get("/ws", s.hub.ServeWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RateLimit(s.limiter))

		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/agents", s.handleAgents)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleTaskList)
			r.Post("/{id}/cancel", s.handleTaskCancel)
		})

		r.Route("/blacklist", func(r chi.Router) {
			r.Get("/", s.handleBlacklistList)
			r.Post("/", s.handleBlacklistAdd)
			r.Delete("/{caller}", s.handleBlacklistRemove)
		})

		r.Route("/whitelist", func(r chi.Router) {
			r.Get("/", s.handleWhitelistList)
			r.Post("/", s.handleWhitelistAdd)
			r.Delete("/{caller}", s.handleWhitelistRemove)
		})

		r.Route("/calls", func(r chi.Router) {
			r.Get("/", s.handleCallList)
			r.Post("/active/hangup", s.handleActiveHangup)
			r.Get("/{id}", s.handleCallGet)
		})
	})

	s.logger.Info("api routes mounted")
	return nil
}
