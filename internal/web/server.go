// Package web provides the HTTP API of the export service.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/fieldexport/internal/config"
	"github.com/JonMunkholm/fieldexport/internal/core"
	"github.com/JonMunkholm/fieldexport/internal/export"
	"github.com/JonMunkholm/fieldexport/internal/mapping"
	"github.com/JonMunkholm/fieldexport/internal/store"
	mw "github.com/JonMunkholm/fieldexport/internal/web/middleware"
)

// API is the service surface the handlers call. *core.Service implements it.
type API interface {
	Export(ctx context.Context, req core.ExportRequest) (*export.Result, error)
	ArchivePath(ctx context.Context, slug string, userID int64, format string) (string, error)
	ResetExports(ctx context.Context, slug string, userID int64) error
	ExportHistory(ctx context.Context, slug string, limit int) ([]store.ExportRun, error)
	ExportStatus() core.ExportLimiterStatus

	CheckUnique(ctx context.Context, req core.UniqueRequest) error

	ListMappings(ctx context.Context, slug string) ([]mapping.Mapping, error)
	CreateMapping(ctx context.Context, slug, name string, fromIndex int) (mapping.Mapping, error)
	UpdateMapping(ctx context.Context, slug string, index int, m mapping.Mapping) (mapping.Mapping, error)
	DeleteMapping(ctx context.Context, slug string, index int) error
}

// Pinger reports whether the database is reachable.
type Pinger func(ctx context.Context) error

// Server is the HTTP server for the export API.
type Server struct {
	api    API
	ping   Pinger
	cfg    *config.Config
	router *chi.Mux
	server *http.Server

	limiter       *mw.RateLimiter
	exportLimiter *mw.RateLimiter
}

// NewServer creates a Server. ping may be nil when no database is attached.
func NewServer(api API, cfg *config.Config, ping Pinger) *Server {
	s := &Server{
		api:    api,
		ping:   ping,
		cfg:    cfg,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		s.limiter = mw.NewRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute, mw.ByIP)
		s.router.Use(s.limiter.Middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(&s.cfg.Security))
		r.Use(mw.UserIdentity)

		r.Route("/projects/{slug}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				// exports are the expensive route, so they get their own budget per user
				if s.cfg.Rate.Enabled && s.cfg.Rate.ExportLimit > 0 {
					s.exportLimiter = mw.NewRateLimiter(s.cfg.Rate.ExportLimit, time.Minute, mw.ByUser)
					r.Use(s.exportLimiter.Middleware)
				}
				r.Get("/export", s.handleExport)
			})

			r.Get("/exports", s.handleExportHistory)
			r.Get("/exports/{format}", s.handleDownloadArchive)
			r.Post("/exports/reset", s.handleResetExports)

			r.Post("/unique", s.handleCheckUnique)

			r.Get("/mappings", s.handleListMappings)
			r.Post("/mappings", s.handleCreateMapping)
			r.Put("/mappings/{index}", s.handleUpdateMapping)
			r.Delete("/mappings/{index}", s.handleDeleteMapping)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout, // 0 lets large archives finish streaming
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and its background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, l := range []*mw.RateLimiter{s.limiter, s.exportLimiter} {
		if l != nil {
			l.Stop()
		}
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}
