// Package web serves the published dictionaries and the load history as a
// read-only JSON API.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/surveyload/internal/config"
	"github.com/JonMunkholm/surveyload/internal/dictionary"
	"github.com/JonMunkholm/surveyload/internal/store"
	webmw "github.com/JonMunkholm/surveyload/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Store is the read side of the metadata schema.
type Store interface {
	Ping(ctx context.Context) error
	ListSurveys(ctx context.Context) ([]store.SurveySummary, error)
	ListTables(ctx context.Context, surveyID string) ([]store.TableSummary, error)
	ListColumns(ctx context.Context, surveyID, table string) ([]dictionary.ColumnSpec, error)
	ListValues(ctx context.Context, surveyID, table, column string) ([]dictionary.ValueSpec, error)
	ListHistory(ctx context.Context, surveyID string, limit int) ([]store.HistoryEntry, error)
}

// Server is the HTTP server for the metadata API.
type Server struct {
	store  Store
	cfg    config.ServerConfig
	router *chi.Mux
	server *http.Server
}

// NewServer creates a new Server instance.
func NewServer(st Store, cfg config.ServerConfig) *Server {
	s := &Server{
		store:  st,
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
	s.router.Use(webmw.TrustedRealIP(s.cfg.TrustedProxies))
	s.router.Use(webmw.Logger)
	s.router.Use(middleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(webmw.APIKeyAuth(&s.cfg))

		r.Get("/surveys", s.handleListSurveys)
		r.Get("/surveys/{surveyID}/tables", s.handleListTables)
		r.Get("/surveys/{surveyID}/tables/{table}/columns", s.handleListColumns)
		r.Get("/surveys/{surveyID}/tables/{table}/columns/{column}/values", s.handleListValues)
		r.Get("/history", s.handleListHistory)
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondNotFound(w, "route")
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr, "auth", s.cfg.RequireAPIKey)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
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
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
