// Package api exposes the bookmark and archive HTTP surface.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/steveclarke/link-radar-sub004/internal/archive"
	"github.com/steveclarke/link-radar-sub004/internal/bookmarks"
)

// ReadyFunc reports backend readiness, typically a database ping.
type ReadyFunc func(ctx context.Context) error

// Server wires the HTTP handlers to the bookmark service and store.
type Server struct {
	bookmarks *bookmarks.Service
	store     archive.Store
	ready     ReadyFunc
	logger    *zap.Logger
}

// NewServer constructs the API server. ready may be nil, in which case
// readyz always succeeds.
func NewServer(svc *bookmarks.Service, store archive.Store, ready ReadyFunc, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{bookmarks: svc, store: store, ready: ready, logger: logger}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/bookmarks", s.handleCreateBookmark)
		r.Get("/bookmarks/{id}", s.handleGetBookmark)
		r.Delete("/bookmarks/{id}", s.handleDeleteBookmark)
		r.Get("/bookmarks/{id}/archive", s.handleGetArchive)
		r.Get("/archives/{id}/transitions", s.handleListTransitions)
		r.Delete("/archives/{id}/transitions/latest", s.handleDeleteLatestTransition)
	})
	return r
}

// requestLogger logs one line per request with latency and status.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "backend not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
