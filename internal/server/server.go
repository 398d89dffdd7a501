// Package server exposes the process over HTTP: liveness, Prometheus
// metrics, pairing code images and the per-session websocket streams.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Iron-Ham/wamux/internal/config"
	"github.com/Iron-Ham/wamux/internal/errors"
	"github.com/Iron-Ham/wamux/internal/logging"
	"github.com/Iron-Ham/wamux/internal/metrics"
	"github.com/Iron-Ham/wamux/internal/registry"
	"github.com/Iron-Ham/wamux/internal/ws"
)

// Sessions is the read side of the session manager.
type Sessions interface {
	Registry() registry.Reader
	QR(id string) (code string, png []byte, ok bool)
}

// Options configures a Server.
type Options struct {
	Config   config.ServerConfig
	Sessions Sessions
	// Hub serves /ws/{sessionId}; nil disables the route.
	Hub    *ws.Hub
	Logger *logging.Logger
}

// Server is the HTTP front of the process.
type Server struct {
	opts   Options
	logger *logging.Logger
	router *chi.Mux
	http   *http.Server
}

// New builds the router.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	s := &Server{opts: opts, logger: logger.WithComponent("server")}

	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", s.handleHealthz)
	router.Get("/qr/{sessionId}", s.handleQR)
	if opts.Config.Metrics {
		router.Handle("/metrics", metrics.Handler())
	}
	if opts.Hub != nil {
		router.Get("/ws/{sessionId}", s.handleWS)
	}
	s.router = router
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx ends, then shuts down within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.opts.Config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.opts.Config.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.Config.ShutdownTimeout())
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.opts.Sessions.Registry().Len(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	if !s.opts.Sessions.Registry().Exists(id) {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	_, png, ok := s.opts.Sessions.QR(id)
	if !ok || len(png) == 0 {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "qr code not ready or already scanned"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.opts.Hub.ServeSession(w, r, chi.URLParam(r, "sessionId"))
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
