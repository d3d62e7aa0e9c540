// Package api exposes the scheduling core over HTTP.
//
// The surface is deliberately small: structured inbound events (the
// upstream SMS parser posts here), pause/resume, dose-window activation,
// and a health probe. Admin CRUD and authentication live elsewhere.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/6peterlu/coherence-chat/internal/reminders"
	"github.com/6peterlu/coherence-chat/internal/store"
)

// DefaultAddr is the default listen address for the API server.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server handles HTTP requests against the reminder core.
type Server struct {
	reminders *reminders.Service
	store     store.Store
	addr      string
	httpSrv   *http.Server
}

// NewServer creates an API server around the reminder service.
func NewServer(rem *reminders.Service, st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{reminders: rem, store: st, addr: cfg.Addr}
}

// Handler builds the route table. Exposed so tests can drive the routes
// without a listening socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", s.eventHandler)
	mux.HandleFunc("POST /users/{id}/pause", s.pauseHandler)
	mux.HandleFunc("POST /users/{id}/resume", s.resumeHandler)
	mux.HandleFunc("POST /dose_windows/{id}/activate", s.activateHandler(true))
	mux.HandleFunc("POST /dose_windows/{id}/deactivate", s.activateHandler(false))
	mux.HandleFunc("GET /health", s.healthHandler)
	return mux
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{Addr: s.addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
