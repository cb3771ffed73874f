// Package api serves the read-only HTTP view of the sample history and the
// live websocket feed.
package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/logger"
	"codeberg.org/mutker/bmsctl/internal/telemetry"
)

const (
	readHeaderTimeout       = 5 * time.Second
	gracefulShutdownTimeout = 5 * time.Second
)

type Server struct {
	cfg   Config
	store telemetry.Persistence
	hub   *Hub
	log   logger.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

func New(cfg Config, store telemetry.Persistence, feed Feed, log logger.Logger) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:   cfg,
		store: store,
		hub:   NewHub(feed, cfg, log),
		log:   log,
	}
}

// Hub returns the websocket hub, which doubles as the notification sink.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Handler() http.Handler { return s.buildRouter() }

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return errors.New().Wrap(ErrListen, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.ErrorWithCode(errors.New().Wrap(ErrListen, err)).Msg("HTTP server stopped")
		}
	}()

	s.log.Info().Str("listen", ln.Addr().String()).Msg("HTTP server started")
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Close() error {
	s.hub.Close()

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return errors.New().Wrap(ErrShutdown, err)
	}
	s.log.Info().Msg("HTTP server stopped")
	return nil
}
