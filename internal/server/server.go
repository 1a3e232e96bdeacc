// Package server is the HTTP face of fabricbridge: JSON routes over the
// gateway, the origin allow-list, and a start/stop handle owned by the
// caller.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deixis/fabricbridge/internal/gateway"
	"github.com/deixis/fabricbridge/internal/journal"
)

// Backend runs the tool operations behind the routes. Implemented by
// *gateway.Gateway.
type Backend interface {
	ApplyPattern(ctx context.Context, pattern, model, text string) (string, error)
	ApplyPatternToVideo(ctx context.Context, pattern, model, url string) (string, error)
	SetModel(ctx context.Context, model string) (string, error)
	ListModels(ctx context.Context) ([]gateway.Model, error)
	ListPatterns(ctx context.Context) ([]string, error)
}

// Config holds the server settings.
type Config struct {
	Addr           string   // loopback host:port
	AllowedOrigins []string // CORS allow-list
	MaxBody        int64    // request body limit in bytes
	Platform       string   // reported by /health
	Invocation     string   // reported by /health
}

// State is the lifecycle state of a Server.
type State int32

const (
	// StateCreated means Start has not been called.
	StateCreated State = iota
	// StateRunning means the server is accepting requests.
	StateRunning
	// StateStopped is terminal.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Server serves the API. A Server is single-use: once stopped, create a
// new one.
type Server struct {
	cfg     Config
	backend Backend
	runs    journal.Store
	mcp     http.Handler
	logger  *log.Logger
	handler http.Handler

	mu    sync.Mutex
	state State
	srv   *http.Server
	addr  string
	errCh chan error
}

// Option configures a Server.
type Option func(*Server)

// WithJournal serves run records from s at GET /runs/{id}.
func WithJournal(s journal.Store) Option {
	return func(srv *Server) { srv.runs = s }
}

// WithMCP mounts an MCP handler at /mcp.
func WithMCP(h http.Handler) Option {
	return func(srv *Server) { srv.mcp = h }
}

// WithLogger sets the server logger.
func WithLogger(l *log.Logger) Option {
	return func(srv *Server) { srv.logger = l }
}

// New creates a Server. It does not listen until Start.
func New(cfg Config, backend Backend, opts ...Option) *Server {
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 8 << 20
	}
	s := &Server{
		cfg:     cfg,
		backend: backend,
		errCh:   make(chan error, 1),
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard)
	}
	s.handler = s.routes()
	return s
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler { return s.handler }

// Start binds the listener and serves in the background. It returns once
// the listener is bound, or with the bind error.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCreated {
		return fmt.Errorf("cannot start server in state %s", s.state)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		s.state = StateStopped
		close(s.errCh)
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok && !tcp.IP.IsLoopback() {
		_ = ln.Close()
		s.state = StateStopped
		close(s.errCh)
		return fmt.Errorf("refusing to serve on non-loopback address %s", tcp)
	}

	s.srv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.addr = ln.Addr().String()
	s.state = StateRunning

	go func() {
		err := s.srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped", "err", err)
			s.errCh <- err
		}
		close(s.errCh)
	}()

	s.logger.Info("API server started", "addr", s.addr)
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err delivers a fatal serve error, if any, and is closed when the server
// stops serving.
func (s *Server) Err() <-chan error { return s.errCh }

// Stop shuts the server down, waiting for in-flight requests until ctx is
// done. Stopping a server that is not running is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateCreated:
		s.logger.Warn("stop requested but the API server was not running")
		s.state = StateStopped
		close(s.errCh)
		return nil
	case StateStopped:
		s.logger.Warn("stop requested but the API server was not running")
		return nil
	}

	s.logger.Info("stopping API server")
	s.state = StateStopped
	if err := s.srv.Shutdown(ctx); err != nil {
		_ = s.srv.Close()
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
