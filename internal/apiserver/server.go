package apiserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/moolen/lookout/internal/api"
	"github.com/moolen/lookout/internal/logging"
)

// ReadinessChecker reports whether a dependency is ready to serve.
type ReadinessChecker interface {
	IsReady() bool
}

// Config configures the HTTP server.
type Config struct {
	Addr string
	// MCPEndpoint is the path of the streamable MCP transport. It is only
	// registered when MCP is set.
	MCPEndpoint string
	// AllowedOrigins restricts websocket origins; empty allows any.
	AllowedOrigins []string
}

// Server serves the websocket turn stream, thread history, MCP, metrics
// and health endpoints.
type Server struct {
	cfg      Config
	server   *http.Server
	router   *http.ServeMux
	logger   *logging.Logger
	chat     api.Chatter
	mcp      http.Handler
	metrics  http.Handler
	ready    ReadinessChecker
	mu       sync.Mutex
	listener net.Listener
}

// Option configures optional endpoints.
type Option func(*Server)

// WithMCP mounts h at Config.MCPEndpoint.
func WithMCP(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// WithMetrics serves h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithReadiness makes /readyz depend on checker.
func WithReadiness(checker ReadinessChecker) Option {
	return func(s *Server) { s.ready = checker }
}

func New(cfg Config, chat api.Chatter, opts ...Option) *Server {
	if cfg.MCPEndpoint == "" {
		cfg.MCPEndpoint = "/mcp"
	} else if cfg.MCPEndpoint[0] != '/' {
		cfg.MCPEndpoint = "/" + cfg.MCPEndpoint
	}
	s := &Server{
		cfg:    cfg,
		router: http.NewServeMux(),
		logger: logging.GetLogger("apiserver"),
		chat:   chat,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerHandlers()

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.corsMiddleware(s.router),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start implements lifecycle.Component. It returns once the listener is
// bound.
func (s *Server) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("API server listening on %s", ln.Addr())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error: %v", err)
		}
	}()
	return nil
}

// Stop implements lifecycle.Component.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")

	done := make(chan error, 1)
	go func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- s.server.Shutdown(shutdownCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Error("HTTP server shutdown error: %v", err)
			return err
		}
		s.logger.Info("API server stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("API server shutdown timeout")
		return ctx.Err()
	}
}

// Name implements lifecycle.Component.
func (s *Server) Name() string {
	return "API Server"
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = api.WriteJSON(w, map[string]interface{}{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ready := s.ready == nil || s.ready.IsReady()
	if ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = api.WriteJSON(w, map[string]interface{}{"ready": ready})
}
