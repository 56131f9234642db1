// Package api exposes the mesh over HTTP: health and topology queries,
// proposal and operation inspection, Prometheus metrics, and a websocket
// event feed.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/meshweave/meshweave/config"
	"github.com/meshweave/meshweave/internal/metrics"
	"github.com/meshweave/meshweave/protocol"
)

// Server serves the HTTP API for a running mesh system.
type Server struct {
	server   *http.Server
	listener net.Listener
	system   *protocol.System
	feed     *eventFeed
	errCh    chan error
	config   config.ServerConfig
	logger   *zap.Logger
	mu       sync.Mutex
	closed   bool
}

// NewServer builds a Server around system. The collector is optional;
// when nil the /metrics route is not registered.
func NewServer(system *protocol.System, collector *metrics.Collector, cfg config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "api_server"))

	s := &Server{
		system: system,
		feed:   newEventFeed(system.Bus(), logger),
		errCh:  make(chan error, 1),
		config: cfg,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /v1/mesh/health", s.handleMeshHealth)
	mux.HandleFunc("GET /v1/mesh/nodes", s.handleListNodes)
	mux.HandleFunc("GET /v1/mesh/nodes/{id}", s.handleGetNode)
	mux.HandleFunc("GET /v1/mesh/path", s.handleFindPath)
	mux.HandleFunc("GET /v1/proposals", s.handleListProposals)
	mux.HandleFunc("GET /v1/proposals/{id}", s.handleGetProposal)
	mux.HandleFunc("GET /v1/operations", s.handleListOperations)
	mux.HandleFunc("GET /v1/operations/{id}", s.handleGetOperation)
	mux.HandleFunc("GET /v1/events", s.feed.handleWS)
	if collector != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
	}

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start begins serving without blocking.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("server is closed")
	}
	if s.listener != nil {
		return fmt.Errorf("server already started")
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	s.listener = listener
	s.feed.start()
	s.logger.Info("starting HTTP server", zap.String("addr", s.config.Addr))

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", zap.Error(err))
			select {
			case s.errCh <- err:
			default:
			}
		}
	}()

	return nil
}

// Shutdown drains connections and stops the event feed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	s.feed.stop()
	s.listener = nil

	if err != nil {
		s.logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Errors returns asynchronous serve failures.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.config.Addr
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
