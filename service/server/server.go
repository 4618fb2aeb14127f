package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/brojonat/counterwallet/service/counter"
	"github.com/brojonat/counterwallet/service/metrics"
	"github.com/brojonat/counterwallet/service/networks"
	"github.com/brojonat/counterwallet/service/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultKeepalive = 10 * time.Second

// Server exposes the wallet session over HTTP.
type Server struct {
	addr     string
	machine  *session.Machine
	executor *counter.Executor
	registry *networks.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger
	server   *http.Server

	// actionCtx bounds counter writes instead of the request context, so a
	// client hanging up does not abandon a confirmation wait. Shutdown
	// cancels it.
	actionCtx     context.Context
	cancelActions context.CancelFunc
	keepalive     time.Duration

	mu        sync.Mutex
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a new HTTP server with the given dependencies.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, machine *session.Machine, executor *counter.Executor, registry *networks.Registry, m *metrics.Metrics, logger *slog.Logger) *Server {
	actionCtx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:          addr,
		machine:       machine,
		executor:      executor,
		registry:      registry,
		metrics:       m,
		logger:        logger,
		actionCtx:     actionCtx,
		cancelActions: cancel,
		keepalive:     defaultKeepalive,
		closing:       make(chan struct{}),
	}
}

// WithActionContext sets the parent of the context counter writes run under.
// Cancelling it, or calling Shutdown, releases every in-flight confirmation
// wait. Call it before Handler.
func (s *Server) WithActionContext(ctx context.Context) *Server {
	s.cancelActions()
	s.actionCtx, s.cancelActions = context.WithCancel(ctx)
	return s
}

// WithKeepalive sets the interval between SSE keepalive comments.
func (s *Server) WithKeepalive(d time.Duration) *Server {
	if d > 0 {
		s.keepalive = d
	}
	return s
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	route("GET /api/v1/state", "/api/v1/state", handleGetState(s.machine, s.registry, s.logger))
	route("POST /api/v1/session/connect", "/api/v1/session/connect", handleConnect(s.machine, s.registry, s.logger))
	route("POST /api/v1/session/disconnect", "/api/v1/session/disconnect", handleDisconnect(s.machine, s.registry, s.logger))
	route("POST /api/v1/session/refresh", "/api/v1/session/refresh", handleRefresh(s.machine, s.registry, s.logger))
	route("GET /api/v1/counter", "/api/v1/counter", handleReadCounter(s.executor, s.logger))
	route("POST /api/v1/counter/{action}", "/api/v1/counter/{action}", handleCounterAction(s.executor, s.machine, s.registry, s.actionCtx, s.logger))
	route("GET /api/v1/transactions", "/api/v1/transactions", handleListTransactions(s.machine, s.registry, s.logger))
	route("GET /api/v1/transactions/{hash}", "/api/v1/transactions/{hash}", handleGetTransaction(s.machine, s.registry, s.logger))
	route("DELETE /api/v1/error", "/api/v1/error", handleDismissError(s.machine, s.logger))
	route("GET /api/v1/networks", "/api/v1/networks", handleListNetworks(s.registry))

	// Not wrapped: the middleware would observe the whole stream lifetime.
	mux.Handle("GET /api/v1/stream", handleStream(s.machine, s.registry, s.metrics, s.keepalive, s.closing, s.logger))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return s.Serve(l)
}

// Serve serves HTTP on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: streams and confirmation waits have no upper bound.
		IdleTimeout: 60 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", "addr", l.Addr().String())
	if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown releases in-flight confirmation waits and ends open streams,
// then gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	s.cancelActions()
	s.closeOnce.Do(func() { close(s.closing) })

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
