package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/helium/wallet-app-sub004/service/authz"
	"github.com/helium/wallet-app-sub004/service/db"
	"github.com/helium/wallet-app-sub004/service/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Authorizer runs provider requests. *authz.Runner and *temporal.Client
// both satisfy it.
type Authorizer interface {
	Start(ctx context.Context, req authz.Request) error
	Decide(ctx context.Context, requestID string, d authz.Decision) error
	Status(ctx context.Context, requestID string) (*authz.Status, error)
}

// PendingLister lists requests waiting for a decision.
type PendingLister interface {
	List() []*authz.Pending
}

// EventLister reads the authorization audit log.
type EventLister interface {
	ListEvents(ctx context.Context, params db.ListEventsParams) ([]*db.AuthorizationEvent, error)
	Ping(ctx context.Context) error
}

// Server represents the HTTP server for the wallet provider.
type Server struct {
	addr       string
	authorizer Authorizer
	pending    PendingLister
	events     EventLister
	stream     *EventStream
	metrics    *metrics.Metrics
	logger     *slog.Logger
	server     *http.Server
}

// New creates a new HTTP server with the given dependencies.
// pending is optional - if nil, the approvals listing is unavailable (decisions still work).
// events is optional - if nil, the audit log endpoint is unavailable.
// stream is optional - if nil, SSE endpoints won't be available.
// metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, authorizer Authorizer, pending PendingLister, events EventLister, stream *EventStream, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:       addr,
		authorizer: authorizer,
		pending:    pending,
		events:     events,
		stream:     stream,
		metrics:    m,
		logger:     logger,
	}
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Provider routes, reached by counterparty redirects
	route("GET /v1/provider/{method}", "/v1/provider", handleProviderRequest(s.authorizer, s.logger))
	route("GET /v1/requests/{id}", "/v1/requests", handleRequestStatus(s.authorizer, s.logger))
	route("GET /v1/requests/{id}/redirect", "/v1/requests/redirect", handleRequestRedirect(s.authorizer, s.logger))

	// Approval routes
	route("POST /v1/requests/{id}/decision", "/v1/requests/decision", handleDecide(s.authorizer, s.logger))
	if s.pending != nil {
		route("GET /v1/approvals", "/v1/approvals", handleListPending(s.pending, s.logger))
	} else {
		s.logger.Warn("pending registry not configured, approvals listing disabled")
	}

	if s.events != nil {
		route("GET /v1/events", "/v1/events", handleListEvents(s.events, s.logger))
	}

	if s.stream != nil {
		route("GET /v1/stream/events", "/v1/stream/events", handleStreamEvents(s.stream, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	}

	mux.Handle("GET /health", handleHealth(s.events, s.logger))

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: SSE connections are long lived.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if s.stream != nil {
		s.stream.Close()
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
