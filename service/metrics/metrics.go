package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal    *prometheus.CounterVec
	solanaRPCCallDuration  *prometheus.HistogramVec
	solanaRPCRateLimitHits *prometheus.CounterVec
	solanaRPCRetries       *prometheus.CounterVec

	// Session Metrics
	sessionOperationsTotal *prometheus.CounterVec

	// Simulation Metrics
	simulationsTotal   *prometheus.CounterVec
	simulationDuration *prometheus.HistogramVec
	simulationWarnings *prometheus.CounterVec

	// Signing Metrics
	signingOperationsTotal *prometheus.CounterVec
	signingDuration        *prometheus.HistogramVec
	transportOpensTotal    *prometheus.CounterVec
	transportEvictions     *prometheus.CounterVec

	// Authorization Metrics
	authorizationsTotal   *prometheus.CounterVec
	authorizationDuration *prometheus.HistogramVec
	pendingApprovals      prometheus.Gauge

	// Scanner Metrics
	scannerProbesTotal *prometheus.CounterVec

	// Account Cache Metrics
	accountCacheFlushes *prometheus.CounterVec
	accountCacheEntries prometheus.Gauge

	// Workflow Metrics
	workflowDuration        *prometheus.HistogramVec
	workflowExecutionsTotal *prometheus.CounterVec
	activityDuration        *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retries by method and reason",
			},
			[]string{"method", "reason"},
		),

		// Session Metrics
		sessionOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_operations_total",
				Help: "Total number of session operations by operation and status",
			},
			[]string{"operation", "status"},
		),

		// Simulation Metrics
		simulationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simulations_total",
				Help: "Total number of simulated transactions by status",
			},
			[]string{"status"},
		),
		simulationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "simulation_duration_seconds",
				Help:    "Duration of transaction batch simulation in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),
		simulationWarnings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simulation_warnings_total",
				Help: "Total number of simulation warnings by severity",
			},
			[]string{"severity"},
		),

		// Signing Metrics
		signingOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signing_operations_total",
				Help: "Total number of signing operations by backend and status",
			},
			[]string{"backend", "status"},
		),
		signingDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signing_duration_seconds",
				Help:    "Duration of signing operations in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 1, 5, 15, 30, 60},
			},
			[]string{"backend"},
		),
		transportOpensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hardware_transport_opens_total",
				Help: "Total number of hardware transport opens by kind and status",
			},
			[]string{"kind", "status"},
		),
		transportEvictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hardware_transport_evictions_total",
				Help: "Total number of cached hardware transports evicted by reason",
			},
			[]string{"reason"},
		),

		// Authorization Metrics
		authorizationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authorizations_total",
				Help: "Total number of authorization requests by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		authorizationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authorization_duration_seconds",
				Help:    "End-to-end duration of authorization requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"method"},
		),
		pendingApprovals: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "authorization_pending_approvals",
				Help: "Number of requests waiting for a user decision",
			},
		),

		// Scanner Metrics
		scannerProbesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "derivation_scanner_probes_total",
				Help: "Total number of derivation paths probed by status",
			},
			[]string{"status"},
		),

		// Account Cache Metrics
		accountCacheFlushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "account_cache_flushes_total",
				Help: "Total number of account cache flushes by trigger",
			},
			[]string{"trigger"},
		),
		accountCacheEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "account_cache_entries",
				Help: "Number of accounts held by the account cache",
			},
		),

		// Workflow Metrics
		workflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authorization_workflow_duration_seconds",
				Help:    "Duration of authorization workflows in seconds",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"method", "status"},
		),
		workflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authorization_workflow_executions_total",
				Help: "Total number of authorization workflow executions",
			},
			[]string{"method", "status"},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authorization_activity_duration_seconds",
				Help:    "Duration of authorization workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "method"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration and status.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit (429) error from Solana RPC.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt for an RPC call.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// Session metric helpers

// RecordSessionOp records a connect, disconnect or validate operation.
func (m *Metrics) RecordSessionOp(operation, status string) {
	m.sessionOperationsTotal.WithLabelValues(operation, status).Inc()
}

// Simulation metric helpers

// RecordSimulation records one simulated transaction.
func (m *Metrics) RecordSimulation(status string) {
	m.simulationsTotal.WithLabelValues(status).Inc()
}

// RecordSimulationBatch records the duration of a batch simulation.
func (m *Metrics) RecordSimulationBatch(status string, duration float64) {
	m.simulationDuration.WithLabelValues(status).Observe(duration)
}

// RecordWarning records a classified simulation warning.
func (m *Metrics) RecordWarning(severity string) {
	m.simulationWarnings.WithLabelValues(severity).Inc()
}

// Signing metric helpers

// RecordSigning records a signing operation.
func (m *Metrics) RecordSigning(backend, status string, duration float64) {
	m.signingOperationsTotal.WithLabelValues(backend, status).Inc()
	m.signingDuration.WithLabelValues(backend).Observe(duration)
}

// RecordTransportOpen records an attempt to open a hardware transport.
func (m *Metrics) RecordTransportOpen(kind, status string) {
	m.transportOpensTotal.WithLabelValues(kind, status).Inc()
}

// RecordTransportEviction records a cached transport being dropped.
func (m *Metrics) RecordTransportEviction(reason string) {
	m.transportEvictions.WithLabelValues(reason).Inc()
}

// Authorization metric helpers

// RecordAuthorization records a terminal authorization outcome.
func (m *Metrics) RecordAuthorization(method, outcome string, duration float64) {
	m.authorizationsTotal.WithLabelValues(method, outcome).Inc()
	m.authorizationDuration.WithLabelValues(method).Observe(duration)
}

// RecordPendingApprovalChange adjusts the pending approvals gauge.
func (m *Metrics) RecordPendingApprovalChange(delta float64) {
	m.pendingApprovals.Add(delta)
}

// Scanner metric helpers

// RecordScannerProbe records one derivation path probe.
func (m *Metrics) RecordScannerProbe(status string) {
	m.scannerProbesTotal.WithLabelValues(status).Inc()
}

// Account cache metric helpers

// RecordCacheFlush records an account cache flush and the resulting size.
func (m *Metrics) RecordCacheFlush(trigger string, entries int) {
	m.accountCacheFlushes.WithLabelValues(trigger).Inc()
	m.accountCacheEntries.Set(float64(entries))
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(method, status string, duration float64) {
	m.workflowDuration.WithLabelValues(method, status).Observe(duration)
	m.workflowExecutionsTotal.WithLabelValues(method, status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity, method string, duration float64) {
	m.activityDuration.WithLabelValues(activity, method).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
