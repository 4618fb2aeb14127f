package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Provider Metrics
	providerCallsTotal   *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec

	// Session Metrics
	sessionTransitionsTotal *prometheus.CounterVec
	staleUpdatesDropped     *prometheus.CounterVec
	errorsPublishedTotal    *prometheus.CounterVec

	// Transaction Metrics
	transactionsTotal       *prometheus.CounterVec
	transactionConfirmation *prometheus.HistogramVec
	pendingTransactions     prometheus.Gauge
	contractActionsTotal    *prometheus.CounterVec

	// Persistence Metrics
	persistenceOperationsTotal *prometheus.CounterVec
	snapshotLoadsTotal         *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        *prometheus.CounterVec

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
		// Provider Metrics
		providerCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_calls_total",
				Help: "Total number of wallet provider calls by method and status",
			},
			[]string{"method", "status"},
		),
		providerCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provider_call_duration_seconds",
				Help:    "Duration of wallet provider calls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),

		// Session Metrics
		sessionTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_transitions_total",
				Help: "Total number of session state transitions by resulting status and cause",
			},
			[]string{"status", "reason"},
		),
		staleUpdatesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stale_updates_dropped_total",
				Help: "Total number of provider results discarded because the session changed while they were in flight",
			},
			[]string{"operation"},
		),
		errorsPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_published_total",
				Help: "Total number of errors surfaced to users by category",
			},
			[]string{"category"},
		),

		// Transaction Metrics
		transactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_total",
				Help: "Total number of transaction status changes by status",
			},
			[]string{"status"},
		),
		transactionConfirmation: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transaction_confirmation_seconds",
				Help:    "Time from submission to terminal status in seconds",
				Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		pendingTransactions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pending_transactions",
				Help: "Number of transactions awaiting confirmation",
			},
		),
		contractActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contract_actions_total",
				Help: "Total number of counter contract actions by action and result",
			},
			[]string{"action", "result"},
		),

		// Persistence Metrics
		persistenceOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "persistence_operations_total",
				Help: "Total number of session store operations",
			},
			[]string{"operation", "status"},
		),
		snapshotLoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapshot_loads_total",
				Help: "Total number of session snapshot loads by result (found, absent, corrupt)",
			},
			[]string{"result"},
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
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"event_type"},
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

// Provider metric helpers

// RecordProviderCall records a wallet provider call with duration.
func (m *Metrics) RecordProviderCall(method string, duration float64, err error) {
	if m == nil {
		return
	}
	m.providerCallsTotal.WithLabelValues(method, errorStatus(err)).Inc()
	m.providerCallDuration.WithLabelValues(method).Observe(duration)
}

// Session metric helpers

// RecordSessionTransition records a session moving to status because of reason.
func (m *Metrics) RecordSessionTransition(status, reason string) {
	if m == nil {
		return
	}
	m.sessionTransitionsTotal.WithLabelValues(status, reason).Inc()
}

// RecordStaleUpdate records a provider result discarded for operation.
func (m *Metrics) RecordStaleUpdate(operation string) {
	if m == nil {
		return
	}
	m.staleUpdatesDropped.WithLabelValues(operation).Inc()
}

// RecordErrorPublished records an error shown to users.
func (m *Metrics) RecordErrorPublished(category string) {
	if m == nil {
		return
	}
	m.errorsPublishedTotal.WithLabelValues(category).Inc()
}

// Transaction metric helpers

// RecordTransaction records a transaction entering status.
func (m *Metrics) RecordTransaction(status string) {
	if m == nil {
		return
	}
	m.transactionsTotal.WithLabelValues(status).Inc()
}

// RecordConfirmation records how long a transaction took to reach status.
func (m *Metrics) RecordConfirmation(status string, duration float64) {
	if m == nil {
		return
	}
	m.transactionConfirmation.WithLabelValues(status).Observe(duration)
}

// SetPendingTransactions sets the pending transaction gauge.
func (m *Metrics) SetPendingTransactions(count int) {
	if m == nil {
		return
	}
	m.pendingTransactions.Set(float64(count))
}

// RecordContractAction records the outcome of a counter action.
func (m *Metrics) RecordContractAction(action string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.contractActionsTotal.WithLabelValues(action, result).Inc()
}

// Persistence metric helpers

// RecordPersistence records a store operation.
func (m *Metrics) RecordPersistence(operation string, err error) {
	if m == nil {
		return
	}
	m.persistenceOperationsTotal.WithLabelValues(operation, errorStatus(err)).Inc()
}

// RecordSnapshotLoad records the result of loading the persisted snapshot.
func (m *Metrics) RecordSnapshotLoad(result string) {
	if m == nil {
		return
	}
	m.snapshotLoadsTotal.WithLabelValues(result).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(eventType string) {
	if m == nil {
		return
	}
	m.sseEventsSent.WithLabelValues(eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func errorStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

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
