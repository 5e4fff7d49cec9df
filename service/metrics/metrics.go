package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application. It is passed
// explicitly to every component that records metrics. A nil *Metrics records
// nothing.
type Metrics struct {
	// Chain RPC
	rpcCallsTotal   *prometheus.CounterVec
	rpcCallDuration *prometheus.HistogramVec
	rpcThrottled    *prometheus.CounterVec

	// Reconciliation
	receiptsHandledTotal *prometheus.CounterVec
	receiptDuration      *prometheus.HistogramVec
	feedWritesTotal      *prometheus.CounterVec
	staleReceiptsTotal   prometheus.Counter
	pendingQueueSize     prometheus.Gauge
	enqueuedTotal        *prometheus.CounterVec
	repairsTotal         *prometheus.CounterVec
	updatesEmittedTotal  prometheus.Counter

	// Profiles and outbox
	profileLookupsTotal *prometheus.CounterVec
	outboxOpsTotal      *prometheus.CounterVec

	// Workflow
	repairWorkflowDuration *prometheus.HistogramVec
	repairActivityDuration *prometheus.HistogramVec

	// Database
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        prometheus.Counter

	// NATS
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
		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chain_rpc_calls_total",
				Help: "Total number of chain RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chain_rpc_call_duration_seconds",
				Help:    "Duration of chain RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		rpcThrottled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chain_rpc_throttled_total",
				Help: "Total number of chain RPC calls delayed by the local rate limiter",
			},
			[]string{"method"},
		),

		receiptsHandledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_receipts_handled_total",
				Help: "Total number of receipts handled by transaction type and outcome",
			},
			[]string{"tx_type", "outcome"},
		),
		receiptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feed_receipt_duration_seconds",
				Help:    "Duration of receipt reconciliation in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"tx_type"},
		),
		feedWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_writes_total",
				Help: "Total number of feed record writes by operation",
			},
			[]string{"operation"},
		),
		staleReceiptsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "feed_stale_receipts_total",
				Help: "Total number of receipts discarded because a newer receipt was already merged",
			},
		),
		pendingQueueSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "feed_pending_queue_size",
				Help: "Number of locally originated transactions awaiting a receipt",
			},
		),
		enqueuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_enqueued_total",
				Help: "Total number of enqueue attempts by result",
			},
			[]string{"result"},
		),
		repairsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_repairs_total",
				Help: "Total number of receipt re-fetches for unconfirmed records by source and result",
			},
			[]string{"source", "result"},
		),
		updatesEmittedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "feed_updates_emitted_total",
				Help: "Total number of coalesced update notifications emitted",
			},
		),

		profileLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "profile_cache_lookups_total",
				Help: "Total number of counterparty profile lookups by result",
			},
			[]string{"result"},
		),
		outboxOpsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outbox_operations_total",
				Help: "Total number of outbox operations by operation and result",
			},
			[]string{"operation", "result"},
		),

		repairWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "repair_workflow_duration_seconds",
				Help:    "Duration of feed repair workflow execution in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		repairActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "repair_activity_duration_seconds",
				Help:    "Duration of feed repair activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity"},
		),

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
		sseEventsSent: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
		),

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

// Chain RPC metric helpers

// RecordRPCCall records a chain RPC call with duration.
func (m *Metrics) RecordRPCCall(method string, err error, duration float64) {
	if m == nil {
		return
	}
	m.rpcCallsTotal.WithLabelValues(method, errorStatus(err)).Inc()
	m.rpcCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordRPCThrottled records a call that had to wait for the rate limiter.
func (m *Metrics) RecordRPCThrottled(method string) {
	if m == nil {
		return
	}
	m.rpcThrottled.WithLabelValues(method).Inc()
}

// Reconciliation metric helpers

// RecordReceiptHandled records the outcome of reconciling one receipt.
// Outcomes: updated, unchanged, stale, noop, error.
func (m *Metrics) RecordReceiptHandled(txType, outcome string, duration float64) {
	if m == nil {
		return
	}
	m.receiptsHandledTotal.WithLabelValues(txType, outcome).Inc()
	m.receiptDuration.WithLabelValues(txType).Observe(duration)
	if outcome == "stale" {
		m.staleReceiptsTotal.Inc()
	}
}

// RecordFeedWrite records a feed record write.
func (m *Metrics) RecordFeedWrite(operation string) {
	if m == nil {
		return
	}
	m.feedWritesTotal.WithLabelValues(operation).Inc()
}

// SetPendingQueueSize records the current pending queue length.
func (m *Metrics) SetPendingQueueSize(n int) {
	if m == nil {
		return
	}
	m.pendingQueueSize.Set(float64(n))
}

// RecordEnqueue records an enqueue attempt.
func (m *Metrics) RecordEnqueue(result string) {
	if m == nil {
		return
	}
	m.enqueuedTotal.WithLabelValues(result).Inc()
}

// RecordRepair records a receipt re-fetch for an unconfirmed record.
func (m *Metrics) RecordRepair(source, result string) {
	if m == nil {
		return
	}
	m.repairsTotal.WithLabelValues(source, result).Inc()
}

// RecordUpdateEmitted records one coalesced update notification.
func (m *Metrics) RecordUpdateEmitted() {
	if m == nil {
		return
	}
	m.updatesEmittedTotal.Inc()
}

// Profile and outbox metric helpers

// RecordProfileLookup records a counterparty cache lookup.
// Results: hit, miss, refresh, error.
func (m *Metrics) RecordProfileLookup(result string) {
	if m == nil {
		return
	}
	m.profileLookupsTotal.WithLabelValues(result).Inc()
}

// RecordOutbox records an outbox publish or fetch.
func (m *Metrics) RecordOutbox(operation, result string) {
	if m == nil {
		return
	}
	m.outboxOpsTotal.WithLabelValues(operation, result).Inc()
}

// Workflow metric helpers

// RecordWorkflowDuration records repair workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	if m == nil {
		return
	}
	m.repairWorkflowDuration.WithLabelValues(status).Observe(duration)
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	if m == nil {
		return
	}
	m.repairActivityDuration.WithLabelValues(activity).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, errorStatus(err)).Inc()
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
func (m *Metrics) RecordSSEEventSent() {
	if m == nil {
		return
	}
	m.sseEventsSent.Inc()
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

func errorStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
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
