package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRPCCall("eth_getTransactionReceipt", nil, 0.1)
		m.RecordReceiptHandled("TX_SEND_GD", "written", 0.1)
		m.RecordProfileLookup("hit")
		m.RecordOutbox("publish", "skipped")
		m.SetPendingQueueSize(3)
		m.RecordHTTPRequest("/health", "GET", 200, 0.01)
	})
}

func TestRecordReceiptHandled_Stale(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordReceiptHandled("TX_RECEIVE_GD", "stale", 0.01)
	m.RecordReceiptHandled("TX_RECEIVE_GD", "written", 0.01)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.staleReceiptsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.receiptsHandledTotal.WithLabelValues("TX_RECEIVE_GD", "written")))
}

func TestRecordRPCCall_Status(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordRPCCall("eth_getTransactionReceipt", errors.New("boom"), 0.2)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.rpcCallsTotal.WithLabelValues("eth_getTransactionReceipt", "error")))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	h := HTTPMetricsMiddleware(m, "/api/v1/feed")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/feed", "GET", "4xx")))
}

func TestTimer(t *testing.T) {
	var got float64
	done := Timer(time.Now().Add(-time.Second), func(d float64) { got = d })
	done()
	assert.GreaterOrEqual(t, got, 1.0)
}
