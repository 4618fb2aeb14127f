package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordProviderCall("eth_chainId", 0.1, nil)
		m.RecordSessionTransition("connected", "connect")
		m.RecordStaleUpdate("balance")
		m.RecordErrorPublished("Unknown")
		m.RecordTransaction("pending")
		m.RecordConfirmation("success", 1)
		m.SetPendingTransactions(3)
		m.RecordContractAction("increment", true)
		m.RecordPersistence("save", nil)
		m.RecordSnapshotLoad("absent")
		m.RecordHTTPRequest("/health", http.MethodGet, 200, 0.01)
		m.RecordSSEConnectionChange(1)
		m.RecordSSEEventSent("state")
		m.RecordNATSPublish("wallet.session", "success", 0.001)
	})
}

func TestRecordHelpers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordProviderCall("eth_sendTransaction", 0.2, errors.New("boom"))
	m.RecordProviderCall("eth_sendTransaction", 0.1, nil)
	m.RecordContractAction("decrement", false)
	m.SetPendingTransactions(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerCallsTotal.WithLabelValues("eth_sendTransaction", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerCallsTotal.WithLabelValues("eth_sendTransaction", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.contractActionsTotal.WithLabelValues("decrement", "failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pendingTransactions))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	handler := HTTPMetricsMiddleware(m, "/api/v1/counter")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/counter/bogus", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/counter", http.MethodPost, "4xx")))
}
