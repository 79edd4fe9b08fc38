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

func TestCheckoutMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCheckoutMetrics(reg)

	m.ObserveSettlement("approved", 20*time.Millisecond)
	m.ObserveSettlement("BACKEND_REJECTED", 5*time.Millisecond)
	m.ObserveSettlement("approved", 10*time.Millisecond)
	m.ObserveHeartbeat(nil)
	m.ObserveHeartbeat(errors.New("down"))
	m.CountReported("INVALID_STATE")
	m.ObserveTransaction("COMMITTED")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Settlements.WithLabelValues("approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Settlements.WithLabelValues("BACKEND_REJECTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Heartbeats.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Heartbeats.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reported.WithLabelValues("INVALID_STATE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transactions.WithLabelValues("COMMITTED")))
}

func TestServerMetrics_ObserveAndServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewServerMetrics(reg, "order_service")

	m.Observe("checkout", http.StatusOK, time.Now())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("checkout", "200")))

	rec := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "storefront_order_service_http_requests_total")
}
