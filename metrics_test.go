package idapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollectorRecords(t *testing.T) {
	mc := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	mc.RecordRequestStart("GET", "api.example.com/x")
	assert.Equal(t, float64(1), testutil.ToFloat64(mc.requestsInFlight.WithLabelValues("GET", "api.example.com/x")))
	mc.RecordRequestEnd("GET", "api.example.com/x")
	assert.Equal(t, float64(0), testutil.ToFloat64(mc.requestsInFlight.WithLabelValues("GET", "api.example.com/x")))

	mc.RecordRequest("GET", "api.example.com/x", 200, 10*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(mc.requestsTotal.WithLabelValues("GET", "200", "api.example.com/x")))

	mc.RecordRetry("GET", "api.example.com/x", 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(mc.retriesTotal.WithLabelValues("GET", "api.example.com/x", "1")))

	mc.RecordError("status", "GET", "api.example.com/x")
	assert.Equal(t, float64(1), testutil.ToFloat64(mc.errorsTotal.WithLabelValues("status", "GET", "api.example.com/x")))

	mc.RecordAuthRefresh("success")
	assert.Equal(t, float64(1), testutil.ToFloat64(mc.authRefreshTotal.WithLabelValues("success")))

	mc.RecordCircuitBreakerState("default", 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(mc.circuitBreakerState.WithLabelValues("default")))
}

func TestClientRecordsRetryMetrics(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	mc := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())
	client := New(
		WithBaseURL(server.URL),
		WithMaxRetries(2),
		WithRetryDelay(time.Millisecond),
		WithMetricsCollector(mc),
	)
	defer client.Close()

	_, err := client.Get(context.Background(), "/thing")
	require.NoError(t, err)

	endpoint := endpointFromURL(server.URL + "/thing")
	assert.Equal(t, float64(1), testutil.ToFloat64(mc.requestsTotal.WithLabelValues("GET", "200", endpoint)))
	assert.Equal(t, float64(1), testutil.ToFloat64(mc.retriesTotal.WithLabelValues("GET", endpoint, "1")))
	assert.Equal(t, float64(1), testutil.ToFloat64(mc.retriesTotal.WithLabelValues("GET", endpoint, "2")))
	assert.Equal(t, float64(0), testutil.ToFloat64(mc.requestsInFlight.WithLabelValues("GET", endpoint)))
}
