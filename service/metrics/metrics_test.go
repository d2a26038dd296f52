package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NotNil(t, m)

	m.RecordAuthorization("signMessage", "approved", 0.5)
	m.RecordPendingApprovalChange(1)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["authorizations_total"])
	assert.True(t, names["authorization_pending_approvals"])
}

func TestRecordHelpers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordAuthorization("connect", "approved", 0.1)
	m.RecordAuthorization("connect", "approved", 0.2)
	m.RecordAuthorization("connect", "rejected", 0.1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.authorizationsTotal.WithLabelValues("connect", "approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authorizationsTotal.WithLabelValues("connect", "rejected")))

	m.RecordPendingApprovalChange(1)
	m.RecordPendingApprovalChange(1)
	m.RecordPendingApprovalChange(-1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pendingApprovals))

	m.RecordCacheFlush("size", 12)
	m.RecordCacheFlush("timer", 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.accountCacheEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.accountCacheFlushes.WithLabelValues("size")))

	m.RecordDBQuery("insert", "authorization_events", 0.01, nil)
	m.RecordDBQuery("insert", "authorization_events", 0.01, errors.New("boom"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues("insert", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues("insert", "error")))
}

func TestStatusCodeToString(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{202, "2xx"},
		{302, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
		{99, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCodeToString(tt.code), "code %d", tt.code)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	handler := HTTPMetricsMiddleware(m, "/v1/requests/{id}")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/requests/x", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/v1/requests/{id}", "GET", "4xx")))
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil, "/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResponseWriter_Flush(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	w.Write([]byte("data: x\n\n"))
	w.Flush()
	assert.True(t, rec.Flushed)
}
