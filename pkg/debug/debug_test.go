package debug

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyEndpoint(t *testing.T) {
	mux := GetMux()
	get := func() (int, readyResponse) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		var body readyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec.Code, body
	}

	SetNotReady()
	code, body := get()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, body.Ready)

	SetReady()
	t.Cleanup(SetNotReady)
	code, body = get()
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, body.Ready)

	var failing error = errors.New("queue unreachable")
	RegisterReadyCheck("queue", func() error { return failing })
	t.Cleanup(func() { RegisterReadyCheck("queue", func() error { return nil }) })

	code, body = get()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, []string{"queue"}, body.Failing)
	assert.Equal(t, "queue unreachable", body.Messages["queue"])

	failing = nil
	code, _ = get()
	assert.Equal(t, http.StatusOK, code)
}

func TestMetricsEndpoint(t *testing.T) {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "datapump_debug_test_total", Help: "test"})
	require.NoError(t, Registry().Register(c))
	t.Cleanup(func() { globalRegistry.Unregister(c) })
	c.Inc()

	rec := httptest.NewRecorder()
	GetMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "datapump_debug_test_total 1")
}

func TestHealthEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	GetMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
