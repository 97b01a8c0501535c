package metric

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/testbedbus/errors"
	"github.com/c360/testbedbus/health"
)

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordConnect("client-1")

	status := health.NewHealthy("gateway", "ok")
	srv := NewServer(0, "", registry, func() health.Status { return status })

	handler, err := srv.Handler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "testbedbus_bus_connects_total"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var got health.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, health.Healthy, got.Status)

	status = health.NewUnhealthy("gateway", "bus down")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Defaults(t *testing.T) {
	srv := NewServer(0, "", NewMetricsRegistry(), nil)
	assert.Equal(t, "http://localhost:9090/metrics", srv.Address())
	assert.NoError(t, srv.Stop())
}

func TestServer_NilRegistry(t *testing.T) {
	srv := NewServer(9999, "/m", nil, nil)
	_, err := srv.Handler()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestServer_StopBeforeStart(t *testing.T) {
	srv := NewServer(0, "", NewMetricsRegistry(), nil)
	require.NoError(t, srv.Stop())
	assert.NoError(t, srv.Start(), "a stopped server does not listen")
}
