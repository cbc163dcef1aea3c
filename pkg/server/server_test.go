package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tunnel/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer() *Server {
	s := New(":0", Info{Service: "tunnel-bridge", Version: "1.2.3", Description: "change stream bridge"}, logger.NewNop())
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return s
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newTestServer(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestReadiness(t *testing.T) {
	s := newTestServer()
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/ready").Code)

	s.SetReady(true)
	assert.Equal(t, http.StatusOK, get(t, s, "/ready").Code)

	s.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, s, "/ready").Code)
}

func TestAPIHealth(t *testing.T) {
	rec := get(t, newTestServer(), "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "UP", body["status"])
	assert.Equal(t, "tunnel-bridge", body["service"])
	assert.EqualValues(t, 1700000000000, body["timestamp"])
}

func TestAPIInfo(t *testing.T) {
	rec := get(t, newTestServer(), "/api/info")
	require.Equal(t, http.StatusOK, rec.Code)

	var info Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, Info{Service: "tunnel-bridge", Version: "1.2.3", Description: "change stream bridge"}, info)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
