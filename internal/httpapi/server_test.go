package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrylica/kline-fcp/internal/datasource"
	"github.com/terrylica/kline-fcp/internal/netpool"
	"github.com/terrylica/kline-fcp/internal/obsmetrics"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir, err := os.MkdirTemp("", "httpapi-cache-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	mgr := datasource.New(datasource.Config{
		Provider:    "binance",
		CacheRoot:   dir,
		VisionHost:  "example.invalid",
		RESTBaseURL: map[string]string{"SPOT": "http://example.invalid"},
		ArchivePool: netpool.DefaultArchiveConfig(),
		RESTPool:    netpool.DefaultRESTConfig(),
	})
	metrics := obsmetrics.New(prometheus.NewRegistry())
	return New(DefaultConfig(), mgr, metrics)
}

func TestHealthzReturnsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestKlinesRejectsMissingParams(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/klines", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKlinesRejectsInvalidSymbol(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet,
		"/v1/klines?symbol=../etc&market=SPOT&interval=1h&start=0&end=1", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotFoundHandlerReturns404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
