package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/medicore/hms/internal/jobs"
	"github.com/medicore/hms/internal/rbac"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesRegisteredCollectors(t *testing.T) {
	metrics := NewMetrics()
	jobs := jobmetrics.NewMetrics(metrics.Registerer())
	require.NoError(t, jobs.Track("audit:record").End(nil))

	body := scrape(t, metrics)
	assert.Contains(t, body, "hms_jobs_total")
	assert.Contains(t, body, "go_goroutines")
}

func TestRBACMetricsShareRegistry(t *testing.T) {
	metrics := NewMetrics()
	first, err := rbac.NewMetrics(metrics.Registerer())
	require.NoError(t, err)
	second, err := rbac.NewMetrics(metrics.Registerer())
	require.NoError(t, err, "registering twice reuses the collectors")
	assert.NotNil(t, first)
	assert.NotNil(t, second)
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `hms_http_requests_total{code="418",route="/test"} 1`)
	assert.Contains(t, body, `hms_http_request_duration_seconds_bucket{route="/test"`)
}

func TestNilMetricsHandler(t *testing.T) {
	var m *Metrics
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
