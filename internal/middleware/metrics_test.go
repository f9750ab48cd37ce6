package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() (*observability.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return observability.NewMetrics("test", reg), reg
}

func TestMetrics_Success(t *testing.T) {
	metrics, reg := newTestMetrics()

	r := chi.NewRouter()
	r.Use(Metrics(metrics))
	r.Get("/api/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	var foundRequestsTotal, foundDuration bool
	for _, mf := range metricFamilies {
		if mf.GetName() == "test_http_requests_total" {
			foundRequestsTotal = true
		}
		if mf.GetName() == "test_http_request_duration_seconds" {
			foundDuration = true
		}
	}
	assert.True(t, foundRequestsTotal, "http_requests_total metric should be recorded")
	assert.True(t, foundDuration, "http_request_duration metric should be recorded")
}

func TestMetrics_DifferentStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		label      string
	}{
		{"200 OK", http.StatusOK, "200"},
		{"202 Accepted", http.StatusAccepted, "202"},
		{"400 Bad Request", http.StatusBadRequest, "400"},
		{"404 Not Found", http.StatusNotFound, "404"},
		{"500 Internal Server Error", http.StatusInternalServerError, "500"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics, _ := newTestMetrics()

			r := chi.NewRouter()
			r.Use(Metrics(metrics))
			r.Get("/test", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			})

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

			assert.Equal(t, tt.statusCode, w.Code)
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/test", tt.label)))
		})
	}
}

func TestMetrics_RoutePattern(t *testing.T) {
	metrics, _ := newTestMetrics()

	r := chi.NewRouter()
	r.Use(Metrics(metrics))
	r.Get("/api/v1/items/{kind}/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, path := range []string{"/api/v1/items/booking_push/1", "/api/v1/items/rate_push/2"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(
		metrics.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/items/{kind}/{id}", "200")))
}

func TestMetrics_NoRoutePattern(t *testing.T) {
	metrics, _ := newTestMetrics()

	wrapped := Metrics(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, httptest.NewRequest("GET", "/unknown", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "200")))
}

func TestMetrics_SkipsProbeAndScrapePaths(t *testing.T) {
	metrics, _ := newTestMetrics()

	r := chi.NewRouter()
	r.Use(Metrics(metrics))
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {})

	for _, path := range []string{"/health/live", "/metrics"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	assert.Equal(t, 0, testutil.CollectAndCount(metrics.HTTPRequestsTotal))
}

func TestStatusWriter_WriteHeader(t *testing.T) {
	w := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

	sw.WriteHeader(http.StatusCreated)

	assert.Equal(t, http.StatusCreated, sw.statusCode)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestStatusWriter_DefaultStatus(t *testing.T) {
	w := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

	sw.Write([]byte("test"))

	assert.Equal(t, http.StatusOK, sw.statusCode)
}
