package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimit_RejectsWithJSONError(t *testing.T) {
	h := RateLimit(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/queues/booking_push", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send().Code)

	limited := send()
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "application/json", limited.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(limited.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body["code"])
}

func TestSecurityHeaders_HSTSOnlyOverTLS(t *testing.T) {
	h := SecurityHeaders()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://svc/api/v1/links/1", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "https://svc/api/v1/links/1", nil))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}
