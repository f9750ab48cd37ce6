package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/channel"
	"github.com/cassiomorais/channelsync/internal/infrastructure/config"
	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	createEndpoint = channel.Endpoint{ID: 1, Action: channel.ActionBookingCreate, Path: "/bookings", Method: http.MethodPost}
	updateEndpoint = channel.Endpoint{ID: 2, Action: channel.ActionBookingUpdate, Path: "/bookings/{remote_id}", Method: http.MethodPut}
)

func newTestClient(t *testing.T, baseURL string, threshold uint32) *Client {
	t.Helper()
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	cfg := config.ChannelConfig{
		BaseURL:   baseURL,
		Timeout:   time.Second,
		UserAgent: "channelsync-test",
	}
	return NewClient(cfg, NewBreakers(threshold, time.Minute, metrics), metrics, zerolog.Nop())
}

func asCallError(t *testing.T, err error) *CallError {
	t.Helper()
	var ce *CallError
	require.True(t, errors.As(err, &ce), "expected *CallError, got %v", err)
	return ce
}

func TestClient_Do_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/bookings/R-7", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "channelsync-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "corr-1", r.Header.Get("X-Correlation-Id"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Ada", body["guest"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"R-7","status":"confirmed"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 5)
	resp, err := client.Do(context.Background(), Call{
		Endpoint:      updateEndpoint,
		Params:        map[string]string{"remote_id": "R-7"},
		Body:          map[string]any{"guest": "Ada"},
		Credential:    &channel.Credential{ID: 1, AccessToken: "tok"},
		CorrelationID: "corr-1",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Request, "PUT /bookings/R-7")

	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, resp.Decode(updateEndpoint.Action, &out))
	assert.Equal(t, "R-7", out.ID)
}

func TestClient_Do_ClassifiesStatuses(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		header     map[string]string
		wantClass  Class
		wantCode   string
		wantMsg    string
		retryAfter time.Duration
	}{
		{
			name:       "rate limited",
			status:     http.StatusTooManyRequests,
			body:       `{"message":"slow down"}`,
			header:     map[string]string{"Retry-After": "7"},
			wantClass:  ClassRateLimited,
			wantMsg:    "slow down",
			retryAfter: 7 * time.Second,
		},
		{
			name:      "server error",
			status:    http.StatusServiceUnavailable,
			body:      `{"error":{"code":"E_MAINT","message":"maintenance"}}`,
			wantClass: ClassServer,
			wantCode:  "E_MAINT",
			wantMsg:   "maintenance",
		},
		{
			name:      "validation",
			status:    http.StatusUnprocessableEntity,
			body:      `{"code":"invalid_dates","message":"arrival after departure"}`,
			wantClass: ClassValidation,
			wantCode:  "invalid_dates",
			wantMsg:   "arrival after departure",
		},
		{
			name:      "rejected with plain text",
			status:    http.StatusConflict,
			body:      "room closed",
			wantClass: ClassRejected,
			wantMsg:   "room closed",
		},
		{
			name:      "empty body falls back to status text",
			status:    http.StatusNotFound,
			wantClass: ClassRejected,
			wantMsg:   "Not Found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL, 50).Do(context.Background(), Call{Endpoint: createEndpoint})
			ce := asCallError(t, err)
			assert.Equal(t, tt.wantClass, ce.Class)
			assert.Equal(t, tt.status, ce.HTTPCode)
			assert.Equal(t, tt.wantCode, ce.Code)
			assert.Equal(t, tt.wantMsg, ce.Message)
			assert.Equal(t, tt.retryAfter, ce.RetryAfter)
		})
	}
}

func TestClient_Do_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(t, srv.URL, 5).Do(ctx, Call{Endpoint: createEndpoint})
	assert.Equal(t, ClassTimeout, asCallError(t, err).Class)
}

func TestClient_Do_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url, 5).Do(context.Background(), Call{Endpoint: createEndpoint})
	assert.Equal(t, ClassTransport, asCallError(t, err).Class)
}

func TestClient_Do_UnboundPlaceholderIsLocal(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", 5)

	_, err := client.Do(context.Background(), Call{Endpoint: updateEndpoint})
	require.Error(t, err)
	var ce *CallError
	assert.False(t, errors.As(err, &ce))
}

func TestClient_BreakerOpensOnOutages(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 2)
	for i := 0; i < 2; i++ {
		_, err := client.Do(context.Background(), Call{Endpoint: createEndpoint})
		assert.Equal(t, ClassServer, asCallError(t, err).Class)
	}

	_, err := client.Do(context.Background(), Call{Endpoint: createEndpoint})
	assert.Equal(t, ClassCircuitOpen, asCallError(t, err).Class)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, gobreaker.StateOpen, client.breakers.State(channel.ActionBookingCreate))

	// Breakers are per action.
	assert.Equal(t, gobreaker.StateClosed, client.breakers.State(channel.ActionBookingUpdate))
}

func TestClient_BreakerIgnoresRejections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 2)
	for i := 0; i < 5; i++ {
		_, err := client.Do(context.Background(), Call{Endpoint: createEndpoint})
		assert.Equal(t, ClassRejected, asCallError(t, err).Class)
	}
	assert.Equal(t, gobreaker.StateClosed, client.breakers.State(channel.ActionBookingCreate))
}

func TestResponse_DecodeInvalidJSON(t *testing.T) {
	resp := &Response{StatusCode: http.StatusOK, Body: []byte("<html>")}
	var v map[string]any
	err := resp.Decode(channel.ActionBookingList, &v)
	assert.Equal(t, ClassInvalidResponse, asCallError(t, err).Class)

	empty := &Response{StatusCode: http.StatusNoContent}
	assert.NoError(t, empty.Decode(channel.ActionBookingList, &v))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"30", 30 * time.Second},
		{"-4", 0},
		{"soon", 0},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseRetryAfter(tt.header, now), "header %q", tt.header)
	}
}

func TestMockCaller(t *testing.T) {
	m := NewMockCaller(WithLatency(time.Millisecond))

	resp, err := m.Do(context.Background(), Call{Endpoint: createEndpoint})
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, resp.Decode(createEndpoint.Action, &out))
	assert.Contains(t, out["id"], "mock_bk_")

	failing := NewMockCaller(WithLatency(time.Millisecond), WithFailureRate(1))
	_, err = failing.Do(context.Background(), Call{Endpoint: createEndpoint})
	assert.Equal(t, ClassServer, asCallError(t, err).Class)
}
