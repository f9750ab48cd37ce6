package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/channel"
	"github.com/google/uuid"
)

// MockCaller stands in for the remote API in development. It answers every
// action with a well-formed body and can inject latency and failures.
type MockCaller struct {
	failureRate float64 // 0.0 to 1.0
	latency     time.Duration
	timeoutRate float64 // 0.0 to 1.0
}

type MockOption func(*MockCaller)

func WithFailureRate(rate float64) MockOption {
	return func(m *MockCaller) { m.failureRate = rate }
}

func WithLatency(d time.Duration) MockOption {
	return func(m *MockCaller) { m.latency = d }
}

func WithTimeoutRate(rate float64) MockOption {
	return func(m *MockCaller) { m.timeoutRate = rate }
}

func NewMockCaller(opts ...MockOption) *MockCaller {
	m := &MockCaller{latency: 50 * time.Millisecond}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *MockCaller) Do(ctx context.Context, call Call) (*Response, error) {
	action := call.Endpoint.Action
	path, err := call.Endpoint.Resolve(call.Params)
	if err != nil {
		return nil, err
	}

	// Simulate latency
	select {
	case <-time.After(m.latency):
	case <-ctx.Done():
		return nil, &CallError{Class: ClassTimeout, Action: action, Message: ctx.Err().Error(), Err: ctx.Err()}
	}

	// Simulate timeout
	if rand.Float64() < m.timeoutRate {
		return nil, &CallError{Class: ClassTimeout, Action: action, Message: "simulated timeout"}
	}

	// Simulate failure
	if rand.Float64() < m.failureRate {
		return nil, &CallError{
			Class:    ClassServer,
			Action:   action,
			HTTPCode: http.StatusBadGateway,
			Message:  fmt.Sprintf("simulated failure for %s", path),
		}
	}

	var body any = map[string]any{"ok": true}
	switch action {
	case channel.ActionBookingCreate:
		body = map[string]any{"id": "mock_bk_" + uuid.New().String()[:8]}
	case channel.ActionBookingList:
		body = map[string]any{"bookings": []any{}, "next_cursor": ""}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: http.StatusOK, Body: raw, Request: call.Endpoint.Method + " " + path}, nil
}
