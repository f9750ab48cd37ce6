package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/channel"
	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
	infraChannel "github.com/cassiomorais/channelsync/internal/infrastructure/channel"
	"github.com/stretchr/testify/assert"
)

func TestBackoff_Curves(t *testing.T) {
	b := NewBackoff(testRetry)

	assert.Equal(t, 10*time.Second, b.Delay(CurveExponential, 1, 0))
	assert.Equal(t, 40*time.Second, b.Delay(CurveExponential, 3, 0))
	assert.Equal(t, time.Hour, b.Delay(CurveExponential, 40, 0))

	assert.Equal(t, time.Minute, b.Delay(CurveLinear, 1, 0))
	assert.Equal(t, 4*time.Minute, b.Delay(CurveLinear, 4, 0))
	assert.Equal(t, time.Hour, b.Delay(CurveLinear, 500, 0))

	assert.Equal(t, 2*time.Minute, b.Delay(CurveRetryAfter, 1, 2*time.Minute))
	assert.Equal(t, 30*time.Second, b.Delay(CurveRetryAfter, 1, 0))
	assert.Equal(t, time.Second, b.Delay(CurveRetryAfter, 1, time.Millisecond))

	assert.Equal(t, 5*time.Minute, b.Delay(CurveFixed, 9, 0))
}

func TestBackoff_JitterStaysInBand(t *testing.T) {
	cfg := testRetry
	cfg.Jitter = 0.2
	b := NewBackoff(cfg)

	b.rand = func() float64 { return 0 }
	assert.Equal(t, 8*time.Second, b.Delay(CurveExponential, 1, 0))
	b.rand = func() float64 { return 1 }
	assert.Equal(t, 12*time.Second, b.Delay(CurveExponential, 1, 0))

	// Retry-After is never shortened by jitter.
	assert.Equal(t, 90*time.Second, b.Delay(CurveRetryAfter, 1, 90*time.Second))
}

func TestBackoff_NextIsAlwaysLater(t *testing.T) {
	b := NewBackoff(testRetry)
	now := time.Now()
	assert.True(t, b.Next(now, CurveExponential, 1, 0).After(now))
}

func TestClassify(t *testing.T) {
	code := func(c int) *int { return &c }
	tests := []struct {
		name   string
		err    error
		reason string
		curve  Curve
		http   *int
		local  bool
	}{
		{
			name:   "transport",
			err:    &infraChannel.CallError{Class: infraChannel.ClassTransport, Action: channel.ActionBookingCreate},
			reason: queue.ReasonTransport,
			curve:  CurveExponential,
		},
		{
			name:   "server error",
			err:    &infraChannel.CallError{Class: infraChannel.ClassServer, HTTPCode: 503},
			reason: queue.ReasonHTTP5xx,
			curve:  CurveExponential,
			http:   code(503),
		},
		{
			name:   "rate limited",
			err:    &infraChannel.CallError{Class: infraChannel.ClassRateLimited, HTTPCode: 429},
			reason: queue.ReasonRateLimited,
			curve:  CurveRetryAfter,
			http:   code(429),
		},
		{
			name:   "validation",
			err:    fmt.Errorf("wrapped: %w", &infraChannel.CallError{Class: infraChannel.ClassValidation, HTTPCode: 422}),
			reason: queue.ReasonValidation,
			curve:  CurveLinear,
			http:   code(422),
		},
		{
			name:   "breaker open",
			err:    &infraChannel.CallError{Class: infraChannel.ClassCircuitOpen},
			reason: queue.ReasonCircuitOpen,
			curve:  CurveExponential,
		},
		{
			name:   "deadline",
			err:    context.DeadlineExceeded,
			reason: queue.ReasonTimeout,
			curve:  CurveExponential,
		},
		{
			name:   "cancelled",
			err:    fmt.Errorf("call: %w", context.Canceled),
			reason: queue.ReasonTimeout,
			curve:  CurveExponential,
		},
		{
			name:   "foreign remote id",
			err:    domainErrors.ErrDuplicateRemote,
			reason: queue.ReasonRemoteRejected,
			curve:  CurveLinear,
			http:   code(409),
		},
		{
			name:   "credentials",
			err:    fmt.Errorf("resolve: %w", domainErrors.ErrCredentialUnresolvable),
			reason: queue.ReasonCredentialUnresolvable,
			curve:  CurveFixed,
			local:  true,
		},
		{
			name:   "missing mapping",
			err:    fmt.Errorf("mapping 3: %w", domainErrors.ErrMappingNotFound),
			reason: queue.ReasonConfig,
			curve:  CurveFixed,
			local:  true,
		},
		{
			name:   "validation error",
			err:    domainErrors.NewValidationError("operation", "unknown"),
			reason: queue.ReasonConfig,
			curve:  CurveFixed,
			local:  true,
		},
		{
			name:   "anything else",
			err:    errors.New("nil pointer"),
			reason: queue.ReasonInternal,
			curve:  CurveFixed,
			local:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := Classify(tt.err)
			assert.Equal(t, tt.reason, o.Reason)
			assert.Equal(t, tt.curve, o.Curve)
			assert.Equal(t, tt.http, o.HTTPCode)
			assert.Equal(t, tt.local, o.Local)
			assert.NotEmpty(t, o.Message)
		})
	}
}
