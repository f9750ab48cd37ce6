package syncer

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/cassiomorais/channelsync/internal/infrastructure/config"
)

// Curve is the delay shape used for one family of failures.
type Curve int

const (
	// CurveExponential doubles the delay per attempt (transport outages).
	CurveExponential Curve = iota
	// CurveLinear grows by a fixed step (the remote refused the request).
	CurveLinear
	// CurveRetryAfter honours the delay the remote asked for.
	CurveRetryAfter
	// CurveFixed waits a constant delay (local misconfiguration).
	CurveFixed
)

const minDelay = time.Second

// Backoff computes the next attempt time for a failed item.
type Backoff struct {
	cfg  config.RetryConfig
	rand func() float64
}

func NewBackoff(cfg config.RetryConfig) *Backoff {
	return &Backoff{cfg: cfg, rand: rand.Float64}
}

// Delay returns how long to wait before attempt number attempt (1-based).
func (b *Backoff) Delay(curve Curve, attempt int, retryAfter time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var d time.Duration
	switch curve {
	case CurveExponential:
		d = capped(float64(b.cfg.TransportBase)*math.Pow(2, float64(attempt-1)), b.cfg.TransportMax)
	case CurveLinear:
		d = capped(float64(b.cfg.RejectionStep)*float64(attempt), b.cfg.RejectionMax)
	case CurveRetryAfter:
		// Retry-After is an instruction, not a hint: no jitter below it.
		if retryAfter > 0 {
			return max(retryAfter, minDelay)
		}
		d = b.cfg.RateLimitDefault
	case CurveFixed:
		d = b.cfg.ConfigDelay
	}

	if b.cfg.Jitter > 0 {
		d = time.Duration(float64(d) * (1 + b.cfg.Jitter*(2*b.rand()-1)))
	}
	return max(d, minDelay)
}

// Next returns the absolute time of the next attempt. It is always after now.
func (b *Backoff) Next(now time.Time, curve Curve, attempt int, retryAfter time.Duration) time.Time {
	return now.Add(b.Delay(curve, attempt, retryAfter))
}

func capped(d float64, ceiling time.Duration) time.Duration {
	if ceiling > 0 && d > float64(ceiling) {
		return ceiling
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
