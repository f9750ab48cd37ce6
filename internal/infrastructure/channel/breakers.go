package channel

import (
	"errors"
	"sync"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/channel"
	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
	"github.com/sony/gobreaker/v2"
)

// Breakers keeps one circuit breaker per remote action.
type Breakers struct {
	mu        sync.Mutex
	breakers  map[channel.Action]*gobreaker.CircuitBreaker[*Response]
	threshold uint32
	timeout   time.Duration
	metrics   *observability.Metrics
}

func NewBreakers(threshold uint32, timeout time.Duration, metrics *observability.Metrics) *Breakers {
	if threshold == 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Breakers{
		breakers:  make(map[channel.Action]*gobreaker.CircuitBreaker[*Response]),
		threshold: threshold,
		timeout:   timeout,
		metrics:   metrics,
	}
}

func (b *Breakers) get(action channel.Action) *gobreaker.CircuitBreaker[*Response] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[action]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        string(action),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     b.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= b.threshold {
				return true
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		// Rejections and rate limits mean the remote is up and answering.
		IsSuccessful: func(err error) bool {
			return err == nil || !isOutage(err)
		},
		OnStateChange: func(name string, _ gobreaker.State, to gobreaker.State) {
			if b.metrics != nil {
				b.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	b.breakers[action] = cb
	return cb
}

// Execute runs fn under the breaker for action. An open breaker yields a
// CallError of class circuit_open without calling fn.
func (b *Breakers) Execute(action channel.Action, fn func() (*Response, error)) (*Response, error) {
	resp, err := b.get(action).Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.record(action, "rejected")
		return nil, &CallError{Class: ClassCircuitOpen, Action: action, Message: err.Error(), Err: err}
	}
	if err != nil && isOutage(err) {
		b.record(action, "failure")
	} else {
		b.record(action, "success")
	}
	return resp, err
}

// State reports the breaker state for action, closed when never used.
func (b *Breakers) State(action channel.Action) gobreaker.State {
	b.mu.Lock()
	cb, ok := b.breakers[action]
	b.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

func (b *Breakers) record(action channel.Action, result string) {
	if b.metrics != nil {
		b.metrics.CircuitBreakerRequests.WithLabelValues(string(action), result).Inc()
	}
}

func isOutage(err error) bool {
	var ce *CallError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Class {
	case ClassTimeout, ClassTransport, ClassServer:
		return true
	}
	return false
}
