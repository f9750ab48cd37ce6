package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit limits each client IP per endpoint to requestsPerMinute. It guards
// the operator API only; the channel's webhook route is never limited.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeMiddlewareError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
		}),
	)
}
