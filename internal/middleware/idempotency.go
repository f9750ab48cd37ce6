package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cassiomorais/channelsync/internal/repository/postgres"
	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
)

const maxIdempotencyBodySize = 1 << 20

// IdempotencyStore persists replayable responses.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*postgres.IdempotencyEntry, error)
	Set(ctx context.Context, entry *postgres.IdempotencyEntry) error
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// Reusing a key with a different request is answered with 422.
func Idempotency(store IdempotencyStore, ttl time.Duration, logger zerolog.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotencyBodySize))
			if err != nil {
				writeMiddlewareError(w, http.StatusBadRequest, "invalid_request", "failed to read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			hash := requestHash(r, body)

			entry, err := store.Get(r.Context(), key)
			if err != nil {
				logger.Warn().Err(err).Str("idempotency_key", key).Msg("idempotency lookup failed")
			}
			if err == nil && entry != nil {
				if entry.RequestHash != "" && entry.RequestHash != hash {
					writeMiddlewareError(w, http.StatusUnprocessableEntity, "idempotency_key_reused",
						"Idempotency-Key was already used for a different request")
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotency-Replayed", "true")
				w.WriteHeader(entry.ResponseStatus)
				w.Write([]byte(entry.ResponseBody))
				return
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode >= 200 && rec.statusCode < 500 && !rec.bodyTruncated {
				now := time.Now()
				err := store.Set(r.Context(), &postgres.IdempotencyEntry{
					Key:            key,
					RequestHash:    hash,
					ResponseBody:   rec.body.String(),
					ResponseStatus: rec.statusCode,
					CreatedAt:      now,
					ExpiresAt:      now.Add(ttl),
				})
				if err != nil {
					logger.Warn().Err(err).Str("idempotency_key", key).Msg("failed to store idempotent response")
				}
			}
		})
	}
}

func requestHash(r *http.Request, body []byte) string {
	d := xxhash.New()
	d.WriteString(r.Method)
	d.WriteString(" ")
	d.WriteString(r.URL.RequestURI())
	d.WriteString("\n")
	d.Write(body)
	return fmt.Sprintf("%016x", d.Sum64())
}

func writeMiddlewareError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  code,
	})
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	body          *bytes.Buffer
	bodyTruncated bool
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.bodyTruncated {
		if r.body.Len()+len(b) > maxIdempotencyBodySize {
			r.bodyTruncated = true
		} else {
			r.body.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}
