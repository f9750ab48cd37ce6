package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
)

// Tracing starts a server span per request. The span is renamed to
// "METHOD /route/{pattern}" once chi has matched the route, which keeps span
// names low-cardinality. A nil provider uses the global one.
func Tracing(tp trace.TracerProvider) func(http.Handler) http.Handler {
	opts := []otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	}
	if tp != nil {
		opts = append(opts, otelhttp.WithTracerProvider(tp))
	}

	return func(next http.Handler) http.Handler {
		named := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				trace.SpanFromContext(r.Context()).SetName(r.Method + " " + rctx.RoutePattern())
			}
		})
		return otelhttp.NewHandler(named, "http.server", opts...)
	}
}
