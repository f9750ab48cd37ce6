package controller

import (
	"time"

	"github.com/cassiomorais/channelsync/internal/application/syncer"
	"github.com/cassiomorais/channelsync/internal/domain/webhook"
	"github.com/cassiomorais/channelsync/internal/infrastructure/config"
	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/channelsync/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type RouterDeps struct {
	Checks map[string]Check

	Admin      *syncer.Admin
	Dispatcher Dispatcher
	Deliveries DeliverySummarizer
	Links      *syncer.LinkService
	Enqueuer   *syncer.Enqueuer
	PullWindow syncer.PullWindow
	Webhooks   *syncer.WebhookService
	Audits     webhook.Repository

	IdempotencyStore customMW.IdempotencyStore
	IdempotencyTTL   time.Duration

	Metrics        *observability.Metrics
	TracerProvider trace.TracerProvider
	Server         config.ServerConfig
	WebhookMaxBody int64
	Logger         zerolog.Logger
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing(deps.TracerProvider))
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.Checks)
	queueH := NewQueueController(deps.Admin, deps.Dispatcher, deps.Deliveries)
	linkH := NewLinkController(deps.Links)
	enqueueH := NewEnqueueController(deps.Enqueuer, deps.PullWindow)
	webhookH := NewWebhookController(deps.Webhooks, deps.Audits, deps.WebhookMaxBody, deps.Logger)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	// The channel retries on anything but 2xx, so this route is never
	// rate limited and never rejects a body.
	r.Post("/webhooks/channel", webhookH.Receive)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(customMW.SecurityHeaders())
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.Server.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
			AllowCredentials: deps.Server.CORS.AllowCredentials,
			MaxAge:           300,
		}))
		if rpm := deps.Server.RateLimit.RequestsPerMinute; rpm > 0 {
			r.Use(customMW.RateLimit(rpm))
		}

		// Idempotency middleware for mutating endpoints.
		idempotencyMW := customMW.Idempotency(deps.IdempotencyStore, deps.IdempotencyTTL, deps.Logger)

		// Change notifications
		r.With(idempotencyMW).Post("/changes/bookings", enqueueH.BookingChange)
		r.With(idempotencyMW).Post("/changes/rates", enqueueH.RateChange)
		r.With(idempotencyMW).Post("/pulls", enqueueH.Pull)

		// Queue triage
		r.Get("/queues/{kind}/items", queueH.ListItems)
		r.Get("/queues/{kind}/items/{id}", queueH.GetItem)
		r.Post("/queues/{kind}/items/{id}/cancel", queueH.CancelItem)
		r.With(idempotencyMW).Post("/queues/{kind}/items/{id}/requeue", queueH.RequeueItem)
		r.Get("/rate-pushes/{id}/deliveries", queueH.DeliverySummary)
		r.Post("/dispatch/{task}", queueH.Dispatch)

		// Links
		r.Post("/links", linkH.CreateRoot)
		r.Post("/links/{id}/mirrors", linkH.AddMirror)
		r.Get("/links/{id}/delete-check", linkH.CheckDelete)
		r.Post("/links/{id}/retire", linkH.Retire)
		r.Delete("/links/{id}", linkH.Remove)
		r.Get("/events/{id}/sync-status", linkH.SyncStatus)

		// Webhook audit
		r.Get("/webhooks", webhookH.ListAudits)
		r.Get("/webhooks/{id}", webhookH.GetAudit)
	})

	return r
}
