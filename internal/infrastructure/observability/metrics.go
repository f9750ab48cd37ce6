package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Queue metrics
	QueueItemsClaimed       *prometheus.CounterVec
	QueueItemsProcessed     *prometheus.CounterVec
	QueueProcessingDuration *prometheus.HistogramVec
	QueueRetries            *prometheus.CounterVec
	QueueExhausted          *prometheus.CounterVec
	QueueLocalErrors        *prometheus.CounterVec
	WatchdogReclaims        *prometheus.CounterVec

	// Dispatch and fan-out metrics
	DispatchGroups    *prometheus.CounterVec
	DispatchMissing   *prometheus.CounterVec
	DeliveriesCreated prometheus.Counter

	// Remote API metrics
	RemoteCallDuration  *prometheus.HistogramVec
	CredentialRefreshes *prometheus.CounterVec

	// Webhook metrics
	WebhooksReceived *prometheus.CounterVec
	WebhooksResolved *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState    *prometheus.GaugeVec
	CircuitBreakerRequests *prometheus.CounterVec

	// Worker metrics
	WorkerMessagesProcessed  *prometheus.CounterVec
	WorkerProcessingDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := prometheus.WrapRegistererWith(nil, reg)

	m := &Metrics{
		QueueItemsClaimed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_items_claimed_total",
				Help:      "Total number of queue items claimed by kind",
			},
			[]string{"kind"},
		),
		QueueItemsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_items_processed_total",
				Help:      "Total number of queue items processed by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		QueueProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "queue_processing_duration_seconds",
				Help:      "Queue item processing duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		QueueRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_retries_total",
				Help:      "Total number of failed attempts scheduled for retry",
			},
			[]string{"kind", "reason"},
		),
		QueueExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_exhausted_total",
				Help:      "Total number of queue items that ran out of attempts",
			},
			[]string{"kind", "reason"},
		),
		QueueLocalErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_local_errors_total",
				Help:      "Configuration or programming errors hit while processing",
			},
			[]string{"kind", "reason"},
		),
		WatchdogReclaims: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watchdog_reclaims_total",
				Help:      "Total number of orphaned items reclaimed by the watchdog",
			},
			[]string{"kind"},
		),
		DispatchGroups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_groups_total",
				Help:      "Total number of credential/endpoint groups dispatched",
			},
			[]string{"task"},
		),
		DispatchMissing: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_missing_ids_total",
				Help:      "Ids dispatched without grouping metadata",
			},
			[]string{"task"},
		),
		DeliveriesCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_deliveries_created_total",
				Help:      "Total number of rate deliveries created by fan-out",
			},
		),
		RemoteCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_call_duration_seconds",
				Help:      "Channel manager API call duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"action", "class"},
		),
		CredentialRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_refreshes_total",
				Help:      "Total number of access token refresh attempts",
			},
			[]string{"result"},
		),
		WebhooksReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhooks_received_total",
				Help:      "Total number of inbound webhooks recorded",
			},
			[]string{"event_type"},
		),
		WebhooksResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhooks_resolved_total",
				Help:      "Total number of webhook audit records resolved by status",
			},
			[]string{"status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		CircuitBreakerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_requests_total",
				Help:      "Total number of circuit breaker requests",
			},
			[]string{"name", "result"},
		),
		WorkerMessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_messages_processed_total",
				Help:      "Total number of stream messages processed",
			},
			[]string{"stream", "status"},
		),
		WorkerProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "worker_processing_duration_seconds",
				Help:      "Stream message processing duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stream"},
		),
	}

	// Register all collectors
	factory.MustRegister(
		m.QueueItemsClaimed,
		m.QueueItemsProcessed,
		m.QueueProcessingDuration,
		m.QueueRetries,
		m.QueueExhausted,
		m.QueueLocalErrors,
		m.WatchdogReclaims,
		m.DispatchGroups,
		m.DispatchMissing,
		m.DeliveriesCreated,
		m.RemoteCallDuration,
		m.CredentialRefreshes,
		m.WebhooksReceived,
		m.WebhooksResolved,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CircuitBreakerState,
		m.CircuitBreakerRequests,
		m.WorkerMessagesProcessed,
		m.WorkerProcessingDuration,
	)

	return m
}
