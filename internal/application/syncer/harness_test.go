package syncer

import (
	"testing"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/channel"
	"github.com/cassiomorais/channelsync/internal/domain/link"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
	"github.com/cassiomorais/channelsync/internal/infrastructure/config"
	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
	"github.com/cassiomorais/channelsync/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var testRetry = config.RetryConfig{
	MaxAttempts:      3,
	TransportBase:    10 * time.Second,
	TransportMax:     time.Hour,
	RejectionStep:    time.Minute,
	RejectionMax:     time.Hour,
	RateLimitDefault: 30 * time.Second,
	ConfigDelay:      5 * time.Minute,
}

// harness wires the syncer against in-memory stores and a scripted remote.
type harness struct {
	pushes     *testutil.MemoryBookingPushStore
	pulls      *testutil.MemoryQueueStore[*queue.BookingPull]
	rates      *testutil.MemoryQueueStore[*queue.RatePush]
	deliveries *testutil.MemoryDeliveryStore

	links    *testutil.MockLinkRepository
	mappings *testutil.MockMappingRepository
	events   *testutil.MockEventRepository

	caller    *testutil.MockCaller
	creds     *testutil.MockCredentialResolver
	publisher *testutil.MockPublisher
	clock     *testutil.FixedClock
	metrics   *observability.Metrics
	registry  *channel.Registry
	remote    *Remote
	backoff   *Backoff
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		pushes:     testutil.NewBookingPushStore(),
		pulls:      testutil.NewBookingPullStore(),
		rates:      testutil.NewRatePushStore(),
		deliveries: testutil.NewRateDeliveryStore(),
		links:      testutil.NewMockLinkRepository(),
		mappings: testutil.NewMockMappingRepository(
			testutil.NewTestMapping(1, 10, 100),
			testutil.NewTestMapping(2, 10, 200),
			testutil.NewTestMapping(3, 20, 100),
		),
		events: testutil.NewMockEventRepository(
			testutil.NewTestEvent(7, link.EventConfirmed),
			testutil.NewTestEvent(8, link.EventCancelled),
		),
		caller:    &testutil.MockCaller{},
		creds:     &testutil.MockCredentialResolver{},
		publisher: &testutil.MockPublisher{},
		clock:     testutil.NewFixedClock(testutil.Epoch),
		metrics:   observability.NewMetrics("test", prometheus.NewRegistry()),
		registry:  channel.DefaultRegistry(),
	}
	h.remote = NewRemote(h.caller, h.creds, h.registry, zerolog.Nop())
	h.backoff = NewBackoff(testRetry)
	return h
}

func (h *harness) deps() ProcessorDeps {
	return ProcessorDeps{
		Remote:      h.remote,
		Backoff:     h.backoff,
		DeadLetters: h.publisher,
		Metrics:     h.metrics,
		Logger:      zerolog.Nop(),
		WorkerID:    "worker-1",
		CallTimeout: time.Second,
	}
}

func newTestProcessor[T queue.Record](h *harness, store queue.Store[T], handler Handler[T]) *Processor[T] {
	p := NewProcessor(store, handler, h.deps())
	p.now = h.clock.Now
	return p
}

func (h *harness) pushProcessor() *Processor[*queue.BookingPush] {
	handler := NewBookingPushHandler(h.links, h.mappings)
	handler.now = h.clock.Now
	return newTestProcessor[*queue.BookingPush](h, h.pushes, handler)
}

func (h *harness) linkService() *LinkService {
	s := NewLinkService(h.links, h.events, h.events, h.pushes, testutil.NewMockTransactionManager(), zerolog.Nop())
	s.now = h.clock.Now
	return s
}

func (h *harness) enqueuer() *Enqueuer {
	e := NewEnqueuer(h.pushes, h.pulls, h.rates, h.links, h.mappings, h.registry, h.publisher, zerolog.Nop())
	e.now = h.clock.Now
	return e.WithMaxAttempts(testRetry.MaxAttempts)
}

func (h *harness) fanOut() *FanOut {
	f := NewFanOut(h.mappings, h.deliveries, h.registry, h.metrics)
	f.now = h.clock.Now
	return f
}

// seedPush stores a pending booking push for l that is due now.
func (h *harness) seedPush(t *testing.T, l *link.Link, op queue.BookingOperation) *queue.BookingPush {
	t.Helper()
	endpoint, err := h.registry.ByAction(bookingActions[op])
	if err != nil {
		t.Fatal(err)
	}
	m, err := h.mappings.Get(t.Context(), l.MappingID)
	if err != nil {
		t.Fatal(err)
	}
	p, err := queue.NewBookingPush(l.EventID, l.ID, l.MappingID, op, endpoint.ID, m.CredentialID, map[string]any{"guest": "Ada"}, h.clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	p.MaxAttempts = testRetry.MaxAttempts
	return h.pushes.Put(p)
}
