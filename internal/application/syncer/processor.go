package syncer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/channelsync/internal/infrastructure/redis"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxFailureMessage = 1000

var errHandlerPanic = errors.New("handler panicked")

// Handler performs the remote side-effect of one item. The returned map is
// stored as the item's execution result.
type Handler[T queue.Record] interface {
	Handle(ctx context.Context, rec T, remote *Remote) (map[string]any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T queue.Record] func(ctx context.Context, rec T, remote *Remote) (map[string]any, error)

func (f HandlerFunc[T]) Handle(ctx context.Context, rec T, remote *Remote) (map[string]any, error) {
	return f(ctx, rec, remote)
}

// Report counts what one Run did.
type Report struct {
	Claimed   int
	Succeeded int
	Failed    int
	Exhausted int
	LockLost  int
}

// ProcessorDeps are the collaborators shared by every processor.
type ProcessorDeps struct {
	Remote      *Remote
	Backoff     *Backoff
	DeadLetters DeadLetterPublisher
	Metrics     *observability.Metrics
	Logger      zerolog.Logger
	WorkerID    string
	CallTimeout time.Duration
}

// Processor claims due items of one kind and records the outcome of each.
type Processor[T queue.Record] struct {
	store       queue.Store[T]
	handler     Handler[T]
	remote      *Remote
	backoff     *Backoff
	deadLetters DeadLetterPublisher
	metrics     *observability.Metrics
	logger      zerolog.Logger
	tracer      trace.Tracer
	workerID    string
	callTimeout time.Duration
	now         Clock
}

func NewProcessor[T queue.Record](store queue.Store[T], handler Handler[T], deps ProcessorDeps) *Processor[T] {
	timeout := deps.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Processor[T]{
		store:       store,
		handler:     handler,
		remote:      deps.Remote,
		backoff:     deps.Backoff,
		deadLetters: deps.DeadLetters,
		metrics:     deps.Metrics,
		logger:      deps.Logger.With().Str("component", "processor").Str("kind", string(store.Kind())).Logger(),
		tracer:      observability.Tracer("channelsync/syncer"),
		workerID:    deps.WorkerID,
		callTimeout: timeout,
		now:         time.Now,
	}
}

func (p *Processor[T]) Kind() queue.Kind {
	return p.store.Kind()
}

// GroupingMetadata lets the dispatcher partition ids of this kind.
func (p *Processor[T]) GroupingMetadata(ctx context.Context, ids []int64) (map[int64]queue.GroupKey, error) {
	return p.store.GroupingMetadata(ctx, ids)
}

// Run claims up to limit due items (restricted to ids when given) and
// processes them one by one. Per-item failures end up on the item; only a
// failed claim is returned as an error.
func (p *Processor[T]) Run(ctx context.Context, limit int, ids []int64) (Report, error) {
	var rep Report
	if limit <= 0 {
		return rep, nil
	}
	claimed, err := p.store.Claim(ctx, p.workerID, p.now(), limit, ids)
	if err != nil {
		return rep, fmt.Errorf("claim %s: %w", p.Kind(), err)
	}
	rep.Claimed = len(claimed)
	if rep.Claimed == 0 {
		return rep, nil
	}
	p.metrics.QueueItemsClaimed.WithLabelValues(string(p.Kind())).Add(float64(rep.Claimed))

	for _, rec := range claimed {
		p.process(ctx, rec, &rep)
	}
	return rep, nil
}

func (p *Processor[T]) process(ctx context.Context, rec T, rep *Report) {
	item := rec.Core()
	kind := string(p.Kind())
	guard := queue.GuardOf(item)
	logger := p.logger.With().Int64("item_id", item.ID).Int("attempt", item.RetryCount+1).Logger()

	ctx, span := p.tracer.Start(ctx, "process "+kind, trace.WithAttributes(
		attribute.String("queue.kind", kind),
		attribute.Int64("queue.item_id", item.ID),
	))
	defer span.End()
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	result, err := p.invoke(callCtx, rec, logger)
	cancel()

	now := p.now()
	outcome := "success"
	if err == nil {
		item.RecordExchange("", "", result)
		err = rec.MarkSuccess(now)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		outcome = p.fail(rec, err, now, logger)
	}

	// The outcome must land even when the worker is shutting down.
	if err := p.store.Save(context.WithoutCancel(ctx), rec, guard); err != nil {
		if errors.Is(err, domainErrors.ErrLockLost) {
			rep.LockLost++
			p.metrics.QueueItemsProcessed.WithLabelValues(kind, "lock_lost").Inc()
			logger.Warn().Msg("lock lost before the outcome was saved, the watchdog reclaimed the item")
			return
		}
		rep.Failed++
		p.metrics.QueueItemsProcessed.WithLabelValues(kind, "save_error").Inc()
		logger.Error().Err(err).Str("outcome", outcome).Msg("failed to save item outcome")
		return
	}

	p.metrics.QueueItemsProcessed.WithLabelValues(kind, outcome).Inc()
	p.metrics.QueueProcessingDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	switch outcome {
	case "success":
		rep.Succeeded++
		logger.Debug().Msg("item synchronized")
	case "exhausted":
		rep.Exhausted++
		p.publishDeadLetter(ctx, rec, logger)
	default:
		rep.Failed++
	}
}

// invoke runs the handler, turning a panic into an internal failure of this
// item so the rest of the batch still runs.
func (p *Processor[T]) invoke(ctx context.Context, rec T, logger zerolog.Logger) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("handler panicked")
			result, err = nil, fmt.Errorf("%w: %v", errHandlerPanic, r)
		}
	}()
	return p.handler.Handle(ctx, rec, p.remote)
}

// fail records err on the item and returns the processing outcome label.
func (p *Processor[T]) fail(rec T, err error, now time.Time, logger zerolog.Logger) string {
	item := rec.Core()
	kind := string(p.Kind())
	o := Classify(err)

	f := queue.Failure{
		Reason:      o.Reason,
		Message:     truncate(o.Message, maxFailureMessage),
		HTTPCode:    o.HTTPCode,
		NextRetryAt: p.backoff.Next(now, o.Curve, item.RetryCount+1, o.RetryAfter),
	}
	if markErr := rec.MarkFailure(now, f); markErr != nil {
		// Only reachable when the item was not processing, which Claim rules out.
		logger.Error().Err(markErr).AnErr("cause", err).Msg("failed to record failure")
		return "error"
	}

	event := logger.Warn()
	if o.Local {
		event = logger.Error()
		p.metrics.QueueLocalErrors.WithLabelValues(kind, o.Reason).Inc()
	}
	event.Err(err).
		Str("reason", o.Reason).
		Int("retry_count", item.RetryCount).
		Msg("item attempt failed")

	if item.IsExhausted() {
		p.metrics.QueueExhausted.WithLabelValues(kind, o.Reason).Inc()
		return "exhausted"
	}
	p.metrics.QueueRetries.WithLabelValues(kind, o.Reason).Inc()
	return "failed"
}

func (p *Processor[T]) publishDeadLetter(ctx context.Context, rec T, logger zerolog.Logger) {
	item := rec.Core()
	logger.Error().
		Str("reason", item.Reason()).
		Int("retry_count", item.RetryCount).
		Msg("item exhausted its attempts")
	if p.deadLetters == nil {
		return
	}
	var message string
	if item.LastMessage != nil {
		message = *item.LastMessage
	}
	err := p.deadLetters.PublishDeadLetter(context.WithoutCancel(ctx), infraRedis.DeadLetter{
		Kind:       string(item.Kind),
		ItemID:     item.ID,
		Reason:     item.Reason(),
		Message:    message,
		RetryCount: item.RetryCount,
		Details:    rec.Details(),
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to publish dead letter")
	}
}
