package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/channel"
	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/link"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// dedupePolicy tells upsert what to do with a succeeded item that shares the
// dedupe key of new work.
type dedupePolicy struct {
	// rerunSucceeded arms the item again even when the payload is unchanged.
	rerunSucceeded bool
	// reuseSucceeded arms the item again for a changed payload instead of
	// inserting a new row.
	reuseSucceeded bool
}

var (
	bookingPolicy = dedupePolicy{reuseSucceeded: true}
	ratePolicy    = dedupePolicy{}
	pullPolicy    = dedupePolicy{rerunSucceeded: true, reuseSucceeded: true}
)

// Enqueuer turns local changes into queue items. Repeated changes collapse
// onto the open item with the same dedupe key.
type Enqueuer struct {
	pushes    BookingPushStore
	pulls     queue.Store[*queue.BookingPull]
	rates     queue.Store[*queue.RatePush]
	links     link.Repository
	mappings  MappingSource
	registry  *channel.Registry
	publisher DispatchPublisher
	logger    zerolog.Logger
	now       Clock

	maxAttempts int
}

func NewEnqueuer(
	pushes BookingPushStore,
	pulls queue.Store[*queue.BookingPull],
	rates queue.Store[*queue.RatePush],
	links link.Repository,
	mappings MappingSource,
	registry *channel.Registry,
	publisher DispatchPublisher,
	logger zerolog.Logger,
) *Enqueuer {
	return &Enqueuer{
		pushes:    pushes,
		pulls:     pulls,
		rates:     rates,
		links:     links,
		mappings:  mappings,
		registry:  registry,
		publisher: publisher,
		logger:    observability.Component(logger, "enqueuer"),
		now:       time.Now,
	}
}

// WithMaxAttempts sets the attempt budget of newly created items.
func (e *Enqueuer) WithMaxAttempts(n int) *Enqueuer {
	e.maxAttempts = n
	return e
}

func (e *Enqueuer) budget(i *queue.Item) {
	if e.maxAttempts > 0 {
		i.MaxAttempts = e.maxAttempts
	}
}

var bookingActions = map[queue.BookingOperation]channel.Action{
	queue.OperationCreate: channel.ActionBookingCreate,
	queue.OperationUpdate: channel.ActionBookingUpdate,
	queue.OperationCancel: channel.ActionBookingCancel,
}

// EnqueueBookingChange queues op for every link of the event and returns
// the ids of the items that were armed. Links without a remote id turn an
// update into a fresh create, and a cancel withdraws their unsent work.
func (e *Enqueuer) EnqueueBookingChange(ctx context.Context, eventID int64, op queue.BookingOperation, payload map[string]any) ([]int64, error) {
	if _, ok := bookingActions[op]; !ok {
		return nil, domainErrors.NewValidationError("operation", "unknown booking operation "+string(op))
	}
	links, err := e.links.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list links of event %d: %w", eventID, err)
	}
	graph := link.NewGraph(eventID, links)
	if err := graph.Validate(); err != nil {
		return nil, err
	}

	var armed []int64
	for _, l := range graph.Links() {
		effective := op
		switch op {
		case queue.OperationCreate, queue.OperationUpdate:
			if !l.IsActive() {
				continue
			}
			if l.HasRemoteID() {
				effective = queue.OperationUpdate
			} else {
				effective = queue.OperationCreate
			}
		case queue.OperationCancel:
			if l.Status == link.StatusSyncedDeleted {
				continue
			}
			if !l.HasRemoteID() {
				withdrawn, err := e.withdraw(ctx, l)
				if err != nil {
					return armed, err
				}
				if withdrawn {
					continue
				}
			}
		}

		id, changed, err := e.enqueuePush(ctx, l, effective, payload)
		if err != nil {
			return armed, err
		}
		if changed {
			armed = append(armed, id)
		}
	}

	e.announce(ctx, queue.KindBookingPush, armed)
	return armed, nil
}

func (e *Enqueuer) enqueuePush(ctx context.Context, l *link.Link, op queue.BookingOperation, payload map[string]any) (int64, bool, error) {
	endpoint, err := e.registry.ByAction(bookingActions[op])
	if err != nil {
		return 0, false, err
	}
	m, err := e.mappings.Get(ctx, l.MappingID)
	if err != nil {
		return 0, false, fmt.Errorf("mapping %d: %w", l.MappingID, err)
	}
	push, err := queue.NewBookingPush(l.EventID, l.ID, l.MappingID, op, endpoint.ID, m.CredentialID, payload, e.now())
	if err != nil {
		return 0, false, err
	}
	e.budget(&push.Item)
	rec, changed, err := upsert(ctx, e.pushes, push, bookingPolicy, func(dst, src *queue.BookingPush) {
		dst.Payload = src.Payload
		dst.CredentialID = src.CredentialID
		dst.EndpointID = src.EndpointID
	}, e.now())
	if err != nil {
		return 0, false, err
	}
	return rec.ID, changed, nil
}

// withdraw cancels the unsent create/update items of a link that never
// reached the remote side and detaches it. It reports false when some of
// that work is already in a worker's hands, in which case a cancel push is
// still needed.
func (e *Enqueuer) withdraw(ctx context.Context, l *link.Link) (bool, error) {
	now := e.now()
	for _, op := range []queue.BookingOperation{queue.OperationCreate, queue.OperationUpdate} {
		rec, found, err := e.pushes.FindByDedupeKey(ctx, queue.BookingDedupeKey(l.ID, op))
		if err != nil {
			return false, err
		}
		if !found || rec.IsTerminal() {
			continue
		}
		if rec.Status != queue.StatusPending || rec.IsLocked() {
			return false, nil
		}
		guard := queue.GuardOf(&rec.Item)
		if err := rec.MarkCancelled(now); err != nil {
			return false, err
		}
		if err := e.pushes.Save(ctx, rec, guard); err != nil {
			if errors.Is(err, domainErrors.ErrLockLost) {
				return false, nil
			}
			return false, err
		}
	}
	if l.IsActive() {
		if err := l.Retire(link.StatusDetached, now); err != nil {
			return false, err
		}
		if err := e.links.Update(ctx, l); err != nil {
			return false, err
		}
	}
	return true, nil
}

// EnqueueRateChange queues a rate change for a unit and date range.
func (e *Enqueuer) EnqueueRateChange(ctx context.Context, unitID int64, from, to time.Time, payload map[string]any) (int64, bool, error) {
	if unitID <= 0 {
		return 0, false, domainErrors.NewValidationError("unit_id", "must be positive")
	}
	if to.Before(from) {
		return 0, false, domainErrors.NewValidationError("date_to", "must not be before date_from")
	}
	endpoint, err := e.registry.ByAction(channel.ActionRateUpdate)
	if err != nil {
		return 0, false, err
	}
	push, err := queue.NewRatePush(unitID, endpoint.ID, from, to, payload, e.now())
	if err != nil {
		return 0, false, err
	}
	e.budget(&push.Item)
	rec, changed, err := upsert(ctx, e.rates, push, ratePolicy, func(dst, src *queue.RatePush) {
		dst.Payload = src.Payload
	}, e.now())
	if err != nil {
		return 0, false, err
	}
	if changed {
		e.announce(ctx, queue.KindRatePush, []int64{rec.ID})
	}
	return rec.ID, changed, nil
}

// EnqueuePull schedules a poll of one mapping over a window.
func (e *Enqueuer) EnqueuePull(ctx context.Context, mappingID int64, from, to time.Time) (int64, bool, error) {
	if to.Before(from) {
		return 0, false, domainErrors.NewValidationError("window_to", "must not be before window_from")
	}
	m, err := e.mappings.Get(ctx, mappingID)
	if err != nil {
		return 0, false, fmt.Errorf("mapping %d: %w", mappingID, err)
	}
	endpoint, err := e.registry.ByAction(channel.ActionBookingList)
	if err != nil {
		return 0, false, err
	}
	pull := queue.NewBookingPull(m.ID, endpoint.ID, m.CredentialID, from, to, e.now())
	e.budget(&pull.Item)
	rec, changed, err := upsert(ctx, e.pulls, pull, pullPolicy, func(dst, src *queue.BookingPull) {
		if !dst.WindowFrom.Equal(src.WindowFrom) || !dst.WindowTo.Equal(src.WindowTo) {
			dst.Cursor = nil
		}
		dst.WindowFrom, dst.WindowTo = src.WindowFrom, src.WindowTo
		dst.CredentialID = src.CredentialID
	}, e.now())
	if err != nil {
		return 0, false, err
	}
	if changed {
		e.announce(ctx, queue.KindBookingPull, []int64{rec.ID})
	}
	return rec.ID, changed, nil
}

func (e *Enqueuer) announce(ctx context.Context, kind queue.Kind, ids []int64) {
	if e.publisher == nil || len(ids) == 0 {
		return
	}
	if err := e.publisher.PublishDispatch(ctx, string(kind), ids); err != nil {
		// Not fatal: the periodic sweep claims due items regardless.
		e.logger.Warn().Err(err).Str("kind", string(kind)).Ints64("ids", ids).Msg("failed to announce queued items")
	}
}

// upsert stores rec unless open work with the same dedupe key already covers
// it. It returns the item that now carries the work and whether anything
// was armed.
func upsert[T queue.Record](ctx context.Context, store queue.Store[T], rec T, policy dedupePolicy, merge func(dst, src T), now time.Time) (T, bool, error) {
	key := rec.Core().DedupeKey
	if key == nil {
		return insert(ctx, store, rec)
	}
	existing, found, err := store.FindByDedupeKey(ctx, *key)
	if err != nil {
		return rec, false, err
	}
	if !found {
		return insert(ctx, store, rec)
	}

	ex := existing.Core()
	same := samePayload(ex.PayloadHash, rec.Core().PayloadHash)
	switch ex.Status {
	case queue.StatusProcessing:
		if same {
			return existing, false, nil
		}
		// The running attempt carries the old payload; queue the new one next to it.
		return insert(ctx, store, rec)
	case queue.StatusSuccess:
		if same && !policy.rerunSucceeded {
			return existing, false, nil
		}
		if !same && !policy.reuseSucceeded {
			return insert(ctx, store, rec)
		}
	case queue.StatusPending, queue.StatusFailed:
		if same && !ex.IsTerminal() {
			return existing, false, nil
		}
	}

	guard := queue.GuardOf(ex)
	merge(existing, rec)
	ex.PayloadHash = rec.Core().PayloadHash
	if err := ex.RequestSync(now); err != nil {
		return existing, false, err
	}
	if err := store.Save(ctx, existing, guard); err != nil {
		if errors.Is(err, domainErrors.ErrLockLost) {
			// A worker claimed it in the meantime.
			return insert(ctx, store, rec)
		}
		return existing, false, err
	}
	return existing, true, nil
}

func insert[T queue.Record](ctx context.Context, store queue.Store[T], rec T) (T, bool, error) {
	err := store.Insert(ctx, rec)
	if err == nil {
		return rec, true, nil
	}
	if errors.Is(err, domainErrors.ErrDuplicateDedupeKey) && rec.Core().DedupeKey != nil {
		// Another writer inserted the same pending work first.
		existing, found, ferr := store.FindByDedupeKey(ctx, *rec.Core().DedupeKey)
		if ferr == nil && found {
			return existing, false, nil
		}
	}
	return rec, false, err
}

func samePayload(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
