package syncer

import (
	"context"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
)

// ItemTriage is the operator view of one queue table.
type ItemTriage interface {
	Get(ctx context.Context, id int64) (queue.Record, error)
	List(ctx context.Context, filter queue.ListFilter) ([]queue.Record, error)
	Cancel(ctx context.Context, id int64) (queue.Record, error)
	Requeue(ctx context.Context, id int64) (queue.Record, error)
}

// Triage implements ItemTriage over a typed store.
type Triage[T queue.Record] struct {
	store     queue.Store[T]
	publisher DispatchPublisher
	now       Clock
}

func NewTriage[T queue.Record](store queue.Store[T], publisher DispatchPublisher) *Triage[T] {
	return &Triage[T]{store: store, publisher: publisher, now: time.Now}
}

func (t *Triage[T]) Get(ctx context.Context, id int64) (queue.Record, error) {
	return t.store.Get(ctx, id)
}

func (t *Triage[T]) List(ctx context.Context, filter queue.ListFilter) ([]queue.Record, error) {
	recs, err := t.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]queue.Record, len(recs))
	for i, r := range recs {
		out[i] = r
	}
	return out, nil
}

// Cancel withdraws a pending item that no worker holds.
func (t *Triage[T]) Cancel(ctx context.Context, id int64) (queue.Record, error) {
	return t.mutate(ctx, id, func(i *queue.Item, now time.Time) error {
		return i.MarkCancelled(now)
	})
}

// Requeue arms an exhausted item again with a fresh attempt budget.
func (t *Triage[T]) Requeue(ctx context.Context, id int64) (queue.Record, error) {
	rec, err := t.mutate(ctx, id, func(i *queue.Item, now time.Time) error {
		return i.Requeue(now)
	})
	if err != nil {
		return nil, err
	}
	if t.publisher != nil {
		// Best effort; the sweep finds the item anyway.
		_ = t.publisher.PublishDispatch(ctx, string(t.store.Kind()), []int64{id})
	}
	return rec, nil
}

func (t *Triage[T]) mutate(ctx context.Context, id int64, fn func(*queue.Item, time.Time) error) (queue.Record, error) {
	rec, err := t.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	item := rec.Core()
	guard := queue.GuardOf(item)
	if err := fn(item, t.now()); err != nil {
		return nil, err
	}
	if err := t.store.Save(ctx, rec, guard); err != nil {
		return nil, err
	}
	return rec, nil
}

// Admin groups the triage views by kind.
type Admin struct {
	tables map[queue.Kind]ItemTriage
}

func NewAdmin(tables map[queue.Kind]ItemTriage) *Admin {
	return &Admin{tables: tables}
}

// Table returns the triage view for kind.
func (a *Admin) Table(kind queue.Kind) (ItemTriage, error) {
	t, ok := a.tables[kind]
	if !ok {
		return nil, fmt.Errorf("kind %q: %w", kind, domainErrors.ErrUnknownTask)
	}
	return t, nil
}
