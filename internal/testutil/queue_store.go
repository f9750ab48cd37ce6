package testutil

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
)

// MemoryQueueStore is an in-memory queue.Store with the same claim and
// guarded-save semantics as the PostgreSQL tables. Stored records are copied
// on the way in and out, so callers never share state with the store.
type MemoryQueueStore[T queue.Record] struct {
	mu     sync.Mutex
	kind   queue.Kind
	clone  func(T) T
	rows   map[int64]T
	nextID int64

	InsertFunc func(ctx context.Context, rec T) error
	ClaimFunc  func(ctx context.Context, workerID string, now time.Time, limit int, ids []int64) ([]T, error)
	SaveFunc   func(ctx context.Context, rec T, guard queue.Guard) error
	ListFunc   func(ctx context.Context, filter queue.ListFilter) ([]T, error)
}

func NewMemoryQueueStore[T queue.Record](kind queue.Kind, clone func(T) T) *MemoryQueueStore[T] {
	return &MemoryQueueStore[T]{kind: kind, clone: clone, rows: make(map[int64]T)}
}

func NewBookingPushStore() *MemoryBookingPushStore {
	return &MemoryBookingPushStore{NewMemoryQueueStore(queue.KindBookingPush, func(p *queue.BookingPush) *queue.BookingPush {
		c := *p
		return &c
	})}
}

func NewBookingPullStore() *MemoryQueueStore[*queue.BookingPull] {
	return NewMemoryQueueStore(queue.KindBookingPull, func(p *queue.BookingPull) *queue.BookingPull {
		c := *p
		return &c
	})
}

func NewRatePushStore() *MemoryQueueStore[*queue.RatePush] {
	return NewMemoryQueueStore(queue.KindRatePush, func(p *queue.RatePush) *queue.RatePush {
		c := *p
		return &c
	})
}

func NewRateDeliveryStore() *MemoryDeliveryStore {
	return &MemoryDeliveryStore{NewMemoryQueueStore(queue.KindRateDelivery, func(d *queue.RateDelivery) *queue.RateDelivery {
		c := *d
		return &c
	})}
}

func (s *MemoryQueueStore[T]) Kind() queue.Kind {
	return s.kind
}

func (s *MemoryQueueStore[T]) Insert(ctx context.Context, rec T) error {
	if s.InsertFunc != nil {
		return s.InsertFunc(ctx, rec)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(rec)
}

func (s *MemoryQueueStore[T]) insertLocked(rec T) error {
	item := rec.Core()
	if item.DedupeKey != nil && item.Status == queue.StatusPending {
		for _, row := range s.rows {
			r := row.Core()
			if r.Status == queue.StatusPending && r.DedupeKey != nil && *r.DedupeKey == *item.DedupeKey {
				return fmt.Errorf("%s: %w", s.kind, domainErrors.ErrDuplicateDedupeKey)
			}
		}
	}
	s.nextID++
	item.ID = s.nextID
	s.rows[item.ID] = s.clone(rec)
	return nil
}

func (s *MemoryQueueStore[T]) Get(ctx context.Context, id int64) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %d: %w", s.kind, id, domainErrors.ErrItemNotFound)
	}
	return s.clone(row), nil
}

func (s *MemoryQueueStore[T]) Claim(ctx context.Context, workerID string, now time.Time, limit int, ids []int64) ([]T, error) {
	if s.ClaimFunc != nil {
		return s.ClaimFunc(ctx, workerID, now, limit, ids)
	}
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []T
	for id, row := range s.rows {
		if len(ids) > 0 && !slices.Contains(ids, id) {
			continue
		}
		r := row.Core()
		if r.IsLocked() || (r.Status != queue.StatusPending && r.Status != queue.StatusFailed) || !r.CanRunNow(now) {
			continue
		}
		due = append(due, row)
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].Core(), due[j].Core()
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ID < b.ID
	})

	var claimed []T
	for _, row := range due {
		if len(claimed) == limit {
			break
		}
		if err := row.MarkProcessing(workerID, now); err != nil {
			continue
		}
		claimed = append(claimed, s.clone(row))
	}
	return claimed, nil
}

func (s *MemoryQueueStore[T]) Save(ctx context.Context, rec T, guard queue.Guard) error {
	if s.SaveFunc != nil {
		return s.SaveFunc(ctx, rec, guard)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item := rec.Core()
	row, ok := s.rows[item.ID]
	if !ok {
		return fmt.Errorf("%s %d: %w", s.kind, item.ID, domainErrors.ErrItemNotFound)
	}
	stored := row.Core()
	if stored.Status != guard.Status || !sameOwner(stored.LockedBy, guard.LockedBy) ||
		!sameInstant(stored.LockedAt, guard.LockedAt) {
		return fmt.Errorf("%s %d: %w", s.kind, item.ID, domainErrors.ErrLockLost)
	}
	s.rows[item.ID] = s.clone(rec)
	return nil
}

func (s *MemoryQueueStore[T]) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []T
	for _, row := range s.rows {
		r := row.Core()
		if r.Status == queue.StatusProcessing && r.ProcessingStartedAt != nil && r.ProcessingStartedAt.Before(cutoff) {
			out = append(out, s.clone(row))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Core().ProcessingStartedAt.Before(*out[j].Core().ProcessingStartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryQueueStore[T]) FindByDedupeKey(ctx context.Context, key string) (T, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best T
	var bestID int64
	for id, row := range s.rows {
		r := row.Core()
		if r.DedupeKey == nil || *r.DedupeKey != key || r.Status == queue.StatusCancelled {
			continue
		}
		if id > bestID {
			best, bestID = row, id
		}
	}
	if bestID == 0 {
		var zero T
		return zero, false, nil
	}
	return s.clone(best), true, nil
}

func (s *MemoryQueueStore[T]) GroupingMetadata(ctx context.Context, ids []int64) (map[int64]queue.GroupKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]queue.GroupKey, len(ids))
	for _, id := range ids {
		if row, ok := s.rows[id]; ok {
			r := row.Core()
			out[id] = queue.GroupKey{CredentialID: r.CredentialID, EndpointID: r.EndpointID}
		}
	}
	return out, nil
}

func (s *MemoryQueueStore[T]) List(ctx context.Context, filter queue.ListFilter) ([]T, error) {
	if s.ListFunc != nil {
		return s.ListFunc(ctx, filter)
	}
	return s.Filter(func(r T) bool {
		i := r.Core()
		if filter.Status != nil && i.Status != *filter.Status {
			return false
		}
		if filter.Reason != nil && i.Reason() != *filter.Reason {
			return false
		}
		return true
	}, filter.Offset, filter.Limit), nil
}

// Filter returns copies of the rows matching keep, newest first.
func (s *MemoryQueueStore[T]) Filter(keep func(T) bool, offset, limit int) []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []T
	for _, row := range s.rows {
		if keep(row) {
			out = append(out, s.clone(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Core().ID > out[j].Core().ID })
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Put stores rec as is, keeping its ID when set. For seeding tests.
func (s *MemoryQueueStore[T]) Put(rec T) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := rec.Core()
	if item.ID == 0 {
		s.nextID++
		item.ID = s.nextID
	} else if item.ID > s.nextID {
		s.nextID = item.ID
	}
	s.rows[item.ID] = s.clone(rec)
	return rec
}

// Snapshot returns a copy of the stored row, or the zero value.
func (s *MemoryQueueStore[T]) Snapshot(id int64) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		var zero T
		return zero
	}
	return s.clone(row)
}

// All returns copies of every row ordered by id.
func (s *MemoryQueueStore[T]) All() []T {
	out := s.Filter(func(T) bool { return true }, 0, 0)
	slices.Reverse(out)
	return out
}

func sameOwner(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// MemoryBookingPushStore adds the link and event lookups of the push table.
type MemoryBookingPushStore struct {
	*MemoryQueueStore[*queue.BookingPush]
}

func (s *MemoryBookingPushStore) ListByEvent(ctx context.Context, eventID int64) ([]*queue.BookingPush, error) {
	return s.Filter(func(p *queue.BookingPush) bool { return p.EventID == eventID }, 0, 0), nil
}

func (s *MemoryBookingPushStore) ListByLink(ctx context.Context, linkID int64) ([]*queue.BookingPush, error) {
	return s.Filter(func(p *queue.BookingPush) bool { return p.LinkID == linkID }, 0, 0), nil
}

// MemoryDeliveryStore adds the fan-out operations of the delivery table.
type MemoryDeliveryStore struct {
	*MemoryQueueStore[*queue.RateDelivery]
}

// CreateForQueue inserts the deliveries whose (queue, mapping) pair is new.
func (s *MemoryDeliveryStore) CreateForQueue(ctx context.Context, queueID int64, deliveries []*queue.RateDelivery) ([]*queue.RateDelivery, int, error) {
	s.mu.Lock()
	created := 0
	for _, d := range deliveries {
		exists := false
		for _, row := range s.rows {
			if row.QueueID == queueID && row.MappingID == d.MappingID {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		s.nextID++
		d.ID = s.nextID
		s.rows[d.ID] = s.clone(d)
		created++
	}
	s.mu.Unlock()

	all, err := s.ListByQueue(ctx, queueID)
	return all, created, err
}

func (s *MemoryDeliveryStore) ListByQueue(ctx context.Context, queueID int64) ([]*queue.RateDelivery, error) {
	out := s.Filter(func(d *queue.RateDelivery) bool { return d.QueueID == queueID }, 0, 0)
	sort.Slice(out, func(i, j int) bool { return out[i].MappingID < out[j].MappingID })
	return out, nil
}

func (s *MemoryDeliveryStore) Summary(ctx context.Context, queueID int64) (map[queue.Status]int, error) {
	out := make(map[queue.Status]int)
	for _, d := range s.Filter(func(d *queue.RateDelivery) bool { return d.QueueID == queueID }, 0, 0) {
		out[d.Status]++
	}
	return out, nil
}
