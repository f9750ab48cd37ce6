package syncer

import (
	"context"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/channel"
	"github.com/cassiomorais/channelsync/internal/domain/link"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
	infraRedis "github.com/cassiomorais/channelsync/internal/infrastructure/redis"
)

// TransactionManager defines the interface for transaction management.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// DispatchPublisher announces freshly armed ids to the dispatch stream.
type DispatchPublisher interface {
	PublishDispatch(ctx context.Context, task string, ids []int64) error
}

// DeadLetterPublisher receives items that ran out of attempts.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, dl infraRedis.DeadLetter) error
}

// MappingSource resolves unit mappings.
type MappingSource interface {
	Get(ctx context.Context, id int64) (*channel.Mapping, error)
	ListActiveByUnit(ctx context.Context, unitID int64) ([]*channel.Mapping, error)
	ListActive(ctx context.Context) ([]*channel.Mapping, error)
}

// EventReader loads the local calendar event a link belongs to.
type EventReader interface {
	Get(ctx context.Context, id int64) (*link.Event, error)
}

// EventImporter records a booking first seen on the remote side as a local
// event and returns the new event id.
type EventImporter interface {
	ImportRemoteBooking(ctx context.Context, mappingID int64, rb link.RemoteBooking) (int64, error)
}

// BookingPushStore is the booking push table plus its link/event lookups.
type BookingPushStore interface {
	queue.Store[*queue.BookingPush]
	ListByEvent(ctx context.Context, eventID int64) ([]*queue.BookingPush, error)
	ListByLink(ctx context.Context, linkID int64) ([]*queue.BookingPush, error)
}

// DeliveryStore persists the per-destination rows of a rate push.
type DeliveryStore interface {
	CreateForQueue(ctx context.Context, queueID int64, deliveries []*queue.RateDelivery) ([]*queue.RateDelivery, int, error)
	Summary(ctx context.Context, queueID int64) (map[queue.Status]int, error)
}

// Clock is overridden in tests.
type Clock func() time.Time
