package postgres

import (
	"context"
	"fmt"

	"github.com/cassiomorais/channelsync/internal/domain/queue"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BookingPushRepository stores outbound booking changes.
type BookingPushRepository struct {
	*QueueStore[*queue.BookingPush]
}

func NewBookingPushRepository(pool *pgxpool.Pool) *BookingPushRepository {
	return &BookingPushRepository{newQueueStore(pool, table[*queue.BookingPush]{
		name:      "booking_push_queue",
		kind:      queue.KindBookingPush,
		columns:   []string{"event_id", "link_id", "mapping_id", "operation", "payload"},
		newRecord: func() *queue.BookingPush { return &queue.BookingPush{} },
		fields: func(p *queue.BookingPush) []any {
			return []any{&p.EventID, &p.LinkID, &p.MappingID, &p.Operation, jsonColumn{dst: &p.Payload}}
		},
		values: func(p *queue.BookingPush) ([]any, error) {
			payload, err := marshalJSON(p.Payload)
			if err != nil {
				return nil, fmt.Errorf("marshal booking payload: %w", err)
			}
			return []any{p.EventID, p.LinkID, p.MappingID, string(p.Operation), payload}, nil
		},
	})}
}

// ListByEvent returns every push of an event, newest first.
func (r *BookingPushRepository) ListByEvent(ctx context.Context, eventID int64) ([]*queue.BookingPush, error) {
	return r.list(ctx, queue.ListFilter{Limit: 1000}, "event_id", eventID)
}

// ListByLink returns every push of a link, newest first.
func (r *BookingPushRepository) ListByLink(ctx context.Context, linkID int64) ([]*queue.BookingPush, error) {
	return r.list(ctx, queue.ListFilter{Limit: 1000}, "link_id", linkID)
}

// BookingPullRepository stores scheduled remote polls.
type BookingPullRepository struct {
	*QueueStore[*queue.BookingPull]
}

func NewBookingPullRepository(pool *pgxpool.Pool) *BookingPullRepository {
	return &BookingPullRepository{newQueueStore(pool, table[*queue.BookingPull]{
		name:      "booking_pull_queue",
		kind:      queue.KindBookingPull,
		columns:   []string{"mapping_id", "window_from", "window_to", "cursor"},
		newRecord: func() *queue.BookingPull { return &queue.BookingPull{} },
		fields: func(p *queue.BookingPull) []any {
			return []any{&p.MappingID, &p.WindowFrom, &p.WindowTo, &p.Cursor}
		},
		values: func(p *queue.BookingPull) ([]any, error) {
			return []any{p.MappingID, p.WindowFrom, p.WindowTo, p.Cursor}, nil
		},
	})}
}

// RatePushRepository stores logical rate changes.
type RatePushRepository struct {
	*QueueStore[*queue.RatePush]
}

func NewRatePushRepository(pool *pgxpool.Pool) *RatePushRepository {
	return &RatePushRepository{newQueueStore(pool, table[*queue.RatePush]{
		name:      "rate_push_queue",
		kind:      queue.KindRatePush,
		columns:   []string{"unit_id", "date_from", "date_to", "payload"},
		newRecord: func() *queue.RatePush { return &queue.RatePush{} },
		fields: func(p *queue.RatePush) []any {
			return []any{&p.UnitID, &p.DateFrom, &p.DateTo, jsonColumn{dst: &p.Payload}}
		},
		values: func(p *queue.RatePush) ([]any, error) {
			payload, err := marshalJSON(p.Payload)
			if err != nil {
				return nil, fmt.Errorf("marshal rate payload: %w", err)
			}
			return []any{p.UnitID, p.DateFrom, p.DateTo, payload}, nil
		},
	})}
}
