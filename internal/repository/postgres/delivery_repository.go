package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/cassiomorais/channelsync/internal/domain/queue"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RateDeliveryRepository stores the per-destination rows of a rate push.
// (queue_id, mapping_id) is unique, which makes fan-out idempotent.
type RateDeliveryRepository struct {
	*QueueStore[*queue.RateDelivery]
}

func NewRateDeliveryRepository(pool *pgxpool.Pool) *RateDeliveryRepository {
	return &RateDeliveryRepository{newQueueStore(pool, table[*queue.RateDelivery]{
		name:      "rate_delivery_queue",
		kind:      queue.KindRateDelivery,
		columns:   []string{"queue_id", "mapping_id"},
		newRecord: func() *queue.RateDelivery { return &queue.RateDelivery{} },
		fields: func(d *queue.RateDelivery) []any {
			return []any{&d.QueueID, &d.MappingID}
		},
		values: func(d *queue.RateDelivery) ([]any, error) {
			return []any{d.QueueID, d.MappingID}, nil
		},
	})}
}

// CreateForQueue inserts deliveries that do not exist yet and returns every
// delivery of queueID together with the number of rows actually created.
func (r *RateDeliveryRepository) CreateForQueue(ctx context.Context, queueID int64, deliveries []*queue.RateDelivery) ([]*queue.RateDelivery, int, error) {
	created := 0
	err := r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		batch := &pgx.Batch{}
		for _, d := range deliveries {
			if d.QueueID != queueID {
				return fmt.Errorf("delivery for queue %d passed to queue %d", d.QueueID, queueID)
			}
			cols, args, err := r.args(d)
			if err != nil {
				return err
			}
			placeholders := make([]string, len(cols))
			for n := range cols {
				placeholders[n] = fmt.Sprintf("$%d", n+1)
			}
			batch.Queue(fmt.Sprintf(
				"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (queue_id, mapping_id) DO NOTHING",
				r.t.name, strings.Join(cols, ", "), strings.Join(placeholders, ", ")), args...)
		}
		if batch.Len() == 0 {
			return nil
		}

		br := r.db(ctx).SendBatch(ctx, batch)
		for range deliveries {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return fmt.Errorf("insert rate delivery: %w", err)
			}
			created += int(tag.RowsAffected())
		}
		return br.Close()
	})
	if err != nil {
		return nil, 0, err
	}

	all, err := r.ListByQueue(ctx, queueID)
	if err != nil {
		return nil, 0, err
	}
	return all, created, nil
}

// ListByQueue returns the deliveries of one rate push ordered by mapping.
func (r *RateDeliveryRepository) ListByQueue(ctx context.Context, queueID int64) ([]*queue.RateDelivery, error) {
	rows, err := r.db(ctx).Query(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE queue_id = $1 ORDER BY mapping_id ASC", r.selectColumns(), r.t.name),
		queueID,
	)
	if err != nil {
		return nil, fmt.Errorf("list rate deliveries: %w", err)
	}
	return r.collect(rows)
}

// Summary counts the deliveries of one rate push per status.
func (r *RateDeliveryRepository) Summary(ctx context.Context, queueID int64) (map[queue.Status]int, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT status, COUNT(*) FROM rate_delivery_queue WHERE queue_id = $1 GROUP BY status`, queueID)
	if err != nil {
		return nil, fmt.Errorf("summarize rate deliveries: %w", err)
	}
	defer rows.Close()

	out := make(map[queue.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan delivery summary: %w", err)
		}
		out[queue.Status(status)] = n
	}
	return out, rows.Err()
}
