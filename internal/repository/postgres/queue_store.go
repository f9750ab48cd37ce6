package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// itemColumns are shared by every queue table, in scan order.
var itemColumns = []string{
	"id", "endpoint_id", "credential_id", "priority",
	"status", "needs_sync", "run_at", "next_retry_at",
	"locked_by", "locked_at", "processing_started_at",
	"retry_count", "max_attempts", "failed_reason", "last_message", "last_http_code",
	"dedupe_key", "payload_hash", "last_request", "last_response", "execution_result", "last_sync",
	"created_at", "updated_at",
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// table describes the kind-specific half of a queue table.
type table[T queue.Record] struct {
	name    string
	kind    queue.Kind
	columns []string
	// newRecord returns an empty record to scan into
	newRecord func() T
	// fields returns scan destinations for columns
	fields func(T) []any
	// values returns insert/update arguments for columns
	values func(T) ([]any, error)
}

// QueueStore implements queue.Store for one queue table.
type QueueStore[T queue.Record] struct {
	pool *pgxpool.Pool
	tx   *TxManager
	t    table[T]
}

func newQueueStore[T queue.Record](pool *pgxpool.Pool, t table[T]) *QueueStore[T] {
	return &QueueStore[T]{pool: pool, tx: NewTxManager(pool), t: t}
}

func (s *QueueStore[T]) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, s.pool)
}

func (s *QueueStore[T]) Kind() queue.Kind {
	return s.t.kind
}

func (s *QueueStore[T]) selectColumns() string {
	cols := make([]string, 0, len(itemColumns)+len(s.t.columns))
	cols = append(cols, itemColumns...)
	cols = append(cols, s.t.columns...)
	return strings.Join(cols, ", ")
}

func (s *QueueStore[T]) scan(row scanner) (T, error) {
	rec := s.t.newRecord()
	i := rec.Core()
	var status string
	result := jsonColumn{dst: &i.ExecutionResult}
	dest := []any{
		&i.ID, &i.EndpointID, &i.CredentialID, &i.Priority,
		&status, &i.NeedsSync, &i.RunAt, &i.NextRetryAt,
		&i.LockedBy, &i.LockedAt, &i.ProcessingStartedAt,
		&i.RetryCount, &i.MaxAttempts, &i.FailedReason, &i.LastMessage, &i.LastHTTPCode,
		&i.DedupeKey, &i.PayloadHash, &i.LastRequest, &i.LastResponse, &result, &i.LastSync,
		&i.CreatedAt, &i.UpdatedAt,
	}
	dest = append(dest, s.t.fields(rec)...)
	if err := row.Scan(dest...); err != nil {
		var zero T
		return zero, err
	}
	i.Kind = s.t.kind
	i.Status = queue.Status(status)
	return rec, nil
}

func (s *QueueStore[T]) collect(rows pgx.Rows) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		rec, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.t.name, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// mutableValues returns every item column except id, in itemColumns order.
func mutableValues(i *queue.Item) ([]any, error) {
	result, err := marshalJSON(i.ExecutionResult)
	if err != nil {
		return nil, fmt.Errorf("marshal execution result: %w", err)
	}
	return []any{
		i.EndpointID, i.CredentialID, i.Priority,
		string(i.Status), i.NeedsSync, i.RunAt, i.NextRetryAt,
		i.LockedBy, i.LockedAt, i.ProcessingStartedAt,
		i.RetryCount, i.MaxAttempts, i.FailedReason, i.LastMessage, i.LastHTTPCode,
		i.DedupeKey, i.PayloadHash, i.LastRequest, i.LastResponse, result, i.LastSync,
		i.CreatedAt, i.UpdatedAt,
	}, nil
}

func (s *QueueStore[T]) args(rec T) ([]string, []any, error) {
	common, err := mutableValues(rec.Core())
	if err != nil {
		return nil, nil, err
	}
	extra, err := s.t.values(rec)
	if err != nil {
		return nil, nil, err
	}
	cols := append(append([]string{}, itemColumns[1:]...), s.t.columns...)
	return cols, append(common, extra...), nil
}

// Insert persists a new item and assigns its ID.
func (s *QueueStore[T]) Insert(ctx context.Context, rec T) error {
	cols, args, err := s.args(rec)
	if err != nil {
		return err
	}
	placeholders := make([]string, len(cols))
	for n := range cols {
		placeholders[n] = fmt.Sprintf("$%d", n+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		s.t.name, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if err := s.db(ctx).QueryRow(ctx, query, args...).Scan(&rec.Core().ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%s: %w", s.t.name, domainErrors.ErrDuplicateDedupeKey)
		}
		return fmt.Errorf("insert %s: %w", s.t.name, err)
	}
	return nil
}

// Get retrieves an item by ID.
func (s *QueueStore[T]) Get(ctx context.Context, id int64) (T, error) {
	rec, err := s.scan(s.db(ctx).QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", s.selectColumns(), s.t.name), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, fmt.Errorf("%s %d: %w", s.t.name, id, domainErrors.ErrItemNotFound)
		}
		return rec, fmt.Errorf("get %s: %w", s.t.name, err)
	}
	return rec, nil
}

// Claim locks up to limit due rows with FOR UPDATE SKIP LOCKED, applies
// MarkProcessing to each and writes the lock columns back in the same
// transaction. Concurrent claimers never receive the same row.
func (s *QueueStore[T]) Claim(ctx context.Context, workerID string, now time.Time, limit int, ids []int64) ([]T, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE needs_sync AND status IN ('pending', 'failed') AND locked_by IS NULL
		  AND (run_at IS NULL OR run_at <= $1)`, s.selectColumns(), s.t.name)
	args := []any{now, limit}
	if len(ids) > 0 {
		query += " AND id = ANY($3)"
		args = append(args, ids)
	}
	query += " ORDER BY priority DESC, id ASC LIMIT $2 FOR UPDATE SKIP LOCKED"

	var claimed []T
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		rows, err := s.db(ctx).Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("select due %s: %w", s.t.name, err)
		}
		candidates, err := s.collect(rows)
		if err != nil {
			return err
		}

		lockedIDs := make([]int64, 0, len(candidates))
		for _, rec := range candidates {
			if err := rec.MarkProcessing(workerID, now); err != nil {
				continue
			}
			lockedIDs = append(lockedIDs, rec.Core().ID)
			claimed = append(claimed, rec)
		}
		if len(lockedIDs) == 0 {
			return nil
		}

		_, err = s.db(ctx).Exec(ctx, fmt.Sprintf(`UPDATE %s SET
			status = 'processing', locked_by = $1, locked_at = $2,
			processing_started_at = $2, updated_at = $2
			WHERE id = ANY($3)`, s.t.name),
			workerID, now.Truncate(time.Microsecond), lockedIDs,
		)
		if err != nil {
			return fmt.Errorf("lock %s: %w", s.t.name, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Save writes rec back only if the stored row still has guard's status, lock
// owner and lock time. A lost race returns ErrLockLost.
func (s *QueueStore[T]) Save(ctx context.Context, rec T, guard queue.Guard) error {
	cols, args, err := s.args(rec)
	if err != nil {
		return err
	}
	sets := make([]string, len(cols))
	for n, col := range cols {
		sets[n] = fmt.Sprintf("%s = $%d", col, n+1)
	}
	next := len(args) + 1
	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = $%d AND status = $%d"+
			" AND locked_by IS NOT DISTINCT FROM $%d AND locked_at IS NOT DISTINCT FROM $%d",
		s.t.name, strings.Join(sets, ", "), next, next+1, next+2, next+3)
	args = append(args, rec.Core().ID, string(guard.Status), guard.LockedBy, guard.LockedAt)

	tag, err := s.db(ctx).Exec(ctx, query, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%s: %w", s.t.name, domainErrors.ErrDuplicateDedupeKey)
		}
		return fmt.Errorf("save %s: %w", s.t.name, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = s.db(ctx).QueryRow(ctx,
		fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", s.t.name), rec.Core().ID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check %s: %w", s.t.name, err)
	}
	if !exists {
		return fmt.Errorf("%s %d: %w", s.t.name, rec.Core().ID, domainErrors.ErrItemNotFound)
	}
	return fmt.Errorf("%s %d: %w", s.t.name, rec.Core().ID, domainErrors.ErrLockLost)
}

// FindStale returns processing items whose processing marker is older than cutoff.
func (s *QueueStore[T]) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]T, error) {
	rows, err := s.db(ctx).Query(ctx, fmt.Sprintf(`SELECT %s FROM %s
		WHERE status = 'processing' AND processing_started_at < $1
		ORDER BY processing_started_at ASC LIMIT $2`, s.selectColumns(), s.t.name),
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("find stale %s: %w", s.t.name, err)
	}
	return s.collect(rows)
}

// FindByDedupeKey returns the most recent non-cancelled item for key.
func (s *QueueStore[T]) FindByDedupeKey(ctx context.Context, key string) (T, bool, error) {
	rec, err := s.scan(s.db(ctx).QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s
		WHERE dedupe_key = $1 AND status <> 'cancelled'
		ORDER BY id DESC LIMIT 1`, s.selectColumns(), s.t.name), key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, false, nil
		}
		return rec, false, fmt.Errorf("find %s by dedupe key: %w", s.t.name, err)
	}
	return rec, true, nil
}

// GroupingMetadata returns the credential/endpoint pair for each id in one query.
func (s *QueueStore[T]) GroupingMetadata(ctx context.Context, ids []int64) (map[int64]queue.GroupKey, error) {
	out := make(map[int64]queue.GroupKey, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db(ctx).Query(ctx,
		fmt.Sprintf("SELECT id, credential_id, endpoint_id FROM %s WHERE id = ANY($1)", s.t.name), ids)
	if err != nil {
		return nil, fmt.Errorf("grouping metadata %s: %w", s.t.name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var key queue.GroupKey
		if err := rows.Scan(&id, &key.CredentialID, &key.EndpointID); err != nil {
			return nil, fmt.Errorf("scan grouping metadata: %w", err)
		}
		out[id] = key
	}
	return out, rows.Err()
}

// List lists items with optional filters, newest first.
func (s *QueueStore[T]) List(ctx context.Context, f queue.ListFilter) ([]T, error) {
	return s.list(ctx, f, "", nil)
}

// list runs List with an extra kind-specific condition on column.
func (s *QueueStore[T]) list(ctx context.Context, f queue.ListFilter, column string, value any) ([]T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1", s.selectColumns(), s.t.name)
	args := []any{}
	argIdx := 1

	if column != "" {
		query += fmt.Sprintf(" AND %s = $%d", column, argIdx)
		args = append(args, value)
		argIdx++
	}
	if f.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(*f.Status))
		argIdx++
	}
	if f.Reason != nil {
		query += fmt.Sprintf(" AND failed_reason = $%d", argIdx)
		args = append(args, *f.Reason)
		argIdx++
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := s.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.t.name, err)
	}
	return s.collect(rows)
}

// jsonColumn scans a nullable jsonb column into a map.
type jsonColumn struct {
	dst *map[string]any
}

func (c jsonColumn) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*c.dst = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb source %T", src)
	}
	if len(raw) == 0 {
		*c.dst = nil
		return nil
	}
	return json.Unmarshal(raw, c.dst)
}

func marshalJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
