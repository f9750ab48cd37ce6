package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/webhook"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const auditColumns = `id, received_at, event_type, remote_addr, headers, payload_raw,
	payload_parsed, status, error_message, metadata`

// WebhookAuditRepository implements webhook.Repository using PostgreSQL.
// payload_raw is bytea so that any byte sequence can be stored.
type WebhookAuditRepository struct {
	pool *pgxpool.Pool
}

func NewWebhookAuditRepository(pool *pgxpool.Pool) *WebhookAuditRepository {
	return &WebhookAuditRepository{pool: pool}
}

func (r *WebhookAuditRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Insert never refuses a record over its parsed payload: when jsonb rejects
// it (a \u0000 escape, for one) the row is stored without it and the reason
// lands in metadata.
func (r *WebhookAuditRepository) Insert(ctx context.Context, rec *webhook.AuditRecord) error {
	err := r.insert(ctx, rec)
	var pgErr *pgconn.PgError
	if err == nil || rec.PayloadParsed == nil || !errors.As(err, &pgErr) || !isDataException(pgErr) {
		return err
	}

	rec.PayloadParsed = nil
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	rec.Metadata["parsed_dropped"] = pgErr.Message
	return r.insert(ctx, rec)
}

func (r *WebhookAuditRepository) insert(ctx context.Context, rec *webhook.AuditRecord) error {
	headers, err := json.Marshal(rec.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	parsed, err := marshalJSON(rec.PayloadParsed)
	if err != nil {
		return fmt.Errorf("marshal parsed payload: %w", err)
	}
	metadata, err := marshalJSON(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	err = r.db(ctx).QueryRow(ctx,
		`INSERT INTO webhook_audit
		 (received_at, event_type, remote_addr, headers, payload_raw, payload_parsed, status, error_message, metadata)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		rec.ReceivedAt, rec.EventType, rec.RemoteAddr, headers, []byte(rec.PayloadRaw), parsed,
		string(rec.Status), rec.ErrorMessage, metadata,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert webhook audit: %w", err)
	}
	return nil
}

// isDataException reports SQLSTATE class 22, which covers values jsonb
// cannot represent.
func isDataException(err *pgconn.PgError) bool {
	return len(err.Code) == 5 && err.Code[:2] == "22"
}

func (r *WebhookAuditRepository) Get(ctx context.Context, id int64) (*webhook.AuditRecord, error) {
	return r.scanRecord(r.db(ctx).QueryRow(ctx,
		`SELECT `+auditColumns+` FROM webhook_audit WHERE id = $1`, id))
}

// UpdateOutcome writes status, error message and metadata.
func (r *WebhookAuditRepository) UpdateOutcome(ctx context.Context, rec *webhook.AuditRecord) error {
	metadata, err := marshalJSON(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE webhook_audit SET status=$1, error_message=$2, metadata=$3 WHERE id=$4`,
		string(rec.Status), rec.ErrorMessage, metadata, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update webhook audit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrAuditRecordNotFound
	}
	return nil
}

// List lists records, newest first.
func (r *WebhookAuditRepository) List(ctx context.Context, f webhook.ListFilter) ([]*webhook.AuditRecord, error) {
	query := `SELECT ` + auditColumns + ` FROM webhook_audit WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(*f.Status))
		argIdx++
	}
	if f.EventType != nil {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, *f.EventType)
		argIdx++
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list webhook audit: %w", err)
	}
	defer rows.Close()

	var out []*webhook.AuditRecord
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *WebhookAuditRepository) scanRecord(row scanner) (*webhook.AuditRecord, error) {
	rec := &webhook.AuditRecord{}
	var (
		headers []byte
		raw     []byte
		status  string
	)
	err := row.Scan(
		&rec.ID, &rec.ReceivedAt, &rec.EventType, &rec.RemoteAddr, &headers, &raw,
		jsonColumn{dst: &rec.PayloadParsed}, &status, &rec.ErrorMessage, jsonColumn{dst: &rec.Metadata},
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrAuditRecordNotFound
		}
		return nil, fmt.Errorf("scan webhook audit: %w", err)
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &rec.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal headers: %w", err)
		}
	}
	rec.PayloadRaw = string(raw)
	rec.Status = webhook.Status(status)
	return rec, nil
}
