package postgres

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/link"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	linkColumns = `id, event_id, mapping_id, remote_booking_id, origin_link_id, status,
		deactivated_at, last_seen_at, created_at, updated_at`

	uniqueLinkEventMapping = "uq_links_event_mapping"
	uniqueLinkRemoteID     = "uq_links_remote_booking"
)

// LinkRepository implements link.Repository using PostgreSQL.
type LinkRepository struct {
	pool *pgxpool.Pool
}

func NewLinkRepository(pool *pgxpool.Pool) *LinkRepository {
	return &LinkRepository{pool: pool}
}

func (r *LinkRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Create inserts a link and assigns its ID.
func (r *LinkRepository) Create(ctx context.Context, l *link.Link) error {
	err := r.db(ctx).QueryRow(ctx,
		`INSERT INTO event_remote_links
		 (event_id, mapping_id, remote_booking_id, origin_link_id, status,
		  deactivated_at, last_seen_at, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		l.EventID, l.MappingID, l.RemoteBookingID, l.OriginLinkID, string(l.Status),
		l.DeactivatedAt, l.LastSeenAt, l.CreatedAt, l.UpdatedAt,
	).Scan(&l.ID)
	if err != nil {
		return linkWriteError("insert link", err)
	}
	return nil
}

func (r *LinkRepository) Get(ctx context.Context, id int64) (*link.Link, error) {
	return r.scanLink(r.db(ctx).QueryRow(ctx,
		`SELECT `+linkColumns+` FROM event_remote_links WHERE id = $1`, id))
}

func (r *LinkRepository) GetByRemoteID(ctx context.Context, remoteID string) (*link.Link, error) {
	return r.scanLink(r.db(ctx).QueryRow(ctx,
		`SELECT `+linkColumns+` FROM event_remote_links WHERE remote_booking_id = $1`, remoteID))
}

func (r *LinkRepository) GetByEventMapping(ctx context.Context, eventID, mappingID int64) (*link.Link, error) {
	return r.scanLink(r.db(ctx).QueryRow(ctx,
		`SELECT `+linkColumns+` FROM event_remote_links WHERE event_id = $1 AND mapping_id = $2`,
		eventID, mappingID))
}

// ListByEvent lists every link of an event, roots first.
func (r *LinkRepository) ListByEvent(ctx context.Context, eventID int64) ([]*link.Link, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+linkColumns+` FROM event_remote_links WHERE event_id = $1
		 ORDER BY (origin_link_id IS NOT NULL), id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var links []*link.Link
	for rows.Next() {
		l, err := r.scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// Update writes status, remote id and timestamps back.
func (r *LinkRepository) Update(ctx context.Context, l *link.Link) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE event_remote_links SET
		  remote_booking_id=$1, status=$2, deactivated_at=$3, last_seen_at=$4, updated_at=$5
		 WHERE id=$6`,
		l.RemoteBookingID, string(l.Status), l.DeactivatedAt, l.LastSeenAt, l.UpdatedAt, l.ID,
	)
	if err != nil {
		return linkWriteError("update link", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrLinkNotFound
	}
	return nil
}

// Delete physically removes a link.
func (r *LinkRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db(ctx).Exec(ctx, `DELETE FROM event_remote_links WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrLinkNotFound
	}
	return nil
}

func (r *LinkRepository) scanLink(row scanner) (*link.Link, error) {
	l := &link.Link{}
	var status string
	err := row.Scan(
		&l.ID, &l.EventID, &l.MappingID, &l.RemoteBookingID, &l.OriginLinkID, &status,
		&l.DeactivatedAt, &l.LastSeenAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrLinkNotFound
		}
		return nil, fmt.Errorf("scan link: %w", err)
	}
	l.Status = link.Status(status)
	return l, nil
}

func linkWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == uniqueLinkRemoteID {
			return domainErrors.ErrDuplicateRemote
		}
		return domainErrors.ErrLinkExists
	}
	return fmt.Errorf("%s: %w", op, err)
}
