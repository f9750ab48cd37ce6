package postgres

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/link"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventRepository reads the calendar event fields the sync engine needs.
// The table is owned by the host application.
type EventRepository struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

func (r *EventRepository) Get(ctx context.Context, id int64) (*link.Event, error) {
	e := &link.Event{}
	var state, origin string
	err := ConnFromCtx(ctx, r.pool).QueryRow(ctx,
		`SELECT id, state, origin FROM calendar_events WHERE id = $1`, id,
	).Scan(&e.ID, &state, &origin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	e.State = link.EventState(state)
	e.Origin = link.Origin(origin)
	return e, nil
}

// ImportRemoteBooking records a booking that was first created on the remote
// side as a local OTA event and returns its id.
func (r *EventRepository) ImportRemoteBooking(ctx context.Context, mappingID int64, rb link.RemoteBooking) (int64, error) {
	state := link.EventConfirmed
	if rb.Cancelled() {
		state = link.EventCancelled
	}
	var id int64
	err := ConnFromCtx(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO calendar_events (state, origin) VALUES ($1, $2) RETURNING id`,
		string(state), string(link.OriginOTA),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("import remote booking %s for mapping %d: %w", rb.ID, mappingID, err)
	}
	return id, nil
}
