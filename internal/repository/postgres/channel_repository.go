package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cassiomorais/channelsync/internal/domain/channel"
	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CredentialRepository implements channel.CredentialRepository using PostgreSQL.
type CredentialRepository struct {
	pool *pgxpool.Pool
}

func NewCredentialRepository(pool *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{pool: pool}
}

func (r *CredentialRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *CredentialRepository) Get(ctx context.Context, id int64) (*channel.Credential, error) {
	c := &channel.Credential{}
	err := r.db(ctx).QueryRow(ctx,
		`SELECT id, name, client_id, client_secret, token_url, access_token, refresh_token, expires_at, updated_at
		 FROM channel_credentials WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.ClientID, &c.ClientSecret, &c.TokenURL, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

// SaveTokens persists a rotated token pair.
func (r *CredentialRepository) SaveTokens(ctx context.Context, c *channel.Credential) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE channel_credentials SET access_token=$1, refresh_token=$2, expires_at=$3, updated_at=$4
		 WHERE id=$5`,
		c.AccessToken, c.RefreshToken, c.ExpiresAt, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("save credential tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrCredentialNotFound
	}
	return nil
}

// MappingRepository implements channel.MappingRepository using PostgreSQL.
type MappingRepository struct {
	pool *pgxpool.Pool
}

func NewMappingRepository(pool *pgxpool.Pool) *MappingRepository {
	return &MappingRepository{pool: pool}
}

func (r *MappingRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

const mappingColumns = `id, unit_id, credential_id, remote_property_id, remote_room_id, active`

func (r *MappingRepository) Get(ctx context.Context, id int64) (*channel.Mapping, error) {
	m, err := scanMapping(r.db(ctx).QueryRow(ctx,
		`SELECT `+mappingColumns+` FROM unit_mappings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrMappingNotFound
		}
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	return m, nil
}

// ListActiveByUnit lists the active destinations of a unit.
func (r *MappingRepository) ListActiveByUnit(ctx context.Context, unitID int64) ([]*channel.Mapping, error) {
	return r.list(ctx, `SELECT `+mappingColumns+` FROM unit_mappings
		WHERE unit_id = $1 AND active ORDER BY id`, unitID)
}

// ListActive lists every active mapping.
func (r *MappingRepository) ListActive(ctx context.Context) ([]*channel.Mapping, error) {
	return r.list(ctx, `SELECT `+mappingColumns+` FROM unit_mappings WHERE active ORDER BY id`)
}

func (r *MappingRepository) list(ctx context.Context, query string, args ...any) ([]*channel.Mapping, error) {
	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var out []*channel.Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMapping(row scanner) (*channel.Mapping, error) {
	m := &channel.Mapping{}
	err := row.Scan(&m.ID, &m.UnitID, &m.CredentialID, &m.RemotePropertyID, &m.RemoteRoomID, &m.Active)
	return m, err
}
