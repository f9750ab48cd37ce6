package channel

import "context"

// Mapping binds one local unit to one remote room under one credential set.
type Mapping struct {
	ID               int64
	UnitID           int64
	CredentialID     int64
	RemotePropertyID string
	RemoteRoomID     string
	Active           bool
}

// MappingRepository defines the interface for unit mapping lookups
type MappingRepository interface {
	// Get retrieves a mapping by ID
	Get(ctx context.Context, id int64) (*Mapping, error)

	// ListActiveByUnit lists the active destinations of a unit
	ListActiveByUnit(ctx context.Context, unitID int64) ([]*Mapping, error)

	// ListActive lists every active mapping
	ListActive(ctx context.Context) ([]*Mapping, error)
}
