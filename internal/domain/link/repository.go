package link

import "context"

// Repository defines the interface for link persistence
type Repository interface {
	// Create inserts a link. Returns ErrLinkExists for a duplicate
	// (event, mapping) pair and ErrDuplicateRemote for a reused remote id.
	Create(ctx context.Context, l *Link) error

	// Get retrieves a link by ID
	Get(ctx context.Context, id int64) (*Link, error)

	// GetByRemoteID retrieves the link bound to a remote booking id
	GetByRemoteID(ctx context.Context, remoteID string) (*Link, error)

	// GetByEventMapping retrieves the link of an event for one mapping
	GetByEventMapping(ctx context.Context, eventID, mappingID int64) (*Link, error)

	// ListByEvent lists every link of an event, roots first
	ListByEvent(ctx context.Context, eventID int64) ([]*Link, error)

	// Update writes status, remote id and timestamps back
	Update(ctx context.Context, l *Link) error

	// Delete physically removes a link
	Delete(ctx context.Context, id int64) error
}
