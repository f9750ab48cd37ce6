package queue

import (
	"context"
	"fmt"
	"time"
)

// Store defines the persistence contract shared by all queue tables.
type Store[T Record] interface {
	// Kind identifies the table behind the store
	Kind() Kind

	// Insert persists a new item and assigns its ID
	Insert(ctx context.Context, rec T) error

	// Get retrieves an item by ID
	Get(ctx context.Context, id int64) (T, error)

	// Claim atomically moves up to limit due, unlocked items to processing on
	// behalf of workerID. When ids is non-empty only those items are considered.
	Claim(ctx context.Context, workerID string, now time.Time, limit int, ids []int64) ([]T, error)

	// Save writes the item back if the stored row still matches guard
	Save(ctx context.Context, rec T, guard Guard) error

	// FindStale returns processing items whose processing marker is older than cutoff
	FindStale(ctx context.Context, cutoff time.Time, limit int) ([]T, error)

	// FindByDedupeKey returns the most recent non-cancelled item for key
	FindByDedupeKey(ctx context.Context, key string) (T, bool, error)

	// GroupingMetadata returns the credential/endpoint pair for each id in one query
	GroupingMetadata(ctx context.Context, ids []int64) (map[int64]GroupKey, error)

	// List lists items with filters
	List(ctx context.Context, filter ListFilter) ([]T, error)
}

// Guard is the optimistic precondition for Save: the row must still have the
// given status, lock owner and lock time (nil meaning unlocked). The lock time
// fences a worker whose claim was reclaimed and then re-claimed under the same
// owner.
type Guard struct {
	Status   Status
	LockedBy *string
	LockedAt *time.Time
}

// GuardOf captures the current state of an item before it is mutated.
func GuardOf(i *Item) Guard {
	g := Guard{Status: i.Status}
	if i.LockedBy != nil {
		owner := *i.LockedBy
		g.LockedBy = &owner
	}
	if i.LockedAt != nil {
		at := *i.LockedAt
		g.LockedAt = &at
	}
	return g
}

// GroupKey is the (credential set, endpoint) pair an item must be sent under.
type GroupKey struct {
	CredentialID int64
	EndpointID   int64
}

func (k GroupKey) String() string {
	return fmt.Sprintf("%d:%d", k.CredentialID, k.EndpointID)
}

// ListFilter defines filters for listing queue items
type ListFilter struct {
	Status *Status
	Reason *string
	Limit  int
	Offset int
}
