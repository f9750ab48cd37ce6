package link

import (
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/errors"
)

// Status represents the lifecycle state of a remote link
type Status string

const (
	StatusActive        Status = "active"
	StatusDetached      Status = "detached"
	StatusPendingDelete Status = "pending_delete"
	StatusPendingMove   Status = "pending_move"
	StatusSyncedDeleted Status = "synced_deleted"
)

// Link associates one local event with one remote booking through one unit
// mapping. A nil OriginLinkID marks a root link.
type Link struct {
	ID              int64
	EventID         int64
	MappingID       int64
	RemoteBookingID *string
	OriginLinkID    *int64
	Status          Status
	DeactivatedAt   *time.Time
	LastSeenAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func NewRootLink(eventID, mappingID int64, now time.Time) (*Link, error) {
	if eventID <= 0 {
		return nil, errors.NewValidationError("event_id", "must be positive")
	}
	if mappingID <= 0 {
		return nil, errors.NewValidationError("mapping_id", "must be positive")
	}
	return &Link{
		EventID:   eventID,
		MappingID: mappingID,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsMirror is the only place mirror-ness is decided.
func (l *Link) IsMirror() bool {
	return l.OriginLinkID != nil
}

func (l *Link) HasRemoteID() bool {
	return l.RemoteBookingID != nil && *l.RemoteBookingID != ""
}

func (l *Link) IsActive() bool {
	return l.Status == StatusActive
}

// AttachRemoteID records the identifier the remote side assigned. Attaching
// the same id twice is a no-op; replacing a different id is refused.
func (l *Link) AttachRemoteID(remoteID string, now time.Time) error {
	if remoteID == "" {
		return errors.NewValidationError("remote_booking_id", "cannot be empty")
	}
	if l.HasRemoteID() {
		if *l.RemoteBookingID == remoteID {
			return nil
		}
		return errors.NewDomainError(
			"remote_id_conflict",
			"link already bound to remote booking "+*l.RemoteBookingID,
			errors.ErrDuplicateRemote,
		)
	}
	l.RemoteBookingID = &remoteID
	l.Touch(now)
	return nil
}

// Touch records that the remote side reported the booking at now.
func (l *Link) Touch(now time.Time) {
	seen := now
	l.LastSeenAt = &seen
	l.UpdatedAt = now
}

// Retire moves the link out of active state. Links are never reactivated;
// a new link is created instead.
func (l *Link) Retire(status Status, now time.Time) error {
	switch status {
	case StatusDetached, StatusPendingDelete, StatusPendingMove, StatusSyncedDeleted:
	default:
		return errors.NewValidationError("status", "not a retirement status: "+string(status))
	}
	if l.Status == StatusSyncedDeleted && status != StatusSyncedDeleted {
		return errors.NewDomainError(
			"invalid_transition",
			"remote booking already deleted",
			errors.ErrInvalidStateTransition,
		)
	}
	l.Status = status
	if l.DeactivatedAt == nil {
		at := now
		l.DeactivatedAt = &at
	}
	l.UpdatedAt = now
	return nil
}

// EventState is the domain state of the owning local calendar event
type EventState string

const (
	EventConfirmed EventState = "confirmed"
	EventTentative EventState = "tentative"
	EventCancelled EventState = "cancelled"
	EventBlocked   EventState = "blocked"
)

// Origin tells where the event was first created.
type Origin string

const (
	OriginLocal Origin = "local"
	OriginOTA   Origin = "ota"
)

// Event is the read model of a local calendar event.
type Event struct {
	ID     int64
	State  EventState
	Origin Origin
}

var deletableStates = map[EventState]bool{
	EventCancelled: true,
	EventBlocked:   true,
}

// IsDeletableState reports whether an event in this state may lose its remote booking.
func (e Event) IsDeletableState() bool {
	return deletableStates[e.State]
}
