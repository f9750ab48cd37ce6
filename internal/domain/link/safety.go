package link

import (
	"github.com/cassiomorais/channelsync/internal/domain/queue"
)

// ItemState is the part of a queue item the link checks look at.
type ItemState struct {
	Status queue.Status
	Locked bool
}

func StateOf(i *queue.Item) ItemState {
	return ItemState{Status: i.Status, Locked: i.IsLocked()}
}

// Reasons a link deletion is refused.
const (
	RefusedOTAEvent      = "ota_event"
	RefusedEventState    = "event_state_not_deletable"
	RefusedInFlight      = "queue_item_in_flight"
	RefusedPendingRemote = "pending_remote_change"
)

// Decision is the outcome of a deletion safety check.
type Decision struct {
	Safe   bool
	Reason string
}

// IsSafeToDelete decides whether a link may be removed given the owning event
// and the queue items that target the link.
//
// A pending item blocks deletion only when the link already has a remote id:
// without one it is an aborted create that never reached the remote side.
// This differs from SyncStatus on purpose.
func IsSafeToDelete(event Event, l *Link, items []ItemState) Decision {
	if event.Origin == OriginOTA {
		return Decision{Reason: RefusedOTAEvent}
	}
	if l.HasRemoteID() && !event.IsDeletableState() {
		return Decision{Reason: RefusedEventState}
	}
	for _, it := range items {
		if it.Status == queue.StatusProcessing || it.Locked {
			return Decision{Reason: RefusedInFlight}
		}
	}
	if l.HasRemoteID() {
		for _, it := range items {
			if it.Status == queue.StatusPending {
				return Decision{Reason: RefusedPendingRemote}
			}
		}
	}
	return Decision{Safe: true}
}

// SyncState summarizes how far an event is synchronized with the remote side
type SyncState string

const (
	SyncLocal   SyncState = "local"
	SyncError   SyncState = "error"
	SyncPending SyncState = "pending"
	SyncSynced  SyncState = "synced"
)

// SyncStatus reports the state of an event from its links and every queue
// item attached to them. Pending items count whether or not a remote id exists.
func SyncStatus(links []*Link, items []ItemState) SyncState {
	if len(links) == 0 {
		return SyncLocal
	}
	pending := false
	for _, it := range items {
		switch it.Status {
		case queue.StatusFailed:
			return SyncError
		case queue.StatusPending, queue.StatusProcessing:
			pending = true
		}
	}
	if pending {
		return SyncPending
	}
	return SyncSynced
}
