package queue

import (
	"fmt"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/errors"
)

// Status represents the queue item status in the state machine
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// DefaultMaxAttempts is used when an item is created without an explicit budget.
const DefaultMaxAttempts = 5

// Stable failure reason codes. The human-readable text goes to LastMessage.
const (
	ReasonTimeout                = "timeout"
	ReasonTransport              = "transport_error"
	ReasonHTTP5xx                = "http_5xx"
	ReasonCircuitOpen            = "circuit_open"
	ReasonRateLimited            = "rate_limited"
	ReasonRemoteRejected         = "remote_rejected"
	ReasonValidation             = "validation_error"
	ReasonInvalidResponse        = "invalid_response"
	ReasonConfig                 = "config_error"
	ReasonCredentialUnresolvable = "credential_unresolvable"
	ReasonInternal               = "internal_error"
	ReasonWatchdogTimeout        = "watchdog_timeout"
)

// Item is the state shared by every kind of durable synchronization work.
// Concrete kinds embed it and pick up the state machine through embedding.
type Item struct {
	ID           int64
	Kind         Kind
	EndpointID   int64
	CredentialID int64
	Priority     int

	Status      Status
	NeedsSync   bool
	RunAt       *time.Time
	NextRetryAt *time.Time

	LockedBy            *string
	LockedAt            *time.Time
	ProcessingStartedAt *time.Time

	RetryCount   int
	MaxAttempts  int
	FailedReason *string
	LastMessage  *string
	LastHTTPCode *int

	DedupeKey   *string
	PayloadHash *string

	LastRequest     *string
	LastResponse    *string
	ExecutionResult map[string]any
	LastSync        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Failure describes the outcome of a failed attempt. The caller owns the
// backoff decision; the item only records it.
type Failure struct {
	Message     string
	HTTPCode    *int
	NextRetryAt time.Time
	Reason      string
}

func newItem(kind Kind, endpointID, credentialID int64, now time.Time) Item {
	runAt := now
	return Item{
		Kind:         kind,
		EndpointID:   endpointID,
		CredentialID: credentialID,
		Status:       StatusPending,
		NeedsSync:    true,
		RunAt:        &runAt,
		MaxAttempts:  DefaultMaxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Core gives kind-agnostic code access to the shared state.
func (i *Item) Core() *Item {
	return i
}

// CanRunNow reports whether the item is eligible to be claimed at now.
func (i *Item) CanRunNow(now time.Time) bool {
	if !i.NeedsSync || i.Status == StatusProcessing {
		return false
	}
	return i.RunAt == nil || !i.RunAt.After(now)
}

// CanTransitionTo checks if the item can transition to the given status
func (i *Item) CanTransitionTo(newStatus Status) bool {
	transitions := map[Status][]Status{
		StatusPending: {
			StatusProcessing,
			StatusCancelled,
		},
		StatusProcessing: {
			StatusSuccess,
			StatusFailed,
		},
		StatusFailed: {
			StatusProcessing, // Retry
			StatusPending,    // Requeue or superseded payload
		},
		StatusSuccess: {
			StatusPending, // New change for the same dedupe key
		},
		StatusCancelled: {}, // Terminal state
	}

	for _, allowed := range transitions[i.Status] {
		if allowed == newStatus {
			return true
		}
	}
	return false
}

func (i *Item) transitionTo(newStatus Status, now time.Time) error {
	if !i.CanTransitionTo(newStatus) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition from "+string(i.Status)+" to "+string(newStatus),
			errors.ErrInvalidStateTransition,
		)
	}
	i.Status = newStatus
	i.UpdatedAt = now
	return nil
}

// MarkProcessing records a claim by workerID. It must only be applied while
// the caller holds an exclusive claim on the underlying row.
func (i *Item) MarkProcessing(workerID string, now time.Time) error {
	if workerID == "" {
		return errors.NewValidationError("worker_id", "cannot be empty")
	}
	if !i.CanRunNow(now) {
		return errors.ErrItemNotDue
	}
	if err := i.transitionTo(StatusProcessing, now); err != nil {
		return err
	}
	// Stored timestamps keep microseconds; the lock time must compare equal
	// after a round trip.
	lockedAt := now.Truncate(time.Microsecond)
	i.LockedBy = &workerID
	i.LockedAt = &lockedAt
	i.ProcessingStartedAt = &lockedAt
	return nil
}

// MarkSuccess completes the item and resets its retry accounting.
func (i *Item) MarkSuccess(now time.Time) error {
	if err := i.transitionTo(StatusSuccess, now); err != nil {
		return err
	}
	i.clearLock()
	i.RetryCount = 0
	i.FailedReason = nil
	i.LastMessage = nil
	i.NextRetryAt = nil
	i.NeedsSync = false
	syncedAt := now
	i.LastSync = &syncedAt
	return nil
}

// MarkFailure records a failed attempt and re-arms the item at f.NextRetryAt,
// unless the attempt budget is spent.
func (i *Item) MarkFailure(now time.Time, f Failure) error {
	if f.Reason == "" {
		return errors.NewValidationError("failed_reason", "cannot be empty")
	}
	if !i.isExhaustedAfterFailure() && !f.NextRetryAt.After(now) {
		return errors.ErrInvalidBackoff
	}
	if err := i.transitionTo(StatusFailed, now); err != nil {
		return err
	}
	i.recordFailure(now, f.Reason, f.Message, f.HTTPCode, f.NextRetryAt)
	return nil
}

// ReclaimAfterTimeout returns an orphaned processing item to a claimable
// state. The caller decides that the claim is stale.
func (i *Item) ReclaimAfterTimeout(now time.Time) error {
	if i.Status != StatusProcessing {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot reclaim item in status "+string(i.Status),
			errors.ErrInvalidStateTransition,
		)
	}
	started := "unknown"
	if i.ProcessingStartedAt != nil {
		started = i.ProcessingStartedAt.UTC().Format(time.RFC3339)
	}
	var owner string
	if i.LockedBy != nil {
		owner = *i.LockedBy
	}
	if err := i.transitionTo(StatusFailed, now); err != nil {
		return err
	}
	msg := fmt.Sprintf("no reply from worker %q since %s", owner, started)
	i.recordFailure(now, ReasonWatchdogTimeout, msg, nil, now)
	return nil
}

// MarkCancelled withdraws work that no worker has picked up yet.
func (i *Item) MarkCancelled(now time.Time) error {
	if i.LockedBy != nil {
		return errors.ErrItemLocked
	}
	if i.Status != StatusPending {
		return errors.NewDomainError(
			"invalid_transition",
			"only pending items can be cancelled, item is "+string(i.Status),
			errors.ErrInvalidStateTransition,
		)
	}
	if err := i.transitionTo(StatusCancelled, now); err != nil {
		return err
	}
	i.NeedsSync = false
	i.NextRetryAt = nil
	return nil
}

// RequestSync re-arms a settled item because its subject changed again.
func (i *Item) RequestSync(now time.Time) error {
	if i.Status == StatusProcessing {
		return errors.ErrItemLocked
	}
	if i.Status != StatusPending {
		if err := i.transitionTo(StatusPending, now); err != nil {
			return err
		}
	}
	runAt := now
	i.RunAt = &runAt
	i.NextRetryAt = nil
	i.NeedsSync = true
	i.RetryCount = 0
	i.UpdatedAt = now
	return nil
}

// Requeue is the operator action for an item that exhausted its attempts.
func (i *Item) Requeue(now time.Time) error {
	if i.Status != StatusFailed || !i.IsExhausted() {
		return errors.NewDomainError(
			"invalid_transition",
			"only exhausted failed items can be requeued",
			errors.ErrInvalidStateTransition,
		)
	}
	return i.RequestSync(now)
}

// RecordExchange keeps the last raw request/response for diagnosis.
func (i *Item) RecordExchange(request, response string, result map[string]any) {
	if request != "" {
		i.LastRequest = &request
	}
	if response != "" {
		i.LastResponse = &response
	}
	if result != nil {
		i.ExecutionResult = result
	}
}

// IsExhausted reports whether the retry budget is spent.
func (i *Item) IsExhausted() bool {
	return i.MaxAttempts > 0 && i.RetryCount >= i.MaxAttempts
}

// IsTerminal reports whether no worker will pick the item up again.
func (i *Item) IsTerminal() bool {
	switch i.Status {
	case StatusCancelled:
		return true
	case StatusSuccess:
		return !i.NeedsSync
	case StatusFailed:
		return i.IsExhausted()
	}
	return false
}

// IsLocked reports whether a worker currently holds the item.
func (i *Item) IsLocked() bool {
	return i.LockedBy != nil
}

// Reason returns the failed reason code or an empty string.
func (i *Item) Reason() string {
	if i.FailedReason == nil {
		return ""
	}
	return *i.FailedReason
}

func (i *Item) isExhaustedAfterFailure() bool {
	return i.MaxAttempts > 0 && i.RetryCount+1 >= i.MaxAttempts
}

func (i *Item) recordFailure(now time.Time, reason, message string, httpCode *int, next time.Time) {
	i.clearLock()
	i.RetryCount++
	i.FailedReason = &reason
	i.LastMessage = &message
	i.LastHTTPCode = httpCode

	if i.IsExhausted() {
		// Terminal: stays failed until an operator requeues it.
		i.NeedsSync = false
		i.NextRetryAt = nil
		return
	}
	runAt := next
	i.RunAt = &runAt
	i.NextRetryAt = &runAt
	i.NeedsSync = true
}

func (i *Item) clearLock() {
	i.LockedBy = nil
	i.LockedAt = nil
	i.ProcessingStartedAt = nil
}
