package errors

import (
	"errors"
	"fmt"
)

var (
	// Queue errors
	ErrItemNotFound           = errors.New("queue item not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrItemNotDue             = errors.New("queue item is not due")
	ErrItemLocked             = errors.New("queue item is locked by a worker")
	ErrLockLost               = errors.New("queue item lock lost")
	ErrInvalidBackoff         = errors.New("next retry must be after the failure time")
	ErrDuplicateDedupeKey     = errors.New("duplicate dedupe key")
	ErrUnknownTask            = errors.New("unknown task")

	// Link errors
	ErrLinkNotFound     = errors.New("event link not found")
	ErrLinkExists       = errors.New("event already linked to mapping")
	ErrEventNotFound    = errors.New("event not found")
	ErrInvalidMirror    = errors.New("invalid mirror link")
	ErrUnsafeToDelete   = errors.New("link is not safe to delete")
	ErrDuplicateRemote  = errors.New("remote booking id already linked")
	ErrRemoteIDRequired = errors.New("link has no remote booking id")

	// Channel errors
	ErrUnknownEndpoint        = errors.New("unknown channel endpoint")
	ErrCredentialNotFound     = errors.New("channel credential not found")
	ErrCredentialUnresolvable = errors.New("channel credential could not be resolved")
	ErrMappingNotFound        = errors.New("unit mapping not found")
	ErrMissingGrouping        = errors.New("no grouping metadata for ids")
	ErrInvalidRemoteResponse  = errors.New("invalid remote response")

	// Webhook errors
	ErrAuditRecordNotFound = errors.New("webhook audit record not found")

	// Lock errors
	ErrLockAcquisitionFailed = errors.New("failed to acquire lock")
	ErrLockNotHeld           = errors.New("lock not held")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidInput     = errors.New("invalid input")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
