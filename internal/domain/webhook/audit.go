package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cassiomorais/channelsync/internal/domain/errors"
)

// Status represents the processing state of an audit record
type Status string

const (
	StatusReceived  Status = "received"
	StatusProcessed Status = "processed"
	StatusError     Status = "error"
)

// UnknownEventType is stored when nothing in the request names the event.
const UnknownEventType = "unknown"

// EventTypeHeader is consulted when the body does not carry a type.
const EventTypeHeader = "X-Event-Type"

// Upper bounds of the indexed text fields, in characters.
const (
	MaxEventTypeLength  = 100
	MaxRemoteAddrLength = 100
)

// AuditRecord is the raw trace of one inbound notification. It references no
// domain entity so it can always be written.
type AuditRecord struct {
	ID            int64
	ReceivedAt    time.Time
	EventType     string
	RemoteAddr    string
	Headers       map[string][]string
	PayloadRaw    string
	PayloadParsed map[string]any
	Status        Status
	ErrorMessage  *string
	Metadata      map[string]any
}

// NewAuditRecord captures a request as received. Parsing is best effort: an
// unparsable body leaves PayloadParsed nil and is still recorded.
func NewAuditRecord(raw []byte, headers http.Header, remoteAddr string, now time.Time) *AuditRecord {
	r := &AuditRecord{
		ReceivedAt: now,
		RemoteAddr: clip(remoteAddr, MaxRemoteAddrLength),
		Headers:    map[string][]string(headers.Clone()),
		PayloadRaw: string(raw),
		Status:     StatusReceived,
		Metadata:   map[string]any{},
	}
	if r.Headers == nil {
		r.Headers = map[string][]string{}
	}

	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err == nil {
		r.PayloadParsed = parsed
	} else {
		r.Metadata["parse_error"] = err.Error()
	}
	r.EventType = inferEventType(parsed, headers)
	return r
}

func inferEventType(parsed map[string]any, headers http.Header) string {
	for _, key := range []string{"event", "type", "event_type"} {
		if v, ok := parsed[key].(string); ok {
			if v = clip(v, MaxEventTypeLength); v != "" {
				return v
			}
		}
	}
	if h := clip(headers.Get(EventTypeHeader), MaxEventTypeLength); h != "" {
		return h
	}
	return UnknownEventType
}

// clip makes s storable as text: NULs and invalid UTF-8 are dropped and the
// result is cut to max characters.
func clip(s string, max int) string {
	s = strings.ToValidUTF8(strings.ReplaceAll(s, "\x00", ""), "")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}

// MarkProcessed records a successful resolution. Metadata is merged.
func (r *AuditRecord) MarkProcessed(metadata map[string]any) error {
	if r.Status != StatusReceived {
		return errors.NewDomainError(
			"invalid_transition",
			"audit record already "+string(r.Status),
			errors.ErrInvalidStateTransition,
		)
	}
	r.Status = StatusProcessed
	r.merge(metadata)
	return nil
}

// MarkError records why resolution failed.
func (r *AuditRecord) MarkError(message string, metadata map[string]any) error {
	if r.Status != StatusReceived {
		return errors.NewDomainError(
			"invalid_transition",
			"audit record already "+string(r.Status),
			errors.ErrInvalidStateTransition,
		)
	}
	r.Status = StatusError
	r.ErrorMessage = &message
	r.merge(metadata)
	return nil
}

func (r *AuditRecord) merge(metadata map[string]any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any, len(metadata))
	}
	for k, v := range metadata {
		r.Metadata[k] = v
	}
}

// RemoteBookingID extracts the remote booking identifier from a parsed payload.
func (r *AuditRecord) RemoteBookingID() (string, bool) {
	if r.PayloadParsed == nil {
		return "", false
	}
	candidates := []map[string]any{r.PayloadParsed}
	if data, ok := r.PayloadParsed["data"].(map[string]any); ok {
		candidates = append(candidates, data)
	}
	if booking, ok := r.PayloadParsed["booking"].(map[string]any); ok {
		candidates = append(candidates, booking)
	}
	for _, c := range candidates {
		for _, key := range []string{"booking_id", "bookingId", "id"} {
			switch v := c[key].(type) {
			case string:
				if v != "" {
					return v, true
				}
			case float64:
				return strconv.FormatFloat(v, 'f', -1, 64), true
			}
		}
	}
	return "", false
}

// Repository defines the interface for audit persistence
type Repository interface {
	// Insert stores a new record and assigns its ID
	Insert(ctx context.Context, r *AuditRecord) error

	// Get retrieves a record by ID
	Get(ctx context.Context, id int64) (*AuditRecord, error)

	// UpdateOutcome writes status, error message and metadata
	UpdateOutcome(ctx context.Context, r *AuditRecord) error

	// List lists records, newest first
	List(ctx context.Context, filter ListFilter) ([]*AuditRecord, error)
}

// ListFilter defines filters for listing audit records
type ListFilter struct {
	Status    *Status
	EventType *string
	Limit     int
	Offset    int
}
