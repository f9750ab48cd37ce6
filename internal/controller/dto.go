package controller

import (
	"time"

	"github.com/cassiomorais/channelsync/internal/application/syncer"
	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/link"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
	"github.com/cassiomorais/channelsync/internal/domain/webhook"
)

// --- Request DTOs ---
// Dates travel as YYYY-MM-DD strings and are parsed after validation.

// BookingChangeRequest announces a local booking change for every link of an event.
type BookingChangeRequest struct {
	EventID   int64          `json:"event_id" validate:"required,gt=0"`
	Operation string         `json:"operation" validate:"required,oneof=create update cancel"`
	Payload   map[string]any `json:"payload"`
}

// RateChangeRequest announces new rates for a unit and a date range.
type RateChangeRequest struct {
	UnitID   int64          `json:"unit_id" validate:"required,gt=0"`
	DateFrom string         `json:"date_from" validate:"required,datetime=2006-01-02"`
	DateTo   string         `json:"date_to" validate:"required,datetime=2006-01-02"`
	Payload  map[string]any `json:"payload" validate:"required"`
}

// PullRequest asks for a booking pull of one mapping. Without dates the
// configured rolling window is used.
type PullRequest struct {
	MappingID int64  `json:"mapping_id" validate:"required,gt=0"`
	DateFrom  string `json:"date_from,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DateTo    string `json:"date_to,omitempty" validate:"required_with=DateFrom"`
}

// DispatchRequest names the queue items a task should run for.
type DispatchRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
}

type CreateLinkRequest struct {
	EventID   int64 `json:"event_id" validate:"required,gt=0"`
	MappingID int64 `json:"mapping_id" validate:"required,gt=0"`
}

type MirrorRequest struct {
	MappingID int64 `json:"mapping_id" validate:"required,gt=0"`
}

type RetireRequest struct {
	Status string `json:"status" validate:"required,oneof=detached pending_delete pending_move synced_deleted"`
}

// --- Response DTOs ---

// ItemResponse is the operator view of a queue item.
type ItemResponse struct {
	ID           int64          `json:"id"`
	Kind         string         `json:"kind"`
	Status       string         `json:"status"`
	NeedsSync    bool           `json:"needs_sync"`
	Priority     int            `json:"priority"`
	RunAt        *time.Time     `json:"run_at,omitempty"`
	NextRetryAt  *time.Time     `json:"next_retry_at,omitempty"`
	LockedBy     *string        `json:"locked_by,omitempty"`
	RetryCount   int            `json:"retry_count"`
	MaxAttempts  int            `json:"max_attempts"`
	Exhausted    bool           `json:"exhausted"`
	FailedReason *string        `json:"failed_reason,omitempty"`
	LastMessage  *string        `json:"last_message,omitempty"`
	LastHTTPCode *int           `json:"last_http_code,omitempty"`
	LastSync     *time.Time     `json:"last_sync,omitempty"`
	Details      map[string]any `json:"details"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type LinkResponse struct {
	ID              int64      `json:"id"`
	EventID         int64      `json:"event_id"`
	MappingID       int64      `json:"mapping_id"`
	RemoteBookingID *string    `json:"remote_booking_id,omitempty"`
	OriginLinkID    *int64     `json:"origin_link_id,omitempty"`
	Mirror          bool       `json:"mirror"`
	Status          string     `json:"status"`
	DeactivatedAt   *time.Time `json:"deactivated_at,omitempty"`
	LastSeenAt      *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type DecisionResponse struct {
	LinkID int64  `json:"link_id"`
	Safe   bool   `json:"safe"`
	Reason string `json:"reason,omitempty"`
}

type SyncStatusResponse struct {
	EventID int64           `json:"event_id"`
	State   string          `json:"state"`
	Links   []*LinkResponse `json:"links"`
}

// EnqueueResponse lists the items an enqueue touched. Created is false when
// an existing item absorbed the change.
type EnqueueResponse struct {
	IDs     []int64 `json:"ids"`
	Created bool    `json:"created"`
}

type DeliverySummaryResponse struct {
	QueueID int64          `json:"queue_id"`
	Total   int            `json:"total"`
	Counts  map[string]int `json:"counts"`
}

type AuditResponse struct {
	ID            int64               `json:"id"`
	ReceivedAt    time.Time           `json:"received_at"`
	EventType     string              `json:"event_type"`
	RemoteAddr    string              `json:"remote_addr,omitempty"`
	Headers       map[string][]string `json:"headers,omitempty"`
	PayloadRaw    string              `json:"payload_raw"`
	PayloadParsed map[string]any      `json:"payload_parsed,omitempty"`
	Status        string              `json:"status"`
	ErrorMessage  *string             `json:"error_message,omitempty"`
	Metadata      map[string]any      `json:"metadata,omitempty"`
}

// AcceptedResponse answers the webhook sender.
type AcceptedResponse struct {
	ID int64 `json:"id"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

func FromRecord(rec queue.Record) *ItemResponse {
	i := rec.Core()
	return &ItemResponse{
		ID:           i.ID,
		Kind:         string(i.Kind),
		Status:       string(i.Status),
		NeedsSync:    i.NeedsSync,
		Priority:     i.Priority,
		RunAt:        i.RunAt,
		NextRetryAt:  i.NextRetryAt,
		LockedBy:     i.LockedBy,
		RetryCount:   i.RetryCount,
		MaxAttempts:  i.MaxAttempts,
		Exhausted:    i.IsExhausted(),
		FailedReason: i.FailedReason,
		LastMessage:  i.LastMessage,
		LastHTTPCode: i.LastHTTPCode,
		LastSync:     i.LastSync,
		Details:      rec.Details(),
		CreatedAt:    i.CreatedAt,
		UpdatedAt:    i.UpdatedAt,
	}
}

func FromLink(l *link.Link) *LinkResponse {
	return &LinkResponse{
		ID:              l.ID,
		EventID:         l.EventID,
		MappingID:       l.MappingID,
		RemoteBookingID: l.RemoteBookingID,
		OriginLinkID:    l.OriginLinkID,
		Mirror:          l.IsMirror(),
		Status:          string(l.Status),
		DeactivatedAt:   l.DeactivatedAt,
		LastSeenAt:      l.LastSeenAt,
		CreatedAt:       l.CreatedAt,
		UpdatedAt:       l.UpdatedAt,
	}
}

func FromEventSync(s *syncer.EventSync) *SyncStatusResponse {
	links := make([]*LinkResponse, 0, len(s.Links))
	for _, l := range s.Links {
		links = append(links, FromLink(l))
	}
	return &SyncStatusResponse{EventID: s.EventID, State: string(s.State), Links: links}
}

func FromAudit(r *webhook.AuditRecord) *AuditResponse {
	return &AuditResponse{
		ID:            r.ID,
		ReceivedAt:    r.ReceivedAt,
		EventType:     r.EventType,
		RemoteAddr:    r.RemoteAddr,
		Headers:       r.Headers,
		PayloadRaw:    r.PayloadRaw,
		PayloadParsed: r.PayloadParsed,
		Status:        string(r.Status),
		ErrorMessage:  r.ErrorMessage,
		Metadata:      r.Metadata,
	}
}

func FromSummary(queueID int64, counts map[queue.Status]int) *DeliverySummaryResponse {
	resp := &DeliverySummaryResponse{QueueID: queueID, Counts: make(map[string]int, len(counts))}
	for status, n := range counts {
		resp.Counts[string(status)] = n
		resp.Total += n
	}
	return resp
}

// parseDate reads a YYYY-MM-DD value as midnight UTC.
func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, domainErrors.NewValidationError(field, "must be a YYYY-MM-DD date")
	}
	return t, nil
}
