package queue

import (
	"fmt"
	"time"
)

// Kind names a queue table. It doubles as the dispatch task name.
type Kind string

const (
	KindBookingPush  Kind = "booking_push"
	KindBookingPull  Kind = "booking_pull"
	KindRatePush     Kind = "rate_push"
	KindRateDelivery Kind = "rate_delivery"
)

// Kinds lists every queue kind in processing order.
var Kinds = []Kind{KindBookingPush, KindBookingPull, KindRatePush, KindRateDelivery}

// ParseKind validates a kind name coming from the outside.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown queue kind %q", s)
}

// Record is the contract every queue kind satisfies. The state machine
// methods are promoted from the embedded Item.
type Record interface {
	Core() *Item
	CanRunNow(now time.Time) bool
	MarkProcessing(workerID string, now time.Time) error
	MarkSuccess(now time.Time) error
	MarkFailure(now time.Time, f Failure) error
	// Details returns the kind-specific fields for logs and the admin API.
	Details() map[string]any
}

// BookingOperation is the remote side-effect a booking push performs.
type BookingOperation string

const (
	OperationCreate BookingOperation = "create"
	OperationUpdate BookingOperation = "update"
	OperationCancel BookingOperation = "cancel"
)

// BookingPush sends one local booking change to one remote unit mapping.
type BookingPush struct {
	Item
	EventID   int64
	LinkID    int64
	MappingID int64
	Operation BookingOperation
	Payload   map[string]any
}

func NewBookingPush(eventID, linkID, mappingID int64, op BookingOperation, endpointID, credentialID int64, payload map[string]any, now time.Time) (*BookingPush, error) {
	hash, err := Fingerprint(payload)
	if err != nil {
		return nil, err
	}
	key := BookingDedupeKey(linkID, op)
	p := &BookingPush{
		Item:      newItem(KindBookingPush, endpointID, credentialID, now),
		EventID:   eventID,
		LinkID:    linkID,
		MappingID: mappingID,
		Operation: op,
		Payload:   payload,
	}
	p.DedupeKey = &key
	p.PayloadHash = &hash
	return p, nil
}

func (p *BookingPush) Details() map[string]any {
	return map[string]any{
		"event_id":   p.EventID,
		"link_id":    p.LinkID,
		"mapping_id": p.MappingID,
		"operation":  string(p.Operation),
	}
}

// BookingPull polls one remote unit mapping for bookings in a window.
type BookingPull struct {
	Item
	MappingID  int64
	WindowFrom time.Time
	WindowTo   time.Time
	Cursor     *string
}

func NewBookingPull(mappingID, endpointID, credentialID int64, from, to time.Time, now time.Time) *BookingPull {
	key := PullDedupeKey(mappingID)
	p := &BookingPull{
		Item:       newItem(KindBookingPull, endpointID, credentialID, now),
		MappingID:  mappingID,
		WindowFrom: from,
		WindowTo:   to,
	}
	// The window is the pull's payload: moving it re-arms the open pull.
	hash, _ := Fingerprint([2]string{from.Format(time.DateOnly), to.Format(time.DateOnly)})
	p.DedupeKey = &key
	p.PayloadHash = &hash
	return p
}

func (p *BookingPull) Details() map[string]any {
	d := map[string]any{
		"mapping_id":  p.MappingID,
		"window_from": p.WindowFrom.Format(time.DateOnly),
		"window_to":   p.WindowTo.Format(time.DateOnly),
	}
	if p.Cursor != nil {
		d["cursor"] = *p.Cursor
	}
	return d
}

// RatePush is the logical rate change. Processing it expands it into one
// RateDelivery per destination mapping.
type RatePush struct {
	Item
	UnitID   int64
	DateFrom time.Time
	DateTo   time.Time
	Payload  map[string]any
}

func NewRatePush(unitID, endpointID int64, from, to time.Time, payload map[string]any, now time.Time) (*RatePush, error) {
	hash, err := Fingerprint(payload)
	if err != nil {
		return nil, err
	}
	p := &RatePush{
		Item:     newItem(KindRatePush, endpointID, 0, now),
		UnitID:   unitID,
		DateFrom: from,
		DateTo:   to,
		Payload:  payload,
	}
	key := RateDedupeKey(unitID, from, to)
	p.DedupeKey = &key
	p.PayloadHash = &hash
	return p, nil
}

func (p *RatePush) Details() map[string]any {
	return map[string]any{
		"unit_id":   p.UnitID,
		"date_from": p.DateFrom.Format(time.DateOnly),
		"date_to":   p.DateTo.Format(time.DateOnly),
	}
}

// RateDelivery is one destination of a RatePush. Credential and endpoint are
// copied from the mapping so a delivery never joins back through it.
type RateDelivery struct {
	Item
	QueueID   int64
	MappingID int64
}

func NewRateDelivery(queueID, mappingID, endpointID, credentialID int64, now time.Time) *RateDelivery {
	key := DeliveryDedupeKey(queueID, mappingID)
	d := &RateDelivery{
		Item:      newItem(KindRateDelivery, endpointID, credentialID, now),
		QueueID:   queueID,
		MappingID: mappingID,
	}
	d.DedupeKey = &key
	return d
}

func (d *RateDelivery) Details() map[string]any {
	return map[string]any{
		"queue_id":   d.QueueID,
		"mapping_id": d.MappingID,
	}
}

func BookingDedupeKey(linkID int64, op BookingOperation) string {
	return fmt.Sprintf("booking:%d:%s", linkID, op)
}

func PullDedupeKey(mappingID int64) string {
	return fmt.Sprintf("pull:%d", mappingID)
}

func DeliveryDedupeKey(queueID, mappingID int64) string {
	return fmt.Sprintf("delivery:%d:%d", queueID, mappingID)
}

func RateDedupeKey(unitID int64, from, to time.Time) string {
	return fmt.Sprintf("rate:%d:%s:%s", unitID, from.Format(time.DateOnly), to.Format(time.DateOnly))
}
