package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/channel"
	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/link"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
	infraChannel "github.com/cassiomorais/channelsync/internal/infrastructure/channel"
	"github.com/cassiomorais/channelsync/pkg/saga"
	"github.com/rs/zerolog"
)

// BookingPushHandler sends one local booking change to the remote side and
// keeps the link in step with it.
type BookingPushHandler struct {
	links    link.Repository
	mappings MappingSource
	now      Clock
}

func NewBookingPushHandler(links link.Repository, mappings MappingSource) *BookingPushHandler {
	return &BookingPushHandler{links: links, mappings: mappings, now: time.Now}
}

func (h *BookingPushHandler) Handle(ctx context.Context, p *queue.BookingPush, remote *Remote) (map[string]any, error) {
	l, err := h.links.Get(ctx, p.LinkID)
	if err != nil {
		return nil, fmt.Errorf("link %d: %w", p.LinkID, err)
	}
	m, err := h.mappings.Get(ctx, p.MappingID)
	if err != nil {
		return nil, fmt.Errorf("mapping %d: %w", p.MappingID, err)
	}

	switch p.Operation {
	case queue.OperationCreate:
		if l.HasRemoteID() {
			// An earlier create already landed; send the newer payload as an update.
			return h.update(ctx, p, l, m, remote)
		}
		return h.create(ctx, p, l, m, remote)
	case queue.OperationUpdate:
		return h.update(ctx, p, l, m, remote)
	case queue.OperationCancel:
		return h.cancel(ctx, p, l, remote)
	}
	return nil, domainErrors.NewValidationError("operation", "unknown booking operation "+string(p.Operation))
}

func (h *BookingPushHandler) create(ctx context.Context, p *queue.BookingPush, l *link.Link, m *channel.Mapping, remote *Remote) (map[string]any, error) {
	if !l.IsActive() {
		return skipped("link_" + string(l.Status)), nil
	}

	var remoteID string
	var attachErr error
	s := saga.New("booking-create").
		AddStep(saga.Step{
			Name: "remote-create",
			Execute: func(ctx context.Context) error {
				resp, err := remote.Call(ctx, &p.Item, channel.ActionBookingCreate, Request{Body: bookingBody(p, m)})
				if err != nil {
					return err
				}
				var out map[string]any
				if err := resp.Decode(channel.ActionBookingCreate, &out); err != nil {
					return err
				}
				remoteID = firstID(out, "id", "booking_id")
				if remoteID == "" {
					return &infraChannel.CallError{
						Class:    infraChannel.ClassInvalidResponse,
						Action:   channel.ActionBookingCreate,
						HTTPCode: resp.StatusCode,
						Message:  "create response carries no booking id",
						Err:      domainErrors.ErrInvalidRemoteResponse,
					}
				}
				return nil
			},
			Compensate: func(ctx context.Context) error {
				if errors.Is(attachErr, domainErrors.ErrDuplicateRemote) {
					// The id belongs to another link; cancelling would destroy its booking.
					return nil
				}
				_, err := remote.Call(ctx, &p.Item, channel.ActionBookingCancel, Request{
					Params: map[string]string{"remote_id": remoteID},
				})
				return err
			},
		}).
		AddStep(saga.Step{
			Name: "attach-remote-id",
			Execute: func(ctx context.Context) error {
				if attachErr = l.AttachRemoteID(remoteID, h.now()); attachErr != nil {
					return attachErr
				}
				attachErr = h.links.Update(ctx, l)
				return attachErr
			},
		})

	if err := s.Execute(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"remote_booking_id": remoteID, "operation": string(queue.OperationCreate)}, nil
}

func (h *BookingPushHandler) update(ctx context.Context, p *queue.BookingPush, l *link.Link, m *channel.Mapping, remote *Remote) (map[string]any, error) {
	if !l.IsActive() {
		return skipped("link_" + string(l.Status)), nil
	}
	if !l.HasRemoteID() {
		return nil, fmt.Errorf("link %d: %w", l.ID, domainErrors.ErrRemoteIDRequired)
	}
	remoteID := *l.RemoteBookingID
	resp, err := remote.Call(ctx, &p.Item, channel.ActionBookingUpdate, Request{
		Params: map[string]string{"remote_id": remoteID},
		Body:   bookingBody(p, m),
	})
	if err != nil {
		return nil, err
	}
	l.Touch(h.now())
	if err := h.links.Update(ctx, l); err != nil {
		return nil, err
	}
	return map[string]any{
		"remote_booking_id": remoteID,
		"operation":         string(queue.OperationUpdate),
		"http_status":       resp.StatusCode,
	}, nil
}

func (h *BookingPushHandler) cancel(ctx context.Context, p *queue.BookingPush, l *link.Link, remote *Remote) (map[string]any, error) {
	if l.Status == link.StatusSyncedDeleted {
		return skipped("already_deleted"), nil
	}
	if !l.HasRemoteID() {
		// Nothing ever reached the remote side.
		if err := l.Retire(link.StatusDetached, h.now()); err != nil {
			return nil, err
		}
		if err := h.links.Update(ctx, l); err != nil {
			return nil, err
		}
		return skipped("no_remote_booking"), nil
	}

	remoteID := *l.RemoteBookingID
	result := map[string]any{"remote_booking_id": remoteID, "operation": string(queue.OperationCancel)}
	_, err := remote.Call(ctx, &p.Item, channel.ActionBookingCancel, Request{
		Params: map[string]string{"remote_id": remoteID},
	})
	if err != nil {
		var ce *infraChannel.CallError
		if !errors.As(err, &ce) || ce.HTTPCode != http.StatusNotFound {
			return nil, err
		}
		result["already_gone"] = true
	}
	if err := l.Retire(link.StatusSyncedDeleted, h.now()); err != nil {
		return nil, err
	}
	if err := h.links.Update(ctx, l); err != nil {
		return nil, err
	}
	return result, nil
}

func bookingBody(p *queue.BookingPush, m *channel.Mapping) map[string]any {
	return map[string]any{
		"property_id":  m.RemotePropertyID,
		"room_id":      m.RemoteRoomID,
		"external_ref": "event-" + strconv.FormatInt(p.EventID, 10),
		"booking":      p.Payload,
	}
}

// RemoteObserver reconciles a booking reported by the remote side.
type RemoteObserver interface {
	ObserveRemote(ctx context.Context, mappingID int64, rb link.RemoteBooking) (Observation, error)
}

const defaultMaxPages = 10

// BookingPullHandler lists remote bookings for a mapping window, page by
// page, and hands each one to the link service.
type BookingPullHandler struct {
	mappings MappingSource
	observer RemoteObserver
	maxPages int
}

func NewBookingPullHandler(mappings MappingSource, observer RemoteObserver) *BookingPullHandler {
	return &BookingPullHandler{mappings: mappings, observer: observer, maxPages: defaultMaxPages}
}

type bookingPage struct {
	Bookings   []map[string]any `json:"bookings"`
	NextCursor string           `json:"next_cursor"`
}

func (h *BookingPullHandler) Handle(ctx context.Context, p *queue.BookingPull, remote *Remote) (map[string]any, error) {
	m, err := h.mappings.Get(ctx, p.MappingID)
	if err != nil {
		return nil, fmt.Errorf("mapping %d: %w", p.MappingID, err)
	}
	if !m.Active {
		return skipped("mapping_inactive"), nil
	}

	observed := map[string]int{}
	pages, invalid := 0, 0
	complete := false
	for pages < h.maxPages {
		q := url.Values{}
		q.Set("property_id", m.RemotePropertyID)
		q.Set("room_id", m.RemoteRoomID)
		q.Set("from", p.WindowFrom.Format(time.DateOnly))
		q.Set("to", p.WindowTo.Format(time.DateOnly))
		if p.Cursor != nil {
			q.Set("cursor", *p.Cursor)
		}

		resp, err := remote.Call(ctx, &p.Item, channel.ActionBookingList, Request{Query: q})
		if err != nil {
			return nil, err
		}
		var page bookingPage
		if err := resp.Decode(channel.ActionBookingList, &page); err != nil {
			return nil, err
		}
		pages++

		for _, raw := range page.Bookings {
			rb := link.RemoteBooking{ID: firstID(raw, "id", "booking_id"), Raw: raw}
			rb.Status, _ = raw["status"].(string)
			if rb.ID == "" {
				invalid++
				continue
			}
			obs, err := h.observer.ObserveRemote(ctx, m.ID, rb)
			if err != nil {
				return nil, fmt.Errorf("observe remote booking %s: %w", rb.ID, err)
			}
			observed[obs.Action]++
		}

		if page.NextCursor == "" {
			p.Cursor = nil
			complete = true
			break
		}
		next := page.NextCursor
		p.Cursor = &next
	}

	return map[string]any{
		"pages":    pages,
		"observed": observed,
		"invalid":  invalid,
		"complete": complete,
	}, nil
}

// RatePushHandler expands a rate change into its deliveries and announces
// them. The push itself succeeds once the deliveries exist.
type RatePushHandler struct {
	fanOut    *FanOut
	publisher DispatchPublisher
	logger    zerolog.Logger
}

func NewRatePushHandler(fanOut *FanOut, publisher DispatchPublisher, logger zerolog.Logger) *RatePushHandler {
	return &RatePushHandler{fanOut: fanOut, publisher: publisher, logger: logger}
}

func (h *RatePushHandler) Handle(ctx context.Context, p *queue.RatePush, _ *Remote) (map[string]any, error) {
	deliveries, created, err := h.fanOut.Expand(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(deliveries) == 0 {
		h.logger.Warn().Int64("item_id", p.ID).Int64("unit_id", p.UnitID).Msg("rate change has no active destination")
	}

	var due []int64
	for _, d := range deliveries {
		if d.NeedsSync && !d.IsLocked() {
			due = append(due, d.ID)
		}
	}
	if h.publisher != nil && len(due) > 0 {
		if err := h.publisher.PublishDispatch(ctx, string(queue.KindRateDelivery), due); err != nil {
			// The sweep picks the deliveries up anyway.
			h.logger.Warn().Err(err).Int64("item_id", p.ID).Msg("failed to announce rate deliveries")
		}
	}
	return map[string]any{"deliveries": len(deliveries), "created": created}, nil
}

// RatePushReader loads the parent of a delivery.
type RatePushReader interface {
	Get(ctx context.Context, id int64) (*queue.RatePush, error)
}

// RateDeliveryHandler sends the parent rate change to one destination.
type RateDeliveryHandler struct {
	pushes   RatePushReader
	mappings MappingSource
}

func NewRateDeliveryHandler(pushes RatePushReader, mappings MappingSource) *RateDeliveryHandler {
	return &RateDeliveryHandler{pushes: pushes, mappings: mappings}
}

func (h *RateDeliveryHandler) Handle(ctx context.Context, d *queue.RateDelivery, remote *Remote) (map[string]any, error) {
	parent, err := h.pushes.Get(ctx, d.QueueID)
	if err != nil {
		return nil, fmt.Errorf("rate push %d: %w", d.QueueID, err)
	}
	m, err := h.mappings.Get(ctx, d.MappingID)
	if err != nil {
		return nil, fmt.Errorf("mapping %d: %w", d.MappingID, err)
	}
	if !m.Active {
		return skipped("mapping_inactive"), nil
	}

	resp, err := remote.Call(ctx, &d.Item, channel.ActionRateUpdate, Request{Body: map[string]any{
		"property_id": m.RemotePropertyID,
		"room_id":     m.RemoteRoomID,
		"date_from":   parent.DateFrom.Format(time.DateOnly),
		"date_to":     parent.DateTo.Format(time.DateOnly),
		"rates":       parent.Payload,
	}})
	if err != nil {
		return nil, err
	}
	result := map[string]any{"http_status": resp.StatusCode}
	if parent.PayloadHash != nil {
		result["payload_hash"] = *parent.PayloadHash
	}
	return result, nil
}

func skipped(reason string) map[string]any {
	return map[string]any{"skipped": reason}
}

// firstID returns the first non-empty identifier among keys. JSON numbers
// are rendered without exponent.
func firstID(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
