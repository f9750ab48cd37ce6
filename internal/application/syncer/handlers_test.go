package syncer

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/channel"
	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/link"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
	infraChannel "github.com/cassiomorais/channelsync/internal/infrastructure/channel"
	"github.com/cassiomorais/channelsync/internal/testutil"
	"github.com/cassiomorais/channelsync/pkg/saga"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) pushHandler() *BookingPushHandler {
	handler := NewBookingPushHandler(h.links, h.mappings)
	handler.now = h.clock.Now
	return handler
}

// byAction answers each remote action with its own function.
func byAction(routes map[channel.Action]func(infraChannel.Call) (*infraChannel.Response, error)) func(context.Context, infraChannel.Call) (*infraChannel.Response, error) {
	return func(_ context.Context, call infraChannel.Call) (*infraChannel.Response, error) {
		if fn, ok := routes[call.Endpoint.Action]; ok {
			return fn(call)
		}
		return testutil.JSONResponse(`{}`), nil
	}
}

func TestBookingPush_CreateAttachesRemoteID(t *testing.T) {
	h := newHarness(t)
	l := h.links.AddLink(testutil.NewTestLink(7, 1, ""))
	push := h.seedPush(t, l, queue.OperationCreate)
	h.caller.DoFunc = byAction(map[channel.Action]func(infraChannel.Call) (*infraChannel.Response, error){
		channel.ActionBookingCreate: func(call infraChannel.Call) (*infraChannel.Response, error) {
			body := call.Body.(map[string]any)
			assert.Equal(t, "prop-1", body["property_id"])
			assert.Equal(t, "room-1", body["room_id"])
			assert.Equal(t, "event-7", body["external_ref"])
			return testutil.JSONResponse(`{"booking_id": 4417}`), nil
		},
	})

	result, err := h.pushHandler().Handle(t.Context(), push, h.remote)
	require.NoError(t, err)
	assert.Equal(t, "4417", result["remote_booking_id"])

	stored := h.links.Link(l.ID)
	require.True(t, stored.HasRemoteID())
	assert.Equal(t, "4417", *stored.RemoteBookingID)
	assert.NotNil(t, stored.LastSeenAt)
}

func TestBookingPush_CreateCompensatesWhenAttachFails(t *testing.T) {
	h := newHarness(t)
	l := h.links.AddLink(testutil.NewTestLink(7, 1, ""))
	push := h.seedPush(t, l, queue.OperationCreate)
	h.links.UpdateFunc = func(context.Context, *link.Link) error {
		return errors.New("db down")
	}
	h.caller.DoFunc = byAction(map[channel.Action]func(infraChannel.Call) (*infraChannel.Response, error){
		channel.ActionBookingCreate: func(infraChannel.Call) (*infraChannel.Response, error) {
			return testutil.JSONResponse(`{"id":"R-5"}`), nil
		},
	})

	_, err := h.pushHandler().Handle(t.Context(), push, h.remote)

	var stepErr *saga.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "attach-remote-id", stepErr.Step)
	assert.NoError(t, stepErr.CompensateErr)

	calls := h.caller.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, channel.ActionBookingCancel, calls[1].Endpoint.Action)
	assert.Equal(t, "R-5", calls[1].Params["remote_id"])
}

func TestBookingPush_CreateKeepsForeignBookingOnDuplicateRemote(t *testing.T) {
	h := newHarness(t)
	h.links.AddLink(testutil.NewTestLink(9, 3, "R-5"))
	l := h.links.AddLink(testutil.NewTestLink(7, 1, ""))
	push := h.seedPush(t, l, queue.OperationCreate)
	h.caller.DoFunc = byAction(map[channel.Action]func(infraChannel.Call) (*infraChannel.Response, error){
		channel.ActionBookingCreate: func(infraChannel.Call) (*infraChannel.Response, error) {
			return testutil.JSONResponse(`{"id":"R-5"}`), nil
		},
	})

	_, err := h.pushHandler().Handle(t.Context(), push, h.remote)
	require.ErrorIs(t, err, domainErrors.ErrDuplicateRemote)
	assert.Equal(t, []channel.Action{channel.ActionBookingCreate}, h.caller.Actions())
	assert.Equal(t, queue.ReasonRemoteRejected, Classify(err).Reason)
}

func TestBookingPush_CreateWithoutIDInResponse(t *testing.T) {
	h := newHarness(t)
	l := h.links.AddLink(testutil.NewTestLink(7, 1, ""))
	push := h.seedPush(t, l, queue.OperationCreate)

	_, err := h.pushHandler().Handle(t.Context(), push, h.remote)

	var ce *infraChannel.CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, infraChannel.ClassInvalidResponse, ce.Class)
	assert.Equal(t, []channel.Action{channel.ActionBookingCreate}, h.caller.Actions())
	assert.False(t, h.links.Link(l.ID).HasRemoteID())
}

func TestBookingPush_CreateOnLinkedBookingUpdates(t *testing.T) {
	h := newHarness(t)
	l := h.links.AddLink(testutil.NewTestLink(7, 1, "R-1"))
	push := h.seedPush(t, l, queue.OperationCreate)

	result, err := h.pushHandler().Handle(t.Context(), push, h.remote)
	require.NoError(t, err)
	assert.Equal(t, string(queue.OperationUpdate), result["operation"])
	assert.Equal(t, []channel.Action{channel.ActionBookingUpdate}, h.caller.Actions())
	assert.Equal(t, "R-1", h.caller.Calls()[0].Params["remote_id"])
}

func TestBookingPush_UpdateSkipsRetiredLink(t *testing.T) {
	h := newHarness(t)
	l := testutil.NewTestLink(7, 1, "R-1")
	l.Status = link.StatusPendingMove
	h.links.AddLink(l)
	push := h.seedPush(t, l, queue.OperationUpdate)

	result, err := h.pushHandler().Handle(t.Context(), push, h.remote)
	require.NoError(t, err)
	assert.Equal(t, "link_pending_move", result["skipped"])
	assert.Empty(t, h.caller.Calls())
}

func TestBookingPush_CancelTreatsNotFoundAsGone(t *testing.T) {
	h := newHarness(t)
	l := h.links.AddLink(testutil.NewTestLink(8, 1, "R-1"))
	push := h.seedPush(t, l, queue.OperationCancel)
	h.caller.DoFunc = failWith(&infraChannel.CallError{
		Class:    infraChannel.ClassRejected,
		Action:   channel.ActionBookingCancel,
		HTTPCode: http.StatusNotFound,
	})

	result, err := h.pushHandler().Handle(t.Context(), push, h.remote)
	require.NoError(t, err)
	assert.Equal(t, true, result["already_gone"])

	stored := h.links.Link(l.ID)
	assert.Equal(t, link.StatusSyncedDeleted, stored.Status)
	assert.NotNil(t, stored.DeactivatedAt)
}

func TestBookingPush_CancelPropagatesOtherRejections(t *testing.T) {
	h := newHarness(t)
	l := h.links.AddLink(testutil.NewTestLink(8, 1, "R-1"))
	push := h.seedPush(t, l, queue.OperationCancel)
	h.caller.DoFunc = failWith(&infraChannel.CallError{
		Class:    infraChannel.ClassRejected,
		Action:   channel.ActionBookingCancel,
		HTTPCode: http.StatusConflict,
	})

	_, err := h.pushHandler().Handle(t.Context(), push, h.remote)
	require.Error(t, err)
	assert.Equal(t, link.StatusActive, h.links.Link(l.ID).Status)
}

func TestBookingPush_CancelWithoutRemoteIDDetaches(t *testing.T) {
	h := newHarness(t)
	l := h.links.AddLink(testutil.NewTestLink(8, 1, ""))
	push := h.seedPush(t, l, queue.OperationCancel)

	result, err := h.pushHandler().Handle(t.Context(), push, h.remote)
	require.NoError(t, err)
	assert.Equal(t, "no_remote_booking", result["skipped"])
	assert.Empty(t, h.caller.Calls())
	assert.Equal(t, link.StatusDetached, h.links.Link(l.ID).Status)
}

type recordingObserver struct {
	seen []link.RemoteBooking
	err  error
}

func (o *recordingObserver) ObserveRemote(_ context.Context, _ int64, rb link.RemoteBooking) (Observation, error) {
	if o.err != nil {
		return Observation{}, o.err
	}
	o.seen = append(o.seen, rb)
	if rb.Cancelled() {
		return Observation{Action: ObservedRetired}, nil
	}
	return Observation{Action: ObservedTouched}, nil
}

func TestBookingPull_FollowsCursor(t *testing.T) {
	h := newHarness(t)
	from := time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)
	pull := queue.NewBookingPull(1, 4, 100, from, from.AddDate(0, 0, 30), testutil.Epoch)
	h.caller.DoFunc = func(_ context.Context, call infraChannel.Call) (*infraChannel.Response, error) {
		assert.Equal(t, "prop-1", call.Query.Get("property_id"))
		assert.Equal(t, "2026-03-13", call.Query.Get("from"))
		assert.Equal(t, "2026-04-12", call.Query.Get("to"))
		if call.Query.Get("cursor") == "" {
			return testutil.JSONResponse(`{"bookings":[{"id":"R-1","status":"confirmed"},{"status":"confirmed"}],"next_cursor":"c2"}`), nil
		}
		return testutil.JSONResponse(`{"bookings":[{"id":"R-2","status":"cancelled"}]}`), nil
	}
	observer := &recordingObserver{}

	result, err := NewBookingPullHandler(h.mappings, observer).Handle(t.Context(), pull, h.remote)
	require.NoError(t, err)
	assert.Equal(t, 2, result["pages"])
	assert.Equal(t, 1, result["invalid"])
	assert.Equal(t, true, result["complete"])
	assert.Equal(t, map[string]int{ObservedTouched: 1, ObservedRetired: 1}, result["observed"])
	assert.Nil(t, pull.Cursor)

	require.Len(t, observer.seen, 2)
	assert.Equal(t, "R-1", observer.seen[0].ID)
	assert.Equal(t, "cancelled", observer.seen[1].Status)
}

func TestBookingPull_StopsAtPageLimitAndKeepsCursor(t *testing.T) {
	h := newHarness(t)
	pull := queue.NewBookingPull(1, 4, 100, testutil.Epoch, testutil.Epoch.AddDate(0, 0, 30), testutil.Epoch)
	h.caller.DoFunc = func(context.Context, infraChannel.Call) (*infraChannel.Response, error) {
		return testutil.JSONResponse(`{"bookings":[],"next_cursor":"more"}`), nil
	}
	handler := NewBookingPullHandler(h.mappings, &recordingObserver{})
	handler.maxPages = 3

	result, err := handler.Handle(t.Context(), pull, h.remote)
	require.NoError(t, err)
	assert.Equal(t, 3, result["pages"])
	assert.Equal(t, false, result["complete"])
	require.NotNil(t, pull.Cursor)
	assert.Equal(t, "more", *pull.Cursor)
	assert.Len(t, h.caller.Calls(), 3)
}

func TestBookingPull_ObserverFailureFailsThePull(t *testing.T) {
	h := newHarness(t)
	pull := queue.NewBookingPull(1, 4, 100, testutil.Epoch, testutil.Epoch, testutil.Epoch)
	h.caller.DoFunc = func(context.Context, infraChannel.Call) (*infraChannel.Response, error) {
		return testutil.JSONResponse(`{"bookings":[{"id":"R-1"}]}`), nil
	}

	_, err := NewBookingPullHandler(h.mappings, &recordingObserver{err: errors.New("deadlock")}).Handle(t.Context(), pull, h.remote)
	assert.ErrorContains(t, err, "R-1")
}

func TestRatePush_ExpandsAndAnnouncesDeliveries(t *testing.T) {
	h := newHarness(t)
	push, err := queue.NewRatePush(10, 5, testutil.Epoch, testutil.Epoch.AddDate(0, 0, 6), map[string]any{"price": 120}, testutil.Epoch)
	require.NoError(t, err)
	h.rates.Put(push)

	handler := NewRatePushHandler(h.fanOut(), h.publisher, zerolog.Nop())
	result, err := handler.Handle(t.Context(), push, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result["deliveries"])
	assert.Equal(t, 2, result["created"])

	dispatched := h.publisher.Dispatched()
	require.Len(t, dispatched, 1)
	assert.Equal(t, string(queue.KindRateDelivery), dispatched[0].Task)
	assert.Len(t, dispatched[0].IDs, 2)
}

func TestRatePush_NoDestinationSucceeds(t *testing.T) {
	h := newHarness(t)
	push, err := queue.NewRatePush(99, 5, testutil.Epoch, testutil.Epoch, nil, testutil.Epoch)
	require.NoError(t, err)
	h.rates.Put(push)

	result, err := NewRatePushHandler(h.fanOut(), h.publisher, zerolog.Nop()).Handle(t.Context(), push, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result["deliveries"])
	assert.Empty(t, h.publisher.Dispatched())
}

func TestRateDelivery_SendsParentRates(t *testing.T) {
	h := newHarness(t)
	push, err := queue.NewRatePush(10, 5, testutil.Epoch, testutil.Epoch.AddDate(0, 0, 6), map[string]any{"price": 120}, testutil.Epoch)
	require.NoError(t, err)
	h.rates.Put(push)
	d := queue.NewRateDelivery(push.ID, 2, 5, 200, testutil.Epoch)
	h.caller.DoFunc = func(_ context.Context, call infraChannel.Call) (*infraChannel.Response, error) {
		body := call.Body.(map[string]any)
		assert.Equal(t, "room-2", body["room_id"])
		assert.Equal(t, "2026-03-14", body["date_from"])
		assert.Equal(t, "2026-03-20", body["date_to"])
		assert.Equal(t, map[string]any{"price": 120}, body["rates"])
		return &infraChannel.Response{StatusCode: http.StatusAccepted}, nil
	}

	result, err := NewRateDeliveryHandler(h.rates, h.mappings).Handle(t.Context(), d, h.remote)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, result["http_status"])
	assert.Equal(t, *push.PayloadHash, result["payload_hash"])
	assert.Equal(t, "token-200", h.caller.Calls()[0].Credential.AccessToken)
}
