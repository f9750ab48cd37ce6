package link_test

import (
	"testing"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func TestNewRootLink(t *testing.T) {
	l, err := link.NewRootLink(1, 2, now)
	require.NoError(t, err)
	assert.Equal(t, link.StatusActive, l.Status)
	assert.False(t, l.IsMirror())
	assert.False(t, l.HasRemoteID())

	_, err = link.NewRootLink(0, 2, now)
	var vErr *errors.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestIsMirror_FollowsOriginOnly(t *testing.T) {
	tests := []struct {
		name   string
		link   link.Link
		mirror bool
	}{
		{"root", link.Link{ID: 1}, false},
		{"mirror", link.Link{ID: 2, OriginLinkID: ptr(int64(1))}, true},
		{"root with remote id", link.Link{ID: 3, RemoteBookingID: ptr("R-1")}, false},
		{"retired mirror", link.Link{ID: 4, OriginLinkID: ptr(int64(1)), Status: link.StatusDetached}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.mirror, tt.link.IsMirror())
			assert.Equal(t, tt.link.OriginLinkID != nil, tt.link.IsMirror())
		})
	}
}

func TestAttachRemoteID(t *testing.T) {
	l, err := link.NewRootLink(1, 2, now)
	require.NoError(t, err)

	require.NoError(t, l.AttachRemoteID("R-100", now))
	assert.Equal(t, "R-100", *l.RemoteBookingID)
	assert.Equal(t, now, *l.LastSeenAt)

	assert.NoError(t, l.AttachRemoteID("R-100", now.Add(time.Minute)))
	assert.ErrorIs(t, l.AttachRemoteID("R-200", now), errors.ErrDuplicateRemote)

	var vErr *errors.ValidationError
	assert.ErrorAs(t, l.AttachRemoteID("", now), &vErr)
}

func TestRetire(t *testing.T) {
	l, err := link.NewRootLink(1, 2, now)
	require.NoError(t, err)

	require.NoError(t, l.Retire(link.StatusPendingDelete, now))
	assert.Equal(t, link.StatusPendingDelete, l.Status)
	assert.Equal(t, now, *l.DeactivatedAt)

	later := now.Add(time.Hour)
	require.NoError(t, l.Retire(link.StatusSyncedDeleted, later))
	assert.Equal(t, now, *l.DeactivatedAt, "first deactivation time is kept")

	assert.ErrorIs(t, l.Retire(link.StatusDetached, later), errors.ErrInvalidStateTransition)

	var vErr *errors.ValidationError
	assert.ErrorAs(t, l.Retire(link.StatusActive, later), &vErr)
}

func TestEvent_IsDeletableState(t *testing.T) {
	assert.True(t, link.Event{State: link.EventCancelled}.IsDeletableState())
	assert.True(t, link.Event{State: link.EventBlocked}.IsDeletableState())
	assert.False(t, link.Event{State: link.EventConfirmed}.IsDeletableState())
	assert.False(t, link.Event{State: link.EventTentative}.IsDeletableState())
}

func TestRemoteBooking_Cancelled(t *testing.T) {
	assert.True(t, link.RemoteBooking{ID: "a", Status: "CANCELLED"}.Cancelled())
	assert.True(t, link.RemoteBooking{ID: "a", Status: "deleted"}.Cancelled())
	assert.False(t, link.RemoteBooking{ID: "a", Status: "confirmed"}.Cancelled())
	assert.False(t, link.RemoteBooking{ID: "a"}.Cancelled())
}
