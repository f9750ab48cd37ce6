package testutil

import (
	"fmt"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/channel"
	"github.com/cassiomorais/channelsync/internal/domain/link"
)

// Epoch is the fixed "now" most tests run at.
var Epoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func NewTestMapping(id, unitID, credentialID int64) *channel.Mapping {
	return &channel.Mapping{
		ID:               id,
		UnitID:           unitID,
		CredentialID:     credentialID,
		RemotePropertyID: "prop-1",
		RemoteRoomID:     fmt.Sprintf("room-%d", id),
		Active:           true,
	}
}

func NewTestEvent(id int64, state link.EventState) *link.Event {
	return &link.Event{ID: id, State: state, Origin: link.OriginLocal}
}

// NewTestLink builds an active root link, optionally bound to remoteID.
func NewTestLink(eventID, mappingID int64, remoteID string) *link.Link {
	l := &link.Link{
		EventID:   eventID,
		MappingID: mappingID,
		Status:    link.StatusActive,
		CreatedAt: Epoch,
		UpdatedAt: Epoch,
	}
	if remoteID != "" {
		l.RemoteBookingID = StringPtr(remoteID)
	}
	return l
}

// NewTestMirror builds an active mirror of rootID.
func NewTestMirror(eventID, mappingID, rootID int64) *link.Link {
	l := NewTestLink(eventID, mappingID, "")
	l.OriginLinkID = Int64Ptr(rootID)
	return l
}

func StringPtr(s string) *string {
	return &s
}

func Int64Ptr(v int64) *int64 {
	return &v
}
