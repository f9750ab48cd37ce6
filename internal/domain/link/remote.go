package link

import "strings"

// RemoteBooking is a booking as reported by the remote side, through a pull
// or a webhook.
type RemoteBooking struct {
	ID     string
	Status string
	Raw    map[string]any
}

var cancelledRemoteStatuses = map[string]bool{
	"cancelled": true,
	"canceled":  true,
	"deleted":   true,
}

// Cancelled reports whether the remote side no longer holds the booking.
func (b RemoteBooking) Cancelled() bool {
	return cancelledRemoteStatuses[strings.ToLower(b.Status)]
}
