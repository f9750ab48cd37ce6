package channel_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/channel"
	"github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := channel.DefaultRegistry()
	assert.Len(t, r.All(), len(channel.DefaultEndpoints))

	e, err := r.ByAction(channel.ActionBookingCancel)
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, e.Method)

	byID, err := r.ByID(e.ID)
	require.NoError(t, err)
	assert.Equal(t, e, byID)

	_, err = r.ByID(404)
	assert.ErrorIs(t, err, errors.ErrUnknownEndpoint)
	_, err = r.ByAction("bookings.teleport")
	assert.ErrorIs(t, err, errors.ErrUnknownEndpoint)
}

func TestNewRegistry_RejectsDuplicates(t *testing.T) {
	_, err := channel.NewRegistry([]channel.Endpoint{
		{ID: 1, Action: channel.ActionRateUpdate, Path: "/rates", Method: http.MethodPost},
		{ID: 2, Action: channel.ActionRateUpdate, Path: "/rates/v2", Method: http.MethodPost},
	})
	var vErr *errors.ValidationError
	assert.ErrorAs(t, err, &vErr)

	_, err = channel.NewRegistry([]channel.Endpoint{{ID: 1, Action: channel.ActionRateUpdate}})
	assert.ErrorAs(t, err, &vErr)
}

func TestEndpoint_Resolve(t *testing.T) {
	e := channel.Endpoint{Path: "/bookings/{remote_id}"}

	path, err := e.Resolve(map[string]string{"remote_id": "R 1/2"})
	require.NoError(t, err)
	assert.Equal(t, "/bookings/R%201%2F2", path)

	_, err = e.Resolve(nil)
	assert.Error(t, err)
}

func TestCredential_NeedsRefresh(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	soon := now.Add(10 * time.Second)
	later := now.Add(time.Hour)

	tests := []struct {
		name string
		cred channel.Credential
		want bool
	}{
		{"no token", channel.Credential{}, true},
		{"no expiry", channel.Credential{AccessToken: "a"}, false},
		{"inside leeway", channel.Credential{AccessToken: "a", ExpiresAt: &soon}, true},
		{"valid", channel.Credential{AccessToken: "a", ExpiresAt: &later}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cred.NeedsRefresh(now))
		})
	}
}

func TestCredential_Rotate(t *testing.T) {
	now := time.Now()
	exp := now.Add(time.Hour)
	c := channel.Credential{AccessToken: "old", RefreshToken: "r1", TokenURL: "https://auth/token"}
	assert.True(t, c.CanRefresh())

	c.Rotate("new", "", &exp, now)
	assert.Equal(t, "new", c.AccessToken)
	assert.Equal(t, "r1", c.RefreshToken)
	assert.False(t, c.NeedsRefresh(now))

	c.Rotate("newer", "r2", &exp, now)
	assert.Equal(t, "r2", c.RefreshToken)
}
