package syncer

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/webhook"
	"github.com/cassiomorais/channelsync/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type webhookHarness struct {
	*harness
	audits  *testutil.MockAuditRepository
	service *WebhookService
}

func newWebhookHarness(t *testing.T) *webhookHarness {
	h := newHarness(t)
	audits := testutil.NewMockAuditRepository()
	s := NewWebhookService(audits, h.links, h.enqueuer(), h.publisher, PullWindow{Days: 30}, h.metrics, zerolog.Nop())
	s.now = h.clock.Now
	return &webhookHarness{harness: h, audits: audits, service: s}
}

func (w *webhookHarness) receive(t *testing.T, body string) *webhook.AuditRecord {
	t.Helper()
	rec, err := w.service.Receive(t.Context(), []byte(body), false, http.Header{"Content-Type": {"application/json"}}, "10.0.0.1:443")
	require.NoError(t, err)
	return rec
}

func TestWebhook_ReceiveRecordsAndAnnounces(t *testing.T) {
	w := newWebhookHarness(t)

	rec := w.receive(t, `{"event":"booking.modified","booking_id":"R-1"}`)
	assert.Equal(t, "booking.modified", rec.EventType)
	assert.Equal(t, webhook.StatusReceived, rec.Status)
	assert.Equal(t, []int64{rec.ID}, w.publisher.Webhooks())
}

func TestWebhook_ReceiveKeepsGarbage(t *testing.T) {
	w := newWebhookHarness(t)

	rec, err := w.service.Receive(t.Context(), []byte("\x00not json"), true, http.Header{}, "")
	require.NoError(t, err)
	assert.Equal(t, webhook.UnknownEventType, rec.EventType)
	assert.Equal(t, true, rec.Metadata["truncated"])
	assert.Contains(t, rec.Metadata, "parse_error")

	require.NoError(t, w.service.Resolve(t.Context(), rec.ID))
	stored, err := w.audits.Get(t.Context(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusError, stored.Status)
	assert.Equal(t, errUnparsable.Error(), *stored.ErrorMessage)
}

func TestWebhook_ReceiveFailsOnlyWhenNothingIsStored(t *testing.T) {
	w := newWebhookHarness(t)
	w.audits.InsertFunc = func(context.Context, *webhook.AuditRecord) error {
		return errors.New("disk full")
	}

	_, err := w.service.Receive(t.Context(), []byte(`{}`), false, http.Header{}, "")
	assert.ErrorContains(t, err, "disk full")
	assert.Empty(t, w.publisher.Webhooks())
}

func TestWebhook_ResolveTouchesLinkAndQueuesPull(t *testing.T) {
	w := newWebhookHarness(t)
	l := w.links.AddLink(testutil.NewTestLink(7, 1, "4417"))
	rec := w.receive(t, `{"type":"booking.cancelled","data":{"id":4417}}`)
	w.clock.Advance(time.Minute)

	require.NoError(t, w.service.Resolve(t.Context(), rec.ID))

	stored, err := w.audits.Get(t.Context(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusProcessed, stored.Status)
	assert.Equal(t, "4417", stored.Metadata["remote_booking_id"])
	assert.Equal(t, l.ID, stored.Metadata["link_id"])
	assert.Equal(t, true, stored.Metadata["pull_armed"])

	assert.Equal(t, w.clock.Now(), *w.links.Link(l.ID).LastSeenAt)
	pulls := w.pulls.All()
	require.Len(t, pulls, 1)
	assert.Equal(t, int64(1), pulls[0].MappingID)
	assert.Equal(t, stored.Metadata["pull_id"], pulls[0].ID)
}

func TestWebhook_ResolveIsIdempotent(t *testing.T) {
	w := newWebhookHarness(t)
	w.links.AddLink(testutil.NewTestLink(7, 1, "R-1"))
	rec := w.receive(t, `{"booking_id":"R-1"}`)

	require.NoError(t, w.service.Resolve(t.Context(), rec.ID))
	require.NoError(t, w.service.Resolve(t.Context(), rec.ID))
	assert.Len(t, w.pulls.All(), 1)
}

func TestWebhook_ResolveErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{name: "no booking id", body: `{"event":"ping"}`, want: errNoBookingID},
		{name: "unknown remote booking", body: `{"booking_id":"R-404"}`, want: errUnknownRemote},
		{name: "array payload", body: `[1,2,3]`, want: errUnparsable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWebhookHarness(t)
			rec := w.receive(t, tt.body)

			require.NoError(t, w.service.Resolve(t.Context(), rec.ID))
			stored, err := w.audits.Get(t.Context(), rec.ID)
			require.NoError(t, err)
			assert.Equal(t, webhook.StatusError, stored.Status)
			assert.Equal(t, tt.want.Error(), *stored.ErrorMessage)
			assert.Empty(t, w.pulls.All())
		})
	}
}

func TestWebhook_ResolveWithRetiredMapping(t *testing.T) {
	w := newWebhookHarness(t)
	w.links.AddLink(testutil.NewTestLink(7, 42, "R-1"))
	rec := w.receive(t, `{"booking_id":"R-1"}`)

	require.NoError(t, w.service.Resolve(t.Context(), rec.ID))
	stored, err := w.audits.Get(t.Context(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusError, stored.Status)
	assert.Contains(t, *stored.ErrorMessage, domainErrors.ErrMappingNotFound.Error())
}

func TestWebhook_ResolveBacklog(t *testing.T) {
	w := newWebhookHarness(t)
	w.links.AddLink(testutil.NewTestLink(7, 1, "R-1"))
	first := w.receive(t, `{"booking_id":"R-1"}`)
	second := w.receive(t, `{"event":"ping"}`)

	n, err := w.service.ResolveBacklog(t.Context(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for id, want := range map[int64]webhook.Status{first.ID: webhook.StatusProcessed, second.ID: webhook.StatusError} {
		stored, err := w.audits.Get(t.Context(), id)
		require.NoError(t, err)
		assert.Equal(t, want, stored.Status)
	}

	n, err = w.service.ResolveBacklog(t.Context(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}
