package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/queue"
	"github.com/cassiomorais/channelsync/internal/infrastructure/config"
	"github.com/cassiomorais/channelsync/internal/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) watchdog(runners ...Runner) *Watchdog {
	w := NewWatchdog(runners, config.WatchdogConfig{TTL: 5 * time.Minute, Interval: time.Minute}, zerolog.Nop())
	w.now = h.clock.Now
	return w
}

// claimedPull stores a booking pull that worker-9 claimed at the current time.
func (h *harness) claimedPull(t *testing.T) *queue.BookingPull {
	t.Helper()
	pull := queue.NewBookingPull(1, 4, 100, testutil.Epoch, testutil.Epoch, h.clock.Now())
	pull.MaxAttempts = testRetry.MaxAttempts
	h.pulls.Put(pull)
	require.NoError(t, pull.MarkProcessing("worker-9", h.clock.Now()))
	return h.pulls.Put(pull)
}

func TestWatchdog_ReclaimsAfterTTL(t *testing.T) {
	h := newHarness(t)
	pull := h.claimedPull(t)
	p := newTestProcessor[*queue.BookingPull](h, h.pulls, okHandler[*queue.BookingPull]())
	w := h.watchdog(p)

	h.clock.Advance(4 * time.Minute)
	n, err := w.Sweep(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, queue.StatusProcessing, h.pulls.Snapshot(pull.ID).Status)

	h.clock.Advance(2 * time.Minute)
	n, err = w.Sweep(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := h.pulls.Snapshot(pull.ID)
	assert.Equal(t, queue.StatusFailed, stored.Status)
	assert.Equal(t, queue.ReasonWatchdogTimeout, stored.Reason())
	assert.Equal(t, 1, stored.RetryCount)
	assert.False(t, stored.IsLocked())
	assert.True(t, stored.NeedsSync)
	assert.Contains(t, *stored.LastMessage, "worker-9")
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.WatchdogReclaims.WithLabelValues("booking_pull")))

	// Immediately claimable by another worker.
	rep, err := p.Run(t.Context(), 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)
}

func TestWatchdog_ExhaustedReclaimGoesToDeadLetters(t *testing.T) {
	h := newHarness(t)
	pull := h.claimedPull(t)
	stored := h.pulls.Snapshot(pull.ID)
	stored.RetryCount = testRetry.MaxAttempts - 1
	h.pulls.Put(stored)
	p := newTestProcessor[*queue.BookingPull](h, h.pulls, okHandler[*queue.BookingPull]())

	h.clock.Advance(6 * time.Minute)
	n, err := h.watchdog(p).Sweep(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored = h.pulls.Snapshot(pull.ID)
	assert.True(t, stored.IsTerminal())
	dls := h.publisher.DeadLetters()
	require.Len(t, dls, 1)
	assert.Equal(t, queue.ReasonWatchdogTimeout, dls[0].Reason)
	assert.Equal(t, pull.ID, dls[0].ItemID)
}

func TestWatchdog_WorkerThatFinishesFirstWins(t *testing.T) {
	h := newHarness(t)
	pull := h.claimedPull(t)
	p := newTestProcessor[*queue.BookingPull](h, h.pulls, okHandler[*queue.BookingPull]())
	h.pulls.SaveFunc = func(ctx context.Context, rec *queue.BookingPull, guard queue.Guard) error {
		h.pulls.SaveFunc = nil
		// The slow worker saves its success between FindStale and Save.
		done := h.pulls.Snapshot(rec.ID)
		require.NoError(t, done.MarkSuccess(h.clock.Now()))
		h.pulls.Put(done)
		return h.pulls.Save(ctx, rec, guard)
	}

	h.clock.Advance(6 * time.Minute)
	n, err := h.watchdog(p).Sweep(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, queue.StatusSuccess, h.pulls.Snapshot(pull.ID).Status)
}

func TestWatchdog_SweepsEveryRunner(t *testing.T) {
	h := newHarness(t)
	h.claimedPull(t)
	l := h.links.AddLink(testutil.NewTestLink(7, 1, ""))
	push := h.seedPush(t, l, queue.OperationCreate)
	require.NoError(t, push.MarkProcessing("worker-9", h.clock.Now()))
	h.pushes.Put(push)

	h.clock.Advance(10 * time.Minute)
	n, err := h.watchdog(
		newTestProcessor[*queue.BookingPull](h, h.pulls, okHandler[*queue.BookingPull]()),
		h.pushProcessor(),
	).Sweep(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestWatchdog_RunStopsWithContext(t *testing.T) {
	h := newHarness(t)
	w := h.watchdog()
	w.interval = time.Millisecond

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, w.Run(ctx))
}
