package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
	"github.com/cassiomorais/channelsync/internal/infrastructure/config"
	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// ReclaimStale fails every processing item whose claim is older than ttl so
// that it can be claimed again. A worker that saves its outcome first wins:
// the reclaim is then skipped.
func (p *Processor[T]) ReclaimStale(ctx context.Context, now time.Time, ttl time.Duration, limit int) (int, error) {
	stale, err := p.store.FindStale(ctx, now.Add(-ttl), limit)
	if err != nil {
		return 0, fmt.Errorf("find stale %s: %w", p.Kind(), err)
	}

	reclaimed := 0
	var errs []error
	for _, rec := range stale {
		item := rec.Core()
		guard := queue.GuardOf(item)
		if err := item.ReclaimAfterTimeout(now); err != nil {
			continue
		}
		if err := p.store.Save(ctx, rec, guard); err != nil {
			if errors.Is(err, domainErrors.ErrLockLost) {
				continue
			}
			errs = append(errs, fmt.Errorf("reclaim %s %d: %w", p.Kind(), item.ID, err))
			continue
		}
		reclaimed++
		p.metrics.WatchdogReclaims.WithLabelValues(string(p.Kind())).Inc()
		logger := p.logger.With().Int64("item_id", item.ID).Logger()
		logger.Warn().Str("message", *item.LastMessage).Msg("reclaimed orphaned item")
		if item.IsExhausted() {
			p.metrics.QueueExhausted.WithLabelValues(string(p.Kind()), queue.ReasonWatchdogTimeout).Inc()
			p.publishDeadLetter(ctx, rec, logger)
		}
	}
	return reclaimed, errors.Join(errs...)
}

// Watchdog periodically returns orphaned claims to the queue.
type Watchdog struct {
	runners  []Runner
	ttl      time.Duration
	interval time.Duration
	batch    int
	logger   zerolog.Logger
	now      Clock
}

func NewWatchdog(runners []Runner, cfg config.WatchdogConfig, logger zerolog.Logger) *Watchdog {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Watchdog{
		runners:  runners,
		ttl:      cfg.TTL,
		interval: cfg.Interval,
		batch:    batch,
		logger:   observability.Component(logger, "watchdog"),
		now:      time.Now,
	}
}

// Sweep runs one pass over every kind and returns how many items it reclaimed.
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	now := w.now()
	total := 0
	var errs []error
	for _, r := range w.runners {
		n, err := r.ReclaimStale(ctx, now, w.ttl, w.batch)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// Run sweeps every interval until ctx is done.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		n, err := w.Sweep(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("watchdog sweep failed")
		}
		if n > 0 {
			w.logger.Info().Int("reclaimed", n).Msg("watchdog sweep done")
		}
	}
}
