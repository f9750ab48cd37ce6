package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// PullWindow is the date range a booking pull covers: from yesterday to
// Days ahead, in UTC calendar days.
type PullWindow struct {
	Days int
}

func (w PullWindow) At(now time.Time) (time.Time, time.Time) {
	days := w.Days
	if days <= 0 {
		days = 365
	}
	today := now.UTC().Truncate(24 * time.Hour)
	return today.AddDate(0, 0, -1), today.AddDate(0, 0, days)
}

// PullEnqueuer schedules a booking pull for one mapping.
type PullEnqueuer interface {
	EnqueuePull(ctx context.Context, mappingID int64, from, to time.Time) (int64, bool, error)
}

// PullScheduler enqueues one pull per active mapping every interval. Pulls
// are deduplicated per mapping, so a slow pull is never doubled.
type PullScheduler struct {
	mappings MappingSource
	enqueuer PullEnqueuer
	window   PullWindow
	interval time.Duration
	logger   zerolog.Logger
	now      Clock
}

func NewPullScheduler(mappings MappingSource, enqueuer PullEnqueuer, window PullWindow, interval time.Duration, logger zerolog.Logger) *PullScheduler {
	return &PullScheduler{
		mappings: mappings,
		enqueuer: enqueuer,
		window:   window,
		interval: interval,
		logger:   observability.Component(logger, "pull_scheduler"),
		now:      time.Now,
	}
}

// Schedule enqueues a pull for every active mapping and reports how many
// were armed.
func (s *PullScheduler) Schedule(ctx context.Context) (int, error) {
	mappings, err := s.mappings.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	from, to := s.window.At(s.now())
	armed := 0
	var errs []error
	for _, m := range mappings {
		_, changed, err := s.enqueuer.EnqueuePull(ctx, m.ID, from, to)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if changed {
			armed++
		}
	}
	return armed, errors.Join(errs...)
}

// Run schedules immediately and then every interval until ctx is done.
func (s *PullScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		n, err := s.Schedule(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to schedule booking pulls")
		}
		if n > 0 {
			s.logger.Info().Int("armed", n).Msg("booking pulls scheduled")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
