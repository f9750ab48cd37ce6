package dispatch

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// GroupingSource reports the credential/endpoint pair of queue items.
type GroupingSource interface {
	GroupingMetadata(ctx context.Context, ids []int64) (map[int64]queue.GroupKey, error)
}

// TaskLocator finds the grouping source behind a task name.
type TaskLocator interface {
	Locate(task string) (GroupingSource, error)
}

// Engine runs one batch of a task.
type Engine interface {
	Run(ctx context.Context, task string, limit int, ids []int64) error
}

// Group is a set of ids that share one credential and endpoint.
type Group struct {
	Key queue.GroupKey
	IDs []int64
}

// Dispatcher splits a list of item ids into homogeneous groups and hands
// each group to the engine.
type Dispatcher struct {
	locator     TaskLocator
	engine      Engine
	concurrency int
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

func NewDispatcher(locator TaskLocator, engine Engine, concurrency int, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Dispatcher{
		locator:     locator,
		engine:      engine,
		concurrency: concurrency,
		metrics:     metrics,
		logger:      observability.Component(logger, "dispatcher"),
	}
}

// Dispatch runs task for ids, one engine call per group. Groups start in the
// order their first id appears. Ids without grouping metadata do not stop
// the other groups; they are reported with ErrMissingGrouping.
func (d *Dispatcher) Dispatch(ctx context.Context, task string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	source, err := d.locator.Locate(task)
	if err != nil {
		return err
	}

	ids = unique(ids)
	meta, err := source.GroupingMetadata(ctx, ids)
	if err != nil {
		return fmt.Errorf("load grouping metadata for %s: %w", task, err)
	}

	groups, missing := Partition(ids, meta)

	var errs []error
	if len(missing) > 0 {
		if d.metrics != nil {
			d.metrics.DispatchMissing.WithLabelValues(task).Add(float64(len(missing)))
		}
		d.logger.Error().
			Str("task", task).
			Ints64("ids", missing).
			Msg("queue items without grouping metadata")
		errs = append(errs, fmt.Errorf("%w: task %s, ids %v", domainErrors.ErrMissingGrouping, task, missing))
	}

	groupErrs := make([]error, len(groups))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, grp := range groups {
		g.Go(func() error {
			if d.metrics != nil {
				d.metrics.DispatchGroups.WithLabelValues(task).Inc()
			}
			if err := d.engine.Run(ctx, task, len(grp.IDs), grp.IDs); err != nil {
				groupErrs[i] = fmt.Errorf("group %s: %w", grp.Key, err)
			}
			return nil
		})
	}
	g.Wait()

	return errors.Join(append(errs, groupErrs...)...)
}

// Partition groups ids by their grouping key in first-seen order. Ids absent
// from meta are returned separately.
func Partition(ids []int64, meta map[int64]queue.GroupKey) ([]Group, []int64) {
	var (
		groups  []Group
		missing []int64
		index   = make(map[string]int)
	)
	for _, id := range ids {
		key, ok := meta[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		pos, seen := index[key.String()]
		if !seen {
			pos = len(groups)
			index[key.String()] = pos
			groups = append(groups, Group{Key: key})
		}
		groups[pos].IDs = append(groups[pos].IDs, id)
	}
	return groups, missing
}

func unique(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
