package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cassiomorais/channelsync/internal/application/dispatch"
	domainErrors "github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/cassiomorais/channelsync/internal/domain/queue"
	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// Runner is the kind-erased face of a Processor.
type Runner interface {
	Kind() queue.Kind
	Run(ctx context.Context, limit int, ids []int64) (Report, error)
	GroupingMetadata(ctx context.Context, ids []int64) (map[int64]queue.GroupKey, error)
	ReclaimStale(ctx context.Context, now time.Time, ttl time.Duration, limit int) (int, error)
}

// Engine routes task names to the processor of the matching kind.
type Engine struct {
	runners map[string]Runner
	logger  zerolog.Logger
}

func NewEngine(logger zerolog.Logger, runners ...Runner) *Engine {
	e := &Engine{
		runners: make(map[string]Runner, len(runners)),
		logger:  observability.Component(logger, "engine"),
	}
	for _, r := range runners {
		e.runners[string(r.Kind())] = r
	}
	return e
}

// Tasks lists the registered task names in processing order.
func (e *Engine) Tasks() []string {
	var tasks []string
	for _, k := range queue.Kinds {
		if _, ok := e.runners[string(k)]; ok {
			tasks = append(tasks, string(k))
		}
	}
	var extra []string
	for name := range e.runners {
		if _, err := queue.ParseKind(name); err != nil {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(tasks, extra...)
}

func (e *Engine) runner(task string) (Runner, error) {
	r, ok := e.runners[task]
	if !ok {
		return nil, fmt.Errorf("task %q: %w", task, domainErrors.ErrUnknownTask)
	}
	return r, nil
}

// Locate implements dispatch.TaskLocator.
func (e *Engine) Locate(task string) (dispatch.GroupingSource, error) {
	return e.runner(task)
}

// Run implements dispatch.Engine.
func (e *Engine) Run(ctx context.Context, task string, limit int, ids []int64) error {
	r, err := e.runner(task)
	if err != nil {
		return err
	}
	rep, err := r.Run(ctx, limit, ids)
	if err != nil {
		return err
	}
	e.logger.Debug().
		Str("task", task).
		Int("claimed", rep.Claimed).
		Int("succeeded", rep.Succeeded).
		Int("failed", rep.Failed).
		Int("exhausted", rep.Exhausted).
		Int("lock_lost", rep.LockLost).
		Msg("batch processed")
	return nil
}

// Sweep runs every kind once over whatever is due, without an id filter.
func (e *Engine) Sweep(ctx context.Context, limit int) error {
	var errs []error
	for _, task := range e.Tasks() {
		if err := e.Run(ctx, task, limit, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Runners returns the registered processors in processing order.
func (e *Engine) Runners() []Runner {
	out := make([]Runner, 0, len(e.runners))
	for _, task := range e.Tasks() {
		out = append(out, e.runners[task])
	}
	return out
}
