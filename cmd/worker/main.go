package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/channelsync/internal/bootstrap"
	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/channelsync/internal/infrastructure/redis"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const backlogBatch = 100

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "channelsync-worker", "channelsync_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	s := app.NewServices()
	workerCfg := app.Config.Worker

	newConsumer := func(stream string) *infraRedis.StreamConsumer {
		c := infraRedis.NewStreamConsumer(
			app.Redis,
			stream,
			workerCfg.ConsumerGroup,
			app.Config.InstanceID,
			int64(workerCfg.BatchSize),
			workerCfg.BlockDuration,
		)
		if err := c.CreateGroup(ctx); err != nil {
			app.Logger.Error().Err(err).Str("stream", stream).Msg("Failed to create consumer group")
		}
		return c
	}
	dispatchConsumer := newConsumer(app.Config.Streams.Dispatch)
	webhookConsumer := newConsumer(app.Config.Streams.Webhook)

	app.Logger.Info().
		Strs("tasks", s.Engine.Tasks()).
		Str("group", workerCfg.ConsumerGroup).
		Msg("Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Dispatch announcements from the API and the enqueuer.
	g.Go(func() error {
		return consume(gCtx, app.Logger, app.Metrics, dispatchConsumer, app.Config.Watchdog.TTL,
			func(ctx context.Context, msg redis.XMessage) error {
				task, ids, err := infraRedis.DecodeDispatch(msg)
				if err != nil {
					return err
				}
				return s.Dispatcher.Dispatch(ctx, task, ids)
			})
	})

	// 2. Recorded webhooks waiting to be resolved.
	g.Go(func() error {
		return consume(gCtx, app.Logger, app.Metrics, webhookConsumer, app.Config.Watchdog.TTL,
			func(ctx context.Context, msg redis.XMessage) error {
				id, err := infraRedis.DecodeWebhook(msg)
				if err != nil {
					return err
				}
				return s.Webhooks.Resolve(ctx, id)
			})
	})

	// 3. Periodic sweep over everything due, in case an announcement was lost.
	g.Go(func() error {
		return every(gCtx, workerCfg.PollInterval, func(ctx context.Context) {
			if err := s.Engine.Sweep(ctx, workerCfg.BatchSize); err != nil {
				app.Logger.Error().Err(err).Msg("Sweep failed")
			}
		})
	})

	// 4. Stuck item recovery and pull scheduling.
	g.Go(func() error { return s.Watchdog.Run(gCtx) })
	g.Go(func() error { return s.Scheduler.Run(gCtx) })

	// 5. Housekeeping: unresolved webhooks and expired idempotency keys.
	g.Go(func() error {
		return every(gCtx, time.Minute, func(ctx context.Context) {
			if n, err := s.Webhooks.ResolveBacklog(ctx, backlogBatch); err != nil {
				app.Logger.Error().Err(err).Int("resolved", n).Msg("Webhook backlog failed")
			} else if n > 0 {
				app.Logger.Info().Int("resolved", n).Msg("Webhook backlog resolved")
			}
			if n, err := s.Idempotency.Cleanup(ctx); err != nil {
				app.Logger.Error().Err(err).Msg("Idempotency cleanup failed")
			} else if n > 0 {
				app.Logger.Debug().Int64("deleted", n).Msg("Idempotency keys expired")
			}
		})
	})

	// 6. Wait for shutdown signal.
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}

// consume reads a stream until ctx is done. Messages are acked whatever the
// outcome: the database is the source of truth and the sweeps pick up
// whatever a failed message left behind. Messages another consumer read but
// never acked are taken over once they have been idle for minIdle.
func consume(
	ctx context.Context,
	logger zerolog.Logger,
	metrics *observability.Metrics,
	consumer *infraRedis.StreamConsumer,
	minIdle time.Duration,
	handle func(ctx context.Context, msg redis.XMessage) error,
) error {
	stream := consumer.Stream()
	logger = logger.With().Str("stream", stream).Logger()
	lastReclaim := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var msgs []redis.XMessage
		if minIdle > 0 && time.Since(lastReclaim) > minIdle {
			lastReclaim = time.Now()
			reclaimed, err := consumer.ReclaimIdle(ctx, minIdle)
			if err != nil {
				logger.Warn().Err(err).Msg("Failed to reclaim idle messages")
			}
			msgs = append(msgs, reclaimed...)
		}

		read, err := consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error().Err(err).Msg("Failed to read from stream")
			time.Sleep(1 * time.Second)
			continue
		}
		msgs = append(msgs, read...)

		for _, msg := range msgs {
			start := time.Now()
			status := "success"
			if err := handle(ctx, msg); err != nil {
				status = "error"
				logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to handle message")
			}
			metrics.WorkerMessagesProcessed.WithLabelValues(stream, status).Inc()
			metrics.WorkerProcessingDuration.WithLabelValues(stream).Observe(time.Since(start).Seconds())

			if err := consumer.Ack(ctx, msg.ID); err != nil {
				logger.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to ack message")
			}
		}
	}
}

func every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		fn(ctx)
	}
}
