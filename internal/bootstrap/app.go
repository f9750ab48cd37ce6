package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/cassiomorais/channelsync/internal/controller"
	"github.com/cassiomorais/channelsync/internal/infrastructure/config"
	"github.com/cassiomorais/channelsync/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/channelsync/internal/infrastructure/redis"
	"github.com/cassiomorais/channelsync/internal/repository/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics

	// TracerProvider is nil when tracing is disabled.
	TracerProvider trace.TracerProvider
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, os.Stdout).
		With().Str("service", serviceName).Str("instance", cfg.InstanceID).Logger()
	logger.Info().Msg("Starting")

	app := &App{Config: cfg, Logger: logger}

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			go func() {
				<-ctx.Done()
				observability.Shutdown(context.Background(), tp)
			}()
			app.TracerProvider = tp
			logger.Info().Msg("Tracing enabled")
		}
	}

	app.Metrics = observability.NewMetrics(metricsNamespace, nil)
	logger.Info().Msg("Metrics initialized")

	app.Pool, err = postgres.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("Connected to PostgreSQL")

	app.Redis, err = infraRedis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		app.Pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("Connected to Redis")

	return app, nil
}

// Checks are the readiness probes of the process's dependencies.
func (a *App) Checks() map[string]controller.Check {
	return map[string]controller.Check{
		"database": a.Pool.Ping,
		"redis": func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		},
	}
}

func (a *App) Close() {
	a.Redis.Close()
	a.Pool.Close()
}
