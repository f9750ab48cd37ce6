package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/channelsync/internal/infrastructure/config"
	"github.com/cassiomorais/channelsync/pkg/retry"
	"github.com/redis/go-redis/v9"
)

// NewClient creates a new Redis client and waits until it answers PING.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
	})

	maxRetries := cfg.ConnectRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	retryDelay := cfg.ConnectRetryDelay
	if retryDelay <= 0 {
		retryDelay = 1 * time.Second
	}

	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  uint(maxRetries),
		InitialDelay: retryDelay,
		MaxDelay:     time.Duration(maxRetries) * retryDelay,
	}, func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis after %d retries: %w", maxRetries, err)
	}

	return client, nil
}
