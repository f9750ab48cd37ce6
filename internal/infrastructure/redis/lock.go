package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/channelsync/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// Lua script for safe lock release (only owner can release)
	releaseLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	// Lua script for lock extension
	extendLockScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// DistributedLock represents a distributed lock using Redis
type DistributedLock struct {
	client   *redis.Client
	key      string
	value    string
	ttl      time.Duration
	acquired bool
}

// NewDistributedLock creates a new distributed lock
func NewDistributedLock(client *redis.Client, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    fmt.Sprintf("lock:%s", key),
		value:  uuid.New().String(),
		ttl:    ttl,
	}
}

// Acquire attempts to acquire the lock
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	// Use SET NX PX to atomically set the lock if it doesn't exist
	success, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	l.acquired = success
	return success, nil
}

// AcquireWithRetry polls until the lock is free, the context ends or
// maxRetries attempts were made.
func (l *DistributedLock) AcquireWithRetry(ctx context.Context, maxRetries int, retryDelay time.Duration) error {
	for i := 0; i < maxRetries; i++ {
		acquired, err := l.Acquire(ctx)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		// Wait before retrying
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
			continue
		}
	}

	return fmt.Errorf("%s: %w", l.key, errors.ErrLockAcquisitionFailed)
}

// Extend extends the lock TTL
func (l *DistributedLock) Extend(ctx context.Context, additionalTTL time.Duration) error {
	if !l.acquired {
		return errors.ErrLockNotHeld
	}

	result, err := extendLockScript.Run(
		ctx,
		l.client,
		[]string{l.key},
		l.value,
		additionalTTL.Milliseconds(),
	).Result()
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}

	val, ok := result.(int64)
	if !ok || val == 0 {
		return errors.ErrLockNotHeld
	}

	return nil
}

// Release releases the lock
func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}

	result, err := releaseLockScript.Run(
		ctx,
		l.client,
		[]string{l.key},
		l.value,
	).Result()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	l.acquired = false
	val, ok := result.(int64)
	if !ok || val == 0 {
		return errors.ErrLockNotHeld
	}
	return nil
}

// IsAcquired returns whether the lock is acquired
func (l *DistributedLock) IsAcquired() bool {
	return l.acquired
}

// Locker hands out distributed locks for one key namespace.
type Locker struct {
	client     *redis.Client
	prefix     string
	ttl        time.Duration
	retryDelay time.Duration
}

func NewLocker(client *redis.Client, prefix string, ttl time.Duration) *Locker {
	return &Locker{client: client, prefix: prefix, ttl: ttl, retryDelay: 100 * time.Millisecond}
}

// WithLock runs fn while holding the lock for key. It waits for up to one
// lock TTL for a concurrent holder to finish.
func (k *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lock := NewDistributedLock(k.client, k.prefix+":"+key, k.ttl)
	attempts := int(k.ttl/k.retryDelay) + 1
	if err := lock.AcquireWithRetry(ctx, attempts, k.retryDelay); err != nil {
		return err
	}
	defer lock.Release(context.WithoutCancel(ctx))
	return fn(ctx)
}
