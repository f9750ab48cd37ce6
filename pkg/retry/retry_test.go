package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts uint) Config {
	return Config{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	var retried []uint
	cfg := fastConfig(5)
	cfg.OnRetry = func(n uint, _ error) { retried = append(retried, n) }

	err := Do(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, retried, 2)
}

func TestDo_ReturnsLastError(t *testing.T) {
	boom := errors.New("still down")
	err := Do(context.Background(), fastConfig(3), func() error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	invalid := errors.New("invalid_grant")

	err := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return Permanent(invalid)
	})

	assert.ErrorIs(t, err, invalid)
	assert.Equal(t, 1, calls)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	v, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("flaky")
		}
		return "token", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "token", v)
}
