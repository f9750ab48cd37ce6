package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.TraceLevel, parseLogLevel("trace"))
	assert.Equal(t, zerolog.DebugLevel, parseLogLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel("nonsense"))
}

func TestComponent_TagsLogLines(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(InitLogger("info", &buf), "watchdog")
	logger.Info().Msg("scan")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "watchdog", line["component"])
	assert.Equal(t, "scan", line["message"])
}

func TestNewMetrics_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.QueueItemsProcessed.WithLabelValues("rate_delivery", "success").Inc()
	m.WatchdogReclaims.WithLabelValues("booking_push").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueItemsProcessed.WithLabelValues("rate_delivery", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WatchdogReclaims.WithLabelValues("booking_push")))

	// A second set on a fresh registry must not collide.
	assert.NotPanics(t, func() { NewMetrics("test", prometheus.NewRegistry()) })
}
