package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 10, cfg.Business.LowStockThreshold)
	assert.Equal(t, 3*time.Second, cfg.Verification.PollInterval)
	assert.Equal(t, 40, cfg.Verification.PollMaxAttempts)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("LOW_STOCK_THRESHOLD", "25")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("VERIFICATION_POLL_INTERVAL", "500ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 25, cfg.Business.LowStockThreshold)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 500*time.Millisecond, cfg.Verification.PollInterval)
}

func TestLoadRejectsInvalidPolling(t *testing.T) {
	t.Setenv("VERIFICATION_POLL_MULTIPLIER", "0.5")

	_, err := Load()
	assert.Error(t, err)
}
