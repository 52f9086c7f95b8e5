package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STATS_DATABASE_URL", "postgres://localhost/bf1942")
	t.Setenv("DISCORD_BOT_TOKEN", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data/bot.db", cfg.DatabasePath)
	assert.Equal(t, 45*time.Second, cfg.PollingInterval)
	assert.Equal(t, 40*time.Second, cfg.CycleTimeout)
	assert.Equal(t, 10*time.Second, cfg.IOTimeout)
	assert.Equal(t, 4, cfg.DeliveryWorkers)
	assert.Equal(t, 5.0, cfg.DeliveryRatePerSecond)
	assert.Equal(t, 5, cfg.DeliveryMaxAttempts)
	assert.Equal(t, time.Hour, cfg.DeliveryRetryMaxAge)
	assert.Equal(t, 15*time.Minute, cfg.WatchBucket)
	assert.Equal(t, 3*time.Minute, cfg.PresenceSeed)
	assert.Equal(t, "sqlite", cfg.DedupBackend)
	assert.Equal(t, 720*time.Hour, cfg.DedupTTL)
	assert.Equal(t, "bf1942.alert-events", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, ":8090", cfg.HTTPAddr)

	assert.NoError(t, cfg.RequireStats())
	assert.Error(t, cfg.RequireDiscord())
}

func TestLoad_StatsURLOptionalUntilRequired(t *testing.T) {
	t.Setenv("STATS_DATABASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Error(t, cfg.RequireStats())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STATS_DATABASE_URL", "postgres://localhost/bf1942")
	t.Setenv("DISCORD_BOT_TOKEN", "token")
	t.Setenv("POLLING_INTERVAL_SECONDS", "60")
	t.Setenv("DELIVERY_RATE_PER_SECOND", "2.5")
	t.Setenv("DEDUP_BACKEND", "Redis")
	t.Setenv("EVENTS_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("HTTP_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.PollingInterval)
	assert.Equal(t, 2.5, cfg.DeliveryRatePerSecond)
	assert.Equal(t, "redis", cfg.DedupBackend)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Empty(t, cfg.HTTPAddr)
	assert.NoError(t, cfg.RequireDiscord())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad interval", map[string]string{"POLLING_INTERVAL_SECONDS": "soon"}},
		{"zero interval", map[string]string{"POLLING_INTERVAL_SECONDS": "0"}},
		{"bad rate", map[string]string{"DELIVERY_RATE_PER_SECOND": "fast"}},
		{"no workers", map[string]string{"DELIVERY_WORKERS": "0"}},
		{"unknown backend", map[string]string{"DEDUP_BACKEND": "memcached"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STATS_DATABASE_URL", "postgres://localhost/bf1942")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
