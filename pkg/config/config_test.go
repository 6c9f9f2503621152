package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 24*time.Hour, c.Allocator.UpdateFrequency)
	assert.Equal(t, 0.05, c.Allocator.MinPodWeight)
	assert.Equal(t, 0.5, c.Allocator.MaxPodWeight)
	assert.Equal(t, 30, c.Allocator.PerformanceWindowDays)
	assert.Equal(t, 0.15, c.Allocator.RegretCap)
	assert.Equal(t, time.Minute, c.Allocator.TickInterval)
	assert.Equal(t, 20, c.Pods.Trend.Lookback)
	assert.Equal(t, 500*time.Millisecond, c.Pods.GradientBoosted.ModelTimeout)
	assert.Equal(t, "alpha.features", c.Kafka.Topics.Features)
	assert.Equal(t, "alphablend:", c.Redis.Prefix)
	assert.False(t, c.Kafka.Enabled)
	assert.Equal(t, 1000, c.Redis.MemoryMaxSize)
	assert.Equal(t, 5*time.Minute, c.Redis.MemoryCleanup)
	assert.Equal(t, 2*time.Second, c.Ingest.SinkTimeout)
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
environment: production
log:
  level: debug
allocator:
  min_pod_weight: 0.1
  max_pod_weight: 0.4
pods:
  trend:
    lookback: 30
  boosted:
    enabled: false
model_service:
  url: http://models:8000
`))
	require.NoError(t, err)
	assert.Equal(t, "production", c.Environment)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 0.1, c.Allocator.MinPodWeight)
	assert.Equal(t, 30, c.Pods.Trend.Lookback)
	assert.Equal(t, 1.5, c.Pods.Trend.ATRMultiplier, "unset keys keep defaults")
	assert.False(t, c.Pods.GradientBoosted.Enabled)
	assert.Equal(t, "http://models:8000", c.ModelService.URL)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"min above max":     "allocator:\n  min_pod_weight: 0.6\n  max_pod_weight: 0.5\n",
		"bad log level":     "log:\n  level: verbose\n",
		"kafka no brokers":  "kafka:\n  enabled: true\n",
		"long before short": "pods:\n  mean_reversion:\n    short_period: 60\n    long_period: 50\n",
		"bad yaml":          "allocator: [",
		"fade floor":        "pods:\n  mean_reversion:\n    min_confidence: 0.1\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600))

	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("REDIS_HOST", "redis")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, 9100, c.Server.Port)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "redis", c.Redis.Host)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
