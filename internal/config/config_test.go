package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
log_level: debug
metrics:
  - name: error_count
    filter: 'level == "ERROR"'
    aggregation: count
    window: 5m
  - name: p95_latency
    filter: 'true'
    aggregation: percentile
    percentile: 95
    value: metadata.latency_ms
    window: 1m
    window_type: tumbling
anomalies:
  - metric_name: error_count
    window_size: 30
    threshold: 2.5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Len(t, cfg.Metrics, 2)
	require.Equal(t, Duration(5*time.Minute), cfg.Metrics[0].Window)
	require.Equal(t, "sliding", cfg.Metrics[0].WindowType)
	require.Equal(t, "tumbling", cfg.Metrics[1].WindowType)
	require.Equal(t, 95.0, cfg.Metrics[1].Percentile)
	require.Len(t, cfg.Anomalies, 1)
	require.Equal(t, 30, cfg.Anomalies[0].WindowSize)
	require.Equal(t, 2.5, cfg.Anomalies[0].Threshold)
	require.Equal(t, 5, cfg.Anomalies[0].MinSamples, "min_samples should default")
	require.True(t, cfg.Anomalies[0].IsEnabled(), "omitted enabled defaults to true")
}

func TestLoadJSON(t *testing.T) {
	path := writeTemp(t, "config.json", `{
		"log_level": "warn",
		"metrics": [
			{"name": "event_count", "filter": "true", "aggregation": "count", "window": 60000000000}
		]
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Len(t, cfg.Metrics, 1)
	require.Equal(t, Duration(time.Minute), cfg.Metrics[0].Window)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown aggregation", func(c *Config) { c.Metrics[0].Aggregation = "median" }},
		{"zero window", func(c *Config) { c.Metrics[0].Window = 0 }},
		{"bad window type", func(c *Config) { c.Metrics[0].WindowType = "hopping" }},
		{"empty filter", func(c *Config) { c.Metrics[0].Filter = "" }},
		{"duplicate metric", func(c *Config) { c.Metrics = append(c.Metrics, c.Metrics[0]) }},
		{"anomaly references unknown metric", func(c *Config) {
			c.Anomalies = append(c.Anomalies, AnomalyConfig{MetricName: "nope"})
		}},
		{"bad min level", func(c *Config) { c.Ingest.Filter.MinLevel = "SEVERE" }},
		{"bad ingest format", func(c *Config) { c.Ingest.Format = "csv" }},
		{"kafka missing topic", func(c *Config) {
			c.Ingest.Kafka.Enabled = true
			c.Ingest.Kafka.Brokers = []string{"localhost:9092"}
		}},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(cfg)
		require.Error(t, Validate(cfg), tc.name)
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestManagerReloadOnChange(t *testing.T) {
	path := writeTemp(t, "config.yaml", "log_level: info\n")
	m, err := NewManager(path)
	require.NoError(t, err)
	require.Equal(t, "info", m.Get().LogLevel)

	// mtime granularity is one second on some filesystems.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o644))
	require.NoError(t, os.Chtimes(path, future, future))

	needs, err := m.NeedsReload()
	require.NoError(t, err)
	require.True(t, needs)

	cfg, err := m.Reload()
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "debug", m.Get().LogLevel)
}

func TestManagerFromConfigNeverReloads(t *testing.T) {
	m := NewManagerFromConfig(DefaultConfig())
	needs, err := m.NeedsReload()
	require.NoError(t, err)
	require.False(t, needs)
	require.Empty(t, m.Path())
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.yaml")
	cfg := DefaultConfig()
	cfg.LogLevel = "error"
	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "error", loaded.LogLevel)
	require.Equal(t, len(cfg.Metrics), len(loaded.Metrics))
}
