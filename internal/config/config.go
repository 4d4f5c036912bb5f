package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"loglens/internal/metric"
	"loglens/internal/model"
	"loglens/internal/window"
)

// Duration decodes from "5m"-style strings as well as integer nanoseconds,
// in both YAML and JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.decode(raw)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	return d.decode(raw)
}

func (d *Duration) decode(raw any) error {
	switch v := raw.(type) {
	case string:
		dur, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(dur)
	case int:
		*d = Duration(v)
	case int64:
		*d = Duration(v)
	case float64:
		*d = Duration(v)
	default:
		return fmt.Errorf("invalid duration: %v", raw)
	}
	return nil
}

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	LogFormat string          `json:"log_format" yaml:"log_format"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Metrics   []MetricConfig  `json:"metrics" yaml:"metrics"`
	Anomalies []AnomalyConfig `json:"anomalies" yaml:"anomalies"`
	Pipeline  PipelineConfig  `json:"pipeline" yaml:"pipeline"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	API       APIConfig       `json:"api" yaml:"api"`
	Results   ResultsConfig   `json:"results" yaml:"results"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
}

type IngestConfig struct {
	ChannelBuffer int            `json:"channel_buffer" yaml:"channel_buffer"`
	DefaultSource string         `json:"default_source" yaml:"default_source"`
	DefaultLevel  string         `json:"default_level" yaml:"default_level"`
	Format        string         `json:"format" yaml:"format"`
	Strict        bool           `json:"strict" yaml:"strict"`
	Timezone      string         `json:"timezone" yaml:"timezone"`
	Filter        FilterConfig   `json:"filter" yaml:"filter"`
	REST          RESTConfig     `json:"rest" yaml:"rest"`
	Syslog        SyslogConfig   `json:"syslog" yaml:"syslog"`
	FileTail      FileTailConfig `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig    `json:"kafka" yaml:"kafka"`
}

// FilterConfig gates events at the ingest boundary, before any metric sees
// them. Empty lists admit everything.
type FilterConfig struct {
	MinLevel     string   `json:"min_level" yaml:"min_level"`
	AllowSources []string `json:"allow_sources" yaml:"allow_sources"`
	DenySources  []string `json:"deny_sources" yaml:"deny_sources"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type SyslogConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	UDPAddr string `json:"udp_addr" yaml:"udp_addr"`
	TCPAddr string `json:"tcp_addr" yaml:"tcp_addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

// MetricConfig is one declarative metric. Filter, GroupBy, and Value are
// expression strings evaluated against each event (see internal/expr).
type MetricConfig struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Filter      string   `json:"filter" yaml:"filter"`
	Aggregation string   `json:"aggregation" yaml:"aggregation"`
	Window      Duration `json:"window" yaml:"window"`
	WindowType  string   `json:"window_type" yaml:"window_type"`
	GroupBy     string   `json:"group_by,omitempty" yaml:"group_by,omitempty"`
	Value       string   `json:"value,omitempty" yaml:"value,omitempty"`
	Percentile  float64  `json:"percentile,omitempty" yaml:"percentile,omitempty"`
	MaxGroups   int      `json:"max_groups,omitempty" yaml:"max_groups,omitempty"`
}

type AnomalyConfig struct {
	MetricName string  `json:"metric_name" yaml:"metric_name"`
	WindowSize int     `json:"window_size" yaml:"window_size"`
	Threshold  float64 `json:"threshold" yaml:"threshold"`
	MinSamples int     `json:"min_samples" yaml:"min_samples"`
	Enabled    *bool   `json:"enabled" yaml:"enabled"`
}

// IsEnabled treats an omitted enabled flag as true.
func (a AnomalyConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

type PipelineConfig struct {
	// AlertCooldown suppresses storing/logging repeated anomalies for the
	// same metric within the interval. Zero disables suppression.
	AlertCooldown Duration `json:"alert_cooldown" yaml:"alert_cooldown"`
}

type StorageConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Driver     string `json:"driver" yaml:"driver"`
	DSN        string `json:"dsn" yaml:"dsn"`
	SaveEvents bool   `json:"save_events" yaml:"save_events"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type ResultsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			DefaultSource: "unknown",
			DefaultLevel:  string(model.LevelInfo),
			Timezone:      "UTC",
			REST:          RESTConfig{Enabled: false, Addr: ":8080"},
			Syslog:        SyslogConfig{Enabled: false, UDPAddr: ":5514", TCPAddr: ":5514"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
		},
		Metrics: []MetricConfig{
			{
				Name:        "error_count",
				Description: "Count of error-class events",
				Filter:      `level == "ERROR" || level == "CRITICAL" || level == "FATAL"`,
				Aggregation: "count",
				Window:      Duration(5 * time.Minute),
				WindowType:  string(window.TypeSliding),
			},
			{
				Name:        "events_by_source",
				Description: "Event count grouped by source",
				Filter:      "true",
				Aggregation: "count",
				Window:      Duration(5 * time.Minute),
				WindowType:  string(window.TypeSliding),
				GroupBy:     "source",
			},
		},
		Anomalies: []AnomalyConfig{
			{MetricName: "error_count", WindowSize: 20, Threshold: 2.0, MinSamples: 5},
		},
		Pipeline: PipelineConfig{AlertCooldown: 0},
		Storage:  StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:loglens.db?_pragma=busy_timeout(5000)", SaveEvents: true},
		API:      APIConfig{Enabled: true, Addr: ":8081"},
		Results:  ResultsConfig{StoreLimit: 1000},
		Alerts:   AlertsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.DefaultSource == "" {
		cfg.Ingest.DefaultSource = "unknown"
	}
	if cfg.Ingest.DefaultLevel == "" {
		cfg.Ingest.DefaultLevel = string(model.LevelInfo)
	}
	if cfg.Ingest.Timezone == "" {
		cfg.Ingest.Timezone = "UTC"
	}
	if cfg.Results.StoreLimit <= 0 {
		cfg.Results.StoreLimit = 1000
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	for i := range cfg.Metrics {
		if cfg.Metrics[i].WindowType == "" {
			cfg.Metrics[i].WindowType = string(window.TypeSliding)
		}
	}
	for i := range cfg.Anomalies {
		if cfg.Anomalies[i].WindowSize <= 0 {
			cfg.Anomalies[i].WindowSize = 20
		}
		if cfg.Anomalies[i].Threshold <= 0 {
			cfg.Anomalies[i].Threshold = 2.0
		}
		if cfg.Anomalies[i].MinSamples <= 0 {
			cfg.Anomalies[i].MinSamples = 5
		}
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.Syslog.Enabled && cfg.Ingest.Syslog.UDPAddr == "" && cfg.Ingest.Syslog.TCPAddr == "" {
		return errors.New("ingest.syslog.udp_addr or tcp_addr required when ingest.syslog.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	switch cfg.Ingest.Format {
	case "", "auto", "json", "text":
	default:
		return fmt.Errorf("ingest.format: unknown format %q", cfg.Ingest.Format)
	}
	if cfg.Ingest.Filter.MinLevel != "" {
		if _, ok := model.ParseLevel(cfg.Ingest.Filter.MinLevel); !ok {
			return fmt.Errorf("ingest.filter.min_level: unknown level %q", cfg.Ingest.Filter.MinLevel)
		}
	}
	seen := make(map[string]struct{}, len(cfg.Metrics))
	for _, mc := range cfg.Metrics {
		if mc.Name == "" {
			return errors.New("metrics: name cannot be empty")
		}
		if _, dup := seen[mc.Name]; dup {
			return fmt.Errorf("metrics: duplicate name %q", mc.Name)
		}
		seen[mc.Name] = struct{}{}
		if mc.Filter == "" {
			return fmt.Errorf("metrics %q: filter expression required", mc.Name)
		}
		if _, err := metric.ParseAggregation(mc.Aggregation); err != nil {
			return fmt.Errorf("metrics %q: %w", mc.Name, err)
		}
		if mc.Window <= 0 {
			return fmt.Errorf("metrics %q: non-positive window duration: %s", mc.Name, mc.Window)
		}
		if _, err := window.ParseType(mc.WindowType); err != nil {
			return fmt.Errorf("metrics %q: %w", mc.Name, err)
		}
	}
	for _, ac := range cfg.Anomalies {
		if ac.MetricName == "" {
			return errors.New("anomalies: metric_name cannot be empty")
		}
		if _, known := seen[ac.MetricName]; !known {
			return fmt.Errorf("anomalies: unknown metric %q", ac.MetricName)
		}
	}
	return nil
}

// Manager holds the active config behind an atomic.Value and reloads it when
// the file's mtime changes.
type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if info, err := os.Stat(path); err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewManagerFromConfig wraps an in-memory config with no backing file.
// Reload and Watch are inert for such managers.
func NewManagerFromConfig(cfg *Config) *Manager {
	m := &Manager{}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
