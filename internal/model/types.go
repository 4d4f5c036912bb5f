package model

import (
	"strings"
	"time"
)

type Level string

const (
	LevelTrace    Level = "TRACE"
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
	LevelFatal    Level = "FATAL"
)

func ParseLevel(s string) (Level, bool) {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelTrace:
		return LevelTrace, true
	case LevelDebug:
		return LevelDebug, true
	case LevelInfo:
		return LevelInfo, true
	case LevelWarning, "WARN":
		return LevelWarning, true
	case LevelError:
		return LevelError, true
	case LevelCritical:
		return LevelCritical, true
	case LevelFatal:
		return LevelFatal, true
	}
	return "", false
}

func (l Level) IsError() bool {
	return l == LevelError || l == LevelCritical || l == LevelFatal
}

// Event is the canonical unit flowing through the pipeline. Created by
// ingestion, read-only everywhere downstream.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Source    string         `json:"source"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MetricResult is produced on every window update (sliding) or window close
// (tumbling). Exactly one of Value or GroupedValues is meaningful.
type MetricResult struct {
	MetricName    string             `json:"metric_name"`
	WindowStart   time.Time          `json:"window_start"`
	WindowEnd     time.Time          `json:"window_end"`
	Value         float64            `json:"value"`
	GroupedValues map[string]float64 `json:"grouped_values,omitempty"`
}

type Direction string

const (
	DirectionSpike Direction = "spike"
	DirectionDrop  Direction = "drop"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type AnomalyRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	MetricName   string    `json:"metric_name"`
	Value        float64   `json:"value"`
	BaselineMean float64   `json:"baseline_mean"`
	BaselineStd  float64   `json:"baseline_std"`
	ZScore       float64   `json:"z_score"`
	Direction    Direction `json:"direction"`
	Severity     Severity  `json:"severity"`
	Explanation  string    `json:"explanation,omitempty"`
}

type DetectorState string

const (
	StateWarmingUp DetectorState = "warming_up"
	StateActive    DetectorState = "active"
)

// BaselineStats is the anomaly detector's introspection snapshot.
type BaselineStats struct {
	MetricName  string        `json:"metric_name"`
	Mean        float64       `json:"mean"`
	StdDev      float64       `json:"std_dev"`
	SampleCount int           `json:"sample_count"`
	WindowSize  int           `json:"window_size"`
	State       DetectorState `json:"state"`
}
