package metric

import (
	"fmt"
	"time"

	"loglens/internal/model"
	"loglens/internal/window"
)

// The processor depends only on these three signatures; how expressions are
// parsed and executed is the evaluator's concern (see internal/expr).
type (
	FilterFunc func(model.Event) (bool, error)
	KeyFunc    func(model.Event) (string, error)
	ValueFunc  func(model.Event) (any, error)
)

// Reducer is the escape hatch for caller-supplied aggregations. It receives
// the extracted values of the current window entries.
type Reducer func(values []float64) float64

type Aggregation string

const (
	AggCount       Aggregation = "count"
	AggSum         Aggregation = "sum"
	AggAverage     Aggregation = "average"
	AggMin         Aggregation = "min"
	AggMax         Aggregation = "max"
	AggPercentile  Aggregation = "percentile"
	AggRate        Aggregation = "rate"
	AggUniqueCount Aggregation = "unique_count"
	AggCustom      Aggregation = "custom"
)

func ParseAggregation(s string) (Aggregation, error) {
	switch Aggregation(s) {
	case AggCount, AggSum, AggAverage, AggMin, AggMax, AggPercentile, AggRate, AggUniqueCount, AggCustom:
		return Aggregation(s), nil
	}
	return "", fmt.Errorf("unknown aggregation: %q", s)
}

// needsNumeric reports whether the aggregation consumes extracted numeric
// values and therefore requires a value extractor.
func (a Aggregation) needsNumeric() bool {
	switch a {
	case AggSum, AggAverage, AggMin, AggMax, AggPercentile, AggCustom:
		return true
	}
	return false
}

const DefaultMaxGroups = 1000

// Definition is one declaratively configured metric. Immutable for the life
// of a Processor.
type Definition struct {
	Name        string
	Filter      FilterFunc
	Aggregation Aggregation
	Percentile  float64 // for AggPercentile, in [0, 100]
	Reducer     Reducer // for AggCustom
	Window      time.Duration
	WindowType  window.Type
	GroupBy     KeyFunc   // optional
	Value       ValueFunc // required by numeric aggregations and unique_count
	MaxGroups   int       // cap on tracked group keys, DefaultMaxGroups if zero
}

func (d *Definition) validate() error {
	if d.Name == "" {
		return &ConfigError{Reason: "metric name cannot be empty"}
	}
	if d.Filter == nil {
		return &ConfigError{Metric: d.Name, Reason: "filter is required"}
	}
	if _, err := ParseAggregation(string(d.Aggregation)); err != nil {
		return &ConfigError{Metric: d.Name, Reason: err.Error()}
	}
	if _, err := ParseType(d.WindowType); err != nil {
		return &ConfigError{Metric: d.Name, Reason: err.Error()}
	}
	if d.Window <= 0 {
		return &ConfigError{Metric: d.Name, Reason: fmt.Sprintf("non-positive window duration: %s", d.Window)}
	}
	if d.Aggregation.needsNumeric() && d.Value == nil {
		return &ConfigError{Metric: d.Name, Reason: fmt.Sprintf("value extractor required for %s aggregation", d.Aggregation)}
	}
	if d.Aggregation == AggUniqueCount && d.Value == nil {
		return &ConfigError{Metric: d.Name, Reason: "value extractor required for unique_count aggregation"}
	}
	if d.Aggregation == AggPercentile && (d.Percentile < 0 || d.Percentile > 100) {
		return &ConfigError{Metric: d.Name, Reason: fmt.Sprintf("percentile out of range: %v", d.Percentile)}
	}
	if d.Aggregation == AggCustom && d.Reducer == nil {
		return &ConfigError{Metric: d.Name, Reason: "reducer required for custom aggregation"}
	}
	return nil
}

func (d *Definition) maxGroups() int {
	if d.MaxGroups > 0 {
		return d.MaxGroups
	}
	return DefaultMaxGroups
}

// ParseType wraps window.ParseType, which maps the empty string to sliding.
func ParseType(t window.Type) (window.Type, error) {
	return window.ParseType(string(t))
}

// ConfigError reports an invalid metric definition. Raised at processor
// construction, never mid-stream.
type ConfigError struct {
	Metric string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Metric == "" {
		return "metric config: " + e.Reason
	}
	return fmt.Sprintf("metric config %q: %s", e.Metric, e.Reason)
}

// EvalError reports a filter/group/value expression failing against one
// event. It aborts that metric for that event only.
type EvalError struct {
	Metric string
	Event  model.Event
	Err    error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("metric %q: evaluate event %s %s: %v", e.Metric, e.Event.Timestamp.Format(time.RFC3339), e.Event.Source, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}
