package metric

import (
	"errors"
	"testing"
	"time"

	"loglens/internal/model"
	"loglens/internal/window"
)

func errorFilter(ev model.Event) (bool, error) { return ev.Level.IsError(), nil }

func allEvents(model.Event) (bool, error) { return true, nil }

func bySource(ev model.Event) (string, error) { return ev.Source, nil }

func eventAt(offset time.Duration, level model.Level, source string) model.Event {
	return model.Event{
		Timestamp: base.Add(offset),
		Level:     level,
		Source:    source,
		Message:   "m",
	}
}

func TestErrorCountOverSlidingWindow(t *testing.T) {
	p, err := NewProcessor([]Definition{{
		Name:        "error_count",
		Filter:      errorFilter,
		Aggregation: AggCount,
		Window:      5 * time.Minute,
	}})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	for i, want := range []float64{1, 2, 3} {
		out, errs := p.AddEvent(eventAt(time.Duration(i)*time.Minute, model.LevelError, "api"))
		if len(errs) != 0 {
			t.Fatalf("unexpected errors: %v", errs)
		}
		res, ok := out["error_count"]
		if !ok {
			t.Fatalf("event %d: no result emitted", i)
		}
		if res.Value != want {
			t.Fatalf("event %d: value = %v, want %v", i, res.Value, want)
		}
	}
	// A filtered-out event emits nothing and leaves the window untouched.
	out, errs := p.AddEvent(eventAt(3*time.Minute, model.LevelInfo, "api"))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if _, ok := out["error_count"]; ok {
		t.Fatalf("filtered event should not emit")
	}
}

func TestEvalErrorIsolation(t *testing.T) {
	boom := errors.New("boom")
	p, err := NewProcessor([]Definition{
		{
			Name:        "broken",
			Filter:      func(model.Event) (bool, error) { return false, boom },
			Aggregation: AggCount,
			Window:      time.Minute,
		},
		{
			Name:        "healthy",
			Filter:      allEvents,
			Aggregation: AggCount,
			Window:      time.Minute,
		},
	})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	out, errs := p.AddEvent(eventAt(0, model.LevelInfo, "api"))
	if _, ok := out["healthy"]; !ok {
		t.Fatalf("healthy metric should still emit")
	}
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1", len(errs))
	}
	var evalErr *EvalError
	if !errors.As(errs[0], &evalErr) || evalErr.Metric != "broken" {
		t.Fatalf("unexpected error: %v", errs[0])
	}
	if !errors.Is(errs[0], boom) {
		t.Fatalf("EvalError should unwrap to the cause")
	}
}

func TestGroupedWindowsAreIndependent(t *testing.T) {
	p, err := NewProcessor([]Definition{{
		Name:        "events_by_source",
		Filter:      allEvents,
		Aggregation: AggCount,
		Window:      5 * time.Minute,
		GroupBy:     bySource,
	}})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	p.AddEvent(eventAt(0, model.LevelInfo, "api"))
	p.AddEvent(eventAt(time.Minute, model.LevelInfo, "api"))
	out, errs := p.AddEvent(eventAt(2*time.Minute, model.LevelInfo, "db"))
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	res := out["events_by_source"]
	if res.GroupedValues["api"] != 2 {
		t.Fatalf("api count = %v, want 2", res.GroupedValues["api"])
	}
	if res.GroupedValues["db"] != 1 {
		t.Fatalf("db count = %v, want 1", res.GroupedValues["db"])
	}
}

func TestGroupCapEvictsOldestGroup(t *testing.T) {
	p, err := NewProcessor([]Definition{{
		Name:        "grouped",
		Filter:      allEvents,
		Aggregation: AggCount,
		Window:      time.Minute,
		GroupBy:     bySource,
		MaxGroups:   2,
	}})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	p.AddEvent(eventAt(0, model.LevelInfo, "a"))
	p.AddEvent(eventAt(time.Second, model.LevelInfo, "b"))
	out, _ := p.AddEvent(eventAt(2*time.Second, model.LevelInfo, "c"))
	res := out["grouped"]
	if len(res.GroupedValues) != 2 {
		t.Fatalf("got %d groups, want 2: %v", len(res.GroupedValues), res.GroupedValues)
	}
	if _, ok := res.GroupedValues["a"]; ok {
		t.Fatalf("least recently used group should have been evicted")
	}
}

func TestOutOfOrderEventIsDropped(t *testing.T) {
	p, err := NewProcessor([]Definition{{
		Name:        "count",
		Filter:      allEvents,
		Aggregation: AggCount,
		Window:      time.Minute,
	}})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	p.AddEvent(eventAt(5*time.Minute, model.LevelInfo, "api"))
	out, errs := p.AddEvent(eventAt(0, model.LevelInfo, "api"))
	if len(errs) != 0 {
		t.Fatalf("stale event should not error: %v", errs)
	}
	if _, ok := out["count"]; ok {
		t.Fatalf("stale event should not emit")
	}
}

func TestTumblingFlushEmitsTrailingWindow(t *testing.T) {
	p, err := NewProcessor([]Definition{{
		Name:        "per_minute",
		Filter:      allEvents,
		Aggregation: AggCount,
		Window:      time.Minute,
		WindowType:  window.TypeTumbling,
	}})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	p.AddEvent(eventAt(10*time.Second, model.LevelInfo, "api"))
	p.AddEvent(eventAt(20*time.Second, model.LevelInfo, "api"))
	out := p.Flush()
	res, ok := out["per_minute"]
	if !ok {
		t.Fatalf("flush should emit the partial window")
	}
	if res.Value != 2 {
		t.Fatalf("flushed value = %v, want 2", res.Value)
	}
	if out := p.Flush(); len(out) != 0 {
		t.Fatalf("second flush should emit nothing")
	}
}

func TestValueExtractionFeedsNumericAggregation(t *testing.T) {
	p, err := NewProcessor([]Definition{{
		Name:        "avg_latency",
		Filter:      allEvents,
		Aggregation: AggAverage,
		Window:      5 * time.Minute,
		Value: func(ev model.Event) (any, error) {
			return ev.Metadata["latency_ms"], nil
		},
	}})
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	for i, latency := range []any{100.0, "200", 300} {
		ev := eventAt(time.Duration(i)*time.Second, model.LevelInfo, "api")
		ev.Metadata = map[string]any{"latency_ms": latency}
		out, errs := p.AddEvent(ev)
		if len(errs) != 0 {
			t.Fatalf("unexpected errors: %v", errs)
		}
		if i == 2 && out["avg_latency"].Value != 200 {
			t.Fatalf("avg = %v, want 200", out["avg_latency"].Value)
		}
	}
	// Missing value is an evaluation error, not a zero sample.
	ev := eventAt(time.Minute, model.LevelInfo, "api")
	out, errs := p.AddEvent(ev)
	if len(errs) != 1 {
		t.Fatalf("expected one eval error, got %v", errs)
	}
	if _, ok := out["avg_latency"]; ok {
		t.Fatalf("failed event should not emit")
	}
}

func TestProcessorConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		defs []Definition
	}{
		{"empty name", []Definition{{Filter: allEvents, Aggregation: AggCount, Window: time.Minute}}},
		{"nil filter", []Definition{{Name: "m", Aggregation: AggCount, Window: time.Minute}}},
		{"unknown aggregation", []Definition{{Name: "m", Filter: allEvents, Aggregation: "median", Window: time.Minute}}},
		{"zero window", []Definition{{Name: "m", Filter: allEvents, Aggregation: AggCount}}},
		{"bad window type", []Definition{{Name: "m", Filter: allEvents, Aggregation: AggCount, Window: time.Minute, WindowType: "hopping"}}},
		{"numeric without value", []Definition{{Name: "m", Filter: allEvents, Aggregation: AggSum, Window: time.Minute}}},
		{"unique without value", []Definition{{Name: "m", Filter: allEvents, Aggregation: AggUniqueCount, Window: time.Minute}}},
		{"percentile out of range", []Definition{{Name: "m", Filter: allEvents, Aggregation: AggPercentile, Percentile: 150, Window: time.Minute, Value: func(model.Event) (any, error) { return 1, nil }}}},
		{"custom without reducer", []Definition{{Name: "m", Filter: allEvents, Aggregation: AggCustom, Window: time.Minute, Value: func(model.Event) (any, error) { return 1, nil }}}},
		{"duplicate names", []Definition{
			{Name: "m", Filter: allEvents, Aggregation: AggCount, Window: time.Minute},
			{Name: "m", Filter: allEvents, Aggregation: AggCount, Window: time.Minute},
		}},
	}
	for _, tc := range cases {
		_, err := NewProcessor(tc.defs)
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("%s: got %v, want ConfigError", tc.name, err)
		}
	}
}
