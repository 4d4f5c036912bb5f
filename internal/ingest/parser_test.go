package ingest

import (
	"testing"
	"time"

	"loglens/internal/config"
	"loglens/internal/model"
)

func testParser() *Parser {
	return NewParser(config.IngestConfig{
		DefaultSource: "unknown",
		DefaultLevel:  "INFO",
		Timezone:      "UTC",
	})
}

func TestParseJSONLine(t *testing.T) {
	p := testParser()
	ev, err := p.ParseLine(`{"timestamp":"2025-03-01T12:00:00Z","level":"error","source":"api","message":"upstream timeout","metadata":{"status":504}}`)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if ev.Level != model.LevelError {
		t.Fatalf("level = %v", ev.Level)
	}
	if ev.Source != "api" {
		t.Fatalf("source = %q", ev.Source)
	}
	if ev.Message != "upstream timeout" {
		t.Fatalf("message = %q", ev.Message)
	}
	want := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", ev.Timestamp, want)
	}
	if ev.Metadata["status"] != float64(504) {
		t.Fatalf("metadata.status = %v", ev.Metadata["status"])
	}
}

func TestParseJSONUnknownKeysFoldIntoMetadata(t *testing.T) {
	p := testParser()
	ev, err := p.ParseLine(`{"level":"warn","msg":"slow query","duration_ms":230,"table":"orders"}`)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if ev.Level != model.LevelWarning {
		t.Fatalf("level = %v", ev.Level)
	}
	if ev.Message != "slow query" {
		t.Fatalf("message = %q", ev.Message)
	}
	if ev.Metadata["duration_ms"] != float64(230) || ev.Metadata["table"] != "orders" {
		t.Fatalf("metadata = %v", ev.Metadata)
	}
}

func TestParseJSONNumericTimestamp(t *testing.T) {
	p := testParser()
	ev, err := p.ParseLine(`{"ts":1740830400,"level":"info","message":"ok"}`)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if ev.Timestamp.Unix() != 1740830400 {
		t.Fatalf("timestamp = %v", ev.Timestamp)
	}
}

func TestParseInvalidJSONIsError(t *testing.T) {
	p := testParser()
	if _, err := p.ParseLine(`{"level": "info",`); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestParseTextLine(t *testing.T) {
	p := testParser()
	ev, err := p.ParseLine(`2025-03-01 12:00:00 ERROR [payment-svc] charge failed user=42 amount=19.99`)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if ev.Level != model.LevelError {
		t.Fatalf("level = %v", ev.Level)
	}
	if ev.Source != "payment-svc" {
		t.Fatalf("source = %q", ev.Source)
	}
	want := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", ev.Timestamp, want)
	}
	if ev.Metadata["user"] != "42" || ev.Metadata["amount"] != "19.99" {
		t.Fatalf("metadata = %v", ev.Metadata)
	}
}

func TestParseTextDefaultsApply(t *testing.T) {
	p := testParser()
	ev, err := p.ParseLine(`something happened`)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if ev.Level != model.LevelInfo {
		t.Fatalf("level = %v, want default INFO", ev.Level)
	}
	if ev.Source != "unknown" {
		t.Fatalf("source = %q, want default", ev.Source)
	}
	if ev.Message != "something happened" {
		t.Fatalf("message = %q", ev.Message)
	}
}

func TestParseForcedFormat(t *testing.T) {
	text := NewParser(config.IngestConfig{DefaultSource: "unknown", DefaultLevel: "INFO", Format: "text"})
	ev, err := text.ParseLine(`{"level":"error","message":"not parsed as json"}`)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if ev.Message != `{"level":"error","message":"not parsed as json"}` {
		t.Fatalf("forced text should keep the raw line, got %q", ev.Message)
	}

	jsonOnly := NewParser(config.IngestConfig{DefaultSource: "unknown", DefaultLevel: "INFO", Format: "json"})
	if _, err := jsonOnly.ParseLine(`plain text line`); err == nil {
		t.Fatalf("forced json should reject a plain-text line")
	}
}

func TestParseBlankLineIsNil(t *testing.T) {
	p := testParser()
	ev, err := p.ParseLine("   \n")
	if err != nil || ev != nil {
		t.Fatalf("blank line: ev=%v err=%v", ev, err)
	}
}

func TestParseWarnAlias(t *testing.T) {
	p := testParser()
	ev, err := p.ParseLine(`2025-03-01T12:00:00Z WARN disk usage high`)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if ev.Level != model.LevelWarning {
		t.Fatalf("level = %v, want WARNING", ev.Level)
	}
}

func TestFilterMinLevelAndSources(t *testing.T) {
	f := NewFilter(config.FilterConfig{
		MinLevel:    "WARNING",
		DenySources: []string{"noisy"},
	})
	ev := model.Event{Level: model.LevelError, Source: "api"}
	if !f.Admit(ev) {
		t.Fatalf("error event should pass")
	}
	ev.Level = model.LevelDebug
	if f.Admit(ev) {
		t.Fatalf("debug event should be filtered below min_level")
	}
	ev.Level = model.LevelError
	ev.Source = "noisy"
	if f.Admit(ev) {
		t.Fatalf("denied source should be filtered")
	}

	allow := NewFilter(config.FilterConfig{AllowSources: []string{"api"}})
	if allow.Admit(model.Event{Level: model.LevelInfo, Source: "db"}) {
		t.Fatalf("source outside allow list should be filtered")
	}
	if !allow.Admit(model.Event{Level: model.LevelInfo, Source: "api"}) {
		t.Fatalf("allowed source should pass")
	}
}
