package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"loglens/internal/config"
	"loglens/internal/model"
)

var (
	reISOTimestamp  = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?)`)
	reUnixTimestamp = regexp.MustCompile(`\b(\d{10}(?:\.\d+)?)\b`)
	reLevelToken    = regexp.MustCompile(`(?i)\b(TRACE|DEBUG|INFO|WARNING|WARN|ERROR|CRITICAL|FATAL)\b`)
	reKV            = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_]*)=([^\s]+)`)
	reSyslogTS      = regexp.MustCompile(`^\s*([A-Za-z]{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})`)
	reSourceBracket = regexp.MustCompile(`\[([^\]\s]+)\]`)
)

// Parser turns raw log lines into Events. One line is one event; JSON object
// lines and common plain-text shapes are both handled. An empty or "auto"
// format sniffs each line; "json" and "text" force one branch.
type Parser struct {
	defaultSource string
	defaultLevel  model.Level
	format        string
	loc           *time.Location
}

func NewParser(cfg config.IngestConfig) *Parser {
	level, ok := model.ParseLevel(cfg.DefaultLevel)
	if !ok {
		level = model.LevelInfo
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		}
	}
	source := cfg.DefaultSource
	if source == "" {
		source = "unknown"
	}
	return &Parser{defaultSource: source, defaultLevel: level, format: cfg.Format, loc: loc}
}

// ParseLine parses one line. Blank lines yield (nil, nil).
func (p *Parser) ParseLine(line string) (*model.Event, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	switch p.format {
	case "json":
		return p.parseJSON(trim)
	case "text":
		return p.parseText(trim)
	}
	if looksLikeJSON(trim) {
		return p.parseJSON(trim)
	}
	return p.parseText(trim)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func (p *Parser) parseJSON(line string) (*model.Event, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	ev := &model.Event{
		Timestamp: time.Now().UTC(),
		Level:     p.defaultLevel,
		Source:    p.defaultSource,
		Metadata:  map[string]any{},
	}
	consumed := map[string]bool{}
	if raw, key := firstValue(obj, "timestamp", "time", "ts"); key != "" {
		ts, err := p.coerceTimestamp(raw)
		if err != nil {
			return nil, err
		}
		ev.Timestamp = ts
		consumed[key] = true
	}
	if raw, key := firstValue(obj, "level", "severity"); key != "" {
		if lvl, ok := model.ParseLevel(fmt.Sprint(raw)); ok {
			ev.Level = lvl
		}
		consumed[key] = true
	}
	if raw, key := firstValue(obj, "source", "service", "app", "logger"); key != "" {
		if s := strings.TrimSpace(fmt.Sprint(raw)); s != "" {
			ev.Source = s
		}
		consumed[key] = true
	}
	if raw, key := firstValue(obj, "message", "msg"); key != "" {
		ev.Message = fmt.Sprint(raw)
		consumed[key] = true
	}
	if meta, ok := obj["metadata"].(map[string]any); ok {
		for k, v := range meta {
			ev.Metadata[k] = v
		}
		consumed["metadata"] = true
	}
	// Unknown top-level keys fold into metadata so expressions can reach them.
	for k, v := range obj {
		if !consumed[k] {
			ev.Metadata[k] = v
		}
	}
	if ev.Message == "" {
		ev.Message = line
	}
	return ev, nil
}

func (p *Parser) parseText(line string) (*model.Event, error) {
	ev := &model.Event{
		Timestamp: time.Now().UTC(),
		Level:     p.defaultLevel,
		Source:    p.defaultSource,
		Message:   line,
		Metadata:  map[string]any{},
	}
	if m := reISOTimestamp.FindStringSubmatch(line); m != nil {
		ts, err := p.parseTimestamp(m[1])
		if err == nil {
			ev.Timestamp = ts
		}
	} else if m := reSyslogTS.FindStringSubmatch(line); m != nil {
		ts, err := p.parseTimestamp(m[1])
		if err == nil {
			ev.Timestamp = ts
		}
	} else if m := reUnixTimestamp.FindStringSubmatch(line); m != nil {
		if ts, err := parseUnix(m[1]); err == nil {
			ev.Timestamp = ts
		}
	}
	if m := reLevelToken.FindStringSubmatch(line); m != nil {
		if lvl, ok := model.ParseLevel(m[1]); ok {
			ev.Level = lvl
		}
	}
	for _, kv := range reKV.FindAllStringSubmatch(line, -1) {
		key := strings.ToLower(kv[1])
		ev.Metadata[key] = kv[2]
	}
	if s, ok := ev.Metadata["source"].(string); ok && s != "" {
		ev.Source = s
	} else if s, ok := ev.Metadata["service"].(string); ok && s != "" {
		ev.Source = s
	} else if m := reSourceBracket.FindStringSubmatch(line); m != nil {
		ev.Source = m[1]
	}
	return ev, nil
}

func firstValue(obj map[string]any, keys ...string) (any, string) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v, k
		}
	}
	return nil, ""
}

func (p *Parser) coerceTimestamp(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case string:
		return p.parseTimestamp(v)
	case float64:
		sec := int64(v)
		nsec := int64((v - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp value: %v", raw)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"Jan 02 15:04:05",
	"Jan 2 15:04:05",
}

func (p *Parser) parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if layout == "Jan 02 15:04:05" || layout == "Jan 2 15:04:05" {
			if t, err := time.ParseInLocation(layout, value, p.loc); err == nil {
				now := time.Now().In(p.loc)
				return time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), p.loc).UTC(), nil
			}
			continue
		}
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
		if t, err := time.ParseInLocation(layout, value, p.loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if (ch < '0' || ch > '9') && ch != '.' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if i := strings.IndexByte(value, '.'); i >= 0 {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return time.Time{}, err
		}
		sec := int64(f)
		nsec := int64((f - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), nil
	}
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
