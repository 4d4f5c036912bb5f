// Package ingest parses raw log lines into events and feeds them to the
// pipeline channel from files, syslog, HTTP, and Kafka sources.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"loglens/internal/model"
	"loglens/internal/telemetry"
)

// SendNonBlocking delivers an event without blocking the source. Events are
// dropped with a warning when the pipeline channel is full.
func SendNonBlocking(ctx context.Context, out chan<- model.Event, ev model.Event, logger *slog.Logger, tel *telemetry.Metrics) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("event channel full, dropping event", "source", ev.Source, "timestamp", ev.Timestamp)
		}
		tel.IncDropped()
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
