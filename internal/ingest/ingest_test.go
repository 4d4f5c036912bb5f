package ingest

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"loglens/internal/config"
	"loglens/internal/model"
	"loglens/internal/telemetry"
)

func TestSendNonBlockingCountsDrops(t *testing.T) {
	tel := telemetry.New(prometheus.NewRegistry())
	out := make(chan model.Event, 1)
	ctx := context.Background()

	if !SendNonBlocking(ctx, out, model.Event{Source: "api"}, nil, tel) {
		t.Fatalf("send into an empty channel should succeed")
	}
	if got := testutil.ToFloat64(tel.EventsDropped); got != 0 {
		t.Fatalf("dropped = %v after successful send, want 0", got)
	}
	if SendNonBlocking(ctx, out, model.Event{Source: "api"}, nil, tel) {
		t.Fatalf("send into a full channel should drop")
	}
	if got := testutil.ToFloat64(tel.EventsDropped); got != 1 {
		t.Fatalf("dropped = %v, want 1", got)
	}
}

func TestSendNonBlockingNilTelemetry(t *testing.T) {
	out := make(chan model.Event)
	if SendNonBlocking(context.Background(), out, model.Event{}, nil, nil) {
		t.Fatalf("unbuffered channel with no receiver should drop")
	}
}

func TestProcessLineCountsFilteredDrops(t *testing.T) {
	tel := telemetry.New(prometheus.NewRegistry())
	parser := testParser()
	filter := NewFilter(config.FilterConfig{MinLevel: "ERROR"})
	out := make(chan model.Event, 4)

	processLine(context.Background(), parser, filter, out, nil, tel, "2025-03-01T12:00:00Z INFO routine heartbeat")
	if len(out) != 0 {
		t.Fatalf("filtered line should not reach the channel")
	}
	if got := testutil.ToFloat64(tel.EventsDropped); got != 1 {
		t.Fatalf("dropped = %v, want 1", got)
	}

	processLine(context.Background(), parser, filter, out, nil, tel, "2025-03-01T12:00:00Z ERROR upstream timeout")
	if len(out) != 1 {
		t.Fatalf("admitted line should reach the channel")
	}
	if got := testutil.ToFloat64(tel.EventsDropped); got != 1 {
		t.Fatalf("dropped = %v after admitted line, want 1", got)
	}
}
