package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"loglens/internal/alerts"
	"loglens/internal/config"
	"loglens/internal/model"
	"loglens/internal/results"
	"loglens/internal/storage"
)

type fakePipeline struct {
	resetMetric string
	resetCalled bool
}

func (f *fakePipeline) ResetDetectors(metricName string) {
	f.resetCalled = true
	f.resetMetric = metricName
}

func (f *fakePipeline) BaselineStats() []model.BaselineStats {
	return []model.BaselineStats{{MetricName: "error_count", State: model.StateActive, SampleCount: 12}}
}

func (f *fakePipeline) MetricNames() []string { return []string{"error_count"} }

func (f *fakePipeline) Started() time.Time { return time.Now().Add(-time.Minute) }

func (f *fakePipeline) EventsProcessed() int64 { return 42 }

func (f *fakePipeline) AnomaliesFound() int64 { return 2 }

func testServer() (*Server, *fakePipeline) {
	pipe := &fakePipeline{}
	srv := &Server{
		cfg:      config.NewManagerFromConfig(config.DefaultConfig()),
		results:  results.NewStore(10),
		alerts:   alerts.NewStore(10),
		pipeline: pipe,
		version:  "test",
	}
	return srv, pipe
}

func TestHandleStatus(t *testing.T) {
	srv, _ := testServer()
	rec := httptest.NewRecorder()
	srv.handleStatus(rec, httptest.NewRequest("GET", "/status", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.EventsProcessed != 42 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.Metrics) != 1 || resp.Metrics[0] != "error_count" {
		t.Fatalf("metrics = %v", resp.Metrics)
	}
}

func TestHandleResultsByMetric(t *testing.T) {
	srv, _ := testServer()
	srv.results.Update(model.MetricResult{MetricName: "error_count", Value: 7})

	rec := httptest.NewRecorder()
	srv.handleResults(rec, httptest.NewRequest("GET", "/results/error_count", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"value":7`) {
		t.Fatalf("body = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.handleResults(rec, httptest.NewRequest("GET", "/results/unknown", nil))
	if rec.Code != 404 {
		t.Fatalf("missing metric status = %d", rec.Code)
	}
}

func TestHandleAnomaliesSince(t *testing.T) {
	srv, _ := testServer()
	now := time.Now().UTC()
	srv.alerts.Add(model.AnomalyRecord{Timestamp: now.Add(-2 * time.Hour), MetricName: "old"})
	srv.alerts.Add(model.AnomalyRecord{Timestamp: now, MetricName: "new"})

	rec := httptest.NewRecorder()
	srv.handleAnomalies(rec, httptest.NewRequest("GET", "/anomalies?since="+now.Add(-time.Hour).Format(time.RFC3339), nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("count = %d, want 1", resp.Count)
	}

	rec = httptest.NewRecorder()
	srv.handleAnomalies(rec, httptest.NewRequest("GET", "/anomalies?since=garbage", nil))
	if rec.Code != 400 {
		t.Fatalf("bad since status = %d", rec.Code)
	}
}

func TestHandleHistoryResultsBuckets(t *testing.T) {
	srv, _ := testServer()
	store, err := storage.NewSQLite("file:" + filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	defer store.Close()
	srv.store = store

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, v := range []float64{10, 30} {
		err := store.SaveResult(context.Background(), model.MetricResult{
			MetricName:  "error_count",
			WindowStart: base.Add(time.Duration(i) * time.Minute),
			WindowEnd:   base.Add(time.Duration(i+1) * time.Minute),
			Value:       v,
		})
		if err != nil {
			t.Fatalf("save result: %v", err)
		}
	}

	url := "/history/results?metric=error_count&bucket=hour&agg=avg&since=" + base.Add(-time.Hour).Format(time.RFC3339)
	rec := httptest.NewRecorder()
	srv.handleHistoryResults(rec, httptest.NewRequest("GET", url, nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Buckets []storage.MetricBucket `json:"buckets"`
		Count   int                    `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || len(resp.Buckets) != 1 {
		t.Fatalf("buckets = %+v", resp)
	}
	if resp.Buckets[0].Value != 20 || resp.Buckets[0].Count != 2 {
		t.Fatalf("bucket = %+v, want avg 20 over 2 results", resp.Buckets[0])
	}
	if !resp.Buckets[0].Bucket.Equal(base) {
		t.Fatalf("bucket start = %v, want %v", resp.Buckets[0].Bucket, base)
	}

	rec = httptest.NewRecorder()
	srv.handleHistoryResults(rec, httptest.NewRequest("GET", "/history/results?metric=error_count&bucket=week", nil))
	if rec.Code != 400 {
		t.Fatalf("bad bucket status = %d", rec.Code)
	}
}

func TestHandleResetTargets(t *testing.T) {
	srv, pipe := testServer()
	srv.results.Update(model.MetricResult{MetricName: "error_count", Value: 7})
	srv.alerts.Add(model.AnomalyRecord{Timestamp: time.Now(), MetricName: "m"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/admin/reset", strings.NewReader(`{"target":"detectors","metric":"error_count"}`))
	srv.handleReset(rec, req)
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !pipe.resetCalled || pipe.resetMetric != "error_count" {
		t.Fatalf("reset not routed: %+v", pipe)
	}

	rec = httptest.NewRecorder()
	srv.handleReset(rec, httptest.NewRequest("POST", "/admin/reset", strings.NewReader(`{"target":"all"}`)))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(srv.results.GetAll()) != 0 || len(srv.alerts.List(0)) != 0 {
		t.Fatalf("reset all did not clear stores")
	}

	rec = httptest.NewRecorder()
	srv.handleReset(rec, httptest.NewRequest("POST", "/admin/reset", strings.NewReader(`{"target":"nonsense"}`)))
	if rec.Code != 400 {
		t.Fatalf("unknown target status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.handleReset(rec, httptest.NewRequest("GET", "/admin/reset", nil))
	if rec.Code != 405 {
		t.Fatalf("GET status = %d", rec.Code)
	}
}
