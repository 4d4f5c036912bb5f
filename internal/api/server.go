// Package api serves the read-side HTTP endpoints: live metric results,
// recent anomalies, detector baselines, and stored history.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loglens/internal/alerts"
	"loglens/internal/config"
	"loglens/internal/model"
	"loglens/internal/results"
	"loglens/internal/storage"
)

// PipelineControl is the slice of pipeline behavior the API needs.
type PipelineControl interface {
	ResetDetectors(metricName string)
	BaselineStats() []model.BaselineStats
	MetricNames() []string
	Started() time.Time
	EventsProcessed() int64
	AnomaliesFound() int64
}

type Server struct {
	cfg      *config.Manager
	results  *results.Store
	alerts   *alerts.Store
	store    storage.Store
	pipeline PipelineControl
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status          string       `json:"status"`
	Time            string       `json:"time"`
	Version         string       `json:"version"`
	ConfigPath      string       `json:"config_path"`
	UptimeSec       int64        `json:"uptime_sec"`
	EventsProcessed int64        `json:"events_processed"`
	AnomaliesFound  int64        `json:"anomalies_found"`
	Metrics         []string     `json:"metrics"`
	Ingest          ingestStatus `json:"ingest"`
	Storage         bool         `json:"storage"`
}

type ingestStatus struct {
	REST     bool `json:"rest"`
	Syslog   bool `json:"syslog"`
	FileTail bool `json:"file_tail"`
	Kafka    bool `json:"kafka"`
}

func Start(ctx context.Context, cfg *config.Manager, resultsStore *results.Store, alertsStore *alerts.Store, store storage.Store, pipe PipelineControl, registry *prometheus.Registry, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:      cfg,
		results:  resultsStore,
		alerts:   alertsStore,
		store:    store,
		pipeline: pipe,
		logger:   logger,
		version:  version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/results", server.handleResults)
	mux.HandleFunc("/results/", server.handleResults)
	mux.HandleFunc("/anomalies", server.handleAnomalies)
	mux.HandleFunc("/baseline", server.handleBaseline)
	mux.HandleFunc("/history/results", server.handleHistoryResults)
	mux.HandleFunc("/history/anomalies", server.handleHistoryAnomalies)
	mux.HandleFunc("/admin/reset", server.handleReset)
	if registry != nil {
		mux.Handle("/prometheus", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Storage:    cfg.Storage.Enabled,
		Ingest: ingestStatus{
			REST:     cfg.Ingest.REST.Enabled,
			Syslog:   cfg.Ingest.Syslog.Enabled,
			FileTail: cfg.Ingest.FileTail.Enabled,
			Kafka:    cfg.Ingest.Kafka.Enabled,
		},
	}
	if s.pipeline != nil {
		resp.UptimeSec = int64(time.Since(s.pipeline.Started()).Seconds())
		resp.EventsProcessed = s.pipeline.EventsProcessed()
		resp.AnomaliesFound = s.pipeline.AnomaliesFound()
		resp.Metrics = s.pipeline.MetricNames()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/results")
	path = strings.TrimPrefix(path, "/")
	if path != "" {
		res, updated, ok := s.results.Get(path)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"result":     res,
			"updated_at": updated.Format(time.RFC3339Nano),
		})
		return
	}
	all := s.results.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"results": all,
		"count":   len(all),
	})
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.AnomalyRecord
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.alerts.Since(ts)
	} else {
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"anomalies": list,
		"count":     len(list),
	})
}

func (s *Server) handleBaseline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var stats []model.BaselineStats
	if s.pipeline != nil {
		stats = s.pipeline.BaselineStats()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"baselines": stats,
		"count":     len(stats),
	})
}

func (s *Server) handleHistoryResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	since, limit, ok := historyParams(w, r)
	if !ok {
		return
	}
	// A bucket parameter switches from raw history to bucketed aggregation.
	if bucket := r.URL.Query().Get("bucket"); bucket != "" {
		agg := r.URL.Query().Get("agg")
		if err := storage.ValidateBucket(bucket, agg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		buckets, err := s.store.MetricBuckets(r.Context(), metric, bucket, agg, since, limit)
		if err != nil {
			if s.logger != nil {
				s.logger.Error("history query error", "err", err)
			}
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"metric":  metric,
			"buckets": buckets,
			"count":   len(buckets),
		})
		return
	}
	list, err := s.store.MetricSeries(r.Context(), metric, since, limit)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("history query error", "err", err)
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metric":  metric,
		"results": list,
		"count":   len(list),
	})
}

func (s *Server) handleHistoryAnomalies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	since, limit, ok := historyParams(w, r)
	if !ok {
		return
	}
	list, err := s.store.ListAnomalies(r.Context(), r.URL.Query().Get("metric"), since, limit)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("history query error", "err", err)
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"anomalies": list,
		"count":     len(list),
	})
}

func historyParams(w http.ResponseWriter, r *http.Request) (time.Time, int, bool) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return time.Time{}, 0, false
		}
		since = ts
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	return since, limit, true
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
		Metric string `json:"metric"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		if s.pipeline != nil {
			s.pipeline.ResetDetectors("")
		}
		if s.results != nil {
			s.results.Clear()
		}
		if s.alerts != nil {
			s.alerts.Clear()
		}
	case "detectors":
		if s.pipeline != nil {
			s.pipeline.ResetDetectors(req.Metric)
		}
	case "results":
		if s.results != nil {
			s.results.Clear()
		}
	case "anomalies":
		if s.alerts != nil {
			s.alerts.Clear()
		}
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
