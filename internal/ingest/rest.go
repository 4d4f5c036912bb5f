package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"loglens/internal/config"
	"loglens/internal/model"
	"loglens/internal/telemetry"
)

type RESTServer struct {
	parser *Parser
	filter *Filter
	out    chan<- model.Event
	logger *slog.Logger
	tel    *telemetry.Metrics
}

// StartREST exposes POST /events accepting a JSON event object or an array
// of them. It is a separate listener from the query API so ingestion and
// queries can be firewalled independently.
func StartREST(ctx context.Context, cfg *config.Manager, parser *Parser, filter *Filter, out chan<- model.Event, logger *slog.Logger, tel *telemetry.Metrics) *http.Server {
	current := cfg.Get().Ingest.REST
	if !current.Enabled {
		if logger != nil {
			logger.Info("rest ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("rest ingest enabled", "addr", current.Addr)
	}
	server := &RESTServer{parser: parser, filter: filter, out: out, logger: logger, tel: tel}
	mux := http.NewServeMux()
	mux.HandleFunc("/events", server.handleEvents)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
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
				logger.Error("rest ingest server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *RESTServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	accepted := 0
	failed := 0
	if trim[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(trim, &list); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for _, raw := range list {
			if s.processRaw(raw) {
				accepted++
			} else {
				failed++
			}
		}
	} else {
		if s.processRaw(trim) {
			accepted++
		} else {
			failed++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{
		"accepted": accepted,
		"failed":   failed,
	})
}

func (s *RESTServer) processRaw(raw []byte) bool {
	ev, err := s.parser.ParseLine(string(raw))
	if err != nil || ev == nil {
		if err != nil && s.logger != nil {
			s.logger.Warn("rest parse error", "err", err)
		}
		return false
	}
	if ev.Source == "" || ev.Source == "unknown" {
		ev.Source = "rest"
	}
	if !s.filter.Admit(*ev) {
		s.tel.IncDropped()
		return false
	}
	return SendNonBlocking(context.Background(), s.out, *ev, s.logger, s.tel)
}
