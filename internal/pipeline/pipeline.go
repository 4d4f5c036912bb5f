// Package pipeline wires ingestion to the metric processor and anomaly
// detectors, and fans results out to the in-memory stores, persistence, and
// telemetry.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"loglens/internal/alerts"
	"loglens/internal/anomaly"
	"loglens/internal/config"
	"loglens/internal/metric"
	"loglens/internal/model"
	"loglens/internal/results"
	"loglens/internal/storage"
	"loglens/internal/telemetry"
)

type Pipeline struct {
	logger    *slog.Logger
	results   *results.Store
	alerts    *alerts.Store
	store     storage.Store
	telemetry *telemetry.Metrics

	mu        sync.Mutex
	processor *metric.Processor
	detector  *anomaly.MultiDetector

	cooldown         *Cooldown
	cooldownInterval time.Duration
	saveEvents       bool
	started          time.Time

	eventsProcessed atomic.Int64
	anomaliesFound  atomic.Int64
}

func New(cfg *config.Config, logger *slog.Logger, resultsStore *results.Store, alertsStore *alerts.Store, store storage.Store, tel *telemetry.Metrics) (*Pipeline, error) {
	defs, err := BuildDefinitions(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	processor, err := metric.NewProcessor(defs)
	if err != nil {
		return nil, err
	}
	detector := anomaly.NewMultiDetector()
	for _, ac := range cfg.Anomalies {
		if !ac.IsEnabled() {
			continue
		}
		detector.Register(ac.MetricName, anomaly.Params{
			WindowSize: ac.WindowSize,
			Threshold:  ac.Threshold,
			MinSamples: ac.MinSamples,
		})
	}
	return &Pipeline{
		logger:           logger,
		results:          resultsStore,
		alerts:           alertsStore,
		store:            store,
		telemetry:        tel,
		processor:        processor,
		detector:         detector,
		cooldown:         NewCooldown(),
		cooldownInterval: cfg.Pipeline.AlertCooldown.Std(),
		saveEvents:       cfg.Storage.SaveEvents,
		started:          time.Now().UTC(),
	}, nil
}

// Start consumes events from in until ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context, in <-chan model.Event) {
	go func() {
		for {
			select {
			case ev := <-in:
				p.ProcessEvent(ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ProcessEvent runs one event through every metric and feeds ungrouped
// results to the detectors. Returns the anomalies raised by this event.
func (p *Pipeline) ProcessEvent(ev model.Event) []model.AnomalyRecord {
	p.eventsProcessed.Add(1)
	if p.telemetry != nil {
		p.telemetry.EventsIngested.Inc()
	}
	if p.store != nil && p.saveEvents {
		if err := p.store.SaveEvent(context.Background(), ev); err != nil && p.logger != nil {
			p.logger.Warn("event persist error", "err", err)
		}
	}

	p.mu.Lock()
	emitted, errs := p.processor.AddEvent(ev)
	var records []model.AnomalyRecord
	for name, res := range emitted {
		p.handleResult(res)
		if res.GroupedValues == nil {
			if rec := p.detector.AddValue(name, res.Value, res.WindowEnd); rec != nil {
				records = append(records, *rec)
			}
			if p.telemetry != nil {
				p.telemetry.BaselineSamples.WithLabelValues(name).Set(float64(p.detector.Samples(name)))
			}
		}
	}
	p.mu.Unlock()

	for _, err := range errs {
		if p.logger != nil {
			p.logger.Warn("metric evaluation error", "err", err)
		}
		if p.telemetry != nil {
			if evalErr, ok := err.(*metric.EvalError); ok {
				p.telemetry.EvalErrors.WithLabelValues(evalErr.Metric).Inc()
			}
		}
	}
	for _, rec := range records {
		p.handleAnomaly(rec)
	}
	return records
}

// Flush finalizes trailing tumbling windows, for end of batch input or
// shutdown. Final partial windows feed the detectors like any other result.
func (p *Pipeline) Flush() []model.AnomalyRecord {
	p.mu.Lock()
	emitted := p.processor.Flush()
	var records []model.AnomalyRecord
	for name, res := range emitted {
		p.handleResult(res)
		if res.GroupedValues == nil {
			if rec := p.detector.AddValue(name, res.Value, res.WindowEnd); rec != nil {
				records = append(records, *rec)
			}
		}
	}
	p.mu.Unlock()

	for _, rec := range records {
		p.handleAnomaly(rec)
	}
	return records
}

// handleResult runs under p.mu.
func (p *Pipeline) handleResult(res model.MetricResult) {
	if p.results != nil {
		p.results.Update(res)
	}
	if p.telemetry != nil {
		p.telemetry.ResultsEmitted.WithLabelValues(res.MetricName).Inc()
	}
	if p.store != nil {
		if err := p.store.SaveResult(context.Background(), res); err != nil && p.logger != nil {
			p.logger.Warn("result persist error", "metric", res.MetricName, "err", err)
		}
	}
}

func (p *Pipeline) handleAnomaly(rec model.AnomalyRecord) {
	p.anomaliesFound.Add(1)
	if p.telemetry != nil {
		p.telemetry.AnomaliesFound.WithLabelValues(rec.MetricName, string(rec.Severity)).Inc()
	}
	if !p.cooldown.Allow(rec.MetricName, p.cooldownInterval) {
		if p.logger != nil {
			p.logger.Debug("anomaly suppressed by cooldown", "metric", rec.MetricName)
		}
		return
	}
	if p.alerts != nil {
		p.alerts.Add(rec)
	}
	if p.store != nil {
		if err := p.store.SaveAnomaly(context.Background(), rec); err != nil && p.logger != nil {
			p.logger.Warn("anomaly persist error", "metric", rec.MetricName, "err", err)
		}
	}
	if p.logger != nil {
		p.logger.Warn("anomaly detected",
			"metric", rec.MetricName,
			"value", rec.Value,
			"z_score", rec.ZScore,
			"direction", rec.Direction,
			"severity", rec.Severity,
		)
	}
}

// ResetDetectors returns one detector, or all when metricName is empty, to
// the warming-up state. Window contents are untouched.
func (p *Pipeline) ResetDetectors(metricName string) {
	p.mu.Lock()
	p.detector.Reset(metricName)
	p.mu.Unlock()
	p.cooldown.Reset()
}

func (p *Pipeline) BaselineStats() []model.BaselineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detector.BaselineStats()
}

func (p *Pipeline) MetricNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processor.Names()
}

func (p *Pipeline) Started() time.Time { return p.started }

func (p *Pipeline) EventsProcessed() int64 { return p.eventsProcessed.Load() }

func (p *Pipeline) AnomaliesFound() int64 { return p.anomaliesFound.Load() }
