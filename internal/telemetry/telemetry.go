// Package telemetry exposes the process's own operational counters via
// Prometheus. These describe the pipeline itself, not the analyzed logs.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	EventsIngested  prometheus.Counter
	EventsDropped   prometheus.Counter
	ResultsEmitted  *prometheus.CounterVec
	AnomaliesFound  *prometheus.CounterVec
	EvalErrors      *prometheus.CounterVec
	BaselineSamples *prometheus.GaugeVec
}

// IncDropped is safe on a nil receiver so ingest helpers can run without a
// registry wired.
func (m *Metrics) IncDropped() {
	if m != nil {
		m.EventsDropped.Inc()
	}
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "loglens_events_ingested_total",
			Help: "Events accepted into the pipeline.",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "loglens_events_dropped_total",
			Help: "Events rejected by the ingest filter or a full channel.",
		}),
		ResultsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loglens_results_emitted_total",
			Help: "Metric results emitted per metric.",
		}, []string{"metric"}),
		AnomaliesFound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loglens_anomalies_total",
			Help: "Anomalies flagged per metric and severity.",
		}, []string{"metric", "severity"}),
		EvalErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loglens_eval_errors_total",
			Help: "Expression evaluation failures per metric.",
		}, []string{"metric"}),
		BaselineSamples: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loglens_baseline_samples",
			Help: "Samples currently held in each detector baseline.",
		}, []string{"metric"}),
	}
}
