package anomaly

import (
	"sort"
	"time"

	"loglens/internal/model"
)

// Params are the per-metric detector settings supplied by configuration.
type Params struct {
	WindowSize int
	Threshold  float64
	MinSamples int
}

// MultiDetector fans metric values out to one Detector per registered
// metric name. Only registered metrics are scored; values for anything else
// pass through silently.
type MultiDetector struct {
	detectors map[string]*Detector
}

func NewMultiDetector() *MultiDetector {
	return &MultiDetector{detectors: make(map[string]*Detector)}
}

func (m *MultiDetector) Register(metricName string, p Params) {
	m.detectors[metricName] = NewDetector(metricName, p.WindowSize, p.Threshold, p.MinSamples)
}

func (m *MultiDetector) AddValue(metricName string, value float64, ts time.Time) *model.AnomalyRecord {
	d, ok := m.detectors[metricName]
	if !ok {
		return nil
	}
	return d.AddValue(value, ts)
}

// Samples reports the current baseline size for one metric, 0 when the
// metric has no detector.
func (m *MultiDetector) Samples(metricName string) int {
	d, ok := m.detectors[metricName]
	if !ok {
		return 0
	}
	return d.BaselineStats().SampleCount
}

// BaselineStats returns one snapshot per registered metric, ordered by name.
func (m *MultiDetector) BaselineStats() []model.BaselineStats {
	out := make([]model.BaselineStats, 0, len(m.detectors))
	for _, d := range m.detectors {
		out = append(out, d.BaselineStats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetricName < out[j].MetricName })
	return out
}

// Reset clears one detector, or all of them when metricName is empty.
func (m *MultiDetector) Reset(metricName string) {
	if metricName == "" {
		for _, d := range m.detectors {
			d.Reset()
		}
		return
	}
	if d, ok := m.detectors[metricName]; ok {
		d.Reset()
	}
}
