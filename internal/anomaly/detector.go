// Package anomaly flags metric values that deviate statistically from their
// recent baseline. Detection is a per-metric state machine: warming up until
// min_samples values have been seen, then scoring each new value against the
// rolling mean and standard deviation of the values that came before it.
package anomaly

import (
	"fmt"
	"math"
	"time"

	"loglens/internal/model"
)

const (
	DefaultWindowSize = 20
	DefaultThreshold  = 2.0
	DefaultMinSamples = 5
)

type Detector struct {
	metricName string
	windowSize int
	threshold  float64
	minSamples int

	// FIFO over insertion order, bounded to windowSize, with cached stats.
	values []float64
	mean   float64
	std    float64
}

func NewDetector(metricName string, windowSize int, threshold float64, minSamples int) *Detector {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	if minSamples > windowSize {
		minSamples = windowSize
	}
	return &Detector{
		metricName: metricName,
		windowSize: windowSize,
		threshold:  threshold,
		minSamples: minSamples,
		values:     make([]float64, 0, windowSize),
	}
}

func (d *Detector) State() model.DetectorState {
	if len(d.values) < d.minSamples {
		return model.StateWarmingUp
	}
	return model.StateActive
}

// AddValue scores value against the baseline excluding it, then appends it.
// The baseline always absorbs the new value afterwards, anomalous or not;
// the detector is memoryless about past anomalies. Returns nil while warming
// up or when the value is within threshold.
func (d *Detector) AddValue(value float64, ts time.Time) *model.AnomalyRecord {
	var rec *model.AnomalyRecord
	if len(d.values) >= d.minSamples {
		rec = d.score(value, ts)
	}
	d.append(value)
	return rec
}

func (d *Detector) score(value float64, ts time.Time) *model.AnomalyRecord {
	mean, std := d.mean, d.std
	var z float64
	anomalous := false
	if std == 0 {
		// Flat baseline: any deviation is significant. Report the raw
		// offset as the z-score (unit-std convention) to keep the record
		// finite and the severity banding monotonic.
		if value != mean {
			anomalous = true
			z = value - mean
		}
	} else {
		z = (value - mean) / std
		anomalous = math.Abs(z) >= d.threshold
	}
	if !anomalous {
		return nil
	}
	dir := model.DirectionSpike
	if value < mean {
		dir = model.DirectionDrop
	}
	return &model.AnomalyRecord{
		Timestamp:    ts,
		MetricName:   d.metricName,
		Value:        value,
		BaselineMean: mean,
		BaselineStd:  std,
		ZScore:       z,
		Direction:    dir,
		Severity:     d.severity(math.Abs(z)),
		Explanation:  d.explain(value, mean, math.Abs(z), dir),
	}
}

func (d *Detector) append(value float64) {
	if len(d.values) == d.windowSize {
		copy(d.values, d.values[1:])
		d.values[len(d.values)-1] = value
	} else {
		d.values = append(d.values, value)
	}
	d.recompute()
}

func (d *Detector) recompute() {
	n := float64(len(d.values))
	if n == 0 {
		d.mean, d.std = 0, 0
		return
	}
	var sum float64
	for _, v := range d.values {
		sum += v
	}
	mean := sum / n
	var variance float64
	for _, v := range d.values {
		diff := v - mean
		variance += diff * diff
	}
	d.mean = mean
	d.std = math.Sqrt(variance / n)
}

// severity bands are multiples of the configured threshold, monotonic in
// the absolute z-score.
func (d *Detector) severity(absZ float64) model.Severity {
	switch {
	case absZ >= 3*d.threshold:
		return model.SeverityCritical
	case absZ >= 2*d.threshold:
		return model.SeverityHigh
	case absZ >= 1.5*d.threshold:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

func (d *Detector) explain(value, mean, absZ float64, dir model.Direction) string {
	verb := "spiked"
	prep := "above"
	if dir == model.DirectionDrop {
		verb = "dropped"
		prep = "below"
	}
	if mean > 0 && dir == model.DirectionSpike && value/mean >= 2 {
		return fmt.Sprintf("%s %s %.1fx %s baseline (%.2f vs %.2f average)",
			d.metricName, verb, value/mean, prep, value, mean)
	}
	return fmt.Sprintf("%s %s %.1f standard deviations %s baseline (%.2f vs %.2f average)",
		d.metricName, verb, absZ, prep, value, mean)
}

// BaselineStats is a side-effect-free introspection snapshot.
func (d *Detector) BaselineStats() model.BaselineStats {
	return model.BaselineStats{
		MetricName:  d.metricName,
		Mean:        d.mean,
		StdDev:      d.std,
		SampleCount: len(d.values),
		WindowSize:  d.windowSize,
		State:       d.State(),
	}
}

// Reset returns the detector to WARMING_UP unconditionally.
func (d *Detector) Reset() {
	d.values = d.values[:0]
	d.mean, d.std = 0, 0
}
