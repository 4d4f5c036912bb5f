package pipeline

import (
	"fmt"

	"loglens/internal/config"
	"loglens/internal/expr"
	"loglens/internal/metric"
	"loglens/internal/window"
)

// BuildDefinitions compiles configured metrics into processor definitions.
// An empty filter admits every event.
func BuildDefinitions(cfgs []config.MetricConfig) ([]metric.Definition, error) {
	defs := make([]metric.Definition, 0, len(cfgs))
	for _, mc := range cfgs {
		def := metric.Definition{
			Name:        mc.Name,
			Aggregation: metric.Aggregation(mc.Aggregation),
			Percentile:  mc.Percentile,
			Window:      mc.Window.Std(),
			MaxGroups:   mc.MaxGroups,
		}
		wt, err := window.ParseType(mc.WindowType)
		if err != nil {
			return nil, fmt.Errorf("metric %q: %w", mc.Name, err)
		}
		def.WindowType = wt

		filterSrc := mc.Filter
		if filterSrc == "" {
			filterSrc = "true"
		}
		filter, err := expr.CompileFilter(filterSrc)
		if err != nil {
			return nil, fmt.Errorf("metric %q: %w", mc.Name, err)
		}
		def.Filter = filter

		if mc.GroupBy != "" {
			key, err := expr.CompileKey(mc.GroupBy)
			if err != nil {
				return nil, fmt.Errorf("metric %q: %w", mc.Name, err)
			}
			def.GroupBy = key
		}
		if mc.Value != "" {
			value, err := expr.CompileValue(mc.Value)
			if err != nil {
				return nil, fmt.Errorf("metric %q: %w", mc.Name, err)
			}
			def.Value = value
		}
		defs = append(defs, def)
	}
	return defs, nil
}
