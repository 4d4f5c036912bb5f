package metric

import (
	"fmt"
	"maps"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"loglens/internal/model"
	"loglens/internal/window"
)

// state is the per-metric mutable state: one window engine, or one engine
// per observed group key capped by an LRU so high-cardinality keys cannot
// grow without bound.
type state struct {
	def         Definition
	win         window.Engine
	groups      *lru.Cache[string, window.Engine]
	groupValues map[string]float64
}

// Processor applies filter -> group -> aggregate for every configured metric
// on each event. Metrics are independent of each other and share no state;
// callers wanting parallelism can shard whole Processor instances.
type Processor struct {
	states []*state
}

func NewProcessor(defs []Definition) (*Processor, error) {
	p := &Processor{states: make([]*state, 0, len(defs))}
	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		if def.WindowType == "" {
			def.WindowType = window.TypeSliding
		}
		if err := def.validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[def.Name]; dup {
			return nil, &ConfigError{Metric: def.Name, Reason: "duplicate metric name"}
		}
		seen[def.Name] = struct{}{}

		st := &state{def: def}
		if def.GroupBy != nil {
			st.groupValues = make(map[string]float64)
			cache, err := lru.NewWithEvict(def.maxGroups(), func(key string, _ window.Engine) {
				delete(st.groupValues, key)
			})
			if err != nil {
				return nil, &ConfigError{Metric: def.Name, Reason: err.Error()}
			}
			st.groups = cache
		} else {
			eng, err := window.New(def.WindowType, def.Window)
			if err != nil {
				return nil, &ConfigError{Metric: def.Name, Reason: err.Error()}
			}
			st.win = eng
		}
		p.states = append(p.states, st)
	}
	return p, nil
}

// AddEvent feeds one event through every configured metric. The returned map
// holds results only for metrics whose window emitted on this event. The
// error slice carries one *EvalError per metric whose expressions failed;
// a failing metric never aborts the others.
func (p *Processor) AddEvent(ev model.Event) (map[string]model.MetricResult, []error) {
	out := make(map[string]model.MetricResult)
	var errs []error
	for _, st := range p.states {
		res, emitted, err := st.addEvent(ev)
		if err != nil {
			errs = append(errs, &EvalError{Metric: st.def.Name, Event: ev, Err: err})
			continue
		}
		if emitted {
			out[st.def.Name] = res
		}
	}
	return out, errs
}

// Flush finalizes every tumbling window's trailing partial window. Sliding
// metrics already emitted on their last admission and are skipped.
func (p *Processor) Flush() map[string]model.MetricResult {
	out := make(map[string]model.MetricResult)
	for _, st := range p.states {
		if st.def.WindowType != window.TypeTumbling {
			continue
		}
		if res, ok := st.flush(); ok {
			out[st.def.Name] = res
		}
	}
	return out
}

func (p *Processor) Names() []string {
	names := make([]string, 0, len(p.states))
	for _, st := range p.states {
		names = append(names, st.def.Name)
	}
	return names
}

func (st *state) addEvent(ev model.Event) (model.MetricResult, bool, error) {
	ok, err := st.def.Filter(ev)
	if err != nil {
		return model.MetricResult{}, false, fmt.Errorf("filter: %w", err)
	}
	if !ok {
		return model.MetricResult{}, false, nil
	}
	entry, err := st.entry(ev)
	if err != nil {
		return model.MetricResult{}, false, err
	}
	if st.groups != nil {
		key, err := st.def.GroupBy(ev)
		if err != nil {
			return model.MetricResult{}, false, fmt.Errorf("group_by: %w", err)
		}
		eng, found := st.groups.Get(key)
		if !found {
			eng, err = window.New(st.def.WindowType, st.def.Window)
			if err != nil {
				return model.MetricResult{}, false, err
			}
			st.groups.Add(key, eng)
		}
		res, emitted := eng.Add(entry)
		if !emitted {
			return model.MetricResult{}, false, nil
		}
		st.groupValues[key] = aggregate(&st.def, res)
		return model.MetricResult{
			MetricName:    st.def.Name,
			WindowStart:   res.Start,
			WindowEnd:     res.End,
			GroupedValues: maps.Clone(st.groupValues),
		}, true, nil
	}
	res, emitted := st.win.Add(entry)
	if !emitted {
		return model.MetricResult{}, false, nil
	}
	return model.MetricResult{
		MetricName:  st.def.Name,
		WindowStart: res.Start,
		WindowEnd:   res.End,
		Value:       aggregate(&st.def, res),
	}, true, nil
}

func (st *state) entry(ev model.Event) (window.Entry, error) {
	e := window.Entry{Timestamp: ev.Timestamp}
	switch {
	case st.def.Aggregation.needsNumeric():
		v, err := st.def.Value(ev)
		if err != nil {
			return e, fmt.Errorf("value: %w", err)
		}
		num, err := toFloat64(v)
		if err != nil {
			return e, fmt.Errorf("value: %w", err)
		}
		e.Num = num
	case st.def.Aggregation == AggUniqueCount:
		v, err := st.def.Value(ev)
		if err != nil {
			return e, fmt.Errorf("value: %w", err)
		}
		e.Str = fmt.Sprint(v)
	}
	return e, nil
}

func (st *state) flush() (model.MetricResult, bool) {
	if st.groups != nil {
		var start, end time.Time
		flushed := false
		for _, key := range st.groups.Keys() {
			eng, ok := st.groups.Get(key)
			if !ok {
				continue
			}
			res, emitted := eng.Flush()
			if !emitted {
				continue
			}
			st.groupValues[key] = aggregate(&st.def, res)
			if start.IsZero() || res.Start.Before(start) {
				start = res.Start
			}
			if res.End.After(end) {
				end = res.End
			}
			flushed = true
		}
		if !flushed {
			return model.MetricResult{}, false
		}
		return model.MetricResult{
			MetricName:    st.def.Name,
			WindowStart:   start,
			WindowEnd:     end,
			GroupedValues: maps.Clone(st.groupValues),
		}, true
	}
	res, emitted := st.win.Flush()
	if !emitted {
		return model.MetricResult{}, false
	}
	return model.MetricResult{
		MetricName:  st.def.Name,
		WindowStart: res.Start,
		WindowEnd:   res.End,
		Value:       aggregate(&st.def, res),
	}, true
}
