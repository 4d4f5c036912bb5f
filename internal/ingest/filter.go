package ingest

import (
	"loglens/internal/config"
	"loglens/internal/model"
)

var levelRank = map[model.Level]int{
	model.LevelTrace:    0,
	model.LevelDebug:    1,
	model.LevelInfo:     2,
	model.LevelWarning:  3,
	model.LevelError:    4,
	model.LevelCritical: 5,
	model.LevelFatal:    6,
}

// Filter gates events at the ingest boundary. A denied event never reaches
// the pipeline, so no metric or detector observes it.
type Filter struct {
	minRank int
	allow   map[string]bool
	deny    map[string]bool
}

func NewFilter(cfg config.FilterConfig) *Filter {
	f := &Filter{minRank: -1}
	if lvl, ok := model.ParseLevel(cfg.MinLevel); ok {
		f.minRank = levelRank[lvl]
	}
	if len(cfg.AllowSources) > 0 {
		f.allow = make(map[string]bool, len(cfg.AllowSources))
		for _, s := range cfg.AllowSources {
			f.allow[s] = true
		}
	}
	if len(cfg.DenySources) > 0 {
		f.deny = make(map[string]bool, len(cfg.DenySources))
		for _, s := range cfg.DenySources {
			f.deny[s] = true
		}
	}
	return f
}

func (f *Filter) Admit(ev model.Event) bool {
	if f == nil {
		return true
	}
	if f.minRank >= 0 && levelRank[ev.Level] < f.minRank {
		return false
	}
	if f.deny != nil && f.deny[ev.Source] {
		return false
	}
	if f.allow != nil && !f.allow[ev.Source] {
		return false
	}
	return true
}
