// Package results keeps the latest MetricResult per metric in memory for
// the HTTP API and live monitoring. Bounded by a metric-count limit with
// least-recently-updated eviction.
package results

import (
	"sync"
	"time"

	"loglens/internal/model"
)

type Store struct {
	mu        sync.RWMutex
	byMetric  map[string]model.MetricResult
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{
		byMetric:  make(map[string]model.MetricResult),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(res model.MetricResult) {
	if res.MetricName == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byMetric[res.MetricName] = res
	s.updatedAt[res.MetricName] = time.Now().UTC()
	if len(s.byMetric) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(metricName string) (model.MetricResult, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.byMetric[metricName]
	if !ok {
		return model.MetricResult{}, time.Time{}, false
	}
	return res, s.updatedAt[metricName], true
}

func (s *Store) GetAll() map[string]model.MetricResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.MetricResult, len(s.byMetric))
	for name, res := range s.byMetric {
		out[name] = res
	}
	return out
}

func (s *Store) evictOldest() {
	var oldestName string
	var oldest time.Time
	for name, ts := range s.updatedAt {
		if oldestName == "" || ts.Before(oldest) {
			oldestName = name
			oldest = ts
		}
	}
	if oldestName != "" {
		delete(s.byMetric, oldestName)
		delete(s.updatedAt, oldestName)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byMetric = make(map[string]model.MetricResult)
	s.updatedAt = make(map[string]time.Time)
}
