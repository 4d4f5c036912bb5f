package results

import (
	"fmt"
	"testing"
	"time"

	"loglens/internal/model"
)

func result(name string, value float64) model.MetricResult {
	return model.MetricResult{MetricName: name, Value: value}
}

func TestUpdateAndGet(t *testing.T) {
	s := NewStore(10)
	s.Update(result("error_count", 3))
	s.Update(result("error_count", 5))

	res, updated, ok := s.Get("error_count")
	if !ok {
		t.Fatalf("metric not found")
	}
	if res.Value != 5 {
		t.Fatalf("value = %v, want latest 5", res.Value)
	}
	if updated.IsZero() {
		t.Fatalf("updated_at not set")
	}
	if _, _, ok := s.Get("missing"); ok {
		t.Fatalf("unexpected hit for missing metric")
	}
}

func TestGetAllIsACopy(t *testing.T) {
	s := NewStore(10)
	s.Update(result("a", 1))
	all := s.GetAll()
	all["a"] = result("a", 99)
	res, _, _ := s.Get("a")
	if res.Value != 1 {
		t.Fatalf("GetAll leaked internal state")
	}
}

func TestLimitEvictsLeastRecentlyUpdated(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 3; i++ {
		s.Update(result(fmt.Sprintf("m%d", i), float64(i)))
		time.Sleep(time.Millisecond)
	}
	s.Update(result("m0", 10))
	time.Sleep(time.Millisecond)
	s.Update(result("m3", 3))

	if _, _, ok := s.Get("m1"); ok {
		t.Fatalf("oldest metric should have been evicted")
	}
	if _, _, ok := s.Get("m0"); !ok {
		t.Fatalf("recently updated metric should survive")
	}
}

func TestClear(t *testing.T) {
	s := NewStore(10)
	s.Update(result("a", 1))
	s.Clear()
	if len(s.GetAll()) != 0 {
		t.Fatalf("store not empty after clear")
	}
}
