package window

import (
	"fmt"
	"time"
)

type Type string

const (
	TypeSliding  Type = "sliding"
	TypeTumbling Type = "tumbling"
)

func ParseType(s string) (Type, error) {
	switch Type(s) {
	case "", TypeSliding:
		return TypeSliding, nil
	case TypeTumbling:
		return TypeTumbling, nil
	}
	return "", fmt.Errorf("unknown window type: %q", s)
}

// Entry is one admitted (value, timestamp) pair. Num carries the extracted
// numeric value for numeric aggregations, Str the distinct key for
// unique_count; either may be zero when the aggregation does not need it.
type Entry struct {
	Timestamp time.Time
	Num       float64
	Str       string
}

// Result is an emitted window. Entries is a view into engine-owned storage
// and is only valid until the next Add or Flush call.
type Result struct {
	Start   time.Time
	End     time.Time
	Entries []Entry
}

// Engine admits entries in non-decreasing timestamp order. Entries whose
// timestamp falls before the window's current lower bound are dropped
// without mutating state.
type Engine interface {
	Add(e Entry) (Result, bool)
	Flush() (Result, bool)
	Len() int
}

func New(t Type, duration time.Duration) (Engine, error) {
	switch t {
	case TypeSliding:
		return NewSliding(duration), nil
	case TypeTumbling:
		return NewTumbling(duration), nil
	}
	return nil, fmt.Errorf("unknown window type: %q", t)
}

// Sliding keeps every entry within duration of the most recent timestamp and
// emits on every admission. Eviction uses a head index so each entry is
// evicted exactly once; the backing slice is compacted once the dead prefix
// reaches half its length.
type Sliding struct {
	duration time.Duration
	entries  []Entry
	head     int
	latest   time.Time
}

func NewSliding(duration time.Duration) *Sliding {
	return &Sliding{
		duration: duration,
		entries:  make([]Entry, 0, 128),
	}
}

func (w *Sliding) Add(e Entry) (Result, bool) {
	if !w.latest.IsZero() && e.Timestamp.Before(w.latest.Add(-w.duration)) {
		return Result{}, false
	}
	if e.Timestamp.After(w.latest) {
		w.latest = e.Timestamp
	}
	w.entries = append(w.entries, e)
	w.evict(w.latest.Add(-w.duration))
	return w.snapshot(), true
}

// Flush reports the current window without mutating it.
func (w *Sliding) Flush() (Result, bool) {
	if w.Len() == 0 {
		return Result{}, false
	}
	return w.snapshot(), true
}

func (w *Sliding) Len() int {
	return len(w.entries) - w.head
}

func (w *Sliding) snapshot() Result {
	return Result{
		Start:   w.latest.Add(-w.duration),
		End:     w.latest,
		Entries: w.entries[w.head:],
	}
}

func (w *Sliding) evict(cutoff time.Time) {
	for w.head < len(w.entries) {
		if !w.entries[w.head].Timestamp.Before(cutoff) {
			break
		}
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.entries) {
		w.entries = append([]Entry{}, w.entries[w.head:]...)
		w.head = 0
	}
}

// Tumbling buffers entries into fixed, boundary-aligned [start, end) windows.
// The first entry aligns start down to the nearest multiple of the duration;
// a window is finalized only when a later entry crosses its end boundary,
// advancing over any empty windows in between. Callers needing the trailing
// partial window at stream end must call Flush.
type Tumbling struct {
	duration time.Duration
	start    time.Time
	end      time.Time
	entries  []Entry
}

func NewTumbling(duration time.Duration) *Tumbling {
	return &Tumbling{duration: duration}
}

func (w *Tumbling) Add(e Entry) (Result, bool) {
	if w.start.IsZero() {
		w.start = e.Timestamp.Truncate(w.duration)
		w.end = w.start.Add(w.duration)
	}
	if e.Timestamp.Before(w.start) {
		return Result{}, false
	}
	if !e.Timestamp.Before(w.end) {
		res := Result{Start: w.start, End: w.end, Entries: w.entries}
		for !e.Timestamp.Before(w.end) {
			w.start = w.end
			w.end = w.start.Add(w.duration)
		}
		w.entries = nil
		w.entries = append(w.entries, e)
		return res, true
	}
	w.entries = append(w.entries, e)
	return Result{}, false
}

// Flush finalizes the current partial window and resets the engine so the
// next entry re-aligns the boundaries.
func (w *Tumbling) Flush() (Result, bool) {
	if len(w.entries) == 0 {
		return Result{}, false
	}
	res := Result{Start: w.start, End: w.end, Entries: w.entries}
	w.start = time.Time{}
	w.end = time.Time{}
	w.entries = nil
	return res, true
}

func (w *Tumbling) Len() int {
	return len(w.entries)
}
