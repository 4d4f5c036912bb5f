package metric

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"loglens/internal/window"
)

// aggregate applies the definition's aggregation over an emitted window.
func aggregate(def *Definition, res window.Result) float64 {
	entries := res.Entries
	switch def.Aggregation {
	case AggCount:
		return float64(len(entries))
	case AggSum:
		var sum float64
		for _, e := range entries {
			sum += e.Num
		}
		return sum
	case AggAverage:
		if len(entries) == 0 {
			return 0
		}
		var sum float64
		for _, e := range entries {
			sum += e.Num
		}
		return sum / float64(len(entries))
	case AggMin:
		if len(entries) == 0 {
			return 0
		}
		min := math.Inf(1)
		for _, e := range entries {
			if e.Num < min {
				min = e.Num
			}
		}
		return min
	case AggMax:
		if len(entries) == 0 {
			return 0
		}
		max := math.Inf(-1)
		for _, e := range entries {
			if e.Num > max {
				max = e.Num
			}
		}
		return max
	case AggPercentile:
		return percentile(values(entries), def.Percentile)
	case AggRate:
		return rate(entries)
	case AggUniqueCount:
		seen := make(map[string]struct{}, len(entries))
		for _, e := range entries {
			seen[e.Str] = struct{}{}
		}
		return float64(len(seen))
	case AggCustom:
		return def.Reducer(values(entries))
	}
	return 0
}

func values(entries []window.Entry) []float64 {
	out := make([]float64, len(entries))
	for i, e := range entries {
		out[i] = e.Num
	}
	return out
}

// percentile uses sorted-order rank interpolation: the p-th percentile of
// [10, 20, 30, 40] at p=50 is 25.
func percentile(vals []float64, p float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sort.Float64s(vals)
	rank := p / 100 * float64(len(vals)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return vals[lo]
	}
	frac := rank - float64(lo)
	return vals[lo] + frac*(vals[hi]-vals[lo])
}

// rate is entry count divided by the span between the first and last entry
// in seconds. A single-entry or zero-span window yields the raw count.
func rate(entries []window.Entry) float64 {
	n := len(entries)
	if n == 0 {
		return 0
	}
	span := entries[n-1].Timestamp.Sub(entries[0].Timestamp).Seconds()
	if span <= 0 {
		return float64(n)
	}
	return float64(n) / span
}

// toFloat64 coerces a dynamically extracted value into a number. Numeric
// strings are accepted because metadata parsed from text logs carries
// stringified values.
func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric value %q", n)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("value is missing")
	}
	return 0, fmt.Errorf("non-numeric value of type %T", v)
}
