package eda

import "time"

// datetimeStats computes the date range and a temporal histogram bucketed
// into up to 20 equal-width intervals (SPEC_FULL §4.H datetime block).
func datetimeStats(values []time.Time) map[string]any {
	if len(values) == 0 {
		return map[string]any{}
	}
	min, max := values[0], values[0]
	for _, v := range values {
		if v.Before(min) {
			min = v
		}
		if v.After(max) {
			max = v
		}
	}
	span := max.Sub(min)
	const buckets = 20
	counts := make([]int, buckets)
	if span > 0 {
		for _, v := range values {
			idx := int(float64(v.Sub(min)) / float64(span) * buckets)
			if idx >= buckets {
				idx = buckets - 1
			}
			counts[idx]++
		}
	} else {
		counts[0] = len(values)
	}
	hist := make([]map[string]any, buckets)
	for i := 0; i < buckets; i++ {
		start := min.Add(time.Duration(float64(span) * float64(i) / buckets))
		end := min.Add(time.Duration(float64(span) * float64(i+1) / buckets))
		hist[i] = map[string]any{"bucket_start": start, "bucket_end": end, "count": counts[i]}
	}
	return map[string]any{
		"min":       min,
		"max":       max,
		"histogram": hist,
	}
}
