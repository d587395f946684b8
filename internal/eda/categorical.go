package eda

import "sort"

type freqEntry struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// categoricalStats computes the top-K frequency table, a bar-chart payload
// of the first 10, and string-length stats (SPEC_FULL §4.H categorical
// block).
func categoricalStats(values []string, topK int) map[string]any {
	counts := map[string]int{}
	var totalLen int
	for _, v := range values {
		counts[v]++
		totalLen += len(v)
	}
	entries := make([]freqEntry, 0, len(counts))
	for v, c := range counts {
		entries = append(entries, freqEntry{Value: v, Count: c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Value < entries[j].Value
	})
	if topK > len(entries) {
		topK = len(entries)
	}
	top := entries[:topK]

	barLimit := 10
	if barLimit > len(entries) {
		barLimit = len(entries)
	}

	result := map[string]any{
		"top_values":    top,
		"bar_chart":     entries[:barLimit],
		"distinct_count": len(counts),
	}
	if len(values) > 0 {
		result["avg_length"] = float64(totalLen) / float64(len(values))
	}
	return result
}
