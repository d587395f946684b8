package eda

import (
	"math/rand"
	"strings"
)

// textStats computes length stats, average word count, and up to 5 sample
// values truncated to 200 chars (SPEC_FULL §4.H text block).
func textStats(values []string) map[string]any {
	if len(values) == 0 {
		return map[string]any{}
	}
	var totalLen, totalWords int
	minLen, maxLen := len(values[0]), len(values[0])
	for _, v := range values {
		l := len(v)
		totalLen += l
		totalWords += len(strings.Fields(v))
		if l < minLen {
			minLen = l
		}
		if l > maxLen {
			maxLen = l
		}
	}

	n := 5
	if n > len(values) {
		n = len(values)
	}
	idx := rand.Perm(len(values))[:n]
	samples := make([]string, n)
	for i, v := range idx {
		samples[i] = truncate(values[v], 200)
	}

	return map[string]any{
		"min_length":      minLen,
		"max_length":      maxLen,
		"avg_length":      float64(totalLen) / float64(len(values)),
		"avg_word_count":  float64(totalWords) / float64(len(values)),
		"sample_values":   samples,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
