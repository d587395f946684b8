package eda

// booleanStats computes TRUE/FALSE/NULL counts and percentages, plus the
// TRUE/FALSE ratio when both are present (SPEC_FULL §4.H boolean block).
func booleanStats(values []any) map[string]any {
	var trueCount, falseCount, nullCount int
	for _, v := range values {
		switch b := v.(type) {
		case nil:
			nullCount++
		case bool:
			if b {
				trueCount++
			} else {
				falseCount++
			}
		}
	}
	total := len(values)
	result := map[string]any{
		"true_count":  trueCount,
		"false_count": falseCount,
		"null_count":  nullCount,
		"true_pct":    pct(trueCount, total),
		"false_pct":   pct(falseCount, total),
		"null_pct":    pct(nullCount, total),
	}
	if falseCount > 0 {
		result["true_false_ratio"] = float64(trueCount) / float64(falseCount)
	}
	return result
}
