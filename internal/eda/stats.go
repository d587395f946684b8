package eda

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/dataset-commons/dataset-engine/internal/analysis"
)

// numericStats computes the numeric analysis block's values from every
// non-null observation of one column (SPEC_FULL §4.H numeric block). The
// mean/min/max/stddev baseline is shared with the import executor's
// lightweight table_analysis via internal/analysis; everything past that
// (variance, skew, kurtosis, percentiles, histogram) is EDA-only.
func numericStats(values []float64) map[string]any {
	if len(values) == 0 {
		return map[string]any{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	basic := analysis.NumericBasic(sorted)
	mean := basic.Mean
	stddev := basic.Stddev
	variance := stddev * stddev
	skewness := stat.Skew(sorted, nil)
	kurtosis := stat.ExKurtosis(sorted, nil)

	p5 := stat.Quantile(0.05, stat.LinInterp, sorted, nil)
	p25 := stat.Quantile(0.25, stat.LinInterp, sorted, nil)
	p50 := stat.Quantile(0.50, stat.LinInterp, sorted, nil)
	p75 := stat.Quantile(0.75, stat.LinInterp, sorted, nil)
	p95 := stat.Quantile(0.95, stat.LinInterp, sorted, nil)
	iqr := p75 - p25

	lowerFence := p25 - 1.5*iqr
	upperFence := p75 + 1.5*iqr
	var outliers int
	var zeros int
	for _, v := range sorted {
		if v < lowerFence || v > upperFence {
			outliers++
		}
		if v == 0 {
			zeros++
		}
	}

	return map[string]any{
		"mean":            mean,
		"median":          p50,
		"std":             stddev,
		"variance":        variance,
		"min":             sorted[0],
		"max":             sorted[len(sorted)-1],
		"range":           sorted[len(sorted)-1] - sorted[0],
		"skewness":        skewness,
		"kurtosis":        kurtosis,
		"percentile_5":    p5,
		"percentile_25":   p25,
		"percentile_50":   p50,
		"percentile_75":   p75,
		"percentile_95":   p95,
		"iqr":             iqr,
		"zeros_count":     zeros,
		"zeros_pct":       pct(zeros, len(sorted)),
		"outlier_count":   outliers,
		"outlier_pct":     pct(outliers, len(sorted)),
		"lower_fence":     lowerFence,
		"upper_fence":     upperFence,
		"histogram":       histogram(sorted, 20),
	}
}

// histogram buckets sorted values into n equal-width bins.
func histogram(sorted []float64, n int) []map[string]any {
	if len(sorted) == 0 {
		return nil
	}
	min, max := sorted[0], sorted[len(sorted)-1]
	if min == max {
		return []map[string]any{{"bucket_start": min, "bucket_end": max, "count": len(sorted)}}
	}
	width := (max - min) / float64(n)
	counts := make([]int, n)
	for _, v := range sorted {
		idx := int((v - min) / width)
		if idx >= n {
			idx = n - 1
		}
		counts[idx]++
	}
	buckets := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		buckets[i] = map[string]any{
			"bucket_start": min + float64(i)*width,
			"bucket_end":   min + float64(i+1)*width,
			"count":        counts[i],
		}
	}
	return buckets
}

// commonStats computes the distinct/missing/unique summary shared by every
// column category (SPEC_FULL §4.H "Common stats").
func commonStats(total int, distinctCount int, missingCount int) map[string]any {
	return map[string]any{
		"distinct_count": distinctCount,
		"distinct_pct":   pct(distinctCount, total),
		"missing_count":  missingCount,
		"missing_pct":    pct(missingCount, total),
		"is_unique":      total > 0 && distinctCount == total-missingCount,
	}
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
