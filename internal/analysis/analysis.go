// Package analysis holds the numeric/categorical summarizer shared by the
// import executor's post-import table_analysis maintenance step and the EDA
// executor's per-column statistics (SPEC_FULL §6, grounded on
// original_source's src/core/services/table_analyzer.py, which both callers
// derive from in the original). It covers only the primitives both callers
// need on a raw sample of decoded JSON row values — type inference,
// distinct counting, and basic numeric moments; the richer
// distribution blocks (quantiles, skewness, histograms, categorical
// top-K, …) stay in internal/eda, which builds on top of these.
package analysis

import (
	"strconv"

	"github.com/dataset-commons/dataset-engine/internal/domain"

	"gonum.org/v1/gonum/stat"
)

// InferType maps a decoded JSON scalar to the declared-type vocabulary used
// across commit_schemas and this package's other column-level helpers.
func InferType(v any) string {
	switch v.(type) {
	case float64:
		return "number"
	case bool:
		return "boolean"
	case string:
		return "string"
	case nil:
		return ""
	default:
		return "text"
	}
}

// DistinctKey renders a decoded JSON scalar into a comparable string for
// cardinality counting, so values of different underlying Go types never
// collide (e.g. the string "1" and the number 1).
func DistinctKey(v any) string {
	switch t := v.(type) {
	case string:
		return "s:" + t
	case float64:
		return "n:" + strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		if t {
			return "b:true"
		}
		return "b:false"
	default:
		return ""
	}
}

// DistinctCount returns the number of distinct non-nil values among values,
// using DistinctKey to compare across mixed Go types.
func DistinctCount(values []any) int64 {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		seen[DistinctKey(v)] = struct{}{}
	}
	return int64(len(seen))
}

// NumericBasic computes the four-number summary (min/max/mean/stddev)
// shared by the import executor's lightweight table_analysis and as the
// foundation EDA's richer numeric block builds its quantiles/skewness/
// histogram on top of.
func NumericBasic(values []float64) domain.NumericSummary {
	if len(values) == 0 {
		return domain.NumericSummary{}
	}
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := stat.Mean(values, nil)
	stddev := stat.StdDev(values, nil)
	return domain.NumericSummary{Min: min, Max: max, Mean: mean, Stddev: stddev}
}
