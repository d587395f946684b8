package eda

import (
	"time"

	"github.com/dataset-commons/dataset-engine/internal/analysis"
)

// categorize maps a schema-declared column type to an analysis category.
// "string" columns are categorical or text depending on cardinality, since
// the schema alone doesn't distinguish a low-cardinality code column from
// free text (SPEC_FULL §4.H column categorization).
func categorize(declaredType string, distinctCount, total int) ColumnCategory {
	switch declaredType {
	case "number", "int64", "integer", "bigint", "double", "float":
		return CategoryNumeric
	case "boolean":
		return CategoryBoolean
	case "datetime", "timestamp", "date":
		return CategoryDatetime
	case "string", "":
		if total == 0 {
			return CategoryCategorical
		}
		if float64(distinctCount)/float64(total) <= 0.5 || distinctCount <= 50 {
			return CategoryCategorical
		}
		return CategoryText
	default:
		return CategoryUnknown
	}
}

// analyzeColumn dispatches one column's raw values to the category-specific
// stat function and returns the category, the assembled block map, and the
// minimal summary alerts are derived from.
func (ex *Executor) analyzeColumn(col, declaredType string, rows []map[string]any, total int) (ColumnCategory, map[string]Block, columnAlertInput) {
	var missing int
	raw := make([]any, 0, len(rows))
	for _, row := range rows {
		v, ok := row[col]
		if !ok || v == nil {
			missing++
		}
		raw = append(raw, v)
	}

	distinct := map[string]bool{}
	for _, v := range raw {
		if v == nil {
			continue
		}
		distinct[analysis.DistinctKey(v)] = true
	}

	category := categorize(declaredType, len(distinct), total-missing)
	blocks := map[string]Block{
		"common": {Title: "Common stats", RenderAs: RenderKeyValuePairs, Data: commonStats(total, len(distinct), missing)},
	}
	input := columnAlertInput{Name: col, MissingPct: pct(missing, total), DistinctPct: pct(len(distinct), total)}

	switch category {
	case CategoryNumeric:
		values := numericColumnValues(rows, col)
		data := numericStats(values)
		blocks["numeric"] = Block{Title: "Numeric distribution", RenderAs: RenderHistogram, Data: data}
		if zp, ok := data["zeros_pct"].(float64); ok {
			input.ZeroPct = zp
		}
		if sk, ok := data["skewness"].(float64); ok {
			input.Skewness = sk
			input.HasSkewness = true
		}
	case CategoryCategorical:
		values := stringColumnValues(rows, col)
		data := categoricalStats(values, ex.cfg.TopKCategorical)
		blocks["categorical"] = Block{Title: "Value frequencies", RenderAs: RenderBarChart, Data: data}
		if top, ok := data["top_values"].([]freqEntry); ok && len(top) > 0 && len(values) > 0 {
			input.MostCommonPct = pct(top[0].Count, len(values))
		}
	case CategoryText:
		values := stringColumnValues(rows, col)
		blocks["text"] = Block{Title: "Text summary", RenderAs: RenderTextBlock, Data: textStats(values)}
	case CategoryBoolean:
		blocks["boolean"] = Block{Title: "Boolean distribution", RenderAs: RenderKeyValuePairs, Data: booleanStats(raw)}
	case CategoryDatetime:
		values := datetimeColumnValues(rows, col)
		blocks["datetime"] = Block{Title: "Date range", RenderAs: RenderHistogram, Data: datetimeStats(values)}
	}

	return category, blocks, input
}

func datetimeColumnValues(rows []map[string]any, col string) []time.Time {
	var out []time.Time
	for _, row := range rows {
		s, ok := row[col].(string)
		if !ok {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}
