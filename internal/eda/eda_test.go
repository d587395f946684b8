package eda

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumericStats(t *testing.T) {
	values := []float64{1, 2, 2, 3, 4, 5, 100}
	stats := numericStats(values)
	assert.InDelta(t, 1, stats["min"], 0.001)
	assert.InDelta(t, 100, stats["max"], 0.001)
	assert.Greater(t, stats["outlier_count"], 0)
}

func TestNumericStatsEmpty(t *testing.T) {
	assert.Empty(t, numericStats(nil))
}

func TestCategoricalStatsTopK(t *testing.T) {
	values := []string{"a", "a", "a", "b", "b", "c"}
	stats := categoricalStats(values, 2)
	top := stats["top_values"].([]freqEntry)
	assert.Len(t, top, 2)
	assert.Equal(t, "a", top[0].Value)
	assert.Equal(t, 3, top[0].Count)
	assert.Equal(t, 3, stats["distinct_count"])
}

func TestBooleanStats(t *testing.T) {
	values := []any{true, true, false, nil}
	stats := booleanStats(values)
	assert.Equal(t, 2, stats["true_count"])
	assert.Equal(t, 1, stats["false_count"])
	assert.Equal(t, 1, stats["null_count"])
	assert.InDelta(t, 2.0, stats["true_false_ratio"], 0.001)
}

func TestCategorizeHeuristics(t *testing.T) {
	assert.Equal(t, CategoryNumeric, categorize("number", 5, 10))
	assert.Equal(t, CategoryBoolean, categorize("boolean", 2, 10))
	assert.Equal(t, CategoryDatetime, categorize("datetime", 10, 10))
	assert.Equal(t, CategoryCategorical, categorize("string", 3, 1000))
	assert.Equal(t, CategoryText, categorize("string", 900, 1000))
	assert.Equal(t, CategoryUnknown, categorize("jsonb", 3, 10))
}

func TestCorrelationMatrixSymmetricAndHighPairs(t *testing.T) {
	numeric := map[string][]float64{
		"a": {1, 2, 3, 4, 5},
		"b": {2, 4, 6, 8, 10},
		"c": {5, 1, 9, 2, 7},
	}
	heatmap, high := correlationMatrix(numeric, 0.9)
	data := heatmap.Data.(map[string]any)
	matrix := data["matrix"].(map[string]map[string]float64)
	assert.InDelta(t, 1.0, matrix["a"]["b"], 0.001)
	assert.InDelta(t, matrix["a"]["b"], matrix["b"]["a"], 0.0001)

	pairs := high.Data.([]correlationPair)
	assert.Len(t, pairs, 1)
	assert.Equal(t, "a", pairs[0].ColumnA)
	assert.Equal(t, "b", pairs[0].ColumnB)
}

func TestSafeCorrelationConstantSeriesIsZero(t *testing.T) {
	r := safeCorrelation([]float64{1, 1, 1}, []float64{1, 2, 3})
	assert.Equal(t, 0.0, r)
}

func TestMissingValueBlocks(t *testing.T) {
	columns := []string{"a", "b"}
	rows := []map[string]any{
		{"a": 1.0, "b": nil},
		{"a": nil, "b": nil},
		{"a": 1.0, "b": 2.0},
	}
	summary, table, matrix := missingValueBlocks(columns, rows, 3)
	missingByColumn := summary.Data.(map[string]int)
	assert.Equal(t, 1, missingByColumn["a"])
	assert.Equal(t, 2, missingByColumn["b"])
	assert.Equal(t, "Top columns by missing values", table.Title)

	matrixData := matrix.Data.(map[string]any)
	cols := matrixData["columns"].([]string)
	assert.ElementsMatch(t, columns, cols)
}

func TestDuplicateRowStats(t *testing.T) {
	rows := []map[string]any{
		{"a": 1.0, "b": "x"},
		{"a": 1.0, "b": "x"},
		{"a": 2.0, "b": "y"},
	}
	dupes, total, err := duplicateRowStats(rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(2), dupes)
}

func TestBuildAlertsThresholds(t *testing.T) {
	th := DefaultAlertThresholds()
	cols := []columnAlertInput{
		{Name: "high_missing", MissingPct: 60},
		{Name: "constant", MostCommonPct: 99.5},
		{Name: "skewed", HasSkewness: true, Skewness: 3.1},
	}
	alerts := buildAlerts(cols, nil, 10, th)
	assert.NotEmpty(t, alerts)

	var sawError, sawDuplicate bool
	for _, a := range alerts {
		if a.Column == "high_missing" && a.Severity == "error" {
			sawError = true
		}
		if a.Column == "" && a.Severity == "warning" {
			sawDuplicate = true
		}
	}
	assert.True(t, sawError)
	assert.True(t, sawDuplicate)
}

func TestBuildAlertsHighCorrelation(t *testing.T) {
	th := DefaultAlertThresholds()
	alerts := buildAlerts(nil, []correlationPair{{ColumnA: "a", ColumnB: "b", Coefficient: 0.95}}, 0, th)
	assert.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Message, "a and b")
}
