package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferType(t *testing.T) {
	assert.Equal(t, "number", InferType(float64(3.14)))
	assert.Equal(t, "boolean", InferType(true))
	assert.Equal(t, "string", InferType("west"))
	assert.Equal(t, "", InferType(nil))
	assert.Equal(t, "text", InferType([]any{1, 2}))
}

func TestDistinctKeyDisambiguatesTypes(t *testing.T) {
	assert.NotEqual(t, DistinctKey("1"), DistinctKey(float64(1)))
	assert.Equal(t, DistinctKey(float64(1)), DistinctKey(float64(1)))
	assert.Equal(t, DistinctKey(true), DistinctKey(true))
	assert.NotEqual(t, DistinctKey(true), DistinctKey(false))
}

func TestDistinctCount(t *testing.T) {
	values := []any{"a", "b", "a", float64(1), float64(1), nil, true}
	assert.Equal(t, int64(4), DistinctCount(values))
}

func TestDistinctCountEmpty(t *testing.T) {
	assert.Equal(t, int64(0), DistinctCount(nil))
}

func TestNumericBasic(t *testing.T) {
	summary := NumericBasic([]float64{1, 2, 3, 4, 5})
	assert.Equal(t, 1.0, summary.Min)
	assert.Equal(t, 5.0, summary.Max)
	assert.Equal(t, 3.0, summary.Mean)
	assert.InDelta(t, 1.5811, summary.Stddev, 1e-3)
}

func TestNumericBasicEmpty(t *testing.T) {
	summary := NumericBasic(nil)
	assert.Equal(t, 0.0, summary.Min)
	assert.Equal(t, 0.0, summary.Max)
	assert.Equal(t, 0.0, summary.Mean)
	assert.Equal(t, 0.0, summary.Stddev)
}
