package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeColumnName(t *testing.T) {
	cases := map[string]string{
		"First Name":   "first_name",
		"  Order-ID  ": "order_id",
		"Total$Amount": "total_amount",
		"already_ok":   "already_ok",
		"  ":           "column",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeColumnName(in), "input %q", in)
	}
}

func TestPromoteTypeDetectsIntDoubleString(t *testing.T) {
	assert.Equal(t, "int64", promoteType([]string{"1", "2", "3"}))
	assert.Equal(t, "double", promoteType([]string{"1.5", "2", "3.25"}))
	assert.Equal(t, "string", promoteType([]string{"1", "x", "3"}))
	assert.Equal(t, "string", promoteType([]string{"", "", ""}))
}

func TestConvertCellRespectsInferredType(t *testing.T) {
	assert.Equal(t, int64(42), convertCell("42", "int64"))
	assert.Equal(t, float64(3.5), convertCell("3.5", "double"))
	assert.Equal(t, "hello", convertCell("hello", "string"))
	assert.Nil(t, convertCell("", "int64"))
}

func TestBuildJSONSchemaProducesOneFieldPerColumn(t *testing.T) {
	schema, err := buildJSONSchema([]inferredColumn{
		{Name: "id", Type: "int64"},
		{Name: "name", Type: "string"},
	})
	assert.NoError(t, err)
	assert.Contains(t, schema, "name=id, type=INT64")
	assert.Contains(t, schema, "name=name, type=BYTE_ARRAY")
}
