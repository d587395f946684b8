package sampling

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundTableNameIsStable(t *testing.T) {
	assert.Equal(t, "temp_round_1_samples", roundTableName(1))
	assert.Equal(t, "temp_round_2_samples", roundTableName(2))
}

func TestJoinConcatSingleColumn(t *testing.T) {
	assert.Equal(t, "(r.data->>'region')", joinConcat([]string{"(r.data->>'region')"}))
}

func TestJoinConcatMultipleColumns(t *testing.T) {
	got := joinConcat([]string{"a", "b", "c"})
	assert.Equal(t, "a || '\x1f' || b || '\x1f' || c", got)
}
