package sampling

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataset-commons/dataset-engine/internal/domain"
	"github.com/dataset-commons/dataset-engine/internal/validation"
)

func testSchema() domain.SchemaDefinition {
	return domain.SchemaDefinition{
		"primary": domain.TableSchema{Columns: []domain.ColumnDef{
			{Name: "region", Type: "string"},
			{Name: "amount", Type: "number"},
		}},
	}
}

func TestBuildRoundQueryRandomUnseeded(t *testing.T) {
	round := RoundConfig{Method: MethodRandom, Parameters: RoundParameters{SampleSize: 50}}
	sql, args, err := buildRoundQuery(round, testSchema(), "c1", "primary", 1000, DefaultConfig())
	require.NoError(t, err)
	assert.Contains(t, sql, "ORDER BY RANDOM()")
	assert.Contains(t, sql, "LIMIT 50")
	assert.Equal(t, []any{"c1", "primary:%"}, args)
}

func TestBuildRoundQueryRandomSeededExact(t *testing.T) {
	seed := int64(42)
	round := RoundConfig{Method: MethodRandom, Parameters: RoundParameters{SampleSize: 10, Seed: &seed}}
	sql, args, err := buildRoundQuery(round, testSchema(), "c1", "primary", 1000, DefaultConfig())
	require.NoError(t, err)
	assert.Contains(t, sql, "md5(cr.logical_row_id ||")
	assert.Contains(t, args, "42")
}

func TestBuildRoundQueryRandomSeededScalable(t *testing.T) {
	seed := int64(7)
	cfg := DefaultConfig()
	cfg.CardinalityThreshold = 500
	round := RoundConfig{Method: MethodRandom, Parameters: RoundParameters{SampleSize: 10, Seed: &seed}}
	sql, _, err := buildRoundQuery(round, testSchema(), "c1", "primary", 10_000_000, cfg)
	require.NoError(t, err)
	assert.Contains(t, sql, "hashtextextended")
}

func TestBuildRoundQuerySystematic(t *testing.T) {
	round := RoundConfig{Method: MethodSystematic, Parameters: RoundParameters{Interval: 10, Start: 3}}
	sql, _, err := buildRoundQuery(round, testSchema(), "c1", "primary", 1000, DefaultConfig())
	require.NoError(t, err)
	assert.Contains(t, sql, "ROW_NUMBER() OVER")
	assert.Contains(t, sql, "% 10 = 0")
}

func TestBuildRoundQueryClusterFixed(t *testing.T) {
	round := RoundConfig{Method: MethodCluster, Parameters: RoundParameters{
		ClusterColumn: "region", ClusterCount: 3, FixedPerCluster: 20,
	}}
	sql, _, err := buildRoundQuery(round, testSchema(), "c1", "primary", 1000, DefaultConfig())
	require.NoError(t, err)
	assert.Contains(t, sql, "within_rn <= 20")
	assert.Contains(t, sql, "LIMIT 3")
}

func TestBuildRoundQueryStratifiedProportional(t *testing.T) {
	round := RoundConfig{Method: MethodStratified, Parameters: RoundParameters{
		StrataColumns: []string{"region"}, Proportional: true, SampleSize: 100,
	}}
	sql, _, err := buildRoundQuery(round, testSchema(), "c1", "primary", 1000, DefaultConfig())
	require.NoError(t, err)
	assert.Contains(t, sql, "allocation")
	assert.Contains(t, sql, "GREATEST(")
}

func TestBuildRoundQueryStratifiedDisproportional(t *testing.T) {
	round := RoundConfig{Method: MethodStratified, Parameters: RoundParameters{
		StrataColumns: []string{"region"}, PerStratumCount: 15,
	}}
	sql, _, err := buildRoundQuery(round, testSchema(), "c1", "primary", 1000, DefaultConfig())
	require.NoError(t, err)
	assert.Contains(t, sql, "rn <= 15")
}

func TestBuildRoundQueryAppliesFilters(t *testing.T) {
	round := RoundConfig{
		Method:     MethodRandom,
		Parameters: RoundParameters{SampleSize: 10},
		Filters:    []validation.FilterClause{{Column: "region", Operator: "=", Value: "west"}},
	}
	sql, args, err := buildRoundQuery(round, testSchema(), "c1", "primary", 1000, DefaultConfig())
	require.NoError(t, err)
	assert.True(t, strings.Contains(sql, "$3"))
	assert.Equal(t, []any{"c1", "primary:%", "west"}, args)
}

func TestBuildRoundQueryRejectsUnknownMethod(t *testing.T) {
	round := RoundConfig{Method: "bogus"}
	_, _, err := buildRoundQuery(round, testSchema(), "c1", "primary", 1000, DefaultConfig())
	require.Error(t, err)
}

func TestBuildRoundQueryRejectsBadColumnInFilter(t *testing.T) {
	round := RoundConfig{
		Method:     MethodRandom,
		Parameters: RoundParameters{SampleSize: 10},
		Filters:    []validation.FilterClause{{Column: "nonexistent", Operator: "=", Value: "x"}},
	}
	_, _, err := buildRoundQuery(round, testSchema(), "c1", "primary", 1000, DefaultConfig())
	require.Error(t, err)
}
