package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataset-commons/dataset-engine/internal/domain"
)

func testSchema() domain.SchemaDefinition {
	return domain.SchemaDefinition{
		"primary": domain.TableSchema{Columns: []domain.ColumnDef{
			{Name: "region", Type: "string"},
			{Name: "amount", Type: "number"},
		}},
	}
}

func TestDefaultSecurityChainRejectsDenylistedKeywords(t *testing.T) {
	chain := DefaultSecurityChain()
	assert.Error(t, chain("DROP TABLE rows"))
	assert.Error(t, chain("SELECT * FROM s; UPDATE rows SET data = 1"))
	assert.NoError(t, chain("SELECT region, COUNT(*) FROM s GROUP BY region"))
}

func TestDefaultSecurityChainRejectsComments(t *testing.T) {
	err := DefaultSecurityChain()("SELECT 1 -- sneaky")
	require.Error(t, err)
}

func TestDefaultSecurityChainRejectsSystemSchema(t *testing.T) {
	err := DefaultSecurityChain()("SELECT * FROM information_schema.tables")
	require.Error(t, err)
}

func TestDefaultSecurityChainRejectsMySQLSchema(t *testing.T) {
	err := DefaultSecurityChain()("SELECT * FROM mysql.user")
	require.Error(t, err)
}

func TestMustBeSelectRejectsNonSelect(t *testing.T) {
	err := MustBeSelect()("EXPLAIN SELECT 1")
	require.Error(t, err)
}

func TestColumnValidatesAgainstSchema(t *testing.T) {
	schema := testSchema()
	assert.NoError(t, Column(schema, "primary", "region"))
	assert.Error(t, Column(schema, "primary", "nonexistent"))
	assert.Error(t, Column(schema, "missing_table", "region"))
}

func TestIdentifierRejectsInjectionAttempts(t *testing.T) {
	assert.NoError(t, Identifier("region"))
	assert.Error(t, Identifier("region; DROP TABLE rows"))
	assert.Error(t, Identifier("1region"))
}

func TestBuildWhereClauseProducesParameterizedSQL(t *testing.T) {
	schema := testSchema()
	clause, args, err := BuildWhereClause(schema, "primary", []FilterClause{
		{Column: "region", Operator: "=", Value: "west"},
		{Column: "amount", Operator: ">", Value: 100},
	}, 0)
	require.NoError(t, err)
	assert.Contains(t, clause, "$1")
	assert.Contains(t, clause, "$2")
	assert.Contains(t, clause, "AND")
	assert.Equal(t, []any{"west", 100}, args)
}

func TestBuildWhereClauseRejectsDisallowedOperator(t *testing.T) {
	schema := testSchema()
	_, _, err := BuildWhereClause(schema, "primary", []FilterClause{
		{Column: "region", Operator: "DROP", Value: "x"},
	}, 0)
	require.Error(t, err)
}

func TestValidateSelectionRejectsBadDirection(t *testing.T) {
	schema := testSchema()
	err := ValidateSelection(schema, "primary", Selection{
		OrderBy: []OrderByColumn{{Column: "region", Direction: "SIDEWAYS"}},
	})
	require.Error(t, err)
}
