package sqltransform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataset-commons/dataset-engine/internal/domain"
)

func testSources() []Source {
	return []Source{
		{DatasetID: "d1", Ref: "main", TableKey: "sales", Alias: "s"},
		{DatasetID: "d1", Ref: "main", TableKey: "customers", Alias: "c"},
	}
}

func TestRewriteSQLReplacesBareAliasAndPrefix(t *testing.T) {
	sql := "SELECT s.region, COUNT(*) AS n FROM s GROUP BY s.region"
	got := rewriteSQL(sql, testSources(), 42)
	assert.Contains(t, got, "FROM sql_transform_s_42")
	assert.Contains(t, got, "sql_transform_s_42.region")
	assert.NotContains(t, got, "FROM s ")
}

func TestRewriteSQLHandlesJoin(t *testing.T) {
	sql := "SELECT s.region FROM s JOIN c ON s.customer_id = c.id"
	got := rewriteSQL(sql, testSources(), 7)
	assert.Contains(t, got, "JOIN sql_transform_c_7")
}

func TestSyntaxCheckRejectsEmpty(t *testing.T) {
	require.Error(t, syntaxCheck(""))
}

func TestSyntaxCheckRejectsUnbalancedParens(t *testing.T) {
	require.Error(t, syntaxCheck("SELECT * FROM s WHERE (a = 1"))
}

func TestSyntaxCheckRejectsSelectWithoutFrom(t *testing.T) {
	require.Error(t, syntaxCheck("SELECT 1"))
}

func TestSyntaxCheckAcceptsValidSelect(t *testing.T) {
	require.NoError(t, syntaxCheck("SELECT s.region FROM s"))
}

func TestSemanticCheckRejectsUnknownAlias(t *testing.T) {
	err := semanticCheck("SELECT * FROM unknown_alias", testSources())
	require.Error(t, err)
}

func TestSemanticCheckAcceptsKnownAlias(t *testing.T) {
	err := semanticCheck("SELECT s.region FROM s JOIN c ON s.id = c.sale_id", testSources())
	require.NoError(t, err)
}

func TestSemanticCheckAcceptsCTEAlias(t *testing.T) {
	err := semanticCheck("WITH agg AS (SELECT * FROM s) SELECT * FROM agg", testSources())
	require.NoError(t, err)
}

func TestDefaultValidatorRejectsDenylistedKeyword(t *testing.T) {
	require.Error(t, DefaultValidator("DROP TABLE s"))
}

func TestDefaultValidatorAcceptsCleanSelect(t *testing.T) {
	require.NoError(t, DefaultValidator("SELECT s.region FROM s"))
}

func TestPerformanceWarningsFlagsSelectStarAndOr(t *testing.T) {
	warnings := PerformanceWarnings("SELECT * FROM s WHERE a = 1 OR b = 2")
	assert.NotEmpty(t, warnings)
}

func TestPerformanceWarningsCleanQueryHasNoWarnings(t *testing.T) {
	warnings := PerformanceWarnings("SELECT s.region, s.amount FROM s WHERE s.amount > 10")
	assert.Empty(t, warnings)
}

func TestColumnSelectListExtractsEachColumnFromJSON(t *testing.T) {
	cols := []domain.ColumnDef{
		{Name: "region", Type: "string"},
		{Name: "amount", Type: "number"},
		{Name: "active", Type: "boolean"},
		{Name: "seen_at", Type: "datetime"},
	}
	list, err := columnSelectList(cols)
	require.NoError(t, err)
	assert.Contains(t, list, `(r.data->>'region')::text AS region`)
	assert.Contains(t, list, `(r.data->>'amount')::double precision AS amount`)
	assert.Contains(t, list, `(r.data->>'active')::boolean AS active`)
	assert.Contains(t, list, `(r.data->>'seen_at')::timestamptz AS seen_at`)
}

func TestColumnSelectListEmptySchemaYieldsNull(t *testing.T) {
	list, err := columnSelectList(nil)
	require.NoError(t, err)
	assert.Equal(t, "NULL", list)
}

func TestColumnSelectListRejectsInvalidColumnName(t *testing.T) {
	_, err := columnSelectList([]domain.ColumnDef{{Name: "bad; DROP TABLE rows", Type: "string"}})
	require.Error(t, err)
}

func TestPgCastTypeMapsDeclaredTypes(t *testing.T) {
	assert.Equal(t, "bigint", pgCastType("int64"))
	assert.Equal(t, "double precision", pgCastType("float"))
	assert.Equal(t, "text", pgCastType("unknown_type"))
}

func TestInferColumnsFromFirstRow(t *testing.T) {
	cols := inferColumns(map[string]any{"region": "west", "total": float64(10), "active": true, "notes": nil})
	byName := map[string]string{}
	for _, c := range cols {
		byName[c.Name] = c.Type
	}
	assert.Equal(t, "string", byName["region"])
	assert.Equal(t, "number", byName["total"])
	assert.Equal(t, "boolean", byName["active"])
	assert.Equal(t, "text", byName["notes"])
}
