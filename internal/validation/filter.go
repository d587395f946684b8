package validation

import (
	"fmt"
	"strings"

	"github.com/dataset-commons/dataset-engine/internal/domain"
)

// FilterClause is one {column, operator, value} entry from a sampling or
// transform request's parameters.filters list.
type FilterClause struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// allowedOperators is the whitelist from SPEC_FULL §4.F step 2.
var allowedOperators = map[string]bool{
	"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
	"IN": true, "NOT IN": true, "LIKE": true, "ILIKE": true,
	"IS NULL": true, "IS NOT NULL": true,
}

// BuildWhereClause validates every clause's column against schema and
// operator against the whitelist, then renders a parameterized WHERE
// sub-clause (without the leading "WHERE"). Values are returned separately
// as positional arguments starting at argOffset+1, never interpolated.
func BuildWhereClause(schema domain.SchemaDefinition, tableKey string, filters []FilterClause, argOffset int) (clause string, args []any, err error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	var parts []string
	for _, f := range filters {
		op := strings.ToUpper(strings.TrimSpace(f.Operator))
		if !allowedOperators[op] {
			return "", nil, fmt.Errorf("operator %q is not in the allowed whitelist", f.Operator)
		}
		if err := Column(schema, tableKey, f.Column); err != nil {
			return "", nil, err
		}

		colType, _ := ColumnType(schema, tableKey, f.Column)
		colExpr := fmt.Sprintf("(data->>%s)", quoteLiteral(f.Column))
		castExpr := castForType(colExpr, colType)

		switch op {
		case "IS NULL", "IS NOT NULL":
			parts = append(parts, fmt.Sprintf("%s %s", castExpr, op))
		case "IN", "NOT IN":
			values, ok := f.Value.([]any)
			if !ok {
				return "", nil, fmt.Errorf("operator %q requires a list value for column %q", op, f.Column)
			}
			placeholders := make([]string, len(values))
			for i, v := range values {
				argOffset++
				placeholders[i] = fmt.Sprintf("$%d", argOffset)
				args = append(args, v)
			}
			parts = append(parts, fmt.Sprintf("%s %s (%s)", castExpr, op, strings.Join(placeholders, ", ")))
		default:
			argOffset++
			parts = append(parts, fmt.Sprintf("%s %s $%d", castExpr, op, argOffset))
			args = append(args, f.Value)
		}
	}
	return strings.Join(parts, " AND "), args, nil
}

// castForType wraps a JSON-text column expression with the Postgres cast
// matching the schema-declared type, so comparisons behave numerically
// rather than lexically for numeric columns.
func castForType(expr, colType string) string {
	switch colType {
	case "number", "int64", "integer", "bigint":
		return expr + "::numeric"
	case "boolean":
		return expr + "::boolean"
	default:
		return expr
	}
}

// quoteLiteral renders s as a single-quoted SQL string literal, escaping
// embedded quotes. Used only for identifiers already validated by Column,
// never for user-supplied values.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Selection validates the optional projection/ORDER BY column list from
// parameters.selection, ensuring every referenced column exists and every
// sort direction is ASC or DESC.
type Selection struct {
	Columns []string        `json:"columns,omitempty"`
	OrderBy []OrderByColumn `json:"order_by,omitempty"`
}

type OrderByColumn struct {
	Column    string `json:"column"`
	Direction string `json:"direction"`
}

func ValidateSelection(schema domain.SchemaDefinition, tableKey string, sel Selection) error {
	for _, c := range sel.Columns {
		if err := Column(schema, tableKey, c); err != nil {
			return err
		}
	}
	for _, o := range sel.OrderBy {
		if err := Column(schema, tableKey, o.Column); err != nil {
			return err
		}
		dir := strings.ToUpper(o.Direction)
		if dir != "ASC" && dir != "DESC" {
			return fmt.Errorf("invalid order direction %q: must be ASC or DESC", o.Direction)
		}
	}
	return nil
}
