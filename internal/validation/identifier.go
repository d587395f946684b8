package validation

import (
	"fmt"
	"regexp"

	"github.com/dataset-commons/dataset-engine/internal/domain"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Identifier validates a bare SQL identifier's shape (column or table
// name), without checking it against any schema. Interpolated identifiers
// must pass this before being embedded in generated SQL.
func Identifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must match %s", name, identifierPattern.String())
	}
	return nil
}

// Column validates that name is both a well-formed identifier and a real
// column of tableKey in schema.
func Column(schema domain.SchemaDefinition, tableKey, name string) error {
	if err := Identifier(name); err != nil {
		return err
	}
	table, ok := schema[tableKey]
	if !ok {
		return fmt.Errorf("unknown table %q", tableKey)
	}
	for _, c := range table.Columns {
		if c.Name == name {
			return nil
		}
	}
	return fmt.Errorf("unknown column %q in table %q", name, tableKey)
}

// ColumnType returns the schema type of a validated column.
func ColumnType(schema domain.SchemaDefinition, tableKey, name string) (string, error) {
	if err := Column(schema, tableKey, name); err != nil {
		return "", err
	}
	for _, c := range schema[tableKey].Columns {
		if c.Name == name {
			return c.Type, nil
		}
	}
	return "", fmt.Errorf("unknown column %q in table %q", name, tableKey)
}
