package eda

import "sort"

// missingValueBlocks implements SPEC_FULL §4.H missing-values section: a
// summary block, a top-20-by-column table, and a boolean NULL-pattern
// matrix for the first up to 100 rows and first 20 columns.
func missingValueBlocks(columns []string, rows []map[string]any, rowCount int) (Block, Block, Block) {
	missingByColumn := map[string]int{}
	for _, col := range columns {
		missingByColumn[col] = 0
	}
	for _, row := range rows {
		for _, col := range columns {
			if v, ok := row[col]; !ok || v == nil {
				missingByColumn[col]++
			}
		}
	}

	type entry struct {
		Column       string  `json:"column"`
		MissingCount int     `json:"missing_count"`
		MissingPct   float64 `json:"missing_pct"`
	}
	entries := make([]entry, 0, len(columns))
	for _, col := range columns {
		entries = append(entries, entry{col, missingByColumn[col], pct(missingByColumn[col], rowCount)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].MissingCount > entries[j].MissingCount })

	top := entries
	if len(top) > 20 {
		top = top[:20]
	}

	summary := Block{
		Title:    "Missing values summary",
		RenderAs: RenderKeyValuePairs,
		Data:     missingByColumn,
	}
	table := Block{
		Title:    "Top columns by missing values",
		RenderAs: RenderTable,
		Data:     top,
	}

	matrixCols := columns
	if len(matrixCols) > 20 {
		matrixCols = matrixCols[:20]
	}
	sampleRows := rows
	if len(sampleRows) > 100 {
		sampleRows = sampleRows[:100]
	}
	matrix := make([][]bool, len(sampleRows))
	for i, row := range sampleRows {
		line := make([]bool, len(matrixCols))
		for j, col := range matrixCols {
			v, ok := row[col]
			line[j] = !ok || v == nil
		}
		matrix[i] = line
	}
	patternBlock := Block{
		Title:    "NULL pattern matrix",
		RenderAs: RenderMatrix,
		Data:     map[string]any{"columns": matrixCols, "is_null": matrix},
	}

	return summary, table, patternBlock
}
