package convert

import (
	"fmt"

	"github.com/tealeg/xlsx"
)

// convertExcel converts every non-empty sheet of an xlsx workbook into its
// own Parquet file, table_key'd by the sheet name. A per-sheet error is
// recorded in that sheet's metadata without aborting sibling sheets.
func (c *Converter) convertExcel(sourcePath, scratchDir string, progress *progressDoc) ([]TableOutput, []TableMetadata, error) {
	wb, err := xlsx.OpenFile(sourcePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}

	var tables []TableOutput
	var metas []TableMetadata

	for _, sheet := range wb.Sheets {
		tableKey := normalizeColumnName(sheet.Name)
		if tableKey == "" || len(sheet.Rows) == 0 {
			continue
		}
		if progress.Completed[tableKey] {
			tables = append(tables, TableOutput{TableKey: tableKey, ParquetPath: outputPath(scratchDir, tableKey)})
			continue
		}

		cols, rows, rowCount, convErr := convertSheet(sheet)
		meta := TableMetadata{TableKey: tableKey, RowCount: rowCount, Columns: toColumnMeta(cols)}
		if convErr != nil {
			meta.Error = convErr.Error()
			metas = append(metas, meta)
			continue
		}

		out := outputPath(scratchDir, tableKey)
		if err := writeRowsAsParquet(out, cols, rows, c.cfg.Codec); err != nil {
			meta.Error = err.Error()
			metas = append(metas, meta)
			continue
		}
		progress.Completed[tableKey] = true
		tables = append(tables, TableOutput{TableKey: tableKey, ParquetPath: out})
		metas = append(metas, meta)
	}

	return tables, metas, nil
}

func convertSheet(sheet *xlsx.Sheet) ([]inferredColumn, []map[string]any, int64, error) {
	if len(sheet.Rows) == 0 {
		return nil, nil, 0, fmt.Errorf("empty sheet")
	}
	headerRow := sheet.Rows[0]
	names := make([]string, len(headerRow.Cells))
	for i, cell := range headerRow.Cells {
		names[i] = normalizeColumnName(cell.String())
	}

	dataRows := sheet.Rows[1:]
	n := len(dataRows)

	cols := make([]inferredColumn, len(names))
	for i, name := range names {
		samples := make([]string, 0, n)
		for _, row := range dataRows {
			if i < len(row.Cells) {
				samples = append(samples, row.Cells[i].String())
			}
		}
		cols[i] = inferredColumn{Name: name, Type: promoteType(samples)}
	}

	rows := make([]map[string]any, 0, n)
	for _, row := range dataRows {
		r := make(map[string]any, len(names))
		for i, col := range cols {
			if i >= len(row.Cells) {
				continue
			}
			r[col.Name] = convertCell(row.Cells[i].String(), col.Type)
		}
		rows = append(rows, r)
	}
	return cols, rows, int64(n), nil
}
