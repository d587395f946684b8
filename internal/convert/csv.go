package convert

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const primaryTableKey = "primary"

// convertCSV converts a CSV file into a single "primary" table. Schema is
// inferred from the first cfg.SchemaSampleRows data rows; files at or above
// cfg.StreamingThreshold skip the type-promotion pass and type every column
// as a string. Both paths collect all rows in memory before the Parquet file
// is written; neither writes rows to Parquet as they are read.
func (c *Converter) convertCSV(sourcePath, scratchDir string, fileSize int64, progress *progressDoc) ([]TableOutput, []TableMetadata, error) {
	if progress.Completed[primaryTableKey] {
		return []TableOutput{{TableKey: primaryTableKey, ParquetPath: outputPath(scratchDir, primaryTableKey)}}, nil, nil
	}

	f, err := os.Open(sourcePath)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	names := make([]string, len(header))
	for i, h := range header {
		names[i] = normalizeColumnName(h)
	}

	streaming := fileSize >= c.cfg.StreamingThreshold
	out := outputPath(scratchDir, primaryTableKey)

	var cols []inferredColumn
	var rows []map[string]any
	var rowCount int64
	var convErr string

	if streaming {
		for i := range names {
			cols = append(cols, inferredColumn{Name: names[i], Type: "string"})
		}
		rows, rowCount, err = streamCSVRows(r, names)
	} else {
		cols, rows, rowCount, err = bufferAndPromoteCSV(r, names, c.cfg.SchemaSampleRows)
	}
	if err != nil {
		convErr = err.Error()
	}

	if err == nil {
		if werr := writeRowsAsParquet(out, cols, rows, c.cfg.Codec); werr != nil {
			return nil, nil, werr
		}
		progress.Completed[primaryTableKey] = true
	}

	meta := TableMetadata{
		TableKey: primaryTableKey,
		RowCount: rowCount,
		Columns:  toColumnMeta(cols),
		Error:    convErr,
	}
	if err != nil {
		return nil, []TableMetadata{meta}, nil
	}
	return []TableOutput{{TableKey: primaryTableKey, ParquetPath: out}}, []TableMetadata{meta}, nil
}

// streamCSVRows reads every remaining row without buffering for type
// promotion, used for files at or above the streaming threshold.
func streamCSVRows(r *csv.Reader, names []string) ([]map[string]any, int64, error) {
	var rows []map[string]any
	var count int64
	for {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return rows, count, err
		}
		row := make(map[string]any, len(names))
		for i, n := range names {
			if i < len(rec) {
				row[n] = rec[i]
			}
		}
		rows = append(rows, row)
		count++
	}
	return rows, count, nil
}

// bufferAndPromoteCSV reads the whole file into memory, inferring richer
// types (int64/double) from the first sampleRows rows, then applies the
// inferred type to every buffered row.
func bufferAndPromoteCSV(r *csv.Reader, names []string, sampleRows int) ([]inferredColumn, []map[string]any, int64, error) {
	var raw [][]string
	for {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, nil, 0, err
		}
		raw = append(raw, rec)
	}

	n := sampleRows
	if n > len(raw) {
		n = len(raw)
	}
	cols := make([]inferredColumn, len(names))
	for i, name := range names {
		samples := make([]string, 0, n)
		for j := 0; j < n; j++ {
			if i < len(raw[j]) {
				samples = append(samples, raw[j][i])
			}
		}
		cols[i] = inferredColumn{Name: name, Type: promoteType(samples)}
	}

	rows := make([]map[string]any, 0, len(raw))
	for _, rec := range raw {
		row := make(map[string]any, len(names))
		for i, col := range cols {
			if i >= len(rec) {
				continue
			}
			row[col.Name] = convertCell(rec[i], col.Type)
		}
		rows = append(rows, row)
	}
	return cols, rows, int64(len(raw)), nil
}

func convertCell(raw, typ string) any {
	if raw == "" {
		return nil
	}
	switch typ {
	case "int64":
		var v int64
		if _, err := fmt.Sscanf(raw, "%d", &v); err == nil {
			return v
		}
	case "double":
		var v float64
		if _, err := fmt.Sscanf(raw, "%g", &v); err == nil {
			return v
		}
	}
	return raw
}

func toColumnMeta(cols []inferredColumn) []ColumnMeta {
	out := make([]ColumnMeta, len(cols))
	for i, c := range cols {
		out[i] = ColumnMeta{Name: c.Name, Type: c.Type, Nullable: true}
	}
	return out
}

func outputPath(scratchDir, tableKey string) string {
	return filepath.Join(scratchDir, tableKey+".parquet")
}
