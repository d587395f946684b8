package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

// inferredColumn pairs a normalized column name with the promoted type used
// for both parquet schema generation and the metadata document.
type inferredColumn struct {
	Name string
	Type string // "int64", "double", or "string"
}

// parquetTag maps an inferred logical type to the xitongsys/parquet-go
// struct-tag schema language.
func parquetTag(col inferredColumn) string {
	switch col.Type {
	case "int64":
		return fmt.Sprintf("name=%s, type=INT64, repetitiontype=OPTIONAL", col.Name)
	case "double":
		return fmt.Sprintf("name=%s, type=DOUBLE, repetitiontype=OPTIONAL", col.Name)
	default:
		return fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", col.Name)
	}
}

// buildJSONSchema renders the root-level JSON schema document NewJSONWriter
// expects, one field per inferred column.
func buildJSONSchema(cols []inferredColumn) (string, error) {
	type field struct {
		Tag string `json:"Tag"`
	}
	type schema struct {
		Tag    string  `json:"Tag"`
		Fields []field `json:"Fields"`
	}
	s := schema{Tag: "name=parquet_go_root, repetitiontype=REQUIRED"}
	for _, c := range cols {
		s.Fields = append(s.Fields, field{Tag: parquetTag(c)})
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func codecOf(name string) parquet.CompressionCodec {
	switch strings.ToLower(name) {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "uncompressed":
		return parquet.CompressionCodec_UNCOMPRESSED
	default:
		return parquet.CompressionCodec_ZSTD
	}
}

// writeRowsAsParquet writes rows (each already a JSON-encodable map keyed by
// normalized column name) to a single Parquet file at path, using cols to
// build the schema.
func writeRowsAsParquet(path string, cols []inferredColumn, rows []map[string]any, codec string) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("open parquet writer: %w", err)
	}
	defer fw.Close()

	schema, err := buildJSONSchema(cols)
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}

	pw, err := writer.NewJSONWriter(schema, fw, 4)
	if err != nil {
		return fmt.Errorf("new json writer: %w", err)
	}
	pw.CompressionType = codecOf(codec)

	for _, row := range rows {
		b, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshal row: %w", err)
		}
		if err := pw.Write(string(b)); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finalize parquet file: %w", err)
	}
	return nil
}

// parquetRowCount opens an existing Parquet file just far enough to report
// its row count, used by the pass-through path and by conversion metadata.
func parquetRowCount(path string) (int64, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return 0, fmt.Errorf("open parquet reader: %w", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetColumnReader(fr, 4)
	if err != nil {
		return 0, fmt.Errorf("new column reader: %w", err)
	}
	defer pr.ReadStop()

	return pr.GetNumRows(), nil
}

// promoteType classifies a raw string cell value for CSV/Excel type
// inference: "int64" if every sampled value parses as an integer, "double"
// if every value parses as a float, else "string".
func promoteType(samples []string) string {
	allInt, allFloat := true, true
	seenAny := false
	for _, s := range samples {
		if s == "" {
			continue
		}
		seenAny = true
		if allInt && !isInteger(s) {
			allInt = false
		}
		if allFloat && !isFloat(s) {
			allFloat = false
		}
	}
	if !seenAny {
		return "string"
	}
	if allInt {
		return "int64"
	}
	if allFloat {
		return "double"
	}
	return "string"
}

func isInteger(s string) bool {
	if s == "" {
		return false
	}
	start := 0
	if s[0] == '-' || s[0] == '+' {
		start = 1
	}
	if start == len(s) {
		return false
	}
	for i := start; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isFloat(s string) bool {
	if s == "" {
		return false
	}
	seenDot, seenDigit := false, false
	start := 0
	if s[0] == '-' || s[0] == '+' {
		start = 1
	}
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			seenDigit = true
		case c == '.' && !seenDot:
			seenDot = true
		default:
			return false
		}
	}
	return seenDigit
}
