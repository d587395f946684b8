// Package convert turns a heterogeneous upload (CSV, Excel, Parquet) into
// one Parquet file per logical table, the first stage of the import
// pipeline (SPEC_FULL §4.D).
package convert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dataset-commons/dataset-engine/internal/apperr"
)

// TableOutput is one converted logical table.
type TableOutput struct {
	TableKey   string `json:"table_key"`
	ParquetPath string `json:"parquet_path"`
}

// ColumnMeta describes one inferred column.
type ColumnMeta struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// TableMetadata is the per-table entry of the conversion metadata document.
type TableMetadata struct {
	TableKey         string       `json:"table_key"`
	RowCount         int64        `json:"row_count"`
	Columns          []ColumnMeta `json:"columns"`
	CompressionRatio float64      `json:"compression_ratio"`
	Error            string       `json:"error,omitempty"`
}

// Metadata is the conversion metadata document returned alongside the
// converted tables, persisted onto the import job.
type Metadata struct {
	OriginalSize int64           `json:"original_size"`
	Tables       []TableMetadata `json:"tables"`
	WallTimeMS   int64           `json:"wall_time_ms"`
}

// Config tunes converter thresholds (SPEC_FULL §8).
type Config struct {
	SchemaSampleRows   int   // rows sampled to infer CSV schema; default 10000
	StreamingThreshold int64 // bytes at or above which CSV skips type promotion (all columns string); default ~1GB
	Codec              string // parquet compression codec; default "zstd"
}

func DefaultConfig() Config {
	return Config{SchemaSampleRows: 10000, StreamingThreshold: 1 << 30, Codec: "zstd"}
}

// Result is the converter's output: per-table parquet paths plus metadata.
type Result struct {
	Tables   []TableOutput
	Metadata Metadata
}

// Converter converts source files into one Parquet file per logical table.
type Converter struct {
	cfg Config
}

func New(cfg Config) *Converter {
	return &Converter{cfg: cfg}
}

// Convert dispatches on sourcePath/originalFilename's extension. scratchDir
// must already exist; per-table Parquet files and the resumability marker
// are written there.
func (c *Converter) Convert(sourcePath, originalFilename, scratchDir string) (*Result, error) {
	const op = "convert.Convert"
	start := time.Now()

	st, err := os.Stat(sourcePath)
	if err != nil {
		return nil, apperr.New(apperr.Internal, op, err)
	}

	progress, err := loadProgress(scratchDir)
	if err != nil {
		return nil, apperr.New(apperr.Internal, op, err)
	}

	ext := strings.ToLower(filepath.Ext(originalFilename))
	var tables []TableOutput
	var tableMeta []TableMetadata

	switch ext {
	case ".csv":
		t, m, err := c.convertCSV(sourcePath, scratchDir, st.Size(), progress)
		if err != nil {
			return nil, apperr.New(apperr.Validation, op, err)
		}
		tables = append(tables, t...)
		tableMeta = append(tableMeta, m...)
	case ".xlsx", ".xls":
		t, m, err := c.convertExcel(sourcePath, scratchDir, progress)
		if err != nil {
			return nil, apperr.New(apperr.Validation, op, err)
		}
		tables = append(tables, t...)
		tableMeta = append(tableMeta, m...)
	case ".parquet":
		t, m, err := c.passThroughParquet(sourcePath, scratchDir, progress)
		if err != nil {
			return nil, apperr.New(apperr.Validation, op, err)
		}
		tables = append(tables, t...)
		tableMeta = append(tableMeta, m...)
	default:
		return nil, apperr.New(apperr.Validation, op, fmt.Errorf("%w: unsupported extension %q", apperr.ErrInvalidFileType, ext))
	}

	if err := saveProgress(scratchDir, progress); err != nil {
		return nil, apperr.New(apperr.Internal, op, err)
	}

	return &Result{
		Tables: tables,
		Metadata: Metadata{
			OriginalSize: st.Size(),
			Tables:       tableMeta,
			WallTimeMS:   time.Since(start).Milliseconds(),
		},
	}, nil
}

// normalizeColumnName lowercases a raw header and replaces any run of
// non-alphanumeric characters with an underscore, per SPEC_FULL §4.D.
func normalizeColumnName(raw string) string {
	var b strings.Builder
	prevUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevUnderscore = false
			continue
		}
		if !prevUnderscore {
			b.WriteByte('_')
			prevUnderscore = true
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = "column"
	}
	return name
}

type progressDoc struct {
	Completed map[string]bool `json:"completed_tables"`
}

func progressPath(scratchDir string) string {
	return filepath.Join(scratchDir, ".conversion_progress.json")
}

func loadProgress(scratchDir string) (*progressDoc, error) {
	b, err := os.ReadFile(progressPath(scratchDir))
	if os.IsNotExist(err) {
		return &progressDoc{Completed: map[string]bool{}}, nil
	}
	if err != nil {
		return nil, err
	}
	var p progressDoc
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	if p.Completed == nil {
		p.Completed = map[string]bool{}
	}
	return &p, nil
}

func saveProgress(scratchDir string, p *progressDoc) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(progressPath(scratchDir), b, 0o640)
}
