// Package domain holds the types shared by the store and every executor:
// commits, refs, jobs, files, and domain events, mirroring the tables in
// SPEC_FULL.md §3.
package domain

import (
	"encoding/json"
	"time"
)

// Row is a single deduplicated tabular record, keyed by its content hash.
type Row struct {
	RowHash string          `json:"row_hash"`
	Data    json.RawMessage `json:"data"`
}

// Commit is an immutable, content-addressed snapshot of a dataset.
type Commit struct {
	CommitID       string    `json:"commit_id"`
	DatasetID      string    `json:"dataset_id"`
	ParentCommitID *string   `json:"parent_commit_id,omitempty"`
	AuthorID       string    `json:"author_id"`
	Message        string    `json:"message"`
	AuthoredAt     time.Time `json:"authored_at"`
	CommittedAt    time.Time `json:"committed_at"`
}

// CommitRow associates a logical row position within a commit with a
// deduplicated row payload.
type CommitRow struct {
	CommitID      string `json:"commit_id"`
	LogicalRowID  string `json:"logical_row_id"`
	RowHash       string `json:"row_hash"`
}

// Ref is a mutable named pointer to a commit within a dataset.
type Ref struct {
	DatasetID string  `json:"dataset_id"`
	Name      string  `json:"name"`
	CommitID  *string `json:"commit_id,omitempty"`
}

// ColumnDef describes one column of one logical table in a commit's schema.
type ColumnDef struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable,omitempty"`
}

// TableSchema is one logical table's column list within a commit_schemas document.
type TableSchema struct {
	Columns []ColumnDef `json:"columns"`
}

// SchemaDefinition is the commit_schemas.schema_definition JSON document:
// table_key -> table schema.
type SchemaDefinition map[string]TableSchema

// TableAnalysis is the table_analysis.analysis JSON document for one
// (commit_id, table_key) pair.
type TableAnalysis struct {
	RowCount     int64                     `json:"row_count"`
	ColumnTypes  map[string]string         `json:"column_types"`
	NullCounts   map[string]int64          `json:"null_counts"`
	UniqueCounts map[string]int64          `json:"unique_counts"`
	SampleValues map[string][]any          `json:"sample_values"`
	NumericStats map[string]NumericSummary `json:"numeric_stats,omitempty"`
	Extra        map[string]any            `json:"extra,omitempty"`
}

// NumericSummary holds the numeric-column summary written during post-import
// maintenance (a cheaper cousin of the full EDA numeric block).
type NumericSummary struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Stddev float64 `json:"stddev"`
}

// JobStatus is the lifecycle state of an analysis_runs row.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobDeleted   JobStatus = "deleted"
)

// RunType is the job family, matching run_type in analysis_runs.
type RunType string

const (
	RunImport       RunType = "import"
	RunSampling     RunType = "sampling"
	RunSQLTransform RunType = "sql_transform"
	RunExploration  RunType = "exploration"
)

// Job is one analysis_runs row.
type Job struct {
	ID              int64           `json:"id"`
	RunType         RunType         `json:"run_type"`
	DatasetID       string          `json:"dataset_id"`
	SourceCommitID  *string         `json:"source_commit_id,omitempty"`
	UserID          string          `json:"user_id"`
	Status          JobStatus       `json:"status"`
	RunParameters   json.RawMessage `json:"run_parameters"`
	OutputSummary   json.RawMessage `json:"output_summary,omitempty"`
	OutputFileID    *int64          `json:"output_file_id,omitempty"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	RunTimestamp    time.Time       `json:"run_timestamp"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	ExecutionTimeMS *int64          `json:"execution_time_ms,omitempty"`
}

// Progress is the live progress document stored at run_parameters.progress.
type Progress struct {
	Status string `json:"status"`
	Pct    int    `json:"pct"`
}

// FileArtifact is one files row: a deduplicated byte blob.
type FileArtifact struct {
	ID              int64          `json:"id"`
	ContentHash     string         `json:"content_hash"`
	FileType        string         `json:"file_type"`
	MimeType        *string        `json:"mime_type,omitempty"`
	FilePath        string         `json:"file_path"`
	FileSize        int64          `json:"file_size"`
	ReferenceCount  int64          `json:"reference_count"`
	CompressionType *string        `json:"compression_type,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	StorageType     string         `json:"storage_type"`
}
