// Package importjob implements the parallel import executor (SPEC_FULL
// §4.E): converts an upload, creates a new commit before attaching any
// rows, materializes rows into commit_rows in parallel batches, updates the
// target ref, and runs post-import maintenance.
package importjob

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dataset-commons/dataset-engine/internal/analysis"
	"github.com/dataset-commons/dataset-engine/internal/apperr"
	"github.com/dataset-commons/dataset-engine/internal/canon"
	"github.com/dataset-commons/dataset-engine/internal/convert"
	"github.com/dataset-commons/dataset-engine/internal/domain"
	"github.com/dataset-commons/dataset-engine/internal/events"
	"github.com/dataset-commons/dataset-engine/internal/logging"
	"github.com/dataset-commons/dataset-engine/internal/store"
	"github.com/dataset-commons/dataset-engine/internal/worker"
)

// Params is the run_parameters document shape for an import job.
type Params struct {
	TempFilePath  string `json:"temp_file_path"`
	Filename      string `json:"filename"`
	CommitMessage string `json:"commit_message"`
	TargetRef     string `json:"target_ref"`
}

// Config tunes batching and parallelism (SPEC_FULL §8 import.* keys).
type Config struct {
	BatchSize             int
	ParallelWorkers       int
	ParallelThresholdBytes int64
	HashAlgorithm         canon.HashAlgorithm
	ScratchDir            string
	AnalysisSampleRows    int
}

func DefaultConfig() Config {
	return Config{
		BatchSize:              10000,
		ParallelWorkers:        4,
		ParallelThresholdBytes: 100 << 20,
		HashAlgorithm:          canon.SHA256,
		ScratchDir:             os.TempDir(),
		AnalysisSampleRows:     1000,
	}
}

// Executor is the worker.Executor implementation for run_type=import.
type Executor struct {
	db        *sql.DB
	store     *store.Store
	converter *convert.Converter
	bus       *events.Bus
	cfg       Config
}

func New(db *sql.DB, st *store.Store, converter *convert.Converter, bus *events.Bus, cfg Config) *Executor {
	return &Executor{db: db, store: st, converter: converter, bus: bus, cfg: cfg}
}

var _ worker.Executor = (*Executor)(nil)

func (ex *Executor) Execute(ctx context.Context, job domain.Job, progress worker.ProgressReporter) (json.RawMessage, *int64, error) {
	const op = "importjob.Execute"
	log := logging.L("importjob").With().Int64("job_id", job.ID).Logger()

	var params Params
	if err := json.Unmarshal(job.RunParameters, &params); err != nil {
		return nil, nil, apperr.New(apperr.Validation, op, fmt.Errorf("parse run_parameters: %w", err))
	}
	defer os.Remove(params.TempFilePath)

	ex.publish(ctx, events.JobStarted, job, map[string]any{"filename": params.Filename})
	_ = progress.Report(ctx, "Converting file", 5)

	scratchDir, err := os.MkdirTemp(ex.cfg.ScratchDir, fmt.Sprintf("import-%d-*", job.ID))
	if err != nil {
		return nil, nil, apperr.New(apperr.Internal, op, err)
	}
	defer os.RemoveAll(scratchDir)
	defer watchScratchDir(ctx, scratchDir)()

	result, err := ex.converter.Convert(params.TempFilePath, params.Filename, scratchDir)
	if err != nil {
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}
	_ = progress.Report(ctx, "Materializing rows", 20)

	authoredAt := time.Now().UTC()
	parentCommitID := ""
	if job.SourceCommitID != nil {
		parentCommitID = *job.SourceCommitID
	}
	commitID, err := canon.CommitID(job.DatasetID, parentCommitID, job.UserID, params.CommitMessage, authoredAt)
	if err != nil {
		return nil, nil, apperr.New(apperr.Internal, op, fmt.Errorf("compute commit id: %w", err))
	}
	commit := domain.Commit{
		CommitID:       commitID,
		DatasetID:      job.DatasetID,
		ParentCommitID: job.SourceCommitID,
		AuthorID:       job.UserID,
		Message:        params.CommitMessage,
		AuthoredAt:     authoredAt,
	}
	// The commit is created before any rows are attached, so a mid-import
	// crash leaves an orphan commit reachable only through the worker's
	// crash-recovery path, not a half-populated ref.
	if err := store.CreateCommit(ctx, ex.db, commit); err != nil {
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}

	schema := domain.SchemaDefinition{}
	var totalRows int64
	for i, table := range result.Tables {
		rowsImported, cols, err := ex.importTable(ctx, commitID, table)
		if err != nil {
			ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
			return nil, nil, err
		}
		schema[table.TableKey] = domain.TableSchema{Columns: cols}
		totalRows += rowsImported
		pct := 20 + (60 * (i + 1) / max(1, len(result.Tables)))
		_ = progress.Report(ctx, fmt.Sprintf("Imported table %s", table.TableKey), pct)
	}

	if err := store.PutSchema(ctx, ex.db, commitID, schema); err != nil {
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}

	if err := ex.updateRef(ctx, job.DatasetID, params.TargetRef, job.SourceCommitID, commitID); err != nil {
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}
	_ = progress.Report(ctx, "Running post-import maintenance", 90)

	if err := ex.postImportMaintenance(ctx, commitID, result.Tables); err != nil {
		log.Warn().Err(err).Msg("post-import maintenance encountered an error")
	}

	summary := map[string]any{
		"commit_id":           commitID,
		"rows_imported":       totalRows,
		"tables_imported":     len(result.Tables),
		"conversion_metadata": result.Metadata,
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return nil, nil, apperr.New(apperr.Internal, op, err)
	}

	ex.publish(ctx, events.JobCompleted, job, summary)
	_ = progress.Report(ctx, "Completed", 100)

	return summaryJSON, nil, nil
}

// importTable materializes one converted Parquet table's rows into rows and
// commit_rows, partitioning the read across ParallelWorkers goroutines when
// the file size exceeds ParallelThresholdBytes.
func (ex *Executor) importTable(ctx context.Context, commitID string, table convert.TableOutput) (int64, []domain.ColumnDef, error) {
	st, err := os.Stat(table.ParquetPath)
	if err != nil {
		return 0, nil, apperr.New(apperr.Internal, "importjob.importTable", err)
	}

	probe, err := openParquet(table.ParquetPath)
	if err != nil {
		return 0, nil, apperr.New(apperr.Internal, "importjob.importTable", err)
	}
	totalRows := probe.numRows()
	probe.close()

	workers := 1
	if st.Size() > ex.cfg.ParallelThresholdBytes && ex.cfg.ParallelWorkers > 1 {
		workers = ex.cfg.ParallelWorkers
	}

	cols := map[string]domain.ColumnDef{}
	var colsMu sync.Mutex
	var imported int64

	g, gctx := errgroup.WithContext(ctx)
	rowsPerWorker := (totalRows + int64(workers) - 1) / int64(workers)

	for w := 0; w < workers; w++ {
		start := int64(w) * rowsPerWorker
		if start >= totalRows {
			break
		}
		end := start + rowsPerWorker
		if end > totalRows {
			end = totalRows
		}
		w := w
		g.Go(func() error {
			n, workerCols, err := ex.importRange(gctx, commitID, table.TableKey, table.ParquetPath, start, end)
			if err != nil {
				return fmt.Errorf("worker %d: %w", w, err)
			}
			colsMu.Lock()
			for name, c := range workerCols {
				cols[name] = c
			}
			colsMu.Unlock()
			atomic.AddInt64(&imported, n)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, nil, apperr.New(apperr.Storage, "importjob.importTable", err)
	}

	colDefs := make([]domain.ColumnDef, 0, len(cols))
	for _, c := range cols {
		colDefs = append(colDefs, c)
	}
	return imported, colDefs, nil
}

// importRange reads parquet rows in [start, end), hashing and inserting
// them in batches of Config.BatchSize. Line numbers start at 2 and are
// offset by start so logical_row_id stays stable regardless of which
// worker processed a given range.
func (ex *Executor) importRange(ctx context.Context, commitID, tableKey, path string, start, end int64) (int64, map[string]domain.ColumnDef, error) {
	ps, err := openParquet(path)
	if err != nil {
		return 0, nil, err
	}
	defer ps.close()

	if err := ps.skip(start); err != nil {
		return 0, nil, fmt.Errorf("skip to range start: %w", err)
	}

	cols := map[string]domain.ColumnDef{}
	var imported int64
	remaining := end - start
	lineBase := start + 2

	for remaining > 0 {
		batchSize := int64(ex.cfg.BatchSize)
		if remaining < batchSize {
			batchSize = remaining
		}
		rows, err := ps.readBatch(int(batchSize))
		if err != nil {
			return imported, cols, err
		}
		if len(rows) == 0 {
			break
		}
		if err := ex.insertBatch(ctx, commitID, tableKey, lineBase, rows, cols); err != nil {
			return imported, cols, err
		}
		imported += int64(len(rows))
		lineBase += int64(len(rows))
		remaining -= int64(len(rows))
	}
	return imported, cols, nil
}

// insertBatch canonicalizes and hashes every row in the batch, then inserts
// the whole batch inside one transaction: rows with ON CONFLICT DO NOTHING,
// then commit_rows keyed by the table's stable logical_row_id.
func (ex *Executor) insertBatch(ctx context.Context, commitID, tableKey string, lineBase int64, rows []map[string]any, cols map[string]domain.ColumnDef) error {
	tx, err := ex.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, data := range rows {
		for name, v := range data {
			if _, ok := cols[name]; !ok {
				typ := analysis.InferType(v)
				if typ == "" {
					typ = "text"
				}
				cols[name] = domain.ColumnDef{Name: name, Type: typ, Nullable: true}
			}
		}

		hash, err := canon.RowHash(data, ex.cfg.HashAlgorithm)
		if err != nil {
			return fmt.Errorf("hash row: %w", err)
		}
		payload, err := canon.Marshal(data)
		if err != nil {
			return fmt.Errorf("canonicalize row: %w", err)
		}
		if err := store.PutRow(ctx, tx, domain.Row{RowHash: hash, Data: payload}); err != nil {
			return err
		}

		logicalRowID := fmt.Sprintf("%s:%d", tableKey, lineBase+int64(i))
		if err := store.AttachCommitRow(ctx, tx, domain.CommitRow{
			CommitID:     commitID,
			LogicalRowID: logicalRowID,
			RowHash:      hash,
		}); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (ex *Executor) updateRef(ctx context.Context, datasetID, refName string, expectedCommitID *string, newCommitID string) error {
	_, err := ex.store.ResolveRef(ctx, datasetID, refName)
	if apperr.Is(err, apperr.NotFound) {
		return store.CreateRef(ctx, ex.db, domain.Ref{DatasetID: datasetID, Name: refName, CommitID: &newCommitID})
	}
	if err != nil {
		return err
	}
	expected := ""
	if expectedCommitID != nil {
		expected = *expectedCommitID
	}
	return store.UpdateRefOptimistic(ctx, ex.db, datasetID, refName, expected, newCommitID)
}

// postImportMaintenance computes table_analysis per table by sampling up to
// Config.AnalysisSampleRows rows (SPEC_FULL §4.E step 6). VACUUM/ANALYZE and
// materialized-view refresh are issued best-effort outside any transaction.
func (ex *Executor) postImportMaintenance(ctx context.Context, commitID string, tables []convert.TableOutput) error {
	for _, table := range tables {
		analysis, err := ex.analyzeTable(ctx, commitID, table.TableKey)
		if err != nil {
			return err
		}
		if err := store.PutTableAnalysis(ctx, ex.db, commitID, table.TableKey, analysis); err != nil {
			return err
		}
	}

	if _, err := ex.db.ExecContext(ctx, `VACUUM (ANALYZE) rows`); err != nil {
		logging.L("importjob").Warn().Err(err).Msg("vacuum analyze rows failed")
	}
	if _, err := ex.db.ExecContext(ctx, `VACUUM (ANALYZE) commit_rows`); err != nil {
		logging.L("importjob").Warn().Err(err).Msg("vacuum analyze commit_rows failed")
	}
	if _, err := ex.db.ExecContext(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY datasets_summary`); err != nil {
		logging.L("importjob").Warn().Err(err).Msg("refresh datasets_summary failed")
	}
	return nil
}

func (ex *Executor) analyzeTable(ctx context.Context, commitID, tableKey string) (domain.TableAnalysis, error) {
	rows, err := ex.db.QueryContext(ctx, `
		SELECT r.data FROM commit_rows cr
		JOIN rows r ON r.row_hash = cr.row_hash
		WHERE cr.commit_id = $1 AND cr.logical_row_id LIKE $2
		LIMIT $3
	`, commitID, tableKey+":%", ex.cfg.AnalysisSampleRows)
	if err != nil {
		return domain.TableAnalysis{}, apperr.New(apperr.Storage, "importjob.analyzeTable", err)
	}
	defer rows.Close()

	result := domain.TableAnalysis{
		ColumnTypes:  map[string]string{},
		NullCounts:   map[string]int64{},
		UniqueCounts: map[string]int64{},
		SampleValues: map[string][]any{},
	}
	columnValues := map[string][]any{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return result, apperr.New(apperr.Storage, "importjob.analyzeTable", err)
		}
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err != nil {
			continue
		}
		result.RowCount++
		for col, v := range data {
			if v == nil {
				result.NullCounts[col]++
				continue
			}
			if _, ok := result.ColumnTypes[col]; !ok {
				if typ := analysis.InferType(v); typ != "" {
					result.ColumnTypes[col] = typ
				}
			}
			if samples := result.SampleValues[col]; len(samples) < 100 {
				result.SampleValues[col] = append(samples, v)
			}
			columnValues[col] = append(columnValues[col], v)
		}
	}

	numericStats := map[string]domain.NumericSummary{}
	for col, values := range columnValues {
		result.UniqueCounts[col] = analysis.DistinctCount(values)
		if result.ColumnTypes[col] != "number" {
			continue
		}
		nums := make([]float64, 0, len(values))
		for _, v := range values {
			if f, ok := v.(float64); ok {
				nums = append(nums, f)
			}
		}
		numericStats[col] = analysis.NumericBasic(nums)
	}
	if len(numericStats) > 0 {
		result.NumericStats = numericStats
	}

	return result, nil
}

func (ex *Executor) publish(ctx context.Context, t events.Type, job domain.Job, payload map[string]any) {
	if ex.bus == nil {
		return
	}
	b, _ := json.Marshal(payload)
	userID := job.UserID
	evt := events.Event{
		EventType:     t,
		AggregateID:   fmt.Sprintf("%d", job.ID),
		AggregateType: "analysis_run",
		Payload:       b,
		UserID:        &userID,
	}
	if err := ex.bus.Publish(ctx, evt); err != nil {
		logging.L("importjob").Error().Err(err).Msg("failed to publish event")
	}
}
