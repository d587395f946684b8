package sqltransform

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dataset-commons/dataset-engine/internal/apperr"
	"github.com/dataset-commons/dataset-engine/internal/canon"
	"github.com/dataset-commons/dataset-engine/internal/domain"
	"github.com/dataset-commons/dataset-engine/internal/events"
	"github.com/dataset-commons/dataset-engine/internal/logging"
	"github.com/dataset-commons/dataset-engine/internal/store"
	"github.com/dataset-commons/dataset-engine/internal/validation"
	"github.com/dataset-commons/dataset-engine/internal/worker"
)

// Executor is the worker.Executor implementation for run_type=sql_transform.
// Per SPEC_FULL §4.G it pins a single database connection for the whole
// run: temporary views created on it stay visible to the transaction that
// later reads them, and both are torn down together when the connection is
// released.
type Executor struct {
	db    *sql.DB
	store *store.Store
	bus   *events.Bus
	cfg   Config
}

func New(db *sql.DB, st *store.Store, bus *events.Bus, cfg Config) *Executor {
	return &Executor{db: db, store: st, bus: bus, cfg: cfg}
}

var _ worker.Executor = (*Executor)(nil)

func (ex *Executor) Execute(ctx context.Context, job domain.Job, progress worker.ProgressReporter) (json.RawMessage, *int64, error) {
	const op = "sqltransform.Execute"
	log := logging.L("sqltransform").With().Int64("job_id", job.ID).Logger()

	var params Params
	if err := json.Unmarshal(job.RunParameters, &params); err != nil {
		return nil, nil, apperr.New(apperr.Validation, op, fmt.Errorf("parse run_parameters: %w", err))
	}

	ex.publish(ctx, events.JobStarted, job, map[string]any{"target_table_key": params.Target.TableKey})
	_ = progress.Report(ctx, "Validating SQL", 5)

	if err := DefaultValidator(params.SQL); err != nil {
		err = apperr.New(apperr.Validation, op, err)
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}
	if err := semanticCheck(params.SQL, params.Sources); err != nil {
		err = apperr.New(apperr.Validation, op, err)
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}
	warnings := PerformanceWarnings(params.SQL)
	for _, w := range warnings {
		log.Warn().Str("warning", w).Msg("sql transform performance warning")
	}

	conn, err := ex.db.Conn(ctx)
	if err != nil {
		err = apperr.New(apperr.Storage, op, err)
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}
	defer conn.Close()

	for _, src := range params.Sources {
		commitID, err := ex.store.ResolveRef(ctx, src.DatasetID, src.Ref)
		if err != nil {
			err = fmt.Errorf("resolve source %s/%s: %w", src.DatasetID, src.Ref, err)
			ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
			return nil, nil, err
		}
		srcSchema, err := ex.store.GetSchema(ctx, commitID)
		if err != nil {
			err = fmt.Errorf("load schema for source %s/%s: %w", src.DatasetID, src.Ref, err)
			ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
			return nil, nil, err
		}
		tableSchema, ok := srcSchema[src.TableKey]
		if !ok {
			err = apperr.New(apperr.Validation, op, fmt.Errorf("table %q not found in commit %s schema", src.TableKey, commitID))
			ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
			return nil, nil, err
		}
		if err := createSourceView(ctx, conn, src, commitID, job.ID, tableSchema.Columns); err != nil {
			ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
			return nil, nil, err
		}
	}
	defer dropSourceViews(context.Background(), conn, params.Sources, job.ID)

	_ = progress.Report(ctx, "Rewriting and running transformation", 30)
	rewritten := rewriteSQL(params.SQL, params.Sources, job.ID)

	headCommitID, err := ex.store.ResolveRef(ctx, params.Target.DatasetID, params.Target.Ref)
	if err != nil {
		err = fmt.Errorf("resolve target ref: %w", err)
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}
	expected := headCommitID
	if params.Target.ExpectedHeadCommitID != nil {
		expected = *params.Target.ExpectedHeadCommitID
	}

	authoredAt := time.Now().UTC()
	newCommitID, err := canon.CommitID(params.Target.DatasetID, headCommitID, job.UserID, params.Target.Message, authoredAt)
	if err != nil {
		err = apperr.New(apperr.Internal, op, fmt.Errorf("compute commit id: %w", err))
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}
	var rowsWritten int64
	var firstRow map[string]any

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		err = apperr.New(apperr.Storage, op, err)
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}
	defer tx.Rollback()

	commit := domain.Commit{
		CommitID:       newCommitID,
		DatasetID:      params.Target.DatasetID,
		ParentCommitID: &headCommitID,
		AuthorID:       job.UserID,
		Message:        params.Target.Message,
		AuthoredAt:     authoredAt,
	}
	if err := store.CreateCommit(ctx, tx, commit); err != nil {
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}
	if err := store.CopyCommitRowsExcludingTable(ctx, tx, headCommitID, newCommitID, params.Target.TableKey); err != nil {
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}

	rowsWritten, firstRow, err = runTransformInsert(ctx, tx, rewritten, newCommitID, params.Target.TableKey)
	if err != nil {
		err = apperr.New(apperr.Storage, op, fmt.Errorf("execute transformation: %w", err))
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}

	schema, err := ex.store.GetSchema(ctx, headCommitID)
	if err != nil {
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}
	newSchema := domain.SchemaDefinition{}
	for k, v := range schema {
		newSchema[k] = v
	}
	newSchema[params.Target.TableKey] = domain.TableSchema{Columns: inferColumns(firstRow)}
	if err := store.PutSchema(ctx, tx, newCommitID, newSchema); err != nil {
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}

	if err := store.UpdateRefOptimistic(ctx, tx, params.Target.DatasetID, params.Target.Ref, expected, newCommitID); err != nil {
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}

	branchName := params.Target.OutputBranchName
	if branchName == "" {
		branchName = fmt.Sprintf("wkbh-transform-%d", time.Now().Unix())
	} else if !strings.HasPrefix(branchName, "wkbh-") {
		branchName = "wkbh-" + branchName
	}
	if err := ex.createOrMoveBranch(ctx, tx, params.Target.DatasetID, branchName, newCommitID); err != nil {
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		err = apperr.New(apperr.Storage, op, err)
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}

	ex.publish(ctx, events.CommitCreated, job, map[string]any{"commit_id": newCommitID, "parent_commit_id": headCommitID})

	summary := map[string]any{
		"commit_id":     newCommitID,
		"rows_written":  rowsWritten,
		"output_branch": branchName,
		"warnings":      warnings,
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return nil, nil, apperr.New(apperr.Internal, op, err)
	}
	ex.publish(ctx, events.JobCompleted, job, summary)
	_ = progress.Report(ctx, "Completed", 100)
	log.Info().Str("commit_id", newCommitID).Int64("rows_written", rowsWritten).Msg("sql transform completed")

	return summaryJSON, nil, nil
}

// createSourceView binds one source's committed rows to a temp view the
// rewritten SQL will reference (SPEC_FULL §4.G execution step 1). Each
// schema column is extracted out of the row's JSONB payload and cast to its
// declared type, so `alias.column` in user SQL resolves to a real typed
// column instead of requiring the caller to know the storage representation
// (jsonb_set/->>) underneath.
func createSourceView(ctx context.Context, conn *sql.Conn, src Source, commitID string, jobID int64, columns []domain.ColumnDef) error {
	view := viewName(src.Alias, jobID)
	cols, err := columnSelectList(columns)
	if err != nil {
		return apperr.New(apperr.Internal, "sqltransform.createSourceView", err)
	}
	stmt := fmt.Sprintf(`
		CREATE TEMP VIEW %s AS
		SELECT cr.logical_row_id, r.data, %s
		FROM commit_rows cr
		JOIN rows r ON r.row_hash = cr.row_hash
		WHERE cr.commit_id = $1 AND cr.logical_row_id LIKE $2
	`, view, cols)
	if _, err := conn.ExecContext(ctx, stmt, commitID, src.TableKey+":%"); err != nil {
		return apperr.New(apperr.Storage, "sqltransform.createSourceView", fmt.Errorf("create view %s: %w", view, err))
	}
	return nil
}

// columnSelectList builds the comma-separated `(r.data->>'name')::pgtype AS
// name` extraction expressions for a table's declared columns. Column names
// are validated as bare identifiers before being interpolated, since they
// come from a stored schema document rather than a SQL literal.
func columnSelectList(columns []domain.ColumnDef) (string, error) {
	if len(columns) == 0 {
		return "NULL", nil
	}
	parts := make([]string, 0, len(columns))
	for _, c := range columns {
		if err := validation.Identifier(c.Name); err != nil {
			return "", fmt.Errorf("column %q: %w", c.Name, err)
		}
		parts = append(parts, fmt.Sprintf(`(r.data->>'%s')::%s AS %s`, c.Name, pgCastType(c.Type), c.Name))
	}
	return strings.Join(parts, ", "), nil
}

// pgCastType maps a stored column's declared logical type to the Postgres
// type its extracted text representation is cast to, mirroring the
// declared-type vocabulary internal/eda's categorize uses for the same
// columns.
func pgCastType(declaredType string) string {
	switch declaredType {
	case "number", "double", "float":
		return "double precision"
	case "int64", "integer", "bigint":
		return "bigint"
	case "boolean":
		return "boolean"
	case "datetime", "timestamp", "date":
		return "timestamptz"
	default:
		return "text"
	}
}

// dropSourceViews tears down every temp view, whether the run succeeded or
// failed (SPEC_FULL §4.G execution step 7).
func dropSourceViews(ctx context.Context, conn *sql.Conn, sources []Source, jobID int64) {
	for _, src := range sources {
		view := viewName(src.Alias, jobID)
		if _, err := conn.ExecContext(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s", view)); err != nil {
			logging.L("sqltransform").Warn().Err(err).Str("view", view).Msg("drop source view")
		}
	}
}

// runTransformInsert executes the rewritten SQL as a server-side CTE that
// hashes and inserts its own results, so the output never round-trips
// through application memory (SPEC_FULL §4.G execution step 3). It also
// returns the first result row (by result order) for schema inference.
func runTransformInsert(ctx context.Context, tx *sql.Tx, rewrittenSQL, newCommitID, targetTableKey string) (int64, map[string]any, error) {
	insertStmt := fmt.Sprintf(`
		WITH t AS (%s),
		numbered AS (
			SELECT row_to_json(t.*) AS d, row_number() OVER () AS n FROM t
		),
		hashed AS (
			SELECT n, d, encode(digest(d::text, 'sha256'), 'hex') AS row_hash FROM numbered
		),
		ins_rows AS (
			INSERT INTO rows (row_hash, data)
			SELECT DISTINCT ON (row_hash) row_hash, d FROM hashed
			ON CONFLICT (row_hash) DO NOTHING
		)
		INSERT INTO commit_rows (commit_id, logical_row_id, row_hash)
		SELECT $1, $2 || ':' || n, row_hash FROM hashed
	`, rewrittenSQL)
	result, err := tx.ExecContext(ctx, insertStmt, newCommitID, targetTableKey)
	if err != nil {
		return 0, nil, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil, err
	}

	var raw []byte
	err = tx.QueryRowContext(ctx, `
		SELECT r.data FROM commit_rows cr
		JOIN rows r ON r.row_hash = cr.row_hash
		WHERE cr.commit_id = $1 AND cr.logical_row_id LIKE $2
		ORDER BY cr.logical_row_id LIMIT 1
	`, newCommitID, targetTableKey+":%").Scan(&raw)
	if err == sql.ErrNoRows {
		return n, nil, nil
	}
	if err != nil {
		return n, nil, err
	}
	var first map[string]any
	if jsonErr := json.Unmarshal(raw, &first); jsonErr != nil {
		return n, nil, nil
	}
	return n, first, nil
}

// inferColumns infers a column list from a single sampled result row
// (SPEC_FULL §4.G execution step 4 and the documented open question:
// columns entirely null in that row default to "text").
func inferColumns(row map[string]any) []domain.ColumnDef {
	cols := make([]domain.ColumnDef, 0, len(row))
	for name, v := range row {
		cols = append(cols, domain.ColumnDef{Name: name, Type: inferType(v), Nullable: v == nil})
	}
	return cols
}

func inferType(v any) string {
	switch v.(type) {
	case float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "text"
	default:
		return "string"
	}
}

func (ex *Executor) createOrMoveBranch(ctx context.Context, tx *sql.Tx, datasetID, branchName, newCommitID string) error {
	var existing sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT commit_id FROM refs WHERE dataset_id = $1 AND name = $2`, datasetID, branchName).Scan(&existing)
	if err == sql.ErrNoRows {
		return store.CreateRef(ctx, tx, domain.Ref{DatasetID: datasetID, Name: branchName, CommitID: &newCommitID})
	}
	if err != nil {
		return apperr.New(apperr.Storage, "sqltransform.createOrMoveBranch", err)
	}
	expected := ""
	if existing.Valid {
		expected = existing.String
	}
	return store.UpdateRefOptimistic(ctx, tx, datasetID, branchName, expected, newCommitID)
}

func (ex *Executor) publish(ctx context.Context, t events.Type, job domain.Job, payload any) {
	if ex.bus == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		logging.L("sqltransform").Warn().Err(err).Msg("marshal event payload")
		return
	}
	evt := events.Event{
		EventType:     t,
		AggregateID:   fmt.Sprintf("%d", job.ID),
		AggregateType: "analysis_run",
		Payload:       b,
	}
	if job.UserID != "" {
		uid := job.UserID
		evt.UserID = &uid
	}
	if err := ex.bus.Publish(ctx, evt); err != nil {
		logging.L("sqltransform").Warn().Err(err).Msg("publish event")
	}
}
