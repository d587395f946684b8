package sampling

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
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

// Executor is the worker.Executor implementation for run_type=sampling: it
// runs every round of a job's plan inside one transaction against a shared
// exclusion set, so later rounds never redraw a row an earlier round claimed,
// then commits the union of all rounds (and, if requested, the residual) as
// a new commit on an output branch.
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
	const op = "sampling.Execute"
	log := logging.L("sampling").With().Int64("job_id", job.ID).Logger()

	var params Params
	if err := json.Unmarshal(job.RunParameters, &params); err != nil {
		return nil, nil, apperr.New(apperr.Validation, op, fmt.Errorf("parse run_parameters: %w", err))
	}
	if len(params.Rounds) == 0 {
		return nil, nil, apperr.New(apperr.Validation, op, fmt.Errorf("sampling requires at least one round"))
	}

	ex.publish(ctx, events.JobStarted, job, map[string]any{"table_key": params.TableKey, "rounds": len(params.Rounds)})
	_ = progress.Report(ctx, "Resolving schema", 5)

	schema, err := ex.store.GetSchema(ctx, params.SourceCommitID)
	if err != nil {
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}
	tableSchema, ok := schema[params.TableKey]
	if !ok {
		err := apperr.New(apperr.Validation, op, fmt.Errorf("table %q not found in commit %s schema", params.TableKey, params.SourceCommitID))
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}
	for _, round := range params.Rounds {
		if round.Selection != nil {
			if err := validation.ValidateSelection(schema, params.TableKey, *round.Selection); err != nil {
				ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
				return nil, nil, err
			}
		}
	}

	authoredAt := time.Now().UTC()
	newCommitID, err := canon.CommitID(job.DatasetID, params.SourceCommitID, job.UserID, params.CommitMessage, authoredAt)
	if err != nil {
		return nil, nil, apperr.New(apperr.Internal, op, fmt.Errorf("compute commit id: %w", err))
	}
	var results []RoundResult
	var totalSampled int64

	err = ex.store.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		estimatedRows, err := ex.estimateRowCount(ctx, tx, params)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			CREATE TEMP TABLE temp_sampling_exclusions (logical_row_id TEXT PRIMARY KEY) ON COMMIT DROP
		`); err != nil {
			return apperr.New(apperr.Storage, op, fmt.Errorf("create exclusion table: %w", err))
		}

		for i, round := range params.Rounds {
			roundNum := i + 1
			n, strata, err := ex.runRound(ctx, tx, roundNum, round, tableSchema, params.SourceCommitID, params.TableKey, estimatedRows)
			if err != nil {
				return fmt.Errorf("round %d: %w", roundNum, err)
			}
			totalSampled += n
			results = append(results, RoundResult{
				Method:              round.Method,
				RoundNumber:         roundNum,
				RowsSampled:         n,
				Parameters:          round.Parameters,
				OutputName:          round.OutputName,
				StrataDistribution:  strata,
			})
			pct := 10 + (70 * roundNum / len(params.Rounds))
			_ = progress.Report(ctx, fmt.Sprintf("Completed round %d/%d", roundNum, len(params.Rounds)), pct)
		}

		commit := domain.Commit{
			CommitID:       newCommitID,
			DatasetID:      job.DatasetID,
			ParentCommitID: &params.SourceCommitID,
			AuthorID:       job.UserID,
			Message:        params.CommitMessage,
			AuthoredAt:     authoredAt,
		}
		if err := store.CreateCommit(ctx, tx, commit); err != nil {
			return err
		}

		if err := store.CopyCommitRowsExcludingTable(ctx, tx, params.SourceCommitID, newCommitID, params.TableKey); err != nil {
			return err
		}
		for i := range params.Rounds {
			if err := ex.copyRoundIntoCommit(ctx, tx, i+1, newCommitID); err != nil {
				return fmt.Errorf("copy round %d samples: %w", i+1, err)
			}
		}

		outSchema := domain.SchemaDefinition{}
		for k, v := range schema {
			outSchema[k] = v
		}
		if params.ExportResidual {
			residualName := params.ResidualOutputName
			if residualName == "" {
				residualName = params.TableKey + "_residual"
			}
			if err := ex.exportResidual(ctx, tx, params.SourceCommitID, params.TableKey, newCommitID, residualName); err != nil {
				return fmt.Errorf("export residual: %w", err)
			}
			outSchema[residualName] = tableSchema
		}
		if err := store.PutSchema(ctx, tx, newCommitID, outSchema); err != nil {
			return err
		}

		analysis := domain.TableAnalysis{
			RowCount: totalSampled,
			ColumnTypes: map[string]string{},
			NullCounts:  map[string]int64{},
			SampleValues: map[string][]any{},
			Extra: map[string]any{"sampling_metadata": results},
		}
		for _, c := range tableSchema.Columns {
			analysis.ColumnTypes[c.Name] = c.Type
		}
		if err := store.PutTableAnalysis(ctx, tx, newCommitID, params.TableKey, analysis); err != nil {
			return err
		}

		return ex.moveBranch(ctx, tx, job.DatasetID, params.OutputBranchName, newCommitID)
	})
	if err != nil {
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}

	ex.publish(ctx, events.CommitCreated, job, map[string]any{"commit_id": newCommitID, "parent_commit_id": params.SourceCommitID})

	summary := map[string]any{
		"commit_id":     newCommitID,
		"rows_sampled":  totalSampled,
		"rounds":        results,
		"output_branch": params.OutputBranchName,
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return nil, nil, apperr.New(apperr.Internal, op, err)
	}

	ex.publish(ctx, events.JobCompleted, job, summary)
	_ = progress.Report(ctx, "Completed", 100)
	log.Info().Str("commit_id", newCommitID).Int64("rows_sampled", totalSampled).Msg("sampling job completed")

	return summaryJSON, nil, nil
}

// estimateRowCount returns the row count for the target table, used to pick
// the scalable hash-reject path for large-table seeded random sampling.
func (ex *Executor) estimateRowCount(ctx context.Context, tx *sql.Tx, params Params) (int64, error) {
	var count int64
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM commit_rows WHERE commit_id = $1 AND logical_row_id LIKE $2
	`, params.SourceCommitID, params.TableKey+":%").Scan(&count)
	if err != nil {
		return 0, apperr.New(apperr.Storage, "sampling.estimateRowCount", err)
	}
	return count, nil
}

// runRound materializes one round's samples into temp_round_N_samples and
// records every sampled logical_row_id into the shared exclusion set so
// subsequent rounds never redraw it.
func (ex *Executor) runRound(ctx context.Context, tx *sql.Tx, roundNum int, round RoundConfig, tableSchema domain.TableSchema, commitID, tableKey string, estimatedRows int64) (int64, map[string]int64, error) {
	schema := domain.SchemaDefinition{tableKey: tableSchema}
	query, args, err := buildRoundQuery(round, schema, commitID, tableKey, estimatedRows, ex.cfg)
	if err != nil {
		return 0, nil, apperr.New(apperr.Validation, "sampling.runRound", err)
	}

	tableName := roundTableName(roundNum)
	createStmt := fmt.Sprintf("CREATE TEMP TABLE %s ON COMMIT DROP AS %s", tableName, query)
	if _, err := tx.ExecContext(ctx, createStmt, args...); err != nil {
		return 0, nil, apperr.New(apperr.Storage, "sampling.runRound", fmt.Errorf("create round sample table: %w", err))
	}

	var n int64
	if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", tableName)).Scan(&n); err != nil {
		return 0, nil, apperr.New(apperr.Storage, "sampling.runRound", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO temp_sampling_exclusions (logical_row_id)
		SELECT logical_row_id FROM %s
		ON CONFLICT (logical_row_id) DO NOTHING
	`, tableName)); err != nil {
		return 0, nil, apperr.New(apperr.Storage, "sampling.runRound", fmt.Errorf("populate exclusions: %w", err))
	}

	var strataDist map[string]int64
	if round.Method == MethodStratified {
		strataDist, err = ex.strataDistribution(ctx, tx, tableName, round)
		if err != nil {
			return n, nil, err
		}
	}

	return n, strataDist, nil
}

func (ex *Executor) strataDistribution(ctx context.Context, tx *sql.Tx, roundTable string, round RoundConfig) (map[string]int64, error) {
	exprs := make([]string, len(round.Parameters.StrataColumns))
	for i, c := range round.Parameters.StrataColumns {
		exprs[i] = fmt.Sprintf("(r.data->>%s)", quoteIdent(c))
	}
	if len(exprs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT %s AS stratum_key, COUNT(*) FROM %s s
		JOIN rows r ON r.row_hash = s.row_hash
		GROUP BY stratum_key
	`, joinConcat(exprs), roundTable)
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, apperr.New(apperr.Storage, "sampling.strataDistribution", err)
	}
	defer rows.Close()
	dist := map[string]int64{}
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, apperr.New(apperr.Storage, "sampling.strataDistribution", err)
		}
		dist[key] = count
	}
	return dist, nil
}

func joinConcat(exprs []string) string {
	out := exprs[0]
	for _, e := range exprs[1:] {
		out += " || '\x1f' || " + e
	}
	return out
}

// copyRoundIntoCommit copies one round's sampled (logical_row_id, row_hash)
// pairs into commit_rows under the new output commit, preserving the
// original logical_row_id so the sample stays traceable to its source row.
func (ex *Executor) copyRoundIntoCommit(ctx context.Context, tx *sql.Tx, roundNum int, newCommitID string) error {
	tableName := roundTableName(roundNum)
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO commit_rows (commit_id, logical_row_id, row_hash)
		SELECT $1, logical_row_id, row_hash FROM %s
		ON CONFLICT (commit_id, logical_row_id) DO NOTHING
	`, tableName), newCommitID)
	if err != nil {
		return apperr.New(apperr.Storage, "sampling.copyRoundIntoCommit", err)
	}
	return nil
}

// exportResidual materializes the rows never claimed by any round into a
// separate table_key under the output commit, renaming each logical_row_id's
// table prefix to residualName.
func (ex *Executor) exportResidual(ctx context.Context, tx *sql.Tx, sourceCommitID, tableKey, newCommitID, residualName string) error {
	if err := validation.Identifier(residualName); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		CREATE TEMP TABLE temp_residual_data ON COMMIT DROP AS
		SELECT cr.logical_row_id, cr.row_hash
		FROM commit_rows cr
		WHERE cr.commit_id = $1 AND cr.logical_row_id LIKE $2
		  AND NOT EXISTS (SELECT 1 FROM temp_sampling_exclusions e WHERE e.logical_row_id = cr.logical_row_id)
	`, sourceCommitID, tableKey+":%"); err != nil {
		return apperr.New(apperr.Storage, "sampling.exportResidual", err)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO commit_rows (commit_id, logical_row_id, row_hash)
		SELECT $1, regexp_replace(logical_row_id, '^[^:]+', $2), row_hash
		FROM temp_residual_data
		ON CONFLICT (commit_id, logical_row_id) DO NOTHING
	`, newCommitID, residualName)
	if err != nil {
		return apperr.New(apperr.Storage, "sampling.exportResidual", err)
	}
	return nil
}

// moveBranch points outputBranchName at newCommitID, creating it if it
// doesn't exist yet or moving it with an optimistic check otherwise.
func (ex *Executor) moveBranch(ctx context.Context, tx *sql.Tx, datasetID, branchName, newCommitID string) error {
	if branchName == "" {
		return nil
	}
	var existing sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT commit_id FROM refs WHERE dataset_id = $1 AND name = $2`, datasetID, branchName).Scan(&existing)
	if err == sql.ErrNoRows {
		return store.CreateRef(ctx, tx, domain.Ref{DatasetID: datasetID, Name: branchName, CommitID: &newCommitID})
	}
	if err != nil {
		return apperr.New(apperr.Storage, "sampling.moveBranch", err)
	}
	expected := ""
	if existing.Valid {
		expected = existing.String
	}
	return store.UpdateRefOptimistic(ctx, tx, datasetID, branchName, expected, newCommitID)
}

func roundTableName(roundNum int) string {
	return fmt.Sprintf("temp_round_%d_samples", roundNum)
}

func (ex *Executor) publish(ctx context.Context, t events.Type, job domain.Job, payload any) {
	if ex.bus == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		logging.L("sampling").Warn().Err(err).Msg("marshal event payload")
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
		logging.L("sampling").Warn().Err(err).Msg("publish event")
	}
}
