// Package worker implements the database-polled job worker (SPEC_FULL
// §4.I): poll analysis_runs for pending rows with FOR UPDATE SKIP LOCKED,
// dispatch each to its registered executor, and sweep stale running rows
// left behind by a crashed worker process. Grounded on the outbox-worker
// lease/process/mark-done poll loop pattern.
package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dataset-commons/dataset-engine/internal/domain"
	"github.com/dataset-commons/dataset-engine/internal/logging"
)

// ProgressReporter lets an executor publish incremental progress to the
// owning analysis_runs row without knowing about SQL.
type ProgressReporter interface {
	Report(ctx context.Context, status string, pct int) error
}

// Executor runs one job to completion, returning its output_summary
// document and an optional output file ID.
type Executor interface {
	Execute(ctx context.Context, job domain.Job, progress ProgressReporter) (outputSummary json.RawMessage, outputFileID *int64, err error)
}

// Config tunes polling cadence, concurrency, and crash-recovery staleness
// (SPEC_FULL §8 worker.* keys).
type Config struct {
	PollInterval     time.Duration
	RecoveryTimeout  time.Duration
	Concurrency      int
}

func DefaultConfig() Config {
	return Config{PollInterval: 2 * time.Second, RecoveryTimeout: time.Hour, Concurrency: 4}
}

// Worker polls analysis_runs and dispatches pending jobs to executors
// registered per run_type.
type Worker struct {
	db       *sql.DB
	registry map[domain.RunType]Executor
	cfg      Config
}

func New(db *sql.DB, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	return &Worker{db: db, registry: make(map[domain.RunType]Executor), cfg: cfg}
}

// Register associates an Executor with the run_type it handles.
func (w *Worker) Register(runType domain.RunType, exec Executor) {
	w.registry[runType] = exec
}

// Run runs the crash-recovery sweep (see recoverStale) once, then polls
// until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	log := logging.L("worker")
	log.Info().Dur("poll_interval", w.cfg.PollInterval).Int("concurrency", w.cfg.Concurrency).Msg("worker starting")

	if err := w.recoverStale(ctx); err != nil {
		log.Error().Err(err).Msg("crash recovery sweep failed")
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.processOnce(ctx); err != nil {
				log.Error().Err(err).Msg("process cycle failed")
			}
		}
	}
}

// RecoverStale is the exported form of recoverStale, for callers (e.g. the
// cron-driven maintenance scheduler) that want to run the crash-recovery
// sweep on a cadence independent of the worker's own poll loop.
func (w *Worker) RecoverStale(ctx context.Context) error {
	return w.recoverStale(ctx)
}

// recoverStale implements the wall-clock crash-recovery path (SPEC_FULL
// §4.I): for every row still marked 'running', one stuck longer than
// RecoveryTimeout is past saving and transitions straight to 'failed';
// one still inside the window is assumed to belong to a worker that is
// merely slow (or this very process, restarted) and is rescheduled by
// resetting it to 'pending' so the next poll picks it back up.
func (w *Worker) recoverStale(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-w.cfg.RecoveryTimeout)
	log := logging.L("worker")

	failed, err := w.db.ExecContext(ctx, `
		UPDATE analysis_runs
		SET status = 'failed', error_message = 'interrupted by server restart', completed_at = now()
		WHERE status = 'running' AND run_timestamp < $1
	`, cutoff)
	if err != nil {
		return err
	}
	if n, _ := failed.RowsAffected(); n > 0 {
		log.Warn().Int64("failed_jobs", n).Msg("failed jobs stuck past recovery timeout")
	}

	rescheduled, err := w.db.ExecContext(ctx, `
		UPDATE analysis_runs
		SET status = 'pending'
		WHERE status = 'running' AND run_timestamp >= $1
	`, cutoff)
	if err != nil {
		return err
	}
	if n, _ := rescheduled.RowsAffected(); n > 0 {
		log.Warn().Int64("rescheduled_jobs", n).Msg("rescheduled running jobs within recovery window")
	}
	return nil
}

// processOnce leases up to Concurrency pending rows and runs each through
// its executor concurrently.
func (w *Worker) processOnce(ctx context.Context) error {
	jobs, err := w.leaseBatch(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(len(jobs))
	for _, j := range jobs {
		j := j
		go func() {
			defer wg.Done()
			w.run(ctx, j)
		}()
	}
	wg.Wait()
	return nil
}

// leaseBatch locks and claims up to Concurrency pending rows, flipping them
// to 'running' within the same transaction so no other worker can see them.
func (w *Worker) leaseBatch(ctx context.Context) ([]domain.Job, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, run_type, dataset_id, source_commit_id, user_id, status, run_parameters, run_timestamp
		FROM analysis_runs
		WHERE status = 'pending'
		ORDER BY run_timestamp ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, w.cfg.Concurrency)
	if err != nil {
		return nil, err
	}

	var jobs []domain.Job
	for rows.Next() {
		var j domain.Job
		if err := rows.Scan(&j.ID, &j.RunType, &j.DatasetID, &j.SourceCommitID, &j.UserID, &j.Status, &j.RunParameters, &j.RunTimestamp); err != nil {
			rows.Close()
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, j := range jobs {
		if _, err := tx.ExecContext(ctx, `UPDATE analysis_runs SET status = 'running' WHERE id = $1`, j.ID); err != nil {
			return nil, err
		}
	}

	return jobs, tx.Commit()
}

// run dispatches one claimed job to its registered executor and records the
// terminal status. A panic inside the executor is treated as a failure, not
// a crash of the worker process.
func (w *Worker) run(ctx context.Context, job domain.Job) {
	log := logging.L("worker").With().Int64("job_id", job.ID).Str("run_type", string(job.RunType)).Logger()

	exec, ok := w.registry[job.RunType]
	if !ok {
		w.fail(ctx, job.ID, fmt.Errorf("no executor registered for run_type %q", job.RunType))
		return
	}

	start := time.Now()
	var (
		summary json.RawMessage
		fileID  *int64
		err     error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("executor panicked: %v", r)
			}
		}()
		summary, fileID, err = exec.Execute(ctx, job, &dbProgress{db: w.db, jobID: job.ID})
	}()

	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		log.Error().Err(err).Msg("job failed")
		w.fail(ctx, job.ID, err)
		return
	}
	if cerr := w.complete(ctx, job.ID, summary, fileID, elapsed); cerr != nil {
		log.Error().Err(cerr).Msg("failed to record job completion")
	}
}

func (w *Worker) fail(ctx context.Context, jobID int64, cause error) {
	_, err := w.db.ExecContext(ctx, `
		UPDATE analysis_runs
		SET status = 'failed', error_message = $2, completed_at = now()
		WHERE id = $1
	`, jobID, cause.Error())
	if err != nil {
		logging.L("worker").Error().Err(err).Int64("job_id", jobID).Msg("failed to persist failure")
	}
}

func (w *Worker) complete(ctx context.Context, jobID int64, summary json.RawMessage, fileID *int64, elapsedMS int64) error {
	_, err := w.db.ExecContext(ctx, `
		UPDATE analysis_runs
		SET status = 'completed', output_summary = $2, output_file_id = $3,
		    completed_at = now(), execution_time_ms = $4
		WHERE id = $1
	`, jobID, nullableJSON(summary), fileID, elapsedMS)
	return err
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// dbProgress reports progress by merging {status, pct} into
// run_parameters.progress via jsonb_set, so readers polling the job row see
// live progress without a separate table.
type dbProgress struct {
	db    *sql.DB
	jobID int64
}

func (p *dbProgress) Report(ctx context.Context, status string, pct int) error {
	doc, err := json.Marshal(domain.Progress{Status: status, Pct: pct})
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		UPDATE analysis_runs
		SET run_parameters = jsonb_set(run_parameters, '{progress}', $2::jsonb, true)
		WHERE id = $1
	`, p.jobID, string(doc))
	return err
}
