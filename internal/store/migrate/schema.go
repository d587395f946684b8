package migrate

import (
	"context"
	"database/sql"
)

func migrateCoreSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS datasets (
			dataset_id   TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			created_by   TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			id               BIGSERIAL PRIMARY KEY,
			content_hash     TEXT NOT NULL UNIQUE,
			file_type        TEXT NOT NULL,
			mime_type        TEXT,
			file_path        TEXT NOT NULL,
			file_size        BIGINT NOT NULL,
			reference_count  BIGINT NOT NULL DEFAULT 1,
			compression_type TEXT,
			metadata         JSONB,
			storage_type     TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rows (
			row_hash TEXT PRIMARY KEY,
			data     JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS commits (
			commit_id        TEXT PRIMARY KEY,
			dataset_id       TEXT NOT NULL REFERENCES datasets(dataset_id),
			parent_commit_id TEXT REFERENCES commits(commit_id),
			author_id        TEXT NOT NULL,
			message          TEXT NOT NULL,
			authored_at      TIMESTAMPTZ NOT NULL,
			committed_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS commit_rows (
			commit_id      TEXT NOT NULL REFERENCES commits(commit_id),
			logical_row_id TEXT NOT NULL,
			row_hash       TEXT NOT NULL REFERENCES rows(row_hash),
			PRIMARY KEY (commit_id, logical_row_id)
		)`,
		`CREATE TABLE IF NOT EXISTS refs (
			dataset_id TEXT NOT NULL REFERENCES datasets(dataset_id),
			name       TEXT NOT NULL,
			commit_id  TEXT REFERENCES commits(commit_id),
			PRIMARY KEY (dataset_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS commit_schemas (
			commit_id         TEXT PRIMARY KEY REFERENCES commits(commit_id),
			schema_definition JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS table_analysis (
			commit_id TEXT NOT NULL REFERENCES commits(commit_id),
			table_key TEXT NOT NULL,
			analysis  JSONB NOT NULL,
			PRIMARY KEY (commit_id, table_key)
		)`,
	}
	return execAll(ctx, db, stmts)
}

func migrateJobsSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS analysis_runs (
			id                BIGSERIAL PRIMARY KEY,
			run_type          TEXT NOT NULL,
			dataset_id        TEXT NOT NULL REFERENCES datasets(dataset_id),
			source_commit_id  TEXT REFERENCES commits(commit_id),
			user_id           TEXT NOT NULL,
			status            TEXT NOT NULL DEFAULT 'pending',
			run_parameters    JSONB NOT NULL,
			output_summary    JSONB,
			output_file_id    BIGINT REFERENCES files(id),
			error_message     TEXT,
			run_timestamp     TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at      TIMESTAMPTZ,
			execution_time_ms BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS analysis_runs_pending_idx
			ON analysis_runs (status, run_timestamp) WHERE status = 'pending'`,
	}
	return execAll(ctx, db, stmts)
}

func migrateEventsSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS domain_events (
			event_id       TEXT PRIMARY KEY,
			event_type     TEXT NOT NULL,
			aggregate_id   TEXT NOT NULL,
			aggregate_type TEXT NOT NULL,
			payload        JSONB,
			metadata       JSONB,
			occurred_at    TIMESTAMPTZ NOT NULL,
			user_id        TEXT,
			correlation_id TEXT,
			version        BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS domain_events_aggregate_idx
			ON domain_events (aggregate_id, version)`,
		`CREATE TABLE IF NOT EXISTS aggregate_snapshots (
			aggregate_id   TEXT PRIMARY KEY,
			aggregate_type TEXT NOT NULL,
			version        BIGINT NOT NULL,
			state          JSONB NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	return execAll(ctx, db, stmts)
}

func migrateAuditSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id             TEXT PRIMARY KEY,
			event_type     TEXT NOT NULL,
			aggregate_id   TEXT NOT NULL,
			aggregate_type TEXT NOT NULL,
			payload        JSONB,
			occurred_at    TIMESTAMPTZ NOT NULL,
			user_id        TEXT
		)`,
	}
	return execAll(ctx, db, stmts)
}

// migrateSearchView creates the single materialized view this engine owns
// (SPEC_FULL explicitly excludes full-text indexing beyond this refresh).
func migrateSearchView(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE MATERIALIZED VIEW IF NOT EXISTS datasets_summary AS
			SELECT
				d.dataset_id,
				d.name,
				r.commit_id AS head_commit_id,
				c.committed_at AS head_committed_at
			FROM datasets d
			LEFT JOIN refs r ON r.dataset_id = d.dataset_id AND r.name = 'main'
			LEFT JOIN commits c ON c.commit_id = r.commit_id
		`,
		`CREATE UNIQUE INDEX IF NOT EXISTS datasets_summary_pk ON datasets_summary (dataset_id)`,
	}
	return execAll(ctx, db, stmts)
}

func migrateCommitRowsIndexes(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS commit_rows_row_hash_idx ON commit_rows (row_hash)`,
		`CREATE INDEX IF NOT EXISTS commit_rows_logical_row_id_idx ON commit_rows (logical_row_id)`,
	}
	return execAll(ctx, db, stmts)
}

func execAll(ctx context.Context, db *sql.DB, stmts []string) error {
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
