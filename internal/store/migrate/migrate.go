// Package migrate runs the engine's schema migrations in order, grounded on
// the teacher's ordered migrationsList pattern (internal/storage/sqlite
// migrations.go), generalized from SQLite PRAGMA/EXCLUSIVE-transaction
// semantics to Postgres advisory locks and idempotent DDL.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one named, idempotent schema step.
type Migration struct {
	Name string
	Func func(ctx context.Context, db *sql.DB) error
}

// lockKey is an arbitrary constant used with pg_advisory_lock to serialize
// migrations across concurrently starting processes, analogous to the
// teacher's BEGIN EXCLUSIVE migration transaction.
const lockKey = 0x64617461_73657467 // "datasetg" truncated to fit int64

var migrationsList = []Migration{
	{"core_schema", migrateCoreSchema},
	{"jobs_schema", migrateJobsSchema},
	{"events_schema", migrateEventsSchema},
	{"audit_schema", migrateAuditSchema},
	{"search_materialized_view", migrateSearchView},
	{"commit_rows_indexes", migrateCommitRowsIndexes},
}

// List returns the ordered migration names, which `datasetd migrate` prints
// after Run.
func List() []string {
	names := make([]string, len(migrationsList))
	for i, m := range migrationsList {
		names[i] = m.Name
	}
	return names
}

// Run executes every migration in order inside a session-level advisory
// lock, so two processes racing to start against a fresh database don't
// both attempt the same idempotent DDL concurrently.
func Run(ctx context.Context, db *sql.DB) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migrate: acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("migrate: acquire advisory lock: %w", err)
	}
	defer conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, lockKey)

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	for _, m := range migrationsList {
		var exists bool
		if err := conn.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE name = $1)`, m.Name,
		).Scan(&exists); err != nil {
			return fmt.Errorf("migrate: check %s: %w", m.Name, err)
		}
		if exists {
			continue
		}
		if err := m.Func(ctx, db); err != nil {
			return fmt.Errorf("migrate: %s: %w", m.Name, err)
		}
		if _, err := conn.ExecContext(ctx,
			`INSERT INTO schema_migrations (name) VALUES ($1)`, m.Name,
		); err != nil {
			return fmt.Errorf("migrate: record %s: %w", m.Name, err)
		}
	}
	return nil
}
