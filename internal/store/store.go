// Package store implements the content-addressed commit store (SPEC_FULL
// §4.B): rows, commits, commit_rows, refs, commit_schemas, and
// table_analysis, with Git-like branching and optimistic-locked ref updates.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dataset-commons/dataset-engine/internal/apperr"
	"github.com/dataset-commons/dataset-engine/internal/canon"
	"github.com/dataset-commons/dataset-engine/internal/domain"
)

// Store is the Postgres-backed implementation of the content-addressed
// store. All methods are safe for concurrent use; transactional grouping
// (e.g. "create commit, then attach rows") is the caller's responsibility
// via WithTx.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting every method take
// either so callers can compose multi-step operations inside one transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.New(apperr.Storage, "store.WithTx", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// PutRow inserts a deduplicated row, a no-op if row_hash already exists.
func PutRow(ctx context.Context, e execer, row domain.Row) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO rows (row_hash, data) VALUES ($1, $2)
		ON CONFLICT (row_hash) DO NOTHING
	`, row.RowHash, []byte(row.Data))
	if err != nil {
		return apperr.New(apperr.Storage, "store.PutRow", err)
	}
	return nil
}

// AttachCommitRow links an already-deduplicated row_hash to a
// (commit_id, logical_row_id) pair.
func AttachCommitRow(ctx context.Context, e execer, cr domain.CommitRow) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO commit_rows (commit_id, logical_row_id, row_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (commit_id, logical_row_id) DO UPDATE SET row_hash = EXCLUDED.row_hash
	`, cr.CommitID, cr.LogicalRowID, cr.RowHash)
	if err != nil {
		return apperr.New(apperr.Storage, "store.AttachCommitRow", err)
	}
	return nil
}

// CreateCommit creates a new, as-yet-rowless commit. Callers attach rows in
// a later step, so a crash between commit creation and row attachment
// leaves an orphan commit recoverable by the worker's crash-recovery sweep.
func CreateCommit(ctx context.Context, e execer, commit domain.Commit) error {
	if commit.AuthoredAt.IsZero() {
		commit.AuthoredAt = time.Now().UTC()
	}
	_, err := e.ExecContext(ctx, `
		INSERT INTO commits (commit_id, dataset_id, parent_commit_id, author_id, message, authored_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, commit.CommitID, commit.DatasetID, commit.ParentCommitID, commit.AuthorID, commit.Message, commit.AuthoredAt)
	if err != nil {
		return apperr.New(apperr.Storage, "store.CreateCommit", err)
	}
	return nil
}

// GetCommit loads a commit by ID.
func (s *Store) GetCommit(ctx context.Context, commitID string) (*domain.Commit, error) {
	var c domain.Commit
	err := s.db.QueryRowContext(ctx, `
		SELECT commit_id, dataset_id, parent_commit_id, author_id, message, authored_at, committed_at
		FROM commits WHERE commit_id = $1
	`, commitID).Scan(&c.CommitID, &c.DatasetID, &c.ParentCommitID, &c.AuthorID, &c.Message, &c.AuthoredAt, &c.CommittedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "store.GetCommit", fmt.Errorf("commit %s not found", commitID))
	}
	if err != nil {
		return nil, apperr.New(apperr.Storage, "store.GetCommit", err)
	}
	return &c, nil
}

// ResolveRef resolves a dataset/ref name to its current commit ID.
func (s *Store) ResolveRef(ctx context.Context, datasetID, name string) (string, error) {
	var commitID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT commit_id FROM refs WHERE dataset_id = $1 AND name = $2
	`, datasetID, name).Scan(&commitID)
	if errors.Is(err, sql.ErrNoRows) || !commitID.Valid {
		return "", apperr.New(apperr.NotFound, "store.ResolveRef", fmt.Errorf("ref %s/%s not found", datasetID, name))
	}
	if err != nil {
		return "", apperr.New(apperr.Storage, "store.ResolveRef", err)
	}
	return commitID.String, nil
}

// CreateRef creates a new named ref pointing at commitID (e.g. a freshly
// minted output branch from sampling or SQL transformation).
func CreateRef(ctx context.Context, e execer, ref domain.Ref) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO refs (dataset_id, name, commit_id) VALUES ($1, $2, $3)
	`, ref.DatasetID, ref.Name, ref.CommitID)
	if err != nil {
		return apperr.New(apperr.Storage, "store.CreateRef", err)
	}
	return nil
}

// UpdateRefOptimistic moves a ref forward only if it still points at
// expectedCommitID, returning apperr.ErrConcurrentRefUpdate otherwise
// (SPEC_FULL §7 optimistic locking).
func UpdateRefOptimistic(ctx context.Context, e execer, datasetID, name, expectedCommitID, newCommitID string) error {
	result, err := e.ExecContext(ctx, `
		UPDATE refs SET commit_id = $1
		WHERE dataset_id = $2 AND name = $3 AND commit_id = $4
	`, newCommitID, datasetID, name, expectedCommitID)
	if err != nil {
		return apperr.New(apperr.Storage, "store.UpdateRefOptimistic", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return apperr.New(apperr.Storage, "store.UpdateRefOptimistic", err)
	}
	if n == 0 {
		return apperr.New(apperr.Concurrency, "store.UpdateRefOptimistic", apperr.ErrConcurrentRefUpdate)
	}
	return nil
}

// PutSchema inserts or replaces the schema document for a commit.
func PutSchema(ctx context.Context, e execer, commitID string, schema domain.SchemaDefinition) error {
	b, err := canon.Marshal(schema)
	if err != nil {
		return apperr.New(apperr.Internal, "store.PutSchema", err)
	}
	_, err = e.ExecContext(ctx, `
		INSERT INTO commit_schemas (commit_id, schema_definition) VALUES ($1, $2)
		ON CONFLICT (commit_id) DO UPDATE SET schema_definition = EXCLUDED.schema_definition
	`, commitID, b)
	if err != nil {
		return apperr.New(apperr.Storage, "store.PutSchema", err)
	}
	return nil
}

// MergeSchema folds newTables into the commit's existing schema document
// (schema ← schema ∪ new_tables) (SPEC_FULL §4.B). No executor in this
// module calls it; they write whole schema documents with PutSchema.
func (s *Store) MergeSchema(ctx context.Context, tx *sql.Tx, commitID string, newTables domain.SchemaDefinition) error {
	var existing domain.SchemaDefinition
	var raw []byte
	err := tx.QueryRowContext(ctx, `SELECT schema_definition FROM commit_schemas WHERE commit_id = $1`, commitID).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.Storage, "store.MergeSchema", err)
	}
	if err == nil {
		if jsonErr := json.Unmarshal(raw, &existing); jsonErr != nil {
			return apperr.New(apperr.Internal, "store.MergeSchema", jsonErr)
		}
	}
	if existing == nil {
		existing = domain.SchemaDefinition{}
	}
	for table, schema := range newTables {
		existing[table] = schema
	}
	return PutSchema(ctx, tx, commitID, existing)
}

// GetSchema loads a commit's schema document.
func (s *Store) GetSchema(ctx context.Context, commitID string) (domain.SchemaDefinition, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT schema_definition FROM commit_schemas WHERE commit_id = $1`, commitID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SchemaDefinition{}, nil
	}
	if err != nil {
		return nil, apperr.New(apperr.Storage, "store.GetSchema", err)
	}
	var schema domain.SchemaDefinition
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, apperr.New(apperr.Internal, "store.GetSchema", err)
	}
	return schema, nil
}

// PutTableAnalysis upserts the per-table analysis document computed during
// post-import maintenance or the EDA executor.
func PutTableAnalysis(ctx context.Context, e execer, commitID, tableKey string, analysis domain.TableAnalysis) error {
	b, err := canon.Marshal(analysis)
	if err != nil {
		return apperr.New(apperr.Internal, "store.PutTableAnalysis", err)
	}
	_, err = e.ExecContext(ctx, `
		INSERT INTO table_analysis (commit_id, table_key, analysis) VALUES ($1, $2, $3)
		ON CONFLICT (commit_id, table_key) DO UPDATE SET analysis = EXCLUDED.analysis
	`, commitID, tableKey, b)
	if err != nil {
		return apperr.New(apperr.Storage, "store.PutTableAnalysis", err)
	}
	return nil
}

// CopyCommitRowsExcludingTable copies every commit_rows entry of srcCommitID
// into dstCommitID except those whose logical_row_id belongs to excludeTableKey,
// the "preserve other tables" half of a SQL transformation (SPEC_FULL §4.G).
func CopyCommitRowsExcludingTable(ctx context.Context, tx *sql.Tx, srcCommitID, dstCommitID, excludeTableKey string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO commit_rows (commit_id, logical_row_id, row_hash)
		SELECT $1, logical_row_id, row_hash
		FROM commit_rows
		WHERE commit_id = $2 AND logical_row_id NOT LIKE $3
	`, dstCommitID, srcCommitID, excludeTableKey+":%")
	if err != nil {
		return apperr.New(apperr.Storage, "store.CopyCommitRowsExcludingTable", err)
	}
	return nil
}

// CountCommitRows counts commit_rows for a commit, optionally restricted to
// one table_key prefix (empty string means all tables).
func (s *Store) CountCommitRows(ctx context.Context, commitID, tableKeyPrefix string) (int64, error) {
	var count int64
	var err error
	if tableKeyPrefix == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commit_rows WHERE commit_id = $1`, commitID).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM commit_rows WHERE commit_id = $1 AND logical_row_id LIKE $2
		`, commitID, tableKeyPrefix+":%").Scan(&count)
	}
	if err != nil {
		return 0, apperr.New(apperr.Storage, "store.CountCommitRows", err)
	}
	return count, nil
}
