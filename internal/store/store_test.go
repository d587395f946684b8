package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataset-commons/dataset-engine/internal/apperr"
	"github.com/dataset-commons/dataset-engine/internal/domain"
)

func TestUpdateRefOptimisticSucceedsWhenExpectedMatches(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE refs SET commit_id").
		WithArgs("c2", "d1", "main", "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, UpdateRefOptimistic(context.Background(), db, "d1", "main", "c1", "c2"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRefOptimisticFailsOnStaleExpected(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE refs SET commit_id").
		WithArgs("c2", "d1", "main", "stale").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = UpdateRefOptimistic(context.Background(), db, "d1", "main", "stale", "c2")
	require.Error(t, err)
	assert.Equal(t, apperr.Concurrency, apperr.KindOf(err))
	assert.ErrorIs(t, err, apperr.ErrConcurrentRefUpdate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutRowIsIdempotentUnderConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO rows").
		WithArgs("hash1", []byte(`{"a":1}`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = PutRow(context.Background(), db, domain.Row{RowHash: "hash1", Data: []byte(`{"a":1}`)})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCommitPersistsFields(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO commits").
		WillReturnResult(sqlmock.NewResult(0, 1))

	c := domain.Commit{
		CommitID:  "c1",
		DatasetID: "d1",
		AuthorID:  "u1",
		Message:   "import",
	}
	require.NoError(t, CreateCommit(context.Background(), db, c))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveRefNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT commit_id FROM refs").
		WithArgs("d1", "main").
		WillReturnRows(sqlmock.NewRows([]string{"commit_id"}))

	s := New(db)
	_, err = s.ResolveRef(context.Background(), "d1", "main")
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
