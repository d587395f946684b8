package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataset-commons/dataset-engine/internal/domain"
)

type fakeExecutor struct {
	summary json.RawMessage
	fileID  *int64
	err     error
}

func (f *fakeExecutor) Execute(_ context.Context, _ domain.Job, _ ProgressReporter) (json.RawMessage, *int64, error) {
	return f.summary, f.fileID, f.err
}

func TestLeaseBatchClaimsPendingRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, run_type").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "run_type", "dataset_id", "source_commit_id", "user_id", "status", "run_parameters", "run_timestamp",
		}).AddRow(int64(1), "import", "d1", nil, "u1", "pending", []byte(`{}`), time.Now()))
	mock.ExpectExec("UPDATE analysis_runs SET status = 'running'").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := New(db, Config{Concurrency: 1})
	jobs, err := w.leaseBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.RunImport, jobs[0].RunType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMarksJobCompletedOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE analysis_runs\\s+SET status = 'completed'").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := New(db, Config{})
	w.Register(domain.RunImport, &fakeExecutor{summary: []byte(`{"rows":3}`)})

	w.run(context.Background(), domain.Job{ID: 1, RunType: domain.RunImport})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMarksJobFailedWhenNoExecutorRegistered(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE analysis_runs\\s+SET status = 'failed'").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := New(db, Config{})
	w.run(context.Background(), domain.Job{ID: 2, RunType: domain.RunSampling})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoverStaleFailsJobsPastRecoveryTimeout(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE analysis_runs\\s+SET status = 'failed', error_message = 'interrupted by server restart'").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE analysis_runs\\s+SET status = 'pending'").
		WillReturnResult(sqlmock.NewResult(0, 0))

	w := New(db, Config{RecoveryTimeout: time.Minute})
	require.NoError(t, w.recoverStale(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoverStaleReschedulesJobsWithinRecoveryWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE analysis_runs\\s+SET status = 'failed', error_message = 'interrupted by server restart'").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE analysis_runs\\s+SET status = 'pending'").
		WillReturnResult(sqlmock.NewResult(0, 3))

	w := New(db, Config{RecoveryTimeout: time.Minute})
	require.NoError(t, w.recoverStale(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
