package artifacts

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataset-commons/dataset-engine/internal/blobstore"
)

const testHash = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" // sha256("hello")

func TestCreateArtifactUploadsOnFirstWrite(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, content_hash").
		WithArgs(testHash).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "content_hash", "file_type", "mime_type", "file_path", "file_size",
			"reference_count", "compression_type", "storage_type",
		}))
	mock.ExpectQuery("INSERT INTO files").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	backend := blobstore.NewMemory()
	p := NewProducer(db, backend, t.TempDir())

	artifact, err := p.CreateArtifact(context.Background(), "csv", "artifacts/hello.csv", strings.NewReader("hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), artifact.ID)
	assert.Equal(t, testHash, artifact.ContentHash)
	assert.Equal(t, int64(1), artifact.ReferenceCount)

	ok, err := backend.Exists(context.Background(), "artifacts/hello.csv")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateArtifactDedupesAgainstExistingHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, content_hash").
		WithArgs(testHash).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "content_hash", "file_type", "mime_type", "file_path", "file_size",
			"reference_count", "compression_type", "storage_type",
		}).AddRow(int64(7), testHash, "csv", nil, "artifacts/existing.csv", int64(5), int64(2), nil, "blobstore"))
	mock.ExpectExec("UPDATE files SET reference_count").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	backend := blobstore.NewMemory()
	p := NewProducer(db, backend, t.TempDir())

	artifact, err := p.CreateArtifact(context.Background(), "csv", "artifacts/hello-again.csv", strings.NewReader("hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), artifact.ID)
	assert.Equal(t, int64(3), artifact.ReferenceCount)

	ok, err := backend.Exists(context.Background(), "artifacts/hello-again.csv")
	require.NoError(t, err)
	assert.False(t, ok, "deduped write must not re-upload bytes")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateArtifactHandlesNonSeekableReader(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, content_hash").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "content_hash", "file_type", "mime_type", "file_path", "file_size",
			"reference_count", "compression_type", "storage_type",
		}))
	mock.ExpectQuery("INSERT INTO files").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))

	backend := blobstore.NewMemory()
	p := NewProducer(db, backend, t.TempDir())

	r := &onlyReader{r: bytes.NewReader([]byte("hello"))}
	artifact, err := p.CreateArtifact(context.Background(), "csv", "artifacts/staged.csv", r, nil)
	require.NoError(t, err)
	assert.Equal(t, testHash, artifact.ContentHash)

	require.NoError(t, mock.ExpectationsWereMet())
}

// onlyReader hides the io.ReadSeeker methods of the embedded reader so
// CreateArtifact is forced down the temp-file staging path.
type onlyReader struct {
	r *bytes.Reader
}

func (o *onlyReader) Read(p []byte) (int, error) { return o.r.Read(p) }
