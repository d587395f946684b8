// Package artifacts implements the deduplicating artifact producer
// (SPEC_FULL §4.C): every byte blob written to the store is content-hashed
// first, and an existing files row with the same hash is reference-counted
// instead of re-uploaded.
package artifacts

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gofrs/flock"

	"github.com/dataset-commons/dataset-engine/internal/apperr"
	"github.com/dataset-commons/dataset-engine/internal/blobstore"
	"github.com/dataset-commons/dataset-engine/internal/domain"
)

const chunkSize = 8 * 1024

// Producer creates deduplicated FileArtifact rows backed by a blobstore.Backend.
type Producer struct {
	db      *sql.DB
	backend blobstore.Backend
	lockDir string
}

// NewProducer constructs a Producer. lockDir holds the per-hash flock files
// used to serialize concurrent writers racing on the same content hash
// (modeled on the teacher's registry-file-lock pattern in
// internal/storage/sqlite, generalized from a single registry lock to one
// lock per content hash).
func NewProducer(db *sql.DB, backend blobstore.Backend, lockDir string) *Producer {
	return &Producer{db: db, backend: backend, lockDir: lockDir}
}

// CreateArtifact hashes r, storing it under backend and a files row keyed by
// that hash. If a row with the same content_hash already exists its
// reference_count is incremented and the existing row is returned without a
// second upload; otherwise r's bytes are uploaded and a new row inserted.
//
// r need not be seekable: if it is not an io.Seeker, its bytes are first
// spooled to a temp file so the hash can be computed before the upload pass
// begins, without holding the whole payload in memory.
func (p *Producer) CreateArtifact(ctx context.Context, fileType, storagePath string, r io.Reader, mimeType *string) (*domain.FileArtifact, error) {
	const op = "artifacts.CreateArtifact"

	hash, size, source, cleanup, err := p.hashAndStage(r)
	if err != nil {
		return nil, apperr.New(apperr.Internal, op, err)
	}
	defer cleanup()

	lock := flock.New(p.lockPath(hash))
	if err := lock.Lock(); err != nil {
		return nil, apperr.New(apperr.Storage, op, fmt.Errorf("acquire dedup lock: %w", err))
	}
	defer lock.Unlock()

	existing, err := p.findByHash(ctx, hash)
	if err != nil {
		return nil, apperr.New(apperr.Storage, op, err)
	}
	if existing != nil {
		if err := p.incrementRefCount(ctx, existing.ID); err != nil {
			return nil, apperr.New(apperr.Storage, op, err)
		}
		existing.ReferenceCount++
		return existing, nil
	}

	if _, err := source.Seek(0, io.SeekStart); err != nil {
		return nil, apperr.New(apperr.Internal, op, fmt.Errorf("rewind staged content: %w", err))
	}
	if err := p.backend.WriteStream(ctx, storagePath, source); err != nil {
		return nil, apperr.New(apperr.Storage, op, fmt.Errorf("upload: %w", err))
	}

	artifact := &domain.FileArtifact{
		ContentHash:    hash,
		FileType:       fileType,
		MimeType:       mimeType,
		FilePath:       storagePath,
		FileSize:       size,
		ReferenceCount: 1,
		StorageType:    "blobstore",
	}
	if err := p.insert(ctx, artifact); err != nil {
		// Compensating delete: the upload succeeded but the row didn't, so
		// don't leave an orphaned blob with no accounting row behind.
		_ = p.backend.Delete(ctx, storagePath)
		return nil, apperr.New(apperr.Storage, op, fmt.Errorf("insert files row: %w", err))
	}
	return artifact, nil
}

// hashAndStage returns a seekable source positioned for re-reading from the
// start once the caller is ready to upload, along with the SHA-256 hash and
// byte count observed while staging it.
func (p *Producer) hashAndStage(r io.Reader) (hash string, size int64, source io.ReadSeeker, cleanup func(), err error) {
	if seeker, ok := r.(io.ReadSeeker); ok {
		h := sha256.New()
		n, err := io.CopyBuffer(h, seeker, make([]byte, chunkSize))
		if err != nil {
			return "", 0, nil, func() {}, err
		}
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return "", 0, nil, func() {}, err
		}
		return hex.EncodeToString(h.Sum(nil)), n, seeker, func() {}, nil
	}

	tmp, err := os.CreateTemp("", "dataset-artifact-*")
	if err != nil {
		return "", 0, nil, func() {}, err
	}
	cleanup = func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	h := sha256.New()
	mw := io.MultiWriter(h, tmp)
	n, err := io.CopyBuffer(mw, r, make([]byte, chunkSize))
	if err != nil {
		cleanup()
		return "", 0, nil, func() {}, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return "", 0, nil, func() {}, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, tmp, cleanup, nil
}

func (p *Producer) lockPath(hash string) string {
	return p.lockDir + "/" + hash + ".lock"
}

func (p *Producer) findByHash(ctx context.Context, hash string) (*domain.FileArtifact, error) {
	var a domain.FileArtifact
	var mimeType, compressionType sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT id, content_hash, file_type, mime_type, file_path, file_size,
		       reference_count, compression_type, storage_type
		FROM files WHERE content_hash = $1
	`, hash).Scan(&a.ID, &a.ContentHash, &a.FileType, &mimeType, &a.FilePath, &a.FileSize,
		&a.ReferenceCount, &compressionType, &a.StorageType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if mimeType.Valid {
		a.MimeType = &mimeType.String
	}
	if compressionType.Valid {
		a.CompressionType = &compressionType.String
	}
	return &a, nil
}

func (p *Producer) incrementRefCount(ctx context.Context, id int64) error {
	_, err := p.db.ExecContext(ctx, `UPDATE files SET reference_count = reference_count + 1 WHERE id = $1`, id)
	return err
}

func (p *Producer) insert(ctx context.Context, a *domain.FileArtifact) error {
	return p.db.QueryRowContext(ctx, `
		INSERT INTO files (content_hash, file_type, mime_type, file_path, file_size, reference_count, storage_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, a.ContentHash, a.FileType, a.MimeType, a.FilePath, a.FileSize, a.ReferenceCount, a.StorageType,
	).Scan(&a.ID)
}

// Release decrements an artifact's reference count, deleting the files row
// and its backing blob once the count reaches zero. Used when a commit or
// job output referencing this artifact is itself deleted.
func (p *Producer) Release(ctx context.Context, id int64) error {
	const op = "artifacts.Release"
	var (
		count int64
		path  string
	)
	err := p.db.QueryRowContext(ctx, `
		UPDATE files SET reference_count = reference_count - 1
		WHERE id = $1
		RETURNING reference_count, file_path
	`, id).Scan(&count, &path)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.NotFound, op, fmt.Errorf("file id %d not found", id))
	}
	if err != nil {
		return apperr.New(apperr.Storage, op, err)
	}
	if count > 0 {
		return nil
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id); err != nil {
		return apperr.New(apperr.Storage, op, err)
	}
	if err := p.backend.Delete(ctx, path); err != nil {
		return apperr.New(apperr.Storage, op, fmt.Errorf("delete backing blob: %w", err))
	}
	return nil
}
