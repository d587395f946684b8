package blobstore

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDispatchesByScheme(t *testing.T) {
	b, err := Open("memory://")
	require.NoError(t, err)
	_, ok := b.(*Memory)
	assert.True(t, ok)

	dir := t.TempDir()
	b, err = Open(dir)
	require.NoError(t, err)
	_, ok = b.(*Local)
	assert.True(t, ok)

	b, err = Open("file://" + dir)
	require.NoError(t, err)
	_, ok = b.(*Local)
	assert.True(t, ok)

	_, err = Open("s3://bucket/key")
	assert.Error(t, err)
}

func runBackendContract(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	ok, err := b.Exists(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.WriteStream(ctx, "a/b.txt", bytes.NewReader([]byte("hello world"))))

	ok, err = b.Exists(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := b.ReadStream(ctx, "a/b.txt")
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))

	info, err := b.Info(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(len("hello world")), info.Size)

	require.NoError(t, b.WriteStream(ctx, "a/c.txt", bytes.NewReader([]byte("x"))))
	names, err := b.List(ctx, "a/")
	require.NoError(t, err)
	assert.Len(t, names, 2)

	require.NoError(t, b.Delete(ctx, "a/b.txt"))
	ok, err = b.Exists(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Delete(ctx, "a/b.txt"))
}

func TestLocalBackendContract(t *testing.T) {
	runBackendContract(t, NewLocal(filepath.Join(t.TempDir(), "blobs")))
}

func TestMemoryBackendContract(t *testing.T) {
	runBackendContract(t, NewMemory())
}

func TestLocalWriteStreamIsAtomic(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir)
	ctx := context.Background()

	require.NoError(t, l.WriteStream(ctx, "f.bin", bytes.NewReader([]byte("v1"))))
	require.NoError(t, l.WriteStream(ctx, "f.bin", bytes.NewReader([]byte("v2"))))

	rc, err := l.ReadStream(ctx, "f.bin")
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))

	entries, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
