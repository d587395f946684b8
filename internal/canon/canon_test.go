package canon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestMarshalSortsKeysRegardlessOfInputOrder(t *testing.T) {
	a, err := Marshal(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	b, err := Marshal(map[string]any{"a": 2, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, `{"a":2,"b":1}`, string(a))
}

func TestRowHashIsStableUnderKeyReordering(t *testing.T) {
	h1, err := RowHash(map[string]any{"x": "1", "y": "2"}, SHA256)
	require.NoError(t, err)
	h2, err := RowHash(map[string]any{"y": "2", "x": "1"}, SHA256)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestRowHashDiffersByAlgorithm(t *testing.T) {
	payload := map[string]any{"a": 1}
	sha, err := RowHash(payload, SHA256)
	require.NoError(t, err)
	xx, err := RowHash(payload, XXHash64)
	require.NoError(t, err)
	assert.NotEqual(t, sha, xx)
	assert.Len(t, xx, 16) // 8 bytes hex-encoded
}

func TestCommitIDDeterministic(t *testing.T) {
	now := mustParseTime(t, "2026-01-01T00:00:00Z")
	id1, err := CommitID("ds1", "", "alice", "init", now)
	require.NoError(t, err)
	id2, err := CommitID("ds1", "", "alice", "init", now)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	id3, err := CommitID("ds1", "parent123", "alice", "init", now)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}
