// Package canon implements the row-hash canonical JSON form used across the
// content-addressed store: sorted keys, no insignificant whitespace,
// ISO-8601 temporals, shortest round-trip numbers, lowercase booleans.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Marshal renders v into the canonical byte form used for hashing. Map keys
// are sorted lexicographically at every nesting level; time.Time values are
// rendered as RFC3339Nano; everything else defers to encoding/json's default
// number/bool/string formatting, which already produces the shortest
// round-trip representation Go's encoder supports.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(normalize(v))
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return sortedMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// sortedMap is a json.Marshaler that emits a map's entries in key order,
// since Go map iteration order is randomized and encoding/json does not
// sort map[string]any (only map[string]T for concrete T).
type sortedMap map[string]any

func (s sortedMap) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, 256)
	buf = append(buf, '{')
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		vb, err := json.Marshal(normalize(s[k]))
		if err != nil {
			return nil, err
		}
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// HashAlgorithm selects the row-hash function. The choice is per-deployment
// (config key import.use_xxhash) and must never be mixed within a dataset.
type HashAlgorithm int

const (
	SHA256 HashAlgorithm = iota
	XXHash64
)

// RowHash computes the content-address of a row's data payload: the inner
// tuple, without wrapper metadata such as logical_row_id or commit_id.
func RowHash(payload map[string]any, algo HashAlgorithm) (string, error) {
	b, err := Marshal(payload)
	if err != nil {
		return "", err
	}
	switch algo {
	case XXHash64:
		sum := xxhash.Sum64(b)
		out := make([]byte, 8)
		for i := 0; i < 8; i++ {
			out[7-i] = byte(sum)
			sum >>= 8
		}
		return hex.EncodeToString(out), nil
	default:
		sum := sha256.Sum256(b)
		return hex.EncodeToString(sum[:]), nil
	}
}

// CommitID computes the content-address of a commit header.
func CommitID(datasetID, parentCommitID, authorID, message string, authoredAt time.Time) (string, error) {
	payload := map[string]any{
		"dataset_id": datasetID,
		"parent":     parentCommitID,
		"author":     authorID,
		"message":    message,
		"timestamp":  authoredAt,
	}
	b, err := Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
