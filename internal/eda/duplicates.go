package eda

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/dataset-commons/dataset-engine/internal/apperr"
)

// duplicateRowStats counts duplicate rows by hashing each row's canonical
// textual form with SHA-256 (SPEC_FULL §4.H). Rows are already loaded in
// memory by the caller, so this never needs the GROUP BY ... HAVING
// COUNT(*) > 1 fallback the spec reserves for analytical engines lacking a
// row-hash function; our Postgres-backed store always has one.
func duplicateRowStats(rows []map[string]any) (int64, int64, error) {
	seen := map[string]int{}
	for _, row := range rows {
		canonical, err := canonicalRowText(row)
		if err != nil {
			return 0, 0, err
		}
		sum := sha256.Sum256([]byte(canonical))
		seen[hex.EncodeToString(sum[:])]++
	}
	var duplicateRows int64
	for _, count := range seen {
		if count > 1 {
			duplicateRows += int64(count)
		}
	}
	return duplicateRows, int64(len(rows)), nil
}

func canonicalRowText(row map[string]any) (string, error) {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make(map[string]any, len(row))
	for _, k := range keys {
		ordered[k] = row[k]
	}
	b, err := json.Marshal(ordered)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// duplicateRowStatsSQL is the GROUP BY ... HAVING COUNT(*) > 1 form of the
// duplicate count (SPEC_FULL §4.H), run over the whole table in Postgres.
// The executor does not call it: Execute always counts duplicates with
// duplicateRowStats over the rows loadRows returned (at most
// Config.MaxRowsLoaded).
func duplicateRowStatsSQL(ctx context.Context, db *sql.DB, commitID, tableKey string) (int64, error) {
	var duplicateRows int64
	err := db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(c), 0) FROM (
			SELECT COUNT(*) AS c
			FROM commit_rows cr
			JOIN rows r ON r.row_hash = cr.row_hash
			WHERE cr.commit_id = $1 AND cr.logical_row_id LIKE $2
			GROUP BY r.data
			HAVING COUNT(*) > 1
		) dupes
	`, commitID, tableKey+":%").Scan(&duplicateRows)
	if err != nil {
		return 0, apperr.New(apperr.Storage, "eda.duplicateRowStatsSQL", err)
	}
	return duplicateRows, nil
}
