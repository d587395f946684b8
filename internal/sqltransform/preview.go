package sqltransform

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dataset-commons/dataset-engine/internal/apperr"
)

// PreviewResult is the response to a preview request: the rewritten query's
// first Limit rows, plus any non-fatal performance warnings.
type PreviewResult struct {
	Rows     []map[string]any `json:"rows"`
	Warnings []string         `json:"warnings,omitempty"`
}

// Preview runs the same validation and view-binding steps as Execute but
// wraps the rewritten SQL in a LIMIT and never commits anything (SPEC_FULL
// §4.G preview operation). jobID only needs to be unique for the duration
// of the preview view bindings.
func (ex *Executor) Preview(ctx context.Context, params Params, jobID int64) (*PreviewResult, error) {
	const op = "sqltransform.Preview"

	if err := DefaultValidator(params.SQL); err != nil {
		return nil, apperr.New(apperr.Validation, op, err)
	}
	if err := semanticCheck(params.SQL, params.Sources); err != nil {
		return nil, apperr.New(apperr.Validation, op, err)
	}
	warnings := PerformanceWarnings(params.SQL)

	conn, err := ex.db.Conn(ctx)
	if err != nil {
		return nil, apperr.New(apperr.Storage, op, err)
	}
	defer conn.Close()

	for _, src := range params.Sources {
		commitID, err := ex.store.ResolveRef(ctx, src.DatasetID, src.Ref)
		if err != nil {
			return nil, fmt.Errorf("resolve source %s/%s: %w", src.DatasetID, src.Ref, err)
		}
		srcSchema, err := ex.store.GetSchema(ctx, commitID)
		if err != nil {
			return nil, fmt.Errorf("load schema for source %s/%s: %w", src.DatasetID, src.Ref, err)
		}
		tableSchema, ok := srcSchema[src.TableKey]
		if !ok {
			return nil, apperr.New(apperr.Validation, op, fmt.Errorf("table %q not found in commit %s schema", src.TableKey, commitID))
		}
		if err := createSourceView(ctx, conn, src, commitID, jobID, tableSchema.Columns); err != nil {
			return nil, err
		}
	}
	defer dropSourceViews(context.Background(), conn, params.Sources, jobID)

	rewritten := rewriteSQL(params.SQL, params.Sources, jobID)
	limit := ex.cfg.PreviewLimit
	if limit <= 0 {
		limit = DefaultConfig().PreviewLimit
	}
	previewSQL := fmt.Sprintf("SELECT * FROM (%s) preview LIMIT %d", rewritten, limit)

	rows, err := conn.QueryContext(ctx, previewSQL)
	if err != nil {
		return nil, apperr.New(apperr.Storage, op, fmt.Errorf("execute preview: %w", err))
	}
	defer rows.Close()

	result, err := scanRowsAsMaps(rows)
	if err != nil {
		return nil, apperr.New(apperr.Storage, op, err)
	}
	return &PreviewResult{Rows: result, Warnings: warnings}, nil
}

// scanRowsAsMaps materializes a *sql.Rows into a slice of column->value maps,
// used only for the bounded preview path (never for the committing path,
// which never round-trips result rows through application memory).
func scanRowsAsMaps(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalizeScanValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func normalizeScanValue(v any) any {
	if b, ok := v.([]byte); ok {
		var decoded any
		if err := json.Unmarshal(b, &decoded); err == nil {
			return decoded
		}
		return string(b)
	}
	return v
}
