package eda

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dataset-commons/dataset-engine/internal/apperr"
	"github.com/dataset-commons/dataset-engine/internal/domain"
	"github.com/dataset-commons/dataset-engine/internal/events"
	"github.com/dataset-commons/dataset-engine/internal/logging"
	"github.com/dataset-commons/dataset-engine/internal/store"
	"github.com/dataset-commons/dataset-engine/internal/worker"
)

// Config tunes the EDA executor (SPEC_FULL §8 eda.* keys).
type Config struct {
	MaxRowsLoaded         int
	TopKCategorical       int
	CorrelationThreshold  float64
	Thresholds            AlertThresholds
}

func DefaultConfig() Config {
	return Config{
		MaxRowsLoaded:        200_000,
		TopKCategorical:      10,
		CorrelationThreshold: 0.7,
		Thresholds:           DefaultAlertThresholds(),
	}
}

// Executor is the worker.Executor implementation for run_type=exploration.
type Executor struct {
	db    *sql.DB
	store *store.Store
	bus   *events.Bus
	cfg   Config
}

func New(db *sql.DB, st *store.Store, bus *events.Bus, cfg Config) *Executor {
	return &Executor{db: db, store: st, bus: bus, cfg: cfg}
}

var _ worker.Executor = (*Executor)(nil)

func (ex *Executor) Execute(ctx context.Context, job domain.Job, progress worker.ProgressReporter) (json.RawMessage, *int64, error) {
	const op = "eda.Execute"

	var params Params
	if err := json.Unmarshal(job.RunParameters, &params); err != nil {
		return nil, nil, apperr.New(apperr.Validation, op, fmt.Errorf("parse run_parameters: %w", err))
	}
	if params.CorrelationThreshold <= 0 {
		params.CorrelationThreshold = ex.cfg.CorrelationThreshold
	}

	ex.publish(ctx, events.JobStarted, job, map[string]any{"table_key": params.TableKey})
	_ = progress.Report(ctx, "Loading schema", 5)

	schema, err := ex.store.GetSchema(ctx, params.SourceCommitID)
	if err != nil {
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}
	tableSchema, ok := schema[params.TableKey]
	if !ok {
		err := apperr.New(apperr.Validation, op, fmt.Errorf("table %q not found in commit %s schema", params.TableKey, params.SourceCommitID))
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}

	totalRows, err := ex.store.CountCommitRows(ctx, params.SourceCommitID, params.TableKey)
	if err != nil {
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}

	_ = progress.Report(ctx, "Loading rows", 15)
	rows, err := ex.loadRows(ctx, params.SourceCommitID, params.TableKey)
	if err != nil {
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}

	columns := params.Columns
	if len(columns) == 0 {
		for _, c := range tableSchema.Columns {
			columns = append(columns, c.Name)
		}
	}

	_ = progress.Report(ctx, "Computing per-column statistics", 30)
	response := ex.buildResponse(params, columns, tableSchema, rows, totalRows)

	_ = progress.Report(ctx, "Computing duplicate rows", 80)
	dupRows, sampledRows, err := duplicateRowStats(rows)
	if err != nil {
		ex.publish(ctx, events.JobFailed, job, map[string]any{"error": err.Error()})
		return nil, nil, err
	}
	dupPct := pct(int(dupRows), int(sampledRows))

	alertInputs := ex.collectAlertInputs(response)
	var highCorr []correlationPair
	if raw, ok := response.Interactions.HighCorrelations.Data.([]correlationPair); ok {
		highCorr = raw
	}
	alerts := buildAlerts(alertInputs, highCorr, dupPct, ex.cfg.Thresholds)
	response.Alerts = Block{Title: "Alerts", RenderAs: RenderAlertList, Data: alerts}

	summaryJSON, err := json.Marshal(response)
	if err != nil {
		return nil, nil, apperr.New(apperr.Internal, op, err)
	}

	ex.publish(ctx, events.JobCompleted, job, map[string]any{"row_count": totalRows, "alerts": len(alerts)})
	_ = progress.Report(ctx, "Completed", 100)
	logging.L("eda").Info().Int64("job_id", job.ID).Int("alerts", len(alerts)).Msg("exploration job completed")

	return summaryJSON, nil, nil
}

// loadRows materializes up to Config.MaxRowsLoaded decoded rows for the
// target table. EDA works against this in-memory sample rather than a
// query pushed to Postgres per statistic, since the analysis blocks
// (percentiles, skewness, correlation) need the full numeric vector at once.
func (ex *Executor) loadRows(ctx context.Context, commitID, tableKey string) ([]map[string]any, error) {
	rows, err := ex.db.QueryContext(ctx, `
		SELECT r.data FROM commit_rows cr
		JOIN rows r ON r.row_hash = cr.row_hash
		WHERE cr.commit_id = $1 AND cr.logical_row_id LIKE $2
		ORDER BY cr.logical_row_id
		LIMIT $3
	`, commitID, tableKey+":%", ex.cfg.MaxRowsLoaded)
	if err != nil {
		return nil, apperr.New(apperr.Storage, "eda.loadRows", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, apperr.New(apperr.Storage, "eda.loadRows", err)
		}
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err != nil {
			continue
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

func (ex *Executor) buildResponse(params Params, columns []string, tableSchema domain.TableSchema, rows []map[string]any, totalRows int64) Response {
	colType := map[string]string{}
	for _, c := range tableSchema.Columns {
		colType[c.Name] = c.Type
	}

	variables := map[string]Variable{}
	numeric := map[string][]float64{}
	categoricalRaw := map[string][]string{}
	alertSummaries := map[string]columnAlertInput{}

	for _, col := range columns {
		category, blocks, input := ex.analyzeColumn(col, colType[col], rows, len(rows))
		variables[col] = Variable{Category: category, Blocks: blocks}
		alertSummaries[col] = input

		switch category {
		case CategoryNumeric:
			numeric[col] = numericColumnValues(rows, col)
		case CategoryCategorical:
			categoricalRaw[col] = stringColumnValues(rows, col)
		}
	}

	heatmap, high := correlationMatrix(numeric, params.CorrelationThreshold)
	boxPlots := boxPlotBlocks(numeric, categoricalRaw)

	var highPairs []correlationPair
	if pairs, ok := high.Data.([]correlationPair); ok {
		highPairs = pairs
	}
	_ = highPairs

	missingSummary, missingTable, missingMatrix := missingValueBlocks(columns, rows, len(rows))

	inputs := make([]columnAlertInput, 0, len(alertSummaries))
	for _, col := range columns {
		inputs = append(inputs, alertSummaries[col])
	}

	return Response{
		Metadata: Metadata{
			SourceCommitID: params.SourceCommitID,
			TableKey:       params.TableKey,
			RowCount:       totalRows,
			ColumnCount:    len(columns),
			RowsSampled:    int64(len(rows)),
		},
		GlobalSummary: map[string]Block{
			"missing_summary": missingSummary,
			"missing_table":   missingTable,
			"missing_matrix":  missingMatrix,
		},
		Variables: variables,
		Interactions: Interactions{
			CorrelationHeatmap: heatmap,
			HighCorrelations:   high,
			BoxPlots:           boxPlots,
		},
	}
}

func (ex *Executor) collectAlertInputs(r Response) []columnAlertInput {
	inputs := make([]columnAlertInput, 0, len(r.Variables))
	for name, v := range r.Variables {
		input := columnAlertInput{Name: name}
		if common, ok := v.Blocks["common"]; ok {
			if data, ok := common.Data.(map[string]any); ok {
				if dp, ok := data["distinct_pct"].(float64); ok {
					input.DistinctPct = dp
				}
				if mp, ok := data["missing_pct"].(float64); ok {
					input.MissingPct = mp
				}
			}
		}
		if v.Category == CategoryCategorical {
			if cat, ok := v.Blocks["categorical"]; ok {
				if data, ok := cat.Data.(map[string]any); ok {
					if top, ok := data["top_values"].([]freqEntry); ok && len(top) > 0 {
						total := 0
						for _, e := range top {
							total += e.Count
						}
						input.MostCommonPct = pct(top[0].Count, total)
					}
				}
			}
		}
		if v.Category == CategoryNumeric {
			if num, ok := v.Blocks["numeric"]; ok {
				if data, ok := num.Data.(map[string]any); ok {
					if zp, ok := data["zeros_pct"].(float64); ok {
						input.ZeroPct = zp
					}
					if sk, ok := data["skewness"].(float64); ok {
						input.Skewness = sk
						input.HasSkewness = true
					}
				}
			}
		}
		inputs = append(inputs, input)
	}
	return inputs
}

func numericColumnValues(rows []map[string]any, col string) []float64 {
	var out []float64
	for _, row := range rows {
		if v, ok := row[col].(float64); ok {
			out = append(out, v)
		}
	}
	return out
}

func stringColumnValues(rows []map[string]any, col string) []string {
	var out []string
	for _, row := range rows {
		if v, ok := row[col].(string); ok {
			out = append(out, v)
		}
	}
	return out
}

func (ex *Executor) publish(ctx context.Context, t events.Type, job domain.Job, payload any) {
	if ex.bus == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		logging.L("eda").Warn().Err(err).Msg("marshal event payload")
		return
	}
	evt := events.Event{
		EventType:     t,
		AggregateID:   fmt.Sprintf("%d", job.ID),
		AggregateType: "analysis_run",
		Payload:       b,
		OccurredAt:    time.Now().UTC(),
	}
	if job.UserID != "" {
		uid := job.UserID
		evt.UserID = &uid
	}
	if err := ex.bus.Publish(ctx, evt); err != nil {
		logging.L("eda").Warn().Err(err).Msg("publish event")
	}
}
