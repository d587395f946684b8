// Package jobschema validates a job's run_parameters document against a
// JSON Schema keyed by run_type before the job is accepted, the Go-idiomatic
// equivalent of original_source's per-field controller validation layer
// (SPEC_FULL §5 domain stack: schema-driven instead of hand-rolled).
package jobschema

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dataset-commons/dataset-engine/internal/apperr"
	"github.com/dataset-commons/dataset-engine/internal/domain"
)

var schemas = map[domain.RunType]string{
	domain.RunImport:       importSchema,
	domain.RunSampling:     samplingSchema,
	domain.RunSQLTransform: sqlTransformSchema,
	domain.RunExploration:  explorationSchema,
}

// Validate checks runParameters against the JSON Schema registered for
// runType, returning a Validation-kind apperr.Error listing every violation
// when the document doesn't conform.
func Validate(runType domain.RunType, runParameters json.RawMessage) error {
	const op = "jobschema.Validate"

	schemaJSON, ok := schemas[runType]
	if !ok {
		return apperr.New(apperr.Validation, op, fmt.Errorf("no schema registered for run_type %q", runType))
	}

	var doc any
	if err := json.Unmarshal(runParameters, &doc); err != nil {
		return apperr.New(apperr.Validation, op, fmt.Errorf("run_parameters is not valid JSON: %w", err))
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return apperr.New(apperr.Internal, op, fmt.Errorf("schema evaluation failed: %w", err))
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return apperr.New(apperr.Validation, op, fmt.Errorf("run_parameters failed schema validation: %v", msgs))
	}
	return nil
}

const importSchema = `{
	"type": "object",
	"required": ["temp_file_path", "filename"],
	"properties": {
		"dataset_id": {"type": "string"},
		"temp_file_path": {"type": "string", "minLength": 1},
		"filename": {"type": "string", "pattern": "(?i)\\.(csv|xlsx|xls|parquet)$"},
		"commit_message": {"type": "string"},
		"target_ref": {"type": "string"}
	}
}`

const samplingSchema = `{
	"type": "object",
	"required": ["source_commit_id", "table_key", "rounds"],
	"properties": {
		"source_commit_id": {"type": "string", "minLength": 1},
		"table_key": {"type": "string", "minLength": 1},
		"rounds": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["method", "parameters"],
				"properties": {
					"method": {"type": "string", "enum": ["random", "systematic", "cluster", "stratified"]},
					"parameters": {"type": "object"},
					"output_name": {"type": "string"},
					"filters": {"type": "array"},
					"selection": {"type": "object"}
				}
			}
		},
		"export_residual": {"type": "boolean"},
		"residual_output_name": {"type": "string"},
		"output_branch_name": {"type": "string"},
		"commit_message": {"type": "string"}
	}
}`

const sqlTransformSchema = `{
	"type": "object",
	"required": ["sources", "sql", "target"],
	"properties": {
		"sources": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["dataset_id", "ref", "table_key", "alias"],
				"properties": {
					"dataset_id": {"type": "string", "minLength": 1},
					"ref": {"type": "string", "minLength": 1},
					"table_key": {"type": "string", "minLength": 1},
					"alias": {"type": "string", "minLength": 1}
				}
			}
		},
		"sql": {"type": "string", "minLength": 1},
		"target": {
			"type": "object",
			"required": ["dataset_id", "ref", "table_key"],
			"properties": {
				"dataset_id": {"type": "string", "minLength": 1},
				"ref": {"type": "string", "minLength": 1},
				"table_key": {"type": "string", "minLength": 1},
				"message": {"type": "string"},
				"output_branch_name": {"type": "string"},
				"expected_head_commit_id": {"type": ["string", "null"]}
			}
		}
	}
}`

const explorationSchema = `{
	"type": "object",
	"required": ["source_commit_id", "table_key"],
	"properties": {
		"source_commit_id": {"type": "string", "minLength": 1},
		"table_key": {"type": "string", "minLength": 1},
		"columns": {"type": "array", "items": {"type": "string"}},
		"correlation_threshold": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`
