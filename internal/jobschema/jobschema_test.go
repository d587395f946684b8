package jobschema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dataset-commons/dataset-engine/internal/domain"
)

func TestValidateImportAccepts(t *testing.T) {
	params := json.RawMessage(`{"temp_file_path": "/tmp/upload-1", "filename": "x.csv"}`)
	assert.NoError(t, Validate(domain.RunImport, params))
}

func TestValidateImportRejectsMissingField(t *testing.T) {
	params := json.RawMessage(`{"dataset_id": "ds1"}`)
	err := Validate(domain.RunImport, params)
	assert.Error(t, err)
}

func TestValidateImportRejectsBadFileType(t *testing.T) {
	params := json.RawMessage(`{"temp_file_path": "/tmp/x", "filename": "x.avro"}`)
	assert.Error(t, Validate(domain.RunImport, params))
}

func TestValidateSamplingAccepts(t *testing.T) {
	params := json.RawMessage(`{
		"source_commit_id": "c1",
		"table_key": "primary",
		"rounds": [{"method": "random", "parameters": {"sample_size": 100}}]
	}`)
	assert.NoError(t, Validate(domain.RunSampling, params))
}

func TestValidateSamplingRejectsUnknownMethod(t *testing.T) {
	params := json.RawMessage(`{
		"source_commit_id": "c1",
		"table_key": "primary",
		"rounds": [{"method": "bogus", "parameters": {}}]
	}`)
	assert.Error(t, Validate(domain.RunSampling, params))
}

func TestValidateSQLTransformAccepts(t *testing.T) {
	params := json.RawMessage(`{
		"sources": [{"dataset_id": "ds1", "ref": "main", "table_key": "primary", "alias": "t"}],
		"sql": "SELECT * FROM t",
		"target": {"dataset_id": "ds1", "ref": "main", "table_key": "out"}
	}`)
	assert.NoError(t, Validate(domain.RunSQLTransform, params))
}

func TestValidateExplorationAccepts(t *testing.T) {
	params := json.RawMessage(`{"source_commit_id": "c1", "table_key": "primary"}`)
	assert.NoError(t, Validate(domain.RunExploration, params))
}

func TestValidateUnknownRunType(t *testing.T) {
	err := Validate(domain.RunType("bogus"), json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestValidateMalformedJSON(t *testing.T) {
	err := Validate(domain.RunImport, json.RawMessage(`not json`))
	assert.Error(t, err)
}
