// Package sampling implements the multi-round SQL residual sampling
// executor (SPEC_FULL §4.F): each round draws from the residual left by
// every prior round within one transaction-scoped exclusion set.
package sampling

import "github.com/dataset-commons/dataset-engine/internal/validation"

// Method is a sampling strategy family.
type Method string

const (
	MethodRandom      Method = "random"
	MethodStratified  Method = "stratified"
	MethodSystematic  Method = "systematic"
	MethodCluster     Method = "cluster"
)

// RoundConfig is one entry of the rounds list.
type RoundConfig struct {
	Method     Method                `json:"method"`
	Parameters RoundParameters       `json:"parameters"`
	OutputName string                `json:"output_name,omitempty"`
	Filters    []validation.FilterClause `json:"filters,omitempty"`
	Selection  *validation.Selection `json:"selection,omitempty"`
}

// RoundParameters is the method-specific parameter bag. Only the fields
// relevant to the round's Method are consulted.
type RoundParameters struct {
	SampleSize       int     `json:"sample_size,omitempty"`
	Seed             *int64  `json:"seed,omitempty"`
	EstimatedRows    int64   `json:"estimated_rows,omitempty"`
	OversamplingFactor float64 `json:"oversampling_factor,omitempty"`

	// systematic
	Interval int `json:"interval,omitempty"`
	Start    int `json:"start,omitempty"`

	// cluster
	ClusterColumn string  `json:"cluster_column,omitempty"`
	ClusterCount  int     `json:"cluster_count,omitempty"`
	Fraction      float64 `json:"fraction,omitempty"` // cluster percentage
	FixedPerCluster int   `json:"fixed_per_cluster,omitempty"` // cluster fixed

	// stratified
	StrataColumns   []string `json:"strata_columns,omitempty"`
	Proportional    bool     `json:"proportional,omitempty"`
	MinPerStratum   int      `json:"min_per_stratum,omitempty"`
	PerStratumCount int      `json:"per_stratum_count,omitempty"` // disproportional
}

// Params is the run_parameters document shape for a sampling job.
type Params struct {
	SourceCommitID     string        `json:"source_commit_id"`
	TableKey           string        `json:"table_key"`
	Rounds             []RoundConfig `json:"rounds"`
	ExportResidual     bool          `json:"export_residual,omitempty"`
	ResidualOutputName string        `json:"residual_output_name,omitempty"`
	OutputBranchName   string        `json:"output_branch_name,omitempty"`
	CommitMessage      string        `json:"commit_message,omitempty"`
}

// RoundResult is recorded per round for the output table_analysis document.
type RoundResult struct {
	Method            Method         `json:"method"`
	RoundNumber       int            `json:"round_number"`
	RowsSampled       int64          `json:"rows_sampled"`
	Parameters        RoundParameters `json:"parameters"`
	OutputName        string         `json:"output_name,omitempty"`
	StrataDistribution map[string]int64 `json:"strata_distribution,omitempty"`
}
