package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"migrate", "worker", "ref", "job"} {
		assert.True(t, names[want], "expected %q registered on root command", want)
	}
}

func TestWorkerRunRegisteredUnderWorker(t *testing.T) {
	found := false
	for _, c := range workerCmd.Commands() {
		if c.Name() == "run" {
			found = true
		}
	}
	require.True(t, found, "expected 'run' registered under 'worker'")
}

func TestRefCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range refCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["show"])
	assert.True(t, names["set"])
}

func TestJobSubmitRequiredFlags(t *testing.T) {
	for _, name := range []string{"type", "params", "dataset-id", "user-id"} {
		f := jobSubmitCmd.Flags().Lookup(name)
		require.NotNil(t, f, "expected --%s flag defined", name)
		required, ok := f.Annotations[cobra.BashCompOneRequiredFlag]
		require.True(t, ok, "expected --%s to be marked required", name)
		assert.Equal(t, []string{"true"}, required)
	}

	sourceCommit := jobSubmitCmd.Flags().Lookup("source-commit-id")
	require.NotNil(t, sourceCommit)
	_, required := sourceCommit.Annotations[cobra.BashCompOneRequiredFlag]
	assert.False(t, required, "source-commit-id should remain optional")
}

func TestImportCfgFromViperDefaults(t *testing.T) {
	cfg := importCfgFromViper()
	assert.Greater(t, cfg.BatchSize, 0)
	assert.Greater(t, cfg.ParallelWorkers, 0)
	assert.Greater(t, cfg.ParallelThresholdBytes, int64(0))
}

func TestSamplingCfgFromViperDefaults(t *testing.T) {
	cfg := samplingCfgFromViper()
	assert.Greater(t, cfg.OversamplingFactor, 0.0)
	assert.Greater(t, cfg.MinStratumSampleCount, 0)
}

func TestEDACfgFromViperDefaults(t *testing.T) {
	cfg := edaCfgFromViper()
	assert.Greater(t, cfg.MaxRowsLoaded, 0)
	assert.Greater(t, cfg.TopKCategorical, 0)
	assert.Equal(t, cfg.CorrelationThreshold, cfg.Thresholds.HighCorrelation)
}

func TestSQLTransformCfgFromViperDefaults(t *testing.T) {
	cfg := sqlTransformCfgFromViper()
	assert.Greater(t, cfg.PreviewLimit, 0)
}
