package maintenance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigSchedulesAreWellFormed(t *testing.T) {
	cfg := DefaultConfig()
	assert.NotEmpty(t, cfg.RefreshSearchViewSchedule)
	assert.NotEmpty(t, cfg.RecoverySweepSchedule)
}

func TestNewRejectsBadCronExpression(t *testing.T) {
	_, err := New(nil, nil, Config{RefreshSearchViewSchedule: "not-a-cron-expression"})
	require.Error(t, err)
}

func TestNewSkipsRecoverySweepWithoutWorker(t *testing.T) {
	s, err := New(nil, nil, Config{RefreshSearchViewSchedule: "*/5 * * * *", RecoverySweepSchedule: "*/2 * * * *"})
	require.NoError(t, err)
	require.NotNil(t, s)
	// w is nil, so the recovery sweep entry must not have been registered;
	// Stop should still be safe to call on a scheduler with zero or one entries.
	s.Start()
	s.Stop()
}

func TestNewAllowsBlankSchedulesToDisableSweeps(t *testing.T) {
	s, err := New(nil, nil, Config{})
	require.NoError(t, err)
	require.NotNil(t, s)
	s.Start()
	s.Stop()
}
