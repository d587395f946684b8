// Package maintenance schedules the engine's periodic background sweeps —
// the search materialized-view refresh and the crash-recovery sweep — on a
// cron cadence, supplementing rather than replacing the worker's own poll
// loop and FOR UPDATE SKIP LOCKED job dispatch (SPEC_FULL §5 domain stack).
package maintenance

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/dataset-commons/dataset-engine/internal/logging"
	"github.com/dataset-commons/dataset-engine/internal/worker"
)

// Config tunes the two maintenance sweeps' cron schedules. Either may be
// left blank to disable that sweep; the worker's own poll loop and startup
// recovery sweep remain unaffected either way.
type Config struct {
	RefreshSearchViewSchedule string
	RecoverySweepSchedule     string
}

// DefaultConfig refreshes the search view every 5 minutes and re-runs the
// crash-recovery sweep every 2 minutes, well inside the default
// worker.RecoveryTimeout of 1 hour.
func DefaultConfig() Config {
	return Config{
		RefreshSearchViewSchedule: "*/5 * * * *",
		RecoverySweepSchedule:     "*/2 * * * *",
	}
}

// Scheduler wraps a robfig/cron runner driving the two maintenance sweeps.
type Scheduler struct {
	cron *cron.Cron
	db   *sql.DB
	w    *worker.Worker
}

// New constructs a Scheduler. w may be nil to disable the recovery sweep
// (e.g. a process that only refreshes the search view).
func New(db *sql.DB, w *worker.Worker, cfg Config) (*Scheduler, error) {
	c := cron.New()
	s := &Scheduler{cron: c, db: db, w: w}

	if cfg.RefreshSearchViewSchedule != "" {
		if _, err := c.AddFunc(cfg.RefreshSearchViewSchedule, s.refreshSearchView); err != nil {
			return nil, fmt.Errorf("maintenance: schedule search view refresh: %w", err)
		}
	}
	if cfg.RecoverySweepSchedule != "" && w != nil {
		if _, err := c.AddFunc(cfg.RecoverySweepSchedule, s.recoverStale); err != nil {
			return nil, fmt.Errorf("maintenance: schedule recovery sweep: %w", err)
		}
	}

	return s, nil
}

// Start begins running scheduled sweeps in the background. Stop must be
// called to release the cron goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop blocks until any in-flight sweep completes, then stops the scheduler.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) refreshSearchView() {
	log := logging.L("maintenance")
	ctx := context.Background()
	if _, err := s.db.ExecContext(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY datasets_summary`); err != nil {
		log.Error().Err(err).Msg("search materialized view refresh failed")
		return
	}
	log.Debug().Msg("refreshed datasets_summary materialized view")
}

func (s *Scheduler) recoverStale() {
	log := logging.L("maintenance")
	if err := s.w.RecoverStale(context.Background()); err != nil {
		log.Error().Err(err).Msg("periodic crash-recovery sweep failed")
	}
}
