package importjob

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dataset-commons/dataset-engine/internal/logging"
)

// resumeMarkerName is the marker file watchScratchDir looks for in a scratch
// directory. Nothing in this module writes it; it comes from outside the
// process (e.g. an operator retrying a stuck import by hand), and the
// watcher only logs that it appeared.
const resumeMarkerName = ".resume"

// watchScratchDir logs when resumeMarkerName appears in dir, falling back to
// polling if the platform's inotify/kqueue watch can't be established
// (mirrors the teacher's daemon file watcher's fsnotify-with-polling-fallback
// shape, generalized from watching a JSONL log file to watching a scratch
// directory for an import run). The returned stop func must be called once
// the executor no longer cares about the directory, normally via defer right
// after scratchDir is created.
func watchScratchDir(ctx context.Context, dir string) (stop func()) {
	log := logging.L("importjob.watcher")
	ctx, cancel := context.WithCancel(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Debug().Err(err).Msg("fsnotify unavailable, falling back to polling")
		return pollScratchDir(ctx, dir, cancel)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		log.Debug().Err(err).Msg("fsnotify watch add failed, falling back to polling")
		return pollScratchDir(ctx, dir, cancel)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) == resumeMarkerName && ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					log.Info().Str("dir", dir).Msg("resume marker observed in scratch directory")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Debug().Err(err).Msg("scratch dir watch error")
			}
		}
	}()
	return cancel
}

func pollScratchDir(ctx context.Context, dir string, cancel context.CancelFunc) func() {
	log := logging.L("importjob.watcher")
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		seen := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := os.Stat(filepath.Join(dir, resumeMarkerName)); err == nil && !seen {
					seen = true
					log.Info().Str("dir", dir).Msg("resume marker observed in scratch directory (polling)")
				}
			}
		}
	}()
	return cancel
}
