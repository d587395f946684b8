// Package logging configures the process-wide zerolog logger. Every
// executor and the worker log through this package rather than constructing
// their own logger, so log shape (timestamp, level, component) stays uniform.
package logging

import (
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Init configures the global zerolog logger from level and filePath (empty
// filePath logs to stderr only). Rotation mirrors the worker process's own
// log-file handling: 100MB per file, 7 backups, 28-day retention.
func Init(level, filePath string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var writers []io.Writer
	writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	if filePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     28,
			Compress:   true,
		})
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	logger = logger.Level(parseLevel(level))
	globalLogger.Store(&logger)
	return logger
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// globalLogger holds the process-wide logger set by Init, read by L().
var globalLogger atomic.Pointer[zerolog.Logger]

// L returns the component-scoped logger. Falls back to a default stderr
// logger if Init has not run yet, which keeps package-level test code and
// early startup paths from needing to call Init explicitly.
func L(component string) zerolog.Logger {
	if base := globalLogger.Load(); base != nil {
		return base.With().Str("component", component).Logger()
	}
	base := zerolog.New(os.Stderr).With().Timestamp().Logger()
	return base.With().Str("component", component).Logger()
}
