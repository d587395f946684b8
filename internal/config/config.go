// Package config loads the engine's layered configuration: defaults, then a
// discovered config.yaml, then DATASET_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Should be called
// once at process startup, before any Get* accessor is used.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	// 1. Walk up from CWD looking for .dataset/config.yaml, so subcommands
	// work from any directory inside a checked-out workspace.
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".dataset", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	// 2. User config directory.
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "dataset-engine", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// 3. Home directory fallback.
	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".dataset-engine", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("DATASET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// setDefaults installs every recognised configuration key from SPEC_FULL.md §8.
func setDefaults(v *viper.Viper) {
	// db.*
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.database", "dataset_engine")
	v.SetDefault("db.user", "dataset_engine")
	v.SetDefault("db.password", "")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.pool_min_size", 2)
	v.SetDefault("db.pool_max_size", 20)
	v.SetDefault("db.command_timeout_seconds", 60)

	// import.*
	v.SetDefault("import.batch_size", 10000)
	v.SetDefault("import.parallel_workers", 4)
	v.SetDefault("import.parallel_threshold_mb", 100)
	v.SetDefault("import.use_xxhash", false)
	v.SetDefault("import.xxhash_seed", uint64(0))

	// sampling.*
	v.SetDefault("sampling.oversampling_factor", 1.5)
	v.SetDefault("sampling.min_stratum_sample_count", 1)
	v.SetDefault("sampling.estimation_sample_percent", 1.0)
	v.SetDefault("sampling.cardinality_threshold", 100_000_000)
	v.SetDefault("sampling.default_row_estimate", 0)

	// worker.*
	v.SetDefault("worker.poll_interval_seconds", 2)
	v.SetDefault("worker.recovery_timeout_seconds", int(time.Hour/time.Second))
	v.SetDefault("worker.concurrency", 1)

	// sql_transform.*
	v.SetDefault("sql_transform.preview_limit", 100)

	// eda.*
	v.SetDefault("eda.max_rows_loaded", 200000)
	v.SetDefault("eda.top_k_categorical", 10)
	v.SetDefault("eda.correlation_threshold", 0.7)
	v.SetDefault("eda.high_cardinality_threshold", 0.5)
	v.SetDefault("eda.high_missing_pct", 0.1)
	v.SetDefault("eda.error_missing_pct", 0.5)
	v.SetDefault("eda.constant_threshold_pct", 0.99)
	v.SetDefault("eda.high_zero_pct", 0.5)
	v.SetDefault("eda.high_skewness", 2.0)
	v.SetDefault("eda.duplicate_row_pct", 0.05)

	// storage.*
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.base_path", "./data/artifacts")

	// logging.*
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file_path", "")
}

// Sub-accessors. These thin wrappers keep call sites free of raw string keys
// and centralise the nil-viper guard (Initialize may not have run yet in tests).

func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

func GetInt64(key string) int64 {
	if v == nil {
		return 0
	}
	return v.GetInt64(key)
}

func GetUint64(key string) uint64 {
	if v == nil {
		return 0
	}
	return uint64(v.GetInt64(key))
}

func GetFloat64(key string) float64 {
	if v == nil {
		return 0
	}
	return v.GetFloat64(key)
}

func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// ConfigFileUsed reports which file (if any) Initialize loaded, for startup logging.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}
