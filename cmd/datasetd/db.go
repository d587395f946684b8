package main

import (
	"context"
	"time"

	"github.com/dataset-commons/dataset-engine/internal/config"
	"github.com/dataset-commons/dataset-engine/internal/store/pgpool"
)

// openPool connects to Postgres using the layered config (config.yaml,
// DATASET_* env, defaults) every subcommand shares.
func openPool(ctx context.Context) (*pgpool.Pool, error) {
	cfg := pgpool.Config{
		Host:           config.GetString("db.host"),
		Port:           config.GetInt("db.port"),
		Database:       config.GetString("db.database"),
		User:           config.GetString("db.user"),
		Password:       config.GetString("db.password"),
		SSLMode:        config.GetString("db.sslmode"),
		PoolMinSize:    int32(config.GetInt("db.pool_min_size")),
		PoolMaxSize:    int32(config.GetInt("db.pool_max_size")),
		CommandTimeout: time.Duration(config.GetInt("db.command_timeout_seconds")) * time.Second,
	}
	return pgpool.Open(ctx, cfg)
}
