package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dataset-commons/dataset-engine/internal/canon"
	"github.com/dataset-commons/dataset-engine/internal/config"
	"github.com/dataset-commons/dataset-engine/internal/convert"
	"github.com/dataset-commons/dataset-engine/internal/domain"
	"github.com/dataset-commons/dataset-engine/internal/eda"
	"github.com/dataset-commons/dataset-engine/internal/events"
	"github.com/dataset-commons/dataset-engine/internal/importjob"
	"github.com/dataset-commons/dataset-engine/internal/logging"
	"github.com/dataset-commons/dataset-engine/internal/maintenance"
	"github.com/dataset-commons/dataset-engine/internal/sampling"
	"github.com/dataset-commons/dataset-engine/internal/sqltransform"
	"github.com/dataset-commons/dataset-engine/internal/store"
	"github.com/dataset-commons/dataset-engine/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Job worker commands",
}

var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the job worker until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log := logging.L("datasetd")

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		st := store.New(pool.DB)

		bus := events.NewBus(events.NewPostgresStore(pool.DB))
		bus.Use(events.WithCorrelationID(func() string { return randomID() }))
		bus.Register(events.NewAuditHandler(pool.DB))
		bus.Register(events.NewCacheInvalidationHandler(events.NewMemoryCache()))

		wCfg := worker.Config{
			PollInterval:    time.Duration(config.GetInt("worker.poll_interval_seconds")) * time.Second,
			RecoveryTimeout: time.Duration(config.GetInt("worker.recovery_timeout_seconds")) * time.Second,
			Concurrency:     config.GetInt("worker.concurrency"),
		}
		w := worker.New(pool.DB, wCfg)

		converter := convert.New(convert.DefaultConfig())
		w.Register(domain.RunImport, importjob.New(pool.DB, st, converter, bus, importCfgFromViper()))
		w.Register(domain.RunSampling, sampling.New(pool.DB, st, bus, samplingCfgFromViper()))
		w.Register(domain.RunSQLTransform, sqltransform.New(pool.DB, st, bus, sqlTransformCfgFromViper()))
		w.Register(domain.RunExploration, eda.New(pool.DB, st, bus, edaCfgFromViper()))

		scheduler, err := maintenance.New(pool.DB, w, maintenance.DefaultConfig())
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()

		log.Info().Msg("datasetd worker starting")
		err = w.Run(ctx)
		if err != nil && ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	workerCmd.AddCommand(workerRunCmd)
	rootCmd.AddCommand(workerCmd)
}

func importCfgFromViper() importjob.Config {
	cfg := importjob.DefaultConfig()
	if v := config.GetInt("import.batch_size"); v > 0 {
		cfg.BatchSize = v
	}
	if v := config.GetInt("import.parallel_workers"); v > 0 {
		cfg.ParallelWorkers = v
	}
	if v := config.GetInt64("import.parallel_threshold_mb"); v > 0 {
		cfg.ParallelThresholdBytes = v << 20
	}
	if config.GetBool("import.use_xxhash") {
		cfg.HashAlgorithm = canon.XXHash64
	}
	return cfg
}

func samplingCfgFromViper() sampling.Config {
	cfg := sampling.DefaultConfig()
	if v := config.GetFloat64("sampling.oversampling_factor"); v > 0 {
		cfg.OversamplingFactor = v
	}
	if v := config.GetInt("sampling.min_stratum_sample_count"); v > 0 {
		cfg.MinStratumSampleCount = v
	}
	if v := config.GetFloat64("sampling.estimation_sample_percent"); v > 0 {
		cfg.EstimationSamplePercent = v
	}
	if v := config.GetInt64("sampling.cardinality_threshold"); v > 0 {
		cfg.CardinalityThreshold = v
	}
	cfg.DefaultRowEstimate = config.GetInt64("sampling.default_row_estimate")
	return cfg
}

func sqlTransformCfgFromViper() sqltransform.Config {
	cfg := sqltransform.DefaultConfig()
	if v := config.GetInt("sql_transform.preview_limit"); v > 0 {
		cfg.PreviewLimit = v
	}
	return cfg
}

func edaCfgFromViper() eda.Config {
	cfg := eda.DefaultConfig()
	if v := config.GetInt("eda.max_rows_loaded"); v > 0 {
		cfg.MaxRowsLoaded = v
	}
	if v := config.GetInt("eda.top_k_categorical"); v > 0 {
		cfg.TopKCategorical = v
	}
	if v := config.GetFloat64("eda.correlation_threshold"); v > 0 {
		cfg.CorrelationThreshold = v
	}
	cfg.Thresholds = eda.AlertThresholds{
		HighCardinalityPct: config.GetFloat64("eda.high_cardinality_threshold"),
		HighMissingPct:     config.GetFloat64("eda.high_missing_pct"),
		ErrorMissingPct:    config.GetFloat64("eda.error_missing_pct"),
		ConstantPct:        config.GetFloat64("eda.constant_threshold_pct"),
		HighZeroPct:        config.GetFloat64("eda.high_zero_pct"),
		HighSkewness:       config.GetFloat64("eda.high_skewness"),
		HighCorrelation:    cfg.CorrelationThreshold,
		DuplicateRowPct:    config.GetFloat64("eda.duplicate_row_pct"),
	}
	return cfg
}
