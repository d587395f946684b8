package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dataset-commons/dataset-engine/internal/domain"
	"github.com/dataset-commons/dataset-engine/internal/jobschema"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Submit and inspect analysis jobs",
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Insert a new analysis_runs row",
	Long: `Inserts an analysis_runs row for the worker to pick up.

This is a thin CLI convenience around the job interface; it is not a
network API. run_parameters is validated against the JSON Schema
registered for --type before the row is inserted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runType, _ := cmd.Flags().GetString("type")
		paramsPath, _ := cmd.Flags().GetString("params")
		datasetID, _ := cmd.Flags().GetString("dataset-id")
		userID, _ := cmd.Flags().GetString("user-id")
		sourceCommitID, _ := cmd.Flags().GetString("source-commit-id")

		raw, err := os.ReadFile(paramsPath)
		if err != nil {
			return fmt.Errorf("read params file: %w", err)
		}

		rt := domain.RunType(runType)
		if err := jobschema.Validate(rt, json.RawMessage(raw)); err != nil {
			return err
		}

		ctx := cmd.Context()
		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		var sourceCommit sql.NullString
		if sourceCommitID != "" {
			sourceCommit = sql.NullString{String: sourceCommitID, Valid: true}
		}

		var id int64
		err = pool.DB.QueryRowContext(ctx, `
			INSERT INTO analysis_runs (run_type, dataset_id, source_commit_id, user_id, run_parameters)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, string(rt), datasetID, sourceCommit, userID, []byte(raw)).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert analysis_runs: %w", err)
		}

		fmt.Println(id)
		return nil
	},
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Print a job's progress and terminal state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		var (
			status        string
			runParameters []byte
			outputSummary sql.NullString
			errorMessage  sql.NullString
		)
		err = pool.DB.QueryRowContext(ctx, `
			SELECT status, run_parameters, output_summary, error_message
			FROM analysis_runs WHERE id = $1
		`, args[0]).Scan(&status, &runParameters, &outputSummary, &errorMessage)
		if err != nil {
			return fmt.Errorf("load job: %w", err)
		}

		fmt.Println("status:", status)

		var doc map[string]any
		if json.Unmarshal(runParameters, &doc) == nil {
			if progress, ok := doc["progress"]; ok {
				b, _ := json.Marshal(progress)
				fmt.Println("progress:", string(b))
			}
		}
		if errorMessage.Valid {
			fmt.Println("error:", errorMessage.String)
		}
		if outputSummary.Valid {
			fmt.Println("output_summary:", outputSummary.String)
		}
		return nil
	},
}

func init() {
	jobSubmitCmd.Flags().String("type", "", "import|sampling|sql_transform|exploration")
	jobSubmitCmd.Flags().String("params", "", "path to a run_parameters JSON file")
	jobSubmitCmd.Flags().String("dataset-id", "", "target dataset ID")
	jobSubmitCmd.Flags().String("user-id", "", "submitting user ID")
	jobSubmitCmd.Flags().String("source-commit-id", "", "source commit ID, when applicable")
	_ = jobSubmitCmd.MarkFlagRequired("type")
	_ = jobSubmitCmd.MarkFlagRequired("params")
	_ = jobSubmitCmd.MarkFlagRequired("dataset-id")
	_ = jobSubmitCmd.MarkFlagRequired("user-id")

	jobCmd.AddCommand(jobSubmitCmd, jobStatusCmd)
	rootCmd.AddCommand(jobCmd)
}
