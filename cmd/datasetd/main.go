// Command datasetd is the dataset engine's worker process and operator CLI:
// it runs the job worker, applies migrations, and gives local job/ref
// inspection commands, mirroring the teacher's single statically-linked
// cobra binary (cmd/bd) generalized from a git-workflow CLI to a
// Postgres-backed service daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dataset-commons/dataset-engine/internal/config"
	"github.com/dataset-commons/dataset-engine/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "datasetd",
	Short: "Dataset engine worker and operator CLI",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logging.Init(config.GetString("logging.level"), config.GetString("logging.file_path"))
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
