package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dataset-commons/dataset-engine/internal/store/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, err := openPool(ctx)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer pool.Close()

		if err := migrate.Run(ctx, pool.DB); err != nil {
			return err
		}
		fmt.Println("migrations applied:")
		for _, name := range migrate.List() {
			fmt.Println(" -", name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
