package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dataset-commons/dataset-engine/internal/domain"
	"github.com/dataset-commons/dataset-engine/internal/store"
)

var refCmd = &cobra.Command{
	Use:   "ref",
	Short: "Inspect and move dataset refs",
}

var refShowCmd = &cobra.Command{
	Use:   "show <dataset-id> <ref-name>",
	Short: "Print the commit a ref currently resolves to",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		st := store.New(pool.DB)
		commitID, err := st.ResolveRef(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(commitID)
		return nil
	},
}

var refSetCmd = &cobra.Command{
	Use:   "set <dataset-id> <ref-name> <new-commit-id>",
	Short: "Move a ref to a new commit, optimistic-lock aware",
	Long: `Moves dataset-id/ref-name to new-commit-id.

If the ref already exists, the move only succeeds if it still points at the
commit --expected names (optimistic locking, SPEC_FULL §7); pass --expected
to guard against a concurrent update racing this one. If the ref does not
yet exist, it is created pointing at new-commit-id.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		datasetID, name, newCommitID := args[0], args[1], args[2]
		expected, _ := cmd.Flags().GetString("expected")

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		st := store.New(pool.DB)

		current, err := st.ResolveRef(ctx, datasetID, name)
		if err != nil {
			return store.CreateRef(ctx, pool.DB, domain.Ref{DatasetID: datasetID, Name: name, CommitID: &newCommitID})
		}
		if expected == "" {
			expected = current
		}
		if err := store.UpdateRefOptimistic(ctx, pool.DB, datasetID, name, expected, newCommitID); err != nil {
			return err
		}
		fmt.Printf("%s/%s: %s -> %s\n", datasetID, name, expected, newCommitID)
		return nil
	},
}

func init() {
	refSetCmd.Flags().String("expected", "", "expected current commit ID (defaults to the ref's live value)")
	refCmd.AddCommand(refShowCmd, refSetCmd)
	rootCmd.AddCommand(refCmd)
}
