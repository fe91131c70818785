package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sharpline/sharpline/pkg/engine"
	"github.com/sharpline/sharpline/pkg/stores"
)

func newHistoryCommand(flags *globalFlags) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored orchestration runs",
		Example: `  # Last 20 runs
  sharpline history

  # One run with every strategy record and signal
  sharpline history show 6f1c9a2e-...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openStore(ctx, storePath(flags))
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListOrchestrations(ctx, limit, offset)
			if err != nil {
				return err
			}
			if flags.jsonOutput {
				return printJSON(cmd.OutOrStdout(), runs)
			}
			printRunSummaries(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")

	cmd.AddCommand(newHistoryShowCommand(flags))
	return cmd
}

func newHistoryShowCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openStore(ctx, storePath(flags))
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := store.GetOrchestration(ctx, args[0])
			if errors.Is(err, stores.ErrNotFound) {
				return engine.NewPlanError(engine.ErrCodeNotFound, fmt.Sprintf("run %s not found", args[0]), err)
			}
			if err != nil {
				return err
			}
			if flags.jsonOutput {
				return printJSON(cmd.OutOrStdout(), result)
			}
			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
}

// storePath resolves the database path for commands that need only the store.
func storePath(flags *globalFlags) string {
	if flags.storePath != "" {
		return flags.storePath
	}
	if cfg, err := loadConfig(flags); err == nil {
		return cfg.Store.Path
	}
	return "sharpline.db"
}
