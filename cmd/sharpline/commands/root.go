package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sharpline/sharpline/pkg/engine"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	storePath  string
	verbose    bool
	jsonOutput bool
	version    string
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps a command error to a process exit status. Bad input, unknown strategies and
// rejected plans exit 2 so scripts can tell them from runtime failures.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if engine.IsPlanError(err) || engine.IsUnknownStrategy(err) {
		return 2
	}
	return 1
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	flags := &globalFlags{version: version}

	rootCmd := &cobra.Command{
		Use:   "sharpline",
		Short: "Sharpline - betting strategy orchestration engine",
		Long: `Sharpline runs odds and betting-flow strategies over batches of market records.

Strategies are grouped into priority waves, executed with bounded concurrency and
per-strategy deadlines, and their signals are collected into one orchestration result.

Features:
  - Descriptor table with lifecycle tracking (migrated, legacy bridge, pending)
  - Lazy strategy loading with cached failures
  - Rego admission policies on execution plans
  - SQLite run history and odds snapshots
  - HTTP API with live event streaming`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file path (yaml, toml, json or cue)")
	rootCmd.PersistentFlags().StringVar(&flags.storePath, "store", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand(flags))
	rootCmd.AddCommand(newPlanCommand(flags))
	rootCmd.AddCommand(newStrategiesCommand(flags))
	rootCmd.AddCommand(newStatusCommand(flags))
	rootCmd.AddCommand(newReportCommand(flags))
	rootCmd.AddCommand(newHistoryCommand(flags))
	rootCmd.AddCommand(newServeCommand(flags))
	rootCmd.AddCommand(newMigrateCommand(flags))
	rootCmd.AddCommand(newImportCommand(flags))
	rootCmd.AddCommand(newValidateCommand(flags))

	return rootCmd
}
