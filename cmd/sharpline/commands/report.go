package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sharpline/sharpline/pkg/engine"
)

func newReportCommand(flags *globalFlags) *cobra.Command {
	var load bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show strategy migration progress",
		Long: `Summarize lifecycle progress across the descriptor table: how many strategies are
migrated, running behind a legacy bridge, or still pending an implementation.

Use --load to construct every strategy first so loaded legacy implementations and load
failures are included.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, flags, appOptions{store: load, quiet: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if load {
				a.orch.Factory().ResolveAll(ctx, engine.ResolveFilter{})
			}
			report := a.orch.MigrationReport()
			if flags.jsonOutput {
				return printJSON(cmd.OutOrStdout(), report)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Strategies: %d  migrated: %.1f%%\n", report.TotalStrategies, report.MigratedPercent)
			for _, l := range []engine.LifecycleStatus{
				engine.LifecycleMigrated,
				engine.LifecycleLegacyBridge,
				engine.LifecycleLegacyPending,
			} {
				fmt.Fprintf(w, "  %-15s %d\n", l, report.ByLifecycle[l])
			}
			if len(report.PendingMigration) > 0 {
				fmt.Fprintf(w, "\nPending migration: %s\n", strings.Join(report.PendingMigration, ", "))
			}
			if len(report.LoadedLegacy) > 0 {
				fmt.Fprintf(w, "Loaded legacy:     %s\n", strings.Join(report.LoadedLegacy, ", "))
			}

			phases := make([]string, 0, len(report.ByPhase))
			for phase := range report.ByPhase {
				phases = append(phases, phase)
			}
			sort.Strings(phases)
			if len(phases) > 0 {
				fmt.Fprintln(w, "\nBy phase:")
				for _, phase := range phases {
					fmt.Fprintf(w, "  %s: %s\n", phase, strings.Join(report.ByPhase[phase], ", "))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&load, "load", false, "construct every strategy before reporting")
	return cmd
}
