package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sharpline/sharpline/pkg/engine"
)

func newStrategiesCommand(flags *globalFlags) *cobra.Command {
	var (
		stats    bool
		category string
	)

	cmd := &cobra.Command{
		Use:     "strategies",
		Aliases: []string{"ls"},
		Short:   "List registered strategies",
		Long: `List the descriptor table: identity, category, priority and lifecycle of every strategy.

With --stats every strategy is constructed and the factory statistics are printed,
including the reason each failed strategy could not be loaded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, flags, appOptions{store: stats, quiet: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			factory := a.orch.Factory()
			descriptors := a.table.All()
			if category != "" {
				descriptors = a.table.ByCategory(category)
			}

			if stats {
				factory.ResolveAll(ctx, engine.ResolveFilter{})
				if flags.jsonOutput {
					return printJSON(cmd.OutOrStdout(), factory.Stats())
				}
				printFactoryStats(cmd, factory.Stats())
				return nil
			}

			if flags.jsonOutput {
				return printJSON(cmd.OutOrStdout(), descriptors)
			}

			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "ID\tCATEGORY\tSIGNAL\tPRIORITY\tLIFECYCLE\tPHASE")
			for _, d := range descriptors {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					d.ID, d.Category, d.SignalType, d.Priority, d.Lifecycle, d.MigrationPhase)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&stats, "stats", false, "load every strategy and print factory statistics")
	cmd.Flags().StringVar(&category, "category", "", "only list this category")

	return cmd
}

func printFactoryStats(cmd *cobra.Command, stats engine.FactoryStats) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Registered: %d\n", stats.Registered)
	fmt.Fprintf(w, "Loaded:     %d\n", stats.Loaded)
	fmt.Fprintf(w, "Failed:     %d\n", stats.Failed)
	fmt.Fprintf(w, "Success:    %.1f%%\n", stats.SuccessRate*100)

	if len(stats.LoadErrors) == 0 {
		return
	}
	ids := make([]string, 0, len(stats.LoadErrors))
	for id := range stats.LoadErrors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintln(w, "\nLoad errors:")
	for _, id := range ids {
		fmt.Fprintf(w, "  %s: %s\n", id, stats.LoadErrors[id])
	}
}
