package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sharpline/sharpline/pkg/engine"
	"github.com/sharpline/sharpline/pkg/stores"
)

func newStatusCommand(flags *globalFlags) *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show engine health and recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, flags, appOptions{store: true, quiet: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			health := a.orch.HealthCheck(ctx)
			storeErr := a.store.HealthCheck(ctx)
			runs, err := a.store.ListOrchestrations(ctx, recent, 0)
			if err != nil {
				return err
			}
			version, dirty, _, err := a.store.SchemaVersion(ctx)
			if err != nil {
				return err
			}

			if flags.jsonOutput {
				status := map[string]interface{}{
					"orchestrator":   health,
					"registry":       a.orch.Status(),
					"store_path":     a.cfg.Store.Path,
					"schema_version": version,
					"schema_dirty":   dirty,
					"recent_runs":    runs,
				}
				if storeErr != nil {
					status["store_error"] = storeErr.Error()
				}
				return printJSON(cmd.OutOrStdout(), status)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Orchestrator: %s\n", healthLabel(health))
			if storeErr != nil {
				fmt.Fprintf(w, "Store:        %s (error: %v)\n", a.cfg.Store.Path, storeErr)
			} else {
				fmt.Fprintf(w, "Store:        %s (schema v%d)\n", a.cfg.Store.Path, version)
			}
			fmt.Fprintf(w, "Strategies:   %d registered\n\n", a.table.Len())

			fmt.Fprintln(w, "Recent runs:")
			printRunSummaries(w, runs)
			if len(runs) > 0 {
				fmt.Fprintf(w, "\nAverage success rate: %.1f%%\n", averageSuccess(runs)*100)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&recent, "recent", "n", 10, "number of recent runs to show")
	return cmd
}

func healthLabel(h engine.OrchestratorHealth) string {
	label := "healthy"
	if !h.Healthy {
		label = "unhealthy"
	}
	if h.Message != "" {
		label += " (" + h.Message + ")"
	}
	return label
}

func averageSuccess(runs []*stores.RunSummary) float64 {
	if len(runs) == 0 {
		return 0
	}
	var total float64
	for _, r := range runs {
		total += r.SuccessRate()
	}
	return total / float64(len(runs))
}
