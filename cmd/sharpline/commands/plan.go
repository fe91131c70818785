package commands

import (
	"github.com/spf13/cobra"
)

func newPlanCommand(flags *globalFlags) *cobra.Command {
	var sf selectorFlags

	cmd := &cobra.Command{
		Use:   "plan [strategy-id...]",
		Short: "Show the execution plan without running it",
		Long: `Resolve a selector into priority waves and evaluate admission policies.

The plan shows which strategies would run in which wave, the concurrency bound and the
per-strategy deadline. Policy warnings are listed; a denied plan is reported as an error.`,
		Example: `  # Plan every strategy
  sharpline plan --all

  # Plan two strategies with a custom deadline
  sharpline plan sharp_action,steam_move --timeout 10s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			selector, err := sf.selector(args)
			if err != nil {
				return err
			}
			ec, err := sf.context()
			if err != nil {
				return err
			}

			a, err := newApp(ctx, flags, appOptions{quiet: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			plan, err := a.orch.Plan(ctx, selector, ec)
			if err != nil {
				return err
			}
			if flags.jsonOutput {
				return printJSON(cmd.OutOrStdout(), plan)
			}
			printPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}

	sf.register(cmd)
	return cmd
}
