package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sharpline/sharpline/pkg/engine"
	"github.com/sharpline/sharpline/pkg/stores"
)

// selectorFlags build a selector and execution context from command flags.
type selectorFlags struct {
	all           bool
	category      string
	priority      string
	signal        string
	timeout       time.Duration
	maxConcurrent int
	contextValues map[string]string
}

func (sf *selectorFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&sf.all, "all", false, "select every runnable strategy, skipping covered legacy bridges and pending ones")
	cmd.Flags().StringVar(&sf.category, "category", "", "select strategies in a category")
	cmd.Flags().StringVar(&sf.priority, "priority", "", "select strategies of a priority tier")
	cmd.Flags().StringVar(&sf.signal, "signal", "", "select strategies emitting a signal type")
	cmd.Flags().DurationVar(&sf.timeout, "timeout", 0, "per-strategy timeout (default from config)")
	cmd.Flags().IntVar(&sf.maxConcurrent, "max-concurrent", 0, "max strategies running at once within a wave")
	cmd.Flags().StringToStringVar(&sf.contextValues, "set", nil, "extra execution context values (key=value)")
}

func (sf *selectorFlags) selector(args []string) (engine.Selector, error) {
	var sel engine.Selector
	for _, arg := range args {
		sel = append(sel, engine.ParseSelector(arg)...)
	}
	if sf.all {
		sel = append(sel, engine.SelectorAll)
	}
	if sf.category != "" {
		sel = append(sel, "category:"+sf.category)
	}
	if sf.priority != "" {
		sel = append(sel, "priority:"+sf.priority)
	}
	if sf.signal != "" {
		sel = append(sel, "signal:"+sf.signal)
	}
	if len(sel) == 0 {
		return nil, engine.NewPlanError(engine.ErrCodeValidation,
			"no strategies selected: pass strategy IDs or --all, --category, --priority or --signal", nil)
	}
	return sel, nil
}

func (sf *selectorFlags) context() (engine.ExecutionContext, error) {
	values := make(map[string]interface{}, len(sf.contextValues)+2)
	for k, v := range sf.contextValues {
		values[k] = v
	}
	if sf.timeout > 0 {
		values[engine.ContextKeyTimeoutSeconds] = sf.timeout.Seconds()
	}
	if sf.maxConcurrent > 0 {
		values[engine.ContextKeyMaxConcurrent] = sf.maxConcurrent
	}
	return engine.ExecutionContextFromMap(values)
}

func newRunCommand(flags *globalFlags) *cobra.Command {
	var (
		sf         selectorFlags
		input      string
		fromStore  bool
		sport      string
		gameID     string
		since      time.Duration
		sequential bool
		noPersist  bool
	)

	cmd := &cobra.Command{
		Use:   "run [strategy-id...]",
		Short: "Execute strategies over a batch of records",
		Long: `Execute the selected strategies over a batch of odds records.

Strategies run in priority waves: critical, then high, normal and low. Strategies in a
wave run concurrently up to --max-concurrent. A failing or slow strategy is recorded and
never stops the rest of the run.

Records come from a JSON file (--input, "-" for stdin) or from stored odds snapshots
(--from-store).`,
		Example: `  # Run one strategy over a file of records
  sharpline run sharp_action --input records.json

  # Run every betting flow strategy over today's stored NFL snapshots
  sharpline run --category betting_flow --from-store --sport nfl --since 24h

  # Run everything sequentially with a short deadline
  sharpline run --all --input records.json --sequential --timeout 5s`,
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
			if input == "" && !fromStore {
				return engine.NewPlanError(engine.ErrCodeValidation, "one of --input or --from-store is required", nil)
			}

			a, err := newApp(ctx, flags, appOptions{
				store:      true,
				persist:    !noPersist,
				quiet:      true,
				sequential: sequential,
			})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			var batch []engine.Record
			if fromStore {
				filter := stores.SnapshotFilter{Sport: sport, GameID: gameID}
				if since > 0 {
					filter.Since = time.Now().Add(-since)
				}
				snapshots, err := a.store.ListSnapshots(ctx, filter)
				if err != nil {
					return err
				}
				for _, s := range snapshots {
					batch = append(batch, s.Record())
				}
			} else if batch, err = readRecords(input); err != nil {
				return err
			}

			a.logger.WithFields(map[string]interface{}{
				"selector": selector,
				"records":  len(batch),
			}).Info("Executing strategies")

			result, err := a.orch.Execute(ctx, selector, batch, ec)
			if err != nil {
				return err
			}

			if flags.jsonOutput {
				return printJSON(cmd.OutOrStdout(), result)
			}
			printResult(cmd.OutOrStdout(), result)
			if result.Status == engine.OrchestrationStatusFailed {
				return fmt.Errorf("orchestration %s failed", result.ID)
			}
			return nil
		},
	}

	sf.register(cmd)
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON records file, or - for stdin")
	cmd.Flags().BoolVar(&fromStore, "from-store", false, "read records from stored odds snapshots")
	cmd.Flags().StringVar(&sport, "sport", "", "with --from-store, only this sport")
	cmd.Flags().StringVar(&gameID, "game", "", "with --from-store, only this game")
	cmd.Flags().DurationVar(&since, "since", 0, "with --from-store, only snapshots newer than this")
	cmd.Flags().BoolVar(&sequential, "sequential", false, "run strategies one at a time")
	cmd.Flags().BoolVar(&noPersist, "no-persist", false, "do not save the run to the store")
	cmd.MarkFlagsMutuallyExclusive("input", "from-store")

	return cmd
}
