package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sharpline/sharpline/pkg/engine"
	"github.com/sharpline/sharpline/pkg/stores"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func readRecords(path string) ([]engine.Record, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	// Accept a bare array or an object with a records key.
	var records []engine.Record
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}
	var wrapped struct {
		Records []engine.Record `json:"records"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, engine.NewPlanError(engine.ErrCodeValidation, "records must be a JSON array of objects", err)
	}
	return wrapped.Records, nil
}

func printPlan(w io.Writer, plan *engine.ExecutionPlan) {
	fmt.Fprintf(w, "Plan %s\n", plan.ID)
	fmt.Fprintf(w, "  strategies: %d  max concurrent: %d  timeout: %s\n",
		plan.TotalStrategies(), plan.MaxConcurrent, plan.Timeout)
	for i, wave := range plan.Waves {
		fmt.Fprintf(w, "  wave %d [%s]: %s\n", i+1, wave.Priority, strings.Join(wave.StrategyIDs, ", "))
	}
	if warnings, ok := plan.Metadata["policy_warnings"].([]string); ok {
		for _, warning := range warnings {
			fmt.Fprintf(w, "  warning: %s\n", warning)
		}
	}
}

func printResult(w io.Writer, result *engine.OrchestrationResult) {
	fmt.Fprintf(w, "Run %s (%s) in %s\n", result.ID, result.Status, result.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  strategies: %d  successful: %d  failed: %d  signals: %d\n\n",
		result.TotalStrategies, result.Successful, result.Failed, result.TotalSignals)

	ids := make([]string, 0, len(result.Records))
	for id := range result.Records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := newTable(w)
	fmt.Fprintln(tw, "STRATEGY\tSTATUS\tSIGNALS\tDURATION\tERROR")
	for _, id := range ids {
		rec := result.Records[id]
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", id, rec.Status, rec.SignalCount,
			rec.Duration.Round(time.Millisecond), rec.Error)
	}
	_ = tw.Flush()

	var signals []engine.Signal
	for _, id := range ids {
		signals = append(signals, result.Records[id].Signals...)
	}
	if len(signals) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw = newTable(w)
	fmt.Fprintln(tw, "STRATEGY\tGAME\tMARKET\tSELECTION\tBOOK\tCONFIDENCE\tMESSAGE")
	for _, s := range signals {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.2f\t%s\n",
			s.StrategyID, s.GameID, s.Market, s.Selection, s.Book, s.Confidence, s.Message)
	}
	_ = tw.Flush()
}

func printRunSummaries(w io.Writer, runs []*stores.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tSTATUS\tSTARTED\tSTRATEGIES\tOK\tFAILED\tSIGNALS\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.ID, r.Status, r.StartedAt.Local().Format(time.DateTime),
			r.TotalStrategies, r.Successful, r.Failed, r.TotalSignals,
			r.Duration.Round(time.Millisecond))
	}
	_ = tw.Flush()
}
