package stores

import (
	"context"
	"time"

	"github.com/sharpline/sharpline/pkg/engine"
)

// RunSummary is one stored orchestration without its per-strategy records.
type RunSummary struct {
	ID              string                     `json:"id"`
	PlanID          string                     `json:"plan_id"`
	Status          engine.OrchestrationStatus `json:"status"`
	TotalStrategies int                        `json:"total_strategies"`
	Successful      int                        `json:"successful"`
	Failed          int                        `json:"failed"`
	TotalSignals    int                        `json:"total_signals"`
	Errors          []string                   `json:"errors,omitempty"`
	StartedAt       time.Time                  `json:"started_at"`
	CompletedAt     *time.Time                 `json:"completed_at,omitempty"`
	Duration        time.Duration              `json:"duration"`
}

// SuccessRate mirrors engine.OrchestrationResult.SuccessRate.
func (r *RunSummary) SuccessRate() float64 {
	if r.TotalStrategies == 0 {
		return 1
	}
	return float64(r.Successful) / float64(r.TotalStrategies)
}

// Summarize converts an in-memory result into a RunSummary.
func Summarize(result *engine.OrchestrationResult) *RunSummary {
	snap := result.Snapshot()
	return &RunSummary{
		ID:              snap.ID,
		PlanID:          snap.PlanID,
		Status:          snap.Status,
		TotalStrategies: snap.TotalStrategies,
		Successful:      snap.Successful,
		Failed:          snap.Failed,
		TotalSignals:    snap.TotalSignals,
		Errors:          snap.Errors,
		StartedAt:       snap.StartedAt,
		CompletedAt:     snap.CompletedAt,
		Duration:        snap.Duration,
	}
}

// OddsSnapshot is one observed price for a selection at a book.
type OddsSnapshot struct {
	ID         int64     `json:"id,omitempty"`
	GameID     string    `json:"game_id"`
	Sport      string    `json:"sport,omitempty"`
	Market     string    `json:"market"`
	Selection  string    `json:"selection"`
	Book       string    `json:"book"`
	Odds       float64   `json:"odds"`
	Line       *float64  `json:"line,omitempty"`
	BetPct     *float64  `json:"bet_pct,omitempty"`
	MoneyPct   *float64  `json:"money_pct,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// Record renders the snapshot as a batch record. Keys match the fields the built-in
// strategies read.
func (s OddsSnapshot) Record() engine.Record {
	r := engine.Record{
		"game_id":   s.GameID,
		"market":    s.Market,
		"selection": s.Selection,
		"book":      s.Book,
		"odds":      s.Odds,
		"timestamp": s.CapturedAt.UTC().Format(time.RFC3339),
	}
	if s.Sport != "" {
		r["sport"] = s.Sport
	}
	if s.Line != nil {
		r["line"] = *s.Line
	}
	if s.BetPct != nil {
		r["bet_pct"] = *s.BetPct
	}
	if s.MoneyPct != nil {
		r["money_pct"] = *s.MoneyPct
	}
	return r
}

// SnapshotFilter narrows ListSnapshots. Zero fields match everything.
type SnapshotFilter struct {
	GameID string
	Sport  string
	Market string
	Book   string
	Since  time.Time

	// Limit caps the result. Zero means no limit.
	Limit int
}

// Store defines the persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Orchestration history
	SaveOrchestration(ctx context.Context, result *engine.OrchestrationResult) error
	GetOrchestration(ctx context.Context, id string) (*engine.OrchestrationResult, error)
	ListOrchestrations(ctx context.Context, limit, offset int) ([]*RunSummary, error)
	ListSignals(ctx context.Context, runID string) ([]engine.Signal, error)
	PruneOrchestrations(ctx context.Context, keep int) (int64, error)

	// Odds snapshots
	InsertSnapshots(ctx context.Context, snapshots []OddsSnapshot) error
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]OddsSnapshot, error)
	OpeningLine(ctx context.Context, gameID, market, book string) (float64, bool, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
