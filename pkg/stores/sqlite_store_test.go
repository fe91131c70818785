package stores

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/sharpline/sharpline/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func float(v float64) *float64 { return &v }

func sampleResult(id string, startedAt time.Time) *engine.OrchestrationResult {
	completed := startedAt.Add(2 * time.Second)
	recCompleted := startedAt.Add(time.Second)
	return &engine.OrchestrationResult{
		ID:              id,
		PlanID:          "plan-" + id,
		Status:          engine.OrchestrationStatusCompleted,
		TotalStrategies: 2,
		Successful:      1,
		Failed:          1,
		TotalSignals:    1,
		Errors:          []string{"steam_move: timed out after 1 seconds"},
		StartedAt:       startedAt,
		CompletedAt:     &completed,
		Duration:        2 * time.Second,
		Records: map[string]*engine.StrategyExecutionRecord{
			"arbitrage": {
				StrategyID:  "arbitrage",
				ExecutionID: id + "-exec-arb",
				Status:      engine.ExecutionStatusCompleted,
				SignalCount: 1,
				Signals: []engine.Signal{{
					ID:         id + "-sig-1",
					StrategyID: "arbitrage",
					SignalType: "arbitrage",
					GameID:     "g1",
					Market:     "moneyline",
					Selection:  "home",
					Book:       "pinnacle",
					Confidence: 0.9,
					Edge:       6.9,
					Message:    "arb across 2 books",
					DetectedAt: startedAt.Add(500 * time.Millisecond),
					Metadata:   map[string]interface{}{"books": "pinnacle,draftkings"},
				}},
				StartedAt:   startedAt,
				CompletedAt: &recCompleted,
				Duration:    time.Second,
			},
			"steam_move": {
				StrategyID:  "steam_move",
				ExecutionID: id + "-exec-steam",
				Status:      engine.ExecutionStatusTimeout,
				Error:       "timed out after 1 seconds",
				StartedAt:   startedAt,
				Duration:    time.Second,
			},
		},
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "sharpline.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("expected health check to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if _, _, ok, err := store.SchemaVersion(ctx); err != nil || ok {
		t.Errorf("expected no schema version before migrating, got ok=%v err=%v", ok, err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	// Migrating twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	version, dirty, ok, err := store.SchemaVersion(ctx)
	if err != nil || !ok || dirty || version != 1 {
		t.Errorf("expected clean version 1, got %d dirty=%v ok=%v err=%v", version, dirty, ok, err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"orchestration_runs", "strategy_executions", "signals", "odds_snapshots"}
	for _, table := range tables {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestSaveAndGetOrchestration(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	startedAt := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

	if err := store.SaveOrchestration(ctx, sampleResult("run-1", startedAt)); err != nil {
		t.Fatalf("failed to save orchestration: %v", err)
	}

	got, err := store.GetOrchestration(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get orchestration: %v", err)
	}
	if got.PlanID != "plan-run-1" || got.Status != engine.OrchestrationStatusCompleted {
		t.Errorf("unexpected run %+v", got)
	}
	if got.TotalStrategies != 2 || got.Successful != 1 || got.Failed != 1 || got.TotalSignals != 1 {
		t.Errorf("unexpected counters %+v", got)
	}
	if !got.StartedAt.Equal(startedAt) || got.CompletedAt == nil || got.Duration != 2*time.Second {
		t.Errorf("unexpected timing %v %v %v", got.StartedAt, got.CompletedAt, got.Duration)
	}
	if len(got.Errors) != 1 {
		t.Errorf("expected one run error, got %v", got.Errors)
	}

	if len(got.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got.Records))
	}
	arb := got.Records["arbitrage"]
	if arb == nil || arb.Status != engine.ExecutionStatusCompleted || len(arb.Signals) != 1 {
		t.Fatalf("unexpected arbitrage record %+v", arb)
	}
	sig := arb.Signals[0]
	if sig.GameID != "g1" || sig.Edge != 6.9 || sig.Metadata["books"] != "pinnacle,draftkings" {
		t.Errorf("unexpected signal %+v", sig)
	}
	steam := got.Records["steam_move"]
	if steam == nil || steam.Status != engine.ExecutionStatusTimeout || steam.CompletedAt != nil || len(steam.Signals) != 0 {
		t.Errorf("unexpected steam record %+v", steam)
	}

	if _, err := store.GetOrchestration(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveOrchestration_Replaces(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	result := sampleResult("run-1", time.Now())
	if err := store.SaveOrchestration(ctx, result); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	delete(result.Records, "arbitrage")
	result.TotalSignals = 0
	if err := store.SaveOrchestration(ctx, result); err != nil {
		t.Fatalf("failed to save again: %v", err)
	}

	got, err := store.GetOrchestration(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if len(got.Records) != 1 || got.TotalSignals != 0 {
		t.Errorf("expected replaced run, got %d records", len(got.Records))
	}
	signals, err := store.ListSignals(ctx, "run-1")
	if err != nil || len(signals) != 0 {
		t.Errorf("expected stale signals removed, got %v, %v", signals, err)
	}

	if err := store.SaveOrchestration(ctx, nil); err == nil {
		t.Error("expected error for nil result")
	}
}

func TestSaveOrchestration_GeneratesIDs(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	result := sampleResult("run-1", time.Now())
	result.Records["arbitrage"].ExecutionID = ""
	result.Records["arbitrage"].Signals[0].ID = ""
	result.Records["arbitrage"].Signals[0].StrategyID = ""
	if err := store.SaveOrchestration(ctx, result); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	signals, err := store.ListSignals(ctx, "run-1")
	if err != nil || len(signals) != 1 {
		t.Fatalf("expected one signal, got %v, %v", signals, err)
	}
	if signals[0].ID == "" || signals[0].StrategyID != "arbitrage" {
		t.Errorf("expected generated id and strategy fallback, got %+v", signals[0])
	}
}

func TestListOrchestrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		if err := store.SaveOrchestration(ctx, sampleResult(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("failed to save run %d: %v", i, err)
		}
	}

	runs, err := store.ListOrchestrations(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-5" || runs[1].ID != "run-4" {
		t.Errorf("expected newest first, got %v", runIDs(runs))
	}
	if rate := runs[0].SuccessRate(); rate != 0.5 {
		t.Errorf("expected success rate 0.5, got %f", rate)
	}

	runs, err = store.ListOrchestrations(ctx, 0, 3)
	if err != nil || len(runs) != 2 || runs[0].ID != "run-2" {
		t.Errorf("expected unlimited page from offset 3, got %v, %v", runIDs(runs), err)
	}
}

func runIDs(runs []*RunSummary) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	return ids
}

func TestPruneOrchestrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 1; i <= 4; i++ {
		if err := store.SaveOrchestration(ctx, sampleResult(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("failed to save: %v", err)
		}
	}

	deleted, err := store.PruneOrchestrations(ctx, 1)
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 pruned, got %d", deleted)
	}

	runs, _ := store.ListOrchestrations(ctx, 0, 0)
	if len(runs) != 1 || runs[0].ID != "run-4" {
		t.Errorf("expected only run-4 left, got %v", runIDs(runs))
	}
	var orphans int
	if err := store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signals WHERE run_id != 'run-4'`).Scan(&orphans); err != nil || orphans != 0 {
		t.Errorf("expected pruned signals removed, got %d, %v", orphans, err)
	}

	if _, err := store.PruneOrchestrations(ctx, -1); err == nil {
		t.Error("expected error for negative keep")
	}
}

func TestSnapshots(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC)

	snapshots := []OddsSnapshot{
		{GameID: "g1", Sport: "nfl", Market: "spread", Selection: "home", Book: "pinnacle", Odds: -110, Line: float(-3.5), CapturedAt: base.Add(time.Hour)},
		{GameID: "g1", Sport: "nfl", Market: "spread", Selection: "home", Book: "pinnacle", Odds: -110, Line: float(-3), CapturedAt: base},
		{GameID: "g1", Sport: "nfl", Market: "moneyline", Selection: "home", Book: "pinnacle", Odds: -150, BetPct: float(40), MoneyPct: float(65), CapturedAt: base},
		{GameID: "g2", Sport: "nba", Market: "spread", Selection: "away", Book: "circa", Odds: 105, Line: float(2), CapturedAt: base.Add(2 * time.Hour)},
	}
	if err := store.InsertSnapshots(ctx, snapshots); err != nil {
		t.Fatalf("failed to insert snapshots: %v", err)
	}

	all, err := store.ListSnapshots(ctx, SnapshotFilter{})
	if err != nil || len(all) != 4 {
		t.Fatalf("expected 4 snapshots, got %d, %v", len(all), err)
	}
	if all[3].GameID != "g2" || all[0].ID == 0 {
		t.Errorf("expected capture order with ids, got %+v", all)
	}

	tests := []struct {
		name   string
		filter SnapshotFilter
		want   int
	}{
		{"by game", SnapshotFilter{GameID: "g1"}, 3},
		{"by sport", SnapshotFilter{Sport: "nba"}, 1},
		{"by market and book", SnapshotFilter{Market: "spread", Book: "pinnacle"}, 2},
		{"since", SnapshotFilter{Since: base.Add(30 * time.Minute)}, 2},
		{"limit", SnapshotFilter{Limit: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListSnapshots(ctx, tt.filter)
			if err != nil {
				t.Fatalf("failed to list: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d snapshots, got %d", tt.want, len(got))
			}
		})
	}

	ml, _ := store.ListSnapshots(ctx, SnapshotFilter{Market: "moneyline"})
	if len(ml) != 1 || ml[0].Line != nil || ml[0].BetPct == nil || *ml[0].MoneyPct != 65 {
		t.Errorf("unexpected nullable columns %+v", ml)
	}

	line, ok, err := store.OpeningLine(ctx, "g1", "spread", "pinnacle")
	if err != nil || !ok || line != -3 {
		t.Errorf("expected opening line -3, got %v ok=%v err=%v", line, ok, err)
	}
	if _, ok, err := store.OpeningLine(ctx, "g1", "moneyline", "pinnacle"); err != nil || ok {
		t.Errorf("expected no line for moneyline, got ok=%v err=%v", ok, err)
	}

	if err := store.InsertSnapshots(ctx, []OddsSnapshot{{GameID: "g3"}}); err == nil {
		t.Error("expected validation error for incomplete snapshot")
	}
	if err := store.InsertSnapshots(ctx, nil); err != nil {
		t.Errorf("expected empty insert to succeed, got %v", err)
	}
}

func TestOddsSnapshot_Record(t *testing.T) {
	snap := OddsSnapshot{
		GameID: "g1", Sport: "nfl", Market: "spread", Selection: "home", Book: "pinnacle",
		Odds: -110, Line: float(-3.5), MoneyPct: float(70),
		CapturedAt: time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC),
	}
	r := snap.Record()
	if r.String("game_id") != "g1" || r.String("sport") != "nfl" || r.String("timestamp") != "2026-09-10T12:00:00Z" {
		t.Errorf("unexpected record %v", r)
	}
	if v, ok := r.Float("line"); !ok || v != -3.5 {
		t.Errorf("expected line -3.5, got %v", v)
	}
	if _, ok := r["bet_pct"]; ok {
		t.Error("expected unset bet_pct to be omitted")
	}
}
