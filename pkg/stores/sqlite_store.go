package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/sharpline/sharpline/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// memoryPath opens a private in-memory database.
const memoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

var (
	_ Store              = (*SQLiteStore)(nil)
	_ engine.HistorySink = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode for file databases.
func (s *SQLiteStore) Init(ctx context.Context) error {
	params := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_time_format=sqlite",
		"_txlock=immediate",
	}
	if s.cfg.Path != memoryPath {
		params = append(params, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	dsn := s.cfg.Path + "?" + strings.Join(params, "&")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate brings the schema up to the latest embedded migration.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SchemaVersion reports the applied migration version. ok is false before the first migration.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (version uint, dirty bool, ok bool, err error) {
	if s.db == nil {
		return 0, false, false, fmt.Errorf("database not initialized")
	}

	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`).Scan(&exists)
	if err != nil {
		return 0, false, false, fmt.Errorf("failed to inspect schema: %w", err)
	}
	if exists == 0 {
		return 0, false, false, nil
	}

	var v int64
	err = s.db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&v, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return uint(v), dirty, true, nil
}

// SaveOrchestration writes a run with its strategy records and signals in one transaction.
// Saving the same run again replaces it.
func (s *SQLiteStore) SaveOrchestration(ctx context.Context, result *engine.OrchestrationResult) error {
	if result == nil {
		return fmt.Errorf("orchestration result is nil")
	}
	snap := result.Snapshot()

	errorsJSON, err := json.Marshal(nonNil(snap.Errors))
	if err != nil {
		return fmt.Errorf("failed to encode run errors: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"signals", "strategy_executions"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id = ?", snap.ID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM orchestration_runs WHERE id = ?`, snap.ID); err != nil {
		return fmt.Errorf("failed to clear run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orchestration_runs (
			id, plan_id, status, total_strategies, successful, failed, total_signals,
			errors, started_at, completed_at, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		snap.ID,
		snap.PlanID,
		string(snap.Status),
		snap.TotalStrategies,
		snap.Successful,
		snap.Failed,
		snap.TotalSignals,
		string(errorsJSON),
		snap.StartedAt.UTC(),
		nullTime(snap.CompletedAt),
		snap.Duration.Milliseconds(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	execStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO strategy_executions (
			execution_id, run_id, strategy_id, status, signal_count, error,
			started_at, completed_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare execution insert: %w", err)
	}
	defer execStmt.Close()

	signalStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO signals (
			id, run_id, execution_id, strategy_id, signal_type, game_id, market,
			selection, book, confidence, edge, message, detected_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare signal insert: %w", err)
	}
	defer signalStmt.Close()

	ids := make([]string, 0, len(snap.Records))
	for id := range snap.Records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec := snap.Records[id]
		executionID := rec.ExecutionID
		if executionID == "" {
			executionID = uuid.New().String()
		}

		var startedAt interface{}
		if !rec.StartedAt.IsZero() {
			startedAt = rec.StartedAt.UTC()
		}
		_, err := execStmt.ExecContext(ctx,
			executionID,
			snap.ID,
			rec.StrategyID,
			string(rec.Status),
			rec.SignalCount,
			rec.Error,
			startedAt,
			nullTime(rec.CompletedAt),
			rec.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert execution for %s: %w", rec.StrategyID, err)
		}

		for _, sig := range rec.Signals {
			if err := insertSignal(ctx, signalStmt, snap.ID, executionID, rec.StrategyID, sig); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

func insertSignal(ctx context.Context, stmt *sql.Stmt, runID, executionID, strategyID string, sig engine.Signal) error {
	id := sig.ID
	if id == "" {
		id = uuid.New().String()
	}
	if sig.StrategyID == "" {
		sig.StrategyID = strategyID
	}
	detectedAt := sig.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now()
	}

	metadata := []byte("{}")
	if len(sig.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(sig.Metadata); err != nil {
			return fmt.Errorf("failed to encode signal metadata: %w", err)
		}
	}

	_, err := stmt.ExecContext(ctx,
		id,
		runID,
		executionID,
		sig.StrategyID,
		sig.SignalType,
		sig.GameID,
		sig.Market,
		sig.Selection,
		sig.Book,
		sig.Confidence,
		sig.Edge,
		sig.Message,
		detectedAt.UTC(),
		string(metadata),
	)
	if err != nil {
		return fmt.Errorf("failed to insert signal %s: %w", id, err)
	}
	return nil
}

// GetOrchestration rebuilds a stored run with its records and signals.
func (s *SQLiteStore) GetOrchestration(ctx context.Context, id string) (*engine.OrchestrationResult, error) {
	summary, err := s.scanRun(s.db.QueryRowContext(ctx, `
		SELECT id, plan_id, status, total_strategies, successful, failed, total_signals,
		       errors, started_at, completed_at, duration_ms
		FROM orchestration_runs
		WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("orchestration %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get orchestration: %w", err)
	}

	result := &engine.OrchestrationResult{
		ID:              summary.ID,
		PlanID:          summary.PlanID,
		Status:          summary.Status,
		TotalStrategies: summary.TotalStrategies,
		Successful:      summary.Successful,
		Failed:          summary.Failed,
		TotalSignals:    summary.TotalSignals,
		Records:         make(map[string]*engine.StrategyExecutionRecord),
		Errors:          summary.Errors,
		StartedAt:       summary.StartedAt,
		CompletedAt:     summary.CompletedAt,
		Duration:        summary.Duration,
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, strategy_id, status, signal_count, error, started_at, completed_at, duration_ms
		FROM strategy_executions
		WHERE run_id = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	byExecution := make(map[string]*engine.StrategyExecutionRecord)
	for rows.Next() {
		rec := &engine.StrategyExecutionRecord{}
		var status string
		var startedAt, completedAt sql.NullTime
		var durationMS int64
		err := rows.Scan(
			&rec.ExecutionID,
			&rec.StrategyID,
			&status,
			&rec.SignalCount,
			&rec.Error,
			&startedAt,
			&completedAt,
			&durationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		rec.Status = engine.ExecutionStatus(status)
		if startedAt.Valid {
			rec.StartedAt = startedAt.Time
		}
		rec.CompletedAt = timePtr(completedAt)
		rec.Duration = time.Duration(durationMS) * time.Millisecond

		result.Records[rec.StrategyID] = rec
		byExecution[rec.ExecutionID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	// Release the connection before the next query; :memory: stores have only one.
	_ = rows.Close()

	signals, executionIDs, err := s.querySignals(ctx, id)
	if err != nil {
		return nil, err
	}
	for i, sig := range signals {
		if rec, ok := byExecution[executionIDs[i]]; ok {
			rec.Signals = append(rec.Signals, sig)
		}
	}

	return result, nil
}

// ListOrchestrations lists stored runs, newest first.
func (s *SQLiteStore) ListOrchestrations(ctx context.Context, limit, offset int) ([]*RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, status, total_strategies, successful, failed, total_signals,
		       errors, started_at, completed_at, duration_ms
		FROM orchestration_runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list orchestrations: %w", err)
	}
	defer rows.Close()

	runs := []*RunSummary{}
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan orchestration: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orchestrations: %w", err)
	}

	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanRun(row rowScanner) (*RunSummary, error) {
	run := &RunSummary{}
	var status, errorsJSON string
	var completedAt sql.NullTime
	var durationMS int64
	err := row.Scan(
		&run.ID,
		&run.PlanID,
		&status,
		&run.TotalStrategies,
		&run.Successful,
		&run.Failed,
		&run.TotalSignals,
		&errorsJSON,
		&run.StartedAt,
		&completedAt,
		&durationMS,
	)
	if err != nil {
		return nil, err
	}

	run.Status = engine.OrchestrationStatus(status)
	run.CompletedAt = timePtr(completedAt)
	run.Duration = time.Duration(durationMS) * time.Millisecond
	if err := json.Unmarshal([]byte(errorsJSON), &run.Errors); err != nil {
		return nil, fmt.Errorf("failed to decode run errors: %w", err)
	}
	if len(run.Errors) == 0 {
		run.Errors = nil
	}
	return run, nil
}

// ListSignals returns every signal from a run ordered by detection time.
func (s *SQLiteStore) ListSignals(ctx context.Context, runID string) ([]engine.Signal, error) {
	signals, _, err := s.querySignals(ctx, runID)
	return signals, err
}

func (s *SQLiteStore) querySignals(ctx context.Context, runID string) ([]engine.Signal, []string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, strategy_id, signal_type, game_id, market, selection, book,
		       confidence, edge, message, detected_at, metadata
		FROM signals
		WHERE run_id = ?
		ORDER BY detected_at, id
	`, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list signals: %w", err)
	}
	defer rows.Close()

	signals := []engine.Signal{}
	var executionIDs []string
	for rows.Next() {
		var sig engine.Signal
		var executionID, metadata string
		err := rows.Scan(
			&sig.ID,
			&executionID,
			&sig.StrategyID,
			&sig.SignalType,
			&sig.GameID,
			&sig.Market,
			&sig.Selection,
			&sig.Book,
			&sig.Confidence,
			&sig.Edge,
			&sig.Message,
			&sig.DetectedAt,
			&metadata,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &sig.Metadata); err != nil {
				return nil, nil, fmt.Errorf("failed to decode signal metadata: %w", err)
			}
		}
		signals = append(signals, sig)
		executionIDs = append(executionIDs, executionID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating signals: %w", err)
	}

	return signals, executionIDs, nil
}

// PruneOrchestrations keeps the newest keep runs and deletes the rest with their records.
func (s *SQLiteStore) PruneOrchestrations(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const stale = `SELECT id FROM orchestration_runs ORDER BY started_at DESC LIMIT -1 OFFSET ?`
	for _, table := range []string{"signals", "strategy_executions"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE run_id IN ("+stale+")", keep); err != nil {
			return 0, fmt.Errorf("failed to prune %s: %w", table, err)
		}
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM orchestration_runs WHERE id IN ("+stale+")", keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return deleted, nil
}

// InsertSnapshots appends odds snapshots in one transaction.
func (s *SQLiteStore) InsertSnapshots(ctx context.Context, snapshots []OddsSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO odds_snapshots (
			game_id, sport, market, selection, book, odds, line, bet_pct, money_pct, captured_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for i, snap := range snapshots {
		if snap.GameID == "" || snap.Market == "" || snap.Book == "" {
			return fmt.Errorf("snapshot %d: game_id, market and book are required", i)
		}
		capturedAt := snap.CapturedAt
		if capturedAt.IsZero() {
			capturedAt = time.Now()
		}
		_, err := stmt.ExecContext(ctx,
			snap.GameID,
			snap.Sport,
			snap.Market,
			snap.Selection,
			snap.Book,
			snap.Odds,
			snap.Line,
			snap.BetPct,
			snap.MoneyPct,
			capturedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert snapshot %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshots: %w", err)
	}
	return nil
}

// ListSnapshots returns snapshots matching filter in capture order.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]OddsSnapshot, error) {
	query := `
		SELECT id, game_id, sport, market, selection, book, odds, line, bet_pct, money_pct, captured_at
		FROM odds_snapshots
		WHERE 1 = 1`
	var args []interface{}
	for _, f := range []struct {
		column, value string
	}{
		{"game_id", filter.GameID},
		{"sport", filter.Sport},
		{"market", filter.Market},
		{"book", filter.Book},
	} {
		if f.value != "" {
			query += " AND " + f.column + " = ?"
			args = append(args, f.value)
		}
	}
	if !filter.Since.IsZero() {
		query += " AND captured_at >= ?"
		args = append(args, filter.Since.UTC())
	}
	query += " ORDER BY captured_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := []OddsSnapshot{}
	for rows.Next() {
		var snap OddsSnapshot
		var line, betPct, moneyPct sql.NullFloat64
		err := rows.Scan(
			&snap.ID,
			&snap.GameID,
			&snap.Sport,
			&snap.Market,
			&snap.Selection,
			&snap.Book,
			&snap.Odds,
			&line,
			&betPct,
			&moneyPct,
			&snap.CapturedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.Line = floatPtr(line)
		snap.BetPct = floatPtr(betPct)
		snap.MoneyPct = floatPtr(moneyPct)
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snapshots, nil
}

// OpeningLine returns the earliest recorded line for a game, market and book.
func (s *SQLiteStore) OpeningLine(ctx context.Context, gameID, market, book string) (float64, bool, error) {
	var line float64
	err := s.db.QueryRowContext(ctx, `
		SELECT line
		FROM odds_snapshots
		WHERE game_id = ? AND market = ? AND book = ? AND line IS NOT NULL
		ORDER BY captured_at, id
		LIMIT 1
	`, gameID, market, book).Scan(&line)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get opening line: %w", err)
	}
	return line, true, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
