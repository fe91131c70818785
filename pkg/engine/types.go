package engine

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Record is one row of the odds data batch handed to every strategy.
// Keys follow the snapshot columns (game_id, market, book, selection, odds, line, ...).
type Record map[string]interface{}

// String returns the value of key as a string, or "" when absent.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Float returns the value of key as a float64.
func (r Record) Float(key string) (float64, bool) {
	return toFloat(r[key])
}

// Signal is a betting signal emitted by a strategy.
type Signal struct {
	// ID is the unique identifier for this signal.
	ID string `json:"id"`

	// StrategyID is the strategy that emitted the signal.
	StrategyID string `json:"strategy_id"`

	// SignalType is the kind of signal (sharp_action, arbitrage, ...).
	SignalType string `json:"signal_type"`

	GameID    string `json:"game_id"`
	Market    string `json:"market,omitempty"`
	Selection string `json:"selection,omitempty"`
	Book      string `json:"book,omitempty"`

	// Confidence is in [0, 1].
	Confidence float64 `json:"confidence"`

	// Edge is the estimated edge in percentage points, when the strategy computes one.
	Edge float64 `json:"edge,omitempty"`

	Message    string                 `json:"message,omitempty"`
	DetectedAt time.Time              `json:"detected_at"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Context keys recognized by the planner. Any other key passes through to strategies.
const (
	ContextKeyPriority       = "priority"
	ContextKeyTimeoutSeconds = "timeout_seconds"
	ContextKeyMaxConcurrent  = "max_concurrent"
)

// ExecutionContext carries caller-supplied options for a single orchestration.
type ExecutionContext struct {
	// Priority is an informational tag for the whole request.
	Priority string `json:"priority,omitempty"`

	// Timeout overrides the default per-strategy timeout when positive.
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxConcurrent overrides the default concurrency when positive.
	MaxConcurrent int `json:"max_concurrent,omitempty"`

	// Values are passed to every strategy unchanged.
	Values map[string]interface{} `json:"values,omitempty"`
}

// ExecutionContextFromMap parses the recognized option keys out of a free-form context map.
// The full map is retained in Values.
func ExecutionContextFromMap(m map[string]interface{}) (ExecutionContext, error) {
	ec := ExecutionContext{Values: make(map[string]interface{}, len(m))}
	for k, v := range m {
		ec.Values[k] = v
	}

	if v, ok := m[ContextKeyPriority]; ok && v != nil {
		ec.Priority = fmt.Sprint(v)
	}
	if v, ok := m[ContextKeyTimeoutSeconds]; ok && v != nil {
		secs, ok := toFloat(v)
		if !ok || secs < 0 {
			return ec, NewPlanError(ErrCodeValidation,
				fmt.Sprintf("invalid %s: %v", ContextKeyTimeoutSeconds, v), nil)
		}
		ec.Timeout = time.Duration(secs * float64(time.Second))
	}
	if v, ok := m[ContextKeyMaxConcurrent]; ok && v != nil {
		n, ok := toFloat(v)
		if !ok || n < 0 || n != float64(int(n)) {
			return ec, NewPlanError(ErrCodeValidation,
				fmt.Sprintf("invalid %s: %v", ContextKeyMaxConcurrent, v), nil)
		}
		ec.MaxConcurrent = int(n)
	}
	return ec, nil
}

// toMap renders the context as the map strategies receive.
func (ec ExecutionContext) toMap(timeout time.Duration, maxConcurrent int) map[string]interface{} {
	m := make(map[string]interface{}, len(ec.Values)+3)
	for k, v := range ec.Values {
		m[k] = v
	}
	if ec.Priority != "" {
		m[ContextKeyPriority] = ec.Priority
	}
	m[ContextKeyTimeoutSeconds] = timeout.Seconds()
	m[ContextKeyMaxConcurrent] = maxConcurrent
	return m
}

// Wave is a group of strategies sharing a priority tier.
type Wave struct {
	Priority    Priority `json:"priority"`
	StrategyIDs []string `json:"strategy_ids"`
}

// ExecutionPlan is an immutable, ordered execution plan.
type ExecutionPlan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`

	// Waves run strictly in order.
	Waves []Wave `json:"waves"`

	// MaxConcurrent bounds concurrent strategies within a wave.
	MaxConcurrent int `json:"max_concurrent"`

	// Timeout is the per-strategy deadline.
	Timeout time.Duration `json:"timeout"`

	// Context is handed to every strategy.
	Context map[string]interface{} `json:"context,omitempty"`

	CreatedAt time.Time              `json:"created_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// StrategyIDs returns every strategy in execution order.
func (p *ExecutionPlan) StrategyIDs() []string {
	var ids []string
	for _, w := range p.Waves {
		ids = append(ids, w.StrategyIDs...)
	}
	return ids
}

// TotalStrategies returns the number of strategies across all waves.
func (p *ExecutionPlan) TotalStrategies() int {
	n := 0
	for _, w := range p.Waves {
		n += len(w.StrategyIDs)
	}
	return n
}

// StrategyExecutionRecord tracks one strategy attempt within an orchestration.
type StrategyExecutionRecord struct {
	StrategyID  string          `json:"strategy_id"`
	ExecutionID string          `json:"execution_id"`
	Status      ExecutionStatus `json:"status"`
	SignalCount int             `json:"signal_count"`
	Signals     []Signal        `json:"signals,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Duration    time.Duration   `json:"duration"`
}

// OrchestrationResult aggregates the outcome of executing a plan.
type OrchestrationResult struct {
	mu sync.RWMutex

	ID              string                              `json:"id"`
	PlanID          string                              `json:"plan_id"`
	Status          OrchestrationStatus                 `json:"status"`
	TotalStrategies int                                 `json:"total_strategies"`
	Successful      int                                 `json:"successful"`
	Failed          int                                 `json:"failed"`
	TotalSignals    int                                 `json:"total_signals"`
	Records         map[string]*StrategyExecutionRecord `json:"records"`
	Errors          []string                            `json:"errors,omitempty"`
	StartedAt       time.Time                           `json:"started_at"`
	CompletedAt     *time.Time                          `json:"completed_at,omitempty"`
	Duration        time.Duration                       `json:"duration"`
}

// updateRecord mutates the record for strategyID under the result lock.
func (r *OrchestrationResult) updateRecord(strategyID string, fn func(rec *StrategyExecutionRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.Records[strategyID]; ok {
		fn(rec)
	}
}

// Snapshot returns a deep copy that is safe to read while the run is in progress.
func (r *OrchestrationResult) Snapshot() *OrchestrationResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := &OrchestrationResult{
		ID:              r.ID,
		PlanID:          r.PlanID,
		Status:          r.Status,
		TotalStrategies: r.TotalStrategies,
		Successful:      r.Successful,
		Failed:          r.Failed,
		TotalSignals:    r.TotalSignals,
		Records:         make(map[string]*StrategyExecutionRecord, len(r.Records)),
		Errors:          append([]string(nil), r.Errors...),
		StartedAt:       r.StartedAt,
		Duration:        r.Duration,
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	for id, rec := range r.Records {
		cp := *rec
		cp.Signals = append([]Signal(nil), rec.Signals...)
		if rec.CompletedAt != nil {
			t := *rec.CompletedAt
			cp.CompletedAt = &t
		}
		out.Records[id] = &cp
	}
	return out
}

// SuccessRate returns successful/total, or 1 for an empty run.
func (r *OrchestrationResult) SuccessRate() float64 {
	if r.TotalStrategies == 0 {
		return 1
	}
	return float64(r.Successful) / float64(r.TotalStrategies)
}

// HealthStatus is the payload returned by a strategy health check.
type HealthStatus struct {
	Healthy bool                   `json:"healthy"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
