package engine

import (
	"sync"
	"time"
)

// Run registry defaults.
const (
	DefaultHistoryLimit      = 100
	DefaultPerformanceWindow = 10
)

// RunRegistry tracks in-flight orchestrations and a capped history of completed ones.
// Readers always receive snapshots.
type RunRegistry struct {
	mu           sync.RWMutex
	active       map[string]*OrchestrationResult
	history      []*OrchestrationResult
	historyLimit int
	window       int
	completed    int
}

// NewRunRegistry creates a registry. Non-positive arguments use the defaults.
func NewRunRegistry(historyLimit, window int) *RunRegistry {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if window <= 0 {
		window = DefaultPerformanceWindow
	}
	return &RunRegistry{
		active:       make(map[string]*OrchestrationResult),
		historyLimit: historyLimit,
		window:       window,
	}
}

// Begin registers a running orchestration.
func (r *RunRegistry) Begin(result *OrchestrationResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[result.ID] = result
}

// Complete moves an orchestration from the active set to history, evicting the oldest
// entry once the cap is reached.
func (r *RunRegistry) Complete(result *OrchestrationResult) {
	snap := result.Snapshot()

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.active, result.ID)
	r.history = append(r.history, snap)
	if over := len(r.history) - r.historyLimit; over > 0 {
		r.history = append([]*OrchestrationResult(nil), r.history[over:]...)
	}
	r.completed++
}

// Get returns a snapshot of an active or historical run.
func (r *RunRegistry) Get(id string) (*OrchestrationResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if res, ok := r.active[id]; ok {
		return res.Snapshot(), true
	}
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].ID == id {
			return r.history[i].Snapshot(), true
		}
	}
	return nil, false
}

// Active returns snapshots of every running orchestration.
func (r *RunRegistry) Active() []*OrchestrationResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*OrchestrationResult, 0, len(r.active))
	for _, res := range r.active {
		out = append(out, res.Snapshot())
	}
	return out
}

// History returns up to limit completed runs, newest first. limit <= 0 returns all.
func (r *RunRegistry) History(limit int) []*OrchestrationResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*OrchestrationResult, 0, n)
	for i := len(r.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.history[i].Snapshot())
	}
	return out
}

// PerformanceSummary holds rolling averages over recent completed runs.
type PerformanceSummary struct {
	// Window is the number of runs the averages cover.
	Window             int           `json:"window"`
	AvgSuccessRate     float64       `json:"avg_success_rate"`
	AvgSignals         float64       `json:"avg_signals"`
	AvgDuration        time.Duration `json:"avg_duration"`
	AvgDurationSeconds float64       `json:"avg_duration_seconds"`
}

// RegistryStatus is the payload of Status.
type RegistryStatus struct {
	ActiveRuns    int                `json:"active_runs"`
	CompletedRuns int                `json:"completed_runs"`
	HistorySize   int                `json:"history_size"`
	Performance   PerformanceSummary `json:"performance"`
}

// Status returns counters and averages over the most recent runs in the performance window.
func (r *RunRegistry) Status() RegistryStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := RegistryStatus{
		ActiveRuns:    len(r.active),
		CompletedRuns: r.completed,
		HistorySize:   len(r.history),
	}

	recent := r.history
	if len(recent) > r.window {
		recent = recent[len(recent)-r.window:]
	}
	if len(recent) == 0 {
		return status
	}

	var rate, signals float64
	var duration time.Duration
	for _, res := range recent {
		rate += res.SuccessRate()
		signals += float64(res.TotalSignals)
		duration += res.Duration
	}
	n := len(recent)
	status.Performance = PerformanceSummary{
		Window:             n,
		AvgSuccessRate:     rate / float64(n),
		AvgSignals:         signals / float64(n),
		AvgDuration:        duration / time.Duration(n),
		AvgDurationSeconds: (duration / time.Duration(n)).Seconds(),
	}
	return status
}
