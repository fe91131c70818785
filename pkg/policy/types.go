package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational findings.
	SeverityInfo Severity = "info"

	// SeverityWarning is recorded on the plan but does not block it.
	SeverityWarning Severity = "warning"

	// SeverityError rejects the plan.
	SeverityError Severity = "error"

	// SeverityCritical rejects the plan.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity rejects a plan.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Policy is an admission rule written in Rego. The module must define a deny set under
// its package; each element is a message string or an object with message and severity.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	Description string `json:"description,omitempty"`

	// Rego contains the policy module.
	Rego string `json:"rego"`

	// Severity applies to deny elements that do not carry their own.
	Severity Severity `json:"severity"`

	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the engine. Reloads leave them in place.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`

	Tags     []string  `json:"tags,omitempty"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Input is the document policies see as input.
type Input struct {
	Plan       PlanInput              `json:"plan"`
	Strategies []StrategyInput        `json:"strategies"`
	Context    map[string]interface{} `json:"context"`
}

// PlanInput is the policy view of an execution plan.
type PlanInput struct {
	ID              string      `json:"id"`
	MaxConcurrent   int         `json:"max_concurrent"`
	TimeoutSeconds  float64     `json:"timeout_seconds"`
	TotalStrategies int         `json:"total_strategies"`
	Waves           []WaveInput `json:"waves"`
}

// WaveInput is one priority tier of the plan.
type WaveInput struct {
	Priority    string   `json:"priority"`
	StrategyIDs []string `json:"strategy_ids"`
}

// StrategyInput describes one planned strategy.
type StrategyInput struct {
	ID         string `json:"id"`
	Category   string `json:"category"`
	SignalType string `json:"signal_type"`
	Lifecycle  string `json:"lifecycle"`
	Priority   string `json:"priority"`
}

// PolicyBundle is a JSON file holding several policies.
type PolicyBundle struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Policies []Policy `json:"policies"`
}
