package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExecutionStatus represents the status of a single strategy execution.
type ExecutionStatus string

const (
	// ExecutionStatusPending indicates the strategy is waiting for its wave or a concurrency slot.
	ExecutionStatusPending ExecutionStatus = "pending"

	// ExecutionStatusRunning indicates the strategy is currently processing the batch.
	ExecutionStatusRunning ExecutionStatus = "running"

	// ExecutionStatusCompleted indicates the strategy returned signals without error.
	ExecutionStatusCompleted ExecutionStatus = "completed"

	// ExecutionStatusFailed indicates the strategy could not be resolved or raised an error.
	ExecutionStatusFailed ExecutionStatus = "failed"

	// ExecutionStatusTimeout indicates the strategy exceeded the plan timeout.
	ExecutionStatusTimeout ExecutionStatus = "timeout"
)

// IsTerminal returns true if the execution status represents a final state.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed ||
		s == ExecutionStatusTimeout
}

// IsActive returns true if the execution is pending or running.
func (s ExecutionStatus) IsActive() bool {
	return s == ExecutionStatusPending || s == ExecutionStatusRunning
}

// Validate checks if the execution status is valid.
func (s ExecutionStatus) Validate() error {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusCompleted,
		ExecutionStatusFailed, ExecutionStatusTimeout:
		return nil
	default:
		return fmt.Errorf("invalid execution status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s ExecutionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *ExecutionStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ExecutionStatus(str)
	return s.Validate()
}

// OrchestrationStatus represents the overall status of an orchestration run.
type OrchestrationStatus string

const (
	// OrchestrationStatusRunning indicates waves are still executing.
	OrchestrationStatusRunning OrchestrationStatus = "running"

	// OrchestrationStatusCompleted indicates every wave ran. Individual strategies may have failed.
	OrchestrationStatusCompleted OrchestrationStatus = "completed"

	// OrchestrationStatusFailed indicates a structural error stopped the run.
	OrchestrationStatusFailed OrchestrationStatus = "failed"
)

// IsTerminal returns true if the orchestration status represents a final state.
func (s OrchestrationStatus) IsTerminal() bool {
	return s == OrchestrationStatusCompleted || s == OrchestrationStatusFailed
}

// Validate checks if the orchestration status is valid.
func (s OrchestrationStatus) Validate() error {
	switch s {
	case OrchestrationStatusRunning, OrchestrationStatusCompleted, OrchestrationStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid orchestration status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s OrchestrationStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *OrchestrationStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = OrchestrationStatus(str)
	return s.Validate()
}

// LifecycleStatus tracks how far a strategy has been migrated to the unified processor contract.
type LifecycleStatus string

const (
	// LifecycleMigrated indicates a native implementation of the processor contract.
	LifecycleMigrated LifecycleStatus = "migrated"

	// LifecycleLegacyBridge indicates an older implementation wrapped by an adapter.
	LifecycleLegacyBridge LifecycleStatus = "legacy_bridge"

	// LifecycleLegacyPending indicates the strategy has not been migrated yet.
	LifecycleLegacyPending LifecycleStatus = "legacy_pending"
)

// Validate checks if the lifecycle status is valid.
func (s LifecycleStatus) Validate() error {
	switch s {
	case LifecycleMigrated, LifecycleLegacyBridge, LifecycleLegacyPending:
		return nil
	default:
		return fmt.Errorf("invalid lifecycle status: %s", s)
	}
}

// IsLegacy returns true for bridged and pending strategies.
func (s LifecycleStatus) IsLegacy() bool {
	return s == LifecycleLegacyBridge || s == LifecycleLegacyPending
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s LifecycleStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *LifecycleStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = LifecycleStatus(strings.ToLower(str))
	return s.Validate()
}

// Priority is the execution tier of a strategy. Lower rank runs earlier.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// PriorityOrder lists the tiers in execution order.
var PriorityOrder = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// Rank returns the position of the priority in execution order, or -1 when invalid.
func (p Priority) Rank() int {
	for i, tier := range PriorityOrder {
		if tier == p {
			return i
		}
	}
	return -1
}

// Validate checks if the priority is valid.
func (p Priority) Validate() error {
	if p.Rank() < 0 {
		return fmt.Errorf("invalid priority: %s", p)
	}
	return nil
}

// ParsePriority parses a case-insensitive priority name.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(p))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParsePriority(str)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// EventType represents the type of event in an orchestration timeline.
type EventType string

const (
	EventTypeOrchestrationStarted   EventType = "orchestration.started"
	EventTypeOrchestrationCompleted EventType = "orchestration.completed"
	EventTypeOrchestrationFailed    EventType = "orchestration.failed"
	EventTypeWaveStarted            EventType = "wave.started"
	EventTypeWaveCompleted          EventType = "wave.completed"
	EventTypeStrategyStarted        EventType = "strategy.started"
	EventTypeStrategyCompleted      EventType = "strategy.completed"
	EventTypeStrategyFailed         EventType = "strategy.failed"
	EventTypeStrategyTimeout        EventType = "strategy.timeout"
	EventTypePolicyViolation        EventType = "policy.violation"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeOrchestrationFailed, EventTypeStrategyFailed:
		return "error"
	case EventTypeStrategyTimeout, EventTypePolicyViolation:
		return "warning"
	default:
		return "info"
	}
}
