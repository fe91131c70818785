package engine

import (
	"context"

	"github.com/sharpline/sharpline/pkg/telemetry"
)

// Processor is the unified contract every strategy implements.
type Processor interface {
	// Process analyzes a batch of odds records and returns the signals it detected.
	// Implementations must honor ctx cancellation.
	Process(ctx context.Context, batch []Record, execCtx map[string]interface{}) ([]Signal, error)

	// SignalType returns the kind of signal this processor emits.
	SignalType() string

	// Category returns the strategy category.
	Category() string

	// HealthCheck reports whether the processor can run.
	HealthCheck(ctx context.Context) HealthStatus
}

// Repository is the data access layer handed to strategy constructors.
// The engine never calls it. Strategies type-assert the narrower interfaces they need.
type Repository interface{}

// ConstructorParams are the inputs to a strategy constructor.
type ConstructorParams struct {
	// Descriptor is the immutable table entry for the strategy.
	Descriptor Descriptor

	// Config is the descriptor base config merged with caller overrides.
	Config map[string]interface{}

	// Repository is shared, read-only data access.
	Repository Repository

	// Logger is scoped to the strategy.
	Logger *telemetry.Logger
}

// Constructor builds a processor instance. It must not start background work.
type Constructor func(params ConstructorParams) (Processor, error)

// EventPublisher publishes orchestration events to subscribers.
type EventPublisher interface {
	Publish(event telemetry.Event) error
}

// HistorySink persists completed orchestrations.
type HistorySink interface {
	SaveOrchestration(ctx context.Context, result *OrchestrationResult) error
}

// PolicyDecision is the outcome of evaluating a plan against admission policies.
type PolicyDecision struct {
	// Allowed is false when any error or critical violation was raised.
	Allowed bool `json:"allowed"`

	// Violations lists every violation, including warnings.
	Violations []PolicyViolation `json:"violations,omitempty"`
}

// PolicyViolation is a single admission policy finding.
type PolicyViolation struct {
	Policy   string `json:"policy"`
	Rule     string `json:"rule,omitempty"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// PlanPolicy admits or rejects plans before they run.
type PlanPolicy interface {
	EvaluatePlan(ctx context.Context, plan *ExecutionPlan, descriptors []Descriptor) (*PolicyDecision, error)
}
