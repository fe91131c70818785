package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Planner defaults.
const (
	DefaultMaxConcurrent       = 5
	DefaultGlobalMaxConcurrent = 20
	DefaultStrategyTimeout     = 30 * time.Second
)

// PlannerConfig holds the plan-wide defaults and the global concurrency ceiling.
type PlannerConfig struct {
	DefaultMaxConcurrent int
	GlobalMaxConcurrent  int
	DefaultTimeout       time.Duration
}

// DefaultPlannerConfig returns the stock planner limits.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		DefaultMaxConcurrent: DefaultMaxConcurrent,
		GlobalMaxConcurrent:  DefaultGlobalMaxConcurrent,
		DefaultTimeout:       DefaultStrategyTimeout,
	}
}

// Planner converts a set of strategy IDs and an execution context into priority waves.
type Planner struct {
	table  *DescriptorTable
	config PlannerConfig
	policy PlanPolicy
}

// NewPlanner creates a planner. Non-positive config values fall back to the defaults.
// policy may be nil.
func NewPlanner(table *DescriptorTable, cfg PlannerConfig, policy PlanPolicy) *Planner {
	def := DefaultPlannerConfig()
	if cfg.DefaultMaxConcurrent <= 0 {
		cfg.DefaultMaxConcurrent = def.DefaultMaxConcurrent
	}
	if cfg.GlobalMaxConcurrent <= 0 {
		cfg.GlobalMaxConcurrent = def.GlobalMaxConcurrent
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	return &Planner{
		table:  table,
		config: cfg,
		policy: policy,
	}
}

// Config returns the effective planner limits.
func (p *Planner) Config() PlannerConfig {
	return p.config
}

// BuildPlan groups ids into waves ordered CRITICAL, HIGH, NORMAL, LOW, keeping request order
// within a tier. Every unknown ID is reported in a single unknown-strategy error and no plan
// is returned. Duplicate IDs collapse to their first occurrence.
func (p *Planner) BuildPlan(ctx context.Context, ids []string, ec ExecutionContext) (*ExecutionPlan, error) {
	var unknown []string
	seen := make(map[string]bool, len(ids))
	tiers := make(map[Priority][]string)
	var descriptors []Descriptor

	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		desc, ok := p.table.Lookup(id)
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		tiers[desc.Priority] = append(tiers[desc.Priority], id)
		descriptors = append(descriptors, desc)
	}
	if len(unknown) > 0 {
		return nil, NewUnknownStrategyError(unknown)
	}

	maxConcurrent := p.config.DefaultMaxConcurrent
	if ec.MaxConcurrent > 0 {
		maxConcurrent = ec.MaxConcurrent
	}
	if maxConcurrent > p.config.GlobalMaxConcurrent {
		maxConcurrent = p.config.GlobalMaxConcurrent
	}

	timeout := p.config.DefaultTimeout
	if ec.Timeout > 0 {
		timeout = ec.Timeout
	}

	plan := &ExecutionPlan{
		ID:            uuid.New().String(),
		Waves:         make([]Wave, 0, len(PriorityOrder)),
		MaxConcurrent: maxConcurrent,
		Timeout:       timeout,
		Context:       ec.toMap(timeout, maxConcurrent),
		CreatedAt:     time.Now(),
		Metadata:      make(map[string]interface{}),
	}
	for _, tier := range PriorityOrder {
		if members := tiers[tier]; len(members) > 0 {
			plan.Waves = append(plan.Waves, Wave{Priority: tier, StrategyIDs: members})
		}
	}

	if p.policy != nil && plan.TotalStrategies() > 0 {
		if err := p.admit(ctx, plan, descriptors); err != nil {
			return nil, err
		}
	}

	return plan, nil
}

// admit evaluates the plan policy. Denials become plan errors and warnings are kept in metadata.
func (p *Planner) admit(ctx context.Context, plan *ExecutionPlan, descriptors []Descriptor) error {
	decision, err := p.policy.EvaluatePlan(ctx, plan, descriptors)
	if err != nil {
		return NewPlanError(ErrCodePlanInvalid, "plan policy evaluation failed", err)
	}

	var warnings []string
	var denials []string
	for _, v := range decision.Violations {
		msg := fmt.Sprintf("%s: %s", v.Policy, v.Message)
		if v.Severity == "error" || v.Severity == "critical" {
			denials = append(denials, msg)
		} else {
			warnings = append(warnings, msg)
		}
	}
	if len(warnings) > 0 {
		plan.Metadata["policy_warnings"] = warnings
	}
	if !decision.Allowed {
		return NewPlanError(ErrCodePolicyDenied, "plan rejected by policy", nil).
			WithDetail("violations", denials)
	}
	return nil
}

// ValidatePlan checks a plan that did not come from BuildPlan, such as one decoded from a request.
// A strategy may appear in at most one wave, once.
func (p *Planner) ValidatePlan(plan *ExecutionPlan) error {
	if plan == nil {
		return NewPlanError(ErrCodePlanInvalid, "plan is nil", nil)
	}
	if plan.MaxConcurrent <= 0 {
		return NewPlanError(ErrCodePlanInvalid, "plan max_concurrent must be positive", nil)
	}
	if plan.Timeout <= 0 {
		return NewPlanError(ErrCodePlanInvalid, "plan timeout must be positive", nil)
	}

	var unknown []string
	seen := make(map[string]bool)
	lastRank := -1
	for _, w := range plan.Waves {
		rank := w.Priority.Rank()
		if rank < 0 || rank <= lastRank {
			return NewPlanError(ErrCodePlanInvalid,
				fmt.Sprintf("wave priority %q out of order", w.Priority), nil)
		}
		lastRank = rank
		for _, id := range w.StrategyIDs {
			// Each ID owns one execution record.
			if seen[id] {
				return NewPlanError(ErrCodePlanInvalid,
					fmt.Sprintf("strategy %q appears more than once in the plan", id), nil).
					ForStrategy(id)
			}
			seen[id] = true
			if _, ok := p.table.Lookup(id); !ok {
				unknown = append(unknown, id)
			}
		}
	}
	if len(unknown) > 0 {
		return NewUnknownStrategyError(unknown)
	}
	return nil
}
