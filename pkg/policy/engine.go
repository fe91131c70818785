package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/sharpline/sharpline/pkg/engine"
	"github.com/sharpline/sharpline/pkg/telemetry"
)

// EngineOptions configures a policy engine.
type EngineOptions struct {
	// DisableBuiltin skips the built-in policies.
	DisableBuiltin bool

	// Events receives a policy.violation event for every finding. Optional.
	Events *telemetry.EventPublisher

	// Metrics counts findings by policy and severity. Optional.
	Metrics *telemetry.Metrics
}

// Engine evaluates execution plans against Rego admission policies.
// It implements engine.PlanPolicy.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
	events   *telemetry.EventPublisher
	metrics  *telemetry.Metrics
}

// compiledPolicy is a policy with its deny query prepared for reuse.
type compiledPolicy struct {
	policy   Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// Result is the outcome of evaluating one input against every enabled policy.
type Result struct {
	Allowed           bool                     `json:"allowed"`
	Violations        []engine.PolicyViolation `json:"violations,omitempty"`
	EvaluatedPolicies []string                 `json:"evaluated_policies"`
	Duration          time.Duration            `json:"duration"`
}

// NewEngine creates a new policy engine.
func NewEngine(logger zerolog.Logger, opts EngineOptions) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		events:   opts.Events,
		metrics:  opts.Metrics,
	}

	if !opts.DisableBuiltin {
		if err := e.loadBuiltinPolicies(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to load built-in policies: %w", err)
		}
	}

	return e, nil
}

// EvaluatePlan evaluates every enabled policy against the plan and its descriptors.
func (e *Engine) EvaluatePlan(ctx context.Context, plan *engine.ExecutionPlan, descriptors []engine.Descriptor) (*engine.PolicyDecision, error) {
	result, err := e.Evaluate(ctx, BuildInput(plan, descriptors))
	if err != nil {
		return nil, err
	}

	e.logger.Debug().
		Str("plan_id", plan.ID).
		Int("violations", len(result.Violations)).
		Bool("allowed", result.Allowed).
		Dur("duration", result.Duration).
		Msg("Plan policy evaluation completed")

	for _, v := range result.Violations {
		e.metrics.RecordPolicyViolation(v.Policy, v.Severity)
		_ = e.events.PublishPolicyViolation(plan.ID, v.Policy, v.Severity, v.Message)
	}

	return &engine.PolicyDecision{
		Allowed:    result.Allowed,
		Violations: result.Violations,
	}, nil
}

// Evaluate runs every enabled policy against input. A policy that fails to evaluate fails
// the whole evaluation.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true, EvaluatedPolicies: []string{}}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Msg("Policy evaluation failed")
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		for _, v := range violations {
			if Severity(v.Severity).Blocking() {
				result.Allowed = false
			}
		}
		result.Violations = append(result.Violations, violations...)
	}

	result.Duration = time.Since(startTime)
	return result, nil
}

// BuildInput converts a plan and its descriptors into the policy input document.
func BuildInput(plan *engine.ExecutionPlan, descriptors []engine.Descriptor) *Input {
	input := &Input{
		Plan: PlanInput{
			ID:              plan.ID,
			MaxConcurrent:   plan.MaxConcurrent,
			TimeoutSeconds:  plan.Timeout.Seconds(),
			TotalStrategies: plan.TotalStrategies(),
			Waves:           make([]WaveInput, len(plan.Waves)),
		},
		Strategies: make([]StrategyInput, len(descriptors)),
		Context:    plan.Context,
	}
	if input.Context == nil {
		input.Context = map[string]interface{}{}
	}
	for i, w := range plan.Waves {
		input.Plan.Waves[i] = WaveInput{Priority: string(w.Priority), StrategyIDs: w.StrategyIDs}
	}
	for i, d := range descriptors {
		input.Strategies[i] = StrategyInput{
			ID:         d.ID,
			Category:   d.Category,
			SignalType: d.SignalType,
			Lifecycle:  string(d.Lifecycle),
			Priority:   string(d.Priority),
		}
	}
	return input
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]engine.PolicyViolation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []engine.PolicyViolation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}

	// Set iteration order is not stable across evaluations.
	sort.SliceStable(violations, func(i, j int) bool { return violations[i].Message < violations[j].Message })
	return violations, nil
}

// createViolation creates a violation from one element of a deny set.
func createViolation(policy Policy, result interface{}) engine.PolicyViolation {
	violation := engine.PolicyViolation{
		Policy:   policy.Name,
		Severity: string(policy.Severity),
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok && Severity(sev).Valid() {
			violation.Severity = sev
		}
		if rule, ok := v["rule"].(string); ok {
			violation.Rule = rule
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compile parses a policy and prepares its deny query.
func compile(ctx context.Context, policy Policy) (*compiledPolicy, error) {
	if policy.Name == "" {
		return nil, fmt.Errorf("policy name is required")
	}
	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}
	if !policy.Severity.Valid() {
		return nil, fmt.Errorf("invalid severity %q", policy.Severity)
	}

	module, err := ast.ParseModule(policy.Name+".rego", policy.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if module == nil {
		return nil, fmt.Errorf("policy %s is empty", policy.Name)
	}

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	if policy.LoadedAt.IsZero() {
		policy.LoadedAt = time.Now()
	}
	return &compiledPolicy{policy: policy, query: query, compiled: time.Now()}, nil
}

// AddPolicy compiles and registers a policy, replacing any with the same name.
func (e *Engine) AddPolicy(ctx context.Context, policy Policy) error {
	cp, err := compile(ctx, policy)
	if err != nil {
		return fmt.Errorf("failed to compile policy %s: %w", policy.Name, err)
	}

	e.mu.Lock()
	e.policies[policy.Name] = cp
	e.mu.Unlock()

	e.logger.Debug().Str("policy", policy.Name).Msg("Policy compiled successfully")
	return nil
}

// ReplaceUserPolicies swaps every non-builtin policy for the given set. Nothing changes
// unless all of them compile.
func (e *Engine) ReplaceUserPolicies(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for _, p := range policies {
		if p.Builtin {
			return fmt.Errorf("policy %s: loaded policies cannot be marked builtin", p.Name)
		}
		if _, dup := compiled[p.Name]; dup {
			return fmt.Errorf("duplicate policy name %s", p.Name)
		}
		cp, err := compile(ctx, p)
		if err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
		compiled[p.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for name := range compiled {
		if existing, ok := e.policies[name]; ok && existing.policy.Builtin {
			return fmt.Errorf("policy %s conflicts with a built-in policy", name)
		}
	}
	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	for name, cp := range compiled {
		e.policies[name] = cp
	}

	e.logger.Info().Int("count", len(compiled)).Msg("Policies loaded successfully")
	return nil
}

// LoadPolicies loads policy files from paths and replaces the user policies with them.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.ReplaceUserPolicies(ctx, policies)
}

// Watch loads paths and keeps the user policies in sync with them until ctx is done.
func (e *Engine) Watch(ctx context.Context, paths []string) (*Loader, error) {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	if err := e.ReplaceUserPolicies(ctx, policies); err != nil {
		return nil, err
	}

	err = loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.ReplaceUserPolicies(ctx, policies)
	})
	if err != nil {
		return nil, err
	}
	return loader, nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := GetBuiltinPolicies()
	for _, p := range builtins {
		if err := e.AddPolicy(ctx, p); err != nil {
			return err
		}
	}

	e.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")
	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return Policy{}, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, e.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}
