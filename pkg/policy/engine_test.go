package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sharpline/sharpline/pkg/engine"
	"github.com/sharpline/sharpline/pkg/telemetry"
)

func newTestEngine(t *testing.T, opts EngineOptions) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop(), opts)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func testPlan(maxConcurrent int, timeout time.Duration, ids ...string) (*engine.ExecutionPlan, []engine.Descriptor) {
	plan := &engine.ExecutionPlan{
		ID:            "plan-1",
		MaxConcurrent: maxConcurrent,
		Timeout:       timeout,
		Waves:         []engine.Wave{{Priority: engine.PriorityNormal, StrategyIDs: ids}},
		Context:       map[string]interface{}{"sport": "nfl"},
	}
	descriptors := make([]engine.Descriptor, len(ids))
	for i, id := range ids {
		descriptors[i] = engine.Descriptor{
			ID:         id,
			Category:   "market_movement",
			SignalType: id,
			Lifecycle:  engine.LifecycleMigrated,
			Priority:   engine.PriorityNormal,
		}
	}
	return plan, descriptors
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t, EngineOptions{})

	policies := eng.ListPolicies()
	want := []string{"concurrency-ceiling", "legacy-pending", "plan-size", "timeout-bounds"}
	if len(policies) != len(want) {
		t.Fatalf("Expected %d built-in policies, got %d", len(want), len(policies))
	}
	for i, p := range policies {
		if p.Name != want[i] {
			t.Errorf("Expected policy %s at %d, got %s", want[i], i, p.Name)
		}
		if !p.Builtin || !p.Enabled {
			t.Errorf("Expected %s to be an enabled built-in", p.Name)
		}
	}

	if empty := newTestEngine(t, EngineOptions{DisableBuiltin: true}); len(empty.ListPolicies()) != 0 {
		t.Error("Expected no policies with built-ins disabled")
	}
}

func TestEvaluatePlan_Builtins(t *testing.T) {
	eng := newTestEngine(t, EngineOptions{})
	ctx := context.Background()

	many := make([]string, LargePlanStrategies+1)
	for i := range many {
		many[i] = "s" + strings.Repeat("x", i)
	}

	tests := []struct {
		name          string
		maxConcurrent int
		timeout       time.Duration
		ids           []string
		pending       bool
		wantAllowed   bool
		wantPolicy    string
		wantSeverity  string
	}{
		{"within limits", 5, 30 * time.Second, []string{"a", "b"}, false, true, "", ""},
		{"concurrency ceiling", 100, 30 * time.Second, []string{"a"}, false, false, "concurrency-ceiling", "error"},
		{"concurrency floor", 0, 30 * time.Second, []string{"a"}, false, false, "concurrency-ceiling", "error"},
		{"timeout too long", 5, 11 * time.Minute, []string{"a"}, false, false, "timeout-bounds", "error"},
		{"pending strategy", 5, 30 * time.Second, []string{"clv"}, true, true, "legacy-pending", "warning"},
		{"large plan", 5, 30 * time.Second, many, false, true, "plan-size", "warning"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, descriptors := testPlan(tt.maxConcurrent, tt.timeout, tt.ids...)
			if tt.pending {
				descriptors[0].Lifecycle = engine.LifecycleLegacyPending
			}

			decision, err := eng.EvaluatePlan(ctx, plan, descriptors)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if decision.Allowed != tt.wantAllowed {
				t.Errorf("Expected allowed=%v, got %v (%+v)", tt.wantAllowed, decision.Allowed, decision.Violations)
			}
			if tt.wantPolicy == "" {
				if len(decision.Violations) != 0 {
					t.Errorf("Expected no violations, got %+v", decision.Violations)
				}
				return
			}
			if len(decision.Violations) != 1 {
				t.Fatalf("Expected one violation, got %+v", decision.Violations)
			}
			v := decision.Violations[0]
			if v.Policy != tt.wantPolicy || v.Severity != tt.wantSeverity || v.Message == "" {
				t.Errorf("Unexpected violation %+v", v)
			}
		})
	}
}

func TestEvaluatePlan_RuleField(t *testing.T) {
	eng := newTestEngine(t, EngineOptions{})
	plan, descriptors := testPlan(0, time.Second, "a")

	decision, err := eng.EvaluatePlan(context.Background(), plan, descriptors)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(decision.Violations) != 1 || decision.Violations[0].Rule != "floor" {
		t.Errorf("Expected floor rule, got %+v", decision.Violations)
	}
}

func TestEvaluatePlan_PublishesViolations(t *testing.T) {
	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 10})
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}

	var mu sync.Mutex
	var got []telemetry.Event
	events.Subscribe(func(e telemetry.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}, telemetry.FilterByType("policy.violation"))

	eng := newTestEngine(t, EngineOptions{Events: events})
	plan, descriptors := testPlan(100, time.Second, "a")
	if _, err := eng.EvaluatePlan(context.Background(), plan, descriptors); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].PlanID != "plan-1" || got[0].Level != telemetry.EventLevelError {
		t.Errorf("Expected one error-level policy event, got %+v", got)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t, EngineOptions{})
	ctx := context.Background()
	plan, descriptors := testPlan(100, time.Second, "a")

	if err := eng.DisablePolicy("concurrency-ceiling"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	decision, err := eng.EvaluatePlan(ctx, plan, descriptors)
	if err != nil || !decision.Allowed {
		t.Errorf("Expected plan allowed with policy disabled, got %+v, %v", decision, err)
	}

	if err := eng.EnablePolicy("concurrency-ceiling"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	decision, err = eng.EvaluatePlan(ctx, plan, descriptors)
	if err != nil || decision.Allowed {
		t.Errorf("Expected plan denied with policy enabled, got %+v, %v", decision, err)
	}

	if err := eng.DisablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

const sportRego = `package custom.sport

import rego.v1

deny contains {"message": "college games are not traded", "severity": "critical"} if {
	input.context.sport == "ncaaf"
}
`

func TestReplaceUserPolicies(t *testing.T) {
	eng := newTestEngine(t, EngineOptions{})
	ctx := context.Background()

	err := eng.ReplaceUserPolicies(ctx, []Policy{{Name: "sport", Rego: sportRego, Enabled: true}})
	if err != nil {
		t.Fatalf("Failed to add policies: %v", err)
	}

	plan, descriptors := testPlan(5, time.Second, "a")
	plan.Context["sport"] = "ncaaf"
	decision, err := eng.EvaluatePlan(ctx, plan, descriptors)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if decision.Allowed || len(decision.Violations) != 1 || decision.Violations[0].Severity != "critical" {
		t.Errorf("Expected critical denial, got %+v", decision)
	}
	if p, err := eng.GetPolicy("sport"); err != nil || p.Severity != SeverityWarning {
		t.Errorf("Expected default warning severity, got %+v, %v", p, err)
	}

	// A failed replacement keeps the previous set.
	err = eng.ReplaceUserPolicies(ctx, []Policy{{Name: "broken", Rego: "package x\ndeny contains", Enabled: true}})
	if err == nil {
		t.Fatal("Expected compile error")
	}
	if _, err := eng.GetPolicy("sport"); err != nil {
		t.Error("Expected previous user policy to survive a failed reload")
	}

	if err := eng.ReplaceUserPolicies(ctx, nil); err != nil {
		t.Fatalf("Failed to clear policies: %v", err)
	}
	if _, err := eng.GetPolicy("sport"); err == nil {
		t.Error("Expected user policy removed")
	}
	if len(eng.ListPolicies()) != len(GetBuiltinPolicies()) {
		t.Error("Expected built-in policies to remain")
	}

	if err := eng.ReplaceUserPolicies(ctx, []Policy{{Name: "plan-size", Rego: sportRego}}); err == nil {
		t.Error("Expected conflict with a built-in name")
	}
}

func TestEvaluate_RuntimeError(t *testing.T) {
	eng := newTestEngine(t, EngineOptions{DisableBuiltin: true})
	ctx := context.Background()

	// Conflicting values for a complete rule fail at evaluation time.
	conflict := `package custom.conflict

import rego.v1

deny := {"a"} if input.plan.max_concurrent > 0
deny := {"b"} if input.plan.max_concurrent > 1
`
	if err := eng.AddPolicy(ctx, Policy{Name: "conflict", Rego: conflict, Enabled: true}); err != nil {
		t.Fatalf("Failed to add policy: %v", err)
	}

	plan, descriptors := testPlan(5, time.Second, "a")
	if _, err := eng.EvaluatePlan(ctx, plan, descriptors); err == nil {
		t.Error("Expected evaluation error")
	}
}

func TestLoadPolicies(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sport.rego"), []byte("# severity: error\n"+sportRego), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	eng := newTestEngine(t, EngineOptions{})
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}
	p, err := eng.GetPolicy("sport")
	if err != nil {
		t.Fatalf("Expected loaded policy, got %v", err)
	}
	if p.Builtin || p.Severity != SeverityError || p.Source == "" {
		t.Errorf("Unexpected loaded policy %+v", p)
	}
}

func TestBuildInput(t *testing.T) {
	plan, descriptors := testPlan(3, 1500*time.Millisecond, "a", "b")
	plan.Context = nil

	input := BuildInput(plan, descriptors)
	if input.Plan.TimeoutSeconds != 1.5 || input.Plan.TotalStrategies != 2 || input.Plan.MaxConcurrent != 3 {
		t.Errorf("Unexpected plan input %+v", input.Plan)
	}
	if len(input.Plan.Waves) != 1 || input.Plan.Waves[0].Priority != "normal" {
		t.Errorf("Unexpected waves %+v", input.Plan.Waves)
	}
	if len(input.Strategies) != 2 || input.Strategies[1].Lifecycle != "migrated" {
		t.Errorf("Unexpected strategies %+v", input.Strategies)
	}
	if input.Context == nil {
		t.Error("Expected empty context map")
	}
}
