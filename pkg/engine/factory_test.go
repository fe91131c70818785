package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestFactory_Resolve_Idempotent(t *testing.T) {
	descs := []Descriptor{testDescriptor("a", PriorityHigh, LifecycleMigrated, "a")}
	te := newTestEngine(t, descs, map[string]*mockProcessor{"a": {}}, OrchestratorOptions{})

	ctx := context.Background()
	var wg sync.WaitGroup
	results := make([]Processor, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := te.factory.Resolve(ctx, "a")
			if err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
			results[i] = p
		}(i)
	}
	wg.Wait()

	for i, p := range results {
		if p != results[0] {
			t.Errorf("Expected the same instance at %d", i)
		}
	}
	if calls := te.ctorCalls["a"].Load(); calls != 1 {
		t.Errorf("Expected constructor called once, got %d", calls)
	}

	stats := te.factory.Stats()
	if stats.Loaded != 1 || stats.Failed != 0 {
		t.Errorf("Expected 1 loaded and 0 failed, got %+v", stats)
	}
}

func TestFactory_Resolve_Unknown(t *testing.T) {
	te := newTestEngine(t, nil, nil, OrchestratorOptions{})

	_, err := te.factory.Resolve(context.Background(), "nope")
	if !IsUnknownStrategy(err) {
		t.Fatalf("Expected unknown strategy error, got %v", err)
	}
	if ids := UnknownStrategyIDs(err); len(ids) != 1 || ids[0] != "nope" {
		t.Errorf("Expected [nope], got %v", ids)
	}
}

func TestFactory_Resolve_LoadFailureCached(t *testing.T) {
	descs := []Descriptor{testDescriptor("broken", PriorityHigh, LifecycleMigrated, "a")}
	te := newTestEngine(t, descs, map[string]*mockProcessor{}, OrchestratorOptions{})

	ctx := context.Background()
	_, err1 := te.factory.Resolve(ctx, "broken")
	_, err2 := te.factory.Resolve(ctx, "broken")

	if !IsLoadError(err1) || !IsLoadError(err2) {
		t.Fatalf("Expected load errors, got %v and %v", err1, err2)
	}
	if calls := te.ctorCalls["broken"].Load(); calls != 1 {
		t.Errorf("Expected constructor called once, got %d", calls)
	}

	stats := te.factory.Stats()
	if stats.Failed != 1 || stats.Loaded != 0 {
		t.Errorf("Expected 1 failed, got %+v", stats)
	}
	if stats.LoadErrors["broken"] == "" {
		t.Error("Expected load error recorded")
	}
	if stats.SuccessRate != 0 {
		t.Errorf("Expected success rate 0, got %f", stats.SuccessRate)
	}
}

func TestFactory_Resolve_ConstructorProblems(t *testing.T) {
	noImpl := testDescriptor("no_impl", PriorityLow, LifecycleLegacyPending, "x")
	noImpl.Constructor = ""
	unregistered := testDescriptor("unregistered", PriorityLow, LifecycleMigrated, "y")
	unregistered.Constructor = "does-not-exist"

	table, err := NewDescriptorTable([]Descriptor{
		noImpl,
		unregistered,
		testDescriptor("panics", PriorityLow, LifecycleMigrated, "z"),
		testDescriptor("nil", PriorityLow, LifecycleMigrated, "w"),
	})
	if err != nil {
		t.Fatalf("Failed to build table: %v", err)
	}

	reg := NewConstructorRegistry()
	reg.MustRegister("mock:panics", func(ConstructorParams) (Processor, error) { panic("bad wiring") })
	reg.MustRegister("mock:nil", func(ConstructorParams) (Processor, error) { return nil, nil })

	factory := NewFactory(table, reg, FactoryOptions{})
	for _, id := range []string{"no_impl", "unregistered", "panics", "nil"} {
		t.Run(id, func(t *testing.T) {
			p, err := factory.Resolve(context.Background(), id)
			if p != nil {
				t.Error("Expected no processor")
			}
			if !IsLoadError(err) {
				t.Errorf("Expected load error, got %v", err)
			}
		})
	}

	if stats := factory.Stats(); stats.Failed != 4 {
		t.Errorf("Expected 4 failures, got %d", stats.Failed)
	}
}

func TestFactory_Resolve_MergedConfig(t *testing.T) {
	desc := testDescriptor("a", PriorityHigh, LifecycleMigrated, "sharp_action")
	desc.Config = map[string]interface{}{"threshold": 0.1, "books": 3}

	table, _ := NewDescriptorTable([]Descriptor{desc})
	reg := NewConstructorRegistry()

	var got map[string]interface{}
	reg.MustRegister("mock:a", func(params ConstructorParams) (Processor, error) {
		got = params.Config
		return &mockProcessor{}, nil
	})

	factory := NewFactory(table, reg, FactoryOptions{
		Overrides: map[string]map[string]interface{}{"a": {"threshold": 0.25}},
	})
	if _, err := factory.Resolve(context.Background(), "a"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if got["threshold"] != 0.25 {
		t.Errorf("Expected override threshold 0.25, got %v", got["threshold"])
	}
	if got["books"] != 3 {
		t.Errorf("Expected base books 3, got %v", got["books"])
	}
	if got["strategy_id"] != "a" || got["signal_type"] != "sharp_action" || got["priority"] != "high" {
		t.Errorf("Expected identity fields, got %v", got)
	}

	// The descriptor table must not see the merged values.
	d, _ := table.Lookup("a")
	if d.Config["threshold"] != 0.1 {
		t.Errorf("Expected descriptor config unchanged, got %v", d.Config["threshold"])
	}
}

func TestFactory_ResolveAll_PrefersMigrated(t *testing.T) {
	pending := testDescriptor("clv", PriorityLow, LifecycleLegacyPending, "clv")
	descs := []Descriptor{
		testDescriptor("sharp_legacy", PriorityHigh, LifecycleLegacyBridge, "sharp_action"),
		testDescriptor("sharp", PriorityHigh, LifecycleMigrated, "sharp_action"),
		testDescriptor("steam", PriorityNormal, LifecycleLegacyBridge, "steam_move"),
		pending,
	}
	procs := map[string]*mockProcessor{"sharp_legacy": {}, "sharp": {}, "steam": {}, "clv": {}}
	te := newTestEngine(t, descs, procs, OrchestratorOptions{})

	loaded := te.factory.ResolveAll(context.Background(), ResolveFilter{})
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 loaded, got %v", te.factory.LoadedIDs())
	}
	if _, ok := loaded["sharp"]; !ok {
		t.Error("Expected migrated sharp loaded")
	}
	if _, ok := loaded["steam"]; !ok {
		t.Error("Expected bridge steam loaded, no migrated alternative")
	}
	if te.factory.IsLoaded("sharp_legacy") {
		t.Error("Expected bridge with a migrated alternative to be skipped")
	}
	if te.factory.IsLoaded("clv") {
		t.Error("Expected pending strategy excluded by default")
	}
}

func TestFactory_ResolveAll_BridgeFallback(t *testing.T) {
	descs := []Descriptor{
		testDescriptor("sharp", PriorityHigh, LifecycleMigrated, "sharp_action"),
		testDescriptor("sharp_legacy", PriorityHigh, LifecycleLegacyBridge, "sharp_action"),
	}
	// sharp has no processor so its constructor fails.
	te := newTestEngine(t, descs, map[string]*mockProcessor{"sharp_legacy": {}}, OrchestratorOptions{})

	loaded := te.factory.ResolveAll(context.Background(), ResolveFilter{})
	if _, ok := loaded["sharp_legacy"]; !ok || len(loaded) != 1 {
		t.Errorf("Expected bridge fallback, got %v", te.factory.LoadedIDs())
	}

	stats := te.factory.Stats()
	if stats.Loaded != 1 || stats.Failed != 1 || stats.SuccessRate != 0.5 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestFactory_ResolveAll_Filters(t *testing.T) {
	a := testDescriptor("a", PriorityHigh, LifecycleMigrated, "a")
	a.Category = "betting_flow"
	b := testDescriptor("b", PriorityHigh, LifecycleMigrated, "b")
	b.Category = "market_movement"
	p := testDescriptor("p", PriorityLow, LifecycleLegacyPending, "p")
	p.Category = "performance"

	procs := map[string]*mockProcessor{"a": {}, "b": {}, "p": {}}
	te := newTestEngine(t, []Descriptor{a, b, p}, procs, OrchestratorOptions{})

	loaded := te.factory.ResolveAll(context.Background(), ResolveFilter{Categories: []string{"betting_flow"}})
	if len(loaded) != 1 || loaded["a"] == nil {
		t.Errorf("Expected only a, got %v", loaded)
	}

	loaded = te.factory.ResolveAll(context.Background(), ResolveFilter{
		Lifecycles: []LifecycleStatus{LifecycleLegacyPending},
	})
	if len(loaded) != 1 || loaded["p"] == nil {
		t.Errorf("Expected pending p when named, got %v", loaded)
	}

	if got := te.factory.LoadedByCategory("betting_flow"); len(got) != 1 {
		t.Errorf("Expected 1 loaded in betting_flow, got %d", len(got))
	}
	if got := te.factory.LoadedBySignalType("p"); len(got) != 1 {
		t.Errorf("Expected 1 loaded with signal p, got %d", len(got))
	}
	if got := te.factory.LoadedByLifecycle(LifecycleMigrated); len(got) != 1 {
		t.Errorf("Expected 1 loaded migrated, got %d", len(got))
	}
}

func TestFactory_Stats_Empty(t *testing.T) {
	descs := []Descriptor{testDescriptor("a", PriorityHigh, LifecycleMigrated, "a")}
	te := newTestEngine(t, descs, map[string]*mockProcessor{"a": {}}, OrchestratorOptions{})

	stats := te.factory.Stats()
	if stats.Registered != 1 || stats.Loaded != 0 || stats.Failed != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if stats.SuccessRate != 0 {
		t.Errorf("Expected success rate 0 with no attempts, got %f", stats.SuccessRate)
	}
	if len(stats.LoadedIDs) != 0 {
		t.Errorf("Expected no loaded ids, got %v", stats.LoadedIDs)
	}
}

func TestConstructorRegistry_Register(t *testing.T) {
	reg := NewConstructorRegistry()
	fn := func(ConstructorParams) (Processor, error) { return &mockProcessor{}, nil }

	if err := reg.Register("b", fn); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := reg.Register("a", fn); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	err := reg.Register("a", fn)
	var engErr *EngineError
	if !errors.As(err, &engErr) || engErr.Code != ErrCodeAlreadyExists {
		t.Errorf("Expected ALREADY_EXISTS, got %v", err)
	}
	if err := reg.Register("", fn); ErrorCode(err) != ErrCodeValidation {
		t.Errorf("Expected VALIDATION_ERROR for empty key, got %v", err)
	}
	if err := reg.Register("c", nil); ErrorCode(err) != ErrCodeValidation {
		t.Errorf("Expected VALIDATION_ERROR for nil constructor, got %v", err)
	}

	if keys := reg.Keys(); len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Expected sorted keys [a b], got %v", keys)
	}
	if _, ok := reg.Get("missing"); ok {
		t.Error("Expected missing key not found")
	}
}
