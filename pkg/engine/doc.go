// Package engine provides the strategy execution core of Sharpline.
//
// # Overview
//
// A run takes a batch of odds records and a set of strategy identifiers through four stages:
//
//  1. Resolve - Map identifiers to live processor instances (Factory)
//  2. Plan - Group strategies into priority waves with concurrency and timeout limits (Planner)
//  3. Execute - Run waves in order, strategies within a wave concurrently (Orchestrator)
//  4. Record - Aggregate per-strategy outcomes and keep bounded history (RunRegistry)
//
// # Descriptors and Constructors
//
// Every strategy is described by an immutable Descriptor: identifier, category, signal type,
// lifecycle status and priority tier. The DescriptorTable is built once at startup and injected.
// Descriptors name a constructor key that is looked up in a ConstructorRegistry populated at
// program start, so no implementation is discovered by name at runtime.
//
// Lifecycle status tracks migration away from legacy implementations:
//
//   - migrated: The native implementation
//   - legacy_bridge: A wrapper around a legacy implementation
//   - legacy_pending: No implementation yet
//
// When loading in bulk, migrated strategies win over bridges with the same signal type.
//
// # Priority Waves
//
// Strategies execute in waves ordered critical, high, normal, low. A wave starts only after
// the previous wave finished. Within a wave at most ExecutionPlan.MaxConcurrent strategies
// are running at once.
//
// # Failure Isolation
//
// Each strategy runs under its own deadline derived from the run context. A strategy that
// cannot be resolved, returns an error, panics or exceeds its deadline is recorded as failed
// or timed out and the run continues. For every finished run:
//
//	Successful + Failed == TotalStrategies
//	TotalSignals == sum of record signal counts
//
// # Lifecycle
//
// Construction and startup are separate. NewOrchestrator only wires dependencies and Start
// performs preloading. Runs are rejected until Start has been called and after Shutdown.
//
//	orch := engine.NewOrchestrator(factory, planner, registry, engine.OrchestratorOptions{})
//	if err := orch.Start(ctx); err != nil {
//	    return err
//	}
//	defer orch.Shutdown(ctx)
//
//	result, err := orch.Execute(ctx, engine.Selector{"all"}, batch, engine.ExecutionContext{})
package engine
