// Package policy admits or rejects execution plans with Open Policy Agent.
//
// Policies are Rego modules that define a deny set. Each element of the set is
// either a message string or an object:
//
//	deny contains {"message": "...", "severity": "error", "rule": "ceiling"} if { ... }
//
// Findings with severity error or critical reject the plan. Warnings and info
// findings are attached to the plan and execution proceeds.
//
// The input document has three fields:
//
//	input.plan        id, max_concurrent, timeout_seconds, total_strategies, waves
//	input.strategies  id, category, signal_type, lifecycle and priority for each planned strategy
//	input.context     the request context values
//
// Built-in policies cap concurrency and per-strategy timeouts and warn about
// large plans and strategies still pending migration. User policies are loaded
// from .rego files, JSON policy files and JSON bundles:
//
//	eng, err := policy.NewEngine(logger, policy.EngineOptions{})
//	if err != nil {
//	    return err
//	}
//	loader, err := eng.Watch(ctx, []string{"/etc/sharpline/policies"})
//
// Engine implements engine.PlanPolicy so it can be passed to engine.NewPlanner.
package policy
