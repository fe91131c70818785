package policy

// Limits enforced by the built-in policies.
const (
	MaxConcurrencyCeiling = 64
	MaxTimeoutSeconds     = 600
	LargePlanStrategies   = 50
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		concurrencyCeilingPolicy(),
		timeoutBoundsPolicy(),
		legacyPendingPolicy(),
		planSizePolicy(),
	}
}

// concurrencyCeilingPolicy rejects plans that would run too many strategies at once.
func concurrencyCeilingPolicy() Policy {
	return Policy{
		Name:        "concurrency-ceiling",
		Description: "Rejects plans whose max_concurrent exceeds 64",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"limits"},
		Rego: `package sharpline.policies.concurrency

import rego.v1

deny contains violation if {
	input.plan.max_concurrent > 64
	violation := {
		"message": sprintf("max_concurrent %d exceeds the ceiling of 64", [input.plan.max_concurrent]),
		"severity": "error",
		"rule": "ceiling",
	}
}

deny contains violation if {
	input.plan.max_concurrent < 1
	violation := {
		"message": "max_concurrent must be at least 1",
		"severity": "error",
		"rule": "floor",
	}
}`,
	}
}

// timeoutBoundsPolicy rejects strategy deadlines longer than ten minutes.
func timeoutBoundsPolicy() Policy {
	return Policy{
		Name:        "timeout-bounds",
		Description: "Rejects per-strategy timeouts above 600 seconds",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"limits"},
		Rego: `package sharpline.policies.timeout

import rego.v1

deny contains violation if {
	input.plan.timeout_seconds > 600
	violation := {
		"message": sprintf("timeout of %v seconds exceeds 600", [input.plan.timeout_seconds]),
		"severity": "error",
	}
}`,
	}
}

// legacyPendingPolicy warns when a plan names strategies that have no implementation yet.
func legacyPendingPolicy() Policy {
	return Policy{
		Name:        "legacy-pending",
		Description: "Warns about planned strategies that are still pending migration",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"migration"},
		Rego: `package sharpline.policies.legacy

import rego.v1

deny contains violation if {
	some s in input.strategies
	s.lifecycle == "legacy_pending"
	violation := {
		"message": sprintf("strategy %s is pending migration and will not run", [s.id]),
		"severity": "warning",
	}
}`,
	}
}

// planSizePolicy warns about very large plans.
func planSizePolicy() Policy {
	return Policy{
		Name:        "plan-size",
		Description: "Warns when a plan holds more than 50 strategies",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"limits"},
		Rego: `package sharpline.policies.size

import rego.v1

deny contains sprintf("plan has %d strategies, more than 50", [input.plan.total_strategies]) if {
	input.plan.total_strategies > 50
}`,
	}
}
