package engine

import (
	"fmt"
	"strings"
)

// SelectorAll selects every registered strategy that would run under
// Factory.ResolveAll: covered legacy bridges and legacy pending entries are left out.
const SelectorAll = "all"

// Selector names the strategies an execute request targets.
//
// Accepted forms are explicit IDs or a single keyword expression:
//
//	all
//	category:<name>
//	priority:<tier>
//	signal:<type>
//	lifecycle:<status>
type Selector []string

// ParseSelector splits a comma-separated selector string.
func ParseSelector(s string) Selector {
	var out Selector
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Resolve expands the selector into strategy IDs against table.
// Explicit IDs are returned as given so the planner can report unknown ones.
//
// Keyword terms other than lifecycle: apply the lifecycle preference of
// Factory.ResolveAll. A legacy bridge is dropped when a migrated strategy with
// the same signal type is also selected, and legacy pending strategies are
// dropped. Naming a strategy explicitly or by lifecycle: always keeps it.
func (s Selector) Resolve(table *DescriptorTable) ([]string, error) {
	var picks []pick
	for _, term := range s {
		expanded, err := expandTerm(table, term)
		if err != nil {
			return nil, err
		}
		picks = append(picks, expanded...)
	}

	covered := make(map[string]bool)
	for _, p := range picks {
		if d, ok := table.Lookup(p.id); ok && d.Lifecycle == LifecycleMigrated {
			covered[d.SignalType] = true
		}
	}

	var ids []string
	for _, p := range picks {
		if p.preferred {
			d, _ := table.Lookup(p.id)
			switch {
			case d.Lifecycle == LifecycleLegacyPending:
				continue
			case d.Lifecycle == LifecycleLegacyBridge && covered[d.SignalType]:
				continue
			}
		}
		ids = append(ids, p.id)
	}
	return ids, nil
}

// pick is one expanded ID. preferred marks IDs that came from a keyword term
// and are subject to the lifecycle preference.
type pick struct {
	id        string
	preferred bool
}

func picksOf(descs []Descriptor, preferred bool) []pick {
	out := make([]pick, len(descs))
	for i, d := range descs {
		out[i] = pick{id: d.ID, preferred: preferred}
	}
	return out
}

func expandTerm(table *DescriptorTable, term string) ([]pick, error) {
	if term == SelectorAll {
		return picksOf(table.All(), true), nil
	}

	key, value, ok := strings.Cut(term, ":")
	if !ok {
		return []pick{{id: term}}, nil
	}

	switch key {
	case "category":
		descs := table.ByCategory(value)
		if len(descs) == 0 {
			return nil, NewPlanError(ErrCodeValidation,
				fmt.Sprintf("unknown category %q (known: %s)", value, strings.Join(table.Categories(), ", ")), nil)
		}
		return picksOf(descs, true), nil
	case "priority":
		p, err := ParsePriority(value)
		if err != nil {
			return nil, NewPlanError(ErrCodeValidation, "invalid priority selector", err)
		}
		return picksOf(table.ByPriority(p), true), nil
	case "signal":
		return picksOf(table.BySignalType(value), true), nil
	case "lifecycle":
		l := LifecycleStatus(strings.ToLower(value))
		if err := l.Validate(); err != nil {
			return nil, NewPlanError(ErrCodeValidation, "invalid lifecycle selector", err)
		}
		return picksOf(table.ByLifecycle(l), false), nil
	default:
		return nil, NewPlanError(ErrCodeValidation, fmt.Sprintf("unknown selector keyword %q", key), nil)
	}
}
