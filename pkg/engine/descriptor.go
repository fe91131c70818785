package engine

import (
	"fmt"
	"sort"
)

// Descriptor is the static metadata for one registered strategy.
type Descriptor struct {
	// ID is the unique strategy identifier.
	ID string `json:"id" yaml:"id"`

	// Category groups related strategies (betting_flow, market_movement, ...).
	Category string `json:"category" yaml:"category"`

	// SignalType is the kind of signal the strategy emits.
	SignalType string `json:"signal_type" yaml:"signal_type"`

	// Lifecycle is the migration status of the implementation.
	Lifecycle LifecycleStatus `json:"lifecycle" yaml:"lifecycle"`

	// Priority selects the execution wave.
	Priority Priority `json:"priority" yaml:"priority"`

	// Constructor is the key into the ConstructorRegistry. Empty means no implementation exists.
	Constructor string `json:"constructor,omitempty" yaml:"constructor,omitempty"`

	// MigrationPhase is a free-form tag used by the migration report.
	MigrationPhase string `json:"migration_phase,omitempty" yaml:"migration_phase,omitempty"`

	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Config is the base configuration handed to the constructor.
	Config map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
}

// Validate checks the descriptor fields.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("descriptor id is required")
	}
	if d.SignalType == "" {
		return fmt.Errorf("descriptor %s: signal_type is required", d.ID)
	}
	if err := d.Lifecycle.Validate(); err != nil {
		return fmt.Errorf("descriptor %s: %w", d.ID, err)
	}
	if err := d.Priority.Validate(); err != nil {
		return fmt.Errorf("descriptor %s: %w", d.ID, err)
	}
	return nil
}

// clone returns a copy whose Config map is not shared.
func (d Descriptor) clone() Descriptor {
	if d.Config != nil {
		cfg := make(map[string]interface{}, len(d.Config))
		for k, v := range d.Config {
			cfg[k] = v
		}
		d.Config = cfg
	}
	return d
}

// DescriptorTable is the immutable set of registered strategies.
// It is built once and injected into the factory and planner.
type DescriptorTable struct {
	order []string
	byID  map[string]Descriptor
}

// NewDescriptorTable validates descriptors and builds a table preserving their order.
func NewDescriptorTable(descriptors []Descriptor) (*DescriptorTable, error) {
	t := &DescriptorTable{
		order: make([]string, 0, len(descriptors)),
		byID:  make(map[string]Descriptor, len(descriptors)),
	}
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return nil, NewPermanentError("invalid strategy descriptor", err).
				WithCode(ErrCodeValidation)
		}
		if _, exists := t.byID[d.ID]; exists {
			return nil, NewPermanentError("duplicate strategy descriptor", nil).
				WithCode(ErrCodeAlreadyExists).
				ForStrategy(d.ID)
		}
		t.order = append(t.order, d.ID)
		t.byID[d.ID] = d.clone()
	}
	return t, nil
}

// Len returns the number of registered strategies.
func (t *DescriptorTable) Len() int {
	return len(t.order)
}

// Lookup returns the descriptor for id.
func (t *DescriptorTable) Lookup(id string) (Descriptor, bool) {
	d, ok := t.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	return d.clone(), true
}

// IDs returns every strategy ID in registration order.
func (t *DescriptorTable) IDs() []string {
	return append([]string(nil), t.order...)
}

// All returns every descriptor in registration order.
func (t *DescriptorTable) All() []Descriptor {
	return t.filter(func(Descriptor) bool { return true })
}

// ByCategory returns descriptors in the given category.
func (t *DescriptorTable) ByCategory(category string) []Descriptor {
	return t.filter(func(d Descriptor) bool { return d.Category == category })
}

// ByPriority returns descriptors in the given tier.
func (t *DescriptorTable) ByPriority(p Priority) []Descriptor {
	return t.filter(func(d Descriptor) bool { return d.Priority == p })
}

// BySignalType returns descriptors emitting the given signal type.
func (t *DescriptorTable) BySignalType(signalType string) []Descriptor {
	return t.filter(func(d Descriptor) bool { return d.SignalType == signalType })
}

// ByLifecycle returns descriptors in the given lifecycle status.
func (t *DescriptorTable) ByLifecycle(s LifecycleStatus) []Descriptor {
	return t.filter(func(d Descriptor) bool { return d.Lifecycle == s })
}

// Categories returns the distinct categories, sorted.
func (t *DescriptorTable) Categories() []string {
	seen := make(map[string]struct{})
	for _, d := range t.byID {
		seen[d.Category] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (t *DescriptorTable) filter(keep func(Descriptor) bool) []Descriptor {
	var out []Descriptor
	for _, id := range t.order {
		d := t.byID[id]
		if keep(d) {
			out = append(out, d.clone())
		}
	}
	return out
}

// IDsOf extracts the IDs of descriptors.
func IDsOf(descriptors []Descriptor) []string {
	ids := make([]string, len(descriptors))
	for i, d := range descriptors {
		ids[i] = d.ID
	}
	return ids
}
