package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/sharpline/sharpline/pkg/telemetry"
)

// FactoryOptions configures a Factory.
type FactoryOptions struct {
	// Repository is handed to every constructor.
	Repository Repository

	// Overrides are per-strategy config values layered over the descriptor base config.
	Overrides map[string]map[string]interface{}

	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
}

// Factory resolves strategy identifiers to live processor instances.
// Each identifier is constructed at most once and cached for the life of the factory.
type Factory struct {
	table        *DescriptorTable
	constructors *ConstructorRegistry
	repository   Repository
	overrides    map[string]map[string]interface{}
	logger       *telemetry.Logger
	metrics      *telemetry.Metrics

	group singleflight.Group

	mu         sync.RWMutex
	instances  map[string]Processor
	loadErrors map[string]error
	loaded     int
	failed     int
}

// NewFactory creates a factory over an immutable descriptor table.
func NewFactory(table *DescriptorTable, constructors *ConstructorRegistry, opts FactoryOptions) *Factory {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Factory{
		table:        table,
		constructors: constructors,
		repository:   opts.Repository,
		overrides:    opts.Overrides,
		logger:       logger.NewComponentLogger("factory"),
		metrics:      opts.Metrics,
		instances:    make(map[string]Processor),
		loadErrors:   make(map[string]error),
	}
}

// Table returns the descriptor table the factory resolves against.
func (f *Factory) Table() *DescriptorTable {
	return f.table
}

// Resolve returns the processor for id, constructing and caching it on first use.
// Unknown identifiers return an unknown-strategy error. Construction failures return a
// load error and are remembered, so later calls fail the same way without retrying.
func (f *Factory) Resolve(ctx context.Context, id string) (Processor, error) {
	desc, ok := f.table.Lookup(id)
	if !ok {
		return nil, NewUnknownStrategyError([]string{id})
	}

	if p, done, err := f.cached(id); done {
		return p, err
	}

	v, err, _ := f.group.Do(id, func() (interface{}, error) {
		if p, done, err := f.cached(id); done {
			return p, err
		}
		p, err := f.construct(desc)

		f.mu.Lock()
		if err != nil {
			f.loadErrors[id] = err
			f.failed++
		} else {
			f.instances[id] = p
			f.loaded++
		}
		f.mu.Unlock()

		f.metrics.RecordStrategyLoad(id, err == nil)
		if err != nil {
			f.logger.WithStrategyID(id).WithError(err).Warn("strategy failed to load")
			return nil, err
		}
		f.logger.WithStrategy(id, desc.Category, desc.SignalType).Debug("strategy loaded")
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Processor), nil
}

func (f *Factory) cached(id string) (Processor, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if p, ok := f.instances[id]; ok {
		return p, true, nil
	}
	if err, ok := f.loadErrors[id]; ok {
		return nil, true, err
	}
	return nil, false, nil
}

// construct invokes the registered constructor, converting panics into load errors.
func (f *Factory) construct(desc Descriptor) (p Processor, err error) {
	if desc.Constructor == "" {
		return nil, NewLoadError(desc.ID, fmt.Errorf("no implementation registered"))
	}
	fn, ok := f.constructors.Get(desc.Constructor)
	if !ok {
		return nil, NewLoadError(desc.ID, fmt.Errorf("constructor %q not registered", desc.Constructor))
	}

	defer func() {
		if r := recover(); r != nil {
			p = nil
			err = NewLoadError(desc.ID, fmt.Errorf("constructor panicked: %v", r))
		}
	}()

	p, err = fn(ConstructorParams{
		Descriptor: desc,
		Config:     f.mergedConfig(desc),
		Repository: f.repository,
		Logger:     f.logger.WithStrategy(desc.ID, desc.Category, desc.SignalType),
	})
	if err != nil {
		return nil, NewLoadError(desc.ID, err)
	}
	if p == nil {
		return nil, NewLoadError(desc.ID, fmt.Errorf("constructor returned nil processor"))
	}
	return p, nil
}

// mergedConfig layers identity fields and caller overrides over the descriptor base config.
func (f *Factory) mergedConfig(desc Descriptor) map[string]interface{} {
	cfg := make(map[string]interface{}, len(desc.Config)+4)
	for k, v := range desc.Config {
		cfg[k] = v
	}
	cfg["strategy_id"] = desc.ID
	cfg["category"] = desc.Category
	cfg["signal_type"] = desc.SignalType
	cfg["priority"] = string(desc.Priority)
	for k, v := range f.overrides[desc.ID] {
		cfg[k] = v
	}
	return cfg
}

// ResolveFilter narrows ResolveAll to a subset of the descriptor table.
// Empty slices match everything.
type ResolveFilter struct {
	Categories  []string
	SignalTypes []string
	Lifecycles  []LifecycleStatus
}

func (rf ResolveFilter) matches(d Descriptor) bool {
	return matchesAny(rf.Categories, d.Category) &&
		matchesAny(rf.SignalTypes, d.SignalType) &&
		matchesLifecycle(rf.Lifecycles, d.Lifecycle)
}

func (rf ResolveFilter) includesPending() bool {
	for _, l := range rf.Lifecycles {
		if l == LifecycleLegacyPending {
			return true
		}
	}
	return false
}

func matchesAny(values []string, v string) bool {
	if len(values) == 0 {
		return true
	}
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func matchesLifecycle(values []LifecycleStatus, v LifecycleStatus) bool {
	if len(values) == 0 {
		return true
	}
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// ResolveAll loads every strategy matching filter and returns the loaded instances.
// Migrated strategies load first. A legacy bridge is skipped when a migrated strategy
// with the same signal type loaded. Pending strategies load only when the filter names
// that lifecycle explicitly. Failures are recorded in Stats and never abort the sweep.
func (f *Factory) ResolveAll(ctx context.Context, filter ResolveFilter) map[string]Processor {
	candidates := f.table.filter(filter.matches)
	out := make(map[string]Processor, len(candidates))
	covered := make(map[string]bool)

	for _, d := range candidates {
		if d.Lifecycle != LifecycleMigrated {
			continue
		}
		if p, err := f.Resolve(ctx, d.ID); err == nil {
			out[d.ID] = p
			covered[d.SignalType] = true
		}
	}

	for _, d := range candidates {
		if d.Lifecycle != LifecycleLegacyBridge {
			continue
		}
		if covered[d.SignalType] {
			f.logger.WithStrategyID(d.ID).
				WithField("signal_type", d.SignalType).
				Debug("skipping legacy bridge, migrated strategy available")
			continue
		}
		if p, err := f.Resolve(ctx, d.ID); err == nil {
			out[d.ID] = p
		}
	}

	if filter.includesPending() {
		for _, d := range candidates {
			if d.Lifecycle != LifecycleLegacyPending {
				continue
			}
			if p, err := f.Resolve(ctx, d.ID); err == nil {
				out[d.ID] = p
			}
		}
	}

	return out
}

// IsLoaded reports whether id has a cached instance.
func (f *Factory) IsLoaded(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.instances[id]
	return ok
}

// LoadedIDs returns the IDs of cached instances, sorted.
func (f *Factory) LoadedIDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ids := make([]string, 0, len(f.instances))
	for id := range f.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadedByCategory returns the loaded instances in category.
func (f *Factory) LoadedByCategory(category string) map[string]Processor {
	return f.loadedWhere(func(d Descriptor) bool { return d.Category == category })
}

// LoadedBySignalType returns the loaded instances emitting signalType.
func (f *Factory) LoadedBySignalType(signalType string) map[string]Processor {
	return f.loadedWhere(func(d Descriptor) bool { return d.SignalType == signalType })
}

// LoadedByLifecycle returns the loaded instances in lifecycle status s.
func (f *Factory) LoadedByLifecycle(s LifecycleStatus) map[string]Processor {
	return f.loadedWhere(func(d Descriptor) bool { return d.Lifecycle == s })
}

func (f *Factory) loadedWhere(keep func(Descriptor) bool) map[string]Processor {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]Processor)
	for id, p := range f.instances {
		if d, ok := f.table.byID[id]; ok && keep(d) {
			out[id] = p
		}
	}
	return out
}

// FactoryStats summarizes construction outcomes.
type FactoryStats struct {
	Registered  int               `json:"registered"`
	Loaded      int               `json:"loaded"`
	Failed      int               `json:"failed"`
	SuccessRate float64           `json:"success_rate"`
	LoadedIDs   []string          `json:"loaded_ids"`
	LoadErrors  map[string]string `json:"load_errors,omitempty"`
}

// Stats returns construction counters. SuccessRate is loaded/(loaded+failed), or 0 when
// nothing has been attempted.
func (f *Factory) Stats() FactoryStats {
	ids := f.LoadedIDs()

	f.mu.RLock()
	defer f.mu.RUnlock()

	stats := FactoryStats{
		Registered: f.table.Len(),
		Loaded:     f.loaded,
		Failed:     f.failed,
		LoadedIDs:  ids,
	}
	if attempts := f.loaded + f.failed; attempts > 0 {
		stats.SuccessRate = float64(f.loaded) / float64(attempts)
	}
	if len(f.loadErrors) > 0 {
		stats.LoadErrors = make(map[string]string, len(f.loadErrors))
		for id, err := range f.loadErrors {
			stats.LoadErrors[id] = err.Error()
		}
	}
	return stats
}
