package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// schemaFilePrefix marks positions that belong to a registered schema.
const schemaFilePrefix = "schema:"

// SchemaRegistry manages CUE schemas for validation. Each schema is a compiled source
// and the definition inside it that values are unified with.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	for name, def := range map[string]string{
		"config":   "#Config",
		"engine":   "#Engine",
		"strategy": "#StrategyOverride",
	} {
		if err := sr.RegisterSchema(name, def, builtinConfigSchema); err != nil {
			panic(fmt.Sprintf("built-in schema %s: %v", name, err))
		}
	}
}

// Context returns the CUE context schemas are compiled in. Values unified with a schema
// must come from the same context.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// RegisterSchema compiles source and registers the definition at path under name.
func (sr *SchemaRegistry) RegisterSchema(name, path, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(schemaFilePrefix+name))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(path))
	if !def.Exists() {
		return fmt.Errorf("schema %s has no definition %s", name, path)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateOverride validates one strategy override against the strategy schema.
func (sr *SchemaRegistry) ValidateOverride(ctx context.Context, override map[string]interface{}) error {
	return sr.ValidateAgainstSchema(ctx, "strategy", override)
}

const builtinConfigSchema = `
#Config: {
	engine?: #Engine
	store?: {
		path?:      string & !=""
		retention?: int & >=0
		persist?:   bool
	}
	server?: {
		address?:               string & !=""
		read_timeout_seconds?:  number & >0
		write_timeout_seconds?: number & >0
		max_batch_size?:        int & >=1
	}
	redis?: {
		enabled?:       bool
		address?:       string
		password?:      string
		db?:            int & >=0
		stream_prefix?: string & !=""
		max_len?:       int & >=0
	}
	policy?: {
		enabled?:         bool
		paths?:           [...string]
		watch?:           bool
		disable_builtin?: bool
	}
	telemetry?: {
		service_name?:     string & !=""
		environment?:      string
		log_level?:        "trace" | "debug" | "info" | "warn" | "error" | "fatal"
		log_format?:       "console" | "json"
		tracing_enabled?:  bool
		tracing_exporter?: "otlp" | "stdout" | "none"
		tracing_endpoint?: string
		sampling_rate?:    number & >=0 & <=1
		metrics_enabled?:  bool
		metrics_address?:  string
	}
	strategies?: {[string]: #StrategyOverride}
}

#Engine: {
	max_concurrent?:        int & >=1
	global_max_concurrent?: int & >=1
	timeout_seconds?:       number & >0
	history_limit?:         int & >=1
	performance_window?:    int & >=1
	sequential?:            bool
	preload?:               bool
}

#StrategyOverride: {
	disabled?: bool
	priority?: "critical" | "high" | "normal" | "low"
	config?: {...}
}
`
