package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sharpline/sharpline/pkg/telemetry"
)

// concurrencyTracker records how many processors run at once and the order they start and finish.
type concurrencyTracker struct {
	mu     sync.Mutex
	active int
	peak   int
	log    []string
}

func (c *concurrencyTracker) enter(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active++
	if c.active > c.peak {
		c.peak = c.active
	}
	c.log = append(c.log, "start:"+id)
}

func (c *concurrencyTracker) exit(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active--
	c.log = append(c.log, "end:"+id)
}

func (c *concurrencyTracker) peakValue() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peak
}

func (c *concurrencyTracker) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...)
}

// Mock processor for testing
type mockProcessor struct {
	id         string
	signalType string
	category   string
	delay      time.Duration
	ignoreCtx  bool
	err        error
	panicMsg   string
	signals    int
	unhealthy  bool
	tracker    *concurrencyTracker

	calls   atomic.Int32
	mu      sync.Mutex
	lastCtx map[string]interface{}
}

func (m *mockProcessor) Process(ctx context.Context, batch []Record, execCtx map[string]interface{}) ([]Signal, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.lastCtx = execCtx
	m.mu.Unlock()

	if m.tracker != nil {
		m.tracker.enter(m.id)
		defer m.tracker.exit(m.id)
	}
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}

	if m.delay > 0 {
		if m.ignoreCtx {
			time.Sleep(m.delay)
		} else {
			select {
			case <-time.After(m.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if m.err != nil {
		return nil, m.err
	}

	signals := make([]Signal, m.signals)
	for i := range signals {
		signals[i] = Signal{GameID: fmt.Sprintf("game-%d", i), Confidence: 0.5}
	}
	return signals, nil
}

func (m *mockProcessor) SignalType() string { return m.signalType }

func (m *mockProcessor) Category() string { return m.category }

func (m *mockProcessor) HealthCheck(ctx context.Context) HealthStatus {
	if m.unhealthy {
		return HealthStatus{Healthy: false, Message: "degraded"}
	}
	return HealthStatus{Healthy: true}
}

func (m *mockProcessor) execContext() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCtx
}

// Mock event publisher for testing
type mockEventPublisher struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (m *mockEventPublisher) Publish(event telemetry.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockEventPublisher) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

// Mock history sink for testing
type mockSink struct {
	mu      sync.Mutex
	results []*OrchestrationResult
	err     error
}

func (m *mockSink) SaveOrchestration(ctx context.Context, result *OrchestrationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
	return m.err
}

// Mock plan policy for testing
type mockPolicy struct {
	decision *PolicyDecision
	err      error
	calls    int
}

func (m *mockPolicy) EvaluatePlan(ctx context.Context, plan *ExecutionPlan, descriptors []Descriptor) (*PolicyDecision, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.decision, nil
}

func testDescriptor(id string, priority Priority, lifecycle LifecycleStatus, signalType string) Descriptor {
	return Descriptor{
		ID:          id,
		Category:    "test",
		SignalType:  signalType,
		Lifecycle:   lifecycle,
		Priority:    priority,
		Constructor: "mock:" + id,
	}
}

// testEngine bundles an orchestrator wired to mock processors.
type testEngine struct {
	table        *DescriptorTable
	constructors *ConstructorRegistry
	factory      *Factory
	planner      *Planner
	registry     *RunRegistry
	orch         *Orchestrator
	procs        map[string]*mockProcessor
	ctorCalls    map[string]*atomic.Int32
}

// newTestEngine registers one constructor per processor. Descriptors without a processor
// get a constructor that fails.
func newTestEngine(t *testing.T, descs []Descriptor, procs map[string]*mockProcessor, opts OrchestratorOptions) *testEngine {
	t.Helper()

	table, err := NewDescriptorTable(descs)
	if err != nil {
		t.Fatalf("Failed to build descriptor table: %v", err)
	}

	te := &testEngine{
		table:        table,
		constructors: NewConstructorRegistry(),
		procs:        procs,
		ctorCalls:    make(map[string]*atomic.Int32),
	}
	for _, d := range descs {
		if d.Constructor == "" {
			continue
		}
		id := d.ID
		counter := &atomic.Int32{}
		te.ctorCalls[id] = counter
		te.constructors.MustRegister(d.Constructor, func(params ConstructorParams) (Processor, error) {
			counter.Add(1)
			p, ok := procs[id]
			if !ok {
				return nil, fmt.Errorf("%s dependencies unavailable", id)
			}
			if p.id == "" {
				p.id = id
			}
			if p.signalType == "" {
				p.signalType = params.Descriptor.SignalType
			}
			return p, nil
		})
	}

	te.factory = NewFactory(table, te.constructors, FactoryOptions{})
	te.planner = NewPlanner(table, DefaultPlannerConfig(), nil)
	te.registry = NewRunRegistry(0, 0)
	te.orch = NewOrchestrator(te.factory, te.planner, te.registry, opts)

	if err := te.orch.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start orchestrator: %v", err)
	}
	return te
}
