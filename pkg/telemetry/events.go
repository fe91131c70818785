package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one lifecycle notification from the orchestrator, the planner or the
// policy engine. It is also the payload streamed to websocket and redis consumers.
type Event struct {
	ID         string                 `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	Type       string                 `json:"type"`
	Source     string                 `json:"source"`
	RunID      string                 `json:"run_id,omitempty"`
	PlanID     string                 `json:"plan_id,omitempty"`
	StrategyID string                 `json:"strategy_id,omitempty"`
	Message    string                 `json:"message"`
	Level      string                 `json:"level"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var (
	errPublisherStopped = errors.New("event publisher stopped")
	errBufferFull       = errors.New("event buffer full, event dropped")
)

// EventSubscriber is called for every matching event. It runs on the delivery
// path and must not block.
type EventSubscriber func(event Event)

// EventFilter selects the events a subscriber sees.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. With EnableAsync events are queued
// and delivered in batches by one goroutine; otherwise Publish delivers inline.
// A nil or disabled publisher accepts and drops everything.
type EventPublisher struct {
	config EventsConfig
	queue  chan Event

	mu   sync.RWMutex
	subs map[string]subscription

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.BufferSize < 0 {
		return nil, fmt.Errorf("event buffer size must not be negative, got %d", cfg.BufferSize)
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ep := &EventPublisher{
		config: cfg,
		queue:  make(chan Event, cfg.BufferSize),
		subs:   make(map[string]subscription),
		done:   make(chan struct{}),
	}
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.dispatch()
	}
	return ep, nil
}

// Enabled reports whether events are delivered at all.
func (ep *EventPublisher) Enabled() bool {
	return ep != nil && ep.config.Enabled
}

// Publish fills in the id, timestamp and level when missing and hands the event
// to subscribers. In async mode it fails instead of blocking when the queue is full.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.Enabled() {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	if !ep.config.EnableAsync {
		ep.deliver(event)
		return nil
	}
	select {
	case <-ep.done:
		return errPublisherStopped
	default:
	}
	select {
	case ep.queue <- event:
		return nil
	default:
		return errBufferFull
	}
}

// PublishPolicyViolation reports a plan admission finding. Blocking severities are
// published at error level.
func (ep *EventPublisher) PublishPolicyViolation(planID, policyName, severity, reason string) error {
	level := EventLevelWarning
	if severity == "error" || severity == "critical" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:    "policy.violation",
		Source:  "policy_engine",
		PlanID:  planID,
		Message: fmt.Sprintf("plan %s violates %s: %s", planID, policyName, reason),
		Level:   level,
		Data: map[string]interface{}{
			"policy":   policyName,
			"severity": severity,
			"reason":   reason,
		},
	})
}

// Subscribe registers fn and returns the id to unsubscribe with. A nil filter
// matches every event. Disabled publishers return "".
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) string {
	if !ep.Enabled() {
		return ""
	}
	id := uuid.NewString()
	ep.mu.Lock()
	ep.subs[id] = subscription{fn: fn, filter: filter}
	ep.mu.Unlock()
	return id
}

func (ep *EventPublisher) Unsubscribe(id string) {
	if !ep.Enabled() {
		return
	}
	ep.mu.Lock()
	delete(ep.subs, id)
	ep.mu.Unlock()
}

func (ep *EventPublisher) SubscriberCount() int {
	if !ep.Enabled() {
		return 0
	}
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	return len(ep.subs)
}

func (ep *EventPublisher) dispatch() {
	defer ep.wg.Done()

	interval := ep.config.FlushInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, e := range batch {
			ep.deliver(e)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-ep.queue:
			batch = append(batch, e)
			if len(batch) >= ep.config.MaxBatchSize || len(ep.queue) == 0 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ep.done:
			for {
				select {
				case e := <-ep.queue:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	subs := make([]subscription, 0, len(ep.subs))
	for _, s := range ep.subs {
		subs = append(subs, s)
	}
	ep.mu.RUnlock()

	for _, s := range subs {
		if s.filter == nil || s.filter(event) {
			s.fn(event)
		}
	}
}

// Shutdown stops accepting events and waits for queued ones to be delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.Enabled() {
		return nil
	}
	ep.stopOnce.Do(func() { close(ep.done) })

	drained := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

var levelRank = map[string]int{
	EventLevelInfo:    0,
	EventLevelWarning: 1,
	EventLevelError:   2,
}

// FilterByLevel passes events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	floor := levelRank[minLevel]
	return func(e Event) bool { return levelRank[e.Level] >= floor }
}

func FilterByType(types ...string) EventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := set[e.Type]
		return ok
	}
}

func FilterByRunID(runID string) EventFilter {
	return func(e Event) bool { return e.RunID == runID }
}

func FilterByStrategyID(strategyID string) EventFilter {
	return func(e Event) bool { return e.StrategyID == strategyID }
}

// All passes events accepted by every filter. Nil filters are skipped.
func All(filters ...EventFilter) EventFilter {
	return func(e Event) bool {
		for _, f := range filters {
			if f != nil && !f(e) {
				return false
			}
		}
		return true
	}
}
