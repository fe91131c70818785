// Package redis forwards orchestration events to Redis Streams.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sharpline/sharpline/pkg/telemetry"
)

// DefaultStreamPrefix is prepended to every stream key.
const DefaultStreamPrefix = "sharpline:events"

// Config configures the Redis connection and stream layout.
type Config struct {
	Address  string
	Password string
	DB       int

	// StreamPrefix defaults to DefaultStreamPrefix.
	StreamPrefix string

	// MaxLen approximately caps each stream. Zero leaves streams uncapped.
	MaxLen int64

	// QueueSize bounds events waiting to be written. Defaults to 1024.
	QueueSize int

	// WriteTimeout bounds each XADD. Defaults to 2 seconds.
	WriteTimeout time.Duration
}

// streamClient is the subset of the go-redis client the forwarder uses.
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XRevRangeN(ctx context.Context, stream, start, stop string, count int64) *redis.XMessageSliceCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// NewClient creates a go-redis client from cfg.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// StreamsForwarder subscribes to an EventPublisher and appends each event to
// the stream for its type group, e.g. sharpline:events:strategy.
type StreamsForwarder struct {
	client       streamClient
	prefix       string
	maxLen       int64
	writeTimeout time.Duration
	logger       *telemetry.Logger

	mu      sync.Mutex
	events  *telemetry.EventPublisher
	subID   string
	queue   chan telemetry.Event
	done    chan struct{}
	stopped bool
	dropped atomic.Int64
	written atomic.Int64
}

// NewStreamsForwarder creates a forwarder writing through client.
func NewStreamsForwarder(client streamClient, cfg Config, logger *telemetry.Logger) *StreamsForwarder {
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = DefaultStreamPrefix
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}

	return &StreamsForwarder{
		client:       client,
		prefix:       strings.TrimSuffix(cfg.StreamPrefix, ":"),
		maxLen:       cfg.MaxLen,
		writeTimeout: cfg.WriteTimeout,
		logger:       logger.NewComponentLogger("redis-forwarder"),
		queue:        make(chan telemetry.Event, cfg.QueueSize),
	}
}

// EventGroup returns the stream group for an event type: the part before the first dot.
func EventGroup(eventType string) string {
	group, _, _ := strings.Cut(eventType, ".")
	if group == "" {
		return "misc"
	}
	return group
}

// StreamKey returns the stream key for a group.
func (f *StreamsForwarder) StreamKey(group string) string {
	return f.prefix + ":" + group
}

// Start subscribes to events and begins forwarding them in the background.
func (f *StreamsForwarder) Start(events *telemetry.EventPublisher) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done != nil || f.stopped {
		return fmt.Errorf("forwarder already started")
	}
	if events == nil {
		return fmt.Errorf("event publisher is required")
	}

	f.events = events
	f.done = make(chan struct{})
	f.subID = events.Subscribe(f.enqueue, nil)

	go f.run(f.queue, f.done)

	f.logger.WithField("prefix", f.prefix).Info("Forwarding events to Redis Streams")
	return nil
}

// enqueue never blocks the publisher; events are dropped when the queue is full.
func (f *StreamsForwarder) enqueue(event telemetry.Event) {
	defer func() {
		// The queue is closed once Stop has run.
		if recover() != nil {
			f.dropped.Add(1)
		}
	}()

	select {
	case f.queue <- event:
	default:
		if f.dropped.Add(1)%100 == 1 {
			f.logger.WithField("dropped", f.dropped.Load()).Warn("Redis forward queue full, dropping events")
		}
	}
}

func (f *StreamsForwarder) run(queue <-chan telemetry.Event, done chan<- struct{}) {
	defer close(done)

	for event := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), f.writeTimeout)
		if err := f.Forward(ctx, event); err != nil {
			f.logger.WithError(err).WithField("event_type", event.Type).Warn("Failed to forward event")
		}
		cancel()
	}
}

// Forward appends one event to its stream.
func (f *StreamsForwarder) Forward(ctx context.Context, event telemetry.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: f.StreamKey(EventGroup(event.Type)),
		Values: map[string]interface{}{
			"id":     event.ID,
			"type":   event.Type,
			"level":  event.Level,
			"run_id": event.RunID,
			"data":   string(data),
		},
	}
	if f.maxLen > 0 {
		args.MaxLen = f.maxLen
		args.Approx = true
	}

	if _, err := f.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream %s: %w", args.Stream, err)
	}
	f.written.Add(1)
	return nil
}

// Recent returns up to n events from a group's stream, newest first.
func (f *StreamsForwarder) Recent(ctx context.Context, group string, n int64) ([]telemetry.Event, error) {
	stream := f.StreamKey(group)
	messages, err := f.client.XRevRangeN(ctx, stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream %s: %w", stream, err)
	}

	events := make([]telemetry.Event, 0, len(messages))
	for _, msg := range messages {
		data, ok := msg.Values["data"].(string)
		if !ok {
			f.logger.WithField("message_id", msg.ID).Warn("Skipping stream entry without data")
			continue
		}
		var event telemetry.Event
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return nil, fmt.Errorf("failed to decode stream entry %s: %w", msg.ID, err)
		}
		events = append(events, event)
	}
	return events, nil
}

// HealthCheck pings Redis.
func (f *StreamsForwarder) HealthCheck(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

// Stats reports how many events were written and dropped.
func (f *StreamsForwarder) Stats() (written, dropped int64) {
	return f.written.Load(), f.dropped.Load()
}

// Stop unsubscribes and waits for queued events to be written or ctx to end.
func (f *StreamsForwarder) Stop(ctx context.Context) error {
	f.mu.Lock()
	if f.done == nil || f.stopped {
		done := f.done
		f.mu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	}
	f.stopped = true
	f.events.Unsubscribe(f.subID)
	close(f.queue)
	done := f.done
	f.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("redis forwarder shutdown: %w", ctx.Err())
	}
}
