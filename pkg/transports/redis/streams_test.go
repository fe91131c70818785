package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sharpline/sharpline/pkg/telemetry"
)

// fakeStreams records XADD calls in memory.
type fakeStreams struct {
	mu      sync.Mutex
	added   []*redis.XAddArgs
	streams map[string][]redis.XMessage
	addErr  error
	pingErr error
}

func newFakeStreams() *fakeStreams {
	return &fakeStreams{streams: make(map[string][]redis.XMessage)}
}

func (f *fakeStreams) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return redis.NewStringResult("", f.addErr)
	}
	f.added = append(f.added, a)
	values := a.Values.(map[string]interface{})
	id := time.Now().Format("150405.000000000")
	f.streams[a.Stream] = append(f.streams[a.Stream], redis.XMessage{ID: id, Values: values})
	return redis.NewStringResult(id, nil)
}

func (f *fakeStreams) XRevRangeN(ctx context.Context, stream, start, stop string, count int64) *redis.XMessageSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.streams[stream]
	var out []redis.XMessage
	for i := len(msgs) - 1; i >= 0 && int64(len(out)) < count; i-- {
		out = append(out, msgs[i])
	}
	return redis.NewXMessageSliceCmdResult(out, nil)
}

func (f *fakeStreams) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.pingErr)
}

func (f *fakeStreams) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added)
}

func TestEventGroup(t *testing.T) {
	tests := map[string]string{
		"strategy.completed":    "strategy",
		"orchestration.started": "orchestration",
		"policy.violation":      "policy",
		"custom":                "custom",
		"":                      "misc",
	}
	for in, want := range tests {
		if got := EventGroup(in); got != want {
			t.Errorf("EventGroup(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestForward(t *testing.T) {
	client := newFakeStreams()
	f := NewStreamsForwarder(client, Config{StreamPrefix: "test:events:", MaxLen: 500}, nil)

	event := telemetry.Event{ID: "e1", Type: "strategy.completed", RunID: "run-1", Level: "info", StrategyID: "arbitrage"}
	if err := f.Forward(context.Background(), event); err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if len(client.added) != 1 {
		t.Fatalf("expected one XADD, got %d", len(client.added))
	}
	args := client.added[0]
	if args.Stream != "test:events:strategy" {
		t.Errorf("unexpected stream %q", args.Stream)
	}
	if args.MaxLen != 500 || !args.Approx {
		t.Errorf("expected approximate cap of 500, got %d approx=%v", args.MaxLen, args.Approx)
	}

	values := args.Values.(map[string]interface{})
	if values["run_id"] != "run-1" || values["type"] != "strategy.completed" {
		t.Errorf("unexpected values %v", values)
	}
	var decoded telemetry.Event
	if err := json.Unmarshal([]byte(values["data"].(string)), &decoded); err != nil || decoded.StrategyID != "arbitrage" {
		t.Errorf("unexpected payload %v, %v", values["data"], err)
	}

	client.addErr = errors.New("connection refused")
	if err := f.Forward(context.Background(), event); err == nil {
		t.Error("expected XADD error to surface")
	}
}

func TestRecent(t *testing.T) {
	client := newFakeStreams()
	f := NewStreamsForwarder(client, Config{}, nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := f.Forward(ctx, telemetry.Event{ID: id, Type: "orchestration.completed"}); err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
	}
	client.streams[f.StreamKey("orchestration")] = append(client.streams[f.StreamKey("orchestration")],
		redis.XMessage{ID: "bad", Values: map[string]interface{}{"type": "x"}})

	events, err := f.Recent(ctx, "orchestration", 3)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(events) != 2 || events[0].ID != "c" || events[1].ID != "b" {
		t.Errorf("expected newest first [c b] after skipping the bad entry, got %+v", events)
	}
	if f.StreamKey("orchestration") != DefaultStreamPrefix+":orchestration" {
		t.Errorf("unexpected default stream key %s", f.StreamKey("orchestration"))
	}
}

func TestStartStop(t *testing.T) {
	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 16})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}

	client := newFakeStreams()
	f := NewStreamsForwarder(client, Config{}, telemetry.NewNopLogger())
	if err := f.Start(events); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := f.Start(events); err == nil {
		t.Error("expected second Start to fail")
	}

	for i := 0; i < 5; i++ {
		_ = events.Publish(telemetry.Event{Type: "strategy.started", RunID: "run-1"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := f.Stop(ctx); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}

	if client.count() != 5 {
		t.Errorf("expected 5 forwarded events, got %d", client.count())
	}
	written, dropped := f.Stats()
	if written != 5 || dropped != 0 {
		t.Errorf("unexpected stats written=%d dropped=%d", written, dropped)
	}

	// Events published after Stop are not forwarded.
	_ = events.Publish(telemetry.Event{Type: "strategy.started"})
	if client.count() != 5 {
		t.Error("expected no forwarding after Stop")
	}
}

func TestEnqueue_DropsWhenFull(t *testing.T) {
	f := NewStreamsForwarder(newFakeStreams(), Config{QueueSize: 1}, nil)
	f.enqueue(telemetry.Event{Type: "a.b"})
	f.enqueue(telemetry.Event{Type: "a.b"})

	if _, dropped := f.Stats(); dropped != 1 {
		t.Errorf("expected one dropped event, got %d", dropped)
	}
}

func TestHealthCheck(t *testing.T) {
	client := newFakeStreams()
	f := NewStreamsForwarder(client, Config{}, nil)
	if err := f.HealthCheck(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}
	client.pingErr = errors.New("down")
	if err := f.HealthCheck(context.Background()); err == nil {
		t.Error("expected ping error")
	}
}
