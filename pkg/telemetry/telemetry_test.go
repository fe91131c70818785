package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "default", mutate: func(c *Config) {}},
		{name: "production", mutate: func(c *Config) { *c = *ProductionConfig() }},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, wantErr: true},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "empty buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEventPublisherDeliversToMatchingSubscribers(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:       true,
		BufferSize:    16,
		FlushInterval: 10 * time.Millisecond,
		MaxBatchSize:  4,
		EnableAsync:   true,
	})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}
	defer ep.Shutdown(context.Background())

	got := make(chan Event, 4)
	ep.Subscribe(func(e Event) { got <- e }, FilterByRunID("run-1"))

	if err := ep.Publish(Event{Type: "strategy.completed", RunID: "run-2"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := ep.Publish(Event{Type: "strategy.completed", RunID: "run-1", StrategyID: "arbitrage"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case e := <-got:
		if e.RunID != "run-1" || e.StrategyID != "arbitrage" {
			t.Errorf("unexpected event delivered: %+v", e)
		}
		if e.ID == "" || e.Timestamp.IsZero() || e.Level != EventLevelInfo {
			t.Errorf("event defaults not applied: %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}

	select {
	case e := <-got:
		t.Errorf("filtered event delivered: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventPublisherUnsubscribe(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 4, MaxBatchSize: 1})

	got := make(chan Event, 1)
	id := ep.Subscribe(func(e Event) { got <- e }, nil)
	ep.Unsubscribe(id)

	if err := ep.Publish(Event{Type: "wave.started"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case e := <-got:
		t.Errorf("unsubscribed handler received %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDisabledPublisherIsNoop(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: false})
	if id := ep.Subscribe(func(Event) {}, nil); id != "" {
		t.Errorf("Subscribe() on disabled publisher = %q, want empty", id)
	}
	if err := ep.Publish(Event{Type: "x"}); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	var nilPublisher *EventPublisher
	if err := nilPublisher.Publish(Event{}); err != nil {
		t.Errorf("nil Publish() error = %v", err)
	}
}

func TestFilters(t *testing.T) {
	e := Event{Type: "strategy.timeout", RunID: "r", StrategyID: "s", Level: EventLevelWarning}

	if !FilterByLevel(EventLevelInfo)(e) {
		t.Error("warning should pass info filter")
	}
	if FilterByLevel(EventLevelError)(e) {
		t.Error("warning should not pass error filter")
	}
	if !FilterByType("strategy.timeout", "strategy.failed")(e) {
		t.Error("type filter rejected matching type")
	}
	if !All(FilterByRunID("r"), nil, FilterByStrategyID("s"))(e) {
		t.Error("All() rejected matching event")
	}
	if All(FilterByRunID("r"), FilterByStrategyID("other"))(e) {
		t.Error("All() accepted non-matching event")
	}
}

func TestMetricsHandlerExposesOrchestrationSeries(t *testing.T) {
	cfg := DefaultConfig().Metrics
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordOrchestrationStarted()
	m.RecordStrategyExecution("arbitrage", "completed", 20*time.Millisecond)
	m.RecordSignals("arbitrage", "arbitrage", 3)
	m.RecordStrategyLoad("arbitrage", true)
	m.RecordOrchestrationCompleted("completed", 50*time.Millisecond, 3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		"sharpline_orchestrations_started_total",
		`sharpline_strategy_executions_total{status="completed",strategy="arbitrage"} 1`,
		`sharpline_strategy_signals_total{signal_type="arbitrage",strategy="arbitrage"} 3`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilAndDisabledMetricsAreNoops(t *testing.T) {
	var nilMetrics *Metrics
	nilMetrics.RecordOrchestrationStarted()
	nilMetrics.StrategyStarted()
	nilMetrics.RecordError("permanent", "LOAD_FAILED")

	disabled, _ := NewMetrics(MetricsConfig{Enabled: false})
	disabled.RecordStrategyExecution("x", "failed", time.Second)
	if disabled.Registry() != nil {
		t.Error("disabled metrics should have no registry")
	}

	rec := httptest.NewRecorder()
	disabled.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("disabled handler status = %d, want 404", rec.Code)
	}
}

func TestMetricsServerServesAndShutsDown(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.ListenAddress = "127.0.0.1:0"
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	if err := m.StartMetricsServer(); err != nil {
		t.Fatalf("StartMetricsServer() error = %v", err)
	}
	addr := m.Addr()
	if addr == "" {
		t.Fatal("Addr() is empty after StartMetricsServer")
	}
	if err := m.StartMetricsServer(); err != nil {
		t.Fatalf("second StartMetricsServer() error = %v", err)
	}
	if m.Addr() != addr {
		t.Errorf("second start rebound the server to %s, want %s", m.Addr(), addr)
	}

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + cfg.Path)
	if err != nil {
		t.Fatalf("GET %s: %v", cfg.Path, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if m.Addr() != "" {
		t.Errorf("Addr() after Shutdown = %q, want empty", m.Addr())
	}
	if _, err := client.Get("http://" + addr + cfg.Path); err == nil {
		t.Error("metrics server still answering after Shutdown")
	}
	if err := m.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestMetricsShutdownWithoutServer(t *testing.T) {
	var nilMetrics *Metrics
	if err := nilMetrics.Shutdown(context.Background()); err != nil {
		t.Errorf("nil Shutdown() error = %v", err)
	}
	disabled, _ := NewMetrics(MetricsConfig{Enabled: false})
	if err := disabled.StartMetricsServer(); err != nil {
		t.Errorf("disabled StartMetricsServer() error = %v", err)
	}
	if err := disabled.Shutdown(context.Background()); err != nil {
		t.Errorf("disabled Shutdown() error = %v", err)
	}
}

func TestTelemetryShutdownStopsMetricsServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.ListenAddress = "127.0.0.1:0"
	cfg.Events.EnableAsync = false
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		t.Fatalf("StartMetricsServer() error = %v", err)
	}
	if tel.Metrics.Addr() == "" {
		t.Fatal("metrics server not bound")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if tel.Metrics.Addr() != "" {
		t.Error("Telemetry.Shutdown left the metrics server running")
	}
}

func TestNilTracerStartsNoopSpans(t *testing.T) {
	var tr *Tracer
	ctx, span := tr.StartStrategySpan(context.Background(), "sharp_action", "exec-1")
	defer span.End()

	if ctx == nil {
		t.Fatal("context is nil")
	}
	if TraceID(ctx) != "" {
		t.Error("noop span should not carry a valid trace id")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestLoggerFields(t *testing.T) {
	var sb strings.Builder
	cfg := LoggingConfig{Level: "debug", Format: "json", Output: "stderr"}
	l, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	l = FromZerolog(l.Zerolog().Output(&sb))

	l.NewComponentLogger("orchestrator").WithRunID("run-9").WithStrategyID("arbitrage").Info("done")

	out := sb.String()
	for _, want := range []string{`"component":"orchestrator"`, `"run_id":"run-9"`, `"strategy_id":"arbitrage"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q missing %s", out, want)
		}
	}

	NewNopLogger().Info("discarded")
}
