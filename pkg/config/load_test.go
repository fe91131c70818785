package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sharpline/sharpline/pkg/engine"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}

	pc := cfg.PlannerConfig()
	if pc.DefaultMaxConcurrent != 5 || pc.GlobalMaxConcurrent != 20 || pc.DefaultTimeout != 30*time.Second {
		t.Errorf("unexpected planner config %+v", pc)
	}
	if err := cfg.TelemetryConfig().Validate(); err != nil {
		t.Errorf("expected telemetry config to validate, got %v", err)
	}
}

func TestLoad_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "sharpline.yaml", `
engine:
  max_concurrent: 3
  timeout_seconds: 1.5
strategies:
  steam_move:
    priority: high
    config:
      min_books: 4
`},
		{"toml", "sharpline.toml", `
[engine]
max_concurrent = 3
timeout_seconds = 1.5

[strategies.steam_move]
priority = "high"

[strategies.steam_move.config]
min_books = 4
`},
		{"json", "sharpline.json", `{
  "engine": {"max_concurrent": 3, "timeout_seconds": 1.5},
  "strategies": {"steam_move": {"priority": "high", "config": {"min_books": 4}}}
}`},
		{"cue", "sharpline.cue", `
engine: {
	max_concurrent:  3
	timeout_seconds: 1.5
}
strategies: steam_move: {
	priority: "high"
	config: min_books: 4
}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.file, tt.content))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Engine.MaxConcurrent != 3 {
				t.Errorf("expected max_concurrent 3, got %d", cfg.Engine.MaxConcurrent)
			}
			if cfg.StrategyTimeout() != 1500*time.Millisecond {
				t.Errorf("expected 1.5s timeout, got %v", cfg.StrategyTimeout())
			}
			if cfg.Engine.HistoryLimit != engine.DefaultHistoryLimit {
				t.Errorf("expected default history limit, got %d", cfg.Engine.HistoryLimit)
			}
			override := cfg.Strategies["steam_move"]
			if override.Priority != "high" {
				t.Errorf("expected priority override, got %q", override.Priority)
			}
			if books, ok := engine.Record(override.Config).Float("min_books"); !ok || books != 4 {
				t.Errorf("expected min_books 4, got %v", override.Config["min_books"])
			}
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{"unknown extension", "sharpline.ini", "", "unsupported config format"},
		{"unknown yaml field", "c.yaml", "engine:\n  workers: 2\n", "failed to parse yaml"},
		{"unknown toml key", "c.toml", "[engine]\nworkers = 2\n", "unknown keys"},
		{"unknown json field", "c.json", `{"engine": {"workers": 2}}`, "failed to parse json"},
		{"invalid yaml", "c.yaml", "engine: [1, 2", "failed to parse yaml"},
		{"constraint", "c.yaml", "engine:\n  max_concurrent: 0\n", "MaxConcurrent failed min"},
		{"global below default", "c.json", `{"engine": {"max_concurrent": 30}}`, "GlobalMaxConcurrent failed gtefield"},
		{"bad log level", "c.yaml", "telemetry:\n  log_level: loud\n", "LogLevel failed oneof"},
		{"bad override priority", "c.yaml", "strategies:\n  arbitrage:\n    priority: urgent\n", "Priority failed oneof"},
		{"redis without address", "c.json", `{"redis": {"enabled": true, "address": ""}}`, "Address failed required_if"},
		{"cue schema", "c.cue", "server: max_batch_size: 0", "config validation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("SHARPLINE_ENGINE_MAX_CONCURRENT", "7")
	t.Setenv("SHARPLINE_STORE_PATH", ":memory:")
	t.Setenv("SHARPLINE_POLICY_PATHS", "/etc/sharpline/a.rego,/etc/sharpline/b.rego")
	t.Setenv("SHARPLINE_LOG_LEVEL", "debug")

	path := writeConfig(t, "c.yaml", "engine:\n  max_concurrent: 3\nstore:\n  path: runs.db\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.MaxConcurrent != 7 {
		t.Errorf("expected environment to win, got %d", cfg.Engine.MaxConcurrent)
	}
	if cfg.Store.Path != ":memory:" {
		t.Errorf("expected :memory:, got %s", cfg.Store.Path)
	}
	if len(cfg.Policy.Paths) != 2 || cfg.Policy.Paths[1] != "/etc/sharpline/b.rego" {
		t.Errorf("expected two policy paths, got %v", cfg.Policy.Paths)
	}
	if cfg.TelemetryConfig().Logging.Level != "debug" {
		t.Errorf("expected debug logging, got %s", cfg.TelemetryConfig().Logging.Level)
	}

	t.Setenv("SHARPLINE_ENGINE_MAX_CONCURRENT", "lots")
	if _, err := Load(""); err == nil {
		t.Error("expected error for non-numeric environment value")
	}
}

func TestConfig_BuildDescriptors(t *testing.T) {
	defaults := []engine.Descriptor{
		{ID: "a", SignalType: "x", Priority: engine.PriorityNormal, Lifecycle: engine.LifecycleMigrated,
			Config: map[string]interface{}{"k": 1, "keep": true}},
		{ID: "b", SignalType: "y", Priority: engine.PriorityLow, Lifecycle: engine.LifecycleMigrated},
		{ID: "c", SignalType: "z", Priority: engine.PriorityLow, Lifecycle: engine.LifecycleLegacyPending},
	}

	cfg := DefaultConfig()
	cfg.Strategies = map[string]StrategyOverride{
		"a": {Priority: "CRITICAL", Config: map[string]interface{}{"k": 2}},
		"c": {Disabled: true},
	}

	descs, err := cfg.BuildDescriptors(defaults)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(descs) != 2 || descs[0].ID != "a" || descs[1].ID != "b" {
		t.Fatalf("expected [a b], got %v", engine.IDsOf(descs))
	}
	if descs[0].Priority != engine.PriorityCritical {
		t.Errorf("expected critical, got %s", descs[0].Priority)
	}
	if descs[0].Config["k"] != 2 || descs[0].Config["keep"] != true {
		t.Errorf("expected merged config, got %v", descs[0].Config)
	}
	if defaults[0].Config["k"] != 1 {
		t.Error("expected defaults untouched")
	}

	cfg.Strategies = map[string]StrategyOverride{"ghost": {}, "phantom": {}}
	if _, err := cfg.BuildDescriptors(defaults); err == nil || !strings.Contains(err.Error(), "ghost, phantom") {
		t.Errorf("expected unknown strategies listed, got %v", err)
	}
}
