package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCUEParser_ParseInline(t *testing.T) {
	parser := NewCUEParser()

	tests := []struct {
		name      string
		content   string
		wantErr   bool
		checkFunc func(*testing.T, *Config)
	}{
		{
			name: "engine and overrides",
			content: `
engine: {
	max_concurrent:  8
	timeout_seconds: 2.5
}
strategies: {
	steam_move: config: min_books: 4
	closing_line_value: disabled: true
}
`,
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Engine.MaxConcurrent != 8 || cfg.Engine.TimeoutSeconds != 2.5 {
					t.Errorf("unexpected engine config %+v", cfg.Engine)
				}
				if cfg.Engine.GlobalMaxConcurrent != 20 {
					t.Errorf("expected default global cap to survive, got %d", cfg.Engine.GlobalMaxConcurrent)
				}
				if cfg.Strategies["steam_move"].Config["min_books"] != 4.0 {
					t.Errorf("expected steam_move override, got %v", cfg.Strategies["steam_move"])
				}
				if !cfg.Strategies["closing_line_value"].Disabled {
					t.Error("expected closing_line_value disabled")
				}
			},
		},
		{
			name:    "empty",
			content: "",
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Store.Path != "sharpline.db" {
					t.Errorf("expected defaults, got %+v", cfg.Store)
				}
			},
		},
		{
			name: "computed values",
			content: `
_base: 4
engine: {
	max_concurrent:        _base
	global_max_concurrent: _base * 4
}
`,
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Engine.GlobalMaxConcurrent != 16 {
					t.Errorf("expected 16, got %d", cfg.Engine.GlobalMaxConcurrent)
				}
			},
		},
		{name: "syntax error", content: "engine: {", wantErr: true},
		{name: "range violation", content: "engine: max_concurrent: 0", wantErr: true},
		{name: "type mismatch", content: `engine: timeout_seconds: "soon"`, wantErr: true},
		{name: "unknown field", content: "engine: workers: 3", wantErr: true},
		{name: "bad priority", content: `strategies: arbitrage: priority: "urgent"`, wantErr: true},
		{name: "incomplete value", content: "engine: max_concurrent: int", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parser.ParseInline(tt.content)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseInline() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var ve ValidationErrors
				if !errors.As(err, &ve) || len(ve) == 0 {
					t.Errorf("expected ValidationErrors, got %T", err)
				}
				return
			}
			tt.checkFunc(t, cfg)
		})
	}
}

func TestCUEParser_ErrorPositions(t *testing.T) {
	parser := NewCUEParser()

	problems := parser.Check("bad.cue", []byte("engine: {\n\tmax_concurrent: -1\n}\n"))
	if len(problems) == 0 {
		t.Fatal("expected at least one problem")
	}
	if problems[0].File != "bad.cue" || problems[0].Line == 0 {
		t.Errorf("expected position in bad.cue, got %+v", problems[0])
	}
	if problems[0].Severity != "error" {
		t.Errorf("expected error severity, got %s", problems[0].Severity)
	}
	if !strings.Contains(ValidationErrors(problems).Error(), "bad.cue:") {
		t.Errorf("expected location in message, got %q", ValidationErrors(problems).Error())
	}

	if problems := parser.Check("ok.cue", []byte("engine: preload: true")); len(problems) != 0 {
		t.Errorf("expected no problems, got %v", problems)
	}
}

func TestCUEParser_ParseFile(t *testing.T) {
	parser := NewCUEParser()

	path := filepath.Join(t.TempDir(), "sharpline.cue")
	if err := os.WriteFile(path, []byte("store: path: \"/tmp/runs.db\"\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := parser.ParseFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Path != "/tmp/runs.db" {
		t.Errorf("expected store path, got %s", cfg.Store.Path)
	}

	if _, err := parser.ParseFile(filepath.Join(t.TempDir(), "missing.cue")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCUEParser_ExportJSON(t *testing.T) {
	parser := NewCUEParser()

	out, err := parser.ExportJSON("inline", []byte("_n: 3\nengine: history_limit: _n * 10"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]map[string]interface{}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("invalid json %s: %v", out, err)
	}
	if decoded["engine"]["history_limit"] != 30.0 {
		t.Errorf("expected history_limit 30, got %v", decoded["engine"])
	}
	if _, ok := decoded["_n"]; ok {
		t.Error("expected hidden fields to be omitted")
	}
}
