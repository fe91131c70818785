package config

import (
	"context"
	"reflect"
	"testing"
)

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	want := []string{"config", "engine", "strategy"}
	if got := sr.ListSchemas(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected schemas %v, got %v", want, got)
	}
	for _, name := range want {
		schema, ok := sr.GetSchema(name)
		if !ok {
			t.Fatalf("built-in schema %s not found", name)
		}
		if schema.Err() != nil {
			t.Errorf("built-in schema %s has errors: %v", name, schema.Err())
		}
	}
}

func TestSchemaRegistry_RegisterSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("book", "#Book", `#Book: {name: string, limit: int & >0}`); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}
	ctx := context.Background()
	if err := sr.ValidateAgainstSchema(ctx, "book", map[string]interface{}{"name": "pinnacle", "limit": 500}); err != nil {
		t.Errorf("expected valid book, got %v", err)
	}
	if err := sr.ValidateAgainstSchema(ctx, "book", map[string]interface{}{"name": "pinnacle", "limit": 0}); err == nil {
		t.Error("expected limit constraint to fail")
	}

	if err := sr.RegisterSchema("bad", "#Bad", `#Bad: {`); err == nil {
		t.Error("expected compile error")
	}
	if err := sr.RegisterSchema("missing", "#Missing", `#Other: {}`); err == nil {
		t.Error("expected error for missing definition")
	}
	if err := sr.ValidateAgainstSchema(ctx, "nope", nil); err == nil {
		t.Error("expected error for unknown schema")
	}
}

func TestSchemaRegistry_ValidateOverride(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	tests := []struct {
		name     string
		override map[string]interface{}
		wantErr  bool
	}{
		{"empty", map[string]interface{}{}, false},
		{"priority", map[string]interface{}{"priority": "high"}, false},
		{"config", map[string]interface{}{"config": map[string]interface{}{"min_books": 4}}, false},
		{"bad priority", map[string]interface{}{"priority": "urgent"}, true},
		{"bad disabled", map[string]interface{}{"disabled": "yes"}, true},
		{"unknown field", map[string]interface{}{"weight": 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateOverride(ctx, tt.override)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOverride() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
