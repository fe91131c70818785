package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
)

// ValidationErrors is returned when a configuration does not compile or does not satisfy
// its schema.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	msgs := make([]string, len(ve))
	for i, e := range ve {
		loc := e.File
		if e.Line > 0 {
			loc = fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column)
		}
		if loc != "" {
			msgs[i] = loc + ": " + e.Message
		} else {
			msgs[i] = e.Message
		}
	}
	return "config validation failed: " + strings.Join(msgs, "; ")
}

// CUEParser parses CUE configuration files against the built-in #Config schema.
type CUEParser struct {
	schemas *SchemaRegistry
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{schemas: NewSchemaRegistry()}
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemas
}

// ParseFile parses the CUE file at path.
func (cp *CUEParser) ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return cp.ParseConfig(path, data)
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(content string) (*Config, error) {
	return cp.ParseConfig("inline", []byte(content))
}

// ParseConfig compiles data, unifies it with #Config and decodes the result over
// DefaultConfig. Problems are returned as ValidationErrors.
func (cp *CUEParser) ParseConfig(name string, data []byte) (*Config, error) {
	val, err := cp.evaluate(name, data)
	if err != nil {
		return nil, err
	}

	out, err := val.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", name, err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(out, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return cfg, nil
}

// Check returns every problem in data without decoding it.
func (cp *CUEParser) Check(name string, data []byte) []ValidationError {
	_, err := cp.evaluate(name, data)
	if err == nil {
		return nil
	}
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return ve
	}
	return []ValidationError{{File: name, Message: err.Error(), Severity: "error"}}
}

// ExportJSON evaluates data and returns the concrete configuration as indented JSON.
func (cp *CUEParser) ExportJSON(name string, data []byte) ([]byte, error) {
	val, err := cp.evaluate(name, data)
	if err != nil {
		return nil, err
	}
	var decoded interface{}
	if err := val.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return json.MarshalIndent(decoded, "", "  ")
}

func (cp *CUEParser) evaluate(name string, data []byte) (cue.Value, error) {
	schema, ok := cp.schemas.GetSchema("config")
	if !ok {
		return cue.Value{}, fmt.Errorf("config schema not registered")
	}

	val := cp.schemas.Context().CompileBytes(data, cue.Filename(name))
	if err := val.Err(); err != nil {
		return cue.Value{}, ValidationErrors(cp.convertCUEErrors(err))
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, ValidationErrors(cp.convertCUEErrors(err))
	}
	return unified, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int
		for _, pos := range errors.Positions(e) {
			// Prefer the user's file over the schema the value was unified with.
			if strings.HasPrefix(pos.Filename(), schemaFilePrefix) && file != "" {
				continue
			}
			file, line, column = pos.Filename(), pos.Line(), pos.Column()
			if !strings.HasPrefix(file, schemaFilePrefix) {
				break
			}
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}
