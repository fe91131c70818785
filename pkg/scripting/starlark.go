// Package scripting runs user-supplied Starlark detectors against odds batches.
package scripting

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/sharpline/sharpline/pkg/telemetry"
)

// DefaultTimeout bounds a single evaluation when the caller sets none.
const DefaultTimeout = 30 * time.Second

// Result is the outcome of a script evaluation.
type Result struct {
	// Output holds every exported global, converted to Go values.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Steps is the number of Starlark computation steps executed.
	Steps uint64 `json:"steps"`
}

// Options configure a StarlarkEvaluator.
type Options struct {
	// Timeout bounds each evaluation in addition to the caller's context.
	Timeout time.Duration

	// MaxSteps aborts scripts after this many computation steps. Zero means unlimited.
	MaxSteps uint64

	// Builtins are added to the predeclared environment of every script.
	Builtins starlark.StringDict
}

// StarlarkEvaluator executes Starlark scripts with cancellation and step limits.
type StarlarkEvaluator struct {
	opts Options
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(opts Options) *StarlarkEvaluator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &StarlarkEvaluator{opts: opts}
}

// Evaluate executes script with input predeclared and returns its exported globals.
// The thread is cancelled when ctx is done or the evaluator timeout expires.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, name, script string, input map[string]interface{}) (*Result, error) {
	start := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, se.opts.Timeout)
	defer cancel()

	predeclared, err := se.predeclared(input)
	if err != nil {
		return nil, err
	}

	// print() output goes to the logger carried by ctx, if any.
	logger := telemetry.FromContext(ctx).WithField("script", name)
	thread := &starlark.Thread{
		Name:  name,
		Print: func(_ *starlark.Thread, msg string) { logger.Info(msg) },
	}
	if se.opts.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(se.opts.MaxSteps)
	}

	type outcome struct {
		globals starlark.StringDict
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		globals, err := starlark.ExecFile(thread, name, script, predeclared)
		done <- outcome{globals: globals, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-evalCtx.Done():
		thread.Cancel(evalCtx.Err().Error())
		out = <-done
		if out.err == nil {
			out.err = evalCtx.Err()
		}
	}
	if out.err != nil {
		if evalCtx.Err() != nil {
			return nil, fmt.Errorf("starlark execution cancelled: %w", evalCtx.Err())
		}
		return nil, fmt.Errorf("starlark execution failed: %w", out.err)
	}

	output := make(map[string]interface{}, len(out.globals))
	for gname, val := range out.globals {
		// Skip private globals and functions
		if gname == "" || gname[0] == '_' {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		goVal, err := FromStarlark(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", gname, err)
		}
		output[gname] = goVal
	}

	return &Result{
		Output:        output,
		ExecutionTime: time.Since(start),
		Steps:         thread.ExecutionSteps(),
	}, nil
}

func (se *StarlarkEvaluator) predeclared(input map[string]interface{}) (starlark.StringDict, error) {
	env := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
	for k, v := range se.opts.Builtins {
		env[k] = v
	}
	for key, val := range input {
		sv, err := ToStarlark(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		env[key] = sv
	}
	return env, nil
}

// ToStarlark converts a Go value to a Starlark value.
func ToStarlark(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case starlark.Value:
		return val, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int32:
		return starlark.MakeInt64(int64(val)), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float32:
		return starlark.Float(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", val)
		}
		return starlark.Float(f), nil
	case time.Time:
		return starlark.String(val.Format(time.RFC3339Nano)), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := ToStarlark(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case []map[string]interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := ToStarlark(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			sv, err := ToStarlark(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// FromStarlark converts a Starlark value to a Go value.
// Integers become int64 and floats become float64.
func FromStarlark(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := FromStarlark(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, item := range val {
			goItem, err := FromStarlark(item)
			if err != nil {
				return nil, err
			}
			list[i] = goItem
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := FromStarlark(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := FromStarlark(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

// FloatBuiltin wraps a float-to-float function as a one-argument Starlark builtin.
// Ints are accepted and converted.
func FloatBuiltin(name string, fn func(float64) (float64, error)) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
			return nil, err
		}
		f, ok := starlark.AsFloat(x)
		if !ok {
			return nil, fmt.Errorf("%s: got %s, want number", b.Name(), x.Type())
		}
		out, err := fn(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return starlark.Float(out), nil
	})
}
