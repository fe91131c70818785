package strategies

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.starlark.net/starlark"

	"github.com/sharpline/sharpline/pkg/engine"
	"github.com/sharpline/sharpline/pkg/scripting"
)

// Script runs a Starlark detector. The script sees records, context and config as globals
// and reports results by assigning a list of dicts to signals.
type Script struct {
	base
	name      string
	source    string
	evaluator *scripting.StarlarkEvaluator
}

// NewScript is the constructor for the script strategy. It requires config.script or
// config.script_file.
func NewScript(p engine.ConstructorParams) (engine.Processor, error) {
	b := newBase(p)

	name := "inline.star"
	source := b.config.String("script")
	if path := b.config.String("script_file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read script: %w", err)
		}
		name, source = path, string(data)
	}
	if source == "" {
		return nil, fmt.Errorf("script strategy requires config.script or config.script_file")
	}

	maxSteps, err := b.intParam("max_steps", 0)
	if err != nil {
		return nil, err
	}
	if maxSteps < 0 {
		return nil, fmt.Errorf("max_steps must be >= 0, got %d", maxSteps)
	}
	timeout, err := b.floatParam("timeout_seconds", 0)
	if err != nil {
		return nil, err
	}

	return &Script{
		base:   b,
		name:   name,
		source: source,
		evaluator: scripting.NewStarlarkEvaluator(scripting.Options{
			Timeout:  time.Duration(timeout * float64(time.Second)),
			MaxSteps: uint64(maxSteps),
			Builtins: oddsBuiltins(),
		}),
	}, nil
}

// Process implements engine.Processor.
func (s *Script) Process(ctx context.Context, batch []engine.Record, execCtx map[string]interface{}) ([]engine.Signal, error) {
	config := make(map[string]interface{}, len(s.config))
	for k, v := range s.config {
		if k != "script" {
			config[k] = v
		}
	}

	result, err := s.evaluator.Evaluate(ctx, s.name, s.source, map[string]interface{}{
		"records": recordsToRows(batch),
		"context": execCtx,
		"config":  config,
	})
	if err != nil {
		return nil, err
	}

	raw, ok := result.Output["signals"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("signals must be a list, got %T", raw)
	}

	signals := make([]engine.Signal, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("signals[%d] must be a dict, got %T", i, item)
		}
		r := engine.Record(m)
		if r.String(FieldGameID) == "" {
			return nil, fmt.Errorf("signals[%d] is missing game_id", i)
		}
		confidence, _ := r.Float("confidence")
		edge, _ := r.Float("edge")
		sig := s.signal(r, confidence, edge, r.String("message"), nil)
		if meta, ok := m["metadata"].(map[string]interface{}); ok {
			sig.Metadata = meta
		}
		signals = append(signals, sig)
	}

	s.logger.WithFields(map[string]interface{}{
		"steps":   result.Steps,
		"signals": len(signals),
	}).Debug("script evaluated")
	return signals, nil
}

// oddsBuiltins exposes the odds helpers to scripts.
func oddsBuiltins() starlark.StringDict {
	return starlark.StringDict{
		"american_to_decimal": scripting.FloatBuiltin("american_to_decimal", func(x float64) (float64, error) {
			d, err := AmericanToDecimal(decimal.NewFromFloat(x))
			return d.InexactFloat64(), err
		}),
		"implied_probability": scripting.FloatBuiltin("implied_probability", func(x float64) (float64, error) {
			d, err := AmericanToDecimal(decimal.NewFromFloat(x))
			if err != nil {
				return 0, err
			}
			p, err := ImpliedProbability(d)
			return p.InexactFloat64(), err
		}),
	}
}
