// Package strategies contains the built-in odds analysis strategies and their descriptors.
package strategies

import (
	"context"
	"fmt"

	"github.com/sharpline/sharpline/pkg/engine"
	"github.com/sharpline/sharpline/pkg/telemetry"
)

// Constructor keys.
const (
	KeyArbitrage           = "arbitrage"
	KeySharpAction         = "sharp_action"
	KeySharpActionLegacy   = "sharp_action_legacy"
	KeyReverseLineMovement = "reverse_line_movement"
	KeyLineMovement        = "line_movement"
	KeySteamMove           = "steam_move"
	KeyScript              = "script"
)

// Register adds every built-in constructor to reg.
func Register(reg *engine.ConstructorRegistry) error {
	constructors := map[string]engine.Constructor{
		KeyArbitrage:           NewArbitrage,
		KeySharpAction:         NewSharpAction,
		KeySharpActionLegacy:   NewSharpActionLegacy,
		KeyReverseLineMovement: NewReverseLineMovement,
		KeyLineMovement:        NewLineMovement,
		KeySteamMove:           NewSteamMove,
		KeyScript:              NewScript,
	}
	for _, key := range []string{
		KeyArbitrage, KeySharpAction, KeySharpActionLegacy, KeyReverseLineMovement,
		KeyLineMovement, KeySteamMove, KeyScript,
	} {
		if err := reg.Register(key, constructors[key]); err != nil {
			return fmt.Errorf("failed to register %s: %w", key, err)
		}
	}
	return nil
}

// NewRegistry returns a constructor registry holding every built-in strategy.
func NewRegistry() (*engine.ConstructorRegistry, error) {
	reg := engine.NewConstructorRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// DefaultDescriptors returns the stock descriptor set.
func DefaultDescriptors() []engine.Descriptor {
	return []engine.Descriptor{
		{
			ID:             "arbitrage",
			Category:       "market_efficiency",
			SignalType:     "arbitrage",
			Lifecycle:      engine.LifecycleMigrated,
			Priority:       engine.PriorityCritical,
			Constructor:    KeyArbitrage,
			MigrationPhase: "phase-1",
			Description:    "Cross-book prices whose implied probabilities sum below one",
			Config:         map[string]interface{}{"min_margin": 0.0},
		},
		{
			ID:             "sharp_action",
			Category:       "betting_flow",
			SignalType:     "sharp_action",
			Lifecycle:      engine.LifecycleMigrated,
			Priority:       engine.PriorityHigh,
			Constructor:    KeySharpAction,
			MigrationPhase: "phase-1",
			Description:    "Handle share well above ticket share",
			Config:         map[string]interface{}{"min_divergence": 15.0, "min_money_pct": 50.0},
		},
		{
			ID:             "sharp_action_legacy",
			Category:       "betting_flow",
			SignalType:     "sharp_action",
			Lifecycle:      engine.LifecycleLegacyBridge,
			Priority:       engine.PriorityHigh,
			Constructor:    KeySharpActionLegacy,
			MigrationPhase: "phase-1",
			Description:    "Ratio-based sharp money detector behind a bridge",
			Config:         map[string]interface{}{"min_ratio": 1.5},
		},
		{
			ID:             "reverse_line_movement",
			Category:       "betting_flow",
			SignalType:     "reverse_line_movement",
			Lifecycle:      engine.LifecycleMigrated,
			Priority:       engine.PriorityHigh,
			Constructor:    KeyReverseLineMovement,
			MigrationPhase: "phase-2",
			Description:    "Price moving against the heavily bet side",
			Config:         map[string]interface{}{"public_threshold": 65.0, "min_move": 0.02},
		},
		{
			ID:             "line_movement",
			Category:       "market_movement",
			SignalType:     "line_movement",
			Lifecycle:      engine.LifecycleMigrated,
			Priority:       engine.PriorityNormal,
			Constructor:    KeyLineMovement,
			MigrationPhase: "phase-2",
			Description:    "Spread or total moved from the opening number",
			Config:         map[string]interface{}{"min_points": 1.0},
		},
		{
			ID:             "steam_move",
			Category:       "market_movement",
			SignalType:     "steam_move",
			Lifecycle:      engine.LifecycleLegacyBridge,
			Priority:       engine.PriorityNormal,
			Constructor:    KeySteamMove,
			MigrationPhase: "phase-2",
			Description:    "Several books moving the same side together",
			Config:         map[string]interface{}{"min_books": 3, "min_move": 0.015},
		},
		{
			ID:             "closing_line_value",
			Category:       "performance",
			SignalType:     "clv",
			Lifecycle:      engine.LifecycleLegacyPending,
			Priority:       engine.PriorityLow,
			MigrationPhase: "phase-3",
			Description:    "Closing line value tracking, not yet migrated",
		},
		{
			ID:             "script",
			Category:       "custom",
			SignalType:     "custom",
			Lifecycle:      engine.LifecycleMigrated,
			Priority:       engine.PriorityLow,
			Constructor:    KeyScript,
			MigrationPhase: "phase-2",
			Description:    "User supplied Starlark detector",
		},
	}
}

// base carries the identity shared by every built-in processor.
type base struct {
	id         string
	category   string
	signalType string
	config     engine.Record
	logger     *telemetry.Logger
}

func newBase(p engine.ConstructorParams) base {
	logger := p.Logger
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return base{
		id:         p.Descriptor.ID,
		category:   p.Descriptor.Category,
		signalType: p.Descriptor.SignalType,
		config:     engine.Record(p.Config),
		logger:     logger,
	}
}

func (b base) SignalType() string { return b.signalType }

func (b base) Category() string { return b.category }

func (b base) HealthCheck(ctx context.Context) engine.HealthStatus {
	return engine.HealthStatus{
		Healthy: true,
		Details: map[string]interface{}{"strategy_id": b.id},
	}
}

// float returns a numeric config value or def when absent.
func (b base) floatParam(key string, def float64) (float64, error) {
	v, ok := b.config[key]
	if !ok || v == nil {
		return def, nil
	}
	f, ok := b.config.Float(key)
	if !ok {
		return 0, fmt.Errorf("config %s: expected number, got %T", key, v)
	}
	return f, nil
}

func (b base) intParam(key string, def int) (int, error) {
	f, err := b.floatParam(key, float64(def))
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("config %s: expected integer, got %v", key, f)
	}
	return int(f), nil
}

func (b base) signal(r engine.Record, confidence, edge float64, message string, meta map[string]interface{}) engine.Signal {
	return engine.Signal{
		StrategyID: b.id,
		SignalType: b.signalType,
		GameID:     r.String(FieldGameID),
		Market:     r.String(FieldMarket),
		Selection:  r.String(FieldSelection),
		Book:       r.String(FieldBook),
		Confidence: clamp01(confidence),
		Edge:       edge,
		Message:    message,
		Metadata:   meta,
	}
}
