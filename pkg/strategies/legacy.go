package strategies

import (
	"context"
	"fmt"

	"github.com/sharpline/sharpline/pkg/engine"
)

// legacyDetector is the shape of the pre-processor detectors: plain rows in, alert maps out.
// Alerts carry game, market, side, book, strength (0-100) and note.
type legacyDetector func(rows []map[string]interface{}, params map[string]interface{}) []map[string]interface{}

// Bridge adapts a legacy detector to the processor contract.
type Bridge struct {
	base
	detect legacyDetector
}

func newBridge(p engine.ConstructorParams, detect legacyDetector) *Bridge {
	return &Bridge{base: newBase(p), detect: detect}
}

// Process implements engine.Processor. Legacy detectors are not cancellable, so the context
// is only checked before and after the call.
func (b *Bridge) Process(ctx context.Context, batch []engine.Record, execCtx map[string]interface{}) ([]engine.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	alerts := b.detect(recordsToRows(batch), b.config)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	signals := make([]engine.Signal, 0, len(alerts))
	for _, a := range alerts {
		alert := engine.Record(a)
		strength, _ := alert.Float("strength")
		signals = append(signals, engine.Signal{
			StrategyID: b.id,
			SignalType: b.signalType,
			GameID:     alert.String("game"),
			Market:     alert.String("market"),
			Selection:  alert.String("side"),
			Book:       alert.String("book"),
			Confidence: clamp01(strength / 100),
			Message:    alert.String("note"),
			Metadata:   map[string]interface{}{"legacy": true, "strength": strength},
		})
	}
	return signals, nil
}

// HealthCheck marks the processor as bridged.
func (b *Bridge) HealthCheck(ctx context.Context) engine.HealthStatus {
	status := b.base.HealthCheck(ctx)
	status.Details["bridge"] = true
	return status
}

// NewSharpActionLegacy wraps the ratio-based sharp money detector.
func NewSharpActionLegacy(p engine.ConstructorParams) (engine.Processor, error) {
	b := newBase(p)
	if _, err := b.floatParam("min_ratio", 1.5); err != nil {
		return nil, err
	}
	return newBridge(p, legacySharpRatio), nil
}

// NewSteamMove wraps the multi-book steam detector.
func NewSteamMove(p engine.ConstructorParams) (engine.Processor, error) {
	b := newBase(p)
	books, err := b.intParam("min_books", 3)
	if err != nil {
		return nil, err
	}
	if books < 2 {
		return nil, fmt.Errorf("min_books must be at least 2, got %d", books)
	}
	return newBridge(p, legacySteam), nil
}

func paramFloat(params map[string]interface{}, key string, def float64) float64 {
	if f, ok := engine.Record(params).Float(key); ok {
		return f
	}
	return def
}

// legacySharpRatio alerts when money share divided by ticket share reaches min_ratio.
func legacySharpRatio(rows []map[string]interface{}, params map[string]interface{}) []map[string]interface{} {
	minRatio := paramFloat(params, "min_ratio", 1.5)

	var alerts []map[string]interface{}
	for _, row := range rows {
		r := engine.Record(row)
		bet, ok1 := r.Float(FieldBetPct)
		money, ok2 := r.Float(FieldMoneyPct)
		if !ok1 || !ok2 || bet <= 0 {
			continue
		}
		ratio := money / bet
		if ratio < minRatio {
			continue
		}
		strength := (ratio - 1) * 50
		if strength > 100 {
			strength = 100
		}
		alerts = append(alerts, map[string]interface{}{
			"game":     r.String(FieldGameID),
			"market":   r.String(FieldMarket),
			"side":     r.String(FieldSelection),
			"book":     r.String(FieldBook),
			"strength": strength,
			"note":     fmt.Sprintf("money/ticket ratio %.2f", ratio),
		})
	}
	return alerts
}

// legacySteam alerts when min_books books shortened the same side by at least min_move
// implied probability since the open.
func legacySteam(rows []map[string]interface{}, params map[string]interface{}) []map[string]interface{} {
	minBooks := int(paramFloat(params, "min_books", 3))
	minMove := paramFloat(params, "min_move", 0.015)

	type move struct {
		books []string
		total float64
	}
	var order []selectionKey
	moves := make(map[selectionKey]*move)

	for _, row := range rows {
		r := engine.Record(row)
		now, ok1 := recordProbability(r, FieldOdds)
		open, ok2 := recordProbability(r, FieldOpeningOdds)
		if !ok1 || !ok2 || now-open < minMove {
			continue
		}
		k := keyOf(r)
		m, ok := moves[k]
		if !ok {
			m = &move{}
			moves[k] = m
			order = append(order, k)
		}
		m.books = append(m.books, r.String(FieldBook))
		m.total += now - open
	}

	var alerts []map[string]interface{}
	for _, k := range order {
		m := moves[k]
		if len(m.books) < minBooks {
			continue
		}
		avg := m.total / float64(len(m.books))
		alerts = append(alerts, map[string]interface{}{
			"game":     k.game,
			"market":   k.market,
			"side":     k.selection,
			"strength": float64(len(m.books)) * 20,
			"note":     fmt.Sprintf("%d books moved %.1f%% toward %s", len(m.books), avg*100, k.selection),
		})
	}
	return alerts
}
