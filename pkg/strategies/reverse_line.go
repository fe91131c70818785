package strategies

import (
	"context"
	"fmt"

	"github.com/sharpline/sharpline/pkg/engine"
)

// ReverseLineMovement flags a heavily bet side whose price got longer since the open.
// The book moving against public money points to sharp money on the other side.
type ReverseLineMovement struct {
	base
	publicThreshold float64
	minMove         float64
}

// NewReverseLineMovement is the constructor for the reverse line movement strategy.
func NewReverseLineMovement(p engine.ConstructorParams) (engine.Processor, error) {
	b := newBase(p)
	public, err := b.floatParam("public_threshold", 65)
	if err != nil {
		return nil, err
	}
	move, err := b.floatParam("min_move", 0.02)
	if err != nil {
		return nil, err
	}
	if public <= 50 || public > 100 {
		return nil, fmt.Errorf("public_threshold must be in (50, 100], got %v", public)
	}
	return &ReverseLineMovement{base: b, publicThreshold: public, minMove: move}, nil
}

// Process implements engine.Processor.
func (s *ReverseLineMovement) Process(ctx context.Context, batch []engine.Record, execCtx map[string]interface{}) ([]engine.Signal, error) {
	order, latest := latestPerSelection(batch)

	var signals []engine.Signal
	for _, k := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := latest[k]
		bet, ok := r.Float(FieldBetPct)
		if !ok || bet < s.publicThreshold {
			continue
		}
		now, okNow := recordProbability(r, FieldOdds)
		open, okOpen := recordProbability(r, FieldOpeningOdds)
		if !okNow || !okOpen {
			continue
		}

		// A falling implied probability means the public side got a better price.
		drop := open - now
		if drop < s.minMove {
			continue
		}
		signals = append(signals, s.signal(r, 0.5+drop*5, drop*100,
			fmt.Sprintf("price moved against %.0f%% public on %s", bet, k.selection),
			map[string]interface{}{
				"bet_pct":          bet,
				"opening_implied":  open,
				"current_implied":  now,
				"probability_drop": drop,
				"sharp_side":       "opposite",
			}))
	}
	return signals, nil
}
