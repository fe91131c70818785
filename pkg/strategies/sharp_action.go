package strategies

import (
	"context"
	"fmt"

	"github.com/sharpline/sharpline/pkg/engine"
)

// SharpAction flags sides where the share of money is well above the share of tickets,
// which indicates fewer, larger bets.
type SharpAction struct {
	base
	minDivergence float64
	minMoneyPct   float64
}

// NewSharpAction is the constructor for the sharp action strategy.
func NewSharpAction(p engine.ConstructorParams) (engine.Processor, error) {
	b := newBase(p)
	div, err := b.floatParam("min_divergence", 15)
	if err != nil {
		return nil, err
	}
	money, err := b.floatParam("min_money_pct", 50)
	if err != nil {
		return nil, err
	}
	if div <= 0 {
		return nil, fmt.Errorf("min_divergence must be positive, got %v", div)
	}
	return &SharpAction{base: b, minDivergence: div, minMoneyPct: money}, nil
}

// Process implements engine.Processor.
func (s *SharpAction) Process(ctx context.Context, batch []engine.Record, execCtx map[string]interface{}) ([]engine.Signal, error) {
	order, latest := latestPerSelection(batch)

	var signals []engine.Signal
	for _, k := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := latest[k]
		bet, okBet := r.Float(FieldBetPct)
		money, okMoney := r.Float(FieldMoneyPct)
		if !okBet || !okMoney {
			continue
		}

		divergence := money - bet
		if divergence < s.minDivergence || money < s.minMoneyPct {
			continue
		}
		signals = append(signals, s.signal(r, divergence/40, 0,
			fmt.Sprintf("%.0f%% of money on %.0f%% of tickets", money, bet),
			map[string]interface{}{
				"bet_pct":    bet,
				"money_pct":  money,
				"divergence": divergence,
			}))
	}
	return signals, nil
}
