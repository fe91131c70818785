package strategies

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sharpline/sharpline/pkg/engine"
)

// Arbitrage finds markets where the best price on every outcome, taken across books,
// sums to less than a 100% implied probability.
type Arbitrage struct {
	base
	minMargin decimal.Decimal
}

// NewArbitrage is the constructor for the arbitrage strategy.
func NewArbitrage(p engine.ConstructorParams) (engine.Processor, error) {
	b := newBase(p)
	margin, err := b.floatParam("min_margin", 0)
	if err != nil {
		return nil, err
	}
	if margin < 0 {
		return nil, fmt.Errorf("min_margin must be >= 0, got %v", margin)
	}
	return &Arbitrage{base: b, minMargin: decimal.NewFromFloat(margin)}, nil
}

type bestPrice struct {
	selection string
	book      string
	odds      decimal.Decimal
}

// Process implements engine.Processor.
func (a *Arbitrage) Process(ctx context.Context, batch []engine.Record, execCtx map[string]interface{}) ([]engine.Signal, error) {
	var order []marketKey
	markets := make(map[marketKey]map[string]bestPrice)

	for _, r := range batch {
		k := marketKey{game: r.String(FieldGameID), market: r.String(FieldMarket)}
		sel := r.String(FieldSelection)
		if k.game == "" || sel == "" {
			continue
		}
		odds, ok := recordOdds(r, FieldOdds)
		if !ok {
			continue
		}
		prices, exists := markets[k]
		if !exists {
			prices = make(map[string]bestPrice)
			markets[k] = prices
			order = append(order, k)
		}
		if cur, seen := prices[sel]; !seen || odds.GreaterThan(cur.odds) {
			prices[sel] = bestPrice{selection: sel, book: r.String(FieldBook), odds: odds}
		}
	}

	var signals []engine.Signal
	for _, k := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		legs := sortedLegs(markets[k])
		if len(legs) < 2 {
			continue
		}
		best := make([]decimal.Decimal, len(legs))
		for i, l := range legs {
			best[i] = l.odds
		}
		margin, err := ArbitrageMargin(best)
		if err != nil || !margin.GreaterThan(a.minMargin) {
			continue
		}

		// Stake each leg in proportion to its implied probability so every outcome pays the same.
		total := one.Sub(margin)
		books := make([]string, len(legs))
		legMeta := make([]map[string]interface{}, len(legs))
		for i, l := range legs {
			p, _ := ImpliedProbability(l.odds)
			books[i] = l.book
			legMeta[i] = map[string]interface{}{
				"selection": l.selection,
				"book":      l.book,
				"odds":      l.odds.Round(4).InexactFloat64(),
				"stake":     p.Div(total).Round(4).InexactFloat64(),
			}
		}

		edge := margin.Mul(hundred).Round(3).InexactFloat64()
		signals = append(signals, engine.Signal{
			StrategyID: a.id,
			SignalType: a.signalType,
			GameID:     k.game,
			Market:     k.market,
			Book:       strings.Join(books, ","),
			Confidence: clamp01(0.5 + margin.InexactFloat64()*10),
			Edge:       edge,
			Message:    fmt.Sprintf("%.2f%% arbitrage across %d outcomes", edge, len(legs)),
			Metadata:   map[string]interface{}{"legs": legMeta},
		})
	}
	return signals, nil
}

func sortedLegs(prices map[string]bestPrice) []bestPrice {
	legs := make([]bestPrice, 0, len(prices))
	for _, p := range prices {
		legs = append(legs, p)
	}
	sort.Slice(legs, func(i, j int) bool { return legs[i].selection < legs[j].selection })
	return legs
}
