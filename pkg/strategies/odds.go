package strategies

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/sharpline/sharpline/pkg/engine"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// AmericanToDecimal converts American odds (-110, +150) to decimal odds (1.909..., 2.5).
func AmericanToDecimal(american decimal.Decimal) (decimal.Decimal, error) {
	if american.Abs().LessThan(hundred) {
		return decimal.Zero, fmt.Errorf("invalid american odds %s", american)
	}
	if american.IsPositive() {
		return one.Add(american.Div(hundred)), nil
	}
	return one.Add(hundred.Div(american.Abs())), nil
}

// DecimalToAmerican converts decimal odds back to American odds.
func DecimalToAmerican(d decimal.Decimal) (decimal.Decimal, error) {
	if d.LessThanOrEqual(one) {
		return decimal.Zero, fmt.Errorf("invalid decimal odds %s", d)
	}
	profit := d.Sub(one)
	if profit.GreaterThanOrEqual(one) {
		return profit.Mul(hundred), nil
	}
	return hundred.Div(profit).Neg(), nil
}

// ImpliedProbability returns the break-even probability of decimal odds.
func ImpliedProbability(d decimal.Decimal) (decimal.Decimal, error) {
	if d.LessThanOrEqual(one) {
		return decimal.Zero, fmt.Errorf("invalid decimal odds %s", d)
	}
	return one.Div(d), nil
}

// RemoveVig normalizes implied probabilities of one market so they sum to 1.
func RemoveVig(probs []decimal.Decimal) []decimal.Decimal {
	total := decimal.Sum(decimal.Zero, probs...)
	out := make([]decimal.Decimal, len(probs))
	if total.IsZero() {
		return out
	}
	for i, p := range probs {
		out[i] = p.Div(total)
	}
	return out
}

// ArbitrageMargin returns 1 minus the summed implied probabilities of the best price for each
// outcome. A positive margin is a guaranteed return on a correctly staked position.
func ArbitrageMargin(best []decimal.Decimal) (decimal.Decimal, error) {
	if len(best) < 2 {
		return decimal.Zero, fmt.Errorf("arbitrage needs at least two outcomes, got %d", len(best))
	}
	sum := decimal.Zero
	for _, d := range best {
		p, err := ImpliedProbability(d)
		if err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(p)
	}
	return one.Sub(sum), nil
}

// recordOdds reads decimal odds from key. Values are American unless odds_format is "decimal".
func recordOdds(r engine.Record, key string) (decimal.Decimal, bool) {
	f, ok := r.Float(key)
	if !ok {
		return decimal.Zero, false
	}
	d := decimal.NewFromFloat(f)
	if r.String(FieldOddsFormat) == "decimal" {
		if d.LessThanOrEqual(one) {
			return decimal.Zero, false
		}
		return d, true
	}
	out, err := AmericanToDecimal(d)
	if err != nil {
		return decimal.Zero, false
	}
	return out, true
}

// recordProbability reads key as odds and returns its implied probability.
func recordProbability(r engine.Record, key string) (float64, bool) {
	d, ok := recordOdds(r, key)
	if !ok {
		return 0, false
	}
	p, err := ImpliedProbability(d)
	if err != nil {
		return 0, false
	}
	return p.InexactFloat64(), true
}
