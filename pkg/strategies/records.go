package strategies

import (
	"github.com/sharpline/sharpline/pkg/engine"
)

// Record fields read by the built-in strategies.
const (
	FieldGameID      = "game_id"
	FieldMarket      = "market"
	FieldSelection   = "selection"
	FieldBook        = "book"
	FieldOdds        = "odds"
	FieldOpeningOdds = "opening_odds"
	FieldOddsFormat  = "odds_format"
	FieldLine        = "line"
	FieldOpeningLine = "opening_line"
	FieldBetPct      = "bet_pct"
	FieldMoneyPct    = "money_pct"
	FieldTimestamp   = "timestamp"
)

// marketKey identifies one market of one game.
type marketKey struct {
	game   string
	market string
}

// selectionKey identifies one side of a market.
type selectionKey struct {
	game      string
	market    string
	selection string
}

func keyOf(r engine.Record) selectionKey {
	return selectionKey{
		game:      r.String(FieldGameID),
		market:    r.String(FieldMarket),
		selection: r.String(FieldSelection),
	}
}

// latestPerSelection keeps the last record for each game/market/selection in batch order.
func latestPerSelection(batch []engine.Record) ([]selectionKey, map[selectionKey]engine.Record) {
	var order []selectionKey
	latest := make(map[selectionKey]engine.Record)
	for _, r := range batch {
		k := keyOf(r)
		if k.game == "" {
			continue
		}
		if _, seen := latest[k]; !seen {
			order = append(order, k)
		}
		latest[k] = r
	}
	return order, latest
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}

// recordsToRows converts records to plain maps for script and legacy consumers.
func recordsToRows(batch []engine.Record) []map[string]interface{} {
	rows := make([]map[string]interface{}, len(batch))
	for i, r := range batch {
		rows[i] = map[string]interface{}(r)
	}
	return rows
}
