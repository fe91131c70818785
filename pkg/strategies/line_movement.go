package strategies

import (
	"context"
	"fmt"
	"math"

	"github.com/sharpline/sharpline/pkg/engine"
)

// OpeningLineSource supplies opening numbers when the batch does not carry them.
type OpeningLineSource interface {
	OpeningLine(ctx context.Context, gameID, market, book string) (float64, bool, error)
}

// LineMovement flags spreads and totals that moved at least min_points from the opening number.
type LineMovement struct {
	base
	minPoints float64
	openings  OpeningLineSource
}

// NewLineMovement is the constructor for the line movement strategy.
// The repository is used for opening lines when it implements OpeningLineSource.
func NewLineMovement(p engine.ConstructorParams) (engine.Processor, error) {
	b := newBase(p)
	points, err := b.floatParam("min_points", 1)
	if err != nil {
		return nil, err
	}
	if points <= 0 {
		return nil, fmt.Errorf("min_points must be positive, got %v", points)
	}
	lm := &LineMovement{base: b, minPoints: points}
	if src, ok := p.Repository.(OpeningLineSource); ok {
		lm.openings = src
	}
	return lm, nil
}

// Process implements engine.Processor.
func (s *LineMovement) Process(ctx context.Context, batch []engine.Record, execCtx map[string]interface{}) ([]engine.Signal, error) {
	var signals []engine.Signal
	for _, r := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current, ok := r.Float(FieldLine)
		if !ok || r.String(FieldGameID) == "" {
			continue
		}
		opening, ok, err := s.opening(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("failed to load opening line: %w", err)
		}
		if !ok {
			continue
		}

		delta := current - opening
		if math.Abs(delta) < s.minPoints {
			continue
		}
		signals = append(signals, s.signal(r, math.Abs(delta)/(s.minPoints*3), 0,
			fmt.Sprintf("line moved %+.1f from %.1f to %.1f", delta, opening, current),
			map[string]interface{}{
				"opening_line": opening,
				"current_line": current,
				"delta":        delta,
			}))
	}
	return signals, nil
}

func (s *LineMovement) opening(ctx context.Context, r engine.Record) (float64, bool, error) {
	if v, ok := r.Float(FieldOpeningLine); ok {
		return v, true, nil
	}
	if s.openings == nil {
		return 0, false, nil
	}
	return s.openings.OpeningLine(ctx, r.String(FieldGameID), r.String(FieldMarket), r.String(FieldBook))
}

// HealthCheck reports whether an opening line source is wired.
func (s *LineMovement) HealthCheck(ctx context.Context) engine.HealthStatus {
	status := s.base.HealthCheck(ctx)
	status.Details["opening_source"] = s.openings != nil
	return status
}
