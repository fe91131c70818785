package strategies

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAmericanToDecimal(t *testing.T) {
	tests := []struct {
		american string
		want     string
		wantErr  bool
	}{
		{"150", "2.5", false},
		{"100", "2", false},
		{"-200", "1.5", false},
		{"-110", "1.9090909090909091", false},
		{"50", "", true},
		{"0", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.american, func(t *testing.T) {
			got, err := AmericanToDecimal(dec(tt.american))
			if (err != nil) != tt.wantErr {
				t.Fatalf("AmericanToDecimal() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(dec(tt.want)) {
				t.Errorf("AmericanToDecimal(%s) = %s, want %s", tt.american, got, tt.want)
			}
		})
	}
}

func TestDecimalToAmerican(t *testing.T) {
	if got, _ := DecimalToAmerican(dec("2.5")); !got.Equal(dec("150")) {
		t.Errorf("expected +150, got %s", got)
	}
	if got, _ := DecimalToAmerican(dec("1.5")); !got.Equal(dec("-200")) {
		t.Errorf("expected -200, got %s", got)
	}
	if _, err := DecimalToAmerican(dec("1")); err == nil {
		t.Error("expected error for odds of 1")
	}
}

func TestImpliedProbability(t *testing.T) {
	p, err := ImpliedProbability(dec("2"))
	if err != nil || !p.Equal(dec("0.5")) {
		t.Errorf("expected 0.5, got %s (%v)", p, err)
	}
	if _, err := ImpliedProbability(dec("0.9")); err == nil {
		t.Error("expected error for odds below 1")
	}
}

func TestRemoveVig(t *testing.T) {
	fair := RemoveVig([]decimal.Decimal{dec("0.55"), dec("0.55")})
	for _, p := range fair {
		if !p.Equal(dec("0.5")) {
			t.Errorf("expected 0.5, got %s", p)
		}
	}
	if out := RemoveVig([]decimal.Decimal{decimal.Zero}); !out[0].IsZero() {
		t.Errorf("expected zero for empty market, got %s", out[0])
	}
}

func TestArbitrageMargin(t *testing.T) {
	margin, err := ArbitrageMargin([]decimal.Decimal{dec("2.1"), dec("2.2")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f := margin.InexactFloat64(); f < 0.069 || f > 0.0695 {
		t.Errorf("expected margin ~0.0693, got %v", f)
	}

	margin, _ = ArbitrageMargin([]decimal.Decimal{dec("1.9"), dec("1.9")})
	if !margin.IsNegative() {
		t.Errorf("expected negative margin for a vigged market, got %s", margin)
	}
	if _, err := ArbitrageMargin([]decimal.Decimal{dec("2")}); err == nil {
		t.Error("expected error for a single outcome")
	}
}
