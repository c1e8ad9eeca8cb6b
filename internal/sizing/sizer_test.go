package sizing

import (
	"math/rand"
	"testing"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// suiUSDC: base precision 1 (lot 0.1 SUI), quote precision 3.
var suiUSDC = domain.Pool{
	BaseSymbol:    "SUI",
	QuoteSymbol:   "USDC",
	BaseDecimals:  9,
	QuoteDecimals: 6,
	LotSize:       100_000_000,
	TickSize:      1000,
	MinSize:       1_000_000_000,
}

func newTestSizer(t *testing.T) *Sizer {
	t.Helper()
	s, err := New(suiUSDC, 0)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestBuy(t *testing.T) {
	s := newTestSizer(t)
	tests := []struct {
		name     string
		fraction float64
		quote    float64
		price    float64
		want     float64
	}{
		// 100 / 2 * 0.99 = 49.5
		{"full", 1, 100, 2, 49.5},
		// 25 / 3 * 0.99 = 8.25, lot 0.1 -> 8.2
		{"quarter floors to lot", 0.25, 100, 3, 8.2},
		// 50 / 7 * 0.99 = 7.0714..., lot 0.1 -> 7.0
		{"half", 0.5, 100, 7, 7.0},
		{"nothing available", 1, 0, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Buy(tt.fraction, tt.quote, tt.price)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Buy = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuyRejectsBadInput(t *testing.T) {
	s := newTestSizer(t)
	if _, err := s.Buy(0, 100, 2); err == nil {
		t.Error("expected error for zero fraction")
	}
	if _, err := s.Buy(1.5, 100, 2); err == nil {
		t.Error("expected error for fraction above one")
	}
	if _, err := s.Buy(1, 100, 0); err == nil {
		t.Error("expected error for zero price")
	}
}

func TestSell(t *testing.T) {
	s := newTestSizer(t)
	tests := []struct {
		fraction float64
		base     float64
		want     float64
	}{
		{1, 10, 10},
		{0.25, 10, 2.5},
		// 5.15 rounds half up
		{0.5, 10.3, 5.2},
		// 10.3 would exceed the balance
		{1, 10.29, 10.2},
		{1, 0.04, 0},
	}
	for _, tt := range tests {
		got, err := s.Sell(tt.fraction, tt.base)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("Sell(%v, %v) = %v, want %v", tt.fraction, tt.base, got, tt.want)
		}
	}
}

func TestSellNeverExceedsBalance(t *testing.T) {
	s := newTestSizer(t)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		base := rng.Float64() * 1000
		for _, f := range Presets {
			got, err := s.Sell(f, base)
			if err != nil {
				t.Fatal(err)
			}
			if got > base {
				t.Fatalf("Sell(%v, %v) = %v exceeds balance", f, base, got)
			}
		}
	}
}

func TestForPosition(t *testing.T) {
	s := newTestSizer(t)
	p := domain.MarginPosition{BaseAsset: 4, QuoteAsset: 100}
	buy, err := s.ForPosition(p, domain.OrderSideBuy, 1, 2)
	if err != nil || buy != 49.5 {
		t.Fatalf("buy = %v, %v", buy, err)
	}
	sell, err := s.ForPosition(p, domain.OrderSideSell, 0.5, 0)
	if err != nil || sell != 2 {
		t.Fatalf("sell = %v, %v", sell, err)
	}
	if _, err := s.ForPosition(p, "hold", 1, 1); err == nil {
		t.Fatal("expected error for unknown side")
	}
}

func TestNewValidatesPool(t *testing.T) {
	bad := suiUSDC
	bad.TickSize = 25
	if _, err := New(bad, 0); err == nil {
		t.Error("expected error for tick size that is not a power of ten")
	}
	if _, err := New(suiUSDC, 1.5); err == nil {
		t.Error("expected error for haircut above one")
	}
}
