package domain

import (
	"errors"
	"math"
	"testing"
)

func TestRatioRoundTrip(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{math.Inf(1), "inf"},
		{1.15, "1.15"},
		{0.987654, "0.987654"},
		{2, "2"},
	}
	for _, tt := range tests {
		got := FormatRatio(tt.in)
		if got != tt.want {
			t.Errorf("FormatRatio(%v) = %q, want %q", tt.in, got, tt.want)
		}
		back, err := ParseRatio(got)
		if err != nil {
			t.Fatalf("ParseRatio(%q): %v", got, err)
		}
		if back != tt.in {
			t.Errorf("ParseRatio(%q) = %v, want %v", got, back, tt.in)
		}
	}
}

func TestParseRatioRejectsGarbage(t *testing.T) {
	if _, err := ParseRatio("healthy"); !errors.Is(err, ErrInvalidNumber) {
		t.Fatalf("err = %v, want ErrInvalidNumber", err)
	}
	if r, err := ParseRatio("+INF"); err != nil || !math.IsInf(r, 1) {
		t.Fatalf("ParseRatio(+INF) = %v, %v", r, err)
	}
}

func TestParseNetworkAndAssetSide(t *testing.T) {
	if n, err := ParseNetwork("Mainnet"); err != nil || n != NetworkMainnet {
		t.Errorf("ParseNetwork(Mainnet) = %q, %v", n, err)
	}
	if _, err := ParseNetwork("devnet"); err == nil {
		t.Error("devnet accepted")
	}
	if s, err := ParseAssetSide("DEEP"); err != nil || s != AssetDeep {
		t.Errorf("ParseAssetSide(DEEP) = %q, %v", s, err)
	}
	if AssetDeep.Borrowable() || !AssetQuote.Borrowable() {
		t.Error("only base and quote are borrowable")
	}
}

func TestPositionAccessors(t *testing.T) {
	p := MarginPosition{
		BaseAsset: 10, QuoteAsset: 50, DeepAsset: 3,
		BaseDebt: 4, QuoteDebt: 60,
		BasePrice: 2, QuotePrice: 1,
	}
	if p.Collateral(AssetDeep) != 3 || p.Debt(AssetDeep) != 0 || p.Price(AssetDeep) != 0 {
		t.Error("deep accessors")
	}
	if p.NetBase() != 6 || p.NetQuote() != -10 {
		t.Errorf("net = %v/%v", p.NetBase(), p.NetQuote())
	}
	if p.HasManager() {
		t.Error("no manager id set")
	}
	empty := EmptyPosition("SUI_USDC")
	if !math.IsInf(empty.RiskRatio, 1) || empty.Health != HealthSafe {
		t.Errorf("empty position = %+v", empty)
	}
}

func TestPoolHelpers(t *testing.T) {
	p := Pool{BaseSymbol: "sui", QuoteSymbol: "usdc", BaseDecimals: 9, QuoteDecimals: 6, MinSize: 1_000_000_000,
		BaseAssetID: "0x2::sui::SUI", QuoteAssetID: "0xdba::usdc::USDC"}
	if p.Key() != "SUI_USDC" {
		t.Errorf("key = %s", p.Key())
	}
	if p.MinQuantity() != 1 {
		t.Errorf("min quantity = %v", p.MinQuantity())
	}
	if p.Decimals(AssetQuote) != 6 || p.AssetType(AssetQuote) != "0xdba::usdc::USDC" {
		t.Error("quote side helpers")
	}
}
