package domain

import "math"

// Pool is the order-book metadata the engine needs for sizing and rounding.
// MinSize, LotSize and TickSize are raw on-chain integers.
type Pool struct {
	PoolID        string
	PoolName      string
	BaseAssetID   string
	BaseSymbol    string
	BaseName      string
	BaseDecimals  int
	QuoteAssetID  string
	QuoteSymbol   string
	QuoteName     string
	QuoteDecimals int
	MinSize       int64
	LotSize       int64
	TickSize      int64
}

// Key returns the BASE_QUOTE pool key.
func (p Pool) Key() string {
	return PoolKeyFor(p.BaseSymbol, p.QuoteSymbol)
}

// MinQuantity is the minimum order size in whole base units.
func (p Pool) MinQuantity() float64 {
	return float64(p.MinSize) / math.Pow10(p.BaseDecimals)
}

// Decimals returns the decimals of the asset on the given side.
func (p Pool) Decimals(side AssetSide) int {
	if side == AssetQuote {
		return p.QuoteDecimals
	}
	return p.BaseDecimals
}

// AssetType returns the coin type of the asset on the given side.
func (p Pool) AssetType(side AssetSide) string {
	if side == AssetQuote {
		return p.QuoteAssetID
	}
	return p.BaseAssetID
}
