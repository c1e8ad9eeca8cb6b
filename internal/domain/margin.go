package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Network identifies the chain the venue runs on.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// ParseNetwork validates a network name.
func ParseNetwork(s string) (Network, error) {
	switch Network(strings.ToLower(s)) {
	case NetworkMainnet:
		return NetworkMainnet, nil
	case NetworkTestnet:
		return NetworkTestnet, nil
	}
	return "", fmt.Errorf("unknown network %q", s)
}

// AssetSide selects which asset of a margin account an action touches.
// Deep is the venue fee token, held as a third collateral balance but not
// counted in the risk ratio.
type AssetSide string

const (
	AssetBase  AssetSide = "base"
	AssetQuote AssetSide = "quote"
	AssetDeep  AssetSide = "deep"
)

// ParseAssetSide validates an asset side string.
func ParseAssetSide(s string) (AssetSide, error) {
	switch AssetSide(strings.ToLower(s)) {
	case AssetBase:
		return AssetBase, nil
	case AssetQuote:
		return AssetQuote, nil
	case AssetDeep:
		return AssetDeep, nil
	}
	return "", fmt.Errorf("unknown asset side %q", s)
}

// Borrowable reports whether debt can exist in this asset.
func (a AssetSide) Borrowable() bool {
	return a == AssetBase || a == AssetQuote
}

// HealthStatus is the three-way classification of a risk ratio.
type HealthStatus string

const (
	HealthSafe         HealthStatus = "safe"
	HealthWarning      HealthStatus = "warning"
	HealthLiquidatable HealthStatus = "liquidatable"
)

// MarginPosition is a read-only view of one margin account. Amounts are in
// whole asset units, prices are oracle USD prices.
type MarginPosition struct {
	ManagerID string
	PoolID    string
	PoolKey   string

	BaseSymbol  string
	QuoteSymbol string
	BaseType    string
	QuoteType   string

	BaseAsset  float64
	QuoteAsset float64
	DeepAsset  float64
	BaseDebt   float64
	QuoteDebt  float64

	BasePrice  float64
	QuotePrice float64

	RiskRatio float64 // +Inf when there is no debt
	Health    HealthStatus

	CurrentPrice        float64
	LowestTriggerAbove  *float64
	HighestTriggerBelow *float64

	// Indexed is false when the manager exists but the indexer has no state
	// for it yet.
	Indexed   bool
	UpdatedAt time.Time
}

// EmptyPosition is the position reported when no manager exists.
func EmptyPosition(poolKey string) MarginPosition {
	return MarginPosition{
		PoolKey:   poolKey,
		RiskRatio: math.Inf(1),
		Health:    HealthSafe,
	}
}

// HasManager reports whether the position belongs to an existing manager.
func (p MarginPosition) HasManager() bool {
	return p.ManagerID != ""
}

// Collateral returns the collateral balance held in the given asset.
func (p MarginPosition) Collateral(side AssetSide) float64 {
	switch side {
	case AssetBase:
		return p.BaseAsset
	case AssetQuote:
		return p.QuoteAsset
	case AssetDeep:
		return p.DeepAsset
	}
	return 0
}

// Debt returns the outstanding debt in the given asset.
func (p MarginPosition) Debt(side AssetSide) float64 {
	switch side {
	case AssetBase:
		return p.BaseDebt
	case AssetQuote:
		return p.QuoteDebt
	}
	return 0
}

// Price returns the oracle price of the given asset. Deep is not priced.
func (p MarginPosition) Price(side AssetSide) float64 {
	switch side {
	case AssetBase:
		return p.BasePrice
	case AssetQuote:
		return p.QuotePrice
	}
	return 0
}

// NetBase is the base balance net of base debt.
func (p MarginPosition) NetBase() float64 { return p.BaseAsset - p.BaseDebt }

// NetQuote is the quote balance net of quote debt.
func (p MarginPosition) NetQuote() float64 { return p.QuoteAsset - p.QuoteDebt }

// PositionSnapshot is what a reader hands out: the last known position plus
// freshness metadata.
type PositionSnapshot struct {
	Position  MarginPosition
	FetchedAt time.Time
	Stale     bool
	LastError string
}

// LiquidatablePosition is a scanner candidate.
type LiquidatablePosition struct {
	ManagerID   string
	PoolID      string
	PoolKey     string
	RiskRatio   float64
	BaseAsset   float64
	QuoteAsset  float64
	BaseDebt    float64
	QuoteDebt   float64
	BasePrice   float64
	QuotePrice  float64
	BaseSymbol  string
	QuoteSymbol string
	BaseType    string
	QuoteType   string
}

// PoolKeyFor builds the venue pool key from the asset symbols.
func PoolKeyFor(baseSymbol, quoteSymbol string) string {
	return strings.ToUpper(baseSymbol) + "_" + strings.ToUpper(quoteSymbol)
}

// FormatRatio renders a risk ratio for JSON, which has no infinity.
func FormatRatio(r float64) string {
	if math.IsInf(r, 1) {
		return "inf"
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// ParseRatio is the inverse of FormatRatio.
func ParseRatio(s string) (float64, error) {
	if strings.EqualFold(s, "inf") || strings.EqualFold(s, "+inf") {
		return math.Inf(1), nil
	}
	r, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: ratio %q", ErrInvalidNumber, s)
	}
	return r, nil
}
