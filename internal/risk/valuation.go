package risk

import (
	"fmt"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// Valuation is a position's collateral and debt expressed in USD.
type Valuation struct {
	CollateralValue float64
	DebtValue       float64
}

// Ratio returns the risk ratio of the valuation.
func (v Valuation) Ratio() float64 {
	return Ratio(v.CollateralValue, v.DebtValue)
}

// Value prices the base and quote legs of a position with its oracle prices.
// The third collateral asset does not count. A non-zero balance or debt with
// no usable price is an error rather than a silent zero.
func Value(p domain.MarginPosition) (Valuation, error) {
	if err := requirePrice(p, domain.AssetBase); err != nil {
		return Valuation{}, err
	}
	if err := requirePrice(p, domain.AssetQuote); err != nil {
		return Valuation{}, err
	}
	return Valuation{
		CollateralValue: p.BaseAsset*p.BasePrice + p.QuoteAsset*p.QuotePrice,
		DebtValue:       p.BaseDebt*p.BasePrice + p.QuoteDebt*p.QuotePrice,
	}, nil
}

// PositionRatio derives the risk ratio of a position from its balances and
// prices.
func PositionRatio(p domain.MarginPosition) (float64, error) {
	v, err := Value(p)
	if err != nil {
		return 0, err
	}
	return v.Ratio(), nil
}

// AmountValue converts an amount of one asset into USD.
func AmountValue(p domain.MarginPosition, asset domain.AssetSide, amount float64) (float64, error) {
	if asset == domain.AssetDeep {
		return 0, nil
	}
	price := p.Price(asset)
	if price <= 0 {
		return 0, fmt.Errorf("risk: %w: no %s price", domain.ErrDataUnavailable, asset)
	}
	return amount * price, nil
}

func requirePrice(p domain.MarginPosition, asset domain.AssetSide) error {
	if p.Collateral(asset) == 0 && p.Debt(asset) == 0 {
		return nil
	}
	if p.Price(asset) <= 0 {
		return fmt.Errorf("risk: %w: no %s price", domain.ErrDataUnavailable, asset)
	}
	return nil
}
