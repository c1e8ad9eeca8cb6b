// Package sizing turns "use N% of my balance" into an order quantity the
// venue will accept.
package sizing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marginbot/internal/domain"
	"github.com/alanyoungcy/marginbot/internal/precision"
)

// DefaultBuyHaircut leaves room for price movement and fees on buys.
const DefaultBuyHaircut = 0.99

// Presets are the fractions offered by the order form.
var Presets = []float64{0.25, 0.5, 1}

// Sizer computes order quantities for one pool.
type Sizer struct {
	pool    domain.Pool
	rounder *precision.Rounder
	haircut decimal.Decimal
	scale   decimal.Decimal
}

// New returns a sizer for pool. A haircut of zero selects DefaultBuyHaircut.
func New(pool domain.Pool, haircut float64) (*Sizer, error) {
	if haircut == 0 {
		haircut = DefaultBuyHaircut
	}
	if math.IsNaN(haircut) || haircut <= 0 || haircut > 1 {
		return nil, fmt.Errorf("sizing: haircut must be in (0, 1], got %v", haircut)
	}
	if pool.LotSize <= 0 {
		return nil, fmt.Errorf("sizing: pool %s has no lot size", pool.Key())
	}
	r, err := precision.New(pool)
	if err != nil {
		return nil, fmt.Errorf("sizing: %w", err)
	}
	return &Sizer{
		pool:    pool,
		rounder: r,
		haircut: decimal.NewFromFloat(haircut),
		scale:   decimal.New(1, int32(pool.BaseDecimals)),
	}, nil
}

// Rounder exposes the pool's rounder.
func (s *Sizer) Rounder() *precision.Rounder { return s.rounder }

// Buy sizes a buy spending fraction of the quote collateral at price:
//
//	raw = fraction * quote / price * haircut
//	qty = floor(raw * 10^baseDecimals / lotSize) * lotSize / 10^baseDecimals
func (s *Sizer) Buy(fraction, quoteAvailable, price float64) (float64, error) {
	if err := checkFraction(fraction); err != nil {
		return 0, err
	}
	if !finite(quoteAvailable) || quoteAvailable < 0 {
		return 0, fmt.Errorf("sizing: %w: quote balance %v", domain.ErrInvalidNumber, quoteAvailable)
	}
	if !finite(price) || price <= 0 {
		return 0, fmt.Errorf("sizing: %w: price %v", domain.ErrInvalidNumber, price)
	}

	raw := decimal.NewFromFloat(fraction).
		Mul(decimal.NewFromFloat(quoteAvailable)).
		Div(decimal.NewFromFloat(price)).
		Mul(s.haircut)

	lot := decimal.NewFromInt(s.pool.LotSize)
	units := raw.Mul(s.scale).Div(lot).Floor().Mul(lot)
	qty, _ := units.Div(s.scale).Float64()
	return qty, nil
}

// Sell sizes a sell of fraction of the base collateral, rounded to the
// pool's base precision. The result never exceeds baseAvailable.
func (s *Sizer) Sell(fraction, baseAvailable float64) (float64, error) {
	if err := checkFraction(fraction); err != nil {
		return 0, err
	}
	if !finite(baseAvailable) || baseAvailable < 0 {
		return 0, fmt.Errorf("sizing: %w: base balance %v", domain.ErrInvalidNumber, baseAvailable)
	}
	amount, _ := decimal.NewFromFloat(fraction).Mul(decimal.NewFromFloat(baseAvailable)).Float64()
	qty, err := s.rounder.RoundBase(amount)
	if err != nil {
		return 0, err
	}
	if qty > baseAvailable {
		return s.rounder.FloorBase(amount)
	}
	return qty, nil
}

// ForPosition sizes an order on side using the position's collateral.
func (s *Sizer) ForPosition(p domain.MarginPosition, side domain.OrderSide, fraction, price float64) (float64, error) {
	switch side {
	case domain.OrderSideBuy:
		return s.Buy(fraction, p.QuoteAsset, price)
	case domain.OrderSideSell:
		return s.Sell(fraction, p.BaseAsset)
	}
	return 0, fmt.Errorf("sizing: unknown side %q", side)
}

func checkFraction(f float64) error {
	if !finite(f) || f <= 0 || f > 1 {
		return fmt.Errorf("sizing: %w: fraction %v must be in (0, 1]", domain.ErrInvalidNumber, f)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
