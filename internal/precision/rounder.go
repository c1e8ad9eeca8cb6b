// Package precision rounds prices and quantities to the precision the venue
// accepts for a pool. Rounding is half-up on the exact decimal value of the
// input, so results match the integer arithmetic done on-chain.
package precision

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// priceScaleDecimals is the fixed-point exponent the venue uses for prices.
const priceScaleDecimals = 9

var half = decimal.NewFromFloat(0.5)

// Rounder holds the derived precisions for one pool.
type Rounder struct {
	quotePrecision int
	basePrecision  int
}

// New derives the rounder for a pool.
func New(pool domain.Pool) (*Rounder, error) {
	return NewFromParams(pool.TickSize, pool.LotSize, pool.BaseDecimals, pool.QuoteDecimals)
}

// NewFromParams derives precisions from raw pool parameters:
//
//	quotePrecision = 9 - log10(tickSize) + quoteDecimals - baseDecimals
//	basePrecision  = baseDecimals - log10(lotSize)
//
// tickSize and lotSize must be positive powers of ten.
func NewFromParams(tickSize, lotSize int64, baseDecimals, quoteDecimals int) (*Rounder, error) {
	tickExp, ok := log10Exact(tickSize)
	if !ok {
		return nil, fmt.Errorf("precision: tick size %d is not a power of ten", tickSize)
	}
	lotExp, ok := log10Exact(lotSize)
	if !ok {
		return nil, fmt.Errorf("precision: lot size %d is not a power of ten", lotSize)
	}
	return &Rounder{
		quotePrecision: priceScaleDecimals - tickExp + quoteDecimals - baseDecimals,
		basePrecision:  baseDecimals - lotExp,
	}, nil
}

// QuotePrecision is the number of decimal places accepted for prices.
func (r *Rounder) QuotePrecision() int { return r.quotePrecision }

// BasePrecision is the number of decimal places accepted for quantities.
func (r *Rounder) BasePrecision() int { return r.basePrecision }

// DisplayPrecision is the larger of the two precisions.
func (r *Rounder) DisplayPrecision() int {
	if r.quotePrecision > r.basePrecision {
		return r.quotePrecision
	}
	return r.basePrecision
}

// RoundQuote rounds a price to the pool's quote precision.
func (r *Rounder) RoundQuote(v float64) (float64, error) {
	return Round(v, r.quotePrecision)
}

// RoundBase rounds a quantity to the pool's base precision.
func (r *Rounder) RoundBase(v float64) (float64, error) {
	return Round(v, r.basePrecision)
}

// RoundDisplay rounds a value for display.
func (r *Rounder) RoundDisplay(v float64) (float64, error) {
	return Round(v, r.DisplayPrecision())
}

// FloorBase truncates a quantity down to the pool's base precision.
func (r *Rounder) FloorBase(v float64) (float64, error) {
	d, err := fromFloat(v)
	if err != nil {
		return 0, err
	}
	p := int32(r.basePrecision)
	out, _ := d.Shift(p).Floor().Shift(-p).Float64()
	return out, nil
}

// FormatQuote renders a price with exactly QuotePrecision decimals.
func (r *Rounder) FormatQuote(v float64) (string, error) {
	return format(v, r.quotePrecision)
}

// FormatBase renders a quantity with exactly BasePrecision decimals.
func (r *Rounder) FormatBase(v float64) (string, error) {
	return format(v, r.basePrecision)
}

// Round rounds v half-up to places decimal places. A negative places rounds
// to the nearest power of ten (places=-2 rounds to hundreds).
func Round(v float64, places int) (float64, error) {
	d, err := fromFloat(v)
	if err != nil {
		return 0, err
	}
	out, _ := RoundDecimal(d, places).Float64()
	return out, nil
}

// RoundDecimal is Round on a decimal value. Ties go toward +Inf.
func RoundDecimal(d decimal.Decimal, places int) decimal.Decimal {
	p := int32(places)
	return d.Shift(p).Add(half).Floor().Shift(-p)
}

func format(v float64, places int) (string, error) {
	d, err := fromFloat(v)
	if err != nil {
		return "", err
	}
	rounded := RoundDecimal(d, places)
	if places < 0 {
		return rounded.StringFixed(0), nil
	}
	return rounded.StringFixed(int32(places)), nil
}

func fromFloat(v float64) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, fmt.Errorf("precision: %w: %v", domain.ErrInvalidNumber, v)
	}
	return decimal.NewFromFloat(v), nil
}

// log10Exact returns log10(n) when n is a positive power of ten.
func log10Exact(n int64) (int, bool) {
	if n <= 0 {
		return 0, false
	}
	exp := 0
	for n%10 == 0 {
		n /= 10
		exp++
	}
	return exp, n == 1
}
