package risk

import (
	"math"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// Ratio returns collateralValue / debtValue, or +Inf when there is no debt.
func Ratio(collateralValue, debtValue float64) float64 {
	if debtValue <= 0 {
		return math.Inf(1)
	}
	return collateralValue / debtValue
}

// Classify maps a risk ratio to a health status. Every component that needs
// a status calls this function so the boundaries cannot drift.
//
//	r <= Liquidation -> liquidatable
//	r <= Warning     -> warning
//	otherwise        -> safe
//
// NaN is never reported safe.
func Classify(ratio float64, t Thresholds) domain.HealthStatus {
	switch {
	case math.IsNaN(ratio), ratio <= t.Liquidation:
		return domain.HealthLiquidatable
	case ratio <= t.Warning:
		return domain.HealthWarning
	default:
		return domain.HealthSafe
	}
}
