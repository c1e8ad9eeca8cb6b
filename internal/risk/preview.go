package risk

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// Preview is the projected effect of an action on a position.
type Preview struct {
	CollateralValue float64
	DebtValue       float64
	Ratio           float64
	Health          domain.HealthStatus
}

// PreviewDebtChange projects a borrow (borrow=true) or repay of amountValue
// against the current valuation. New debt is clamped at zero.
func PreviewDebtChange(t Thresholds, collateralValue, debtValue, amountValue float64, borrow bool) Preview {
	newDebt := debtValue - amountValue
	if borrow {
		newDebt = debtValue + amountValue
	}
	newDebt = math.Max(0, newDebt)
	ratio := Ratio(collateralValue, newDebt)
	return Preview{
		CollateralValue: collateralValue,
		DebtValue:       newDebt,
		Ratio:           ratio,
		Health:          Classify(ratio, t),
	}
}

// PreviewCollateralChange projects a deposit (deposit=true) or withdrawal of
// amountValue. New collateral is clamped at zero.
func PreviewCollateralChange(t Thresholds, collateralValue, debtValue, amountValue float64, deposit bool) Preview {
	newCollateral := collateralValue - amountValue
	if deposit {
		newCollateral = collateralValue + amountValue
	}
	newCollateral = math.Max(0, newCollateral)
	ratio := Ratio(newCollateral, debtValue)
	return Preview{
		CollateralValue: newCollateral,
		DebtValue:       debtValue,
		Ratio:           ratio,
		Health:          Classify(ratio, t),
	}
}

// Simulator previews actions on a concrete position.
type Simulator struct {
	t Thresholds
}

// NewSimulator returns a simulator for validated thresholds.
func NewSimulator(t Thresholds) (*Simulator, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Simulator{t: t}, nil
}

// Current returns the position's present valuation as a preview.
func (s *Simulator) Current(p domain.MarginPosition) (Preview, error) {
	v, err := Value(p)
	if err != nil {
		return Preview{}, err
	}
	ratio := v.Ratio()
	return Preview{
		CollateralValue: v.CollateralValue,
		DebtValue:       v.DebtValue,
		Ratio:           ratio,
		Health:          Classify(ratio, s.t),
	}, nil
}

// Simulate projects a deposit, withdraw, borrow or repay of amount units of
// asset. Moving the third collateral asset never changes the ratio.
func (s *Simulator) Simulate(p domain.MarginPosition, kind domain.ActionKind, asset domain.AssetSide, amount float64) (Preview, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return Preview{}, fmt.Errorf("risk: preview: %w: amount %v", domain.ErrInvalidNumber, amount)
	}
	v, err := Value(p)
	if err != nil {
		return Preview{}, err
	}
	amountValue, err := AmountValue(p, asset, amount)
	if err != nil {
		return Preview{}, err
	}

	switch kind {
	case domain.ActionBorrow:
		return PreviewDebtChange(s.t, v.CollateralValue, v.DebtValue, amountValue, true), nil
	case domain.ActionRepay:
		return PreviewDebtChange(s.t, v.CollateralValue, v.DebtValue, amountValue, false), nil
	case domain.ActionDeposit:
		return PreviewCollateralChange(s.t, v.CollateralValue, v.DebtValue, amountValue, true), nil
	case domain.ActionWithdraw:
		return PreviewCollateralChange(s.t, v.CollateralValue, v.DebtValue, amountValue, false), nil
	}
	return Preview{}, fmt.Errorf("risk: preview: unsupported action %q", kind)
}
