package risk

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// Reason explains why the guard rejected an action.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonNoManager           Reason = "no_manager"
	ReasonInvalidAmount       Reason = "invalid_amount"
	ReasonUnsupportedAsset    Reason = "unsupported_asset"
	ReasonInsufficientBalance Reason = "insufficient_balance"
	ReasonExceedsDebt         Reason = "exceeds_debt"
	ReasonBelowMinimumRatio   Reason = "below_minimum_ratio"
	ReasonBelowMinimumSize    Reason = "below_minimum_size"
	ReasonPriceUnavailable    Reason = "price_unavailable"
	ReasonMarginUnsupported   Reason = "margin_unsupported"
	ReasonManagerExists       Reason = "manager_exists"
)

// Decision is the guard's verdict. ProjectedRatio is set for actions whose
// permission depends on the ratio.
type Decision struct {
	Allowed        bool
	Reason         Reason
	Detail         string
	ProjectedRatio float64
}

// Allow is an unconditional permit.
func Allow() Decision { return Decision{Allowed: true} }

// Reject builds a rejection with a formatted detail.
func Reject(reason Reason, format string, args ...any) Decision {
	return Decision{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

func allowAt(ratio float64) Decision { return Decision{Allowed: true, ProjectedRatio: ratio} }

// Guard decides whether a proposed action is permitted given the current
// position. It is pure and safe for concurrent use.
type Guard struct {
	t Thresholds
}

// NewGuard returns a guard for validated thresholds.
func NewGuard(t Thresholds) (*Guard, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Guard{t: t}, nil
}

// Thresholds returns the guard's thresholds.
func (g *Guard) Thresholds() Thresholds { return g.t }

// CheckDeposit permits amount > 0 that the wallet can cover.
func (g *Guard) CheckDeposit(p domain.MarginPosition, asset domain.AssetSide, amount, walletBalance float64) Decision {
	if !p.HasManager() {
		return Reject(ReasonNoManager, "no margin manager for %s", p.PoolKey)
	}
	if !positive(amount) {
		return Reject(ReasonInvalidAmount, "deposit amount must be positive")
	}
	if amount > walletBalance {
		return Reject(ReasonInsufficientBalance, "deposit %v %s exceeds wallet balance %v", amount, asset, walletBalance)
	}
	return Allow()
}

// CheckWithdraw permits withdrawals the collateral covers and that keep the
// projected ratio above WithdrawMin. Without debt only the balance matters.
func (g *Guard) CheckWithdraw(p domain.MarginPosition, asset domain.AssetSide, amount float64) Decision {
	if !p.HasManager() {
		return Reject(ReasonNoManager, "no margin manager for %s", p.PoolKey)
	}
	if !positive(amount) {
		return Reject(ReasonInvalidAmount, "withdraw amount must be positive")
	}
	if amount > p.Collateral(asset) {
		return Reject(ReasonInsufficientBalance, "withdraw %v %s exceeds collateral %v", amount, asset, p.Collateral(asset))
	}
	if asset == domain.AssetDeep || (p.BaseDebt == 0 && p.QuoteDebt == 0) {
		return Allow()
	}

	v, err := Value(p)
	if err != nil {
		return Reject(ReasonPriceUnavailable, "%v", err)
	}
	amountValue, err := AmountValue(p, asset, amount)
	if err != nil {
		return Reject(ReasonPriceUnavailable, "%v", err)
	}
	projected := Ratio(v.CollateralValue-amountValue, v.DebtValue)
	if projected > g.t.WithdrawMin {
		return allowAt(projected)
	}
	if limit, err := g.MaxWithdraw(p, asset); err == nil && amount <= limit {
		return allowAt(projected)
	}
	return Reject(ReasonBelowMinimumRatio, "projected ratio %.4f would not stay above %.4f", projected, g.t.WithdrawMin)
}

// CheckBorrow permits borrows that keep the projected ratio above BorrowMin.
// Borrowing exactly MaxBorrow is permitted.
func (g *Guard) CheckBorrow(p domain.MarginPosition, asset domain.AssetSide, amount float64) Decision {
	if !p.HasManager() {
		return Reject(ReasonNoManager, "no margin manager for %s", p.PoolKey)
	}
	if !asset.Borrowable() {
		return Reject(ReasonUnsupportedAsset, "%s cannot be borrowed", asset)
	}
	if !positive(amount) {
		return Reject(ReasonInvalidAmount, "borrow amount must be positive")
	}

	v, err := Value(p)
	if err != nil {
		return Reject(ReasonPriceUnavailable, "%v", err)
	}
	amountValue, err := AmountValue(p, asset, amount)
	if err != nil {
		return Reject(ReasonPriceUnavailable, "%v", err)
	}
	projected := Ratio(v.CollateralValue, v.DebtValue+amountValue)
	if projected > g.t.BorrowMin {
		return allowAt(projected)
	}
	if limit, err := g.MaxBorrow(p, asset); err == nil && amount <= limit {
		return allowAt(projected)
	}
	return Reject(ReasonBelowMinimumRatio, "projected ratio %.4f would not stay above %.4f", projected, g.t.BorrowMin)
}

// CheckRepay permits repaying up to the outstanding debt with the same-asset
// collateral. Repaying never lowers the ratio, so there is no ratio check.
func (g *Guard) CheckRepay(p domain.MarginPosition, asset domain.AssetSide, amount float64) Decision {
	if !p.HasManager() {
		return Reject(ReasonNoManager, "no margin manager for %s", p.PoolKey)
	}
	if !asset.Borrowable() {
		return Reject(ReasonUnsupportedAsset, "%s cannot be repaid", asset)
	}
	if !positive(amount) {
		return Reject(ReasonInvalidAmount, "repay amount must be positive")
	}
	if amount > p.Debt(asset) {
		return Reject(ReasonExceedsDebt, "repay %v %s exceeds debt %v", amount, asset, p.Debt(asset))
	}
	if amount > p.Collateral(asset) {
		return Reject(ReasonInsufficientBalance, "repay %v %s exceeds collateral %v", amount, asset, p.Collateral(asset))
	}
	return Allow()
}

// CheckOrder permits orders whose notional the relevant collateral covers and
// whose quantity meets the pool minimum. Market buys without a reference
// price skip the notional check.
func (g *Guard) CheckOrder(p domain.MarginPosition, pool domain.Pool, o domain.OrderRequest) Decision {
	if !p.HasManager() {
		return Reject(ReasonNoManager, "no margin manager for %s", p.PoolKey)
	}
	if !positive(o.Quantity) || o.Price < 0 || math.IsNaN(o.Price) {
		return Reject(ReasonInvalidAmount, "order quantity must be positive")
	}

	switch o.Side {
	case domain.OrderSideBuy:
		price := o.Price
		if price == 0 {
			price = o.ReferencePrice
		}
		if price > 0 {
			notional := price * o.Quantity
			if notional > p.QuoteAsset {
				return Reject(ReasonInsufficientBalance, "order notional %v exceeds %s collateral %v", notional, p.QuoteSymbol, p.QuoteAsset)
			}
		}
	case domain.OrderSideSell:
		if o.Quantity > p.BaseAsset {
			return Reject(ReasonInsufficientBalance, "order quantity %v exceeds %s collateral %v", o.Quantity, p.BaseSymbol, p.BaseAsset)
		}
	default:
		return Reject(ReasonInvalidAmount, "unknown order side %q", o.Side)
	}

	if minQty := pool.MinQuantity(); o.Quantity < minQty {
		return Reject(ReasonBelowMinimumSize, "order quantity %v below minimum %v", o.Quantity, minQty)
	}
	return Allow()
}

// MaxBorrow is the largest amount of asset that can be borrowed:
//
//	max(0, C/BorrowMin - D) / price
//
// Borrowing it leaves the ratio exactly at BorrowMin.
func (g *Guard) MaxBorrow(p domain.MarginPosition, asset domain.AssetSide) (float64, error) {
	if !asset.Borrowable() {
		return 0, nil
	}
	v, err := Value(p)
	if err != nil {
		return 0, err
	}
	headroom := v.CollateralValue/g.t.BorrowMin - v.DebtValue
	if headroom <= 0 {
		return 0, nil
	}
	price := p.Price(asset)
	if price <= 0 {
		return 0, fmt.Errorf("risk: %w: no %s price", domain.ErrDataUnavailable, asset)
	}
	return headroom / price, nil
}

// MaxWithdraw is the largest amount of asset that can be withdrawn without
// the ratio falling below WithdrawMin, capped at the collateral held.
func (g *Guard) MaxWithdraw(p domain.MarginPosition, asset domain.AssetSide) (float64, error) {
	held := p.Collateral(asset)
	if asset == domain.AssetDeep || (p.BaseDebt == 0 && p.QuoteDebt == 0) {
		return held, nil
	}
	v, err := Value(p)
	if err != nil {
		return 0, err
	}
	headroom := v.CollateralValue - g.t.WithdrawMin*v.DebtValue
	if headroom <= 0 {
		return 0, nil
	}
	price := p.Price(asset)
	if price <= 0 {
		return 0, fmt.Errorf("risk: %w: no %s price", domain.ErrDataUnavailable, asset)
	}
	return math.Min(held, headroom/price), nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}
