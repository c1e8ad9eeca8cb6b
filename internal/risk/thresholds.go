// Package risk holds the pure risk math of a margin account: the risk
// ratio, its three-way classification, the guard that decides whether a
// proposed action is permitted and the preview of an action's effect.
package risk

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// Thresholds are the risk-ratio boundaries of the venue. They must satisfy
// Liquidation < BorrowMin < Warning < WithdrawMin.
type Thresholds struct {
	Liquidation float64
	Warning     float64
	WithdrawMin float64
	BorrowMin   float64
}

// DefaultThresholds returns the venue's published boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Liquidation: 1.0,
		Warning:     1.15,
		WithdrawMin: 1.2,
		BorrowMin:   1.1,
	}
}

// Validate checks that every threshold is a positive finite number and that
// the ordering holds.
func (t Thresholds) Validate() error {
	named := []struct {
		name string
		v    float64
	}{
		{"liquidation", t.Liquidation},
		{"borrow_min", t.BorrowMin},
		{"warning", t.Warning},
		{"withdraw_min", t.WithdrawMin},
	}
	for _, n := range named {
		if math.IsNaN(n.v) || math.IsInf(n.v, 0) || n.v <= 0 {
			return fmt.Errorf("%w: %s must be a positive number, got %v", domain.ErrInvalidConfig, n.name, n.v)
		}
	}
	for i := 1; i < len(named); i++ {
		if named[i-1].v >= named[i].v {
			return fmt.Errorf("%w: %s (%v) must be below %s (%v)",
				domain.ErrInvalidConfig, named[i-1].name, named[i-1].v, named[i].name, named[i].v)
		}
	}
	return nil
}
