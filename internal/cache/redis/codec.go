package redis

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// Cached values are JSON. Risk ratios travel as strings because JSON has
// no infinity.

type positionJSON struct {
	ManagerID           string   `json:"manager_id"`
	PoolID              string   `json:"pool_id"`
	PoolKey             string   `json:"pool_key"`
	BaseSymbol          string   `json:"base_symbol"`
	QuoteSymbol         string   `json:"quote_symbol"`
	BaseType            string   `json:"base_type"`
	QuoteType           string   `json:"quote_type"`
	BaseAsset           float64  `json:"base_asset"`
	QuoteAsset          float64  `json:"quote_asset"`
	DeepAsset           float64  `json:"deep_asset"`
	BaseDebt            float64  `json:"base_debt"`
	QuoteDebt           float64  `json:"quote_debt"`
	BasePrice           float64  `json:"base_price"`
	QuotePrice          float64  `json:"quote_price"`
	RiskRatio           string   `json:"risk_ratio"`
	Health              string   `json:"health"`
	CurrentPrice        float64  `json:"current_price"`
	LowestTriggerAbove  *float64 `json:"lowest_trigger_above,omitempty"`
	HighestTriggerBelow *float64 `json:"highest_trigger_below,omitempty"`
	Indexed             bool     `json:"indexed"`
	UpdatedAt           int64    `json:"updated_at"`
}

type snapshotJSON struct {
	Position  positionJSON `json:"position"`
	FetchedAt int64        `json:"fetched_at"`
	Stale     bool         `json:"stale"`
	LastError string       `json:"last_error,omitempty"`
}

func encodeSnapshot(s domain.PositionSnapshot) snapshotJSON {
	p := s.Position
	return snapshotJSON{
		Position: positionJSON{
			ManagerID:           p.ManagerID,
			PoolID:              p.PoolID,
			PoolKey:             p.PoolKey,
			BaseSymbol:          p.BaseSymbol,
			QuoteSymbol:         p.QuoteSymbol,
			BaseType:            p.BaseType,
			QuoteType:           p.QuoteType,
			BaseAsset:           p.BaseAsset,
			QuoteAsset:          p.QuoteAsset,
			DeepAsset:           p.DeepAsset,
			BaseDebt:            p.BaseDebt,
			QuoteDebt:           p.QuoteDebt,
			BasePrice:           p.BasePrice,
			QuotePrice:          p.QuotePrice,
			RiskRatio:           domain.FormatRatio(p.RiskRatio),
			Health:              string(p.Health),
			CurrentPrice:        p.CurrentPrice,
			LowestTriggerAbove:  p.LowestTriggerAbove,
			HighestTriggerBelow: p.HighestTriggerBelow,
			Indexed:             p.Indexed,
			UpdatedAt:           unixMilli(p.UpdatedAt),
		},
		FetchedAt: unixMilli(s.FetchedAt),
		Stale:     s.Stale,
		LastError: s.LastError,
	}
}

func decodeSnapshot(j snapshotJSON) (domain.PositionSnapshot, error) {
	ratio, err := domain.ParseRatio(j.Position.RiskRatio)
	if err != nil {
		return domain.PositionSnapshot{}, fmt.Errorf("snapshot %s: %w", j.Position.ManagerID, err)
	}
	p := j.Position
	return domain.PositionSnapshot{
		Position: domain.MarginPosition{
			ManagerID:           p.ManagerID,
			PoolID:              p.PoolID,
			PoolKey:             p.PoolKey,
			BaseSymbol:          p.BaseSymbol,
			QuoteSymbol:         p.QuoteSymbol,
			BaseType:            p.BaseType,
			QuoteType:           p.QuoteType,
			BaseAsset:           p.BaseAsset,
			QuoteAsset:          p.QuoteAsset,
			DeepAsset:           p.DeepAsset,
			BaseDebt:            p.BaseDebt,
			QuoteDebt:           p.QuoteDebt,
			BasePrice:           p.BasePrice,
			QuotePrice:          p.QuotePrice,
			RiskRatio:           ratio,
			Health:              domain.HealthStatus(p.Health),
			CurrentPrice:        p.CurrentPrice,
			LowestTriggerAbove:  p.LowestTriggerAbove,
			HighestTriggerBelow: p.HighestTriggerBelow,
			Indexed:             p.Indexed,
			UpdatedAt:           fromUnixMilli(p.UpdatedAt),
		},
		FetchedAt: fromUnixMilli(j.FetchedAt),
		Stale:     j.Stale,
		LastError: j.LastError,
	}, nil
}

type liquidatableJSON struct {
	ManagerID   string  `json:"manager_id"`
	PoolID      string  `json:"pool_id"`
	PoolKey     string  `json:"pool_key"`
	RiskRatio   string  `json:"risk_ratio"`
	BaseAsset   float64 `json:"base_asset"`
	QuoteAsset  float64 `json:"quote_asset"`
	BaseDebt    float64 `json:"base_debt"`
	QuoteDebt   float64 `json:"quote_debt"`
	BasePrice   float64 `json:"base_price"`
	QuotePrice  float64 `json:"quote_price"`
	BaseSymbol  string  `json:"base_symbol"`
	QuoteSymbol string  `json:"quote_symbol"`
	BaseType    string  `json:"base_type"`
	QuoteType   string  `json:"quote_type"`
}

func encodeLiquidatable(in []domain.LiquidatablePosition) []liquidatableJSON {
	out := make([]liquidatableJSON, len(in))
	for i, lp := range in {
		out[i] = liquidatableJSON{
			ManagerID:   lp.ManagerID,
			PoolID:      lp.PoolID,
			PoolKey:     lp.PoolKey,
			RiskRatio:   domain.FormatRatio(lp.RiskRatio),
			BaseAsset:   lp.BaseAsset,
			QuoteAsset:  lp.QuoteAsset,
			BaseDebt:    lp.BaseDebt,
			QuoteDebt:   lp.QuoteDebt,
			BasePrice:   lp.BasePrice,
			QuotePrice:  lp.QuotePrice,
			BaseSymbol:  lp.BaseSymbol,
			QuoteSymbol: lp.QuoteSymbol,
			BaseType:    lp.BaseType,
			QuoteType:   lp.QuoteType,
		}
	}
	return out
}

func decodeLiquidatable(in []liquidatableJSON) ([]domain.LiquidatablePosition, error) {
	out := make([]domain.LiquidatablePosition, len(in))
	for i, j := range in {
		ratio, err := domain.ParseRatio(j.RiskRatio)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: %w", j.ManagerID, err)
		}
		out[i] = domain.LiquidatablePosition{
			ManagerID:   j.ManagerID,
			PoolID:      j.PoolID,
			PoolKey:     j.PoolKey,
			RiskRatio:   ratio,
			BaseAsset:   j.BaseAsset,
			QuoteAsset:  j.QuoteAsset,
			BaseDebt:    j.BaseDebt,
			QuoteDebt:   j.QuoteDebt,
			BasePrice:   j.BasePrice,
			QuotePrice:  j.QuotePrice,
			BaseSymbol:  j.BaseSymbol,
			QuoteSymbol: j.QuoteSymbol,
			BaseType:    j.BaseType,
			QuoteType:   j.QuoteType,
		}
	}
	return out, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
