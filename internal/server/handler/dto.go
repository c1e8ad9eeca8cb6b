package handler

import (
	"time"

	"github.com/alanyoungcy/marginbot/internal/domain"
	"github.com/alanyoungcy/marginbot/internal/risk"
)

// Risk ratios are strings on the wire because JSON cannot carry +Inf.

type positionDTO struct {
	ManagerID           string   `json:"manager_id"`
	PoolID              string   `json:"pool_id,omitempty"`
	PoolKey             string   `json:"pool_key"`
	BaseSymbol          string   `json:"base_symbol,omitempty"`
	QuoteSymbol         string   `json:"quote_symbol,omitempty"`
	BaseAsset           float64  `json:"base_asset"`
	QuoteAsset          float64  `json:"quote_asset"`
	DeepAsset           float64  `json:"deep_asset"`
	BaseDebt            float64  `json:"base_debt"`
	QuoteDebt           float64  `json:"quote_debt"`
	BasePrice           float64  `json:"base_price"`
	QuotePrice          float64  `json:"quote_price"`
	NetBase             float64  `json:"net_base"`
	NetQuote            float64  `json:"net_quote"`
	RiskRatio           string   `json:"risk_ratio"`
	Health              string   `json:"health"`
	CurrentPrice        float64  `json:"current_price,omitempty"`
	LowestTriggerAbove  *float64 `json:"lowest_trigger_above,omitempty"`
	HighestTriggerBelow *float64 `json:"highest_trigger_below,omitempty"`
	Indexed             bool     `json:"indexed"`
}

type snapshotDTO struct {
	Position  positionDTO `json:"position"`
	FetchedAt time.Time   `json:"fetched_at"`
	Stale     bool        `json:"stale"`
	LastError string      `json:"last_error,omitempty"`
}

func toPositionDTO(p domain.MarginPosition) positionDTO {
	return positionDTO{
		ManagerID:           p.ManagerID,
		PoolID:              p.PoolID,
		PoolKey:             p.PoolKey,
		BaseSymbol:          p.BaseSymbol,
		QuoteSymbol:         p.QuoteSymbol,
		BaseAsset:           p.BaseAsset,
		QuoteAsset:          p.QuoteAsset,
		DeepAsset:           p.DeepAsset,
		BaseDebt:            p.BaseDebt,
		QuoteDebt:           p.QuoteDebt,
		BasePrice:           p.BasePrice,
		QuotePrice:          p.QuotePrice,
		NetBase:             p.NetBase(),
		NetQuote:            p.NetQuote(),
		RiskRatio:           domain.FormatRatio(p.RiskRatio),
		Health:              string(p.Health),
		CurrentPrice:        p.CurrentPrice,
		LowestTriggerAbove:  p.LowestTriggerAbove,
		HighestTriggerBelow: p.HighestTriggerBelow,
		Indexed:             p.Indexed,
	}
}

func toSnapshotDTO(s domain.PositionSnapshot) snapshotDTO {
	return snapshotDTO{
		Position:  toPositionDTO(s.Position),
		FetchedAt: s.FetchedAt,
		Stale:     s.Stale,
		LastError: s.LastError,
	}
}

type candidateDTO struct {
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
	BaseSymbol  string  `json:"base_symbol,omitempty"`
	QuoteSymbol string  `json:"quote_symbol,omitempty"`
}

func toCandidateDTOs(cs []domain.LiquidatablePosition) []candidateDTO {
	out := make([]candidateDTO, 0, len(cs))
	for _, c := range cs {
		out = append(out, candidateDTO{
			ManagerID:   c.ManagerID,
			PoolID:      c.PoolID,
			PoolKey:     c.PoolKey,
			RiskRatio:   domain.FormatRatio(c.RiskRatio),
			BaseAsset:   c.BaseAsset,
			QuoteAsset:  c.QuoteAsset,
			BaseDebt:    c.BaseDebt,
			QuoteDebt:   c.QuoteDebt,
			BasePrice:   c.BasePrice,
			QuotePrice:  c.QuotePrice,
			BaseSymbol:  c.BaseSymbol,
			QuoteSymbol: c.QuoteSymbol,
		})
	}
	return out
}

type decisionDTO struct {
	Allowed        bool   `json:"allowed"`
	Reason         string `json:"reason,omitempty"`
	Detail         string `json:"detail,omitempty"`
	ProjectedRatio string `json:"projected_ratio,omitempty"`
}

func toDecisionDTO(d risk.Decision) decisionDTO {
	out := decisionDTO{Allowed: d.Allowed, Reason: string(d.Reason), Detail: d.Detail}
	if d.ProjectedRatio != 0 {
		out.ProjectedRatio = domain.FormatRatio(d.ProjectedRatio)
	}
	return out
}

type previewDTO struct {
	CollateralValue float64 `json:"collateral_value"`
	DebtValue       float64 `json:"debt_value"`
	RiskRatio       string  `json:"risk_ratio"`
	Health          string  `json:"health"`
}

func toPreviewDTO(p risk.Preview) previewDTO {
	return previewDTO{
		CollateralValue: p.CollateralValue,
		DebtValue:       p.DebtValue,
		RiskRatio:       domain.FormatRatio(p.Ratio),
		Health:          string(p.Health),
	}
}

// orderBody is the order part of an action request.
type orderBody struct {
	Side           string  `json:"side"`
	Quantity       float64 `json:"quantity"`
	Price          float64 `json:"price,omitempty"`
	ReferencePrice float64 `json:"reference_price,omitempty"`
	PayWithDeep    bool    `json:"pay_with_deep,omitempty"`
	ClientOrderID  string  `json:"client_order_id,omitempty"`
}

// actionBody is the JSON form of domain.ActionRequest.
type actionBody struct {
	Kind      string     `json:"kind"`
	Account   string     `json:"account"`
	PoolKey   string     `json:"pool_key"`
	ManagerID string     `json:"manager_id,omitempty"`
	Asset     string     `json:"asset,omitempty"`
	Amount    float64    `json:"amount,omitempty"`
	OrderID   string     `json:"order_id,omitempty"`
	Order     *orderBody `json:"order,omitempty"`
}

func (b actionBody) toDomain() (domain.ActionRequest, error) {
	req := domain.ActionRequest{
		Kind:      domain.ActionKind(b.Kind),
		Account:   b.Account,
		PoolKey:   b.PoolKey,
		ManagerID: b.ManagerID,
		Amount:    b.Amount,
		OrderID:   b.OrderID,
	}
	if b.Kind == "" {
		return req, errMissing("kind")
	}
	if b.Account == "" {
		return req, errMissing("account")
	}
	if b.PoolKey == "" {
		return req, errMissing("pool_key")
	}
	if b.Asset != "" {
		side, err := domain.ParseAssetSide(b.Asset)
		if err != nil {
			return req, err
		}
		req.Asset = side
	}
	if b.Order != nil {
		req.Order = &domain.OrderRequest{
			Side:           domain.OrderSide(b.Order.Side),
			Quantity:       b.Order.Quantity,
			Price:          b.Order.Price,
			ReferencePrice: b.Order.ReferencePrice,
			PayWithDeep:    b.Order.PayWithDeep,
			ClientOrderID:  b.Order.ClientOrderID,
		}
	}
	return req, nil
}

type missingFieldError string

func (e missingFieldError) Error() string { return string(e) + " is required" }

func errMissing(field string) error { return missingFieldError(field) }
