package indexer

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// APIMarginManagerState is one row of /margin_manager_states. Balances and
// debts are decimal strings in whole asset units.
type APIMarginManagerState struct {
	ID                       int64           `json:"id"`
	MarginManagerID          string          `json:"margin_manager_id"`
	DeepbookPoolID           string          `json:"deepbook_pool_id"`
	BaseMarginPoolID         string          `json:"base_margin_pool_id"`
	QuoteMarginPoolID        string          `json:"quote_margin_pool_id"`
	BaseAssetID              string          `json:"base_asset_id"`
	BaseAssetSymbol          string          `json:"base_asset_symbol"`
	QuoteAssetID             string          `json:"quote_asset_id"`
	QuoteAssetSymbol         string          `json:"quote_asset_symbol"`
	RiskRatio                string          `json:"risk_ratio"`
	BaseAsset                string          `json:"base_asset"`
	QuoteAsset               string          `json:"quote_asset"`
	BaseDebt                 string          `json:"base_debt"`
	QuoteDebt                string          `json:"quote_debt"`
	BasePythPrice            decimal.Decimal `json:"base_pyth_price"`
	BasePythDecimals         int32           `json:"base_pyth_decimals"`
	QuotePythPrice           decimal.Decimal `json:"quote_pyth_price"`
	QuotePythDecimals        int32           `json:"quote_pyth_decimals"`
	CreatedAt                string          `json:"created_at"`
	UpdatedAt                string          `json:"updated_at"`
	CurrentPrice             string          `json:"current_price"`
	LowestTriggerAbovePrice  *string         `json:"lowest_trigger_above_price"`
	HighestTriggerBelowPrice *string         `json:"highest_trigger_below_price"`
}

// ToDomainPosition converts the row. RiskRatio carries the indexer's own
// figure; Health is left for the caller to classify.
func (s APIMarginManagerState) ToDomainPosition() (domain.MarginPosition, error) {
	var p domain.MarginPosition
	var err error

	if p.ManagerID, err = domain.NormalizeObjectID(s.MarginManagerID); err != nil {
		return p, err
	}
	p.PoolID = s.DeepbookPoolID
	p.PoolKey = domain.PoolKeyFor(s.BaseAssetSymbol, s.QuoteAssetSymbol)
	p.BaseSymbol = s.BaseAssetSymbol
	p.QuoteSymbol = s.QuoteAssetSymbol
	p.BaseType = s.BaseAssetID
	p.QuoteType = s.QuoteAssetID
	p.Indexed = true

	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"base_asset", s.BaseAsset, &p.BaseAsset},
		{"quote_asset", s.QuoteAsset, &p.QuoteAsset},
		{"base_debt", s.BaseDebt, &p.BaseDebt},
		{"quote_debt", s.QuoteDebt, &p.QuoteDebt},
	}
	for _, f := range fields {
		if *f.dst, err = parseAmount(f.name, f.raw); err != nil {
			return p, err
		}
	}

	p.BasePrice = pythPrice(s.BasePythPrice, s.BasePythDecimals)
	p.QuotePrice = pythPrice(s.QuotePythPrice, s.QuotePythDecimals)

	if p.RiskRatio, err = parseRatio(s.RiskRatio, p.BaseDebt+p.QuoteDebt == 0); err != nil {
		return p, err
	}
	if s.CurrentPrice != "" {
		if p.CurrentPrice, err = parseAmount("current_price", s.CurrentPrice); err != nil {
			return p, err
		}
	}
	if p.LowestTriggerAbove, err = parseOptional("lowest_trigger_above_price", s.LowestTriggerAbovePrice); err != nil {
		return p, err
	}
	if p.HighestTriggerBelow, err = parseOptional("highest_trigger_below_price", s.HighestTriggerBelowPrice); err != nil {
		return p, err
	}
	p.UpdatedAt = parseTime(s.UpdatedAt)
	return p, nil
}

// ToLiquidatable converts the row into a scanner candidate.
func (s APIMarginManagerState) ToLiquidatable() (domain.LiquidatablePosition, error) {
	p, err := s.ToDomainPosition()
	if err != nil {
		return domain.LiquidatablePosition{}, err
	}
	return domain.LiquidatablePosition{
		ManagerID:   p.ManagerID,
		PoolID:      p.PoolID,
		PoolKey:     p.PoolKey,
		RiskRatio:   p.RiskRatio,
		BaseAsset:   p.BaseAsset,
		QuoteAsset:  p.QuoteAsset,
		BaseDebt:    p.BaseDebt,
		QuoteDebt:   p.QuoteDebt,
		BasePrice:   p.BasePrice,
		QuotePrice:  p.QuotePrice,
		BaseSymbol:  p.BaseSymbol,
		QuoteSymbol: p.QuoteSymbol,
		BaseType:    p.BaseType,
		QuoteType:   p.QuoteType,
	}, nil
}

// APIMarginManagerInfo is one row of /margin_managers_info.
type APIMarginManagerInfo struct {
	MarginManagerID   string `json:"margin_manager_id"`
	DeepbookPoolID    string `json:"deepbook_pool_id"`
	BaseAssetID       string `json:"base_asset_id"`
	BaseAssetSymbol   string `json:"base_asset_symbol"`
	QuoteAssetID      string `json:"quote_asset_id"`
	QuoteAssetSymbol  string `json:"quote_asset_symbol"`
	BaseMarginPoolID  string `json:"base_margin_pool_id"`
	QuoteMarginPoolID string `json:"quote_margin_pool_id"`
}

// APIPool is one row of /get_pools.
type APIPool struct {
	PoolID             string `json:"pool_id"`
	PoolName           string `json:"pool_name"`
	BaseAssetID        string `json:"base_asset_id"`
	BaseAssetDecimals  int    `json:"base_asset_decimals"`
	BaseAssetSymbol    string `json:"base_asset_symbol"`
	BaseAssetName      string `json:"base_asset_name"`
	QuoteAssetID       string `json:"quote_asset_id"`
	QuoteAssetDecimals int    `json:"quote_asset_decimals"`
	QuoteAssetSymbol   string `json:"quote_asset_symbol"`
	QuoteAssetName     string `json:"quote_asset_name"`
	MinSize            int64  `json:"min_size"`
	LotSize            int64  `json:"lot_size"`
	TickSize           int64  `json:"tick_size"`
}

// ToDomainPool converts the row.
func (p APIPool) ToDomainPool() domain.Pool {
	return domain.Pool{
		PoolID:        p.PoolID,
		PoolName:      p.PoolName,
		BaseAssetID:   p.BaseAssetID,
		BaseSymbol:    p.BaseAssetSymbol,
		BaseName:      p.BaseAssetName,
		BaseDecimals:  p.BaseAssetDecimals,
		QuoteAssetID:  p.QuoteAssetID,
		QuoteSymbol:   p.QuoteAssetSymbol,
		QuoteName:     p.QuoteAssetName,
		QuoteDecimals: p.QuoteAssetDecimals,
		MinSize:       p.MinSize,
		LotSize:       p.LotSize,
		TickSize:      p.TickSize,
	}
}

// apiEvent covers the fields shared by the history endpoints. Amount fields
// differ per endpoint and are decoded as decimals so strings and numbers
// both parse.
type apiEvent struct {
	EventDigest           string          `json:"event_digest"`
	Digest                string          `json:"digest"`
	Sender                string          `json:"sender"`
	Checkpoint            int64           `json:"checkpoint"`
	CheckpointTimestampMs int64           `json:"checkpoint_timestamp_ms"`
	EventType             string          `json:"event_type"`
	MarginManagerID       string          `json:"margin_manager_id"`
	MarginPoolID          string          `json:"margin_pool_id"`
	AssetType             string          `json:"asset_type"`
	Amount                decimal.Decimal `json:"amount"`
	LoanAmount            decimal.Decimal `json:"loan_amount"`
	RepayAmount           decimal.Decimal `json:"repay_amount"`
	LiquidationAmount     decimal.Decimal `json:"liquidation_amount"`
	RiskRatio             decimal.Decimal `json:"risk_ratio"`
	OnchainTimestamp      int64           `json:"onchain_timestamp"`
}

func (e apiEvent) toDomain(kind domain.ManagerEventKind) domain.ManagerEvent {
	var amount decimal.Decimal
	switch kind {
	case domain.EventCollateral:
		amount = e.Amount
	case domain.EventLoanBorrowed:
		amount = e.LoanAmount
	case domain.EventLoanRepaid:
		amount = e.RepayAmount
	case domain.EventLiquidation:
		amount = e.LiquidationAmount
	}
	ts := e.CheckpointTimestampMs
	if ts == 0 {
		ts = e.OnchainTimestamp
	}
	amt, _ := amount.Float64()
	ratio, _ := e.RiskRatio.Float64()
	return domain.ManagerEvent{
		Kind:         kind,
		Digest:       e.Digest,
		Sender:       e.Sender,
		ManagerID:    e.MarginManagerID,
		MarginPoolID: e.MarginPoolID,
		Direction:    e.EventType,
		AssetType:    e.AssetType,
		Amount:       amt,
		RiskRatio:    ratio,
		Checkpoint:   e.Checkpoint,
		Timestamp:    time.UnixMilli(ts).UTC(),
	}
}

func parseAmount(field, raw string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", domain.ErrDataUnavailable, field, raw)
	}
	f, _ := d.Float64()
	return f, nil
}

func parseOptional(field string, raw *string) (*float64, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	f, err := parseAmount(field, *raw)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// parseRatio reads the indexer's risk ratio. Without debt the ratio is +Inf
// whatever the indexer sends.
func parseRatio(raw string, noDebt bool) (float64, error) {
	if noDebt {
		return math.Inf(1), nil
	}
	return parseAmount("risk_ratio", raw)
}

func pythPrice(price decimal.Decimal, decimals int32) float64 {
	f, _ := price.Shift(-decimals).Float64()
	return f
}

func parseTime(raw string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
