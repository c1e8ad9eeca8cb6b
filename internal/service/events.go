package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// PositionEvent is published on domain.ChannelPositions after each fetch.
type PositionEvent struct {
	ManagerID string    `json:"manager_id"`
	PoolKey   string    `json:"pool_key"`
	RiskRatio string    `json:"risk_ratio"`
	Health    string    `json:"health"`
	Stale     bool      `json:"stale"`
	Indexed   bool      `json:"indexed"`
	FetchedAt time.Time `json:"fetched_at"`
}

// LiquidationEvent is published on domain.ChannelLiquidations.
type LiquidationEvent struct {
	Type       string    `json:"type"` // scan, executed, failed
	PoolID     string    `json:"pool_id,omitempty"`
	Candidates int       `json:"candidates"`
	ManagerID  string    `json:"manager_id,omitempty"`
	Digest     string    `json:"digest,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// ActionEvent is published on domain.ChannelActions after a dispatch.
type ActionEvent struct {
	Kind      string    `json:"kind"`
	Account   string    `json:"account"`
	PoolKey   string    `json:"pool_key"`
	ManagerID string    `json:"manager_id,omitempty"`
	Digest    string    `json:"digest,omitempty"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// publish marshals v onto channel. A nil bus is a no-op; failures are
// logged only, pushing events is best effort.
func publish(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, channel string, v any) {
	if bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		logger.WarnContext(ctx, "marshal event failed", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	if err := bus.Publish(ctx, channel, payload); err != nil {
		logger.WarnContext(ctx, "publish event failed", slog.String("channel", channel), slog.String("error", err.Error()))
	}
}
