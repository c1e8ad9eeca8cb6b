package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// BalanceService reads wallet balances through a cache.
type BalanceService struct {
	source domain.BalanceSource
	cache  domain.BalanceCache
	logger *slog.Logger
}

// NewBalanceService creates a BalanceService. cache may be nil.
func NewBalanceService(source domain.BalanceSource, cache domain.BalanceCache, logger *slog.Logger) *BalanceService {
	return &BalanceService{
		source: source,
		cache:  cache,
		logger: logger.With(slog.String("component", "balance_service")),
	}
}

// WalletBalance returns owner's balance of coinType in whole units.
func (s *BalanceService) WalletBalance(ctx context.Context, owner, coinType string, decimals int) (float64, error) {
	if s.cache != nil {
		if v, err := s.cache.Get(ctx, owner, coinType); err == nil {
			return v, nil
		}
	}
	v, err := s.source.WalletBalance(ctx, owner, coinType, decimals)
	if err != nil {
		return 0, fmt.Errorf("balance_service: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, owner, coinType, v); err != nil {
			s.logger.WarnContext(ctx, "balance_service: cache set failed",
				slog.String("owner", owner),
				slog.String("error", err.Error()),
			)
		}
	}
	return v, nil
}

// Invalidate drops every cached balance of owner.
func (s *BalanceService) Invalidate(ctx context.Context, owner string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateOwner(ctx, owner); err != nil {
		s.logger.WarnContext(ctx, "balance_service: invalidate failed",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
	}
}
