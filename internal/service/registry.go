package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// ManagerRegistry maps (network, account, pool) to a margin manager id.
// Accounts and ids are stored in canonical 0x + 64 hex form.
type ManagerRegistry struct {
	store  domain.ManagerStore
	logger *slog.Logger
}

// NewManagerRegistry creates a ManagerRegistry.
func NewManagerRegistry(store domain.ManagerStore, logger *slog.Logger) *ManagerRegistry {
	return &ManagerRegistry{
		store:  store,
		logger: logger.With(slog.String("component", "manager_registry")),
	}
}

// Lookup returns the manager id, or "" with a nil error when the account
// has no manager for the pool.
func (r *ManagerRegistry) Lookup(ctx context.Context, network domain.Network, account, poolKey string) (string, error) {
	acct, err := domain.NormalizeObjectID(account)
	if err != nil {
		return "", fmt.Errorf("manager_registry: account: %w", err)
	}
	id, err := r.store.Get(ctx, network, acct, strings.ToUpper(poolKey))
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("manager_registry: lookup: %w", err)
	}
	return id, nil
}

// Register records a manager created for (network, account, pool).
func (r *ManagerRegistry) Register(ctx context.Context, network domain.Network, account, poolKey, managerID string) (domain.ManagerRecord, error) {
	acct, err := domain.NormalizeObjectID(account)
	if err != nil {
		return domain.ManagerRecord{}, fmt.Errorf("manager_registry: account: %w", err)
	}
	id, err := domain.NormalizeObjectID(managerID)
	if err != nil {
		return domain.ManagerRecord{}, fmt.Errorf("manager_registry: manager id: %w", err)
	}
	rec := domain.ManagerRecord{
		Network:   network,
		Account:   acct,
		PoolKey:   strings.ToUpper(poolKey),
		ManagerID: id,
	}
	if err := r.store.Set(ctx, rec); err != nil {
		return domain.ManagerRecord{}, fmt.Errorf("manager_registry: register: %w", err)
	}
	r.logger.InfoContext(ctx, "manager_registry: registered",
		slog.String("network", string(network)),
		slog.String("account", acct),
		slog.String("pool", rec.PoolKey),
		slog.String("manager_id", id),
	)
	return rec, nil
}

// Forget removes the mapping.
func (r *ManagerRegistry) Forget(ctx context.Context, network domain.Network, account, poolKey string) error {
	acct, err := domain.NormalizeObjectID(account)
	if err != nil {
		return fmt.Errorf("manager_registry: account: %w", err)
	}
	if err := r.store.Delete(ctx, network, acct, strings.ToUpper(poolKey)); err != nil {
		return fmt.Errorf("manager_registry: forget: %w", err)
	}
	return nil
}

// List returns every manager of an account.
func (r *ManagerRegistry) List(ctx context.Context, network domain.Network, account string) ([]domain.ManagerRecord, error) {
	acct, err := domain.NormalizeObjectID(account)
	if err != nil {
		return nil, fmt.Errorf("manager_registry: account: %w", err)
	}
	recs, err := r.store.List(ctx, network, acct)
	if err != nil {
		return nil, fmt.Errorf("manager_registry: list: %w", err)
	}
	return recs, nil
}
