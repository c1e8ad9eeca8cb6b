package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// ManagerStore implements domain.ManagerStore.
type ManagerStore struct {
	pool *pgxpool.Pool
}

// NewManagerStore creates a ManagerStore backed by the given pool.
func NewManagerStore(pool *pgxpool.Pool) *ManagerStore {
	return &ManagerStore{pool: pool}
}

// Get returns the manager id or domain.ErrNotFound.
func (s *ManagerStore) Get(ctx context.Context, network domain.Network, account, poolKey string) (string, error) {
	const query = `SELECT manager_id FROM margin_managers WHERE network = $1 AND account = $2 AND pool_key = $3`
	var id string
	err := s.pool.QueryRow(ctx, query, string(network), account, poolKey).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("postgres: get manager %s/%s/%s: %w", network, account, poolKey, err)
	}
	return id, nil
}

// Set records the manager for (network, account, pool), replacing any
// previous mapping.
func (s *ManagerStore) Set(ctx context.Context, rec domain.ManagerRecord) error {
	const query = `
		INSERT INTO margin_managers (network, account, pool_key, manager_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (network, account, pool_key)
		DO UPDATE SET manager_id = EXCLUDED.manager_id, created_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, string(rec.Network), rec.Account, rec.PoolKey, rec.ManagerID); err != nil {
		return fmt.Errorf("postgres: set manager %s/%s/%s: %w", rec.Network, rec.Account, rec.PoolKey, err)
	}
	return nil
}

// Delete removes a mapping. Deleting a missing mapping yields
// domain.ErrNotFound.
func (s *ManagerStore) Delete(ctx context.Context, network domain.Network, account, poolKey string) error {
	const query = `DELETE FROM margin_managers WHERE network = $1 AND account = $2 AND pool_key = $3`
	tag, err := s.pool.Exec(ctx, query, string(network), account, poolKey)
	if err != nil {
		return fmt.Errorf("postgres: delete manager %s/%s/%s: %w", network, account, poolKey, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns every mapping of an account, ordered by pool key.
func (s *ManagerStore) List(ctx context.Context, network domain.Network, account string) ([]domain.ManagerRecord, error) {
	const query = `
		SELECT network, account, pool_key, manager_id, created_at
		FROM margin_managers
		WHERE network = $1 AND account = $2
		ORDER BY pool_key`
	rows, err := s.pool.Query(ctx, query, string(network), account)
	if err != nil {
		return nil, fmt.Errorf("postgres: list managers %s/%s: %w", network, account, err)
	}
	defer rows.Close()

	var out []domain.ManagerRecord
	for rows.Next() {
		var rec domain.ManagerRecord
		var nw string
		if err := rows.Scan(&nw, &rec.Account, &rec.PoolKey, &rec.ManagerID, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan manager: %w", err)
		}
		rec.Network = domain.Network(nw)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list managers rows: %w", err)
	}
	return out, nil
}

var _ domain.ManagerStore = (*ManagerStore)(nil)
