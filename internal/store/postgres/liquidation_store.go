package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// LiquidationStore implements domain.LiquidationStore.
type LiquidationStore struct {
	pool *pgxpool.Pool
}

// NewLiquidationStore creates a LiquidationStore backed by the given pool.
func NewLiquidationStore(pool *pgxpool.Pool) *LiquidationStore {
	return &LiquidationStore{pool: pool}
}

const (
	liquidationColumns = `id, manager_id, pool_key, debt_is_base, repay_amount, risk_ratio, digest, status, error, created_at`
	liquidationSelect  = `SELECT id::text, manager_id, pool_key, debt_is_base, repay_amount, risk_ratio, digest, status, error, created_at`
)

// Insert records an attempt. An empty ID is filled with a new UUID and a
// zero CreatedAt with the current time.
func (s *LiquidationStore) Insert(ctx context.Context, a domain.LiquidationAttempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO liquidation_attempts (` + liquidationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.pool.Exec(ctx, query,
		a.ID, a.ManagerID, a.PoolKey, a.DebtIsBase, a.RepayAmount, a.RiskRatio,
		a.Digest, string(a.Status), a.Error, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert liquidation attempt %s: %w", a.ManagerID, err)
	}
	return nil
}

// ListRecent returns the newest attempts.
func (s *LiquidationStore) ListRecent(ctx context.Context, limit int) ([]domain.LiquidationAttempt, error) {
	query := liquidationSelect + ` FROM liquidation_attempts ORDER BY created_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent liquidations: %w", err)
	}
	return scanAttempts(rows)
}

// ListBetween returns attempts in [since, until), oldest first.
func (s *LiquidationStore) ListBetween(ctx context.Context, since, until time.Time) ([]domain.LiquidationAttempt, error) {
	query := liquidationSelect + ` FROM liquidation_attempts
		WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, since, until)
	if err != nil {
		return nil, fmt.Errorf("postgres: list liquidations %s..%s: %w",
			since.Format(time.RFC3339), until.Format(time.RFC3339), err)
	}
	return scanAttempts(rows)
}

func scanAttempts(rows pgx.Rows) ([]domain.LiquidationAttempt, error) {
	defer rows.Close()
	var out []domain.LiquidationAttempt
	for rows.Next() {
		var a domain.LiquidationAttempt
		var status string
		if err := rows.Scan(&a.ID, &a.ManagerID, &a.PoolKey, &a.DebtIsBase, &a.RepayAmount,
			&a.RiskRatio, &a.Digest, &status, &a.Error, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan liquidation attempt: %w", err)
		}
		a.Status = domain.LiquidationStatus(status)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: liquidation attempts rows: %w", err)
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 1000
	}
	return limit
}

var _ domain.LiquidationStore = (*LiquidationStore)(nil)
