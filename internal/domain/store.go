package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ManagerRecord maps (network, account, pool) to a margin manager id.
type ManagerRecord struct {
	Network   Network
	Account   string
	PoolKey   string
	ManagerID string
	CreatedAt time.Time
}

// ManagerStore is the durable manager-id registry.
type ManagerStore interface {
	Get(ctx context.Context, network Network, account, poolKey string) (string, error)
	Set(ctx context.Context, rec ManagerRecord) error
	Delete(ctx context.Context, network Network, account, poolKey string) error
	List(ctx context.Context, network Network, account string) ([]ManagerRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// LiquidationStatus is the outcome of a liquidation attempt.
type LiquidationStatus string

const (
	LiquidationSucceeded LiquidationStatus = "succeeded"
	LiquidationFailed    LiquidationStatus = "failed"
)

// LiquidationAttempt records one liquidation dispatch.
type LiquidationAttempt struct {
	ID          string
	ManagerID   string
	PoolKey     string
	DebtIsBase  bool
	RepayAmount float64
	RiskRatio   float64
	Digest      string
	Status      LiquidationStatus
	Error       string
	CreatedAt   time.Time
}

// LiquidationStore persists liquidation attempts.
type LiquidationStore interface {
	Insert(ctx context.Context, a LiquidationAttempt) error
	ListRecent(ctx context.Context, limit int) ([]LiquidationAttempt, error)
	// ListBetween returns attempts with since <= created_at < until, oldest
	// first. A zero since means from the beginning.
	ListBetween(ctx context.Context, since, until time.Time) ([]LiquidationAttempt, error)
}
