// Package executor dispatches liquidations of under-collateralized margin
// managers found by the scanner.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marginbot/internal/domain"
	"github.com/alanyoungcy/marginbot/internal/notify"
	"github.com/alanyoungcy/marginbot/internal/observability"
)

// CandidateFinder looks up scanner candidates and forgets them once acted on.
type CandidateFinder interface {
	Find(ctx context.Context, managerID string) (domain.LiquidatablePosition, error)
	Invalidate(ctx context.Context)
}

// PoolResolver resolves pool metadata for a candidate.
type PoolResolver interface {
	PoolByID(ctx context.Context, id string) (domain.Pool, error)
	Pool(ctx context.Context, key string) (domain.Pool, error)
}

// BalanceInvalidator drops cached wallet balances.
type BalanceInvalidator interface {
	Invalidate(ctx context.Context, owner string)
}

// ErrAlreadyAttempted is returned for a manager already tried this cycle.
var ErrAlreadyAttempted = errors.New("liquidation already attempted this cycle")

// Liquidator prepares and dispatches liquidations. A failed attempt is
// recorded and not retried until the next scan.
type Liquidator struct {
	exec     domain.ExecutionLayer
	waiter   domain.TxWaiter
	finder   CandidateFinder
	pools    PoolResolver
	balances BalanceInvalidator
	store    domain.LiquidationStore
	locks    domain.LockManager
	limiter  domain.RateLimiter
	notifier *notify.Notifier
	metrics  *observability.Metrics
	bus      domain.SignalBus
	dedup    *Dedup
	operator string
	lockTTL  time.Duration
	logger   *slog.Logger
}

// LiquidatorDeps groups the collaborators of a Liquidator. Store, Locks,
// Notifier, Metrics, Bus and Balances may be nil.
type LiquidatorDeps struct {
	Exec     domain.ExecutionLayer
	Waiter   domain.TxWaiter
	Finder   CandidateFinder
	Pools    PoolResolver
	Balances BalanceInvalidator
	Store    domain.LiquidationStore
	Locks    domain.LockManager
	// Limiter paces gateway dispatches across replicas, nil disables pacing.
	Limiter  domain.RateLimiter
	Notifier *notify.Notifier
	Metrics  *observability.Metrics
	Bus      domain.SignalBus
}

// NewLiquidator creates a Liquidator acting from the operator wallet.
func NewLiquidator(deps LiquidatorDeps, operator string, logger *slog.Logger) *Liquidator {
	return &Liquidator{
		exec:     deps.Exec,
		waiter:   deps.Waiter,
		finder:   deps.Finder,
		pools:    deps.Pools,
		balances: deps.Balances,
		store:    deps.Store,
		locks:    deps.Locks,
		limiter:  deps.Limiter,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		bus:      deps.Bus,
		dedup:    NewDedup(10 * time.Minute),
		operator: operator,
		lockTTL:  2 * time.Minute,
		logger:   logger.With(slog.String("component", "liquidator")),
	}
}

// Prepare builds the liquidation request for a candidate. The larger debt
// by USD value is repaid in full; without prices the larger raw debt wins.
func Prepare(c domain.LiquidatablePosition, pool domain.Pool) (domain.LiquidationRequest, error) {
	if c.BaseDebt <= 0 && c.QuoteDebt <= 0 {
		return domain.LiquidationRequest{}, fmt.Errorf("executor: manager %s has no debt", c.ManagerID)
	}

	baseValue, quoteValue := c.BaseDebt*c.BasePrice, c.QuoteDebt*c.QuotePrice
	debtIsBase := baseValue > quoteValue
	if baseValue == 0 && quoteValue == 0 {
		debtIsBase = c.BaseDebt > c.QuoteDebt
	}

	side, amount, coinType := domain.AssetQuote, c.QuoteDebt, c.QuoteType
	if debtIsBase {
		side, amount, coinType = domain.AssetBase, c.BaseDebt, c.BaseType
	}
	if t := pool.AssetType(side); t != "" {
		coinType = t
	}
	if coinType == "" {
		return domain.LiquidationRequest{}, fmt.Errorf("executor: no coin type for %s debt of %s", side, c.ManagerID)
	}

	decimals := pool.Decimals(side)
	if decimals <= 0 {
		return domain.LiquidationRequest{}, fmt.Errorf("executor: pool %s has no %s decimals", pool.Key(), side)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return domain.LiquidationRequest{}, fmt.Errorf("executor: %w: repay %v", domain.ErrInvalidNumber, amount)
	}
	scalar := decimal.New(1, int32(decimals))
	raw := decimal.NewFromFloat(amount).Mul(scalar).Floor()
	if !raw.IsPositive() {
		return domain.LiquidationRequest{}, fmt.Errorf("executor: repay of %v rounds to zero", amount)
	}

	poolKey := c.PoolKey
	if poolKey == "" {
		poolKey = pool.Key()
	}
	return domain.LiquidationRequest{
		ManagerID:   c.ManagerID,
		PoolKey:     poolKey,
		DebtIsBase:  debtIsBase,
		RepayAmount: amount,
		RepayRaw:    raw.BigInt().Uint64(),
		CoinType:    coinType,
		CoinScalar:  scalar.BigInt().Uint64(),
	}, nil
}

// Reset starts a new scan cycle; managers attempted in the last one may be
// attempted again.
func (l *Liquidator) Reset() {
	l.dedup.Reset()
}

// Execute liquidates one scanner candidate and waits for finality.
func (l *Liquidator) Execute(ctx context.Context, managerID string) (domain.TxResult, error) {
	c, err := l.finder.Find(ctx, managerID)
	if err != nil {
		return domain.TxResult{}, err
	}
	if l.dedup.IsDuplicate(c.ManagerID) {
		return domain.TxResult{}, fmt.Errorf("executor: %s: %w", c.ManagerID, ErrAlreadyAttempted)
	}

	if l.locks != nil {
		unlock, err := l.locks.Acquire(ctx, "liquidate:"+c.ManagerID, l.lockTTL)
		if err != nil {
			l.dedup.Forget(c.ManagerID)
			return domain.TxResult{}, fmt.Errorf("executor: lock %s: %w", c.ManagerID, err)
		}
		defer unlock()
	}

	pool, err := l.resolvePool(ctx, c)
	if err != nil {
		return domain.TxResult{}, l.failed(ctx, c, domain.LiquidationRequest{}, "", err)
	}
	req, err := Prepare(c, pool)
	if err != nil {
		return domain.TxResult{}, l.failed(ctx, c, req, "", err)
	}

	if l.limiter != nil {
		if err := l.limiter.Wait(ctx, "liquidations"); err != nil {
			l.dedup.Forget(c.ManagerID)
			return domain.TxResult{}, fmt.Errorf("executor: pace %s: %w", c.ManagerID, err)
		}
	}

	l.logger.InfoContext(ctx, "liquidator: dispatching",
		slog.String("manager_id", c.ManagerID),
		slog.String("pool", req.PoolKey),
		slog.Bool("debt_is_base", req.DebtIsBase),
		slog.Float64("repay", req.RepayAmount),
		slog.String("risk_ratio", domain.FormatRatio(c.RiskRatio)),
	)
	tx, err := l.exec.Liquidate(ctx, req)
	if err != nil {
		return domain.TxResult{}, l.failed(ctx, c, req, "", err)
	}
	if err := l.waiter.WaitForTransaction(ctx, tx.Digest); err != nil {
		return tx, l.failed(ctx, c, req, tx.Digest, err)
	}

	l.succeeded(ctx, c, req, tx.Digest)
	return tx, nil
}

func (l *Liquidator) resolvePool(ctx context.Context, c domain.LiquidatablePosition) (domain.Pool, error) {
	if c.PoolID != "" {
		if p, err := l.pools.PoolByID(ctx, c.PoolID); err == nil {
			return p, nil
		}
	}
	key := c.PoolKey
	if key == "" && c.BaseSymbol != "" {
		key = domain.PoolKeyFor(c.BaseSymbol, c.QuoteSymbol)
	}
	if key == "" {
		return domain.Pool{}, fmt.Errorf("executor: unknown pool for %s: %w", c.ManagerID, domain.ErrNotFound)
	}
	return l.pools.Pool(ctx, key)
}

func (l *Liquidator) succeeded(ctx context.Context, c domain.LiquidatablePosition, req domain.LiquidationRequest, digest string) {
	l.logger.InfoContext(ctx, "liquidator: liquidated",
		slog.String("manager_id", c.ManagerID),
		slog.String("digest", digest),
	)
	l.record(ctx, c, req, digest, domain.LiquidationSucceeded, nil)
	l.finder.Invalidate(ctx)
	if l.balances != nil && l.operator != "" {
		l.balances.Invalidate(ctx, l.operator)
	}
	l.metrics.ObserveLiquidation("success")
	l.publish(ctx, "executed", c, digest, nil)
	if err := l.notifier.Notifyf(ctx, notify.EventLiquidationDone, "Liquidation executed",
		"Manager %s on %s repaid %v (%s)", c.ManagerID, req.PoolKey, req.RepayAmount, digest); err != nil {
		l.logger.WarnContext(ctx, "liquidator: notify failed", slog.String("error", err.Error()))
	}
}

func (l *Liquidator) failed(ctx context.Context, c domain.LiquidatablePosition, req domain.LiquidationRequest, digest string, cause error) error {
	l.logger.ErrorContext(ctx, "liquidator: failed",
		slog.String("manager_id", c.ManagerID),
		slog.String("digest", digest),
		slog.String("error", cause.Error()),
	)
	l.record(ctx, c, req, digest, domain.LiquidationFailed, cause)
	l.metrics.ObserveLiquidation("failure")
	l.publish(ctx, "failed", c, digest, cause)
	if err := l.notifier.Notifyf(ctx, notify.EventLiquidationFailed, "Liquidation failed",
		"Manager %s: %v", c.ManagerID, cause); err != nil {
		l.logger.WarnContext(ctx, "liquidator: notify failed", slog.String("error", err.Error()))
	}
	if errors.Is(cause, domain.ErrActionFailed) {
		return fmt.Errorf("executor: liquidate %s: %w", c.ManagerID, cause)
	}
	return fmt.Errorf("executor: liquidate %s: %w: %w", c.ManagerID, domain.ErrActionFailed, cause)
}

func (l *Liquidator) record(ctx context.Context, c domain.LiquidatablePosition, req domain.LiquidationRequest, digest string, status domain.LiquidationStatus, cause error) {
	if l.store == nil {
		return
	}
	a := domain.LiquidationAttempt{
		ManagerID:   c.ManagerID,
		PoolKey:     c.PoolKey,
		DebtIsBase:  req.DebtIsBase,
		RepayAmount: req.RepayAmount,
		RiskRatio:   c.RiskRatio,
		Digest:      digest,
		Status:      status,
	}
	if req.PoolKey != "" {
		a.PoolKey = req.PoolKey
	}
	if cause != nil {
		a.Error = cause.Error()
	}
	if err := l.store.Insert(ctx, a); err != nil {
		l.logger.WarnContext(ctx, "liquidator: record attempt failed", slog.String("error", err.Error()))
	}
}

type liquidationEvent struct {
	Type      string    `json:"type"`
	ManagerID string    `json:"manager_id"`
	PoolKey   string    `json:"pool_key"`
	RiskRatio string    `json:"risk_ratio"`
	Digest    string    `json:"digest,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

func (l *Liquidator) publish(ctx context.Context, kind string, c domain.LiquidatablePosition, digest string, cause error) {
	if l.bus == nil {
		return
	}
	ev := liquidationEvent{
		Type:      kind,
		ManagerID: c.ManagerID,
		PoolKey:   c.PoolKey,
		RiskRatio: domain.FormatRatio(c.RiskRatio),
		Digest:    digest,
		At:        time.Now().UTC(),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := l.bus.Publish(ctx, domain.ChannelLiquidations, payload); err != nil {
		l.logger.WarnContext(ctx, "liquidator: publish failed", slog.String("error", err.Error()))
	}
}
