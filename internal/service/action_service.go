package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/marginbot/internal/domain"
	"github.com/alanyoungcy/marginbot/internal/notify"
	"github.com/alanyoungcy/marginbot/internal/observability"
	"github.com/alanyoungcy/marginbot/internal/precision"
	"github.com/alanyoungcy/marginbot/internal/risk"
	"github.com/alanyoungcy/marginbot/internal/sizing"
)

// staleStateSignatures are execution failures caused by acting on state the
// chain has already moved past. They force a snapshot refetch.
var staleStateSignatures = []string{
	"order not found",
	"object version",
	"EOrderInfoNotExist",
	"not available for consumption",
}

// DeepAsset describes the venue fee token held as third collateral.
type DeepAsset struct {
	CoinType string
	Decimals int
}

// ActionConfig holds the static settings of an ActionService.
type ActionConfig struct {
	Network      domain.Network
	Deep         DeepAsset
	RefreshDelay time.Duration
	BuyHaircut   float64
}

// ActionService checks, dispatches and follows up state-changing actions on
// margin accounts.
type ActionService struct {
	registry  *ManagerRegistry
	pools     *PoolService
	balances  *BalanceService
	reader    *PositionReader
	exec      domain.ExecutionLayer
	waiter    domain.TxWaiter
	guard     *risk.Guard
	simulator *risk.Simulator
	audit     domain.AuditStore
	notifier  *notify.Notifier
	metrics   *observability.Metrics
	bus       domain.SignalBus
	cfg       ActionConfig
	logger    *slog.Logger
}

// ActionDeps groups the collaborators of an ActionService. Audit, Notifier,
// Metrics and Bus may be nil.
type ActionDeps struct {
	Registry  *ManagerRegistry
	Pools     *PoolService
	Balances  *BalanceService
	Reader    *PositionReader
	Exec      domain.ExecutionLayer
	Waiter    domain.TxWaiter
	Guard     *risk.Guard
	Simulator *risk.Simulator
	Audit     domain.AuditStore
	Notifier  *notify.Notifier
	Metrics   *observability.Metrics
	Bus       domain.SignalBus
}

// NewActionService creates an ActionService.
func NewActionService(deps ActionDeps, cfg ActionConfig, logger *slog.Logger) *ActionService {
	if cfg.RefreshDelay < 0 {
		cfg.RefreshDelay = 0
	}
	if cfg.Deep.Decimals == 0 {
		cfg.Deep.Decimals = 6
	}
	return &ActionService{
		registry:  deps.Registry,
		pools:     deps.Pools,
		balances:  deps.Balances,
		reader:    deps.Reader,
		exec:      deps.Exec,
		waiter:    deps.Waiter,
		guard:     deps.Guard,
		simulator: deps.Simulator,
		audit:     deps.Audit,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		bus:       deps.Bus,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "action_service")),
	}
}

// Account identifies one margin account: an owner's manager on a pool.
type Account struct {
	Pool      domain.Pool
	ManagerID string
	Position  domain.MarginPosition
	Snapshot  domain.PositionSnapshot
}

// CheckResult is a guard verdict together with the request as it would be
// submitted (orders rounded to pool precision).
type CheckResult struct {
	Decision risk.Decision
	Request  domain.ActionRequest
	Account  Account
}

// ActionResult is the outcome of Execute. A guard rejection is reported
// here with a nil error; execution failures return an error.
type ActionResult struct {
	Kind      domain.ActionKind
	Decision  risk.Decision
	Digest    string
	ManagerID string
}

// Resolve loads the pool, manager id and current position for an account.
// An account without a manager gets the empty position of the pool.
func (s *ActionService) Resolve(ctx context.Context, account, poolKey, managerID string) (Account, error) {
	pool, err := s.pools.Pool(ctx, poolKey)
	if err != nil {
		return Account{}, err
	}
	if managerID == "" {
		managerID, err = s.registry.Lookup(ctx, s.cfg.Network, account, pool.Key())
		if err != nil {
			return Account{}, err
		}
	}
	if managerID == "" {
		return Account{Pool: pool, Position: domain.EmptyPosition(pool.Key())}, nil
	}

	snap, err := s.reader.Read(ctx, managerID)
	if err != nil {
		return Account{}, fmt.Errorf("action_service: position: %w", err)
	}
	pos := snap.Position
	if pos.PoolKey == "" {
		pos.PoolKey = pool.Key()
	}
	if pos.BaseSymbol == "" {
		pos.BaseSymbol, pos.QuoteSymbol = pool.BaseSymbol, pool.QuoteSymbol
	}
	return Account{Pool: pool, ManagerID: pos.ManagerID, Position: pos, Snapshot: snap}, nil
}

// Check runs the guard against the account's current position without
// dispatching anything.
func (s *ActionService) Check(ctx context.Context, req domain.ActionRequest) (CheckResult, error) {
	if req.Network == "" {
		req.Network = s.cfg.Network
	}
	acct, err := s.Resolve(ctx, req.Account, req.PoolKey, req.ManagerID)
	if err != nil {
		return CheckResult{}, err
	}
	req.PoolKey = acct.Pool.Key()
	req.ManagerID = acct.ManagerID
	pos := acct.Position

	var d risk.Decision
	switch req.Kind {
	case domain.ActionDeposit:
		coinType, decimals := s.assetCoin(acct.Pool, req.Asset)
		balance, err := s.balances.WalletBalance(ctx, req.Account, coinType, decimals)
		if err != nil {
			return CheckResult{}, fmt.Errorf("action_service: wallet balance: %w", err)
		}
		d = s.guard.CheckDeposit(pos, req.Asset, req.Amount, balance)
	case domain.ActionWithdraw:
		d = s.guard.CheckWithdraw(pos, req.Asset, req.Amount)
	case domain.ActionBorrow:
		d = s.guard.CheckBorrow(pos, req.Asset, req.Amount)
	case domain.ActionRepay:
		d = s.guard.CheckRepay(pos, req.Asset, req.Amount)
	case domain.ActionLimitOrder, domain.ActionMarketOrder:
		if req.Order == nil {
			d = risk.Reject(risk.ReasonInvalidAmount, "order details missing")
			break
		}
		order, err := roundOrder(acct.Pool, *req.Order, req.Kind == domain.ActionMarketOrder)
		if err != nil {
			d = risk.Reject(risk.ReasonInvalidAmount, "%v", err)
			break
		}
		req.Order = &order
		d = s.guard.CheckOrder(pos, acct.Pool, order)
	case domain.ActionCancelOrder:
		switch {
		case !pos.HasManager():
			d = risk.Reject(risk.ReasonNoManager, "no margin manager for %s", req.PoolKey)
		case strings.TrimSpace(req.OrderID) == "":
			d = risk.Reject(risk.ReasonInvalidAmount, "order id required")
		default:
			d = risk.Allow()
		}
	case domain.ActionCancelAllOrders, domain.ActionWithdrawSettled:
		if !pos.HasManager() {
			d = risk.Reject(risk.ReasonNoManager, "no margin manager for %s", req.PoolKey)
		} else {
			d = risk.Allow()
		}
	default:
		return CheckResult{}, fmt.Errorf("action_service: unsupported action %q", req.Kind)
	}

	s.metrics.ObserveGuard(string(req.Kind), string(d.Reason))
	return CheckResult{Decision: d, Request: req, Account: acct}, nil
}

// roundOrder snaps quantity and price to the pool's precision. Market
// orders carry no limit price.
func roundOrder(pool domain.Pool, o domain.OrderRequest, market bool) (domain.OrderRequest, error) {
	r, err := precision.New(pool)
	if err != nil {
		return o, err
	}
	if o.Quantity, err = r.RoundBase(o.Quantity); err != nil {
		return o, err
	}
	if market {
		o.Price = 0
		return o, nil
	}
	if o.Price <= 0 {
		return o, fmt.Errorf("limit price must be positive")
	}
	if o.Price, err = r.RoundQuote(o.Price); err != nil {
		return o, err
	}
	return o, nil
}

func (s *ActionService) assetCoin(pool domain.Pool, side domain.AssetSide) (string, int) {
	if side == domain.AssetDeep {
		return s.cfg.Deep.CoinType, s.cfg.Deep.Decimals
	}
	return pool.AssetType(side), pool.Decimals(side)
}

// Execute checks and, if permitted, dispatches the action and waits for it
// to finalize. After success the affected snapshot and wallet balances are
// invalidated and refetched.
func (s *ActionService) Execute(ctx context.Context, req domain.ActionRequest) (ActionResult, error) {
	start := time.Now()
	if req.Network == "" {
		req.Network = s.cfg.Network
	}
	if req.Kind == domain.ActionLiquidate {
		return ActionResult{}, fmt.Errorf("action_service: liquidations go through the liquidator")
	}
	if req.Kind == domain.ActionCreateManager {
		return s.createManager(ctx, req, start)
	}

	check, err := s.Check(ctx, req)
	if err != nil {
		s.metrics.ObserveAction(string(req.Kind), "error", time.Since(start))
		return ActionResult{Kind: req.Kind}, err
	}
	res := ActionResult{Kind: req.Kind, Decision: check.Decision, ManagerID: check.Request.ManagerID}
	if !check.Decision.Allowed {
		s.logger.InfoContext(ctx, "action_service: rejected",
			slog.String("kind", string(req.Kind)),
			slog.String("reason", string(check.Decision.Reason)),
			slog.String("detail", check.Decision.Detail),
		)
		s.metrics.ObserveAction(string(req.Kind), "rejected", time.Since(start))
		return res, nil
	}

	req = check.Request
	digest, err := s.dispatch(ctx, req)
	if err != nil {
		return res, s.fail(ctx, req, digest, err, start)
	}
	res.Digest = digest
	s.succeed(ctx, req, digest, start)
	return res, nil
}

func (s *ActionService) dispatch(ctx context.Context, req domain.ActionRequest) (string, error) {
	tx, err := s.exec.Submit(ctx, req)
	if err != nil {
		return "", err
	}
	if err := s.waiter.WaitForTransaction(ctx, tx.Digest); err != nil {
		return tx.Digest, err
	}
	return tx.Digest, nil
}

func (s *ActionService) createManager(ctx context.Context, req domain.ActionRequest, start time.Time) (ActionResult, error) {
	res := ActionResult{Kind: req.Kind}
	pool, err := s.pools.Pool(ctx, req.PoolKey)
	if err != nil {
		return res, err
	}
	req.PoolKey = pool.Key()

	if ok, reason := s.pools.MarginSupport(pool); !ok {
		res.Decision = risk.Reject(risk.ReasonMarginUnsupported, "%s", reason)
	} else if existing, err := s.registry.Lookup(ctx, req.Network, req.Account, req.PoolKey); err != nil {
		return res, err
	} else if existing != "" {
		res.ManagerID = existing
		res.Decision = risk.Reject(risk.ReasonManagerExists, "manager %s already exists for %s", existing, req.PoolKey)
	} else {
		res.Decision = risk.Allow()
	}
	s.metrics.ObserveGuard(string(req.Kind), string(res.Decision.Reason))
	if !res.Decision.Allowed {
		s.metrics.ObserveAction(string(req.Kind), "rejected", time.Since(start))
		return res, nil
	}

	tx, err := s.exec.Submit(ctx, req)
	if err != nil {
		return res, s.fail(ctx, req, "", err, start)
	}
	if err := s.waiter.WaitForTransaction(ctx, tx.Digest); err != nil {
		return res, s.fail(ctx, req, tx.Digest, err, start)
	}
	if tx.ManagerID == "" {
		return res, s.fail(ctx, req, tx.Digest, errors.New("no manager id in result"), start)
	}
	rec, err := s.registry.Register(ctx, req.Network, req.Account, req.PoolKey, tx.ManagerID)
	if err != nil {
		return res, err
	}
	res.Digest, res.ManagerID = tx.Digest, rec.ManagerID
	req.ManagerID = rec.ManagerID
	s.succeed(ctx, req, tx.Digest, start)
	return res, nil
}

func (s *ActionService) succeed(ctx context.Context, req domain.ActionRequest, digest string, start time.Time) {
	s.logger.InfoContext(ctx, "action_service: executed",
		slog.String("kind", string(req.Kind)),
		slog.String("manager_id", req.ManagerID),
		slog.String("digest", digest),
	)
	if req.Kind.TouchesWallet() {
		s.balances.Invalidate(ctx, req.Account)
	}
	if req.ManagerID != "" {
		if req.Kind.TouchesCollateral() {
			s.reader.RefreshAfter(ctx, req.ManagerID, s.cfg.RefreshDelay)
		} else {
			s.reader.Invalidate(ctx, req.ManagerID)
		}
	}

	s.metrics.ObserveAction(string(req.Kind), "success", time.Since(start))
	s.record(ctx, "action.succeeded", req, digest, nil)
	if err := s.notifier.Notifyf(ctx, notify.EventActionSucceeded, "Action succeeded",
		"%s on %s (%s)", req.Kind, req.PoolKey, digest); err != nil {
		s.logger.WarnContext(ctx, "action_service: notify failed", slog.String("error", err.Error()))
	}
	publish(ctx, s.bus, s.logger, domain.ChannelActions, ActionEvent{
		Kind: string(req.Kind), Account: req.Account, PoolKey: req.PoolKey,
		ManagerID: req.ManagerID, Digest: digest, OK: true, At: time.Now().UTC(),
	})
}

func (s *ActionService) fail(ctx context.Context, req domain.ActionRequest, digest string, cause error, start time.Time) error {
	s.logger.ErrorContext(ctx, "action_service: failed",
		slog.String("kind", string(req.Kind)),
		slog.String("manager_id", req.ManagerID),
		slog.String("digest", digest),
		slog.String("error", cause.Error()),
	)
	if req.ManagerID != "" && IsStaleState(cause) {
		s.reader.Invalidate(ctx, req.ManagerID)
	}

	s.metrics.ObserveAction(string(req.Kind), "failure", time.Since(start))
	s.record(ctx, "action.failed", req, digest, cause)
	if err := s.notifier.Notifyf(ctx, notify.EventActionFailed, "Action failed",
		"%s on %s: %v", req.Kind, req.PoolKey, cause); err != nil {
		s.logger.WarnContext(ctx, "action_service: notify failed", slog.String("error", err.Error()))
	}
	publish(ctx, s.bus, s.logger, domain.ChannelActions, ActionEvent{
		Kind: string(req.Kind), Account: req.Account, PoolKey: req.PoolKey,
		ManagerID: req.ManagerID, Digest: digest, Error: cause.Error(), At: time.Now().UTC(),
	})

	if errors.Is(cause, domain.ErrActionFailed) {
		return fmt.Errorf("action_service: %s: %w", req.Kind, cause)
	}
	return fmt.Errorf("action_service: %s: %w: %w", req.Kind, domain.ErrActionFailed, cause)
}

func (s *ActionService) record(ctx context.Context, event string, req domain.ActionRequest, digest string, cause error) {
	if s.audit == nil {
		return
	}
	detail := map[string]any{
		"kind":       string(req.Kind),
		"network":    string(req.Network),
		"account":    req.Account,
		"pool_key":   req.PoolKey,
		"manager_id": req.ManagerID,
		"asset":      string(req.Asset),
		"amount":     req.Amount,
		"digest":     digest,
	}
	if req.Order != nil {
		detail["side"] = string(req.Order.Side)
		detail["quantity"] = req.Order.Quantity
		detail["price"] = req.Order.Price
	}
	if req.OrderID != "" {
		detail["order_id"] = req.OrderID
	}
	if cause != nil {
		detail["error"] = cause.Error()
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "action_service: audit failed", slog.String("error", err.Error()))
	}
}

// IsStaleState reports whether err is an execution failure caused by stale
// on-chain state.
func IsStaleState(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, sig := range staleStateSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// PreviewResult pairs the current valuation with the projected one and the
// account's borrow and withdraw limits in the action's asset.
type PreviewResult struct {
	Current     risk.Preview
	Projected   risk.Preview
	MaxBorrow   float64
	MaxWithdraw float64
}

// Preview projects the effect of a deposit, withdraw, borrow or repay.
func (s *ActionService) Preview(ctx context.Context, req domain.ActionRequest) (PreviewResult, error) {
	acct, err := s.Resolve(ctx, req.Account, req.PoolKey, req.ManagerID)
	if err != nil {
		return PreviewResult{}, err
	}
	current, err := s.simulator.Current(acct.Position)
	if err != nil {
		return PreviewResult{}, fmt.Errorf("action_service: preview: %w", err)
	}
	projected, err := s.simulator.Simulate(acct.Position, req.Kind, req.Asset, req.Amount)
	if err != nil {
		return PreviewResult{}, fmt.Errorf("action_service: preview: %w", err)
	}
	out := PreviewResult{Current: current, Projected: projected}
	if out.MaxBorrow, err = s.guard.MaxBorrow(acct.Position, req.Asset); err != nil {
		return PreviewResult{}, fmt.Errorf("action_service: preview: %w", err)
	}
	if out.MaxWithdraw, err = s.guard.MaxWithdraw(acct.Position, req.Asset); err != nil {
		return PreviewResult{}, fmt.Errorf("action_service: preview: %w", err)
	}
	return out, nil
}

// SizeRequest asks for an order quantity as a fraction of available
// collateral.
type SizeRequest struct {
	Account   string
	PoolKey   string
	ManagerID string
	Side      domain.OrderSide
	Fraction  float64
	Price     float64
}

// SizeOrder returns a lot-aligned quantity for the fraction of collateral.
func (s *ActionService) SizeOrder(ctx context.Context, req SizeRequest) (float64, error) {
	acct, err := s.Resolve(ctx, req.Account, req.PoolKey, req.ManagerID)
	if err != nil {
		return 0, err
	}
	if !acct.Position.HasManager() {
		return 0, fmt.Errorf("action_service: size: %w", domain.ErrNoManager)
	}
	sz, err := sizing.New(acct.Pool, s.cfg.BuyHaircut)
	if err != nil {
		return 0, err
	}
	price := req.Price
	if price <= 0 {
		price = acct.Position.CurrentPrice
	}
	return sz.ForPosition(acct.Position, req.Side, req.Fraction, price)
}
