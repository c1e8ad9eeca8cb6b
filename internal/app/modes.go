package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marginbot/internal/domain"
	"github.com/alanyoungcy/marginbot/internal/executor"
	"github.com/alanyoungcy/marginbot/internal/notify"
	"github.com/alanyoungcy/marginbot/internal/risk"
	"github.com/alanyoungcy/marginbot/internal/server"
	"github.com/alanyoungcy/marginbot/internal/server/handler"
	"github.com/alanyoungcy/marginbot/internal/server/ws"
	"github.com/alanyoungcy/marginbot/internal/service"
)

// engine holds the services every mode shares. actions is nil in monitor
// mode and liquidator is nil outside full mode.
type engine struct {
	registry   *service.ManagerRegistry
	pools      *service.PoolService
	balances   *service.BalanceService
	reader     *service.PositionReader
	scanner    *service.LiquidationScanner
	actions    *service.ActionService
	liquidator *executor.Liquidator
}

func (a *App) buildEngine(deps *Dependencies, liquidate bool) (*engine, error) {
	thresholds := a.cfg.Risk.Thresholds()
	network := a.cfg.NetworkID()

	e := &engine{
		registry: service.NewManagerRegistry(deps.ManagerStore, a.logger),
		pools: service.NewPoolService(deps.Indexer, deps.PoolCache,
			a.cfg.Margin.AssetsFor(network), 0, a.logger),
		balances: service.NewBalanceService(deps.Chain, deps.BalanceCache, a.logger),
	}
	e.reader = service.NewPositionReader(deps.Indexer, deps.SnapshotCache, deps.SignalBus,
		deps.Notifier, deps.Metrics, service.PositionReaderConfig{
			Thresholds: thresholds,
			Interval:   a.cfg.Poll.PositionInterval.Duration,
		}, a.logger)
	e.scanner = service.NewLiquidationScanner(deps.Indexer, deps.LiquidatableCache, deps.SignalBus,
		deps.Notifier, deps.Metrics, thresholds.Liquidation,
		a.cfg.Poll.LiquidationInterval.Duration, a.logger)

	if deps.Gateway == nil {
		return e, nil
	}

	guard, err := risk.NewGuard(thresholds)
	if err != nil {
		return nil, fmt.Errorf("app: guard: %w", err)
	}
	sim, err := risk.NewSimulator(thresholds)
	if err != nil {
		return nil, fmt.Errorf("app: simulator: %w", err)
	}
	e.actions = service.NewActionService(service.ActionDeps{
		Registry:  e.registry,
		Pools:     e.pools,
		Balances:  e.balances,
		Reader:    e.reader,
		Exec:      deps.Gateway,
		Waiter:    deps.Chain,
		Guard:     guard,
		Simulator: sim,
		Audit:     deps.AuditStore,
		Notifier:  deps.Notifier,
		Metrics:   deps.Metrics,
		Bus:       deps.SignalBus,
	}, service.ActionConfig{
		Network: network,
		Deep: service.DeepAsset{
			CoinType: a.cfg.Margin.DeepFor(network),
			Decimals: a.cfg.Margin.DeepDecimals,
		},
		RefreshDelay: a.cfg.Poll.PostActionDelay.Duration,
		BuyHaircut:   a.cfg.Sizing.BuyHaircut,
	}, a.logger)

	if !liquidate {
		return e, nil
	}
	e.liquidator = executor.NewLiquidator(executor.LiquidatorDeps{
		Exec:     deps.Gateway,
		Waiter:   deps.Chain,
		Finder:   e.scanner,
		Pools:    e.pools,
		Balances: e.balances,
		Store:    deps.LiquidationStore,
		Locks:    deps.LockManager,
		Limiter:  deps.RateLimiter,
		Notifier: deps.Notifier,
		Metrics:  deps.Metrics,
		Bus:      deps.SignalBus,
	}, deps.Signer.Address(), a.logger)

	return e, nil
}

// linkScanCycles makes every completed scan open a new liquidation cycle, so
// a manager attempted in the previous cycle may be liquidated again while it
// is still a candidate.
func (e *engine) linkScanCycles() {
	if e.liquidator == nil {
		return
	}
	e.scanner.OnScan(func(context.Context, string, []domain.LiquidatablePosition) {
		e.liquidator.Reset()
	})
}

// MonitorMode polls positions and scans for liquidations without
// dispatching any transaction.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.run(ctx, deps, false)
}

// TradeMode additionally serves user actions.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")
	return a.run(ctx, deps, false)
}

// FullMode is TradeMode plus user-confirmed liquidation of scanner
// candidates. Each liquidation is a separate request; nothing is executed
// from the scan loop.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.run(ctx, deps, true)
}

func (a *App) run(ctx context.Context, deps *Dependencies, liquidate bool) error {
	e, err := a.buildEngine(deps, liquidate)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	// Warm the pool cache; the services fall back to a lazy refresh.
	if err := e.pools.Refresh(ctx); err != nil {
		a.logger.WarnContext(ctx, "pool metadata unavailable at startup",
			slog.String("error", err.Error()),
		)
	}

	poolFilter := a.cfg.Poll.LiquidationPool
	e.linkScanCycles()
	e.scanner.Start(ctx, poolFilter)

	for _, id := range a.cfg.Poll.Watch {
		if _, err := e.reader.Watch(ctx, id); err != nil {
			a.logger.WarnContext(ctx, "cannot watch manager",
				slog.String("manager_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, e)
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveJob(ctx, deps.Archiver, deps.Notifier)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		e.scanner.Stop()
		e.reader.Close()
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, e *engine) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		Network:   a.cfg.Network,
		Origins:   a.cfg.Server.CORSOrigins,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Network, a.cfg.Mode, deps.Pingers, a.logger),
		Positions: handler.NewPositionHandler(e.reader, a.logger),
		Managers:  handler.NewManagerHandler(e.registry, a.cfg.NetworkID(), a.logger),
		Metrics:   deps.Metrics.Handler(),
	}
	if e.actions != nil {
		handlers.Actions = handler.NewActionHandler(e.actions, a.logger)
	}
	if e.liquidator != nil {
		handlers.Liquidations = handler.NewLiquidationHandler(e.scanner, e.liquidator, deps.LiquidationStore, a.logger)
	} else {
		handlers.Liquidations = handler.NewLiquidationHandler(e.scanner, nil, deps.LiquidationStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Host:        a.cfg.Server.Host,
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, server.Deps{
		Limiter: deps.RateLimiter,
		Metrics: deps.Metrics,
	}, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// runArchiveJob moves audit entries and liquidation attempts older than the
// retention window to cold storage every archive interval.
func (a *App) runArchiveJob(ctx context.Context, archiver domain.Archiver, notifier *notify.Notifier) error {
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
	defer ticker.Stop()

	archive := func() {
		before := time.Now().UTC().Add(-retention)
		audit, err := archiver.ArchiveAudit(ctx, before)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive: audit failed", slog.String("error", err.Error()))
		}
		liqs, lerr := archiver.ArchiveLiquidations(ctx, before)
		if lerr != nil {
			a.logger.ErrorContext(ctx, "archive: liquidations failed", slog.String("error", lerr.Error()))
		}
		if err != nil || lerr != nil || audit+liqs == 0 {
			return
		}
		a.logger.InfoContext(ctx, "archive: uploaded",
			slog.Int64("audit", audit),
			slog.Int64("liquidations", liqs),
			slog.Time("before", before),
		)
		if nerr := notifier.Notifyf(ctx, notify.EventArchive, "Archive",
			"Archived %d audit entries and %d liquidation attempts before %s",
			audit, liqs, before.Format(time.DateOnly)); nerr != nil {
			a.logger.WarnContext(ctx, "archive: notify failed", slog.String("error", nerr.Error()))
		}
	}

	archive()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			archive()
		}
	}
}
