package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/marginbot/internal/domain"
	"github.com/alanyoungcy/marginbot/internal/notify"
	"github.com/alanyoungcy/marginbot/internal/observability"
	"github.com/alanyoungcy/marginbot/internal/poll"
	"github.com/alanyoungcy/marginbot/internal/risk"
)

// PositionSource fetches the indexed state of one margin manager.
type PositionSource interface {
	MarginPosition(ctx context.Context, managerID string) (domain.MarginPosition, error)
}

// PositionReaderConfig tunes a PositionReader.
type PositionReaderConfig struct {
	Thresholds risk.Thresholds
	// Interval is the watch poll period and the age after which a snapshot
	// is refetched on Read.
	Interval time.Duration
}

// PositionReader turns indexer state into position snapshots. It keeps the
// last good snapshot per manager, shares it through an optional cache and
// marks it stale instead of dropping it when the indexer fails.
type PositionReader struct {
	source   PositionSource
	cache    domain.SnapshotCache
	bus      domain.SignalBus
	notifier *notify.Notifier
	metrics  *observability.Metrics
	cfg      PositionReaderConfig
	logger   *slog.Logger

	sf  singleflight.Group
	seq *poll.Sequencer
	now func() time.Time

	mu      sync.RWMutex
	snaps   map[string]domain.PositionSnapshot
	watches map[string]*watch

	pending sync.WaitGroup
}

type watch struct {
	sub  *poll.Subscription
	refs int
}

// NewPositionReader creates a PositionReader. cache, bus, notifier and
// metrics may be nil.
func NewPositionReader(
	source PositionSource,
	cache domain.SnapshotCache,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	metrics *observability.Metrics,
	cfg PositionReaderConfig,
	logger *slog.Logger,
) *PositionReader {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &PositionReader{
		source:   source,
		cache:    cache,
		bus:      bus,
		notifier: notifier,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "position_reader")),
		seq:      poll.NewSequencer(),
		now:      time.Now,
		snaps:    make(map[string]domain.PositionSnapshot),
		watches:  make(map[string]*watch),
	}
}

// Read returns a recent snapshot, fetching one if the local and shared
// copies are missing or older than the poll interval.
func (r *PositionReader) Read(ctx context.Context, managerID string) (domain.PositionSnapshot, error) {
	id, err := domain.NormalizeObjectID(managerID)
	if err != nil {
		return domain.PositionSnapshot{}, fmt.Errorf("position_reader: %w", err)
	}

	if snap, ok := r.local(id); ok && r.fresh(snap) {
		return snap, nil
	}
	if r.cache != nil {
		if snap, err := r.cache.Get(ctx, id); err == nil && r.fresh(snap) {
			r.mu.Lock()
			r.snaps[id] = snap
			r.mu.Unlock()
			return snap, nil
		}
	}
	return r.Refresh(ctx, id)
}

// Refresh fetches the manager's state now. Concurrent refreshes of the same
// manager share one request.
//
// When the indexer fails and an earlier snapshot exists, that snapshot is
// returned marked stale together with the error. Without an earlier
// snapshot only the error is returned. A fetch overtaken by Invalidate
// returns its snapshot marked stale with domain.ErrSuperseded.
func (r *PositionReader) Refresh(ctx context.Context, managerID string) (domain.PositionSnapshot, error) {
	id, err := domain.NormalizeObjectID(managerID)
	if err != nil {
		return domain.PositionSnapshot{}, fmt.Errorf("position_reader: %w", err)
	}

	type outcome struct {
		snap domain.PositionSnapshot
		err  error
	}
	v, _, _ := r.sf.Do(id, func() (any, error) {
		snap, err := r.fetch(ctx, id)
		return outcome{snap, err}, nil
	})
	out := v.(outcome)
	return out.snap, out.err
}

func (r *PositionReader) fetch(ctx context.Context, id string) (domain.PositionSnapshot, error) {
	seq := r.seq.Next(id)
	pos, err := r.source.MarginPosition(ctx, id)

	switch {
	case errors.Is(err, domain.ErrNotFound):
		// Known manager the indexer has not caught up with yet.
		pos = domain.EmptyPosition("")
		pos.ManagerID = id
		pos.Indexed = false
	case err != nil:
		return r.markStale(ctx, id, err)
	default:
		pos = r.evaluate(pos)
	}

	snap := domain.PositionSnapshot{Position: pos, FetchedAt: r.now()}
	if !r.seq.IsLatest(id, seq) {
		// Invalidated while in flight; the response may predate the change.
		r.logger.DebugContext(ctx, "position_reader: discarding superseded fetch", slog.String("manager_id", id))
		snap.Stale = true
		snap.LastError = domain.ErrSuperseded.Error()
		return snap, fmt.Errorf("position_reader: %s: %w", id, domain.ErrSuperseded)
	}

	prev, hadPrev := r.local(id)
	r.store(ctx, id, snap)

	result := "ok"
	if !pos.Indexed {
		result = "unindexed"
	}
	r.metrics.ObservePosition(id, result, pos.RiskRatio, false)
	r.publish(ctx, snap)
	if !hadPrev || prev.Position.Health != pos.Health {
		r.notifyHealth(ctx, pos)
	}
	return snap, nil
}

// evaluate derives the ratio from balances and prices, keeping the indexer's
// ratio when a price is missing, and classifies it.
func (r *PositionReader) evaluate(p domain.MarginPosition) domain.MarginPosition {
	if ratio, err := risk.PositionRatio(p); err == nil {
		p.RiskRatio = ratio
	}
	p.Health = risk.Classify(p.RiskRatio, r.cfg.Thresholds)
	return p
}

func (r *PositionReader) markStale(ctx context.Context, id string, cause error) (domain.PositionSnapshot, error) {
	r.logger.WarnContext(ctx, "position_reader: fetch failed",
		slog.String("manager_id", id),
		slog.String("error", cause.Error()),
	)
	prev, ok := r.local(id)
	if !ok && r.cache != nil {
		if cached, err := r.cache.Get(ctx, id); err == nil {
			prev, ok = cached, true
		}
	}
	if !ok {
		r.metrics.ObservePosition(id, "error", math.NaN(), false)
		return domain.PositionSnapshot{}, fmt.Errorf("position_reader: %s: %w", id, cause)
	}

	prev.Stale = true
	prev.LastError = cause.Error()
	r.mu.Lock()
	r.snaps[id] = prev
	r.mu.Unlock()
	r.metrics.ObservePosition(id, "error", prev.Position.RiskRatio, true)
	r.publish(ctx, prev)
	return prev, fmt.Errorf("position_reader: %s: %w", id, cause)
}

func (r *PositionReader) store(ctx context.Context, id string, snap domain.PositionSnapshot) {
	r.mu.Lock()
	r.snaps[id] = snap
	r.mu.Unlock()
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, snap); err != nil {
		r.logger.WarnContext(ctx, "position_reader: cache set failed",
			slog.String("manager_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (r *PositionReader) local(id string) (domain.PositionSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snaps[id]
	return snap, ok
}

func (r *PositionReader) fresh(snap domain.PositionSnapshot) bool {
	return !snap.Stale && r.now().Sub(snap.FetchedAt) < r.cfg.Interval
}

// Invalidate drops the manager's snapshot so the next Read refetches. A
// fetch already in flight is not applied.
func (r *PositionReader) Invalidate(ctx context.Context, managerID string) {
	id, err := domain.NormalizeObjectID(managerID)
	if err != nil {
		return
	}
	r.seq.Next(id)
	r.mu.Lock()
	delete(r.snaps, id)
	r.mu.Unlock()
	if r.cache != nil {
		if err := r.cache.Invalidate(ctx, id); err != nil {
			r.logger.WarnContext(ctx, "position_reader: cache invalidate failed",
				slog.String("manager_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// RefreshAfter invalidates the snapshot now and refetches it after delay,
// giving the indexer time to see a just-finalized transaction. The refetch
// outlives ctx's cancellation.
func (r *PositionReader) RefreshAfter(ctx context.Context, managerID string, delay time.Duration) {
	r.Invalidate(ctx, managerID)
	bg := context.WithoutCancel(ctx)
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		<-timer.C
		refreshCtx, cancel := context.WithTimeout(bg, 30*time.Second)
		defer cancel()
		if _, err := r.Refresh(refreshCtx, managerID); err != nil {
			r.logger.WarnContext(refreshCtx, "position_reader: delayed refresh failed",
				slog.String("manager_id", managerID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Watch polls the manager until the returned stop function is called.
// Watches are reference counted per manager.
func (r *PositionReader) Watch(ctx context.Context, managerID string) (func(), error) {
	id, err := domain.NormalizeObjectID(managerID)
	if err != nil {
		return nil, fmt.Errorf("position_reader: %w", err)
	}

	r.mu.Lock()
	w, ok := r.watches[id]
	if !ok {
		w = &watch{sub: poll.NewSubscription("position:"+id, r.cfg.Interval, func(ctx context.Context) error {
			_, err := r.Refresh(ctx, id)
			return err
		}, r.logger)}
		r.watches[id] = w
	}
	w.refs++
	r.mu.Unlock()
	w.sub.Start(ctx)

	var once sync.Once
	return func() { once.Do(func() { r.unwatch(id) }) }, nil
}

func (r *PositionReader) unwatch(id string) {
	r.mu.Lock()
	w, ok := r.watches[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	w.refs--
	last := w.refs == 0
	if last {
		delete(r.watches, id)
	}
	r.mu.Unlock()
	if last {
		w.sub.Stop()
		r.metrics.ForgetPosition(id)
	}
}

// Watched returns the manager ids currently being polled.
func (r *PositionReader) Watched() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.watches))
	for id := range r.watches {
		ids = append(ids, id)
	}
	return ids
}

// Close stops every watch and waits for delayed refreshes.
func (r *PositionReader) Close() {
	r.mu.Lock()
	watches := r.watches
	r.watches = make(map[string]*watch)
	r.mu.Unlock()
	for _, w := range watches {
		w.sub.Stop()
	}
	r.pending.Wait()
}

func (r *PositionReader) publish(ctx context.Context, snap domain.PositionSnapshot) {
	p := snap.Position
	publish(ctx, r.bus, r.logger, domain.ChannelPositions, PositionEvent{
		ManagerID: p.ManagerID,
		PoolKey:   p.PoolKey,
		RiskRatio: domain.FormatRatio(p.RiskRatio),
		Health:    string(p.Health),
		Stale:     snap.Stale,
		Indexed:   p.Indexed,
		FetchedAt: snap.FetchedAt,
	})
}

func (r *PositionReader) notifyHealth(ctx context.Context, p domain.MarginPosition) {
	var event string
	switch p.Health {
	case domain.HealthWarning:
		event = notify.EventHealthWarning
	case domain.HealthLiquidatable:
		event = notify.EventHealthLiquidatable
	default:
		return
	}
	if err := r.notifier.Notifyf(ctx, event, "Margin health: "+string(p.Health),
		"Manager %s on %s has risk ratio %s", p.ManagerID, p.PoolKey, domain.FormatRatio(p.RiskRatio)); err != nil {
		r.logger.WarnContext(ctx, "position_reader: notify failed", slog.String("error", err.Error()))
	}
}
