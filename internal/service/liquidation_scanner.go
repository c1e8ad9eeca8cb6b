package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/marginbot/internal/domain"
	"github.com/alanyoungcy/marginbot/internal/notify"
	"github.com/alanyoungcy/marginbot/internal/observability"
	"github.com/alanyoungcy/marginbot/internal/poll"
)

// LiquidationSource lists managers at or below a risk ratio.
type LiquidationSource interface {
	LiquidatablePositions(ctx context.Context, maxRiskRatio float64, poolID string) ([]domain.LiquidatablePosition, error)
}

// ScanState is where a scan of one pool filter stands. A cycle runs
// Idle -> Scanning -> Found|Empty -> Idle; the Found or Empty of the last
// completed cycle stays available through Outcome.
type ScanState string

const (
	ScanIdle     ScanState = "idle"
	ScanScanning ScanState = "scanning"
	ScanFound    ScanState = "found"
	ScanEmpty    ScanState = "empty"
)

// ScanHook is called with the candidates of every completed scan.
type ScanHook func(ctx context.Context, poolID string, candidates []domain.LiquidatablePosition)

// LiquidationScanner finds liquidatable managers, optionally per pool.
type LiquidationScanner struct {
	source   LiquidationSource
	cache    domain.LiquidatableCache
	bus      domain.SignalBus
	notifier *notify.Notifier
	metrics  *observability.Metrics
	maxRatio float64
	interval time.Duration
	logger   *slog.Logger

	seq *poll.Sequencer

	mu        sync.RWMutex
	states    map[string]ScanState
	outcomes  map[string]ScanState
	results   map[string][]domain.LiquidatablePosition
	scannedAt map[string]time.Time
	subs      map[string]*poll.Subscription
	hooks     []ScanHook
}

// NewLiquidationScanner creates a scanner that reports managers whose ratio
// is at or below maxRatio. cache, bus, notifier and metrics may be nil.
func NewLiquidationScanner(
	source LiquidationSource,
	cache domain.LiquidatableCache,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	metrics *observability.Metrics,
	maxRatio float64,
	interval time.Duration,
	logger *slog.Logger,
) *LiquidationScanner {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &LiquidationScanner{
		source:    source,
		cache:     cache,
		bus:       bus,
		notifier:  notifier,
		metrics:   metrics,
		maxRatio:  maxRatio,
		interval:  interval,
		logger:    logger.With(slog.String("component", "liquidation_scanner")),
		seq:       poll.NewSequencer(),
		states:    make(map[string]ScanState),
		outcomes:  make(map[string]ScanState),
		results:   make(map[string][]domain.LiquidatablePosition),
		scannedAt: make(map[string]time.Time),
		subs:      make(map[string]*poll.Subscription),
	}
}

// OnScan registers a hook run after every completed scan.
func (s *LiquidationScanner) OnScan(h ScanHook) {
	s.mu.Lock()
	s.hooks = append(s.hooks, h)
	s.mu.Unlock()
}

// State returns the scan state for a pool filter ("" for all pools).
func (s *LiquidationScanner) State(poolID string) ScanState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[poolID]; ok {
		return st
	}
	return ScanIdle
}

// Outcome returns Found or Empty for the last completed scan of a filter.
func (s *LiquidationScanner) Outcome(poolID string) (ScanState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.outcomes[poolID]
	return st, ok
}

// Scan queries the indexer now. Candidates are ordered riskiest first. When
// an older scan of the same filter finishes after a newer one, its result is
// dropped.
func (s *LiquidationScanner) Scan(ctx context.Context, poolID string) ([]domain.LiquidatablePosition, error) {
	seq := s.seq.Next(poolID)
	s.setState(poolID, ScanScanning)

	found, err := s.source.LiquidatablePositions(ctx, s.maxRatio, poolID)
	if err != nil {
		if s.seq.IsLatest(poolID, seq) {
			s.setState(poolID, ScanIdle)
		}
		s.metrics.ObserveScan("error", 0)
		s.logger.WarnContext(ctx, "liquidation_scanner: scan failed",
			slog.String("pool_id", poolID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("liquidation_scanner: scan: %w", err)
	}
	found = s.eligible(ctx, found)
	sort.SliceStable(found, func(i, j int) bool { return found[i].RiskRatio < found[j].RiskRatio })

	if !s.seq.IsLatest(poolID, seq) {
		return found, nil
	}

	state := ScanEmpty
	if len(found) > 0 {
		state = ScanFound
	}
	s.mu.Lock()
	prev := s.results[poolID]
	s.results[poolID] = found
	s.states[poolID] = state
	s.outcomes[poolID] = state
	s.scannedAt[poolID] = time.Now().UTC()
	hooks := slices.Clone(s.hooks)
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Set(ctx, poolID, found); err != nil {
			s.logger.WarnContext(ctx, "liquidation_scanner: cache set failed", slog.String("error", err.Error()))
		}
	}
	s.metrics.ObserveScan(string(state), len(found))
	publish(ctx, s.bus, s.logger, domain.ChannelLiquidations, LiquidationEvent{
		Type: "scan", PoolID: poolID, Candidates: len(found), At: time.Now().UTC(),
	})
	if len(found) > 0 && !sameManagers(prev, found) {
		s.notifyFound(ctx, found)
	}
	s.logger.DebugContext(ctx, "liquidation_scanner: scanned",
		slog.String("pool_id", poolID),
		slog.Int("candidates", len(found)),
	)

	for _, h := range hooks {
		h(ctx, poolID, found)
	}
	if s.seq.IsLatest(poolID, seq) {
		s.setState(poolID, ScanIdle)
	}
	return found, nil
}

// eligible drops managers above the liquidation ratio, which an indexer
// ignoring max_risk_ratio would otherwise pass through.
func (s *LiquidationScanner) eligible(ctx context.Context, found []domain.LiquidatablePosition) []domain.LiquidatablePosition {
	out := found[:0]
	for _, c := range found {
		if c.RiskRatio <= s.maxRatio {
			out = append(out, c)
			continue
		}
		s.logger.DebugContext(ctx, "liquidation_scanner: dropping healthy manager",
			slog.String("manager_id", c.ManagerID),
			slog.String("risk_ratio", domain.FormatRatio(c.RiskRatio)),
		)
	}
	return out
}

// Candidates returns the last scan result for a pool filter, falling back to
// the shared cache and then a fresh scan.
func (s *LiquidationScanner) Candidates(ctx context.Context, poolID string) ([]domain.LiquidatablePosition, error) {
	s.mu.RLock()
	res, ok := s.results[poolID]
	s.mu.RUnlock()
	if ok {
		return res, nil
	}
	if s.cache != nil {
		if cached, at, err := s.cache.Get(ctx, poolID); err == nil && time.Since(at) < s.interval {
			return cached, nil
		}
	}
	return s.Scan(ctx, poolID)
}

// Find returns the candidate for one manager from the last results.
func (s *LiquidationScanner) Find(ctx context.Context, managerID string) (domain.LiquidatablePosition, error) {
	id, err := domain.NormalizeObjectID(managerID)
	if err != nil {
		return domain.LiquidatablePosition{}, fmt.Errorf("liquidation_scanner: %w", err)
	}
	all, err := s.Candidates(ctx, "")
	if err != nil {
		return domain.LiquidatablePosition{}, err
	}
	for _, c := range all {
		if cid, err := domain.NormalizeObjectID(c.ManagerID); err == nil && cid == id {
			return c, nil
		}
	}
	return domain.LiquidatablePosition{}, fmt.Errorf("liquidation_scanner: candidate %s: %w", managerID, domain.ErrNotFound)
}

// LastScan returns when the filter was last scanned.
func (s *LiquidationScanner) LastScan(poolID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.scannedAt[poolID]
	return t, ok
}

// Invalidate forgets every result so the next read rescans. Scans in flight
// are not applied.
func (s *LiquidationScanner) Invalidate(ctx context.Context) {
	s.mu.Lock()
	for poolID := range s.states {
		s.seq.Next(poolID)
	}
	s.results = make(map[string][]domain.LiquidatablePosition)
	s.states = make(map[string]ScanState)
	s.outcomes = make(map[string]ScanState)
	s.scannedAt = make(map[string]time.Time)
	s.mu.Unlock()
	if s.cache != nil {
		if err := s.cache.InvalidateAll(ctx); err != nil {
			s.logger.WarnContext(ctx, "liquidation_scanner: cache invalidate failed", slog.String("error", err.Error()))
		}
	}
}

// Start scans the filter every interval until Stop.
func (s *LiquidationScanner) Start(ctx context.Context, poolID string) {
	s.mu.Lock()
	sub, ok := s.subs[poolID]
	if !ok {
		name := "liquidations"
		if poolID != "" {
			name += ":" + poolID
		}
		sub = poll.NewSubscription(name, s.interval, func(ctx context.Context) error {
			_, err := s.Scan(ctx, poolID)
			return err
		}, s.logger)
		s.subs[poolID] = sub
	}
	s.mu.Unlock()
	sub.Start(ctx)
}

// Trigger requests an immediate scan of a started filter.
func (s *LiquidationScanner) Trigger(poolID string) {
	s.mu.RLock()
	sub, ok := s.subs[poolID]
	s.mu.RUnlock()
	if ok {
		sub.Trigger()
	}
}

// Stop halts every periodic scan.
func (s *LiquidationScanner) Stop() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]*poll.Subscription)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Stop()
	}
}

func (s *LiquidationScanner) setState(poolID string, st ScanState) {
	s.mu.Lock()
	s.states[poolID] = st
	s.mu.Unlock()
}

func (s *LiquidationScanner) notifyFound(ctx context.Context, found []domain.LiquidatablePosition) {
	ids := make([]string, 0, len(found))
	for _, c := range found {
		ids = append(ids, fmt.Sprintf("%s (%s, ratio %s)", c.ManagerID, c.PoolKey, domain.FormatRatio(c.RiskRatio)))
	}
	if err := s.notifier.Notifyf(ctx, notify.EventLiquidationFound, "Liquidatable positions",
		"%d found:\n%s", len(found), strings.Join(ids, "\n")); err != nil {
		s.logger.WarnContext(ctx, "liquidation_scanner: notify failed", slog.String("error", err.Error()))
	}
}

func sameManagers(a, b []domain.LiquidatablePosition) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, c := range a {
		seen[c.ManagerID] = true
	}
	for _, c := range b {
		if !seen[c.ManagerID] {
			return false
		}
	}
	return true
}
