package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// PoolSource lists the venue's order-book pools.
type PoolSource interface {
	Pools(ctx context.Context) ([]domain.Pool, error)
}

// PoolService serves pool metadata and answers whether a pool can be traded
// on margin.
type PoolService struct {
	source       PoolSource
	cache        domain.PoolCache
	marginAssets map[string]bool
	ttl          time.Duration
	logger       *slog.Logger
	sf           singleflight.Group

	mu        sync.RWMutex
	byKey     map[string]domain.Pool
	byID      map[string]domain.Pool
	fetchedAt time.Time
	now       func() time.Time
}

// NewPoolService creates a PoolService. marginAssets lists the symbols that
// have a margin pool on this network. cache may be nil.
func NewPoolService(source PoolSource, cache domain.PoolCache, marginAssets []string, ttl time.Duration, logger *slog.Logger) *PoolService {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	assets := make(map[string]bool, len(marginAssets))
	for _, a := range marginAssets {
		assets[strings.ToUpper(strings.TrimSpace(a))] = true
	}
	return &PoolService{
		source:       source,
		cache:        cache,
		marginAssets: assets,
		ttl:          ttl,
		logger:       logger.With(slog.String("component", "pool_service")),
		byKey:        map[string]domain.Pool{},
		byID:         map[string]domain.Pool{},
		now:          time.Now,
	}
}

// Refresh reloads pools from the indexer. Concurrent calls share one fetch.
func (s *PoolService) Refresh(ctx context.Context) error {
	_, err, _ := s.sf.Do("pools", func() (any, error) {
		pools, err := s.source.Pools(ctx)
		if err != nil {
			return nil, err
		}
		s.store(pools)
		if s.cache != nil {
			if err := s.cache.SetAll(ctx, pools); err != nil {
				s.logger.WarnContext(ctx, "pool_service: cache set failed", slog.String("error", err.Error()))
			}
		}
		s.logger.DebugContext(ctx, "pool_service: refreshed", slog.Int("count", len(pools)))
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("pool_service: refresh: %w", err)
	}
	return nil
}

func (s *PoolService) store(pools []domain.Pool) {
	byKey := make(map[string]domain.Pool, len(pools))
	byID := make(map[string]domain.Pool, len(pools))
	for _, p := range pools {
		byKey[p.Key()] = p
		byID[p.PoolID] = p
	}
	s.mu.Lock()
	s.byKey, s.byID, s.fetchedAt = byKey, byID, s.now()
	s.mu.Unlock()
}

// ensure loads pools when the local copy is missing or expired, preferring
// the shared cache over the indexer.
func (s *PoolService) ensure(ctx context.Context) error {
	s.mu.RLock()
	fresh := len(s.byKey) > 0 && s.now().Sub(s.fetchedAt) < s.ttl
	s.mu.RUnlock()
	if fresh {
		return nil
	}
	if s.cache != nil {
		if pools, err := s.cache.List(ctx); err == nil && len(pools) > 0 {
			s.store(pools)
			return nil
		}
	}
	return s.Refresh(ctx)
}

// Pool returns the pool for a BASE_QUOTE key.
func (s *PoolService) Pool(ctx context.Context, key string) (domain.Pool, error) {
	if err := s.ensure(ctx); err != nil {
		return domain.Pool{}, err
	}
	s.mu.RLock()
	p, ok := s.byKey[strings.ToUpper(key)]
	s.mu.RUnlock()
	if !ok {
		return domain.Pool{}, fmt.Errorf("pool_service: pool %s: %w", key, domain.ErrNotFound)
	}
	return p, nil
}

// PoolByID returns the pool with the given object id.
func (s *PoolService) PoolByID(ctx context.Context, id string) (domain.Pool, error) {
	if err := s.ensure(ctx); err != nil {
		return domain.Pool{}, err
	}
	s.mu.RLock()
	p, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Pool{}, fmt.Errorf("pool_service: pool id %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

// List returns every known pool.
func (s *PoolService) List(ctx context.Context) ([]domain.Pool, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Pool, 0, len(s.byKey))
	for _, p := range s.byKey {
		out = append(out, p)
	}
	return out, nil
}

// ErrMarginUnsupported is returned for pools whose assets lack margin pools.
var ErrMarginUnsupported = errors.New("margin not supported")

// MarginSupport reports whether both assets of the pool have margin pools.
// The reason names the missing asset(s).
func (s *PoolService) MarginSupport(p domain.Pool) (bool, string) {
	base, quote := strings.ToUpper(p.BaseSymbol), strings.ToUpper(p.QuoteSymbol)
	hasBase, hasQuote := s.marginAssets[base], s.marginAssets[quote]
	switch {
	case hasBase && hasQuote:
		return true, ""
	case !hasBase && !hasQuote:
		return false, fmt.Sprintf("%s and %s do not have margin pools", p.BaseSymbol, p.QuoteSymbol)
	case !hasBase:
		return false, fmt.Sprintf("%s does not have a margin pool", p.BaseSymbol)
	default:
		return false, fmt.Sprintf("%s does not have a margin pool", p.QuoteSymbol)
	}
}
