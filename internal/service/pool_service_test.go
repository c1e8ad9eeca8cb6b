package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

func TestMarginSupport(t *testing.T) {
	s := NewPoolService(&fakePoolSource{}, nil, []string{"SUI", "usdc", "DEEP"}, 0, discardLogger())
	tests := []struct {
		name       string
		pool       domain.Pool
		wantOK     bool
		wantReason string
	}{
		{"both assets", suiUSDC, true, ""},
		{"base missing", walUSDC, false, "WAL does not have a margin pool"},
		{"quote missing", domain.Pool{BaseSymbol: "SUI", QuoteSymbol: "WAL"}, false, "WAL does not have a margin pool"},
		{"neither", domain.Pool{BaseSymbol: "NS", QuoteSymbol: "WAL"}, false, "NS and WAL do not have margin pools"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := s.MarginSupport(tt.pool)
			if ok != tt.wantOK || reason != tt.wantReason {
				t.Fatalf("MarginSupport = %v %q, want %v %q", ok, reason, tt.wantOK, tt.wantReason)
			}
		})
	}
}

func TestPoolLookup(t *testing.T) {
	src := &fakePoolSource{pools: []domain.Pool{suiUSDC, walUSDC}}
	s := NewPoolService(src, nil, nil, 0, discardLogger())
	ctx := context.Background()

	p, err := s.Pool(ctx, "sui_usdc")
	if err != nil {
		t.Fatal(err)
	}
	if p.PoolID != suiUSDC.PoolID {
		t.Errorf("pool id = %s", p.PoolID)
	}
	if _, err := s.PoolByID(ctx, walUSDC.PoolID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Pool(ctx, "DEEP_USDC"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	all, err := s.List(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("List = %d pools, %v", len(all), err)
	}
	if src.calls != 1 {
		t.Errorf("source called %d times, want 1", src.calls)
	}
}

func TestPoolRefreshCoalesces(t *testing.T) {
	src := &fakePoolSource{pools: []domain.Pool{suiUSDC}}
	s := NewPoolService(src, nil, nil, 0, discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Pool(context.Background(), "SUI_USDC")
		}()
	}
	wg.Wait()
	if src.calls > 8 || src.calls < 1 {
		t.Fatalf("calls = %d", src.calls)
	}
}

func TestPoolSourceError(t *testing.T) {
	src := &fakePoolSource{err: domain.ErrDataUnavailable}
	s := NewPoolService(src, nil, nil, 0, discardLogger())
	if _, err := s.Pool(context.Background(), "SUI_USDC"); !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestBalanceServiceCaches(t *testing.T) {
	src := &fakeBalances{balances: map[string]float64{"0x2::sui::SUI": 12}}
	cache := &fakeBalanceCache{}
	s := NewBalanceService(src, cache, discardLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		v, err := s.WalletBalance(ctx, testAccount, "0x2::sui::SUI", 9)
		if err != nil || v != 12 {
			t.Fatalf("WalletBalance = %v, %v", v, err)
		}
	}
	if src.calls != 1 {
		t.Errorf("source calls = %d, want 1", src.calls)
	}
	s.Invalidate(ctx, testAccount)
	if _, err := s.WalletBalance(ctx, testAccount, "0x2::sui::SUI", 9); err != nil {
		t.Fatal(err)
	}
	if src.calls != 2 {
		t.Errorf("source calls after invalidate = %d, want 2", src.calls)
	}
}

func TestRegistryNormalizes(t *testing.T) {
	store := newFakeManagerStore()
	reg := NewManagerRegistry(store, discardLogger())
	ctx := context.Background()

	id, err := reg.Lookup(ctx, domain.NetworkTestnet, "0x1", "SUI_USDC")
	if err != nil || id != "" {
		t.Fatalf("Lookup before register = %q, %v", id, err)
	}
	if _, err := reg.Register(ctx, domain.NetworkTestnet, "0x1", "sui_usdc", "0xab"); err != nil {
		t.Fatal(err)
	}
	id, err = reg.Lookup(ctx, domain.NetworkTestnet, testAccount, "SUI_USDC")
	if err != nil {
		t.Fatal(err)
	}
	if id != testManager {
		t.Errorf("id = %s, want %s", id, testManager)
	}
	if id, _ := reg.Lookup(ctx, domain.NetworkMainnet, testAccount, "SUI_USDC"); id != "" {
		t.Errorf("mainnet lookup found testnet manager %s", id)
	}
	if err := reg.Forget(ctx, domain.NetworkTestnet, "0x1", "SUI_USDC"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register(ctx, domain.NetworkTestnet, "zz", "SUI_USDC", "0xab"); !errors.Is(err, domain.ErrInvalidObjectID) {
		t.Fatalf("err = %v", err)
	}
}
