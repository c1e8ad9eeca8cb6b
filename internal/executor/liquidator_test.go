package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

var suiUSDC = domain.Pool{
	PoolID:        "0xf1",
	BaseSymbol:    "SUI",
	BaseAssetID:   "0x2::sui::SUI",
	BaseDecimals:  9,
	QuoteSymbol:   "USDC",
	QuoteAssetID:  "0xdba::usdc::USDC",
	QuoteDecimals: 6,
}

func TestPrepare(t *testing.T) {
	tests := []struct {
		name     string
		c        domain.LiquidatablePosition
		wantBase bool
		wantRaw  uint64
		wantType string
	}{
		{
			name:     "quote debt larger by value",
			c:        domain.LiquidatablePosition{ManagerID: "0xa", BaseDebt: 10, QuoteDebt: 50, BasePrice: 2, QuotePrice: 1},
			wantRaw:  50_000_000,
			wantType: "0xdba::usdc::USDC",
		},
		{
			name:     "base debt larger by value though smaller in units",
			c:        domain.LiquidatablePosition{ManagerID: "0xa", BaseDebt: 30, QuoteDebt: 50, BasePrice: 2, QuotePrice: 1},
			wantBase: true,
			wantRaw:  30_000_000_000,
			wantType: "0x2::sui::SUI",
		},
		{
			name:     "raw amount is floored",
			c:        domain.LiquidatablePosition{ManagerID: "0xa", QuoteDebt: 1.2345679, QuotePrice: 1},
			wantRaw:  1_234_567,
			wantType: "0xdba::usdc::USDC",
		},
		{
			name:     "no prices compares units",
			c:        domain.LiquidatablePosition{ManagerID: "0xa", BaseDebt: 3, QuoteDebt: 2},
			wantBase: true,
			wantRaw:  3_000_000_000,
			wantType: "0x2::sui::SUI",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Prepare(tt.c, suiUSDC)
			if err != nil {
				t.Fatal(err)
			}
			if req.DebtIsBase != tt.wantBase || req.RepayRaw != tt.wantRaw || req.CoinType != tt.wantType {
				t.Fatalf("req = %+v", req)
			}
			if req.PoolKey != "SUI_USDC" {
				t.Errorf("pool key = %q", req.PoolKey)
			}
		})
	}
}

func TestPrepareRejects(t *testing.T) {
	if _, err := Prepare(domain.LiquidatablePosition{ManagerID: "0xa"}, suiUSDC); err == nil {
		t.Error("no debt accepted")
	}
	if _, err := Prepare(domain.LiquidatablePosition{ManagerID: "0xa", QuoteDebt: 1e-9}, suiUSDC); err == nil {
		t.Error("dust repay accepted")
	}
	if _, err := Prepare(domain.LiquidatablePosition{ManagerID: "0xa", QuoteDebt: 1}, domain.Pool{}); err == nil {
		t.Error("unknown coin accepted")
	}
}

func TestDedupCycle(t *testing.T) {
	d := NewDedup(time.Minute)
	if d.IsDuplicate("a") {
		t.Fatal("first sighting reported duplicate")
	}
	if !d.IsDuplicate("a") {
		t.Fatal("second sighting not duplicate")
	}
	d.Reset()
	if d.IsDuplicate("a") {
		t.Fatal("duplicate after reset")
	}

	now := time.Now()
	d.now = func() time.Time { return now.Add(2 * time.Minute) }
	if d.IsDuplicate("a") {
		t.Fatal("expired entry reported duplicate")
	}
	d.Reset()
	if len(d.seen) != 0 {
		t.Fatalf("reset left %d entries", len(d.seen))
	}
}

type fakeFinder struct {
	c           domain.LiquidatablePosition
	invalidated int
}

func (f *fakeFinder) Find(_ context.Context, id string) (domain.LiquidatablePosition, error) {
	if id != f.c.ManagerID {
		return domain.LiquidatablePosition{}, domain.ErrNotFound
	}
	return f.c, nil
}

func (f *fakeFinder) Invalidate(context.Context) { f.invalidated++ }

type fakePools struct{}

func (fakePools) PoolByID(_ context.Context, id string) (domain.Pool, error) {
	if id == suiUSDC.PoolID {
		return suiUSDC, nil
	}
	return domain.Pool{}, domain.ErrNotFound
}

func (fakePools) Pool(_ context.Context, key string) (domain.Pool, error) {
	if key == "SUI_USDC" {
		return suiUSDC, nil
	}
	return domain.Pool{}, domain.ErrNotFound
}

type fakeExec struct {
	reqs []domain.LiquidationRequest
	err  error
}

func (f *fakeExec) Submit(context.Context, domain.ActionRequest) (domain.TxResult, error) {
	return domain.TxResult{}, errors.New("unused")
}

func (f *fakeExec) Liquidate(_ context.Context, req domain.LiquidationRequest) (domain.TxResult, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return domain.TxResult{}, f.err
	}
	return domain.TxResult{Digest: "liq-1"}, nil
}

type fakeWaiter struct{ err error }

func (f fakeWaiter) WaitForTransaction(context.Context, string) error { return f.err }

type memStore struct {
	mu       sync.Mutex
	attempts []domain.LiquidationAttempt
}

func (m *memStore) Insert(_ context.Context, a domain.LiquidationAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memStore) ListRecent(context.Context, int) ([]domain.LiquidationAttempt, error) {
	return m.attempts, nil
}

func (m *memStore) ListBetween(context.Context, time.Time, time.Time) ([]domain.LiquidationAttempt, error) {
	return m.attempts, nil
}

type fakeLocks struct {
	held map[string]bool
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	return func() { delete(f.held, key) }, nil
}

type fakeBalances struct{ owners []string }

func (f *fakeBalances) Invalidate(_ context.Context, owner string) { f.owners = append(f.owners, owner) }

func newTestLiquidator(exec *fakeExec, waiter fakeWaiter) (*Liquidator, *fakeFinder, *memStore, *fakeBalances) {
	finder := &fakeFinder{c: domain.LiquidatablePosition{
		ManagerID: "0xa", PoolID: "0xf1", PoolKey: "SUI_USDC", RiskRatio: 0.95,
		QuoteAsset: 95, QuoteDebt: 100, QuotePrice: 1, BasePrice: 2,
	}}
	store := &memStore{}
	balances := &fakeBalances{}
	l := NewLiquidator(LiquidatorDeps{
		Exec:     exec,
		Waiter:   waiter,
		Finder:   finder,
		Pools:    fakePools{},
		Balances: balances,
		Store:    store,
		Locks:    &fakeLocks{held: map[string]bool{}},
	}, "0xop", slog.New(slog.NewTextHandler(io.Discard, nil)))
	return l, finder, store, balances
}

func TestExecuteSuccess(t *testing.T) {
	exec := &fakeExec{}
	l, finder, store, balances := newTestLiquidator(exec, fakeWaiter{})

	tx, err := l.Execute(context.Background(), "0xa")
	if err != nil {
		t.Fatal(err)
	}
	if tx.Digest != "liq-1" {
		t.Errorf("digest = %q", tx.Digest)
	}
	if len(exec.reqs) != 1 || exec.reqs[0].DebtIsBase || exec.reqs[0].RepayRaw != 100_000_000 {
		t.Fatalf("reqs = %+v", exec.reqs)
	}
	if finder.invalidated != 1 {
		t.Error("scanner results not invalidated")
	}
	if len(balances.owners) != 1 || balances.owners[0] != "0xop" {
		t.Errorf("balances invalidated for %v", balances.owners)
	}
	if len(store.attempts) != 1 || store.attempts[0].Status != domain.LiquidationSucceeded {
		t.Fatalf("attempts = %+v", store.attempts)
	}
}

func TestExecuteFailureIsNotRetried(t *testing.T) {
	exec := &fakeExec{}
	l, finder, store, _ := newTestLiquidator(exec, fakeWaiter{err: domain.ErrActionFailed})
	ctx := context.Background()

	if _, err := l.Execute(ctx, "0xa"); !errors.Is(err, domain.ErrActionFailed) {
		t.Fatalf("err = %v", err)
	}
	if finder.invalidated != 0 {
		t.Error("candidate dropped after failure")
	}
	if len(store.attempts) != 1 || store.attempts[0].Status != domain.LiquidationFailed {
		t.Fatalf("attempts = %+v", store.attempts)
	}

	if _, err := l.Execute(ctx, "0xa"); !errors.Is(err, ErrAlreadyAttempted) {
		t.Fatalf("retry err = %v", err)
	}
	if len(exec.reqs) != 1 {
		t.Fatalf("dispatched %d times", len(exec.reqs))
	}

	l.Reset()
	if _, err := l.Execute(ctx, "0xa"); errors.Is(err, ErrAlreadyAttempted) {
		t.Fatal("still deduplicated after a new scan")
	}
}

func TestExecuteUnknownCandidate(t *testing.T) {
	l, _, _, _ := newTestLiquidator(&fakeExec{}, fakeWaiter{})
	if _, err := l.Execute(context.Background(), "0xb"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

type fakeLimiter struct {
	waits int
	err   error
}

func (f *fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (f *fakeLimiter) Wait(context.Context, string) error {
	f.waits++
	return f.err
}

func TestExecutePacedByLimiter(t *testing.T) {
	tests := []struct {
		name         string
		limiterErr   error
		wantDispatch int
		wantErr      error
	}{
		{"admitted", nil, 1, nil},
		{"wait cancelled", context.Canceled, 0, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExec{}
			l, _, store, _ := newTestLiquidator(exec, fakeWaiter{})
			lim := &fakeLimiter{err: tt.limiterErr}
			l.limiter = lim

			_, err := l.Execute(context.Background(), "0xa")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if lim.waits != 1 || len(exec.reqs) != tt.wantDispatch {
				t.Fatalf("waits = %d, dispatches = %d", lim.waits, len(exec.reqs))
			}
			if tt.wantErr != nil {
				if len(store.attempts) != 0 {
					t.Errorf("unpaced attempt recorded: %+v", store.attempts)
				}
				lim.err = nil
				if _, err := l.Execute(context.Background(), "0xa"); errors.Is(err, ErrAlreadyAttempted) {
					t.Error("attempt that never dispatched blocks the manager")
				}
			}
		})
	}
}
