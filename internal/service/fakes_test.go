package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/marginbot/internal/domain"
	"github.com/alanyoungcy/marginbot/internal/risk"
)

const (
	testAccount = "0x0000000000000000000000000000000000000000000000000000000000000001"
	testManager = "0x00000000000000000000000000000000000000000000000000000000000000ab"
)

var suiUSDC = domain.Pool{
	PoolID:        "0x00000000000000000000000000000000000000000000000000000000000000f1",
	BaseSymbol:    "SUI",
	BaseAssetID:   "0x2::sui::SUI",
	BaseDecimals:  9,
	QuoteSymbol:   "USDC",
	QuoteAssetID:  "0xdba::usdc::USDC",
	QuoteDecimals: 6,
	LotSize:       100_000_000,
	TickSize:      1000,
	MinSize:       1_000_000_000,
}

var walUSDC = domain.Pool{
	PoolID:        "0x00000000000000000000000000000000000000000000000000000000000000f2",
	BaseSymbol:    "WAL",
	BaseDecimals:  9,
	QuoteSymbol:   "USDC",
	QuoteDecimals: 6,
	LotSize:       100_000_000,
	TickSize:      1000,
	MinSize:       1_000_000_000,
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeManagerStore struct {
	mu   sync.Mutex
	recs map[string]domain.ManagerRecord
}

func newFakeManagerStore() *fakeManagerStore {
	return &fakeManagerStore{recs: map[string]domain.ManagerRecord{}}
}

func managerKey(n domain.Network, account, pool string) string {
	return string(n) + "|" + account + "|" + pool
}

func (f *fakeManagerStore) Get(_ context.Context, n domain.Network, account, pool string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[managerKey(n, account, pool)]
	if !ok {
		return "", domain.ErrNotFound
	}
	return rec.ManagerID, nil
}

func (f *fakeManagerStore) Set(_ context.Context, rec domain.ManagerRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[managerKey(rec.Network, rec.Account, rec.PoolKey)] = rec
	return nil
}

func (f *fakeManagerStore) Delete(_ context.Context, n domain.Network, account, pool string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := managerKey(n, account, pool)
	if _, ok := f.recs[k]; !ok {
		return domain.ErrNotFound
	}
	delete(f.recs, k)
	return nil
}

func (f *fakeManagerStore) List(_ context.Context, n domain.Network, account string) ([]domain.ManagerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ManagerRecord
	for _, rec := range f.recs {
		if rec.Network == n && rec.Account == account {
			out = append(out, rec)
		}
	}
	return out, nil
}

type fakePoolSource struct {
	mu    sync.Mutex
	pools []domain.Pool
	calls int
	err   error
}

func (f *fakePoolSource) Pools(context.Context) ([]domain.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.pools, f.err
}

type fakePositionSource struct {
	mu    sync.Mutex
	pos   map[string]domain.MarginPosition
	err   error
	calls int
	block chan struct{} // when set, fetches wait on it
}

func newFakePositionSource() *fakePositionSource {
	return &fakePositionSource{pos: map[string]domain.MarginPosition{}}
}

func (f *fakePositionSource) set(p domain.MarginPosition) {
	f.mu.Lock()
	f.pos[p.ManagerID] = p
	f.mu.Unlock()
}

func (f *fakePositionSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakePositionSource) MarginPosition(_ context.Context, id string) (domain.MarginPosition, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.MarginPosition{}, f.err
	}
	p, ok := f.pos[id]
	if !ok {
		return domain.MarginPosition{}, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakePositionSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeBalances struct {
	mu       sync.Mutex
	balances map[string]float64 // coin type -> amount
	calls    int
}

func (f *fakeBalances) WalletBalance(_ context.Context, _, coinType string, _ int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.balances[coinType], nil
}

type fakeBalanceCache struct {
	mu          sync.Mutex
	values      map[string]float64
	invalidated []string
}

func (f *fakeBalanceCache) Set(_ context.Context, owner, coinType string, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values == nil {
		f.values = map[string]float64{}
	}
	f.values[owner+"|"+coinType] = amount
	return nil
}

func (f *fakeBalanceCache) Get(_ context.Context, owner, coinType string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[owner+"|"+coinType]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return v, nil
}

func (f *fakeBalanceCache) InvalidateOwner(_ context.Context, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, owner)
	for k := range f.values {
		if len(k) > len(owner) && k[:len(owner)] == owner {
			delete(f.values, k)
		}
	}
	return nil
}

type fakeExec struct {
	mu        sync.Mutex
	submitted []domain.ActionRequest
	result    domain.TxResult
	err       error
}

func (f *fakeExec) Submit(_ context.Context, req domain.ActionRequest) (domain.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	return f.result, f.err
}

func (f *fakeExec) Liquidate(context.Context, domain.LiquidationRequest) (domain.TxResult, error) {
	return f.result, f.err
}

type fakeWaiter struct{ err error }

func (f fakeWaiter) WaitForTransaction(context.Context, string) error { return f.err }

type fakeAudit struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func (f *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messages == nil {
		f.messages = map[string][][]byte{}
	}
	f.messages[channel] = append(f.messages[channel], payload)
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (f *fakeBus) count(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[channel])
}

// quotePosition has quote collateral and debt only, priced at 1.
func quotePosition(collateral, debt float64) domain.MarginPosition {
	return domain.MarginPosition{
		ManagerID:   testManager,
		PoolID:      suiUSDC.PoolID,
		PoolKey:     "SUI_USDC",
		BaseSymbol:  "SUI",
		QuoteSymbol: "USDC",
		QuoteAsset:  collateral,
		QuoteDebt:   debt,
		BasePrice:   2,
		QuotePrice:  1,
		Indexed:     true,
	}
}

func newTestReader(src PositionSource, bus domain.SignalBus) *PositionReader {
	return NewPositionReader(src, nil, bus, nil, nil, PositionReaderConfig{
		Thresholds: risk.DefaultThresholds(),
		Interval:   time.Minute,
	}, discardLogger())
}
