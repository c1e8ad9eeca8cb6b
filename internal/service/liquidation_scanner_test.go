package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

type fakeLiquidations struct {
	mu       sync.Mutex
	found    []domain.LiquidatablePosition
	err      error
	calls    int
	maxRatio float64
}

func (f *fakeLiquidations) LiquidatablePositions(_ context.Context, maxRatio float64, poolID string) ([]domain.LiquidatablePosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.maxRatio = maxRatio
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.LiquidatablePosition
	for _, c := range f.found {
		if poolID == "" || c.PoolID == poolID {
			out = append(out, c)
		}
	}
	return out, nil
}

func candidate(id string, ratio float64) domain.LiquidatablePosition {
	return domain.LiquidatablePosition{
		ManagerID: id, PoolID: suiUSDC.PoolID, PoolKey: "SUI_USDC", RiskRatio: ratio,
		QuoteAsset: 90 * ratio, QuoteDebt: 90, BasePrice: 2, QuotePrice: 1,
	}
}

func newTestScanner(src LiquidationSource, bus domain.SignalBus) *LiquidationScanner {
	return NewLiquidationScanner(src, nil, bus, nil, nil, 1.0, time.Minute, discardLogger())
}

func TestScanOrdersAndTracksState(t *testing.T) {
	src := &fakeLiquidations{found: []domain.LiquidatablePosition{
		candidate("0xa1", 0.98), candidate("0xa2", 0.91), candidate("0xa3", 1.0),
	}}
	bus := &fakeBus{}
	s := newTestScanner(src, bus)

	if st := s.State(""); st != ScanIdle {
		t.Fatalf("initial state = %s", st)
	}
	var during ScanState
	s.OnScan(func(context.Context, string, []domain.LiquidatablePosition) { during = s.State("") })
	got, err := s.Scan(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].ManagerID != "0xa2" || got[2].ManagerID != "0xa3" {
		t.Fatalf("order = %v", got)
	}
	if src.maxRatio != 1.0 {
		t.Errorf("max ratio = %v", src.maxRatio)
	}
	if during != ScanFound {
		t.Errorf("state during hooks = %s, want found", during)
	}
	if st := s.State(""); st != ScanIdle {
		t.Errorf("state after cycle = %s, want idle", st)
	}
	if st, ok := s.Outcome(""); !ok || st != ScanFound {
		t.Errorf("outcome = %s, %v", st, ok)
	}
	if bus.count(domain.ChannelLiquidations) != 1 {
		t.Error("no scan event published")
	}
}

func TestScanEmptyAndError(t *testing.T) {
	src := &fakeLiquidations{}
	s := newTestScanner(src, nil)
	ctx := context.Background()

	if _, err := s.Scan(ctx, suiUSDC.PoolID); err != nil {
		t.Fatal(err)
	}
	if st, _ := s.Outcome(suiUSDC.PoolID); st != ScanEmpty {
		t.Errorf("outcome = %s, want empty", st)
	}

	src.err = domain.ErrDataUnavailable
	if _, err := s.Scan(ctx, ""); !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if st := s.State(""); st != ScanIdle {
		t.Errorf("state after failure = %s, want idle", st)
	}
}

func TestCandidatesUsesLastScan(t *testing.T) {
	src := &fakeLiquidations{found: []domain.LiquidatablePosition{candidate("0xa1", 0.9)}}
	s := newTestScanner(src, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := s.Candidates(ctx, ""); err != nil {
			t.Fatal(err)
		}
	}
	if src.calls != 1 {
		t.Errorf("calls = %d, want 1", src.calls)
	}

	c, err := s.Find(ctx, "0xa1")
	if err != nil || c.RiskRatio != 0.9 {
		t.Fatalf("Find = %+v, %v", c, err)
	}
	if _, err := s.Find(ctx, "0xb2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}

	s.Invalidate(ctx)
	if _, ok := s.Outcome(""); ok {
		t.Error("outcome kept after invalidate")
	}
	if _, err := s.Candidates(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if src.calls != 2 {
		t.Errorf("calls after invalidate = %d, want 2", src.calls)
	}
}

func TestScanHooksRun(t *testing.T) {
	src := &fakeLiquidations{found: []domain.LiquidatablePosition{candidate("0xa1", 0.9)}}
	s := newTestScanner(src, nil)

	var got []domain.LiquidatablePosition
	s.OnScan(func(_ context.Context, _ string, c []domain.LiquidatablePosition) { got = c })
	if _, err := s.Scan(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("hook saw %d candidates", len(got))
	}
}

func TestScannerStartStop(t *testing.T) {
	src := &fakeLiquidations{}
	s := newTestScanner(src, nil)
	s.Start(context.Background(), "")

	deadline := time.Now().Add(2 * time.Second)
	for {
		src.mu.Lock()
		calls := src.calls
		src.mu.Unlock()
		if calls > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("scanner never ran")
		}
		time.Sleep(time.Millisecond)
	}
	s.Stop()
}

func TestScanDropsManagersAboveLiquidation(t *testing.T) {
	src := &fakeLiquidations{found: []domain.LiquidatablePosition{
		candidate("0xa1", 0.97), candidate("0xa2", 1.2), candidate("0xa3", 1.0),
	}}
	s := newTestScanner(src, nil)
	var hooked []domain.LiquidatablePosition
	s.OnScan(func(_ context.Context, _ string, cs []domain.LiquidatablePosition) { hooked = cs })

	got, err := s.Scan(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ManagerID != "0xa1" || got[1].ManagerID != "0xa3" {
		t.Fatalf("candidates = %v", got)
	}
	if len(hooked) != 2 {
		t.Errorf("hook saw %d candidates", len(hooked))
	}
	if _, err := s.Find(context.Background(), "0xa2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("healthy manager offered for liquidation: %v", err)
	}
}
