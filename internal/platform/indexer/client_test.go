package indexer

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

const statesJSON = `[
  {
    "id": 1,
    "margin_manager_id": "0xabc",
    "deepbook_pool_id": "0xpool",
    "base_margin_pool_id": "0xbmp",
    "quote_margin_pool_id": "0xqmp",
    "base_asset_id": "0x2::sui::SUI",
    "base_asset_symbol": "SUI",
    "quote_asset_id": "0xdba::usdc::USDC",
    "quote_asset_symbol": "USDC",
    "risk_ratio": "1.0",
    "base_asset": "10.5",
    "quote_asset": "100",
    "base_debt": "0",
    "quote_debt": "121",
    "base_pyth_price": 350000000,
    "base_pyth_decimals": 8,
    "quote_pyth_price": 100000000,
    "quote_pyth_decimals": 8,
    "created_at": "2025-01-01T00:00:00Z",
    "updated_at": "2025-01-02T00:00:00Z",
    "current_price": "3.5",
    "lowest_trigger_above_price": null,
    "highest_trigger_below_price": "3.1"
  },
  {
    "id": 2,
    "margin_manager_id": "0xdef",
    "deepbook_pool_id": "0xpool",
    "base_asset_symbol": "SUI",
    "quote_asset_symbol": "USDC",
    "risk_ratio": "0",
    "base_asset": "1",
    "quote_asset": "0",
    "base_debt": "0",
    "quote_debt": "0",
    "base_pyth_price": 350000000,
    "base_pyth_decimals": 8,
    "quote_pyth_price": 100000000,
    "quote_pyth_decimals": 8,
    "updated_at": "2025-01-02T00:00:00Z",
    "current_price": ""
  }
]`

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 0)
}

func TestLiquidatablePositionsSendsFilter(t *testing.T) {
	var gotQuery string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/margin_manager_states" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		w.Write([]byte(statesJSON))
	})

	got, err := c.LiquidatablePositions(context.Background(), 1.0, "0xpool")
	if err != nil {
		t.Fatal(err)
	}
	if gotQuery != "deepbook_pool_id=0xpool&max_risk_ratio=1" {
		t.Errorf("query = %s", gotQuery)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	lp := got[0]
	if lp.PoolKey != "SUI_USDC" || lp.RiskRatio != 1.0 || lp.QuoteDebt != 121 || lp.BaseAsset != 10.5 {
		t.Errorf("candidate = %+v", lp)
	}
	if lp.BasePrice != 3.5 || lp.QuotePrice != 1 {
		t.Errorf("prices = %v / %v", lp.BasePrice, lp.QuotePrice)
	}
	if lp.ManagerID != "0x0000000000000000000000000000000000000000000000000000000000000abc" {
		t.Errorf("manager id = %s", lp.ManagerID)
	}
}

func TestMarginPosition(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(statesJSON))
	})

	p, err := c.MarginPosition(context.Background(), "0x0def")
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsInf(p.RiskRatio, 1) {
		t.Errorf("ratio without debt = %v, want +Inf", p.RiskRatio)
	}
	if !p.Indexed {
		t.Error("position should be marked indexed")
	}

	p, err = c.MarginPosition(context.Background(), "0xabc")
	if err != nil {
		t.Fatal(err)
	}
	if p.HighestTriggerBelow == nil || *p.HighestTriggerBelow != 3.1 || p.LowestTriggerAbove != nil {
		t.Errorf("triggers = %v / %v", p.LowestTriggerAbove, p.HighestTriggerBelow)
	}

	if _, err := c.MarginPosition(context.Background(), "0x999"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMalformedAmountIsDataUnavailable(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"margin_manager_id":"0x1","base_asset":"abc","quote_asset":"0","base_debt":"0","quote_debt":"0"}]`))
	})
	if _, err := c.MarginPosition(context.Background(), "0x1"); !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("err = %v, want ErrDataUnavailable", err)
	}
}

func TestServerErrorIsDataUnavailable(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"message":"upstream down"}`))
	})
	_, err := c.LiquidatablePositions(context.Background(), 1.0, "")
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Fatalf("err = %v, want ErrDataUnavailable", err)
	}
}

func TestRateLimitedIsDataUnavailable(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := c.Pools(context.Background())
	if !errors.Is(err, domain.ErrDataUnavailable) || !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("err = %v", err)
	}
}

func TestPools(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get_pools" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`[{"pool_id":"0xp","pool_name":"SUI_USDC","base_asset_id":"0x2::sui::SUI","base_asset_decimals":9,"base_asset_symbol":"SUI","quote_asset_id":"0xdba::usdc::USDC","quote_asset_decimals":6,"quote_asset_symbol":"USDC","min_size":1000000000,"lot_size":100000000,"tick_size":1000}]`))
	})
	pools, err := c.Pools(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(pools) != 1 {
		t.Fatalf("len = %d", len(pools))
	}
	p := pools[0]
	if p.Key() != "SUI_USDC" || p.MinQuantity() != 1 || p.LotSize != 100000000 {
		t.Errorf("pool = %+v", p)
	}
}

func TestManagerEvents(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loan_borrowed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("margin_manager_id") != "0xabc" || r.URL.Query().Get("limit") != "5" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Write([]byte(`[{"digest":"D1","sender":"0xs","checkpoint":7,"checkpoint_timestamp_ms":1700000000000,"margin_manager_id":"0xabc","margin_pool_id":"0xmp","loan_amount":2500,"loan_shares":2400}]`))
	})
	events, err := c.ManagerEvents(context.Background(), domain.EventLoanBorrowed, "0xabc", domain.EventQuery{Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Amount != 2500 || events[0].Digest != "D1" || events[0].Timestamp.UnixMilli() != 1700000000000 {
		t.Fatalf("events = %+v", events)
	}
	if _, err := c.ManagerEvents(context.Background(), "bogus", "0xabc", domain.EventQuery{}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
