package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

type fakeSigner struct{}

func (fakeSigner) Address() string { return "0xme" }

func (fakeSigner) RequestHeaders(method, path string, body []byte) map[string]string {
	return map[string]string{"X-Signature": method + " " + path}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, domain.NetworkTestnet, fakeSigner{}, 0)
}

func TestSubmitBorrow(t *testing.T) {
	var got actionBody
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/margin/borrow" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-Signature") != "POST /v1/margin/borrow" {
			t.Errorf("signature header = %q", r.Header.Get("X-Signature"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"digest":"D1"}`))
	})

	res, err := c.Submit(context.Background(), domain.ActionRequest{
		Kind:      domain.ActionBorrow,
		PoolKey:   "SUI_USDC",
		ManagerID: "0xm",
		Asset:     domain.AssetQuote,
		Amount:    250.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Digest != "D1" {
		t.Errorf("digest = %s", res.Digest)
	}
	if got.Sender != "0xme" || got.Network != "testnet" || got.Asset != "quote" || got.Amount != "250.5" || got.MarginManagerID != "0xm" {
		t.Errorf("body = %+v", got)
	}
}

func TestSubmitLimitOrderFillsClientOrderID(t *testing.T) {
	var got actionBody
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"digest":"D2"}`))
	})
	_, err := c.Submit(context.Background(), domain.ActionRequest{
		Kind:      domain.ActionLimitOrder,
		PoolKey:   "SUI_USDC",
		ManagerID: "0xm",
		Order:     &domain.OrderRequest{Side: domain.OrderSideBuy, Quantity: 10, Price: 3.25},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Order == nil || got.Order.ClientOrderID == "" || got.Order.Price != "3.25" || got.Order.Quantity != "10" {
		t.Fatalf("order = %+v", got.Order)
	}
}

func TestSubmitCreateManagerReturnsID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"digest":"D3","margin_manager_id":"0xnew"}`))
	})
	res, err := c.Submit(context.Background(), domain.ActionRequest{Kind: domain.ActionCreateManager, PoolKey: "SUI_USDC"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ManagerID != "0xnew" {
		t.Fatalf("manager id = %s", res.ManagerID)
	}
}

func TestSubmitWithoutManager(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.Submit(context.Background(), domain.ActionRequest{Kind: domain.ActionDeposit, Amount: 1})
	if !errors.Is(err, domain.ErrNoManager) {
		t.Fatalf("err = %v", err)
	}
}

func TestRejectedActionIsActionFailed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"MoveAbort: EOrderInfoNotExist"}`))
	})
	_, err := c.Submit(context.Background(), domain.ActionRequest{Kind: domain.ActionCancelOrder, ManagerID: "0xm", OrderID: "7"})
	if !errors.Is(err, domain.ErrActionFailed) {
		t.Fatalf("err = %v", err)
	}
}

func TestLiquidate(t *testing.T) {
	var got liquidateBody
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/margin/liquidate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"digest":"L1"}`))
	})
	res, err := c.Liquidate(context.Background(), domain.LiquidationRequest{
		ManagerID:   "0xm",
		PoolKey:     "SUI_USDC",
		RepayAmount: 121,
		RepayRaw:    121000000,
		CoinType:    "0xdba::usdc::USDC",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Digest != "L1" || got.RepayRaw != "121000000" || got.DebtIsBase {
		t.Fatalf("res = %+v body = %+v", res, got)
	}
}
