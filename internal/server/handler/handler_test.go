package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/marginbot/internal/domain"
	"github.com/alanyoungcy/marginbot/internal/risk"
	"github.com/alanyoungcy/marginbot/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeReader struct {
	snap domain.PositionSnapshot
	err  error
}

func (f fakeReader) Read(context.Context, string) (domain.PositionSnapshot, error) {
	return f.snap, f.err
}

func (f fakeReader) Refresh(context.Context, string) (domain.PositionSnapshot, error) {
	return f.snap, f.err
}

func serve(pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestGetPositionEncodesInfiniteRatio(t *testing.T) {
	p := domain.EmptyPosition("SUI_USDC")
	p.ManagerID = "0xab"
	h := NewPositionHandler(fakeReader{snap: domain.PositionSnapshot{Position: p, FetchedAt: time.Now()}}, testLogger())

	rec := serve("GET /api/positions/{id}", h.GetPosition, httptest.NewRequest(http.MethodGet, "/api/positions/0xab", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	pos := decodeBody(t, rec)["position"].(map[string]any)
	if pos["risk_ratio"] != "inf" || pos["health"] != "safe" {
		t.Fatalf("position = %v", pos)
	}
}

func TestGetPositionErrors(t *testing.T) {
	tests := []struct {
		name string
		snap domain.PositionSnapshot
		err  error
		want int
	}{
		{"unavailable without history", domain.PositionSnapshot{}, domain.ErrDataUnavailable, http.StatusServiceUnavailable},
		{"bad id", domain.PositionSnapshot{}, domain.ErrInvalidObjectID, http.StatusBadRequest},
		{"stale snapshot served", domain.PositionSnapshot{Stale: true, Position: domain.MarginPosition{RiskRatio: 1.2}}, domain.ErrDataUnavailable, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPositionHandler(fakeReader{snap: tt.snap, err: tt.err}, testLogger())
			rec := serve("GET /api/positions/{id}", h.GetPosition, httptest.NewRequest(http.MethodGet, "/api/positions/x", nil))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

type fakeActions struct {
	got    domain.ActionRequest
	result service.ActionResult
	err    error
}

func (f *fakeActions) Check(_ context.Context, req domain.ActionRequest) (service.CheckResult, error) {
	f.got = req
	return service.CheckResult{Decision: f.result.Decision, Request: req}, f.err
}

func (f *fakeActions) Execute(_ context.Context, req domain.ActionRequest) (service.ActionResult, error) {
	f.got = req
	return f.result, f.err
}

func (f *fakeActions) Preview(context.Context, domain.ActionRequest) (service.PreviewResult, error) {
	return service.PreviewResult{
		Current:   risk.Preview{Ratio: math.Inf(1), Health: domain.HealthSafe},
		Projected: risk.Preview{Ratio: 2.5, Health: domain.HealthSafe},
		MaxBorrow: 10,
	}, f.err
}

func (f *fakeActions) SizeOrder(context.Context, service.SizeRequest) (float64, error) {
	return 4.2, f.err
}

func TestExecuteActionDecodesBody(t *testing.T) {
	fa := &fakeActions{result: service.ActionResult{Kind: domain.ActionBorrow, Decision: risk.Decision{Allowed: true, ProjectedRatio: 1.3}, Digest: "d1"}}
	h := NewActionHandler(fa, testLogger())
	body := `{"kind":"borrow","account":"0x1","pool_key":"SUI_USDC","asset":"quote","amount":5}`

	rec := serve("POST /api/actions", h.ExecuteAction, httptest.NewRequest(http.MethodPost, "/api/actions", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	if fa.got.Kind != domain.ActionBorrow || fa.got.Asset != domain.AssetQuote || fa.got.Amount != 5 {
		t.Fatalf("request = %+v", fa.got)
	}
	out := decodeBody(t, rec)
	if out["digest"] != "d1" {
		t.Errorf("digest = %v", out["digest"])
	}
	if d := out["decision"].(map[string]any); d["projected_ratio"] != "1.3" {
		t.Errorf("decision = %v", d)
	}
}

func TestExecuteActionRejection(t *testing.T) {
	fa := &fakeActions{result: service.ActionResult{Decision: risk.Decision{Reason: risk.ReasonBelowMinimumRatio, Detail: "too low"}}}
	h := NewActionHandler(fa, testLogger())
	body := `{"kind":"withdraw","account":"0x1","pool_key":"SUI_USDC","asset":"base","amount":5}`

	rec := serve("POST /api/actions", h.ExecuteAction, httptest.NewRequest(http.MethodPost, "/api/actions", strings.NewReader(body)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	d := decodeBody(t, rec)["decision"].(map[string]any)
	if d["reason"] != "below_minimum_ratio" {
		t.Errorf("decision = %v", d)
	}
}

func TestExecuteActionBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"missing account", `{"kind":"borrow","pool_key":"SUI_USDC"}`, nil, http.StatusBadRequest},
		{"bad asset", `{"kind":"borrow","account":"0x1","pool_key":"SUI_USDC","asset":"eth"}`, nil, http.StatusBadRequest},
		{"unknown field", `{"kind":"borrow","account":"0x1","pool_key":"SUI_USDC","nope":1}`, nil, http.StatusBadRequest},
		{"execution failure", `{"kind":"borrow","account":"0x1","pool_key":"SUI_USDC"}`, domain.ErrActionFailed, http.StatusBadGateway},
		{"unknown pool", `{"kind":"borrow","account":"0x1","pool_key":"X_Y"}`, domain.ErrNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewActionHandler(&fakeActions{err: tt.err}, testLogger())
			rec := serve("POST /api/actions", h.ExecuteAction, httptest.NewRequest(http.MethodPost, "/api/actions", strings.NewReader(tt.body)))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestPreviewAction(t *testing.T) {
	h := NewActionHandler(&fakeActions{}, testLogger())
	body := `{"kind":"borrow","account":"0x1","pool_key":"SUI_USDC","asset":"quote","amount":1}`
	rec := serve("POST /api/preview", h.PreviewAction, httptest.NewRequest(http.MethodPost, "/api/preview", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	out := decodeBody(t, rec)
	if out["current"].(map[string]any)["risk_ratio"] != "inf" {
		t.Errorf("current = %v", out["current"])
	}
	if out["max_borrow"] != 10.0 {
		t.Errorf("max_borrow = %v", out["max_borrow"])
	}
}

type fakeScanner struct {
	cs []domain.LiquidatablePosition
}

func (f fakeScanner) Candidates(context.Context, string) ([]domain.LiquidatablePosition, error) {
	return f.cs, nil
}

func (f fakeScanner) Scan(context.Context, string) ([]domain.LiquidatablePosition, error) {
	return f.cs, nil
}

func (f fakeScanner) State(string) service.ScanState { return service.ScanIdle }

func (f fakeScanner) Outcome(string) (service.ScanState, bool) { return service.ScanFound, true }

func (f fakeScanner) LastScan(string) (time.Time, bool) { return time.Time{}, false }

func TestListCandidates(t *testing.T) {
	h := NewLiquidationHandler(fakeScanner{cs: []domain.LiquidatablePosition{{ManagerID: "0xa", RiskRatio: 0.97}}}, nil, nil, testLogger())
	rec := serve("GET /api/liquidations", h.ListCandidates, httptest.NewRequest(http.MethodGet, "/api/liquidations", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	out := decodeBody(t, rec)
	if out["state"] != "idle" || out["outcome"] != "found" {
		t.Errorf("state = %v, outcome = %v", out["state"], out["outcome"])
	}
	cs := out["candidates"].([]any)
	if len(cs) != 1 || cs[0].(map[string]any)["risk_ratio"] != "0.97" {
		t.Errorf("candidates = %v", cs)
	}
}

func TestExecuteLiquidationDisabled(t *testing.T) {
	h := NewLiquidationHandler(fakeScanner{}, nil, nil, testLogger())
	rec := serve("POST /api/liquidations/{id}/execute", h.ExecuteLiquidation,
		httptest.NewRequest(http.MethodPost, "/api/liquidations/0xa/execute", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

type fakeRegistry struct {
	recs []domain.ManagerRecord
}

func (f *fakeRegistry) List(context.Context, domain.Network, string) ([]domain.ManagerRecord, error) {
	return f.recs, nil
}

func (f *fakeRegistry) Register(_ context.Context, n domain.Network, account, pool, id string) (domain.ManagerRecord, error) {
	rec := domain.ManagerRecord{Network: n, Account: account, PoolKey: pool, ManagerID: id}
	f.recs = append(f.recs, rec)
	return rec, nil
}

func (f *fakeRegistry) Forget(context.Context, domain.Network, string, string) error {
	return domain.ErrNotFound
}

func TestManagerEndpoints(t *testing.T) {
	reg := &fakeRegistry{}
	h := NewManagerHandler(reg, domain.NetworkTestnet, testLogger())

	rec := serve("POST /api/accounts/{account}/managers", h.RegisterManager,
		httptest.NewRequest(http.MethodPost, "/api/accounts/0x1/managers", strings.NewReader(`{"pool_key":"SUI_USDC","manager_id":"0xab"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d", rec.Code)
	}
	if reg.recs[0].Account != "0x1" || reg.recs[0].Network != domain.NetworkTestnet {
		t.Errorf("registered %+v", reg.recs[0])
	}

	rec = serve("GET /api/accounts/{account}/managers", h.ListManagers,
		httptest.NewRequest(http.MethodGet, "/api/accounts/0x1/managers", nil))
	if got := decodeBody(t, rec)["managers"].([]any); len(got) != 1 {
		t.Errorf("managers = %v", got)
	}

	rec = serve("DELETE /api/accounts/{account}/managers", h.ForgetManager,
		httptest.NewRequest(http.MethodDelete, "/api/accounts/0x1/managers?pool_key=SUI_USDC", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("forget status = %d", rec.Code)
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthCheck(t *testing.T) {
	h := NewHealthHandler("testnet", "monitor", map[string]Pinger{
		"redis":    pingFunc(func(context.Context) error { return nil }),
		"postgres": pingFunc(func(context.Context) error { return domain.ErrDataUnavailable }),
	}, testLogger())
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	out := decodeBody(t, rec)
	if out["status"] != "degraded" || out["network"] != "testnet" {
		t.Errorf("body = %v", out)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidObjectID, http.StatusBadRequest},
		{domain.ErrSuperseded, http.StatusConflict},
		{domain.ErrDataUnavailable, http.StatusServiceUnavailable},
		{domain.ErrActionFailed, http.StatusBadGateway},
	}
	for _, tt := range tests {
		wrapped := fmt.Errorf("position_reader: 0xa: %w", tt.err)
		if got := statusFor(wrapped); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
