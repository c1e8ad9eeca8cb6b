package observability

import (
	"io"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.ObservePosition("0xabc", "ok", 1.25, false)
	m.ObserveGuard("borrow", "below_minimum_ratio")
	m.ObserveGuard("deposit", "")
	m.ObserveAction("deposit", "ok", 2*time.Second)
	m.ObserveScan("found", 3)
	m.ObserveLiquidation("succeeded")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`marginbot_position_risk_ratio{manager_id="0xabc"} 1.25`,
		`marginbot_guard_decisions_total{kind="borrow",reason="below_minimum_ratio"} 1`,
		`marginbot_guard_decisions_total{kind="deposit",reason="allowed"} 1`,
		`marginbot_liquidation_candidates 3`,
		`marginbot_liquidations_total{result="succeeded"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestInfiniteRatioGauge(t *testing.T) {
	m := NewMetrics()
	m.ObservePosition("0x1", "ok", math.Inf(1), false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `marginbot_position_risk_ratio{manager_id="0x1"} +Inf`) {
		t.Fatal("expected +Inf gauge")
	}

	m.ForgetPosition("0x1")
	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if strings.Contains(rec.Body.String(), `manager_id="0x1"`) {
		t.Fatal("series should be removed")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObservePosition("x", "ok", 1, false)
	m.ObserveGuard("borrow", "")
	m.ObserveAction("borrow", "ok", time.Second)
	m.ObserveScan("empty", 0)
	m.ObserveLiquidation("failed")
	m.ObserveHTTP("GET", "200", time.Millisecond)
	m.ForgetPosition("x")
}
