package redis

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

func TestSnapshotCodecKeepsInfiniteRatio(t *testing.T) {
	trigger := 3.1
	in := domain.PositionSnapshot{
		Position: domain.MarginPosition{
			ManagerID:           "0xabc",
			PoolKey:             "SUI_USDC",
			BaseAsset:           10,
			QuoteAsset:          1000,
			RiskRatio:           math.Inf(1),
			Health:              domain.HealthSafe,
			HighestTriggerBelow: &trigger,
			Indexed:             true,
			UpdatedAt:           time.UnixMilli(1700000000000).UTC(),
		},
		FetchedAt: time.UnixMilli(1700000001000).UTC(),
		Stale:     true,
		LastError: "data unavailable",
	}

	data, err := json.Marshal(encodeSnapshot(in))
	if err != nil {
		t.Fatal(err)
	}
	var j snapshotJSON
	if err := json.Unmarshal(data, &j); err != nil {
		t.Fatal(err)
	}
	out, err := decodeSnapshot(j)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsInf(out.Position.RiskRatio, 1) {
		t.Errorf("ratio = %v", out.Position.RiskRatio)
	}
	if !out.Stale || out.LastError != in.LastError || !out.FetchedAt.Equal(in.FetchedAt) {
		t.Errorf("metadata = %+v", out)
	}
	if out.Position.HighestTriggerBelow == nil || *out.Position.HighestTriggerBelow != 3.1 {
		t.Errorf("trigger = %v", out.Position.HighestTriggerBelow)
	}
}

func TestLiquidatableCodec(t *testing.T) {
	in := []domain.LiquidatablePosition{{ManagerID: "0x1", RiskRatio: 0.97, QuoteDebt: 121}}
	out, err := decodeLiquidatable(encodeLiquidatable(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].RiskRatio != 0.97 || out[0].QuoteDebt != 121 {
		t.Fatalf("out = %+v", out)
	}
	if _, err := decodeLiquidatable([]liquidatableJSON{{RiskRatio: "x"}}); err == nil {
		t.Fatal("expected error for bad ratio")
	}
}

func TestJoinKey(t *testing.T) {
	if got := joinKey("marginbot:testnet", "position", "0x1"); got != "marginbot:testnet:position:0x1" {
		t.Errorf("key = %s", got)
	}
	if got := joinKey("", "pools"); got != "pools" {
		t.Errorf("key = %s", got)
	}
}
