package ingestion_test

import (
	"DSCEngine/internal/core"
	"DSCEngine/internal/ingestion"
	"encoding/json"
	"testing"
)

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestParsePriceUpdate(t *testing.T) {
	data := mustJSON(t, map[string]interface{}{
		"feed":          "ETH/USD",
		"price":         "200000000000",
		"decimals":      8,
		"round":         int64(42),
		"updated_at_us": int64(1700000000000000),
	})

	u, err := ingestion.ParsePriceUpdate(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if u.Feed != "ETH/USD" {
		t.Errorf("feed: got %s, want ETH/USD", u.Feed)
	}
	if u.Price.String() != "200000000000" {
		t.Errorf("price: got %s, want 200000000000", u.Price)
	}
	if u.Decimals != 8 {
		t.Errorf("decimals: got %d, want 8", u.Decimals)
	}
	if u.Round != 42 {
		t.Errorf("round: got %d, want 42", u.Round)
	}
	if u.UpdatedAt.UnixMicro() != 1700000000000000 {
		t.Errorf("updated_at: got %v", u.UpdatedAt)
	}
}

func TestParsePriceUpdate_Malformed(t *testing.T) {
	cases := map[string]string{
		"invalid json":  `{invalid json`,
		"missing feed":  `{"price":"1","round":1}`,
		"decimal price": `{"feed":"ETH/USD","price":"2000.5","round":1}`,
		"missing price": `{"feed":"ETH/USD","round":1}`,
		"wide decimals": `{"feed":"ETH/USD","price":"200000000000","decimals":200,"round":1}`,
	}
	for name, payload := range cases {
		if _, err := ingestion.ParsePriceUpdate([]byte(payload)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestParseCommand_DepositCollateralAndMintDsc(t *testing.T) {
	data := mustJSON(t, map[string]interface{}{
		"operation":         "DepositCollateralAndMintDsc",
		"caller":            "660e8400-e29b-41d4-a716-446655440001",
		"idempotency_key":   "req-1",
		"token":             "WETH",
		"collateral_amount": "10000000000000000000",
		"mint_amount":       "100000000000000000000",
	})

	cmd, err := ingestion.ParseCommand(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	dm, ok := cmd.(*core.DepositCollateralAndMintDsc)
	if !ok {
		t.Fatalf("expected *core.DepositCollateralAndMintDsc, got %T", cmd)
	}
	if dm.Caller.String() != "660e8400-e29b-41d4-a716-446655440001" {
		t.Errorf("caller: got %s", dm.Caller)
	}
	if dm.Metadata().IdempotencyKey != "req-1" {
		t.Errorf("idempotency key: got %q, want req-1", dm.IdempotencyKey)
	}
	if dm.CollateralAmount.String() != "10000000000000000000" {
		t.Errorf("collateral_amount: got %s", dm.CollateralAmount)
	}
	if dm.MintAmount.String() != "100000000000000000000" {
		t.Errorf("mint_amount: got %s", dm.MintAmount)
	}
}

func TestParseCommand_Liquidate(t *testing.T) {
	data := mustJSON(t, map[string]interface{}{
		"operation":     "Liquidate",
		"caller":        "660e8400-e29b-41d4-a716-446655440001",
		"token":         "WBTC",
		"debtor":        "770e8400-e29b-41d4-a716-446655440002",
		"debt_to_cover": "5",
	})

	cmd, err := ingestion.ParseCommand(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	liq, ok := cmd.(*core.Liquidate)
	if !ok {
		t.Fatalf("expected *core.Liquidate, got %T", cmd)
	}
	if liq.Debtor.String() != "770e8400-e29b-41d4-a716-446655440002" {
		t.Errorf("debtor: got %s", liq.Debtor)
	}
	if liq.DebtToCover.Int64() != 5 {
		t.Errorf("debt_to_cover: got %s, want 5", liq.DebtToCover)
	}
}

func TestParseCommand_NegativeAndMissingAmountsReachEngine(t *testing.T) {
	cmd, err := ingestion.ParseCommand([]byte(
		`{"operation":"MintDsc","caller":"660e8400-e29b-41d4-a716-446655440001","amount":"-3"}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := cmd.(*core.MintDsc).Amount.Int64(); got != -3 {
		t.Errorf("amount: got %d, want -3", got)
	}

	cmd, err = ingestion.ParseCommand([]byte(
		`{"operation":"BurnDsc","caller":"660e8400-e29b-41d4-a716-446655440001"}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cmd.(*core.BurnDsc).Amount != nil {
		t.Error("missing amount should stay nil")
	}
}

func TestParseCommand_Fails(t *testing.T) {
	cases := map[string]string{
		"unknown operation": `{"operation":"Flashloan","caller":"660e8400-e29b-41d4-a716-446655440001"}`,
		"invalid caller":    `{"operation":"MintDsc","caller":"not-a-uuid","amount":"1"}`,
		"invalid debtor":    `{"operation":"Liquidate","caller":"660e8400-e29b-41d4-a716-446655440001","debtor":"x"}`,
		"non-integer":       `{"operation":"MintDsc","caller":"660e8400-e29b-41d4-a716-446655440001","amount":"1e18"}`,
		"invalid json":      `{invalid json`,
	}
	for name, payload := range cases {
		if _, err := ingestion.ParseCommand([]byte(payload)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
