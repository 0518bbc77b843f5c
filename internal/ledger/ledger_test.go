package ledger_test

import (
	"DSCEngine/internal/ledger"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

func amt(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.CollateralKey(userID, "WETH")

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:collateral:WETH"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_DebtPath(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	path := ledger.DebtKey(userID).AccountPath()
	if path != "user:550e8400-e29b-41d4-a716-446655440000:debt:DSC" {
		t.Errorf("got %q", path)
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, "WETH")

	path := key.AccountPath()
	if path != "external:deposits:WETH" {
		t.Errorf("got %q, want %q", path, "external:deposits:WETH")
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	userID := uuid.New()
	keys := []ledger.AccountKey{
		ledger.CollateralKey(userID, "WBTC"),
		ledger.DebtKey(userID),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalWithdrawals, "WETH"),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalBurned, ledger.DebtAsset),
	}

	for _, key := range keys {
		parsed, err := ledger.ParseAccountPath(key.AccountPath())
		if err != nil {
			t.Fatalf("parse %s: %v", key.AccountPath(), err)
		}
		if parsed != key {
			t.Errorf("round trip mismatch for %s", key.AccountPath())
		}
	}
}

func TestParseAccountPath_Malformed(t *testing.T) {
	for _, path := range []string{
		"",
		"system:fees:USDT",
		"user:not-a-uuid:collateral:WETH",
		"user:550e8400-e29b-41d4-a716-446655440000:deposits:WETH",
		"external:collateral:WETH",
	} {
		if _, err := ledger.ParseAccountPath(path); err == nil {
			t.Errorf("expected error for %q", path)
		}
	}
}

// ============================================================================
// Test: Registry
// ============================================================================

func TestRegistry_OrderAndLookup(t *testing.T) {
	r, err := ledger.NewRegistry([]ledger.CollateralType{
		{Symbol: "WETH", Decimals: 18, PriceFeed: "ETH/USD"},
		{Symbol: "WBTC", Decimals: 8, PriceFeed: "BTC/USD"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	syms := r.Symbols()
	if len(syms) != 2 || syms[0] != "WETH" || syms[1] != "WBTC" {
		t.Errorf("symbols: got %v", syms)
	}

	ct, err := r.Lookup("WBTC")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ct.PriceFeed != "BTC/USD" || ct.Decimals != 8 {
		t.Errorf("lookup: got %+v", ct)
	}

	if _, err := r.Lookup("DOGE"); !errors.Is(err, ledger.ErrUnsupportedCollateral) {
		t.Errorf("expected ErrUnsupportedCollateral, got %v", err)
	}
}

func TestRegistry_RejectsBadTypes(t *testing.T) {
	cases := [][]ledger.CollateralType{
		{{Symbol: "", PriceFeed: "x"}},
		{{Symbol: "WETH"}},
		{{Symbol: "DSC", PriceFeed: "x"}},
		{{Symbol: "WETH", PriceFeed: "a"}, {Symbol: "WETH", PriceFeed: "b"}},
		{{Symbol: "WIDE", Decimals: 80, PriceFeed: "x"}},
	}
	for i, types := range cases {
		if _, err := ledger.NewRegistry(types); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	if !bt.GetUserCollateral(uuid.New(), "WETH").IsZero() {
		t.Error("initial balance should be 0")
	}
}

func TestBalanceTracker_DepositAndRedeem(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(0)
	userID := uuid.New()

	if err := bt.ApplyBatch(gen.GenerateDeposit(userID, "WETH", amt(500))); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := bt.ApplyBatch(gen.GenerateRedeem(userID, "WETH", amt(200))); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	if got := bt.GetUserCollateral(userID, "WETH"); !got.Eq(amt(300)) {
		t.Errorf("collateral: got %s, want 300", got.Dec())
	}
	if got := bt.GetBalance(ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, "WETH")); !got.Eq(amt(500)) {
		t.Errorf("deposits: got %s, want 500", got.Dec())
	}
	if got := bt.GetBalance(ledger.NewExternalAccountKey(ledger.SubTypeExternalWithdrawals, "WETH")); !got.Eq(amt(200)) {
		t.Errorf("withdrawals: got %s, want 200", got.Dec())
	}
}

func TestBalanceTracker_UnderflowIsAtomic(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(0)
	debtor := uuid.New()

	if err := bt.ApplyBatch(gen.GenerateDeposit(debtor, "WETH", amt(100))); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// base fits, base+bonus does not: nothing may be applied
	err := bt.ApplyBatch(gen.GenerateSeize(debtor, "WETH", amt(95), amt(10)))
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if got := bt.GetUserCollateral(debtor, "WETH"); !got.Eq(amt(100)) {
		t.Errorf("collateral must be untouched, got %s", got.Dec())
	}
	if got := bt.GetBalance(ledger.NewExternalAccountKey(ledger.SubTypeExternalWithdrawals, "WETH")); !got.IsZero() {
		t.Errorf("withdrawals must be untouched, got %s", got.Dec())
	}
}

func TestBalanceTracker_RevertBatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(0)
	userID := uuid.New()

	deposit := gen.GenerateDeposit(userID, "WETH", amt(100))
	mint := gen.GenerateMint(userID, amt(40))
	for _, b := range []*ledger.Batch{deposit, mint} {
		if err := bt.ApplyBatch(b); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	bt.RevertBatch(mint)
	bt.RevertBatch(deposit)

	for key, v := range bt.Snapshot() {
		if !v.IsZero() {
			t.Errorf("%s: expected 0 after revert, got %s", key.AccountPath(), v.Dec())
		}
	}
}

func TestBatch_Validate(t *testing.T) {
	gen := ledger.NewJournalGenerator(0)
	userID := uuid.New()

	empty := &ledger.Batch{BatchID: uuid.New()}
	if err := empty.Validate(); err == nil {
		t.Error("empty batch should fail")
	}

	zero := gen.GenerateDeposit(userID, "WETH", amt(0))
	if err := zero.Validate(); err == nil {
		t.Error("zero amount should fail")
	}

	mixed := gen.GenerateDeposit(userID, "WETH", amt(1))
	mixed.Journals[0].CreditAccount = ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, "WBTC")
	if err := mixed.Validate(); err == nil {
		t.Error("mixed assets should fail")
	}
}

func TestGenerator_SeizeSplitsBonus(t *testing.T) {
	gen := ledger.NewJournalGenerator(0)
	gen.Begin(7, "liq-1", 1_700_000_000_000_000)

	batch := gen.GenerateSeize(uuid.New(), "WETH", amt(1000), amt(100))
	if len(batch.Journals) != 2 {
		t.Fatalf("expected 2 journals, got %d", len(batch.Journals))
	}
	if batch.Journals[0].JournalType != ledger.JournalTypeLiquidationSeize ||
		batch.Journals[1].JournalType != ledger.JournalTypeLiquidationBonus {
		t.Errorf("unexpected journal types %v, %v", batch.Journals[0].JournalType, batch.Journals[1].JournalType)
	}
	for _, j := range batch.Journals {
		if j.Sequence != 7 || j.EventRef != "liq-1" {
			t.Errorf("journal not stamped: seq=%d ref=%s", j.Sequence, j.EventRef)
		}
	}

	batch.Renumber(9)
	if batch.Sequence != 9 || batch.Journals[1].Sequence != 9 {
		t.Error("renumber did not stamp all journals")
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_Conservation(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	gen := ledger.NewJournalGenerator(0)
	v := ledger.NewInvariantValidator(bt)
	alice, bob := uuid.New(), uuid.New()

	batches := []*ledger.Batch{
		gen.GenerateDeposit(alice, "WETH", amt(1000)),
		gen.GenerateDeposit(bob, "WETH", amt(500)),
		gen.GenerateMint(alice, amt(300)),
		gen.GenerateSeize(alice, "WETH", amt(200), amt(20)),
		gen.GenerateBurn(alice, amt(100)),
	}
	for _, b := range batches {
		if err := bt.ApplyBatch(b); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	if err := v.ValidateGlobal([]string{"WETH"}); err != nil {
		t.Errorf("conservation should hold: %v", err)
	}

	// Tamper with a user balance directly
	bt.SetBalance(ledger.CollateralKey(bob, "WETH"), amt(501))
	if err := v.ValidateCollateralConservation("WETH"); err == nil {
		t.Error("tampered collateral should break conservation")
	}

	bt.SetBalance(ledger.DebtKey(alice), amt(1))
	if err := v.ValidateDebtConservation(); err == nil {
		t.Error("tampered debt should break conservation")
	}
}
