package lending

import (
	"math/big"
	"testing"
)

// exactModel builds a model from exact rationals so curve assertions can use
// strict comparison.
func exactModel(baseNum, baseDen, s1Num, s1Den, s2Num, s2Den, kinkNum, kinkDen int64) *InterestModel {
	return &InterestModel{
		BaseRate: big.NewRat(baseNum, baseDen),
		Slope1:   big.NewRat(s1Num, s1Den),
		Slope2:   big.NewRat(s2Num, s2Den),
		Kink:     big.NewRat(kinkNum, kinkDen),
	}
}

func TestUtilisationEmptyPoolIsZero(t *testing.T) {
	model := DefaultInterestModel
	if u := model.Utilisation(big.NewInt(0), big.NewInt(0)); u.Sign() != 0 {
		t.Fatalf("empty pool utilisation %s", u)
	}
	if u := model.Utilisation(nil, nil); u.Sign() != 0 {
		t.Fatalf("nil pool utilisation %s", u)
	}
	if u := model.Utilisation(big.NewInt(50), big.NewInt(100)); u.Cmp(big.NewRat(1, 2)) != 0 {
		t.Fatalf("utilisation %s, want 1/2", u)
	}
}

func TestBorrowAPRLinearBelowKink(t *testing.T) {
	// 2% base, 10% slope, kink at full utilisation: rate(u) = 0.02 + 0.10u.
	model := exactModel(2, 100, 10, 100, 10, 100, 1, 1)

	apr := model.BorrowAPR(big.NewInt(0), big.NewInt(100))
	if apr.Cmp(big.NewRat(2, 100)) != 0 {
		t.Fatalf("idle pool APR %s, want 2%%", apr)
	}
	apr = model.BorrowAPR(big.NewInt(50), big.NewInt(100))
	if apr.Cmp(big.NewRat(7, 100)) != 0 {
		t.Fatalf("half-utilised APR %s, want 7%%", apr)
	}
	apr = model.BorrowAPR(big.NewInt(100), big.NewInt(100))
	if apr.Cmp(big.NewRat(12, 100)) != 0 {
		t.Fatalf("full-utilised APR %s, want 12%%", apr)
	}
}

func TestBorrowAPRSteepensPastKink(t *testing.T) {
	// Kink at 80%: beyond it slope2 takes over.
	model := exactModel(2, 100, 10, 100, 60, 100, 8, 10)

	apr := model.BorrowAPR(big.NewInt(80), big.NewInt(100))
	if apr.Cmp(big.NewRat(10, 100)) != 0 {
		t.Fatalf("kink APR %s, want 10%%", apr)
	}
	apr = model.BorrowAPR(big.NewInt(90), big.NewInt(100))
	// 0.02 + 0.10*0.8 + 0.60*0.1 = 0.16.
	if apr.Cmp(big.NewRat(16, 100)) != 0 {
		t.Fatalf("post-kink APR %s, want 16%%", apr)
	}
}

func TestBorrowRateBpsFloors(t *testing.T) {
	model := exactModel(123456, 1000000, 0, 1, 0, 1, 1, 1)
	if bps := model.BorrowRateBps(big.NewInt(0), big.NewInt(100)); bps != 1234 {
		t.Fatalf("bps %d, want floor(1234.56) = 1234", bps)
	}
	if bps := (*InterestModel)(nil).BorrowRateBps(big.NewInt(1), big.NewInt(2)); bps != 0 {
		t.Fatalf("nil model bps %d", bps)
	}
}

func TestInterestModelValidate(t *testing.T) {
	if err := DefaultInterestModel.Validate(); err != nil {
		t.Fatalf("default model invalid: %v", err)
	}
	if err := (*InterestModel)(nil).Validate(); err == nil {
		t.Fatalf("nil model must fail validation")
	}
	negative := exactModel(-1, 100, 10, 100, 10, 100, 1, 1)
	if err := negative.Validate(); err == nil {
		t.Fatalf("negative base rate must fail validation")
	}
	flatKink := exactModel(2, 100, 10, 100, 10, 100, 0, 1)
	if err := flatKink.Validate(); err == nil {
		t.Fatalf("zero kink must fail validation")
	}
	overKink := exactModel(2, 100, 10, 100, 10, 100, 3, 2)
	if err := overKink.Validate(); err == nil {
		t.Fatalf("kink above one must fail validation")
	}
}

func TestSupplyAPYAppliesReserveFactor(t *testing.T) {
	model := exactModel(2, 100, 10, 100, 0, 1, 1, 1)
	// APR 7% at half utilisation; lenders keep 90% of the utilised slice:
	// 0.07 * 0.5 * 0.9 = 63/2000.
	apy := model.SupplyAPY(big.NewInt(50), big.NewInt(100), 1_000)
	if apy.Cmp(big.NewRat(63, 2000)) != 0 {
		t.Fatalf("supply APY %s, want 63/2000", apy)
	}
	if apy := model.SupplyAPY(big.NewInt(0), big.NewInt(100), 1_000); apy.Sign() != 0 {
		t.Fatalf("idle pool supply APY %s", apy)
	}
}

func TestSimpleInterestFormula(t *testing.T) {
	cases := []struct {
		name      string
		principal int64
		rateBps   uint64
		elapsed   int64
		want      int64
	}{
		{"one year at 5%", 1_000_000, 500, 31_536_000, 50_000},
		{"half year at 2%", 10_000, 200, 15_768_000, 100},
		{"floors sub-unit accrual", 1_000, 500, 1_000, 0},
		{"zero elapsed", 1_000_000, 500, 0, 0},
		{"zero rate", 1_000_000, 0, 31_536_000, 0},
	}
	for _, tc := range cases {
		got := simpleInterest(big.NewInt(tc.principal), tc.rateBps, tc.elapsed)
		if got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Fatalf("%s: interest %s, want %d", tc.name, got, tc.want)
		}
	}
	if got := simpleInterest(nil, 500, 1_000); got.Sign() != 0 {
		t.Fatalf("nil principal interest %s", got)
	}
}

func TestShareMathRoundsDown(t *testing.T) {
	if shares := sharesForDeposit(big.NewInt(500), big.NewInt(0), big.NewInt(0)); shares.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("first deposit shares %s, want 500", shares)
	}
	// 2 * 1 / 3 floors to zero.
	if shares := sharesForDeposit(big.NewInt(2), big.NewInt(1), big.NewInt(3)); shares.Sign() != 0 {
		t.Fatalf("dust deposit shares %s, want 0", shares)
	}
	// 50000 * 100000 / 120000 floors to 41666.
	shares := sharesForDeposit(big.NewInt(50_000), big.NewInt(100_000), big.NewInt(120_000))
	if shares.Cmp(big.NewInt(41_666)) != 0 {
		t.Fatalf("pro-rata shares %s, want 41666", shares)
	}

	if amount := liquidityForShares(big.NewInt(1), big.NewInt(3), big.NewInt(2)); amount.Sign() != 0 {
		t.Fatalf("dust payout %s, want 0", amount)
	}
	amount := liquidityForShares(big.NewInt(40_000), big.NewInt(100_000), big.NewInt(120_000))
	if amount.Cmp(big.NewInt(48_000)) != 0 {
		t.Fatalf("payout %s, want 48000", amount)
	}
}

func TestConfigSeedsEngine(t *testing.T) {
	f := newPoolFixture(t)
	cfg := Config{BaseRate: 0.04, Slope1: 0.05, Slope2: 0.30, Kink: 0.9, ReserveFactorBps: 2_000}
	if err := f.engine.ApplyConfig(cfg); err != nil {
		t.Fatalf("apply config: %v", err)
	}
	if got := f.engine.ReserveFactor(); got != 2_000 {
		t.Fatalf("reserve factor %d, want 2000", got)
	}
	if got := f.engine.CurrentRateBps(); got != 400 {
		t.Fatalf("idle rate %d bps, want 400", got)
	}

	bad := Config{BaseRate: 0.02, Slope1: 0.10, Slope2: 0.10, Kink: 0, ReserveFactorBps: 1_000}
	if err := f.engine.ApplyConfig(bad); err == nil {
		t.Fatalf("zero kink config must be rejected")
	}
	overReserve := DefaultConfig()
	overReserve.ReserveFactorBps = 10_000
	if err := f.engine.ApplyConfig(overReserve); err == nil {
		t.Fatalf("full reserve factor must be rejected")
	}
}
