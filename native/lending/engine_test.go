package lending

import (
	"errors"
	"math/big"
	"testing"

	"collend/core/events"
	"collend/crypto"
	nativecommon "collend/native/common"
)

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = suffix
	return crypto.NewAddress(crypto.CLNPrefix, raw)
}

type mockPoolState struct {
	books  *PoolState
	nextID uint64
	loans  map[uint64]*Loan
	index  map[uint64]uint64
	shares map[string]*big.Int
}

func newMockPoolState() *mockPoolState {
	books := &PoolState{}
	books.EnsureDefaults()
	return &mockPoolState{
		books:  books,
		loans:  make(map[uint64]*Loan),
		index:  make(map[uint64]uint64),
		shares: make(map[string]*big.Int),
	}
}

func (m *mockPoolState) PoolGet() *PoolState { return m.books.Clone() }

func (m *mockPoolState) PoolPut(books *PoolState) error {
	if books == nil {
		return errors.New("nil books")
	}
	m.books = books.Clone()
	return nil
}

func (m *mockPoolState) LoanNextID() uint64 {
	m.nextID++
	return m.nextID
}

func (m *mockPoolState) LoanGet(id uint64) (*Loan, bool) {
	loan, ok := m.loans[id]
	if !ok {
		return nil, false
	}
	return loan.Clone(), true
}

func (m *mockPoolState) LoanPut(loan *Loan) error {
	if loan == nil {
		return errors.New("nil loan")
	}
	m.loans[loan.ID] = loan.Clone()
	return nil
}

func (m *mockPoolState) LoanDelete(id uint64) { delete(m.loans, id) }

func (m *mockPoolState) LoanIDByPosition(positionID uint64) (uint64, bool) {
	id, ok := m.index[positionID]
	return id, ok
}

func (m *mockPoolState) LoanIndexSet(positionID, loanID uint64) { m.index[positionID] = loanID }

func (m *mockPoolState) LoanIndexClear(positionID uint64) { delete(m.index, positionID) }

func (m *mockPoolState) SharesGet(addr crypto.Address) *big.Int {
	held, ok := m.shares[string(addr.Bytes())]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(held)
}

func (m *mockPoolState) SharesPut(addr crypto.Address, amount *big.Int) error {
	if amount == nil {
		return errors.New("nil share amount")
	}
	m.shares[string(addr.Bytes())] = new(big.Int).Set(amount)
	return nil
}

type stubBalances struct {
	transfers []recordedTransfer
	failNext  bool
}

type recordedTransfer struct {
	from   crypto.Address
	to     crypto.Address
	amount *big.Int
}

func (s *stubBalances) Transfer(from, to crypto.Address, amount *big.Int) error {
	if s.failNext {
		s.failNext = false
		return errors.New("balances offline")
	}
	s.transfers = append(s.transfers, recordedTransfer{
		from:   from.Clone(),
		to:     to.Clone(),
		amount: new(big.Int).Set(amount),
	})
	return nil
}

func (s *stubBalances) last(t *testing.T) recordedTransfer {
	t.Helper()
	if len(s.transfers) == 0 {
		t.Fatalf("no transfer recorded")
	}
	return s.transfers[len(s.transfers)-1]
}

type stubPositions struct {
	pledgers map[uint64]crypto.Address
	healthy  map[uint64]bool
}

func newStubPositions() *stubPositions {
	return &stubPositions{
		pledgers: make(map[uint64]crypto.Address),
		healthy:  make(map[uint64]bool),
	}
}

func (s *stubPositions) IsHealthy(positionID uint64) bool { return s.healthy[positionID] }

func (s *stubPositions) Pledger(positionID uint64) (crypto.Address, error) {
	addr, ok := s.pledgers[positionID]
	if !ok {
		return crypto.Address{}, errors.New("position not found")
	}
	return addr.Clone(), nil
}

type stubPauseView struct {
	paused map[string]bool
}

func (s *stubPauseView) IsPaused(module string) bool { return s.paused[module] }

type poolFixture struct {
	engine     *Engine
	state      *mockPoolState
	balances   *stubBalances
	positions  *stubPositions
	recorder   *events.Recorder
	vault      crypto.Address
	lender     crypto.Address
	borrower   crypto.Address
	admin      crypto.Address
	liquidator crypto.Address
	now        *int64
}

func newPoolFixture(t *testing.T) *poolFixture {
	t.Helper()
	vault := crypto.ModuleAddress("lending")
	fixture := &poolFixture{
		engine:     NewEngine(vault),
		state:      newMockPoolState(),
		balances:   &stubBalances{},
		positions:  newStubPositions(),
		recorder:   events.NewRecorder(),
		vault:      vault,
		lender:     makeAddress(0x21),
		borrower:   makeAddress(0x22),
		admin:      makeAddress(0x23),
		liquidator: crypto.ModuleAddress("liquidation"),
	}
	roles := nativecommon.NewStaticRoles()
	roles.Grant(nativecommon.RoleRiskAdmin, fixture.admin)

	fixture.engine.SetState(fixture.state)
	fixture.engine.SetBalances(fixture.balances)
	fixture.engine.SetPositionSource(fixture.positions)
	fixture.engine.SetLiquidator(fixture.liquidator)
	fixture.engine.SetAuthorizer(roles)
	fixture.engine.SetEmitter(fixture.recorder)
	now := int64(1_700_000_000)
	fixture.now = &now
	fixture.engine.SetNowFunc(func() int64 { return now })
	return fixture
}

func (f *poolFixture) advance(seconds int64) { *f.now += seconds }

func (f *poolFixture) provide(t *testing.T, amount int64) *big.Int {
	t.Helper()
	shares, err := f.engine.Provide(f.lender, big.NewInt(amount))
	if err != nil {
		t.Fatalf("provide: %v", err)
	}
	return shares
}

func (f *poolFixture) openPosition(id uint64) {
	f.positions.pledgers[id] = f.borrower
	f.positions.healthy[id] = true
}

func (f *poolFixture) originate(t *testing.T, positionID uint64, amount, duration int64) uint64 {
	t.Helper()
	f.openPosition(positionID)
	loanID, err := f.engine.Originate(f.borrower, positionID, big.NewInt(amount), duration)
	if err != nil {
		t.Fatalf("originate: %v", err)
	}
	return loanID
}

func TestProvideFirstDepositMintsOneForOne(t *testing.T) {
	f := newPoolFixture(t)

	shares := f.provide(t, 100_000)
	if shares.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("expected 100000 shares, got %s", shares)
	}
	books := f.engine.PoolSnapshot()
	if books.TotalLiquidity.Cmp(big.NewInt(100_000)) != 0 || books.TotalShares.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("unexpected books %s/%s", books.TotalLiquidity, books.TotalShares)
	}
	transfer := f.balances.last(t)
	if !transfer.from.Equal(f.lender) || !transfer.to.Equal(f.vault) {
		t.Fatalf("deposit moved %s -> %s", transfer.from, transfer.to)
	}
	if got := f.engine.SharesOf(f.lender); got.Cmp(shares) != 0 {
		t.Fatalf("share balance %s, want %s", got, shares)
	}
}

func TestProvideSecondLenderPricedProRata(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)

	// Accrued yield skews liquidity above shares, so the next deposit must
	// not mint one-for-one.
	books := f.state.PoolGet()
	books.TotalLiquidity = big.NewInt(120_000)
	if err := f.state.PoolPut(books); err != nil {
		t.Fatalf("seed books: %v", err)
	}

	second := makeAddress(0x24)
	shares, err := f.engine.Provide(second, big.NewInt(60_000))
	if err != nil {
		t.Fatalf("provide: %v", err)
	}
	// 60000 * 100000 / 120000.
	if shares.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("expected 50000 shares, got %s", shares)
	}
}

func TestProvideRejectsNonPositiveAmount(t *testing.T) {
	f := newPoolFixture(t)
	if _, err := f.engine.Provide(f.lender, big.NewInt(0)); !errors.Is(err, errInvalidAmount) {
		t.Fatalf("expected errInvalidAmount, got %v", err)
	}
	if _, err := f.engine.Provide(f.lender, nil); !errors.Is(err, errInvalidAmount) {
		t.Fatalf("expected errInvalidAmount for nil, got %v", err)
	}
}

func TestProvideRollsBackWhenTransferFails(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)

	f.balances.failNext = true
	if _, err := f.engine.Provide(f.lender, big.NewInt(5_000)); err == nil {
		t.Fatalf("expected transfer failure")
	}
	books := f.engine.PoolSnapshot()
	if books.TotalLiquidity.Cmp(big.NewInt(100_000)) != 0 || books.TotalShares.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("books not restored: %s/%s", books.TotalLiquidity, books.TotalShares)
	}
	if got := f.engine.SharesOf(f.lender); got.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("share balance not restored: %s", got)
	}
}

func TestWithdrawLiquidityBurnsSharesAndPays(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)

	amount, err := f.engine.WithdrawLiquidity(f.lender, big.NewInt(40_000))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if amount.Cmp(big.NewInt(40_000)) != 0 {
		t.Fatalf("expected 40000 payout, got %s", amount)
	}
	books := f.engine.PoolSnapshot()
	if books.TotalLiquidity.Cmp(big.NewInt(60_000)) != 0 || books.TotalShares.Cmp(big.NewInt(60_000)) != 0 {
		t.Fatalf("unexpected books %s/%s", books.TotalLiquidity, books.TotalShares)
	}
	transfer := f.balances.last(t)
	if !transfer.from.Equal(f.vault) || !transfer.to.Equal(f.lender) {
		t.Fatalf("payout moved %s -> %s", transfer.from, transfer.to)
	}
}

func TestWithdrawLiquidityInsufficientShares(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 1_000)
	if _, err := f.engine.WithdrawLiquidity(f.lender, big.NewInt(1_001)); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
}

func TestWithdrawLiquidityRespectsLentOutFunds(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)
	f.originate(t, 1, 80_000, 3_600)

	if _, err := f.engine.WithdrawLiquidity(f.lender, big.NewInt(30_000)); !errors.Is(err, ErrInsufficientAvailableLiquidity) {
		t.Fatalf("expected ErrInsufficientAvailableLiquidity, got %v", err)
	}
	// The slice still covered by idle funds withdraws fine.
	if _, err := f.engine.WithdrawLiquidity(f.lender, big.NewInt(20_000)); err != nil {
		t.Fatalf("withdraw within available: %v", err)
	}
}

func TestOriginateSnapshotsPreBorrowRate(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)

	first := f.originate(t, 1, 50_000, 3_600)
	loan, err := f.engine.GetLoan(first)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	// Utilisation was zero before the borrow: base rate only.
	if loan.RateBps != 200 {
		t.Fatalf("expected 200 bps, got %d", loan.RateBps)
	}

	f.positions.pledgers[2] = f.borrower
	f.positions.healthy[2] = true
	second, err := f.engine.Originate(f.borrower, 2, big.NewInt(25_000), 3_600)
	if err != nil {
		t.Fatalf("second originate: %v", err)
	}
	loan, err = f.engine.GetLoan(second)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	// Pre-borrow utilisation 0.5: 2% + 0.5 * 10%.
	if loan.RateBps != 700 {
		t.Fatalf("expected 700 bps, got %d", loan.RateBps)
	}
}

func TestOriginateChecksPositionOwnership(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)
	f.positions.pledgers[1] = makeAddress(0x7F)
	f.positions.healthy[1] = true

	if _, err := f.engine.Originate(f.borrower, 1, big.NewInt(1_000), 3_600); !errors.Is(err, ErrNotPledger) {
		t.Fatalf("expected ErrNotPledger, got %v", err)
	}
}

func TestOriginateRejectsEncumberedPosition(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)
	f.originate(t, 1, 10_000, 3_600)

	if _, err := f.engine.Originate(f.borrower, 1, big.NewInt(1_000), 3_600); !errors.Is(err, ErrPositionEncumbered) {
		t.Fatalf("expected ErrPositionEncumbered, got %v", err)
	}
}

func TestOriginateRejectsInactivePosition(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)
	f.positions.pledgers[1] = f.borrower
	f.positions.healthy[1] = false

	if _, err := f.engine.Originate(f.borrower, 1, big.NewInt(1_000), 3_600); !errors.Is(err, ErrPositionUnavailable) {
		t.Fatalf("expected ErrPositionUnavailable, got %v", err)
	}
}

func TestOriginateInsufficientLiquidity(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 10_000)
	f.openPosition(1)

	if _, err := f.engine.Originate(f.borrower, 1, big.NewInt(10_001), 3_600); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	// The full idle amount is borrowable.
	if _, err := f.engine.Originate(f.borrower, 1, big.NewInt(10_000), 3_600); err != nil {
		t.Fatalf("originate at bound: %v", err)
	}
}

func TestOriginateRollsBackWhenDisbursementFails(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)
	f.openPosition(1)

	f.balances.failNext = true
	if _, err := f.engine.Originate(f.borrower, 1, big.NewInt(10_000), 3_600); err == nil {
		t.Fatalf("expected disbursement failure")
	}
	books := f.engine.PoolSnapshot()
	if books.TotalBorrowed.Sign() != 0 {
		t.Fatalf("borrowed not restored: %s", books.TotalBorrowed)
	}
	if f.engine.HasActiveLoan(1) {
		t.Fatalf("loan index left behind")
	}
	if _, err := f.engine.GetLoan(1); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("uncommitted loan survived: %v", err)
	}
}

func TestAccruedInterestFollowsClock(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)
	loanID := f.originate(t, 1, 10_000, 365*24*3_600)

	accrued, err := f.engine.AccruedInterest(loanID)
	if err != nil {
		t.Fatalf("accrued: %v", err)
	}
	if accrued.Sign() != 0 {
		t.Fatalf("interest before any time passed: %s", accrued)
	}

	// One year at the snapshotted 200 bps on 10000 principal.
	f.advance(31_536_000)
	accrued, err = f.engine.AccruedInterest(loanID)
	if err != nil {
		t.Fatalf("accrued: %v", err)
	}
	if accrued.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected 200 after one year, got %s", accrued)
	}

	// Half a year more accrues another 100; simple, not compounding.
	f.advance(15_768_000)
	accrued, err = f.engine.AccruedInterest(loanID)
	if err != nil {
		t.Fatalf("accrued: %v", err)
	}
	if accrued.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected 300 after 1.5 years, got %s", accrued)
	}
}

func TestRepayAppliesInterestFirstAndCutsReserves(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)
	loanID := f.originate(t, 1, 10_000, 2*31_536_000)
	f.advance(31_536_000) // interest due: 200

	charged, err := f.engine.Repay(f.borrower, loanID, big.NewInt(150))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if charged.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("expected 150 charged, got %s", charged)
	}
	books := f.engine.PoolSnapshot()
	// 10% of the 150 interest goes to reserves, the rest to lenders.
	if books.TotalReserves.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("reserves %s, want 15", books.TotalReserves)
	}
	if books.TotalLiquidity.Cmp(big.NewInt(100_135)) != 0 {
		t.Fatalf("liquidity %s, want 100135", books.TotalLiquidity)
	}
	if books.TotalBorrowed.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("principal must be untouched by an interest-only payment, got %s", books.TotalBorrowed)
	}

	// Clearing the rest closes the loan and frees the position.
	charged, err = f.engine.Repay(f.borrower, loanID, big.NewInt(10_050))
	if err != nil {
		t.Fatalf("closing repay: %v", err)
	}
	if charged.Cmp(big.NewInt(10_050)) != 0 {
		t.Fatalf("expected 10050 charged, got %s", charged)
	}
	loan, err := f.engine.GetLoan(loanID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if loan.Status != LoanRepaid {
		t.Fatalf("loan status %s, want repaid", loan.Status)
	}
	if f.engine.HasActiveLoan(1) {
		t.Fatalf("position still encumbered after full repayment")
	}
	books = f.engine.PoolSnapshot()
	if books.TotalBorrowed.Sign() != 0 {
		t.Fatalf("borrowed not cleared: %s", books.TotalBorrowed)
	}
	if books.TotalReserves.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("reserves %s, want 20", books.TotalReserves)
	}
	if books.TotalLiquidity.Cmp(big.NewInt(100_180)) != 0 {
		t.Fatalf("liquidity %s, want 100180", books.TotalLiquidity)
	}
}

func TestRepayCapsChargeAtOutstandingDebt(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)
	loanID := f.originate(t, 1, 10_000, 2*31_536_000)
	f.advance(31_536_000)

	charged, err := f.engine.Repay(f.borrower, loanID, big.NewInt(999_999))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if charged.Cmp(big.NewInt(10_200)) != 0 {
		t.Fatalf("expected charge capped at 10200, got %s", charged)
	}
	transfer := f.balances.last(t)
	if transfer.amount.Cmp(big.NewInt(10_200)) != 0 {
		t.Fatalf("transfer %s, want 10200", transfer.amount)
	}
	debt, err := f.engine.OutstandingDebt(loanID)
	if err != nil {
		t.Fatalf("outstanding: %v", err)
	}
	if debt.Sign() != 0 {
		t.Fatalf("debt after full repayment: %s", debt)
	}
}

func TestRepayRequiresBorrower(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)
	loanID := f.originate(t, 1, 10_000, 3_600)

	if _, err := f.engine.Repay(f.lender, loanID, big.NewInt(100)); !errors.Is(err, ErrNotBorrower) {
		t.Fatalf("expected ErrNotBorrower, got %v", err)
	}
}

func TestRepayRollsBackWhenCollectionFails(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)
	loanID := f.originate(t, 1, 10_000, 2*31_536_000)
	f.advance(31_536_000)

	f.balances.failNext = true
	if _, err := f.engine.Repay(f.borrower, loanID, big.NewInt(10_200)); err == nil {
		t.Fatalf("expected collection failure")
	}
	loan, err := f.engine.GetLoan(loanID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if loan.Status != LoanActive || loan.InterestRepaid.Sign() != 0 || loan.PrincipalRepaid.Sign() != 0 {
		t.Fatalf("loan not restored: %+v", loan)
	}
	if !f.engine.HasActiveLoan(1) {
		t.Fatalf("loan index lost on rollback")
	}
	books := f.engine.PoolSnapshot()
	if books.TotalBorrowed.Cmp(big.NewInt(10_000)) != 0 || books.TotalReserves.Sign() != 0 {
		t.Fatalf("books not restored: %s/%s", books.TotalBorrowed, books.TotalReserves)
	}
}

func TestCloseFromLiquidationFullPayment(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)
	loanID := f.originate(t, 1, 10_000, 31_536_000)
	f.advance(31_536_000) // interest due 200, principal due 10000

	if err := f.engine.CloseFromLiquidation(f.liquidator, loanID, big.NewInt(10_200)); err != nil {
		t.Fatalf("close: %v", err)
	}
	loan, err := f.engine.GetLoan(loanID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if loan.Status != LoanLiquidated {
		t.Fatalf("loan status %s, want liquidated", loan.Status)
	}
	if f.engine.HasActiveLoan(1) {
		t.Fatalf("index not cleared")
	}
	books := f.engine.PoolSnapshot()
	if books.TotalBorrowed.Sign() != 0 {
		t.Fatalf("borrowed not cleared: %s", books.TotalBorrowed)
	}
	if books.TotalReserves.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("reserves %s, want 20", books.TotalReserves)
	}
	if books.TotalLiquidity.Cmp(big.NewInt(100_180)) != 0 {
		t.Fatalf("liquidity %s, want 100180", books.TotalLiquidity)
	}
}

func TestCloseFromLiquidationAbsorbsShortfall(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)
	loanID := f.originate(t, 1, 10_000, 31_536_000)
	f.advance(31_536_000)

	// 9000 covers the 200 interest and 8800 of the 10000 principal; lenders
	// eat the 1200 difference.
	if err := f.engine.CloseFromLiquidation(f.liquidator, loanID, big.NewInt(9_000)); err != nil {
		t.Fatalf("close: %v", err)
	}
	books := f.engine.PoolSnapshot()
	if books.TotalBorrowed.Sign() != 0 {
		t.Fatalf("borrowed not cleared: %s", books.TotalBorrowed)
	}
	if books.TotalLiquidity.Cmp(big.NewInt(98_980)) != 0 {
		t.Fatalf("liquidity %s, want 98980", books.TotalLiquidity)
	}
	if books.TotalReserves.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("reserves %s, want 20", books.TotalReserves)
	}
}

func TestCloseFromLiquidationRequiresLiquidator(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)
	loanID := f.originate(t, 1, 10_000, 3_600)

	if err := f.engine.CloseFromLiquidation(f.borrower, loanID, big.NewInt(10_000)); !errors.Is(err, ErrNotLiquidator) {
		t.Fatalf("expected ErrNotLiquidator, got %v", err)
	}
}

func TestLoanIsHealthyMaturityBoundary(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)
	loanID := f.originate(t, 1, 10_000, 3_600)

	if !f.engine.LoanIsHealthy(loanID) {
		t.Fatalf("fresh loan must be healthy")
	}
	f.advance(3_600)
	if !f.engine.LoanIsHealthy(loanID) {
		t.Fatalf("loan at exact maturity still healthy")
	}
	f.advance(1)
	if f.engine.LoanIsHealthy(loanID) {
		t.Fatalf("loan past maturity must be unhealthy")
	}
}

func TestLoanIsHealthyTracksPosition(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)
	loanID := f.originate(t, 1, 10_000, 3_600)

	f.positions.healthy[1] = false
	if f.engine.LoanIsHealthy(loanID) {
		t.Fatalf("loan on a dead position must be unhealthy")
	}
}

func TestPauseBlocksWritesNotReads(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)
	loanID := f.originate(t, 1, 10_000, 3_600)

	f.engine.SetPauses(&stubPauseView{paused: map[string]bool{moduleName: true}})
	if _, err := f.engine.Provide(f.lender, big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("provide: expected pause, got %v", err)
	}
	if _, err := f.engine.WithdrawLiquidity(f.lender, big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("withdraw: expected pause, got %v", err)
	}
	if _, err := f.engine.Originate(f.borrower, 1, big.NewInt(1), 1); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("originate: expected pause, got %v", err)
	}
	if _, err := f.engine.Repay(f.borrower, loanID, big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("repay: expected pause, got %v", err)
	}
	if err := f.engine.CloseFromLiquidation(f.liquidator, loanID, big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("close: expected pause, got %v", err)
	}
	if _, err := f.engine.OutstandingDebt(loanID); err != nil {
		t.Fatalf("reads must survive the pause: %v", err)
	}
}

func TestSetReserveFactorGatedAndBounded(t *testing.T) {
	f := newPoolFixture(t)

	if err := f.engine.SetReserveFactor(f.lender, 500); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.engine.SetReserveFactor(f.admin, 10_000); !errors.Is(err, ErrInvalidReserveFactor) {
		t.Fatalf("expected ErrInvalidReserveFactor, got %v", err)
	}
	if err := f.engine.SetReserveFactor(f.admin, 0); err != nil {
		t.Fatalf("zero reserve factor is legal: %v", err)
	}
	if err := f.engine.SetReserveFactor(f.admin, 2_500); err != nil {
		t.Fatalf("set reserve factor: %v", err)
	}
	if got := f.engine.ReserveFactor(); got != 2_500 {
		t.Fatalf("reserve factor %d, want 2500", got)
	}
}

func TestSetInterestModelAffectsFutureLoansOnly(t *testing.T) {
	f := newPoolFixture(t)
	f.provide(t, 100_000)
	first := f.originate(t, 1, 10_000, 3_600)

	if err := f.engine.SetInterestModel(f.admin, NewInterestModel(0.04, 0.10, 0.10, 1.0)); err != nil {
		t.Fatalf("set model: %v", err)
	}
	f.positions.pledgers[2] = f.borrower
	f.positions.healthy[2] = true
	second, err := f.engine.Originate(f.borrower, 2, big.NewInt(10_000), 3_600)
	if err != nil {
		t.Fatalf("originate: %v", err)
	}

	oldLoan, _ := f.engine.GetLoan(first)
	newLoan, _ := f.engine.GetLoan(second)
	if oldLoan.RateBps != 200 {
		t.Fatalf("live loan re-priced to %d", oldLoan.RateBps)
	}
	// New base 4% plus 0.1 utilisation * 10%.
	if newLoan.RateBps != 500 {
		t.Fatalf("new loan rate %d, want 500", newLoan.RateBps)
	}
}

func TestSetInterestModelValidates(t *testing.T) {
	f := newPoolFixture(t)
	if err := f.engine.SetInterestModel(f.admin, NewInterestModel(0.02, 0.10, 0.10, 0)); err == nil {
		t.Fatalf("kink 0 must be rejected")
	}
	if err := f.engine.SetInterestModel(f.admin, NewInterestModel(0.02, 0.10, 0.10, 1.5)); err == nil {
		t.Fatalf("kink above 1 must be rejected")
	}
	if err := f.engine.SetInterestModel(f.lender, NewInterestModel(0.02, 0.10, 0.10, 1.0)); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
