package lending

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"collend/core/events"
	"collend/core/types"
	"collend/crypto"
	nativecommon "collend/native/common"
)

var (
	errNilState        = errors.New("lending engine: state not configured")
	errNilBalances     = errors.New("lending engine: balance primitive not configured")
	errNilPositions    = errors.New("lending engine: position view not configured")
	errInvalidParty    = errors.New("lending engine: party address required")
	errInvalidAmount   = errors.New("lending engine: amount must be positive")
	errInvalidDuration = errors.New("lending engine: loan duration must be positive")
	errDustDeposit     = errors.New("lending engine: deposit too small for one share")

	ErrLoanNotFound                   = errors.New("lending engine: loan not found")
	ErrLoanNotActive                  = errors.New("lending engine: loan not active")
	ErrNotBorrower                    = errors.New("lending engine: caller is not the borrower")
	ErrNotPledger                     = errors.New("lending engine: borrower is not the position pledger")
	ErrNotLiquidator                  = errors.New("lending engine: caller is not the liquidation module")
	ErrPositionUnavailable            = errors.New("lending engine: position not active")
	ErrPositionEncumbered             = errors.New("lending engine: position already backs an active loan")
	ErrInsufficientLiquidity          = errors.New("lending engine: insufficient available liquidity")
	ErrInsufficientShares             = errors.New("lending engine: share balance too low")
	ErrInsufficientAvailableLiquidity = errors.New("lending engine: withdrawal exceeds available liquidity")
	ErrInvalidReserveFactor           = errors.New("lending engine: reserve factor out of range")
)

const moduleName = "lending"

// DefaultReserveFactorBps routes 10% of paid interest to protocol reserves.
const DefaultReserveFactorBps = 1_000

// poolState is the narrow persistence surface the pool owns: the aggregate
// books, the loan arena with its position index, and lender share balances.
type poolState interface {
	PoolGet() *PoolState
	PoolPut(books *PoolState) error
	LoanNextID() uint64
	LoanGet(id uint64) (*Loan, bool)
	LoanPut(loan *Loan) error
	LoanDelete(id uint64)
	LoanIDByPosition(positionID uint64) (uint64, bool)
	LoanIndexSet(positionID, loanID uint64)
	LoanIndexClear(positionID uint64)
	SharesGet(addr crypto.Address) *big.Int
	SharesPut(addr crypto.Address, amount *big.Int) error
}

// BalanceVault is the atomic funds-transfer primitive provided by the host:
// full success or no effect.
type BalanceVault interface {
	Transfer(from, to crypto.Address, amount *big.Int) error
}

// PositionView is what the pool needs to know about collateral. The ledger
// satisfies it; tests substitute stubs.
type PositionView interface {
	IsHealthy(positionID uint64) bool
	Pledger(positionID uint64) (crypto.Address, error)
}

// Engine owns the liquidity pool books, lender shares and the loan arena.
// Interest is simple and lazy: each loan snapshots its rate at origination
// and accrues against the clock until closure.
type Engine struct {
	state     poolState
	balances  BalanceVault
	positions PositionView

	vault      crypto.Address
	liquidator crypto.Address

	model            *InterestModel
	reserveFactorBps uint64

	emitter events.Emitter
	auth    nativecommon.Authorizer
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewEngine constructs a pool holding funds in the given module vault.
func NewEngine(vault crypto.Address) *Engine {
	return &Engine{
		vault:            vault,
		model:            DefaultInterestModel.Clone(),
		reserveFactorBps: DefaultReserveFactorBps,
		emitter:          events.NoopEmitter{},
		nowFn:            func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the pool to its state backend.
func (e *Engine) SetState(state poolState) {
	if e == nil {
		return
	}
	e.state = state
}

// SetBalances wires the host funds-transfer primitive.
func (e *Engine) SetBalances(balances BalanceVault) {
	if e == nil {
		return
	}
	e.balances = balances
}

// SetPositionSource wires the collateral view consulted at origination and on
// health reads.
func (e *Engine) SetPositionSource(view PositionView) {
	if e == nil {
		return
	}
	e.positions = view
}

// SetLiquidator registers the module identity allowed to close loans without
// the borrower's signature.
func (e *Engine) SetLiquidator(addr crypto.Address) {
	if e == nil {
		return
	}
	e.liquidator = addr.Clone()
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetAuthorizer wires the role collaborator gating parameter changes.
func (e *Engine) SetAuthorizer(auth nativecommon.Authorizer) {
	if e == nil {
		return
	}
	e.auth = auth
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if e == nil {
		return
	}
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(lendingEvent{evt: event})
}

// VaultAddress returns the module vault holding pooled funds.
func (e *Engine) VaultAddress() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.vault.Clone()
}

func (e *Engine) books() *PoolState {
	books := e.state.PoolGet()
	if books == nil {
		books = &PoolState{}
	}
	books.EnsureDefaults()
	return books
}

// Provide deposits funds into the pool and mints shares. The first provider
// receives shares one-for-one; later providers are priced pro-rata against
// the books, rounded down.
func (e *Engine) Provide(lender crypto.Address, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.balances == nil {
		return nil, errNilBalances
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if lender.IsZero() {
		return nil, errInvalidParty
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	books := e.books()
	shares := sharesForDeposit(amount, books.TotalShares, books.TotalLiquidity)
	if shares.Sign() == 0 {
		return nil, errDustDeposit
	}

	priorBooks := books.Clone()
	priorShares := e.state.SharesGet(lender)
	if priorShares == nil {
		priorShares = big.NewInt(0)
	}

	books.TotalLiquidity.Add(books.TotalLiquidity, amount)
	books.TotalShares.Add(books.TotalShares, shares)
	if err := e.state.PoolPut(books); err != nil {
		return nil, err
	}
	if err := e.state.SharesPut(lender, new(big.Int).Add(priorShares, shares)); err != nil {
		return nil, err
	}

	// Funds move last; the books are restored on failure so the call leaves
	// no partial state.
	if err := e.balances.Transfer(lender, e.vault, amount); err != nil {
		if restoreErr := e.state.PoolPut(priorBooks); restoreErr != nil {
			return nil, fmt.Errorf("lending engine: restore books after failed deposit: %w", restoreErr)
		}
		if restoreErr := e.state.SharesPut(lender, priorShares); restoreErr != nil {
			return nil, fmt.Errorf("lending engine: restore shares after failed deposit: %w", restoreErr)
		}
		return nil, fmt.Errorf("lending engine: collect deposit: %w", err)
	}

	e.emit(NewLiquidityProvidedEvent(lender, amount, shares, books))
	return shares, nil
}

// WithdrawLiquidity burns shares and pays out the pro-rata slice of the
// books, bounded by what is not currently lent out.
func (e *Engine) WithdrawLiquidity(lender crypto.Address, shares *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.balances == nil {
		return nil, errNilBalances
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if lender.IsZero() {
		return nil, errInvalidParty
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	held := e.state.SharesGet(lender)
	if held == nil || held.Cmp(shares) < 0 {
		return nil, ErrInsufficientShares
	}

	books := e.books()
	amount := liquidityForShares(shares, books.TotalShares, books.TotalLiquidity)
	if amount.Cmp(books.AvailableLiquidity()) > 0 {
		return nil, ErrInsufficientAvailableLiquidity
	}

	priorBooks := books.Clone()
	priorShares := new(big.Int).Set(held)

	books.TotalShares.Sub(books.TotalShares, shares)
	books.TotalLiquidity.Sub(books.TotalLiquidity, amount)
	if err := e.state.PoolPut(books); err != nil {
		return nil, err
	}
	if err := e.state.SharesPut(lender, new(big.Int).Sub(held, shares)); err != nil {
		return nil, err
	}

	if amount.Sign() > 0 {
		if err := e.balances.Transfer(e.vault, lender, amount); err != nil {
			if restoreErr := e.state.PoolPut(priorBooks); restoreErr != nil {
				return nil, fmt.Errorf("lending engine: restore books after failed payout: %w", restoreErr)
			}
			if restoreErr := e.state.SharesPut(lender, priorShares); restoreErr != nil {
				return nil, fmt.Errorf("lending engine: restore shares after failed payout: %w", restoreErr)
			}
			return nil, fmt.Errorf("lending engine: pay withdrawal: %w", err)
		}
	}

	e.emit(NewLiquidityWithdrawnEvent(lender, shares, amount, books))
	return amount, nil
}

// Originate opens a loan against an active, unencumbered position owned by
// the borrower. The borrow rate is snapshotted from pre-borrow utilisation
// and fixed for the loan's life.
func (e *Engine) Originate(borrower crypto.Address, positionID uint64, amount *big.Int, duration int64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if e.balances == nil {
		return 0, errNilBalances
	}
	if e.positions == nil {
		return 0, errNilPositions
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if borrower.IsZero() {
		return 0, errInvalidParty
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, errInvalidAmount
	}
	if duration <= 0 {
		return 0, errInvalidDuration
	}

	pledger, err := e.positions.Pledger(positionID)
	if err != nil {
		return 0, fmt.Errorf("lending engine: position lookup: %w", err)
	}
	if !borrower.Equal(pledger) {
		return 0, ErrNotPledger
	}
	if !e.positions.IsHealthy(positionID) {
		return 0, ErrPositionUnavailable
	}
	if _, ok := e.state.LoanIDByPosition(positionID); ok {
		return 0, ErrPositionEncumbered
	}

	books := e.books()
	if amount.Cmp(books.AvailableLiquidity()) > 0 {
		return 0, ErrInsufficientLiquidity
	}
	rateBps := e.model.BorrowRateBps(books.TotalBorrowed, books.TotalLiquidity)

	now := e.now()
	loan := &Loan{
		ID:              e.state.LoanNextID(),
		Borrower:        borrower.Clone(),
		PositionID:      positionID,
		Principal:       new(big.Int).Set(amount),
		RateBps:         rateBps,
		OriginatedAt:    now,
		MaturesAt:       now + duration,
		PrincipalRepaid: big.NewInt(0),
		InterestRepaid:  big.NewInt(0),
		Status:          LoanActive,
	}

	priorBooks := books.Clone()
	books.TotalBorrowed.Add(books.TotalBorrowed, amount)
	if err := e.state.PoolPut(books); err != nil {
		return 0, err
	}
	if err := e.state.LoanPut(loan); err != nil {
		return 0, err
	}
	e.state.LoanIndexSet(positionID, loan.ID)

	// Disburse last; the uncommitted loan is erased on failure.
	if err := e.balances.Transfer(e.vault, borrower, amount); err != nil {
		e.state.LoanIndexClear(positionID)
		e.state.LoanDelete(loan.ID)
		if restoreErr := e.state.PoolPut(priorBooks); restoreErr != nil {
			return 0, fmt.Errorf("lending engine: restore books after failed disbursement: %w", restoreErr)
		}
		return 0, fmt.Errorf("lending engine: disburse loan: %w", err)
	}

	e.emit(NewLoanOriginatedEvent(loan))
	return loan.ID, nil
}

// debtBreakdown splits what the loan owes right now into the interest and
// principal components, each floored at zero.
func (e *Engine) debtBreakdown(loan *Loan, now int64) (interestDue, principalDue *big.Int) {
	loan.EnsureDefaults()
	accrued := simpleInterest(loan.Principal, loan.RateBps, now-loan.OriginatedAt)
	interestDue = new(big.Int).Sub(accrued, loan.InterestRepaid)
	if interestDue.Sign() < 0 {
		interestDue = big.NewInt(0)
	}
	principalDue = new(big.Int).Sub(loan.Principal, loan.PrincipalRepaid)
	if principalDue.Sign() < 0 {
		principalDue = big.NewInt(0)
	}
	return interestDue, principalDue
}

// AccruedInterest returns the lifetime simple interest accrued by an active
// loan up to the current clock. Accrual continues past maturity until the
// loan closes.
func (e *Engine) AccruedInterest(loanID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan, ok := e.state.LoanGet(loanID)
	if !ok {
		return nil, ErrLoanNotFound
	}
	if loan.Status != LoanActive {
		return nil, ErrLoanNotActive
	}
	loan.EnsureDefaults()
	return simpleInterest(loan.Principal, loan.RateBps, e.now()-loan.OriginatedAt), nil
}

// OutstandingDebt returns principal - principalRepaid + accruedInterest -
// interestRepaid, floored at zero. Closed loans owe nothing.
func (e *Engine) OutstandingDebt(loanID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan, ok := e.state.LoanGet(loanID)
	if !ok {
		return nil, ErrLoanNotFound
	}
	if loan.Status != LoanActive {
		return big.NewInt(0), nil
	}
	interestDue, principalDue := e.debtBreakdown(loan, e.now())
	return new(big.Int).Add(interestDue, principalDue), nil
}

// Repay charges the borrower up to the outstanding debt, interest first. The
// reserve-factor cut of the interest portion accrues to reserves, the rest
// to the books as lender yield; the principal portion retires borrowings.
// Returns the amount actually charged.
func (e *Engine) Repay(caller crypto.Address, loanID uint64, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.balances == nil {
		return nil, errNilBalances
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	loan, ok := e.state.LoanGet(loanID)
	if !ok {
		return nil, ErrLoanNotFound
	}
	if loan.Status != LoanActive {
		return nil, ErrLoanNotActive
	}
	if !caller.Equal(loan.Borrower) {
		return nil, ErrNotBorrower
	}

	now := e.now()
	interestDue, principalDue := e.debtBreakdown(loan, now)
	outstanding := new(big.Int).Add(interestDue, principalDue)
	charged := minBig(amount, outstanding)

	interestPaid := minBig(charged, interestDue)
	principalPaid := new(big.Int).Sub(charged, interestPaid)
	reserveCut := new(big.Int).Mul(interestPaid, new(big.Int).SetUint64(e.reserveFactorBps))
	reserveCut.Quo(reserveCut, basisPoints)
	lenderYield := new(big.Int).Sub(interestPaid, reserveCut)

	books := e.books()
	priorBooks := books.Clone()
	priorLoan := loan.Clone()

	books.TotalReserves.Add(books.TotalReserves, reserveCut)
	books.TotalLiquidity.Add(books.TotalLiquidity, lenderYield)
	books.TotalBorrowed.Sub(books.TotalBorrowed, principalPaid)
	loan.InterestRepaid.Add(loan.InterestRepaid, interestPaid)
	loan.PrincipalRepaid.Add(loan.PrincipalRepaid, principalPaid)

	closed := charged.Cmp(outstanding) == 0
	if closed {
		loan.Status = LoanRepaid
	}

	if err := e.state.PoolPut(books); err != nil {
		return nil, err
	}
	if err := e.state.LoanPut(loan); err != nil {
		return nil, err
	}
	if closed {
		e.state.LoanIndexClear(loan.PositionID)
	}

	if charged.Sign() > 0 {
		if err := e.balances.Transfer(caller, e.vault, charged); err != nil {
			if restoreErr := e.state.PoolPut(priorBooks); restoreErr != nil {
				return nil, fmt.Errorf("lending engine: restore books after failed repayment: %w", restoreErr)
			}
			if restoreErr := e.state.LoanPut(priorLoan); restoreErr != nil {
				return nil, fmt.Errorf("lending engine: restore loan after failed repayment: %w", restoreErr)
			}
			if closed {
				e.state.LoanIndexSet(loan.PositionID, loan.ID)
			}
			return nil, fmt.Errorf("lending engine: collect repayment: %w", err)
		}
	}

	e.emit(NewLoanRepaidEvent(loan, charged, interestPaid, principalPaid))
	return charged, nil
}

// CloseFromLiquidation settles a loan with the payment collected by the
// liquidation module and closes it unconditionally. The payment is split
// interest-first; the entire remaining principal claim leaves the books,
// with any shortfall absorbed by lenders and any excess accruing to them.
// The caller moves the actual balances.
func (e *Engine) CloseFromLiquidation(caller crypto.Address, loanID uint64, payment *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.liquidator.IsZero() || !caller.Equal(e.liquidator) {
		return ErrNotLiquidator
	}
	if payment == nil || payment.Sign() < 0 {
		return errInvalidAmount
	}
	loan, ok := e.state.LoanGet(loanID)
	if !ok {
		return ErrLoanNotFound
	}
	if loan.Status != LoanActive {
		return ErrLoanNotActive
	}

	now := e.now()
	interestDue, principalDue := e.debtBreakdown(loan, now)

	interestPaid := minBig(payment, interestDue)
	rest := new(big.Int).Sub(payment, interestPaid)
	principalPaid := minBig(rest, principalDue)
	excess := new(big.Int).Sub(rest, principalPaid)
	shortfall := new(big.Int).Sub(principalDue, principalPaid)

	reserveCut := new(big.Int).Mul(interestPaid, new(big.Int).SetUint64(e.reserveFactorBps))
	reserveCut.Quo(reserveCut, basisPoints)
	lenderYield := new(big.Int).Sub(interestPaid, reserveCut)

	books := e.books()
	books.TotalReserves.Add(books.TotalReserves, reserveCut)
	books.TotalLiquidity.Add(books.TotalLiquidity, lenderYield)
	books.TotalLiquidity.Add(books.TotalLiquidity, excess)
	books.TotalLiquidity.Sub(books.TotalLiquidity, shortfall)
	books.TotalBorrowed.Sub(books.TotalBorrowed, principalDue)

	loan.InterestRepaid.Add(loan.InterestRepaid, interestPaid)
	loan.PrincipalRepaid.Add(loan.PrincipalRepaid, principalPaid)
	loan.Status = LoanLiquidated

	if err := e.state.PoolPut(books); err != nil {
		return err
	}
	if err := e.state.LoanPut(loan); err != nil {
		return err
	}
	e.state.LoanIndexClear(loan.PositionID)

	e.emit(NewLoanLiquidatedEvent(loan, payment, shortfall))
	return nil
}

// LoanIsHealthy reports whether the loan is current: active, not past
// maturity, and backed by a healthy position.
func (e *Engine) LoanIsHealthy(loanID uint64) bool {
	if e == nil || e.state == nil || e.positions == nil {
		return false
	}
	loan, ok := e.state.LoanGet(loanID)
	if !ok || loan.Status != LoanActive {
		return false
	}
	if e.now() > loan.MaturesAt {
		return false
	}
	return e.positions.IsHealthy(loan.PositionID)
}

// HasActiveLoan reports whether the position currently backs a live loan.
func (e *Engine) HasActiveLoan(positionID uint64) bool {
	_, ok := e.ActiveLoanID(positionID)
	return ok
}

// ActiveLoanID resolves the live loan id behind a position.
func (e *Engine) ActiveLoanID(positionID uint64) (uint64, bool) {
	if e == nil || e.state == nil {
		return 0, false
	}
	return e.state.LoanIDByPosition(positionID)
}

// LoanByPosition resolves the live loan behind a position.
func (e *Engine) LoanByPosition(positionID uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loanID, ok := e.state.LoanIDByPosition(positionID)
	if !ok {
		return nil, ErrLoanNotFound
	}
	return e.GetLoan(loanID)
}

// GetLoan returns a copy of the stored loan.
func (e *Engine) GetLoan(loanID uint64) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	loan, ok := e.state.LoanGet(loanID)
	if !ok {
		return nil, ErrLoanNotFound
	}
	return loan.Clone(), nil
}

// SharesOf returns the lender's share balance.
func (e *Engine) SharesOf(lender crypto.Address) *big.Int {
	if e == nil || e.state == nil {
		return big.NewInt(0)
	}
	held := e.state.SharesGet(lender)
	if held == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(held)
}

// PoolSnapshot returns a copy of the current books.
func (e *Engine) PoolSnapshot() *PoolState {
	if e == nil || e.state == nil {
		books := &PoolState{}
		books.EnsureDefaults()
		return books
	}
	return e.books()
}

// Utilisation returns totalBorrowed / totalLiquidity, zero for an empty
// pool.
func (e *Engine) Utilisation() *big.Rat {
	if e == nil || e.state == nil {
		return new(big.Rat)
	}
	books := e.books()
	return e.model.Utilisation(books.TotalBorrowed, books.TotalLiquidity)
}

// CurrentRateBps returns the borrow rate a loan originated right now would
// snapshot.
func (e *Engine) CurrentRateBps() uint64 {
	if e == nil || e.state == nil {
		return 0
	}
	books := e.books()
	return e.model.BorrowRateBps(books.TotalBorrowed, books.TotalLiquidity)
}

// ReserveFactor returns the reserve cut applied to paid interest, in basis
// points.
func (e *Engine) ReserveFactor() uint64 {
	if e == nil {
		return 0
	}
	return e.reserveFactorBps
}

// SetReserveFactor tunes the reserve cut. Risk-admin gated; range [0, 10000).
func (e *Engine) SetReserveFactor(caller crypto.Address, bps uint64) error {
	if e == nil {
		return errNilState
	}
	if err := nativecommon.Authorize(e.auth, nativecommon.RoleRiskAdmin, caller); err != nil {
		return err
	}
	if bps >= 10_000 {
		return ErrInvalidReserveFactor
	}
	e.reserveFactorBps = bps
	return nil
}

// Model returns a copy of the interest model applied to new originations.
func (e *Engine) Model() *InterestModel {
	if e == nil {
		return nil
	}
	return e.model.Clone()
}

// SetInterestModel swaps the curve for future originations. Risk-admin
// gated; live loans keep their snapshotted rate.
func (e *Engine) SetInterestModel(caller crypto.Address, model *InterestModel) error {
	if e == nil {
		return errNilState
	}
	if err := nativecommon.Authorize(e.auth, nativecommon.RoleRiskAdmin, caller); err != nil {
		return err
	}
	if err := model.Validate(); err != nil {
		return err
	}
	e.model = model.Clone()
	return nil
}
