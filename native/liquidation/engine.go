package liquidation

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
	errNilState     = errors.New("liquidation engine: state not configured")
	errNilLedger    = errors.New("liquidation engine: collateral ledger not configured")
	errNilPool      = errors.New("liquidation engine: loan pool not configured")
	errNilBalances  = errors.New("liquidation engine: balance primitive not configured")
	errNilUnwinder  = errors.New("liquidation engine: state unwinder not configured")
	errInvalidParty = errors.New("liquidation engine: party address required")

	ErrNotEligible       = errors.New("liquidation engine: position not eligible")
	ErrNotTriggered      = errors.New("liquidation engine: no live trigger for position")
	ErrDelayNotElapsed   = errors.New("liquidation engine: execution delay not elapsed")
	ErrAlreadyLiquidated = errors.New("liquidation engine: position already liquidated")
	ErrRecordNotFound    = errors.New("liquidation engine: record not found")
	ErrInvalidThreshold  = errors.New("liquidation engine: threshold out of range")
	ErrInvalidBonus      = errors.New("liquidation engine: bonus out of range")
	ErrInvalidDelay      = errors.New("liquidation engine: delay out of range")
)

var basisPoints = big.NewInt(10_000)

const moduleName = "liquidation"

const (
	// DefaultThresholdBps declares a position eligible once its value covers
	// less than 80% of the debt.
	DefaultThresholdBps = 8_000
	// DefaultBonusBps pays the executor 5% of the snapshot value.
	DefaultBonusBps = 500
	// DefaultDelaySeconds is the grace period between trigger and execution.
	DefaultDelaySeconds = 3_600
	// MaxBonusBps caps the executor incentive at 20%.
	MaxBonusBps = 2_000
	// MaxDelaySeconds caps the grace period at 24 hours.
	MaxDelaySeconds = 86_400
)

// controllerState is the narrow persistence surface the controller owns: one
// record per position, kept forever once executed.
type controllerState interface {
	RecordGet(positionID uint64) (*LiquidationRecord, bool)
	RecordPut(record *LiquidationRecord) error
}

// CollateralLedger is what the controller needs from collateral custody.
type CollateralLedger interface {
	ValueOf(positionID uint64) (*big.Int, error)
	ForceClose(caller crypto.Address, positionID uint64, recipient crypto.Address) error
}

// LoanPool is what the controller needs from the liquidity pool.
type LoanPool interface {
	ActiveLoanID(positionID uint64) (uint64, bool)
	OutstandingDebt(loanID uint64) (*big.Int, error)
	CloseFromLiquidation(caller crypto.Address, loanID uint64, payment *big.Int) error
}

// BalanceVault is the atomic funds-transfer primitive provided by the host.
type BalanceVault interface {
	Transfer(from, to crypto.Address, amount *big.Int) error
}

// StateUnwinder checkpoints the whole state around settlement. Execution
// spans the record, the pool books, collateral custody and the balance book,
// so a failure in any leg must restore all four.
type StateUnwinder interface {
	Snapshot() int
	RevertToSnapshot(id int)
}

// Engine drives the per-position liquidation state machine: Healthy ->
// Eligible -> Triggered -> Executed, with repayment able to pull a triggered
// position back to health until the moment of execution.
type Engine struct {
	state    controllerState
	ledger   CollateralLedger
	pool     LoanPool
	balances BalanceVault
	unwind   StateUnwinder

	// moduleAddr is the identity the ledger and pool recognise as their
	// liquidator; poolVault receives collected debt.
	moduleAddr crypto.Address
	poolVault  crypto.Address

	thresholdBps uint64
	bonusBps     uint64
	delaySeconds int64

	emitter events.Emitter
	auth    nativecommon.Authorizer
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewEngine constructs a controller acting as moduleAddr and settling debt
// into poolVault.
func NewEngine(moduleAddr, poolVault crypto.Address) *Engine {
	return &Engine{
		moduleAddr:   moduleAddr,
		poolVault:    poolVault,
		thresholdBps: DefaultThresholdBps,
		bonusBps:     DefaultBonusBps,
		delaySeconds: DefaultDelaySeconds,
		emitter:      events.NoopEmitter{},
		nowFn:        func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the controller to its state backend.
func (e *Engine) SetState(state controllerState) {
	if e == nil {
		return
	}
	e.state = state
}

// SetLedger wires the collateral ledger.
func (e *Engine) SetLedger(ledger CollateralLedger) {
	if e == nil {
		return
	}
	e.ledger = ledger
}

// SetPool wires the liquidity pool.
func (e *Engine) SetPool(pool LoanPool) {
	if e == nil {
		return
	}
	e.pool = pool
}

// SetBalances wires the host funds-transfer primitive.
func (e *Engine) SetBalances(balances BalanceVault) {
	if e == nil {
		return
	}
	e.balances = balances
}

// SetUnwinder wires the checkpoint facility used to roll settlement back.
func (e *Engine) SetUnwinder(unwind StateUnwinder) {
	if e == nil {
		return
	}
	e.unwind = unwind
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
	e.emitter.Emit(liquidationEvent{evt: event})
}

// ModuleAddress returns the identity the ledger and pool recognise as their
// liquidator.
func (e *Engine) ModuleAddress() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.moduleAddr.Clone()
}

// Threshold returns the eligibility bound in basis points.
func (e *Engine) Threshold() uint64 {
	if e == nil {
		return 0
	}
	return e.thresholdBps
}

// Bonus returns the executor incentive in basis points of snapshot value.
func (e *Engine) Bonus() uint64 {
	if e == nil {
		return 0
	}
	return e.bonusBps
}

// Delay returns the grace period between trigger and execution, in seconds.
func (e *Engine) Delay() int64 {
	if e == nil {
		return 0
	}
	return e.delaySeconds
}

// SetThreshold tunes the eligibility bound. Risk-admin gated; range
// (0, 10000]. Applies immediately to every position.
func (e *Engine) SetThreshold(caller crypto.Address, bps uint64) error {
	if e == nil {
		return errNilState
	}
	if err := nativecommon.Authorize(e.auth, nativecommon.RoleRiskAdmin, caller); err != nil {
		return err
	}
	if bps == 0 || bps > 10_000 {
		return ErrInvalidThreshold
	}
	e.thresholdBps = bps
	return nil
}

// SetBonus tunes the executor incentive. Risk-admin gated; range (0, 2000].
func (e *Engine) SetBonus(caller crypto.Address, bps uint64) error {
	if e == nil {
		return errNilState
	}
	if err := nativecommon.Authorize(e.auth, nativecommon.RoleRiskAdmin, caller); err != nil {
		return err
	}
	if bps == 0 || bps > MaxBonusBps {
		return ErrInvalidBonus
	}
	e.bonusBps = bps
	return nil
}

// SetDelay tunes the grace period. Risk-admin gated; range [0, 86400].
func (e *Engine) SetDelay(caller crypto.Address, seconds int64) error {
	if e == nil {
		return errNilState
	}
	if err := nativecommon.Authorize(e.auth, nativecommon.RoleRiskAdmin, caller); err != nil {
		return err
	}
	if seconds < 0 || seconds > MaxDelaySeconds {
		return ErrInvalidDelay
	}
	e.delaySeconds = seconds
	return nil
}

// eligible applies the strict undercollateralisation test
// value * threshold < debt * 10000.
func (e *Engine) eligible(debt, value *big.Int) bool {
	if debt == nil || value == nil || debt.Sign() <= 0 {
		return false
	}
	bounded := new(big.Int).Mul(value, new(big.Int).SetUint64(e.thresholdBps))
	owed := new(big.Int).Mul(debt, basisPoints)
	return bounded.Cmp(owed) < 0
}

// IsEligible reports whether the position can be triggered right now. A
// position with no active loan is never eligible.
func (e *Engine) IsEligible(positionID uint64) bool {
	if e == nil || e.ledger == nil || e.pool == nil {
		return false
	}
	loanID, ok := e.pool.ActiveLoanID(positionID)
	if !ok {
		return false
	}
	debt, err := e.pool.OutstandingDebt(loanID)
	if err != nil {
		return false
	}
	value, err := e.ledger.ValueOf(positionID)
	if err != nil {
		return false
	}
	return e.eligible(debt, value)
}

// Record returns a copy of the position's liquidation record.
func (e *Engine) Record(positionID uint64) (*LiquidationRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok := e.state.RecordGet(positionID)
	if !ok {
		return nil, ErrRecordNotFound
	}
	return record.Clone(), nil
}

// Trigger opens (or refreshes) the liquidation record for an eligible
// position: debt, value and bonus are snapshotted and the delay clock
// restarts. Anyone may call it.
func (e *Engine) Trigger(caller crypto.Address, positionID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if e.pool == nil {
		return errNilPool
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if caller.IsZero() {
		return errInvalidParty
	}
	if record, ok := e.state.RecordGet(positionID); ok && record.Status == RecordExecuted {
		return ErrAlreadyLiquidated
	}

	loanID, ok := e.pool.ActiveLoanID(positionID)
	if !ok {
		return ErrNotEligible
	}
	debt, err := e.pool.OutstandingDebt(loanID)
	if err != nil {
		return fmt.Errorf("liquidation engine: debt lookup: %w", err)
	}
	value, err := e.ledger.ValueOf(positionID)
	if err != nil {
		return fmt.Errorf("liquidation engine: valuation: %w", err)
	}
	if !e.eligible(debt, value) {
		return ErrNotEligible
	}

	bonus := new(big.Int).Mul(value, new(big.Int).SetUint64(e.bonusBps))
	bonus.Quo(bonus, basisPoints)

	record := &LiquidationRecord{
		PositionID:    positionID,
		LoanID:        loanID,
		DebtSnapshot:  debt,
		ValueSnapshot: value,
		Bonus:         bonus,
		TriggeredBy:   caller.Clone(),
		TriggeredAt:   e.now(),
		Status:        RecordTriggered,
	}
	if err := e.state.RecordPut(record); err != nil {
		return err
	}

	e.emit(NewTriggeredEvent(record))
	return nil
}

// Execute settles a triggered position once the delay has elapsed. The
// caller supplies debt + bonus, receives the collateral and the bonus back,
// and the pool absorbs snapshot-vs-live drift. Eligibility is re-checked so
// repayment during the grace period moots the trigger.
func (e *Engine) Execute(caller crypto.Address, positionID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if e.pool == nil {
		return errNilPool
	}
	if e.balances == nil {
		return errNilBalances
	}
	if e.unwind == nil {
		return errNilUnwinder
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if caller.IsZero() {
		return errInvalidParty
	}

	record, ok := e.state.RecordGet(positionID)
	if !ok {
		return ErrNotTriggered
	}
	if record.Status == RecordExecuted {
		return ErrAlreadyLiquidated
	}
	now := e.now()
	if now-record.TriggeredAt < e.delaySeconds {
		return ErrDelayNotElapsed
	}

	// The delay is a grace period: a repayment that retired the loan or
	// restored health moots the trigger, and the live record waits for a
	// fresh one.
	loanID, ok := e.pool.ActiveLoanID(positionID)
	if !ok || loanID != record.LoanID {
		return ErrNotEligible
	}
	debt, err := e.pool.OutstandingDebt(loanID)
	if err != nil {
		return fmt.Errorf("liquidation engine: debt lookup: %w", err)
	}
	value, err := e.ledger.ValueOf(positionID)
	if err != nil {
		return fmt.Errorf("liquidation engine: valuation: %w", err)
	}
	if !e.eligible(debt, value) {
		return ErrNotEligible
	}

	record.EnsureDefaults()
	payment := new(big.Int).Add(record.DebtSnapshot, record.Bonus)

	// Settlement spans four books; any failed leg unwinds all of them.
	snap := e.unwind.Snapshot()
	record.Status = RecordExecuted
	record.ExecutedBy = caller.Clone()
	record.ExecutedAt = now
	if err := e.state.RecordPut(record); err != nil {
		e.unwind.RevertToSnapshot(snap)
		return err
	}
	if err := e.pool.CloseFromLiquidation(e.moduleAddr, record.LoanID, record.DebtSnapshot); err != nil {
		e.unwind.RevertToSnapshot(snap)
		return fmt.Errorf("liquidation engine: close loan: %w", err)
	}
	if err := e.ledger.ForceClose(e.moduleAddr, positionID, caller); err != nil {
		e.unwind.RevertToSnapshot(snap)
		return fmt.Errorf("liquidation engine: force close position: %w", err)
	}
	if err := e.balances.Transfer(caller, e.poolVault, payment); err != nil {
		e.unwind.RevertToSnapshot(snap)
		return fmt.Errorf("liquidation engine: collect settlement: %w", err)
	}
	if record.Bonus.Sign() > 0 {
		if err := e.balances.Transfer(e.poolVault, caller, record.Bonus); err != nil {
			e.unwind.RevertToSnapshot(snap)
			return fmt.Errorf("liquidation engine: pay bonus: %w", err)
		}
	}

	e.emit(NewExecutedEvent(record))
	return nil
}
