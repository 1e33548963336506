package collateral

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
	errNilState      = errors.New("collateral ledger: state not configured")
	errNilCustody    = errors.New("collateral ledger: custody primitive not configured")
	errNilValuation  = errors.New("collateral ledger: valuation source not configured")
	errNilLoanView   = errors.New("collateral ledger: loan view not configured")
	errInvalidParty  = errors.New("collateral ledger: party address required")
	errInvalidAmount = errors.New("collateral ledger: loan amount must not be negative")

	ErrInvalidAsset       = errors.New("collateral ledger: asset reference incomplete")
	ErrAlreadyPledged     = errors.New("collateral ledger: asset already backs an active position")
	ErrExceedsLoanToValue = errors.New("collateral ledger: requested loan exceeds loan-to-value bound")
	ErrPositionNotFound   = errors.New("collateral ledger: position not found")
	ErrPositionNotActive  = errors.New("collateral ledger: position not active")
	ErrNotPledger         = errors.New("collateral ledger: caller is not the pledger")
	ErrLoanOutstanding    = errors.New("collateral ledger: position backs an active loan")
	ErrNotLiquidator      = errors.New("collateral ledger: caller is not the liquidation module")
	ErrInvalidLTV         = errors.New("collateral ledger: loan-to-value bound out of range")
)

var basisPoints = big.NewInt(10_000)

const moduleName = "collateral"

// DefaultMaxLTVBps caps requested loans at 80% of collateral value.
const DefaultMaxLTVBps = 8_000

// ledgerState is the narrow persistence surface the ledger owns. The position
// arena and its asset index are mutated through it and nowhere else.
type ledgerState interface {
	PositionNextID() uint64
	PositionGet(id uint64) (*CollateralPosition, bool)
	PositionPut(position *CollateralPosition) error
	PositionDelete(id uint64)
	PositionIDByAsset(key [32]byte) (uint64, bool)
	PositionIndexSet(key [32]byte, id uint64)
	PositionIndexClear(key [32]byte)
}

// CustodyVault is the atomic custody-transfer primitive provided by the host:
// full success or no effect.
type CustodyVault interface {
	TransferAsset(key [32]byte, from, to crypto.Address) error
}

// ValuationSource prices one asset. The oracle engine satisfies it; tests
// substitute stubs. Pricing is never hard-coded in the ledger.
type ValuationSource interface {
	GetPrice(class, id string) (*big.Int, error)
}

// LoanView reports whether a position currently backs an active loan. The
// liquidity pool satisfies it.
type LoanView interface {
	HasActiveLoan(positionID uint64) bool
}

// Ledger owns custody records for pledged assets and the asset->position
// index. It never originates debt; it only answers whether collateral may
// move and executes the custody legs.
type Ledger struct {
	state     ledgerState
	custody   CustodyVault
	valuation ValuationSource
	loans     LoanView

	vault      crypto.Address
	liquidator crypto.Address
	maxLTVBps  uint64

	emitter events.Emitter
	auth    nativecommon.Authorizer
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewLedger constructs a ledger custodying assets in the given module vault.
func NewLedger(vault crypto.Address, maxLTVBps uint64) *Ledger {
	if maxLTVBps == 0 {
		maxLTVBps = DefaultMaxLTVBps
	}
	return &Ledger{
		vault:     vault,
		maxLTVBps: maxLTVBps,
		emitter:   events.NoopEmitter{},
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the ledger to its state backend.
func (l *Ledger) SetState(state ledgerState) {
	if l == nil {
		return
	}
	l.state = state
}

// SetCustody wires the host custody-transfer primitive.
func (l *Ledger) SetCustody(custody CustodyVault) {
	if l == nil {
		return
	}
	l.custody = custody
}

// SetValuation wires the pricing source consulted on deposit and health reads.
func (l *Ledger) SetValuation(source ValuationSource) {
	if l == nil {
		return
	}
	l.valuation = source
}

// SetLoanSource wires the pool view used to refuse withdrawing encumbered
// collateral.
func (l *Ledger) SetLoanSource(loans LoanView) {
	if l == nil {
		return
	}
	l.loans = loans
}

// SetLiquidator registers the module identity allowed to force-close.
func (l *Ledger) SetLiquidator(addr crypto.Address) {
	if l == nil {
		return
	}
	l.liquidator = addr.Clone()
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetAuthorizer wires the role collaborator gating parameter changes.
func (l *Ledger) SetAuthorizer(auth nativecommon.Authorizer) {
	if l == nil {
		return
	}
	l.auth = auth
}

func (l *Ledger) SetPauses(p nativecommon.PauseView) {
	if l == nil {
		return
	}
	l.pauses = p
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (l *Ledger) SetNowFunc(now func() int64) {
	if l == nil {
		return
	}
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

func (l *Ledger) now() int64 {
	if l == nil || l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

func (l *Ledger) emit(event *types.Event) {
	if l == nil || l.emitter == nil || event == nil {
		return
	}
	l.emitter.Emit(collateralEvent{evt: event})
}

// VaultAddress returns the module vault holding pledged assets.
func (l *Ledger) VaultAddress() crypto.Address {
	if l == nil {
		return crypto.Address{}
	}
	return l.vault.Clone()
}

// MaxLTV returns the loan-to-value bound applied to new deposits, in basis
// points.
func (l *Ledger) MaxLTV() uint64 {
	if l == nil {
		return 0
	}
	return l.maxLTVBps
}

// SetMaxLTV tunes the bound for future deposits. Risk-admin gated; existing
// positions keep the bound captured when they were opened.
func (l *Ledger) SetMaxLTV(caller crypto.Address, bps uint64) error {
	if l == nil {
		return errNilState
	}
	if err := nativecommon.Authorize(l.auth, nativecommon.RoleRiskAdmin, caller); err != nil {
		return err
	}
	if bps == 0 || bps > 10_000 {
		return ErrInvalidLTV
	}
	l.maxLTVBps = bps
	return nil
}

// Deposit takes custody of the asset and opens a position sized against the
// requested loan. The loan itself is originated by the pool afterwards; the
// request amount exists so the loan-to-value bound rejects oversized intents
// before any custody moves.
func (l *Ledger) Deposit(party crypto.Address, asset AssetRef, loanAmountRequested *big.Int) (uint64, error) {
	if l == nil || l.state == nil {
		return 0, errNilState
	}
	if l.custody == nil {
		return 0, errNilCustody
	}
	if l.valuation == nil {
		return 0, errNilValuation
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return 0, err
	}
	if party.IsZero() {
		return 0, errInvalidParty
	}
	if !asset.Valid() {
		return 0, ErrInvalidAsset
	}
	if loanAmountRequested == nil || loanAmountRequested.Sign() < 0 {
		return 0, errInvalidAmount
	}

	normalized := asset.Normalise()
	key := normalized.Key()
	if _, ok := l.state.PositionIDByAsset(key); ok {
		return 0, ErrAlreadyPledged
	}

	value, err := l.valuation.GetPrice(normalized.Class, normalized.ID)
	if err != nil {
		return 0, fmt.Errorf("collateral ledger: valuation: %w", err)
	}
	// loanRequested/value > maxLTV, compared in integers; the bound itself
	// passes.
	requested := new(big.Int).Mul(loanAmountRequested, basisPoints)
	allowed := new(big.Int).Mul(value, new(big.Int).SetUint64(l.maxLTVBps))
	if requested.Cmp(allowed) > 0 {
		return 0, ErrExceedsLoanToValue
	}

	now := l.now()
	position := &CollateralPosition{
		ID:             l.state.PositionNextID(),
		Asset:          normalized,
		Pledger:        party.Clone(),
		ValueAtDeposit: new(big.Int).Set(value),
		AppraisedValue: new(big.Int).Set(value),
		AppraisedAt:    now,
		MaxLTVBps:      l.maxLTVBps,
		Status:         PositionActive,
		CreatedAt:      now,
	}
	if err := l.state.PositionPut(position); err != nil {
		return 0, err
	}
	l.state.PositionIndexSet(key, position.ID)

	// Custody moves last; an uncommitted allocation is erased on failure so
	// the call leaves no partial state.
	if err := l.custody.TransferAsset(key, party, l.vault); err != nil {
		l.state.PositionIndexClear(key)
		l.state.PositionDelete(position.ID)
		return 0, fmt.Errorf("collateral ledger: take custody: %w", err)
	}

	l.emit(NewDepositedEvent(position, loanAmountRequested))
	return position.ID, nil
}

// Withdraw returns custody to the pledger and deactivates the position.
// Permitted only while no active loan is linked and the position is healthy.
func (l *Ledger) Withdraw(party crypto.Address, positionID uint64) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if l.custody == nil {
		return errNilCustody
	}
	if l.loans == nil {
		return errNilLoanView
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	position, ok := l.state.PositionGet(positionID)
	if !ok {
		return ErrPositionNotFound
	}
	if !party.Equal(position.Pledger) {
		return ErrNotPledger
	}
	if position.Status != PositionActive {
		return ErrPositionNotActive
	}
	if l.loans.HasActiveLoan(positionID) {
		return ErrLoanOutstanding
	}

	prior := position.Clone()
	key := position.Asset.Key()
	position.Status = PositionWithdrawn
	if err := l.state.PositionPut(position); err != nil {
		return err
	}
	l.state.PositionIndexClear(key)

	if err := l.custody.TransferAsset(key, l.vault, party); err != nil {
		if restoreErr := l.state.PositionPut(prior); restoreErr != nil {
			return fmt.Errorf("collateral ledger: restore position after failed custody return: %w", restoreErr)
		}
		l.state.PositionIndexSet(key, prior.ID)
		return fmt.Errorf("collateral ledger: return custody: %w", err)
	}

	l.emit(NewWithdrawnEvent(position))
	return nil
}

// ForceClose deactivates the position and redirects custody to the recipient.
// Only the registered liquidation module may call it; the controller has
// already decided, so no health check happens here.
func (l *Ledger) ForceClose(caller crypto.Address, positionID uint64, recipient crypto.Address) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if l.custody == nil {
		return errNilCustody
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if l.liquidator.IsZero() || !caller.Equal(l.liquidator) {
		return ErrNotLiquidator
	}
	if recipient.IsZero() {
		return errInvalidParty
	}
	position, ok := l.state.PositionGet(positionID)
	if !ok {
		return ErrPositionNotFound
	}
	if position.Status != PositionActive {
		return ErrPositionNotActive
	}

	prior := position.Clone()
	key := position.Asset.Key()
	position.Status = PositionLiquidated
	if err := l.state.PositionPut(position); err != nil {
		return err
	}
	l.state.PositionIndexClear(key)

	if err := l.custody.TransferAsset(key, l.vault, recipient); err != nil {
		if restoreErr := l.state.PositionPut(prior); restoreErr != nil {
			return fmt.Errorf("collateral ledger: restore position after failed custody redirect: %w", restoreErr)
		}
		l.state.PositionIndexSet(key, prior.ID)
		return fmt.Errorf("collateral ledger: redirect custody: %w", err)
	}

	l.emit(NewForceClosedEvent(position, recipient))
	return nil
}

// IsHealthy reports whether the position is active. Debt-aware health is the
// liquidation controller's judgement, not the ledger's.
func (l *Ledger) IsHealthy(positionID uint64) bool {
	if l == nil || l.state == nil {
		return false
	}
	position, ok := l.state.PositionGet(positionID)
	if !ok {
		return false
	}
	return position.Status == PositionActive
}

// ValueOf prices the position's asset through the valuation source. Its
// post-deposit drift is exactly the liquidation trigger signal.
func (l *Ledger) ValueOf(positionID uint64) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	if l.valuation == nil {
		return nil, errNilValuation
	}
	position, ok := l.state.PositionGet(positionID)
	if !ok {
		return nil, ErrPositionNotFound
	}
	value, err := l.valuation.GetPrice(position.Asset.Class, position.Asset.ID)
	if err != nil {
		return nil, fmt.Errorf("collateral ledger: valuation: %w", err)
	}
	return value, nil
}

// Pledger returns the party that opened the position.
func (l *Ledger) Pledger(positionID uint64) (crypto.Address, error) {
	if l == nil || l.state == nil {
		return crypto.Address{}, errNilState
	}
	position, ok := l.state.PositionGet(positionID)
	if !ok {
		return crypto.Address{}, ErrPositionNotFound
	}
	return position.Pledger.Clone(), nil
}

// GetPosition returns a copy of the stored position.
func (l *Ledger) GetPosition(positionID uint64) (*CollateralPosition, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	position, ok := l.state.PositionGet(positionID)
	if !ok {
		return nil, ErrPositionNotFound
	}
	return position.Clone(), nil
}

// BatchRefreshValuations rewrites the stored appraisal of every listed
// position from the live valuation source, all-or-nothing: each position
// must exist, be active and be priceable before any appraisal is written.
// Appraisals are bookkeeping; health and eligibility consult the oracle
// directly.
func (l *Ledger) BatchRefreshValuations(caller crypto.Address, positionIDs []uint64) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if l.valuation == nil {
		return errNilValuation
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if err := nativecommon.Authorize(l.auth, nativecommon.RoleOracleUpdater, caller); err != nil {
		return err
	}
	if len(positionIDs) == 0 {
		return nil
	}

	now := l.now()
	refreshed := make([]*CollateralPosition, 0, len(positionIDs))
	for _, id := range positionIDs {
		position, ok := l.state.PositionGet(id)
		if !ok {
			return fmt.Errorf("collateral ledger: batch element %d: %w", id, ErrPositionNotFound)
		}
		if position.Status != PositionActive {
			return fmt.Errorf("collateral ledger: batch element %d: %w", id, ErrPositionNotActive)
		}
		value, err := l.valuation.GetPrice(position.Asset.Class, position.Asset.ID)
		if err != nil {
			return fmt.Errorf("collateral ledger: batch element %d: %w", id, err)
		}
		position.AppraisedValue = new(big.Int).Set(value)
		position.AppraisedAt = now
		refreshed = append(refreshed, position)
	}
	for _, position := range refreshed {
		if err := l.state.PositionPut(position); err != nil {
			return err
		}
	}
	for _, position := range refreshed {
		l.emit(NewRevaluedEvent(position))
	}
	return nil
}
