// Package state provides the in-memory backing store wired into every
// engine: the record arenas, the balance book and asset custody, plus
// whole-state snapshots so multi-engine settlements can unwind atomically.
//
// The manager is not safe for concurrent use; the facade serialises access.
package state

import (
	"errors"
	"math/big"

	"collend/crypto"
	"collend/native/collateral"
	"collend/native/lending"
	"collend/native/liquidation"
)

var (
	ErrInsufficientFunds = errors.New("state: insufficient funds")
	ErrUnknownAsset      = errors.New("state: unknown asset")
	ErrNotAssetOwner     = errors.New("state: sender does not own asset")

	errNilValue       = errors.New("state: nil value")
	errNegativeAmount = errors.New("state: amount must not be negative")
)

// Manager backs every engine state interface with plain maps. Values are
// deep-cloned on the way in and out so engines never alias stored records.
type Manager struct {
	positions        map[uint64]*collateral.CollateralPosition
	positionsByAsset map[[32]byte]uint64
	nextPositionID   uint64

	books           *lending.PoolState
	loans           map[uint64]*lending.Loan
	loansByPosition map[uint64]uint64
	nextLoanID      uint64
	shares          map[string]*big.Int

	records map[uint64]*liquidation.LiquidationRecord

	balances map[string]*big.Int
	custody  map[[32]byte]crypto.Address

	snapshots []*managerCopy
}

// NewManager returns an empty store.
func NewManager() *Manager {
	books := &lending.PoolState{}
	books.EnsureDefaults()
	return &Manager{
		positions:        make(map[uint64]*collateral.CollateralPosition),
		positionsByAsset: make(map[[32]byte]uint64),
		books:            books,
		loans:            make(map[uint64]*lending.Loan),
		loansByPosition:  make(map[uint64]uint64),
		shares:           make(map[string]*big.Int),
		records:          make(map[uint64]*liquidation.LiquidationRecord),
		balances:         make(map[string]*big.Int),
		custody:          make(map[[32]byte]crypto.Address),
	}
}

func addressKey(addr crypto.Address) string { return string(addr.Bytes()) }

// managerCopy is one deep snapshot of every arena.
type managerCopy struct {
	positions        map[uint64]*collateral.CollateralPosition
	positionsByAsset map[[32]byte]uint64
	nextPositionID   uint64

	books           *lending.PoolState
	loans           map[uint64]*lending.Loan
	loansByPosition map[uint64]uint64
	nextLoanID      uint64
	shares          map[string]*big.Int

	records map[uint64]*liquidation.LiquidationRecord

	balances map[string]*big.Int
	custody  map[[32]byte]crypto.Address
}

func (m *Manager) copyState() *managerCopy {
	cp := &managerCopy{
		positions:        make(map[uint64]*collateral.CollateralPosition, len(m.positions)),
		positionsByAsset: make(map[[32]byte]uint64, len(m.positionsByAsset)),
		nextPositionID:   m.nextPositionID,
		books:            m.books.Clone(),
		loans:            make(map[uint64]*lending.Loan, len(m.loans)),
		loansByPosition:  make(map[uint64]uint64, len(m.loansByPosition)),
		nextLoanID:       m.nextLoanID,
		shares:           make(map[string]*big.Int, len(m.shares)),
		records:          make(map[uint64]*liquidation.LiquidationRecord, len(m.records)),
		balances:         make(map[string]*big.Int, len(m.balances)),
		custody:          make(map[[32]byte]crypto.Address, len(m.custody)),
	}
	for id, position := range m.positions {
		cp.positions[id] = position.Clone()
	}
	for key, id := range m.positionsByAsset {
		cp.positionsByAsset[key] = id
	}
	for id, loan := range m.loans {
		cp.loans[id] = loan.Clone()
	}
	for positionID, loanID := range m.loansByPosition {
		cp.loansByPosition[positionID] = loanID
	}
	for addr, held := range m.shares {
		cp.shares[addr] = new(big.Int).Set(held)
	}
	for id, record := range m.records {
		cp.records[id] = record.Clone()
	}
	for addr, balance := range m.balances {
		cp.balances[addr] = new(big.Int).Set(balance)
	}
	for key, owner := range m.custody {
		cp.custody[key] = owner.Clone()
	}
	return cp
}

func (m *Manager) restoreState(cp *managerCopy) {
	m.positions = cp.positions
	m.positionsByAsset = cp.positionsByAsset
	m.nextPositionID = cp.nextPositionID
	m.books = cp.books
	m.loans = cp.loans
	m.loansByPosition = cp.loansByPosition
	m.nextLoanID = cp.nextLoanID
	m.shares = cp.shares
	m.records = cp.records
	m.balances = cp.balances
	m.custody = cp.custody
}

// Snapshot captures the whole store and returns a handle RevertToSnapshot
// accepts. Handles from discarded snapshots become invalid.
func (m *Manager) Snapshot() int {
	m.snapshots = append(m.snapshots, m.copyState())
	return len(m.snapshots) - 1
}

// RevertToSnapshot restores the store to the captured point and discards
// that snapshot and every later one. Unknown handles are ignored.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 || id >= len(m.snapshots) {
		return
	}
	m.restoreState(m.snapshots[id])
	m.snapshots = m.snapshots[:id]
}
