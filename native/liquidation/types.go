package liquidation

import (
	"math/big"

	"collend/crypto"
)

// RecordStatus tags a liquidation record. A record is born Triggered and
// moves to Executed exactly once; executed records persist so the position
// can never be liquidated twice.
type RecordStatus uint8

const (
	// RecordTriggered marks a live record waiting out the execution delay.
	RecordTriggered RecordStatus = iota + 1
	// RecordExecuted marks a settled liquidation.
	RecordExecuted
)

// Valid reports whether the status is one of the defined variants.
func (s RecordStatus) Valid() bool {
	switch s {
	case RecordTriggered, RecordExecuted:
		return true
	default:
		return false
	}
}

func (s RecordStatus) String() string {
	switch s {
	case RecordTriggered:
		return "triggered"
	case RecordExecuted:
		return "executed"
	default:
		return "unknown"
	}
}

// LiquidationRecord snapshots the debt, value and bonus of an undercollateralised
// position at trigger time. Re-triggering before execution refreshes the
// snapshot in place.
type LiquidationRecord struct {
	PositionID uint64
	LoanID     uint64
	// DebtSnapshot and ValueSnapshot capture the books at trigger time; the
	// executor settles against these, not against live values.
	DebtSnapshot  *big.Int
	ValueSnapshot *big.Int
	// Bonus is the incentive owed to the executor, carved from the snapshot
	// value at the configured rate.
	Bonus       *big.Int
	TriggeredBy crypto.Address
	TriggeredAt int64
	ExecutedBy  crypto.Address
	ExecutedAt  int64
	Status      RecordStatus
}

// Clone returns a deep copy so engine-held records never alias stored state.
func (r *LiquidationRecord) Clone() *LiquidationRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.TriggeredBy = r.TriggeredBy.Clone()
	clone.ExecutedBy = r.ExecutedBy.Clone()
	if r.DebtSnapshot != nil {
		clone.DebtSnapshot = new(big.Int).Set(r.DebtSnapshot)
	}
	if r.ValueSnapshot != nil {
		clone.ValueSnapshot = new(big.Int).Set(r.ValueSnapshot)
	}
	if r.Bonus != nil {
		clone.Bonus = new(big.Int).Set(r.Bonus)
	}
	return &clone
}

// EnsureDefaults backfills nil amounts so arithmetic never trips on a
// partially initialised record.
func (r *LiquidationRecord) EnsureDefaults() {
	if r == nil {
		return
	}
	if r.DebtSnapshot == nil {
		r.DebtSnapshot = big.NewInt(0)
	}
	if r.ValueSnapshot == nil {
		r.ValueSnapshot = big.NewInt(0)
	}
	if r.Bonus == nil {
		r.Bonus = big.NewInt(0)
	}
}
