package collateral

import (
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"collend/crypto"
)

// PositionStatus is the lifecycle tag of a collateral position. Exactly one
// of the variants holds at any time; a position leaves Active at most once.
type PositionStatus uint8

const (
	// PositionActive marks a position whose asset sits in the module vault.
	PositionActive PositionStatus = iota + 1
	// PositionWithdrawn marks a position closed by its pledger.
	PositionWithdrawn
	// PositionLiquidated marks a position closed by the liquidation module.
	PositionLiquidated
)

// Valid reports whether the status is one of the defined variants.
func (s PositionStatus) Valid() bool {
	switch s {
	case PositionActive, PositionWithdrawn, PositionLiquidated:
		return true
	default:
		return false
	}
}

func (s PositionStatus) String() string {
	switch s {
	case PositionActive:
		return "active"
	case PositionWithdrawn:
		return "withdrawn"
	case PositionLiquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// AssetRef identifies one unique asset inside an asset class.
type AssetRef struct {
	Class string
	ID    string
}

// Normalise canonicalises the reference the same way the oracle does, so a
// pledged asset and its price feed always agree on identity.
func (a AssetRef) Normalise() AssetRef {
	return AssetRef{
		Class: strings.ToLower(strings.TrimSpace(a.Class)),
		ID:    strings.TrimSpace(a.ID),
	}
}

// Valid reports whether both components are present after normalisation.
func (a AssetRef) Valid() bool {
	normalized := a.Normalise()
	return normalized.Class != "" && normalized.ID != ""
}

// Key derives the 32-byte index key for the reference. The class and id are
// joined with a zero byte so no pair of references can collide.
func (a AssetRef) Key() [32]byte {
	normalized := a.Normalise()
	var key [32]byte
	copy(key[:], ethcrypto.Keccak256([]byte(normalized.Class+"\x00"+normalized.ID)))
	return key
}

func (a AssetRef) String() string {
	normalized := a.Normalise()
	return normalized.Class + ":" + normalized.ID
}

// CollateralPosition binds one pledged asset to one borrowing party. Records
// are created on deposit, deactivated on withdrawal or liquidation, and never
// deleted once committed.
type CollateralPosition struct {
	ID      uint64
	Asset   AssetRef
	Pledger crypto.Address
	// ValueAtDeposit is the oracle value observed when the pledge committed.
	ValueAtDeposit *big.Int
	// AppraisedValue/AppraisedAt are bookkeeping refreshed by batch
	// revaluation; health checks always consult the live oracle instead.
	AppraisedValue *big.Int
	AppraisedAt    int64
	// MaxLTVBps is the loan-to-value bound captured at deposit time.
	MaxLTVBps uint64
	Status    PositionStatus
	CreatedAt int64
}

// Clone returns a deep copy so engine-held records never alias stored state.
func (p *CollateralPosition) Clone() *CollateralPosition {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Pledger = p.Pledger.Clone()
	if p.ValueAtDeposit != nil {
		clone.ValueAtDeposit = new(big.Int).Set(p.ValueAtDeposit)
	}
	if p.AppraisedValue != nil {
		clone.AppraisedValue = new(big.Int).Set(p.AppraisedValue)
	}
	return &clone
}
