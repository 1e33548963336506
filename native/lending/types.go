package lending

import (
	"math/big"

	"collend/crypto"
)

// LoanStatus is the lifecycle tag of a loan. A loan leaves Active exactly
// once, either by full repayment or by liquidation settlement.
type LoanStatus uint8

const (
	// LoanActive marks a loan with outstanding debt.
	LoanActive LoanStatus = iota + 1
	// LoanRepaid marks a loan fully repaid by its borrower.
	LoanRepaid
	// LoanLiquidated marks a loan closed by the liquidation module.
	LoanLiquidated
)

// Valid reports whether the status is one of the defined variants.
func (s LoanStatus) Valid() bool {
	switch s {
	case LoanActive, LoanRepaid, LoanLiquidated:
		return true
	default:
		return false
	}
}

func (s LoanStatus) String() string {
	switch s {
	case LoanActive:
		return "active"
	case LoanRepaid:
		return "repaid"
	case LoanLiquidated:
		return "liquidated"
	default:
		return "unknown"
	}
}

// Loan is one borrowing against one collateral position. The rate is fixed
// in basis points at origination and never re-priced; interest accrues
// simple and lazily from the clock.
type Loan struct {
	ID         uint64
	Borrower   crypto.Address
	PositionID uint64
	Principal  *big.Int
	// RateBps is the borrow APR snapshotted from pool utilisation when the
	// loan originated.
	RateBps      uint64
	OriginatedAt int64
	MaturesAt    int64
	// PrincipalRepaid and InterestRepaid accumulate across repayments so
	// outstanding debt is always reconstructible from the record alone.
	PrincipalRepaid *big.Int
	InterestRepaid  *big.Int
	Status          LoanStatus
}

// Clone returns a deep copy so engine-held records never alias stored state.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.Borrower = l.Borrower.Clone()
	if l.Principal != nil {
		clone.Principal = new(big.Int).Set(l.Principal)
	}
	if l.PrincipalRepaid != nil {
		clone.PrincipalRepaid = new(big.Int).Set(l.PrincipalRepaid)
	}
	if l.InterestRepaid != nil {
		clone.InterestRepaid = new(big.Int).Set(l.InterestRepaid)
	}
	return &clone
}

// EnsureDefaults backfills nil amounts so arithmetic never trips on a
// partially initialised record.
func (l *Loan) EnsureDefaults() {
	if l == nil {
		return
	}
	if l.Principal == nil {
		l.Principal = big.NewInt(0)
	}
	if l.PrincipalRepaid == nil {
		l.PrincipalRepaid = big.NewInt(0)
	}
	if l.InterestRepaid == nil {
		l.InterestRepaid = big.NewInt(0)
	}
}

// PoolState aggregates the pool's books. TotalLiquidity - TotalBorrowed is
// the amount available to borrow or withdraw at any instant.
type PoolState struct {
	TotalLiquidity *big.Int
	TotalBorrowed  *big.Int
	TotalReserves  *big.Int
	TotalShares    *big.Int
}

// Clone returns a deep copy of the pool books.
func (p *PoolState) Clone() *PoolState {
	if p == nil {
		return nil
	}
	clone := &PoolState{}
	if p.TotalLiquidity != nil {
		clone.TotalLiquidity = new(big.Int).Set(p.TotalLiquidity)
	}
	if p.TotalBorrowed != nil {
		clone.TotalBorrowed = new(big.Int).Set(p.TotalBorrowed)
	}
	if p.TotalReserves != nil {
		clone.TotalReserves = new(big.Int).Set(p.TotalReserves)
	}
	if p.TotalShares != nil {
		clone.TotalShares = new(big.Int).Set(p.TotalShares)
	}
	clone.EnsureDefaults()
	return clone
}

// EnsureDefaults backfills nil totals with zero.
func (p *PoolState) EnsureDefaults() {
	if p == nil {
		return
	}
	if p.TotalLiquidity == nil {
		p.TotalLiquidity = big.NewInt(0)
	}
	if p.TotalBorrowed == nil {
		p.TotalBorrowed = big.NewInt(0)
	}
	if p.TotalReserves == nil {
		p.TotalReserves = big.NewInt(0)
	}
	if p.TotalShares == nil {
		p.TotalShares = big.NewInt(0)
	}
}

// AvailableLiquidity returns TotalLiquidity - TotalBorrowed.
func (p *PoolState) AvailableLiquidity() *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	p.EnsureDefaults()
	return new(big.Int).Sub(p.TotalLiquidity, p.TotalBorrowed)
}
