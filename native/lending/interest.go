package lending

import (
	"fmt"
	"math"
	"math/big"
)

// InterestModel describes how the borrow rate reacts to pool utilisation.
// The curve rises linearly with utilisation up to the kink and steepens
// beyond it; pinning the kink at 1.0 collapses the curve to a plain
// base-plus-slope line.
type InterestModel struct {
	// BaseRate is the borrow APR charged at zero utilisation.
	BaseRate *big.Rat
	// Slope1 is the APR increase per unit of utilisation below the kink.
	Slope1 *big.Rat
	// Slope2 is the additional APR increase per unit of utilisation beyond
	// the kink.
	Slope2 *big.Rat
	// Kink is the utilisation ratio where the slope changes.
	Kink *big.Rat
}

// NewInterestModel constructs an interest model from decimal inputs, e.g. a
// 2% base rate is 0.02 and a full-range linear curve uses kink 1.0.
func NewInterestModel(baseRate, slope1, slope2, kink float64) *InterestModel {
	model := &InterestModel{
		BaseRate: new(big.Rat),
		Slope1:   new(big.Rat),
		Slope2:   new(big.Rat),
		Kink:     new(big.Rat),
	}
	model.BaseRate.SetFloat64(baseRate)
	model.Slope1.SetFloat64(slope1)
	model.Slope2.SetFloat64(slope2)
	model.Kink.SetFloat64(kink)
	return model
}

// Clone returns a deep copy of the interest model.
func (m *InterestModel) Clone() *InterestModel {
	if m == nil {
		return nil
	}
	return &InterestModel{
		BaseRate: cloneRat(m.BaseRate),
		Slope1:   cloneRat(m.Slope1),
		Slope2:   cloneRat(m.Slope2),
		Kink:     cloneRat(m.Kink),
	}
}

// Validate reports whether the model parameters are usable: the rate terms
// must be non-negative and the kink must sit in (0, 1].
func (m *InterestModel) Validate() error {
	if m == nil {
		return fmt.Errorf("lending: interest model must not be nil")
	}
	terms := []struct {
		name string
		rat  *big.Rat
	}{
		{"base rate", m.BaseRate},
		{"slope1", m.Slope1},
		{"slope2", m.Slope2},
	}
	for _, term := range terms {
		if term.rat == nil || term.rat.Sign() < 0 {
			return fmt.Errorf("lending: interest model %s must be non-negative", term.name)
		}
	}
	if m.Kink == nil || m.Kink.Sign() <= 0 || m.Kink.Cmp(big.NewRat(1, 1)) > 0 {
		return fmt.Errorf("lending: interest model kink must be in (0, 1]")
	}
	return nil
}

// Utilisation computes the pool utilisation ratio U = totalBorrowed /
// totalLiquidity. An empty pool has utilisation zero.
func (m *InterestModel) Utilisation(totalBorrowed, totalLiquidity *big.Int) *big.Rat {
	if totalBorrowed == nil || totalBorrowed.Sign() == 0 {
		return new(big.Rat)
	}
	if totalLiquidity == nil || totalLiquidity.Sign() == 0 {
		return new(big.Rat)
	}
	return new(big.Rat).SetFrac(totalBorrowed, totalLiquidity)
}

// BorrowAPR derives the dynamic borrow APR for the current utilisation.
func (m *InterestModel) BorrowAPR(totalBorrowed, totalLiquidity *big.Int) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}
	rate := cloneRat(m.BaseRate)
	utilisation := m.Utilisation(totalBorrowed, totalLiquidity)
	if utilisation.Sign() == 0 {
		return rate
	}

	kink := cloneRat(m.Kink)
	slope1 := cloneRat(m.Slope1)
	slope2 := cloneRat(m.Slope2)
	if kink.Sign() == 0 || utilisation.Cmp(kink) <= 0 {
		// Linear region before the kink.
		return rate.Add(rate, new(big.Rat).Mul(slope1, utilisation))
	}

	// Rate at the kink using slope1, then the excess using slope2.
	rate.Add(rate, new(big.Rat).Mul(slope1, kink))
	excess := new(big.Rat).Sub(utilisation, kink)
	if excess.Sign() < 0 {
		excess.SetInt64(0)
	}
	return rate.Add(rate, new(big.Rat).Mul(slope2, excess))
}

// BorrowRateBps returns the borrow APR in basis points, floored. Loans
// snapshot this value at origination and keep it for their whole life.
func (m *InterestModel) BorrowRateBps(totalBorrowed, totalLiquidity *big.Int) uint64 {
	apr := m.BorrowAPR(totalBorrowed, totalLiquidity)
	if apr.Sign() <= 0 {
		return 0
	}
	scaled := new(big.Rat).Mul(apr, new(big.Rat).SetInt64(10_000))
	bps := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if !bps.IsUint64() {
		return math.MaxUint64
	}
	return bps.Uint64()
}

// SupplyAPY derives the supply APY from the borrow APR, utilisation and the
// protocol reserve factor. The reserve factor is expressed in basis points.
func (m *InterestModel) SupplyAPY(totalBorrowed, totalLiquidity *big.Int, reserveFactorBps uint64) *big.Rat {
	if m == nil {
		return new(big.Rat)
	}

	borrowAPR := m.BorrowAPR(totalBorrowed, totalLiquidity)
	if borrowAPR.Sign() == 0 {
		return new(big.Rat)
	}

	utilisation := m.Utilisation(totalBorrowed, totalLiquidity)
	if utilisation.Sign() == 0 {
		return new(big.Rat)
	}

	reserveFactor := new(big.Rat).SetFrac(big.NewInt(int64(reserveFactorBps)), big.NewInt(10_000))
	oneMinusReserve := new(big.Rat).Sub(big.NewRat(1, 1), reserveFactor)
	if oneMinusReserve.Sign() < 0 {
		oneMinusReserve.SetInt64(0)
	}

	supplyAPY := new(big.Rat).Mul(borrowAPR, utilisation)
	supplyAPY.Mul(supplyAPY, oneMinusReserve)
	return supplyAPY
}

func cloneRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

// DefaultInterestModel pins the kink at full utilisation so the default
// borrow curve is the plain linear base + utilisation * slope1 line.
var DefaultInterestModel = NewInterestModel(0.02, 0.10, 0.10, 1.0)
