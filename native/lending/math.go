package lending

import "math/big"

var (
	basisPoints    = big.NewInt(10_000)
	secondsPerYear = big.NewInt(31_536_000)
)

// sharesForDeposit prices a liquidity deposit in pool shares. The first
// provider receives shares one-for-one; later providers receive
// amount * totalShares / totalLiquidity rounded down.
func sharesForDeposit(amount, totalShares, totalLiquidity *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	if totalShares == nil || totalShares.Sign() == 0 {
		return new(big.Int).Set(amount)
	}
	if totalLiquidity == nil || totalLiquidity.Sign() == 0 {
		return new(big.Int).Set(amount)
	}
	scaled := new(big.Int).Mul(amount, totalShares)
	return scaled.Quo(scaled, totalLiquidity)
}

// liquidityForShares converts a share burn back into pool liquidity, rounded
// down.
func liquidityForShares(shares, totalShares, totalLiquidity *big.Int) *big.Int {
	if shares == nil || shares.Sign() <= 0 {
		return big.NewInt(0)
	}
	if totalShares == nil || totalShares.Sign() == 0 {
		return big.NewInt(0)
	}
	if totalLiquidity == nil {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(shares, totalLiquidity)
	return scaled.Quo(scaled, totalShares)
}

// simpleInterest computes principal * rateBps * elapsed /
// (10_000 * secondsPerYear), rounded down. Interest never compounds.
func simpleInterest(principal *big.Int, rateBps uint64, elapsed int64) *big.Int {
	if principal == nil || principal.Sign() <= 0 || rateBps == 0 || elapsed <= 0 {
		return big.NewInt(0)
	}
	interest := new(big.Int).Mul(principal, new(big.Int).SetUint64(rateBps))
	interest.Mul(interest, big.NewInt(elapsed))
	denominator := new(big.Int).Mul(basisPoints, secondsPerYear)
	return interest.Quo(interest, denominator)
}

// minBig returns the smaller of a and b without aliasing either input.
func minBig(a, b *big.Int) *big.Int {
	if a == nil {
		a = big.NewInt(0)
	}
	if b == nil {
		b = big.NewInt(0)
	}
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
