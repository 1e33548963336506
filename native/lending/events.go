package lending

import (
	"math/big"
	"strconv"

	"collend/core/types"
	"collend/crypto"
)

const (
	EventTypeLiquidityProvided  = "lending.liquidity.provided"
	EventTypeLiquidityWithdrawn = "lending.liquidity.withdrawn"
	EventTypeLoanOriginated     = "lending.loan.originated"
	EventTypeLoanRepaid         = "lending.loan.repaid"
	EventTypeLoanLiquidated     = "lending.loan.liquidated"
)

type lendingEvent struct {
	evt *types.Event
}

func (e lendingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e lendingEvent) Event() *types.Event { return e.evt }

func bookAttributes(attrs map[string]string, books *PoolState) map[string]string {
	if books == nil {
		return attrs
	}
	if books.TotalLiquidity != nil {
		attrs["totalLiquidity"] = books.TotalLiquidity.String()
	}
	if books.TotalBorrowed != nil {
		attrs["totalBorrowed"] = books.TotalBorrowed.String()
	}
	if books.TotalShares != nil {
		attrs["totalShares"] = books.TotalShares.String()
	}
	return attrs
}

func loanAttributes(loan *Loan) map[string]string {
	attrs := make(map[string]string)
	if loan == nil {
		return attrs
	}
	attrs["loanId"] = strconv.FormatUint(loan.ID, 10)
	attrs["positionId"] = strconv.FormatUint(loan.PositionID, 10)
	attrs["borrower"] = loan.Borrower.String()
	attrs["status"] = loan.Status.String()
	if loan.Principal != nil {
		attrs["principal"] = loan.Principal.String()
	}
	attrs["rateBps"] = strconv.FormatUint(loan.RateBps, 10)
	attrs["maturesAt"] = strconv.FormatInt(loan.MaturesAt, 10)
	return attrs
}

// NewLiquidityProvidedEvent returns the payload emitted when a deposit mints
// shares.
func NewLiquidityProvidedEvent(lender crypto.Address, amount, shares *big.Int, books *PoolState) *types.Event {
	attrs := map[string]string{"lender": lender.String()}
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	if shares != nil {
		attrs["shares"] = shares.String()
	}
	return &types.Event{Type: EventTypeLiquidityProvided, Attributes: bookAttributes(attrs, books)}
}

// NewLiquidityWithdrawnEvent returns the payload emitted when a share burn
// pays out.
func NewLiquidityWithdrawnEvent(lender crypto.Address, shares, amount *big.Int, books *PoolState) *types.Event {
	attrs := map[string]string{"lender": lender.String()}
	if shares != nil {
		attrs["shares"] = shares.String()
	}
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &types.Event{Type: EventTypeLiquidityWithdrawn, Attributes: bookAttributes(attrs, books)}
}

// NewLoanOriginatedEvent returns the payload emitted when a loan disburses.
func NewLoanOriginatedEvent(loan *Loan) *types.Event {
	return &types.Event{Type: EventTypeLoanOriginated, Attributes: loanAttributes(loan)}
}

// NewLoanRepaidEvent returns the payload emitted per repayment, whether
// partial or closing.
func NewLoanRepaidEvent(loan *Loan, charged, interestPaid, principalPaid *big.Int) *types.Event {
	attrs := loanAttributes(loan)
	if charged != nil {
		attrs["charged"] = charged.String()
	}
	if interestPaid != nil {
		attrs["interestPaid"] = interestPaid.String()
	}
	if principalPaid != nil {
		attrs["principalPaid"] = principalPaid.String()
	}
	return &types.Event{Type: EventTypeLoanRepaid, Attributes: attrs}
}

// NewLoanLiquidatedEvent returns the payload emitted when the liquidation
// module settles a loan.
func NewLoanLiquidatedEvent(loan *Loan, payment, shortfall *big.Int) *types.Event {
	attrs := loanAttributes(loan)
	if payment != nil {
		attrs["payment"] = payment.String()
	}
	if shortfall != nil {
		attrs["shortfall"] = shortfall.String()
	}
	return &types.Event{Type: EventTypeLoanLiquidated, Attributes: attrs}
}
