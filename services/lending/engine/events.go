package engine

import (
	"math/big"
	"strconv"

	"collend/core/types"
	"collend/crypto"
)

const (
	EventTypeFlowDepositBorrow = "lending.flow.deposit_borrow"
	EventTypeFlowRepayWithdraw = "lending.flow.repay_withdraw"
)

type flowEvent struct {
	evt *types.Event
}

func (e flowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e flowEvent) Event() *types.Event { return e.evt }

// NewDepositBorrowFlowEvent records a committed deposit-and-borrow flow.
func NewDepositBorrowFlowEvent(intentID string, party crypto.Address, class, id string, positionID, loanID uint64, amount *big.Int, timestamp int64) flowEvent {
	attrs := map[string]string{
		"intentId":   intentID,
		"party":      party.String(),
		"class":      class,
		"id":         id,
		"positionId": strconv.FormatUint(positionID, 10),
		"loanId":     strconv.FormatUint(loanID, 10),
		"timestamp":  strconv.FormatInt(timestamp, 10),
	}
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return flowEvent{evt: &types.Event{Type: EventTypeFlowDepositBorrow, Attributes: attrs}}
}

// NewRepayWithdrawFlowEvent records a committed repay-and-withdraw flow.
func NewRepayWithdrawFlowEvent(intentID string, party crypto.Address, positionID, loanID uint64, charged *big.Int, timestamp int64) flowEvent {
	attrs := map[string]string{
		"intentId":   intentID,
		"party":      party.String(),
		"positionId": strconv.FormatUint(positionID, 10),
		"loanId":     strconv.FormatUint(loanID, 10),
		"timestamp":  strconv.FormatInt(timestamp, 10),
	}
	if charged != nil {
		attrs["charged"] = charged.String()
	}
	return flowEvent{evt: &types.Event{Type: EventTypeFlowRepayWithdraw, Attributes: attrs}}
}
