package collateral

import (
	"math/big"
	"strconv"

	"collend/core/types"
	"collend/crypto"
)

const (
	EventTypeDeposited   = "collateral.deposited"
	EventTypeWithdrawn   = "collateral.withdrawn"
	EventTypeForceClosed = "collateral.force_closed"
	EventTypeRevalued    = "collateral.revalued"
)

type collateralEvent struct {
	evt *types.Event
}

func (e collateralEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e collateralEvent) Event() *types.Event { return e.evt }

func positionAttributes(p *CollateralPosition) map[string]string {
	attrs := make(map[string]string)
	if p == nil {
		return attrs
	}
	attrs["positionId"] = strconv.FormatUint(p.ID, 10)
	attrs["class"] = p.Asset.Class
	attrs["assetId"] = p.Asset.ID
	attrs["pledger"] = p.Pledger.String()
	attrs["status"] = p.Status.String()
	if p.ValueAtDeposit != nil {
		attrs["valueAtDeposit"] = p.ValueAtDeposit.String()
	}
	attrs["createdAt"] = strconv.FormatInt(p.CreatedAt, 10)
	return attrs
}

// NewDepositedEvent returns the payload emitted when a pledge commits.
func NewDepositedEvent(p *CollateralPosition, loanRequested *big.Int) *types.Event {
	attrs := positionAttributes(p)
	if loanRequested != nil {
		attrs["loanRequested"] = loanRequested.String()
	}
	if p != nil {
		attrs["maxLtvBps"] = strconv.FormatUint(p.MaxLTVBps, 10)
	}
	return &types.Event{Type: EventTypeDeposited, Attributes: attrs}
}

// NewWithdrawnEvent returns the payload emitted when the pledger reclaims
// custody.
func NewWithdrawnEvent(p *CollateralPosition) *types.Event {
	return &types.Event{Type: EventTypeWithdrawn, Attributes: positionAttributes(p)}
}

// NewForceClosedEvent returns the payload emitted when the liquidation module
// redirects custody.
func NewForceClosedEvent(p *CollateralPosition, recipient crypto.Address) *types.Event {
	attrs := positionAttributes(p)
	attrs["recipient"] = recipient.String()
	return &types.Event{Type: EventTypeForceClosed, Attributes: attrs}
}

// NewRevaluedEvent returns the payload emitted per position by a batch
// revaluation.
func NewRevaluedEvent(p *CollateralPosition) *types.Event {
	attrs := positionAttributes(p)
	if p != nil && p.AppraisedValue != nil {
		attrs["appraisedValue"] = p.AppraisedValue.String()
		attrs["appraisedAt"] = strconv.FormatInt(p.AppraisedAt, 10)
	}
	return &types.Event{Type: EventTypeRevalued, Attributes: attrs}
}
