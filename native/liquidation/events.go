package liquidation

import (
	"strconv"

	"collend/core/types"
)

const (
	EventTypeTriggered = "liquidation.triggered"
	EventTypeExecuted  = "liquidation.executed"
)

type liquidationEvent struct {
	evt *types.Event
}

func (e liquidationEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e liquidationEvent) Event() *types.Event { return e.evt }

func recordAttributes(r *LiquidationRecord) map[string]string {
	attrs := make(map[string]string)
	if r == nil {
		return attrs
	}
	attrs["positionId"] = strconv.FormatUint(r.PositionID, 10)
	attrs["loanId"] = strconv.FormatUint(r.LoanID, 10)
	attrs["status"] = r.Status.String()
	if r.DebtSnapshot != nil {
		attrs["debt"] = r.DebtSnapshot.String()
	}
	if r.ValueSnapshot != nil {
		attrs["value"] = r.ValueSnapshot.String()
	}
	if r.Bonus != nil {
		attrs["bonus"] = r.Bonus.String()
	}
	attrs["triggeredBy"] = r.TriggeredBy.String()
	attrs["triggeredAt"] = strconv.FormatInt(r.TriggeredAt, 10)
	return attrs
}

// NewTriggeredEvent returns the payload emitted when a trigger opens or
// refreshes a record.
func NewTriggeredEvent(r *LiquidationRecord) *types.Event {
	return &types.Event{Type: EventTypeTriggered, Attributes: recordAttributes(r)}
}

// NewExecutedEvent returns the payload emitted when settlement completes.
func NewExecutedEvent(r *LiquidationRecord) *types.Event {
	attrs := recordAttributes(r)
	if r != nil {
		attrs["executedBy"] = r.ExecutedBy.String()
		attrs["executedAt"] = strconv.FormatInt(r.ExecutedAt, 10)
	}
	return &types.Event{Type: EventTypeExecuted, Attributes: attrs}
}
