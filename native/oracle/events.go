package oracle

import (
	"math/big"
	"strconv"

	"collend/core/types"
)

const (
	EventTypeClassRegistered = "oracle.class.registered"
	EventTypeFloorUpdated    = "oracle.floor.updated"
	EventTypeSpotUpdated     = "oracle.spot.updated"
)

type oracleEvent struct {
	evt *types.Event
}

func (e oracleEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e oracleEvent) Event() *types.Event { return e.evt }

// NewClassRegisteredEvent returns the payload emitted when a new asset class
// joins the supported set.
func NewClassRegisteredEvent(class string, ts int64) *types.Event {
	return &types.Event{Type: EventTypeClassRegistered, Attributes: map[string]string{
		"class":     class,
		"timestamp": strconv.FormatInt(ts, 10),
	}}
}

// NewFloorUpdatedEvent returns the payload emitted on a floor re-anchor.
func NewFloorUpdatedEvent(class string, price *big.Int, ts int64) *types.Event {
	attrs := map[string]string{
		"class":     class,
		"timestamp": strconv.FormatInt(ts, 10),
	}
	if price != nil {
		attrs["price"] = price.String()
	}
	return &types.Event{Type: EventTypeFloorUpdated, Attributes: attrs}
}

// NewSpotUpdatedEvent returns the payload emitted for each stored spot
// observation, including entries applied through a batch.
func NewSpotUpdatedEvent(class, id string, price *big.Int, ts int64) *types.Event {
	attrs := map[string]string{
		"class":     class,
		"assetId":   id,
		"timestamp": strconv.FormatInt(ts, 10),
	}
	if price != nil {
		attrs["price"] = price.String()
	}
	return &types.Event{Type: EventTypeSpotUpdated, Attributes: attrs}
}
