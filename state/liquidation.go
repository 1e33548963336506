package state

import (
	"collend/native/liquidation"
)

// RecordGet loads the liquidation record attached to a position.
func (m *Manager) RecordGet(positionID uint64) (*liquidation.LiquidationRecord, bool) {
	record, ok := m.records[positionID]
	if !ok {
		return nil, false
	}
	return record.Clone(), true
}

// RecordPut stores a liquidation record keyed by its position.
func (m *Manager) RecordPut(record *liquidation.LiquidationRecord) error {
	if record == nil {
		return errNilValue
	}
	m.records[record.PositionID] = record.Clone()
	return nil
}
