package state

import (
	"collend/crypto"
	"collend/native/collateral"
)

// PositionNextID returns the next identifier in the position sequence.
func (m *Manager) PositionNextID() uint64 {
	m.nextPositionID++
	return m.nextPositionID
}

// PositionGet loads a position by id.
func (m *Manager) PositionGet(id uint64) (*collateral.CollateralPosition, bool) {
	position, ok := m.positions[id]
	if !ok {
		return nil, false
	}
	return position.Clone(), true
}

// PositionPut stores a position keyed by its id.
func (m *Manager) PositionPut(position *collateral.CollateralPosition) error {
	if position == nil {
		return errNilValue
	}
	m.positions[position.ID] = position.Clone()
	return nil
}

// PositionDelete removes a position record. Missing ids are ignored.
func (m *Manager) PositionDelete(id uint64) {
	delete(m.positions, id)
}

// PositionIDByAsset resolves the position currently escrowing an asset.
func (m *Manager) PositionIDByAsset(key [32]byte) (uint64, bool) {
	id, ok := m.positionsByAsset[key]
	return id, ok
}

// PositionIndexSet points an asset key at a position.
func (m *Manager) PositionIndexSet(key [32]byte, id uint64) {
	m.positionsByAsset[key] = id
}

// PositionIndexClear removes an asset key from the index.
func (m *Manager) PositionIndexClear(key [32]byte) {
	delete(m.positionsByAsset, key)
}

// TransferAsset reassigns custody of an asset. The sender must be the
// current holder; the move either fully applies or leaves custody untouched.
func (m *Manager) TransferAsset(key [32]byte, from, to crypto.Address) error {
	owner, ok := m.custody[key]
	if !ok {
		return ErrUnknownAsset
	}
	if !owner.Equal(from) {
		return ErrNotAssetOwner
	}
	m.custody[key] = to.Clone()
	return nil
}

// SeedAsset registers an asset under an owner. Genesis and simulation
// tooling call it before any engine touches the asset.
func (m *Manager) SeedAsset(key [32]byte, owner crypto.Address) {
	m.custody[key] = owner.Clone()
}

// AssetOwner reports the current custody holder of an asset.
func (m *Manager) AssetOwner(key [32]byte) (crypto.Address, bool) {
	owner, ok := m.custody[key]
	if !ok {
		return crypto.Address{}, false
	}
	return owner.Clone(), true
}
