package engine

import "errors"

var (
	// ErrAssetNotAllowed rejects flows naming an asset class or asset outside
	// the configured allow-lists.
	ErrAssetNotAllowed = errors.New("lending facade: asset not allowed")

	errNilLedger     = errors.New("lending facade: collateral ledger not configured")
	errNilPool       = errors.New("lending facade: liquidity pool not configured")
	errNilController = errors.New("lending facade: liquidation controller not configured")
)
