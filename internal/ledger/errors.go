package ledger

import "errors"

// Error taxonomy of the position ledger. The first three are recoverable by
// the caller and surface as rejected requests; ErrPersistenceUnavailable is
// a hard failure of the whole operation — the ledger never substitutes a
// volatile fallback for state that was meant to be durable.
var (
	// ErrInsufficientCollateral rejects an open whose collateral exceeds
	// the account's available collateral.
	ErrInsufficientCollateral = errors.New("ledger: insufficient available collateral")

	// ErrPriceUnavailable rejects an operation when no usable price exists
	// for the asset.
	ErrPriceUnavailable = errors.New("ledger: price unavailable")

	// ErrPositionNotFound rejects a close for an id that is not among the
	// account's open positions.
	ErrPositionNotFound = errors.New("ledger: position not found")

	// ErrUnknownAsset rejects requests naming an unregistered asset symbol.
	ErrUnknownAsset = errors.New("ledger: unknown asset")

	// ErrPersistenceUnavailable fails an operation whose state could not be
	// durably saved or loaded.
	ErrPersistenceUnavailable = errors.New("ledger: persistence unavailable")
)
