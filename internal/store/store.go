// Package store defines the persistence gateway for the trading engine.
// Implementations include PostgreSQL, a Redis key-value backend, and
// in-memory (for testing and single-process development). All three expose
// identical semantics to the ledger; the backend is swappable at startup.
package store

import (
	"context"
	"errors"

	"github.com/claerdex/trading-engine/internal/model"
)

// ErrAccountNotFound distinguishes an absent account from a backend
// failure. The ledger creates accounts lazily on this error; any other
// error is treated as persistence being unavailable.
var ErrAccountNotFound = errors.New("store: account not found")

// Store is the persistence interface.
type Store interface {
	// --- Account operations ---

	// GetAccount retrieves an account by address. Returns
	// ErrAccountNotFound when no such account exists.
	GetAccount(ctx context.Context, address string) (*model.Account, error)

	// SaveAccount persists the full account state, creating or replacing.
	SaveAccount(ctx context.Context, account *model.Account) error

	// DeleteAccount removes an account. Deleting an absent account is not
	// an error.
	DeleteAccount(ctx context.Context, address string) error

	// --- Recorded price history ---

	// AppendPricePoint appends one OHLC point to an asset/interval series,
	// keeping only the most recent keep points.
	AppendPricePoint(ctx context.Context, asset, interval string, point model.OHLCPoint, keep int) error

	// PriceHistory returns up to limit recorded points, oldest first.
	PriceHistory(ctx context.Context, asset, interval string, limit int) ([]model.OHLCPoint, error)
}
