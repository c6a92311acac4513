// Package exchange hosts the venue contract the engine trades through and
// the adapters implementing it.
package exchange

import (
	"context"
	"errors"

	"github.com/iojason/hl-bots/internal/execution"
	"github.com/iojason/hl-bots/internal/market"
)

// ErrStale reports that a source has no fresh data for the instrument.
var ErrStale = errors.New("book data stale")

// BookSource serves the latest book snapshot for an instrument.
type BookSource interface {
	Book(instrument string) (market.BookSnapshot, error)
}

// Venue is the full collaborator contract: market data plus order entry.
// Implementations own transport mechanics; the engine owns all state.
type Venue interface {
	BookSource

	// PlaceOrder submits an intent. A *execution.Rejection error is an
	// expected per-order refusal; anything else is transport failure.
	PlaceOrder(ctx context.Context, o execution.Order) error

	// CancelOrder removes a resting order; execution.ErrNotFound when the
	// venue no longer knows the id.
	CancelOrder(ctx context.Context, symbol, id string) error

	// PlaceMarketExit closes position with a reduce-only order using the
	// given exit strategy variant; the venue prices band-bypass variants
	// off its own reference price.
	PlaceMarketExit(ctx context.Context, o execution.Order, variant execution.ExitVariant) error

	// Fills streams executions against our orders.
	Fills() <-chan market.Fill
}
