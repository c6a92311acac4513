// Package execution defines the typed order intents the engine sends to a
// venue and the rate-limited submitter that carries them.
package execution

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Side enumerates order directions.
type Side string

const (
	// Buy indicates a long order.
	Buy Side = "BUY"
	// Sell indicates a short order.
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// TimeInForce enumerates supported order lifetimes.
type TimeInForce string

const (
	// GTC rests on the book until cancelled.
	GTC TimeInForce = "GTC"
	// IOC fills immediately or cancels the remainder.
	IOC TimeInForce = "IOC"
	// PostOnly rests as maker or is rejected.
	PostOnly TimeInForce = "ALO"
	// Market crosses the book unconditionally.
	Market TimeInForce = "MARKET"
)

// ExitVariant selects one of the market-exit strategies a venue can run.
type ExitVariant string

const (
	// ExitIOCBypass prices an IOC to clear reference-price bands.
	ExitIOCBypass ExitVariant = "ioc_bypass"
	// ExitMarket is a pure market order.
	ExitMarket ExitVariant = "market"
	// ExitGTCBypass rests a GTC priced past the band boundary.
	ExitGTCBypass ExitVariant = "gtc_bypass"
	// ExitAggressiveLimit is a limit at current mid, the last resort.
	ExitAggressiveLimit ExitVariant = "aggressive_limit"
)

// TIF returns the time-in-force this variant submits with.
func (v ExitVariant) TIF() TimeInForce {
	switch v {
	case ExitIOCBypass:
		return IOC
	case ExitMarket:
		return Market
	default:
		return GTC
	}
}

// Order represents a placement request.
type Order struct {
	ID         string
	Symbol     string
	Side       Side
	Qty        float64
	Price      float64 // ignored for Market
	TIF        TimeInForce
	ReduceOnly bool
}

// NewOrder builds an order with a fresh client ID.
func NewOrder(symbol string, side Side, qty, price float64, tif TimeInForce) Order {
	return Order{
		ID:     uuid.NewString(),
		Symbol: symbol,
		Side:   side,
		Qty:    qty,
		Price:  price,
		TIF:    tif,
	}
}

// Fill reports an execution against one of our orders.
type Fill struct {
	OrderID string    `json:"order_id,omitempty"`
	Symbol  string    `json:"symbol"`
	Side    Side      `json:"side"`
	Qty     float64   `json:"qty"`
	Price   float64   `json:"price"`
	Maker   bool      `json:"maker"`
	Ts      time.Time `json:"ts"`
}

// SignedQty returns the fill quantity signed by side.
func (f Fill) SignedQty() float64 {
	if f.Side == Sell {
		return -f.Qty
	}
	return f.Qty
}

// Rejection is a venue-side refusal of a single order attempt. It is an
// expected condition, recovered by fallback or by requoting next tick.
type Rejection struct {
	Reason string
}

// Error implements the error interface.
func (r *Rejection) Error() string { return fmt.Sprintf("order rejected: %s", r.Reason) }

// IsRejection reports whether err is a venue rejection.
func IsRejection(err error) bool {
	var rej *Rejection
	return errors.As(err, &rej)
}

// ErrBackpressure signals that the rate limiter refused admission. Callers
// defer to the next tick; rejection here is never escalated as a failure.
var ErrBackpressure = errors.New("rate limit backpressure")

// ErrNotFound is returned by cancels targeting an unknown order.
var ErrNotFound = errors.New("order not found")
