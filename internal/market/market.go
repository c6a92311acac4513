// Package market standardizes the payloads shared between data ingestion,
// signal, and decision layers.
package market

import "time"

// Source tags which feed produced a snapshot.
type Source string

const (
	// SourcePrimary marks data from the websocket feed.
	SourcePrimary Source = "primary"
	// SourceFallback marks data from the REST fallback.
	SourceFallback Source = "fallback"
)

// BookSnapshot captures the top of book for one instrument at one instant.
// A snapshot is a value: it is superseded by newer ones, never mutated.
type BookSnapshot struct {
	Instrument string
	BestBid    float64
	BestAsk    float64
	BidSize    float64
	AskSize    float64
	// BidVolume and AskVolume aggregate size across visible depth levels,
	// used by flow analysis rather than quoting.
	BidVolume float64
	AskVolume float64
	Ts        time.Time
	Source    Source
}

// Valid reports whether both sides of the book are present.
func (b BookSnapshot) Valid() bool {
	return b.BestBid > 0 && b.BestAsk > 0 && b.BestBid < b.BestAsk
}

// Mid returns the midpoint price, or 0 for an empty book.
func (b BookSnapshot) Mid() float64 {
	if b.BestBid <= 0 || b.BestAsk <= 0 {
		return 0
	}
	return (b.BestBid + b.BestAsk) / 2
}

// SpreadBps returns the quoted spread in basis points of mid.
func (b BookSnapshot) SpreadBps() float64 {
	mid := b.Mid()
	if mid <= 0 {
		return 0
	}
	return (b.BestAsk - b.BestBid) / mid * 10000
}

// Imbalance returns (bidSize-askSize)/(bidSize+askSize) in [-1,1],
// 0 when both sizes are 0.
func (b BookSnapshot) Imbalance() float64 {
	total := b.BidSize + b.AskSize
	if total <= 0 {
		return 0
	}
	return (b.BidSize - b.AskSize) / total
}

// Fill models an executed trade observed on the fills stream.
type Fill struct {
	Instrument string
	Price      float64
	Qty        float64
	Side       int // +1 aggressive buy, -1 aggressive sell
	Maker      bool
	Ts         time.Time
}

// SignedQty returns the fill quantity signed by aggressor side.
func (f Fill) SignedQty() float64 {
	if f.Side < 0 {
		return -f.Qty
	}
	return f.Qty
}

// Bias expresses the fused directional lean of order flow.
type Bias string

const (
	// BiasBid means flow favors the bid (buy pressure).
	BiasBid Bias = "bid"
	// BiasAsk means flow favors the ask (sell pressure).
	BiasAsk Bias = "ask"
	// BiasNeutral means no actionable lean.
	BiasNeutral Bias = "neutral"
)

// FlowSignal is the fused multi-timeframe flow reading for one instrument.
type FlowSignal struct {
	Instrument string
	Short      float64 // short window imbalance in [-1,1]
	Medium     float64
	Long       float64
	Score      float64
	Bias       Bias
	Confidence float64 // in [0,1]
	ComputedAt time.Time
}
