// Package position tracks per-instrument signed exposure built from fills.
package position

import (
	"errors"
	"math"
	"sync"
)

const epsilon = 1e-9

// Position is a read-only view of one instrument's exposure.
type Position struct {
	Instrument string
	Qty        float64 // signed: positive long, negative short
	AvgEntry   float64
	MarkPrice  float64
	Unrealized float64
}

// IsLong reports direction; flat positions are neither.
func (p Position) IsLong() bool { return p.Qty > epsilon }

// IsShort reports whether the position is net short.
func (p Position) IsShort() bool { return p.Qty < -epsilon }

// Flat reports a zero position.
func (p Position) Flat() bool { return math.Abs(p.Qty) <= epsilon }

// Notional returns |qty| * mark.
func (p Position) Notional() float64 { return math.Abs(p.Qty) * p.MarkPrice }

// PnLBps returns unrealized profit in basis points of entry, signed so that
// adverse moves are negative for either direction.
func (p Position) PnLBps() float64 {
	if p.AvgEntry <= 0 || p.MarkPrice <= 0 || p.Flat() {
		return 0
	}
	if p.Qty > 0 {
		return (p.MarkPrice - p.AvgEntry) / p.AvgEntry * 10000
	}
	return (p.AvgEntry - p.MarkPrice) / p.AvgEntry * 10000
}

type state struct {
	qty      float64
	avgEntry float64
	mark     float64
}

// Book tracks all open positions for a session. Fills arrive from the feed
// consumer while the control loop reads; both paths go through the mutex.
type Book struct {
	mu          sync.Mutex
	positions   map[string]*state
	realizedPnL float64
}

// NewBook returns an empty position book.
func NewBook() *Book {
	return &Book{positions: make(map[string]*state)}
}

// ApplyFill mutates the position for a signed fill quantity (positive buy,
// negative sell). Reductions realize PnL against average entry; a fill
// through zero flips the position and re-anchors entry at the fill price.
func (b *Book) ApplyFill(instrument string, signedQty, price float64) error {
	if instrument == "" {
		return errors.New("empty instrument")
	}
	if signedQty == 0 {
		return errors.New("zero quantity fill")
	}
	if price <= 0 {
		return errors.New("non-positive fill price")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.positions[instrument]
	if st == nil {
		st = &state{}
		b.positions[instrument] = st
	}
	st.mark = price

	sameDirection := st.qty == 0 || (st.qty > 0) == (signedQty > 0)
	if sameDirection {
		newQty := st.qty + signedQty
		total := st.avgEntry*math.Abs(st.qty) + price*math.Abs(signedQty)
		st.avgEntry = total / math.Abs(newQty)
		st.qty = newQty
		return nil
	}

	reduce := math.Min(math.Abs(signedQty), math.Abs(st.qty))
	if st.qty > 0 {
		b.realizedPnL += (price - st.avgEntry) * reduce
	} else {
		b.realizedPnL += (st.avgEntry - price) * reduce
	}
	st.qty += signedQty
	switch {
	case math.Abs(st.qty) <= epsilon:
		delete(b.positions, instrument)
	case (st.qty > 0) != (st.qty-signedQty > 0):
		// Flipped through zero; the residual is a fresh position.
		st.avgEntry = price
	}
	return nil
}

// Mark updates the mark price for unrealized PnL without changing exposure.
func (b *Book) Mark(instrument string, price float64) {
	if price <= 0 {
		return
	}
	b.mu.Lock()
	if st := b.positions[instrument]; st != nil {
		st.mark = price
	}
	b.mu.Unlock()
}

// Get returns the current position for an instrument; ok is false when flat.
func (b *Book) Get(instrument string) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.positions[instrument]
	if st == nil {
		return Position{Instrument: instrument}, false
	}
	return b.view(instrument, st), true
}

// Open returns a copy of all open positions.
func (b *Book) Open() []Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Position, 0, len(b.positions))
	for sym, st := range b.positions {
		out = append(out, b.view(sym, st))
	}
	return out
}

// TotalNotional sums |qty|*mark across open positions.
func (b *Book) TotalNotional() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total float64
	for sym, st := range b.positions {
		total += b.view(sym, st).Notional()
	}
	return total
}

// RealizedPnL returns accumulated realized profit for the session.
func (b *Book) RealizedPnL() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.realizedPnL
}

func (b *Book) view(instrument string, st *state) Position {
	p := Position{
		Instrument: instrument,
		Qty:        st.qty,
		AvgEntry:   st.avgEntry,
		MarkPrice:  st.mark,
	}
	if st.mark > 0 && st.avgEntry > 0 {
		p.Unrealized = (st.mark - st.avgEntry) * st.qty
	}
	return p
}
