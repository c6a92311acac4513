package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/iojason/hl-bots/internal/execution"
	"github.com/iojason/hl-bots/internal/market"
)

// Stub is a deterministic in-process venue for tests and offline runs. It
// synthesizes a slowly drifting book and fills marketable orders at the
// touch immediately.
type Stub struct {
	mu        sync.Mutex
	mids      map[string]float64
	open      map[string]execution.Order
	fills     chan market.Fill
	store     *Store
	rejects   map[execution.ExitVariant]bool
	tickEvery time.Duration
}

// NewStub builds a stub venue quoting the given instruments around startMid.
func NewStub(instruments []string, startMid float64, store *Store) *Stub {
	if startMid <= 0 {
		startMid = 100
	}
	s := &Stub{
		mids:      make(map[string]float64, len(instruments)),
		open:      make(map[string]execution.Order),
		fills:     make(chan market.Fill, 256),
		store:     store,
		rejects:   make(map[execution.ExitVariant]bool),
		tickEvery: 100 * time.Millisecond,
	}
	for _, inst := range instruments {
		s.mids[inst] = startMid
		s.publish(inst)
	}
	return s
}

// RejectExits replaces the set of exit variants the stub refuses; calling
// with no arguments clears it. Used to exercise fallback ordering.
func (s *Stub) RejectExits(variants ...execution.ExitVariant) {
	s.mu.Lock()
	rejects := make(map[execution.ExitVariant]bool, len(variants))
	for _, v := range variants {
		rejects[v] = true
	}
	s.rejects = rejects
	s.mu.Unlock()
}

// Run drifts the synthetic book until ctx is cancelled.
func (s *Stub) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.mu.Lock()
			for inst := range s.mids {
				s.mids[inst] *= 1.0001
				s.publish(inst)
			}
			s.mu.Unlock()
		}
	}
}

// publish writes the synthetic snapshot; caller holds the lock except at
// construction time.
func (s *Stub) publish(inst string) {
	mid := s.mids[inst]
	spread := mid * 0.0008
	s.store.Update(market.BookSnapshot{
		Instrument: inst,
		BestBid:    mid - spread/2,
		BestAsk:    mid + spread/2,
		BidSize:    10,
		AskSize:    10,
		BidVolume:  50,
		AskVolume:  50,
		Ts:         time.Now(),
		Source:     market.SourcePrimary,
	})
}

// Book implements BookSource.
func (s *Stub) Book(instrument string) (market.BookSnapshot, error) {
	return s.store.Book(instrument)
}

// PlaceOrder accepts the order; marketable orders fill at their limit price
// immediately, resting orders are tracked for cancellation.
func (s *Stub) PlaceOrder(_ context.Context, o execution.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch o.TIF {
	case execution.IOC, execution.Market:
		s.emitFill(o, o.Price)
	default:
		s.open[o.ID] = o
	}
	return nil
}

// CancelOrder removes a resting order.
func (s *Stub) CancelOrder(_ context.Context, _ string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.open[id]; !ok {
		return execution.ErrNotFound
	}
	delete(s.open, id)
	return nil
}

// PlaceMarketExit fills the reduce-only order at the current mid unless the
// variant is scripted to reject.
func (s *Stub) PlaceMarketExit(_ context.Context, o execution.Order, variant execution.ExitVariant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejects[variant] {
		return &execution.Rejection{Reason: "scripted rejection: " + string(variant)}
	}
	s.emitFill(o, s.mids[o.Symbol])
	return nil
}

// OpenOrders returns a copy of resting orders, for assertions.
func (s *Stub) OpenOrders() []execution.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]execution.Order, 0, len(s.open))
	for _, o := range s.open {
		out = append(out, o)
	}
	return out
}

// Fills implements Venue.
func (s *Stub) Fills() <-chan market.Fill { return s.fills }

func (s *Stub) emitFill(o execution.Order, px float64) {
	if px <= 0 {
		px = s.mids[o.Symbol]
	}
	side := 1
	if o.Side == execution.Sell {
		side = -1
	}
	fill := market.Fill{
		Instrument: o.Symbol,
		Price:      px,
		Qty:        o.Qty,
		Side:       side,
		Ts:         time.Now(),
	}
	select {
	case s.fills <- fill:
	default:
	}
}
