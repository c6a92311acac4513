package exchange

import (
	"sync"

	"github.com/iojason/hl-bots/internal/market"
)

// Store keeps the latest book snapshot per instrument. The feed consumer
// writes, the control loop reads; a snapshot is replaced wholesale so a
// reader can never observe a torn update.
type Store struct {
	mu    sync.RWMutex
	books map[string]market.BookSnapshot
}

// NewStore returns an empty snapshot store.
func NewStore() *Store {
	return &Store{books: make(map[string]market.BookSnapshot)}
}

// Update records a newer snapshot for its instrument.
func (s *Store) Update(b market.BookSnapshot) {
	if b.Instrument == "" {
		return
	}
	s.mu.Lock()
	s.books[b.Instrument] = b
	s.mu.Unlock()
}

// Book returns the latest snapshot; ErrStale when none has arrived yet.
// Callers judge freshness from the snapshot timestamp.
func (s *Store) Book(instrument string) (market.BookSnapshot, error) {
	s.mu.RLock()
	b, ok := s.books[instrument]
	s.mu.RUnlock()
	if !ok {
		return market.BookSnapshot{}, ErrStale
	}
	return b, nil
}
