// Package ratelimit implements dual admission control for outbound exchange
// operations: two independent rolling-window weight ledgers, one per channel.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Channel selects which capacity ledger an operation draws from.
type Channel string

const (
	// Primary is the high-throughput channel (websocket-backed operations).
	Primary Channel = "primary"
	// Fallback is the conservative channel (REST fallback operations).
	Fallback Channel = "fallback"
)

// Window is the trailing interval over which consumed weight is summed.
const Window = time.Minute

type entry struct {
	ts     time.Time
	weight float64
}

type ledger struct {
	capacity float64
	entries  []entry
	consumed float64
}

// prune drops entries older than the trailing window and keeps the running
// consumed sum in step with the slice.
func (l *ledger) prune(now time.Time) {
	cutoff := now.Add(-Window)
	idx := 0
	for idx < len(l.entries) && !l.entries[idx].ts.After(cutoff) {
		l.consumed -= l.entries[idx].weight
		idx++
	}
	if idx > 0 {
		l.entries = l.entries[idx:]
	}
	if l.consumed < 0 {
		l.consumed = 0
	}
}

// Limiter gates operations against per-channel rolling-minute capacities.
// Admission is synchronous and never blocks; a rejection is backpressure,
// not an error, and the caller owns the retry policy.
type Limiter struct {
	mu      sync.Mutex
	ledgers map[Channel]*ledger
	now     func() time.Time
}

// New constructs a limiter with the given per-minute capacities.
func New(primaryPerMin, fallbackPerMin float64) *Limiter {
	if primaryPerMin <= 0 {
		primaryPerMin = 1800
	}
	if fallbackPerMin <= 0 {
		fallbackPerMin = 800
	}
	return &Limiter{
		ledgers: map[Channel]*ledger{
			Primary:  {capacity: primaryPerMin},
			Fallback: {capacity: fallbackPerMin},
		},
		now: time.Now,
	}
}

// TryAdmit records weight against the channel ledger iff doing so keeps the
// trailing-window sum within capacity. The check and the record are a single
// atomic step; on rejection nothing is recorded.
func (l *Limiter) TryAdmit(ch Channel, weight float64) bool {
	if weight < 0 {
		return false
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	led, ok := l.ledgers[ch]
	if !ok {
		return false
	}
	led.prune(now)
	if led.consumed+weight > led.capacity {
		return false
	}
	led.entries = append(led.entries, entry{ts: now, weight: weight})
	led.consumed += weight
	return true
}

// Remaining returns the weight still admittable on the channel right now.
func (l *Limiter) Remaining(ch Channel) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	led, ok := l.ledgers[ch]
	if !ok {
		return 0
	}
	led.prune(l.now())
	rem := led.capacity - led.consumed
	if rem < 0 {
		// Consumed beyond capacity can only happen through a bug in the
		// admission path itself; callers treat it as a fault.
		return 0
	}
	return rem
}

// Utilization returns consumed/capacity in [0,1] for the channel.
func (l *Limiter) Utilization(ch Channel) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	led, ok := l.ledgers[ch]
	if !ok || led.capacity <= 0 {
		return 0
	}
	led.prune(l.now())
	u := led.consumed / led.capacity
	if u > 1 {
		u = 1
	}
	return u
}

// Check verifies internal consistency of a channel ledger. It exists for the
// invariant-violation taxonomy: a negative remaining capacity is a
// programming fault and must be surfaced, never silently clamped away.
func (l *Limiter) Check(ch Channel) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	led, ok := l.ledgers[ch]
	if !ok {
		return fmt.Errorf("ratelimit: unknown channel %q", ch)
	}
	led.prune(l.now())
	var sum float64
	for _, e := range led.entries {
		sum += e.weight
	}
	if sum > led.capacity {
		return fmt.Errorf("ratelimit: channel %q consumed %.2f exceeds capacity %.2f", ch, sum, led.capacity)
	}
	return nil
}

// BatchWeight returns the ledger weight of a batched order submission:
// 1 plus one extra unit per 40 orders, matching exchange accounting.
func BatchWeight(orders int) float64 {
	if orders <= 0 {
		return 0
	}
	return float64(1 + orders/40)
}
