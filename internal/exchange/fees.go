package exchange

import (
	"sync"
	"time"

	"github.com/iojason/hl-bots/internal/ratelimit"
)

// FeeRates are maker/taker rates in basis points.
type FeeRates struct {
	MakerBps float64
	TakerBps float64
}

// FeeFetcher retrieves current fee rates from the venue.
type FeeFetcher func() (FeeRates, error)

const feeCacheTTL = 15 * time.Minute

// FeeCache serves fee rates from a TTL cache so the expensive account query
// runs at most once per window. Fetches are admitted on the fallback channel
// with the configured fee weight; without budget the previous rates stand.
type FeeCache struct {
	mu      sync.Mutex
	fetch   FeeFetcher
	limiter *ratelimit.Limiter
	weight  float64
	rates   FeeRates
	fetched time.Time
	now     func() time.Time
}

// NewFeeCache wires the fetcher behind the limiter. Initial rates are the
// venue's published defaults for accounts with no volume discount.
func NewFeeCache(fetch FeeFetcher, limiter *ratelimit.Limiter, weight float64) *FeeCache {
	if weight <= 0 {
		weight = 10
	}
	return &FeeCache{
		fetch:   fetch,
		limiter: limiter,
		weight:  weight,
		rates:   FeeRates{MakerBps: 1.5, TakerBps: 4.5},
		now:     time.Now,
	}
}

// Rates returns cached fee rates, refreshing when the TTL has lapsed and
// budget allows. Stale rates are served rather than blocking.
func (c *FeeCache) Rates() FeeRates {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.fetched.IsZero() && now.Sub(c.fetched) < feeCacheTTL {
		return c.rates
	}
	if c.fetch == nil || !c.limiter.TryAdmit(ratelimit.Fallback, c.weight) {
		return c.rates
	}
	rates, err := c.fetch()
	if err != nil {
		return c.rates
	}
	c.rates = rates
	c.fetched = now
	return c.rates
}
