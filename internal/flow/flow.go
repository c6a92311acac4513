// Package flow maintains rolling per-timeframe volume windows and fuses them
// with book state into a directional signal used by quoting.
package flow

import (
	"math"
	"sync"
	"time"

	"github.com/iojason/hl-bots/internal/market"
)

// Weights configures the fused score combination.
type Weights struct {
	BookImbalance float64 `yaml:"book_imbalance"`
	NetPressure   float64 `yaml:"net_pressure"`
	Short         float64 `yaml:"short"`
	Medium        float64 `yaml:"medium"`
	Long          float64 `yaml:"long"`
}

// DefaultWeights returns the production fusion weights.
func DefaultWeights() Weights {
	return Weights{BookImbalance: 2.0, NetPressure: 1.0, Short: 0.5, Medium: 0.3, Long: 0.2}
}

// Config groups the tunables for the aggregator.
type Config struct {
	ShortWindow  time.Duration
	MediumWindow time.Duration
	LongWindow   time.Duration
	Weights      Weights
	// BiasThreshold is the |score| above which flow is considered directional.
	BiasThreshold float64
	// ConfidenceSaturation is the |score| at which confidence reaches 1.
	ConfidenceSaturation float64
	// CacheTTL bounds recomputation cost; within the TTL, Signal returns the
	// cached value even if new fills arrived in between.
	CacheTTL time.Duration
	// Single-sided policy.
	HalfLife       time.Duration
	OneSidedRatio  float64
	SwitchCooldown int // ticks
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ShortWindow:          30 * time.Second,
		MediumWindow:         300 * time.Second,
		LongWindow:           1800 * time.Second,
		Weights:              DefaultWeights(),
		BiasThreshold:        0.1,
		ConfidenceSaturation: 3.0,
		CacheTTL:             10 * time.Second,
		HalfLife:             30 * time.Second,
		OneSidedRatio:        1.15,
		SwitchCooldown:       120,
	}
}

func (c *Config) sanitize() {
	d := DefaultConfig()
	if c.ShortWindow <= 0 {
		c.ShortWindow = d.ShortWindow
	}
	if c.MediumWindow <= 0 {
		c.MediumWindow = d.MediumWindow
	}
	if c.LongWindow <= 0 {
		c.LongWindow = d.LongWindow
	}
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if c.BiasThreshold <= 0 {
		c.BiasThreshold = d.BiasThreshold
	}
	if c.ConfidenceSaturation <= 0 {
		c.ConfidenceSaturation = d.ConfidenceSaturation
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	if c.HalfLife <= 0 {
		c.HalfLife = d.HalfLife
	}
	if c.OneSidedRatio <= 1 {
		c.OneSidedRatio = d.OneSidedRatio
	}
	if c.SwitchCooldown <= 0 {
		c.SwitchCooldown = d.SwitchCooldown
	}
}

type delta struct {
	ts  time.Time
	qty float64 // signed, buy positive
}

// window is an age-evicted sequence of signed volume deltas.
type window struct {
	duration time.Duration
	deltas   []delta
}

func (w *window) add(d delta) {
	w.deltas = append(w.deltas, d)
	w.evict(d.ts)
}

func (w *window) evict(now time.Time) {
	cutoff := now.Add(-w.duration)
	idx := 0
	for idx < len(w.deltas) && !w.deltas[idx].ts.After(cutoff) {
		idx++
	}
	if idx > 0 {
		w.deltas = w.deltas[idx:]
	}
}

// imbalance returns (buy-sell)/(buy+sell) over the window, 0 when empty.
func (w *window) imbalance(now time.Time) float64 {
	w.evict(now)
	var buy, sell float64
	for _, d := range w.deltas {
		if d.qty >= 0 {
			buy += d.qty
		} else {
			sell += -d.qty
		}
	}
	total := buy + sell
	if total <= 0 {
		return 0
	}
	return (buy - sell) / total
}

// net returns the signed volume sum over the window.
func (w *window) net(now time.Time) float64 {
	w.evict(now)
	var sum float64
	for _, d := range w.deltas {
		sum += d.qty
	}
	return sum
}

// decayed returns buy and sell volume with exponential half-life decay
// applied by entry age.
func (w *window) decayed(now time.Time, halfLife time.Duration) (buy, sell float64) {
	w.evict(now)
	hl := halfLife.Seconds()
	for _, d := range w.deltas {
		age := now.Sub(d.ts).Seconds()
		weight := math.Exp2(-age / hl)
		if d.qty >= 0 {
			buy += d.qty * weight
		} else {
			sell += -d.qty * weight
		}
	}
	return buy, sell
}

type instrumentState struct {
	short  *window
	medium *window
	long   *window

	cached  market.FlowSignal
	cacheAt time.Time

	mode           Mode
	ticksSinceSwap int
	everEvaluated  bool
}

// Mode describes which sides the quote engine should populate.
type Mode int

const (
	// ModeBoth quotes bid and ask.
	ModeBoth Mode = iota
	// ModeBidOnly quotes the bid side only.
	ModeBidOnly
	// ModeAskOnly quotes the ask side only.
	ModeAskOnly
)

// String implements fmt.Stringer for logging.
func (m Mode) String() string {
	switch m {
	case ModeBidOnly:
		return "bid_only"
	case ModeAskOnly:
		return "ask_only"
	default:
		return "both"
	}
}

// Aggregator fuses multi-timeframe order flow into a per-instrument signal.
// Safe for concurrent use from the feed consumer and the control loop.
type Aggregator struct {
	cfg Config

	mu     sync.Mutex
	states map[string]*instrumentState
	now    func() time.Time
}

// NewAggregator builds an aggregator with sanitized config.
func NewAggregator(cfg Config) *Aggregator {
	cfg.sanitize()
	return &Aggregator{
		cfg:    cfg,
		states: make(map[string]*instrumentState),
		now:    time.Now,
	}
}

func (a *Aggregator) state(instrument string) *instrumentState {
	st := a.states[instrument]
	if st == nil {
		st = &instrumentState{
			short:  &window{duration: a.cfg.ShortWindow},
			medium: &window{duration: a.cfg.MediumWindow},
			long:   &window{duration: a.cfg.LongWindow},
			mode:   ModeBoth,
		}
		a.states[instrument] = st
	}
	return st
}

// Observe appends a fill's signed volume to all three windows.
func (a *Aggregator) Observe(f market.Fill) {
	if f.Instrument == "" || f.Qty <= 0 {
		return
	}
	d := delta{ts: f.Ts, qty: f.SignedQty()}
	if d.ts.IsZero() {
		d.ts = a.now()
	}
	a.mu.Lock()
	st := a.state(f.Instrument)
	st.short.add(d)
	st.medium.add(d)
	st.long.add(d)
	a.mu.Unlock()
}

// Signal returns the fused flow signal for the instrument against the given
// book snapshot. Results are cached for the configured TTL; a cache hit
// returns the stored value unchanged regardless of fills observed since.
func (a *Aggregator) Signal(instrument string, book market.BookSnapshot) market.FlowSignal {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state(instrument)
	if !st.cacheAt.IsZero() && now.Sub(st.cacheAt) < a.cfg.CacheTTL {
		return st.cached
	}

	short := st.short.imbalance(now)
	medium := st.medium.imbalance(now)
	long := st.long.imbalance(now)

	var pressure float64
	if book.BidVolume > 0 {
		pressure = st.short.net(now) / book.BidVolume
	}

	w := a.cfg.Weights
	score := w.BookImbalance*book.Imbalance() +
		w.NetPressure*pressure +
		w.Short*short +
		w.Medium*medium +
		w.Long*long

	bias := market.BiasNeutral
	switch {
	case score > a.cfg.BiasThreshold:
		bias = market.BiasBid
	case score < -a.cfg.BiasThreshold:
		bias = market.BiasAsk
	}

	confidence := math.Abs(score) / a.cfg.ConfidenceSaturation
	if confidence > 1 {
		confidence = 1
	}

	sig := market.FlowSignal{
		Instrument: instrument,
		Short:      short,
		Medium:     medium,
		Long:       long,
		Score:      score,
		Bias:       bias,
		Confidence: confidence,
		ComputedAt: now,
	}
	st.cached = sig
	st.cacheAt = now
	return sig
}

// EvaluateMode runs the single-sided sub-policy once per control-loop tick.
// Recent flow is decayed by half-life; when the dominant side exceeds the
// weaker by the configured ratio the market is treated as one-sided. A mode
// change is only applied after the cooldown since the previous change; the
// cooldown counter resets on an actual switch, not on evaluation.
func (a *Aggregator) EvaluateMode(instrument string) Mode {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state(instrument)
	st.ticksSinceSwap++

	buy, sell := st.medium.decayed(now, a.cfg.HalfLife)

	target := ModeBoth
	switch {
	case sell <= 0 && buy > 0:
		target = ModeBidOnly
	case buy <= 0 && sell > 0:
		target = ModeAskOnly
	case buy > 0 && sell > 0 && buy/sell >= a.cfg.OneSidedRatio:
		target = ModeBidOnly
	case buy > 0 && sell > 0 && sell/buy >= a.cfg.OneSidedRatio:
		target = ModeAskOnly
	}

	if target == st.mode {
		return st.mode
	}
	if st.everEvaluated && st.ticksSinceSwap < a.cfg.SwitchCooldown {
		// Hysteresis: hold the current mode until the cooldown expires.
		return st.mode
	}
	st.mode = target
	st.ticksSinceSwap = 0
	st.everEvaluated = true
	return st.mode
}

// Mode returns the current quoting mode without evaluating the policy.
func (a *Aggregator) Mode(instrument string) Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state(instrument).mode
}
