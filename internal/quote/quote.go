// Package quote turns book state and the fused flow signal into bid/ask
// price and size decisions.
package quote

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/iojason/hl-bots/internal/exchange"
	"github.com/iojason/hl-bots/internal/flow"
	"github.com/iojason/hl-bots/internal/market"
	"github.com/iojason/hl-bots/internal/metrics"
	"github.com/iojason/hl-bots/internal/position"
)

// DynamicSpread configures the percentile-based minimum spread floor.
type DynamicSpread struct {
	Enabled        bool
	Percentile     float64 // e.g. 0.25 takes the 25th percentile
	HistorySize    int
	RecomputeTicks int
}

// Config groups quoting tunables.
type Config struct {
	MinSpreadBps        float64
	Dynamic             DynamicSpread
	SizeNotionalUSD     float64
	MaxCoinNotionalUSD  float64
	MaxTotalNotionalUSD float64
	Leverage            float64
	MarginFraction      float64
	MinReplace          time.Duration
	// MinTickMove suppresses a replace when the new price differs from the
	// resting one by fewer ticks than this.
	MinTickMove float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinSpreadBps:        3.0,
		Dynamic:             DynamicSpread{Percentile: 0.25, HistorySize: 600, RecomputeTicks: 50},
		SizeNotionalUSD:     25,
		MaxCoinNotionalUSD:  400,
		MaxTotalNotionalUSD: 1200,
		Leverage:            5,
		MarginFraction:      0.2,
		MinReplace:          500 * time.Millisecond,
		MinTickMove:         2,
	}
}

// Level is one side of a decision.
type Level struct {
	Price float64
	Size  float64
}

// Decision is the quoting intent for one instrument, valid for one tick.
// Either side may be nil in single-sided mode or when caps bind.
type Decision struct {
	Instrument string
	Bid        *Level
	Ask        *Level
	SpreadBps  float64
}

// Empty reports a decision with neither side populated.
func (d Decision) Empty() bool { return d.Bid == nil && d.Ask == nil }

// FeeSource supplies current maker/taker fee rates.
type FeeSource interface {
	Rates() exchange.FeeRates
}

type instrumentQuoteState struct {
	spreadHistory []float64
	tickCount     int
	dynamicFloor  float64

	lastBidPx     float64
	lastAskPx     float64
	lastReplaceAt time.Time
}

// Engine computes per-tick quote decisions.
type Engine struct {
	cfg  Config
	meta exchange.MetaTable
	fees FeeSource

	mu     sync.Mutex
	states map[string]*instrumentQuoteState
	now    func() time.Time
}

// NewEngine builds a quote engine.
func NewEngine(cfg Config, meta exchange.MetaTable, fees FeeSource) *Engine {
	if cfg.SizeNotionalUSD <= 0 {
		cfg.SizeNotionalUSD = 25
	}
	if cfg.Dynamic.HistorySize <= 0 {
		cfg.Dynamic.HistorySize = 600
	}
	if cfg.Dynamic.RecomputeTicks <= 0 {
		cfg.Dynamic.RecomputeTicks = 50
	}
	return &Engine{
		cfg:    cfg,
		meta:   meta,
		fees:   fees,
		states: make(map[string]*instrumentQuoteState),
		now:    time.Now,
	}
}

func (e *Engine) state(instrument string) *instrumentQuoteState {
	st := e.states[instrument]
	if st == nil {
		st = &instrumentQuoteState{}
		e.states[instrument] = st
	}
	return st
}

// Decide produces the quote for this tick. ok is false when no action should
// be taken (spread too tight, caps bound, or the churn guard holds the
// resting orders in place).
func (e *Engine) Decide(book market.BookSnapshot, sig market.FlowSignal, mode flow.Mode, pos position.Position, equity float64, totalNotional float64) (Decision, bool) {
	if !book.Valid() {
		return Decision{}, false
	}
	mid := book.Mid()
	meta := e.meta.Lookup(book.Instrument)

	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state(book.Instrument)

	spreadBps := book.SpreadBps()
	e.recordSpread(st, spreadBps)

	if spreadBps < e.minSpreadBps(st) {
		return Decision{}, false
	}

	marketSpread := book.BestAsk - book.BestBid
	if marketSpread < meta.TickSize {
		return Decision{}, false
	}

	// Tight spreads quote at the touch; wider ones step one tick inside.
	var bidPx, askPx float64
	if marketSpread <= meta.TickSize*2 {
		bidPx = meta.QuantizePriceDown(book.BestBid)
		askPx = meta.QuantizePriceUp(book.BestAsk)
	} else {
		bidPx = meta.QuantizePriceDown(book.BestBid + meta.TickSize)
		askPx = meta.QuantizePriceUp(book.BestAsk - meta.TickSize)
	}
	if bidPx >= askPx {
		return Decision{}, false
	}

	size := e.orderSize(pos, mid, equity, totalNotional, sig.Confidence)
	size = meta.QuantizeSize(size)
	if size <= 0 {
		return Decision{}, false
	}

	d := Decision{Instrument: book.Instrument, SpreadBps: spreadBps}
	if mode != flow.ModeAskOnly {
		d.Bid = &Level{Price: bidPx, Size: size}
	}
	if mode != flow.ModeBidOnly {
		d.Ask = &Level{Price: askPx, Size: size}
	}
	if d.Empty() {
		return Decision{}, false
	}

	if e.suppressed(st, d, meta) {
		return Decision{}, false
	}

	if d.Bid != nil {
		st.lastBidPx = d.Bid.Price
	}
	if d.Ask != nil {
		st.lastAskPx = d.Ask.Price
	}
	st.lastReplaceAt = e.now()
	return d, true
}

// minSpreadBps combines the static floor, the dynamic percentile floor, and
// the maker break-even spread so quoting never locks in a fee loss.
func (e *Engine) minSpreadBps(st *instrumentQuoteState) float64 {
	min := e.cfg.MinSpreadBps
	if e.cfg.Dynamic.Enabled && st.dynamicFloor > min {
		min = st.dynamicFloor
	}
	if e.fees != nil {
		breakEven := 2 * e.fees.Rates().MakerBps
		if breakEven > min {
			min = breakEven
		}
	}
	return min
}

func (e *Engine) recordSpread(st *instrumentQuoteState, spreadBps float64) {
	if spreadBps > 0 {
		st.spreadHistory = append(st.spreadHistory, spreadBps)
		if len(st.spreadHistory) > e.cfg.Dynamic.HistorySize {
			st.spreadHistory = st.spreadHistory[len(st.spreadHistory)-e.cfg.Dynamic.HistorySize:]
		}
	}
	st.tickCount++
	if !e.cfg.Dynamic.Enabled || st.tickCount%e.cfg.Dynamic.RecomputeTicks != 0 {
		return
	}
	if len(st.spreadHistory) == 0 {
		return
	}
	sorted := make([]float64, len(st.spreadHistory))
	copy(sorted, st.spreadHistory)
	sort.Float64s(sorted)
	idx := int(e.cfg.Dynamic.Percentile * float64(len(sorted)-1))
	st.dynamicFloor = sorted[idx]
}

// orderSize derives size from target notional scaled by signal confidence
// and clipped by the instrument cap, the portfolio cap, and margin.
func (e *Engine) orderSize(pos position.Position, mid, equity, totalNotional, confidence float64) float64 {
	if mid <= 0 {
		return 0
	}
	notional := e.cfg.SizeNotionalUSD * (0.5 + 0.5*confidence)

	if e.cfg.MaxCoinNotionalUSD > 0 {
		headroom := e.cfg.MaxCoinNotionalUSD - pos.Notional()
		if headroom <= 0 {
			return 0
		}
		notional = math.Min(notional, headroom)
	}
	if e.cfg.MaxTotalNotionalUSD > 0 {
		headroom := e.cfg.MaxTotalNotionalUSD - totalNotional
		if headroom <= 0 {
			return 0
		}
		notional = math.Min(notional, headroom)
	}
	if equity > 0 && e.cfg.Leverage > 0 && e.cfg.MarginFraction > 0 {
		marginCap := equity * e.cfg.Leverage * e.cfg.MarginFraction
		notional = math.Min(notional, marginCap)
	}
	if notional <= 0 {
		return 0
	}
	return notional / mid
}

// suppressed applies the churn guard: a decision too close to the resting
// quotes, or arriving too soon after the last replace, leaves them in place.
func (e *Engine) suppressed(st *instrumentQuoteState, d Decision, meta exchange.InstrumentMeta) bool {
	if st.lastReplaceAt.IsZero() {
		return false
	}
	if e.cfg.MinReplace > 0 && e.now().Sub(st.lastReplaceAt) < e.cfg.MinReplace {
		metrics.QuotesSuppressed.WithLabelValues(d.Instrument, "interval").Inc()
		return true
	}
	threshold := e.cfg.MinTickMove * meta.TickSize
	if threshold <= 0 {
		return false
	}
	moved := false
	if d.Bid != nil && math.Abs(d.Bid.Price-st.lastBidPx) >= threshold {
		moved = true
	}
	if d.Ask != nil && math.Abs(d.Ask.Price-st.lastAskPx) >= threshold {
		moved = true
	}
	if !moved {
		metrics.QuotesSuppressed.WithLabelValues(d.Instrument, "tick_move").Inc()
		return true
	}
	return false
}
