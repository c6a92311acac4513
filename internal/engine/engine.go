// Package engine runs the per-tick control loop: refresh market data,
// evaluate risk, then quote. Risk always spends its rate-limit budget
// before quoting does.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/iojason/hl-bots/internal/config"
	"github.com/iojason/hl-bots/internal/exchange"
	"github.com/iojason/hl-bots/internal/execution"
	"github.com/iojason/hl-bots/internal/flow"
	"github.com/iojason/hl-bots/internal/market"
	"github.com/iojason/hl-bots/internal/metrics"
	"github.com/iojason/hl-bots/internal/position"
	"github.com/iojason/hl-bots/internal/quote"
	"github.com/iojason/hl-bots/internal/ratelimit"
	"github.com/iojason/hl-bots/internal/risk"
)

// FillRecorder persists consumed fills; nil disables journaling.
type FillRecorder interface {
	Record(f market.Fill)
}

// Deps bundles the collaborators the loop drives. Primary is the streaming
// book source; Fallback (optional) is polled only when the primary goes
// stale, and its reads are charged to the fallback ledger.
type Deps struct {
	Primary  exchange.BookSource
	Fallback exchange.BookSource
	Venue    exchange.Venue
	// Trades optionally streams market trade prints into the flow
	// aggregator. Own fills from the venue are observed regardless.
	Trades    <-chan market.Fill
	Limiter   *ratelimit.Limiter
	Flows     *flow.Aggregator
	Quotes    *quote.Engine
	Risk      *risk.Machine
	Exits     *risk.ExitExecutor
	Exec      *execution.Executor
	Positions *position.Book
	Journal   FillRecorder
	Log       zerolog.Logger
}

type instrumentState struct {
	bidID string
	askID string

	onFallback     bool
	errorCount     int
	sidelinedUntil time.Time
}

// Engine owns all loop state. Not safe for concurrent Run calls.
type Engine struct {
	cfg  *config.Config
	deps Deps

	bookWeight    float64
	errorLimit    int
	errorCooldown time.Duration

	states map[string]*instrumentState
	now    func() time.Time
}

// New wires the control loop.
func New(cfg *config.Config, deps Deps) *Engine {
	bookWeight := cfg.RateLimit.Weights.Book
	if bookWeight <= 0 {
		bookWeight = 2
	}
	errorLimit := cfg.Engine.ErrorLimit
	if errorLimit <= 0 {
		errorLimit = 5
	}
	cooldown := time.Duration(cfg.Engine.ErrorCooldownSecs) * time.Second
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Engine{
		cfg:           cfg,
		deps:          deps,
		bookWeight:    bookWeight,
		errorLimit:    errorLimit,
		errorCooldown: cooldown,
		states:        make(map[string]*instrumentState),
		now:           time.Now,
	}
}

func (e *Engine) state(inst string) *instrumentState {
	st := e.states[inst]
	if st == nil {
		st = &instrumentState{}
		e.states[inst] = st
	}
	return st
}

// Run consumes fills in the background and executes the tick loop until ctx
// is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	go e.consumeFills(ctx)
	if e.deps.Trades != nil {
		go e.consumeTrades(ctx)
	}

	ticker := time.NewTicker(e.cfg.Engine.Tick())
	defer ticker.Stop()

	e.deps.Log.Info().
		Strs("instruments", e.cfg.Exchange.Instruments).
		Dur("tick", e.cfg.Engine.Tick()).
		Msg("control loop started")

	for {
		select {
		case <-ctx.Done():
			e.deps.Log.Info().Msg("control loop stopped")
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// consumeFills drains the venue fill stream into flow, positions, and the
// journal. It runs independently of the tick cadence so bursts are never
// dropped behind a slow tick.
func (e *Engine) consumeFills(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-e.deps.Venue.Fills():
			if !ok {
				return
			}
			e.deps.Flows.Observe(f)
			if err := e.deps.Positions.ApplyFill(f.Instrument, f.SignedQty(), f.Price); err != nil {
				e.deps.Log.Error().Str("sym", f.Instrument).Err(err).Msg("apply fill")
				continue
			}
			if e.deps.Journal != nil {
				e.deps.Journal.Record(f)
			}
			metrics.FillsTotal.WithLabelValues(f.Instrument).Inc()
		}
	}
}

// consumeTrades feeds market prints into the flow aggregator.
func (e *Engine) consumeTrades(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-e.deps.Trades:
			if !ok {
				return
			}
			e.deps.Flows.Observe(f)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	metrics.RateLimitUtilization.
		WithLabelValues(string(ratelimit.Primary)).
		Set(e.deps.Limiter.Utilization(ratelimit.Primary))
	metrics.RateLimitUtilization.
		WithLabelValues(string(ratelimit.Fallback)).
		Set(e.deps.Limiter.Utilization(ratelimit.Fallback))

	for _, inst := range e.cfg.Exchange.Instruments {
		metrics.TicksTotal.WithLabelValues(inst).Inc()
		if err := e.step(ctx, inst); err != nil {
			e.noteError(inst, err)
		} else {
			e.state(inst).errorCount = 0
		}
	}
}

// step processes one instrument for one tick. A nil return covers both
// success and deliberate deferral (stale book, rate-limit backpressure);
// errors are transport or invariant failures that count toward sidelining.
func (e *Engine) step(ctx context.Context, inst string) error {
	st := e.state(inst)
	if !st.sidelinedUntil.IsZero() {
		if e.now().Before(st.sidelinedUntil) {
			return nil
		}
		st.sidelinedUntil = time.Time{}
		st.errorCount = 0
		e.deps.Log.Info().Str("sym", inst).Msg("instrument resumed after error cooldown")
	}

	book, err := e.freshBook(inst, st)
	if err != nil {
		metrics.QuotesSuppressed.WithLabelValues(inst, "stale").Inc()
		// Quoting waits for fresh data but risk does not: a bailout must
		// still fire on the last known mark during a feed outage.
		if pos, open := e.deps.Positions.Get(inst); open && !pos.Flat() {
			if _, err := e.applyRisk(ctx, inst, st, pos); err != nil {
				return err
			}
		}
		return nil
	}
	e.deps.Positions.Mark(inst, book.Mid())

	pos, open := e.deps.Positions.Get(inst)
	if open && !pos.Flat() {
		handled, err := e.applyRisk(ctx, inst, st, pos)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
	}

	if e.cfg.RateLimit.SoftLimit > 0 &&
		e.deps.Limiter.Utilization(ratelimit.Primary) >= e.cfg.RateLimit.SoftLimit {
		metrics.QuotesSuppressed.WithLabelValues(inst, "soft_limit").Inc()
		return nil
	}

	mode := e.deps.Flows.EvaluateMode(inst)
	sig := e.deps.Flows.Signal(inst, book)
	equity := e.cfg.Quote.StartingEquityUSD + e.deps.Positions.RealizedPnL()
	d, ok := e.deps.Quotes.Decide(book, sig, mode, pos, equity, e.deps.Positions.TotalNotional())
	if !ok {
		return nil
	}
	return e.replaceQuotes(ctx, inst, st, d)
}

// freshBook serves the primary snapshot when fresh, failing over to the
// fallback source otherwise. Recovery back to the primary is automatic: it
// is retried first every tick.
func (e *Engine) freshBook(inst string, st *instrumentState) (market.BookSnapshot, error) {
	staleAfter := e.cfg.Exchange.StaleAfter()

	b, err := e.deps.Primary.Book(inst)
	if err == nil && b.Valid() && e.now().Sub(b.Ts) <= staleAfter {
		if st.onFallback {
			st.onFallback = false
			e.deps.Log.Info().Str("sym", inst).Msg("primary feed recovered")
		}
		return b, nil
	}

	if e.deps.Fallback == nil {
		return market.BookSnapshot{}, exchange.ErrStale
	}
	if !e.deps.Limiter.TryAdmit(ratelimit.Fallback, e.bookWeight) {
		metrics.RateLimitRejects.WithLabelValues(string(ratelimit.Fallback), "book").Inc()
		return market.BookSnapshot{}, exchange.ErrStale
	}
	fb, err := e.deps.Fallback.Book(inst)
	if err != nil || !fb.Valid() || e.now().Sub(fb.Ts) > staleAfter {
		return market.BookSnapshot{}, exchange.ErrStale
	}
	if !st.onFallback {
		st.onFallback = true
		metrics.FeedFailovers.WithLabelValues(inst).Inc()
		e.deps.Log.Warn().Str("sym", inst).Msg("primary feed stale, failing over")
	}
	fb.Source = market.SourceFallback
	return fb, nil
}

// applyRisk runs the state machine for an open position. handled=true means
// an exit consumed the tick and quoting must not run for this instrument.
func (e *Engine) applyRisk(ctx context.Context, inst string, st *instrumentState, pos position.Position) (bool, error) {
	tpBps := e.cfg.Overrides.Resolve(inst, "take_profit_bps", e.cfg.Risk.TakeProfitBps, 0)
	tpUSD := e.cfg.Overrides.Resolve(inst, "take_profit_usd", e.cfg.Risk.TakeProfitUSD, 0)

	action, err := e.deps.Risk.Evaluate(pos, tpBps, tpUSD)
	if err != nil {
		e.deps.Log.Error().Str("sym", inst).Err(err).Msg("risk invariant violated")
		return true, err
	}

	var fraction float64
	switch action.Kind {
	case risk.ActionNone:
		return false, nil
	case risk.ActionPartialExit:
		fraction = action.Fraction
	case risk.ActionFullExit, risk.ActionTakeProfit:
		fraction = 1
	}

	// Pull resting quotes before exiting so they cannot fill into the
	// position we are trying to shed. Backpressure here is ignored, the
	// exit still runs.
	e.dropResting(ctx, inst, st)

	err = e.deps.Exits.Close(ctx, pos, fraction, e.cfg.Risk.Enhanced)
	switch {
	case err == nil:
		if action.Kind != risk.ActionTakeProfit {
			metrics.BailoutsTotal.WithLabelValues(inst, action.Phase.String()).Inc()
		}
		e.deps.Risk.Ack(inst)
		e.deps.Log.Info().
			Str("sym", inst).
			Str("phase", action.Phase.String()).
			Float64("fraction", fraction).
			Msg("risk exit placed")
		return true, nil
	case errors.Is(err, execution.ErrBackpressure):
		// No budget: the machine re-fires next tick.
		return true, nil
	case errors.Is(err, risk.ErrExhausted):
		// Every strategy rejected; the machine re-fires next tick.
		return true, nil
	default:
		return true, err
	}
}

// replaceQuotes reconciles resting orders against the new decision: cancel
// both sides, then submit the fresh pair as one batch so the ledger is
// charged the batched weight. Backpressure anywhere defers the rest of the
// replace to the next tick.
func (e *Engine) replaceQuotes(ctx context.Context, inst string, st *instrumentState, d quote.Decision) error {
	for _, id := range []*string{&st.bidID, &st.askID} {
		if *id == "" {
			continue
		}
		err := e.deps.Exec.Cancel(ctx, inst, *id)
		switch {
		case err == nil, errors.Is(err, execution.ErrNotFound):
			*id = ""
		case errors.Is(err, execution.ErrBackpressure):
			return nil
		default:
			return err
		}
	}

	var (
		batch []execution.Order
		slots []*string
	)
	if d.Bid != nil {
		batch = append(batch, execution.NewOrder(inst, execution.Buy, d.Bid.Size, d.Bid.Price, execution.PostOnly))
		slots = append(slots, &st.bidID)
	}
	if d.Ask != nil {
		batch = append(batch, execution.NewOrder(inst, execution.Sell, d.Ask.Size, d.Ask.Price, execution.PostOnly))
		slots = append(slots, &st.askID)
	}
	if len(batch) == 0 {
		return nil
	}

	results, err := e.deps.Exec.SubmitBatch(ctx, batch)
	switch {
	case errors.Is(err, execution.ErrBackpressure):
		return nil
	case err != nil:
		return err
	}
	for i, res := range results {
		// A rejected side is a post-only cross or band refusal; requote
		// next tick.
		if res == nil {
			*slots[i] = batch[i].ID
		}
	}
	return nil
}

func (e *Engine) dropResting(ctx context.Context, inst string, st *instrumentState) {
	for _, id := range []*string{&st.bidID, &st.askID} {
		if *id == "" {
			continue
		}
		err := e.deps.Exec.Cancel(ctx, inst, *id)
		if err == nil || errors.Is(err, execution.ErrNotFound) {
			*id = ""
		}
	}
}

// noteError counts a processing failure; at the limit the instrument is
// sidelined for the cooldown window so a broken symbol cannot burn the
// shared rate-limit budget.
func (e *Engine) noteError(inst string, err error) {
	st := e.state(inst)
	st.errorCount++
	e.deps.Log.Warn().
		Str("sym", inst).
		Int("count", st.errorCount).
		Err(err).
		Msg("instrument step failed")
	if st.errorCount >= e.errorLimit {
		st.sidelinedUntil = e.now().Add(e.errorCooldown)
		e.deps.Log.Error().
			Str("sym", inst).
			Dur("cooldown", e.errorCooldown).
			Msg("instrument sidelined after repeated errors")
	}
}
