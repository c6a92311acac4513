// Package risk tracks per-position adverse excursion and decides bailout and
// take-profit exits.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/iojason/hl-bots/internal/position"
)

// Phase is the bailout state of one position. Transitions run forward only,
// except for a full reset to Healthy when PnL recovers.
type Phase int

const (
	// Healthy means no sustained adverse excursion.
	Healthy Phase = iota
	// Underwater means adverse excursion beyond the entry threshold.
	Underwater
	// PartialBailout means the partial reduction has fired this episode.
	PartialBailout
	// FullBailout means the position is being closed entirely.
	FullBailout
)

// String implements fmt.Stringer for logging.
func (p Phase) String() string {
	switch p {
	case Underwater:
		return "underwater"
	case PartialBailout:
		return "partial_bailout"
	case FullBailout:
		return "full_bailout"
	default:
		return "healthy"
	}
}

// Config groups bailout and take-profit thresholds.
type Config struct {
	UnderwaterBps   float64
	PartialBps      float64
	PartialAfter    time.Duration
	PartialFraction float64
	FullBps         float64
	FullAfter       time.Duration
	TakeProfitBps   float64
	TakeProfitUSD   float64
	Enhanced        bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		UnderwaterBps:   20,
		PartialBps:      30,
		PartialAfter:    90 * time.Second,
		PartialFraction: 0.33,
		FullBps:         60,
		FullAfter:       180 * time.Second,
		TakeProfitBps:   30,
		TakeProfitUSD:   50,
		Enhanced:        true,
	}
}

// ActionKind is what the machine wants done with a position this tick.
type ActionKind int

const (
	// ActionNone requires nothing.
	ActionNone ActionKind = iota
	// ActionPartialExit reduces the position by Fraction.
	ActionPartialExit
	// ActionFullExit closes the whole remaining position.
	ActionFullExit
	// ActionTakeProfit closes the position at a profit.
	ActionTakeProfit
)

// Action is the machine's verdict for one position on one tick.
type Action struct {
	Kind     ActionKind
	Fraction float64 // only for ActionPartialExit
	Phase    Phase
}

type positionState struct {
	phase           Phase
	underwaterSince time.Time
	partialFired    bool
	// exitPending marks a bailout exit that was emitted but not yet
	// acknowledged as placed; the action re-fires every tick until Ack.
	exitPending bool
}

// Machine evaluates all open positions each tick. Bailout takes precedence
// over take-profit when both fire: capital preservation outranks profit.
type Machine struct {
	cfg Config

	mu     sync.Mutex
	states map[string]*positionState
	now    func() time.Time
}

// NewMachine builds a risk machine with sanitized config.
func NewMachine(cfg Config) *Machine {
	d := DefaultConfig()
	if cfg.UnderwaterBps <= 0 {
		cfg.UnderwaterBps = d.UnderwaterBps
	}
	if cfg.PartialBps <= 0 {
		cfg.PartialBps = d.PartialBps
	}
	if cfg.PartialAfter <= 0 {
		cfg.PartialAfter = d.PartialAfter
	}
	if cfg.PartialFraction <= 0 || cfg.PartialFraction >= 1 {
		cfg.PartialFraction = d.PartialFraction
	}
	if cfg.FullBps <= 0 {
		cfg.FullBps = d.FullBps
	}
	if cfg.FullAfter <= 0 {
		cfg.FullAfter = d.FullAfter
	}
	if cfg.TakeProfitBps <= 0 {
		cfg.TakeProfitBps = d.TakeProfitBps
	}
	if cfg.TakeProfitUSD <= 0 {
		cfg.TakeProfitUSD = d.TakeProfitUSD
	}
	return &Machine{cfg: cfg, states: make(map[string]*positionState), now: time.Now}
}

// Phase returns the current bailout phase for an instrument.
func (m *Machine) Phase(instrument string) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.states[instrument]; st != nil {
		return st.phase
	}
	return Healthy
}

// Evaluate advances the state machine for one position and returns the
// action for this tick. Thresholds may carry per-instrument overrides via
// the tp arguments; pass the config values when no override applies.
func (m *Machine) Evaluate(pos position.Position, tpBps, tpUSD float64) (Action, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.states[pos.Instrument]
	if st == nil {
		st = &positionState{}
		m.states[pos.Instrument] = st
	}

	if pos.Flat() {
		m.reset(st)
		return Action{Kind: ActionNone, Phase: st.phase}, nil
	}

	if st.phase != Healthy && st.underwaterSince.IsZero() {
		return Action{}, fmt.Errorf("risk: %s in phase %s without underwater timestamp", pos.Instrument, st.phase)
	}

	adverse := -pos.PnLBps()

	// Recovery above the entry threshold resets the episode entirely.
	if adverse < m.cfg.UnderwaterBps {
		m.reset(st)
		if m.takeProfitEligible(pos, tpBps, tpUSD) {
			return Action{Kind: ActionTakeProfit, Phase: st.phase}, nil
		}
		return Action{Kind: ActionNone, Phase: st.phase}, nil
	}

	// First entry records the timestamp; it is never moved afterwards.
	if st.phase == Healthy {
		st.phase = Underwater
		st.underwaterSince = now
	}
	elapsed := now.Sub(st.underwaterSince)

	if st.phase != FullBailout && adverse >= m.cfg.FullBps && elapsed >= m.cfg.FullAfter {
		st.phase = FullBailout
		st.exitPending = true
		return Action{Kind: ActionFullExit, Phase: st.phase}, nil
	}

	if st.phase == Underwater && !st.partialFired && adverse >= m.cfg.PartialBps && elapsed >= m.cfg.PartialAfter {
		st.phase = PartialBailout
		st.partialFired = true
		st.exitPending = true
		return Action{Kind: ActionPartialExit, Fraction: m.cfg.PartialFraction, Phase: st.phase}, nil
	}

	// A bailout whose exit was deferred (backpressure, all strategies
	// rejected) re-fires until the caller acknowledges placement.
	if st.exitPending {
		switch st.phase {
		case FullBailout:
			return Action{Kind: ActionFullExit, Phase: st.phase}, nil
		case PartialBailout:
			return Action{Kind: ActionPartialExit, Fraction: m.cfg.PartialFraction, Phase: st.phase}, nil
		}
	}

	return Action{Kind: ActionNone, Phase: st.phase}, nil
}

// Ack records that the emitted bailout exit was accepted by the venue. The
// phase itself never moves backward; only the pending re-emission stops.
func (m *Machine) Ack(instrument string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.states[instrument]; st != nil {
		st.exitPending = false
	}
}

func (m *Machine) reset(st *positionState) {
	st.phase = Healthy
	st.underwaterSince = time.Time{}
	st.partialFired = false
	st.exitPending = false
}

func (m *Machine) takeProfitEligible(pos position.Position, tpBps, tpUSD float64) bool {
	if tpBps <= 0 {
		tpBps = m.cfg.TakeProfitBps
	}
	if tpUSD <= 0 {
		tpUSD = m.cfg.TakeProfitUSD
	}
	return pos.PnLBps() >= tpBps && pos.Unrealized >= tpUSD
}
