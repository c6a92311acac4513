package risk

import (
	"testing"
	"time"

	"github.com/iojason/hl-bots/internal/position"
)

// losingLong returns a long position down the given basis points.
func losingLong(bps float64) position.Position {
	entry := 1000.0
	mark := entry * (1 - bps/10000)
	return position.Position{Instrument: "ETH", Qty: 1, AvgEntry: entry, MarkPrice: mark, Unrealized: mark - entry}
}

func winningLong(bps, usd float64) position.Position {
	entry := 1000.0
	mark := entry * (1 + bps/10000)
	return position.Position{Instrument: "ETH", Qty: 1, AvgEntry: entry, MarkPrice: mark, Unrealized: usd}
}

func newTestMachine(t *testing.T) (*Machine, *time.Time) {
	t.Helper()
	m := NewMachine(DefaultConfig())
	now := time.Now()
	m.now = func() time.Time { return now }
	return m, &now
}

func TestHealthyPositionNoAction(t *testing.T) {
	m, _ := newTestMachine(t)
	act, err := m.Evaluate(losingLong(5), 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if act.Kind != ActionNone || act.Phase != Healthy {
		t.Fatalf("expected healthy no-op, got %+v", act)
	}
}

func TestUnderwaterEntryRecordsTimestampOnce(t *testing.T) {
	m, now := newTestMachine(t)
	if _, err := m.Evaluate(losingLong(25), 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st := m.states["ETH"]
	first := st.underwaterSince
	if first.IsZero() {
		t.Fatalf("expected underwater timestamp recorded")
	}

	*now = now.Add(30 * time.Second)
	if _, err := m.Evaluate(losingLong(40), 0, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.underwaterSince.Equal(first) {
		t.Fatalf("underwater timestamp must not move on later ticks")
	}
}

func TestPartialBailoutTiming(t *testing.T) {
	m, now := newTestMachine(t)

	// 35bps underwater continuously; partial threshold is 30bps after 90s.
	if act, _ := m.Evaluate(losingLong(35), 0, 0); act.Kind != ActionNone {
		t.Fatalf("no action expected at entry, got %+v", act)
	}
	*now = now.Add(95 * time.Second)
	act, err := m.Evaluate(losingLong(35), 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if act.Kind != ActionPartialExit {
		t.Fatalf("expected partial exit after 95s at 35bps, got %+v", act)
	}
	if act.Fraction != 0.33 {
		t.Fatalf("expected configured fraction 0.33, got %.2f", act.Fraction)
	}
	m.Ack("ETH")

	// Same episode must not retrigger the partial once placed.
	*now = now.Add(10 * time.Second)
	if act, _ := m.Evaluate(losingLong(35), 0, 0); act.Kind != ActionNone {
		t.Fatalf("partial retriggered within one episode: %+v", act)
	}
}

func TestFullBailoutAfterMaxDuration(t *testing.T) {
	m, now := newTestMachine(t)

	m.Evaluate(losingLong(70), 0, 0)
	*now = now.Add(95 * time.Second)
	if act, _ := m.Evaluate(losingLong(70), 0, 0); act.Kind != ActionPartialExit {
		t.Fatalf("expected partial first, got %+v", act)
	}
	m.Ack("ETH")
	*now = now.Add(90 * time.Second) // 185s total
	act, _ := m.Evaluate(losingLong(70), 0, 0)
	if act.Kind != ActionFullExit || act.Phase != FullBailout {
		t.Fatalf("expected full bailout after 180s at 70bps, got %+v", act)
	}
	m.Ack("ETH")

	// Full is terminal for the episode; no backward transition.
	*now = now.Add(10 * time.Second)
	if act, _ := m.Evaluate(losingLong(70), 0, 0); act.Kind != ActionNone || act.Phase != FullBailout {
		t.Fatalf("expected terminal full phase, got %+v", act)
	}
}

func TestRecoveryResetsToHealthy(t *testing.T) {
	m, now := newTestMachine(t)

	m.Evaluate(losingLong(35), 0, 0)
	*now = now.Add(95 * time.Second)
	if act, _ := m.Evaluate(losingLong(35), 0, 0); act.Kind != ActionPartialExit {
		t.Fatalf("expected partial, got %+v", act)
	}

	// Recovery clears the episode; a new drawdown starts a fresh clock and
	// may trigger a new partial.
	if act, _ := m.Evaluate(losingLong(5), 0, 0); act.Phase != Healthy {
		t.Fatalf("expected reset to healthy, got %+v", act)
	}
	m.Evaluate(losingLong(35), 0, 0)
	*now = now.Add(95 * time.Second)
	if act, _ := m.Evaluate(losingLong(35), 0, 0); act.Kind != ActionPartialExit {
		t.Fatalf("expected partial in new episode, got %+v", act)
	}
}

func TestFlatPositionResets(t *testing.T) {
	m, now := newTestMachine(t)
	m.Evaluate(losingLong(70), 0, 0)
	*now = now.Add(200 * time.Second)
	m.Evaluate(losingLong(70), 0, 0)

	if act, _ := m.Evaluate(position.Position{Instrument: "ETH"}, 0, 0); act.Phase != Healthy {
		t.Fatalf("expected reset on flat position, got %+v", act)
	}
}

func TestBailoutReemittedUntilAcked(t *testing.T) {
	m, now := newTestMachine(t)

	m.Evaluate(losingLong(70), 0, 0)
	*now = now.Add(185 * time.Second)
	if act, _ := m.Evaluate(losingLong(70), 0, 0); act.Kind != ActionFullExit {
		t.Fatalf("expected full exit, got %+v", act)
	}

	// The exit was not placed (backpressure, every strategy rejected);
	// without an ack the machine must keep demanding it.
	*now = now.Add(time.Second)
	if act, _ := m.Evaluate(losingLong(70), 0, 0); act.Kind != ActionFullExit {
		t.Fatalf("deferred full exit must re-fire, got %+v", act)
	}

	m.Ack("ETH")
	*now = now.Add(time.Second)
	if act, _ := m.Evaluate(losingLong(70), 0, 0); act.Kind != ActionNone || act.Phase != FullBailout {
		t.Fatalf("acked exit must stop re-firing, got %+v", act)
	}
}

func TestPartialReemittedUntilAcked(t *testing.T) {
	m, now := newTestMachine(t)

	m.Evaluate(losingLong(35), 0, 0)
	*now = now.Add(95 * time.Second)
	if act, _ := m.Evaluate(losingLong(35), 0, 0); act.Kind != ActionPartialExit {
		t.Fatalf("expected partial exit, got %+v", act)
	}
	*now = now.Add(time.Second)
	act, _ := m.Evaluate(losingLong(35), 0, 0)
	if act.Kind != ActionPartialExit || act.Fraction != 0.33 {
		t.Fatalf("deferred partial must re-fire with its fraction, got %+v", act)
	}
	m.Ack("ETH")
	*now = now.Add(time.Second)
	if act, _ := m.Evaluate(losingLong(35), 0, 0); act.Kind != ActionNone {
		t.Fatalf("acked partial must not re-fire, got %+v", act)
	}
}

func TestZeroValueConfigSanitizesTakeProfit(t *testing.T) {
	m := NewMachine(Config{Enhanced: true})
	now := time.Now()
	m.now = func() time.Time { return now }

	// Breakeven position: zero thresholds would fire take-profit every tick.
	flat := position.Position{Instrument: "ETH", Qty: 1, AvgEntry: 1000, MarkPrice: 1000}
	if act, _ := m.Evaluate(flat, 0, 0); act.Kind != ActionNone {
		t.Fatalf("breakeven position must not take profit, got %+v", act)
	}
	if m.cfg.TakeProfitBps != 30 || m.cfg.TakeProfitUSD != 50 {
		t.Fatalf("expected defaulted thresholds, got %.0f/%.0f", m.cfg.TakeProfitBps, m.cfg.TakeProfitUSD)
	}
}

func TestTakeProfitRequiresBothThresholds(t *testing.T) {
	m, _ := newTestMachine(t)

	// 40bps but only $10 unrealized: below the USD threshold.
	if act, _ := m.Evaluate(winningLong(40, 10), 0, 0); act.Kind != ActionNone {
		t.Fatalf("expected no action below USD threshold, got %+v", act)
	}
	// Both thresholds met.
	if act, _ := m.Evaluate(winningLong(40, 60), 0, 0); act.Kind != ActionTakeProfit {
		t.Fatalf("expected take-profit, got %+v", act)
	}
}

func TestTakeProfitPerInstrumentOverride(t *testing.T) {
	m, _ := newTestMachine(t)
	// Default bps threshold is 30; the override lowers it to 20.
	if act, _ := m.Evaluate(winningLong(25, 60), 20, 50); act.Kind != ActionTakeProfit {
		t.Fatalf("expected take-profit with override threshold, got %+v", act)
	}
	if act, _ := m.Evaluate(winningLong(25, 60), 0, 0); act.Kind == ActionTakeProfit {
		t.Fatalf("25bps must not trigger at the 30bps default")
	}
}

func TestPhaseInvariantViolationSurfaced(t *testing.T) {
	m, _ := newTestMachine(t)
	m.states["ETH"] = &positionState{phase: PartialBailout} // missing timestamp
	if _, err := m.Evaluate(losingLong(35), 0, 0); err == nil {
		t.Fatalf("expected invariant violation error")
	}
}
