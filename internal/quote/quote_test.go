package quote

import (
	"math"
	"testing"
	"time"

	"github.com/iojason/hl-bots/internal/exchange"
	"github.com/iojason/hl-bots/internal/flow"
	"github.com/iojason/hl-bots/internal/market"
	"github.com/iojason/hl-bots/internal/position"
)

type flatFees struct{ maker float64 }

func (f flatFees) Rates() exchange.FeeRates {
	return exchange.FeeRates{MakerBps: f.maker, TakerBps: 3 * f.maker}
}

func testMeta() exchange.MetaTable {
	return exchange.MetaTable{
		"ETH": {Instrument: "ETH", TickSize: 0.1, SizeStep: 0.001},
	}
}

func wideBook(bid, ask float64) market.BookSnapshot {
	return market.BookSnapshot{
		Instrument: "ETH",
		BestBid:    bid, BestAsk: ask,
		BidSize: 10, AskSize: 10,
		BidVolume: 50, AskVolume: 50,
		Ts: time.Now(), Source: market.SourcePrimary,
	}
}

func newTestEngine(cfg Config) *Engine {
	return NewEngine(cfg, testMeta(), flatFees{maker: 0.5})
}

func TestDecideQuotesBothSidesInsideSpread(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dynamic.Enabled = false
	e := newTestEngine(cfg)

	book := wideBook(1000, 1001) // 10bps spread, 10 ticks wide
	d, ok := e.Decide(book, market.FlowSignal{Confidence: 1}, flow.ModeBoth, position.Position{}, 10000, 0)
	if !ok {
		t.Fatalf("expected a decision")
	}
	if d.Bid == nil || d.Ask == nil {
		t.Fatalf("expected both sides, got %+v", d)
	}
	if math.Abs(d.Bid.Price-1000.1) > 1e-9 {
		t.Fatalf("expected bid one tick inside at 1000.1, got %.4f", d.Bid.Price)
	}
	if math.Abs(d.Ask.Price-1000.9) > 1e-9 {
		t.Fatalf("expected ask one tick inside at 1000.9, got %.4f", d.Ask.Price)
	}
	if d.Bid.Size <= 0 {
		t.Fatalf("expected positive size, got %.6f", d.Bid.Size)
	}
}

func TestDecideQuotesAtTouchOnTightSpread(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dynamic.Enabled = false
	cfg.MinSpreadBps = 0.1
	e := NewEngine(cfg, testMeta(), nil)

	book := wideBook(1000, 1000.2) // 2 ticks
	d, ok := e.Decide(book, market.FlowSignal{Confidence: 1}, flow.ModeBoth, position.Position{}, 10000, 0)
	if !ok {
		t.Fatalf("expected a decision")
	}
	if math.Abs(d.Bid.Price-1000) > 1e-9 || math.Abs(d.Ask.Price-1000.2) > 1e-9 {
		t.Fatalf("expected quotes at the touch, got bid %.4f ask %.4f", d.Bid.Price, d.Ask.Price)
	}
}

func TestDecideRejectsTightSpread(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dynamic.Enabled = false
	cfg.MinSpreadBps = 50
	e := newTestEngine(cfg)

	book := wideBook(1000, 1001) // 10bps < 50bps floor
	if _, ok := e.Decide(book, market.FlowSignal{}, flow.ModeBoth, position.Position{}, 10000, 0); ok {
		t.Fatalf("expected rejection below minimum spread")
	}
}

func TestDecideFeeBreakEvenFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dynamic.Enabled = false
	cfg.MinSpreadBps = 0.1
	// 10bps maker fee makes break-even 20bps; the 10bps book must be skipped.
	e := NewEngine(cfg, testMeta(), flatFees{maker: 10})

	book := wideBook(1000, 1001)
	if _, ok := e.Decide(book, market.FlowSignal{}, flow.ModeBoth, position.Position{}, 10000, 0); ok {
		t.Fatalf("expected fee break-even to suppress the quote")
	}
}

func TestDecideSingleSidedSuppressesSide(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dynamic.Enabled = false
	e := newTestEngine(cfg)

	book := wideBook(1000, 1001)
	d, ok := e.Decide(book, market.FlowSignal{Confidence: 1}, flow.ModeBidOnly, position.Position{}, 10000, 0)
	if !ok {
		t.Fatalf("expected a decision")
	}
	if d.Bid == nil || d.Ask != nil {
		t.Fatalf("expected bid only, got %+v", d)
	}
}

func TestDecideCoinCapBindsSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dynamic.Enabled = false
	cfg.MaxCoinNotionalUSD = 100
	e := newTestEngine(cfg)

	pos := position.Position{Instrument: "ETH", Qty: 0.1, AvgEntry: 1000, MarkPrice: 1000} // notional 100
	book := wideBook(1000, 1001)
	if _, ok := e.Decide(book, market.FlowSignal{Confidence: 1}, flow.ModeBoth, pos, 10000, 100); ok {
		t.Fatalf("expected no quote at the instrument cap")
	}
}

func TestDecidePortfolioCapBindsSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dynamic.Enabled = false
	cfg.MaxTotalNotionalUSD = 200
	e := newTestEngine(cfg)

	book := wideBook(1000, 1001)
	if _, ok := e.Decide(book, market.FlowSignal{Confidence: 1}, flow.ModeBoth, position.Position{}, 10000, 250); ok {
		t.Fatalf("expected no quote above the portfolio cap")
	}
}

func TestDecideChurnGuardSuppressesFastReplace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dynamic.Enabled = false
	cfg.MinReplace = 500 * time.Millisecond
	e := newTestEngine(cfg)
	now := time.Now()
	e.now = func() time.Time { return now }

	book := wideBook(1000, 1001)
	if _, ok := e.Decide(book, market.FlowSignal{Confidence: 1}, flow.ModeBoth, position.Position{}, 10000, 0); !ok {
		t.Fatalf("expected first decision to pass")
	}

	// Price moved plenty but the interval has not elapsed.
	now = now.Add(100 * time.Millisecond)
	book2 := wideBook(1010, 1011)
	if _, ok := e.Decide(book2, market.FlowSignal{Confidence: 1}, flow.ModeBoth, position.Position{}, 10000, 0); ok {
		t.Fatalf("expected suppression within the replace interval")
	}

	// After the interval the same move goes through.
	now = now.Add(time.Second)
	if _, ok := e.Decide(book2, market.FlowSignal{Confidence: 1}, flow.ModeBoth, position.Position{}, 10000, 0); !ok {
		t.Fatalf("expected replace after the interval elapsed")
	}
}

func TestDecideChurnGuardSuppressesSmallMove(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dynamic.Enabled = false
	cfg.MinReplace = 0
	cfg.MinTickMove = 5 // 0.5 at tick 0.1
	e := newTestEngine(cfg)
	now := time.Now()
	e.now = func() time.Time { return now }

	if _, ok := e.Decide(wideBook(1000, 1001), market.FlowSignal{Confidence: 1}, flow.ModeBoth, position.Position{}, 10000, 0); !ok {
		t.Fatalf("expected first decision to pass")
	}
	now = now.Add(time.Second)
	// 0.2 move is below the 0.5 threshold.
	if _, ok := e.Decide(wideBook(1000.2, 1001.2), market.FlowSignal{Confidence: 1}, flow.ModeBoth, position.Position{}, 10000, 0); ok {
		t.Fatalf("expected suppression for sub-threshold move")
	}
	now = now.Add(time.Second)
	if _, ok := e.Decide(wideBook(1002, 1003), market.FlowSignal{Confidence: 1}, flow.ModeBoth, position.Position{}, 10000, 0); !ok {
		t.Fatalf("expected replace for above-threshold move")
	}
}

func TestDynamicFloorRecompute(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dynamic = DynamicSpread{Enabled: true, Percentile: 0.5, HistorySize: 100, RecomputeTicks: 10}
	cfg.MinSpreadBps = 0.1
	cfg.MinReplace = 0
	cfg.MinTickMove = 0
	e := NewEngine(cfg, testMeta(), nil)
	now := time.Now()
	e.now = func() time.Time { return now }

	// Feed 10 ticks of ~100bps spreads so the median floor lands near 100.
	for i := 0; i < 10; i++ {
		e.Decide(wideBook(1000, 1010), market.FlowSignal{Confidence: 1}, flow.ModeBoth, position.Position{}, 10000, 0)
		now = now.Add(time.Second)
	}
	st := e.states["ETH"]
	if st.dynamicFloor < 90 || st.dynamicFloor > 110 {
		t.Fatalf("expected dynamic floor near 100bps, got %.2f", st.dynamicFloor)
	}

	// A 10bps book is now below the dynamic floor.
	if _, ok := e.Decide(wideBook(1000, 1001), market.FlowSignal{Confidence: 1}, flow.ModeBoth, position.Position{}, 10000, 0); ok {
		t.Fatalf("expected dynamic floor to suppress the quote")
	}
}
