package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/iojason/hl-bots/internal/market"
	"github.com/iojason/hl-bots/internal/metrics"
)

const (
	// TestnetWSURL is the Hyperliquid testnet websocket endpoint.
	TestnetWSURL = "wss://api.hyperliquid-testnet.xyz/ws"
	// MainnetWSURL is the Hyperliquid mainnet websocket endpoint.
	MainnetWSURL = "wss://api.hyperliquid.xyz/ws"

	readDeadline  = 30 * time.Second
	heartbeatEach = 25 * time.Second
)

// Feed consumes Hyperliquid book and trade streams and publishes snapshots
// into a Store and fills onto a channel. It reconnects forever with capped
// backoff; outbound subscribe traffic is paced to stay inside the venue's
// per-connection message budget.
type Feed struct {
	url         string
	instruments []string
	store       *Store
	fills       chan market.Fill
	log         zerolog.Logger
	subLimiter  *rate.Limiter
}

// FeedOption configures Feed construction.
type FeedOption func(*Feed)

// WithURL overrides the websocket endpoint.
func WithURL(url string) FeedOption {
	return func(f *Feed) {
		if url != "" {
			f.url = url
		}
	}
}

// NewFeed builds a feed for the given instruments writing into store.
func NewFeed(instruments []string, store *Store, log zerolog.Logger, opts ...FeedOption) *Feed {
	f := &Feed{
		url:         TestnetWSURL,
		instruments: instruments,
		store:       store,
		fills:       make(chan market.Fill, 1024),
		log:         log,
		// 10 messages/sec with small bursts keeps subscribe storms after
		// reconnect inside the venue's websocket message limit.
		subLimiter: rate.NewLimiter(rate.Limit(10), 20),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fills exposes the fill stream.
func (f *Feed) Fills() <-chan market.Fill { return f.fills }

// Run consumes the stream until ctx is cancelled, reconnecting on failure.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := f.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.Warn().Err(err).Msg("feed disconnected, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
	}
}

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type wsLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
}

type wsBook struct {
	Coin   string      `json:"coin"`
	Levels [][]wsLevel `json:"levels"`
	Time   int64       `json:"time"`
}

type wsTrade struct {
	Coin string `json:"coin"`
	Px   string `json:"px"`
	Sz   string `json:"sz"`
	Side string `json:"side"` // "B" aggressive buy, "A" aggressive sell
	Time int64  `json:"time"`
}

func (f *Feed) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()

	f.log.Info().Str("url", f.url).Strs("instruments", f.instruments).Msg("connected market data feed")

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	if err := f.subscribe(ctx, conn); err != nil {
		return err
	}

	heartbeat := time.NewTicker(heartbeatEach)
	defer heartbeat.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-heartbeat.C:
				_ = conn.WriteJSON(map[string]string{"method": "ping"})
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var env wsEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

		switch env.Channel {
		case "l2Book":
			f.handleBook(env.Data)
		case "trades":
			f.handleTrades(ctx, env.Data)
		case "subscriptionResponse", "pong":
		default:
		}
	}
}

func (f *Feed) subscribe(ctx context.Context, conn *websocket.Conn) error {
	for _, coin := range f.instruments {
		for _, typ := range []string{"l2Book", "trades"} {
			if err := f.subLimiter.Wait(ctx); err != nil {
				return err
			}
			req := map[string]any{
				"method":       "subscribe",
				"subscription": map[string]string{"type": typ, "coin": coin},
			}
			if err := conn.WriteJSON(req); err != nil {
				return fmt.Errorf("subscribe %s/%s: %w", typ, coin, err)
			}
		}
	}
	return nil
}

func (f *Feed) handleBook(raw json.RawMessage) {
	var book wsBook
	if err := json.Unmarshal(raw, &book); err != nil || book.Coin == "" {
		return
	}
	if len(book.Levels) != 2 || len(book.Levels[0]) == 0 || len(book.Levels[1]) == 0 {
		return
	}
	bids, asks := book.Levels[0], book.Levels[1]

	snap := market.BookSnapshot{
		Instrument: book.Coin,
		BestBid:    parseFloat(bids[0].Px),
		BestAsk:    parseFloat(asks[0].Px),
		BidSize:    parseFloat(bids[0].Sz),
		AskSize:    parseFloat(asks[0].Sz),
		Ts:         time.Now(),
		Source:     market.SourcePrimary,
	}
	for _, lvl := range bids {
		snap.BidVolume += parseFloat(lvl.Sz)
	}
	for _, lvl := range asks {
		snap.AskVolume += parseFloat(lvl.Sz)
	}
	if !snap.Valid() {
		return
	}
	f.store.Update(snap)
}

func (f *Feed) handleTrades(ctx context.Context, raw json.RawMessage) {
	var trades []wsTrade
	if err := json.Unmarshal(raw, &trades); err != nil {
		return
	}
	for _, tr := range trades {
		if tr.Coin == "" {
			continue
		}
		side := 1
		if tr.Side == "A" {
			side = -1
		}
		fill := market.Fill{
			Instrument: tr.Coin,
			Price:      parseFloat(tr.Px),
			Qty:        parseFloat(tr.Sz),
			Side:       side,
			Ts:         time.UnixMilli(tr.Time),
		}
		if fill.Price <= 0 || fill.Qty <= 0 {
			continue
		}
		select {
		case f.fills <- fill:
			metrics.TradesTotal.WithLabelValues(tr.Coin).Inc()
		case <-ctx.Done():
			return
		default:
			// Drop instead of blocking the read loop when the consumer lags.
		}
	}
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
