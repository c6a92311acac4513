package risk

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/iojason/hl-bots/internal/execution"
	"github.com/iojason/hl-bots/internal/metrics"
	"github.com/iojason/hl-bots/internal/position"
	"github.com/iojason/hl-bots/internal/ratelimit"
)

// ExitPlacer is the slice of the venue contract exits need. The order is
// always reduce-only; the variant tells the venue how to price it.
type ExitPlacer interface {
	PlaceMarketExit(ctx context.Context, o execution.Order, variant execution.ExitVariant) error
}

// ErrExhausted reports that every exit strategy was rejected in one sweep.
// The position stays open; the next eligible tick retries.
var ErrExhausted = errors.New("all exit strategies rejected")

// enhancedSequence is the fixed strategy order; execution stops at the
// first acceptance.
var enhancedSequence = []execution.ExitVariant{
	execution.ExitIOCBypass,
	execution.ExitMarket,
	execution.ExitGTCBypass,
	execution.ExitAggressiveLimit,
}

// ExitExecutor closes positions through the venue behind rate-limiter
// admission on the order channel.
type ExitExecutor struct {
	venue   ExitPlacer
	limiter *ratelimit.Limiter
	weight  float64
	log     zerolog.Logger
}

// NewExitExecutor wires the venue and limiter.
func NewExitExecutor(venue ExitPlacer, limiter *ratelimit.Limiter, orderWeight float64, log zerolog.Logger) *ExitExecutor {
	if orderWeight <= 0 {
		orderWeight = 1
	}
	return &ExitExecutor{venue: venue, limiter: limiter, weight: orderWeight, log: log}
}

// Close exits fraction of the position (1 closes it fully). In enhanced mode
// the strategy sequence runs in its fixed order until one is accepted; at
// most one full sweep per call. Without budget the attempt is deferred via
// execution.ErrBackpressure rather than treated as failure.
func (x *ExitExecutor) Close(ctx context.Context, pos position.Position, fraction float64, enhanced bool) error {
	if pos.Flat() {
		return nil
	}
	if fraction <= 0 || fraction > 1 {
		return fmt.Errorf("exit fraction %.2f out of range", fraction)
	}
	side := execution.Sell
	if pos.IsShort() {
		side = execution.Buy
	}
	closeQty := math.Abs(pos.Qty) * fraction

	sequence := enhancedSequence
	if !enhanced {
		sequence = []execution.ExitVariant{execution.ExitMarket}
	}

	for _, variant := range sequence {
		if !x.limiter.TryAdmit(ratelimit.Primary, x.weight) {
			metrics.RateLimitRejects.WithLabelValues(string(ratelimit.Primary), "exit").Inc()
			return execution.ErrBackpressure
		}
		metrics.TakeProfitAttempts.WithLabelValues(pos.Instrument, string(variant)).Inc()

		// The venue prices bypass and aggressive-limit variants itself
		// off its reference price; reduce-only guards against flipping
		// through zero on a stale position read.
		o := execution.NewOrder(pos.Instrument, side, closeQty, 0, variant.TIF())
		o.ReduceOnly = true

		err := x.venue.PlaceMarketExit(ctx, o, variant)
		if err == nil {
			x.log.Info().
				Str("sym", pos.Instrument).
				Str("variant", string(variant)).
				Str("side", string(side)).
				Float64("qty", closeQty).
				Float64("fraction", fraction).
				Msg("exit accepted")
			return nil
		}
		if !execution.IsRejection(err) {
			return fmt.Errorf("exit %s: %w", variant, err)
		}
		x.log.Debug().Str("sym", pos.Instrument).Str("variant", string(variant)).Err(err).Msg("exit variant rejected")
	}

	metrics.TakeProfitExhausted.WithLabelValues(pos.Instrument).Inc()
	x.log.Error().
		Str("sym", pos.Instrument).
		Float64("qty", pos.Qty).
		Float64("unrealized", pos.Unrealized).
		Msg("all exit strategies rejected, position remains open")
	return ErrExhausted
}
