package execution

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/iojason/hl-bots/internal/metrics"
	"github.com/iojason/hl-bots/internal/ratelimit"
)

// Placer is the slice of the venue contract the executor needs.
type Placer interface {
	PlaceOrder(ctx context.Context, o Order) error
	CancelOrder(ctx context.Context, symbol, id string) error
}

// Weights carries the ledger cost of each operation kind.
type Weights struct {
	Order  float64
	Cancel float64
}

// DefaultWeights returns the documented operation costs.
func DefaultWeights() Weights { return Weights{Order: 1, Cancel: 1} }

// Executor submits intents to a venue behind rate-limiter admission.
// Admission happens on the primary channel; order placement never fails
// over to the fallback channel, a refusal means skip this tick.
type Executor struct {
	venue   Placer
	limiter *ratelimit.Limiter
	weights Weights
	log     zerolog.Logger
}

// NewExecutor wires a venue, a limiter, and a logger.
func NewExecutor(venue Placer, limiter *ratelimit.Limiter, weights Weights, log zerolog.Logger) *Executor {
	if weights.Order <= 0 {
		weights.Order = 1
	}
	if weights.Cancel <= 0 {
		weights.Cancel = 1
	}
	return &Executor{venue: venue, limiter: limiter, weights: weights, log: log}
}

// Submit places an order if the rate limiter admits it. ErrBackpressure
// means no budget this tick; venue rejections pass through as *Rejection.
func (e *Executor) Submit(ctx context.Context, o Order) error {
	if !e.limiter.TryAdmit(ratelimit.Primary, e.weights.Order) {
		metrics.RateLimitRejects.WithLabelValues(string(ratelimit.Primary), "order").Inc()
		return ErrBackpressure
	}
	if err := e.venue.PlaceOrder(ctx, o); err != nil {
		if IsRejection(err) {
			metrics.OrderRejects.WithLabelValues(o.Symbol).Inc()
			e.log.Debug().Str("sym", o.Symbol).Str("side", string(o.Side)).Err(err).Msg("order rejected")
		}
		return err
	}
	metrics.OrdersTotal.WithLabelValues(o.Symbol, string(o.Side)).Inc()
	e.log.Info().
		Str("sym", o.Symbol).
		Str("side", string(o.Side)).
		Str("tif", string(o.TIF)).
		Float64("qty", o.Qty).
		Float64("px", o.Price).
		Bool("reduce_only", o.ReduceOnly).
		Msg("order submitted")
	return nil
}

// SubmitBatch places a group of orders under one batched admission charge
// (see ratelimit.BatchWeight). Venue rejections are per-order and reported
// in the returned slice, index-aligned with orders; backpressure and
// transport failures abort the whole batch.
func (e *Executor) SubmitBatch(ctx context.Context, orders []Order) ([]error, error) {
	if len(orders) == 0 {
		return nil, nil
	}
	if !e.limiter.TryAdmit(ratelimit.Primary, ratelimit.BatchWeight(len(orders))) {
		metrics.RateLimitRejects.WithLabelValues(string(ratelimit.Primary), "batch").Inc()
		return nil, ErrBackpressure
	}
	results := make([]error, len(orders))
	for i, o := range orders {
		err := e.venue.PlaceOrder(ctx, o)
		if err != nil {
			if !IsRejection(err) {
				return nil, err
			}
			metrics.OrderRejects.WithLabelValues(o.Symbol).Inc()
			e.log.Debug().Str("sym", o.Symbol).Str("side", string(o.Side)).Err(err).Msg("order rejected")
			results[i] = err
			continue
		}
		metrics.OrdersTotal.WithLabelValues(o.Symbol, string(o.Side)).Inc()
		e.log.Info().
			Str("sym", o.Symbol).
			Str("side", string(o.Side)).
			Str("tif", string(o.TIF)).
			Float64("qty", o.Qty).
			Float64("px", o.Price).
			Msg("order submitted")
	}
	return results, nil
}

// Cancel removes a resting order if the limiter admits the call.
func (e *Executor) Cancel(ctx context.Context, symbol, id string) error {
	if !e.limiter.TryAdmit(ratelimit.Primary, e.weights.Cancel) {
		metrics.RateLimitRejects.WithLabelValues(string(ratelimit.Primary), "cancel").Inc()
		return ErrBackpressure
	}
	return e.venue.CancelOrder(ctx, symbol, id)
}
