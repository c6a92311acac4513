package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Control loop ticks processed"},
		[]string{"symbol"},
	)
	FillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fills_total", Help: "Executions against our own orders"},
		[]string{"symbol"},
	)
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trades_total", Help: "Market trade prints consumed from the feed"},
		[]string{"symbol"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side"},
	)
	OrderRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_rejects_total", Help: "Orders rejected by the venue"},
		[]string{"symbol"},
	)
	RateLimitRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rate_limit_rejects_total", Help: "Operations refused by admission control"},
		[]string{"channel", "op"},
	)
	RateLimitUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "rate_limit_utilization", Help: "Trailing-minute ledger utilization per channel"},
		[]string{"channel"},
	)
	BailoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bailouts_total", Help: "Bailout exits triggered"},
		[]string{"symbol", "phase"},
	)
	TakeProfitAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "take_profit_attempts_total", Help: "Take-profit exit attempts by strategy variant"},
		[]string{"symbol", "variant"},
	)
	TakeProfitExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "take_profit_exhausted_total", Help: "Ticks where every exit strategy was rejected"},
		[]string{"symbol"},
	)
	FeedFailovers = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_failovers_total", Help: "Book reads served by the fallback source"},
		[]string{"symbol"},
	)
	QuotesSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "quotes_suppressed_total", Help: "Replace intents suppressed by the churn guard"},
		[]string{"symbol", "reason"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal, FillsTotal, TradesTotal, OrdersTotal, OrderRejects,
		RateLimitRejects, RateLimitUtilization,
		BailoutsTotal, TakeProfitAttempts, TakeProfitExhausted,
		FeedFailovers, QuotesSuppressed,
	)
}

// Serve exposes /metrics on addr and returns the server for shutdown.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
