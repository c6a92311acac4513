package main

import (
	"time"

	"github.com/iojason/hl-bots/internal/config"
	"github.com/iojason/hl-bots/internal/exchange"
	"github.com/iojason/hl-bots/internal/flow"
	"github.com/iojason/hl-bots/internal/quote"
	"github.com/iojason/hl-bots/internal/risk"
)

// feedURL resolves the websocket endpoint: explicit config wins, otherwise
// the testnet flag picks between the published endpoints.
func feedURL(cfg *config.Config) string {
	if cfg.Exchange.WSURL != "" {
		return cfg.Exchange.WSURL
	}
	if cfg.Exchange.Testnet {
		return exchange.TestnetWSURL
	}
	return exchange.MainnetWSURL
}

func flowConfig(cfg *config.Config) flow.Config {
	f := cfg.Flow
	return flow.Config{
		ShortWindow:  time.Duration(f.ShortWindowSecs) * time.Second,
		MediumWindow: time.Duration(f.MediumWindowSecs) * time.Second,
		LongWindow:   time.Duration(f.LongWindowSecs) * time.Second,
		Weights: flow.Weights{
			BookImbalance: f.Weights.BookImbalance,
			NetPressure:   f.Weights.NetPressure,
			Short:         f.Weights.Short,
			Medium:        f.Weights.Medium,
			Long:          f.Weights.Long,
		},
		BiasThreshold:        f.BiasThreshold,
		ConfidenceSaturation: f.ConfidenceSaturation,
		CacheTTL:             time.Duration(f.CacheTTLSecs) * time.Second,
		HalfLife:             time.Duration(f.HalfLifeSecs) * time.Second,
		OneSidedRatio:        f.OneSidedRatio,
		SwitchCooldown:       f.SwitchCooldownTicks,
	}
}

func quoteConfig(cfg *config.Config) quote.Config {
	q := cfg.Quote
	return quote.Config{
		MinSpreadBps: q.MinSpreadBps,
		Dynamic: quote.DynamicSpread{
			Enabled:        q.Dynamic.Enabled,
			Percentile:     q.Dynamic.Percentile,
			HistorySize:    q.Dynamic.HistorySize,
			RecomputeTicks: q.Dynamic.RecomputeTicks,
		},
		SizeNotionalUSD:     q.SizeNotionalUSD,
		MaxCoinNotionalUSD:  q.MaxCoinNotionalUSD,
		MaxTotalNotionalUSD: q.MaxTotalNotionalUSD,
		Leverage:            q.Leverage,
		MarginFraction:      q.MarginFraction,
		MinReplace:          time.Duration(q.MinReplaceMs) * time.Millisecond,
		MinTickMove:         q.MinTickMove,
	}
}

func riskConfig(cfg *config.Config) risk.Config {
	r := cfg.Risk
	return risk.Config{
		UnderwaterBps:   r.UnderwaterBps,
		PartialBps:      r.PartialBps,
		PartialAfter:    time.Duration(r.PartialAfterSecs) * time.Second,
		PartialFraction: r.PartialFraction,
		FullBps:         r.FullBps,
		FullAfter:       time.Duration(r.FullAfterSecs) * time.Second,
		TakeProfitBps:   r.TakeProfitBps,
		TakeProfitUSD:   r.TakeProfitUSD,
		Enhanced:        r.Enhanced,
	}
}
