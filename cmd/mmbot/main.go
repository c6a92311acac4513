package main

import (
	"context"
	"errors"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/iojason/hl-bots/internal/config"
	"github.com/iojason/hl-bots/internal/engine"
	"github.com/iojason/hl-bots/internal/exchange"
	"github.com/iojason/hl-bots/internal/execution"
	"github.com/iojason/hl-bots/internal/flow"
	"github.com/iojason/hl-bots/internal/journal"
	"github.com/iojason/hl-bots/internal/market"
	"github.com/iojason/hl-bots/internal/metrics"
	"github.com/iojason/hl-bots/internal/position"
	"github.com/iojason/hl-bots/internal/quote"
	"github.com/iojason/hl-bots/internal/ratelimit"
	"github.com/iojason/hl-bots/internal/risk"
	"github.com/iojason/hl-bots/internal/util"
)

func main() {
	var (
		configPath  = flag.String("config", "internal/config/config.yaml", "path to the YAML config")
		liveData    = flag.Bool("live", false, "stream real market data over websocket instead of the synthetic book")
		journalPath = flag.String("journal", "data/fills.jsonl", "fill journal path, empty disables")
	)
	flag.Parse()

	// Credentials come from the environment; a .env file is a convenience,
	// its absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := util.NewLogger("info")
		boot.Fatal().Err(err).Msg("load config")
	}
	cfg.ApplyEnv()

	log := util.NewLogger(cfg.App.LogLevel)

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	limiter := ratelimit.New(cfg.RateLimit.PrimaryPerMin, cfg.RateLimit.FallbackPerMin)
	books := exchange.NewStore()

	// Order placement stays paper-side: fills come from the deterministic
	// venue while market data may be live.
	venueStore := books
	if *liveData {
		venueStore = exchange.NewStore()
	}
	venue := exchange.NewStub(cfg.Exchange.Instruments, 100, venueStore)

	var trades <-chan market.Fill
	if *liveData {
		feed := exchange.NewFeed(
			cfg.Exchange.Instruments,
			books,
			util.Component(log, "feed"),
			exchange.WithURL(feedURL(cfg)),
		)
		trades = feed.Fills()
		go func() {
			if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("feed stopped")
				cancel()
			}
		}()
	} else {
		go func() { _ = venue.Run(ctx) }()
	}

	var rec engine.FillRecorder
	if *journalPath != "" {
		w, err := journal.NewWriter(*journalPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *journalPath).Msg("open journal")
		}
		defer w.Close()
		rec = w
	}

	fees := exchange.NewFeeCache(nil, limiter, cfg.RateLimit.Weights.Fees)
	meta := exchange.LoadMeta(nil, limiter, cfg.RateLimit.Weights.Meta)

	eng := engine.New(cfg, engine.Deps{
		Primary: books,
		Venue:   venue,
		Trades:  trades,
		Limiter: limiter,
		Flows:   flow.NewAggregator(flowConfig(cfg)),
		Quotes:  quote.NewEngine(quoteConfig(cfg), meta, fees),
		Risk:    risk.NewMachine(riskConfig(cfg)),
		Exits: risk.NewExitExecutor(venue, limiter, cfg.RateLimit.Weights.Order,
			util.Component(log, "exits")),
		Exec: execution.NewExecutor(venue, limiter, execution.Weights{
			Order:  cfg.RateLimit.Weights.Order,
			Cancel: cfg.RateLimit.Weights.Cancel,
		}, util.Component(log, "exec")),
		Positions: position.NewBook(),
		Journal:   rec,
		Log:       util.Component(log, "engine"),
	})

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("engine stopped")
	}
	log.Info().Msg("shutdown complete")
}
