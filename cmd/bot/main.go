package main

import (
	"context"
	"errors"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Joe-Swanson828/prediction-bot/internal/agent"
	"github.com/Joe-Swanson828/prediction-bot/internal/book"
	"github.com/Joe-Swanson828/prediction-bot/internal/composite"
	"github.com/Joe-Swanson828/prediction-bot/internal/config"
	"github.com/Joe-Swanson828/prediction-bot/internal/engine"
	"github.com/Joe-Swanson828/prediction-bot/internal/execution"
	"github.com/Joe-Swanson828/prediction-bot/internal/feed"
	"github.com/Joe-Swanson828/prediction-bot/internal/metrics"
	"github.com/Joe-Swanson828/prediction-bot/internal/notify"
	"github.com/Joe-Swanson828/prediction-bot/internal/report"
	"github.com/Joe-Swanson828/prediction-bot/internal/risk"
	"github.com/Joe-Swanson828/prediction-bot/internal/sentiment"
	"github.com/Joe-Swanson828/prediction-bot/internal/speed"
	"github.com/Joe-Swanson828/prediction-bot/internal/store"
	"github.com/Joe-Swanson828/prediction-bot/internal/technical"
	"github.com/Joe-Swanson828/prediction-bot/internal/util"
)

const speedStaleCeiling = 2 * time.Minute

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "configs/bot.yaml", "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := util.NewLogger("info")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := util.NewRotatingLogger(cfg.App.LogLevel, cfg.App.LogFile)

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(cfg.Store.Path, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}()

	// Persisted state wins over config so a restart resumes where the
	// last run stopped.
	cash := cfg.Trading.StartingCash
	if saved, found, err := db.LoadBalance(); err != nil {
		log.Warn().Err(err).Msg("load balance")
	} else if found {
		cash = saved
		log.Info().Float64("cash", cash).Msg("resuming persisted balance")
	}
	seedWeights := cfg.SeedWeights()
	if saved, err := db.LoadWeights(); err != nil {
		log.Warn().Err(err).Msg("load weights")
	} else if saved != nil {
		seedWeights = saved
		log.Info().Msg("resuming persisted weights")
	}

	ledger := book.New(cash)
	weights := composite.NewWeights(seedWeights)

	policy := composite.StrictMajority
	if cfg.Trading.AgreementPolicy == "unanimous" {
		policy = composite.Unanimous
	}

	notifier := notify.New(cfg.Notify.WebhookURL, cfg.Notify.QueueSize, log)
	defer notifier.Close()

	var live execution.Executor
	if cfg.Venue.BaseURL != "" {
		venue := execution.NewHTTPVenue(cfg.Venue.Name, cfg.Venue.BaseURL, os.Getenv(cfg.Venue.APIKeyEnv))
		live = execution.NewForwarder(venue, log)
	}

	eng, err := engine.New(engine.Options{
		Log:       log,
		Book:      ledger,
		Weights:   weights,
		Aggregate: composite.NewAggregator(weights, cfg.Trading.ScoreThreshold, policy),
		Technical: technical.NewAnalyzer(),
		Sentiment: sentiment.NewScorer(cfg.Sentiment.VelocityThreshold),
		Speed:     speed.NewMonitor(cfg.Speed, speedStaleCeiling),
		Risk:      risk.NewManager(cfg.Risk, ledger),
		Agent:     agent.New(ledger, weights, log),
		Recorder:  db,
		Notifier:  notifier,
		Simulated: execution.NewSimulated(log),
		Live:      live,
		Mode:      execution.Mode(cfg.Trading.Mode),

		EvalInterval: time.Duration(cfg.Trading.EvalIntervalMs) * time.Millisecond,
		CycleTimeout: time.Duration(cfg.Trading.CycleTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build engine")
	}

	marketFeed := feed.NewFeed(cfg.Feed.Provider, cfg.SeedMarkets(), log,
		feed.WithWebsocketURL(cfg.Feed.WebsocketURL),
		feed.WithTickInterval(time.Duration(cfg.Feed.TickIntervalMs)*time.Millisecond),
		feed.WithMessageRate(cfg.Feed.MessageRate, cfg.Feed.MessageBurst),
	)

	events, incoming := feed.Channels(0)
	go func() {
		if err := marketFeed.Run(ctx, events); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("feed stopped")
			cancel()
		}
	}()

	log.Info().
		Str("mode", cfg.Trading.Mode).
		Int("markets", len(cfg.Markets)).
		Msg("engine started")
	err = eng.Run(ctx, incoming)
	switch {
	case errors.Is(err, engine.ErrHalted):
		log.Error().Msg("engine halted on fatal error")
	case err != nil && !errors.Is(err, context.Canceled):
		log.Error().Err(err).Msg("engine stopped")
	default:
		log.Info().Msg("shutting down")
	}

	report.WritePerformance(os.Stdout, ledger)
	report.WriteWeights(os.Stdout, weights)
	report.WriteOpenPositions(os.Stdout, ledger)
}
