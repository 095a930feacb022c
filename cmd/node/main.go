package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/matchcore/params"
	"github.com/uhyunpark/matchcore/pkg/api"
	"github.com/uhyunpark/matchcore/pkg/app/venue"
	"github.com/uhyunpark/matchcore/pkg/feed"
	"github.com/uhyunpark/matchcore/pkg/metrics"
	"github.com/uhyunpark/matchcore/pkg/storage"
	"github.com/uhyunpark/matchcore/pkg/stream"
	"github.com/uhyunpark/matchcore/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("%v", err)
	}

	var logger *zap.Logger
	if cfg.Log.File != "" {
		logger, err = util.NewLoggerWithFile(cfg.Log.Level, cfg.Log.File)
	} else {
		logger, err = util.NewLogger(cfg.Log.Level)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "level", cfg.Log.Level, "log_file", cfg.Log.File)

	if err := run(cfg, sugar); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

func run(cfg params.Config, sugar *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	// ---- Sinks ----
	var journal *storage.Journal
	if cfg.Venue.JournalDir != "" {
		j, err := storage.OpenJournal(cfg.Venue.JournalDir)
		if err != nil {
			return err
		}
		defer j.Close()
		journal = j
		sugar.Infow("journal_opened", "dir", cfg.Venue.JournalDir)
	}

	var publisher *stream.TradePublisher
	if len(cfg.Kafka.Brokers) > 0 {
		w := stream.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publisher = stream.NewTradePublisher(w, cfg.Kafka.Buffer, sugar.Named("kafka"))
		g.Go(func() error { return ignoreCancel(publisher.Run(ctx)) })
		sugar.Infow("kafka_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	clock := util.RealClock{}

	// ---- Venue ----
	v, err := venue.New(venue.Config{
		Account:        cfg.Venue.Account,
		InitialCapital: cfg.Venue.InitialCapital,
		Limits:         cfg.Venue.Limits,
		Journal:        journal,
		Metrics:        metrics.NewCollector(),
		Publisher:      publisher,
		Clock:          clock,
		Logger:         sugar,
	})
	if err != nil {
		return err
	}

	// ---- API Server ----
	apiServer := api.NewServer(v, api.Options{
		Journal:        journal,
		AllowedOrigins: cfg.API.AllowedOrigins,
		Logger:         sugar.Named("api"),
	})
	g.Go(func() error { return apiServer.Start(ctx, cfg.API.Addr) })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return apiServer.Shutdown(shutdownCtx)
	})

	// ---- Market data feed (optional) ----
	if cfg.Feed.Enabled {
		var markets []feed.Market
		for _, m := range cfg.Feed.Markets {
			in, err := v.Registry().Get(m.Symbol)
			if err != nil {
				return err
			}
			markets = append(markets, feed.Market{Symbol: m.Symbol, StartPrice: m.StartPrice, TickSize: in.TickSize})
		}
		sim := feed.NewSimulator(v, feed.Config{
			Markets:    markets,
			Interval:   cfg.Feed.Interval,
			Volatility: cfg.Feed.Volatility,
			Seed:       cfg.Feed.Seed,
			QuoteSize:  cfg.Feed.QuoteSize,
			Account:    feed.DefaultConfig().Account,
			Clock:      clock,
			Logger:     sugar.Named("feed"),
		})
		g.Go(func() error { return ignoreCancel(sim.Run(ctx)) })
		sugar.Infow("feed_enabled", "markets", len(markets), "interval", cfg.Feed.Interval)
	} else {
		sugar.Info("feed_disabled - ticks only via POST /api/v1/ticks")
	}

	// ---- End of day ----
	g.Go(func() error {
		for {
			next := cfg.NextEndOfDay(clock.Now())
			sugar.Infow("eod_scheduled", "at", next)
			select {
			case <-ctx.Done():
				return nil
			case <-clock.After(time.Until(next)):
				v.RunEndOfDay()
			}
		}
	})

	sugar.Infow("node_starting",
		"account", v.Account(),
		"instruments", v.Registry().Count(),
		"initial_capital", cfg.Venue.InitialCapital,
		"api_addr", cfg.API.Addr)

	return g.Wait()
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
