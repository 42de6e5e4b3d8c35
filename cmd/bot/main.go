package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"swingbot/internal/backtest"
	"swingbot/internal/broker"
	"swingbot/internal/config"
	"swingbot/internal/gateway"
	"swingbot/internal/ledger"
	"swingbot/internal/md"
	"swingbot/internal/monitor"
	"swingbot/internal/sched"
	"swingbot/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	if cfg.TestingMode {
		runBacktest(cfg)
		return
	}
	runLive(cfg)
}

func runBacktest(cfg config.Config) {
	led := ledger.New(cfg.StockEngine.BacktestMoney)
	monitors := buildMonitors(cfg, nil)

	log.Info().
		Float64("starting_money", cfg.StockEngine.BacktestMoney).
		Str("data_dir", cfg.StockEngine.BacktestData).
		Int("monitors", len(monitors)).
		Msg("starting backtest")

	backtest.Run(cfg.StockEngine.BacktestData, monitors, led)
}

func runLive(cfg config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	db, err := store.Open(cfg.StockEngine.StatePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.StockEngine.StatePath).Msg("open state store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("close state store")
		}
	}()

	led := ledger.New(0)
	brokerClient := broker.New(cfg.Keys.AlpacaKeyID, cfg.Keys.AlpacaKeySecret, cfg.Keys.AlpacaBaseURL)
	gw := gateway.New(brokerClient, led, cfg.StockEngine.QueueSize)

	go func() {
		if err := gw.Run(ctx); err != nil {
			log.Error().Err(err).Msg("order gateway stopped")
		}
	}()
	// The gateway is the only path to the broker. If it dies while the bot
	// is still supposed to be running, nothing can trade and state would
	// silently drift, so go down hard instead.
	go func() {
		<-gw.Done()
		if ctx.Err() == nil {
			log.Fatal().Msg("order gateway died while trading, aborting")
		}
	}()

	monitors := buildMonitors(cfg, gw.Requests())
	rehydrate(db, monitors)

	bars := make(chan md.Bar, cfg.StockEngine.QueueSize)
	go func() {
		defer close(bars)
		err := md.StartStream(ctx, cfg.Keys.AlpacaKeyID, cfg.Keys.AlpacaKeySecret, cfg.Keys.Feed, cfg.Symbols(), func(bar md.Bar) {
			bars <- bar
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("market data stream stopped")
			cancel()
		}
	}()

	scheduler := sched.New(sched.Config{
		Workers: cfg.StockEngine.Threads,
		Pacing: sched.Pacing{
			Burst:    cfg.StockEngine.PacingBurst,
			Interval: cfg.StockEngine.PacingInterval.Std(),
		},
	}, monitors, led, bars, db)

	log.Info().
		Strs("symbols", cfg.Symbols()).
		Int("threads", cfg.StockEngine.Threads).
		Str("feed", cfg.Keys.Feed).
		Msg("starting bot")

	scheduler.Run(ctx)

	persist(db, monitors)
	gw.Close()
	log.Info().Msg("bot shutdown complete")
}

func buildMonitors(cfg config.Config, requests chan<- gateway.Request) []*monitor.Monitor {
	opts := monitor.Options{
		ReplyTimeout: cfg.StockEngine.ReplyTimeout.Std(),
		RiskOffHour:  cfg.StockEngine.RiskOffHour,
	}
	monitors := make([]*monitor.Monitor, 0, len(cfg.Stocks))
	for _, stock := range cfg.Stocks {
		mon, err := monitor.New(monitor.Config{
			Symbol:            stock.Symbol,
			Strategy:          stock.Strategy,
			EmergencyLimitPct: stock.EmergencyLimit,
			UpperLimitPct:     stock.UpperLimit,
			Intensity:         stock.Intensity,
			Fractional:        stock.Fractional,
		}, requests, opts)
		if err != nil {
			log.Fatal().Err(err).Str("symbol", stock.Symbol).Msg("bad stock entry")
		}
		monitors = append(monitors, mon)
	}
	return monitors
}

func rehydrate(db *store.Store, monitors []*monitor.Monitor) {
	for _, mon := range monitors {
		data, err := db.Get(mon.Symbol())
		if err != nil {
			log.Error().Err(err).Str("symbol", mon.Symbol()).Msg("read saved state")
			continue
		}
		if data == nil {
			continue
		}
		if err := mon.Restore(data); err != nil {
			log.Error().Err(err).Str("symbol", mon.Symbol()).Msg("restore saved state")
			continue
		}
		log.Info().Str("symbol", mon.Symbol()).Msg("restored saved state")
	}
}

func persist(db *store.Store, monitors []*monitor.Monitor) {
	for _, mon := range monitors {
		data, err := mon.Snapshot()
		if err != nil {
			log.Error().Err(err).Str("symbol", mon.Symbol()).Msg("snapshot state")
			continue
		}
		if err := db.Put(mon.Symbol(), data); err != nil {
			log.Error().Err(err).Str("symbol", mon.Symbol()).Msg("save state")
		}
	}
}
