package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"pmexec/internal/domain/model"
	"pmexec/internal/infrastructure/config"
	infracontainer "pmexec/internal/infrastructure/container"
	"pmexec/internal/infrastructure/logger"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}

	logger.Setup(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := infracontainer.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("container init failed")
	}
	defer infra.Close()

	app := infra.App()
	defer app.Close()

	supervisor := app.Supervisor()
	intake := app.Intake()

	mode := "LIVE"
	if cfg.Broker.PaperTrading {
		mode = "PAPER"
	}
	log.Info().
		Str("config", *configPath).
		Str("mode", mode).
		Bool("trading_enabled", cfg.App.TradingEnabled).
		Int("tickers", len(cfg.Markets.Tickers)).
		Msg("pmexec started")

	g, gctx := errgroup.WithContext(ctx)

	if feed := infra.Feed(); feed != nil && len(cfg.Markets.Tickers) > 0 {
		ticks := make(chan model.PriceTick, 256)
		g.Go(func() error {
			// Run closes ticks on return, which ends the fan-out below.
			return feed.Run(gctx, cfg.Markets.Tickers, ticks)
		})
		g.Go(func() error {
			for tick := range ticks {
				supervisor.Observe(tick)
				if paper := infra.Paper(); paper != nil {
					paper.Observe(tick)
				}
			}
			return nil
		})
	} else {
		log.Warn().Msg("price feed disabled, supervisor will use market snapshots")
	}

	g.Go(func() error { return intake.Run(gctx) })
	g.Go(func() error { return supervisor.Run(gctx) })
	g.Go(func() error { return runDailyReset(gctx, app.Risk()) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("service exited")
	}

	if paper := infra.Paper(); paper != nil {
		paper.LogSummary()
	}
	log.Info().Msg("pmexec stopped")
}

type dailyResetter interface {
	ResetDaily(ctx context.Context)
}

// runDailyReset clears the day's trade count and realized loss at each
// local midnight.
func runDailyReset(ctx context.Context, risk dailyResetter) error {
	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next)):
			risk.ResetDaily(context.WithoutCancel(ctx))
			log.Info().Msg("daily risk counters reset")
		}
	}
}
