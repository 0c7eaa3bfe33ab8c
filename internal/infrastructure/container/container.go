package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	appcontainer "pmexec/internal/application/container"
	"pmexec/internal/application/port"
	"pmexec/internal/application/service"
	domain "pmexec/internal/domain/service"
	"pmexec/internal/infrastructure/broker/kalshi"
	"pmexec/internal/infrastructure/broker/paper"
	"pmexec/internal/infrastructure/config"
	"pmexec/internal/infrastructure/notify"
	"pmexec/internal/infrastructure/storage/postgres"
	redisstore "pmexec/internal/infrastructure/storage/redis"
	"pmexec/internal/infrastructure/storage/sqlite"
)

// Container assembles the configured adapters: store, broker, risk
// journal, notifier and price feed. Resources close in reverse order of
// construction.
type Container struct {
	cfg *config.Config

	store    port.Store
	broker   port.Broker
	paper    *paper.Engine // non-nil in paper mode
	feed     port.PriceFeed
	journal  port.RiskJournal
	notifier port.Notifier

	closeOnce   sync.Once
	closerChain []func() error
}

func New(cfg *config.Config) (*Container, error) {
	c := &Container{cfg: cfg}

	for _, step := range []func() error{
		c.initStore,
		c.initBroker,
		c.initJournal,
		c.initNotifier,
	} {
		if err := step(); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *Container) initStore() error {
	switch c.cfg.Storage.Driver {
	case "postgres":
		repo, err := postgres.New(c.cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
		c.store = repo
		log.Info().Msg("postgres store initialized")
	default:
		repo, err := sqlite.New(c.cfg.Storage.DSN)
		if err != nil {
			return fmt.Errorf("sqlite init failed: %w", err)
		}
		c.store = repo
		log.Info().Str("path", c.cfg.Storage.DSN).Msg("sqlite store initialized")
	}
	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing store")
		return c.store.Close()
	})
	return nil
}

func (c *Container) initBroker() error {
	haveCreds := c.cfg.Broker.KeyID != "" && c.cfg.Broker.PrivateKeyPath != ""

	var live *kalshi.Client
	if haveCreds {
		client, err := kalshi.NewClient(c.cfg.Broker.BaseURL, c.cfg.Broker.KeyID, c.cfg.Broker.PrivateKeyPath)
		if err != nil {
			return fmt.Errorf("kalshi client init failed: %w", err)
		}
		live = client

		feed, err := kalshi.NewTickerFeed(c.cfg.Broker.WsURL, c.cfg.Broker.KeyID, c.cfg.Broker.PrivateKeyPath)
		if err != nil {
			return fmt.Errorf("kalshi feed init failed: %w", err)
		}
		c.feed = feed
	}

	if c.cfg.Broker.PaperTrading {
		var md paper.MarketData
		if live != nil {
			md = live
		}
		c.paper = paper.NewEngine(md)
		c.broker = c.paper
		return nil
	}

	if live == nil {
		return fmt.Errorf("live trading requires broker credentials")
	}
	c.broker = live
	return nil
}

func (c *Container) initJournal() error {
	if !c.cfg.Redis.Enabled {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.cfg.Redis.Addr,
		Password: c.cfg.Redis.Password,
		DB:       c.cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	c.journal = redisstore.NewRiskJournal(rdb, "pmexec:risk")
	// the journal owns the client; application container closes it
	log.Info().Str("addr", c.cfg.Redis.Addr).Int("db", c.cfg.Redis.DB).Msg("redis risk journal initialized")
	return nil
}

func (c *Container) initNotifier() error {
	if !c.cfg.Telegram.Enabled {
		return nil
	}
	c.notifier = notify.NewTelegramNotifier(c.cfg.Telegram.Token, c.cfg.Telegram.ChatID)
	log.Info().Msg("telegram notifier initialized")
	return nil
}

// App builds the application-layer container from the assembled adapters.
func (c *Container) App() *appcontainer.Container {
	return appcontainer.New(appcontainer.Deps{
		Store:    c.store,
		Broker:   c.broker,
		Journal:  c.journal,
		Notifier: c.notifier,
		Executor: service.ExecutorConfig{
			TradingEnabled: c.cfg.App.TradingEnabled,
			PaperMode:      c.cfg.Broker.PaperTrading,
			Validator: domain.ValidatorConfig{
				MinConfidence: c.cfg.Risk.MinConfidence,
				MinEdge:       c.cfg.Risk.MinEdge,
			},
			Sizer: domain.SizerConfig{
				KellyFraction:      c.cfg.Risk.KellyFraction,
				MaxPositionSizeUSD: c.cfg.Risk.MaxPositionSizeUSD,
				MaxPortfolioHeat:   c.cfg.Risk.MaxPortfolioHeat,
			},
		},
		Risk: service.RiskStateConfig{
			ConsecutiveLosses: c.cfg.Risk.ConsecutiveLossLimit,
			Governor: domain.GovernorConfig{
				MaxTradesPerHour:  c.cfg.Risk.MaxTradesPerHour,
				MaxTradesPerDay:   c.cfg.Risk.MaxTradesPerDay,
				MaxDailyLoss:      c.cfg.Risk.MaxDailyLossUSD,
				CooldownAfterLoss: time.Duration(c.cfg.Risk.CooldownAfterLossMin) * time.Minute,
			},
			DedupCapacity: c.cfg.Risk.DedupCapacity,
			DedupTTL:      time.Duration(c.cfg.Risk.DedupTTLHours) * time.Hour,
		},
		Supervisor: service.SupervisorConfig{
			Interval:               time.Duration(c.cfg.Supervisor.PollIntervalSec) * time.Second,
			ProfitTargetMultiplier: c.cfg.Supervisor.ProfitTargetMultiplier,
			StopLossPct:            c.cfg.Supervisor.StopLossPct,
			PositionTimeoutHours:   c.cfg.Supervisor.PositionTimeoutHours,
		},
		Intake: service.IntakeConfig{
			PollInterval: time.Duration(c.cfg.Intake.PollIntervalSec) * time.Second,
			BatchSize:    c.cfg.Intake.BatchSize,
		},
	})
}

func (c *Container) Store() port.Store      { return c.store }
func (c *Container) Broker() port.Broker    { return c.broker }
func (c *Container) Feed() port.PriceFeed   { return c.feed }
func (c *Container) Paper() *paper.Engine   { return c.paper }
func (c *Container) Config() *config.Config { return c.cfg }

// Close releases infrastructure resources in reverse order. The
// application container's Close handles the store and journal when it is
// in use; calling both is safe.
func (c *Container) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for i := len(c.closerChain) - 1; i >= 0; i-- {
			if e := c.closerChain[i](); e != nil {
				log.Error().Err(e).Msg("error closing resource")
				if err == nil {
					err = e
				}
			}
		}
	})
	return err
}
