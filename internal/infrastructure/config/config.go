package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App struct {
		TradingEnabled bool   `toml:"trading_enabled"`
		LogLevel       string `toml:"log_level"`
	} `toml:"app"`

	Markets struct {
		Tickers []string `toml:"tickers"`
	} `toml:"markets"`

	Risk struct {
		MinConfidence        float64 `toml:"min_confidence"`
		MinEdge              float64 `toml:"min_edge"`
		KellyFraction        float64 `toml:"kelly_fraction"`
		MaxPositionSizeUSD   float64 `toml:"max_position_size_usd"`
		MaxPortfolioHeat     float64 `toml:"max_portfolio_heat"`
		MaxTradesPerHour     int     `toml:"max_trades_per_hour"`
		MaxTradesPerDay      int     `toml:"max_trades_per_day"`
		MaxDailyLossUSD      float64 `toml:"max_daily_loss_usd"`
		ConsecutiveLossLimit int     `toml:"consecutive_loss_limit"`
		CooldownAfterLossMin int     `toml:"cooldown_after_loss_min"`
		DedupCapacity        int     `toml:"dedup_capacity"`
		DedupTTLHours        int     `toml:"dedup_ttl_hours"`
	} `toml:"risk"`

	Broker struct {
		PaperTrading   bool   `toml:"paper_trading"`
		BaseURL        string `toml:"base_url"`
		WsURL          string `toml:"ws_url"`
		KeyID          string `toml:"key_id"`
		PrivateKeyPath string `toml:"private_key_path"`
	} `toml:"broker"`

	Storage struct {
		Driver string `toml:"driver"` // sqlite | postgres
		DSN    string `toml:"dsn"`
	} `toml:"storage"`

	Redis struct {
		Enabled  bool   `toml:"enabled"`
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
	} `toml:"redis"`

	Telegram struct {
		Enabled bool   `toml:"enabled"`
		Token   string `toml:"token"`
		ChatID  string `toml:"chat_id"`
	} `toml:"telegram"`

	Supervisor struct {
		PollIntervalSec        int     `toml:"poll_interval_sec"`
		ProfitTargetMultiplier float64 `toml:"profit_target_multiplier"`
		StopLossPct            float64 `toml:"stop_loss_pct"`
		PositionTimeoutHours   float64 `toml:"position_timeout_hours"`
	} `toml:"supervisor"`

	Intake struct {
		PollIntervalSec int `toml:"poll_interval_sec"`
		BatchSize       int `toml:"batch_size"`
	} `toml:"intake"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnv(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}

	if cfg.Risk.MinConfidence <= 0 {
		cfg.Risk.MinConfidence = 0.65
	}
	if cfg.Risk.MinEdge <= 0 {
		cfg.Risk.MinEdge = 0.05
	}
	if cfg.Risk.KellyFraction <= 0 {
		cfg.Risk.KellyFraction = 0.25
	}
	if cfg.Risk.MaxPositionSizeUSD <= 0 {
		cfg.Risk.MaxPositionSizeUSD = 500
	}
	if cfg.Risk.MaxPortfolioHeat <= 0 {
		cfg.Risk.MaxPortfolioHeat = 0.20
	}
	if cfg.Risk.MaxTradesPerHour <= 0 {
		cfg.Risk.MaxTradesPerHour = 5
	}
	if cfg.Risk.MaxTradesPerDay <= 0 {
		cfg.Risk.MaxTradesPerDay = 20
	}
	if cfg.Risk.MaxDailyLossUSD <= 0 {
		cfg.Risk.MaxDailyLossUSD = 200
	}
	if cfg.Risk.ConsecutiveLossLimit <= 0 {
		cfg.Risk.ConsecutiveLossLimit = 3
	}
	if cfg.Risk.CooldownAfterLossMin <= 0 {
		cfg.Risk.CooldownAfterLossMin = 30
	}
	if cfg.Risk.DedupCapacity <= 0 {
		cfg.Risk.DedupCapacity = 10000
	}
	if cfg.Risk.DedupTTLHours <= 0 {
		cfg.Risk.DedupTTLHours = 24
	}

	if cfg.Broker.BaseURL == "" {
		cfg.Broker.BaseURL = "https://api.elections.kalshi.com/trade-api/v2"
	}
	if cfg.Broker.WsURL == "" {
		cfg.Broker.WsURL = "wss://api.elections.kalshi.com/trade-api/ws/v2"
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "pmexec.db"
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}

	if cfg.Supervisor.PollIntervalSec <= 0 {
		cfg.Supervisor.PollIntervalSec = 30
	}
	if cfg.Supervisor.ProfitTargetMultiplier <= 0 {
		cfg.Supervisor.ProfitTargetMultiplier = 2.0
	}
	if cfg.Supervisor.StopLossPct <= 0 {
		cfg.Supervisor.StopLossPct = 0.30
	}
	if cfg.Supervisor.PositionTimeoutHours <= 0 {
		cfg.Supervisor.PositionTimeoutHours = 2
	}

	if cfg.Intake.PollIntervalSec <= 0 {
		cfg.Intake.PollIntervalSec = 5
	}
	if cfg.Intake.BatchSize <= 0 {
		cfg.Intake.BatchSize = 25
	}
}

// applyEnv overrides secrets from the environment so credentials never
// need to live in the toml file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("KALSHI_API_KEY_ID"); v != "" {
		cfg.Broker.KeyID = v
	}
	if v := os.Getenv("KALSHI_PRIVATE_KEY_PATH"); v != "" {
		cfg.Broker.PrivateKeyPath = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

func validate(cfg *Config) error {
	cfg.Markets.Tickers = normalizeTickers(cfg.Markets.Tickers)

	if cfg.Risk.MinConfidence > 1 {
		return fmt.Errorf("risk.min_confidence %v out of range (0,1]", cfg.Risk.MinConfidence)
	}
	if cfg.Risk.MinEdge > 1 {
		return fmt.Errorf("risk.min_edge %v out of range (0,1]", cfg.Risk.MinEdge)
	}
	if cfg.Risk.KellyFraction > 1 {
		return fmt.Errorf("risk.kelly_fraction %v out of range (0,1]", cfg.Risk.KellyFraction)
	}
	if cfg.Risk.MaxPortfolioHeat > 1 {
		return fmt.Errorf("risk.max_portfolio_heat %v out of range (0,1]", cfg.Risk.MaxPortfolioHeat)
	}
	if cfg.Supervisor.StopLossPct > 1 {
		return fmt.Errorf("supervisor.stop_loss_pct %v out of range (0,1]", cfg.Supervisor.StopLossPct)
	}

	switch cfg.Storage.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return errors.New("storage.dsn empty but driver is postgres")
		}
	default:
		return fmt.Errorf("storage.driver %q unknown (sqlite|postgres)", cfg.Storage.Driver)
	}

	if !cfg.Broker.PaperTrading {
		if strings.TrimSpace(cfg.Broker.KeyID) == "" {
			return errors.New("broker.key_id empty but live trading enabled")
		}
		if strings.TrimSpace(cfg.Broker.PrivateKeyPath) == "" {
			return errors.New("broker.private_key_path empty but live trading enabled")
		}
	}

	if cfg.Telegram.Enabled {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return errors.New("telegram.token empty but enabled")
		}
		if strings.TrimSpace(cfg.Telegram.ChatID) == "" {
			return errors.New("telegram.chat_id empty but enabled")
		}
	}

	return nil
}

func normalizeTickers(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
