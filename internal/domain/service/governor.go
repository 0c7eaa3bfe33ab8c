package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// GovernorConfig bounds trade frequency and daily drawdown.
type GovernorConfig struct {
	MaxTradesPerHour  int
	MaxTradesPerDay   int
	MaxDailyLoss      float64 // dollars
	CooldownAfterLoss time.Duration
}

// Governor enforces hourly/daily trade-count ceilings, the daily loss
// ceiling and the post-loss cooldown. It owns the rolling one-hour window
// of trade timestamps; the daily trade count is queried externally (the
// store is authoritative across restarts) and passed into CanTrade.
type Governor struct {
	mu sync.Mutex

	cfg GovernorConfig

	window        []time.Time
	dailyPnL      float64
	lastLoss      time.Time
	breachAlerted bool

	onDailyLossBreach func(dailyPnL float64)
}

// NewGovernor creates a governor with the given limits.
func NewGovernor(cfg GovernorConfig) *Governor {
	return &Governor{cfg: cfg}
}

// SetDailyLossCallback registers a callback fired once per daily-loss
// breach, outside the governor lock.
func (g *Governor) SetDailyLossCallback(fn func(dailyPnL float64)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onDailyLossBreach = fn
}

// CanTrade runs all governor checks, short-circuiting on the first
// failure. Only the rolling window is mutated (pruned).
func (g *Governor) CanTrade(now time.Time, dailyTradeCount int) (bool, string) {
	g.mu.Lock()

	g.prune(now)
	if len(g.window) >= g.cfg.MaxTradesPerHour {
		n := len(g.window)
		g.mu.Unlock()
		log.Warn().Int("trades_last_hour", n).Msg("hourly trade limit reached")
		return false, fmt.Sprintf("hourly trade limit reached: %d", n)
	}

	if dailyTradeCount >= g.cfg.MaxTradesPerDay {
		g.mu.Unlock()
		log.Warn().Int("trades_today", dailyTradeCount).Msg("daily trade limit reached")
		return false, fmt.Sprintf("daily trade limit reached: %d", dailyTradeCount)
	}

	if g.dailyPnL < -g.cfg.MaxDailyLoss {
		pnl := g.dailyPnL
		alert := !g.breachAlerted
		g.breachAlerted = true
		onBreach := g.onDailyLossBreach
		g.mu.Unlock()

		log.Error().Float64("daily_pnl", pnl).Msg("daily loss limit reached, trading paused")
		if alert && onBreach != nil {
			onBreach(pnl)
		}
		return false, fmt.Sprintf("daily loss limit reached: $%.2f", pnl)
	}

	if !g.lastLoss.IsZero() {
		sinceLoss := now.Sub(g.lastLoss)
		if sinceLoss < g.cfg.CooldownAfterLoss {
			g.mu.Unlock()
			return false, fmt.Sprintf("in post-loss cooldown (%.0fs / %.0fs)",
				sinceLoss.Seconds(), g.cfg.CooldownAfterLoss.Seconds())
		}
	}

	g.mu.Unlock()
	return true, ""
}

// RecordTrade appends a placement timestamp to the rolling window.
func (g *Governor) RecordTrade(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.window = append(g.window, now)
}

// RecordResult feeds a realized P&L into the daily accumulator and, for
// losses, starts the cooldown clock.
func (g *Governor) RecordResult(now time.Time, pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyPnL += pnl
	if pnl < 0 {
		g.lastLoss = now
	}
	if g.dailyPnL >= -g.cfg.MaxDailyLoss {
		g.breachAlerted = false
	}
}

// DailyPnL returns the accumulated realized P&L for the current day.
func (g *Governor) DailyPnL() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dailyPnL
}

// ResetDaily clears day-scoped state. Invoked by the day-boundary trigger.
func (g *Governor) ResetDaily() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyPnL = 0
	g.breachAlerted = false
	log.Info().Msg("governor daily counters reset")
}

// prune drops window entries older than one hour. Caller holds the lock.
func (g *Governor) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	kept := g.window[:0]
	for _, ts := range g.window {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	g.window = kept
}
