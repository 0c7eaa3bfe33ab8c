package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"pmexec/internal/application/port"
	"pmexec/internal/domain/model"
)

// SupervisorConfig holds the exit-rule parameters.
type SupervisorConfig struct {
	Interval               time.Duration // poll period, default 30s
	ProfitTargetMultiplier float64       // target = entry * (1 +/- mult*0.05)
	StopLossPct            float64       // close when pnl pct < -StopLossPct
	PositionTimeoutHours   float64       // close when market closes sooner than this
}

// Supervisor polls every open trade against the exit rules and closes
// positions through the same broker contract the gateway uses. A close
// that fails leaves the trade open; the next cycle re-evaluates it.
type Supervisor struct {
	cfg    SupervisorConfig
	broker port.Broker
	store  port.Store
	risk   *RiskState
	alerts *AlertDispatcher

	mu         sync.RWMutex
	lastPrices map[string]int // ticker -> freshest cents price from the feed
}

// NewSupervisor wires the position supervisor.
func NewSupervisor(cfg SupervisorConfig, broker port.Broker, store port.Store, risk *RiskState, alerts *AlertDispatcher) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Supervisor{
		cfg:        cfg,
		broker:     broker,
		store:      store,
		risk:       risk,
		alerts:     alerts,
		lastPrices: make(map[string]int),
	}
}

// Run polls until ctx is cancelled. An in-flight cycle finishes before
// Run returns, so a close attempt is never abandoned halfway.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", s.cfg.Interval).Msg("position supervisor started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("position supervisor stopped")
			return ctx.Err()
		case <-ticker.C:
			s.CheckPositions(context.WithoutCancel(ctx))
		}
	}
}

// Observe feeds a streaming price update into the supervisor's price map.
func (s *Supervisor) Observe(tick model.PriceTick) {
	if tick.Price < 1 || tick.Price > 99 {
		return
	}
	s.mu.Lock()
	s.lastPrices[tick.Ticker] = tick.Price
	s.mu.Unlock()
}

// ConsumeFeed drains a price feed channel into the price map until the
// channel closes.
func (s *Supervisor) ConsumeFeed(ticks <-chan model.PriceTick) {
	for tick := range ticks {
		s.Observe(tick)
	}
}

// CheckPositions evaluates every open trade once. Per-trade failures are
// logged and skipped; one bad market never blocks the rest.
func (s *Supervisor) CheckPositions(ctx context.Context) {
	trades, err := s.store.ListOpenTrades(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list open trades failed")
		return
	}
	if len(trades) == 0 {
		return
	}

	log.Debug().Int("open", len(trades)).Msg("supervising open positions")

	for _, trade := range trades {
		if err := s.checkPosition(ctx, trade); err != nil {
			log.Error().Err(err).Str("ticker", trade.Ticker).Int64("trade", trade.ID).Msg("position check failed")
			s.alert(fmt.Sprintf("Error checking position %s: %v", trade.Ticker, err))
		}
	}
}

// checkPosition applies the exit rules in fixed priority order: market
// closed, profit target, stop loss, time decay. First match wins.
func (s *Supervisor) checkPosition(ctx context.Context, trade *model.Trade) error {
	market, err := s.broker.GetMarket(ctx, trade.Ticker)
	if err != nil {
		return fmt.Errorf("fetch market: %w", err)
	}

	if market.Status == model.MarketClosed || market.Status == model.MarketSettled {
		log.Info().Str("ticker", trade.Ticker).Str("status", string(market.Status)).Msg("market no longer open")
		return s.closePosition(ctx, trade, market.CurrentPrice(), model.CloseMarketClosed)
	}

	currentPrice := s.currentPrice(trade.Ticker, market)
	if currentPrice <= 0 {
		log.Warn().Str("ticker", trade.Ticker).Msg("no price data, skipping")
		return nil
	}

	target := profitTarget(trade.EntryPrice, trade.Side, s.cfg.ProfitTargetMultiplier)
	hitTarget := (trade.Side == model.SideYes && currentPrice >= target) ||
		(trade.Side == model.SideNo && currentPrice <= target)
	if hitTarget {
		log.Info().
			Str("ticker", trade.Ticker).
			Float64("price", currentPrice).
			Float64("target", target).
			Msg("profit target hit")
		return s.closePosition(ctx, trade, currentPrice, model.CloseProfitTarget)
	}

	if pct := trade.PnLPct(currentPrice); pct < -s.cfg.StopLossPct {
		log.Warn().
			Str("ticker", trade.Ticker).
			Float64("pnl_pct", pct).
			Float64("stop", s.cfg.StopLossPct).
			Msg("stop loss hit")
		return s.closePosition(ctx, trade, currentPrice, model.CloseStopLoss)
	}

	if !market.CloseTime.IsZero() {
		hoursUntilClose := time.Until(market.CloseTime).Hours()
		if hoursUntilClose < s.cfg.PositionTimeoutHours {
			log.Info().
				Str("ticker", trade.Ticker).
				Float64("hours_until_close", hoursUntilClose).
				Msg("time decay exit")
			return s.closePosition(ctx, trade, currentPrice, model.CloseTimeDecay)
		}
	}

	return nil
}

// closePosition places the opposite-side order, realizes the P&L and
// persists the exit. All-or-nothing with respect to the status field: any
// failure leaves the trade open for the next cycle.
func (s *Supervisor) closePosition(ctx context.Context, trade *model.Trade, exitPrice float64, reason model.CloseReason) error {
	priceCents := int(exitPrice * 100)
	if priceCents < 1 {
		priceCents = 1
	}
	if priceCents > 99 {
		priceCents = 99
	}

	log.Info().
		Str("ticker", trade.Ticker).
		Float64("exit_price", exitPrice).
		Str("reason", string(reason)).
		Msg("closing position")

	_, err := s.broker.PlaceOrder(ctx, port.OrderRequest{
		Ticker:     trade.Ticker,
		Side:       trade.Side.Opposite(),
		Quantity:   trade.Quantity,
		LimitPrice: priceCents,
		OrderType:  "limit",
	})
	if err != nil {
		return fmt.Errorf("place closing order: %w", err)
	}

	grossPnL := trade.UnrealizedPnL(exitPrice)

	// 3% fee, charged on profits only.
	var fees float64
	if grossPnL > 0 {
		fees = grossPnL * 0.03
	}
	netPnL := grossPnL - fees

	now := time.Now()
	closed, err := s.store.CloseTrade(ctx, trade.ID, exitPrice, reason, fees, netPnL, now)
	if err != nil {
		return fmt.Errorf("persist close: %w", err)
	}
	if !closed {
		// Another supervisor won the optimistic check; nothing to record.
		log.Warn().Int64("trade", trade.ID).Msg("trade already closed elsewhere")
		return nil
	}

	s.risk.RecordResult(ctx, now, netPnL)

	s.alert(fmt.Sprintf("Position closed: %s %s\nEntry: $%.2f, Exit: $%.2f\nP&L: $%.2f\nReason: %s",
		trade.Ticker, trade.Side, trade.EntryPrice, exitPrice, netPnL, reason))

	log.Info().
		Str("ticker", trade.Ticker).
		Float64("pnl", netPnL).
		Str("reason", string(reason)).
		Msg("position closed")

	return nil
}

// CloseAll force-closes every open trade, falling back to the entry price
// when no live price is available. Emergency stop.
func (s *Supervisor) CloseAll(ctx context.Context, reason model.CloseReason) {
	log.Warn().Str("reason", string(reason)).Msg("closing all positions")

	trades, err := s.store.ListOpenTrades(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list open trades failed")
		return
	}

	for _, trade := range trades {
		price := trade.EntryPrice
		if market, err := s.broker.GetMarket(ctx, trade.Ticker); err == nil {
			if p := s.currentPrice(trade.Ticker, market); p > 0 {
				price = p
			}
		}
		if err := s.closePosition(ctx, trade, price, reason); err != nil {
			log.Error().Err(err).Str("ticker", trade.Ticker).Msg("force close failed")
			s.alert(fmt.Sprintf("Error closing position %s: %v", trade.Ticker, err))
		}
	}

	s.alert(fmt.Sprintf("All positions closed. Reason: %s", reason))
}

// PositionDetail is one open position's mark-to-market view.
type PositionDetail struct {
	Ticker        string
	Side          model.Side
	Quantity      int
	EntryPrice    float64
	CurrentPrice  float64
	UnrealizedPnL float64
	PnLPct        float64
}

// PositionSummary is the aggregate view over all open positions.
type PositionSummary struct {
	TotalPositions     int
	TotalUnrealizedPnL float64
	Positions          []PositionDetail
}

// Summary computes mark-to-market state for every open trade. Markets
// that cannot be fetched are skipped.
func (s *Supervisor) Summary(ctx context.Context) (*PositionSummary, error) {
	trades, err := s.store.ListOpenTrades(ctx)
	if err != nil {
		return nil, err
	}

	summary := &PositionSummary{TotalPositions: len(trades)}
	for _, trade := range trades {
		market, err := s.broker.GetMarket(ctx, trade.Ticker)
		if err != nil {
			continue
		}
		price := s.currentPrice(trade.Ticker, market)
		if price <= 0 {
			price = trade.EntryPrice
		}
		pnl := trade.UnrealizedPnL(price)
		summary.TotalUnrealizedPnL += pnl
		summary.Positions = append(summary.Positions, PositionDetail{
			Ticker:        trade.Ticker,
			Side:          trade.Side,
			Quantity:      trade.Quantity,
			EntryPrice:    trade.EntryPrice,
			CurrentPrice:  price,
			UnrealizedPnL: pnl,
			PnLPct:        trade.PnLPct(price),
		})
	}
	return summary, nil
}

// currentPrice prefers the streaming feed price, falling back to the
// market snapshot.
func (s *Supervisor) currentPrice(ticker string, market *model.Market) float64 {
	s.mu.RLock()
	cents, ok := s.lastPrices[ticker]
	s.mu.RUnlock()
	if ok {
		return float64(cents) / 100
	}
	return market.CurrentPrice()
}

func (s *Supervisor) alert(msg string) {
	if s.alerts != nil {
		s.alerts.Send(msg)
	}
}

// profitTarget computes the side-signed exit target from the entry price.
func profitTarget(entry float64, side model.Side, multiplier float64) float64 {
	delta := multiplier * 0.05
	if side == model.SideYes {
		return entry * (1 + delta)
	}
	return entry * (1 - delta)
}
