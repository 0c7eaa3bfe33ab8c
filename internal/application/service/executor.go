package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"pmexec/internal/application/port"
	"pmexec/internal/domain/model"
	domain "pmexec/internal/domain/service"
)

// RejectionError is a soft reject: the signal failed a validation or risk
// check before any order was placed. The reason is persisted against the
// signal and no trade is created.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "signal rejected: " + e.Reason
}

// ExecutorConfig carries the pipeline's own switches; component limits
// live in RiskStateConfig.
type ExecutorConfig struct {
	TradingEnabled bool // master kill switch
	PaperMode      bool // tags alerts, selection happens at wiring time
	Validator      domain.ValidatorConfig
	Sizer          domain.SizerConfig
}

// Executor is the order execution gateway: it converts an accepted signal
// into a sized, rate-limited, capital-protected order and persists the
// resulting trade.
//
// Execute is serialized: the rate window, circuit breaker and dedup set
// assume at most one execution in flight per process.
type Executor struct {
	mu sync.Mutex

	cfg    ExecutorConfig
	broker port.Broker
	store  port.Store
	risk   *RiskState
	alerts *AlertDispatcher
}

// NewExecutor wires the gateway. alerts may be nil when alerting is
// disabled.
func NewExecutor(cfg ExecutorConfig, broker port.Broker, store port.Store, risk *RiskState, alerts *AlertDispatcher) *Executor {
	ex := &Executor{
		cfg:    cfg,
		broker: broker,
		store:  store,
		risk:   risk,
		alerts: alerts,
	}

	risk.Breaker.SetTripCallback(func(losses int) {
		ex.alert(fmt.Sprintf("CIRCUIT BREAKER TRIPPED after %d consecutive losses. Trading paused until the next winning trade.", losses))
	})
	risk.Governor.SetDailyLossCallback(func(pnl float64) {
		ex.alert(fmt.Sprintf("Daily loss limit reached: $%.2f. Trading paused for the day.", pnl))
	})

	mode := "LIVE"
	if cfg.PaperMode {
		mode = "PAPER"
	}
	log.Info().
		Bool("trading_enabled", cfg.TradingEnabled).
		Str("mode", mode).
		Msg("executor initialized")

	return ex
}

// Execute runs the full signal-to-order pipeline, short-circuiting at the
// first failing check. It returns the created trade, a *RejectionError
// for soft rejects, or a hard error when order placement itself failed.
func (ex *Executor) Execute(ctx context.Context, sig *model.Signal) (*model.Trade, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	if !ex.cfg.TradingEnabled {
		log.Info().Str("signal", sig.ID).Msg("trading disabled, signal not executed")
		return nil, ex.reject(ctx, sig, "trading disabled")
	}

	if ok, reason := ex.risk.Breaker.CanTrade(); !ok {
		log.Warn().Str("signal", sig.ID).Str("reason", reason).Msg("signal rejected")
		ex.alert("Signal rejected: " + reason)
		return nil, ex.reject(ctx, sig, reason)
	}

	if ok, reason := domain.ValidateSignal(sig, ex.cfg.Validator, ex.risk.Dedup); !ok {
		log.Info().Str("signal", sig.ID).Str("reason", reason).Msg("signal rejected")
		return nil, ex.reject(ctx, sig, reason)
	}

	dayStart := startOfDay(time.Now())
	dailyCount, err := ex.store.CountTradesSince(ctx, dayStart)
	if err != nil {
		return nil, fmt.Errorf("count daily trades: %w", err)
	}
	if ok, reason := ex.risk.Governor.CanTrade(time.Now(), dailyCount); !ok {
		return nil, ex.reject(ctx, sig, reason)
	}

	balance, err := ex.broker.GetBalance(ctx)
	if err != nil {
		ex.alert("Trade execution failed: balance fetch: " + err.Error())
		return nil, fmt.Errorf("fetch balance: %w", err)
	}
	exposure, err := ex.currentExposure(ctx)
	if err != nil {
		ex.alert("Trade execution failed: position fetch: " + err.Error())
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	quantity := domain.ContractsFor(sig, ex.cfg.Sizer, balance.Available, exposure)
	if quantity == 0 {
		log.Info().Str("signal", sig.ID).Msg("position size is zero, signal not executed")
		return nil, ex.reject(ctx, sig, "position size is zero")
	}

	limitPrice := 50
	if sig.CurrentPrice > 0 {
		limitPrice = int(sig.CurrentPrice * 100)
	}

	if ok, reason := domain.ValidateOrder(sig.Ticker, sig.Side, quantity, limitPrice); !ok {
		log.Error().Str("signal", sig.ID).Str("reason", reason).Msg("order validation failed")
		return nil, ex.reject(ctx, sig, reason)
	}

	// Placement happens before persistence: a crash in between leaves an
	// order without a trade row. Known gap, recovered manually.
	log.Info().
		Str("mode", ex.mode()).
		Str("ticker", sig.Ticker).
		Str("side", string(sig.Side)).
		Int("quantity", quantity).
		Int("limit_price", limitPrice).
		Msg("placing order")

	order, err := ex.broker.PlaceOrder(ctx, port.OrderRequest{
		Ticker:     sig.Ticker,
		Side:       sig.Side,
		Quantity:   quantity,
		LimitPrice: limitPrice,
		OrderType:  "limit",
	})
	if err != nil {
		ex.alert("Trade execution failed: " + err.Error())
		return nil, fmt.Errorf("place order: %w", err)
	}

	now := time.Now()
	trade := &model.Trade{
		SignalID:   sig.ID,
		OrderID:    order.OrderID,
		Ticker:     sig.Ticker,
		Side:       sig.Side,
		Quantity:   quantity,
		EntryPrice: float64(limitPrice) / 100,
		Status:     model.TradeOpen,
		CreatedAt:  now,
	}
	if err := ex.store.CreateTrade(ctx, trade); err != nil {
		ex.alert("Trade persist failed after placement, order " + order.OrderID + ": " + err.Error())
		return nil, fmt.Errorf("persist trade: %w", err)
	}

	ex.risk.Dedup.Mark(sig.ID)
	if err := ex.store.MarkSignalExecuted(ctx, sig.ID, now); err != nil {
		log.Warn().Err(err).Str("signal", sig.ID).Msg("mark signal executed failed")
	}
	ex.risk.RecordTrade(ctx, now)

	ex.alert(fmt.Sprintf("%s trade executed: %d %s %s @ %d cents (edge %.1f%%, confidence %.2f)",
		ex.mode(), quantity, sig.Side, sig.Ticker, limitPrice, sig.Edge*100, sig.Confidence))

	log.Info().
		Str("mode", ex.mode()).
		Str("order_id", order.OrderID).
		Int64("trade_id", trade.ID).
		Msg("trade executed")

	return trade, nil
}

// currentExposure sums the dollar cost of all open broker positions.
func (ex *Executor) currentExposure(ctx context.Context) (float64, error) {
	positions, err := ex.broker.GetPositions(ctx)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, p := range positions {
		cost := p.TotalCost
		if cost < 0 {
			cost = -cost
		}
		total += float64(cost) / 100
	}
	return total, nil
}

// reject persists the rejection reason and wraps it in a RejectionError.
func (ex *Executor) reject(ctx context.Context, sig *model.Signal, reason string) error {
	if err := ex.store.MarkSignalRejected(ctx, sig.ID, reason); err != nil {
		log.Warn().Err(err).Str("signal", sig.ID).Msg("persist rejection failed")
	}
	return &RejectionError{Reason: reason}
}

func (ex *Executor) alert(msg string) {
	if ex.alerts != nil {
		ex.alerts.Send(msg)
	}
}

func (ex *Executor) mode() string {
	if ex.cfg.PaperMode {
		return "PAPER"
	}
	return "LIVE"
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
