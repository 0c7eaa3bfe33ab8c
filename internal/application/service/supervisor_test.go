package service

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"pmexec/internal/domain/model"
)

func testSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Interval:               30 * time.Second,
		ProfitTargetMultiplier: 2.0, // target = entry * 1.10 for yes
		StopLossPct:            0.30,
		PositionTimeoutHours:   2,
	}
}

func openMarket(ticker string, lastCents int) *model.Market {
	return &model.Market{
		Ticker:    ticker,
		Status:    model.MarketOpen,
		LastPrice: lastCents,
		CloseTime: time.Now().Add(48 * time.Hour),
	}
}

func seedTrade(t *testing.T, store *fakeStore, side model.Side, entry float64, qty int) *model.Trade {
	t.Helper()
	trade := &model.Trade{
		SignalID:   "sig-" + string(side),
		Ticker:     "SUP-TEST",
		Side:       side,
		Quantity:   qty,
		EntryPrice: entry,
		Status:     model.TradeOpen,
		CreatedAt:  time.Now(),
	}
	if err := store.CreateTrade(context.Background(), trade); err != nil {
		t.Fatalf("seed trade: %v", err)
	}
	return trade
}

func newTestSupervisor(broker *fakeBroker, store *fakeStore) (*Supervisor, *RiskState) {
	risk := testRiskState()
	return NewSupervisor(testSupervisorConfig(), broker, store, risk, nil), risk
}

func TestSupervisorHoldsInsideBands(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore()
	sup, _ := newTestSupervisor(broker, store)

	seedTrade(t, store, model.SideYes, 0.50, 10)
	broker.markets["SUP-TEST"] = openMarket("SUP-TEST", 52)

	sup.CheckPositions(context.Background())

	if store.openCount() != 1 {
		t.Error("trade inside all bands must stay open")
	}
	if len(broker.placed) != 0 {
		t.Error("no closing order expected")
	}
}

func TestSupervisorProfitTargetYes(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore()
	sup, _ := newTestSupervisor(broker, store)

	trade := seedTrade(t, store, model.SideYes, 0.50, 10)
	// Target is 0.50*1.10=0.55; 56c crosses it.
	broker.markets["SUP-TEST"] = openMarket("SUP-TEST", 56)

	sup.CheckPositions(context.Background())

	if store.openCount() != 0 {
		t.Fatal("trade should be closed")
	}
	closed := store.trades[0]
	if closed.CloseReason != model.CloseProfitTarget {
		t.Errorf("reason = %s, want profit_target", closed.CloseReason)
	}
	if len(broker.placed) != 1 || broker.placed[0].Side != model.SideNo {
		t.Error("close must place an opposite-side order")
	}
	// Gross 10*(0.56-0.50)=0.60, 3% fee on the profit.
	wantPnL := 0.60 * 0.97
	if math.Abs(closed.PnL-wantPnL) > 1e-9 {
		t.Errorf("pnl = %v, want %v", closed.PnL, wantPnL)
	}
	if math.Abs(closed.Fees-0.60*0.03) > 1e-9 {
		t.Errorf("fees = %v, want %v", closed.Fees, 0.60*0.03)
	}
	if trade.ID != closed.ID {
		t.Error("closed wrong trade")
	}
}

func TestSupervisorProfitTargetNo(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore()
	sup, _ := newTestSupervisor(broker, store)

	// No-side profits when the price falls. Target 0.50*0.90=0.45.
	seedTrade(t, store, model.SideNo, 0.50, 10)
	broker.markets["SUP-TEST"] = openMarket("SUP-TEST", 44)

	sup.CheckPositions(context.Background())

	if store.openCount() != 0 {
		t.Fatal("trade should be closed")
	}
	if store.trades[0].CloseReason != model.CloseProfitTarget {
		t.Errorf("reason = %s, want profit_target", store.trades[0].CloseReason)
	}
	if broker.placed[0].Side != model.SideYes {
		t.Error("closing a no position buys yes")
	}
}

func TestSupervisorStopLoss(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore()
	sup, risk := newTestSupervisor(broker, store)

	seedTrade(t, store, model.SideYes, 0.50, 10)
	// pnl pct = (0.30-0.50)/0.50 = -40% < -30%.
	broker.markets["SUP-TEST"] = openMarket("SUP-TEST", 30)

	sup.CheckPositions(context.Background())

	if store.openCount() != 0 {
		t.Fatal("trade should be stopped out")
	}
	closed := store.trades[0]
	if closed.CloseReason != model.CloseStopLoss {
		t.Errorf("reason = %s, want stop_loss", closed.CloseReason)
	}
	if closed.Fees != 0 {
		t.Errorf("no fee on a losing close, got %v", closed.Fees)
	}
	// Loss feeds the breaker and governor.
	if risk.Breaker.ConsecutiveLosses() != 1 {
		t.Errorf("consecutive losses = %d, want 1", risk.Breaker.ConsecutiveLosses())
	}
	if risk.Governor.DailyPnL() >= 0 {
		t.Error("daily pnl should reflect the loss")
	}
}

func TestSupervisorMarketClosedWinsPriority(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore()
	sup, _ := newTestSupervisor(broker, store)

	seedTrade(t, store, model.SideYes, 0.50, 10)
	// Price also crosses the profit target, but the market-closed rule
	// runs first.
	m := openMarket("SUP-TEST", 95)
	m.Status = model.MarketSettled
	broker.markets["SUP-TEST"] = m

	sup.CheckPositions(context.Background())

	if store.openCount() != 0 {
		t.Fatal("trade should be closed")
	}
	if store.trades[0].CloseReason != model.CloseMarketClosed {
		t.Errorf("reason = %s, want market_closed", store.trades[0].CloseReason)
	}
}

func TestSupervisorTimeDecay(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore()
	sup, _ := newTestSupervisor(broker, store)

	seedTrade(t, store, model.SideYes, 0.50, 10)
	m := openMarket("SUP-TEST", 51)
	m.CloseTime = time.Now().Add(30 * time.Minute) // under the 2h timeout
	broker.markets["SUP-TEST"] = m

	sup.CheckPositions(context.Background())

	if store.openCount() != 0 {
		t.Fatal("trade should be closed")
	}
	if store.trades[0].CloseReason != model.CloseTimeDecay {
		t.Errorf("reason = %s, want time_decay", store.trades[0].CloseReason)
	}
}

func TestSupervisorFeedPricePreferred(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore()
	sup, _ := newTestSupervisor(broker, store)

	seedTrade(t, store, model.SideYes, 0.50, 10)
	// Snapshot says hold, the stream says profit target.
	broker.markets["SUP-TEST"] = openMarket("SUP-TEST", 52)
	sup.Observe(model.PriceTick{Ticker: "SUP-TEST", Price: 58})

	sup.CheckPositions(context.Background())

	if store.openCount() != 0 {
		t.Fatal("feed price should trigger the close")
	}
	if store.trades[0].ExitPrice != 0.58 {
		t.Errorf("exit price = %v, want 0.58", store.trades[0].ExitPrice)
	}
}

func TestSupervisorBrokenMarketSkipsAndContinues(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore()
	sup, _ := newTestSupervisor(broker, store)

	bad := seedTrade(t, store, model.SideYes, 0.50, 10)
	bad.Ticker = "MISSING"
	seedTrade(t, store, model.SideYes, 0.50, 10)
	broker.markets["SUP-TEST"] = openMarket("SUP-TEST", 60)

	sup.CheckPositions(context.Background())

	// The broken market's trade stays open, the healthy one still closes.
	open, _ := store.ListOpenTrades(context.Background())
	if len(open) != 1 || open[0].Ticker != "MISSING" {
		t.Errorf("expected only the broken-market trade to stay open, got %v", open)
	}
}

func TestSupervisorCloseFailureLeavesTradeOpen(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore()
	sup, _ := newTestSupervisor(broker, store)

	seedTrade(t, store, model.SideYes, 0.50, 10)
	broker.markets["SUP-TEST"] = openMarket("SUP-TEST", 60)
	broker.placeErr = context.DeadlineExceeded

	sup.CheckPositions(context.Background())
	if store.openCount() != 1 {
		t.Fatal("failed close must leave the trade open")
	}

	// Next cycle retries and succeeds.
	broker.placeErr = nil
	sup.CheckPositions(context.Background())
	if store.openCount() != 0 {
		t.Fatal("retry should close the trade")
	}
}

func TestSupervisorCloseAllFallsBackToEntryPrice(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore()
	notifier := &fakeNotifier{}
	alerts := NewAlertDispatcher(notifier, 16)
	risk := testRiskState()
	sup := NewSupervisor(testSupervisorConfig(), broker, store, risk, alerts)

	trade := seedTrade(t, store, model.SideYes, 0.42, 10)
	trade.Ticker = "GONE" // no market data at all

	sup.CloseAll(context.Background(), model.CloseManual)

	if store.openCount() != 0 {
		t.Fatal("close all must close every trade")
	}
	if store.trades[0].ExitPrice != 0.42 {
		t.Errorf("exit price = %v, want entry fallback 0.42", store.trades[0].ExitPrice)
	}
	if store.trades[0].CloseReason != model.CloseManual {
		t.Errorf("reason = %s, want manual", store.trades[0].CloseReason)
	}

	if err := alerts.Close(); err != nil {
		t.Fatalf("close dispatcher: %v", err)
	}
	var sawSummary bool
	for _, msg := range notifier.all() {
		if strings.Contains(msg, "All positions closed") {
			sawSummary = true
		}
	}
	if !sawSummary {
		t.Error("close-all summary alert not delivered")
	}
}

func TestSupervisorSummary(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore()
	sup, _ := newTestSupervisor(broker, store)

	seedTrade(t, store, model.SideYes, 0.50, 10)
	broker.markets["SUP-TEST"] = openMarket("SUP-TEST", 53)

	summary, err := sup.Summary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.TotalPositions != 1 {
		t.Fatalf("positions = %d, want 1", summary.TotalPositions)
	}
	if math.Abs(summary.TotalUnrealizedPnL-0.30) > 1e-9 {
		t.Errorf("unrealized pnl = %v, want 0.30", summary.TotalUnrealizedPnL)
	}
	if summary.Positions[0].CurrentPrice != 0.53 {
		t.Errorf("current price = %v, want 0.53", summary.Positions[0].CurrentPrice)
	}
}

func TestSupervisorDoubleCloseIsIdempotent(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore()
	sup, risk := newTestSupervisor(broker, store)

	trade := seedTrade(t, store, model.SideYes, 0.50, 10)
	broker.markets["SUP-TEST"] = openMarket("SUP-TEST", 60)

	// Simulate another process closing the trade between listing and the
	// supervisor's own close: the optimistic check reports not-open and
	// no result is recorded twice.
	if ok, err := store.CloseTrade(context.Background(), trade.ID, 0.60, model.CloseManual, 0, 1, time.Now()); err != nil || !ok {
		t.Fatalf("precondition close failed: ok=%v err=%v", ok, err)
	}
	if err := sup.closePosition(context.Background(), trade, 0.60, model.CloseProfitTarget); err != nil {
		t.Fatalf("second close must be a no-op, got %v", err)
	}

	if store.trades[0].CloseReason != model.CloseManual {
		t.Error("second close overwrote the first")
	}
	if risk.Governor.DailyPnL() != 0 {
		t.Error("lost race must not record a result")
	}
}
