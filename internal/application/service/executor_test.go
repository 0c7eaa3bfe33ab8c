package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"pmexec/internal/application/port"
	"pmexec/internal/domain/model"
	domain "pmexec/internal/domain/service"
)

// fakeBroker implements port.Broker with canned responses.
type fakeBroker struct {
	mu        sync.Mutex
	balance   model.Balance
	positions []model.BrokerPosition
	markets   map[string]*model.Market
	placed    []port.OrderRequest
	placeErr  error
	orderSeq  int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		balance: model.Balance{Available: 10000},
		markets: make(map[string]*model.Market),
	}
}

func (b *fakeBroker) GetMarkets(ctx context.Context, filter port.MarketFilter) ([]model.Market, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []model.Market
	for _, m := range b.markets {
		out = append(out, *m)
	}
	return out, nil
}

func (b *fakeBroker) GetMarket(ctx context.Context, ticker string) (*model.Market, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.markets[ticker]
	if !ok {
		return nil, errors.New("market not found: " + ticker)
	}
	cp := *m
	return &cp, nil
}

func (b *fakeBroker) GetOrderBook(ctx context.Context, ticker string, depth int) (*model.OrderBook, error) {
	return &model.OrderBook{}, nil
}

func (b *fakeBroker) GetPositions(ctx context.Context) ([]model.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.BrokerPosition(nil), b.positions...), nil
}

func (b *fakeBroker) GetBalance(ctx context.Context) (*model.Balance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := b.balance
	return &cp, nil
}

func (b *fakeBroker) PlaceOrder(ctx context.Context, req port.OrderRequest) (*model.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.placeErr != nil {
		return nil, b.placeErr
	}
	b.placed = append(b.placed, req)
	b.orderSeq++
	return &model.Order{
		OrderID:   fmt.Sprintf("order-%d", b.orderSeq),
		Ticker:    req.Ticker,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     req.LimitPrice,
		Status:    "resting",
		CreatedAt: time.Now(),
	}, nil
}

func (b *fakeBroker) CancelOrder(ctx context.Context, orderID string) error { return nil }

// fakeStore implements port.Store in memory.
type fakeStore struct {
	mu        sync.Mutex
	signals   []*model.Signal
	rejected  map[string]string
	executed  map[string]bool
	trades    []*model.Trade
	nextID    int64
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rejected: make(map[string]string),
		executed: make(map[string]bool),
	}
}

func (s *fakeStore) CreateSignal(ctx context.Context, sig *model.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
	return nil
}

func (s *fakeStore) ListPendingSignals(ctx context.Context, limit int) ([]*model.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*model.Signal
	for _, sig := range s.signals {
		if s.executed[sig.ID] {
			continue
		}
		if _, ok := s.rejected[sig.ID]; ok {
			continue
		}
		pending = append(pending, sig)
		if limit > 0 && len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (s *fakeStore) MarkSignalExecuted(ctx context.Context, signalID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed[signalID] = true
	return nil
}

func (s *fakeStore) MarkSignalRejected(ctx context.Context, signalID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[signalID] = reason
	return nil
}

func (s *fakeStore) CreateTrade(ctx context.Context, trade *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.nextID++
	trade.ID = s.nextID
	s.trades = append(s.trades, trade)
	return nil
}

func (s *fakeStore) CloseTrade(ctx context.Context, tradeID int64, exitPrice float64, reason model.CloseReason, fees, pnl float64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trades {
		if t.ID != tradeID {
			continue
		}
		if t.Status != model.TradeOpen {
			return false, nil
		}
		t.Status = model.TradeClosed
		t.ExitPrice = exitPrice
		t.CloseReason = reason
		t.Fees = fees
		t.PnL = pnl
		t.ClosedAt = at
		return true, nil
	}
	return false, errors.New("trade not found")
}

func (s *fakeStore) ListOpenTrades(ctx context.Context) ([]*model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var open []*model.Trade
	for _, t := range s.trades {
		if t.Status == model.TradeOpen {
			open = append(open, t)
		}
	}
	return open, nil
}

func (s *fakeStore) CountTradesSince(ctx context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.trades {
		if !t.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.trades {
		if t.Status == model.TradeOpen {
			n++
		}
	}
	return n
}

// fakeNotifier records every delivered alert.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(ctx context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func (n *fakeNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

func testExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		TradingEnabled: true,
		PaperMode:      true,
		Validator:      domain.ValidatorConfig{MinConfidence: 0.65, MinEdge: 0.05},
		Sizer:          domain.SizerConfig{KellyFraction: 0.25, MaxPositionSizeUSD: 500, MaxPortfolioHeat: 0.20},
	}
}

func testRiskState() *RiskState {
	return NewRiskState(RiskStateConfig{
		ConsecutiveLosses: 3,
		Governor: domain.GovernorConfig{
			MaxTradesPerHour:  5,
			MaxTradesPerDay:   10,
			MaxDailyLoss:      200,
			CooldownAfterLoss: 30 * time.Minute,
		},
	}, nil)
}

func goodSignal(id string) *model.Signal {
	return &model.Signal{
		ID:           id,
		Source:       "scanner",
		Ticker:       "PRES-2026",
		Side:         model.SideYes,
		Confidence:   0.8,
		Edge:         0.30,
		CurrentPrice: 0.50,
		CreatedAt:    time.Now(),
	}
}

func TestExecuteHappyPath(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore()
	ex := NewExecutor(testExecutorConfig(), broker, store, testRiskState(), nil)

	trade, err := ex.Execute(context.Background(), goodSignal("sig-1"))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if trade.Status != model.TradeOpen {
		t.Errorf("status = %s, want open", trade.Status)
	}
	if trade.EntryPrice != 0.50 {
		t.Errorf("entry price = %v, want 0.50", trade.EntryPrice)
	}
	if len(broker.placed) != 1 {
		t.Fatalf("expected 1 order placed, got %d", len(broker.placed))
	}
	if broker.placed[0].LimitPrice != 50 {
		t.Errorf("limit price = %d, want 50", broker.placed[0].LimitPrice)
	}
	if !store.executed["sig-1"] {
		t.Error("signal not marked executed")
	}
}

func TestExecuteThinEdgeOpensMinimumTrade(t *testing.T) {
	// 6% edge at 80% confidence sizes to a zero dollar amount, but with
	// heat available the pipeline still opens a one-contract trade.
	broker := newFakeBroker()
	store := newFakeStore()
	ex := NewExecutor(testExecutorConfig(), broker, store, testRiskState(), nil)

	sig := goodSignal("sig-thin")
	sig.Edge = 0.06

	trade, err := ex.Execute(context.Background(), sig)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if trade.Status != model.TradeOpen {
		t.Errorf("status = %q, want open", trade.Status)
	}
	if trade.Quantity != 1 {
		t.Errorf("quantity = %d, want 1", trade.Quantity)
	}
	if len(broker.placed) != 1 {
		t.Fatalf("placed %d orders, want 1", len(broker.placed))
	}
	if !store.executed["sig-thin"] {
		t.Error("signal not marked executed")
	}
}

func TestExecuteDuplicateSignalRejected(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore()
	ex := NewExecutor(testExecutorConfig(), broker, store, testRiskState(), nil)

	if _, err := ex.Execute(context.Background(), goodSignal("sig-dup")); err != nil {
		t.Fatalf("first execute: %v", err)
	}

	_, err := ex.Execute(context.Background(), goodSignal("sig-dup"))
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
	if !strings.Contains(rej.Reason, "duplicate") {
		t.Errorf("reason = %q, want duplicate", rej.Reason)
	}
	if len(broker.placed) != 1 {
		t.Errorf("duplicate placed a second order")
	}
}

func TestExecuteTradingDisabled(t *testing.T) {
	cfg := testExecutorConfig()
	cfg.TradingEnabled = false
	ex := NewExecutor(cfg, newFakeBroker(), newFakeStore(), testRiskState(), nil)

	_, err := ex.Execute(context.Background(), goodSignal("sig-off"))
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
}

func TestExecuteLowConfidenceRejectedAndPersisted(t *testing.T) {
	store := newFakeStore()
	ex := NewExecutor(testExecutorConfig(), newFakeBroker(), store, testRiskState(), nil)

	sig := goodSignal("sig-low")
	sig.Confidence = 0.3
	_, err := ex.Execute(context.Background(), sig)
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
	if reason, ok := store.rejected["sig-low"]; !ok || reason == "" {
		t.Error("rejection reason not persisted")
	}
}

func TestExecuteBreakerBlocksAndAlerts(t *testing.T) {
	notifier := &fakeNotifier{}
	alerts := NewAlertDispatcher(notifier, 16)
	risk := testRiskState()
	ex := NewExecutor(testExecutorConfig(), newFakeBroker(), newFakeStore(), risk, alerts)

	// Three consecutive losses trip the breaker. The breaker is checked
	// before the governor, so cooldown never masks the trip reason.
	for n := 0; n < 3; n++ {
		risk.RecordResult(context.Background(), time.Now(), -40)
	}

	_, err := ex.Execute(context.Background(), goodSignal("sig-trip"))
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
	if !strings.Contains(rej.Reason, "circuit breaker") {
		t.Errorf("reason = %q, want circuit breaker", rej.Reason)
	}

	if err := alerts.Close(); err != nil {
		t.Fatalf("close dispatcher: %v", err)
	}
	var sawTrip, sawReject bool
	for _, msg := range notifier.all() {
		if strings.Contains(msg, "CIRCUIT BREAKER TRIPPED") {
			sawTrip = true
		}
		if strings.Contains(msg, "Signal rejected") {
			sawReject = true
		}
	}
	if !sawTrip {
		t.Error("trip alert not delivered")
	}
	if !sawReject {
		t.Error("rejection alert not delivered")
	}
}

func TestExecuteHourlyRateLimit(t *testing.T) {
	broker := newFakeBroker()
	store := newFakeStore()
	risk := testRiskState()
	ex := NewExecutor(testExecutorConfig(), broker, store, risk, nil)

	for i := 0; i < 5; i++ {
		if _, err := ex.Execute(context.Background(), goodSignal(fmt.Sprintf("sig-rate-%d", i))); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}

	_, err := ex.Execute(context.Background(), goodSignal("sig-rate-over"))
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
	if len(broker.placed) != 5 {
		t.Errorf("placed %d orders, want 5", len(broker.placed))
	}
}

func TestExecuteHeatCapRejects(t *testing.T) {
	broker := newFakeBroker()
	// $2000 of open exposure against a $10000 bankroll exhausts 20% heat.
	broker.positions = []model.BrokerPosition{{Ticker: "OTHER", Quantity: 4000, TotalCost: 200000}}
	ex := NewExecutor(testExecutorConfig(), broker, newFakeStore(), testRiskState(), nil)

	_, err := ex.Execute(context.Background(), goodSignal("sig-heat"))
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError, got %v", err)
	}
	if !strings.Contains(rej.Reason, "position size is zero") {
		t.Errorf("reason = %q, want zero size", rej.Reason)
	}
}

func TestExecutePlaceOrderFailureIsHardError(t *testing.T) {
	broker := newFakeBroker()
	broker.placeErr = errors.New("exchange unavailable")
	store := newFakeStore()
	risk := testRiskState()
	ex := NewExecutor(testExecutorConfig(), broker, store, risk, nil)

	_, err := ex.Execute(context.Background(), goodSignal("sig-fail"))
	if err == nil {
		t.Fatal("expected error")
	}
	var rej *RejectionError
	if errors.As(err, &rej) {
		t.Fatal("placement failure must not be a soft reject")
	}
	if store.openCount() != 0 {
		t.Error("no trade should be persisted on placement failure")
	}
	// The signal stays unexecuted so a retry is possible.
	if risk.Dedup.Seen("sig-fail") {
		t.Error("failed signal must not enter the dedup set")
	}
}

func TestExecuteMissingPriceDefaultsTo50(t *testing.T) {
	broker := newFakeBroker()
	ex := NewExecutor(testExecutorConfig(), broker, newFakeStore(), testRiskState(), nil)

	sig := goodSignal("sig-noprice")
	sig.CurrentPrice = 0
	if _, err := ex.Execute(context.Background(), sig); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if broker.placed[0].LimitPrice != 50 {
		t.Errorf("limit price = %d, want 50", broker.placed[0].LimitPrice)
	}
}
