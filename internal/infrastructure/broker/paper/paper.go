package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"pmexec/internal/application/port"
	"pmexec/internal/domain/model"
)

const (
	startingCapital = 10000.0 // dollars
	fillRate        = 0.95
	slippageCents   = 1
	closeFeeRate    = 0.07 // charged on profits only
)

// MarketData is the read side of a broker: paper trading still needs real
// quotes even though orders never leave the process.
type MarketData interface {
	GetMarkets(ctx context.Context, filter port.MarketFilter) ([]model.Market, error)
	GetMarket(ctx context.Context, ticker string) (*model.Market, error)
	GetOrderBook(ctx context.Context, ticker string, depth int) (*model.OrderBook, error)
}

type position struct {
	ticker    string
	side      model.Side
	quantity  int
	totalCost int64 // cents
}

func (p *position) avgPrice() float64 {
	if p.quantity == 0 {
		return 0
	}
	return float64(p.totalCost) / float64(p.quantity)
}

// Engine simulates execution against a $10,000 bankroll: orders fill at
// 95%, pay one cent of slippage below 90c, and closes pay a 7% fee on the
// profit. Positions are a VWAP ledger keyed by (ticker, side); an order
// on the opposite side of an open position closes it.
type Engine struct {
	markets MarketData // nil falls back to observed tick prices

	mu        sync.Mutex
	positions map[string]*position
	ticks     map[string]int // ticker -> last observed cents
	totalPnL  float64
	trades    int
	wins      int
	losses    int
}

var _ port.Broker = (*Engine)(nil)

// NewEngine builds the simulator. markets may be nil when no live quote
// source is configured; GetMarket then serves synthetic markets from
// observed feed prices.
func NewEngine(markets MarketData) *Engine {
	log.Info().Float64("starting_capital", startingCapital).Msg("paper trading enabled, no real money at risk")
	return &Engine{
		markets:   markets,
		positions: make(map[string]*position),
		ticks:     make(map[string]int),
	}
}

func posKey(ticker string, side model.Side) string {
	return ticker + "_" + string(side)
}

// Observe records a feed price for synthetic market fallback.
func (e *Engine) Observe(tick model.PriceTick) {
	if tick.Price < 1 || tick.Price > 99 {
		return
	}
	e.mu.Lock()
	e.ticks[tick.Ticker] = tick.Price
	e.mu.Unlock()
}

func (e *Engine) GetMarkets(ctx context.Context, filter port.MarketFilter) ([]model.Market, error) {
	if e.markets != nil {
		return e.markets.GetMarkets(ctx, filter)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Market, 0, len(e.ticks))
	for ticker, price := range e.ticks {
		out = append(out, *syntheticMarket(ticker, price))
	}
	return out, nil
}

func (e *Engine) GetMarket(ctx context.Context, ticker string) (*model.Market, error) {
	if e.markets != nil {
		return e.markets.GetMarket(ctx, ticker)
	}
	e.mu.Lock()
	price, ok := e.ticks[ticker]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("paper: no price observed for %s", ticker)
	}
	return syntheticMarket(ticker, price), nil
}

func syntheticMarket(ticker string, price int) *model.Market {
	return &model.Market{
		Ticker:    ticker,
		Status:    model.MarketOpen,
		LastPrice: price,
		YesBid:    price,
		CloseTime: time.Now().Add(24 * time.Hour),
	}
}

func (e *Engine) GetOrderBook(ctx context.Context, ticker string, depth int) (*model.OrderBook, error) {
	if e.markets != nil {
		return e.markets.GetOrderBook(ctx, ticker, depth)
	}
	return &model.OrderBook{}, nil
}

func (e *Engine) GetPositions(ctx context.Context) ([]model.BrokerPosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []model.BrokerPosition
	for _, p := range e.positions {
		if p.quantity > 0 {
			out = append(out, model.BrokerPosition{
				Ticker:    p.ticker,
				Quantity:  p.quantity,
				TotalCost: p.totalCost,
			})
		}
	}
	return out, nil
}

func (e *Engine) GetBalance(ctx context.Context) (*model.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exposure := e.exposureLocked()
	return &model.Balance{
		Available: startingCapital - exposure + e.totalPnL,
		Exposure:  exposure,
	}, nil
}

func (e *Engine) exposureLocked() float64 {
	var total float64
	for _, p := range e.positions {
		total += float64(p.totalCost) / 100
	}
	return total
}

// PlaceOrder simulates a fill. An order on the opposite side of an open
// position on the same ticker closes that position at the order price;
// otherwise the fill opens or extends a position at the slipped price.
func (e *Engine) PlaceOrder(ctx context.Context, req port.OrderRequest) (*model.Order, error) {
	if !req.Side.Valid() {
		return nil, fmt.Errorf("invalid side %q", req.Side)
	}
	if req.LimitPrice < 1 || req.LimitPrice > 99 {
		return nil, fmt.Errorf("invalid price %d, must be 1-99 cents", req.LimitPrice)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("invalid quantity %d", req.Quantity)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	orderID := "PAPER_" + uuid.NewString()[:16]
	order := &model.Order{
		OrderID:   orderID,
		Ticker:    req.Ticker,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     req.LimitPrice,
		Status:    "resting",
		CreatedAt: time.Now(),
	}
	e.trades++

	if opp, ok := e.positions[posKey(req.Ticker, req.Side.Opposite())]; ok && opp.quantity > 0 {
		closed := e.closeLocked(opp, req.Quantity, req.LimitPrice)
		order.FilledQty = closed
		if closed == req.Quantity {
			order.Status = "filled"
		} else {
			order.Status = "partial"
			log.Warn().
				Str("ticker", req.Ticker).
				Int("requested", req.Quantity).
				Int("closed", closed).
				Msg("closing order exceeds open position")
		}
		return order, nil
	}

	filled := int(float64(req.Quantity) * fillRate)
	if filled == 0 {
		order.Status = "canceled"
		log.Warn().Str("ticker", req.Ticker).Msg("paper order not filled")
		return order, nil
	}

	fillPrice := req.LimitPrice
	if fillPrice < 90 {
		fillPrice += slippageCents
	}

	key := posKey(req.Ticker, req.Side)
	pos, ok := e.positions[key]
	if !ok {
		pos = &position{ticker: req.Ticker, side: req.Side}
		e.positions[key] = pos
	}
	pos.quantity += filled
	pos.totalCost += int64(filled * fillPrice)

	order.FilledQty = filled
	if filled == req.Quantity {
		order.Status = "filled"
	} else {
		order.Status = "partial"
	}

	log.Info().
		Str("ticker", req.Ticker).
		Str("side", string(req.Side)).
		Int("filled", filled).
		Int("fill_price", fillPrice).
		Float64("avg_price", pos.avgPrice()).
		Msg("paper fill")

	return order, nil
}

// closeLocked realizes P&L for up to quantity contracts of pos at
// exitPrice and returns how many contracts it actually closed. P&L is
// signed by the position side; the close fee applies to profits only.
func (e *Engine) closeLocked(pos *position, quantity, exitPrice int) int {
	closeQty := min(quantity, pos.quantity)
	avg := pos.avgPrice()

	perContract := float64(exitPrice) - avg
	if pos.side == model.SideNo {
		perContract = -perContract
	}
	grossPnL := perContract * float64(closeQty) / 100

	var fees float64
	if grossPnL > 0 {
		fees = grossPnL * closeFeeRate
	}
	netPnL := grossPnL - fees
	e.totalPnL += netPnL
	if netPnL > 0 {
		e.wins++
	} else if netPnL < 0 {
		e.losses++
	}

	pos.totalCost -= int64(float64(closeQty) * avg)
	pos.quantity -= closeQty
	if pos.quantity == 0 {
		pos.totalCost = 0
	}

	log.Info().
		Str("ticker", pos.ticker).
		Str("side", string(pos.side)).
		Int("quantity", closeQty).
		Int("exit_price", exitPrice).
		Float64("pnl", netPnL).
		Float64("fees", fees).
		Msg("paper close")

	return closeQty
}

func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	// paper fills are instant, nothing rests
	return nil
}

// Summary is the simulator's aggregate performance view.
type Summary struct {
	TotalOrders   int
	Wins          int
	Losses        int
	WinRate       float64
	TotalPnL      float64
	OpenPositions int
	Balance       float64
	ReturnPct     float64
}

func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	open := 0
	for _, p := range e.positions {
		if p.quantity > 0 {
			open++
		}
	}
	s := Summary{
		TotalOrders:   e.trades,
		Wins:          e.wins,
		Losses:        e.losses,
		TotalPnL:      e.totalPnL,
		OpenPositions: open,
		Balance:       startingCapital - e.exposureLocked() + e.totalPnL,
		ReturnPct:     e.totalPnL / startingCapital * 100,
	}
	if closed := e.wins + e.losses; closed > 0 {
		s.WinRate = float64(e.wins) / float64(closed)
	}
	return s
}

// LogSummary writes the performance summary to the log.
func (e *Engine) LogSummary() {
	s := e.Summary()
	log.Info().
		Int("orders", s.TotalOrders).
		Int("wins", s.Wins).
		Int("losses", s.Losses).
		Float64("win_rate", s.WinRate).
		Float64("total_pnl", s.TotalPnL).
		Int("open_positions", s.OpenPositions).
		Float64("balance", s.Balance).
		Float64("return_pct", s.ReturnPct).
		Msg("paper trading summary")
}
