package model

import "time"

// Side is the side of a binary-outcome contract.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Valid reports whether the side is one of the two market conventions.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Opposite returns the closing side for an open position.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// TradeStatus is the lifecycle state of a trade. A trade transitions
// open -> closed exactly once; no other transitions exist.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// CloseReason explains why a position was exited.
type CloseReason string

const (
	CloseProfitTarget CloseReason = "profit_target"
	CloseStopLoss     CloseReason = "stop_loss"
	CloseTimeDecay    CloseReason = "time_decay"
	CloseMarketClosed CloseReason = "market_closed"
	CloseManual       CloseReason = "manual"
)

// Signal is a probabilistic trading signal produced by an upstream
// detector. Immutable once created; consumed at most once by the
// execution pipeline.
type Signal struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Ticker       string    `json:"ticker"`
	Side         Side      `json:"side"`
	Type         string    `json:"type"`
	Confidence   float64   `json:"confidence"`    // [0,1], used as win probability
	Edge         float64   `json:"edge"`          // [0,1] probability delta vs fair value
	CurrentPrice float64   `json:"current_price"` // dollars per contract, 0 when unknown
	FairValue    float64   `json:"fair_value"`    // dollars per contract
	Reasoning    string    `json:"reasoning"`
	EventID      string    `json:"event_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Trade is an executed position owned by the persistent store.
// Created by the execution gateway, closed by the supervisor.
type Trade struct {
	ID          int64       `json:"id"`
	SignalID    string      `json:"signal_id"`
	OrderID     string      `json:"order_id"`
	Ticker      string      `json:"ticker"`
	Side        Side        `json:"side"`
	Quantity    int         `json:"quantity"`
	EntryPrice  float64     `json:"entry_price"` // dollars, [0.01,0.99]
	Status      TradeStatus `json:"status"`
	ExitPrice   float64     `json:"exit_price,omitempty"`
	CloseReason CloseReason `json:"close_reason,omitempty"`
	Fees        float64     `json:"fees"`
	PnL         float64     `json:"pnl"`
	CreatedAt   time.Time   `json:"created_at"`
	ClosedAt    time.Time   `json:"closed_at,omitempty"`
}

// UnrealizedPnL computes the signed mark-to-market P&L at the given price.
func (t *Trade) UnrealizedPnL(currentPrice float64) float64 {
	per := currentPrice - t.EntryPrice
	if t.Side == SideNo {
		per = -per
	}
	return per * float64(t.Quantity)
}

// PnLPct returns per-contract P&L as a fraction of the entry price.
func (t *Trade) PnLPct(currentPrice float64) float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	per := currentPrice - t.EntryPrice
	if t.Side == SideNo {
		per = -per
	}
	return per / t.EntryPrice
}

// MarketStatus is the broker-side lifecycle state of a market.
type MarketStatus string

const (
	MarketOpen    MarketStatus = "open"
	MarketClosed  MarketStatus = "closed"
	MarketSettled MarketStatus = "settled"
)

// Market is a single binary-outcome market as reported by the broker.
type Market struct {
	Ticker       string       `json:"ticker"`
	Title        string       `json:"title"`
	Category     string       `json:"category"`
	Status       MarketStatus `json:"status"`
	YesBid       int          `json:"yes_bid"` // cents
	YesAsk       int          `json:"yes_ask"`
	NoBid        int          `json:"no_bid"`
	NoAsk        int          `json:"no_ask"`
	LastPrice    int          `json:"last_price"` // cents, 0 when never traded
	Volume       int64        `json:"volume"`
	OpenInterest int64        `json:"open_interest"`
	CloseTime    time.Time    `json:"close_time"`
}

// Tradable reports whether orders can still be placed on the market.
func (m *Market) Tradable() bool {
	return m.Status == MarketOpen
}

// CurrentPrice returns the best price estimate in dollars: last traded
// price, falling back to the yes bid.
func (m *Market) CurrentPrice() float64 {
	if m.LastPrice > 0 {
		return float64(m.LastPrice) / 100
	}
	return float64(m.YesBid) / 100
}

// PriceLevel is one level of an order book side.
type PriceLevel struct {
	Price int `json:"price"` // cents
	Count int `json:"count"`
}

// OrderBook holds resting liquidity for both sides of a market.
type OrderBook struct {
	YesBids []PriceLevel `json:"yes_bids"`
	YesAsks []PriceLevel `json:"yes_asks"`
	NoBids  []PriceLevel `json:"no_bids"`
	NoAsks  []PriceLevel `json:"no_asks"`
}

// BestBid returns the top bid for a side, or false when the book is empty.
func (b *OrderBook) BestBid(side Side) (PriceLevel, bool) {
	levels := b.YesBids
	if side == SideNo {
		levels = b.NoBids
	}
	if len(levels) == 0 {
		return PriceLevel{}, false
	}
	return levels[0], true
}

// BestAsk returns the top ask for a side, or false when the book is empty.
func (b *OrderBook) BestAsk(side Side) (PriceLevel, bool) {
	levels := b.YesAsks
	if side == SideNo {
		levels = b.NoAsks
	}
	if len(levels) == 0 {
		return PriceLevel{}, false
	}
	return levels[0], true
}

// Spread returns the bid/ask gap in cents for a side. A one-sided book
// yields a very large spread rather than an error.
func (b *OrderBook) Spread(side Side) int {
	bid, okBid := b.BestBid(side)
	ask, okAsk := b.BestAsk(side)
	if !okBid || !okAsk {
		return 100
	}
	return ask.Price - bid.Price
}

// Order is a broker-acknowledged order.
type Order struct {
	OrderID   string    `json:"order_id"`
	Ticker    string    `json:"ticker"`
	Side      Side      `json:"side"`
	Quantity  int       `json:"quantity"`
	Price     int       `json:"price"` // cents
	Status    string    `json:"status"`
	FilledQty int       `json:"filled_qty"`
	CreatedAt time.Time `json:"created_at"`
}

// BrokerPosition is an open position as reported by the broker, distinct
// from the locally persisted Trade.
type BrokerPosition struct {
	Ticker    string `json:"ticker"`
	Quantity  int    `json:"quantity"`
	TotalCost int64  `json:"total_cost"` // cents
}

// Fill is an executed portion of an order.
type Fill struct {
	TradeID   string    `json:"trade_id"`
	Ticker    string    `json:"ticker"`
	Side      Side      `json:"side"`
	Quantity  int       `json:"quantity"`
	Price     int       `json:"price"` // cents
	CreatedAt time.Time `json:"created_at"`
}

// Balance is the account state used for sizing.
type Balance struct {
	Available float64 `json:"available"` // dollars
	Exposure  float64 `json:"exposure"`  // dollars at risk across open positions
}

// PricePoint is one observation of a market's price history.
type PricePoint struct {
	Ts    time.Time `json:"ts"`
	Price int       `json:"price"` // cents
}

// PriceTick is a streaming price update from the market data feed.
type PriceTick struct {
	Ticker string
	Price  int // cents
	Ts     int64
}
