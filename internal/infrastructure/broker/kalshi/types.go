package kalshi

import (
	"fmt"
	"time"

	"pmexec/internal/domain/model"
)

// ParseError reports a broker payload missing a mandatory field. Parsing
// fails loudly instead of defaulting so malformed exchange data never
// reaches the sizing math.
type ParseError struct {
	Entity string
	Field  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("kalshi: %s payload missing %q", e.Entity, e.Field)
}

type marketRecord struct {
	Ticker       string `json:"ticker"`
	Title        string `json:"title"`
	Category     string `json:"category"`
	Status       string `json:"status"`
	YesBid       int    `json:"yes_bid"`
	YesAsk       int    `json:"yes_ask"`
	NoBid        int    `json:"no_bid"`
	NoAsk        int    `json:"no_ask"`
	LastPrice    int    `json:"last_price"`
	Volume       int64  `json:"volume"`
	OpenInterest int64  `json:"open_interest"`
	CloseTime    string `json:"close_time"`
}

func (r *marketRecord) toModel() (*model.Market, error) {
	if r.Ticker == "" {
		return nil, &ParseError{Entity: "market", Field: "ticker"}
	}
	if r.Status == "" {
		return nil, &ParseError{Entity: "market", Field: "status"}
	}
	m := &model.Market{
		Ticker:       r.Ticker,
		Title:        r.Title,
		Category:     r.Category,
		Status:       model.MarketStatus(r.Status),
		YesBid:       r.YesBid,
		YesAsk:       r.YesAsk,
		NoBid:        r.NoBid,
		NoAsk:        r.NoAsk,
		LastPrice:    r.LastPrice,
		Volume:       r.Volume,
		OpenInterest: r.OpenInterest,
	}
	if r.CloseTime != "" {
		t, err := time.Parse(time.RFC3339, r.CloseTime)
		if err != nil {
			return nil, &ParseError{Entity: "market", Field: "close_time"}
		}
		m.CloseTime = t
	}
	return m, nil
}

type marketsResponse struct {
	Markets []marketRecord `json:"markets"`
	Cursor  string         `json:"cursor"`
}

type marketResponse struct {
	Market *marketRecord `json:"market"`
}

type bookLevel struct {
	Price int `json:"price"`
	Count int `json:"count"`
}

type bookSide struct {
	Bids []bookLevel `json:"bids"`
	Asks []bookLevel `json:"asks"`
}

type orderbookResponse struct {
	Orderbook struct {
		Yes bookSide `json:"yes"`
		No  bookSide `json:"no"`
	} `json:"orderbook"`
}

func (r *orderbookResponse) toModel() *model.OrderBook {
	conv := func(in []bookLevel) []model.PriceLevel {
		out := make([]model.PriceLevel, 0, len(in))
		for _, l := range in {
			out = append(out, model.PriceLevel{Price: l.Price, Count: l.Count})
		}
		return out
	}
	return &model.OrderBook{
		YesBids: conv(r.Orderbook.Yes.Bids),
		YesAsks: conv(r.Orderbook.Yes.Asks),
		NoBids:  conv(r.Orderbook.No.Bids),
		NoAsks:  conv(r.Orderbook.No.Asks),
	}
}

type orderRecord struct {
	OrderID     string `json:"order_id"`
	Ticker      string `json:"ticker"`
	Side        string `json:"side"`
	Count       int    `json:"count"`
	Price       int    `json:"price"`
	Status      string `json:"status"`
	FilledCount int    `json:"filled_count"`
	CreatedTime string `json:"created_time"`
}

func (r *orderRecord) toModel() (*model.Order, error) {
	if r.OrderID == "" {
		return nil, &ParseError{Entity: "order", Field: "order_id"}
	}
	o := &model.Order{
		OrderID:   r.OrderID,
		Ticker:    r.Ticker,
		Side:      model.Side(r.Side),
		Quantity:  r.Count,
		Price:     r.Price,
		Status:    r.Status,
		FilledQty: r.FilledCount,
	}
	if r.CreatedTime != "" {
		if t, err := time.Parse(time.RFC3339, r.CreatedTime); err == nil {
			o.CreatedAt = t
		}
	}
	return o, nil
}

type orderResponse struct {
	Order *orderRecord `json:"order"`
}

type ordersResponse struct {
	Orders []orderRecord `json:"orders"`
}

type positionRecord struct {
	Ticker      string `json:"ticker"`
	Position    int    `json:"position"`
	TotalTraded int64  `json:"total_traded"`
}

type positionsResponse struct {
	Positions []positionRecord `json:"positions"`
}

type balanceResponse struct {
	Balance int64 `json:"balance"` // cents
	Payout  int64 `json:"payout"`  // cents
}

type fillRecord struct {
	TradeID     string `json:"trade_id"`
	Ticker      string `json:"ticker"`
	Side        string `json:"side"`
	Count       int    `json:"count"`
	Price       int    `json:"price"`
	CreatedTime string `json:"created_time"`
}

type fillsResponse struct {
	Fills []fillRecord `json:"fills"`
}

type historyResponse struct {
	History []struct {
		Ts        int64 `json:"ts"`
		LastPrice int   `json:"last_price"`
	} `json:"history"`
}

type orderPayload struct {
	Ticker   string `json:"ticker"`
	Action   string `json:"action"`
	Side     string `json:"side"`
	Count    int    `json:"count"`
	Type     string `json:"type"`
	YesPrice *int   `json:"yes_price,omitempty"`
	NoPrice  *int   `json:"no_price,omitempty"`
}
