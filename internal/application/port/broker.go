package port

import (
	"context"

	"pmexec/internal/domain/model"
)

// MarketFilter narrows a markets listing.
type MarketFilter struct {
	Status   model.MarketStatus
	Limit    int
	Category string
}

// OrderRequest is a request to place a limit order.
type OrderRequest struct {
	Ticker     string
	Side       model.Side
	Quantity   int
	LimitPrice int // cents, 1-99
	OrderType  string
}

// Broker places and cancels orders and reports account state. The live
// exchange client and the paper-trading simulator implement the same
// contract.
type Broker interface {
	GetMarkets(ctx context.Context, filter MarketFilter) ([]model.Market, error)
	GetMarket(ctx context.Context, ticker string) (*model.Market, error)
	GetOrderBook(ctx context.Context, ticker string, depth int) (*model.OrderBook, error)
	GetPositions(ctx context.Context) ([]model.BrokerPosition, error)
	GetBalance(ctx context.Context) (*model.Balance, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*model.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}
