package port

import (
	"context"
	"time"

	"pmexec/internal/domain/model"
)

// Store persists signals and trades. Shared between the execution gateway
// (creates trades) and the position supervisor (closes trades).
type Store interface {
	// Signal operations
	CreateSignal(ctx context.Context, sig *model.Signal) error
	MarkSignalExecuted(ctx context.Context, signalID string, at time.Time) error
	MarkSignalRejected(ctx context.Context, signalID, reason string) error
	// ListPendingSignals returns signals that were persisted by an upstream
	// producer but not yet executed or rejected, oldest first.
	ListPendingSignals(ctx context.Context, limit int) ([]*model.Signal, error)

	// Trade operations
	CreateTrade(ctx context.Context, trade *model.Trade) error
	// CloseTrade transitions a trade open -> closed, guarded by an
	// optimistic status check: it reports false when the trade was not
	// open anymore, so a concurrent close never applies twice.
	CloseTrade(ctx context.Context, tradeID int64, exitPrice float64, reason model.CloseReason, fees, pnl float64, at time.Time) (bool, error)
	ListOpenTrades(ctx context.Context) ([]*model.Trade, error)
	CountTradesSince(ctx context.Context, since time.Time) (int, error)

	Close() error
}
