package port

import "context"

// RiskSnapshot is the externally visible risk state of one process.
type RiskSnapshot struct {
	ConsecutiveLosses int
	DailyTrades       int
	DailyPnL          float64
	Tripped           bool
}

// RiskJournal mirrors risk-state transitions into a shared store so that
// more than one execution process can observe a single authoritative
// counter set. The in-process state remains the source of truth for a
// single instance; the journal is write-through.
type RiskJournal interface {
	RecordTrade(ctx context.Context) error
	RecordResult(ctx context.Context, pnl float64) error
	SetTripped(ctx context.Context, tripped bool) error
	ResetDaily(ctx context.Context) error
	Snapshot(ctx context.Context) (RiskSnapshot, error)
	Close() error
}
