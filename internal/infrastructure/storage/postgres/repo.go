package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"pmexec/internal/application/port"
	"pmexec/internal/domain/model"
)

// Repo is the postgres-backed Store, selected by storage.driver for
// deployments where several processes share one trade ledger.
type Repo struct {
	db *sql.DB
}

var _ port.Store = (*Repo)(nil)

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS signals (
  id TEXT PRIMARY KEY,
  source TEXT NOT NULL,
  ticker TEXT NOT NULL,
  side TEXT NOT NULL,
  signal_type TEXT NOT NULL DEFAULT '',
  confidence DOUBLE PRECISION NOT NULL,
  edge DOUBLE PRECISION NOT NULL,
  current_price DOUBLE PRECISION NOT NULL DEFAULT 0,
  fair_value DOUBLE PRECISION NOT NULL DEFAULT 0,
  reasoning TEXT NOT NULL DEFAULT '',
  event_id TEXT NOT NULL DEFAULT '',
  executed BOOLEAN NOT NULL DEFAULT FALSE,
  executed_at TIMESTAMPTZ,
  rejected BOOLEAN NOT NULL DEFAULT FALSE,
  rejection_reason TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_ticker ON signals(ticker);

CREATE TABLE IF NOT EXISTS trades (
  id BIGSERIAL PRIMARY KEY,
  signal_id TEXT NOT NULL,
  order_id TEXT NOT NULL,
  ticker TEXT NOT NULL,
  side TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  entry_price DOUBLE PRECISION NOT NULL,
  status TEXT NOT NULL,
  exit_price DOUBLE PRECISION,
  close_reason TEXT,
  fees DOUBLE PRECISION NOT NULL DEFAULT 0,
  pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL,
  closed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
CREATE INDEX IF NOT EXISTS idx_trades_created ON trades(created_at);
`)
	return err
}

func (r *Repo) CreateSignal(ctx context.Context, sig *model.Signal) error {
	createdAt := sig.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO signals(id, source, ticker, side, signal_type, confidence, edge,
  current_price, fair_value, reasoning, event_id, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT(id) DO NOTHING`,
		sig.ID, sig.Source, sig.Ticker, string(sig.Side), sig.Type,
		sig.Confidence, sig.Edge, sig.CurrentPrice, sig.FairValue,
		sig.Reasoning, sig.EventID, createdAt)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

func (r *Repo) MarkSignalExecuted(ctx context.Context, signalID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE signals SET executed = TRUE, executed_at = $1 WHERE id = $2`, at, signalID)
	if err != nil {
		return fmt.Errorf("mark signal executed: %w", err)
	}
	return nil
}

func (r *Repo) MarkSignalRejected(ctx context.Context, signalID, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE signals SET rejected = TRUE, rejection_reason = $1 WHERE id = $2`, reason, signalID)
	if err != nil {
		return fmt.Errorf("mark signal rejected: %w", err)
	}
	return nil
}

func (r *Repo) ListPendingSignals(ctx context.Context, limit int) ([]*model.Signal, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, source, ticker, side, signal_type, confidence, edge,
  current_price, fair_value, reasoning, event_id, created_at
FROM signals WHERE executed = FALSE AND rejected = FALSE
ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending signals: %w", err)
	}
	defer rows.Close()

	var signals []*model.Signal
	for rows.Next() {
		var sig model.Signal
		var side string
		if err := rows.Scan(&sig.ID, &sig.Source, &sig.Ticker, &side, &sig.Type,
			&sig.Confidence, &sig.Edge, &sig.CurrentPrice, &sig.FairValue,
			&sig.Reasoning, &sig.EventID, &sig.CreatedAt); err != nil {
			return nil, err
		}
		sig.Side = model.Side(side)
		signals = append(signals, &sig)
	}
	return signals, rows.Err()
}

func (r *Repo) CreateTrade(ctx context.Context, trade *model.Trade) error {
	createdAt := trade.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
		trade.CreatedAt = createdAt
	}
	err := r.db.QueryRowContext(ctx, `
INSERT INTO trades(signal_id, order_id, ticker, side, quantity, entry_price, status, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`,
		trade.SignalID, trade.OrderID, trade.Ticker, string(trade.Side),
		trade.Quantity, trade.EntryPrice, string(trade.Status), createdAt).Scan(&trade.ID)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (r *Repo) CloseTrade(ctx context.Context, tradeID int64, exitPrice float64, reason model.CloseReason, fees, pnl float64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE trades
SET status = 'closed', exit_price = $1, close_reason = $2, fees = $3, pnl = $4, closed_at = $5
WHERE id = $6 AND status = 'open'`,
		exitPrice, string(reason), fees, pnl, at, tradeID)
	if err != nil {
		return false, fmt.Errorf("close trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Repo) ListOpenTrades(ctx context.Context) ([]*model.Trade, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, signal_id, order_id, ticker, side, quantity, entry_price, status, created_at
FROM trades WHERE status = 'open' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list open trades: %w", err)
	}
	defer rows.Close()

	var trades []*model.Trade
	for rows.Next() {
		var t model.Trade
		var side, status string
		if err := rows.Scan(&t.ID, &t.SignalID, &t.OrderID, &t.Ticker, &side,
			&t.Quantity, &t.EntryPrice, &status, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Side = model.Side(side)
		t.Status = model.TradeStatus(status)
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

func (r *Repo) CountTradesSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE created_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return n, nil
}
