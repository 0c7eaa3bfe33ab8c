package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"pmexec/internal/application/port"
	"pmexec/internal/domain/model"
)

type Repo struct {
	db *sql.DB
}

var _ port.Store = (*Repo)(nil)

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

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
  confidence REAL NOT NULL,
  edge REAL NOT NULL,
  current_price REAL NOT NULL DEFAULT 0,
  fair_value REAL NOT NULL DEFAULT 0,
  reasoning TEXT NOT NULL DEFAULT '',
  event_id TEXT NOT NULL DEFAULT '',
  executed INTEGER NOT NULL DEFAULT 0,
  executed_at INTEGER,
  rejected INTEGER NOT NULL DEFAULT 0,
  rejection_reason TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_ticker ON signals(ticker);
CREATE INDEX IF NOT EXISTS idx_signals_created ON signals(created_at);

CREATE TABLE IF NOT EXISTS trades (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  signal_id TEXT NOT NULL,
  order_id TEXT NOT NULL,
  ticker TEXT NOT NULL,
  side TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  entry_price REAL NOT NULL,
  status TEXT NOT NULL,
  exit_price REAL,
  close_reason TEXT,
  fees REAL NOT NULL DEFAULT 0,
  pnl REAL NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  closed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
CREATE INDEX IF NOT EXISTS idx_trades_ticker ON trades(ticker);
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
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`,
		sig.ID, sig.Source, sig.Ticker, string(sig.Side), sig.Type,
		sig.Confidence, sig.Edge, sig.CurrentPrice, sig.FairValue,
		sig.Reasoning, sig.EventID, createdAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

func (r *Repo) MarkSignalExecuted(ctx context.Context, signalID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE signals SET executed = 1, executed_at = ? WHERE id = ?`,
		at.UnixMilli(), signalID)
	if err != nil {
		return fmt.Errorf("mark signal executed: %w", err)
	}
	return nil
}

func (r *Repo) MarkSignalRejected(ctx context.Context, signalID, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE signals SET rejected = 1, rejection_reason = ? WHERE id = ?`,
		reason, signalID)
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
FROM signals WHERE executed = 0 AND rejected = 0
ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending signals: %w", err)
	}
	defer rows.Close()

	var signals []*model.Signal
	for rows.Next() {
		var sig model.Signal
		var side string
		var createdMs int64
		if err := rows.Scan(&sig.ID, &sig.Source, &sig.Ticker, &side, &sig.Type,
			&sig.Confidence, &sig.Edge, &sig.CurrentPrice, &sig.FairValue,
			&sig.Reasoning, &sig.EventID, &createdMs); err != nil {
			return nil, err
		}
		sig.Side = model.Side(side)
		sig.CreatedAt = time.UnixMilli(createdMs)
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
	res, err := r.db.ExecContext(ctx, `
INSERT INTO trades(signal_id, order_id, ticker, side, quantity, entry_price, status, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.SignalID, trade.OrderID, trade.Ticker, string(trade.Side),
		trade.Quantity, trade.EntryPrice, string(trade.Status), createdAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("trade id: %w", err)
	}
	trade.ID = id
	return nil
}

// CloseTrade transitions open -> closed guarded by the status check. The
// returned bool reports whether this call performed the transition.
func (r *Repo) CloseTrade(ctx context.Context, tradeID int64, exitPrice float64, reason model.CloseReason, fees, pnl float64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE trades
SET status = 'closed', exit_price = ?, close_reason = ?, fees = ?, pnl = ?, closed_at = ?
WHERE id = ? AND status = 'open'`,
		exitPrice, string(reason), fees, pnl, at.UnixMilli(), tradeID)
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
		var createdMs int64
		if err := rows.Scan(&t.ID, &t.SignalID, &t.OrderID, &t.Ticker, &side,
			&t.Quantity, &t.EntryPrice, &status, &createdMs); err != nil {
			return nil, err
		}
		t.Side = model.Side(side)
		t.Status = model.TradeStatus(status)
		t.CreatedAt = time.UnixMilli(createdMs)
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

func (r *Repo) CountTradesSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trades WHERE created_at >= ?`, since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return n, nil
}

// GetTrade loads a single trade by id, closed or open.
func (r *Repo) GetTrade(ctx context.Context, tradeID int64) (*model.Trade, error) {
	var t model.Trade
	var side, status string
	var reason sql.NullString
	var exit sql.NullFloat64
	var createdMs int64
	var closedMs sql.NullInt64

	err := r.db.QueryRowContext(ctx, `
SELECT id, signal_id, order_id, ticker, side, quantity, entry_price, status,
  exit_price, close_reason, fees, pnl, created_at, closed_at
FROM trades WHERE id = ?`, tradeID).Scan(
		&t.ID, &t.SignalID, &t.OrderID, &t.Ticker, &side, &t.Quantity,
		&t.EntryPrice, &status, &exit, &reason, &t.Fees, &t.PnL, &createdMs, &closedMs)
	if err != nil {
		return nil, fmt.Errorf("get trade: %w", err)
	}
	t.Side = model.Side(side)
	t.Status = model.TradeStatus(status)
	if exit.Valid {
		t.ExitPrice = exit.Float64
	}
	if reason.Valid {
		t.CloseReason = model.CloseReason(reason.String)
	}
	t.CreatedAt = time.UnixMilli(createdMs)
	if closedMs.Valid {
		t.ClosedAt = time.UnixMilli(closedMs.Int64)
	}
	return &t, nil
}
