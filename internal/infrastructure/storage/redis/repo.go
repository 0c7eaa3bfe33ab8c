package redis

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pmexec/internal/application/port"
)

// RiskJournal mirrors the process-local risk counters into redis so
// several execution processes can observe one authoritative counter set.
// The daily P&L is stored as integer micro-dollars because INCRBY is
// atomic and floats are not.
type RiskJournal struct {
	rdb    *redis.Client
	prefix string
}

var _ port.RiskJournal = (*RiskJournal)(nil)

func NewRiskJournal(rdb *redis.Client, prefix string) *RiskJournal {
	if strings.TrimSpace(prefix) == "" {
		prefix = "pmexec:risk"
	}
	return &RiskJournal{rdb: rdb, prefix: prefix}
}

func (j *RiskJournal) key(name string) string { return j.prefix + ":" + name }

func (j *RiskJournal) RecordTrade(ctx context.Context) error {
	pipe := j.rdb.Pipeline()
	pipe.Incr(ctx, j.key("daily_trades"))
	pipe.ZAdd(ctx, j.key("trade_window"), redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: time.Now().UnixNano(),
	})
	pipe.ZRemRangeByScore(ctx, j.key("trade_window"), "0",
		fmt.Sprintf("%d", time.Now().Add(-time.Hour).UnixMilli()))
	_, err := pipe.Exec(ctx)
	return err
}

func (j *RiskJournal) RecordResult(ctx context.Context, pnl float64) error {
	micros := int64(math.Round(pnl * 1e6))
	pipe := j.rdb.Pipeline()
	pipe.IncrBy(ctx, j.key("daily_pnl_micros"), micros)
	if pnl < 0 {
		pipe.Incr(ctx, j.key("consecutive_losses"))
		pipe.Set(ctx, j.key("last_loss_ms"), time.Now().UnixMilli(), 0)
	} else if pnl > 0 {
		pipe.Set(ctx, j.key("consecutive_losses"), 0, 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (j *RiskJournal) SetTripped(ctx context.Context, tripped bool) error {
	v := 0
	if tripped {
		v = 1
	}
	pipe := j.rdb.Pipeline()
	pipe.Set(ctx, j.key("tripped"), v, 0)
	if tripped {
		pipe.Set(ctx, j.key("tripped_at_ms"), time.Now().UnixMilli(), 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (j *RiskJournal) ResetDaily(ctx context.Context) error {
	pipe := j.rdb.Pipeline()
	pipe.Set(ctx, j.key("daily_trades"), 0, 0)
	pipe.Set(ctx, j.key("daily_pnl_micros"), 0, 0)
	_, err := pipe.Exec(ctx)
	return err
}

func (j *RiskJournal) Snapshot(ctx context.Context) (port.RiskSnapshot, error) {
	var snap port.RiskSnapshot

	losses, err := j.rdb.Get(ctx, j.key("consecutive_losses")).Int()
	if err != nil && err != redis.Nil {
		return snap, fmt.Errorf("read consecutive_losses: %w", err)
	}
	trades, err := j.rdb.Get(ctx, j.key("daily_trades")).Int()
	if err != nil && err != redis.Nil {
		return snap, fmt.Errorf("read daily_trades: %w", err)
	}
	micros, err := j.rdb.Get(ctx, j.key("daily_pnl_micros")).Int64()
	if err != nil && err != redis.Nil {
		return snap, fmt.Errorf("read daily_pnl_micros: %w", err)
	}
	tripped, err := j.rdb.Get(ctx, j.key("tripped")).Int()
	if err != nil && err != redis.Nil {
		return snap, fmt.Errorf("read tripped: %w", err)
	}

	snap.ConsecutiveLosses = losses
	snap.DailyTrades = trades
	snap.DailyPnL = float64(micros) / 1e6
	snap.Tripped = tripped == 1
	return snap, nil
}

func (j *RiskJournal) Close() error { return j.rdb.Close() }
