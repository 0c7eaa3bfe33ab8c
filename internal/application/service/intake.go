package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"pmexec/internal/application/port"
	"pmexec/internal/domain/model"
)

// IntakeConfig tunes the pending-signal poll loop.
type IntakeConfig struct {
	PollInterval time.Duration // default 5s
	BatchSize    int           // default 25
}

// Intake drains signals persisted by upstream producers and runs them
// through the executor. Rejections are terminal (the executor marks the
// signal rejected); hard errors leave the signal pending so the next
// poll retries it.
type Intake struct {
	cfg      IntakeConfig
	store    port.Store
	executor *Executor
}

func NewIntake(cfg IntakeConfig, store port.Store, executor *Executor) *Intake {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	return &Intake{cfg: cfg, store: store, executor: executor}
}

// Run polls until ctx is cancelled.
func (in *Intake) Run(ctx context.Context) error {
	ticker := time.NewTicker(in.cfg.PollInterval)
	defer ticker.Stop()

	log.Info().
		Dur("poll_interval", in.cfg.PollInterval).
		Int("batch_size", in.cfg.BatchSize).
		Msg("signal intake started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			in.Drain(ctx)
		}
	}
}

// Drain executes every currently pending signal once.
func (in *Intake) Drain(ctx context.Context) {
	pending, err := in.store.ListPendingSignals(ctx, in.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("list pending signals failed")
		return
	}

	for _, sig := range pending {
		if ctx.Err() != nil {
			return
		}
		in.execute(ctx, sig)
	}
}

func (in *Intake) execute(ctx context.Context, sig *model.Signal) {
	trade, err := in.executor.Execute(ctx, sig)
	if err != nil {
		var rej *RejectionError
		if errors.As(err, &rej) {
			log.Debug().
				Str("signal_id", sig.ID).
				Str("reason", rej.Reason).
				Msg("signal rejected")
			return
		}
		log.Error().Err(err).Str("signal_id", sig.ID).Msg("signal execution failed")
		return
	}
	log.Info().
		Str("signal_id", sig.ID).
		Str("ticker", trade.Ticker).
		Int("quantity", trade.Quantity).
		Msg("signal executed")
}
