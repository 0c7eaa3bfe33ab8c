package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"pmexec/internal/application/port"
	domain "pmexec/internal/domain/service"
)

// RiskState aggregates the process-local risk machinery: the circuit
// breaker, the rate/loss governor and the executed-signal deduplicator.
// It is exclusively owned and mutated by the execution gateway; day-scoped
// counters are reset by an external day-boundary trigger.
//
// Running multiple processes against the same account is only safe when a
// RiskJournal backs this state with a shared store; without one the
// counters are process-local by design.
type RiskState struct {
	Breaker  *domain.CircuitBreaker
	Governor *domain.Governor
	Dedup    *domain.SignalDeduplicator

	journal port.RiskJournal // nil when risk state is purely local
}

// RiskStateConfig collects the limits for all risk components.
type RiskStateConfig struct {
	ConsecutiveLosses int
	Governor          domain.GovernorConfig
	DedupCapacity     int
	DedupTTL          time.Duration
}

// NewRiskState wires the risk components together. journal may be nil.
func NewRiskState(cfg RiskStateConfig, journal port.RiskJournal) *RiskState {
	rs := &RiskState{
		Breaker:  domain.NewCircuitBreaker(cfg.ConsecutiveLosses),
		Governor: domain.NewGovernor(cfg.Governor),
		Dedup:    domain.NewSignalDeduplicator(cfg.DedupCapacity, cfg.DedupTTL),
		journal:  journal,
	}
	return rs
}

// RecordTrade marks an order placement in the rate window.
func (rs *RiskState) RecordTrade(ctx context.Context, now time.Time) {
	rs.Governor.RecordTrade(now)
	if rs.journal != nil {
		if err := rs.journal.RecordTrade(ctx); err != nil {
			log.Warn().Err(err).Msg("risk journal: record trade failed")
		}
	}
}

// RecordResult feeds a realized P&L into the breaker and the governor,
// mirroring the transition into the shared journal when configured.
func (rs *RiskState) RecordResult(ctx context.Context, now time.Time, pnl float64) {
	wasTripped := rs.Breaker.State() == domain.BreakerTripped
	rs.Breaker.RecordResult(pnl)
	rs.Governor.RecordResult(now, pnl)

	if rs.journal != nil {
		if err := rs.journal.RecordResult(ctx, pnl); err != nil {
			log.Warn().Err(err).Msg("risk journal: record result failed")
		}
		nowTripped := rs.Breaker.State() == domain.BreakerTripped
		if nowTripped != wasTripped {
			if err := rs.journal.SetTripped(ctx, nowTripped); err != nil {
				log.Warn().Err(err).Msg("risk journal: set tripped failed")
			}
		}
	}
}

// ResetDaily clears the day-scoped counters.
func (rs *RiskState) ResetDaily(ctx context.Context) {
	rs.Governor.ResetDaily()
	if rs.journal != nil {
		if err := rs.journal.ResetDaily(ctx); err != nil {
			log.Warn().Err(err).Msg("risk journal: daily reset failed")
		}
	}
}
