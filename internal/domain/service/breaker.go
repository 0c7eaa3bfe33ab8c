package service

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// BreakerState is the trading-allowed state of the loss circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota // trading allowed
	BreakerTripped
)

func (s BreakerState) String() string {
	if s == BreakerTripped {
		return "TRIPPED"
	}
	return "CLOSED"
}

// CircuitBreaker halts trading after a run of consecutive realized losses.
//
// Reset policy: the breaker closes automatically on the next realized
// winning trade. A flat (zero P&L) close neither extends nor resets the
// loss run.
type CircuitBreaker struct {
	mu sync.Mutex

	maxConsecutiveLosses int
	consecutiveLosses    int
	state                BreakerState
	trippedAt            time.Time

	onTrip func(consecutiveLosses int)
}

// NewCircuitBreaker creates a breaker that trips after maxConsecutiveLosses
// realized losses in a row.
func NewCircuitBreaker(maxConsecutiveLosses int) *CircuitBreaker {
	if maxConsecutiveLosses <= 0 {
		maxConsecutiveLosses = 3
	}
	return &CircuitBreaker{maxConsecutiveLosses: maxConsecutiveLosses}
}

// SetTripCallback registers a callback fired once per Closed->Tripped
// transition, outside the breaker lock.
func (cb *CircuitBreaker) SetTripCallback(fn func(consecutiveLosses int)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onTrip = fn
}

// RecordResult feeds a realized trade P&L into the breaker.
func (cb *CircuitBreaker) RecordResult(pnl float64) {
	cb.mu.Lock()

	switch {
	case pnl < 0:
		cb.consecutiveLosses++
		losses := cb.consecutiveLosses
		log.Warn().Int("consecutive_losses", losses).Msg("loss recorded")

		if losses >= cb.maxConsecutiveLosses && cb.state == BreakerClosed {
			cb.state = BreakerTripped
			cb.trippedAt = time.Now()
			onTrip := cb.onTrip
			cb.mu.Unlock()

			log.Error().
				Int("consecutive_losses", losses).
				Msg("circuit breaker tripped, trading paused")
			if onTrip != nil {
				onTrip(losses)
			}
			return
		}

	case pnl > 0:
		cb.consecutiveLosses = 0
		if cb.state == BreakerTripped {
			cb.state = BreakerClosed
			cb.trippedAt = time.Time{}
			log.Info().Msg("circuit breaker reset after winning trade")
		}

	default:
		// flat close: keep the loss run untouched
	}

	cb.mu.Unlock()
}

// CanTrade reports whether trading is allowed, with a reason when blocked.
func (cb *CircuitBreaker) CanTrade() (bool, string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerTripped {
		return false, "circuit breaker tripped"
	}
	return true, ""
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveLosses returns the current loss run length.
func (cb *CircuitBreaker) ConsecutiveLosses() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveLosses
}

// Reset forces the breaker closed and clears the loss run. Operator use.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.consecutiveLosses = 0
	cb.trippedAt = time.Time{}
	log.Info().Msg("circuit breaker reset")
}
