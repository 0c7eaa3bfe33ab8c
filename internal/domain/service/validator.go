package service

import (
	"fmt"

	"pmexec/internal/domain/model"
)

// ValidatorConfig holds the acceptance thresholds for incoming signals.
type ValidatorConfig struct {
	MinConfidence float64
	MinEdge       float64
}

// ExecutedSet answers whether a signal id has already been consumed.
type ExecutedSet interface {
	Seen(id string) bool
}

// ValidateSignal runs the pre-trade sanity checks over a signal. Pure:
// no side effects on accept or reject. The first failing check wins.
func ValidateSignal(sig *model.Signal, cfg ValidatorConfig, executed ExecutedSet) (bool, string) {
	if executed != nil && executed.Seen(sig.ID) {
		return false, "duplicate signal"
	}

	if sig.Confidence < cfg.MinConfidence {
		return false, fmt.Sprintf("confidence %.2f below threshold %.2f", sig.Confidence, cfg.MinConfidence)
	}

	if sig.Edge < cfg.MinEdge {
		return false, fmt.Sprintf("edge %.2f%% below threshold %.2f%%", sig.Edge*100, cfg.MinEdge*100)
	}

	if sig.CurrentPrice != 0 && (sig.CurrentPrice < 0.01 || sig.CurrentPrice > 0.99) {
		return false, fmt.Sprintf("invalid price: %.2f", sig.CurrentPrice)
	}

	if !sig.Side.Valid() {
		return false, fmt.Sprintf("invalid side: %s", sig.Side)
	}

	return true, ""
}

// ValidateOrder checks order parameters immediately before placement.
func ValidateOrder(ticker string, side model.Side, quantity, priceCents int) (bool, string) {
	if ticker == "" {
		return false, "missing ticker"
	}
	if !side.Valid() {
		return false, fmt.Sprintf("invalid side: %s", side)
	}
	if quantity <= 0 {
		return false, fmt.Sprintf("invalid quantity: %d", quantity)
	}
	if priceCents < 1 || priceCents > 99 {
		return false, fmt.Sprintf("invalid price: %d (must be 1-99 cents)", priceCents)
	}
	return true, ""
}
