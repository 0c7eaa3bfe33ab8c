package service

import (
	"math"

	"github.com/rs/zerolog/log"

	"pmexec/internal/domain/model"
)

// Hard ceiling on the bankroll fraction a single position may take,
// independent of the configured Kelly fraction.
const maxBankrollFraction = 0.25

// SizerConfig bounds the fractional-Kelly position sizer.
type SizerConfig struct {
	KellyFraction      float64 // fraction of full Kelly, e.g. 0.25
	MaxPositionSizeUSD float64
	MaxPortfolioHeat   float64 // fraction of bankroll at risk across positions
}

// KellyPositionSize returns the dollar size suggested by fractional Kelly
// for a given edge and win probability. Degenerate edges size to zero.
func KellyPositionSize(edge, confidence, kellyFraction, bankroll float64) float64 {
	if edge <= 0 || edge >= 1 {
		return 0
	}

	// f* = (b*p - q) / b with b = edge / (1 - edge)
	b := edge / (1 - edge)
	p := confidence
	q := 1 - p

	kelly := (b*p - q) / b
	kelly *= kellyFraction

	kelly = math.Max(0, math.Min(kelly, maxBankrollFraction))
	return bankroll * kelly
}

// ContractsFor converts a signal into a whole number of contracts, applying
// the per-trade dollar cap and the remaining portfolio heat capacity.
// Degenerate edges and an exhausted heat budget size to zero; any other
// accepted signal trades at least one contract even when the clamped
// Kelly size rounds to nothing.
func ContractsFor(sig *model.Signal, cfg SizerConfig, bankroll, currentExposure float64) int {
	if sig.Edge <= 0 || sig.Edge >= 1 {
		return 0
	}

	kellyUSD := KellyPositionSize(sig.Edge, sig.Confidence, cfg.KellyFraction, bankroll)

	sizeUSD := math.Min(kellyUSD, cfg.MaxPositionSizeUSD)

	remainingHeat := bankroll*cfg.MaxPortfolioHeat - currentExposure
	if remainingHeat <= 0 {
		log.Warn().
			Float64("exposure", currentExposure).
			Float64("heat_cap", bankroll*cfg.MaxPortfolioHeat).
			Msg("portfolio heat limit reached")
		return 0
	}
	sizeUSD = math.Min(sizeUSD, remainingHeat)

	priceCents := 50
	if sig.CurrentPrice > 0 {
		priceCents = int(sig.CurrentPrice * 100)
	}

	contracts := int(sizeUSD * 100 / float64(priceCents))
	if contracts < 1 {
		contracts = 1
	}

	log.Info().
		Str("ticker", sig.Ticker).
		Float64("kelly_usd", kellyUSD).
		Float64("size_usd", sizeUSD).
		Int("contracts", contracts).
		Int("price_cents", priceCents).
		Msg("position sized")

	return contracts
}
