package port

import (
	"context"

	"pmexec/internal/domain/model"
)

// PriceFeed streams live price updates for a set of tickers into out.
// Run blocks until ctx is cancelled, reconnecting internally on transport
// errors. Run closes out before returning; callers must not close it.
type PriceFeed interface {
	Name() string
	Run(ctx context.Context, tickers []string, out chan<- model.PriceTick) error
}
