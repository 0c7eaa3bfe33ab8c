package port

import "context"

// Notifier delivers an operator-facing alert. Delivery is best-effort:
// callers log and swallow errors, they never propagate into the pipeline.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}
