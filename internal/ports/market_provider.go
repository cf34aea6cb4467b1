package ports

import (
	"context"

	"github.com/stargazecap/optimus/internal/domain"
)

// MarketData supplies one cycle's snapshots for every configured
// underlying, plus the shared broad-market stress reading.
type MarketData interface {
	// Snapshots returns the per-symbol snapshots and the stress proxy.
	// A missing symbol means no data this cycle; the engine skips it.
	Snapshots(ctx context.Context) (map[string]domain.MarketSnapshot, float64, error)
}

// MarginSource reads the account's margin usage. The engine treats a
// failing or stale reading as absent and falls back to its own
// conservative estimate.
type MarginSource interface {
	Usage(ctx context.Context) (domain.MarginUsage, error)
}
