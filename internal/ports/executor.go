package ports

import (
	"context"

	"github.com/stargazecap/optimus/internal/domain"
)

// Executor applies the cycle's final decisions. One result per decision,
// in order. A failed decision leaves the position in its pre-decision
// status; the engine retries on the next cycle.
type Executor interface {
	Execute(ctx context.Context, decisions []domain.Decision) ([]domain.ExecutionResult, error)

	// OpenPositionIDs lists the position IDs the execution venue knows
	// about, for reconciliation against the engine's own book.
	OpenPositionIDs(ctx context.Context) ([]string, error)
}
