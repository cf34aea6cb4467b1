package ports

import (
	"context"
	"time"

	"github.com/stargazecap/optimus/internal/domain"
)

// StateStore persists positions, closed trades, decisions and the risk
// snapshot. Every mutation the engine makes is written through before the
// cycle ends, so a restart resumes from the last decision.
type StateStore interface {
	// SavePosition inserts or updates one position record.
	SavePosition(ctx context.Context, p domain.Position) error

	// OpenPositions returns every position not yet closed, including
	// orphaned and untracked records.
	OpenPositions(ctx context.Context) ([]domain.Position, error)

	// CloseTrade removes the position from the open set and appends the
	// audit record atomically.
	CloseTrade(ctx context.Context, positionID string, trade domain.ClosedTrade) error

	// ClosedTrades returns the audit trail newest first, up to limit.
	ClosedTrades(ctx context.Context, limit int) ([]domain.ClosedTrade, error)

	// SaveDecision appends one decision with its full trace.
	SaveDecision(ctx context.Context, d domain.Decision) error

	// SaveRiskState overwrites the persisted risk snapshot.
	SaveRiskState(ctx context.Context, snap domain.RiskSnapshot) error

	// LoadRiskState returns the persisted snapshot, ok=false on first run.
	LoadRiskState(ctx context.Context) (domain.RiskSnapshot, bool, error)

	// PruneDecisions drops decision records older than the cutoff.
	PruneDecisions(ctx context.Context, olderThan time.Time) error

	// Close flushes and closes the store.
	Close() error
}
