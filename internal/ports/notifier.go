package ports

import (
	"context"

	"github.com/stargazecap/optimus/internal/domain"
)

// Notifier delivers structured events to the outside world. Errors are
// reported back so the engine can log them, but they never change engine
// behavior.
type Notifier interface {
	Notify(ctx context.Context, ev domain.Event) error
}
