package execution

// A simulated execution venue. Decisions fill at their decided
// credit, positions live in memory, and margin usage is derived from the
// simulated book. The whole engine loop runs against it without a broker.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stargazecap/optimus/internal/domain"
)

// undefinedMarginPct mirrors the engine's conservative estimate for
// undefined-risk margin: a fraction of notional.
const undefinedMarginPct = 0.20

type paperPosition struct {
	asset     string
	contracts int
	maxLoss   float64 // per contract, dollars; 0 for undefined risk
	notional  float64 // total, dollars
}

// Paper implements ports.Executor and ports.MarginSource.
type Paper struct {
	mu     sync.Mutex
	equity float64
	params map[string]domain.AssetParameters
	open   map[string]paperPosition
	now    func() time.Time
}

// NewPaper creates the simulated venue. Equity only feeds the margin
// signal; realized P&L lives in the engine's state, not here.
func NewPaper(equity float64, params map[string]domain.AssetParameters) *Paper {
	return &Paper{
		equity: equity,
		params: params,
		open:   make(map[string]paperPosition),
		now:    time.Now,
	}
}

// Execute fills every decision at its decided credit. Entries mint a
// venue position ID; closes free the margin footprint.
func (p *Paper) Execute(_ context.Context, decisions []domain.Decision) ([]domain.ExecutionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.ExecutionResult, len(decisions))
	for i, d := range decisions {
		switch d.Kind {
		case domain.DecisionEnter:
			id := uuid.NewString()
			p.open[id] = paperPosition{
				asset:     d.Asset,
				contracts: d.Contracts,
				maxLoss:   d.MaxLoss,
				notional:  p.notionalFor(d),
			}
			out[i] = domain.ExecutionResult{
				PositionID: id,
				Applied:    true,
				FillCredit: d.Credit,
				Detail:     fmt.Sprintf("paper fill: %d contracts at %.2f credit", d.Contracts, d.Credit),
			}

		case domain.DecisionClose:
			if _, ok := p.open[d.PositionID]; !ok {
				out[i] = domain.ExecutionResult{
					PositionID: d.PositionID,
					Detail:     "paper close: unknown position",
				}
				continue
			}
			delete(p.open, d.PositionID)
			out[i] = domain.ExecutionResult{
				PositionID: d.PositionID,
				Applied:    true,
				Detail:     "paper close: " + string(d.Reason),
			}

		case domain.DecisionRoll:
			if _, ok := p.open[d.PositionID]; !ok {
				out[i] = domain.ExecutionResult{
					PositionID: d.PositionID,
					Detail:     "paper roll: unknown position",
				}
				continue
			}
			var fill float64
			if d.Roll != nil {
				fill = d.Roll.NetCredit()
			}
			out[i] = domain.ExecutionResult{
				PositionID: d.PositionID,
				Applied:    true,
				FillCredit: fill,
				Detail:     "paper roll",
			}
		}
	}
	return out, nil
}

// OpenPositionIDs lists the simulated venue's open book.
func (p *Paper) OpenPositionIDs(_ context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.open))
	for id := range p.open {
		out = append(out, id)
	}
	return out, nil
}

// Usage derives margin from the simulated book: defined risk consumes its
// max loss, undefined risk a fraction of notional.
func (p *Paper) Usage(_ context.Context) (domain.MarginUsage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var used float64
	for _, pos := range p.open {
		if pos.maxLoss > 0 {
			used += pos.maxLoss * float64(pos.contracts)
		} else {
			used += pos.notional * undefinedMarginPct
		}
	}
	return domain.MarginUsage{
		Used:      used,
		Available: p.equity - used,
		AsOf:      p.now(),
	}, nil
}

// notionalFor estimates total underlying notional from the short strikes.
func (p *Paper) notionalFor(d domain.Decision) float64 {
	pv := 1.0
	if params, ok := p.params[d.Asset]; ok {
		pv = params.PointValue
	}
	var strikes, n float64
	for _, leg := range d.Legs {
		if leg.Role.IsShort() {
			strikes += leg.Strike
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return (strikes / n) * pv * float64(d.Contracts)
}
