package engine

import (
	"math"
	"time"

	"github.com/stargazecap/optimus/internal/domain"
)

// Margin governor tiers, expressed as buffer ratios (available / used).
// Each tier implies every action of the tiers above it.
const (
	MarginTierTighten  = 2.0  // tighten profit targets, block new entries
	MarginTierReduce   = 1.5  // close the highest-margin undefined-risk position
	MarginTierFlatten  = 1.2  // close every undefined-risk position
	MarginTierEvacuate = 1.05 // close everything
)

// Profit target override while the tighten tier is active.
const TightenedProfitTargetPct = 0.40

// MarginDirective is the monotonic action set for one cycle. Escalation
// within a cycle only ever adds flags.
type MarginDirective struct {
	BufferRatio float64
	Estimated   bool // true when derived from the conservative fallback

	TightenTargets     bool
	BlockEntries       bool
	CloseTopUndefined  bool
	CloseAllUndefined  bool
	CloseEverything    bool
}

// Severity orders directives for the monotonic-escalation rule.
func (d MarginDirective) Severity() int {
	switch {
	case d.CloseEverything:
		return 4
	case d.CloseAllUndefined:
		return 3
	case d.CloseTopUndefined:
		return 2
	case d.TightenTargets:
		return 1
	default:
		return 0
	}
}

// EvaluateMargin maps a buffer ratio to its directive. Lower tiers carry
// every higher tier's flags, so reactions only ever escalate as the
// buffer shrinks.
func EvaluateMargin(ratio float64, estimated bool) MarginDirective {
	d := MarginDirective{BufferRatio: ratio, Estimated: estimated}
	if ratio < MarginTierTighten {
		d.TightenTargets = true
		d.BlockEntries = true
	}
	if ratio < MarginTierReduce {
		d.CloseTopUndefined = true
	}
	if ratio < MarginTierFlatten {
		d.CloseAllUndefined = true
	}
	if ratio < MarginTierEvacuate {
		d.CloseEverything = true
	}
	return d
}

// Escalate merges two directives from the same cycle, keeping the worse.
func Escalate(a, b MarginDirective) MarginDirective {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// ConservativeMarginRatio is the fallback when the margin source fails or
// goes stale: estimate usage from the open book, assuming defined-risk
// positions consume their max loss and undefined-risk positions a flat
// fraction of notional, then take a 25% haircut on the implied buffer.
func ConservativeMarginRatio(positions []domain.Position, prices map[string]float64, equity float64) float64 {
	const undefinedMarginPct = 0.20
	used := 0.0
	for _, p := range positions {
		if p.Status == domain.StatusOrphaned {
			continue
		}
		if p.MaxLoss > 0 {
			used += p.TotalMaxLoss()
			continue
		}
		price := prices[p.Underlying]
		if price <= 0 {
			price = p.EntryPrice
		}
		used += price * p.PointValue * float64(p.Contracts) * undefinedMarginPct
	}
	if used <= 0 {
		return math.Inf(1)
	}
	available := equity - used
	if available < 0 {
		available = 0
	}
	return available / used * 0.75
}

// HighestMarginUndefined picks the undefined-risk position consuming the
// most estimated margin, for the reduce tier. Nil when none are open.
func HighestMarginUndefined(positions []domain.Position, prices map[string]float64) *domain.Position {
	var best *domain.Position
	bestUse := 0.0
	for i := range positions {
		p := &positions[i]
		if p.Tier != domain.TierUndefinedRisk || p.Status != domain.StatusActive {
			continue
		}
		price := prices[p.Underlying]
		if price <= 0 {
			price = p.EntryPrice
		}
		use := price * p.PointValue * float64(p.Contracts)
		if use > bestUse {
			best = p
			bestUse = use
		}
	}
	return best
}

// ResolveMargin picks the buffer ratio for this cycle: the live reading
// when fresh, otherwise the conservative estimate.
func ResolveMargin(usage domain.MarginUsage, err error, now time.Time, positions []domain.Position, prices map[string]float64, equity float64) (float64, bool) {
	if err == nil && !usage.Stale(now) {
		return usage.BufferRatio(), false
	}
	return ConservativeMarginRatio(positions, prices, equity), true
}
