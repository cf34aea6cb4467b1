package engine

import (
	"fmt"
	"time"

	"github.com/stargazecap/optimus/internal/domain"
)

// Catastrophic stop: intraday move against the book in ATR multiples.
const CatastrophicATRMult = 3.0

// Roll replacement horizon in days from now.
const (
	RollTargetDTE = 30
	rollMinDTE    = 20
	rollMaxDTE    = 45
)

// ActionKind is what the lifecycle pass wants done with one position.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionClose
	ActionRoll
)

// LifecycleAction is the outcome for one position this cycle.
type LifecycleAction struct {
	Kind   ActionKind
	Reason domain.ExitReason
	Detail string

	// Roll fields, set when Kind == ActionRoll.
	BreachedRole domain.LegRole
	DeltaTarget  float64
}

// LifecycleInput bundles what the pure evaluation needs.
type LifecycleInput struct {
	Pos    domain.Position
	Snap   domain.MarketSnapshot
	Params domain.AssetParameters
	Now    time.Time

	TimeStopDTE int
	Tightened   bool // margin governor tighten tier active
}

// EvaluateLifecycle applies the exit checks in fixed priority and returns
// the first that triggers. Order: catastrophic stop, loss limit (defined
// then undefined), inversion beyond width, roll trigger, profit target,
// time stop. Exactly one action per position per cycle.
func EvaluateLifecycle(in LifecycleInput) LifecycleAction {
	p := in.Pos
	params := in.Params

	// 1. Catastrophic intraday move.
	if in.Snap.ATR > 0 && in.Snap.IntradayMove() >= CatastrophicATRMult*in.Snap.ATR {
		return LifecycleAction{
			Kind:   ActionClose,
			Reason: domain.ExitCatastrophicStop,
			Detail: fmt.Sprintf("intraday move %.1f >= %.1fx ATR %.1f", in.Snap.IntradayMove(), CatastrophicATRMult, in.Snap.ATR),
		}
	}

	pnl := p.UnrealizedPnL()

	// 2. Defined-risk loss limit: fraction of max loss.
	if p.Tier == domain.TierDefinedRisk && p.MaxLoss > 0 {
		limit := params.LossLimitPct * p.TotalMaxLoss()
		if pnl <= -limit {
			return LifecycleAction{
				Kind:   ActionClose,
				Reason: domain.ExitLossLimit,
				Detail: fmt.Sprintf("unrealized %.0f breaches %.0f%% of max loss %.0f", pnl, params.LossLimitPct*100, p.TotalMaxLoss()),
			}
		}
	}

	// 3. Undefined-risk loss limit: multiple of credit received.
	if p.Tier == domain.TierUndefinedRisk {
		limit := params.LossLimitMult * p.CreditDollars()
		if pnl <= -limit {
			return LifecycleAction{
				Kind:   ActionClose,
				Reason: domain.ExitLossLimit,
				Detail: fmt.Sprintf("unrealized %.0f breaches %.1fx credit %.0f", pnl, params.LossLimitMult, p.CreditDollars()),
			}
		}
	}

	// 4. Inversion is tolerated only up to the original wing width.
	if inv := p.InversionAmount(); inv > params.WingWidth {
		return LifecycleAction{
			Kind:   ActionClose,
			Reason: domain.ExitInversion,
			Detail: fmt.Sprintf("inversion %.0f exceeds wing width %.0f", inv, params.WingWidth),
		}
	}

	// 5. Roll trigger on short-leg delta.
	if breached := breachedShortLeg(p, params.RollTriggerDelta); breached != nil {
		if p.RollCount >= params.MaxRolls {
			return LifecycleAction{
				Kind:   ActionClose,
				Reason: domain.ExitRollCapReached,
				Detail: fmt.Sprintf("%s delta %.2f with %d rolls used", breached.Role, breached.CurrentDelta, p.RollCount),
			}
		}
		if p.DaysSinceRoll(in.Now) >= params.RollSpacingDays {
			callT, putT := domain.DeltaTargets(p.EntryTrendScore, params)
			target := putT
			if breached.Role.IsCall() {
				target = callT
			}
			return LifecycleAction{
				Kind:         ActionRoll,
				BreachedRole: breached.Role,
				DeltaTarget:  target,
				Detail:       fmt.Sprintf("%s delta %.2f at or above trigger %.2f", breached.Role, breached.CurrentDelta, params.RollTriggerDelta),
			}
		}
		// Triggered but inside the spacing window: fall through so the
		// profit target and time stop still get their look.
	}

	// 6. Profit target, tightened under margin pressure.
	target := params.ProfitTargetPct
	if in.Tightened && TightenedProfitTargetPct < target {
		target = TightenedProfitTargetPct
	}
	if gain := target * p.CreditDollars(); pnl >= gain && gain > 0 {
		return LifecycleAction{
			Kind:   ActionClose,
			Reason: domain.ExitProfitTarget,
			Detail: fmt.Sprintf("unrealized %.0f reaches %.0f%% of credit", pnl, target*100),
		}
	}

	// 7. Time stop.
	if p.RemainingDTE <= in.TimeStopDTE {
		return LifecycleAction{
			Kind:   ActionClose,
			Reason: domain.ExitTimeStop,
			Detail: fmt.Sprintf("%d DTE at or under the %d-day stop", p.RemainingDTE, in.TimeStopDTE),
		}
	}

	return LifecycleAction{Kind: ActionNone}
}

// breachedShortLeg returns the short leg furthest past the trigger, nil
// when none breach.
func breachedShortLeg(p domain.Position, trigger float64) *domain.Leg {
	var worst *domain.Leg
	for _, leg := range p.ShortLegs() {
		if leg.CurrentDelta >= trigger {
			if worst == nil || leg.CurrentDelta > worst.CurrentDelta {
				worst = leg
			}
		}
	}
	return worst
}

// BuildRoll resolves a roll plan against the live chain: buy back the
// breached leg, sell the replacement at the original delta target about
// thirty days out. Returns a close reason instead when the chain cannot
// support the roll or the net debit exceeds half the original credit.
func BuildRoll(p domain.Position, snap domain.MarketSnapshot, params domain.AssetParameters, act LifecycleAction, now time.Time) (*domain.RollPlan, domain.ExitReason, string) {
	breached := p.LegByRole(act.BreachedRole)
	if breached == nil {
		return nil, domain.ExitRollDebit, "breached leg missing from position"
	}

	exp := snap.Chain.ExpiryInWindow(rollMinDTE, rollMaxDTE, RollTargetDTE)
	if exp == nil {
		return nil, domain.ExitRollDebit, "no expiry available for the roll"
	}

	side := exp.Puts
	if act.BreachedRole.IsCall() {
		side = exp.Calls
	}

	// Buy-back cost for the breached leg at the current chain mid.
	closeQuote := domain.NearestStrike(sideForLeg(snap.Chain, breached), breached.Strike)
	if closeQuote == nil || closeQuote.Mid() <= 0 {
		return nil, domain.ExitRollDebit, "no quote to close the breached leg"
	}

	newQuote := domain.NearestDelta(side, act.DeltaTarget)
	if newQuote == nil {
		return nil, domain.ExitRollDebit, "no replacement strike"
	}
	if ok, why := newQuote.Liquid(); !ok {
		return nil, domain.ExitRollDebit, "replacement " + why
	}

	plan := &domain.RollPlan{
		CloseRole:   act.BreachedRole,
		NewStrike:   newQuote.Strike,
		NewExpiry:   exp.Expiry,
		DeltaTarget: act.DeltaTarget,
		CloseCost:   closeQuote.Mid(),
		NewCredit:   newQuote.Mid(),
	}

	// A roll that costs more than half the original credit gives back too
	// much of the trade's edge: close the whole position instead.
	if plan.NetCredit() < -0.5*p.EntryCredit {
		return nil, domain.ExitRollDebit,
			fmt.Sprintf("roll net debit %.2f exceeds half of credit %.2f", -plan.NetCredit(), p.EntryCredit)
	}
	return plan, "", ""
}

// sideForLeg returns the chain side matching a leg's role, searching the
// expiry the leg actually sits on.
func sideForLeg(chain domain.ChainSummary, leg *domain.Leg) []domain.OptionQuote {
	for i := range chain.Expiries {
		e := &chain.Expiries[i]
		if !e.Expiry.Equal(leg.Expiry) {
			continue
		}
		if leg.Role.IsCall() {
			return e.Calls
		}
		return e.Puts
	}
	// Expiry not listed any more: fall back to the nearest one.
	if len(chain.Expiries) == 0 {
		return nil
	}
	if leg.Role.IsCall() {
		return chain.Expiries[0].Calls
	}
	return chain.Expiries[0].Puts
}
