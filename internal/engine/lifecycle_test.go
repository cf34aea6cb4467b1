package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stargazecap/optimus/internal/domain"
)

func lifecycleParams() domain.AssetParameters {
	p := gateParams()
	p.ProfitTargetPct = 0.5
	p.LossLimitPct = 1.0
	p.LossLimitMult = 2.0
	p.RollTriggerDelta = 0.30
	p.MaxRolls = 2
	p.RollSpacingDays = 5
	return p
}

func condorPosition() domain.Position {
	expiry := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	return domain.Position{
		ID: "pos-1", Underlying: "SPX", Tier: domain.TierDefinedRisk,
		Legs: []domain.Leg{
			{Role: domain.ShortCall, Strike: 5350, Expiry: expiry, Quantity: -1, EntryPremium: 30, CurrentDelta: 0.15},
			{Role: domain.LongCall, Strike: 5400, Expiry: expiry, Quantity: 1, EntryPremium: 20, CurrentDelta: 0.10},
			{Role: domain.ShortPut, Strike: 4650, Expiry: expiry, Quantity: -1, EntryPremium: 30, CurrentDelta: 0.15},
			{Role: domain.LongPut, Strike: 4600, Expiry: expiry, Quantity: 1, EntryPremium: 20, CurrentDelta: 0.10},
		},
		Contracts:   1,
		EntryCredit: 20,
		EntryDate:   time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		EntryPrice:  5000,
		PointValue:  50,
		MaxLoss:     1500,
		Status:      domain.StatusActive,
		// Marked flat: closing costs what was collected.
		CurrentValue: 20,
		RemainingDTE: 45,
	}
}

func calmSnap() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Symbol: "SPX", Price: 5000, SessionOpen: 4990, ATR: 40,
		Chain: gateTestChain(45),
	}
}

func lifecycleInput(p domain.Position) LifecycleInput {
	return LifecycleInput{
		Pos: p, Snap: calmSnap(), Params: lifecycleParams(),
		Now:         time.Date(2026, 2, 2, 15, 0, 0, 0, time.UTC),
		TimeStopDTE: 21,
	}
}

func TestEvaluateLifecycle_NoTrigger(t *testing.T) {
	act := EvaluateLifecycle(lifecycleInput(condorPosition()))
	assert.Equal(t, ActionNone, act.Kind)
}

func TestEvaluateLifecycle_CatastrophicStopFirst(t *testing.T) {
	in := lifecycleInput(condorPosition())
	in.Snap.SessionOpen = 5000
	in.Snap.Price = 5130 // 130 > 3 x 40
	// Even a position at its profit target closes on the catastrophe.
	in.Pos.CurrentValue = 5
	act := EvaluateLifecycle(in)
	assert.Equal(t, ActionClose, act.Kind)
	assert.Equal(t, domain.ExitCatastrophicStop, act.Reason)
}

func TestEvaluateLifecycle_LossLimitBeatsTimeStop(t *testing.T) {
	// At the time stop (21 DTE) and through the loss limit: the loss limit
	// outranks the stop, so the close carries its reason.
	in := lifecycleInput(condorPosition())
	in.Pos.RemainingDTE = 21
	in.Pos.CurrentValue = 50 // P&L = (20-50) x 1 x 50 = -$1,500 = max loss
	act := EvaluateLifecycle(in)
	assert.Equal(t, ActionClose, act.Kind)
	assert.Equal(t, domain.ExitLossLimit, act.Reason)
}

func TestEvaluateLifecycle_UndefinedRiskLossLimit(t *testing.T) {
	in := lifecycleInput(condorPosition())
	in.Pos.Tier = domain.TierUndefinedRisk
	in.Pos.MaxLoss = 0
	// Limit = 2x credit = $2,000. P&L at CurrentValue 61: (20-61)x50 = -$2,050.
	in.Pos.CurrentValue = 61
	act := EvaluateLifecycle(in)
	assert.Equal(t, ActionClose, act.Kind)
	assert.Equal(t, domain.ExitLossLimit, act.Reason)
}

func TestEvaluateLifecycle_InversionBeyondWidthCloses(t *testing.T) {
	in := lifecycleInput(condorPosition())
	// Short put rolled above the short call by more than the 50-wide wing.
	in.Pos.Legs[2].Strike = in.Pos.Legs[0].Strike + 60
	act := EvaluateLifecycle(in)
	assert.Equal(t, ActionClose, act.Kind)
	assert.Equal(t, domain.ExitInversion, act.Reason)
}

func TestEvaluateLifecycle_InversionInsideWidthTolerated(t *testing.T) {
	in := lifecycleInput(condorPosition())
	in.Pos.Legs[2].Strike = in.Pos.Legs[0].Strike + 30 // inverted but inside width
	act := EvaluateLifecycle(in)
	assert.Equal(t, ActionNone, act.Kind)
}

func TestEvaluateLifecycle_RollTrigger(t *testing.T) {
	in := lifecycleInput(condorPosition())
	in.Pos.Legs[2].CurrentDelta = 0.32 // short put through the 0.30 trigger
	act := EvaluateLifecycle(in)
	require.Equal(t, ActionRoll, act.Kind)
	assert.Equal(t, domain.ShortPut, act.BreachedRole)
	// Entry trend score 0 keeps the default target.
	assert.InDelta(t, 0.16, act.DeltaTarget, 1e-9)
}

func TestEvaluateLifecycle_RollCapForcesClose(t *testing.T) {
	in := lifecycleInput(condorPosition())
	in.Pos.Legs[2].CurrentDelta = 0.32
	in.Pos.RollCount = 2 // cap reached
	act := EvaluateLifecycle(in)
	assert.Equal(t, ActionClose, act.Kind)
	assert.Equal(t, domain.ExitRollCapReached, act.Reason)
}

func TestEvaluateLifecycle_RollSpacingDefers(t *testing.T) {
	in := lifecycleInput(condorPosition())
	in.Pos.Legs[2].CurrentDelta = 0.32
	in.Pos.RollCount = 1
	in.Pos.LastRollDate = in.Now.AddDate(0, 0, -2) // 2 < 5 days
	act := EvaluateLifecycle(in)
	// Not rolled, and nothing else triggers.
	assert.Equal(t, ActionNone, act.Kind)
}

func TestEvaluateLifecycle_ProfitTarget(t *testing.T) {
	in := lifecycleInput(condorPosition())
	in.Pos.CurrentValue = 9 // gain (20-9)x50 = $550 >= 50% of $1,000 credit
	act := EvaluateLifecycle(in)
	assert.Equal(t, ActionClose, act.Kind)
	assert.Equal(t, domain.ExitProfitTarget, act.Reason)
}

func TestEvaluateLifecycle_TightenedProfitTarget(t *testing.T) {
	in := lifecycleInput(condorPosition())
	in.Pos.CurrentValue = 11 // gain $450 = 45% of credit: below 50%, above 40%
	act := EvaluateLifecycle(in)
	assert.Equal(t, ActionNone, act.Kind)

	in.Tightened = true
	act = EvaluateLifecycle(in)
	assert.Equal(t, ActionClose, act.Kind)
	assert.Equal(t, domain.ExitProfitTarget, act.Reason)
}

func TestEvaluateLifecycle_TimeStop(t *testing.T) {
	in := lifecycleInput(condorPosition())
	in.Pos.RemainingDTE = 21
	act := EvaluateLifecycle(in)
	assert.Equal(t, ActionClose, act.Kind)
	assert.Equal(t, domain.ExitTimeStop, act.Reason)
}

func TestBuildRoll_ResolvesReplacement(t *testing.T) {
	p := condorPosition()
	act := LifecycleAction{Kind: ActionRoll, BreachedRole: domain.ShortPut, DeltaTarget: 0.16}
	snap := calmSnap()
	snap.Chain.Expiries[0].DTE = 30
	plan, reason, why := BuildRoll(p, snap, lifecycleParams(), act, time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC))
	require.NotNil(t, plan, "reason=%s why=%s", reason, why)
	assert.Equal(t, domain.ShortPut, plan.CloseRole)
	assert.Greater(t, plan.NewCredit, 0.0)
	assert.Greater(t, plan.CloseCost, 0.0)
}

func TestBuildRoll_NetDebitTooHighCloses(t *testing.T) {
	p := condorPosition()
	p.EntryCredit = 2 // tiny credit: any meaningful debit breaches half of it
	// Breached put is deep in the money: expensive to buy back.
	p.Legs[2].Strike = 5300
	act := LifecycleAction{Kind: ActionRoll, BreachedRole: domain.ShortPut, DeltaTarget: 0.16}
	snap := calmSnap()
	snap.Chain.Expiries[0].DTE = 30
	plan, reason, why := BuildRoll(p, snap, lifecycleParams(), act, time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC))
	assert.Nil(t, plan)
	assert.Equal(t, domain.ExitRollDebit, reason)
	assert.Contains(t, why, "net debit")
}

func TestBuildRoll_NoExpiryCloses(t *testing.T) {
	p := condorPosition()
	act := LifecycleAction{Kind: ActionRoll, BreachedRole: domain.ShortPut, DeltaTarget: 0.16}
	snap := calmSnap() // chain sits at 45 DTE, outside the 20-45... inside actually
	snap.Chain.Expiries[0].DTE = 90
	plan, reason, _ := BuildRoll(p, snap, lifecycleParams(), act, time.Now())
	assert.Nil(t, plan)
	assert.Equal(t, domain.ExitRollDebit, reason)
}
