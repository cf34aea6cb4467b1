package engine

import (
	"fmt"
	"time"

	"github.com/stargazecap/optimus/internal/domain"
)

// RiskLimits configures the portfolio risk governor.
type RiskLimits struct {
	DailyLossPct     float64 // daily loss floor as fraction of equity
	WeeklyLossPct    float64
	MonthlyLossPct   float64
	CorrAlertEnter   int // loss members at or above this assert CORR_ALERT (3)
	CorrAlertExit    int // membership below this clears it (2)
	BreakerCount     int // consecutive max-loss exits tripping the breaker
	BreakerCooldown  time.Duration
	TimeStopDTE      int // shared management horizon, also the MONTH_HALT sweep line
	ExposureCeilPct  float64 // aggregate max-loss ceiling as fraction of equity
	MaxMarginUsePct  float64 // projected margin cap for the entry gate
}

// RiskGovernor owns the portfolio FSM: halts on period loss floors, the
// correlation alert, and the unconditional entry veto.
type RiskGovernor struct {
	state  *State
	limits RiskLimits
}

func NewRiskGovernor(state *State, limits RiskLimits) *RiskGovernor {
	return &RiskGovernor{state: state, limits: limits}
}

// RollPeriods advances the day/week/month anchors and reverts the matching
// halt at each period start. Called at the top of every cycle.
func (g *RiskGovernor) RollPeriods(now time.Time) (reverted []RiskState) {
	s := g.state
	s.mu.Lock()
	defer s.mu.Unlock()

	if ds := dayStart(now); ds.After(s.dayAnchor) {
		s.dayAnchor = ds
		s.dailyPnL = 0
		if s.risk == RiskDayHalt {
			s.risk = RiskNormal
			reverted = append(reverted, RiskDayHalt)
		}
	}
	if ws := weekStart(now); ws.After(s.weekAnchor) {
		s.weekAnchor = ws
		s.weeklyPnL = 0
		if s.risk == RiskWeekHalt {
			s.risk = RiskNormal
			reverted = append(reverted, RiskWeekHalt)
		}
	}
	if ms := monthStart(now); ms.After(s.monthAnchor) {
		s.monthAnchor = ms
		s.monthlyPnL = 0
		if s.risk == RiskMonthHalt {
			s.risk = RiskNormal
			reverted = append(reverted, RiskMonthHalt)
		}
	}
	return reverted
}

// Evaluate re-derives the FSM state from the current aggregates. Halts
// outrank the correlation alert; the worst period breach wins. Returns the
// new state and whether it changed.
func (g *RiskGovernor) Evaluate() (RiskState, bool) {
	s := g.state
	s.mu.Lock()
	defer s.mu.Unlock()

	next := RiskNormal
	switch {
	case s.equity > 0 && s.monthlyPnL <= -g.limits.MonthlyLossPct*s.equity:
		next = RiskMonthHalt
	case s.equity > 0 && s.weeklyPnL <= -g.limits.WeeklyLossPct*s.equity:
		next = RiskWeekHalt
	case s.equity > 0 && s.dailyPnL <= -g.limits.DailyLossPct*s.equity:
		next = RiskDayHalt
	case len(s.lossMembers) >= g.limits.CorrAlertEnter:
		next = RiskCorrAlert
	case s.risk == RiskCorrAlert && len(s.lossMembers) >= g.limits.CorrAlertExit:
		// Alert holds until membership drops below the exit line.
		next = RiskCorrAlert
	case s.risk != RiskCorrAlert && s.risk != RiskNormal:
		// Period halts revert only at the next period start, never here.
		next = s.risk
	}

	changed := next != s.risk
	s.risk = next
	return next, changed
}

// ApproveEntry is the unconditional veto, run strictly after sizing and
// before the executor sees the decision. Returns the block reason.
func (g *RiskGovernor) ApproveEntry(now time.Time, sz domain.SizingRecord) (bool, string) {
	s := g.state
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.risk.BlocksEntries() {
		return false, fmt.Sprintf("risk state %s blocks entries", s.risk)
	}
	if now.Before(s.cooldownUntil) {
		return false, fmt.Sprintf("circuit breaker cooldown until %s", s.cooldownUntil.Format("2006-01-02"))
	}
	if sz.Contracts <= 0 {
		return false, "sized to zero"
	}
	ceiling := g.limits.ExposureCeilPct * s.equity
	if s.exposure+sz.TotalMaxLoss > ceiling {
		return false, fmt.Sprintf("aggregate exposure %.0f + %.0f exceeds ceiling %.0f",
			s.exposure, sz.TotalMaxLoss, ceiling)
	}
	return true, ""
}

// ForcedCloses returns the MONTH_HALT sweep: positions still beyond the
// time-stop horizon are closed instead of waiting for their own stop. The
// ones already inside the horizon fall to the normal time stop the same
// cycle, so a month halt winds down the whole book.
func (g *RiskGovernor) ForcedCloses(positions []domain.Position) []domain.Position {
	g.state.mu.Lock()
	halted := g.state.risk == RiskMonthHalt
	g.state.mu.Unlock()
	if !halted {
		return nil
	}
	var out []domain.Position
	for _, p := range positions {
		if p.Status != domain.StatusActive {
			continue
		}
		if p.RemainingDTE > g.limits.TimeStopDTE {
			out = append(out, p)
		}
	}
	return out
}

// LossMembers computes the correlation membership: assets holding at
// least one position whose unrealized loss exceeds half its credit.
func LossMembers(positions []domain.Position) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range positions {
		if p.Status == domain.StatusOrphaned || seen[p.Underlying] {
			continue
		}
		if p.UnrealizedPnL() < -0.5*p.CreditDollars() {
			seen[p.Underlying] = true
			out = append(out, p.Underlying)
		}
	}
	return out
}
