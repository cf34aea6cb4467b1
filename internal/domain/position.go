package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tier is the structure class for an underlying.
type Tier int

const (
	TierDefinedRisk   Tier = iota // iron condor, wings cap the loss
	TierUndefinedRisk             // strangle, naked short legs
)

func (t Tier) String() string {
	if t == TierUndefinedRisk {
		return "UNDEFINED_RISK"
	}
	return "DEFINED_RISK"
}

// TierFromString restores a persisted tier. Unknown maps to defined risk.
func TierFromString(s string) Tier {
	if s == "UNDEFINED_RISK" {
		return TierUndefinedRisk
	}
	return TierDefinedRisk
}

// LegRole identifies one leg of a structure.
type LegRole int

const (
	ShortCall LegRole = iota
	LongCall
	ShortPut
	LongPut
)

func (r LegRole) String() string {
	switch r {
	case ShortCall:
		return "short_call"
	case LongCall:
		return "long_call"
	case ShortPut:
		return "short_put"
	default:
		return "long_put"
	}
}

// LegRoleFromString restores a persisted role.
func LegRoleFromString(s string) (LegRole, error) {
	switch s {
	case "short_call":
		return ShortCall, nil
	case "long_call":
		return LongCall, nil
	case "short_put":
		return ShortPut, nil
	case "long_put":
		return LongPut, nil
	}
	return 0, fmt.Errorf("domain.LegRoleFromString: unknown role %q", s)
}

func (r LegRole) IsShort() bool { return r == ShortCall || r == ShortPut }
func (r LegRole) IsCall() bool  { return r == ShortCall || r == LongCall }

// Leg is one option leg of a position. Premiums are per-contract points.
type Leg struct {
	Role         LegRole   `json:"role"`
	Strike       float64   `json:"strike"`
	Expiry       time.Time `json:"expiry"`
	Quantity     int       `json:"quantity"`
	EntryPremium float64   `json:"entry_premium"`
	CurrentDelta float64   `json:"current_delta"` // absolute value, refreshed each cycle
}

// PositionStatus tracks the lifecycle of a position record.
type PositionStatus string

const (
	StatusActive    PositionStatus = "active"
	StatusRolling   PositionStatus = "rolling"
	StatusClosing   PositionStatus = "closing"
	StatusOrphaned  PositionStatus = "orphaned"  // known internally, gone externally
	StatusUntracked PositionStatus = "untracked" // found externally, unknown internally
)

// Position is one open structure on one underlying.
type Position struct {
	ID         string
	Underlying string
	Tier       Tier
	Legs       []Leg
	Contracts  int

	EntryCredit float64 // net credit per contract, points
	EntryDate   time.Time
	EntryPrice  float64 // underlying price at entry

	EntryTrendScore float64
	EntryRegime     Regime
	EntryIVRank     float64

	PointValue float64
	MaxLoss    float64 // per-contract dollars; 0 for undefined risk

	RollCount    int
	LastRollDate time.Time
	Status       PositionStatus

	// Refreshed by the lifecycle pass each cycle.
	CurrentValue float64 // cost to close, per contract, points
	RemainingDTE int
}

// NewPositionID returns a fresh identifier for an entered position.
func NewPositionID() string {
	return uuid.NewString()
}

// UnrealizedPnL is the open P&L in dollars: credit received minus what it
// costs to close now, across all contracts.
func (p Position) UnrealizedPnL() float64 {
	return (p.EntryCredit - p.CurrentValue) * float64(p.Contracts) * p.PointValue
}

// CreditDollars is the total credit collected at entry.
func (p Position) CreditDollars() float64 {
	return p.EntryCredit * float64(p.Contracts) * p.PointValue
}

// TotalMaxLoss is the worst case in dollars for defined-risk positions,
// 0 for undefined risk (the loss limit is credit-multiple based there).
func (p Position) TotalMaxLoss() float64 {
	return p.MaxLoss * float64(p.Contracts)
}

// Leg lookups. Nil when the role is absent (strangles have no long legs).
func (p Position) LegByRole(role LegRole) *Leg {
	for i := range p.Legs {
		if p.Legs[i].Role == role {
			return &p.Legs[i]
		}
	}
	return nil
}

// ShortLegs returns the short legs in call-then-put order.
func (p Position) ShortLegs() []*Leg {
	var out []*Leg
	if l := p.LegByRole(ShortCall); l != nil {
		out = append(out, l)
	}
	if l := p.LegByRole(ShortPut); l != nil {
		out = append(out, l)
	}
	return out
}

// Inverted reports whether rolling has pushed the short put strike above
// the short call strike.
func (p Position) Inverted() bool {
	return p.InversionAmount() > 0
}

// InversionAmount returns short put strike minus short call strike when
// positive, else 0.
func (p Position) InversionAmount() float64 {
	sc := p.LegByRole(ShortCall)
	sp := p.LegByRole(ShortPut)
	if sc == nil || sp == nil {
		return 0
	}
	if inv := sp.Strike - sc.Strike; inv > 0 {
		return inv
	}
	return 0
}

// Age returns whole days since entry.
func (p Position) Age(now time.Time) int {
	if p.EntryDate.IsZero() {
		return 0
	}
	return int(now.Sub(p.EntryDate).Hours() / 24)
}

// DaysSinceRoll returns whole days since the last roll, or a large value
// when the position has never rolled.
func (p Position) DaysSinceRoll(now time.Time) int {
	if p.LastRollDate.IsZero() {
		return 1 << 20
	}
	return int(now.Sub(p.LastRollDate).Hours() / 24)
}

// ExitReason is the reason code attached to a close decision.
type ExitReason string

const (
	ExitCatastrophicStop ExitReason = "catastrophic_stop"
	ExitLossLimit        ExitReason = "loss_limit"
	ExitProfitTarget     ExitReason = "profit_target"
	ExitTimeStop         ExitReason = "time_stop"
	ExitRollCapReached   ExitReason = "roll_cap_reached"
	ExitRollDebit        ExitReason = "roll_debit_too_high"
	ExitInversion        ExitReason = "inversion_exceeds_width"
	ExitMarginGovernor   ExitReason = "margin_governor"
	ExitRiskGovernor     ExitReason = "risk_governor"
	ExitUntracked        ExitReason = "untracked"
)

// ClosedTrade is the audit record written when a position closes.
type ClosedTrade struct {
	PositionID  string
	Underlying  string
	Tier        Tier
	Contracts   int
	EntryDate   time.Time
	ExitDate    time.Time
	EntryCredit float64
	ExitValue   float64 // cost paid to close, per contract, points
	RealizedPnL float64 // dollars
	Reason      ExitReason
	RollCount   int

	EntryTrendScore float64
	EntryRegime     Regime
	EntryIVRank     float64
}

// MaxLossExit reports whether the trade closed at or near its worst case,
// the condition the circuit breaker counts.
func (t ClosedTrade) MaxLossExit() bool {
	return t.Reason == ExitLossLimit || t.Reason == ExitCatastrophicStop
}

// TradeStats is the running tally over closed trades.
type TradeStats struct {
	Trades       int
	Wins         int
	Losses       int
	GrossProfit  float64
	GrossLoss    float64 // stored positive
	NetPnL       float64
	MaxLossExits int
}

// Record folds one closed trade into the tally.
func (s *TradeStats) Record(t ClosedTrade) {
	s.Trades++
	s.NetPnL += t.RealizedPnL
	if t.RealizedPnL >= 0 {
		s.Wins++
		s.GrossProfit += t.RealizedPnL
	} else {
		s.Losses++
		s.GrossLoss += -t.RealizedPnL
	}
	if t.MaxLossExit() {
		s.MaxLossExits++
	}
}

// WinRate in [0,1]; 0 with no closed trades.
func (s TradeStats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}

// ProfitFactor is gross profit over gross loss; 0 with no losses and no
// profit, +Inf is avoided by returning gross profit when loss is zero.
func (s TradeStats) ProfitFactor() float64 {
	if s.GrossLoss == 0 {
		return s.GrossProfit
	}
	return s.GrossProfit / s.GrossLoss
}
